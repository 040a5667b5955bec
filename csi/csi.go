// Copyright ©2015 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package csi implements reading of CSIv1 and CSIv2 coordinate sorted
// indexes.
package csi

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/bgzf/index"
	"github.com/biogo/bamread/filehandle"
	"github.com/biogo/bamread/internal/memo"
)

// ErrQueryTooLarge is returned when a query spans more bins than the
// binning scheme of the index holds.
var ErrQueryTooLarge = errors.New("csi: query too large for binning scheme")

var csiMagic = [3]byte{'C', 'S', 'I'}

const (
	// DefaultShift is the default minimum shift setting for a CSI.
	DefaultShift = 14

	// DefaultDepth is the default index depth for a CSI.
	DefaultDepth = 5

	// maxCoordinate is the largest coordinate
	// considered when computing bins.
	maxCoordinate = 1 << 34
)

const nextBinShift = 3

// Data is a parsed CSI index.
type Data struct {
	*index.Data

	Version  byte
	MinShift uint32
	Depth    uint32

	// RawAux holds the auxiliary data block and
	// Aux its tabix interpretation if it has one.
	RawAux []byte
	Aux    *Aux
}

// MaxBinNumber returns the largest bin number of the binning scheme.
func (d *Data) MaxBinNumber() uint32 { return maxBinNumber(d.Depth) }

func maxBinNumber(depth uint32) uint32 {
	return uint32((uint64(1)<<((depth+1)*nextBinShift) - 1) / 7)
}

// Index is a CSI index read on first use from a file handle.
type Index struct {
	h filehandle.Handle

	// Policy is the chunk merge policy used by BlocksForRange.
	Policy index.MergePolicy

	data memo.Value
}

var _ index.Index = (*Index)(nil)

// NewIndex returns an Index that reads the BGZF compressed CSI held by h.
func NewIndex(h filehandle.Handle) *Index {
	return &Index{h: h, Policy: index.DefaultPolicy}
}

// Info returns the parsed index with its binning parameters.
func (i *Index) Info(ctx context.Context) (*Data, error) {
	v, err := i.data.Get(ctx, func(ctx context.Context) (interface{}, error) {
		b, err := i.h.ReadFile(ctx)
		if err != nil {
			return nil, fmt.Errorf("csi: failed to read index: %w", err)
		}
		raw, err := bgzf.Decompress(b)
		if err != nil {
			return nil, fmt.Errorf("csi: failed to decompress index: %w", err)
		}
		return ReadFrom(bytes.NewReader(raw))
	})
	if err != nil {
		return nil, err
	}
	return v.(*Data), nil
}

// Parse reads and parses the index. The parse is performed once; a
// failed parse is retried by the next call.
func (i *Index) Parse(ctx context.Context) (*index.Data, error) {
	d, err := i.Info(ctx)
	if err != nil {
		return nil, err
	}
	return d.Data, nil
}

// LineCount returns the number of mapped records on the reference.
func (i *Index) LineCount(ctx context.Context, refID int) (int64, error) {
	d, err := i.Info(ctx)
	if err != nil {
		return 0, err
	}
	return d.LineCount(refID), nil
}

// HasRefSeq returns whether the index holds bins for the reference.
func (i *Index) HasRefSeq(ctx context.Context, refID int) (bool, error) {
	d, err := i.Info(ctx)
	if err != nil {
		return false, err
	}
	return d.HasRefSeq(refID), nil
}

// Coverage returns nil since a CSI has no linear index.
func (i *Index) Coverage(ctx context.Context, refID, beg, end int) ([]index.Depth, error) {
	_, err := i.Info(ctx)
	return nil, err
}

// BlocksForRange returns the merged chunks that may hold records
// overlapping the zero-based half-open interval [beg, end).
func (i *Index) BlocksForRange(ctx context.Context, refID, beg, end int) ([]index.Chunk, error) {
	d, err := i.Info(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := d.Ref(refID); !ok {
		return nil, nil
	}
	if beg < 0 {
		beg = 0
	}
	bins, err := reg2bins(int64(beg), int64(end), d.MinShift, d.Depth)
	if err != nil {
		return nil, err
	}
	chunks := d.Candidates(refID, bins)
	if len(chunks) == 0 {
		return nil, nil
	}
	return index.Optimize(chunks, bgzf.Offset{}, i.Policy), nil
}

// reg2bins returns the bins that may overlap with the zero-based region
// [beg,end). The query is widened by one base to the left.
func reg2bins(beg, end int64, minShift, depth uint32) ([]uint32, error) {
	beg--
	if beg < 1 {
		beg = 1
	}
	if end > maxCoordinate {
		end = maxCoordinate
	}
	end--
	maxBin := int64(maxBinNumber(depth))
	var list []uint32
	s := minShift + depth*nextBinShift
	for level, t := uint32(0), int64(0); level <= depth; level++ {
		b := t + beg>>s
		e := t + end>>s
		if e-b+1+int64(len(list)) > maxBin {
			return nil, fmt.Errorf("%w: [%d,%d] with shift %d and depth %d", ErrQueryTooLarge, beg, end, minShift, depth)
		}
		for i := b; i <= e; i++ {
			list = append(list, uint32(i))
		}
		s -= nextBinShift
		t += 1 << (level * nextBinShift)
	}
	return list, nil
}

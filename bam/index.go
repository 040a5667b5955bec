// Copyright ©2014 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/bgzf/index"
	"github.com/biogo/bamread/filehandle"
	"github.com/biogo/bamread/internal/memo"
)

// Index is a BAI index read on first use from a file handle.
type Index struct {
	h filehandle.Handle

	// Policy is the chunk merge policy used by BlocksForRange.
	Policy index.MergePolicy

	data memo.Value
}

var _ index.Index = (*Index)(nil)

// NewIndex returns an Index that reads the BAI held by h.
func NewIndex(h filehandle.Handle) *Index {
	return &Index{h: h, Policy: index.DefaultPolicy}
}

// Parse reads and parses the index. The parse is performed once; a
// failed parse is retried by the next call.
func (i *Index) Parse(ctx context.Context) (*index.Data, error) {
	v, err := i.data.Get(ctx, func(ctx context.Context) (interface{}, error) {
		b, err := i.h.ReadFile(ctx)
		if err != nil {
			return nil, fmt.Errorf("bam: failed to read index: %w", err)
		}
		return ReadIndex(bytes.NewReader(b))
	})
	if err != nil {
		return nil, err
	}
	return v.(*index.Data), nil
}

// LineCount returns the number of mapped records on the reference.
func (i *Index) LineCount(ctx context.Context, refID int) (int64, error) {
	d, err := i.Parse(ctx)
	if err != nil {
		return 0, err
	}
	return d.LineCount(refID), nil
}

// HasRefSeq returns whether the index holds bins for the reference.
func (i *Index) HasRefSeq(ctx context.Context, refID int) (bool, error) {
	d, err := i.Parse(ctx)
	if err != nil {
		return false, err
	}
	return d.HasRefSeq(refID), nil
}

// Coverage returns the linear index depth estimate over [beg, end).
func (i *Index) Coverage(ctx context.Context, refID, beg, end int) ([]index.Depth, error) {
	d, err := i.Parse(ctx)
	if err != nil {
		return nil, err
	}
	return d.Coverage(refID, beg, end)
}

// BlocksForRange returns the merged chunks that may hold records
// overlapping the zero-based half-open interval [beg, end). Chunks
// ending before the linear index lower bound for the interval are
// discarded.
func (i *Index) BlocksForRange(ctx context.Context, refID, beg, end int) ([]index.Chunk, error) {
	d, err := i.Parse(ctx)
	if err != nil {
		return nil, err
	}
	ref, ok := d.Ref(refID)
	if !ok {
		return nil, nil
	}
	if beg < 0 {
		beg = 0
	}
	if end > 1<<indexWordBits {
		end = 1 << indexWordBits
	}
	chunks := d.Candidates(refID, reg2bins(beg, end))
	if len(chunks) == 0 {
		return nil, nil
	}

	// Here we take the lowest offset held by the linear index over
	// the tiles overlapping the query.
	var lowest bgzf.Offset
	if n := len(ref.Linear); n != 0 {
		lo := min(beg/index.TileWidth, n-1)
		hi := min(end/index.TileWidth, n-1)
		lowest = ref.Linear[lo]
		for _, o := range ref.Linear[lo+1 : hi+1] {
			if o.Compare(lowest) < 0 {
				lowest = o
			}
		}
	}
	return index.Optimize(chunks, lowest, i.Policy), nil
}

// ReadIndex reads a BAI index from r.
func ReadIndex(r io.Reader) (*index.Data, error) {
	br := bufio.NewReader(r)
	var magic int32
	err := binary.Read(br, binary.LittleEndian, &magic)
	if err != nil {
		return nil, fmt.Errorf("bam: failed to read index magic: %w", err)
	}
	if magic != baiMagic {
		return nil, fmt.Errorf("bam: index magic number mismatch: %#x", magic)
	}
	d := &index.Data{Format: "BAI", MaxBlockSize: index.MaxBlockSize}
	d.Refs, err = readIndices(br, d)
	if err != nil {
		return nil, err
	}
	var nUnmapped uint64
	err = binary.Read(br, binary.LittleEndian, &nUnmapped)
	if err == nil {
		d.Unmapped = &nUnmapped
	} else if err != io.EOF {
		return nil, fmt.Errorf("bam: failed to read unplaced count: %w", err)
	}
	return d, nil
}

func readIndices(r io.Reader, d *index.Data) ([]index.RefIndex, error) {
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return nil, fmt.Errorf("bam: failed to read reference count: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("bam: invalid reference count: %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	idx := make([]index.RefIndex, n)
	for i := range idx {
		idx[i].Bins, idx[i].Stats, err = readBins(r, d)
		if err != nil {
			return nil, err
		}
		idx[i].Linear, err = readIntervals(r, d)
		if err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func readBins(r io.Reader, d *index.Data) (map[uint32][]index.Chunk, *index.ReferenceStats, error) {
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return nil, nil, fmt.Errorf("bam: failed to read bin count: %w", err)
	}
	if n < 0 {
		return nil, nil, fmt.Errorf("bam: invalid bin count: %d", n)
	}
	if n == 0 {
		return nil, nil, nil
	}
	var stats *index.ReferenceStats
	bins := make(map[uint32][]index.Chunk, n)
	for i := int32(0); i < n; i++ {
		var bin uint32
		err = binary.Read(r, binary.LittleEndian, &bin)
		if err != nil {
			return nil, nil, fmt.Errorf("bam: failed to read bin number: %w", err)
		}
		if bin > statsDummyBin {
			return nil, nil, ErrTooManyBins
		}
		var nChunk int32
		err = binary.Read(r, binary.LittleEndian, &nChunk)
		if err != nil {
			return nil, nil, fmt.Errorf("bam: failed to read chunk count: %w", err)
		}
		if bin == statsDummyBin {
			if nChunk != 2 {
				return nil, nil, errors.New("bam: malformed dummy bin header")
			}
			stats, err = readStats(r, d)
			if err != nil {
				return nil, nil, err
			}
			continue
		}
		if nChunk < 0 {
			return nil, nil, fmt.Errorf("bam: invalid chunk count: %d", nChunk)
		}
		bins[bin], err = readChunks(r, bin, nChunk, d)
		if err != nil {
			return nil, nil, err
		}
	}
	return bins, stats, nil
}

func readChunks(r io.Reader, bin uint32, n int32, d *index.Data) ([]index.Chunk, error) {
	if n == 0 {
		return nil, nil
	}
	chunks := make([]index.Chunk, n)
	var vOff [2]uint64
	for i := range chunks {
		err := binary.Read(r, binary.LittleEndian, &vOff)
		if err != nil {
			return nil, fmt.Errorf("bam: failed to read chunk virtual offsets: %w", err)
		}
		chunks[i] = index.NewChunk(bgzf.MakeOffset(vOff[0]), bgzf.MakeOffset(vOff[1]), bin)
		d.See(chunks[i].Begin)
	}
	return chunks, nil
}

func readStats(r io.Reader, d *index.Data) (*index.ReferenceStats, error) {
	var (
		vOff  [2]uint64
		stats index.ReferenceStats
	)
	err := binary.Read(r, binary.LittleEndian, &vOff)
	if err != nil {
		return nil, fmt.Errorf("bam: failed to read index stats chunk virtual offsets: %w", err)
	}
	stats.Chunk = bgzf.Chunk{Begin: bgzf.MakeOffset(vOff[0]), End: bgzf.MakeOffset(vOff[1])}
	d.See(stats.Chunk.Begin)
	err = binary.Read(r, binary.LittleEndian, &stats.Mapped)
	if err != nil {
		return nil, fmt.Errorf("bam: failed to read index stats mapped count: %w", err)
	}
	err = binary.Read(r, binary.LittleEndian, &stats.Unmapped)
	if err != nil {
		return nil, fmt.Errorf("bam: failed to read index stats unmapped count: %w", err)
	}
	return &stats, nil
}

func readIntervals(r io.Reader, d *index.Data) ([]bgzf.Offset, error) {
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return nil, fmt.Errorf("bam: failed to read tile interval count: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("bam: invalid tile interval count: %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	raw := make([]uint64, n)
	err = binary.Read(r, binary.LittleEndian, raw)
	if err != nil {
		return nil, fmt.Errorf("bam: failed to read tile interval virtual offsets: %w", err)
	}
	offsets := make([]bgzf.Offset, n)
	for i, v := range raw {
		offsets[i] = bgzf.MakeOffset(v)
		d.See(offsets[i])
	}
	return offsets, nil
}

// Copyright ©2015 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package index provides common code for BAI and CSI BGZF indexing.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/biogo/bamread/bgzf"
)

var (
	// ErrInvalid is returned for an interval that ends before it begins.
	ErrInvalid = errors.New("index: invalid interval")

	ErrOutsideLinear = errors.New("index: query outside of range of linear index")
)

const (
	// TileWidth is the length of the interval tiling used
	// in the BAI linear index.
	TileWidth = 0x4000

	// MaxBlockSize is the largest compressed BGZF block.
	MaxBlockSize = bgzf.MaxBlockSize
)

// Index is the capability shared by the BAI and CSI formats.
type Index interface {
	// Parse returns the parsed index. The parse is performed
	// once and shared by concurrent callers. A failed parse
	// is retried by the next call.
	Parse(ctx context.Context) (*Data, error)

	// LineCount returns the number of mapped records on the
	// reference, or zero when the index holds no statistics
	// for it.
	LineCount(ctx context.Context, refID int) (int64, error)

	// BlocksForRange returns the merged chunks that may hold
	// records overlapping the zero-based half-open interval
	// [beg, end) on the reference.
	BlocksForRange(ctx context.Context, refID, beg, end int) ([]Chunk, error)

	// HasRefSeq returns whether the index holds data for the
	// reference.
	HasRefSeq(ctx context.Context, refID int) (bool, error)

	// Coverage returns a depth estimate for TileWidth buckets
	// over [beg, end). An end less than or equal to zero
	// covers the whole reference.
	Coverage(ctx context.Context, refID, beg, end int) ([]Depth, error)
}

// Data is a parsed index.
type Data struct {
	// Format is "BAI" or "CSI".
	Format string

	Refs []RefIndex

	// FirstDataLine is the lowest non-zero virtual offset
	// seen in the index. It marks the end of the BAM header.
	// It is nil if the index holds no offsets.
	FirstDataLine *bgzf.Offset

	// MaxBlockSize is the largest compressed block size
	// assumed when estimating fetch sizes.
	MaxBlockSize int

	// Unmapped is the count of reads with no coordinate
	// if the index records it.
	Unmapped *uint64
}

// RefIndex is the index of a single reference.
type RefIndex struct {
	Bins   map[uint32][]Chunk
	Linear []bgzf.Offset
	Stats  *ReferenceStats
}

// ReferenceStats holds mapping statistics for a genomic reference.
type ReferenceStats struct {
	// Chunk is the span of the indexed BGZF
	// holding alignments to the reference.
	Chunk bgzf.Chunk

	// Mapped is the count of mapped reads.
	Mapped uint64

	// Unmapped is the count of unmapped reads.
	Unmapped uint64
}

// Depth is a coverage estimate for a genomic interval.
type Depth struct {
	Start, End int
	Score      float64
}

// See records o as an offset present in the index, lowering
// FirstDataLine if o precedes it. Zero offsets are ignored since
// they address the start of the header.
func (d *Data) See(o bgzf.Offset) {
	if o.IsZero() {
		return
	}
	if d.FirstDataLine == nil {
		first := o
		d.FirstDataLine = &first
		return
	}
	if o.Compare(*d.FirstDataLine) < 0 {
		*d.FirstDataLine = o
	}
}

// Ref returns the index for the reference with the given id.
func (d *Data) Ref(id int) (*RefIndex, bool) {
	if d == nil || id < 0 || id >= len(d.Refs) {
		return nil, false
	}
	return &d.Refs[id], true
}

// LineCount returns the mapped record count for the reference.
func (d *Data) LineCount(id int) int64 {
	ref, ok := d.Ref(id)
	if !ok || ref.Stats == nil {
		return 0
	}
	return int64(ref.Stats.Mapped)
}

// HasRefSeq returns whether any bins are held for the reference.
func (d *Data) HasRefSeq(id int) bool {
	ref, ok := d.Ref(id)
	return ok && len(ref.Bins) != 0
}

// Candidates returns the chunks held in the given bins of the
// reference in bin order.
func (d *Data) Candidates(id int, bins []uint32) []Chunk {
	ref, ok := d.Ref(id)
	if !ok {
		return nil
	}
	var chunks []Chunk
	for _, b := range bins {
		chunks = append(chunks, ref.Bins[b]...)
	}
	return chunks
}

// Coverage returns the linear index depth estimate for the reference. Each
// TileWidth bucket is scored by the compressed bytes spanned by its tile,
// scaled by the reference line count over the total bytes of the linear
// index. An end less than or equal to zero covers the whole linear index.
func (d *Data) Coverage(id, beg, end int) ([]Depth, error) {
	if end > 0 && beg > end {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalid, beg, end)
	}
	ref, ok := d.Ref(id)
	if !ok || len(ref.Linear) == 0 {
		return nil, nil
	}
	lin := ref.Linear
	last := (len(lin) - 1) * TileWidth
	e := last
	if end > 0 {
		e = roundUp(end, TileWidth)
	}
	s := 0
	if beg > 0 {
		s = beg / TileWidth * TileWidth
	}
	if e > last {
		return nil, ErrOutsideLinear
	}
	if s >= e {
		return nil, nil
	}

	var lines float64
	if ref.Stats != nil {
		lines = float64(ref.Stats.Mapped)
	}
	total := float64(lin[len(lin)-1].File)

	depths := make([]Depth, 0, (e-s)/TileWidth)
	cur := lin[s/TileWidth].File
	for i := s / TileWidth; i < e/TileWidth; i++ {
		next := lin[i+1].File
		var score float64
		if total != 0 {
			score = float64(next-cur) * lines / total
		}
		depths = append(depths, Depth{
			Start: i * TileWidth,
			End:   (i + 1) * TileWidth,
			Score: score,
		})
		cur = next
	}
	return depths, nil
}

func roundUp(n, m int) int {
	return (n + m - 1) / m * m
}

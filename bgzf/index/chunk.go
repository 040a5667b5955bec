// Copyright ©2015 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package index

import (
	"fmt"

	"github.com/biogo/bamread/bgzf"
)

// Chunk is an indexed region of a BGZF file with the bin it was
// filed under.
type Chunk struct {
	Begin bgzf.Offset
	End   bgzf.Offset
	Bin   uint32

	// size is a precomputed fetch size. It is
	// zero when the estimate should be used.
	size int64
}

// NewChunk returns a Chunk spanning [begin, end] in the given bin.
func NewChunk(begin, end bgzf.Offset, bin uint32) Chunk {
	return Chunk{Begin: begin, End: end, Bin: bin}
}

// WithSize returns a copy of c with a precomputed fetch size.
func (c Chunk) WithSize(n int64) Chunk {
	c.size = n
	return c
}

// FetchedSize returns the number of compressed bytes that must be read
// starting at c.Begin.File to decompress the whole chunk. Unless set by
// WithSize, one maximal block is added beyond the block holding c.End
// since the compressed size of a block is not known from the index.
func (c Chunk) FetchedSize() int64 {
	if c.size > 0 {
		return c.size
	}
	return c.End.File - c.Begin.File + MaxBlockSize
}

// Range returns the byte range of c.
func (c Chunk) Range() bgzf.Chunk {
	return bgzf.Chunk{Begin: c.Begin, End: c.End}
}

// Compare orders chunks by begin offset, then end offset, then bin.
func (c Chunk) Compare(d Chunk) int {
	if o := c.Begin.Compare(d.Begin); o != 0 {
		return o
	}
	if o := c.End.Compare(d.End); o != 0 {
		return o
	}
	switch {
	case c.Bin < d.Bin:
		return -1
	case c.Bin > d.Bin:
		return 1
	}
	return 0
}

// String returns a representation of c that identifies its byte range.
func (c Chunk) String() string {
	return fmt.Sprintf("%v..%v", c.Begin, c.End)
}

// Copyright ©2012 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bgzf implements decoding of the blocked gzip format used by BAM
// and its indexes. Data is addressed with virtual offsets that pair the file
// position of a compressed block with a position in its decompressed payload.
package bgzf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/gzip"
)

const (
	BlockSize    = 0x0ff00 // Size of input data block.
	MaxBlockSize = 0x10000 // Maximum size of output block.
)

const (
	bgzfExtra = "BC\x02\x00\x00\x00"
	minFrame  = 20 + len(bgzfExtra) // Minimum bgzf header+footer length.

	// Magic EOF block.
	magicBlock = "\x1f\x8b\x08\x04\x00\x00\x00\x00\x00\xff\x06\x00\x42\x43\x02\x00\x1b\x00\x03\x00\x00\x00\x00\x00\x00\x00\x00\x00"
)

var bgzfExtraPrefix = []byte(bgzfExtra[:4])

var (
	ErrNoBlockSize = errors.New("bgzf: could not determine block size")
	ErrTruncated   = errors.New("bgzf: truncated block")
	ErrCorrupt     = errors.New("bgzf: corrupt block")
	ErrBlockSize   = errors.New("bgzf: data exceeds maximum block size")

	ErrBlockOverflow = errors.New("bgzf: block overflow")
)

// Offset is a BGZF virtual offset.
type Offset struct {
	File  int64  // Position of the start of a compressed block.
	Block uint16 // Position in the decompressed data of that block.
}

// MakeOffset returns the Offset packed in the index word v.
func MakeOffset(v uint64) Offset {
	return Offset{
		File:  int64(v >> 16),
		Block: uint16(v),
	}
}

// Virtual returns the packed representation of o.
func (o Offset) Virtual() uint64 {
	return uint64(o.File)<<16 | uint64(o.Block)
}

// Compare returns -1, 0 or 1 when o is before, equal to or after p
// in file order.
func (o Offset) Compare(p Offset) int {
	switch {
	case o.File < p.File:
		return -1
	case o.File > p.File:
		return 1
	case o.Block < p.Block:
		return -1
	case o.Block > p.Block:
		return 1
	}
	return 0
}

// IsZero returns whether o is the zero Offset.
func (o Offset) IsZero() bool { return o == Offset{} }

// String returns the "block:data" representation of o.
func (o Offset) String() string { return fmt.Sprintf("%d:%d", o.File, o.Block) }

// Chunk is a region of a BGZF file.
type Chunk struct {
	Begin Offset
	End   Offset
}

func (c Chunk) String() string { return c.Begin.String() + ".." + c.End.String() }

// HasEOF returns whether b ends with the BGZF EOF marker block.
func HasEOF(b []byte) bool {
	return bytes.HasSuffix(b, []byte(magicBlock))
}

func expectedBlockSize(h gzip.Header) int {
	i := bytes.Index(h.Extra, bgzfExtraPrefix)
	if i < 0 || i+5 >= len(h.Extra) {
		return -1
	}
	return (int(h.Extra[i+4]) | int(h.Extra[i+5])<<8) + 1
}

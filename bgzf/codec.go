// Copyright ©2012 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bgzf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/gzip"
)

// Slice is the decompressed data of a Chunk with the maps needed to
// recover the virtual offset of any byte within it.
type Slice struct {
	Data []byte

	// CPositions holds the file offset of each block contributing to
	// Data and DPositions holds the position in Data at which that
	// block's bytes begin.
	CPositions []int64
	DPositions []int

	// Trim is the number of leading bytes of the first block that
	// were dropped from Data.
	Trim uint16
}

// Offset returns the virtual offset of the byte at position i in s.Data.
func (s *Slice) Offset(i int) Offset {
	k := sort.Search(len(s.DPositions), func(k int) bool { return s.DPositions[k] > i }) - 1
	if k < 0 {
		return Offset{}
	}
	within := i - s.DPositions[k]
	if k == 0 {
		within += int(s.Trim)
	}
	return Offset{File: s.CPositions[k], Block: uint16(within)}
}

// blockSize returns the compressed size of the gzip member at the start of
// b read from the BC extra subfield.
func blockSize(b []byte) (int, error) {
	if len(b) < 12 {
		return 0, ErrTruncated
	}
	if b[0] != 0x1f || b[1] != 0x8b || b[2] != 8 || b[3]&0x4 == 0 {
		return 0, ErrCorrupt
	}
	xlen := int(binary.LittleEndian.Uint16(b[10:12]))
	if len(b) < 12+xlen {
		return 0, ErrTruncated
	}
	extra := b[12 : 12+xlen]
	for len(extra) >= 4 {
		slen := int(binary.LittleEndian.Uint16(extra[2:4]))
		if extra[0] == 'B' && extra[1] == 'C' && slen == 2 && len(extra) >= 6 {
			n := int(binary.LittleEndian.Uint16(extra[4:6])) + 1
			if n < minFrame {
				return 0, ErrCorrupt
			}
			return n, nil
		}
		if len(extra) < 4+slen {
			break
		}
		extra = extra[4+slen:]
	}
	return 0, ErrNoBlockSize
}

// decoder inflates single BGZF members reusing one gzip.Reader.
type decoder struct {
	r  bytes.Reader
	gz *gzip.Reader
}

func (d *decoder) reset(member []byte) error {
	d.r.Reset(member)
	var err error
	if d.gz == nil {
		d.gz, err = gzip.NewReader(&d.r)
	} else {
		err = d.gz.Reset(&d.r)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if expectedBlockSize(d.gz.Header) < 0 {
		return ErrNoBlockSize
	}
	d.gz.Multistream(false)
	return nil
}

// decodeAppend appends the payload of the complete member to dst.
func (d *decoder) decodeAppend(dst, member []byte) ([]byte, error) {
	err := d.reset(member)
	if err != nil {
		return dst, err
	}
	n := int(binary.LittleEndian.Uint32(member[len(member)-4:]))
	if n > MaxBlockSize {
		return dst, ErrCorrupt
	}
	start := len(dst)
	if cap(dst)-start < n {
		grown := make([]byte, start, start+n)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:start+n]
	_, err = io.ReadFull(d.gz, dst[start:])
	if err != nil {
		return dst[:start], fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var tail [1]byte
	if _, err = d.gz.Read(tail[:]); err != io.EOF {
		if err == nil {
			err = ErrBlockSize
		}
		return dst[:start], fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return dst, nil
}

// decodePartial appends whatever can be inflated from an incomplete
// member to dst.
func (d *decoder) decodePartial(dst, member []byte) []byte {
	if d.reset(member) != nil {
		return dst
	}
	buf := bytes.NewBuffer(dst)
	io.Copy(buf, d.gz)
	return buf.Bytes()
}

// Decompress returns the concatenated payloads of the BGZF members in data.
// An incomplete final member contributes the bytes that can be inflated from
// it, so a prefix of a BGZF file can be inspected without knowing where its
// blocks end.
func Decompress(data []byte) ([]byte, error) {
	var (
		d   decoder
		out []byte
	)
	for off := 0; off < len(data); {
		size, err := blockSize(data[off:])
		if err == ErrTruncated {
			break
		}
		if err != nil {
			return out, err
		}
		if off+size > len(data) {
			out = d.decodePartial(out, data[off:])
			break
		}
		out, err = d.decodeAppend(out, data[off:off+size])
		if err != nil {
			return out, err
		}
		off += size
	}
	return out, nil
}

// DecompressChunkSlice decompresses the blocks of data, which must begin at
// the compressed block holding c.Begin, up to and including the block
// holding c.End. The returned Slice begins at c.Begin and ends one byte after
// c.End. If cache is not nil, decompressed blocks are looked up in and
// added to it.
func DecompressChunkSlice(data []byte, c Chunk, cache Cache) (Slice, error) {
	var (
		d decoder
		s = Slice{Trim: c.Begin.Block}
	)
	cpos := c.Begin.File
	for off := 0; off < len(data); {
		var blk *Block
		if cache != nil {
			blk = cache.Get(cpos)
		}
		if blk == nil {
			size, err := blockSize(data[off:])
			if err != nil {
				return s, fmt.Errorf("bgzf: block at %d: %w", cpos, err)
			}
			if off+size > len(data) {
				return s, fmt.Errorf("bgzf: block at %d: %w", cpos, ErrTruncated)
			}
			payload, err := d.decodeAppend(nil, data[off:off+size])
			if err != nil {
				return s, fmt.Errorf("bgzf: block at %d: %w", cpos, err)
			}
			blk = &Block{Base: cpos, Size: size, Data: payload}
			if cache != nil {
				cache.Put(blk)
			}
		}

		p := blk.Data
		first := len(s.CPositions) == 0
		if first {
			if int(c.Begin.Block) > len(p) {
				return s, fmt.Errorf("bgzf: offset %v beyond block end: %w", c.Begin, ErrCorrupt)
			}
			p = p[c.Begin.Block:]
		}
		last := cpos >= c.End.File
		if last {
			n := int(c.End.Block) + 1
			if first {
				n -= int(c.Begin.Block)
			}
			if n < 0 {
				n = 0
			}
			if n < len(p) {
				p = p[:n]
			}
		}

		s.CPositions = append(s.CPositions, cpos)
		s.DPositions = append(s.DPositions, len(s.Data))
		s.Data = append(s.Data, p...)

		off += blk.Size
		cpos = blk.NextBase()
		if last {
			break
		}
	}
	return s, nil
}

// EncodeBlock returns a single BGZF member holding data.
func EncodeBlock(data []byte) ([]byte, error) {
	if len(data) > BlockSize {
		return nil, ErrBlockSize
	}
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	gz.Header.Extra = []byte(bgzfExtra)
	gz.Header.OS = 0xff
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("bgzf: writing compressed data: %v", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("bgzf: closing writer: %v", err)
	}
	b := buf.Bytes()
	bsize := len(b) - 1
	if bsize >= MaxBlockSize {
		return nil, ErrBlockOverflow
	}
	b[16] = byte(bsize)
	b[17] = byte(bsize >> 8)
	return b, nil
}

// Encode returns data as a sequence of BGZF members. If eof is true the
// BGZF EOF marker is appended.
func Encode(data []byte, eof bool) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		n := len(data)
		if n > BlockSize {
			n = BlockSize
		}
		b, err := EncodeBlock(data[:n])
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		data = data[n:]
	}
	if eof {
		out = append(out, magicBlock...)
	}
	return out, nil
}

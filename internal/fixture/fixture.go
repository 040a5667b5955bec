// Copyright ©2014 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fixture builds BAM files and their BAI and CSI indexes in
// memory for tests.
package fixture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/sam"
)

const (
	// DefaultBlockLen is the default length of the decompressed payload
	// of each BGZF block holding records.
	DefaultBlockLen = 4096

	// StatsDummyBin is the bin number of the BAI reference statistics bin.
	StatsDummyBin = 0x924a

	nextBinShift = 3
)

// Record is an alignment record to be encoded.
type Record struct {
	Name    string
	Ref     int // -1 for unplaced records.
	Pos     int // Zero-based; -1 for unplaced records.
	MapQ    byte
	Flags   sam.Flags
	Cigar   sam.Cigar
	Seq     string
	Qual    []byte // nil is encoded as missing.
	MateRef int
	MatePos int
	TempLen int
	Aux     []sam.Aux

	// RawAux is appended to the encoded auxiliary
	// fields without validation.
	RawAux []byte
}

// End returns the end of the record's alignment used for binning. Records
// with no reference length are treated as covering one base.
func (r *Record) End() int {
	n := r.Cigar.LengthOnRef()
	if n == 0 {
		n = 1
	}
	return r.Pos + n
}

var seqCode [256]byte

func init() {
	for i := range seqCode {
		seqCode[i] = 0xf
	}
	for i, b := range []byte("=ACMGRSVTWYHKDBN") {
		seqCode[b] = byte(i)
		if 'A' <= b && b <= 'Z' {
			seqCode[b+'a'-'A'] = byte(i)
		}
	}
}

// Encode returns the BAM encoding of r including the leading block size.
func (r *Record) Encode() ([]byte, error) {
	if len(r.Name)+1 > 0xff {
		return nil, errors.New("fixture: name too long")
	}
	if len(r.Cigar) > 0xffff {
		return nil, errors.New("fixture: too many cigar operations")
	}
	if r.Qual != nil && len(r.Qual) != len(r.Seq) {
		return nil, errors.New("fixture: quality length mismatch")
	}
	bin := uint32(4680)
	if r.Pos >= 0 {
		bin = reg2bin(int64(r.Pos), int64(r.End()), 14, 5)
	}

	le := binary.LittleEndian
	b := make([]byte, 4, 36+len(r.Name)+1+4*len(r.Cigar)+len(r.Seq)*2)
	b = le.AppendUint32(b, uint32(int32(r.Ref)))
	b = le.AppendUint32(b, uint32(int32(r.Pos)))
	b = le.AppendUint32(b, bin<<16|uint32(r.MapQ)<<8|uint32(len(r.Name)+1))
	b = le.AppendUint32(b, uint32(r.Flags)<<16|uint32(len(r.Cigar)))
	b = le.AppendUint32(b, uint32(len(r.Seq)))
	b = le.AppendUint32(b, uint32(int32(r.MateRef)))
	b = le.AppendUint32(b, uint32(int32(r.MatePos)))
	b = le.AppendUint32(b, uint32(int32(r.TempLen)))
	b = append(b, r.Name...)
	b = append(b, 0)
	for _, co := range r.Cigar {
		b = le.AppendUint32(b, uint32(co))
	}
	for i := 0; i < len(r.Seq); i += 2 {
		v := seqCode[r.Seq[i]] << 4
		if i+1 < len(r.Seq) {
			v |= seqCode[r.Seq[i+1]]
		}
		b = append(b, v)
	}
	if r.Qual == nil {
		for range r.Seq {
			b = append(b, 0xff)
		}
	} else {
		b = append(b, r.Qual...)
	}
	for _, a := range r.Aux {
		b = append(b, a...)
		if k := a.Kind(); k == 'Z' || k == 'H' {
			b = append(b, 0)
		}
	}
	b = append(b, r.RawAux...)
	le.PutUint32(b[:4], uint32(len(b)-4))
	return b, nil
}

// Options control BAM construction.
type Options struct {
	// BlockLen is the decompressed length of each
	// record block. Records may span blocks.
	BlockLen int

	// NoEOF omits the BGZF EOF marker.
	NoEOF bool
}

// Placed is a record and the virtual offsets of its first byte and of the
// byte following it.
type Placed struct {
	*Record
	Begin, End bgzf.Offset
}

// BAM is an in-memory BAM file.
type BAM struct {
	Data []byte
	Refs []sam.Reference

	// Placed holds the records in file order.
	Placed []Placed

	// HeaderEnd is the virtual offset of the first record.
	HeaderEnd bgzf.Offset
}

// HeaderBytes returns the decompressed BAM header for the given text and
// reference dictionary.
func HeaderBytes(text string, refs []sam.Reference) []byte {
	le := binary.LittleEndian
	b := []byte("BAM\x01")
	b = le.AppendUint32(b, uint32(len(text)))
	b = append(b, text...)
	b = le.AppendUint32(b, uint32(len(refs)))
	for _, r := range refs {
		b = le.AppendUint32(b, uint32(len(r.Name)+1))
		b = append(b, r.Name...)
		b = append(b, 0)
		b = le.AppendUint32(b, uint32(r.Len))
	}
	return b
}

// Build returns a BAM file holding the header and the records in the
// order given. The header is written to its own blocks.
func Build(text string, refs []sam.Reference, recs []Record, opt Options) (*BAM, error) {
	if opt.BlockLen <= 0 {
		opt.BlockLen = DefaultBlockLen
	}
	if opt.BlockLen > bgzf.BlockSize {
		return nil, fmt.Errorf("fixture: block length %d too large", opt.BlockLen)
	}
	header, err := bgzf.Encode(HeaderBytes(text, refs), false)
	if err != nil {
		return nil, err
	}

	var (
		stream []byte
		starts = make([]int, len(recs))
	)
	for i := range recs {
		b, err := recs[i].Encode()
		if err != nil {
			return nil, fmt.Errorf("fixture: record %d: %v", i, err)
		}
		starts[i] = len(stream)
		stream = append(stream, b...)
	}

	data := header
	var cpos []int64
	for off := 0; off < len(stream); off += opt.BlockLen {
		end := off + opt.BlockLen
		if end > len(stream) {
			end = len(stream)
		}
		blk, err := bgzf.EncodeBlock(stream[off:end])
		if err != nil {
			return nil, err
		}
		cpos = append(cpos, int64(len(data)))
		data = append(data, blk...)
	}
	tail := int64(len(data))
	if !opt.NoEOF {
		eof, err := bgzf.Encode(nil, true)
		if err != nil {
			return nil, err
		}
		data = append(data, eof...)
	}

	offset := func(p int) bgzf.Offset {
		k := p / opt.BlockLen
		if k >= len(cpos) {
			return bgzf.Offset{File: tail}
		}
		return bgzf.Offset{File: cpos[k], Block: uint16(p - k*opt.BlockLen)}
	}

	bam := &BAM{
		Data:      data,
		Refs:      append([]sam.Reference(nil), refs...),
		Placed:    make([]Placed, len(recs)),
		HeaderEnd: offset(0),
	}
	for i := range recs {
		end := len(stream)
		if i+1 < len(recs) {
			end = starts[i+1]
		}
		bam.Placed[i] = Placed{Record: &recs[i], Begin: offset(starts[i]), End: offset(end)}
	}
	return bam, nil
}

type refStats struct {
	begin, end       bgzf.Offset
	mapped, unmapped uint64
	seen             bool
}

type binData struct {
	chunks  []bgzf.Chunk
	loffset bgzf.Offset
	records uint64
}

type refData struct {
	bins   map[uint32]*binData
	linear []bgzf.Offset
	stats  refStats
}

func (b *BAM) collect(minShift, depth uint32) ([]refData, uint64) {
	refs := make([]refData, len(b.Refs))
	for i := range refs {
		refs[i].bins = make(map[uint32]*binData)
	}
	var noCoor uint64
	for _, p := range b.Placed {
		if p.Ref < 0 || p.Pos < 0 {
			noCoor++
			continue
		}
		ref := &refs[p.Ref]
		bin := reg2bin(int64(p.Pos), int64(p.Record.End()), minShift, depth)
		bd, ok := ref.bins[bin]
		if !ok {
			bd = &binData{loffset: p.Begin}
			ref.bins[bin] = bd
		}
		bd.records++
		if n := len(bd.chunks); n != 0 && bd.chunks[n-1].End == p.Begin {
			bd.chunks[n-1].End = p.End
		} else {
			bd.chunks = append(bd.chunks, bgzf.Chunk{Begin: p.Begin, End: p.End})
		}

		for t := p.Pos >> 14; t <= (p.Record.End()-1)>>14; t++ {
			for len(ref.linear) <= t {
				ref.linear = append(ref.linear, bgzf.Offset{})
			}
			if ref.linear[t].IsZero() {
				ref.linear[t] = p.Begin
			}
		}

		if !ref.stats.seen {
			ref.stats.begin = p.Begin
			ref.stats.seen = true
		}
		ref.stats.end = p.End
		if p.Flags&sam.Unmapped != 0 {
			ref.stats.unmapped++
		} else {
			ref.stats.mapped++
		}
	}
	for i := range refs {
		lin := refs[i].linear
		for j := len(lin) - 2; j >= 0; j-- {
			if lin[j].IsZero() {
				lin[j] = lin[j+1]
			}
		}
	}
	return refs, noCoor
}

func sortedBins(m map[uint32]*binData) []uint32 {
	bins := make([]uint32, 0, len(m))
	for b := range m {
		bins = append(bins, b)
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i] < bins[j] })
	return bins
}

// writer accumulates little endian values.
type writer struct {
	buf []byte
}

func (w *writer) u32(v uint32)      { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) i32(v int)         { w.u32(uint32(int32(v))) }
func (w *writer) u64(v uint64)      { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) off(o bgzf.Offset) { w.u64(o.Virtual()) }

func (w *writer) stats(s refStats) {
	w.off(s.begin)
	w.off(s.end)
	w.u64(s.mapped)
	w.u64(s.unmapped)
}

// BAI returns the BAI index of b.
func (b *BAM) BAI() []byte {
	refs, noCoor := b.collect(14, 5)
	w := writer{buf: []byte("BAI\x01")}
	w.i32(len(refs))
	for _, ref := range refs {
		n := len(ref.bins)
		if ref.stats.seen {
			n++
		}
		w.i32(n)
		for _, bin := range sortedBins(ref.bins) {
			w.u32(bin)
			w.i32(len(ref.bins[bin].chunks))
			for _, c := range ref.bins[bin].chunks {
				w.off(c.Begin)
				w.off(c.End)
			}
		}
		if ref.stats.seen {
			w.u32(StatsDummyBin)
			w.i32(2)
			w.stats(ref.stats)
		}
		w.i32(len(ref.linear))
		for _, o := range ref.linear {
			w.off(o)
		}
	}
	w.u64(noCoor)
	return w.buf
}

// CSIOptions control CSI construction.
type CSIOptions struct {
	MinShift int  // Default 14.
	Depth    int  // Default 5.
	Version  byte // 1 or 2, default 1.
	Aux      []byte

	// Raw skips BGZF compression of the index.
	Raw bool
}

// CSI returns the CSI index of b.
func (b *BAM) CSI(opt CSIOptions) ([]byte, error) {
	if opt.MinShift == 0 {
		opt.MinShift = 14
	}
	if opt.Depth == 0 {
		opt.Depth = 5
	}
	if opt.Version == 0 {
		opt.Version = 1
	}
	refs, noCoor := b.collect(uint32(opt.MinShift), uint32(opt.Depth))
	maxBin := uint32(((1 << ((opt.Depth + 1) * nextBinShift)) - 1) / 7)

	w := writer{buf: []byte{'C', 'S', 'I', opt.Version}}
	w.i32(opt.MinShift)
	w.i32(opt.Depth)
	w.i32(len(opt.Aux))
	w.buf = append(w.buf, opt.Aux...)
	w.i32(len(refs))
	for _, ref := range refs {
		n := len(ref.bins)
		if ref.stats.seen {
			n++
		}
		w.i32(n)
		for _, bin := range sortedBins(ref.bins) {
			bd := ref.bins[bin]
			w.u32(bin)
			w.off(bd.loffset)
			if opt.Version == 2 {
				w.u64(bd.records)
			}
			w.i32(len(bd.chunks))
			for _, c := range bd.chunks {
				w.off(c.Begin)
				w.off(c.End)
			}
		}
		if ref.stats.seen {
			w.u32(maxBin + 1)
			w.u64(0)
			if opt.Version == 2 {
				w.u64(0)
			}
			w.i32(2)
			w.stats(ref.stats)
		}
	}
	w.u64(noCoor)
	if opt.Raw {
		return w.buf, nil
	}
	return bgzf.Encode(w.buf, true)
}

// TabixAux returns a CSI auxiliary block in the tabix layout.
func TabixAux(format int32, zeroBased bool, seq, beg, end int32, meta byte, skip int32, names []string) []byte {
	if zeroBased {
		format |= 0x10000
	}
	var nm []byte
	for _, n := range names {
		nm = append(nm, n...)
		nm = append(nm, 0)
	}
	var w writer
	w.u32(uint32(format))
	w.u32(uint32(seq))
	w.u32(uint32(beg))
	w.u32(uint32(end))
	w.u32(uint32(meta))
	w.u32(uint32(skip))
	w.i32(len(nm))
	w.buf = append(w.buf, nm...)
	return w.buf
}

// reg2bin returns the bin for an alignment covering [beg,end) (zero-based,
// half-close-half-open).
func reg2bin(beg, end int64, minShift, depth uint32) uint32 {
	end--
	s := minShift
	t := uint32(((1 << (depth * nextBinShift)) - 1) / 7)
	for level := depth; level > 0; level-- {
		offset := beg >> s
		if offset == end>>s {
			return t + uint32(offset)
		}
		s += nextBinShift
		t -= 1 << ((level - 1) * nextBinShift)
	}
	return 0
}

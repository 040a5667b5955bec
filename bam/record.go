// Copyright ©2012 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"encoding/binary"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/biogo/bamread/sam"
)

// Offsets into a record from the start of its block_size field.
const (
	refIDOffset    = 4
	posOffset      = 8
	nameLenOffset  = 12
	mapQOffset     = 13
	binOffset      = 14
	nCigarOffset   = 16
	flagOffset     = 18
	seqLenOffset   = 20
	nextRefOffset  = 24
	nextPosOffset  = 28
	tempLenOffset  = 32
	fixedRecordLen = 36
)

// seqAlphabet is indexed by the four bit BAM base encoding.
const seqAlphabet = "=ACMGRSVTWYHKDBN"

var cgTag = sam.NewTag("CG")

// Record is a BAM alignment record. It is a view over the decoded
// bytes of a chunk and derives its fields on first access. The bytes
// viewed by a Record must not be modified. A Record is not safe for
// concurrent use.
type Record struct {
	buf []byte
	id  uint64
	dec *decoder

	err error

	name     *string
	cigar    sam.Cigar
	cigarOK  bool
	lenOnRef int
	seq      *string
	aux      sam.AuxFields
	auxOK    bool
}

// decoder holds the configuration shared by the records of a File.
type decoder struct {
	logger   log.Logger
	strictCG bool
}

var defaultDecoder = &decoder{logger: log.NewNopLogger()}

// NewRecord returns a Record viewing b, which must start at the block_size
// field of the record and extend to its end. The id is reported by ID.
func NewRecord(b []byte, id uint64) *Record {
	return newRecord(b, id, defaultDecoder)
}

func newRecord(b []byte, id uint64, dec *decoder) *Record {
	r := &Record{buf: b, id: id, dec: dec}
	if len(b) < fixedRecordLen {
		r.err = ErrShortRecord
	}
	return r
}

// ID returns the identifier of the record. Records decoded from a File
// have an identifier derived from their virtual offset.
func (r *Record) ID() uint64 { return r.id }

// Bytes returns the raw bytes of the record starting at its block_size.
func (r *Record) Bytes() []byte { return r.buf }

// Err returns the first decoding error encountered by the record's
// accessors.
func (r *Record) Err() error { return r.err }

func (r *Record) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Record) u32(off int) uint32 {
	if off+4 > len(r.buf) {
		return 0
	}
	return binary.LittleEndian.Uint32(r.buf[off:])
}

func (r *Record) u16(off int) uint16 {
	if off+2 > len(r.buf) {
		return 0
	}
	return binary.LittleEndian.Uint16(r.buf[off:])
}

func (r *Record) u8(off int) byte {
	if off >= len(r.buf) {
		return 0
	}
	return r.buf[off]
}

// RefID returns the reference ID of the record, -1 if unplaced.
func (r *Record) RefID() int {
	if len(r.buf) < fixedRecordLen {
		return -1
	}
	return int(int32(r.u32(refIDOffset)))
}

// Start returns the zero-based leftmost position of the alignment.
func (r *Record) Start() int {
	if len(r.buf) < fixedRecordLen {
		return -1
	}
	return int(int32(r.u32(posOffset)))
}

// End returns the zero-based exclusive end of the alignment, Start plus
// LengthOnRef.
func (r *Record) End() int { return r.Start() + r.LengthOnRef() }

// Bin returns the bin recorded for the record.
func (r *Record) Bin() uint32 { return uint32(r.u16(binOffset)) }

// MapQ returns the mapping quality of the record. The returned ok is
// false when the mapping quality is not available.
func (r *Record) MapQ() (q int, ok bool) {
	v := r.u8(mapQOffset)
	return int(v), v != 0xff && len(r.buf) >= fixedRecordLen
}

// Flags returns the SAM flags of the record.
func (r *Record) Flags() sam.Flags { return sam.Flags(r.u16(flagOffset)) }

// SeqLen returns the length of the read sequence.
func (r *Record) SeqLen() int { return int(int32(r.u32(seqLenOffset))) }

// NextRefID returns the reference ID of the mate.
func (r *Record) NextRefID() int {
	if len(r.buf) < fixedRecordLen {
		return -1
	}
	return int(int32(r.u32(nextRefOffset)))
}

// NextStart returns the zero-based position of the mate.
func (r *Record) NextStart() int {
	if len(r.buf) < fixedRecordLen {
		return -1
	}
	return int(int32(r.u32(nextPosOffset)))
}

// TemplateLength returns the observed template length.
func (r *Record) TemplateLength() int { return int(int32(r.u32(tempLenOffset))) }

func (r *Record) nameLen() int { return int(r.u8(nameLenOffset)) }

func (r *Record) numCigarOps() int { return int(r.u16(nCigarOffset)) }

func (r *Record) cigarOffset() int { return fixedRecordLen + r.nameLen() }

func (r *Record) seqOffset() int { return r.cigarOffset() + 4*r.numCigarOps() }

func (r *Record) qualOffset() int { return r.seqOffset() + (r.SeqLen()+1)/2 }

func (r *Record) auxOffset() int { return r.qualOffset() + r.SeqLen() }

// section returns the bytes of the record in [off, off+n), recording
// ErrShortRecord if they are not all present.
func (r *Record) section(off, n int) ([]byte, bool) {
	if len(r.buf) < fixedRecordLen || off < 0 || n < 0 || off+n > len(r.buf) {
		r.fail(ErrShortRecord)
		return nil, false
	}
	return r.buf[off : off+n], true
}

// Name returns the read name.
func (r *Record) Name() string {
	if r.name != nil {
		return *r.name
	}
	var name string
	if b, ok := r.section(fixedRecordLen, r.nameLen()); ok && len(b) != 0 {
		name = string(b[:len(b)-1])
	}
	r.name = &name
	return name
}

// Cigar returns the CIGAR of the alignment. When the CIGAR is held in
// a CG tag because it has too many operations to fit in the record,
// the CG tag value is returned.
func (r *Record) Cigar() sam.Cigar {
	r.decodeCigar()
	return r.cigar
}

// CigarString returns the text representation of the CIGAR.
func (r *Record) CigarString() string { return r.Cigar().String() }

// LengthOnRef returns the number of reference bases covered by the
// alignment.
func (r *Record) LengthOnRef() int {
	r.decodeCigar()
	return r.lenOnRef
}

func (r *Record) decodeCigar() {
	if r.cigarOK {
		return
	}
	r.cigarOK = true
	n := r.numCigarOps()
	b, ok := r.section(r.cigarOffset(), 4*n)
	if !ok || n == 0 {
		return
	}
	cigar := make(sam.Cigar, n)
	var length int
	for i := range cigar {
		co := sam.CigarOp(binary.LittleEndian.Uint32(b[4*i:]))
		cigar[i] = co
		if co.Type().OnReference() {
			length += co.Len()
		}
	}
	r.cigar = cigar
	r.lenOnRef = length

	// Alignments with more CIGAR operations than can be held in the
	// record store a placeholder kS mN CIGAR where k is the sequence
	// length and m the reference length, and hold the real CIGAR in
	// the CG tag.
	if n < 2 || cigar[0].Type() != sam.CigarSoftClipped || cigar[0].Len() != r.SeqLen() {
		return
	}
	cg, ok := r.Tag(cgTag)
	if !ok || cg.Type() != 'B' || cg[3] != 'I' {
		return
	}
	vals := cg.Value().([]uint32)
	full := make(sam.Cigar, len(vals))
	for i, v := range vals {
		full[i] = sam.CigarOp(v)
	}
	r.cigar = full
	r.lenOnRef = cigar[1].Len()
	if cigar[1].Type() != sam.CigarSkipped {
		level.Warn(r.dec.logger).Log("msg", "CG tag with placeholder CIGAR lacking N operation", "read", r.Name(), "cigar", cigar)
		if r.dec.strictCG {
			r.fail(ErrMalformedCG)
		}
	}
}

// Seq returns the read sequence.
func (r *Record) Seq() string {
	if r.seq != nil {
		return *r.seq
	}
	var seq string
	n := r.SeqLen()
	if n < 0 {
		r.fail(ErrShortRecord)
	} else if b, ok := r.section(r.seqOffset(), (n+1)/2); ok {
		s := make([]byte, n)
		for i := range s {
			v := b[i>>1]
			if i&1 == 0 {
				v >>= 4
			}
			s[i] = seqAlphabet[v&0xf]
		}
		seq = string(s)
	}
	r.seq = &seq
	return seq
}

// SeqAt returns the base at position i of the read sequence.
func (r *Record) SeqAt(i int) byte {
	if i < 0 || i >= r.SeqLen() {
		return 0
	}
	off := r.seqOffset() + i>>1
	if off >= len(r.buf) {
		r.fail(ErrShortRecord)
		return 0
	}
	v := r.buf[off]
	if i&1 == 0 {
		v >>= 4
	}
	return seqAlphabet[v&0xf]
}

// Qual returns the raw base qualities of the read, or nil if the read
// is unmapped. The returned slice must not be modified.
func (r *Record) Qual() []byte {
	if r.IsUnmapped() {
		return nil
	}
	b, _ := r.section(r.qualOffset(), r.SeqLen())
	return b
}

// Tag returns the auxiliary field with the given tag. The tag stream
// is scanned only as far as the requested tag.
func (r *Record) Tag(t sam.Tag) (sam.Aux, bool) {
	if r.auxOK {
		a := r.aux.Get(t)
		return a, a != nil
	}
	var found sam.Aux
	r.scanAux(func(a sam.Aux) bool {
		if a.Tag() == t {
			found = a
			return false
		}
		return true
	})
	return found, found != nil
}

// AuxFields returns all the auxiliary fields of the record in the order
// they are stored. Decoding stops at the first field of unknown type.
func (r *Record) AuxFields() sam.AuxFields {
	if r.auxOK {
		return r.aux
	}
	var fields sam.AuxFields
	r.scanAux(func(a sam.Aux) bool {
		fields = append(fields, a)
		return true
	})
	r.aux = fields
	r.auxOK = true
	return fields
}

// Tags returns the values of the auxiliary fields of the record keyed by
// tag name. When a tag is repeated the first field is used, as for Tag.
func (r *Record) Tags() map[string]interface{} {
	fields := r.AuxFields()
	m := make(map[string]interface{}, len(fields))
	for _, a := range fields {
		k := a.Tag().String()
		if _, ok := m[k]; ok {
			continue
		}
		m[k] = a.Value()
	}
	return m
}

// scanAux calls fn for each auxiliary field until fn returns false.
// A field that cannot be decoded is logged and ends the scan.
func (r *Record) scanAux(fn func(sam.Aux) bool) {
	off := r.auxOffset()
	if len(r.buf) < fixedRecordLen || off < 0 || off > len(r.buf) {
		r.fail(ErrShortRecord)
		return
	}
	for b := r.buf[off:]; len(b) != 0; {
		a, n, err := sam.ParseAuxField(b)
		if err != nil {
			level.Warn(r.dec.logger).Log("msg", "stopped reading tags", "read", r.Name(), "err", err)
			return
		}
		if !fn(a) {
			return
		}
		b = b[n:]
	}
}

// Strand returns 1 for forward alignments and -1 for reverse alignments.
func (r *Record) Strand() int {
	if r.IsReverse() {
		return -1
	}
	return 1
}

// MateStrand returns the strand of the mate, or 0 if the record is not
// paired or the mate is unmapped.
func (r *Record) MateStrand() int {
	switch {
	case !r.IsPaired() || r.IsMateUnmapped():
		return 0
	case r.IsMateReverse():
		return -1
	}
	return 1
}

// PairOrientation returns the orientation of the pair in the form used
// by genome browsers, for example "F1R2". An empty string is returned
// unless both the read and its mate are mapped to the same reference.
func (r *Record) PairOrientation() string {
	if r.IsUnmapped() || r.IsMateUnmapped() || r.RefID() != r.NextRefID() {
		return ""
	}
	s1, s2 := byte('F'), byte('F')
	if r.IsReverse() {
		s1 = 'R'
	}
	if r.IsMateReverse() {
		s2 = 'R'
	}
	o1, o2 := byte(' '), byte(' ')
	switch {
	case r.IsRead1():
		o1, o2 = '1', '2'
	case r.IsRead2():
		o1, o2 = '2', '1'
	}
	if r.TemplateLength() > 0 {
		return string([]byte{s1, o1, s2, o2})
	}
	return string([]byte{s2, o2, s1, o1})
}

func (r *Record) IsPaired() bool         { return r.Flags()&sam.Paired != 0 }
func (r *Record) IsProperlyPaired() bool { return r.Flags()&sam.ProperPair != 0 }
func (r *Record) IsUnmapped() bool       { return r.Flags()&sam.Unmapped != 0 }
func (r *Record) IsMateUnmapped() bool   { return r.Flags()&sam.MateUnmapped != 0 }
func (r *Record) IsReverse() bool        { return r.Flags()&sam.Reverse != 0 }
func (r *Record) IsMateReverse() bool    { return r.Flags()&sam.MateReverse != 0 }
func (r *Record) IsRead1() bool          { return r.Flags()&sam.Read1 != 0 }
func (r *Record) IsRead2() bool          { return r.Flags()&sam.Read2 != 0 }
func (r *Record) IsSecondary() bool      { return r.Flags()&sam.Secondary != 0 }
func (r *Record) IsQCFail() bool         { return r.Flags()&sam.QCFail != 0 }
func (r *Record) IsDuplicate() bool      { return r.Flags()&sam.Duplicate != 0 }
func (r *Record) IsSupplementary() bool  { return r.Flags()&sam.Supplementary != 0 }

// String returns a tab separated summary of the record.
func (r *Record) String() string {
	q, ok := r.MapQ()
	if !ok {
		q = 255
	}
	return fmt.Sprintf("%s\t%v\t%d\t%d\t%d\t%s\t%d\t%d\t%d\t%s",
		r.Name(), r.Flags(), r.RefID(), r.Start()+1, q, r.Cigar(),
		r.NextRefID(), r.NextStart()+1, r.TemplateLength(), r.Seq())
}

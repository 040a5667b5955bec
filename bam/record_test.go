// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"bytes"
	"errors"
	"hash/crc32"

	"github.com/go-kit/log"
	"gopkg.in/check.v1"

	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/internal/fixture"
	"github.com/biogo/bamread/sam"
)

func encode(c *check.C, r fixture.Record) []byte {
	b, err := r.Encode()
	c.Assert(err, check.Equals, nil)
	return b
}

func pairedRead() fixture.Record {
	return fixture.Record{
		Name:  "r1",
		Ref:   0,
		Pos:   99,
		MapQ:  37,
		Flags: sam.Paired | sam.ProperPair | sam.Read1 | sam.MateReverse,
		Cigar: sam.Cigar{
			sam.NewCigarOp(sam.CigarSoftClipped, 5),
			sam.NewCigarOp(sam.CigarMatch, 10),
			sam.NewCigarOp(sam.CigarInsertion, 2),
			sam.NewCigarOp(sam.CigarMatch, 8),
		},
		Seq:     "ACGTNACGTAACCGGTTAACCGGTT",
		Qual:    quals(25),
		MateRef: 0,
		MatePos: 299,
		TempLen: 250,
		Aux: []sam.Aux{
			mustAux("NM", 'C', 2),
			mustAux("RG", 'Z', "grp1"),
			mustAux("XB", 'B', []int16{1, -2}),
		},
	}
}

func (s *S) TestRecordFields(c *check.C) {
	r := NewRecord(encode(c, pairedRead()), 7)
	c.Check(r.ID(), check.Equals, uint64(7))
	c.Check(r.Name(), check.Equals, "r1")
	c.Check(r.RefID(), check.Equals, 0)
	c.Check(r.Start(), check.Equals, 99)
	c.Check(r.LengthOnRef(), check.Equals, 18)
	c.Check(r.End(), check.Equals, 117)
	q, ok := r.MapQ()
	c.Check(q, check.Equals, 37)
	c.Check(ok, check.Equals, true)
	c.Check(r.SeqLen(), check.Equals, 25)
	c.Check(r.NextRefID(), check.Equals, 0)
	c.Check(r.NextStart(), check.Equals, 299)
	c.Check(r.TemplateLength(), check.Equals, 250)
	c.Check(r.CigarString(), check.Equals, "5S10M2I8M")
	c.Check(r.Seq(), check.Equals, "ACGTNACGTAACCGGTTAACCGGTT")
	c.Check(r.SeqAt(4), check.Equals, byte('N'))
	c.Check(r.SeqAt(24), check.Equals, byte('T'))
	c.Check(r.SeqAt(25), check.Equals, byte(0))
	c.Check(r.Qual(), check.DeepEquals, quals(25))

	nm, ok := r.Tag(sam.NewTag("NM"))
	c.Check(ok, check.Equals, true)
	c.Check(nm.Value(), check.Equals, uint8(2))
	_, ok = r.Tag(sam.NewTag("ZZ"))
	c.Check(ok, check.Equals, false)
	c.Check(r.AuxFields(), check.HasLen, 3)
	c.Check(r.Tags(), check.DeepEquals, map[string]interface{}{
		"NM": uint8(2),
		"RG": "grp1",
		"XB": []int16{1, -2},
	})
	rg, ok := r.Tag(sam.NewTag("RG"))
	c.Check(ok, check.Equals, true)
	c.Check(rg.Value(), check.Equals, "grp1")

	c.Check(r.IsPaired(), check.Equals, true)
	c.Check(r.IsProperlyPaired(), check.Equals, true)
	c.Check(r.IsRead1(), check.Equals, true)
	c.Check(r.IsRead2(), check.Equals, false)
	c.Check(r.IsUnmapped(), check.Equals, false)
	c.Check(r.IsMateReverse(), check.Equals, true)
	c.Check(r.IsSecondary(), check.Equals, false)
	c.Check(r.IsSupplementary(), check.Equals, false)
	c.Check(r.IsDuplicate(), check.Equals, false)
	c.Check(r.IsQCFail(), check.Equals, false)
	c.Check(r.Strand(), check.Equals, 1)
	c.Check(r.MateStrand(), check.Equals, -1)
	c.Check(r.PairOrientation(), check.Equals, "F1R2")
	c.Check(r.String(), check.Equals,
		"r1\t"+r.Flags().String()+"\t0\t100\t37\t5S10M2I8M\t0\t300\t250\tACGTNACGTAACCGGTTAACCGGTT")
	c.Check(r.Err(), check.Equals, nil)
}

var orientationTests = []struct {
	flags   sam.Flags
	tempLen int
	mateRef int
	want    string
}{
	{flags: sam.Paired | sam.Read1 | sam.MateReverse, tempLen: 250, mateRef: 0, want: "F1R2"},
	{flags: sam.Paired | sam.Read2 | sam.Reverse, tempLen: -250, mateRef: 0, want: "F1R2"},
	{flags: sam.Paired | sam.Read1 | sam.Reverse, tempLen: -250, mateRef: 0, want: "F2R1"},
	{flags: sam.Paired | sam.Read2, tempLen: 250, mateRef: 0, want: "F2F1"},
	{flags: sam.Paired | sam.Read1 | sam.MateReverse, tempLen: 250, mateRef: 1, want: ""},
	{flags: sam.Paired | sam.Read1 | sam.MateUnmapped, tempLen: 0, mateRef: 0, want: ""},
}

func (s *S) TestPairOrientation(c *check.C) {
	for _, test := range orientationTests {
		rec := pairedRead()
		rec.Flags = test.flags
		rec.TempLen = test.tempLen
		rec.MateRef = test.mateRef
		r := NewRecord(encode(c, rec), 1)
		c.Check(r.PairOrientation(), check.Equals, test.want, check.Commentf("flags %v", test.flags))
	}
}

func (s *S) TestUnmappedRecord(c *check.C) {
	rec := read("u", -1, -1, 0)
	rec.Flags = sam.Unmapped
	rec.MapQ = 255
	rec.Seq = "ACGT"
	rec.Qual = quals(4)
	r := NewRecord(encode(c, rec), 1)
	c.Check(r.RefID(), check.Equals, -1)
	c.Check(r.Start(), check.Equals, -1)
	c.Check(r.LengthOnRef(), check.Equals, 0)
	c.Check(r.Cigar(), check.IsNil)
	c.Check(r.Qual(), check.IsNil)
	c.Check(r.Seq(), check.Equals, "ACGT")
	_, ok := r.MapQ()
	c.Check(ok, check.Equals, false)
	c.Check(r.MateStrand(), check.Equals, 0)
	c.Check(r.PairOrientation(), check.Equals, "")
}

// cgRead returns a read with a placeholder CIGAR and its CIGAR held in
// a CG tag.
func cgRead(placeholder sam.CigarOpType) fixture.Record {
	rec := read("long", 0, 1000, 0)
	rec.Seq = bases(25, 0)
	rec.Qual = quals(25)
	rec.Cigar = sam.Cigar{
		sam.NewCigarOp(sam.CigarSoftClipped, 25),
		sam.NewCigarOp(placeholder, 120),
	}
	cg := sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, 10),
		sam.NewCigarOp(sam.CigarInsertion, 5),
		sam.NewCigarOp(sam.CigarMatch, 10),
		sam.NewCigarOp(sam.CigarDeletion, 100),
	}
	ops := make([]uint32, len(cg))
	for i, co := range cg {
		ops[i] = uint32(co)
	}
	rec.Aux = []sam.Aux{mustAux("NM", 'C', 0), mustAux("CG", 'B', ops)}
	return rec
}

func (s *S) TestCGTag(c *check.C) {
	r := NewRecord(encode(c, cgRead(sam.CigarSkipped)), 1)
	c.Check(r.CigarString(), check.Equals, "10M5I10M100D")
	c.Check(r.LengthOnRef(), check.Equals, 120)
	c.Check(r.End(), check.Equals, 1120)
	c.Check(r.Err(), check.Equals, nil)

	// A CIGAR that only resembles the placeholder is kept.
	rec := cgRead(sam.CigarSkipped)
	rec.Cigar[0] = sam.NewCigarOp(sam.CigarSoftClipped, 24)
	rec.Cigar = append(rec.Cigar, sam.NewCigarOp(sam.CigarMatch, 1))
	r = NewRecord(encode(c, rec), 1)
	c.Check(r.CigarString(), check.Equals, "24S120N1M")
	c.Check(r.LengthOnRef(), check.Equals, 121)
}

func (s *S) TestMalformedCGTag(c *check.C) {
	b := encode(c, cgRead(sam.CigarMatch))

	r := NewRecord(b, 1)
	c.Check(r.CigarString(), check.Equals, "10M5I10M100D")
	c.Check(r.LengthOnRef(), check.Equals, 120)
	c.Check(r.Err(), check.Equals, nil)

	var buf bytes.Buffer
	recs, err := Decoder{Logger: log.NewLogfmtLogger(&buf), StrictCG: true}.Decode(&bgzf.Slice{Data: b})
	c.Assert(err, check.Equals, nil)
	c.Assert(recs, check.HasLen, 1)
	r = recs[0]
	c.Check(r.ID(), check.Equals, uint64(crc32.ChecksumIEEE(b)))
	c.Check(r.LengthOnRef(), check.Equals, 120)
	c.Check(errors.Is(r.Err(), ErrMalformedCG), check.Equals, true)
	c.Check(buf.String(), check.Matches, `(?s)level=warn msg="CG tag with placeholder CIGAR lacking N operation" read=long.*`)
}

func (s *S) TestUnknownTagType(c *check.C) {
	rec := read("odd", 0, 500, 100)
	rec.RawAux = []byte("XXq\x01\x02\x03ZZZhello\x00")
	b := encode(c, rec)

	var buf bytes.Buffer
	recs, err := Decoder{Logger: log.NewLogfmtLogger(&buf)}.Decode(&bgzf.Slice{Data: b})
	c.Assert(err, check.Equals, nil)
	c.Assert(recs, check.HasLen, 1)
	r := recs[0]
	c.Check(r.Start(), check.Equals, 500)
	c.Check(r.End(), check.Equals, 600)
	c.Check(r.CigarString(), check.Equals, "100M")
	c.Check(r.Tags(), check.DeepEquals, map[string]interface{}{
		"NM": uint8(0),
		"RG": "volvox",
	})
	_, ok := r.Tag(sam.NewTag("ZZ"))
	c.Check(ok, check.Equals, false)
	c.Check(r.Err(), check.Equals, nil)
	c.Check(buf.String(), check.Matches, `(?s).*msg="stopped reading tags" read=odd.*`)
}

func (s *S) TestDuplicateTag(c *check.C) {
	rec := read("dup", 0, 500, 100)
	rec.Aux = []sam.Aux{
		mustAux("NM", 'C', 1),
		mustAux("RG", 'Z', "first"),
		mustAux("NM", 'C', 2),
		mustAux("RG", 'Z', "second"),
	}
	b := encode(c, rec)
	want := map[string]interface{}{"NM": uint8(1), "RG": "first"}

	// Tag before and after the fields are collected by Tags.
	scanned := NewRecord(b, 1)
	collected := NewRecord(b, 1)
	c.Check(collected.Tags(), check.DeepEquals, want)
	for _, r := range []*Record{scanned, collected} {
		for name, v := range want {
			a, ok := r.Tag(sam.NewTag(name))
			c.Assert(ok, check.Equals, true)
			c.Check(a.Value(), check.DeepEquals, v)
		}
	}
	c.Check(scanned.Tags(), check.DeepEquals, want)
	c.Check(scanned.AuxFields(), check.HasLen, 4)
}

func (s *S) TestShortRecord(c *check.C) {
	b := encode(c, pairedRead())

	r := NewRecord(b[:20], 1)
	c.Check(r.Err(), check.Equals, ErrShortRecord)
	c.Check(r.RefID(), check.Equals, -1)
	c.Check(r.Start(), check.Equals, -1)
	c.Check(r.Name(), check.Equals, "")

	// Name is present but the CIGAR is cut.
	r = NewRecord(b[:fixedRecordLen+3+4], 1)
	c.Check(r.Err(), check.Equals, nil)
	c.Check(r.Name(), check.Equals, "r1")
	c.Check(r.Start(), check.Equals, 99)
	c.Check(r.Cigar(), check.IsNil)
	c.Check(r.Err(), check.Equals, ErrShortRecord)
}

func (s *S) TestDecode(c *check.C) {
	var data []byte
	for i := 0; i < 3; i++ {
		data = append(data, encode(c, read("r", 0, 100*i, 50))...)
	}
	n := len(data)
	data = append(data, encode(c, read("partial", 0, 400, 50))[:30]...)

	recs, err := Decoder{}.Decode(&bgzf.Slice{Data: data})
	c.Assert(err, check.Equals, nil)
	c.Assert(recs, check.HasLen, 3)
	for i, r := range recs {
		c.Check(r.Start(), check.Equals, 100*i)
	}
	c.Check(len(recs[0].Bytes())+len(recs[1].Bytes())+len(recs[2].Bytes()), check.Equals, n)

	// With block positions IDs are virtual offsets plus one.
	recs, err = Decoder{}.Decode(&bgzf.Slice{
		Data:       data,
		CPositions: []int64{1000},
		DPositions: []int{0},
		Trim:       10,
	})
	c.Assert(err, check.Equals, nil)
	c.Check(recs[0].ID(), check.Equals, bgzf.Offset{File: 1000, Block: 10}.Virtual()+1)

	bad := append([]byte{0xff, 0xff, 0xff, 0xff}, data...)
	_, err = Decoder{}.Decode(&bgzf.Slice{Data: bad})
	c.Check(err, check.ErrorMatches, "bam: invalid record block size -1 at .*")
}

func (s *S) TestFilter(c *check.C) {
	var recs []*Record
	for _, rec := range []fixture.Record{
		read("a", 0, 10, 10), // [10,20)
		read("b", 1, 15, 10), // other reference
		read("c", 0, 20, 10), // [20,30)
		read("d", 0, 30, 10), // [30,40)
		read("e", 0, 40, 10), // [40,50)
	} {
		recs = append(recs, NewRecord(encode(c, rec), 0))
	}
	for _, test := range []struct {
		beg, end int
		want     []string
		done     bool
	}{
		{beg: 1, end: 100, want: []string{"a", "c", "d", "e"}, done: false},
		{beg: 21, end: 30, want: []string{"c"}, done: true},
		{beg: 20, end: 31, want: []string{"a", "c", "d"}, done: true},
		{beg: 1, end: 10, want: nil, done: true},
		{beg: 51, end: 100, want: nil, done: false},
	} {
		kept, done := Filter(recs, 0, test.beg, test.end)
		c.Check(names(kept), check.DeepEquals, test.want, check.Commentf("[%d,%d]", test.beg, test.end))
		c.Check(done, check.Equals, test.done, check.Commentf("[%d,%d]", test.beg, test.end))
	}
}

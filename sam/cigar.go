// Copyright ©2012 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sam

import (
	"fmt"
	"strconv"
	"strings"
)

// Cigar is a set of CIGAR operations.
type Cigar []CigarOp

// String returns the CIGAR string for c.
func (c Cigar) String() string {
	if len(c) == 0 {
		return "*"
	}
	var b strings.Builder
	for _, co := range c {
		b.WriteString(strconv.Itoa(co.Len()))
		b.WriteString(co.Type().String())
	}
	return b.String()
}

// Lengths returns the number of reference and read bases described by the Cigar.
// Padding is not counted against the reference.
func (c Cigar) Lengths() (ref, read int) {
	for _, co := range c {
		con := co.Type().Consumes()
		ref += co.Len() * con.Reference
		read += co.Len() * con.Query
	}
	return ref, read
}

// LengthOnRef returns the span of the alignment on the reference, the sum of
// the lengths of the M, D, N, P, = and X operations.
func (c Cigar) LengthOnRef() int {
	var n int
	for _, co := range c {
		if co.Type().OnReference() {
			n += co.Len()
		}
	}
	return n
}

// CigarOp is a single CIGAR operation including the operation type and the
// length of the operation.
type CigarOp uint32

// NewCigarOp returns a CIGAR operation of the specified type with length n.
func NewCigarOp(t CigarOpType, n int) CigarOp {
	return CigarOp(t&0xf) | (CigarOp(n) << 4)
}

// Type returns the type of the CIGAR operation for the CigarOp.
func (co CigarOp) Type() CigarOpType { return CigarOpType(co & 0xf) }

// Len returns the number of positions affected by the CigarOp CIGAR operation.
func (co CigarOp) Len() int { return int(co >> 4) }

// String returns the string representation of the CigarOp
func (co CigarOp) String() string { return strconv.Itoa(co.Len()) + co.Type().String() }

// A CigarOpType represents the type of operation described by a CigarOp.
// The BAM encoding holds four bits for the type; codes beyond CigarMismatch
// are reserved.
type CigarOpType byte

const (
	CigarMatch       CigarOpType = iota // Alignment match (can be a sequence match or mismatch).
	CigarInsertion                      // Insertion to the reference.
	CigarDeletion                       // Deletion from the reference.
	CigarSkipped                        // Skipped region from the reference.
	CigarSoftClipped                    // Soft clipping (clipped sequences present in SEQ).
	CigarHardClipped                    // Hard clipping (clipped sequences NOT present in SEQ).
	CigarPadded                         // Padding (silent deletion from padded reference).
	CigarEqual                          // Sequence match.
	CigarMismatch                       // Sequence mismatch.
)

// cigarOps is indexed by the four bit BAM operation code.
const cigarOps = "MIDNSHP=X???????"

// Consumes returns the CIGAR operation alignment consumption characteristics for the CigarOpType.
//
// The Consume values for each of the CigarOpTypes is as follows:
//
//                    Query  Reference
//  CigarMatch          1        1
//  CigarInsertion      1        0
//  CigarDeletion       0        1
//  CigarSkipped        0        1
//  CigarSoftClipped    1        0
//  CigarHardClipped    0        0
//  CigarPadded         0        0
//  CigarEqual          1        1
//  CigarMismatch       1        1
//  reserved            0        0
//
func (ct CigarOpType) Consumes() Consume { return consume[ct&0xf] }

// OnReference returns whether the operation contributes to the length of
// an alignment on the reference. This differs from Consumes in that padding
// is included.
func (ct CigarOpType) OnReference() bool {
	switch ct {
	case CigarMatch, CigarDeletion, CigarSkipped, CigarPadded, CigarEqual, CigarMismatch:
		return true
	}
	return false
}

// String returns the string representation of a CigarOpType.
func (ct CigarOpType) String() string {
	return cigarOps[ct&0xf : ct&0xf+1]
}

// Consume describes how CIGAR operations consume alignment bases.
type Consume struct {
	Query, Reference int
}

var consume = [16]Consume{
	CigarMatch:       {Query: 1, Reference: 1},
	CigarInsertion:   {Query: 1, Reference: 0},
	CigarDeletion:    {Query: 0, Reference: 1},
	CigarSkipped:     {Query: 0, Reference: 1},
	CigarSoftClipped: {Query: 1, Reference: 0},
	CigarHardClipped: {Query: 0, Reference: 0},
	CigarPadded:      {Query: 0, Reference: 0},
	CigarEqual:       {Query: 1, Reference: 1},
	CigarMismatch:    {Query: 1, Reference: 1},
}

var cigarOpTypeLookup [256]int8

func init() {
	for i := range cigarOpTypeLookup {
		cigarOpTypeLookup[i] = -1
	}
	for op := CigarMatch; op <= CigarMismatch; op++ {
		cigarOpTypeLookup[cigarOps[op]] = int8(op)
	}
}

// ParseCigar returns a Cigar parsed from the provided byte slice.
func ParseCigar(b []byte) (Cigar, error) {
	if len(b) == 1 && b[0] == '*' {
		return nil, nil
	}
	var c Cigar
	for i := 0; i < len(b); {
		j := i
		for j < len(b) && '0' <= b[j] && b[j] <= '9' {
			j++
		}
		if j == i || j == len(b) {
			return nil, fmt.Errorf("sam: failed to parse cigar string %q at %d", b, i)
		}
		n, err := strconv.Atoi(string(b[i:j]))
		if err != nil || n >= 1<<28 {
			return nil, fmt.Errorf("sam: invalid cigar operation count: %q at %d", b[i:j], i)
		}
		op := cigarOpTypeLookup[b[j]]
		if op < 0 {
			return nil, fmt.Errorf("sam: failed to parse cigar string %q: unknown operation %q", b, b[j])
		}
		c = append(c, NewCigarOp(CigarOpType(op), n))
		i = j + 1
	}
	return c, nil
}

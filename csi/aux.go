// Copyright ©2014 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package csi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// minAuxLen is the length of the fixed fields of the tabix auxiliary
// block.
const minAuxLen = 28

// Format is the file format described by a tabix auxiliary block.
type Format byte

const (
	Generic Format = iota
	SAM
	VCF
)

func (f Format) String() string {
	switch f {
	case Generic:
		return "generic"
	case SAM:
		return "SAM"
	case VCF:
		return "VCF"
	}
	return fmt.Sprintf("Format(%d)", byte(f))
}

// Aux is the tabix interpretation of a CSI auxiliary data block.
type Aux struct {
	Format    Format
	ZeroBased bool

	NameColumn  int32
	BeginColumn int32
	EndColumn   int32

	MetaChar rune
	Skip     int32

	// Names holds the reference names
	// in reference ID order.
	Names []string
}

// IDs returns a map of reference names to IDs.
func (a *Aux) IDs() map[string]int {
	m := make(map[string]int, len(a.Names))
	for i, n := range a.Names {
		if _, dup := m[n]; !dup {
			m[n] = i
		}
	}
	return m
}

// ParseAux parses a tabix layout auxiliary data block.
func ParseAux(b []byte) (*Aux, error) {
	if len(b) < minAuxLen {
		return nil, errors.New("csi: auxiliary data too short")
	}
	le := binary.LittleEndian
	format := int32(le.Uint32(b[0:]))
	a := &Aux{
		Format:      Format(format & 0xf),
		ZeroBased:   format&0x10000 != 0,
		NameColumn:  int32(le.Uint32(b[4:])),
		BeginColumn: int32(le.Uint32(b[8:])),
		EndColumn:   int32(le.Uint32(b[12:])),
		MetaChar:    rune(int32(le.Uint32(b[16:]))),
		Skip:        int32(le.Uint32(b[20:])),
	}
	n := int(int32(le.Uint32(b[24:])))
	if n < 0 || minAuxLen+n > len(b) {
		return nil, fmt.Errorf("csi: invalid name block length: %d", n)
	}
	if n == 0 {
		return a, nil
	}
	names := b[minAuxLen : minAuxLen+n]
	if names[len(names)-1] != 0 {
		return nil, errors.New("csi: last name not zero-terminated")
	}
	for _, name := range bytes.Split(names[:len(names)-1], []byte{0}) {
		a.Names = append(a.Names, string(name))
	}
	return a, nil
}

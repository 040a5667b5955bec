// Copyright ©2012 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sam

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
)

var (
	// ErrUnknownAuxType is returned when an auxiliary field has a
	// type code that is not part of the BAM grammar. Fields following
	// it cannot be located.
	ErrUnknownAuxType = errors.New("sam: unknown aux type")

	// ErrShortAux is returned when an auxiliary field runs past the
	// end of its record.
	ErrShortAux = errors.New("sam: truncated aux field")
)

// An Aux represents an auxilliary data field from a BAM alignment record.
// It holds the two byte tag, the type byte and the little endian encoded
// value. For Z and H types the terminating zero is not included.
type Aux []byte

// A Tag represents an auxilliary tag label.
type Tag [2]byte

// NewTag returns a Tag from the tag string. It panics is len(tag) != 2.
func NewTag(tag string) Tag {
	var t Tag
	if len(tag) != 2 {
		panic("sam: illegal tag length")
	}
	copy(t[:], tag)
	return t
}

// String returns a string representation of a Tag.
func (t Tag) String() string { return string(t[:]) }

var auxKind = [256]byte{
	'A': 'A',
	'c': 'i', 'C': 'i',
	's': 'i', 'S': 'i',
	'i': 'i', 'I': 'i',
	'f': 'f',
	'Z': 'Z',
	'H': 'H',
	'B': 'B',
}

// auxWidth is the encoded width of fixed size values and array elements.
var auxWidth = [256]int{
	'A': 1,
	'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4,
	'f': 4,
}

// ParseAuxField returns the auxiliary field at the start of b and the number
// of bytes it occupies in the BAM tag stream. An unknown type code returns
// ErrUnknownAuxType and a field running past the end of b returns ErrShortAux.
func ParseAuxField(b []byte) (a Aux, n int, err error) {
	if len(b) < 3 {
		return nil, 0, ErrShortAux
	}
	typ := b[2]
	switch auxKind[typ] {
	case 'A', 'i', 'f':
		n = 3 + auxWidth[typ]
		if n > len(b) {
			return nil, 0, ErrShortAux
		}
		return Aux(b[:n]), n, nil
	case 'Z', 'H':
		for i := 3; i < len(b); i++ {
			if b[i] == 0 {
				return Aux(b[:i]), i + 1, nil
			}
		}
		return nil, 0, ErrShortAux
	case 'B':
		if len(b) < 8 {
			return nil, 0, ErrShortAux
		}
		sub := b[3]
		w := auxWidth[sub]
		if w == 0 || sub == 'A' {
			return nil, 0, fmt.Errorf("%w: array of %q", ErrUnknownAuxType, sub)
		}
		count := int64(binary.LittleEndian.Uint32(b[4:8]))
		if int64(len(b)-8) < count*int64(w) {
			return nil, 0, ErrShortAux
		}
		n = 8 + int(count)*w
		return Aux(b[:n]), n, nil
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownAuxType, typ)
	}
}

// NewAux returns a new Aux with the given tag, type and value. Acceptable value
// types depend on the typ parameter:
//
//  A - byte
//  c - int8
//  C - uint8
//  s - int16
//  S - uint16
//  i - int32
//  I - uint32
//  f - float32
//  Z - []byte or string
//  H - []byte or string
//  B - []int8, []int16, []int32, []uint8, []uint16, []uint32 or []float32
//
// An int value is accepted for any integer type and is checked against the
// range of that type.
func NewAux(t Tag, typ byte, value interface{}) (Aux, error) {
	a := Aux{t[0], t[1], typ}
	switch auxKind[typ] {
	case 'A':
		c, ok := value.(byte)
		if !ok {
			return nil, fmt.Errorf("sam: wrong dynamic type %T for 'A' tag", value)
		}
		return append(a, c), nil
	case 'i':
		v, ok := integer(value)
		if !ok {
			return nil, fmt.Errorf("sam: wrong dynamic type %T for %q tag", value, typ)
		}
		lo, hi := intRange(typ)
		if v < lo || hi < v {
			return nil, fmt.Errorf("sam: integer value %d out of range for %q tag", v, typ)
		}
		return appendInt(a, auxWidth[typ], v), nil
	case 'f':
		f, ok := value.(float32)
		if !ok {
			return nil, fmt.Errorf("sam: wrong dynamic type %T for 'f' tag", value)
		}
		return binary.LittleEndian.AppendUint32(a, math.Float32bits(f)), nil
	case 'Z', 'H':
		switch s := value.(type) {
		case []byte:
			return append(a, s...), nil
		case string:
			return append(a, s...), nil
		}
		return nil, fmt.Errorf("sam: wrong dynamic type %T for %q tag", value, typ)
	case 'B':
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice {
			return nil, fmt.Errorf("sam: wrong dynamic type %T for 'B' tag", value)
		}
		var sub byte
		switch rv.Type().Elem().Kind() {
		case reflect.Int8:
			sub = 'c'
		case reflect.Uint8:
			sub = 'C'
		case reflect.Int16:
			sub = 's'
		case reflect.Uint16:
			sub = 'S'
		case reflect.Int32:
			sub = 'i'
		case reflect.Uint32:
			sub = 'I'
		case reflect.Float32:
			sub = 'f'
		default:
			return nil, fmt.Errorf("sam: unsupported array type: %T", value)
		}
		l := rv.Len()
		if l > math.MaxUint32 {
			return nil, errors.New("sam: array too long for 'B' tag")
		}
		a = append(a, sub)
		a = binary.LittleEndian.AppendUint32(a, uint32(l))
		for i := 0; i < l; i++ {
			e := rv.Index(i)
			switch sub {
			case 'c', 's', 'i':
				a = appendInt(a, auxWidth[sub], e.Int())
			case 'C', 'S', 'I':
				a = appendInt(a, auxWidth[sub], int64(e.Uint()))
			case 'f':
				a = binary.LittleEndian.AppendUint32(a, math.Float32bits(float32(e.Float())))
			}
		}
		return a, nil
	default:
		return nil, fmt.Errorf("sam: unknown type %q", typ)
	}
}

func integer(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint8:
		return int64(v), true
	case int16:
		return int64(v), true
	case uint16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint32:
		return int64(v), true
	}
	return 0, false
}

func intRange(typ byte) (lo, hi int64) {
	switch typ {
	case 'c':
		return math.MinInt8, math.MaxInt8
	case 'C':
		return 0, math.MaxUint8
	case 's':
		return math.MinInt16, math.MaxInt16
	case 'S':
		return 0, math.MaxUint16
	case 'i':
		return math.MinInt32, math.MaxInt32
	default:
		return 0, math.MaxUint32
	}
}

func appendInt(b []byte, width int, v int64) []byte {
	switch width {
	case 1:
		return append(b, byte(v))
	case 2:
		return binary.LittleEndian.AppendUint16(b, uint16(v))
	default:
		return binary.LittleEndian.AppendUint32(b, uint32(v))
	}
}

// Tag returns the Tag representation of the Aux tag ID.
func (a Aux) Tag() Tag { var t Tag; copy(t[:], a[:2]); return t }

// Type returns a byte corresponding to the type of the auxilliary tag.
// Returned values are in {'A', 'c', 'C', 's', 'S', 'i', 'I', 'f', 'Z', 'H', 'B'}.
func (a Aux) Type() byte { return a[2] }

// Kind returns a byte corresponding to the kind of the auxilliary tag.
// Returned values are in {'A', 'i', 'f', 'Z', 'H', 'B'}.
func (a Aux) Kind() byte { return auxKind[a[2]] }

// Value returns v containing the value of the auxilliary tag. Integer
// types are returned as their sized Go type, Z and H as string and B
// as a slice of the element type.
func (a Aux) Value() interface{} {
	switch t := a.Type(); t {
	case 'A':
		return a[3]
	case 'c':
		return int8(a[3])
	case 'C':
		return uint8(a[3])
	case 's':
		return int16(binary.LittleEndian.Uint16(a[3:5]))
	case 'S':
		return binary.LittleEndian.Uint16(a[3:5])
	case 'i':
		return int32(binary.LittleEndian.Uint32(a[3:7]))
	case 'I':
		return binary.LittleEndian.Uint32(a[3:7])
	case 'f':
		return math.Float32frombits(binary.LittleEndian.Uint32(a[3:7]))
	case 'Z', 'H':
		return string(a[3:])
	case 'B':
		return a.array()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAuxType, t)
	}
}

func (a Aux) array() interface{} {
	n := int(binary.LittleEndian.Uint32(a[4:8]))
	p := a[8:]
	switch t := a[3]; t {
	case 'c':
		v := make([]int8, n)
		for i := range v {
			v[i] = int8(p[i])
		}
		return v
	case 'C':
		return append([]uint8(nil), p[:n]...)
	case 's':
		v := make([]int16, n)
		for i := range v {
			v[i] = int16(binary.LittleEndian.Uint16(p[2*i:]))
		}
		return v
	case 'S':
		v := make([]uint16, n)
		for i := range v {
			v[i] = binary.LittleEndian.Uint16(p[2*i:])
		}
		return v
	case 'i':
		v := make([]int32, n)
		for i := range v {
			v[i] = int32(binary.LittleEndian.Uint32(p[4*i:]))
		}
		return v
	case 'I':
		v := make([]uint32, n)
		for i := range v {
			v[i] = binary.LittleEndian.Uint32(p[4*i:])
		}
		return v
	case 'f':
		v := make([]float32, n)
		for i := range v {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[4*i:]))
		}
		return v
	default:
		return fmt.Errorf("%w: array of %q", ErrUnknownAuxType, t)
	}
}

// String returns the string representation of an Aux type.
func (a Aux) String() string {
	switch a.Type() {
	case 'A':
		return fmt.Sprintf("%s:%c:%c", []byte(a[:2]), a.Kind(), a.Value())
	case 'B':
		return fmt.Sprintf("%s:%c:%c%v", []byte(a[:2]), a.Kind(), a[3], a.Value())
	}
	return fmt.Sprintf("%s:%c:%v", []byte(a[:2]), a.Kind(), a.Value())
}

// AuxFields is a set of auxiliary fields.
type AuxFields []Aux

// Get returns the auxiliary field identified by the given tag, or nil
// if no field matches.
func (a AuxFields) Get(tag Tag) Aux {
	for _, f := range a {
		if f.Tag() == tag {
			return f
		}
	}
	return nil
}

// Copyright ©2012 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sam provides the SAM vocabulary shared by BAM readers: alignment
// flags, CIGAR operations, auxiliary tag fields and the header text.
//
// http://samtools.github.io/hts-specs/SAMv1.pdf
package sam

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var errBadHeader = errors.New("sam: malformed header line")

var (
	headerTag  = Tag{'H', 'D'}
	versionTag = Tag{'V', 'N'}
	sortTag    = Tag{'S', 'O'}
	refDictTag = Tag{'S', 'Q'}
	refNameTag = Tag{'S', 'N'}
	refLenTag  = Tag{'L', 'N'}
	commentTag = Tag{'C', 'O'}
)

// Header is a SAM header. Text holds the header text as it was read
// and Lines its parsed form. Refs holds the reference dictionary.
type Header struct {
	Text  string
	Lines []HeaderLine

	refs []Reference
	ids  map[string]int
}

// HeaderLine is a single line of a SAM header. Comment lines hold
// their text in Comment and have no Fields.
type HeaderLine struct {
	Type    Tag
	Fields  []HeaderField
	Comment string
}

// HeaderField is a TAG:VALUE pair from a header line.
type HeaderField struct {
	Tag   Tag
	Value string
}

// Get returns the value of the first field of l with the given tag.
func (l HeaderLine) Get(t Tag) (string, bool) {
	for _, f := range l.Fields {
		if f.Tag == t {
			return f.Value, true
		}
	}
	return "", false
}

// Reference is a mapping reference.
type Reference struct {
	ID   int
	Name string
	Len  int
}

func (r Reference) String() string {
	return fmt.Sprintf("@SQ\tSN:%s\tLN:%d", r.Name, r.Len)
}

// ParseHeader returns the Header described by the SAM header text. The
// reference dictionary is taken from the @SQ lines. Blank lines are
// ignored.
func ParseHeader(text []byte) (*Header, error) {
	h := &Header{Text: string(text)}
	var refs []Reference
	for i, l := range bytes.Split(text, []byte{'\n'}) {
		l = bytes.TrimSuffix(l, []byte{'\r'})
		if len(l) == 0 {
			continue
		}
		line, err := parseLine(l)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q", err, i+1, l)
		}
		h.Lines = append(h.Lines, line)
		if line.Type != refDictTag {
			continue
		}
		name, ok := line.Get(refNameTag)
		if !ok {
			return nil, fmt.Errorf("%w: line %d: missing SN", errBadHeader, i+1)
		}
		var length int
		if ln, ok := line.Get(refLenTag); ok {
			length, err = strconv.Atoi(ln)
			if err != nil || length < 0 {
				return nil, fmt.Errorf("%w: line %d: invalid LN %q", errBadHeader, i+1, ln)
			}
		}
		refs = append(refs, Reference{ID: len(refs), Name: name, Len: length})
	}
	h.SetRefs(refs)
	return h, nil
}

func parseLine(l []byte) (HeaderLine, error) {
	if l[0] != '@' || len(l) < 3 {
		return HeaderLine{}, errBadHeader
	}
	var line HeaderLine
	copy(line.Type[:], l[1:3])
	if line.Type == commentTag {
		if len(l) > 4 {
			line.Comment = string(l[4:])
		}
		return line, nil
	}
	for _, f := range bytes.Split(l, []byte{'\t'})[1:] {
		if len(f) < 3 || f[2] != ':' {
			return HeaderLine{}, errBadHeader
		}
		var t Tag
		copy(t[:], f[:2])
		line.Fields = append(line.Fields, HeaderField{Tag: t, Value: string(f[3:])})
	}
	return line, nil
}

// SetRefs sets the reference dictionary of h. Reference IDs are set to
// their position in refs.
func (h *Header) SetRefs(refs []Reference) {
	h.refs = refs
	h.ids = make(map[string]int, len(refs))
	for i := range refs {
		refs[i].ID = i
		if _, dup := h.ids[refs[i].Name]; !dup {
			h.ids[refs[i].Name] = i
		}
	}
}

// Refs returns the reference dictionary of h.
func (h *Header) Refs() []Reference { return h.refs }

// RefID returns the ID of the named reference.
func (h *Header) RefID(name string) (int, bool) {
	id, ok := h.ids[name]
	return id, ok
}

// Version returns the VN field of the @HD line.
func (h *Header) Version() string { return h.get(headerTag, versionTag) }

// SortOrder returns the SO field of the @HD line.
func (h *Header) SortOrder() string { return h.get(headerTag, sortTag) }

func (h *Header) get(typ, t Tag) string {
	for _, l := range h.Lines {
		if l.Type == typ {
			v, _ := l.Get(t)
			return v
		}
	}
	return ""
}

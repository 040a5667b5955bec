// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/biogo/bamread/sam"
)

// region is a one-based closed interval on a named reference. An End
// of zero extends the region to the end of the reference.
type region struct {
	Ref        string
	Start, End int
}

func (r region) String() string {
	if r.End == 0 {
		return fmt.Sprintf("%s:%d-", r.Ref, r.Start)
	}
	return fmt.Sprintf("%s:%d-%d", r.Ref, r.Start, r.End)
}

// parseRegion parses a region in the form chr, chr:beg or chr:beg-end.
// Thousands separators are allowed in the coordinates.
func parseRegion(s string) (region, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		if s == "" {
			return region{}, fmt.Errorf("empty region")
		}
		return region{Ref: s, Start: 1}, nil
	}
	r := region{Ref: s[:i]}
	if r.Ref == "" {
		return region{}, fmt.Errorf("invalid region %q: no reference name", s)
	}
	coords := strings.ReplaceAll(s[i+1:], ",", "")
	beg, end, hasEnd := strings.Cut(coords, "-")
	var err error
	r.Start, err = strconv.Atoi(beg)
	if err != nil || r.Start < 1 {
		return region{}, fmt.Errorf("invalid region %q: bad start %q", s, beg)
	}
	if hasEnd && end != "" {
		r.End, err = strconv.Atoi(end)
		if err != nil || r.End < r.Start {
			return region{}, fmt.Errorf("invalid region %q: bad end %q", s, end)
		}
	}
	return r, nil
}

// resolve sets an open ended region to end at the end of its reference.
func (r region) resolve(refs []sam.Reference) (region, error) {
	if r.End != 0 {
		return r, nil
	}
	for _, ref := range refs {
		if ref.Name == r.Ref {
			r.End = ref.Len
			return r, nil
		}
	}
	return r, fmt.Errorf("unknown reference %q", r.Ref)
}

// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/check.v1"

	"github.com/biogo/bamread/csi"
	"github.com/biogo/bamread/internal/fixture"
)

func writeFile(c *check.C, path string, data []byte) {
	c.Assert(os.WriteFile(path, data, 0o644), check.Equals, nil)
}

func (s *S) TestOpenLocation(c *check.C) {
	ctx := context.Background()
	b := volvox(c)
	raw, err := b.CSI(fixture.CSIOptions{})
	c.Assert(err, check.Equals, nil)

	dir := c.MkDir()
	bai := filepath.Join(dir, "bai.bam")
	writeFile(c, bai, b.Data)
	writeFile(c, bai+".bai", b.BAI())
	csiPath := filepath.Join(dir, "csi.bam")
	writeFile(c, csiPath, b.Data)
	writeFile(c, csiPath+".csi", raw)
	none := filepath.Join(dir, "none.bam")
	writeFile(c, none, b.Data)
	named := filepath.Join(dir, "named.idx.csi")
	writeFile(c, named, raw)

	for _, test := range []struct {
		loc, idx string
		mmap     bool
		isCSI    bool
	}{
		{loc: bai},
		{loc: bai, mmap: true},
		{loc: csiPath, isCSI: true},
		{loc: none, idx: named, isCSI: true},
		{loc: none, idx: bai + ".bai"},
	} {
		f, err := OpenLocation(ctx, test.loc, test.idx, test.mmap)
		c.Assert(err, check.Equals, nil, check.Commentf("%s", test.loc))
		_, isCSI := f.Index().(*csi.Index)
		c.Check(isCSI, check.Equals, test.isCSI)
		_, isBAI := f.Index().(*Index)
		c.Check(isBAI, check.Equals, !test.isCSI)
		checkVolvox(c, f, b)
		c.Check(f.Close(), check.Equals, nil)
	}

	f, err := OpenLocation(ctx, none, "", false)
	c.Assert(err, check.Equals, nil)
	c.Check(f.Index(), check.IsNil)
	h, err := f.Header(ctx)
	c.Assert(err, check.Equals, nil)
	c.Check(h.Refs(), check.HasLen, 2)
	_, err = f.RecordsForRange(ctx, "ctgA", 1, 100, QueryOptions{})
	c.Check(err, check.Equals, ErrNoIndex)
	c.Check(f.Close(), check.Equals, nil)

	_, err = OpenLocation(ctx, filepath.Join(dir, "absent.bam"), "", false)
	c.Check(errors.Is(err, os.ErrNotExist), check.Equals, true)
	_, err = OpenLocation(ctx, none, filepath.Join(dir, "absent.bai"), false)
	c.Check(errors.Is(err, os.ErrNotExist), check.Equals, true)
}

// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package htsget

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/biogo/bamread/bam"
)

// Dir is a Resolver for the BAM files in a directory. The ID of a file
// is its name without the .bam suffix. Its index is read from the file
// name with a .bai or .csi suffix added. Opened files are retained
// until Close is called.
type Dir struct {
	root string
	mmap bool
	opts []bam.Option

	mu    sync.Mutex
	files map[string]*bam.File
}

// NewDir returns a Dir serving the BAM files in root. Local files are
// memory mapped when mmap is true, and opts are used to open each file.
func NewDir(root string, mmap bool, opts ...bam.Option) *Dir {
	return &Dir{root: root, mmap: mmap, opts: opts, files: make(map[string]*bam.File)}
}

var _ Resolver = (*Dir)(nil)

// Resolve returns the File with the given ID.
func (d *Dir) Resolve(ctx context.Context, id string) (*bam.File, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: invalid ID %q", ErrNotFound, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.files[id]; ok {
		return f, nil
	}
	f, err := bam.OpenLocation(ctx, filepath.Join(d.root, id+".bam"), "", d.mmap, d.opts...)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	d.files[id] = f
	return f, nil
}

// Close closes all opened files.
func (d *Dir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	for id, f := range d.files {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		delete(d.files, id)
	}
	return err
}

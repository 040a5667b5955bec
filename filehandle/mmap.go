// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filehandle

import (
	"context"

	"golang.org/x/exp/mmap"
)

// Mmap is a Handle backed by a read-only memory mapped file.
type Mmap struct {
	r *mmap.ReaderAt
}

// OpenMmap memory maps the named local file.
func OpenMmap(path string) (*Mmap, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	return &Mmap{r: r}, nil
}

// Read copies up to length bytes from position out of the mapping.
func (m *Mmap) Read(ctx context.Context, length int, position int64) ([]byte, error) {
	return readAt(ctx, m.r, length, position)
}

// ReadFile returns a copy of the complete mapping.
func (m *Mmap) ReadFile(ctx context.Context) ([]byte, error) {
	return readAt(ctx, m.r, m.r.Len(), 0)
}

// Len returns the length of the mapped file.
func (m *Mmap) Len() int { return m.r.Len() }

// Close unmaps the file.
func (m *Mmap) Close() error { return m.r.Close() }

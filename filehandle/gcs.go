// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filehandle

import (
	"context"
	"io"

	"cloud.google.com/go/storage"

	"github.com/biogo/bamread/internal/pool"
)

// GCS is a Handle backed by a Google Cloud Storage object.
type GCS struct {
	obj *storage.ObjectHandle

	// client is closed by Close when the
	// GCS was created by OpenLocation.
	client *storage.Client
}

// NewGCS returns a Handle reading from obj.
func NewGCS(obj *storage.ObjectHandle) *GCS {
	return &GCS{obj: obj}
}

// Read reads up to length bytes of the object from position.
func (g *GCS) Read(ctx context.Context, length int, position int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	r, err := g.obj.NewRangeReader(ctx, position, int64(length))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := pool.GetBuffer(length)
	n, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	if err != nil {
		pool.PutBuffer(buf)
		return nil, err
	}
	return buf[:n], nil
}

// ReadFile returns the complete object.
func (g *GCS) ReadFile(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := g.obj.NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Close closes the storage client if it is owned by g.
func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

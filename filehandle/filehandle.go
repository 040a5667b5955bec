// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package filehandle provides random access to BAM and index files held on
// local disk, in memory, behind an HTTP server or in Google Cloud Storage.
package filehandle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/biogo/bamread/internal/pool"
)

// Handle is a random access reader.
type Handle interface {
	// Read returns up to length bytes starting at position. Fewer
	// bytes are returned without error when the end of the file
	// is reached. The returned buffer may be passed to Release
	// when it is no longer needed.
	Read(ctx context.Context, length int, position int64) ([]byte, error)

	// ReadFile returns the complete contents of the file.
	ReadFile(ctx context.Context) ([]byte, error)
}

// Release returns a buffer obtained from a Handle to the buffer pool.
// The buffer must not be used after it has been released.
func Release(b []byte) { pool.PutBuffer(b) }

// Bytes is an in-memory Handle.
type Bytes []byte

// Read returns a copy of up to length bytes of b from position.
func (b Bytes) Read(ctx context.Context, length int, position int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if position < 0 || length < 0 {
		return nil, fmt.Errorf("filehandle: invalid read of %d bytes at %d", length, position)
	}
	if position >= int64(len(b)) {
		return nil, nil
	}
	src := b[position:]
	if len(src) > length {
		src = src[:length]
	}
	buf := pool.GetBuffer(len(src))
	copy(buf, src)
	return buf, nil
}

// ReadFile returns a copy of b.
func (b Bytes) ReadFile(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// File is a Handle backed by an *os.File.
type File struct {
	f *os.File
}

// Open opens the named local file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// Read reads up to length bytes from position.
func (f *File) Read(ctx context.Context, length int, position int64) ([]byte, error) {
	return readAt(ctx, f.f, length, position)
}

// ReadFile returns the complete contents of the file.
func (f *File) ReadFile(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fi, err := f.f.Stat()
	if err != nil {
		return nil, err
	}
	return readAt(ctx, f.f, int(fi.Size()), 0)
}

// Close closes the underlying file.
func (f *File) Close() error { return f.f.Close() }

func readAt(ctx context.Context, r io.ReaderAt, length int, position int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if position < 0 || length < 0 {
		return nil, fmt.Errorf("filehandle: invalid read of %d bytes at %d", length, position)
	}
	buf := pool.GetBuffer(length)
	n, err := r.ReadAt(buf, position)
	if err == io.EOF {
		err = nil
	}
	if err != nil {
		pool.PutBuffer(buf)
		return nil, err
	}
	return buf[:n], nil
}

// OpenLocation returns a Handle for a local path, an http or https URL,
// or a gs://bucket/object location. Local files are memory mapped when
// mmap is true. The returned Handle should be closed with Close.
func OpenLocation(ctx context.Context, loc string, mmap bool) (Handle, error) {
	switch {
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		return NewHTTP(loc, nil), nil
	case strings.HasPrefix(loc, "gs://"):
		u, err := url.Parse(loc)
		if err != nil {
			return nil, err
		}
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return nil, fmt.Errorf("filehandle: invalid GCS location %q", loc)
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("filehandle: could not create storage client: %w", err)
		}
		g := NewGCS(client.Bucket(u.Host).Object(object))
		g.client = client
		return g, nil
	case mmap:
		return OpenMmap(loc)
	default:
		return Open(loc)
	}
}

// Close closes h if it holds resources.
func Close(h Handle) error {
	if c, ok := h.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Exists returns whether h can be read from. A missing file is reported
// as false with a nil error.
func Exists(ctx context.Context, h Handle) (bool, error) {
	b, err := h.Read(ctx, 1, 0)
	Release(b)
	switch {
	case err == nil:
		return len(b) != 0, nil
	case errors.Is(err, os.ErrNotExist), errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

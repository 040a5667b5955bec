// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-kit/log/level"

	"github.com/biogo/bamread/filehandle"
)

// OpenLocation opens the BAM file at loc, which may be a local path, an
// http or https URL or a gs://bucket/object location. The index is read
// from idx. If idx is empty loc+".bai" and then loc+".csi" are tried and
// the File is opened without an index when neither exists. Indexes
// named with a .csi suffix are read as CSI, all others as BAI. Local BAM
// files are memory mapped when mmap is true.
//
// The returned File must be closed with Close.
func OpenLocation(ctx context.Context, loc, idx string, mmap bool, opts ...Option) (*File, error) {
	h, err := filehandle.OpenLocation(ctx, loc, mmap)
	if err != nil {
		return nil, err
	}
	ih, idx, err := openIndex(ctx, loc, idx)
	if err != nil {
		filehandle.Close(h)
		return nil, err
	}
	if ih != nil {
		if strings.HasSuffix(idx, ".csi") {
			opts = append([]Option{WithCSI(ih)}, opts...)
		} else {
			opts = append([]Option{WithBAI(ih)}, opts...)
		}
	}
	f, err := Open(h, opts...)
	if err != nil {
		filehandle.Close(h)
		if ih != nil {
			filehandle.Close(ih)
		}
		return nil, err
	}
	f.opened = append(f.opened, h)
	if ih != nil {
		f.opened = append(f.opened, ih)
	} else {
		level.Debug(f.logger).Log("msg", "no index found", "bam", loc)
	}
	return f, nil
}

// openIndex returns a handle for the named index or for the first
// existing default index of loc, and the location it was opened from.
func openIndex(ctx context.Context, loc, idx string) (filehandle.Handle, string, error) {
	if idx != "" {
		h, err := filehandle.OpenLocation(ctx, idx, false)
		if err != nil {
			return nil, "", fmt.Errorf("bam: could not open index: %w", err)
		}
		return h, idx, nil
	}
	for _, ext := range []string{".bai", ".csi"} {
		h, err := filehandle.OpenLocation(ctx, loc+ext, false)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("bam: could not open index: %w", err)
		}
		ok, err := filehandle.Exists(ctx, h)
		if err != nil || !ok {
			filehandle.Close(h)
			if err != nil {
				return nil, "", fmt.Errorf("bam: could not open index: %w", err)
			}
			continue
		}
		return h, loc + ext, nil
	}
	return nil, "", nil
}

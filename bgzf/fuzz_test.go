// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bgzf_test

import (
	"bytes"
	"testing"

	. "github.com/biogo/bamread/bgzf"
)

func FuzzDecompress(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("BAM\x01"))
	for _, p := range [][]byte{[]byte("ACGT"), payload(3000, 1), payload(BlockSize+10, 2)} {
		b, err := Encode(p, true)
		if err != nil {
			f.Fatalf("Encode: %v", err)
		}
		f.Add(b)
		f.Add(b[:len(b)/2])
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		// Arbitrary input must not panic.
		Decompress(data)
		DecompressChunkSlice(data, Chunk{End: Offset{File: int64(len(data))}}, nil)

		enc, err := Encode(data, true)
		if err != nil {
			// Incompressible input can overflow a block.
			return
		}
		if !HasEOF(enc) {
			t.Fatal("missing EOF marker")
		}
		got, err := Decompress(enc)
		if err != nil {
			t.Fatalf("Decompress: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("round trip mismatch: got %d bytes want %d", len(got), len(data))
		}
	})
}

// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"testing"

	"github.com/biogo/bamread/bgzf"
)

func blocks(bases ...int64) []*bgzf.Block {
	b := make([]*bgzf.Block, len(bases))
	for i, base := range bases {
		b[i] = &bgzf.Block{Base: base, Size: 10}
	}
	return b
}

func TestEviction(t *testing.T) {
	for _, test := range []struct {
		name    string
		cache   Cache
		evicted int64
		kept    int64
	}{
		// Getting block 0 makes it most recently used
		// so the LRU evicts block 10 when 20 is added.
		{name: "lru", cache: NewLRU(2), evicted: 10, kept: 0},
		{name: "fifo", cache: NewFIFO(2), evicted: 0, kept: 10},
	} {
		b := blocks(0, 10, 20)
		test.cache.Put(b[0])
		test.cache.Put(b[1])
		if test.cache.Get(0) != b[0] {
			t.Fatalf("%s: missing block 0", test.name)
		}
		if got := test.cache.Put(b[1]); got != nil {
			t.Errorf("%s: repeated put evicted block at %d", test.name, got.Base)
		}
		got := test.cache.Put(b[2])
		if got == nil || got.Base != test.evicted {
			t.Errorf("%s: unexpected eviction: got %v want base %d", test.name, got, test.evicted)
		}
		if test.cache.Get(test.evicted) != nil {
			t.Errorf("%s: evicted block still held", test.name)
		}
		if test.cache.Get(test.kept) == nil || test.cache.Get(20) == nil {
			t.Errorf("%s: expected blocks missing", test.name)
		}
		if test.cache.Len() != 2 || test.cache.Cap() != 2 {
			t.Errorf("%s: unexpected size: len=%d cap=%d", test.name, test.cache.Len(), test.cache.Cap())
		}

		test.cache.Resize(1)
		if test.cache.Len() != 1 {
			t.Errorf("%s: resize kept %d blocks", test.name, test.cache.Len())
		}
		test.cache.Drop(5)
		if test.cache.Len() != 0 {
			t.Errorf("%s: drop kept %d blocks", test.name, test.cache.Len())
		}
	}
}

func TestZeroSize(t *testing.T) {
	if NewLRU(0) != nil || NewFIFO(-1) != nil {
		t.Error("expected nil cache for non-positive size")
	}
}

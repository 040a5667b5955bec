// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pool provides size stratified pools of byte buffers for
// compressed data fetched from file handles.
package pool

import (
	"math/bits"
	"sync"
)

// maxClass is the largest pooled size class. Larger buffers are
// allocated directly and dropped on release.
const maxClass = 32

// classes holds a pool for each power of two buffer capacity up to
// 1<<maxClass. The pools hold *[]byte so that Put does not allocate.
var classes [maxClass + 1]sync.Pool

// GetBuffer returns a []byte with len size and a cap that is
// less than 2*size.
func GetBuffer(size int) []byte {
	if size <= 0 {
		return nil
	}
	c := class(size)
	if c > maxClass {
		return make([]byte, size)
	}
	if p, ok := classes[c].Get().(*[]byte); ok {
		return (*p)[:size]
	}
	return make([]byte, size, 1<<c)
}

// PutBuffer returns buf to the pool of its size class. Buffers that
// were not obtained from GetBuffer are dropped.
func PutBuffer(buf []byte) {
	n := cap(buf)
	if n == 0 || n&(n-1) != 0 {
		return
	}
	c := class(n)
	if c > maxClass {
		return
	}
	buf = buf[:0]
	classes[c].Put(&buf)
}

// class returns the ceiling of the base 2 log of size.
func class(size int) int {
	return bits.Len(uint(size - 1))
}

// Copyright ©2012 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bgzf

// Block is a decompressed BGZF block.
type Block struct {
	Base int64  // File offset of the gzip member.
	Size int    // Compressed size of the gzip member.
	Data []byte // Decompressed payload.
}

// NextBase returns the file offset of the block following b.
func (b *Block) NextBase() int64 { return b.Base + int64(b.Size) }

// Cache is a Block caching type. Basic cache implementations are provided
// in the cache package. Blocks held by a Cache must not be modified.
type Cache interface {
	// Get returns the Block in the Cache with the specified
	// base or a nil Block if it does not exist.
	Get(base int64) *Block

	// Put inserts a Block into the Cache, returning the Block
	// that was evicted or nil if no eviction was necessary.
	Put(*Block) (evicted *Block)
}

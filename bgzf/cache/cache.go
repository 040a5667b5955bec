// Copyright ©2015 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache provides basic block cache types for the bgzf package.
//
// The caches are safe for concurrent use. Blocks are shared between
// readers and must be treated as read-only.
package cache

import (
	"sync"

	"github.com/biogo/bamread/bgzf"
)

var (
	_ Cache = (*LRU)(nil)
	_ Cache = (*FIFO)(nil)
	_ Cache = (*StatsRecorder)(nil)
)

// Cache is an extension of bgzf.Cache that allows inspection
// and manipulation of the cache.
type Cache interface {
	bgzf.Cache

	// Len returns the number of elements held by
	// the cache.
	Len() int

	// Cap returns the maximum number of elements
	// that can be held by the cache.
	Cap() int

	// Resize changes the capacity of the cache to n,
	// dropping excess blocks if n is less than the
	// number of cached blocks.
	Resize(n int)

	// Drop evicts n elements from the cache according
	// to the cache eviction policy.
	Drop(n int)
}

type node struct {
	b *bgzf.Block

	next, prev *node
}

// list is a circular doubly linked list of blocks indexed by base.
type list struct {
	mu    sync.Mutex
	root  node
	table map[int64]*node
	cap   int
}

func newList(n int) list {
	return list{table: make(map[int64]*node, n), cap: n}
}

func (l *list) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

func (l *list) insertFront(n *node) {
	pos := &l.root
	n.prev = pos
	pos.next, n.next, pos.next.prev = n, pos.next, n
}

func (l *list) remove(n *node) {
	delete(l.table, n.b.Base)
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next = nil
	n.prev = nil
}

func (l *list) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.table)
}

func (l *list) Cap() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cap
}

func (l *list) Resize(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drop(len(l.table) - n)
	l.cap = n
}

func (l *list) Drop(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drop(n)
}

func (l *list) drop(n int) {
	for ; n > 0 && len(l.table) > 0; n-- {
		l.remove(l.root.prev)
	}
}

// put inserts b at the front of the list, evicting from the back when full.
func (l *list) put(b *bgzf.Block) (evicted *bgzf.Block) {
	if _, ok := l.table[b.Base]; ok {
		return nil
	}
	if len(l.table) >= l.cap {
		evicted = l.root.prev.b
		l.remove(l.root.prev)
	}
	n := &node{b: b}
	l.table[b.Base] = n
	l.insertFront(n)
	return evicted
}

// NewLRU returns an LRU cache with n slots. If n is less than 1
// a nil cache is returned.
func NewLRU(n int) Cache {
	if n < 1 {
		return nil
	}
	c := LRU{list: newList(n)}
	c.init()
	return &c
}

// LRU satisfies the Cache interface with least recently used eviction
// behavior.
type LRU struct {
	list
}

// Get returns the Block in the Cache with the specified base or a nil Block
// if it does not exist. The Block is marked as most recently used.
func (c *LRU) Get(base int64) *bgzf.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.table[base]
	if !ok {
		return nil
	}
	b := n.b
	c.remove(n)
	c.table[base] = n
	c.insertFront(n)
	return b
}

// Put inserts a Block into the Cache, returning the Block that was evicted or
// nil if no eviction was necessary.
func (c *LRU) Put(b *bgzf.Block) (evicted *bgzf.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.put(b)
}

// NewFIFO returns a FIFO cache with n slots. If n is less than 1
// a nil cache is returned.
func NewFIFO(n int) Cache {
	if n < 1 {
		return nil
	}
	c := FIFO{list: newList(n)}
	c.init()
	return &c
}

// FIFO satisfies the Cache interface with first in first out eviction
// behavior.
type FIFO struct {
	list
}

// Get returns the Block in the Cache with the specified base or a nil Block
// if it does not exist.
func (c *FIFO) Get(base int64) *bgzf.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.table[base]
	if !ok {
		return nil
	}
	return n.b
}

// Put inserts a Block into the Cache, returning the Block that was evicted or
// nil if no eviction was necessary.
func (c *FIFO) Put(b *bgzf.Block) (evicted *bgzf.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.put(b)
}

// StatsRecorder allows a Cache to capture cache statistics.
type StatsRecorder struct {
	Cache

	mu    sync.Mutex
	stats Stats
}

// Stats represents statistics of a bgzf.Cache.
type Stats struct {
	Gets      int // number of Get operations
	Misses    int // number of cache misses
	Puts      int // number of Put operations
	Evictions int // number of times a Put has resulted in a Block eviction
}

// Stats returns the current statistics for the cache.
func (s *StatsRecorder) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Reset zeros the statistics kept by the StatsRecorder.
func (s *StatsRecorder) Reset() {
	s.mu.Lock()
	s.stats = Stats{}
	s.mu.Unlock()
}

// Get returns the Block in the underlying Cache with the specified base or a nil
// Block if it does not exist. It updates the gets and misses statistics.
func (s *StatsRecorder) Get(base int64) *bgzf.Block {
	blk := s.Cache.Get(base)
	s.mu.Lock()
	s.stats.Gets++
	if blk == nil {
		s.stats.Misses++
	}
	s.mu.Unlock()
	return blk
}

// Put inserts a Block into the underlying Cache, returning the evicted Block.
// It updates the puts and evictions statistics.
func (s *StatsRecorder) Put(b *bgzf.Block) (evicted *bgzf.Block) {
	blk := s.Cache.Put(b)
	s.mu.Lock()
	s.stats.Puts++
	if blk != nil {
		s.stats.Evictions++
	}
	s.mu.Unlock()
	return blk
}

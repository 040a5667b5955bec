// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memo provides a lazily computed value that is shared by
// concurrent callers and recomputed after a failure.
package memo

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Value holds the result of a computation that is performed at most
// once successfully. Concurrent callers of Get before the first success
// share a single in-flight computation. A failed computation is not
// retained, so the following call starts a new one.
type Value struct {
	mu   sync.Mutex
	done bool
	v    interface{}

	g singleflight.Group
}

// Get returns the memoized value, calling fn to compute it if no
// computation has yet succeeded. The context passed to fn is that of the
// caller that started the computation. A caller whose ctx is done while
// waiting returns ctx.Err() without affecting the computation.
func (m *Value) Get(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	m.mu.Lock()
	if m.done {
		v := m.v
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := m.g.DoChan("", func() (interface{}, error) {
		m.mu.Lock()
		if m.done {
			v := m.v
			m.mu.Unlock()
			return v, nil
		}
		m.mu.Unlock()

		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.v = v
		m.done = true
		m.mu.Unlock()
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// Reset discards any memoized value.
func (m *Value) Reset() {
	m.mu.Lock()
	m.done = false
	m.v = nil
	m.mu.Unlock()
}

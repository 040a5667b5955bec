// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"context"

	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/bgzf/index"
)

// pairer collects the records of a query to find those whose mates
// were not returned by the query.
type pairer struct {
	recs  []*Record
	names map[string]int
	ids   map[uint64]bool
}

func newPairer() *pairer {
	return &pairer{names: make(map[string]int), ids: make(map[uint64]bool)}
}

func (p *pairer) add(recs []*Record) {
	for _, r := range recs {
		p.recs = append(p.recs, r)
		p.names[r.Name()]++
		p.ids[r.ID()] = true
	}
}

func (p *pairer) unmated(name string) bool { return p.names[name] == 1 }

// fetchMates returns the mates of unmated query records that lie within
// reach of the query options. Mates that were returned by the query are
// not included, nor are records of pairs that were not looked up even
// when they share a fetched chunk. The mate chunks are subject to the
// same size limits as the query chunks.
func (f *File) fetchMates(ctx context.Context, p *pairer, refID int, opts QueryOptions) ([]*Record, error) {
	maxInsert := opts.MaxInsertSize
	if maxInsert <= 0 {
		maxInsert = DefaultMaxInsertSize
	}

	var (
		chunks []index.Chunk
		seen   = make(map[string]bool)
		wanted = make(map[string]bool)
	)
	for _, r := range p.recs {
		if !p.unmated(r.Name()) {
			continue
		}
		next, pos := r.NextRefID(), r.NextStart()
		if !opts.PairAcrossChr && (next != refID || abs(r.Start()-pos) >= maxInsert) {
			continue
		}
		wanted[r.Name()] = true
		found, err := f.idx.BlocksForRange(ctx, next, pos, pos+1)
		if err != nil {
			return nil, err
		}
		for _, c := range found {
			key := c.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			chunks = append(chunks, c)
		}
	}

	policy := index.DefaultPolicy
	if f.policy != nil {
		policy = *f.policy
	}
	chunks = index.Optimize(chunks, bgzf.Offset{}, policy)
	if err := f.checkSize(chunks); err != nil {
		return nil, err
	}

	var mates []*Record
	err := f.fetchChunks(ctx, chunks, func(c *chunkRecords) (bool, error) {
		for _, r := range c.records(f.dec) {
			if wanted[r.Name()] && !p.ids[r.ID()] {
				p.ids[r.ID()] = true
				mates = append(mates, r)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return mates, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

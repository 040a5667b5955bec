// Copyright ©2015 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package index

import (
	"sort"

	"github.com/biogo/bamread/bgzf"
)

const (
	// MergeGap is the default largest distance between the end block
	// of one chunk and the begin block of the next for them to be merged.
	// It is about one BGZF block.
	MergeGap = 65000

	// MergeSpan is the default largest distance between the begin
	// block of a merged chunk and the end block of the chunk being
	// merged into it.
	MergeSpan = 5000000
)

// MergePolicy holds the thresholds used to decide whether two chunks
// are fetched together.
type MergePolicy struct {
	Gap  int64
	Span int64
}

// DefaultPolicy is the MergePolicy using MergeGap and MergeSpan.
var DefaultPolicy = MergePolicy{Gap: MergeGap, Span: MergeSpan}

func (p MergePolicy) canMerge(last, next Chunk) bool {
	if next.Begin.Compare(last.End) <= 0 {
		return true
	}
	return next.Begin.File-last.End.File < p.Gap &&
		next.End.File-last.Begin.File < p.Span
}

// Optimize sorts chunks and merges those that are close enough to be
// fetched together under the policy. Chunks ending at or before lowest
// are discarded; a zero lowest discards nothing that holds data. The
// returned chunks are ascending and disjoint. The chunks slice is sorted
// in place.
func Optimize(chunks []Chunk, lowest bgzf.Offset, p MergePolicy) []Chunk {
	if len(chunks) == 0 {
		return nil
	}
	sort.Slice(chunks, func(i, j int) bool {
		if o := chunks[i].Begin.Compare(chunks[j].Begin); o != 0 {
			return o < 0
		}
		return chunks[i].End.Compare(chunks[j].End) < 0
	})

	var merged []Chunk
	for _, c := range chunks {
		if c.End.Compare(lowest) <= 0 {
			continue
		}
		if len(merged) == 0 {
			merged = append(merged, c)
			continue
		}
		last := &merged[len(merged)-1]
		if p.canMerge(*last, c) {
			if c.End.Compare(last.End) > 0 {
				last.End = c.End
				last.size = 0
			}
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

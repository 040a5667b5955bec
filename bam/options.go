// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"github.com/go-kit/log"

	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/bgzf/index"
	"github.com/biogo/bamread/csi"
	"github.com/biogo/bamread/filehandle"
)

const (
	// DefaultCacheSize is the default number of decoded
	// chunks held by a File.
	DefaultCacheSize = 50

	// DefaultFetchSizeLimit is the default largest number
	// of compressed bytes fetched for a single query.
	DefaultFetchSizeLimit = 500_000_000

	// DefaultChunkSizeLimit is the default largest number
	// of compressed bytes fetched for a single chunk.
	DefaultChunkSizeLimit = 300_000_000

	// DefaultConcurrency is the default number of chunks
	// fetched concurrently by a query.
	DefaultConcurrency = 8

	// DefaultMaxInsertSize is the default largest distance
	// between mates for a mate to be looked up when viewing
	// records as pairs.
	DefaultMaxInsertSize = 200_000
)

// Option is a File configuration option.
type Option func(*File)

// WithBAI sets the BAI index used by the File.
func WithBAI(h filehandle.Handle) Option {
	return func(f *File) { f.idx = NewIndex(h) }
}

// WithCSI sets the CSI index used by the File.
func WithCSI(h filehandle.Handle) Option {
	return func(f *File) { f.idx = csi.NewIndex(h) }
}

// WithIndex sets the index used by the File.
func WithIndex(idx index.Index) Option {
	return func(f *File) { f.idx = idx }
}

// WithLogger sets the logger that receives warnings about the File and
// its records.
func WithLogger(logger log.Logger) Option {
	return func(f *File) { f.logger = logger }
}

// WithMetrics sets the metrics updated by queries.
func WithMetrics(m *Metrics) Option {
	return func(f *File) { f.metrics = m }
}

// WithCacheSize sets the number of decoded chunks held by the File.
func WithCacheSize(n int) Option {
	return func(f *File) { f.cacheSize = n }
}

// WithBlockCache sets a cache of decompressed BGZF blocks.
func WithBlockCache(c bgzf.Cache) Option {
	return func(f *File) { f.blockCache = c }
}

// WithFetchSizeLimit sets the largest number of compressed bytes that
// a single query may fetch.
func WithFetchSizeLimit(n int64) Option {
	return func(f *File) { f.fetchSizeLimit = n }
}

// WithChunkSizeLimit sets the largest number of compressed bytes that
// may be fetched for a single chunk.
func WithChunkSizeLimit(n int64) Option {
	return func(f *File) { f.chunkSizeLimit = n }
}

// WithMergePolicy sets the chunk merge policy of the index.
func WithMergePolicy(p index.MergePolicy) Option {
	return func(f *File) { f.policy = &p }
}

// WithRenameRefSeq sets a function used to rename the references named in
// the BAM header.
func WithRenameRefSeq(fn func(string) string) Option {
	return func(f *File) { f.rename = fn }
}

// WithStrictCG sets whether records with a malformed CG tag placeholder
// CIGAR are reported as errors.
func WithStrictCG(strict bool) Option {
	return func(f *File) { f.strictCG = strict }
}

// WithConcurrency sets the number of chunks fetched concurrently.
func WithConcurrency(n int) Option {
	return func(f *File) { f.concurrency = n }
}

// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/bgzf/index"
	"github.com/biogo/bamread/csi"
	"github.com/biogo/bamread/filehandle"
	"github.com/biogo/bamread/internal/memo"
	"github.com/biogo/bamread/sam"
)

const (
	// headerGuess is the initial number of compressed bytes
	// expected to hold the BAM header.
	headerGuess = 65535

	blockLen = 1 << 16
)

// File is an indexed BAM file.
type File struct {
	bam filehandle.Handle
	idx index.Index

	logger         log.Logger
	metrics        *Metrics
	cacheSize      int
	blockCache     bgzf.Cache
	fetchSizeLimit int64
	chunkSizeLimit int64
	policy         *index.MergePolicy
	rename         func(string) string
	strictCG       bool
	concurrency    int

	dec *decoder

	header memo.Value

	chunks *lru.Cache[string, *chunkRecords]
	flight singleflight.Group

	// opened holds the handles opened by OpenLocation.
	opened []filehandle.Handle
}

// Open returns a File reading BAM data from h. Without an index option
// only the header of the File may be read.
func Open(h filehandle.Handle, opts ...Option) (*File, error) {
	f := &File{
		bam:            h,
		logger:         log.NewNopLogger(),
		cacheSize:      DefaultCacheSize,
		fetchSizeLimit: DefaultFetchSizeLimit,
		chunkSizeLimit: DefaultChunkSizeLimit,
		concurrency:    DefaultConcurrency,
	}
	for _, o := range opts {
		o(f)
	}
	if f.logger == nil {
		f.logger = log.NewNopLogger()
	}
	if f.concurrency < 1 {
		return nil, fmt.Errorf("bam: invalid concurrency: %d", f.concurrency)
	}
	var err error
	f.chunks, err = lru.New[string, *chunkRecords](f.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("bam: invalid cache size %d: %w", f.cacheSize, err)
	}
	if f.policy != nil {
		switch idx := f.idx.(type) {
		case *Index:
			idx.Policy = *f.policy
		case *csi.Index:
			idx.Policy = *f.policy
		}
	}
	f.dec = &decoder{logger: f.logger, strictCG: f.strictCG}
	return f, nil
}

// Index returns the index of the File, or nil.
func (f *File) Index() index.Index { return f.idx }

// Handle returns the handle holding the BAM data.
func (f *File) Handle() filehandle.Handle { return f.bam }

// Close closes the handles opened by OpenLocation. It does nothing for
// a File created by Open.
func (f *File) Close() error {
	var err error
	for _, h := range f.opened {
		if cerr := filehandle.Close(h); err == nil {
			err = cerr
		}
	}
	f.opened = nil
	return err
}

type headerInfo struct {
	h    *sam.Header
	size int
}

// Header returns the SAM header of the File. The reference dictionary of
// the header is that held in the binary BAM header.
func (f *File) Header(ctx context.Context) (*sam.Header, error) {
	h, err := f.readHeaderOnce(ctx)
	if err != nil {
		return nil, err
	}
	return h.h, nil
}

// HeaderSize returns the decompressed size of the BAM header including
// the binary reference dictionary.
func (f *File) HeaderSize(ctx context.Context) (int, error) {
	h, err := f.readHeaderOnce(ctx)
	if err != nil {
		return 0, err
	}
	return h.size, nil
}

// Refs returns the references of the File.
func (f *File) Refs(ctx context.Context) ([]sam.Reference, error) {
	h, err := f.Header(ctx)
	if err != nil {
		return nil, err
	}
	return h.Refs(), nil
}

func (f *File) readHeaderOnce(ctx context.Context) (*headerInfo, error) {
	v, err := f.header.Get(ctx, func(ctx context.Context) (interface{}, error) {
		return f.readHeader(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*headerInfo), nil
}

func (f *File) readHeader(ctx context.Context) (*headerInfo, error) {
	size := -1
	if f.idx != nil {
		d, err := f.idx.Parse(ctx)
		if err != nil {
			return nil, err
		}
		if d.FirstDataLine != nil {
			size = int(d.FirstDataLine.File) + headerGuess + blockLen
		}
	}
	var (
		raw []byte
		err error
	)
	if size < 0 {
		raw, err = f.bam.ReadFile(ctx)
	} else {
		raw, err = f.bam.Read(ctx, size, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("bam: failed to read header: %w", err)
	}
	exhausted := size < 0 || len(raw) < size
	b, err := bgzf.Decompress(raw)
	filehandle.Release(raw)
	if err != nil {
		return nil, fmt.Errorf("bam: failed to decompress header: %w", err)
	}
	if len(b) < 8 || int32(binary.LittleEndian.Uint32(b)) != bamMagic {
		return nil, ErrNotBAM
	}
	lText := int(int32(binary.LittleEndian.Uint32(b[4:])))
	if lText < 0 {
		return nil, fmt.Errorf("bam: invalid header text length: %d", lText)
	}
	start := 8 + lText

	refs, end, ok, err := f.parseRefs(b, start)
	if err != nil {
		return nil, err
	}
	if !ok {
		if exhausted {
			return nil, ErrTruncated
		}
		b, refs, end, err = f.readRefs(ctx, start, size)
		if err != nil {
			return nil, err
		}
	}
	text := bytes.TrimRight(b[8:start], "\x00")
	h, err := sam.ParseHeader(text)
	if err != nil {
		level.Warn(f.logger).Log("msg", "could not parse header text", "err", err)
		h = &sam.Header{Text: string(text)}
	}
	h.SetRefs(refs)
	return &headerInfo{h: h, size: end}, nil
}

// readRefs reads the binary reference dictionary starting at the
// decompressed offset start after a read of size bytes fell short of
// it. The read is doubled until the prefix holds the complete
// dictionary. The decompressed prefix is returned with the references
// and the offset of the dictionary end.
func (f *File) readRefs(ctx context.Context, start, size int) ([]byte, []sam.Reference, int, error) {
	for {
		size *= 2
		level.Warn(f.logger).Log("msg", "BAM header is very big, re-fetching", "bytes", size)
		raw, err := f.bam.Read(ctx, size, 0)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("bam: failed to read header: %w", err)
		}
		exhausted := len(raw) < size
		b, err := bgzf.Decompress(raw)
		filehandle.Release(raw)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("bam: failed to decompress header: %w", err)
		}
		refs, end, ok, err := f.parseRefs(b, start)
		if err != nil {
			return nil, nil, 0, err
		}
		if ok {
			return b, refs, end, nil
		}
		if exhausted {
			return nil, nil, 0, ErrTruncated
		}
	}
}

// parseRefs parses the reference dictionary at b[start:]. The returned
// ok is false if b ends before the dictionary does.
func (f *File) parseRefs(b []byte, start int) (refs []sam.Reference, end int, ok bool, err error) {
	le := binary.LittleEndian
	if start+4 > len(b) {
		return nil, 0, false, nil
	}
	n := int(int32(le.Uint32(b[start:])))
	if n < 0 {
		return nil, 0, false, fmt.Errorf("bam: invalid reference count: %d", n)
	}
	p := start + 4
	for i := 0; i < n; i++ {
		if p+4 > len(b) {
			return nil, 0, false, nil
		}
		lName := int(int32(le.Uint32(b[p:])))
		if lName < 1 {
			return nil, 0, false, fmt.Errorf("bam: invalid reference name length: %d", lName)
		}
		if p+8+lName > len(b) {
			return nil, 0, false, nil
		}
		name := string(b[p+4 : p+4+lName-1])
		if f.rename != nil {
			name = f.rename(name)
		}
		refs = append(refs, sam.Reference{
			Name: name,
			Len:  int(int32(le.Uint32(b[p+4+lName:]))),
		})
		p += 8 + lName
	}
	return refs, p, true, nil
}

// refID returns the ID of the named reference.
func (f *File) refID(ctx context.Context, chr string) (int, bool, error) {
	h, err := f.Header(ctx)
	if err != nil {
		return 0, false, err
	}
	id, ok := h.RefID(chr)
	return id, ok, nil
}

// HasRefSeq returns whether the index holds data for the named reference.
func (f *File) HasRefSeq(ctx context.Context, chr string) (bool, error) {
	if f.idx == nil {
		return false, ErrNoIndex
	}
	id, ok, err := f.refID(ctx, chr)
	if err != nil || !ok {
		return false, err
	}
	return f.idx.HasRefSeq(ctx, id)
}

// LineCount returns the number of mapped records on the named reference
// according to the index.
func (f *File) LineCount(ctx context.Context, chr string) (int64, error) {
	if f.idx == nil {
		return 0, ErrNoIndex
	}
	id, ok, err := f.refID(ctx, chr)
	if err != nil || !ok {
		return 0, err
	}
	return f.idx.LineCount(ctx, id)
}

// IndexCov returns the index derived coverage estimate for the named
// reference over the zero-based interval [beg, end). An end less than or
// equal to zero covers the whole reference.
func (f *File) IndexCov(ctx context.Context, chr string, beg, end int) ([]index.Depth, error) {
	if f.idx == nil {
		return nil, ErrNoIndex
	}
	id, ok, err := f.refID(ctx, chr)
	if err != nil || !ok {
		return nil, err
	}
	return f.idx.Coverage(ctx, id, beg, end)
}

// QueryOptions control range queries.
type QueryOptions struct {
	// ViewAsPairs causes mates of records in the
	// query that are not themselves in the query
	// to be fetched and returned after the records
	// in the query.
	ViewAsPairs bool

	// PairAcrossChr allows mates on other references
	// to be fetched.
	PairAcrossChr bool

	// MaxInsertSize is the largest distance to a
	// mate on the same reference that will be
	// fetched. If zero, DefaultMaxInsertSize is used.
	MaxInsertSize int
}

// RecordsForRange returns the records on the named reference that overlap
// the one-based closed interval [beg, end]. An unknown reference returns
// no records.
func (f *File) RecordsForRange(ctx context.Context, chr string, beg, end int, opts QueryOptions) ([]*Record, error) {
	var recs []*Record
	err := f.StreamRecordsForRange(ctx, chr, beg, end, opts, func(r []*Record) error {
		recs = append(recs, r...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// StreamRecordsForRange calls fn with the records of each fetched chunk
// that overlap the one-based closed interval [beg, end] on the named
// reference, in file order. When pairs are requested, mates are passed
// to fn in a final call. An error returned by fn ends the query and is
// returned.
func (f *File) StreamRecordsForRange(ctx context.Context, chr string, beg, end int, opts QueryOptions, fn func([]*Record) error) error {
	defer f.metrics.observeQuery(time.Now())
	if f.idx == nil {
		return ErrNoIndex
	}
	id, ok, err := f.refID(ctx, chr)
	if err != nil || !ok {
		return err
	}
	chunks, err := f.idx.BlocksForRange(ctx, id, beg-1, end)
	if err != nil {
		return err
	}
	err = f.checkSize(chunks)
	if err != nil {
		return err
	}

	var p *pairer
	if opts.ViewAsPairs {
		p = newPairer()
	}
	err = f.fetchChunks(ctx, chunks, func(c *chunkRecords) (bool, error) {
		recs, done := Filter(c.records(f.dec), id, beg, end)
		if p != nil {
			p.add(recs)
		}
		if len(recs) != 0 {
			if err := fn(recs); err != nil {
				return false, err
			}
		}
		return done, nil
	})
	if err != nil || p == nil {
		return err
	}
	mates, err := f.fetchMates(ctx, p, id, opts)
	if err != nil || len(mates) == 0 {
		return err
	}
	return fn(mates)
}

func (f *File) checkSize(chunks []index.Chunk) error {
	var total int64
	for _, c := range chunks {
		n := c.FetchedSize()
		if n > f.chunkSizeLimit {
			return fmt.Errorf("%w: chunk %v needs %d bytes, limit is %d", ErrSizeLimit, c, n, f.chunkSizeLimit)
		}
		total += n
	}
	if total > f.fetchSizeLimit {
		return fmt.Errorf("%w: query needs %d bytes, limit is %d", ErrSizeLimit, total, f.fetchSizeLimit)
	}
	return nil
}

// fetchChunks fetches and decodes the chunks concurrently and calls fn
// with each in order. If fn returns true, no further chunks are passed
// to fn and outstanding fetches are cancelled.
func (f *File) fetchChunks(ctx context.Context, chunks []index.Chunk, fn func(*chunkRecords) (bool, error)) error {
	if len(chunks) == 0 {
		return nil
	}
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	results := make([]chan *chunkRecords, len(chunks))
	for i := range results {
		results[i] = make(chan *chunkRecords, 1)
	}
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, c := range chunks {
			i, c := i, c
			if gctx.Err() != nil {
				return
			}
			g.Go(func() error {
				d, err := f.loadChunk(gctx, c)
				if err != nil {
					return err
				}
				results[i] <- d
				return nil
			})
		}
	}()

	var (
		err     error
		stopped bool
	)
loop:
	for i := range chunks {
		select {
		case d := <-results[i]:
			stopped, err = fn(d)
			if err != nil || stopped {
				break loop
			}
		case <-gctx.Done():
			break loop
		}
	}
	cancel()
	<-launched
	gerr := g.Wait()

	switch {
	case err != nil:
		return err
	case parent.Err() != nil:
		return fmt.Errorf("bam: query cancelled: %w", parent.Err())
	case stopped:
		return nil
	}
	return gerr
}

// loadChunk returns the decoded records of c, fetching the chunk if it
// is not held in the cache. Concurrent loads of the same chunk share
// one fetch.
func (f *File) loadChunk(ctx context.Context, c index.Chunk) (*chunkRecords, error) {
	key := c.String()
	for {
		if d, ok := f.chunks.Get(key); ok {
			f.metrics.cacheHit()
			return d, nil
		}
		ch := f.flight.DoChan(key, func() (interface{}, error) {
			if d, ok := f.chunks.Get(key); ok {
				return d, nil
			}
			d, err := f.readChunk(ctx, c)
			if err != nil {
				return nil, err
			}
			f.chunks.Add(key, d)
			return d, nil
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			if r.Err == nil {
				return r.Val.(*chunkRecords), nil
			}
			// A load started by a cancelled caller
			// is retried if we are still live.
			if isCancel(r.Err) && ctx.Err() == nil {
				continue
			}
			return nil, r.Err
		}
	}
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (f *File) readChunk(ctx context.Context, c index.Chunk) (*chunkRecords, error) {
	buf, err := f.bam.Read(ctx, int(c.FetchedSize()), c.Begin.File)
	if err != nil {
		return nil, fmt.Errorf("bam: failed to read chunk %v: %w", c, err)
	}
	defer filehandle.Release(buf)
	s, err := bgzf.DecompressChunkSlice(buf, c.Range(), f.blockCache)
	if err != nil {
		return nil, fmt.Errorf("bam: failed to decompress chunk %v: %w", c, err)
	}
	d, err := scanRecords(&s)
	if err != nil {
		return nil, err
	}
	f.metrics.fetched(len(buf), len(d.spans))
	return d, nil
}

// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gopkg.in/check.v1"

	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/bgzf/cache"
	"github.com/biogo/bamread/bgzf/index"
	"github.com/biogo/bamread/filehandle"
	"github.com/biogo/bamread/internal/fixture"
	"github.com/biogo/bamread/sam"
)

func withBAI(b *fixture.BAM) Option { return WithBAI(filehandle.Bytes(b.BAI())) }

func withCSI(c *check.C, b *fixture.BAM) Option {
	raw, err := b.CSI(fixture.CSIOptions{})
	c.Assert(err, check.Equals, nil)
	return WithCSI(filehandle.Bytes(raw))
}

func open(c *check.C, h filehandle.Handle, opts ...Option) *File {
	f, err := Open(h, opts...)
	c.Assert(err, check.Equals, nil)
	return f
}

var volvoxQueries = []struct {
	chr      string
	beg, end int
}{
	{chr: "ctgA", beg: 1, end: 1},
	{chr: "ctgA", beg: 3, end: 3},
	{chr: "ctgA", beg: 103, end: 110},
	{chr: "ctgA", beg: 999, end: 1001},
	{chr: "ctgA", beg: 1000, end: 1000},
	{chr: "ctgA", beg: 5000, end: 20000},
	{chr: "ctgA", beg: 16384, end: 16385},
	{chr: "ctgA", beg: 45950, end: 50001},
	{chr: "ctgA", beg: 45951, end: 50001},
	{chr: "ctgA", beg: 1, end: 50001},
	{chr: "ctgB", beg: 1, end: 6079},
	{chr: "ctgB", beg: 350, end: 420},
}

func checkVolvox(c *check.C, f *File, b *fixture.BAM) {
	ctx := context.Background()

	recs, err := f.RecordsForRange(ctx, "ctgA", 0, 1000, QueryOptions{})
	c.Assert(err, check.Equals, nil)
	c.Assert(recs, check.HasLen, 131)
	c.Check(recs[0].Name(), check.Equals, "ctgA_3_555_0:0:0_2:0:0_102d")
	c.Check(recs[0].Start(), check.Equals, 2)
	c.Check(recs[0].End(), check.Equals, 102)
	c.Check(recs[0].CigarString(), check.Equals, "100M")
	for i := 1; i < len(recs); i++ {
		c.Check(recs[i-1].ID() < recs[i].ID(), check.Equals, true)
	}

	for _, q := range volvoxQueries {
		ref := 0
		if q.chr == "ctgB" {
			ref = 1
		}
		recs, err := f.RecordsForRange(ctx, q.chr, q.beg, q.end, QueryOptions{})
		c.Assert(err, check.Equals, nil)
		c.Check(names(recs), check.DeepEquals, expected(b, ref, q.beg, q.end),
			check.Commentf("%s:%d-%d", q.chr, q.beg, q.end))
	}

	recs, err = f.RecordsForRange(ctx, "ctgZ", 1, 1000, QueryOptions{})
	c.Check(err, check.Equals, nil)
	c.Check(recs, check.IsNil)
}

func (s *S) TestRecordsForRangeBAI(c *check.C) {
	b := volvox(c)
	checkVolvox(c, open(c, filehandle.Bytes(b.Data), withBAI(b)), b)
}

func (s *S) TestRecordsForRangeCSI(c *check.C) {
	b := volvox(c)
	checkVolvox(c, open(c, filehandle.Bytes(b.Data), withCSI(c, b)), b)
}

// splitIndex splits the chunks returned by an index at record offsets.
type splitIndex struct {
	index.Index
	at []bgzf.Offset
}

func (s splitIndex) BlocksForRange(ctx context.Context, refID, beg, end int) ([]index.Chunk, error) {
	chunks, err := s.Index.BlocksForRange(ctx, refID, beg, end)
	if err != nil {
		return nil, err
	}
	var split []index.Chunk
	for _, c := range chunks {
		for _, o := range s.at {
			if c.Begin.Compare(o) < 0 && o.Compare(c.End) < 0 {
				split = append(split, index.NewChunk(c.Begin, o, c.Bin))
				c.Begin = o
			}
		}
		split = append(split, c)
	}
	return split, nil
}

// splitVolvox returns a volvox BAM and an index option that splits
// chunks every n records.
func splitVolvox(c *check.C, n int) (*fixture.BAM, Option) {
	b, err := fixture.Build(volvoxHeader, volvoxRefs(), volvoxRecords(), fixture.Options{BlockLen: 512})
	c.Assert(err, check.Equals, nil)
	var at []bgzf.Offset
	for i := n; i < len(b.Placed); i += n {
		at = append(at, b.Placed[i].Begin)
	}
	return b, WithIndex(splitIndex{Index: NewIndex(filehandle.Bytes(b.BAI())), at: at})
}

func (s *S) TestRecordsForRangeSmallChunks(c *check.C) {
	b, idx := splitVolvox(c, 17)
	for _, conc := range []int{1, 3, 16} {
		f := open(c, filehandle.Bytes(b.Data),
			idx,
			WithConcurrency(conc),
			WithCacheSize(4),
			WithBlockCache(cache.NewLRU(8)),
		)
		checkVolvox(c, f, b)
	}
}

func (s *S) TestStreamRecordsForRange(c *check.C) {
	b, idx := splitVolvox(c, 20)
	f := open(c, filehandle.Bytes(b.Data), idx)
	ctx := context.Background()

	var (
		err   error
		calls int
		got   []string
	)
	err = f.StreamRecordsForRange(ctx, "ctgA", 1, 50001, QueryOptions{}, func(recs []*Record) error {
		calls++
		got = append(got, names(recs)...)
		return nil
	})
	c.Assert(err, check.Equals, nil)
	c.Check(calls > 1, check.Equals, true)
	c.Check(got, check.DeepEquals, expected(b, 0, 1, 50001))

	errStop := errors.New("stop")
	calls = 0
	err = f.StreamRecordsForRange(ctx, "ctgA", 1, 50001, QueryOptions{}, func(recs []*Record) error {
		calls++
		return errStop
	})
	c.Check(err, check.Equals, errStop)
	c.Check(calls, check.Equals, 1)
}

func (s *S) TestHeader(c *check.C) {
	b := volvox(c)
	for _, opts := range [][]Option{nil, {withBAI(b)}, {withCSI(c, b)}} {
		f := open(c, filehandle.Bytes(b.Data), opts...)
		ctx := context.Background()
		h, err := f.Header(ctx)
		c.Assert(err, check.Equals, nil)
		c.Check(h.Text, check.Equals, volvoxHeader)
		c.Check(h.Version(), check.Equals, "1.0")
		c.Check(h.SortOrder(), check.Equals, "coordinate")
		c.Check(h.Lines, check.HasLen, 4)
		refs, err := f.Refs(ctx)
		c.Assert(err, check.Equals, nil)
		c.Check(refs, check.DeepEquals, []sam.Reference{
			{ID: 0, Name: "ctgA", Len: 50001},
			{ID: 1, Name: "ctgB", Len: 6079},
		})
		n, err := f.HeaderSize(ctx)
		c.Assert(err, check.Equals, nil)
		c.Check(n, check.Equals, len(fixture.HeaderBytes(volvoxHeader, volvoxRefs())))
	}
}

func (s *S) TestHeaderUnparsableText(c *check.C) {
	const text = "@HD\tVN:1.0\nnot a header line\n"
	b, err := fixture.Build(text, volvoxRefs(), nil, fixture.Options{})
	c.Assert(err, check.Equals, nil)
	var buf bytes.Buffer
	f := open(c, filehandle.Bytes(b.Data), WithLogger(log.NewLogfmtLogger(&buf)))
	h, err := f.Header(context.Background())
	c.Assert(err, check.Equals, nil)
	c.Check(h.Text, check.Equals, text)
	c.Check(h.Refs(), check.HasLen, 2)
	id, ok := h.RefID("ctgB")
	c.Check(ok, check.Equals, true)
	c.Check(id, check.Equals, 1)
	c.Check(buf.String(), check.Matches, `(?s)level=warn msg="could not parse header text".*`)
}

func (s *S) TestRenameRefSeq(c *check.C) {
	b := volvox(c)
	f := open(c, filehandle.Bytes(b.Data), withBAI(b), WithRenameRefSeq(func(name string) string {
		return strings.TrimPrefix(name, "ctg")
	}))
	ctx := context.Background()
	refs, err := f.Refs(ctx)
	c.Assert(err, check.Equals, nil)
	c.Check(refs[0].Name, check.Equals, "A")
	c.Check(refs[1].Name, check.Equals, "B")
	recs, err := f.RecordsForRange(ctx, "A", 0, 1000, QueryOptions{})
	c.Assert(err, check.Equals, nil)
	c.Check(recs, check.HasLen, 131)
	n, err := f.LineCount(ctx, "ctgA")
	c.Check(err, check.Equals, nil)
	c.Check(n, check.Equals, int64(0))
}

func (s *S) TestIndexQueries(c *check.C) {
	b := volvox(c)
	ctx := context.Background()

	for _, opt := range []Option{withBAI(b), withCSI(c, b)} {
		f := open(c, filehandle.Bytes(b.Data), opt)
		for _, test := range []struct {
			chr   string
			lines int64
			has   bool
		}{
			{chr: "ctgA", lines: 431, has: true},
			{chr: "ctgB", lines: 20, has: true},
			{chr: "ctgC", lines: 0, has: false},
		} {
			n, err := f.LineCount(ctx, test.chr)
			c.Check(err, check.Equals, nil)
			c.Check(n, check.Equals, test.lines, check.Commentf("%s", test.chr))
			has, err := f.HasRefSeq(ctx, test.chr)
			c.Check(err, check.Equals, nil)
			c.Check(has, check.Equals, test.has, check.Commentf("%s", test.chr))
		}
	}

	f := open(c, filehandle.Bytes(b.Data), withBAI(b))
	cov, err := f.IndexCov(ctx, "ctgA", 0, 0)
	c.Assert(err, check.Equals, nil)
	c.Check(cov, check.HasLen, 2)
	cov, err = f.IndexCov(ctx, "ctgC", 0, 0)
	c.Check(err, check.Equals, nil)
	c.Check(cov, check.IsNil)

	f = open(c, filehandle.Bytes(b.Data), withCSI(c, b))
	cov, err = f.IndexCov(ctx, "ctgA", 0, 0)
	c.Check(err, check.Equals, nil)
	c.Check(cov, check.IsNil)
}

func (s *S) TestNoIndex(c *check.C) {
	b := volvox(c)
	f := open(c, filehandle.Bytes(b.Data))
	ctx := context.Background()
	c.Check(f.Index(), check.IsNil)
	_, err := f.RecordsForRange(ctx, "ctgA", 1, 100, QueryOptions{})
	c.Check(err, check.Equals, ErrNoIndex)
	_, err = f.LineCount(ctx, "ctgA")
	c.Check(err, check.Equals, ErrNoIndex)
	_, err = f.HasRefSeq(ctx, "ctgA")
	c.Check(err, check.Equals, ErrNoIndex)
	_, err = f.IndexCov(ctx, "ctgA", 0, 0)
	c.Check(err, check.Equals, ErrNoIndex)
}

func (s *S) TestNotBAM(c *check.C) {
	raw, err := bgzf.Encode([]byte("this is not a BAM file"), true)
	c.Assert(err, check.Equals, nil)
	_, err = open(c, filehandle.Bytes(raw)).Header(context.Background())
	c.Check(err, check.Equals, ErrNotBAM)

	_, err = open(c, filehandle.Bytes("plain text")).Header(context.Background())
	c.Check(err, check.ErrorMatches, "bam: failed to decompress header: .*")
}

func (s *S) TestTruncatedHeader(c *check.C) {
	hb := fixture.HeaderBytes(volvoxHeader, volvoxRefs())
	raw, err := bgzf.Encode(hb[:len(hb)-6], true)
	c.Assert(err, check.Equals, nil)
	_, err = open(c, filehandle.Bytes(raw)).Header(context.Background())
	c.Check(err, check.Equals, ErrTruncated)
}

// hintIndex is an index that only provides a header location hint.
type hintIndex struct {
	index.Index
	d *index.Data
}

func (h hintIndex) Parse(context.Context) (*index.Data, error) { return h.d, nil }

// recordingHandle records the reads made through it.
type recordingHandle struct {
	filehandle.Handle

	mu    sync.Mutex
	reads [][2]int64
}

func (h *recordingHandle) Read(ctx context.Context, length int, position int64) ([]byte, error) {
	h.mu.Lock()
	h.reads = append(h.reads, [2]int64{int64(length), position})
	h.mu.Unlock()
	return h.Handle.Read(ctx, length, position)
}

func (s *S) TestLargeHeader(c *check.C) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	rnd := rand.New(rand.NewSource(1))
	refs := make([]sam.Reference, 25000)
	for i := range refs {
		name := make([]byte, 40)
		for j := range name {
			name[j] = alphabet[rnd.Intn(len(alphabet))]
		}
		refs[i] = sam.Reference{Name: string(name), Len: 1000 + rnd.Intn(1e6)}
	}
	b, err := fixture.Build("@HD\tVN:1.6\n", refs, []fixture.Record{read("r", 0, 10, 50)}, fixture.Options{})
	c.Assert(err, check.Equals, nil)

	h := &recordingHandle{Handle: filehandle.Bytes(b.Data)}
	var buf bytes.Buffer
	f := open(c, h,
		WithIndex(hintIndex{d: &index.Data{FirstDataLine: &bgzf.Offset{File: 10}}}),
		WithLogger(log.NewLogfmtLogger(&buf)),
	)
	got, err := f.Refs(context.Background())
	c.Assert(err, check.Equals, nil)
	c.Assert(got, check.HasLen, len(refs))
	for i := range refs {
		refs[i].ID = i
	}
	c.Check(got, check.DeepEquals, refs)

	c.Assert(len(h.reads) > 1, check.Equals, true)
	c.Check(h.reads[0], check.Equals, [2]int64{10 + headerGuess + blockLen, 0})
	for i := 1; i < len(h.reads); i++ {
		c.Check(h.reads[i], check.Equals, [2]int64{2 * h.reads[i-1][0], 0})
	}
	c.Check(strings.Count(buf.String(), "BAM header is very big"), check.Equals, len(h.reads)-1)
}

func (s *S) TestSizeLimit(c *check.C) {
	b := volvox(c)
	ctx := context.Background()

	f := open(c, filehandle.Bytes(b.Data), withBAI(b), WithFetchSizeLimit(1000))
	_, err := f.RecordsForRange(ctx, "ctgA", 1, 1000, QueryOptions{})
	c.Check(errors.Is(err, ErrSizeLimit), check.Equals, true)
	c.Check(err, check.ErrorMatches, "bam: data size limit exceeded: query needs .*")

	f = open(c, filehandle.Bytes(b.Data), withBAI(b), WithChunkSizeLimit(1000))
	_, err = f.RecordsForRange(ctx, "ctgA", 1, 1000, QueryOptions{})
	c.Check(errors.Is(err, ErrSizeLimit), check.Equals, true)
	c.Check(err, check.ErrorMatches, "bam: data size limit exceeded: chunk .*")
}

func (s *S) TestOpenOptions(c *check.C) {
	_, err := Open(filehandle.Bytes(nil), WithConcurrency(0))
	c.Check(err, check.ErrorMatches, "bam: invalid concurrency: 0")
	_, err = Open(filehandle.Bytes(nil), WithCacheSize(0))
	c.Check(err, check.ErrorMatches, "bam: invalid cache size 0: .*")

	idx := NewIndex(filehandle.Bytes(nil))
	_, err = Open(filehandle.Bytes(nil), WithIndex(idx), WithMergePolicy(index.MergePolicy{Gap: 10}))
	c.Assert(err, check.Equals, nil)
	c.Check(idx.Policy, check.Equals, index.MergePolicy{Gap: 10})
}

// blockingHandle blocks reads beyond the header until their context is
// done while block is set.
type blockingHandle struct {
	filehandle.Handle
	block   atomic.Bool
	started chan struct{}
	once    sync.Once
}

func (h *blockingHandle) Read(ctx context.Context, length int, position int64) ([]byte, error) {
	if position != 0 && h.block.Load() {
		h.once.Do(func() { close(h.started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return h.Handle.Read(ctx, length, position)
}

func (s *S) TestCancel(c *check.C) {
	b := volvox(c)
	h := &blockingHandle{Handle: filehandle.Bytes(b.Data), started: make(chan struct{})}
	h.block.Store(true)
	f := open(c, h, withBAI(b))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	var recs []*Record
	go func() {
		var err error
		recs, err = f.RecordsForRange(ctx, "ctgA", 1, 1000, QueryOptions{})
		errc <- err
	}()
	select {
	case <-h.started:
	case <-time.After(10 * time.Second):
		c.Fatal("chunk fetch not started")
	}
	cancel()
	err := <-errc
	c.Check(errors.Is(err, context.Canceled), check.Equals, true, check.Commentf("%v", err))
	c.Check(recs, check.IsNil)

	// Following queries are not affected by the cancelled fetch.
	h.block.Store(false)
	recs, err = f.RecordsForRange(context.Background(), "ctgA", 1, 1000, QueryOptions{})
	c.Assert(err, check.Equals, nil)
	c.Check(recs, check.HasLen, 131)

	// A query with a done context fails without results.
	recs, err = f.RecordsForRange(ctx, "ctgA", 1, 1000, QueryOptions{})
	c.Check(errors.Is(err, context.Canceled), check.Equals, true)
	c.Check(recs, check.IsNil)
}

// pairs returns coordinate sorted paired reads.
//
//	p0..p4  ctgA:1000+100i and ctgA:6000+100i
//	both    ctgA:1050 and ctgA:1150
//	far     ctgA:1200 and ctgA:40000
//	cross   ctgA:1300 and ctgB:500
// pairs returns a BAM holding pairs with mates at varying distances
// from ctgA:1001-1500 along with the extra records.
func pairs(c *check.C, extra ...fixture.Record) *fixture.BAM {
	mate := func(name string, ref, pos, mref, mpos int, first bool) fixture.Record {
		r := read(name, ref, pos, 100)
		r.Flags = sam.Paired | sam.Read2
		if first {
			r.Flags = sam.Paired | sam.Read1 | sam.MateReverse
		} else {
			r.Flags |= sam.Reverse
		}
		r.MateRef, r.MatePos = mref, mpos
		if ref == mref {
			r.TempLen = mpos + 100 - pos
		}
		return r
	}
	var recs []fixture.Record
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("p%d", i)
		recs = append(recs,
			mate(name, 0, 1000+100*i, 0, 6000+100*i, true),
			mate(name, 0, 6000+100*i, 0, 1000+100*i, false),
		)
	}
	recs = append(recs,
		mate("both", 0, 1050, 0, 1150, true),
		mate("both", 0, 1150, 0, 1050, false),
		mate("far", 0, 1200, 0, 40000, true),
		mate("far", 0, 40000, 0, 1200, false),
		mate("cross", 0, 1300, 1, 500, true),
		mate("cross", 1, 500, 0, 1300, false),
	)
	recs = append(recs, extra...)
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Ref != recs[j].Ref {
			return recs[i].Ref < recs[j].Ref
		}
		return recs[i].Pos < recs[j].Pos
	})
	b, err := fixture.Build(volvoxHeader, volvoxRefs(), recs, fixture.Options{BlockLen: 256})
	c.Assert(err, check.Equals, nil)
	return b
}

func (s *S) TestViewAsPairs(c *check.C) {
	b := pairs(c)
	ctx := context.Background()
	inRange := []string{"p0", "both", "p1", "both", "p2", "far", "p3", "cross", "p4"}

	for _, test := range []struct {
		opts  QueryOptions
		mates []string
	}{
		{
			opts:  QueryOptions{},
			mates: nil,
		},
		{
			opts:  QueryOptions{ViewAsPairs: true, MaxInsertSize: 10000},
			mates: []string{"p0", "p1", "p2", "p3", "p4"},
		},
		{
			opts:  QueryOptions{ViewAsPairs: true, MaxInsertSize: 10000, PairAcrossChr: true},
			mates: []string{"p0", "p1", "p2", "p3", "p4", "far", "cross"},
		},
		{
			opts:  QueryOptions{ViewAsPairs: true},
			mates: []string{"p0", "p1", "p2", "p3", "p4", "far"},
		},
	} {
		for _, policy := range []index.MergePolicy{index.DefaultPolicy, {}} {
			f := open(c, filehandle.Bytes(b.Data), withBAI(b), WithMergePolicy(policy))
			recs, err := f.RecordsForRange(ctx, "ctgA", 1001, 1500, test.opts)
			c.Assert(err, check.Equals, nil)
			got := names(recs)
			c.Assert(len(got) >= len(inRange), check.Equals, true)
			c.Check(got[:len(inRange)], check.DeepEquals, inRange)

			mates := append([]string(nil), got[len(inRange):]...)
			sort.Strings(mates)
			want := append([]string(nil), test.mates...)
			sort.Strings(want)
			if len(want) == 0 {
				want = nil
			}
			if len(mates) == 0 {
				mates = nil
			}
			c.Check(mates, check.DeepEquals, want, check.Commentf("%+v %+v", test.opts, policy))
			for _, r := range recs[len(inRange):] {
				c.Check(r.IsRead2(), check.Equals, true)
			}
			ids := make(map[uint64]bool)
			for _, r := range recs {
				c.Check(ids[r.ID()], check.Equals, false)
				ids[r.ID()] = true
			}
		}
	}
}

func (s *S) TestViewAsPairsSizeLimit(c *check.C) {
	// Unpaired reads between the query and the far mate put
	// the mate chunks many blocks beyond the query chunks.
	var fill []fixture.Record
	for i := 0; i < 500; i++ {
		fill = append(fill, read(fmt.Sprintf("fill%d", i), 0, 20000+20*i, 100))
	}
	b := pairs(c, fill...)
	ctx := context.Background()

	chunks, err := open(c, filehandle.Bytes(b.Data), withBAI(b)).Index().BlocksForRange(ctx, 0, 1000, 1500)
	c.Assert(err, check.Equals, nil)
	var limit int64
	for _, ch := range chunks {
		limit += ch.FetchedSize()
	}

	m := NewMetrics(prometheus.NewRegistry())
	f := open(c, filehandle.Bytes(b.Data), withBAI(b), WithFetchSizeLimit(limit), WithMetrics(m))
	recs, err := f.RecordsForRange(ctx, "ctgA", 1001, 1500, QueryOptions{})
	c.Assert(err, check.Equals, nil)
	c.Check(names(recs), check.DeepEquals, []string{"p0", "both", "p1", "both", "p2", "far", "p3", "cross", "p4"})
	fetched := testutil.ToFloat64(m.ChunksFetched)

	_, err = f.RecordsForRange(ctx, "ctgA", 1001, 1500, QueryOptions{ViewAsPairs: true, PairAcrossChr: true})
	c.Check(errors.Is(err, ErrSizeLimit), check.Equals, true, check.Commentf("unexpected error: %v", err))
	c.Check(testutil.ToFloat64(m.ChunksFetched), check.Equals, fetched)

	f = open(c, filehandle.Bytes(b.Data), withBAI(b), WithFetchSizeLimit(4*limit+1<<20))
	recs, err = f.RecordsForRange(ctx, "ctgA", 1001, 1500, QueryOptions{ViewAsPairs: true, PairAcrossChr: true})
	c.Assert(err, check.Equals, nil)
	c.Check(len(recs), check.Equals, 9+7)
}

func (s *S) TestMetrics(c *check.C) {
	b := volvox(c)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	f := open(c, filehandle.Bytes(b.Data), withBAI(b), WithMetrics(m))
	ctx := context.Background()

	_, err := f.RecordsForRange(ctx, "ctgA", 1, 1000, QueryOptions{})
	c.Assert(err, check.Equals, nil)
	c.Check(testutil.ToFloat64(m.ChunksFetched) > 0, check.Equals, true)
	c.Check(testutil.ToFloat64(m.BytesFetched) > 0, check.Equals, true)
	c.Check(testutil.ToFloat64(m.RecordsDecoded) >= 131, check.Equals, true)
	c.Check(testutil.ToFloat64(m.ChunkCacheHits), check.Equals, 0.0)

	fetched := testutil.ToFloat64(m.ChunksFetched)
	_, err = f.RecordsForRange(ctx, "ctgA", 1, 1000, QueryOptions{})
	c.Assert(err, check.Equals, nil)
	c.Check(testutil.ToFloat64(m.ChunksFetched), check.Equals, fetched)
	c.Check(testutil.ToFloat64(m.ChunkCacheHits), check.Equals, fetched)
	c.Check(testutil.CollectAndCount(m.QueryDuration), check.Equals, 1)

	n, err := testutil.GatherAndCount(reg, "bamread_query_duration_seconds")
	c.Check(err, check.Equals, nil)
	c.Check(n, check.Equals, 1)
}

func (s *S) TestConcurrentQueries(c *check.C) {
	b, idx := splitVolvox(c, 13)
	f := open(c, filehandle.Bytes(b.Data), idx, WithCacheSize(2), WithConcurrency(2))

	var wg sync.WaitGroup
	errs := make(chan error, len(volvoxQueries)*4)
	for i := 0; i < 4; i++ {
		for _, q := range volvoxQueries {
			q := q
			wg.Add(1)
			go func() {
				defer wg.Done()
				ref := 0
				if q.chr == "ctgB" {
					ref = 1
				}
				recs, err := f.RecordsForRange(context.Background(), q.chr, q.beg, q.end, QueryOptions{})
				if err != nil {
					errs <- err
					return
				}
				got, want := names(recs), expected(b, ref, q.beg, q.end)
				if strings.Join(got, ",") != strings.Join(want, ",") {
					errs <- fmt.Errorf("%s:%d-%d: got %d records, want %d", q.chr, q.beg, q.end, len(got), len(want))
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		c.Check(err, check.Equals, nil)
	}
}

// TestVolvox checks the query scenario against a real BAM when one is
// placed in testdata.
func (s *S) TestVolvox(c *check.C) {
	path := filepath.Join("testdata", "volvox-sorted.bam")
	if _, err := os.Stat(path); err != nil {
		c.Skip("no volvox test data")
	}
	data, err := filehandle.Open(path)
	c.Assert(err, check.Equals, nil)
	defer data.Close()
	bai, err := filehandle.Open(path + ".bai")
	c.Assert(err, check.Equals, nil)
	defer bai.Close()

	f := open(c, data, WithBAI(bai))
	recs, err := f.RecordsForRange(context.Background(), "ctgA", 0, 1000, QueryOptions{})
	c.Assert(err, check.Equals, nil)
	c.Check(recs, check.HasLen, 131)
	c.Check(recs[0].Name(), check.Equals, "ctgA_3_555_0:0:0_2:0:0_102d")
	c.Check(recs[0].Start(), check.Equals, 2)
	c.Check(recs[0].End(), check.Equals, 102)
	c.Check(recs[0].CigarString(), check.Equals, "100M")
}

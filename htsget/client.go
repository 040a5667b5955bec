// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package htsget

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/biogo/bamread/bam"
	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/internal/memo"
	"github.com/biogo/bamread/sam"
)

// DefaultConcurrency is the default number of ticket URLs fetched
// concurrently by a File.
const DefaultConcurrency = 4

// File is a BAM track read through an htsget server. Records read from
// a File are identified by the CRC32 of their bytes.
type File struct {
	base    string
	id      string
	client  *http.Client
	header  http.Header
	logger  log.Logger
	dec     bam.Decoder
	workers int

	hdr memo.Value
}

// Option is a File configuration option.
type Option func(*File)

// WithLogger sets the logger that receives warnings about the File and
// its records.
func WithLogger(logger log.Logger) Option {
	return func(f *File) { f.logger = logger }
}

// WithStrictCG sets whether records with a malformed CG tag placeholder
// CIGAR are reported as errors.
func WithStrictCG(strict bool) Option {
	return func(f *File) { f.dec.StrictCG = strict }
}

// WithRequestHeader adds a header sent with ticket requests.
func WithRequestHeader(key, value string) Option {
	return func(f *File) { f.header.Add(key, value) }
}

// WithConcurrency sets the number of ticket URLs fetched concurrently.
func WithConcurrency(n int) Option {
	return func(f *File) { f.workers = n }
}

// NewFile returns a File for the track with the given ID served by the
// htsget endpoint at baseURL. If client is nil http.DefaultClient is
// used.
func NewFile(baseURL, trackID string, client *http.Client, opts ...Option) *File {
	if client == nil {
		client = http.DefaultClient
	}
	f := &File{
		base:    strings.TrimSuffix(baseURL, "/"),
		id:      trackID,
		client:  client,
		header:  make(http.Header),
		logger:  log.NewNopLogger(),
		workers: DefaultConcurrency,
	}
	for _, o := range opts {
		o(f)
	}
	if f.logger == nil {
		f.logger = log.NewNopLogger()
	}
	if f.workers < 1 {
		f.workers = 1
	}
	f.dec.Logger = f.logger
	return f
}

// Header returns the SAM header of the track. The reference dictionary
// is taken from the @SQ lines of the header text.
func (f *File) Header(ctx context.Context) (*sam.Header, error) {
	v, err := f.hdr.Get(ctx, func(ctx context.Context) (interface{}, error) {
		return f.readHeader(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sam.Header), nil
}

func (f *File) readHeader(ctx context.Context) (*sam.Header, error) {
	t, err := f.ticket(ctx, url.Values{
		"referenceName": {"na"},
		"class":         {ClassHeader},
	})
	if err != nil {
		return nil, err
	}
	raw, err := f.concat(ctx, t.Htsget.URLs)
	if err != nil {
		return nil, err
	}
	b, err := bgzf.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("htsget: failed to decompress header: %w", err)
	}
	if len(b) < 8 || !bytes.Equal(b[:4], []byte("BAM\x01")) {
		return nil, bam.ErrNotBAM
	}
	lText := int(int32(binary.LittleEndian.Uint32(b[4:])))
	if lText < 0 || 8+lText > len(b) {
		return nil, bam.ErrTruncated
	}
	h, err := sam.ParseHeader(bytes.TrimRight(b[8:8+lText], "\x00"))
	if err != nil {
		return nil, fmt.Errorf("htsget: failed to parse header: %w", err)
	}
	return h, nil
}

// RecordsForRange returns the records on the named reference that overlap
// the one-based closed interval [beg, end]. An unknown reference returns
// no records.
func (f *File) RecordsForRange(ctx context.Context, chr string, beg, end int) ([]*bam.Record, error) {
	h, err := f.Header(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := h.RefID(chr)
	if !ok {
		return nil, nil
	}
	t, err := f.ticket(ctx, url.Values{
		"referenceName": {chr},
		"start":         {strconv.Itoa(max(beg-1, 0))},
		"end":           {strconv.Itoa(end)},
		"format":        {FormatBAM},
	})
	if err != nil {
		return nil, err
	}
	if len(t.Htsget.URLs) < 2 {
		return nil, nil
	}
	raw, err := f.concat(ctx, t.Htsget.URLs[1:])
	if err != nil {
		return nil, err
	}
	data, err := bgzf.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("htsget: failed to decompress records: %w", err)
	}
	recs, err := f.dec.Decode(&bgzf.Slice{Data: data})
	if err != nil {
		return nil, err
	}
	kept, _ := bam.Filter(recs, id, beg, end)
	return kept, nil
}

// ticket requests the ticket for the track with the given query.
func (f *File) ticket(ctx context.Context, query url.Values) (*Ticket, error) {
	u := fmt.Sprintf("%s/reads/%s?%s", f.base, url.PathEscape(f.id), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.header {
		req.Header[k] = append([]string(nil), v...)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("htsget: ticket request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, responseError(resp)
	}
	var t Ticket
	err = json.NewDecoder(resp.Body).Decode(&t)
	if err != nil {
		return nil, fmt.Errorf("htsget: failed to decode ticket: %w", err)
	}
	if t.Htsget.Format != "" && t.Htsget.Format != FormatBAM {
		return nil, fmt.Errorf("htsget: unexpected ticket format %q", t.Htsget.Format)
	}
	level.Debug(f.logger).Log("msg", "received ticket", "id", f.id, "urls", len(t.Htsget.URLs))
	return &t, nil
}

// concat returns the concatenated data of urls.
func (f *File) concat(ctx context.Context, urls []URL) ([]byte, error) {
	parts := make([][]byte, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			b, err := f.fetch(ctx, u)
			if err != nil {
				return fmt.Errorf("htsget: url %d: %w", i, err)
			}
			parts[i] = b
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		return nil, err
	}
	return bytes.Join(parts, nil), nil
}

// fetch returns the data of a single ticket URL.
func (f *File) fetch(ctx context.Context, u URL) ([]byte, error) {
	if strings.HasPrefix(u.URL, "data:") {
		return decodeDataURI(u.URL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range u.Headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, responseError(resp)
	}
	return io.ReadAll(resp.Body)
}

// decodeDataURI returns the data held in an RFC 2397 data URI.
func decodeDataURI(uri string) ([]byte, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("htsget: malformed data URI %q", uri)
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(data)
	}
	s, err := url.PathUnescape(data)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// responseError returns an error holding the status and body of an
// unsuccessful response. Protocol errors are returned as an *Error.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Htsget != nil && e.Htsget.Name != "" {
		e.Htsget.code = resp.StatusCode
		return e.Htsget
	}
	return fmt.Errorf("htsget: HTTP %s from %s: %s", resp.Status, resp.Request.URL, bytes.TrimSpace(body))
}

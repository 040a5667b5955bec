// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package htsget

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/biogo/bamread/bam"
	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/bgzf/index"
	"github.com/biogo/bamread/filehandle"
	"github.com/biogo/bamread/sam"
)

const (
	readsPath  = "/reads/"
	blockPath  = "/block/"
	headerPath = "/header/"

	requestIDHeader = "X-Request-Id"
	loggerKey       = "htsget.logger"
)

// Resolver returns the indexed BAM file with the given ID. An unknown
// ID is reported with an error wrapping ErrNotFound.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*bam.File, error)
}

// ResolverFunc is a function implementing Resolver.
type ResolverFunc func(ctx context.Context, id string) (*bam.File, error)

// Resolve calls fn.
func (fn ResolverFunc) Resolve(ctx context.Context, id string) (*bam.File, error) { return fn(ctx, id) }

// Server serves the BAM files of a Resolver with the htsget protocol.
type Server struct {
	resolver Resolver
	logger   log.Logger

	// BaseURL is the scheme and host used for the
	// URLs of tickets. If empty it is taken from the
	// ticket request.
	BaseURL string
}

// NewServer returns a Server for the files of r. If logger is nil no
// logging is performed.
func NewServer(r Resolver, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{resolver: r, logger: logger}
}

// Register adds the htsget endpoints to r.
func (s *Server) Register(r gin.IRoutes) {
	r.GET(readsPath+":id", s.serveReads)
	r.GET(blockPath+":id", s.serveBlock)
	r.GET(headerPath+":id", s.serveHeader)
}

// Handler returns a gin.Engine serving the htsget endpoints. Further
// routes added to the engine share its request logging.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.Register(r)
	return r
}

// requestLogger tags each request with an ID that is returned in the
// X-Request-Id header and included in the request's log lines. A valid
// UUID supplied by the client is reused.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader(requestIDHeader))
		if err != nil {
			id = uuid.New()
		}
		c.Header(requestIDHeader, id.String())
		logger := log.With(s.logger, "request_id", id.String())
		c.Set(loggerKey, logger)

		start := time.Now()
		c.Next()
		level.Info(logger).Log(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) log(c *gin.Context) log.Logger {
	if l, ok := c.Get(loggerKey); ok {
		return l.(log.Logger)
	}
	return s.logger
}

func (s *Server) serveReads(c *gin.Context) {
	ctx := c.Request.Context()

	if format := c.Query("format"); format != "" && format != FormatBAM {
		s.writeError(c, newUnsupportedFormatError(format))
		return
	}
	id := c.Param("id")
	f, err := s.resolve(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	base := s.base(c)
	urls := []URL{{
		URL:   base + headerPath + url.PathEscape(id),
		Class: ClassHeader,
	}}
	switch c.Query("class") {
	case ClassHeader:
		s.writeTicket(c, urls)
		return
	case "", ClassBody:
	default:
		s.writeError(c, newInvalidInputError(fmt.Sprintf("unknown class %q", c.Query("class")), nil))
		return
	}

	name := c.Query("referenceName")
	if name == "" {
		s.writeError(c, newInvalidInputError("no reference name specified", nil))
		return
	}
	h, err := f.Header(ctx)
	if err != nil {
		s.writeError(c, fmt.Errorf("reading header: %w", err))
		return
	}
	ref, ok := h.RefID(name)
	if !ok {
		s.writeError(c, newNotFoundError(fmt.Sprintf("reference %q", name), nil))
		return
	}
	beg, err := parseCoord(c.Query("start"), 0)
	if err != nil {
		s.writeError(c, newInvalidInputError("parsing start", err))
		return
	}
	end, err := parseCoord(c.Query("end"), h.Refs()[ref].Len)
	if err != nil {
		s.writeError(c, newInvalidInputError("parsing end", err))
		return
	}
	if beg > end {
		s.writeError(c, newInvalidRangeError(fmt.Sprintf("%s:%d-%d", name, beg, end), errors.New("start > end")))
		return
	}
	idx := f.Index()
	if idx == nil {
		s.writeError(c, bam.ErrNoIndex)
		return
	}
	chunks, err := idx.BlocksForRange(ctx, ref, beg, end)
	if err != nil {
		s.writeError(c, fmt.Errorf("querying index: %w", err))
		return
	}

	block := base + blockPath + url.PathEscape(id)
	for _, ch := range chunks {
		urls = append(urls, URL{
			URL:   fmt.Sprintf("%s?start=%d&end=%d", block, ch.Begin.Virtual(), ch.End.Virtual()),
			Class: ClassBody,
		})
	}
	urls = append(urls, URL{URL: eofMarkerDataURL, Class: ClassBody})
	level.Debug(s.log(c)).Log("msg", "issued ticket", "id", id, "reference", name, "start", beg, "end", end, "chunks", len(chunks))
	s.writeTicket(c, urls)
}

func (s *Server) serveBlock(c *gin.Context) {
	ctx := c.Request.Context()

	f, err := s.resolve(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	start, err := strconv.ParseUint(c.Query("start"), 10, 64)
	if err != nil {
		s.writeError(c, newInvalidInputError("parsing start", err))
		return
	}
	end, err := strconv.ParseUint(c.Query("end"), 10, 64)
	if err != nil {
		s.writeError(c, newInvalidInputError("parsing end", err))
		return
	}
	if end < start {
		s.writeError(c, newInvalidRangeError(fmt.Sprintf("block %d-%d", start, end), errors.New("start > end")))
		return
	}
	data, err := readBlock(ctx, f, bgzf.MakeOffset(start), bgzf.MakeOffset(end), s.log(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// readBlock returns the records of f starting in [begin, end) encoded
// as BGZF blocks.
func readBlock(ctx context.Context, f *bam.File, begin, end bgzf.Offset, logger log.Logger) ([]byte, error) {
	ch := index.NewChunk(begin, end, 0)
	buf, err := f.Handle().Read(ctx, int(ch.FetchedSize()), begin.File)
	if err != nil {
		return nil, fmt.Errorf("reading block %v: %w", ch, err)
	}
	s, err := bgzf.DecompressChunkSlice(buf, ch.Range(), nil)
	filehandle.Release(buf)
	if err != nil {
		return nil, fmt.Errorf("decompressing block %v: %w", ch, err)
	}
	recs, err := bam.Decoder{Logger: logger}.Decode(&s)
	if err != nil {
		return nil, err
	}
	var data []byte
	for _, r := range recs {
		if r.ID()-1 >= end.Virtual() {
			break
		}
		data = append(data, r.Bytes()...)
	}
	return bgzf.Encode(data, false)
}

func (s *Server) serveHeader(c *gin.Context) {
	ctx := c.Request.Context()

	f, err := s.resolve(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	h, err := f.Header(ctx)
	if err != nil {
		s.writeError(c, fmt.Errorf("reading header: %w", err))
		return
	}
	data, err := bgzf.Encode(headerBytes(h), false)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// headerBytes returns the decompressed BAM header of h.
func headerBytes(h *sam.Header) []byte {
	le := binary.LittleEndian
	b := []byte("BAM\x01")
	b = le.AppendUint32(b, uint32(len(h.Text)))
	b = append(b, h.Text...)
	b = le.AppendUint32(b, uint32(len(h.Refs())))
	for _, r := range h.Refs() {
		b = le.AppendUint32(b, uint32(len(r.Name)+1))
		b = append(b, r.Name...)
		b = append(b, 0)
		b = le.AppendUint32(b, uint32(r.Len))
	}
	return b
}

func (s *Server) resolve(ctx context.Context, id string) (*bam.File, error) {
	f, err := s.resolver.Resolve(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, newNotFoundError(fmt.Sprintf("ID %q", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", id, err)
	}
	return f, nil
}

func (s *Server) base(c *gin.Context) string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	scheme := "http://"
	if c.Request.TLS != nil {
		scheme = "https://"
	}
	return scheme + c.Request.Host
}

func (s *Server) writeTicket(c *gin.Context, urls []URL) {
	c.PureJSON(http.StatusOK, Ticket{Htsget: Container{Format: FormatBAM, URLs: urls}})
}

// writeError writes err as an htsget error object when it is a protocol
// error and as a bare internal server error otherwise.
func (s *Server) writeError(c *gin.Context, err error) {
	var e *Error
	if errors.As(err, &e) {
		level.Debug(s.log(c)).Log("msg", "request failed", "err", err)
		c.JSON(e.code, errorResponse{Htsget: e})
		return
	}
	level.Error(s.log(c)).Log("msg", "request failed", "err", err)
	c.String(http.StatusInternalServerError, "%s: %v", http.StatusText(http.StatusInternalServerError), err)
}

// parseCoord parses a non-negative coordinate, returning def for an
// empty string.
func parseCoord(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filehandle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/biogo/bamread/internal/pool"
)

// ErrNotFound is returned when a remote file does not exist.
var ErrNotFound = errors.New("filehandle: not found")

// HTTP is a Handle that reads a remote file with HTTP range requests.
type HTTP struct {
	url    string
	client *http.Client

	// Header holds headers added to every request.
	Header http.Header
}

// NewHTTP returns a Handle for the file at url. If client is nil
// http.DefaultClient is used.
func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{url: url, client: client, Header: make(http.Header)}
}

func (h *HTTP) request(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range h.Header {
		req.Header[k] = append([]string(nil), v...)
	}
	return req, nil
}

// Read reads up to length bytes from position. Servers that ignore the
// Range header and return the complete file are handled by discarding
// the bytes before position.
func (h *HTTP) Read(ctx context.Context, length int, position int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if position < 0 || length < 0 {
		return nil, fmt.Errorf("filehandle: invalid read of %d bytes at %d", length, position)
	}
	if length == 0 {
		return nil, nil
	}
	req, err := h.request(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", position, position+int64(length)-1))
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		_, err = io.CopyN(io.Discard, resp.Body, position)
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	default:
		return nil, statusError(resp)
	}

	buf := pool.GetBuffer(length)
	n, err := io.ReadFull(resp.Body, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	if err != nil {
		pool.PutBuffer(buf)
		return nil, err
	}
	return buf[:n], nil
}

// ReadFile returns the complete remote file.
func (h *HTTP) ReadFile(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req, err := h.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	return io.ReadAll(resp.Body)
}

// statusError returns an error holding the status and the start of
// the body of an unsuccessful response.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("filehandle: HTTP %s from %s: %s", resp.Status, resp.Request.URL, body)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package htsget implements reading BAM records through the htsget
// retrieval protocol and a server that exposes indexed BAM files with
// that protocol.
//
// The version implemented by this package is v1.0.0 defined at:
// http://samtools.github.io/hts-specs/htsget.html.
package htsget

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// FormatBAM is the only data format served and read.
	FormatBAM = "BAM"

	// ClassHeader and ClassBody are the classes of the
	// URLs of a ticket.
	ClassHeader = "header"
	ClassBody   = "body"

	// eofMarkerDataURL is the BGZF EOF marker as a data URI.
	eofMarkerDataURL = "data:;base64,H4sIBAAAAAAA/wYAQkMCABsAAwAAAAAAAAAAAA=="
)

// Ticket is an htsget response listing the URLs whose concatenated data
// hold the requested records.
type Ticket struct {
	Htsget Container `json:"htsget"`
}

// Container is the body of a Ticket.
type Container struct {
	Format string `json:"format"`
	URLs   []URL  `json:"urls"`
}

// URL is a single data block of a Ticket. A URL may be a data URI.
type URL struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Class   string            `json:"class,omitempty"`
}

// ErrNotFound is returned by a Resolver for an unknown ID.
var ErrNotFound = errors.New("htsget: not found")

// Error is an error defined by the htsget protocol.
type Error struct {
	Name    string `json:"error"`
	Message string `json:"message"`

	code int
}

func (e *Error) Error() string {
	return fmt.Sprintf("htsget: %s (%d): %s", e.Name, e.code, e.Message)
}

// StatusCode returns the HTTP status code of e.
func (e *Error) StatusCode() int { return e.code }

// errorResponse is the JSON body of an error response.
type errorResponse struct {
	Htsget *Error `json:"htsget"`
}

func newError(name string, code int, context string, err error) *Error {
	msg := context
	if err != nil {
		msg = fmt.Sprintf("%s: %v", context, err)
	}
	return &Error{Name: name, Message: msg, code: code}
}

func newInvalidInputError(context string, err error) *Error {
	return newError("InvalidInput", http.StatusBadRequest, context, err)
}

func newInvalidRangeError(context string, err error) *Error {
	return newError("InvalidRange", http.StatusBadRequest, context, err)
}

func newUnsupportedFormatError(format string) *Error {
	return newError("UnsupportedFormat", http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format), nil)
}

func newNotFoundError(context string, err error) *Error {
	return newError("NotFound", http.StatusNotFound, context, err)
}

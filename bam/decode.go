// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bam

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/go-kit/log"

	"github.com/biogo/bamread/bgzf"
)

// span locates a record within decompressed chunk data.
type span struct {
	start, end int
	id         uint64
}

// chunkRecords is the decompressed data of a chunk and the locations
// of the complete records it holds. It is shared between queries and
// must not be modified.
type chunkRecords struct {
	data  []byte
	spans []span
}

// scanRecords locates the complete records in s. Records are identified
// by their virtual offset plus one, or by the CRC32 of their bytes when
// s carries no block positions. A record running past the end of the
// data is not included.
func scanRecords(s *bgzf.Slice) (*chunkRecords, error) {
	c := &chunkRecords{data: s.Data}
	for start := 0; start+4 < len(s.Data); {
		size := int(int32(binary.LittleEndian.Uint32(s.Data[start:])))
		if size < 0 {
			return nil, fmt.Errorf("bam: invalid record block size %d at %v", size, s.Offset(start))
		}
		end := start + 4 + size
		if end > len(s.Data) {
			break
		}
		var id uint64
		if len(s.CPositions) != 0 {
			id = s.Offset(start).Virtual() + 1
		} else {
			id = uint64(crc32.ChecksumIEEE(s.Data[start:end]))
		}
		c.spans = append(c.spans, span{start: start, end: end, id: id})
		start = end
	}
	return c, nil
}

// records returns new Records viewing the records of c.
func (c *chunkRecords) records(dec *decoder) []*Record {
	recs := make([]*Record, len(c.spans))
	for i, sp := range c.spans {
		recs[i] = newRecord(c.data[sp.start:sp.end:sp.end], sp.id, dec)
	}
	return recs
}

// Decoder decodes BAM records from decompressed data.
type Decoder struct {
	// Logger receives warnings about malformed
	// records. If nil no logging is performed.
	Logger log.Logger

	// StrictCG causes records with a malformed
	// CG tag placeholder CIGAR to report
	// ErrMalformedCG from their Err method.
	StrictCG bool
}

func (d Decoder) decoder() *decoder {
	if d.Logger == nil && !d.StrictCG {
		return defaultDecoder
	}
	logger := d.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &decoder{logger: logger, strictCG: d.StrictCG}
}

// Decode returns the complete records held in s.
func (d Decoder) Decode(s *bgzf.Slice) ([]*Record, error) {
	c, err := scanRecords(s)
	if err != nil {
		return nil, err
	}
	return c.records(d.decoder()), nil
}

// Filter returns the records in recs on the reference refID that overlap
// the one-based closed interval [beg, end]. The returned done is true when
// a record on the reference starting after end was seen. Since records are
// sorted by coordinate, no later record can overlap the interval.
func Filter(recs []*Record, refID, beg, end int) (kept []*Record, done bool) {
	for _, r := range recs {
		if r.RefID() != refID {
			continue
		}
		if r.Start() >= end {
			return kept, true
		}
		if r.End() >= beg {
			kept = append(kept, r)
		}
	}
	return kept, false
}

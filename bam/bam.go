// Copyright ©2012 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bam implements random access reading of indexed BAM files.
//
// A File resolves genomic queries through a BAI or CSI index to the
// compressed chunks of the BAM that may hold overlapping alignments,
// fetches and decompresses those chunks concurrently and decodes the
// alignments lazily as Records.
package bam

import "errors"

var (
	ErrNotBAM      = errors.New("bam: not a BAM file")
	ErrTruncated   = errors.New("bam: truncated header")
	ErrSizeLimit   = errors.New("bam: data size limit exceeded")
	ErrTooManyBins = errors.New("bam: too many bins, use CSI")
	ErrShortRecord = errors.New("bam: record shorter than its declared layout")
	ErrMalformedCG = errors.New("bam: CG tag placeholder CIGAR without N operation")
	ErrNoIndex     = errors.New("bam: no index")
)

const (
	bamMagic = 21840194 // "BAM\1" read as a little endian int32.
	baiMagic = 21578050 // "BAI\1" read as a little endian int32.
)

const (
	indexWordBits = 29
	nextBinShift  = 3

	// statsDummyBin is the pseudo-bin holding reference statistics.
	statsDummyBin = 0x924a
)

const (
	level0 = uint32(((1 << (iota * nextBinShift)) - 1) / 7)
	level1
	level2
	level3
	level4
	level5
)

const (
	level0Shift = indexWordBits - (iota * nextBinShift)
	level1Shift
	level2Shift
	level3Shift
	level4Shift
	level5Shift
)

// reg2bins returns the bins that may overlap with the zero-based
// half-open region [beg,end).
func reg2bins(beg, end int) []uint32 {
	if beg < 0 {
		beg = 0
	}
	if end > 1<<indexWordBits {
		end = 1 << indexWordBits
	}
	if end <= beg {
		return nil
	}
	end--
	list := []uint32{level0}
	for _, r := range []struct {
		offset uint32
		shift  int
	}{
		{level1, level1Shift},
		{level2, level2Shift},
		{level3, level3Shift},
		{level4, level4Shift},
		{level5, level5Shift},
	} {
		for k := r.offset + uint32(beg>>r.shift); k <= r.offset+uint32(end>>r.shift); k++ {
			list = append(list, k)
		}
	}
	return list
}

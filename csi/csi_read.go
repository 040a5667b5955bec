// Copyright ©2015 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package csi

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/biogo/bamread/bgzf"
	"github.com/biogo/bamread/bgzf/index"
)

// maxDepth is the deepest binning scheme whose bin numbers fit in
// the uint32 bin field.
const maxDepth = 10

// ReadFrom reads the CSI index from the given io.Reader. Note that
// the csi specification states that the index is stored as BGZF, but
// ReadFrom does not perform decompression.
func ReadFrom(r io.Reader) (*Data, error) {
	br := bufio.NewReader(r)
	var (
		magic [3]byte
		err   error
	)
	err = binary.Read(br, binary.LittleEndian, &magic)
	if err != nil {
		return nil, fmt.Errorf("csi: failed to read magic: %w", err)
	}
	if magic != csiMagic {
		return nil, errors.New("csi: magic number mismatch")
	}
	version, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("csi: failed to read version: %w", err)
	}
	if version != 0x1 && version != 0x2 {
		return nil, fmt.Errorf("csi: unknown version: %d", version)
	}
	d := &Data{
		Data:    &index.Data{Format: "CSI", MaxBlockSize: index.MaxBlockSize},
		Version: version,
	}

	var hdr struct {
		MinShift, Depth, LAux int32
	}
	err = binary.Read(br, binary.LittleEndian, &hdr.MinShift)
	if err != nil {
		return nil, fmt.Errorf("csi: failed to read minimum shift: %w", err)
	}
	if hdr.MinShift < 0 {
		return nil, errors.New("csi: invalid minimum shift value")
	}
	err = binary.Read(br, binary.LittleEndian, &hdr.Depth)
	if err != nil {
		return nil, fmt.Errorf("csi: failed to read index depth: %w", err)
	}
	if hdr.Depth < 0 || hdr.Depth > maxDepth || hdr.MinShift+hdr.Depth*nextBinShift > 62 {
		return nil, fmt.Errorf("csi: invalid index depth value: %d", hdr.Depth)
	}
	d.MinShift, d.Depth = uint32(hdr.MinShift), uint32(hdr.Depth)
	err = binary.Read(br, binary.LittleEndian, &hdr.LAux)
	if err != nil {
		return nil, fmt.Errorf("csi: failed to read auxiliary data length: %w", err)
	}
	if hdr.LAux < 0 {
		return nil, fmt.Errorf("csi: invalid auxiliary data length: %d", hdr.LAux)
	}
	if hdr.LAux > 0 {
		d.RawAux = make([]byte, hdr.LAux)
		_, err = io.ReadFull(br, d.RawAux)
		if err != nil {
			return nil, fmt.Errorf("csi: failed to read auxiliary data: %w", err)
		}
		if len(d.RawAux) >= minAuxLen {
			d.Aux, err = ParseAux(d.RawAux)
			if err != nil {
				return nil, err
			}
		}
	}

	d.Refs, err = readIndices(br, d)
	if err != nil {
		return nil, err
	}
	var nUnmapped uint64
	err = binary.Read(br, binary.LittleEndian, &nUnmapped)
	if err == nil {
		d.Unmapped = &nUnmapped
	} else if err != io.EOF {
		return nil, fmt.Errorf("csi: failed to read unplaced count: %w", err)
	}
	return d, nil
}

func readIndices(r io.Reader, d *Data) ([]index.RefIndex, error) {
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return nil, fmt.Errorf("csi: failed to read reference count: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("csi: invalid reference count: %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	idx := make([]index.RefIndex, n)
	for i := range idx {
		idx[i].Bins, idx[i].Stats, err = readBins(r, d)
		if err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func readBins(r io.Reader, d *Data) (map[uint32][]index.Chunk, *index.ReferenceStats, error) {
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return nil, nil, fmt.Errorf("csi: failed to read bin count: %w", err)
	}
	if n < 0 {
		return nil, nil, fmt.Errorf("csi: invalid bin count: %d", n)
	}
	if n == 0 {
		return nil, nil, nil
	}
	maxBin := d.MaxBinNumber()
	var stats *index.ReferenceStats
	bins := make(map[uint32][]index.Chunk, n)
	for i := int32(0); i < n; i++ {
		var bin uint32
		err = binary.Read(r, binary.LittleEndian, &bin)
		if err != nil {
			return nil, nil, fmt.Errorf("csi: failed to read bin number: %w", err)
		}
		var vOff uint64
		err = binary.Read(r, binary.LittleEndian, &vOff)
		if err != nil {
			return nil, nil, fmt.Errorf("csi: failed to read left virtual offset: %w", err)
		}
		if d.Version == 0x2 {
			var records uint64
			err = binary.Read(r, binary.LittleEndian, &records)
			if err != nil {
				return nil, nil, fmt.Errorf("csi: failed to read record count: %w", err)
			}
		}
		var nChunk int32
		err = binary.Read(r, binary.LittleEndian, &nChunk)
		if err != nil {
			return nil, nil, fmt.Errorf("csi: failed to read chunk count: %w", err)
		}
		if bin > maxBin {
			if nChunk != 2 {
				return nil, nil, errors.New("csi: malformed dummy bin header")
			}
			stats, err = readStats(r)
			if err != nil {
				return nil, nil, err
			}
			continue
		}
		if nChunk < 0 {
			return nil, nil, fmt.Errorf("csi: invalid chunk count: %d", nChunk)
		}
		d.See(bgzf.MakeOffset(vOff))
		bins[bin], err = readChunks(r, bin, nChunk)
		if err != nil {
			return nil, nil, err
		}
	}
	return bins, stats, nil
}

func readChunks(r io.Reader, bin uint32, n int32) ([]index.Chunk, error) {
	if n == 0 {
		return nil, nil
	}
	chunks := make([]index.Chunk, n)
	var vOff [2]uint64
	for i := range chunks {
		err := binary.Read(r, binary.LittleEndian, &vOff)
		if err != nil {
			return nil, fmt.Errorf("csi: failed to read chunk virtual offsets: %w", err)
		}
		chunks[i] = index.NewChunk(bgzf.MakeOffset(vOff[0]), bgzf.MakeOffset(vOff[1]), bin)
	}
	return chunks, nil
}

func readStats(r io.Reader) (*index.ReferenceStats, error) {
	var (
		vOff  [2]uint64
		stats index.ReferenceStats
	)
	err := binary.Read(r, binary.LittleEndian, &vOff)
	if err != nil {
		return nil, fmt.Errorf("csi: failed to read index stats chunk virtual offsets: %w", err)
	}
	stats.Chunk = bgzf.Chunk{Begin: bgzf.MakeOffset(vOff[0]), End: bgzf.MakeOffset(vOff[1])}
	err = binary.Read(r, binary.LittleEndian, &stats.Mapped)
	if err != nil {
		return nil, fmt.Errorf("csi: failed to read index stats mapped count: %w", err)
	}
	err = binary.Read(r, binary.LittleEndian, &stats.Unmapped)
	if err != nil {
		return nil, fmt.Errorf("csi: failed to read index stats unmapped count: %w", err)
	}
	return &stats, nil
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package sparseimage models a sparse address→byte map as an ordered,
// non-overlapping sequence of memory regions, the shared currency
// between the Intel-Hex and binary-envelope codecs and the flash-write
// path.
package sparseimage

import (
	"fmt"
)

// maxChunkSize bounds how large a single chunk within a region's chunk
// slice is allowed to grow before a new chunk is started. The original
// chunked-linked-list design used this to keep any single allocation
// small; a slice-of-chunks keeps that property without needing a
// tail pointer.
const maxChunkSize = 1024

// AddressMode selects how large an image's address space is allowed to
// be, mirroring the three Intel-Hex addressing conventions.
type AddressMode int

const (
	Mode8Bit AddressMode = iota
	Mode16Bit
	Mode32Bit
)

func (m AddressMode) endmostAddress() uint64 {
	switch m {
	case Mode8Bit:
		return 0xFFFF
	case Mode16Bit:
		return 0xFFFFF
	case Mode32Bit:
		return 0xFFFFFFFF
	default:
		return 0
	}
}

// Region is a contiguous, owned span of bytes starting at BaseAddress.
// Data is kept as a slice of chunks, each capped at maxChunkSize bytes,
// so that very large regions built by many small inserts don't force
// repeated full-region reallocation.
type Region struct {
	BaseAddress uint64
	chunks      [][]byte
	size        uint64
}

// Size returns the total byte length of the region across all its chunks.
func (r *Region) Size() uint64 {
	return r.size
}

// EndAddress returns the address one past the last byte in the region.
func (r *Region) EndAddress() uint64 {
	return r.BaseAddress + r.size
}

func (r *Region) appendBytes(data []byte) {
	for len(data) > 0 {
		if len(r.chunks) == 0 || len(r.chunks[len(r.chunks)-1]) >= maxChunkSize {
			r.chunks = append(r.chunks, make([]byte, 0, maxChunkSize))
		}
		tail := &r.chunks[len(r.chunks)-1]
		room := maxChunkSize - len(*tail)
		n := len(data)
		if n > room {
			n = room
		}
		*tail = append(*tail, data[:n]...)
		data = data[n:]
		r.size += uint64(n)
	}
}

func (r *Region) prependBytes(data []byte) {
	// Prepending is rare (only happens when a later insert turns out to
	// be exactly adjacent before an existing region); rebuild rather
	// than optimize for an uncommon path.
	old := r.copyAll()
	r.chunks = nil
	r.size = 0
	r.BaseAddress -= uint64(len(data))
	r.appendBytes(data)
	r.appendBytes(old)
}

func (r *Region) copyAll() []byte {
	out := make([]byte, 0, r.size)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}

// copyRange copies the size bytes starting offset bytes into the region.
func (r *Region) copyRange(offset, size uint64) []byte {
	out := make([]byte, 0, size)
	var pos uint64
	for _, c := range r.chunks {
		chunkLen := uint64(len(c))
		if pos+chunkLen <= offset {
			pos += chunkLen
			continue
		}
		start := uint64(0)
		if offset > pos {
			start = offset - pos
		}
		end := chunkLen
		if pos+chunkLen > offset+size {
			end = offset + size - pos
		}
		out = append(out, c[start:end]...)
		pos += chunkLen
		if pos >= offset+size {
			break
		}
	}
	return out
}

// Error is the SparseImage package's error taxonomy, matching the
// categories that insert/copy_out can hit.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

var (
	ErrOutOfRange  = &Error{Kind: "OutOfRange", Message: "address outside image bounds"}
	ErrOverlap     = &Error{Kind: "Overlap", Message: "insert overlaps an existing region"}
	ErrNotFound    = &Error{Kind: "NotFound", Message: "no region fully contains the requested range"}
	ErrAllocFailed = &Error{Kind: "AllocFailed", Message: "insert size must be at least one byte"}
)

// SparseImage is an ordered, non-overlapping sequence of Regions over an
// address space bounded by an AddressMode, plus the optional entry-point
// fields the Intel-Hex and binary formats both carry.
type SparseImage struct {
	Mode    AddressMode
	regions []*Region

	EIPSet bool
	EIP    uint32

	CSIPSet bool
	CS      uint16
	IP      uint16
}

// New creates an empty image bounded by mode's address space.
func New(mode AddressMode) *SparseImage {
	return &SparseImage{Mode: mode}
}

func (img *SparseImage) endmostAddress() uint64 {
	return img.Mode.endmostAddress()
}

// Regions returns the image's regions in ascending base-address order.
// Callers must not mutate the returned slice's Region pointers' internal
// chunk slices directly.
func (img *SparseImage) Regions() []*Region {
	return img.regions
}

// Insert adds bytes starting at base, merging into an adjacent region
// when possible and rejecting any overlap with an existing region.
func (img *SparseImage) Insert(base uint64, data []byte) error {
	if len(data) < 1 {
		return ErrAllocFailed
	}

	size := uint64(len(data))
	if base+size-1 > img.endmostAddress() {
		return ErrOutOfRange
	}

	insertAt := len(img.regions)
	for i, r := range img.regions {
		if base+size <= r.BaseAddress {
			insertAt = i
			break
		}
		if base < r.EndAddress() {
			return ErrOverlap
		}
	}

	var prev, next *Region
	if insertAt > 0 {
		prev = img.regions[insertAt-1]
	}
	if insertAt < len(img.regions) {
		next = img.regions[insertAt]
	}

	switch {
	case prev != nil && prev.EndAddress() == base && next != nil && next.BaseAddress == base+size:
		prev.appendBytes(data)
		prev.appendBytes(next.copyAll())
		img.regions = append(img.regions[:insertAt], img.regions[insertAt+1:]...)

	case prev != nil && prev.EndAddress() == base:
		prev.appendBytes(data)

	case next != nil && next.BaseAddress == base+size:
		next.prependBytes(data)

	default:
		r := &Region{BaseAddress: base}
		r.appendBytes(data)
		img.regions = append(img.regions, nil)
		copy(img.regions[insertAt+1:], img.regions[insertAt:])
		img.regions[insertAt] = r
	}

	return nil
}

// CopyOut copies size bytes starting at base into dst, which must have
// length size. The range must be fully contained within a single region.
func (img *SparseImage) CopyOut(base, size uint64, dst []byte) error {
	if uint64(len(dst)) != size {
		return ErrAllocFailed
	}

	for _, r := range img.regions {
		if base >= r.BaseAddress && base+size <= r.EndAddress() {
			copy(dst, r.copyRange(base-r.BaseAddress, size))
			return nil
		}
	}

	return ErrNotFound
}

// UpdateEndAddress widens the image's address mode to the smallest class
// that can represent newEnd, if it doesn't already.
func (img *SparseImage) UpdateEndAddress(newEnd uint64) {
	for img.endmostAddress() < newEnd && img.Mode < Mode32Bit {
		img.Mode++
	}
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package binfmt translates between the positional binary envelope format
// and a sparseimage.SparseImage.
package binfmt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bbnote/ccdbg/pkg/sparseimage"
)

// unset is the sentinel value marking eip/cs/ip as not present.
const unset = 0xFFFFFFFF

const maxCSIP = 0xFFFF

// Decode reads a little-endian EIP/CS/IP header followed by zero or more
// (base, size, payload) regions until EOF. A size field of 0 means the
// region is exactly 2^32 bytes.
func Decode(r io.Reader) (*sparseimage.SparseImage, error) {
	br := bufio.NewReader(r)

	eip, err := readUint32(br)
	if err != nil {
		return nil, fmt.Errorf("binfmt: reading EIP: %w", err)
	}
	cs, err := readUint32(br)
	if err != nil {
		return nil, fmt.Errorf("binfmt: reading CS: %w", err)
	}
	ip, err := readUint32(br)
	if err != nil {
		return nil, fmt.Errorf("binfmt: reading IP: %w", err)
	}

	if eip != unset && eip > 0xFFFFFFFF {
		return nil, fmt.Errorf("binfmt: EIP out of range")
	}

	csValid := cs != unset
	ipValid := ip != unset
	if csValid != ipValid {
		return nil, fmt.Errorf("binfmt: CS and IP must both be set or both be unset")
	}
	if csValid && (cs > maxCSIP || ip > maxCSIP) {
		return nil, fmt.Errorf("binfmt: CS/IP out of range")
	}

	img := sparseimage.New(sparseimage.Mode32Bit)
	if eip != unset {
		img.EIP = eip
		img.EIPSet = true
	}
	if csValid {
		img.CS = uint16(cs)
		img.IP = uint16(ip)
		img.CSIPSet = true
	}

	for {
		_, err := br.Peek(1)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("binfmt: reading region header: %w", err)
		}

		base, err := readUint32(br)
		if err != nil {
			return nil, fmt.Errorf("binfmt: reading region base address: %w", err)
		}
		rawSize, err := readUint32(br)
		if err != nil {
			return nil, fmt.Errorf("binfmt: reading region size: %w", err)
		}

		size := uint64(rawSize)
		if size == 0 {
			size = 0x100000000
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, fmt.Errorf("binfmt: reading region payload: %w", err)
		}

		if err := img.Insert(uint64(base), payload); err != nil {
			return nil, fmt.Errorf("binfmt: inserting region: %w", err)
		}
	}

	return img, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// Encode writes img to w as a binary envelope: the EIP/CS/IP header
// followed by one (base, size, payload) triple per region. A region
// whose true size is exactly 2^32 bytes is persisted with size = 0.
func Encode(w io.Writer, img *sparseimage.SparseImage) error {
	bw := bufio.NewWriter(w)

	eip := uint32(unset)
	if img.EIPSet {
		eip = img.EIP
	}
	if err := writeUint32(bw, eip); err != nil {
		return err
	}

	cs, ip := uint32(unset), uint32(unset)
	if img.CSIPSet {
		cs, ip = uint32(img.CS), uint32(img.IP)
	}
	if err := writeUint32(bw, cs); err != nil {
		return err
	}
	if err := writeUint32(bw, ip); err != nil {
		return err
	}

	for _, region := range img.Regions() {
		if err := writeUint32(bw, uint32(region.BaseAddress)); err != nil {
			return err
		}

		size := region.Size()
		persistedSize := uint32(size)
		if size == 0x100000000 {
			persistedSize = 0
		}
		if err := writeUint32(bw, persistedSize); err != nil {
			return err
		}

		payload := make([]byte, size)
		if err := img.CopyOut(region.BaseAddress, size, payload); err != nil {
			return fmt.Errorf("binfmt: reading region for encode: %w", err)
		}
		if _, err := bw.Write(payload); err != nil {
			return err
		}
	}

	return bw.Flush()
}

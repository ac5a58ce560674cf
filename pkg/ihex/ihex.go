// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package ihex translates between the Intel-Hex textual record format and
// a sparseimage.SparseImage.
package ihex

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bbnote/ccdbg/pkg/sparseimage"
)

const (
	recordData byte = 0x00
	recordEOF  byte = 0x01
	recordESA  byte = 0x02
	recordSSA  byte = 0x03
	recordELA  byte = 0x04
	recordSLA  byte = 0x05
)

// DefaultRecordLength is the DATA-record payload size Encode uses unless
// the caller asks for something else.
const DefaultRecordLength = 16

// MaxRecordLength is the largest byte count a single-byte length field
// can carry.
const MaxRecordLength = 255

// Error is returned for every malformed-input condition Decode can hit:
// bad checksum, bad record, truncated file, duplicate SLA/SSA.
type Error struct {
	Line    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ihex: line %d: %s", e.Line, e.Message)
}

func newError(line int, format string, args ...interface{}) error {
	return &Error{Line: line, Message: fmt.Sprintf(format, args...)}
}

// Options controls Decode's tolerance for unrecognized record types.
type Options struct {
	IgnoreUnknownRecords bool
}

// Decode parses an Intel-Hex file from r into a SparseImage. The image's
// AddressMode is inferred from the highest-order extended-address record
// it contains: Mode8Bit if no extended record ever appears, Mode16Bit for
// ESA, Mode32Bit for ELA.
func Decode(r io.Reader, opts Options) (*sparseimage.SparseImage, error) {
	img := sparseimage.New(sparseimage.Mode8Bit)

	scanner := bufio.NewScanner(r)

	var baseAddress uint32
	isLinear := true
	lineNum := 0
	sawEOF := false

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if sawEOF {
			return nil, newError(lineNum, "data found after EOF record")
		}

		record, err := parseRecordLine(line)
		if err != nil {
			return nil, newError(lineNum, "%v", err)
		}

		switch record.recordType {
		case recordData:
			img.UpdateEndAddress(uint64(baseAddress) + uint64(record.offset) + uint64(len(record.data)))

			offset := record.offset
			remaining := record.data
			for len(remaining) > 0 {
				var address uint64
				var chunkSize int

				if isLinear {
					address = uint64(baseAddress) + uint64(offset)
					span := uint64(0xFFFFFFFF) - address + 1
					chunkSize = len(remaining)
					if span < uint64(chunkSize) {
						chunkSize = int(span)
					}
				} else {
					off := offset & 0xffff
					address = uint64(baseAddress) + uint64(off)
					span := uint32(0x10000) - uint32(off)
					chunkSize = len(remaining)
					if int(span) < chunkSize {
						chunkSize = int(span)
					}
				}

				if err := img.Insert(address, remaining[:chunkSize]); err != nil {
					return nil, newError(lineNum, "inserting data record: %v", err)
				}

				remaining = remaining[chunkSize:]
				offset += uint16(chunkSize)
			}

		case recordEOF:
			if len(record.data) != 0 || record.offset != 0 {
				return nil, newError(lineNum, "malformed EOF record")
			}
			sawEOF = true

		case recordESA:
			if len(record.data) != 2 || record.offset != 0 {
				return nil, newError(lineNum, "malformed extended segment address record")
			}
			baseAddress = (uint32(record.data[0])<<8 | uint32(record.data[1])) << 4
			isLinear = false
			img.UpdateEndAddress(0xFFFFF)

		case recordELA:
			if len(record.data) != 2 || record.offset != 0 {
				return nil, newError(lineNum, "malformed extended linear address record")
			}
			baseAddress = (uint32(record.data[0])<<8 | uint32(record.data[1])) << 16
			isLinear = true
			img.UpdateEndAddress(0xFFFFFFFF)

		case recordSSA:
			if len(record.data) != 4 || record.offset != 0 {
				return nil, newError(lineNum, "malformed start segment address record")
			}
			if img.CSIPSet {
				return nil, newError(lineNum, "duplicate start segment address record")
			}
			img.CS = uint16(record.data[0])<<8 | uint16(record.data[1])
			img.IP = uint16(record.data[2])<<8 | uint16(record.data[3])
			img.CSIPSet = true

		case recordSLA:
			if len(record.data) != 4 || record.offset != 0 {
				return nil, newError(lineNum, "malformed start linear address record")
			}
			if img.EIPSet {
				return nil, newError(lineNum, "duplicate start linear address record")
			}
			img.EIP = uint32(record.data[0])<<24 | uint32(record.data[1])<<16 | uint32(record.data[2])<<8 | uint32(record.data[3])
			img.EIPSet = true

		default:
			if !opts.IgnoreUnknownRecords {
				return nil, newError(lineNum, "unknown record type 0x%02x", record.recordType)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ihex: reading file: %w", err)
	}
	if !sawEOF {
		return nil, newError(lineNum, "missing EOF record")
	}

	return img, nil
}

type hexRecord struct {
	byteCount  byte
	offset     uint16
	recordType byte
	data       []byte
}

// parseRecordLine decodes one ":LLAAAATT[DD...]CC" line, validating the
// mod-256 checksum across byte count, offset, type and data.
func parseRecordLine(line string) (hexRecord, error) {
	if len(line) < 11 || line[0] != ':' {
		return hexRecord{}, fmt.Errorf("record mark not found")
	}

	raw, err := decodeHexString(line[1:])
	if err != nil {
		return hexRecord{}, err
	}
	if len(raw) < 5 {
		return hexRecord{}, fmt.Errorf("record too short")
	}

	byteCount := raw[0]
	offset := uint16(raw[1])<<8 | uint16(raw[2])
	recordType := raw[3]

	if len(raw) != int(byteCount)+5 {
		return hexRecord{}, fmt.Errorf("record byte count does not match line length")
	}

	data := raw[4 : 4+int(byteCount)]
	checksumByte := raw[4+int(byteCount)]

	sum := int(byteCount) + int(offset>>8) + int(offset&0xff) + int(recordType)
	for _, b := range data {
		sum += int(b)
	}
	sum += int(checksumByte)

	if sum&0xff != 0 {
		return hexRecord{}, fmt.Errorf("wrong record checksum")
	}

	return hexRecord{byteCount: byteCount, offset: offset, recordType: recordType, data: data}, nil
}

func decodeHexString(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex data")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexDigit(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexDigit(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}

// Encode writes img to w as Intel-Hex text, chunking each region's
// payload into recordLength-byte DATA records (0 selects
// DefaultRecordLength) and emitting ESA/ELA records whenever the
// high-order part of the address changes.
func Encode(w io.Writer, img *sparseimage.SparseImage, recordLength int) error {
	if recordLength <= 0 {
		recordLength = DefaultRecordLength
	}
	if recordLength > MaxRecordLength {
		recordLength = MaxRecordLength
	}

	bw := bufio.NewWriter(w)

	if img.EIPSet {
		if err := writeRecord(bw, recordSLA, 0, be32(img.EIP)); err != nil {
			return err
		}
	}
	if img.CSIPSet {
		address := uint32(img.CS)<<16 | uint32(img.IP)
		if err := writeRecord(bw, recordSSA, 0, be32(address)); err != nil {
			return err
		}
	}

	extendedType := recordESA
	if img.Mode == sparseimage.Mode32Bit {
		extendedType = recordELA
	}

	for _, region := range img.Regions() {
		baseAddress := region.BaseAddress
		memorySize := region.Size()
		endAddress := baseAddress + memorySize

		for baseAddress < endAddress {
			var offset uint32
			var size uint64

			switch img.Mode {
			case sparseimage.Mode8Bit:
				size = memorySize
				offset = uint32(baseAddress)

			case sparseimage.Mode32Bit:
				offset = uint32(baseAddress & 0xffff)
				address := uint32(baseAddress >> 16)
				if err := writeRecord(bw, extendedType, 0, be16(uint16(address))); err != nil {
					return err
				}
				size = memorySize
				if span := uint64(0x10000 - offset); span < size {
					size = span
				}

			default: // Mode16Bit
				offset = uint32(baseAddress & 0xf)
				address := uint32(baseAddress >> 4)
				if err := writeRecord(bw, extendedType, 0, be16(uint16(address))); err != nil {
					return err
				}
				size = memorySize
				if span := uint64(0x10000 - offset); span < size {
					size = span
				}
			}

			chunkData := make([]byte, size)
			if err := img.CopyOut(baseAddress, size, chunkData); err != nil {
				return fmt.Errorf("ihex: reading region for encode: %w", err)
			}

			for i := uint64(0); i < size; {
				length := size - i
				if length > uint64(recordLength) {
					length = uint64(recordLength)
				}

				if err := writeRecord(bw, recordData, uint16(offset)+uint16(i), chunkData[i:i+length]); err != nil {
					return err
				}
				i += length
			}

			baseAddress += size
			memorySize -= size
		}
	}

	if err := writeRecord(bw, recordEOF, 0, nil); err != nil {
		return err
	}

	return bw.Flush()
}

func be16(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func writeRecord(w io.Writer, recordType byte, offset uint16, data []byte) error {
	sum := len(data) + int(offset>>8) + int(offset&0xff) + int(recordType)
	for _, b := range data {
		sum += int(b)
	}
	checksum := byte(0x100 - (sum & 0xff))

	var sb strings.Builder
	sb.WriteByte(':')
	fmt.Fprintf(&sb, "%02X%04X%02X", len(data), offset, recordType)
	for _, b := range data {
		fmt.Fprintf(&sb, "%02X", b)
	}
	fmt.Fprintf(&sb, "%02X\n", checksum)

	_, err := io.WriteString(w, sb.String())
	return err
}

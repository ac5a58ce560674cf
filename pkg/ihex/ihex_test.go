// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ihex

import (
	"strings"
	"testing"

	"github.com/bbnote/ccdbg/pkg/sparseimage"
)

func TestEncodeSingleDataRecord(t *testing.T) {
	img := sparseimage.New(sparseimage.Mode8Bit)
	if err := img.Insert(0, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	var out strings.Builder
	if err := Encode(&out, img, 0); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	want := ":03000000010203F7\n:00000001FF\n"
	if out.String() != want {
		t.Fatalf("Encode output = %q, want %q", out.String(), want)
	}
}

func TestDecodeSingleDataRecord(t *testing.T) {
	input := ":03000000010203F7\n:00000001FF\n"

	img, err := Decode(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	regions := img.Regions()
	if len(regions) != 1 || regions[0].BaseAddress != 0 || regions[0].Size() != 3 {
		t.Fatalf("Decode regions = %+v, want one region at 0 of size 3", regions)
	}

	got := make([]byte, 3)
	if err := img.CopyOut(0, 3, got); err != nil {
		t.Fatalf("CopyOut returned error: %v", err)
	}
	want := []byte{0x01, 0x02, 0x03}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("CopyOut = % x, want % x", got, want)
		}
	}
}

func TestDecodeExtendedLinearAddressRecord(t *testing.T) {
	// ELA selecting base 0x00100000, followed by a 4-byte data record at
	// offset 0 within that window.
	input := ":020000040010EA\n:0400000055AA55AAFE\n:00000001FF\n"

	img, err := Decode(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if img.Mode != sparseimage.Mode32Bit {
		t.Fatalf("Mode after ELA record = %v, want Mode32Bit", img.Mode)
	}

	regions := img.Regions()
	if len(regions) != 1 || regions[0].BaseAddress != 0x00100000 || regions[0].Size() != 4 {
		t.Fatalf("Decode regions = %+v, want one region at 0x100000 of size 4", regions)
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	input := ":03000000010203F6\n:00000001FF\n" // last byte corrupted
	if _, err := Decode(strings.NewReader(input), Options{}); err == nil {
		t.Fatal("Decode with a bad checksum should return an error")
	}
}

func TestDecodeRejectsDuplicateStartLinearAddress(t *testing.T) {
	input := ":0400000500000000F7\n:0400000500000001F6\n:00000001FF\n"
	if _, err := Decode(strings.NewReader(input), Options{}); err == nil {
		t.Fatal("Decode with two SLA records should return an error")
	}
}

func TestDecodeRejectsMissingEOF(t *testing.T) {
	input := ":03000000010203F7\n"
	if _, err := Decode(strings.NewReader(input), Options{}); err == nil {
		t.Fatal("Decode without a trailing EOF record should return an error")
	}
}

func TestDecodeUnknownRecordHonorsIgnoreOption(t *testing.T) {
	input := ":00000006FA\n:00000001FF\n" // record type 0x06 doesn't exist

	if _, err := Decode(strings.NewReader(input), Options{IgnoreUnknownRecords: false}); err == nil {
		t.Fatal("Decode of an unknown record type should fail when not ignored")
	}

	if _, err := Decode(strings.NewReader(input), Options{IgnoreUnknownRecords: true}); err != nil {
		t.Fatalf("Decode of an unknown record type with IgnoreUnknownRecords should succeed, got %v", err)
	}
}

func TestEncodeDecodeRoundTripAcrossRecordBoundaries(t *testing.T) {
	img := sparseimage.New(sparseimage.Mode16Bit)
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i)
	}
	if err := img.Insert(0x20, data); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	var out strings.Builder
	if err := Encode(&out, img, 16); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	decoded, err := Decode(strings.NewReader(out.String()), Options{})
	if err != nil {
		t.Fatalf("Decode of our own Encode output returned error: %v", err)
	}

	got := make([]byte, 40)
	if err := decoded.CopyOut(0x20, 40, got); err != nil {
		t.Fatalf("CopyOut returned error: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("round trip mismatch at byte %d: got %d, want %d", i, got[i], data[i])
		}
	}
}

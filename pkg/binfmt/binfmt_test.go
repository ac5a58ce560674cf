// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package binfmt

import (
	"bytes"
	"testing"

	"github.com/bbnote/ccdbg/pkg/sparseimage"
)

func TestEncodeDecodeRoundTripNoEntryPoint(t *testing.T) {
	img := sparseimage.New(sparseimage.Mode32Bit)
	if err := img.Insert(0x1000, []byte{0x01, 0x02, 0x03, 0x04}); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if decoded.EIPSet || decoded.CSIPSet {
		t.Fatal("decoded image should report EIP/CS/IP unset")
	}

	got := make([]byte, 4)
	if err := decoded.CopyOut(0x1000, 4, got); err != nil {
		t.Fatalf("CopyOut returned error: %v", err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("CopyOut = % x, want % x", got, want)
		}
	}
}

func TestEncodeDecodeRoundTripWithEntryPoint(t *testing.T) {
	img := sparseimage.New(sparseimage.Mode32Bit)
	img.EIP = 0x08001000
	img.EIPSet = true
	if err := img.Insert(0, []byte{0xAA}); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if !decoded.EIPSet || decoded.EIP != 0x08001000 {
		t.Fatalf("decoded EIP = (%v, 0x%x), want (true, 0x08001000)", decoded.EIPSet, decoded.EIP)
	}
}

func TestEncodeDecodeRoundTripWithCSIP(t *testing.T) {
	img := sparseimage.New(sparseimage.Mode32Bit)
	img.CS, img.IP, img.CSIPSet = 0x1234, 0x5678, true
	if err := img.Insert(0, []byte{0xBB}); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if !decoded.CSIPSet || decoded.CS != 0x1234 || decoded.IP != 0x5678 {
		t.Fatalf("decoded CS/IP = (%v, 0x%x, 0x%x), want (true, 0x1234, 0x5678)", decoded.CSIPSet, decoded.CS, decoded.IP)
	}
}

func TestDecodeRejectsMismatchedCSIP(t *testing.T) {
	var buf bytes.Buffer
	writeUint32(&buf, unset)     // eip
	writeUint32(&buf, 0x1234)    // cs set
	writeUint32(&buf, unset)     // ip unset

	if _, err := Decode(&buf); err == nil {
		t.Fatal("Decode with CS set but IP unset should return an error")
	}
}

func TestDecodeRejectsOutOfRangeCSIP(t *testing.T) {
	var buf bytes.Buffer
	writeUint32(&buf, unset)
	writeUint32(&buf, 0x10000) // CS beyond maxCSIP
	writeUint32(&buf, 0)

	if _, err := Decode(&buf); err == nil {
		t.Fatal("Decode with CS > 0xFFFF should return an error")
	}
}

func TestEncodeEmptyImageWritesHeaderOnly(t *testing.T) {
	var out bytes.Buffer
	img := sparseimage.New(sparseimage.Mode32Bit)

	if err := Encode(&out, img); err != nil {
		t.Fatalf("Encode of an empty image returned error: %v", err)
	}
	if out.Len() != 12 {
		t.Fatalf("Encode of an empty image wrote %d bytes, want 12 (header only)", out.Len())
	}
}

func TestDecodeMultipleRegions(t *testing.T) {
	img := sparseimage.New(sparseimage.Mode32Bit)
	if err := img.Insert(0, []byte{0x01}); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if err := img.Insert(0x10000, []byte{0x02, 0x03}); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if len(decoded.Regions()) != 2 {
		t.Fatalf("len(Regions()) = %d, want 2", len(decoded.Regions()))
	}
}

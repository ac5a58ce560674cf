// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

import "testing"

func TestWriteByteShiftsMSBFirst(t *testing.T) {
	pins := newFakePinPort()
	pins.SetDirection(PinDD, Output)
	w := newWireCodec(pins)

	w.writeByte(0xA5)

	got := bytesFromBits(pins.ddOut)
	if len(got) != 1 || got[0] != 0xA5 {
		t.Fatalf("writeByte(0xA5) produced bits decoding to %v, want [0xA5]", got)
	}
}

func TestReadByteSamplesMSBFirst(t *testing.T) {
	pins := newFakePinPort()
	pins.SetDirection(PinDD, Input)
	pins.queueByte(0x5A)
	w := newWireCodec(pins)

	got := w.readByte()
	if got != 0x5A {
		t.Fatalf("readByte() = 0x%02x, want 0x5a", got)
	}
}

func TestResetSequence(t *testing.T) {
	pins := newFakePinPort()
	w := newWireCodec(pins)

	w.reset()

	if pins.dir[PinReset] != Output || pins.dir[PinDC] != Output {
		t.Fatal("reset() must drive RESET and DC as outputs")
	}

	if len(pins.resetHistory) < 2 {
		t.Fatalf("reset() only toggled RESET %d times, want at least high/low/high", len(pins.resetHistory))
	}
	if !pins.resetHistory[0] {
		t.Fatal("reset() must start by driving RESET high")
	}
	if pins.resetHistory[1] {
		t.Fatal("reset() must then drive RESET low before pulsing DC")
	}
	if !pins.resetHistory[len(pins.resetHistory)-1] {
		t.Fatal("reset() must finish by driving RESET high again")
	}

	// two full DC pulses while RESET is low means at least 4 DC edges.
	if len(pins.dcHistory) < 4 {
		t.Fatalf("reset() pulsed DC %d times, want at least 4", len(pins.dcHistory))
	}
}

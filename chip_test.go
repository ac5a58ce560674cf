// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

import "testing"

func TestLookupChipModel(t *testing.T) {
	m, ok := lookupChipModel(chipIDCC2530)
	if !ok || m.name != "CC2530" {
		t.Fatalf("lookupChipModel(CC2530) = %+v, %v", m, ok)
	}

	if _, ok := lookupChipModel(0xff); ok {
		t.Fatal("lookupChipModel(0xff) should not match any chip")
	}
}

func TestDebugStatusHas(t *testing.T) {
	s := StatusDebugLocked | StatusHaltStatus
	if !s.Has(StatusDebugLocked) {
		t.Fatal("expected StatusDebugLocked bit set")
	}
	if s.Has(StatusCPUHalted) {
		t.Fatal("did not expect StatusCPUHalted bit set")
	}
}

func TestIdentifyUnlockedChip(t *testing.T) {
	pins := newFakePinPort()

	// GET_CHIP_ID: id arrives first, then revision.
	readyWith(pins, chipIDCC2530, 0x00)

	// READ_STATUS: oscillator stable, not locked.
	readyWith(pins, byte(StatusOscillatorStable))

	// readByte(REG_CHIPID): MOV DPTR (ignored accumulator), MOVX A,@DPTR -> id.
	readyWith(pins, 0x00)
	readyWith(pins, chipIDCC2530)

	// readByte(REG_CHVER): -> revision.
	readyWith(pins, 0x00)
	readyWith(pins, 0x00)

	// readByte(REG_CHIPINFO0): sizeClass=1 -> flashSize = 16KiB<<1 = 32KiB.
	readyWith(pins, 0x00)
	readyWith(pins, 0x10)

	// readByte(REG_CHIPINFO1): sramSize = (1&7+1)*1KiB = 2KiB.
	readyWith(pins, 0x00)
	readyWith(pins, 0x01)

	// readBytes(ieeeAddress, 8): MOV DPTR, then 8x(MOVX A,@DPTR [+ INC DPTR]).
	ieee := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	readyWith(pins, 0x00)
	for i, b := range ieee {
		readyWith(pins, b)
		if i < len(ieee)-1 {
			readyWith(pins, 0x00)
		}
	}

	c := newCommandEngine(pins)
	info, err := c.identify()
	if err != nil {
		t.Fatalf("identify() returned error: %v", err)
	}

	if info.ID != chipIDCC2530 || info.Name != "CC2530" {
		t.Fatalf("identify() id/name = %v/%v, want CC2530", info.ID, info.Name)
	}
	if info.IsLocked {
		t.Fatal("identify() reported locked, want unlocked")
	}
	if info.FlashSize != 32*1024 {
		t.Fatalf("FlashSize = %d, want %d", info.FlashSize, 32*1024)
	}
	if info.WritableFlashSize != info.FlashSize-flashPageLockBitsSize {
		t.Fatalf("WritableFlashSize = %d, want %d", info.WritableFlashSize, info.FlashSize-flashPageLockBitsSize)
	}
	if info.SRAMSize != 2*1024 {
		t.Fatalf("SRAMSize = %d, want %d", info.SRAMSize, 2*1024)
	}
	if len(info.IEEEAddress) != 8 {
		t.Fatalf("IEEEAddress length = %d, want 8", len(info.IEEEAddress))
	}
	// identify() reports the IEEE address reversed from XDATA order, so
	// the wire bytes 11 22 33 44 55 66 77 88 come back as 88 77 66 55 44
	// 33 22 11.
	for i := range ieee {
		want := ieee[len(ieee)-1-i]
		if info.IEEEAddress[i] != want {
			t.Fatalf("IEEEAddress[%d] = 0x%02x, want 0x%02x", i, info.IEEEAddress[i], want)
		}
	}
}

func TestIdentifyLockedChipSkipsGeometry(t *testing.T) {
	pins := newFakePinPort()
	readyWith(pins, chipIDCC2531, 0x03)
	readyWith(pins, byte(StatusDebugLocked))

	c := newCommandEngine(pins)
	info, err := c.identify()
	if err != nil {
		t.Fatalf("identify() returned error: %v", err)
	}
	if !info.IsLocked {
		t.Fatal("identify() should report locked chip")
	}
	if info.FlashSize != 0 {
		t.Fatalf("locked chip should not report flash size, got %d", info.FlashSize)
	}
}

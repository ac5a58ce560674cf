// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

import (
	"errors"
	"testing"
)

func TestReadBytesSynthesizesInstructions(t *testing.T) {
	pins := newFakePinPort()
	readyWith(pins, 0x00)       // MOV DPTR,#0x1234
	readyWith(pins, 0xAA)       // MOVX A,@DPTR -> 0xAA
	readyWith(pins, 0x00)       // INC DPTR
	readyWith(pins, 0xBB)       // MOVX A,@DPTR -> 0xBB

	m := &memoryOps{cmd: newCommandEngine(pins)}
	data, err := m.readBytes(0x1234, 2)
	if err != nil {
		t.Fatalf("readBytes returned error: %v", err)
	}
	if len(data) != 2 || data[0] != 0xAA || data[1] != 0xBB {
		t.Fatalf("readBytes = %v, want [0xAA 0xBB]", data)
	}

	written := bytesFromBits(pins.ddOut)
	// MOV DPTR,#0x1234 -> command byte + 0x90,0x12,0x34
	wantSetDPTR := byte(DebugCommandDebugInstr)<<3 | 0x3
	if written[0] != wantSetDPTR || written[1] != 0x90 || written[2] != 0x12 || written[3] != 0x34 {
		t.Fatalf("MOV DPTR instruction framing = % x, want cmd,0x90,0x12,0x34", written[:4])
	}
}

func TestWriteBytesVerifyDetectsMismatch(t *testing.T) {
	pins := newFakePinPort()
	readyWith(pins, 0x00) // MOV DPTR
	readyWith(pins, 0x00) // MOV A,#0xAA
	readyWith(pins, 0x00) // MOVX @DPTR,A
	readyWith(pins, 0x00) // MOV DPTR (readback setDPTR)
	readyWith(pins, 0xFF) // MOVX A,@DPTR -> mismatch (expected 0xAA)

	m := &memoryOps{cmd: newCommandEngine(pins)}
	err := m.writeByte(0x2000, 0xAA, true)

	var ccErr *Error
	if !errors.As(err, &ccErr) || ccErr.Kind != KindVerifyFailed {
		t.Fatalf("writeByte verify error = %v, want KindVerifyFailed", err)
	}
}

func TestWriteBytesVerifySucceeds(t *testing.T) {
	pins := newFakePinPort()
	readyWith(pins, 0x00) // MOV DPTR
	readyWith(pins, 0x00) // MOV A,#0xAA
	readyWith(pins, 0x00) // MOVX @DPTR,A
	readyWith(pins, 0x00) // MOV DPTR (readback setDPTR)
	readyWith(pins, 0xAA) // MOVX A,@DPTR -> matches

	m := &memoryOps{cmd: newCommandEngine(pins)}
	if err := m.writeByte(0x2000, 0xAA, true); err != nil {
		t.Fatalf("writeByte returned error: %v", err)
	}
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

// 8051 opcodes synthesized into DEBUG_INSTR payloads to move data between
// the debugger and XDATA through the accumulator and DPTR.
const (
	opMovDPTR  = 0x90 // MOV DPTR,#data16
	opMovxARd  = 0xe0 // MOVX A,@DPTR
	opMovAData = 0x74 // MOV A,#data
	opMovxWr   = 0xf0 // MOVX @DPTR,A
	opIncDPTR  = 0xa3 // INC DPTR
)

// memoryOps implements byte-addressed XDATA access by synthesizing 8051
// instructions and running them one at a time through DEBUG_INSTR. It has
// no state of its own beyond the commandEngine it rides on.
type memoryOps struct {
	cmd *commandEngine
}

func (m *memoryOps) setDPTR(address uint16) error {
	instr := []byte{opMovDPTR, byte(address >> 8), byte(address)}
	_, err := m.cmd.executeInstruction(instr)
	return err
}

// readBytes reads size consecutive bytes from XDATA starting at address.
func (m *memoryOps) readBytes(address uint16, size int) ([]byte, error) {
	if size <= 0 {
		return nil, wrapError(KindBadRange, "read size must be positive", nil)
	}

	if err := m.setDPTR(address); err != nil {
		return nil, wrapError(KindWire, "setting DPTR", err)
	}

	data := make([]byte, size)
	for i := 0; i < size; i++ {
		value, err := m.cmd.executeInstruction([]byte{opMovxARd})
		if err != nil {
			return nil, wrapError(KindWire, "executing MOVX A,@DPTR", err)
		}
		data[i] = value

		if i+1 < size {
			if _, err := m.cmd.executeInstruction([]byte{opIncDPTR}); err != nil {
				return nil, wrapError(KindWire, "executing INC DPTR", err)
			}
		}
	}

	return data, nil
}

func (m *memoryOps) readByte(address uint16) (byte, error) {
	data, err := m.readBytes(address, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// writeBytes writes data to XDATA starting at address. When verify is set,
// every written byte is read back from its own advancing address and
// compared; a mismatch anywhere returns a KindVerifyFailed error (which
// matches ErrVerifyFailed under errors.Is). The error does not name the
// offending offset.
func (m *memoryOps) writeBytes(address uint16, data []byte, verify bool) error {
	if len(data) == 0 {
		return wrapError(KindBadRange, "write size must be positive", nil)
	}

	if err := m.setDPTR(address); err != nil {
		return wrapError(KindWire, "setting DPTR", err)
	}

	for i, b := range data {
		if _, err := m.cmd.executeInstruction([]byte{opMovAData, b}); err != nil {
			return wrapError(KindWire, "executing MOV A,#data", err)
		}
		if _, err := m.cmd.executeInstruction([]byte{opMovxWr}); err != nil {
			return wrapError(KindWire, "executing MOVX @DPTR,A", err)
		}

		if i+1 < len(data) {
			if _, err := m.cmd.executeInstruction([]byte{opIncDPTR}); err != nil {
				return wrapError(KindWire, "executing INC DPTR", err)
			}
		}
	}

	if !verify {
		return nil
	}

	// Each byte is re-read at its own address, which advances on every
	// iteration — unlike re-issuing the read against the original fixed
	// address, which would silently compare every byte against data[0].
	for i, want := range data {
		addr := address + uint16(i)
		got, err := m.readByte(addr)
		if err != nil {
			return wrapError(KindWire, "reading back during verify", err)
		}
		if got != want {
			return wrapError(KindVerifyFailed, "readback mismatch during write", nil)
		}
	}

	return nil
}

func (m *memoryOps) writeByte(address uint16, value byte, verify bool) error {
	return m.writeBytes(address, []byte{value}, verify)
}

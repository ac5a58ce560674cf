// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

// Core is the narrow, public entry point to the package: one Core talks
// to exactly one chip through exactly one PinPort. Programs that drive
// several probes at once construct one Core per PinPort rather than
// sharing a single Core across devices.
type Core struct {
	cmd   *commandEngine
	info  ChipInfo
	flash *flashOps
}

// NewCore wires a Core on top of the given PinPort. The chip is not
// touched until Identify is called.
func NewCore(pins PinPort) *Core {
	cmd := newCommandEngine(pins)
	core := &Core{cmd: cmd}
	core.flash = newFlashOps(cmd, &core.info)
	return core
}

// Identify resets the chip, reads its ID/revision/lock status and, if
// unlocked, its flash and SRAM geometry and IEEE address. The resulting
// ChipInfo is cached on the Core and returned by Info until the next
// Identify, EraseFlash or Lock call refreshes it.
func (c *Core) Identify() (ChipInfo, error) {
	info, err := c.cmd.identify()
	if err != nil {
		return ChipInfo{}, err
	}
	c.info = info
	return c.info, nil
}

// Info returns the ChipInfo captured by the most recent Identify call.
func (c *Core) Info() ChipInfo {
	return c.info
}

// ExecuteInstruction runs a single raw 8051 instruction (1 to 3 bytes,
// the range the DEBUG_INSTR command's 2-bit length field encodes; the
// length is not checked) and returns the accumulator value the chip
// echoes back.
func (c *Core) ExecuteInstruction(instruction []byte) (byte, error) {
	return c.cmd.executeInstruction(instruction)
}

// Halt and Resume stop and restart CPU execution without disturbing flash
// or memory state.
func (c *Core) Halt() error   { return c.cmd.halt() }
func (c *Core) Resume() error { return c.cmd.resume() }

// ReadMemory reads size bytes of XDATA starting at address.
func (c *Core) ReadMemory(address uint16, size int) ([]byte, error) {
	return (&memoryOps{cmd: c.cmd}).readBytes(address, size)
}

// WriteMemory writes data to XDATA starting at address, optionally
// verifying each byte by reading it back from its own advancing address.
func (c *Core) WriteMemory(address uint16, data []byte, verify bool) error {
	return (&memoryOps{cmd: c.cmd}).writeBytes(address, data, verify)
}

// ReadFlash reads size bytes of writable flash starting at address. The
// returned count reports how many bytes were actually read; on a partial
// failure it is less than size and err is non-nil.
func (c *Core) ReadFlash(address uint32, size uint32) ([]byte, uint32, error) {
	if c.info.IsLocked {
		return nil, 0, ErrChipLocked
	}
	return c.flash.readFlashRange(address, size)
}

// WriteFlash writes data into writable flash starting at address,
// unlocking any pages it touches and merging partial-page writes with
// their existing contents. The returned count reports how many bytes were
// actually written; on a partial failure it is less than len(data) and
// err is non-nil.
func (c *Core) WriteFlash(address uint32, data []byte, verify bool) (uint32, error) {
	if c.info.IsLocked {
		return 0, ErrChipLocked
	}
	return c.flash.writeFlashRange(address, data, verify)
}

// ReadFlashPage reads exactly one flash page, identified by page index.
func (c *Core) ReadFlashPage(page uint32) ([]byte, error) {
	if c.info.IsLocked {
		return nil, ErrChipLocked
	}
	return c.flash.readFlashPage(page)
}

// WriteFlashPage writes exactly one flash page, erasing it first.
func (c *Core) WriteFlashPage(page uint32, data []byte, verify bool) error {
	if c.info.IsLocked {
		return ErrChipLocked
	}
	return c.flash.writeFlashPageVerified(page, data, verify)
}

// ErasePage erases exactly one flash page.
func (c *Core) ErasePage(page uint32) error {
	if c.info.IsLocked {
		return ErrChipLocked
	}
	return c.flash.eraseFlashPage(page)
}

// EraseFlash mass-erases the chip, which also clears the lock-bit bitmap
// and the debug-interface lock, then re-identifies it.
func (c *Core) EraseFlash() error {
	return c.flash.eraseFlash()
}

// IsPageLocked reports whether a given flash page is currently
// write/erase-protected.
func (c *Core) IsPageLocked(page uint32) (bool, error) {
	if c.info.IsLocked {
		return false, ErrChipLocked
	}
	return c.flash.isFlashPageLocked(page)
}

// LockPages and UnlockPages flip the lock-bit bitmap for a contiguous run
// of flash pages.
func (c *Core) LockPages(startPage, numberOfPages uint32) error {
	if c.info.IsLocked {
		return ErrChipLocked
	}
	return c.flash.lockFlashPages(startPage, numberOfPages)
}

func (c *Core) UnlockPages(startPage, numberOfPages uint32) error {
	if c.info.IsLocked {
		return ErrChipLocked
	}
	return c.flash.unlockFlashPages(startPage, numberOfPages)
}

// Lock permanently disables the debug interface by clearing the top bit
// of the last flash byte. This cannot be undone short of a mass erase.
func (c *Core) Lock() error {
	return c.flash.lock()
}

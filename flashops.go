// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

import (
	"github.com/boljen/go-bitmap"
)

const (
	regMemctr   = 0x70c7
	regFaddrL   = 0x6271
	regFaddrH   = 0x6272
	regFctl     = 0x6270
	regDMA1CfgL = 0x70d2
	regDMA1CfgH = 0x70d3
	regDMA0CfgL = 0x70d4
	regDMA0CfgH = 0x70d5
	regDMAArm   = 0x70d6
	regXDATA    = 0x8000
)

const (
	fctlErase = 0x01
	fctlWrite = 0x02
	fctlAbort = 0x20
	fctlFull  = 0x40
	fctlBusy  = 0x80
	fctlCM    = 0x04
)

const maximumFlashPageSize = 2 * 1024

// flashOps implements every flash-memory operation — bank-windowed reads,
// DMA-driven page writes, page erase, and the lock-bit bitmap — on top of
// a memoryOps/commandEngine pair and the geometry recorded in a ChipInfo.
type flashOps struct {
	cmd  *commandEngine
	mem  *memoryOps
	info *ChipInfo
}

func newFlashOps(cmd *commandEngine, info *ChipInfo) *flashOps {
	return &flashOps{cmd: cmd, mem: &memoryOps{cmd: cmd}, info: info}
}

// readFlash reads size bytes from flash starting at address by paging
// REG_MEMCTR through the 32 KiB banks that map onto the 0x8000 XDATA
// window, one bank-crossing read at a time. The returned count is always
// valid, even on error: it reports how many bytes were actually read
// before the failure, so callers can report progress instead of the
// bitwise-NOT-of-count signal the original driver used.
func (f *flashOps) readFlash(address uint32, size uint32) ([]byte, uint32, error) {
	out := make([]byte, size)
	var read uint32

	for read < size {
		bank := byte(address / f.info.FlashBankSize)
		if err := f.mem.writeByte(regMemctr, bank, true); err != nil {
			return out[:read], read, wrapError(KindWire, "selecting flash bank", err)
		}

		bankSize := ((uint32(bank) + 1) * f.info.FlashBankSize) - address
		if read+bankSize > size {
			bankSize = size - read
		}

		chunk, err := f.mem.readBytes(uint16(regXDATA+(address%f.info.FlashBankSize)), int(bankSize))
		if err != nil {
			return out[:read], read, wrapError(KindWire, "reading flash bank window", err)
		}
		copy(out[read:], chunk)

		read += bankSize
		address += bankSize
	}

	return out, read, nil
}

// writeFlashPage transfers exactly one full page of data into flash via
// the dual-DMA descriptor dance: DBGDATA -> SRAM, then SRAM -> FWDATA.
func (f *flashOps) writeFlashPage(page uint32, data []byte, eraseFirst bool) error {
	if eraseFirst {
		if err := f.eraseFlashPage(page); err != nil {
			return err
		}
	} else if page >= f.info.NumberOfFlashPages {
		return wrapError(KindBadRange, "flash page out of range", nil)
	}

	cfg, err := f.cmd.readConfig()
	if err != nil {
		return wrapError(KindWire, "reading debug config", err)
	}
	cfg &^= ConfigDMAPaused
	if err := f.cmd.writeConfig(cfg); err != nil {
		return wrapError(KindWire, "enabling DMA", err)
	}

	status, err := f.cmd.readStatus()
	if err != nil {
		return wrapError(KindWire, "reading debug status", err)
	}
	if status.Has(StatusChipEraseBusy) || status.Has(StatusPconIdle) || status.Has(StatusPMActive) || status.Has(StatusDebugLocked) {
		return wrapError(KindFlashTimeout, "chip not ready for flash write", nil)
	}

	pageSizeHi := byte(f.info.FlashPageSize >> 8)
	pageSizeLo := byte(f.info.FlashPageSize)

	descriptors := []byte{
		// source descriptor: DBGDATA (0x6260) -> SRAM (0x0010)
		0x62, 0x60,
		0x00, 0x10,
		pageSizeHi, pageSizeLo,
		31,   // trigger: DBG_BW
		0x11, // src increment 0, dst increment 1, priority assured

		// destination descriptor: SRAM (0x0010) -> FWDATA (0x6273)
		0x00, 0x10,
		0x62, 0x73,
		pageSizeHi, pageSizeLo,
		18,   // trigger: FLASH
		0x42, // src increment 1, dst increment 0, priority high
	}

	if err := f.mem.writeBytes(0x0000, descriptors, true); err != nil {
		return wrapError(KindWire, "writing DMA descriptor data", err)
	}

	descriptorAddresses := []byte{0x08, 0x00, 0x00, 0x00}
	if err := f.mem.writeBytes(regDMA1CfgL, descriptorAddresses, true); err != nil {
		return wrapError(KindWire, "writing DMA descriptor addresses", err)
	}

	faddr := (page * f.info.FlashPageSize) >> 2
	if err := f.mem.writeBytes(regFaddrL, []byte{byte(faddr), byte(faddr >> 8)}, true); err != nil {
		return wrapError(KindWire, "writing FADDR", err)
	}

	if err := f.mem.writeByte(regDMAArm, 0x01, true); err != nil {
		return wrapError(KindWire, "arming DMA0", err)
	}

	if _, err := f.cmd.burstWrite(data); err != nil {
		return wrapError(KindWire, "burst-writing flash page", err)
	}

	if err := f.mem.writeByte(regDMAArm, 0x02, true); err != nil {
		return wrapError(KindWire, "arming DMA1", err)
	}

	if err := f.mem.writeByte(regFctl, fctlWrite|fctlCM, false); err != nil {
		return wrapError(KindWire, "starting flash DMA write", err)
	}

	return f.waitForFlashController()
}

// waitForFlashController polls FCTL until the BUSY bit clears, then checks
// that none of ERASE/WRITE/ABORT/FULL are set.
func (f *flashOps) waitForFlashController() error {
	for {
		value, err := f.mem.readByte(regFctl)
		if err != nil {
			return wrapError(KindWire, "reading FCTL", err)
		}
		if value&fctlBusy == 0 {
			if value&(fctlErase|fctlWrite|fctlAbort|fctlFull) != 0 {
				return wrapError(KindFlashTimeout, "flash controller reported failure", nil)
			}
			return nil
		}
	}
}

// writeFlash writes data into flash starting at address, merging each
// touched page with its existing contents before rewriting it (unless the
// write covers that full page, in which case it skips the read-merge). A
// write of at least WritableFlashSize bytes mass-erases the chip first
// and skips the per-page erase. The returned count is always valid, even on error: it
// reports how many bytes were actually written before the failure, so
// callers can report progress instead of the bitwise-NOT-of-count signal
// the original driver used.
func (f *flashOps) writeFlash(address uint32, data []byte, verify bool, unlock bool) (uint32, error) {
	size := uint32(len(data))
	page := address / f.info.FlashPageSize
	dataBytes := f.info.FlashPageSize - (address % f.info.FlashPageSize)
	erasePage := true

	if size >= f.info.WritableFlashSize {
		if err := f.eraseFlash(); err != nil {
			return 0, err
		}
		erasePage = false
	} else if unlock {
		lastPage := ((address + size + f.info.FlashPageSize - 1) / f.info.FlashPageSize) - page
		if err := f.unlockFlashPages(page, lastPage); err != nil {
			return 0, err
		}
	}

	var bytesWritten uint32
	for bytesWritten < size {
		pageAddress := page * f.info.FlashPageSize
		if bytesWritten+dataBytes > size {
			dataBytes = size - bytesWritten
		}

		var writeData []byte
		if dataBytes != f.info.FlashPageSize {
			existing, _, err := f.readFlash(pageAddress, f.info.FlashPageSize)
			if err != nil {
				return bytesWritten, wrapError(KindWire, "reading flash page before merge", err)
			}

			offset := address % f.info.FlashPageSize
			changed := false
			for k := uint32(0); k < dataBytes; k++ {
				if existing[offset+k] != data[bytesWritten+k] {
					existing[offset+k] = data[bytesWritten+k]
					changed = true
				}
			}
			if changed {
				writeData = existing
			}
		} else {
			writeData = data[bytesWritten : bytesWritten+dataBytes]
		}

		status, err := f.mem.readByte(regFctl)
		if err != nil {
			return bytesWritten, wrapError(KindWire, "reading FCTL before page write", err)
		}
		if status&(fctlErase|fctlWrite|fctlFull|fctlBusy) != 0 {
			return bytesWritten, wrapError(KindFlashTimeout, "flash controller busy before page write", nil)
		}

		if writeData != nil {
			if err := f.writeFlashPage(page, writeData, erasePage); err != nil {
				return bytesWritten, err
			}

			if verify {
				if err := f.verifyFlashPage(pageAddress, writeData); err != nil {
					return bytesWritten, err
				}
			}
		}

		address += dataBytes
		bytesWritten += dataBytes
		dataBytes = f.info.FlashPageSize
		page++
	}

	return bytesWritten, nil
}

// verifyFlashPage re-reads the page just written and retries once on a
// mismatch before giving up, matching the original driver's two-attempt
// tolerance for a flaky first readback.
func (f *flashOps) verifyFlashPage(pageAddress uint32, want []byte) error {
	for attempt := 0; attempt < 2; attempt++ {
		got, _, err := f.readFlash(pageAddress, f.info.FlashPageSize)
		if err != nil {
			return wrapError(KindWire, "reading back flash page for verify", err)
		}
		if bytesEqual(got, want) {
			return nil
		}
	}
	return wrapError(KindVerifyFailed, "flash page readback mismatch", nil)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (f *flashOps) isFlashPageLocked(page uint32) (bool, error) {
	if page >= f.info.NumberOfFlashPages {
		return false, wrapError(KindBadRange, "flash page out of range", nil)
	}

	lockByte, _, err := f.readFlash(f.info.WritableFlashSize+(page/8), 1)
	if err != nil {
		return false, err
	}

	return !bitmap.Get(lockByte, int(page%8)), nil
}

// lockUnlockFlashPages reads the full 16-byte lock-bit bitmap at the top
// of flash, flips the bits for [startPage, startPage+numberOfPages), and
// writes the bitmap back only if something actually changed.
func (f *flashOps) lockUnlockFlashPages(lock bool, startPage uint32, numberOfPages uint32) error {
	if numberOfPages < 1 {
		return wrapError(KindBadRange, "page count must be positive", nil)
	}
	if startPage >= f.info.NumberOfFlashPages {
		return wrapError(KindBadRange, "start page out of range", nil)
	}

	lockBits, _, err := f.readFlash(f.info.WritableFlashSize, flashPageLockBitsSize)
	if err != nil {
		return wrapError(KindWire, "reading lock-bit bitmap", err)
	}

	if startPage+numberOfPages > f.info.NumberOfFlashPages {
		numberOfPages = f.info.NumberOfFlashPages - startPage
	}

	changed := false
	for i := uint32(0); i < numberOfPages; i++ {
		bit := int(startPage + i)
		wasUnlocked := bitmap.Get(lockBits, bit)
		if lock && wasUnlocked {
			changed = true
			bitmap.Set(lockBits, bit, false)
		} else if !lock && !wasUnlocked {
			changed = true
			bitmap.Set(lockBits, bit, true)
		}
	}

	if !changed {
		return nil
	}

	_, err = f.writeFlash(f.info.WritableFlashSize, lockBits, true, false)
	return err
}

func (f *flashOps) lockFlashPages(startPage, numberOfPages uint32) error {
	return f.lockUnlockFlashPages(true, startPage, numberOfPages)
}

func (f *flashOps) unlockFlashPages(startPage, numberOfPages uint32) error {
	return f.lockUnlockFlashPages(false, startPage, numberOfPages)
}

func (f *flashOps) readFlashPage(page uint32) ([]byte, error) {
	if page >= f.info.NumberOfFlashPages {
		return nil, wrapError(KindBadRange, "flash page out of range", nil)
	}
	data, _, err := f.readFlash(page*f.info.FlashPageSize, f.info.FlashPageSize)
	return data, err
}

func (f *flashOps) writeFlashPageVerified(page uint32, data []byte, verify bool) error {
	if page >= f.info.NumberOfFlashPages {
		return wrapError(KindBadRange, "flash page out of range", nil)
	}
	_, err := f.writeFlash(page*f.info.FlashPageSize, data, verify, true)
	return err
}

func (f *flashOps) eraseFlashPage(page uint32) error {
	if page >= f.info.NumberOfFlashPages {
		return wrapError(KindBadRange, "flash page out of range", nil)
	}

	value := byte(page)
	if f.info.ID != chipIDCC2533 {
		value <<= 1
	}

	if err := f.mem.writeByte(regFaddrH, value, true); err != nil {
		return wrapError(KindWire, "writing FADDRH", err)
	}
	if err := f.mem.writeByte(regFctl, fctlErase|fctlCM, false); err != nil {
		return wrapError(KindWire, "starting flash page erase", err)
	}

	return f.waitForFlashController()
}

// readFlashRange reads size bytes of writable flash starting at address,
// clamping size down at the writable boundary. The returned count reports
// how many bytes were actually read, which is less than size on a partial
// failure.
func (f *flashOps) readFlashRange(address uint32, size uint32) ([]byte, uint32, error) {
	if address > f.info.WritableFlashSize {
		return nil, 0, wrapError(KindBadRange, "address beyond writable flash", nil)
	}
	if size < 1 {
		return nil, 0, nil
	}
	if address+size >= f.info.WritableFlashSize {
		size = f.info.WritableFlashSize - address
	}
	return f.readFlash(address, size)
}

// writeFlashRange writes data into writable flash starting at address,
// clamping the write down at the writable boundary and unlocking any
// locked pages it touches before writing them. The returned count reports
// how many bytes were actually written, which is less than len(data) on a
// partial failure.
func (f *flashOps) writeFlashRange(address uint32, data []byte, verify bool) (uint32, error) {
	if address > f.info.WritableFlashSize {
		return 0, wrapError(KindBadRange, "address beyond writable flash", nil)
	}
	if len(data) < 1 {
		return 0, nil
	}
	size := uint32(len(data))
	if address+size >= f.info.WritableFlashSize {
		size = f.info.WritableFlashSize - address
		data = data[:size]
	}
	return f.writeFlash(address, data, verify, true)
}

// eraseFlash mass-erases the chip and re-identifies it, since a chip erase
// resets the lock bits and therefore the debug-lock status.
func (f *flashOps) eraseFlash() error {
	status, err := f.cmd.send(DebugCommandChipErase, nil)
	if err != nil {
		return wrapError(KindWire, "sending chip erase", err)
	}

	for DebugStatus(status).Has(StatusChipEraseBusy) {
		status, err = f.cmd.send(DebugCommandReadStatus, nil)
		if err != nil {
			return wrapError(KindWire, "polling chip erase status", err)
		}
	}

	newInfo, err := f.cmd.identify()
	if err != nil {
		return wrapError(KindWire, "re-identifying chip after erase", err)
	}
	*f.info = newInfo

	if newInfo.IsLocked {
		return wrapError(KindChipLocked, "chip still locked after mass erase", nil)
	}
	logger.Infof("mass erase complete, chip unlocked")
	return nil
}

// lock permanently locks the debug interface by clearing the top bit of
// the last flash byte. Unlike the reference implementation, a failure
// writing that byte back is treated as fatal rather than silently
// ignored: a half-applied lock write leaves the chip in an ambiguous
// state that the caller must be told about.
func (f *flashOps) lock() error {
	if f.info.IsLocked {
		return nil
	}

	address := f.info.FlashSize - 1

	lockByte, _, err := f.readFlash(address, 1)
	if err != nil {
		return wrapError(KindWire, "reading final flash byte", err)
	}

	lockByte[0] &= 0x7f

	if _, err := f.writeFlash(address, lockByte, true, true); err != nil {
		return wrapError(KindWire, "writing debug-lock byte", err)
	}

	newInfo, err := f.cmd.identify()
	if err != nil {
		return wrapError(KindWire, "re-identifying chip after lock", err)
	}
	*f.info = newInfo

	if !newInfo.IsLocked {
		return wrapError(KindChipLocked, "debug interface did not lock", nil)
	}
	logger.Warnf("debug interface permanently locked on %s", newInfo.Name)
	return nil
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

const (
	chipIDCC2530 byte = 0xa5
	chipIDCC2531 byte = 0xb5
	chipIDCC2533 byte = 0x95
	chipIDCC2540 byte = 0x8d
	chipIDCC2541 byte = 0x41
)

const (
	regChipID   = 0x624a
	regChver    = 0x6249
	regChipinfo0 = 0x6276
	regChipinfo1 = 0x6277
)

const flashPageLockBitsSize = 16

// chipModel describes the fixed, per-family facts the driver needs that
// the chip itself can't report: its flash page size, and (for the
// families that expose one) where its IEEE address lives in XDATA.
type chipModel struct {
	id               byte
	name             string
	flashPageSize    uint32
	ieeeAddress      uint16
	ieeeAddressLen   int
}

var chipModels = []chipModel{
	{id: chipIDCC2530, name: "CC2530", flashPageSize: 2 * 1024, ieeeAddress: 0x780c, ieeeAddressLen: 8},
	{id: chipIDCC2531, name: "CC2531", flashPageSize: 2 * 1024, ieeeAddress: 0x780c, ieeeAddressLen: 8},
	{id: chipIDCC2533, name: "CC2533", flashPageSize: 1 * 1024, ieeeAddress: 0x780c, ieeeAddressLen: 8},
	{id: chipIDCC2540, name: "CC2540", flashPageSize: 2 * 1024, ieeeAddress: 0x780e, ieeeAddressLen: 6},
	{id: chipIDCC2541, name: "CC2541", flashPageSize: 2 * 1024, ieeeAddress: 0x780e, ieeeAddressLen: 6},
}

func lookupChipModel(id byte) (chipModel, bool) {
	for _, m := range chipModels {
		if m.id == id {
			return m, true
		}
	}
	return chipModel{}, false
}

// ChipInfo is the result of identifying a chip over the debug interface:
// everything the rest of the package needs to know to read, write, erase
// and lock its flash.
type ChipInfo struct {
	ID                 byte
	Name               string
	Revision           byte
	IsLocked           bool
	FlashSize          uint32
	WritableFlashSize  uint32
	FlashBankSize      uint32
	FlashPageSize      uint32
	NumberOfFlashPages uint32
	SRAMSize           uint32
	IEEEAddress        []byte
}

// identify resets the chip, reads back its ID, version and locked status,
// and — if the debug interface isn't locked — its flash/SRAM geometry and
// IEEE address. A locked chip is returned with every size field zeroed;
// everything beyond ID/Revision/IsLocked is unreadable until the device is
// mass-erased.
func (c *commandEngine) identify() (ChipInfo, error) {
	c.reset()

	raw, err := c.getChipID()
	if err != nil {
		return ChipInfo{}, wrapError(KindWire, "reading chip id", err)
	}

	// The first byte read off the wire lands in the low byte of raw
	// (leUint16 puts out[0] there) and is the chip id; the second byte
	// read is the revision.
	id := byte(raw)
	rev := byte(raw >> 8)

	model, ok := lookupChipModel(id)
	if !ok {
		return ChipInfo{}, wrapError(KindUnknownChip, "chip id not recognized", nil)
	}

	status, err := c.readStatus()
	if err != nil {
		return ChipInfo{}, wrapError(KindWire, "reading debug status", err)
	}

	info := ChipInfo{
		ID:       id,
		Name:     model.name,
		Revision: rev,
		IsLocked: status.Has(StatusDebugLocked),
	}

	if info.IsLocked {
		logger.Warnf("identified %s rev %d, debug interface locked", info.Name, info.Revision)
		return info, nil
	}

	mem := &memoryOps{cmd: c}

	gotID, err := mem.readByte(regChipID)
	if err != nil || gotID != id {
		return ChipInfo{}, wrapError(KindUnknownChip, "chip id readback mismatch", err)
	}

	gotRev, err := mem.readByte(regChver)
	if err != nil || gotRev != rev {
		return ChipInfo{}, wrapError(KindUnknownChip, "chip revision readback mismatch", err)
	}

	info0, err := mem.readByte(regChipinfo0)
	if err != nil {
		return ChipInfo{}, wrapError(KindWire, "reading CHIPINFO0", err)
	}

	sizeClass := info0 >> 4
	if id == chipIDCC2533 && sizeClass == 0x3 {
		info.FlashSize = 96 * 1024
	} else {
		info.FlashSize = (16 * 1024) << sizeClass
	}
	info.WritableFlashSize = info.FlashSize - flashPageLockBitsSize

	info.FlashBankSize = 32 * 1024
	info.FlashPageSize = model.flashPageSize
	info.NumberOfFlashPages = (info.FlashSize + (info.FlashPageSize - 1)) / info.FlashPageSize

	info1, err := mem.readByte(regChipinfo1)
	if err != nil {
		return ChipInfo{}, wrapError(KindWire, "reading CHIPINFO1", err)
	}
	info.SRAMSize = (uint32(info1&0x7) + 1) * 1024

	if model.ieeeAddressLen > 0 {
		addr, err := mem.readBytes(model.ieeeAddress, model.ieeeAddressLen)
		if err != nil {
			return ChipInfo{}, wrapError(KindWire, "reading IEEE address", err)
		}
		// The chip stores the IEEE address little-endian-first in XDATA;
		// reverse it here so ChipInfo.IEEEAddress matches the byte order
		// every tool that prints it (and the original) reports it in.
		for i, j := 0, len(addr)-1; i < j; i, j = i+1, j-1 {
			addr[i], addr[j] = addr[j], addr[i]
		}
		info.IEEEAddress = addr
	}

	logger.Infof("identified %s rev %d, %d bytes flash, %d bytes SRAM", info.Name, info.Revision, info.FlashSize, info.SRAMSize)
	return info, nil
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package usbgpio implements ccdbg.PinPort on top of a USB-attached
// bit-bang adapter: a device that exposes a bulk OUT endpoint for pin
// commands and a bulk IN endpoint for pin-state reads. Each physical
// probe gets its own Adapter, and each Adapter backs exactly one
// ccdbg.Core — the way a host drives several chips at once is by
// instantiating one Adapter/Core pair per probe, not by sharing either
// across devices.
package usbgpio

import (
	"errors"
	"fmt"

	"github.com/bbnote/ccdbg"
	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"
)

// AllVIDs and AllPIDs widen Open's device scan to match any vendor
// or product ID, mirroring the "don't care" sentinel the ST-Link USB
// transport uses for the same purpose.
const (
	AllVIDs = gousb.ID(0xFFFF)
	AllPIDs = gousb.ID(0xFFFF)
)

// Wire-level opcodes sent as the first byte of every two-byte OUT
// command. setState/setDirection carry the pin id in the low nibble of
// the second byte and the requested value in bit 4; getState is answered
// by a single byte read back from the IN endpoint.
const (
	opSetDirection byte = 0x01
	opSetState     byte = 0x02
	opGetState     byte = 0x03
)

func pinCode(pin ccdbg.PinId) byte {
	switch pin {
	case ccdbg.PinReset:
		return 0x0
	case ccdbg.PinDC:
		return 0x1
	case ccdbg.PinDD:
		return 0x2
	default:
		return 0xf
	}
}

// Config names the USB device to open and the interface/endpoints its
// bit-bang firmware exposes.
type Config struct {
	VID, PID     gousb.ID
	Serial       string
	ConfigNum    int
	InterfaceNum int
	AltNum       int
	OutEndpoint  int
	InEndpoint   int
}

// Adapter is a ccdbg.PinPort backed by a USB bit-bang device. Delay is a
// no-op: round-trip USB transfer latency already dwarfs the debug
// interface's minimum clock period, so there is nothing useful left to
// wait for.
type Adapter struct {
	device    *gousb.Device
	config    *gousb.Config
	iface     *gousb.Interface
	outEP     *gousb.OutEndpoint
	inEP      *gousb.InEndpoint
	ctx       *gousb.Context
}

func findDevices(ctx *gousb.Context, vid, pid gousb.ID, serial string) ([]*gousb.Device, error) {
	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if vid != AllVIDs && desc.Vendor != vid {
			return false
		}
		if pid != AllPIDs && desc.Product != pid {
			return false
		}
		log.Infof("found usb gpio adapter [%04x:%04x] on bus %03d:%03d", uint16(desc.Vendor), uint16(desc.Product), desc.Bus, desc.Address)
		return true
	})
	if err != nil {
		return nil, err
	}

	if serial == "" {
		return devices, nil
	}

	var matched []*gousb.Device
	for _, dev := range devices {
		devSerial, _ := dev.SerialNumber()
		if devSerial == serial {
			matched = append(matched, dev)
		} else {
			dev.Close()
		}
	}
	return matched, nil
}

// Open claims the configured interface on the matching device and returns
// a ready Adapter. More than one match is an error unless cfg.Serial is
// set, in which case the first device with that serial number is used.
func Open(ctx *gousb.Context, cfg Config) (*Adapter, error) {
	devices, err := findDevices(ctx, cfg.VID, cfg.PID, cfg.Serial)
	if err != nil {
		return nil, fmt.Errorf("usbgpio: scanning usb devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, errors.New("usbgpio: no matching usb gpio adapter found")
	}
	if len(devices) > 1 && cfg.Serial == "" {
		for _, d := range devices {
			d.Close()
		}
		return nil, errors.New("usbgpio: multiple adapters match; specify a serial number")
	}

	device := devices[0]

	config, err := device.Config(cfg.ConfigNum)
	if err != nil {
		device.Close()
		return nil, fmt.Errorf("usbgpio: requesting config %d: %w", cfg.ConfigNum, err)
	}

	iface, err := config.Interface(cfg.InterfaceNum, cfg.AltNum)
	if err != nil {
		config.Close()
		device.Close()
		return nil, fmt.Errorf("usbgpio: claiming interface %d,%d: %w", cfg.InterfaceNum, cfg.AltNum, err)
	}

	outEP, err := iface.OutEndpoint(cfg.OutEndpoint)
	if err != nil {
		iface.Close()
		config.Close()
		device.Close()
		return nil, fmt.Errorf("usbgpio: opening out endpoint %d: %w", cfg.OutEndpoint, err)
	}

	inEP, err := iface.InEndpoint(cfg.InEndpoint)
	if err != nil {
		iface.Close()
		config.Close()
		device.Close()
		return nil, fmt.Errorf("usbgpio: opening in endpoint %d: %w", cfg.InEndpoint, err)
	}

	return &Adapter{device: device, config: config, iface: iface, outEP: outEP, inEP: inEP, ctx: ctx}, nil
}

// Close releases the claimed interface and the underlying device handle.
func (a *Adapter) Close() {
	a.iface.Close()
	a.config.Close()
	a.device.Close()
}

func (a *Adapter) send(command byte, value byte) {
	n, err := a.outEP.Write([]byte{command, value})
	if err != nil {
		log.WithError(err).Error("usbgpio: write to out endpoint failed")
		return
	}
	log.Tracef("usbgpio: wrote %d bytes to out endpoint", n)
}

func (a *Adapter) SetDirection(pin ccdbg.PinId, dir ccdbg.PinDirection) {
	value := pinCode(pin)
	if dir == ccdbg.Input {
		value |= 0x10
	}
	a.send(opSetDirection, value)
}

func (a *Adapter) SetState(pin ccdbg.PinId, high bool) {
	value := pinCode(pin)
	if high {
		value |= 0x10
	}
	a.send(opSetState, value)
}

func (a *Adapter) GetState(pin ccdbg.PinId) bool {
	a.send(opGetState, pinCode(pin))

	buf := make([]byte, 1)
	n, err := a.inEP.Read(buf)
	if err != nil || n < 1 {
		log.WithError(err).Error("usbgpio: read from in endpoint failed")
		return false
	}
	return buf[0] != 0
}

// Delay is a no-op: see the Adapter doc comment.
func (a *Adapter) Delay() {}

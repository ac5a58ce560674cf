// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package ccdbg

// PinId identifies one of the three wires of the CC debug interface.
type PinId int

const (
	PinReset PinId = iota
	PinDC
	PinDD
)

func (p PinId) String() string {
	switch p {
	case PinReset:
		return "RESET"
	case PinDC:
		return "DC"
	case PinDD:
		return "DD"
	default:
		return "UNKNOWN"
	}
}

// PinDirection is the electrical direction of a pin. DD toggles between
// Output and Input on every command; RESET and DC stay Output once the
// wire reset sequence completes.
type PinDirection int

const (
	Output PinDirection = iota
	Input
)

// PinPort is the device-dependent half of the wire protocol: four
// synchronous, infallible operations driving the three debug pins. An
// implementation backs the RESET/DC/DD lines with whatever the host
// offers — sysfs GPIO, a USB bit-bang adapter, a simulator for tests.
//
// Delay defines the half-period of DC; an implementation may make it a
// no-op once its own pin-toggle latency already exceeds the chip's
// minimum clock period.
type PinPort interface {
	SetDirection(pin PinId, dir PinDirection)
	SetState(pin PinId, high bool)
	GetState(pin PinId) bool
	Delay()
}

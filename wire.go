// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

// wireCodec drives the clocked, half-duplex byte shifting on DD using DC
// edges, and the RESET sequence that puts the chip into debug mode. It
// owns no state of its own beyond the PinPort; CommandEngine composes it
// with framing and retry logic.
type wireCodec struct {
	pins PinPort
}

func newWireCodec(pins PinPort) *wireCodec {
	return &wireCodec{pins: pins}
}

func (w *wireCodec) toggleDC() {
	w.pins.SetState(PinDC, true)
	w.pins.Delay()
	w.pins.SetState(PinDC, false)
	w.pins.Delay()
}

// writeByte shifts b out MSB-first: for each bit, drive DD to the bit
// value then pulse DC.
func (w *wireCodec) writeByte(b byte) {
	for mask := byte(0x80); mask != 0x00; mask >>= 1 {
		w.pins.SetState(PinDD, b&mask != 0)
		w.toggleDC()
	}
}

// readByte shifts a byte in MSB-first, sampling DD on the falling edge of
// DC as the original bit-banged protocol does.
func (w *wireCodec) readByte() byte {
	var b byte
	for i := 7; i >= 0; i-- {
		w.pins.SetState(PinDC, true)
		w.pins.Delay()
		w.pins.SetState(PinDC, false)
		bit := w.pins.GetState(PinDD)
		w.pins.Delay()
		if bit {
			b |= 1 << uint(i)
		}
	}
	return b
}

// reset drives the RESET/DC sequence that puts the chip into debug mode:
// RESET high, DC low, then RESET low with two DC pulses, then RESET high
// again.
func (w *wireCodec) reset() {
	w.pins.SetDirection(PinReset, Output)
	w.pins.SetDirection(PinDC, Output)

	w.pins.SetState(PinReset, true)
	w.pins.SetState(PinDC, false)
	w.pins.Delay()

	w.pins.SetState(PinReset, false)
	w.pins.Delay()

	w.toggleDC()
	w.toggleDC()

	w.pins.SetState(PinReset, true)
	w.pins.Delay()
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

import "testing"

func TestPinIdString(t *testing.T) {
	cases := map[PinId]string{
		PinReset: "RESET",
		PinDC:    "DC",
		PinDD:    "DD",
		PinId(99): "UNKNOWN",
	}
	for pin, want := range cases {
		if got := pin.String(); got != want {
			t.Errorf("PinId(%d).String() = %q, want %q", pin, got, want)
		}
	}
}

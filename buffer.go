// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

// leUint16 decodes a little-endian uint16, matching the byte order the
// chip replies with for GET_PC and GET_CHIP_ID.
func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package trb implements the 16-byte Transfer Request Block that is the
// universal currency of xHCI command, transfer, event and link records,
// and the fixed-capacity cycle-bit ring that carries them.
package trb

// TRB is a 16-byte xHCI Transfer Request Block: four little-endian
// 32-bit words. The core treats it as an opaque value with extractors
// for the fields every TRB class shares (cycle, type); callers interpret
// the remaining payload per the xHCI specification for the TRB's class.
type TRB [4]uint32

// Word 3 field layout shared by every TRB class.
const (
	cycleBit     = 1 << 0
	toggleCycle  = 1 << 1
	typeShift    = 10
	typeMask     = 0x3f
)

// TRB types referenced by the core (xHCI 1.2 Table 6-91).
const (
	TypeNormal               = 1
	TypeEnableSlotCommand     = 9
	TypeDisableSlotCommand    = 10
	TypeAddressDeviceCommand  = 11
	TypeConfigureEPCommand    = 12
	TypeNoOpCommand           = 23
	TypeLink                  = 6
	TypeTransferEvent         = 32
	TypeCommandCompletionEvent = 33
	TypePortStatusChangeEvent = 34
	TypeHostControllerEvent   = 37
)

// Cycle returns the TRB's cycle bit.
func (t TRB) Cycle() bool {
	return t[3]&cycleBit != 0
}

// SetCycle sets or clears the TRB's cycle bit.
func (t *TRB) SetCycle(c bool) {
	if c {
		t[3] |= cycleBit
	} else {
		t[3] &^= cycleBit
	}
}

// Type returns the TRB's 6-bit type field.
func (t TRB) Type() uint32 {
	return (t[3] >> typeShift) & typeMask
}

// SetType sets the TRB's 6-bit type field.
func (t *TRB) SetType(typ uint32) {
	t[3] = (t[3] &^ (typeMask << typeShift)) | ((typ & typeMask) << typeShift)
}

// Pointer returns the 64-bit pointer field carried in words 0-1, as used
// by Link TRBs (ring segment pointer) and Command Completion Event TRBs
// (command TRB pointer).
func (t TRB) Pointer() uint64 {
	return uint64(t[0]) | uint64(t[1])<<32
}

// SetPointer sets the 64-bit pointer field in words 0-1.
func (t *TRB) SetPointer(addr uint64) {
	t[0] = uint32(addr)
	t[1] = uint32(addr >> 32)
}

// newLink builds a Link TRB pointing at addr, with the Toggle Cycle bit
// set so the controller flips its own consumer cycle state when it
// follows the link, matching the ring's producer-side toggle.
func newLink(addr uint64) TRB {
	var t TRB
	t.SetPointer(addr)
	t.SetType(TypeLink)
	t[3] |= toggleCycle
	return t
}

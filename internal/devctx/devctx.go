// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package devctx implements the xHCI Device Context Base Address Array
// (DCBAA) and the per-slot Output/Input device contexts and scratchpad
// buffer array it indexes.
package devctx

import (
	"errors"
	"fmt"

	"github.com/usbarmory/xhci/dma"
)

// ErrSlotLimitReached is returned by EnableSlot for a slot ID outside
// [1, maxSlots].
var ErrSlotLimitReached = errors.New("devctx: slot limit reached")

const dcbaaLen = 256

// Device64Byte and Input64Byte are opaque 64-byte xHCI device/input
// context blocks (xHCI 1.2 §6.2.1, §6.2.5). Their field layout belongs to
// the layer that programs endpoint/slot state; this package only owns
// their allocation, alignment and DCBAA bookkeeping.
type Device64Byte [64]byte
type Input64Byte [64]byte

// Slot holds the per-enabled-slot resources: the Output Device Context
// the controller writes back into and the Input Context the driver
// stages Address/Configure-Endpoint commands from. It holds no endpoint
// transfer rings.
type Slot struct {
	Out   *dma.Box[Device64Byte]
	Input *dma.Box[Input64Byte]
}

// List owns the Device Context Base Address Array and the per-slot
// contexts it indexes, plus the scratchpad buffer array referenced from
// DCBAA[0].
type List struct {
	region   *dma.Region
	dcbaa    *dma.Vec[uint64]
	maxSlots int

	slots map[int]*Slot

	scratchpadPointers *dma.Vec[uint64]
	scratchpadBuffers  []*dma.Vec[byte]
}

// New allocates a 256-entry, 4 KiB-aligned DCBAA for a controller that
// advertises maxSlots usable device slots.
func New(region *dma.Region, maxSlots int) (*List, error) {
	dcbaa, err := dma.AllocVec[uint64](region, dcbaaLen, 4096, dma.Bidirectional)
	if err != nil {
		return nil, fmt.Errorf("devctx: allocate DCBAA: %w", err)
	}

	return &List{
		region:   region,
		dcbaa:    dcbaa,
		maxSlots: maxSlots,
		slots:    make(map[int]*Slot),
	}, nil
}

// DCBAAPBusAddr returns the bus address to program into DCBAAP.
func (l *List) DCBAAPBusAddr() uint64 {
	return l.dcbaa.BusAddr()
}

// EnableSlot validates slot against the controller's advertised maximum,
// allocates its Output and Input device contexts, and writes the Output
// context's bus address into DCBAA[slot].
func (l *List) EnableSlot(slot int) error {
	if slot < 1 || slot > l.maxSlots {
		return ErrSlotLimitReached
	}

	out, err := dma.AllocBox[Device64Byte](l.region, 64, dma.FromDevice)
	if err != nil {
		return fmt.Errorf("devctx: allocate output context: %w", err)
	}

	input, err := dma.AllocBox[Input64Byte](l.region, 64, dma.ToDevice)
	if err != nil {
		out.Free()
		return fmt.Errorf("devctx: allocate input context: %w", err)
	}

	l.dcbaa.Set(slot, out.BusAddr())
	l.slots[slot] = &Slot{Out: out, Input: input}

	return nil
}

// DisableSlot zeroes DCBAA[slot] and releases its contexts.
func (l *List) DisableSlot(slot int) {
	if slot < 1 || slot > l.maxSlots {
		return
	}

	l.dcbaa.Set(slot, 0)

	if s, ok := l.slots[slot]; ok {
		s.Out.Free()
		s.Input.Free()
		delete(l.slots, slot)
	}
}

// Slot returns the resources for an enabled slot, or nil if the slot is
// not currently enabled.
func (l *List) Slot(slot int) *Slot {
	return l.slots[slot]
}

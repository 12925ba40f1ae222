// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import "github.com/usbarmory/xhci/internal/reg"

// Capability register offsets, relative to the MMIO base (xHCI 1.2 §5.3).
const (
	capLength  = 0x00 // u8
	hcsParams1 = 0x04
	hcsParams2 = 0x08
	dbOffReg   = 0x14
	rtsOffReg  = 0x18
)

// Operational register offsets, relative to capLength (xHCI 1.2 §5.4).
const (
	opUSBCMD  = 0x00
	opUSBSTS  = 0x04
	opCRCR    = 0x18 // 64-bit
	opDCBAAP  = 0x30 // 64-bit
	opCONFIG  = 0x38
)

// USBCMD bits.
const (
	usbcmdRS   = 0  // Run/Stop
	usbcmdHCRST = 1 // HC Reset
	usbcmdINTE = 2  // Interrupter Enable
)

// USBSTS bits.
const (
	usbstsHCH = 0  // HC Halted
	usbstsCNR = 11 // Controller Not Ready
)

// Runtime register set offsets, relative to RTSOFF; interrupter 0 only
// (xHCI 1.2 §5.5).
const (
	ir0Base  = 0x20
	irIMAN   = 0x00
	irIMOD   = 0x04
	irERSTSZ = 0x08
	irERSTBA = 0x10 // 64-bit
	irERDP   = 0x18 // 64-bit
)

// IMAN bits.
const (
	imanIP = 0 // Interrupt Pending
	imanIE = 1 // Interrupt Enable
)

// ERDP bits.
const erdpEHB = 3 // Event Handler Busy

// registers resolves the fixed register offsets xHCI derives at runtime
// from the capability registers (CAPLENGTH, RTSOFF, DBOFF) into absolute
// addresses, matching the base+offset style the teacher's NXP USB driver
// uses for its own register file.
type registers struct {
	base uint

	cmd    uint
	sts    uint
	crcr   uint
	dcbaap uint
	config uint

	iman   uint
	imod   uint
	erstsz uint
	erstba uint
	erdp   uint

	doorbell0 uint

	maxSlots             uint32
	maxScratchpadBuffers uint32
}

func resolveRegisters(base uint) *registers {
	capLen := uint(reg.Get(base+capLength, 0, 0xff))
	rtsOff := uint(reg.Read(base + rtsOffReg))
	dbOff := uint(reg.Read(base + dbOffReg))

	op := base + capLen
	rt := base + rtsOff + ir0Base
	db := base + dbOff

	hcs1 := reg.Read(base + hcsParams1)
	hcs2 := reg.Read(base + hcsParams2)

	return &registers{
		base: base,

		cmd:    op + opUSBCMD,
		sts:    op + opUSBSTS,
		crcr:   op + opCRCR,
		dcbaap: op + opDCBAAP,
		config: op + opCONFIG,

		iman:   rt + irIMAN,
		imod:   rt + irIMOD,
		erstsz: rt + irERSTSZ,
		erstba: rt + irERSTBA,
		erdp:   rt + irERDP,

		doorbell0: db + 0,

		maxSlots:             hcs1 & 0xff,
		maxScratchpadBuffers: scratchpadBufferCount(hcs2),
	}
}

// scratchpadBufferCount decodes HCSPARAMS2's split Max Scratchpad
// Buffers field (xHCI 1.2 §5.3.4): bits [31:27] are the low 5 bits, bits
// [25:21] are the high 5 bits.
func scratchpadBufferCount(hcsParams2 uint32) uint32 {
	lo := (hcsParams2 >> 27) & 0x1f
	hi := (hcsParams2 >> 21) & 0x1f
	return hi<<5 | lo
}

func (r *registers) ringDoorbell(slot uint, target uint8, stream uint16) {
	reg.Write(r.doorbell0+4*slot, uint32(target)|uint32(stream)<<16)
}

// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import (
	"sync/atomic"
	"unsafe"
)

// Read64 reads the full 64-bit register at addr (e.g. CRCR, DCBAAP,
// ERSTBA, ERDP).
func Read64(addr uint) uint64 {
	r := (*uint64)(unsafe.Pointer(uintptr(addr)))
	return atomic.LoadUint64(r)
}

// Write64 writes val to the full 64-bit register at addr.
func Write64(addr uint, val uint64) {
	r := (*uint64)(unsafe.Pointer(uintptr(addr)))
	atomic.StoreUint64(r, val)
}

// SetN64 performs a read-modify-write storing val into bits
// [pos, pos+popcount(mask)) of the 64-bit register at addr.
func SetN64(addr uint, pos int, mask uint64, val uint64) {
	r := (*uint64)(unsafe.Pointer(uintptr(addr)))

	for {
		old := atomic.LoadUint64(r)
		nv := (old &^ (mask << uint(pos))) | (val << uint(pos))
		if atomic.CompareAndSwapUint64(r, old, nv) {
			return
		}
	}
}

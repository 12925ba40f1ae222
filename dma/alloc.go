// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"container/list"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// alignUp rounds v up to the next multiple of align, which must be a
// power of two. align == 0 is treated as already aligned.
func alignUp[T constraints.Unsigned](v T, align T) T {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// addrOf returns the address backing a byte slice's first element. The
// caller must keep a reference to buf alive for as long as the address is
// in use: the runtime's allocator is non-moving, but an unreferenced
// buffer is eligible for collection.
func addrOf(buf []byte) uint {
	if len(buf) == 0 {
		return 0
	}
	return uint(uintptr(unsafe.Pointer(&buf[0])))
}

func zero(addr uint, size int) {
	if size == 0 {
		return
	}
	var mem []byte
	mem = unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
	for i := range mem {
		mem[i] = 0
	}
}

// alloc finds a free block able to hold size bytes at the given
// alignment, splitting off the unused remainder and any alignment
// padding back into the free list.
func (r *Region) alloc(size uint, align uint) (*block, error) {
	var e *list.Element
	var freeBlock *block
	var pad uint

	if align == 0 {
		// force word alignment, matching the teacher's convention
		align = 4
	}

	for e = r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		pad = alignUp(b.addr, align) - b.addr

		if b.size >= size+pad {
			freeBlock = b
			break
		}
	}

	if freeBlock == nil {
		return nil, ErrNoMemory
	}

	// e is removed from the free list only once we are done splitting
	// off its alignment padding and size remainder: InsertBefore/
	// InsertAfter are no-ops once their mark has already been removed,
	// so the split blocks must be inserted around e while it is still
	// a member of the list, matching the teacher's deferred-Remove
	// ordering.
	defer r.freeBlocks.Remove(e)

	if pad != 0 {
		before := &block{addr: freeBlock.addr, size: pad}
		freeBlock.addr += pad
		freeBlock.size -= pad
		r.freeBlocks.InsertBefore(before, e)
	}

	if rem := freeBlock.size - size; rem != 0 {
		after := &block{addr: freeBlock.addr + size, size: rem}
		freeBlock.size = size
		r.freeBlocks.InsertAfter(after, e)
	}

	return freeBlock, nil
}

func (r *Region) freeBlock(used *block) {
	for e := r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if b.addr > used.addr {
			r.freeBlocks.InsertBefore(used, e)
			r.defrag()
			return
		}
	}

	r.freeBlocks.PushBack(used)
	r.defrag()
}

func (r *Region) defrag() {
	var prev *block

	for e := r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if prev != nil && prev.addr+prev.size == b.addr {
			prev.size += b.size
			defer r.freeBlocks.Remove(e)
			continue
		}

		prev = b
	}
}

// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import "unsafe"

// Box is a DMA buffer sized exactly for one T, zeroed on allocation.
type Box[T any] struct {
	region *Region
	addr   uint
	dir    Direction
}

// AllocBox allocates a zeroed Box[T] out of r, aligned to align (0 means
// word alignment).
func AllocBox[T any](r *Region, align int, dir Direction) (*Box[T], error) {
	var zeroVal T
	size := int(unsafe.Sizeof(zeroVal))

	addr, err := r.reserve(size, align)
	if err != nil {
		return nil, err
	}

	return &Box[T]{region: r, addr: addr, dir: dir}, nil
}

// NewBox allocates out of the package-level default Region.
func NewBox[T any](align int, dir Direction) (*Box[T], error) {
	return AllocBox[T](Default(), align, dir)
}

// BusAddr returns the buffer's address as seen by the DMA initiator.
func (b *Box[T]) BusAddr() uint64 {
	return uint64(b.addr)
}

// Direction returns the buffer's declared transfer direction.
func (b *Box[T]) Direction() Direction {
	return b.dir
}

// Read returns the buffer's current contents, invalidating the CPU's
// cached view first if the buffer is controller-written.
func (b *Box[T]) Read() T {
	if b.dir == FromDevice || b.dir == Bidirectional {
		b.region.invalidateAfterDevice(b.addr, int(unsafe.Sizeof(*new(T))))
	}
	return *(*T)(unsafe.Pointer(uintptr(b.addr)))
}

// Write stores v into the buffer, cleaning the CPU's cached view
// afterward if the buffer is controller-read.
func (b *Box[T]) Write(v T) {
	*(*T)(unsafe.Pointer(uintptr(b.addr))) = v
	if b.dir == ToDevice || b.dir == Bidirectional {
		b.region.cleanBeforeDevice(b.addr, int(unsafe.Sizeof(v)))
	}
}

// Free releases the buffer back to its Region.
func (b *Box[T]) Free() {
	b.region.free(b.addr)
}

// Vec is a fixed-length, contiguous DMA buffer of N elements of type T.
type Vec[T any] struct {
	region   *Region
	addr     uint
	n        int
	elemSize int
	dir      Direction
}

// AllocVec allocates a zeroed Vec[T] of n elements out of r, aligned to
// align.
func AllocVec[T any](r *Region, n int, align int, dir Direction) (*Vec[T], error) {
	var zeroVal T
	elemSize := int(unsafe.Sizeof(zeroVal))

	addr, err := r.reserve(elemSize*n, align)
	if err != nil {
		return nil, err
	}

	return &Vec[T]{region: r, addr: addr, n: n, elemSize: elemSize, dir: dir}, nil
}

// NewVec allocates out of the package-level default Region.
func NewVec[T any](n int, align int, dir Direction) (*Vec[T], error) {
	return AllocVec[T](Default(), n, align, dir)
}

// Len returns the number of elements.
func (v *Vec[T]) Len() int { return v.n }

// BusAddr returns the vector's base address as seen by the DMA initiator.
func (v *Vec[T]) BusAddr() uint64 { return uint64(v.addr) }

// Direction returns the vector's declared transfer direction.
func (v *Vec[T]) Direction() Direction { return v.dir }

// ElemBusAddr returns the bus address of element i.
func (v *Vec[T]) ElemBusAddr(i int) uint64 {
	v.checkRange(i)
	return uint64(v.addr) + uint64(i*v.elemSize)
}

// Get returns element i.
func (v *Vec[T]) Get(i int) T {
	v.checkRange(i)
	if v.dir == FromDevice || v.dir == Bidirectional {
		v.region.invalidateAfterDevice(v.addr+uint(i*v.elemSize), v.elemSize)
	}
	p := uintptr(v.addr) + uintptr(i*v.elemSize)
	return *(*T)(unsafe.Pointer(p))
}

// Set stores val into element i.
func (v *Vec[T]) Set(i int, val T) {
	v.checkRange(i)
	p := uintptr(v.addr) + uintptr(i*v.elemSize)
	*(*T)(unsafe.Pointer(p)) = val
	if v.dir == ToDevice || v.dir == Bidirectional {
		v.region.cleanBeforeDevice(v.addr+uint(i*v.elemSize), v.elemSize)
	}
}

// Free releases the vector back to its Region.
func (v *Vec[T]) Free() {
	v.region.free(v.addr)
}

func (v *Vec[T]) checkRange(i int) {
	if i < 0 || i >= v.n {
		panic("dma: index out of range")
	}
}

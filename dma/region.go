// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"container/list"
	"errors"
	"sync"
)

// ErrNoMemory is returned when a Region has no free block large enough to
// satisfy an allocation request.
var ErrNoMemory = errors.New("dma: out of memory")

// Direction tags which side of a DMA transfer a buffer is visible to,
// letting the host environment apply the correct cache maintenance
// before/after the controller touches it. The core never inspects this
// value itself beyond plumbing it through to CacheMaintainer.
type Direction int

const (
	// ToDevice buffers are written by the CPU and read by the
	// controller (e.g. command TRBs, input contexts).
	ToDevice Direction = iota
	// FromDevice buffers are written by the controller and read by the
	// CPU (e.g. event TRBs, output contexts).
	FromDevice
	// Bidirectional buffers are touched by both sides (e.g. DCBAA,
	// which the driver updates and the controller reads).
	Bidirectional
)

// CacheMaintainer lets a Host apply cache maintenance around DMA-visible
// memory. A Region with no CacheMaintainer set performs none, matching
// the core's "never manage cache itself" contract.
type CacheMaintainer interface {
	// CleanBeforeDevice is invoked before a buffer the controller will
	// read becomes visible to it (ToDevice, Bidirectional).
	CleanBeforeDevice(addr uint, size int)
	// InvalidateAfterDevice is invoked before the CPU trusts a buffer
	// the controller may have written (FromDevice, Bidirectional).
	InvalidateAfterDevice(addr uint, size int)
}

// block is a single extent of the arena, either free or allocated.
type block struct {
	addr uint
	size uint
}

// Region represents a fixed memory arena used for DMA buffer allocation.
// Unlike a plain Go heap allocation, a Region's backing array is pinned
// for the lifetime of the Region (kept alive by the arena field) so that
// bus addresses handed out to hardware remain valid.
type Region struct {
	mu sync.Mutex

	arena []byte
	start uint
	size  uint

	cache CacheMaintainer

	freeBlocks *list.List
	usedBlocks map[uint]*block
}

var global *Region

// NewRegion allocates and initializes a Region of the given size. On
// real hardware the embedder would instead call Init with a fixed,
// linker-reserved address range; NewRegion is the host-independent
// equivalent used when the arena can simply be a pinned Go allocation.
func NewRegion(size int) *Region {
	r := &Region{
		arena: make([]byte, size),
	}
	r.start = addrOf(r.arena)
	r.size = uint(size)
	r.freeBlocks = list.New()
	r.freeBlocks.PushFront(&block{addr: r.start, size: r.size})
	r.usedBlocks = make(map[uint]*block)

	return r
}

// SetCacheMaintainer installs the host's cache maintenance hook.
func (r *Region) SetCacheMaintainer(c CacheMaintainer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = c
}

// Start returns the region's base address.
func (r *Region) Start() uint { return r.start }

// Size returns the region's total size in bytes.
func (r *Region) Size() uint { return r.size }

// Init installs r as the package-level default Region, used by the
// package-level Box/Vec constructors.
func Init(r *Region) {
	global = r
}

// Default returns the package-level default Region, or nil if Init was
// never called.
func Default() *Region {
	return global
}

func (r *Region) reserve(size int, align int) (uint, error) {
	if size <= 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.alloc(uint(size), uint(align))
	if err != nil {
		return 0, err
	}

	r.usedBlocks[b.addr] = b
	zero(b.addr, int(b.size))

	return b.addr, nil
}

func (r *Region) free(addr uint) {
	if addr == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.usedBlocks[addr]
	if !ok {
		return
	}

	r.freeBlock(b)
	delete(r.usedBlocks, addr)
}

func (r *Region) cleanBeforeDevice(addr uint, size int) {
	if r.cache != nil {
		r.cache.CleanBeforeDevice(addr, size)
	}
}

func (r *Region) invalidateAfterDevice(addr uint, size int) {
	if r.cache != nil {
		r.cache.InvalidateAfterDevice(addr, size)
	}
}

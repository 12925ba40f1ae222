// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package trb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/usbarmory/xhci/dma"
)

// ErrRingFull is returned by Enqueue when the producer is ahead of the
// consumer by one less than the ring's effective capacity (capacity-2
// slots on a ring with a link TRB, capacity-1 on one without). The
// original implementation this package is derived from has no such
// detection; this is the back-pressure policy spec.md §9 recommends.
var ErrRingFull = errors.New("trb: ring full")

// Ring is a fixed-capacity circular buffer of TRBs with cycle-bit and
// link-TRB discipline (xHCI 1.2 §4.9). The same type serves both
// producer rings (command ring: driver writes, controller reads) and
// consumer rings (event ring: controller writes, driver reads); which
// side is active is a matter of which methods the embedder calls.
type Ring struct {
	mu sync.Mutex

	vec      *dma.Vec[TRB]
	link     bool
	capacity int

	i     int
	cycle bool

	produced uint64
	consumed uint64
}

// NewRing allocates a capacity-entry ring at 64-byte alignment. If link
// is true, the last slot is reserved as a Link TRB pointing at the ring
// base with the Toggle Cycle bit set, and the ring's effective producer
// capacity is capacity-1. initialCycle sets the ring's starting cycle
// state explicitly (spec.md §9 replaces the fragile "cycle = link"
// convention the original coupled to the producer/consumer role).
func NewRing(region *dma.Region, capacity int, link bool, initialCycle bool, dir dma.Direction) (*Ring, error) {
	if capacity < 16 || capacity > 4096 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("trb: capacity %d must be a power of two in [16, 4096]", capacity)
	}

	vec, err := dma.AllocVec[TRB](region, capacity, 64, dir)
	if err != nil {
		return nil, err
	}

	r := &Ring{
		vec:      vec,
		link:     link,
		capacity: capacity,
		cycle:    initialCycle,
	}

	if link {
		vec.Set(capacity-1, newLink(vec.BusAddr()))
	}

	return r, nil
}

// BusAddr returns the ring's base address.
func (r *Ring) BusAddr() uint64 {
	return r.vec.BusAddr()
}

// Len returns the ring's allocated slot count, including the link slot
// if present.
func (r *Ring) Len() int {
	return r.capacity
}

// Cycle returns the ring's current producer/expected-consumer cycle
// state.
func (r *Ring) Cycle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycle
}

func (r *Ring) effectiveCapacity() int {
	if r.link {
		return r.capacity - 1
	}
	return r.capacity
}

// Enqueue writes t to the next producer slot with the ring's current
// cycle bit and advances the producer index, toggling cycle and
// wrapping through the link slot (or the segment boundary, for rings
// with no link TRB) as needed. It returns the bus address of the slot
// written, which the caller must capture before ringing the doorbell:
// that address is the only way a later completion can be correlated
// back to this TRB.
func (r *Ring) Enqueue(t TRB) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.produced-r.consumed >= uint64(r.effectiveCapacity()-1) {
		return 0, ErrRingFull
	}

	t.SetCycle(r.cycle)

	slot := r.i
	r.vec.Set(slot, t)
	addr := r.vec.ElemBusAddr(slot)

	r.produced++
	r.i++

	if r.link {
		if r.i == r.capacity-1 {
			r.cycle = !r.cycle
			r.i = 0
		}
	} else if r.i == r.capacity {
		r.cycle = !r.cycle
		r.i = 0
	}

	return addr, nil
}

// MarkConsumed records that n producer-side TRBs have since been
// processed by the controller, relieving Enqueue's back-pressure check.
// The controller calls this as command completions arrive, since xHCI
// processes the command ring strictly in FIFO order.
func (r *Ring) MarkConsumed(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed += uint64(n)
}

// Current returns the TRB at the consumer dequeue position and whether
// its cycle bit matches the ring's expected cycle — i.e. whether it is
// new data the controller has produced, as opposed to a stale slot left
// over from the previous lap.
func (r *Ring) Current() (TRB, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.vec.Get(r.i)
	return t, t.Cycle() == r.cycle
}

// AdvanceDequeue moves the consumer dequeue position forward by one
// slot, wrapping and toggling the expected cycle at the ring boundary.
// Consumer rings (the event ring) have no link TRB: the segment table
// entry's size is itself the wrap point.
func (r *Ring) AdvanceDequeue() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.i++
	r.consumed++

	if r.i == r.capacity {
		r.i = 0
		r.cycle = !r.cycle
	}
}

// DequeueBusAddr returns the bus address of the slot the consumer will
// read next, used to program ERDP after a drain.
func (r *Ring) DequeueBusAddr() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vec.ElemBusAddr(r.i)
}

// Poke writes t directly into slot i without touching the producer/
// consumer bookkeeping. Production code never calls this: the hardware
// is the only producer of a consumer ring's contents. It exists so a
// register-model test double can stand in for that hardware.
func (r *Ring) Poke(i int, t TRB) {
	r.vec.Set(i, t)
}

// At returns the TRB at slot i without touching any producer/consumer
// bookkeeping. A single Ring's enqueue/dequeue index is owned by
// whichever side (driver or controller) is actually using it in
// production; a test double standing in for the other side needs to
// walk the ring's raw slots with a cursor of its own, and At is how it
// reads them.
func (r *Ring) At(i int) TRB {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vec.Get(i)
}

// SlotBusAddr returns the bus address of slot i, independent of the
// ring's own dequeue position. Paired with At for a test double walking
// the ring with its own cursor.
func (r *Ring) SlotBusAddr(i int) uint64 {
	return r.vec.ElemBusAddr(i)
}

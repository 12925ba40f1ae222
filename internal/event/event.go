// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package event implements the xHCI event ring: a consumer TRB ring fed
// by the controller, its single-entry segment table, and the
// command-completion demultiplexer that wakes the task waiting on a
// given command TRB.
package event

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/usbarmory/xhci/dma"
	"github.com/usbarmory/xhci/internal/trb"
)

// Erste is one 16-byte Event Ring Segment Table Entry (xHCI 1.2 §6.5).
// The core uses a single segment.
type Erste struct {
	SegmentBase uint64
	SegmentSize uint16
	_reserved   [6]byte
}

// DefaultWaiterTTL bounds how long an inserted waiter is kept if its
// completion never arrives (e.g. the submitting task was cancelled after
// ringing the doorbell). Drain reclaims expired entries opportunistically
// (spec.md §5); it is not a per-command timeout policy, which remains the
// caller's choice.
const DefaultWaiterTTL = 30 * time.Second

type waiter struct {
	ch      chan trb.TRB
	expires time.Time
}

// Ring is the event ring: a consumer trb.Ring plus its segment table and
// the waiter map shared between the submitting task and Drain.
type Ring struct {
	ring *trb.Ring
	erst *dma.Vec[Erste]

	mu      sync.Mutex
	waiters map[uint64]*waiter
	ttl     time.Duration

	pushIndex int
	pushCycle bool
}

// New allocates a capacity-entry consumer ring (no link TRB — the
// segment table's size field is the wrap boundary) and a 1-entry ERST
// describing it.
func New(region *dma.Region, capacity int, ttl time.Duration) (*Ring, error) {
	if ttl <= 0 {
		ttl = DefaultWaiterTTL
	}

	r, err := trb.NewRing(region, capacity, false, true, dma.FromDevice)
	if err != nil {
		return nil, err
	}

	erst, err := dma.AllocVec[Erste](region, 1, 64, dma.ToDevice)
	if err != nil {
		return nil, err
	}

	erst.Set(0, Erste{
		SegmentBase: r.BusAddr(),
		SegmentSize: uint16(r.Len()),
	})

	return &Ring{
		ring:      r,
		erst:      erst,
		waiters:   make(map[uint64]*waiter),
		ttl:       ttl,
		pushCycle: true,
	}, nil
}

// Push writes t into the ring at the simulated producer's current
// position and advances it, toggling cycle at the segment boundary. The
// real xHCI controller is the only producer of a consumer ring's
// contents; Push exists so a register-model test double standing in for
// that hardware can post events the same way silicon does, for Drain to
// pick up.
func (e *Ring) Push(t trb.TRB) {
	e.mu.Lock()
	i := e.pushIndex
	cycle := e.pushCycle
	e.pushIndex++
	if e.pushIndex == e.ring.Len() {
		e.pushIndex = 0
		e.pushCycle = !e.pushCycle
	}
	e.mu.Unlock()

	t.SetCycle(cycle)
	e.ring.Poke(i, t)
}

// ERDP returns the ring's current dequeue-pointer bus address, with the
// low 4 bits cleared as the register's reserved/control bits require.
func (e *Ring) ERDP() uint64 {
	return e.ring.DequeueBusAddr() &^ 0xf
}

// ERSTBA returns the bus address of the segment table.
func (e *Ring) ERSTBA() uint64 {
	return e.erst.BusAddr()
}

// Len returns the segment count (always 1 for this core).
func (e *Ring) Len() int {
	return e.erst.Len()
}

// AddWaiter inserts an empty waiter cell keyed by a command TRB's bus
// address and returns the channel it will be delivered on. The caller
// MUST insert the waiter before ringing the doorbell for that command:
// inserting after risks a completion arriving (and being discarded as
// unknown) before anyone is listening for it.
func (e *Ring) AddWaiter(cmdTRBAddr uint64) <-chan trb.TRB {
	ch := make(chan trb.TRB, 1)

	e.mu.Lock()
	e.waiters[cmdTRBAddr] = &waiter{ch: ch, expires: time.Now().Add(e.ttl)}
	e.mu.Unlock()

	return ch
}

// CancelWaiter removes a waiter inserted by AddWaiter without it ever
// being resolved (e.g. the caller's context was cancelled first).
func (e *Ring) CancelWaiter(cmdTRBAddr uint64) {
	e.mu.Lock()
	delete(e.waiters, cmdTRBAddr)
	e.mu.Unlock()
}

// FailAll resolves every outstanding waiter by closing its channel
// (used when the controller transitions to a Failed state) and clears
// the map. A receive on a closed channel returns the zero TRB with
// ok == false, which PostCommand maps to KindControllerFailed.
func (e *Ring) FailAll() {
	e.mu.Lock()
	waiters := e.waiters
	e.waiters = make(map[uint64]*waiter)
	e.mu.Unlock()

	for _, w := range waiters {
		close(w.ch)
	}
}

// Drain reads successive TRBs from the ring while their cycle bit
// matches the expected value, dispatching each to its event-class
// handler, and reclaims any waiters that expired before their completion
// arrived. It returns the number of TRBs consumed.
func (e *Ring) Drain(ctx context.Context) int {
	n := 0

	for {
		t, valid := e.ring.Current()
		if !valid {
			break
		}

		e.dispatch(t)
		e.ring.AdvanceDequeue()
		n++
	}

	e.reapExpired()

	return n
}

func (e *Ring) dispatch(t trb.TRB) {
	switch t.Type() {
	case trb.TypeCommandCompletionEvent:
		e.completeCommand(t)
	case trb.TypePortStatusChangeEvent, trb.TypeTransferEvent, trb.TypeHostControllerEvent:
		// Port/Transfer/Host-Controller events belong to subsystems
		// (hub, endpoint transfer rings) outside this core's scope;
		// logged and discarded per spec.md §4.D.
		log.Printf("xhci: event: unhandled event class %d discarded", t.Type())
	default:
		log.Printf("xhci: event: unknown event class %d discarded", t.Type())
	}
}

func (e *Ring) completeCommand(t trb.TRB) {
	addr := CommandTRBPointer(t)

	e.mu.Lock()
	w, ok := e.waiters[addr]
	if ok {
		delete(e.waiters, addr)
	}
	e.mu.Unlock()

	if !ok {
		log.Printf("xhci: event: completion for unknown command TRB %#x discarded", addr)
		return
	}

	w.ch <- t
}

func (e *Ring) reapExpired() {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	for addr, w := range e.waiters {
		if now.After(w.expires) {
			delete(e.waiters, addr)
		}
	}
}

// CommandTRBPointer extracts the command-TRB bus address a Command
// Completion Event TRB refers to (xHCI 1.2 Table 6-90).
func CommandTRBPointer(t trb.TRB) uint64 {
	return t.Pointer() &^ 0xf
}

// CompletionCode extracts a Command Completion Event's completion code.
func CompletionCode(t trb.TRB) uint8 {
	return uint8(t[2] >> 24)
}

// SlotID extracts a Command Completion Event's slot ID.
func SlotID(t trb.TRB) uint8 {
	return uint8(t[3] >> 24)
}

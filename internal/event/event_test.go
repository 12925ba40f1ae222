// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package event

import (
	"context"
	"testing"
	"time"

	"github.com/usbarmory/xhci/dma"
	"github.com/usbarmory/xhci/internal/trb"
)

func newTestRing(t *testing.T) (*Ring, *dma.Region) {
	t.Helper()
	r := dma.NewRegion(4 << 20)
	ring, err := New(r, 16, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ring, r
}

// pushRaw writes a completion TRB directly into the underlying ring
// memory, the way the controller DMA-writes it, bypassing trb.Ring's own
// producer bookkeeping (which the controller owns, not the driver).
func pushRaw(t *testing.T, ring *Ring, i int, e trb.TRB) {
	t.Helper()
	ring.ring.Poke(i, e)
}

func TestERSTPointsAtRingWithCorrectSize(t *testing.T) {
	ring, _ := newTestRing(t)

	if ring.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 segment", ring.Len())
	}

	seg := ring.erst.Get(0)
	if seg.SegmentBase != ring.ring.BusAddr() {
		t.Fatalf("SegmentBase = %#x, want ring base %#x", seg.SegmentBase, ring.ring.BusAddr())
	}
	if seg.SegmentSize != 16 {
		t.Fatalf("SegmentSize = %d, want 16", seg.SegmentSize)
	}
}

func TestDrainCorrelatesCompletionToWaiter(t *testing.T) {
	ring, _ := newTestRing(t)

	cmdAddr := uint64(0x1000)
	ch := ring.AddWaiter(cmdAddr)

	var e trb.TRB
	e.SetType(trb.TypeCommandCompletionEvent)
	e.SetCycle(true)
	e.SetPointer(cmdAddr)
	e[2] = uint32(1) << 24 // completion code "Success" == 1

	pushRaw(t, ring, 0, e)

	n := ring.Drain(context.Background())
	if n != 1 {
		t.Fatalf("Drain consumed %d TRBs, want 1", n)
	}

	select {
	case got := <-ch:
		if CompletionCode(got) != 1 {
			t.Fatalf("CompletionCode = %d, want 1", CompletionCode(got))
		}
	default:
		t.Fatalf("waiter channel never resolved")
	}

	ring.mu.Lock()
	_, stillWaiting := ring.waiters[cmdAddr]
	ring.mu.Unlock()
	if stillWaiting {
		t.Fatalf("waiter entry not removed after completion")
	}
}

func TestDrainDiscardsCompletionWithNoWaiter(t *testing.T) {
	ring, _ := newTestRing(t)

	var e trb.TRB
	e.SetType(trb.TypeCommandCompletionEvent)
	e.SetCycle(true)
	e.SetPointer(0xbeef)

	pushRaw(t, ring, 0, e)

	// must not panic or block despite no waiter being registered.
	if n := ring.Drain(context.Background()); n != 1 {
		t.Fatalf("Drain consumed %d TRBs, want 1", n)
	}
}

func TestDrainIsNoopWithNoPendingEvents(t *testing.T) {
	ring, _ := newTestRing(t)

	if n := ring.Drain(context.Background()); n != 0 {
		t.Fatalf("Drain on empty ring consumed %d TRBs, want 0", n)
	}
}

func TestDrainWrapsAndTogglesExpectedCycle(t *testing.T) {
	ring, _ := newTestRing(t)

	for i := 0; i < 16; i++ {
		var e trb.TRB
		e.SetType(trb.TypeCommandCompletionEvent)
		e.SetCycle(true)
		e.SetPointer(uint64(i))
		pushRaw(t, ring, i, e)
	}

	n := ring.Drain(context.Background())
	if n != 16 {
		t.Fatalf("Drain consumed %d TRBs, want 16", n)
	}

	if ring.ERDP()&^0xf != ring.ring.BusAddr() {
		t.Fatalf("ERDP after full wrap = %#x, want ring base %#x", ring.ERDP(), ring.ring.BusAddr())
	}
}

func TestOrphanedWaiterReclaimedOnDrain(t *testing.T) {
	r := dma.NewRegion(4 << 20)
	ring, err := New(r, 16, time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ring.AddWaiter(0xaaaa)
	time.Sleep(5 * time.Millisecond)

	ring.Drain(context.Background())

	ring.mu.Lock()
	_, present := ring.waiters[0xaaaa]
	ring.mu.Unlock()

	if present {
		t.Fatalf("expired waiter was not reclaimed")
	}
}

func TestFailAllResolvesOutstandingWaiters(t *testing.T) {
	ring, _ := newTestRing(t)

	ch1 := ring.AddWaiter(1)
	ch2 := ring.AddWaiter(2)

	ring.FailAll()

	for _, ch := range []<-chan trb.TRB{ch1, ch2} {
		select {
		case _, ok := <-ch:
			if ok {
				t.Fatalf("expected closed channel, got a value")
			}
		default:
			t.Fatalf("waiter not resolved by FailAll")
		}
	}
}

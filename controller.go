// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/usbarmory/xhci/dma"
	"github.com/usbarmory/xhci/internal/devctx"
	"github.com/usbarmory/xhci/internal/event"
	"github.com/usbarmory/xhci/internal/reg"
	"github.com/usbarmory/xhci/internal/trb"
)

// CompletionCodeSuccess is the xHCI TRB Completion Code value for a
// successfully executed command (xHCI 1.2 Table 6-95).
const CompletionCodeSuccess = 1

// State is one of the Controller's lifecycle states (spec.md §4.E).
type State int

const (
	StateUninitialized State = iota
	StateResetting
	StateConfiguring
	StateRunning
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResetting:
		return "resetting"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

const defaultPollTimeout = 500 * time.Millisecond
const defaultRingCapacity = 256

// Controller drives an xHCI host controller through its MMIO register
// file: reset, configuration and run; command submission; and interrupt
// servicing. One Controller is meant to run under one cooperative task;
// HandleInterrupt may be invoked concurrently from interrupt context, and
// the event ring's waiter map is the only state shared between the two
// (spec.md §5).
type Controller struct {
	mu sync.Mutex

	regs *registers
	host Host

	region *dma.Region

	cmdRingCapacity int
	evtRingCapacity int
	pollTimeout     time.Duration
	waiterTTL       time.Duration

	state State

	devctx  *devctx.List
	cmdRing *trb.Ring
	evtRing *event.Ring
}

// New constructs a Controller for the xHCI registers mapped at mmioBase.
// mmioBase must already be a valid CPU-accessible mapping of the
// controller's BAR (PCIe enumeration and BAR mapping are out of this
// core's scope, per spec.md §1).
func New(mmioBase uint, opts ...Option) *Controller {
	c := &Controller{
		host:            realClock{},
		region:          dma.Default(),
		cmdRingCapacity: defaultRingCapacity,
		evtRingCapacity: defaultRingCapacity,
		pollTimeout:     defaultPollTimeout,
		waiterTTL:       event.DefaultWaiterTTL,
		state:           StateUninitialized,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.regs = resolveRegisters(mmioBase)

	return c
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MaxSlots returns the controller's advertised maximum device slot
// count, valid once resolveRegisters has run (i.e. after New).
func (c *Controller) MaxSlots() int {
	return int(c.regs.maxSlots)
}

// Init runs the reset-and-configure state machine described in spec.md
// §4.E steps 1-10: halt, wait for CNR, reset, probe capacity, allocate
// the DMA aggregate, program DCBAAP/CRCR/the interrupter, set up
// scratchpads, and run.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.region == nil {
		return newErr(KindNoMemory, errors.New("no DMA region configured (call dma.Init or use WithDMARegion)"))
	}

	c.state = StateResetting

	if err := c.resetSequence(ctx); err != nil {
		c.failLocked(err)
		return err
	}

	c.state = StateConfiguring

	maxSlots := c.regs.maxSlots
	reg.SetN(c.regs.config, 0, 0xff, maxSlots)

	dcList, err := devctx.New(c.region, int(maxSlots))
	if err != nil {
		e := newErr(KindNoMemory, err)
		c.failLocked(e)
		return e
	}

	cmdRing, err := trb.NewRing(c.region, c.cmdRingCapacity, true, true, dma.ToDevice)
	if err != nil {
		e := newErr(KindNoMemory, err)
		c.failLocked(e)
		return e
	}

	evtRing, err := event.New(c.region, c.evtRingCapacity, c.waiterTTL)
	if err != nil {
		e := newErr(KindNoMemory, err)
		c.failLocked(e)
		return e
	}

	c.devctx = dcList
	c.cmdRing = cmdRing
	c.evtRing = evtRing

	reg.Write64(c.regs.dcbaap, dcList.DCBAAPBusAddr())

	crcrVal := cmdRing.BusAddr()
	if cmdRing.Cycle() {
		crcrVal |= 1
	}
	reg.Write64(c.regs.crcr, crcrVal)

	reg.Clear(c.regs.cmd, usbcmdINTE)
	reg.Write(c.regs.erstsz, uint32(evtRing.Len()))
	reg.Write64(c.regs.erdp, evtRing.ERDP())
	reg.Write64(c.regs.erstba, evtRing.ERSTBA())
	reg.Write(c.regs.imod, 0)
	reg.Set(c.regs.iman, imanIE)

	if n := c.regs.maxScratchpadBuffers; n > 0 {
		if err := dcList.ScratchpadSetup(int(n), c.host.PageSize()); err != nil {
			e := newErr(KindNoMemory, err)
			c.failLocked(e)
			return e
		}
	}

	reg.Set(c.regs.cmd, usbcmdRS)
	if err := c.pollUntil(ctx, c.regs.sts, usbstsHCH, 1, 0); err != nil {
		e := newErr(KindControllerNotReady, err)
		c.failLocked(e)
		return e
	}

	c.state = StateRunning

	// Arm the command ring (spec.md §4.E step 10): doorbell 0, stream 0,
	// target 0.
	c.regs.ringDoorbell(0, 0, 0)

	return nil
}

func (c *Controller) resetSequence(ctx context.Context) error {
	// 1. Halt.
	reg.Clear(c.regs.cmd, usbcmdRS)
	if err := c.pollUntil(ctx, c.regs.sts, usbstsHCH, 1, 1); err != nil {
		return newErr(KindControllerNotReady, err)
	}

	// 2. Wait-Ready.
	if err := c.pollUntil(ctx, c.regs.sts, usbstsCNR, 1, 0); err != nil {
		return newErr(KindControllerNotReady, err)
	}

	// 3. Reset.
	reg.Set(c.regs.cmd, usbcmdHCRST)
	if err := c.pollUntilFunc(ctx, func() bool {
		return reg.Get(c.regs.cmd, usbcmdHCRST, 1) == 0 && reg.Get(c.regs.sts, usbstsCNR, 1) == 0
	}); err != nil {
		return newErr(KindControllerNotReady, err)
	}

	return nil
}

var errPollDeadline = errors.New("poll deadline exceeded")

func (c *Controller) pollUntil(ctx context.Context, addr uint, pos int, mask int, val uint32) error {
	return c.pollUntilFunc(ctx, func() bool {
		return reg.Get(addr, pos, mask) == val
	})
}

func (c *Controller) pollUntilFunc(ctx context.Context, cond func() bool) error {
	deadline := time.Now().Add(c.pollTimeout)

	for !cond() {
		if time.Now().After(deadline) {
			return errPollDeadline
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.host.Sleep(ctx, 10*time.Millisecond)
	}

	return nil
}

// PostCommand enqueues trb onto the command ring, inserts its waiter
// before ringing doorbell 0 (mandatory ordering, spec.md §4.E), and
// blocks until either the matching completion arrives, the controller
// fails, or ctx is done. A non-Success completion code is reported as
// KindCommandFailed without disturbing the controller's Running state.
func (c *Controller) PostCommand(ctx context.Context, t trb.TRB) (trb.TRB, error) {
	c.mu.Lock()
	state := c.state
	cmdRing := c.cmdRing
	evtRing := c.evtRing
	regs := c.regs
	c.mu.Unlock()

	switch state {
	case StateUninitialized, StateResetting, StateConfiguring:
		return trb.TRB{}, newErr(KindNotInitialized, nil)
	case StateFailed:
		return trb.TRB{}, newErr(KindControllerFailed, nil)
	}

	addr, err := cmdRing.Enqueue(t)
	if err != nil {
		return trb.TRB{}, newErr(KindUnknown, err)
	}

	ch := evtRing.AddWaiter(addr)

	// Full fence implied by ringDoorbell's atomic store: the command
	// TRB's body (including its cycle bit) must be visible before the
	// controller observes the doorbell write.
	regs.ringDoorbell(0, 0, 0)

	select {
	case completion, ok := <-ch:
		if !ok {
			return trb.TRB{}, newErr(KindControllerFailed, nil)
		}

		cmdRing.MarkConsumed(1)

		if completion.Type() != trb.TypeCommandCompletionEvent {
			return trb.TRB{}, newErr(KindUnknown, fmt.Errorf("protocol violation: event class %d answering a command", completion.Type()))
		}

		code := event.CompletionCode(completion)
		if code != CompletionCodeSuccess {
			return completion, commandFailed(code)
		}

		return completion, nil

	case <-ctx.Done():
		evtRing.CancelWaiter(addr)
		return trb.TRB{}, ctx.Err()
	}
}

// HandleInterrupt drains the event ring, writes back the updated ERDP
// (with the Event Handler Busy bit cleared) and clears IMAN.IP. It is
// safe to call spuriously, including before Init completes or after the
// controller has failed.
func (c *Controller) HandleInterrupt(ctx context.Context) {
	c.mu.Lock()
	evtRing := c.evtRing
	regs := c.regs
	c.mu.Unlock()

	if evtRing == nil {
		return
	}

	evtRing.Drain(ctx)

	erdp := evtRing.ERDP() &^ (1 << erdpEHB)
	reg.Write64(regs.erdp, erdp)
	reg.Clear(regs.iman, imanIP)
}

// EnableSlot issues an Enable Slot command and, on success, allocates the
// slot's device contexts and records its Output Context address in the
// DCBAA. It returns the slot ID the controller assigned.
func (c *Controller) EnableSlot(ctx context.Context) (int, error) {
	var t trb.TRB
	t.SetType(trb.TypeEnableSlotCommand)

	completion, err := c.PostCommand(ctx, t)
	if err != nil {
		return 0, err
	}

	slot := int(event.SlotID(completion))

	c.mu.Lock()
	dcList := c.devctx
	c.mu.Unlock()

	if err := dcList.EnableSlot(slot); err != nil {
		if errors.Is(err, devctx.ErrSlotLimitReached) {
			return 0, newErr(KindSlotLimitReached, err)
		}
		return 0, newErr(KindNoMemory, err)
	}

	return slot, nil
}

// DisableSlot issues a Disable Slot command and releases the slot's
// device contexts.
func (c *Controller) DisableSlot(ctx context.Context, slot int) error {
	var t trb.TRB
	t.SetType(trb.TypeDisableSlotCommand)
	t[3] |= uint32(slot) << 24

	if _, err := c.PostCommand(ctx, t); err != nil {
		return err
	}

	c.mu.Lock()
	dcList := c.devctx
	c.mu.Unlock()

	dcList.DisableSlot(slot)

	return nil
}

// failLocked transitions the controller to Failed and resolves every
// outstanding command waiter with KindControllerFailed. c.mu must be
// held by the caller.
func (c *Controller) failLocked(err error) {
	c.state = StateFailed

	if c.evtRing != nil {
		c.evtRing.FailAll()
	}

	log.Printf("xhci: controller failed: %v", err)
}

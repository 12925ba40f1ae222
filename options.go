// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"time"

	"github.com/usbarmory/xhci/dma"
)

// Option configures a Controller at construction time. The teacher
// tamago tree has no runtime configuration system at all — board
// parameters are Go constants — so this follows the options-struct
// idiom common across the Go ecosystem (e.g. redis.Options,
// periph.io/x/periph/devices' New*(opts) constructors) rather than
// introducing a config-file library no part of this domain needs.
type Option func(*Controller)

// WithHost overrides the default Host capability (stdlib monotonic sleep
// with a 4096-byte page size).
func WithHost(h Host) Option {
	return func(c *Controller) { c.host = h }
}

// WithDMARegion overrides the DMA region used for every allocation this
// controller makes. Defaults to dma.Default().
func WithDMARegion(r *dma.Region) Option {
	return func(c *Controller) { c.region = r }
}

// WithRingCapacity overrides the command ring and event ring capacities
// (both default to 256, the common case spec.md §3 describes). Both
// must be powers of two in [16, 4096].
func WithRingCapacity(cmdRing, eventRing int) Option {
	return func(c *Controller) {
		c.cmdRingCapacity = cmdRing
		c.evtRingCapacity = eventRing
	}
}

// WithPollTimeout overrides the deadline applied to each register
// poll loop in Init (default 500ms, spec.md §4.E).
func WithPollTimeout(d time.Duration) Option {
	return func(c *Controller) { c.pollTimeout = d }
}

// WithWaiterTTL overrides how long an event-ring waiter survives with no
// matching completion before Drain reclaims it (default
// event.DefaultWaiterTTL).
func WithWaiterTTL(d time.Duration) Option {
	return func(c *Controller) { c.waiterTTL = d }
}

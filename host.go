// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"context"
	"time"
)

// Host is the set of capabilities the embedding environment must supply.
// They are the only way this driver reaches outside of its own MMIO
// register file and DMA structures: no file system, network, interrupt
// controller or page-table access is assumed.
type Host interface {
	// Sleep yields the calling task for at least d. It is used between
	// polls of volatile status bits and must be safe to call from the
	// single task that drives Init.
	Sleep(ctx context.Context, d time.Duration)

	// PageSize returns the host's MMU page size, used to size
	// scratchpad buffers.
	PageSize() int
}

// realClock drives Host.Sleep with the stdlib monotonic clock. It is the
// default used by boards that have no cooperative scheduler of their own
// (e.g. tests, or a controller running under a regular OS thread).
type realClock struct{}

// Sleep blocks for at least d, or until ctx is done.
func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// PageSize returns 4096, the common case for the i.MX6/i.MX8 boards the
// teacher runtime targets.
func (realClock) PageSize() int { return 4096 }

// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package devctx

import (
	"fmt"

	"github.com/usbarmory/xhci/dma"
)

// ScratchpadSetup allocates n page-aligned, page-sized scratchpad
// buffers and a 4 KiB-aligned pointer array holding their bus addresses,
// then stores the pointer array's bus address into DCBAA[0]. It is a
// no-op if n is 0: DCBAA[0] is left at zero, satisfying the invariant
// that it holds a scratchpad pointer iff the controller requires
// scratchpads.
func (l *List) ScratchpadSetup(n int, pageSize int) error {
	if n <= 0 {
		return nil
	}

	pointers, err := dma.AllocVec[uint64](l.region, n, 4096, dma.Bidirectional)
	if err != nil {
		return fmt.Errorf("devctx: allocate scratchpad pointer array: %w", err)
	}

	buffers := make([]*dma.Vec[byte], 0, n)

	for i := 0; i < n; i++ {
		buf, err := dma.AllocVec[byte](l.region, pageSize, pageSize, dma.Bidirectional)
		if err != nil {
			for _, b := range buffers {
				b.Free()
			}
			pointers.Free()
			return fmt.Errorf("devctx: allocate scratchpad buffer %d: %w", i, err)
		}

		pointers.Set(i, buf.BusAddr())
		buffers = append(buffers, buf)
	}

	l.scratchpadPointers = pointers
	l.scratchpadBuffers = buffers
	l.dcbaa.Set(0, pointers.BusAddr())

	return nil
}

// ScratchpadArrayBusAddr returns the bus address stored in DCBAA[0], or 0
// if scratchpads were never set up.
func (l *List) ScratchpadArrayBusAddr() uint64 {
	if l.scratchpadPointers == nil {
		return 0
	}
	return l.scratchpadPointers.BusAddr()
}

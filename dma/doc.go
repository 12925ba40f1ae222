// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma provides primitives for direct memory allocation and
// alignment, used by bare metal device drivers to avoid passing Go
// pointers for DMA purposes. A Region owns a fixed memory arena and hands
// out Box[T] (single value) and Vec[T] (fixed-length array) allocations
// backed by a first-fit allocator, each zeroed and tagged with a
// Direction that the embedding environment uses to decide cache
// maintenance.
//
// The package itself performs no cache maintenance: direction is
// metadata for the host environment (see CacheMaintainer), never acted
// on here.
package dma

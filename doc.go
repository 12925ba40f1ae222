// xHCI host controller driver core
// https://github.com/usbarmory/xhci
//
// Copyright (c) The Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package xhci implements the core of an xHCI (eXtensible Host Controller
// Interface) USB 3.x host controller driver: register bring-up, the
// command ring, the event ring, the device context table, and the
// asynchronous completion path that ties them together.
//
// This package is designed for bare metal use on top of the TamaGo
// runtime (`GOOS=tamago`, see https://github.com/usbarmory/tamago), where
// the caller supplies an MMIO base address and a small Host capability
// (sleep, page size) and this package owns all xHCI DMA structures and
// register programming from there.
//
// Out of scope: PCIe enumeration, interrupt routing, device-tree parsing,
// USB device enumeration, transfer rings for endpoints, hub/port state
// machines and class drivers. These belong to layers built on top of this
// package.
package xhci

//go:build rp2040

/*
 * Copyright 2025 Ted Dunning
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package rp2hw

import (
	"device/rp"
	"unsafe"
)

// UARTDMABackend streams log lines out UART0's TX FIFO via a claimed DMA
// channel instead of blocking the calling core on byte-at-a-time writes.
// This is the "UART DMA backend" spec §1 names as an external collaborator:
// the log ring only needs something satisfying logring.Sink.
type UARTDMABackend struct {
	ch     DmaChannel
	claimed bool
}

// NewUARTDMABackend claims a DMA channel for exclusive UART TX use. ok is
// false if every channel is already claimed, in which case the caller
// should fall back to a no-op sink per spec §7 "resource scarcity" (drop
// the message, never block the core loops).
func NewUARTDMABackend() (*UARTDMABackend, bool) {
	ch, ok := ClaimChannel()
	if !ok {
		return nil, false
	}
	return &UARTDMABackend{ch: ch, claimed: true}, true
}

// Write hands line to the DMA channel paced by UART0's TX DREQ. Errors
// (channel busy past its timeout) are swallowed: a dropped log line is
// never allowed to affect the governor or ramp loops.
func (b *UARTDMABackend) Write(line string) {
	if b == nil || !b.claimed {
		return
	}
	buf := []byte(line)
	dst := (*byte)(unsafe.Pointer(&rp.UART0.UARTDR.Reg))
	_ = b.ch.Push8(dst, buf, DreqUART0Tx)
}

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

var core1Stack [2048]uint32

// LaunchCore1 boots the second Cortex-M0+ core running fn. It performs the
// documented RP2040 core-1 bring-up handshake over the SIO mailbox: core 0
// repeatedly sends the sequence {0, 0, 1, vector table, stack pointer,
// entry point}, discarding anything core 1 echoes back that doesn't match,
// until core 1 acknowledges each value in turn. Must be called exactly
// once, from core 0, before the governor loop is expected to be running.
func LaunchCore1(fn func()) {
	core1Entry = fn

	seq := [6]uint32{
		0, 0, 1,
		uint32(uintptr(unsafe.Pointer(&rp.PPB.VTOR))),
		uint32(uintptr(unsafe.Pointer(&core1Stack[len(core1Stack)-1]))) + 4,
		uint32(uintptr(unsafe.Pointer(&core1Trampoline))),
	}

	for i := 0; i < len(seq); {
		cmd := seq[i]
		// Flush any stale FIFO content before sending a 0, which is the
		// handshake's resync marker.
		if cmd == 0 {
			for sioFIFOValid() {
				sioFIFORead()
			}
		}
		sioFIFOWrite(cmd)
		for !sioFIFOValid() {
		}
		if sioFIFORead() != cmd {
			i = 0
			continue
		}
		i++
	}
}

var core1Entry func()

// core1Trampoline is the function address handed to core 1 as its entry
// point; it runs on core 1's own stack once the handshake above completes.
func core1Trampoline() {
	if core1Entry != nil {
		core1Entry()
	}
}

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

import "unsafe"

// MMIO is the raw peek/poke backend for the shell's `peek`/`poke`
// commands. It performs no validation of its own: shell.checkMMIOAddr
// range/alignment-checks the address first (spec §7 kind 1, "domain
// violations"), so this stays a thin, host-untestable sliver.
type MMIO struct{}

// NewMMIO returns the live, hardware-backed MMIO accessor.
func NewMMIO() MMIO { return MMIO{} }

// Read32 returns the 32-bit word at addr.
func (MMIO) Read32(addr uint32) (uint32, error) {
	return *(*uint32)(unsafe.Pointer(uintptr(addr))), nil
}

// Write32 writes val to addr.
func (MMIO) Write32(addr, val uint32) error {
	*(*uint32)(unsafe.Pointer(uintptr(addr))) = val
	return nil
}

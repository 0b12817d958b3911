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

import "machine"

// RebootViaWatchdog is the one fatal-failure path in the kernel (spec §7
// "Liveness failure"): core 0 enables the hardware watchdog with the
// shortest possible timeout and then spins, guaranteeing a reset rather
// than a hang.
func RebootViaWatchdog() {
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1})
	machine.Watchdog.Start()
	for {
	}
}

// EnterBootloader hands control to the USB mass-storage bootloader (the
// `bootsel` shell command, spec §6).
func EnterBootloader() {
	machine.EnterBootloader()
}

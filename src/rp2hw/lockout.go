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
	"errors"
	"runtime"
	"time"
)

// Multicore lockout: the mechanism the ramp engine uses to pause core 0
// across a PLL reconfigure (spec §4.1 step 2, §5 "Suspension points"). It
// is built directly on the inter-core SIO mailbox FIFO the same way the
// teacher pokes hardware registers directly (src/wspr/dma.go,
// src/pico/setup.go) rather than through a higher-level abstraction —
// there is no higher-level abstraction for this in the pack.
const (
	lockoutMagicPause  = 0xB007C0DE
	lockoutMagicAck    = 0xACED0001
	lockoutMagicResume = 0xACED0002
)

var lockoutVictimArmed bool

// ArmLockoutVictim must be called on core 0 before core 1 is launched. It
// installs the polling loop core 0 runs at the top of every REPL iteration
// to check for a pending pause request.
func ArmLockoutVictim() {
	lockoutVictimArmed = true
}

// CheckLockoutVictim is polled by core 0's loop once per iteration. If a
// pause request is pending it acknowledges it and spins until core 1 sends
// the resume token, then returns. It is a no-op when nothing is pending.
func CheckLockoutVictim() {
	if !lockoutVictimArmed {
		return
	}
	for sioFIFOValid() {
		v := sioFIFORead()
		if v != lockoutMagicPause {
			continue
		}
		sioFIFOWrite(lockoutMagicAck)
		for {
			if sioFIFOValid() && sioFIFORead() == lockoutMagicResume {
				return
			}
			runtime.Gosched()
		}
	}
}

// LockoutStart pauses core 0 (the "victim") so the caller (core 1) can
// reconfigure the PLL without racing core 0's own register access. It
// blocks until core 0 acknowledges, with a bounded timeout so a dead core 0
// can never wedge the ramp engine forever.
func LockoutStart(timeout time.Duration) error {
	sioFIFOWrite(lockoutMagicPause)
	deadline := time.Now().Add(timeout)
	for {
		if sioFIFOValid() && sioFIFORead() == lockoutMagicAck {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("rp2hw: lockout victim did not acknowledge")
		}
		runtime.Gosched()
	}
}

// LockoutEnd resumes core 0 after a PLL reconfigure completes.
func LockoutEnd() {
	sioFIFOWrite(lockoutMagicResume)
}

func sioFIFOValid() bool {
	return rp.SIO.FIFO_ST.Get()&rp.SIO_FIFO_ST_VLD != 0
}

func sioFIFOWrite(v uint32) {
	for rp.SIO.FIFO_ST.Get()&rp.SIO_FIFO_ST_RDY == 0 {
		runtime.Gosched()
	}
	rp.SIO.FIFO_WR.Set(v)
}

func sioFIFORead() uint32 {
	return rp.SIO.FIFO_RD.Get()
}

// CoreNum returns 0 or 1 identifying which core is executing.
func CoreNum() uint8 {
	return uint8(rp.SIO.CPUID.Get())
}

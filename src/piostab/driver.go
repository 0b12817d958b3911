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

//go:build rp2040

package piostab

import (
	"machine"

	pio "github.com/tinygo-org/pio/rp2-pio"
)

// idleMeasureProgram counts system-clock cycles while the IDLE pin (set by
// core 0's loop, spec §4.2 "IDLE pin") reads high, and pushes the running
// count to the RX FIFO once per heartbeat. It never blocks on the pin
// transitioning: a wait/jmp pair samples the pin every cycle and an
// autopush ISR accumulates the tally, matching the teacher's register-level
// approach to the PWM counters in the frequency-counter driver.
//
//	.wrap_target
//	wait 1 pin 0      ; idle pin high
//	jmp x--  accumulate
//	wait 0 pin 0      ; idle pin low, stop counting this slice
//	.wrap
var idleMeasureProgram = []uint16{
	0x20a0, // wait 1 gpio 0   (wait on the idle pin mapped to PIO "pin 0")
	0x0044, // jmp x-- 4 (self, decremented every idle-high cycle)
	0x2020, // wait 0 gpio 0
}

// periodMeasureProgram times the low phase of the heartbeat pin (spec §4.2
// "heartbeat pin"): it waits for a falling edge, clears X, counts cycles
// until the next rising edge, then auto-pushes X to the RX FIFO.
//
//	.wrap_target
//	wait 0 pin 1
//	mov x, !null
//	count:
//	  jmp pin done      ; pin back high -> push accumulated count
//	  jmp x-- count
//	done:
//	  mov isr, x
//	  push block
//	.wrap
var periodMeasureProgram = []uint16{
	0x20a1, // wait 0 gpio 1
	0xa0ea, // mov x, !null
	0x00c4, // jmp pin, 4 (done)
	0x0042, // jmp x-- 2 (count)
	0xa0e2, // mov isr, x
	0x8000, // push block
}

// Driver owns the two PIO state machines that back the Arbiter: one tallies
// idle cycles, the other times heartbeat periods. It is the rp2040 half of
// the arbiter described in spec §4.2; Arbiter itself is platform-independent.
type Driver struct {
	arb *Arbiter

	idleSM   pio.StateMachine
	periodSM pio.StateMachine

	idlePin machine.Pin
	hbPin   machine.Pin

	loopStart uint64
}

// NewDriver claims two PIO0 state machines, loads the idle and heartbeat
// programs, and wires them to the given pins. The outer loop period fed to
// Arbiter.Poll comes from the nowTicks argument of Poll.
func NewDriver(arb *Arbiter, idlePin, hbPin machine.Pin) (*Driver, error) {
	idlePin.Configure(machine.PinConfig{Mode: pio.PIO0.PinMode()})
	hbPin.Configure(machine.PinConfig{Mode: pio.PIO0.PinMode()})

	idleSM, err := pio.PIO0.ClaimStateMachine()
	if err != nil {
		return nil, err
	}
	periodSM, err := pio.PIO0.ClaimStateMachine()
	if err != nil {
		return nil, err
	}

	idleOff, err := pio.PIO0.AddProgram(idleMeasureProgram, -1)
	if err != nil {
		return nil, err
	}
	periodOff, err := pio.PIO0.AddProgram(periodMeasureProgram, -1)
	if err != nil {
		return nil, err
	}

	idleSM.HW().PINCTRL.Set(uint32(idlePin) << 0)
	idleSM.HW().ADDR.Set(uint32(idleOff))
	idleSM.ClearFIFOs()
	idleSM.SetEnabled(true)

	periodSM.HW().PINCTRL.Set(uint32(hbPin) << 0)
	periodSM.HW().ADDR.Set(uint32(periodOff))
	periodSM.ClearFIFOs()
	periodSM.SetEnabled(true)

	return &Driver{
		arb:      arb,
		idleSM:   idleSM,
		periodSM: periodSM,
		idlePin:  idlePin,
		hbPin:    hbPin,
	}, nil
}

// Poll drains whatever is waiting in both RX FIFOs (never blocking — a PIO
// program that hasn't produced a new sample since the last poll leaves
// hbPeriodTicks at 0, which Arbiter.Poll treats as "no new heartbeat this
// round") and feeds the arbiter. nowTicks is the caller's monotonic tick
// count, used only to compute the outer loop period.
func (d *Driver) Poll(nowTicks uint64) Snapshot {
	var idleTicks uint32
	for d.idleSM.RxFIFOLevel() > 0 {
		idleTicks = d.idleSM.RxReg().Get()
	}

	var hbTicks uint32
	for d.periodSM.RxFIFOLevel() > 0 {
		hbTicks = d.periodSM.RxReg().Get()
	}

	var loopPeriod uint64
	if d.loopStart != 0 {
		loopPeriod = nowTicks - d.loopStart
	}
	d.loopStart = nowTicks

	return d.arb.Poll(idleTicks, uint32(loopPeriod), hbTicks)
}

// Arbiter exposes the underlying platform-independent arbiter so callers
// can invoke SafeToScale/NotifyFreqChange directly without re-threading the
// driver through every caller.
func (d *Driver) Arbiter() *Arbiter { return d.arb }

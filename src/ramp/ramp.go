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

// Package ramp implements the Clock/Voltage Ramp Engine (spec §4.1): it
// moves the system clock one bounded step toward a target while
// maintaining the voltage-before-frequency invariant, probing PLL
// achievability before committing. It never sleeps; pacing and watchdog
// pings belong to RampTo.
package ramp

import (
	"rp2040gov/src/krnstate"
)

// Hardware is the narrow contract the ramp engine needs from the platform:
// probe+commit the PLL, set the regulator, and pause the other core across
// the reconfigure. A test build supplies a fake; the rp2040 build supplies
// src/rp2hw-backed adapters.
type Hardware interface {
	// FindAchievableKHz returns the nearest frequency to target (searching
	// up to ±50kHz from it, in the direction away from "from") for which a
	// valid PLL divisor triple exists.
	FindAchievableKHz(from, target uint32) uint32
	// SetSysClock attempts to reconfigure the PLL to khz, which the caller
	// has already confirmed is achievable. It can still fail at the
	// hardware level (spec §4.1 "PLL edge").
	SetSysClock(khz uint32) bool
	// SetVoltage writes a new VREG setpoint.
	SetVoltage(mv uint32)
	// LockOtherCore pauses the other core for the duration of fn (the
	// multicore lockout primitive, spec §4.1 step 2 / §5).
	LockOtherCore(fn func())
}

// Engine is the ramp engine. It owns current_khz/current_voltage_mv
// exclusively (spec §5 "Writers").
type Engine struct {
	hw     Hardware
	state  *krnstate.State
	log    krnstate.Log
	sku1350 bool
}

// New builds a ramp engine bound to the given shared state. sku1350
// indicates whether the board's regulator exposes the 1.35V step.
func New(hw Hardware, state *krnstate.State, log krnstate.Log, sku1350 bool) *Engine {
	return &Engine{hw: hw, state: state, log: log, sku1350: sku1350}
}

// VregFor is the sole authority mapping a frequency to the voltage
// regulator setpoint it requires (spec §4.1 "Voltage interlock").
func VregFor(khz uint32, sku1350 bool) uint32 {
	switch {
	case khz > 250_000:
		if sku1350 {
			return krnstate.Vreg1350mV
		}
		return krnstate.Vreg1300mV
	case khz > 200_000:
		return krnstate.Vreg1200mV
	default:
		return krnstate.Vreg1100mV
	}
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RampStep advances current_khz by at most RampStepKHz toward new_khz
// (spec invariant 3). It returns true when current_khz already equals
// new_khz (idempotent at the target, per spec §8), when this step lands
// current_khz on new_khz, or when the PLL set fails (target_khz is then
// clamped to current_khz). It never sleeps and is safe to call repeatedly
// from the governor's own core.
func (e *Engine) RampStep(newKHz uint32) bool {
	current := e.state.CurrentKHz()
	if current == newKHz {
		return true
	}

	var candidate uint32
	if newKHz > current {
		candidate = clamp(current+krnstate.RampStepKHz, krnstate.MinKHz, krnstate.MaxKHz)
		if candidate > newKHz {
			candidate = newKHz
		}
	} else {
		candidate = clamp(current-krnstate.RampStepKHz, krnstate.MinKHz, krnstate.MaxKHz)
		if candidate < newKHz {
			candidate = newKHz
		}
	}

	achievable := e.hw.FindAchievableKHz(current, candidate)
	steppingUp := achievable > current

	if steppingUp {
		// Voltage for the *next* frequency must be observable before the
		// PLL reconfigure begins (spec §4.1 step 1, §5 ordering guarantee a).
		e.setVoltageFor(achievable)
	}

	ok := false
	e.hw.LockOtherCore(func() {
		ok = e.hw.SetSysClock(achievable)
	})

	if !ok {
		// PLL edge: probe said achievable, set failed. current_khz must
		// not move and target_khz clamps to it (spec invariant 2, §7 kind 2).
		if e.log != nil {
			e.log.Logf("PLL edge: set_sys_clock(%d) failed, clamping target to %d", achievable, current)
		}
		e.state.SetTargetKHz(current)
		return true
	}

	if !steppingUp {
		// Stepping down: drop the voltage only after the PLL has settled
		// at the lower frequency (spec §4.1 step 4).
		e.setVoltageFor(achievable)
	}

	e.state.SetCurrentKHz(achievable)
	return achievable == newKHz
}

func (e *Engine) setVoltageFor(khz uint32) {
	mv := VregFor(khz, e.sku1350)
	e.hw.SetVoltage(mv)
	e.state.SetCurrentVoltageMV(mv)
}

// Pacer abstracts the inter-step delay and watchdog ping RampTo performs
// between steps, so it can be driven deterministically in tests.
type Pacer interface {
	Sleep()
	PingWatchdog()
}

// RampTo repeatedly calls RampStep with an inter-step pacing delay,
// pinging the core-1 watchdog counter each step so a long ramp (spec §5:
// worst case ~28 steps) can never starve it.
func (e *Engine) RampTo(newKHz uint32, pacer Pacer) {
	for {
		done := e.RampStep(newKHz)
		pacer.PingWatchdog()
		if done {
			return
		}
		pacer.Sleep()
	}
}

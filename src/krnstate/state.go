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

// Package krnstate holds the shared kernel state that crosses the core-0 /
// core-1 boundary. Every field is a word-aligned atomic cell; the kernel
// builds exactly one instance with New at boot and it is the only channel
// through which the two cores communicate scalar facts about each other.
package krnstate

import "sync/atomic"

// Frequency bounds, in kilohertz. 264000 is mandated over the alternate
// 265000 because it has no valid PLL divisor triple (spec Open Question 2).
const (
	MinKHz = 125_000
	MaxKHz = 264_000

	// RampStepKHz bounds how far a single ramp_step call may move
	// current_khz.
	RampStepKHz = 5_000
)

// Voltage setpoints in millivolts, the only values VregFor ever returns.
const (
	Vreg1100mV = 1100
	Vreg1200mV = 1200
	Vreg1300mV = 1300
	Vreg1350mV = 1350
)

// LiveStats is the telemetry-enabled flag packed into a word so it can share
// the atomic discipline with everything else here.
const (
	StatsOff uint32 = 0
	StatsOn  uint32 = 1
)

// State is the shared kernel state block described in spec §3. All fields
// are accessed exclusively through the atomic getters/setters below; no
// lock guards any of them, matching the "architecture guarantees atomic
// word load/store" invariant.
type State struct {
	targetKHz     atomic.Uint32
	currentKHz    atomic.Uint32
	currentVmV    atomic.Uint32
	throttle      atomic.Uint32
	core1WdtPing  atomic.Uint32
	liveStats     atomic.Uint32
	statPeriodMs  atomic.Uint32
}

// New returns a State initialized to the kernel's power-on defaults:
// running at MinKHz with the matching (default) voltage, no target change
// pending, stats telemetry off with a 1s default cadence.
func New() *State {
	s := &State{}
	s.currentKHz.Store(MinKHz)
	s.targetKHz.Store(MinKHz)
	s.currentVmV.Store(Vreg1100mV)
	s.statPeriodMs.Store(1000)
	return s
}

func (s *State) TargetKHz() uint32        { return s.targetKHz.Load() }
func (s *State) SetTargetKHz(k uint32)    { s.targetKHz.Store(k) }
func (s *State) CurrentKHz() uint32       { return s.currentKHz.Load() }
func (s *State) CurrentVoltageMV() uint32 { return s.currentVmV.Load() }

// SetCurrentKHz and SetCurrentVoltageMV are used only by the ramp engine:
// current_khz and current_voltage_mv are its exclusive writers (spec §5
// "Writers"). Nothing else in the kernel may call these.
func (s *State) SetCurrentKHz(khz uint32)       { s.currentKHz.Store(khz) }
func (s *State) SetCurrentVoltageMV(mv uint32)  { s.currentVmV.Store(mv) }

func (s *State) ThrottleActive() bool     { return s.throttle.Load() != 0 }
func (s *State) SetThrottleActive(v bool) {
	if v {
		s.throttle.Store(1)
	} else {
		s.throttle.Store(0)
	}
}

// PingCore1Watchdog is called once per core-1 governor-loop iteration (and
// once per ramp step, so a long ramp cannot starve the watchdog).
func (s *State) PingCore1Watchdog() { s.core1WdtPing.Add(1) }

// Core1WatchdogCount is read by core 0 once every 5s; if it hasn't advanced
// since the last sample, core 0 reboots.
func (s *State) Core1WatchdogCount() uint32 { return s.core1WdtPing.Load() }

func (s *State) StatsEnabled() bool { return s.liveStats.Load() == StatsOn }

func (s *State) SetStatsEnabled(on bool) {
	if on {
		s.liveStats.Store(StatsOn)
	} else {
		s.liveStats.Store(StatsOff)
	}
}

func (s *State) StatPeriodMs() uint32     { return s.statPeriodMs.Load() }
func (s *State) SetStatPeriodMs(ms uint32) { s.statPeriodMs.Store(ms) }

// Clock is the monotonic-millisecond-counter contract the core consumes
// from the platform; the governors' cooldown timers and the shell consume
// it, and none of them may own it.
type Clock interface {
	Millis() uint64
}

// Log is the short-line log-sink contract. Implementations must never
// block or fail the caller: a full or absent sink silently drops the line
// (spec §7 "resource scarcity").
type Log interface {
	Logf(format string, args ...any)
}

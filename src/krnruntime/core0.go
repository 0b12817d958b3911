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

// Package krnruntime implements the Dual-core Runtime (spec §4.5): core 0's
// REPL/telemetry/watchdog loop and core 1's governor loop. Both are written
// against narrow interfaces so the cooperative-loop structure itself is
// host-testable; the rp2040 build wires real GPIOs, UART, and the PIO
// driver in behind them.
package krnruntime

import "rp2040gov/src/krnstate"

// Pulse is a GPIO driven as a short pulse once per loop iteration (the
// heartbeat pin, spec §4.5 "emits the heartbeat pulse").
type Pulse interface {
	Pulse()
}

// Level is a GPIO held high or low across a span of the loop body (the
// IDLE pin, spec §4.5 "raises/lowers the IDLE pin").
type Level interface {
	High()
	Low()
}

// CharSource is a non-blocking single-byte reader (spec §4.5 "reads
// characters with a zero-timeout"). ok is false when nothing is waiting.
type CharSource interface {
	ReadByte() (b byte, ok bool)
}

// PioPoller is the one PIO-facing operation core 0 performs each loop.
type PioPoller interface {
	Poll(nowTicks uint64)
}

// Shell processes one input byte at a time and reports a line of output
// whenever a full command has run.
type Shell interface {
	Feed(b byte) (output string, ranCommand bool)
}

// Writer emits shell output; on rp2040 this is backed by the UART DMA
// backend, in tests by a string-collecting stub.
type Writer interface {
	Write(s string)
}

// Core0Config wires every collaborator core 0's loop body touches.
type Core0Config struct {
	State     *krnstate.State
	Heartbeat Pulse
	Idle      Level
	Chars     CharSource
	Shell     Shell
	Out       Writer
	Pio       PioPoller
	Clock     krnstate.Clock
	Log       krnstate.Log
	Reboot    func()
	// Telemetry is invoked once every State.StatPeriodMs() when stats are
	// enabled (spec §4.5 "updates live telemetry every stat_period_ms").
	Telemetry func()
	// LockoutCheck polls for a pending multicore-lockout pause request from
	// core 1 (the ramp engine pausing this core across a PLL reconfigure,
	// spec §4.1 step 2); nil on builds with nothing to check.
	LockoutCheck func()

	// WatchdogPeriodMs overrides the 5s core-1 watchdog sampling interval;
	// zero means the spec default of 5000ms.
	WatchdogPeriodMs uint64
}

// Core0 runs the REPL/telemetry/watchdog loop described in spec §4.5.
type Core0 struct {
	cfg Core0Config

	lastStatMs     uint64
	haveStatMs     bool
	lastWdtCheckMs uint64
	haveWdtCheckMs bool
	lastWdtCount   uint32
}

// NewCore0 returns a Core0 ready to run.
func NewCore0(cfg Core0Config) *Core0 {
	if cfg.WatchdogPeriodMs == 0 {
		cfg.WatchdogPeriodMs = 5000
	}
	return &Core0{cfg: cfg}
}

// RunOnce executes one iteration of the core-0 loop body at the given
// monotonic millisecond timestamp. Production code calls this in an
// infinite loop; tests call it directly to control timing.
func (c *Core0) RunOnce(nowMs uint64) {
	cfg := &c.cfg

	if cfg.LockoutCheck != nil {
		cfg.LockoutCheck()
	}
	if cfg.Heartbeat != nil {
		cfg.Heartbeat.Pulse()
	}
	if cfg.Pio != nil {
		cfg.Pio.Poll(nowMs)
	}

	if cfg.Idle != nil {
		cfg.Idle.High()
	}
	if cfg.Chars != nil && cfg.Shell != nil {
		if b, ok := cfg.Chars.ReadByte(); ok {
			if out, ran := cfg.Shell.Feed(b); ran && out != "" && cfg.Out != nil {
				cfg.Out.Write(out)
			}
		}
	}
	if cfg.Idle != nil {
		cfg.Idle.Low()
	}

	if cfg.State.StatsEnabled() && cfg.Telemetry != nil {
		if !c.haveStatMs || nowMs-c.lastStatMs >= uint64(cfg.State.StatPeriodMs()) {
			cfg.Telemetry()
			c.lastStatMs = nowMs
			c.haveStatMs = true
		}
	}

	if !c.haveWdtCheckMs {
		c.lastWdtCheckMs = nowMs
		c.haveWdtCheckMs = true
		c.lastWdtCount = cfg.State.Core1WatchdogCount()
		return
	}
	if nowMs-c.lastWdtCheckMs >= cfg.WatchdogPeriodMs {
		cur := cfg.State.Core1WatchdogCount()
		if cur == c.lastWdtCount {
			if cfg.Log != nil {
				cfg.Log.Logf("critical: core1 watchdog stalled at %d, rebooting", cur)
			}
			if cfg.Reboot != nil {
				cfg.Reboot()
			}
		}
		c.lastWdtCount = cur
		c.lastWdtCheckMs = nowMs
	}
}

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

package ramp

import (
	"fmt"
	"testing"

	"rp2040gov/src/krnstate"
)

// fakeHW is a deterministic stand-in for rp2hw: every frequency is
// achievable unless listed in unachievable, and SetSysClock fails for
// exactly the frequencies listed in failSet.
type fakeHW struct {
	unachievable map[uint32]bool
	failSet      map[uint32]bool
	voltages     []uint32
	lastSet      uint32
}

func (f *fakeHW) FindAchievableKHz(from, target uint32) uint32 {
	if f.unachievable == nil || !f.unachievable[target] {
		return target
	}
	step := int32(1)
	if target < from {
		step = -1
	}
	for d := int32(1); d <= 50; d++ {
		cand := uint32(int32(target) + d*step)
		if !f.unachievable[cand] {
			return cand
		}
	}
	return target
}

func (f *fakeHW) SetSysClock(khz uint32) bool {
	f.lastSet = khz
	return !f.failSet[khz]
}

func (f *fakeHW) SetVoltage(mv uint32) { f.voltages = append(f.voltages, mv) }

func (f *fakeHW) LockOtherCore(fn func()) { fn() }

type fakePacer struct{ pings int }

func (p *fakePacer) Sleep()        {}
func (p *fakePacer) PingWatchdog() { p.pings++ }

func newTestEngine(hw *fakeHW, startKHz uint32) (*Engine, *krnstate.State) {
	st := krnstate.New()
	st.SetCurrentKHz(startKHz)
	st.SetTargetKHz(startKHz)
	return New(hw, st, nil, false), st
}

func TestRampStep_Idempotent(t *testing.T) {
	hw := &fakeHW{}
	e, st := newTestEngine(hw, 200_000)
	if done := e.RampStep(200_000); !done {
		t.Fatalf("RampStep at current target should report done immediately")
	}
	if st.CurrentKHz() != 200_000 {
		t.Fatalf("current_khz changed on a no-op ramp step")
	}
}

func TestRampStep_BoundedByStep(t *testing.T) {
	hw := &fakeHW{}
	e, st := newTestEngine(hw, 125_000)
	e.RampStep(264_000)
	if got := st.CurrentKHz(); got != 130_000 {
		t.Fatalf("expected one RampStepKHz advance to 130000, got %d", got)
	}
}

// TestRampUpScenario is spec §8 scenario 1: a monotone non-decreasing
// sequence of current_khz, each step <= +5000, with voltage transitioning
// to 1200 at >200000 and 1300 at >250000, terminating at 264000.
func TestRampUpScenario(t *testing.T) {
	hw := &fakeHW{}
	e, st := newTestEngine(hw, 125_000)

	var seen []uint32
	prev := st.CurrentKHz()
	for i := 0; i < 100 && st.CurrentKHz() != 264_000; i++ {
		done := e.RampStep(264_000)
		cur := st.CurrentKHz()
		if cur < prev {
			t.Fatalf("current_khz decreased: %d -> %d", prev, cur)
		}
		if cur-prev > krnstate.RampStepKHz {
			t.Fatalf("step too large: %d -> %d", prev, cur)
		}
		prev = cur
		seen = append(seen, cur)
		if done && cur == 264_000 {
			break
		}
	}
	if st.CurrentKHz() != 264_000 {
		t.Fatalf("did not reach 264000, stuck at %d", st.CurrentKHz())
	}

	var sawFirstOver200k, sawFirstOver250k bool
	for i, khz := range seen {
		mv := VregFor(khz, false)
		if khz > 200_000 && !sawFirstOver200k {
			sawFirstOver200k = true
			if mv < krnstate.Vreg1200mV {
				t.Fatalf("step %d: voltage %d too low for %d kHz", i, mv, khz)
			}
		}
		if khz > 250_000 && !sawFirstOver250k {
			sawFirstOver250k = true
			if mv != krnstate.Vreg1300mV {
				t.Fatalf("step %d: expected 1300mV at %d kHz, got %d", i, khz, mv)
			}
		}
	}
	if !sawFirstOver200k || !sawFirstOver250k {
		t.Fatalf("ramp never crossed both voltage bands: %v", seen)
	}
}

// TestPLLEdgeHandling is spec §8 scenario 5: probe says achievable, set
// fails. current_khz must be unchanged and target_khz clamped to it.
func TestPLLEdgeHandling(t *testing.T) {
	hw := &fakeHW{failSet: map[uint32]bool{145_000: true}}
	e, st := newTestEngine(hw, 140_000)
	st.SetTargetKHz(150_000)

	var logged string
	e.log = logFunc(func(format string, args ...any) {
		logged = fmt.Sprintf(format, args...)
	})

	done := e.RampStep(150_000)
	if !done {
		t.Fatalf("a failed PLL set must be treated as 'done' so the governor moves on")
	}
	if st.CurrentKHz() != 140_000 {
		t.Fatalf("current_khz moved despite PLL set failure: %d", st.CurrentKHz())
	}
	if st.TargetKHz() != 140_000 {
		t.Fatalf("target_khz not clamped to current_khz: %d", st.TargetKHz())
	}
	if logged == "" {
		t.Fatalf("expected a PLL edge log entry")
	}
}

func TestRampTo_PingsWatchdogEveryStep(t *testing.T) {
	hw := &fakeHW{}
	e, _ := newTestEngine(hw, 125_000)
	pacer := &fakePacer{}
	e.RampTo(200_000, pacer)
	// 125000 -> 200000 in 5000 kHz steps is 15 RampStep calls.
	if pacer.pings != 15 {
		t.Fatalf("watchdog pings = %d, want 15 (one per ramp step)", pacer.pings)
	}
}

// logFunc adapts a plain function to krnstate.Log for tests.
type logFunc func(format string, args ...any)

func (f logFunc) Logf(format string, args ...any) { f(format, args...) }

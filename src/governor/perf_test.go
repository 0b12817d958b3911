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

package governor

import (
	"testing"

	"rp2040gov/src/krnstate"
	"rp2040gov/src/metrics"
)

type fakeClock struct{ ms uint64 }

func (c *fakeClock) Millis() uint64 { return c.ms }

type fakeTemp struct{ c float64 }

func (t *fakeTemp) ReadCelsius() float64 { return t.c }

type fakeRamp struct {
	safe     bool
	stepped  []uint32
	notified []uint32
}

func (r *fakeRamp) RampStep(newKHz uint32) bool {
	r.stepped = append(r.stepped, newKHz)
	return true
}
func (r *fakeRamp) SafeToScale(float64, float64, int) bool { return r.safe }
func (r *fakeRamp) NotifyFreqChange(khz uint32)            { r.notified = append(r.notified, khz) }

func newTestContext(startKHz uint32, temp float64) (*Context, *fakeClock, *fakeRamp) {
	st := krnstate.New()
	st.SetTargetKHz(startKHz)
	st.SetCurrentKHz(startKHz)
	clk := &fakeClock{ms: 0}
	ramp := &fakeRamp{safe: true}
	ctx := &Context{
		State: st,
		Ramp:  ramp,
		Temp:  &fakeTemp{c: temp},
		Clock: clk,
	}
	return ctx, clk, ramp
}

// TestThermalBackoffAndRestore is spec §8 scenario 2.
func TestThermalBackoffAndRestore(t *testing.T) {
	ctx, clk, _ := newTestContext(krnstate.MaxKHz, 75)
	ctx.State.SetCurrentKHz(krnstate.MaxKHz)

	g := NewRp2040Perf()
	g.Init(ctx)
	clk.ms += 10_000 // clear the initial cooldown

	g.Tick(ctx, metrics.Aggregate{})
	if got := ctx.State.TargetKHz(); got != 200_000 {
		t.Fatalf("after hot tick, target_khz = %d, want 200000", got)
	}

	ctx.Temp = &fakeTemp{c: 60}
	clk.ms += 10_000
	g.Tick(ctx, metrics.Aggregate{})
	if got := ctx.State.TargetKHz(); got != krnstate.MaxKHz {
		t.Fatalf("after cool tick, target_khz = %d, want %d", got, krnstate.MaxKHz)
	}
}

// TestIdleTimeout is spec §8 scenario 4.
func TestIdleTimeout(t *testing.T) {
	ctx, clk, _ := newTestContext(krnstate.MaxKHz, 50)
	g := NewRp2040Perf()
	g.Init(ctx)

	// one tick with a sample establishes the "last sample" baseline.
	clk.ms += 1000
	g.Tick(ctx, metrics.Aggregate{Count: 1, AvgIntensity: 70, AvgDurationMs: 100})

	clk.ms += uint64(g.params.IdleTimeoutMs) + 1
	g.Tick(ctx, metrics.Aggregate{Count: 0})

	if got := ctx.State.TargetKHz(); got != g.params.IdleTargetKHz {
		t.Fatalf("target_khz = %d, want idle_target_khz = %d", got, g.params.IdleTargetKHz)
	}
	if g.IdleSwitchCount() != 1 {
		t.Fatalf("idle_switches = %d, want 1", g.IdleSwitchCount())
	}
}

// TestThermalBackoffTakesPriorityOverIdleTimeout guards the strict priority
// order of spec §4.4: thermal backoff (priority 1) must win even when an
// idle-timeout condition (priority 4) is simultaneously satisfied.
func TestThermalBackoffTakesPriorityOverIdleTimeout(t *testing.T) {
	ctx, clk, _ := newTestContext(krnstate.MaxKHz, 50)
	g := NewRp2040Perf()
	g.Init(ctx)

	// one high-activity tick at a normal temperature establishes the "last
	// sample" baseline without moving target_khz off MaxKHz.
	clk.ms += 1000
	g.Tick(ctx, metrics.Aggregate{Count: 1, AvgIntensity: 95, AvgDurationMs: 600})

	// now go hot and idle at the same time: both the thermal-backoff
	// condition and the idle-timeout condition hold.
	ctx.Temp = &fakeTemp{c: 80}
	clk.ms += uint64(g.params.IdleTimeoutMs) + 1
	g.Tick(ctx, metrics.Aggregate{Count: 0})

	if got := ctx.State.TargetKHz(); got != g.params.BackoffTargetKHz {
		t.Fatalf("target_khz = %d, want thermal backoff_target_khz = %d", got, g.params.BackoffTargetKHz)
	}
	if g.IdleSwitchCount() != 0 {
		t.Fatalf("idle_switches = %d, want 0 (idle-timeout case must not have fired)", g.IdleSwitchCount())
	}
}

func TestCooldownGateBlocksRapidChanges(t *testing.T) {
	ctx, clk, _ := newTestContext(krnstate.MinKHz, 50)
	g := NewRp2040Perf()
	g.Init(ctx)

	clk.ms += 1000
	g.Tick(ctx, metrics.Aggregate{Count: 1, AvgIntensity: 95, AvgDurationMs: 600})
	first := ctx.State.TargetKHz()
	if first != krnstate.MaxKHz {
		t.Fatalf("expected high-activity tick to target MAX, got %d", first)
	}

	// immediately drop to idle-qualifying metrics; cooldown should block it.
	clk.ms += 1
	g.Tick(ctx, metrics.Aggregate{Count: 1, AvgIntensity: 5, AvgDurationMs: 50})
	if got := ctx.State.TargetKHz(); got != first {
		t.Fatalf("cooldown should have blocked the change, target_khz = %d", got)
	}
}

func TestStabilityGateDefersRampStep(t *testing.T) {
	ctx, clk, ramp := newTestContext(krnstate.MinKHz, 50)
	ramp.safe = false
	g := NewRp2040Perf()
	g.Init(ctx)

	clk.ms += 10_000
	g.Tick(ctx, metrics.Aggregate{Count: 1, AvgIntensity: 95, AvgDurationMs: 600})

	if len(ramp.stepped) != 0 {
		t.Fatalf("expected no ramp step while stability gate is closed, got %v", ramp.stepped)
	}
	// target_khz itself still updates even though the physical ramp defers.
	if got := ctx.State.TargetKHz(); got != krnstate.MaxKHz {
		t.Fatalf("target_khz = %d, want %d", got, krnstate.MaxKHz)
	}
}

func TestParamRoundTrip(t *testing.T) {
	g := NewRp2040Perf()
	if ok, err := g.SetParam("thr_high", "85"); !ok || err != nil {
		t.Fatalf("SetParam failed: ok=%v err=%v", ok, err)
	}
	blob := g.MarshalParams()

	g2 := NewRp2040Perf()
	if err := g2.UnmarshalParams(blob); err != nil {
		t.Fatalf("UnmarshalParams: %v", err)
	}
	got, ok := g2.GetParam("thr_high")
	if !ok || got != "85" {
		t.Fatalf("thr_high after round trip = %q, want 85", got)
	}
}

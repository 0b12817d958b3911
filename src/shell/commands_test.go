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

package shell

import (
	"strings"
	"testing"

	"rp2040gov/src/bench"
	"rp2040gov/src/governor"
	"rp2040gov/src/krnstate"
	"rp2040gov/src/logring"
	"rp2040gov/src/metrics"
	"rp2040gov/src/persist"
)

type fakeClock struct{ ms uint64 }

func (c *fakeClock) Millis() uint64 { c.ms++; return c.ms }

type fakePio struct {
	idleFraction float64
	stableCount  int
	safe         bool
	resetTo      uint32
	resetCalled  bool
}

func (p *fakePio) IdleFraction() float64 { return p.idleFraction }
func (p *fakePio) StableCount() int      { return p.stableCount }
func (p *fakePio) SafeToScale(idleThresh, jitterThreshPct float64, minStable int) bool {
	return p.safe
}
func (p *fakePio) NotifyFreqChange(newKHz uint32) {
	p.resetCalled = true
	p.resetTo = newKHz
}

type fakeTemp struct{ c float64 }

func (t fakeTemp) ReadCelsius() float64 { return t.c }

type fakeMMIO struct {
	mem map[uint32]uint32
}

func newFakeMMIO() *fakeMMIO { return &fakeMMIO{mem: map[uint32]uint32{}} }

func (m *fakeMMIO) Read32(addr uint32) (uint32, error) { return m.mem[addr], nil }
func (m *fakeMMIO) Write32(addr, val uint32) error     { m.mem[addr] = val; return nil }

type fakeFlash struct {
	data [persist.SectorSize]byte
}

func newFakeFlash() *fakeFlash {
	f := &fakeFlash{}
	for i := range f.data {
		f.data[i] = 0xff
	}
	return f
}

func (f *fakeFlash) ReadAt(p []byte, off int64) (int, error)  { return copy(p, f.data[off:]), nil }
func (f *fakeFlash) WriteAt(p []byte, off int64) (int, error) { return copy(f.data[off:], p), nil }
func (f *fakeFlash) EraseSector(off int64) error {
	for i := off; i < off+persist.SectorSize; i++ {
		f.data[i] = 0xff
	}
	return nil
}

type fakeGov struct {
	name    string
	inits   int
	ticks   int
	params  map[string]string
}

func newFakeGov(name string) *fakeGov {
	return &fakeGov{name: name, params: map[string]string{"cooldown_ms": "2000"}}
}

func (g *fakeGov) Name() string                                    { return g.name }
func (g *fakeGov) Init(ctx *governor.Context)                       { g.inits++ }
func (g *fakeGov) Tick(ctx *governor.Context, agg metrics.Aggregate) { g.ticks++ }
func (g *fakeGov) ExportStats(buf []byte) int                      { return 0 }

func (g *fakeGov) ParamNames() []string { return []string{"cooldown_ms"} }
func (g *fakeGov) GetParam(name string) (string, bool) {
	v, ok := g.params[name]
	return v, ok
}
func (g *fakeGov) SetParam(name, value string) (bool, error) {
	if name != "cooldown_ms" {
		return false, nil
	}
	g.params[name] = value
	return true, nil
}
func (g *fakeGov) MarshalParams() []byte      { return []byte(g.params["cooldown_ms"]) }
func (g *fakeGov) UnmarshalParams([]byte) error { return nil }

func newTestHarness() (*Shell, CommandsConfig) {
	st := krnstate.New()
	clk := &fakeClock{}
	names := persist.New(newFakeFlash(), 0)
	ctx := &governor.Context{State: st, Clock: clk}
	reg := governor.NewRegistry(ctx, names)
	g1 := newFakeGov("rp2040_perf")
	g2 := newFakeGov("ondemand")
	reg.Register(g1)
	reg.Register(g2)
	reg.Init("rp2040_perf")

	m := metrics.New()
	snap := metrics.NewSnapshotPublisher()
	benchRunner := bench.NewRunner(clk, m)
	pstore := persist.New(newFakeFlash(), 0)
	log := logring.New()

	cfg := CommandsConfig{
		State:     st,
		Clock:     clk,
		Governors: reg,
		Pio:       &fakePio{idleFraction: 0.5, stableCount: 4, safe: true},
		Metrics:   m,
		Snapshot:  snap,
		Bench:     benchRunner,
		Persist:   pstore,
		Temp:      fakeTemp{c: 42.5},
		Log:       log,
		MMIO:      newFakeMMIO(),
	}

	sh := New()
	RegisterCommands(sh, cfg)
	return sh, cfg
}

func TestSetInRangeUpdatesTarget(t *testing.T) {
	sh, cfg := newTestHarness()
	out := sh.Run("set 200")
	if out != "target_khz = 200000" {
		t.Fatalf("Run(set 200) = %q", out)
	}
	if cfg.State.TargetKHz() != 200000 {
		t.Fatalf("TargetKHz() = %d, want 200000", cfg.State.TargetKHz())
	}
}

func TestSetOutOfRangeIsRejected(t *testing.T) {
	sh, cfg := newTestHarness()
	before := cfg.State.TargetKHz()
	out := sh.Run("set 300")
	if !strings.Contains(out, "out of range") {
		t.Fatalf("Run(set 300) = %q, want out-of-range error", out)
	}
	if cfg.State.TargetKHz() != before {
		t.Fatalf("TargetKHz() changed on rejected set: %d != %d", cfg.State.TargetKHz(), before)
	}
}

func TestGovListAndSetAndStatus(t *testing.T) {
	sh, _ := newTestHarness()
	list := sh.Run("gov list")
	if list != "rp2040_perf\nondemand" {
		t.Fatalf("gov list = %q", list)
	}
	if out := sh.Run("gov set ondemand"); out != "current governor = ondemand" {
		t.Fatalf("gov set ondemand = %q", out)
	}
	if out := sh.Run("gov status"); out != "current governor = ondemand" {
		t.Fatalf("gov status = %q", out)
	}
	if out := sh.Run("gov set nope"); !strings.Contains(out, "unknown governor") {
		t.Fatalf("gov set nope = %q, want unknown-governor error", out)
	}
}

func TestGovTuneGetSetPersists(t *testing.T) {
	sh, cfg := newTestHarness()
	if out := sh.Run("gov tune rp2040_perf get cooldown_ms"); out != "2000" {
		t.Fatalf("gov tune get = %q", out)
	}
	if out := sh.Run("gov tune rp2040_perf set cooldown_ms 1000"); out != "cooldown_ms = 1000" {
		t.Fatalf("gov tune set = %q", out)
	}
	if out := sh.Run("gov tune rp2040_perf get cooldown_ms"); out != "1000" {
		t.Fatalf("gov tune get after set = %q", out)
	}
	blob, ok := cfg.Persist.LoadParams("rp2040_perf")
	if !ok || string(blob) != "1000" {
		t.Fatalf("persisted params = %q, ok=%v, want 1000", blob, ok)
	}
}

func TestPeekPokeRoundTrip(t *testing.T) {
	sh, _ := newTestHarness()
	if out := sh.Run("poke 0x20000000 0x12345678"); out != "0x20000000 := 0x12345678" {
		t.Fatalf("poke = %q", out)
	}
	if out := sh.Run("peek 0x20000000"); out != "0x20000000 = 0x12345678" {
		t.Fatalf("peek = %q", out)
	}
}

func TestPeekRejectsOutOfRange(t *testing.T) {
	sh, _ := newTestHarness()
	if out := sh.Run("peek 0x4"); !strings.Contains(out, "out of range") {
		t.Fatalf("peek 0x4 = %q, want out-of-range error", out)
	}
}

func TestPeekRejectsMisaligned(t *testing.T) {
	sh, _ := newTestHarness()
	if out := sh.Run("peek 0x20000001"); !strings.Contains(out, "4-byte aligned") {
		t.Fatalf("peek 0x20000001 = %q, want alignment error", out)
	}
}

func TestPioCommands(t *testing.T) {
	sh, cfg := newTestHarness()
	if out := sh.Run("pio safe"); out != "safe_to_scale = true" {
		t.Fatalf("pio safe = %q", out)
	}
	if out := sh.Run("pio reset"); !strings.Contains(out, "reset") {
		t.Fatalf("pio reset = %q", out)
	}
	fp := cfg.Pio.(*fakePio)
	if !fp.resetCalled {
		t.Fatalf("pio reset did not call NotifyFreqChange")
	}
}

func TestBenchSingleTarget(t *testing.T) {
	sh, _ := newTestHarness()
	out := sh.Run("bench cpu 5")
	if !strings.Contains(out, "cpu:") {
		t.Fatalf("bench cpu 5 = %q", out)
	}
}

func TestBenchSuiteCSV(t *testing.T) {
	sh, _ := newTestHarness()
	out := sh.Run("bench suite 2 csv")
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("bench suite csv lines = %d, want 3 (header + 2 rows), got %q", len(lines), out)
	}
	if lines[0] != "target,iterations,intensity,duration_ms" {
		t.Fatalf("csv header = %q", lines[0])
	}
}

func TestDmesgUARTToggle(t *testing.T) {
	sh, cfg := newTestHarness()
	cfg.Log.Logf("hello")
	if out := sh.Run("dmesg"); out != "hello" {
		t.Fatalf("dmesg = %q", out)
	}
	if out := sh.Run("dmesg uart on"); out != "uart mirror on" {
		t.Fatalf("dmesg uart on = %q", out)
	}
	if !cfg.Log.UARTMirrorEnabled() {
		t.Fatalf("UARTMirrorEnabled() = false after dmesg uart on")
	}
}

func TestUnknownCommand(t *testing.T) {
	sh, _ := newTestHarness()
	out := sh.Run("frobnicate")
	if !strings.Contains(out, "unknown command") {
		t.Fatalf("Run(frobnicate) = %q", out)
	}
}

func TestHelpListsRegisteredCommands(t *testing.T) {
	sh, _ := newTestHarness()
	out := sh.Run("help")
	if !strings.Contains(out, "set") || !strings.Contains(out, "gov") || !strings.Contains(out, "peek") {
		t.Fatalf("help output missing expected commands: %q", out)
	}
}

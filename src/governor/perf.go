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
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"rp2040gov/src/krnstate"
	"rp2040gov/src/metrics"
)

// PerfParams holds the tunable, persisted parameters of rp2040_perf (spec
// §4.4 table). Field order is the wire order MarshalParams/UnmarshalParams
// use; changing it invalidates persisted blobs (spec §9 "bump the magic").
type PerfParams struct {
	CooldownMs       uint32
	RampUpCooldownMs uint32
	ThrHigh          uint32
	ThrMed           uint32
	ThrLow           uint32
	DurHigh          uint32
	DurMed           uint32
	DurShort         uint32
	TempBackoffC     float64
	TempRestoreC     float64
	BackoffTargetKHz uint32
	IdleTargetKHz    uint32
	IdleTimeoutMs    uint32
}

// DefaultPerfParams is the spec §4.4 default row.
func DefaultPerfParams() PerfParams {
	return PerfParams{
		CooldownMs:       2000,
		RampUpCooldownMs: 500,
		ThrHigh:          80,
		ThrMed:           60,
		ThrLow:           20,
		DurHigh:          500,
		DurMed:           250,
		DurShort:         200,
		TempBackoffC:     72,
		TempRestoreC:     65,
		BackoffTargetKHz: 200_000,
		IdleTargetKHz:    100_000,
		IdleTimeoutMs:    5000,
	}
}

// Rp2040Perf is the reference adaptive governor (spec §4.4 "Reference
// governor rp2040_perf").
type Rp2040Perf struct {
	params PerfParams

	idle          bool
	idleSwitches  int
	lastChangeMs  uint64
	lastSampleMs  uint64
	haveLastSample bool
	lastSafeLogMs uint64
}

// NewRp2040Perf returns a governor with the default parameters. Init does
// not load persisted parameters; the caller applies a stored blob with
// UnmarshalParams (persistence happens out of band through the shell's
// `gov tune ... set`, which calls SetParam then asks the caller to persist
// MarshalParams()).
func NewRp2040Perf() *Rp2040Perf {
	return &Rp2040Perf{params: DefaultPerfParams()}
}

func (g *Rp2040Perf) Name() string { return "rp2040_perf" }

func (g *Rp2040Perf) Init(ctx *Context) {
	g.idle = false
	g.idleSwitches = 0
	g.haveLastSample = false
	if ctx.Clock != nil {
		g.lastChangeMs = ctx.Clock.Millis()
	}
}

// IdleSwitchCount reports how many times this governor has entered the idle
// state since Init, used by tests and the `gov status` readout.
func (g *Rp2040Perf) IdleSwitchCount() int { return g.idleSwitches }

func clampKHz(khz uint32) uint32 {
	if khz < krnstate.MinKHz {
		return krnstate.MinKHz
	}
	if khz > krnstate.MaxKHz {
		return krnstate.MaxKHz
	}
	return khz
}

func (g *Rp2040Perf) setTarget(ctx *Context, khz uint32, nowMs uint64) {
	ctx.State.SetTargetKHz(minU32(khz, krnstate.MaxKHz))
	g.lastChangeMs = nowMs
}

func (g *Rp2040Perf) effectiveCooldown(upward, leavingIdle bool) uint64 {
	if upward && !leavingIdle {
		return uint64(g.params.RampUpCooldownMs)
	}
	return uint64(g.params.CooldownMs)
}

// Tick implements the priority-ordered decision in spec §4.4: thermal
// backoff, thermal restore, activity classification, idle timeout, then the
// cooldown and stability gates before actually stepping the ramp engine.
func (g *Rp2040Perf) Tick(ctx *Context, agg metrics.Aggregate) {
	now := ctx.Clock.Millis()
	current := ctx.State.TargetKHz()
	desired := current
	leavingIdle := false

	var temp float64
	haveTemp := ctx.Temp != nil
	if haveTemp {
		temp = ctx.Temp.ReadCelsius()
	}

	switch {
	case haveTemp && temp > g.params.TempBackoffC && current > g.params.BackoffTargetKHz:
		desired = g.params.BackoffTargetKHz

	case haveTemp && temp < g.params.TempRestoreC && current < krnstate.MaxKHz && !g.idle:
		desired = krnstate.MaxKHz

	case agg.Count > 0:
		highActivity := agg.AvgIntensity >= 90 ||
			(agg.AvgIntensity >= g.params.ThrHigh && agg.AvgDurationMs >= g.params.DurHigh)
		medActivity := agg.AvgIntensity >= g.params.ThrMed && agg.AvgDurationMs >= g.params.DurMed
		lowActivity := (agg.AvgIntensity <= g.params.ThrLow && agg.AvgDurationMs < g.params.DurShort) ||
			agg.AvgIntensity <= 40

		switch {
		case highActivity:
			desired = krnstate.MaxKHz
			if g.idle {
				leavingIdle = true
			}
			g.idle = false
		case medActivity:
			desired = minU32(230_000, krnstate.MaxKHz)
		case lowActivity:
			desired = g.params.IdleTargetKHz
			if !g.idle {
				g.idleSwitches++
			}
			g.idle = true
		}

	// Priority 4, only reached when neither thermal case nor the activity
	// classification above fired (spec §4.4's strict priority order: a
	// higher-priority rule must never be clobbered by a lower one).
	case agg.Count == 0 && g.haveLastSample && !g.idle && now-g.lastSampleMs >= uint64(g.params.IdleTimeoutMs):
		desired = g.params.IdleTargetKHz
		g.idleSwitches++
		g.idle = true
	}

	if agg.Count > 0 {
		g.lastSampleMs = now
		g.haveLastSample = true
	}

	if desired == current {
		return
	}

	upward := desired > current
	if now-g.lastChangeMs <= g.effectiveCooldown(upward, leavingIdle) {
		return
	}

	// target_khz itself is the governor's decision and applies once the
	// cooldown gate opens; only the physical ramp step waits on stability
	// (spec §4.4 "Before calling the ramp engine, the governor calls
	// safe_to_scale").
	g.setTarget(ctx, desired, now)

	if ctx.Ramp == nil {
		return
	}
	if !ctx.Ramp.SafeToScale(0.03, 3.0, 4) {
		if ctx.Log != nil && now-g.lastSafeLogMs > 1000 {
			ctx.Log.Logf("rp2040_perf: deferring ramp step to %d, not safe to scale", desired)
			g.lastSafeLogMs = now
		}
		return
	}

	before := ctx.State.CurrentKHz()
	ctx.Ramp.RampStep(ctx.State.TargetKHz())
	if after := ctx.State.CurrentKHz(); after != before {
		ctx.Ramp.NotifyFreqChange(after)
	}
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// ExportStats writes a short human-readable status line into buf (spec §9
// "export_stats(buf)") and returns the number of bytes written.
func (g *Rp2040Perf) ExportStats(buf []byte) int {
	line := fmt.Sprintf("rp2040_perf idle=%v idle_switches=%d", g.idle, g.idleSwitches)
	return copy(buf, line)
}

// ParamNames is the ordered list accepted by gov tune rp2040_perf get/set.
func (g *Rp2040Perf) ParamNames() []string {
	return []string{
		"cooldown_ms", "ramp_up_cooldown_ms",
		"thr_high", "thr_med", "thr_low",
		"dur_high", "dur_med", "dur_short",
		"temp_backoff_c", "temp_restore_c",
		"backoff_target_khz", "idle_target_khz",
		"idle_timeout_ms",
	}
}

func (g *Rp2040Perf) GetParam(name string) (string, bool) {
	p := &g.params
	switch name {
	case "cooldown_ms":
		return strconv.FormatUint(uint64(p.CooldownMs), 10), true
	case "ramp_up_cooldown_ms":
		return strconv.FormatUint(uint64(p.RampUpCooldownMs), 10), true
	case "thr_high":
		return strconv.FormatUint(uint64(p.ThrHigh), 10), true
	case "thr_med":
		return strconv.FormatUint(uint64(p.ThrMed), 10), true
	case "thr_low":
		return strconv.FormatUint(uint64(p.ThrLow), 10), true
	case "dur_high":
		return strconv.FormatUint(uint64(p.DurHigh), 10), true
	case "dur_med":
		return strconv.FormatUint(uint64(p.DurMed), 10), true
	case "dur_short":
		return strconv.FormatUint(uint64(p.DurShort), 10), true
	case "temp_backoff_c":
		return strconv.FormatFloat(p.TempBackoffC, 'f', -1, 64), true
	case "temp_restore_c":
		return strconv.FormatFloat(p.TempRestoreC, 'f', -1, 64), true
	case "backoff_target_khz":
		return strconv.FormatUint(uint64(p.BackoffTargetKHz), 10), true
	case "idle_target_khz":
		return strconv.FormatUint(uint64(p.IdleTargetKHz), 10), true
	case "idle_timeout_ms":
		return strconv.FormatUint(uint64(p.IdleTimeoutMs), 10), true
	default:
		return "", false
	}
}

func (g *Rp2040Perf) SetParam(name, value string) (bool, error) {
	p := &g.params
	switch name {
	case "cooldown_ms":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.CooldownMs = v
	case "ramp_up_cooldown_ms":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.RampUpCooldownMs = v
	case "thr_high":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.ThrHigh = v
	case "thr_med":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.ThrMed = v
	case "thr_low":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.ThrLow = v
	case "dur_high":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.DurHigh = v
	case "dur_med":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.DurMed = v
	case "dur_short":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.DurShort = v
	case "temp_backoff_c":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false, err
		}
		p.TempBackoffC = v
	case "temp_restore_c":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false, err
		}
		p.TempRestoreC = v
	case "backoff_target_khz":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.BackoffTargetKHz = v
	case "idle_target_khz":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.IdleTargetKHz = v
	case "idle_timeout_ms":
		v, err := parseU32(value)
		if err != nil {
			return false, err
		}
		p.IdleTimeoutMs = v
	default:
		return false, nil
	}
	return true, nil
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// paramBlobMagic guards against a shell `gov tune ... set` round trip
// overwriting a blob laid down by an incompatible field order (spec §9
// "Persistence blob stability").
const paramBlobMagic = 0x52504630 // "RPF0"

// MarshalParams serializes PerfParams to a fixed-layout byte blob.
func (g *Rp2040Perf) MarshalParams() []byte {
	buf := make([]byte, 4+13*8)
	binary.LittleEndian.PutUint32(buf[0:4], paramBlobMagic)
	p := &g.params
	off := 4
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:off+4], v)
		off += 8 // each field occupies 8 bytes for uniform float/uint packing
	}
	putF64 := func(v float64) {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
		off += 8
	}
	putU32(p.CooldownMs)
	putU32(p.RampUpCooldownMs)
	putU32(p.ThrHigh)
	putU32(p.ThrMed)
	putU32(p.ThrLow)
	putU32(p.DurHigh)
	putU32(p.DurMed)
	putU32(p.DurShort)
	putF64(p.TempBackoffC)
	putF64(p.TempRestoreC)
	putU32(p.BackoffTargetKHz)
	putU32(p.IdleTargetKHz)
	putU32(p.IdleTimeoutMs)
	return buf
}

// UnmarshalParams is the inverse of MarshalParams. An unrecognized magic
// returns an error and leaves params at their current values, so a stale
// blob from an earlier layout is not applied.
func (g *Rp2040Perf) UnmarshalParams(blob []byte) error {
	if len(blob) < 4 || binary.LittleEndian.Uint32(blob[0:4]) != paramBlobMagic {
		return fmt.Errorf("governor: unrecognized rp2040_perf param blob")
	}
	p := &g.params
	off := 4
	getU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(blob[off : off+4])
		off += 8
		return v
	}
	getF64 := func() float64 {
		v := math.Float64frombits(binary.LittleEndian.Uint64(blob[off : off+8]))
		off += 8
		return v
	}
	if len(blob) < off+13*8-4 {
		return fmt.Errorf("governor: truncated rp2040_perf param blob")
	}
	p.CooldownMs = getU32()
	p.RampUpCooldownMs = getU32()
	p.ThrHigh = getU32()
	p.ThrMed = getU32()
	p.ThrLow = getU32()
	p.DurHigh = getU32()
	p.DurMed = getU32()
	p.DurShort = getU32()
	p.TempBackoffC = getF64()
	p.TempRestoreC = getF64()
	p.BackoffTargetKHz = getU32()
	p.IdleTargetKHz = getU32()
	p.IdleTimeoutMs = getU32()
	return nil
}

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
	"fmt"

	"rp2040gov/src/krnstate"
	"rp2040gov/src/metrics"
)

// Performance always targets MAX_KHZ (spec §4.4 "performance always targets
// MAX").
type Performance struct{}

func NewPerformance() *Performance { return &Performance{} }

func (g *Performance) Name() string { return "performance" }
func (g *Performance) Init(ctx *Context) {
	ctx.State.SetTargetKHz(krnstate.MaxKHz)
}
func (g *Performance) Tick(ctx *Context, _ metrics.Aggregate) {
	if ctx.State.TargetKHz() != krnstate.MaxKHz {
		ctx.State.SetTargetKHz(krnstate.MaxKHz)
	}
	if ctx.Ramp != nil && ctx.State.CurrentKHz() != krnstate.MaxKHz && ctx.Ramp.SafeToScale(0.03, 3.0, 4) {
		before := ctx.State.CurrentKHz()
		ctx.Ramp.RampStep(krnstate.MaxKHz)
		if after := ctx.State.CurrentKHz(); after != before {
			ctx.Ramp.NotifyFreqChange(after)
		}
	}
}
func (g *Performance) ExportStats(buf []byte) int {
	return copy(buf, "performance")
}

// Ondemand uses temperature as an activity proxy, ramping up when cool and
// backing off with an idle cooldown when hot (spec §4.4 "Other governors").
type Ondemand struct {
	coolTempC    float64
	hotTempC     float64
	idleCooldown uint64
	lastChangeMs uint64
}

func NewOndemand() *Ondemand {
	return &Ondemand{coolTempC: 55, hotTempC: 70, idleCooldown: 1000}
}

func (g *Ondemand) Name() string { return "ondemand" }

func (g *Ondemand) Init(ctx *Context) {
	if ctx.Clock != nil {
		g.lastChangeMs = ctx.Clock.Millis()
	}
}

func (g *Ondemand) Tick(ctx *Context, _ metrics.Aggregate) {
	if ctx.Temp == nil {
		return
	}
	now := ctx.Clock.Millis()
	if now-g.lastChangeMs < g.idleCooldown {
		return
	}

	temp := ctx.Temp.ReadCelsius()
	current := ctx.State.TargetKHz()
	var desired uint32
	switch {
	case temp < g.coolTempC:
		desired = krnstate.MaxKHz
	case temp > g.hotTempC:
		desired = krnstate.MinKHz
	default:
		return
	}
	if desired == current {
		return
	}
	ctx.State.SetTargetKHz(desired)
	g.lastChangeMs = now

	if ctx.Ramp != nil && ctx.Ramp.SafeToScale(0.03, 3.0, 4) {
		before := ctx.State.CurrentKHz()
		ctx.Ramp.RampStep(desired)
		if after := ctx.State.CurrentKHz(); after != before {
			ctx.Ramp.NotifyFreqChange(after)
		}
	}
}

func (g *Ondemand) ExportStats(buf []byte) int {
	return copy(buf, "ondemand")
}

// Schedutil maps average intensity linearly onto [MinKHz, MaxKHz] with a
// ±5% hysteresis band around the last target to avoid chattering (spec
// §4.4 "maps intensity linearly ... with ±5% hysteresis").
type Schedutil struct {
	lastTargetKHz uint32
}

func NewSchedutil() *Schedutil { return &Schedutil{} }

func (g *Schedutil) Name() string { return "schedutil" }

func (g *Schedutil) Init(ctx *Context) {
	g.lastTargetKHz = ctx.State.TargetKHz()
}

func (g *Schedutil) Tick(ctx *Context, agg metrics.Aggregate) {
	if agg.Count == 0 {
		return
	}
	span := krnstate.MaxKHz - krnstate.MinKHz
	desired := krnstate.MinKHz + uint32(uint64(span)*uint64(agg.AvgIntensity)/100)

	lo := g.lastTargetKHz - g.lastTargetKHz/20
	hi := g.lastTargetKHz + g.lastTargetKHz/20
	if desired >= lo && desired <= hi {
		return
	}

	ctx.State.SetTargetKHz(desired)
	g.lastTargetKHz = desired

	if ctx.Ramp != nil && ctx.Ramp.SafeToScale(0.03, 3.0, 4) {
		before := ctx.State.CurrentKHz()
		ctx.Ramp.RampStep(desired)
		if after := ctx.State.CurrentKHz(); after != before {
			ctx.Ramp.NotifyFreqChange(after)
		}
	}
}

func (g *Schedutil) ExportStats(buf []byte) int {
	return copy(buf, fmt.Sprintf("schedutil last_target_khz=%d", g.lastTargetKHz))
}

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

// Package governor implements the Governor Framework (spec §4.4): a fixed
// capacity registry of named policies, each a polymorphic record exposing
// init/tick/export_stats, that decide a target frequency from the metrics
// aggregate and temperature.
package governor

import (
	"errors"
	"fmt"

	"rp2040gov/src/krnstate"
	"rp2040gov/src/metrics"
)

// MaxGovernors bounds the registry (spec §4.4 "Fixed-capacity array ... ≤ 8").
const MaxGovernors = 8

// Ramp is the narrow contract a governor needs from the ramp engine and PIO
// arbiter: advance one bounded step, and consult/notify stability.
type Ramp interface {
	RampStep(newKHz uint32) bool
	SafeToScale(idleThresh, jitterThreshPct float64, minStable int) bool
	NotifyFreqChange(newKHz uint32)
}

// TempSensor reads the die temperature in degrees Celsius.
type TempSensor interface {
	ReadCelsius() float64
}

// NameStore persists the chosen governor's name (spec §6 "Offset 0").
type NameStore interface {
	SaveName(name string) error
	LoadName() (string, bool)
}

// ParamStore persists one governor's opaque parameter blob (spec §6
// "Offset 0x100").
type ParamStore interface {
	SaveParams(name string, blob []byte) error
	LoadParams(name string) ([]byte, bool)
}

// Context is everything a governor's Tick/Init needs, bundled so the
// registry doesn't have to thread each dependency through every call.
type Context struct {
	State *krnstate.State
	Ramp  Ramp
	Temp  TempSensor
	Clock krnstate.Clock
	Log   krnstate.Log
}

// Governor is the polymorphic record of spec §9 "Polymorphic governor
// records": init, tick(agg), export_stats(buf).
type Governor interface {
	Name() string
	Init(ctx *Context)
	Tick(ctx *Context, agg metrics.Aggregate)
	ExportStats(buf []byte) int
}

// Tunable is implemented by governors exposing runtime-adjustable,
// persisted parameters (spec §6 "gov tune <name> show/list/get/set").
type Tunable interface {
	ParamNames() []string
	GetParam(name string) (string, bool)
	SetParam(name, value string) (bool, error)
	MarshalParams() []byte
	UnmarshalParams(blob []byte) error
}

var (
	// ErrRegistryFull is returned by Register once MaxGovernors are held.
	ErrRegistryFull = errors.New("governor: registry full")
	// ErrUnknownGovernor is returned by SetCurrent for an unregistered name
	// (ByName reports the same case with ok == false).
	ErrUnknownGovernor = errors.New("governor: unknown governor")
)

// Registry is the fixed-capacity array of governor records plus the
// currently-selected index (spec §4.4 "Registry").
type Registry struct {
	ctx   *Context
	names NameStore

	govs    [MaxGovernors]Governor
	n       int
	current int
}

// NewRegistry returns an empty registry bound to ctx (shared across every
// governor's Init/Tick) and names (the persisted current-governor name).
func NewRegistry(ctx *Context, names NameStore) *Registry {
	return &Registry{ctx: ctx, names: names, current: -1}
}

// Register adds a governor record. Order of registration is the order
// `gov list` reports them in.
func (r *Registry) Register(g Governor) error {
	if r.n >= MaxGovernors {
		return ErrRegistryFull
	}
	r.govs[r.n] = g
	r.n++
	return nil
}

// List returns the names of every registered governor, in registration order.
func (r *Registry) List() []string {
	names := make([]string, r.n)
	for i := 0; i < r.n; i++ {
		names[i] = r.govs[i].Name()
	}
	return names
}

// indexOf returns the registry index of name, or -1.
func (r *Registry) indexOf(name string) int {
	for i := 0; i < r.n; i++ {
		if r.govs[i].Name() == name {
			return i
		}
	}
	return -1
}

// Init loads the persisted governor name (falling back to defaultName if
// none is persisted or the persisted name is no longer registered) and
// selects it, invoking that governor's Init.
func (r *Registry) Init(defaultName string) error {
	name := defaultName
	if r.names != nil {
		if saved, ok := r.names.LoadName(); ok {
			if r.indexOf(saved) >= 0 {
				name = saved
			}
		}
	}
	return r.SetCurrent(name)
}

// SetCurrent selects the named governor, invokes its Init, and persists the
// choice (spec §4.4 "set_current(g) invokes the new governor's init() and
// persists the name").
func (r *Registry) SetCurrent(name string) error {
	idx := r.indexOf(name)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownGovernor, name)
	}
	r.current = idx
	r.govs[idx].Init(r.ctx)
	if r.names != nil {
		if err := r.names.SaveName(name); err != nil {
			if r.ctx.Log != nil {
				r.ctx.Log.Logf("governor: failed to persist current name: %v", err)
			}
		}
	}
	return nil
}

// Current returns the currently-selected governor, or nil if none has been
// selected yet.
func (r *Registry) Current() Governor {
	if r.current < 0 {
		return nil
	}
	return r.govs[r.current]
}

// ByName returns a registered governor by name, for `gov tune`-style access
// to a non-current governor's parameters.
func (r *Registry) ByName(name string) (Governor, bool) {
	idx := r.indexOf(name)
	if idx < 0 {
		return nil, false
	}
	return r.govs[idx], true
}

// Tick runs one governor-loop iteration (spec §4.4 "Governor loop"): collect
// and clear the metrics aggregate, call the current governor's Tick, and
// return elapsed time in milliseconds for the kernel snapshot.
func (r *Registry) Tick(m *metrics.Ring) (elapsedMs float64, agg metrics.Aggregate) {
	agg = m.GetAggregate(true)
	g := r.Current()
	if g == nil {
		return 0, agg
	}
	start := r.ctx.Clock.Millis()
	g.Tick(r.ctx, agg)
	elapsedMs = float64(r.ctx.Clock.Millis() - start)
	return elapsedMs, agg
}

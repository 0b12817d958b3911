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

// Package bench implements the two synthetic workloads the `bench` shell
// command drives (spec §6 "bench <target> <ms>", "bench suite <ms>
// [csv]"): they submit to the metrics aggregator exactly the way a real
// application would, exercising the governor's activity classification
// without needing real application code on the board.
package bench

import (
	"fmt"
	"strings"

	"rp2040gov/src/metrics"
)

// Workload identifiers, submitted as metrics.Sample.Workload so the
// aggregate can be told apart by source even though it only reports one
// average across whatever ran during the window.
const (
	WorkloadCPU uint32 = 1
	WorkloadMem uint32 = 2
)

// Clock is the monotonic-millisecond contract bench needs; krnstate.Clock
// satisfies it without bench importing krnstate.
type Clock interface {
	Millis() uint64
}

// Workload is one synthetic load generator. Run executes for approximately
// durationMs (measured by clock) and reports how much work it did and an
// intensity estimate in 0..=100, the same shape a real application's
// self-reported load would take.
type Workload interface {
	Name() string
	ID() uint32
	Run(clock Clock, durationMs uint32) (iterations uint64, intensity uint32)
}

// cpuWorkload busies a core with integer multiply-accumulate work, the
// simplest stand-in for a compute-bound application; it always reports
// maximum intensity because it never yields.
type cpuWorkload struct{}

func (cpuWorkload) Name() string { return "cpu" }
func (cpuWorkload) ID() uint32   { return WorkloadCPU }

func (cpuWorkload) Run(clock Clock, durationMs uint32) (uint64, uint32) {
	start := clock.Millis()
	var acc uint64
	var iterations uint64
	for clock.Millis()-start < uint64(durationMs) {
		for i := 0; i < 1000; i++ {
			acc = acc*2654435761 + uint64(i)
		}
		iterations++
	}
	_ = acc
	return iterations, 100
}

// memBufSize is the scratch buffer memWorkload sweeps; large enough to miss
// any tiny cache the core has, small enough to keep RAM pressure sane.
const memBufSize = 4096

// memWorkload repeatedly sweeps a buffer, read-modify-write, the stand-in
// for a memory-bound application. It reports a lower fixed intensity than
// cpuWorkload since a memory sweep spends real cycles stalled rather than
// computing.
type memWorkload struct {
	buf [memBufSize]byte
}

func (w *memWorkload) Name() string { return "mem" }
func (w *memWorkload) ID() uint32   { return WorkloadMem }

func (w *memWorkload) Run(clock Clock, durationMs uint32) (uint64, uint32) {
	start := clock.Millis()
	var sweeps uint64
	for clock.Millis()-start < uint64(durationMs) {
		for i := range w.buf {
			w.buf[i] = w.buf[i]*31 + 1
		}
		sweeps++
	}
	return sweeps, 60
}

// Result is the outcome of running one workload, ready either for a single
// `bench <target> <ms>` report or a row in `bench suite <ms> csv`.
type Result struct {
	Target     string
	Iterations uint64
	Intensity  uint32
	DurationMs uint32
}

// Runner ties the workload set to a clock and the metrics ring they submit
// to, matching how a real application would report its own load.
type Runner struct {
	clock     Clock
	ring      *metrics.Ring
	workloads []Workload
}

// NewRunner returns a Runner with the standard cpu/mem workload set
// registered, in the order `bench suite` reports them.
func NewRunner(clock Clock, ring *metrics.Ring) *Runner {
	return &Runner{
		clock: clock,
		ring:  ring,
		workloads: []Workload{
			cpuWorkload{},
			&memWorkload{},
		},
	}
}

func (r *Runner) find(target string) Workload {
	for _, w := range r.workloads {
		if w.Name() == target {
			return w
		}
	}
	return nil
}

// Targets lists the registered workload names, in run order.
func (r *Runner) Targets() []string {
	names := make([]string, len(r.workloads))
	for i, w := range r.workloads {
		names[i] = w.Name()
	}
	return names
}

// Run executes one named workload for durationMs and submits its result to
// the metrics ring, returning the same result for the shell to print.
func (r *Runner) Run(target string, durationMs uint32) (Result, error) {
	w := r.find(target)
	if w == nil {
		return Result{}, fmt.Errorf("bench: unknown target %q", target)
	}
	iterations, intensity := w.Run(r.clock, durationMs)
	ts := uint32(r.clock.Millis())
	r.ring.Submit(w.ID(), intensity, durationMs, ts)
	return Result{
		Target:     w.Name(),
		Iterations: iterations,
		Intensity:  intensity,
		DurationMs: durationMs,
	}, nil
}

// Suite runs every registered workload in turn for durationMs each,
// submitting each to the metrics ring (spec §6 "bench suite <ms>").
func (r *Runner) Suite(durationMs uint32) []Result {
	results := make([]Result, 0, len(r.workloads))
	for _, w := range r.workloads {
		res, _ := r.Run(w.Name(), durationMs)
		results = append(results, res)
	}
	return results
}

// FormatCSV renders suite results as "target,iterations,intensity,duration_ms"
// rows for `bench suite <ms> csv`.
func FormatCSV(results []Result) string {
	var b strings.Builder
	b.WriteString("target,iterations,intensity,duration_ms\n")
	for _, res := range results {
		fmt.Fprintf(&b, "%s,%d,%d,%d\n", res.Target, res.Iterations, res.Intensity, res.DurationMs)
	}
	return strings.TrimRight(b.String(), "\n")
}

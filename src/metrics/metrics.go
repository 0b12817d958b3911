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

// Package metrics implements the Metrics Aggregator (spec §4.3): a
// fixed-capacity ring of workload samples submitted by applications and
// reduced once per governor tick into an aggregate, plus a small published
// "kernel snapshot" of governor loop timing.
package metrics

import "sync"

// Capacity is the ring size (spec §4.3 "Capacity N=128").
const Capacity = 128

// Sample is one workload observation (spec §3 "Metrics sample").
type Sample struct {
	Workload   uint32
	Intensity  uint32 // 0..=100
	DurationMs uint32
	TimestampMs uint32
}

// Aggregate is the reduction of the live region of the ring.
type Aggregate struct {
	Count         int
	AvgWorkload   uint32
	AvgIntensity  uint32
	AvgDurationMs uint32
	LastTsMs      uint32
}

// Ring is the Metrics Aggregator. The zero value is not ready for use; call
// New. All operations are O(Capacity) but hold the lock for only a few
// microseconds (spec §4.3).
type Ring struct {
	mu   sync.Mutex
	buf  [Capacity]Sample
	head int // next write position
	tail int // oldest live sample
	n    int // live count
}

// New returns an empty Ring.
func New() *Ring { return &Ring{} }

// Submit appends one sample (spec §4.3 "writes under a mutex; when full,
// overwrites the oldest").
func (r *Ring) Submit(workload, intensity, durationMs, timestampMs uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = Sample{
		Workload:    workload,
		Intensity:   intensity,
		DurationMs:  durationMs,
		TimestampMs: timestampMs,
	}
	r.head = (r.head + 1) % Capacity
	if r.n < Capacity {
		r.n++
	} else {
		// full: the write above already overwrote the oldest slot, so the
		// tail must advance past it too.
		r.tail = (r.tail + 1) % Capacity
	}
}

// GetAggregate walks the live region and reduces it. If clear is true, the
// ring is emptied atomically under the same lock (spec §4.3).
func (r *Ring) GetAggregate(clear bool) Aggregate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var agg Aggregate
	agg.Count = r.n
	if r.n == 0 {
		if clear {
			r.head, r.tail, r.n = 0, 0, 0
		}
		return agg
	}

	var sumWorkload, sumIntensity, sumDuration uint64
	idx := r.tail
	for i := 0; i < r.n; i++ {
		s := r.buf[idx]
		sumWorkload += uint64(s.Workload)
		sumIntensity += uint64(s.Intensity)
		sumDuration += uint64(s.DurationMs)
		agg.LastTsMs = s.TimestampMs
		idx = (idx + 1) % Capacity
	}

	n := uint64(r.n)
	agg.AvgWorkload = uint32(sumWorkload / n)
	agg.AvgIntensity = uint32(sumIntensity / n)
	agg.AvgDurationMs = uint32(sumDuration / n)

	if clear {
		r.head, r.tail, r.n = 0, 0, 0
	}
	return agg
}

// KernelSnapshot is the small structure published once per governor tick
// (spec §4.3 "kernel snapshot channel").
type KernelSnapshot struct {
	GovTickCount int
	GovTickAvgMs float64
	LastTsMs     uint32
}

// SnapshotPublisher holds the one live KernelSnapshot, copy-under-lock on
// both ends so readers always see a consistent value.
type SnapshotPublisher struct {
	mu  sync.Mutex
	cur KernelSnapshot

	tickSum uint64
}

// NewSnapshotPublisher returns an empty publisher.
func NewSnapshotPublisher() *SnapshotPublisher { return &SnapshotPublisher{} }

// Publish records one governor tick's elapsed time and last sample
// timestamp, updating the running average.
func (p *SnapshotPublisher) Publish(tickMs float64, lastTsMs uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cur.GovTickCount++
	p.tickSum += uint64(tickMs * 1000) // microseconds, to keep this integer-stable
	p.cur.GovTickAvgMs = float64(p.tickSum) / 1000 / float64(p.cur.GovTickCount)
	p.cur.LastTsMs = lastTsMs
}

// Snapshot returns a consistent copy of the current kernel snapshot.
func (p *SnapshotPublisher) Snapshot() KernelSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

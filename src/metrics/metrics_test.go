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

package metrics

import "testing"

// TestAggregateScenario is spec §8 scenario 6.
func TestAggregateScenario(t *testing.T) {
	r := New()
	intensities := []uint32{10, 20, 30, 40, 50}
	durations := []uint32{100, 200, 300, 400, 500}
	for i := range intensities {
		r.Submit(1, intensities[i], durations[i], uint32(i+1)*1000)
	}

	agg := r.GetAggregate(true)
	if agg.Count != 5 {
		t.Fatalf("count = %d, want 5", agg.Count)
	}
	if agg.AvgIntensity != 30 {
		t.Fatalf("avg_intensity = %d, want 30", agg.AvgIntensity)
	}
	if agg.AvgDurationMs != 300 {
		t.Fatalf("avg_duration = %d, want 300", agg.AvgDurationMs)
	}

	again := r.GetAggregate(false)
	if again.Count != 0 {
		t.Fatalf("expected count=0 after clear, got %d", again.Count)
	}
}

func TestSubmitOverwritesOldestWhenFull(t *testing.T) {
	r := New()
	for i := 0; i < Capacity+10; i++ {
		r.Submit(uint32(i), 50, 100, uint32(i))
	}
	agg := r.GetAggregate(false)
	if agg.Count != Capacity {
		t.Fatalf("count = %d, want %d (ring should be full, not overflowing)", agg.Count, Capacity)
	}
	if agg.LastTsMs != uint32(Capacity+9) {
		t.Fatalf("last_ts_ms = %d, want %d", agg.LastTsMs, Capacity+9)
	}
}

func TestGetAggregateEmptyRing(t *testing.T) {
	r := New()
	agg := r.GetAggregate(true)
	if agg.Count != 0 {
		t.Fatalf("expected count=0 on empty ring, got %d", agg.Count)
	}
}

func TestSnapshotPublisher(t *testing.T) {
	p := NewSnapshotPublisher()
	p.Publish(1.5, 1000)
	p.Publish(2.5, 2000)

	snap := p.Snapshot()
	if snap.GovTickCount != 2 {
		t.Fatalf("gov_tick_count = %d, want 2", snap.GovTickCount)
	}
	if snap.LastTsMs != 2000 {
		t.Fatalf("last_ts_ms = %d, want 2000", snap.LastTsMs)
	}
	wantAvg := (1.5 + 2.5) / 2
	if diff := snap.GovTickAvgMs - wantAvg; diff > 0.01 || diff < -0.01 {
		t.Fatalf("gov_tick_avg_ms = %v, want ~%v", snap.GovTickAvgMs, wantAvg)
	}
}

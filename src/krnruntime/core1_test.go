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

package krnruntime

import (
	"testing"

	"rp2040gov/src/krnstate"
	"rp2040gov/src/metrics"
)

type fakeGovernorTicker struct {
	calls int
	agg   metrics.Aggregate
}

func (f *fakeGovernorTicker) Tick(m *metrics.Ring) (float64, metrics.Aggregate) {
	f.calls++
	agg := m.GetAggregate(true)
	return 1.5, agg
}

func TestCore1RunOnce_PingsWatchdogAndSleeps(t *testing.T) {
	st := krnstate.New()
	m := metrics.New()
	m.Submit(1, 50, 100, 42)
	ticker := &fakeGovernorTicker{}
	snap := metrics.NewSnapshotPublisher()

	sleepCalls := 0
	c1 := NewCore1(Core1Config{
		State:     st,
		Metrics:   m,
		Governors: ticker,
		Snapshot:  snap,
		SleepMs:   func(ms uint32) { sleepCalls++ },
	})

	c1.RunOnce()

	if ticker.calls != 1 {
		t.Fatalf("governor tick calls = %d, want 1", ticker.calls)
	}
	if st.Core1WatchdogCount() != 1 {
		t.Fatalf("core1_wdt_ping count = %d, want 1", st.Core1WatchdogCount())
	}
	if sleepCalls != 1 {
		t.Fatalf("sleep calls = %d, want 1", sleepCalls)
	}
	if snap.Snapshot().GovTickCount != 1 {
		t.Fatalf("kernel snapshot gov_tick_count = %d, want 1", snap.Snapshot().GovTickCount)
	}

	agg := m.GetAggregate(false)
	if agg.Count != 0 {
		t.Fatalf("metrics ring should have been cleared by the governor tick, count = %d", agg.Count)
	}
}

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
	"rp2040gov/src/krnstate"
	"rp2040gov/src/metrics"
)

// GovernorTicker is the narrow contract core 1 needs from the governor
// registry: collect (and clear) the metrics aggregate and run one tick.
type GovernorTicker interface {
	Tick(m *metrics.Ring) (elapsedMs float64, agg metrics.Aggregate)
}

// Core1Config wires core 1's collaborators.
type Core1Config struct {
	State     *krnstate.State
	Metrics   *metrics.Ring
	Governors GovernorTicker
	Snapshot  *metrics.SnapshotPublisher
	// SleepMs paces the loop; production passes time.Sleep, tests a no-op
	// or a counting stub (spec §4.4 "sleep ~40ms").
	SleepMs func(ms uint32)
}

// Core1 runs the governor loop described in spec §4.4/§4.5: collect the
// metrics aggregate (clearing it), tick the current governor, publish the
// kernel snapshot, ping the watchdog counter, and sleep.
type Core1 struct {
	cfg Core1Config
}

// NewCore1 returns a Core1 ready to run.
func NewCore1(cfg Core1Config) *Core1 { return &Core1{cfg: cfg} }

// RunOnce executes one governor-loop iteration.
func (c *Core1) RunOnce() {
	elapsed, agg := c.cfg.Governors.Tick(c.cfg.Metrics)
	if c.cfg.Snapshot != nil {
		c.cfg.Snapshot.Publish(elapsed, agg.LastTsMs)
	}
	c.cfg.State.PingCore1Watchdog()
	if c.cfg.SleepMs != nil {
		c.cfg.SleepMs(40)
	}
}

//go:build rp2040

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

package rp2hw

import (
	"device/rp"

	"rp2040gov/src/support"
)

// MicroTime reads the RP2040's free-running 64-bit microsecond timer,
// sampling the high and low words twice to reconstruct a jitter-free value
// across the low word's rollover, exactly as the teacher's mtime.go did for
// its own purposes.
func MicroTime() uint64 {
	t := rp.TIMER
	th1, tl1, th2, tl2 := t.TIMERAWH.Get(), t.TIMERAWL.Get(), t.TIMERAWH.Get(), t.TIMERAWL.Get()
	return support.ReduceObservation(1<<32, th1, tl1, th2, tl2)
}

// MillisClock satisfies krnstate.Clock: a monotonic millisecond counter
// derived from MicroTime. It is the clock source the governors' cooldown
// timers and the shell consume; ramp pacing goes through ramp.Pacer and the
// stability arbiter's settle window is counted in polls, not milliseconds.
type MillisClock struct{}

func (MillisClock) Millis() uint64 { return MicroTime() / 1000 }

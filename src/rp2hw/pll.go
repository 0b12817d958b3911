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

import "rp2040gov/src/support"

// sys = 12MHz * fbdiv / (pd1 * pd2), VCO = 12MHz * fbdiv in [750MHz, 1600MHz],
// fbdiv in [16, 320], pd1, pd2 in [1, 7]. These are the RP2040 PLL_SYS
// constraints named in spec §4.1.
const (
	xtalKHz  = 12_000
	vcoMinKHz = 750_000
	vcoMaxKHz = 1_600_000
	fbdivMin  = 16
	fbdivMax  = 320
	pdMin     = 1
	pdMax     = 7

	// probeRangeKHz bounds how far FindAchievableKHz will walk, 1kHz at a
	// time, looking for a valid divisor triple (spec §4.1).
	probeRangeKHz = 50
)

// Divisors is a valid (fbdiv, pd1, pd2) triple and the exact frequency it
// produces.
type Divisors struct {
	FBDiv   uint32
	PD1, PD2 uint32
	KHz     uint32
}

// SysClockDivisors searches the (pd1, pd2) grid for the combination that
// puts 12MHz*fbdiv closest to khz for an integral fbdiv in range, using
// support.NearestFraction (with max_denominator=1, i.e. plain rounding with
// a signed residual) the same way the teacher's continued-fraction search
// walks a bounded solution space picking the best rational match instead of
// scanning every fbdiv by brute force distance.
func SysClockDivisors(khz uint32) (Divisors, bool) {
	best := Divisors{}
	bestErr := int64(-1)
	for pd1 := uint32(pdMin); pd1 <= pdMax; pd1++ {
		for pd2 := uint32(pdMin); pd2 <= pd1; pd2++ {
			vco := uint64(khz) * uint64(pd1) * uint64(pd2)
			if vco < vcoMinKHz || vco > vcoMaxKHz {
				continue
			}
			c, d, _ := support.NearestFraction(vco, xtalKHz, 1)
			if d != 1 {
				continue
			}
			fbdiv := c
			if fbdiv < fbdivMin || fbdiv > fbdivMax {
				continue
			}
			gotKHz := xtalKHz * fbdiv / uint64(pd1*pd2)
			diff := int64(gotKHz) - int64(khz)
			if diff < 0 {
				diff = -diff
			}
			if gotKHz != uint64(khz) {
				// Only exact matches are "achievable" per spec §4.1; the
				// caller (FindAchievableKHz) is responsible for walking
				// neighboring kHz values when this one has no exact
				// solution.
				continue
			}
			if bestErr < 0 || diff < bestErr {
				bestErr = diff
				best = Divisors{FBDiv: uint32(fbdiv), PD1: pd1, PD2: pd2, KHz: khz}
			}
		}
	}
	return best, bestErr >= 0
}

// FindAchievableKHz walks up to ±probeRangeKHz, 1kHz at a time, in the
// direction of travel from "from" toward "target", and returns the first
// value that has a valid PLL divisor triple. If none is found within range
// it falls back to target itself so the hardware can reject it (spec
// §4.1's "let the hardware reject it").
func FindAchievableKHz(from, target uint32) uint32 {
	if _, ok := SysClockDivisors(target); ok {
		return target
	}
	step := int32(1)
	if target < from {
		step = -1
	}
	for d := int32(1); d <= probeRangeKHz; d++ {
		cand := int32(target) + d*step
		if cand < MinKHzBound || cand > MaxKHzBound {
			continue
		}
		if _, ok := SysClockDivisors(uint32(cand)); ok {
			return uint32(cand)
		}
	}
	return target
}

// MinKHzBound / MaxKHzBound bound the neighbour probe; they are a wider
// sanity range than krnstate's MinKHz/MaxKHz clamp (125000/264000), kept
// local to keep rp2hw free of a dependency on krnstate — it is a pure
// register/math layer the rest of the kernel is built on.
const (
	MinKHzBound = 100_000
	MaxKHzBound = 300_000
)

// VregFor maps a target frequency to the voltage regulator setpoint it
// requires (spec §4.1 "Voltage interlock"), with the same thresholds as
// ramp.VregFor, which is the mapping the ramp engine applies. sku1350
// selects the 1.35V step for SKUs that expose it; most boards pass false.
func VregFor(khz uint32, sku1350 bool) uint32 {
	switch {
	case khz > 250_000:
		if sku1350 {
			return 1350
		}
		return 1300
	case khz > 200_000:
		return 1200
	default:
		return 1100
	}
}

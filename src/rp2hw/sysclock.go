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
	"time"
)

// SetSysClock reprograms PLL_SYS to khz and switches clk_sys onto it. khz
// must already have a valid divisor triple (the ramp engine only ever
// calls this with a value FindAchievableKHz returned). It follows the SDK
// sequence: glitchlessly drop clk_sys onto clk_ref, power down the PLL,
// reprogram FBDIV/PRIM, wait for lock, then switch clk_sys back onto
// clksrc_clk_sys_aux (spec §4.1 "PLL reconfigure").
func SetSysClock(khz uint32) bool {
	div, ok := SysClockDivisors(khz)
	if !ok {
		return false
	}

	// Step off the PLL before touching it: clk_sys's glitchless mux can
	// switch to clk_ref with no clock glitch, the PLL cannot.
	rp.CLOCKS.CLK_SYS_CTRL.ClearBits(rp.CLOCKS_CLK_SYS_CTRL_SRC)
	for rp.CLOCKS.CLK_SYS_SELECTED.Get() != 1 {
	}

	rp.PLL_SYS.PWR.SetBits(rp.PLL_SYS_PWR_PD | rp.PLL_SYS_PWR_VCOPD)

	rp.PLL_SYS.CS.Set(1) // REFDIV=1, the crystal is always 12MHz here
	rp.PLL_SYS.FBDIV_INT.Set(div.FBDiv)

	rp.PLL_SYS.PWR.ClearBits(rp.PLL_SYS_PWR_PD | rp.PLL_SYS_PWR_VCOPD)
	for rp.PLL_SYS.CS.Get()&rp.PLL_SYS_CS_LOCK == 0 {
	}

	rp.PLL_SYS.PRIM.Set((div.PD1 << rp.PLL_SYS_PRIM_POSTDIV1_Pos) | (div.PD2 << rp.PLL_SYS_PRIM_POSTDIV2_Pos))
	rp.PLL_SYS.PWR.ClearBits(rp.PLL_SYS_PWR_POSTDIVPD)

	rp.CLOCKS.CLK_SYS_DIV.Set(1 << 8) // integer divide by 1
	rp.CLOCKS.CLK_SYS_CTRL.Set((rp.CLOCKS.CLK_SYS_CTRL.Get() &^ rp.CLOCKS_CLK_SYS_CTRL_AUXSRC_Msk) |
		(rp.CLOCKS_CLK_SYS_CTRL_AUXSRC_CLKSRC_PLL_SYS << rp.CLOCKS_CLK_SYS_CTRL_AUXSRC_Pos))
	rp.CLOCKS.CLK_SYS_CTRL.SetBits(rp.CLOCKS_CLK_SYS_CTRL_SRC)
	for rp.CLOCKS.CLK_SYS_SELECTED.Get() == 1 {
	}

	return true
}

// SetVoltage writes the VREG setpoint (spec §4.1 "Voltage interlock");
// mv is always one of krnstate.Vreg1100mV/1200mV/1300mV/1350mV.
func SetVoltage(mv uint32) {
	var vsel uint32
	switch mv {
	case 1100:
		vsel = 0b01011
	case 1200:
		vsel = 0b01101
	case 1300:
		vsel = 0b01111
	case 1350:
		vsel = 0b10000
	default:
		vsel = 0b01011
	}
	reg := rp.VREG_AND_CHIP_RESET.VREG.Get()
	reg = (reg &^ rp.VREG_AND_CHIP_RESET_VREG_VSEL_Msk) | (vsel << rp.VREG_AND_CHIP_RESET_VREG_VSEL_Pos)
	rp.VREG_AND_CHIP_RESET.VREG.Set(reg)
	// The regulator needs time to settle onto the new rail before the PLL
	// reconfigure that follows it can rely on the new voltage (spec §4.1
	// step 1/4 ordering).
	time.Sleep(10 * time.Microsecond)
}

// RampHardware adapts this file's register-level functions plus the
// multicore lockout primitive to ramp.Hardware, the one concrete
// implementation the firmware wires into ramp.New.
type RampHardware struct {
	lockoutTimeout time.Duration
}

// NewRampHardware returns the live ramp.Hardware adapter. timeout bounds
// how long LockOtherCore waits for core 0 to acknowledge a pause request
// before giving up (spec §4.1 "bounded timeout so a dead core 0 can never
// wedge the ramp engine").
func NewRampHardware(timeout time.Duration) *RampHardware {
	return &RampHardware{lockoutTimeout: timeout}
}

func (RampHardware) FindAchievableKHz(from, target uint32) uint32 {
	return FindAchievableKHz(from, target)
}

func (RampHardware) SetSysClock(khz uint32) bool {
	return SetSysClock(khz)
}

func (RampHardware) SetVoltage(mv uint32) {
	SetVoltage(mv)
}

func (h *RampHardware) LockOtherCore(fn func()) {
	if err := LockoutStart(h.lockoutTimeout); err != nil {
		// Core 0 is unresponsive: proceed without the lock rather than
		// wedge the ramp engine forever (spec §7 kind 3's "never
		// propagate to the governor loop" applied to a stuck peer core).
		fn()
		return
	}
	defer LockoutEnd()
	fn()
}

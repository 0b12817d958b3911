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

import "device/rp"

// adcTempChannel is ADC input 4, wired internally to the die temperature
// sensor rather than a GPIO pin.
const adcTempChannel = 4

// DieTempSensor reads the RP2040's internal temperature sensor through
// ADC channel 4 (the governor's thermal backoff/restore thresholds, spec
// §4.4, and the shell's `temp` readout consume it through
// governor.TempSensor and shell.TempSensor respectively).
type DieTempSensor struct{}

// NewDieTempSensor enables the ADC and its internal temperature sensor.
func NewDieTempSensor() *DieTempSensor {
	rp.ADC.CS.SetBits(rp.ADC_CS_EN)
	rp.ADC.CS.SetBits(rp.ADC_CS_TS_EN)
	for rp.ADC.CS.Get()&rp.ADC_CS_READY == 0 {
	}
	return &DieTempSensor{}
}

// ReadCelsius implements governor.TempSensor. It performs a single
// conversion on the temperature channel and applies the datasheet formula
// (section 4.9.5): T = 27 - (Vadc - 0.706) / 0.001721, Vadc = result *
// 3.3 / 4096.
func (DieTempSensor) ReadCelsius() float64 {
	return float64(ReadOnDieMilliC()) / 1000
}

// ReadOnDieMilliC reads the sensor and returns millidegrees Celsius, the
// integer-friendly form a persisted log line or a non-float collaborator
// would want.
func ReadOnDieMilliC() int32 {
	cs := rp.ADC.CS.Get()
	cs = (cs &^ rp.ADC_CS_AINSEL_Msk) | (adcTempChannel << rp.ADC_CS_AINSEL_Pos)
	rp.ADC.CS.Set(cs)
	rp.ADC.CS.SetBits(rp.ADC_CS_START_ONCE)
	for rp.ADC.CS.Get()&rp.ADC_CS_READY == 0 {
	}
	result := rp.ADC.RESULT.Get() & 0xfff

	vAdcMilliV := float64(result) * 3300 / 4096
	milliC := 27000 - (vAdcMilliV-706)*1000/1.721
	return int32(milliC)
}

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

//go:build rp2040

package persist

import "tinygo.org/x/drivers/flash"

// DeviceFlash adapts a tinygo.org/x/drivers/flash.Device (the external SPI
// NOR flash cmd/kernel wires on SPI0) to the persist.Flash contract.
type DeviceFlash struct {
	dev *flash.Device
}

// NewDeviceFlash wraps dev for use with persist.New.
func NewDeviceFlash(dev *flash.Device) *DeviceFlash {
	return &DeviceFlash{dev: dev}
}

func (d *DeviceFlash) ReadAt(p []byte, off int64) (int, error) {
	return d.dev.ReadAt(p, off)
}

func (d *DeviceFlash) WriteAt(p []byte, off int64) (int, error) {
	return d.dev.WriteAt(p, off)
}

func (d *DeviceFlash) EraseSector(off int64) error {
	return d.dev.EraseBlocks(off/int64(d.dev.EraseSize()), 1)
}

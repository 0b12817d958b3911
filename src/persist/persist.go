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

// Package persist implements the persistent state layout of spec §6: two
// fixed-offset records (chosen governor name, governor parameter blob)
// sharing the last 64 KiB sector of external flash. A save always
// reads-modifies-erases-writes the whole sector so the record it isn't
// touching survives.
package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	// SectorSize is the whole persisted region (spec §6 "Last 64 KiB sector").
	SectorSize = 64 * 1024

	nameMagic     = 0x47564F47
	nameOffset    = 0
	nameMaxLen    = 56
	nameRecordLen = 4 + 4 + nameMaxLen + 4 // magic, version, name, crc

	paramsMagic     = 0x52505050
	paramsOffset    = 0x100
	maxParamBlobLen = SectorSize - paramsOffset - 4 - 4 - 4
)

var (
	// ErrBlobTooLarge is returned by SaveParams for a blob that wouldn't fit
	// in the remainder of the sector.
	ErrBlobTooLarge = errors.New("persist: parameter blob too large for sector")
)

// Flash is the narrow block-device contract persist needs: random-access
// read/write within one sector, plus an erase of that sector. The rp2040
// build satisfies this with a tinygo.org/x/drivers/flash.Device adapter;
// tests use an in-memory fake.
type Flash interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	EraseSector(off int64) error
}

// Store is the persisted-state accessor bound to one flash sector.
type Store struct {
	flash     Flash
	sectorOff int64
}

// New returns a Store backed by flash, with its sector starting at sectorOff
// (the last 64 KiB of external flash on the real target).
func New(flash Flash, sectorOff int64) *Store {
	return &Store{flash: flash, sectorOff: sectorOff}
}

// crc is the spec §6 checksum: "(crc << 7) XOR byte", seeded 0xA5A5A5A5,
// over the record bytes excluding the CRC field itself.
func crc(data []byte) uint32 {
	c := uint32(0xA5A5A5A5)
	for _, b := range data {
		c = (c << 7) ^ uint32(b)
	}
	return c
}

func (s *Store) readSector() ([]byte, error) {
	buf := make([]byte, SectorSize)
	if _, err := s.flash.ReadAt(buf, s.sectorOff); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Store) writeSector(sector []byte) error {
	if err := s.flash.EraseSector(s.sectorOff); err != nil {
		return err
	}
	_, err := s.flash.WriteAt(sector, s.sectorOff)
	return err
}

// SaveName persists the chosen governor name (spec §6 "Offset 0").
func (s *Store) SaveName(name string) error {
	sector, err := s.readSector()
	if err != nil {
		return err
	}
	if len(name) > nameMaxLen {
		name = name[:nameMaxLen]
	}

	rec := make([]byte, nameRecordLen)
	binary.LittleEndian.PutUint32(rec[0:4], nameMagic)
	binary.LittleEndian.PutUint32(rec[4:8], 1)
	copy(rec[8:8+nameMaxLen], name)
	binary.LittleEndian.PutUint32(rec[nameRecordLen-4:nameRecordLen], crc(rec[:nameRecordLen-4]))

	copy(sector[nameOffset:nameOffset+nameRecordLen], rec)
	return s.writeSector(sector)
}

// LoadName returns the persisted governor name, or false if no valid record
// is present (bad magic or CRC mismatch — an erased or corrupt sector).
func (s *Store) LoadName() (string, bool) {
	sector, err := s.readSector()
	if err != nil {
		return "", false
	}
	rec := sector[nameOffset : nameOffset+nameRecordLen]
	if binary.LittleEndian.Uint32(rec[0:4]) != nameMagic {
		return "", false
	}
	if crc(rec[:nameRecordLen-4]) != binary.LittleEndian.Uint32(rec[nameRecordLen-4:nameRecordLen]) {
		return "", false
	}
	name := string(bytes.TrimRight(rec[8:8+nameMaxLen], "\x00"))
	return name, true
}

// SaveParams persists the opaque governor-parameter blob (spec §6 "Offset
// 0x100"). name is accepted for interface symmetry with governor.ParamStore
// but unused: the layout has room for exactly one parameter blob, for
// whichever governor is current when the shell issues `gov tune ... set`.
func (s *Store) SaveParams(_ string, blob []byte) error {
	if len(blob) > maxParamBlobLen {
		return ErrBlobTooLarge
	}
	sector, err := s.readSector()
	if err != nil {
		return err
	}

	recLen := 4 + 4 + len(blob) + 4
	rec := make([]byte, recLen)
	binary.LittleEndian.PutUint32(rec[0:4], paramsMagic)
	binary.LittleEndian.PutUint32(rec[4:8], uint32(len(blob)))
	copy(rec[8:8+len(blob)], blob)
	binary.LittleEndian.PutUint32(rec[recLen-4:recLen], crc(rec[:recLen-4]))

	copy(sector[paramsOffset:paramsOffset+recLen], rec)
	return s.writeSector(sector)
}

// LoadParams returns the persisted parameter blob, or false if absent or
// corrupt.
func (s *Store) LoadParams(_ string) ([]byte, bool) {
	sector, err := s.readSector()
	if err != nil {
		return nil, false
	}
	hdr := sector[paramsOffset : paramsOffset+8]
	if binary.LittleEndian.Uint32(hdr[0:4]) != paramsMagic {
		return nil, false
	}
	length := binary.LittleEndian.Uint32(hdr[4:8])
	if int(length) > maxParamBlobLen {
		return nil, false
	}
	recLen := 8 + int(length) + 4
	rec := sector[paramsOffset : paramsOffset+recLen]
	if crc(rec[:recLen-4]) != binary.LittleEndian.Uint32(rec[recLen-4:recLen]) {
		return nil, false
	}
	blob := make([]byte, length)
	copy(blob, rec[8:8+length])
	return blob, true
}

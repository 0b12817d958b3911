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

// Package rp2hw is the register-level adapter layer the rest of the kernel
// programs against: PLL divisor probing (pll.go, build-tag free), the
// monotonic clock source (clock.go), the DMA channel arbiter below, the
// multicore lockout primitive (lockout.go), the watchdog (watchdog.go) and
// the UART DMA log backend (uart.go).
//
// This file is a trimmed descendant of the teacher's WSPR-specific DMA
// plumbing: the PWM/PIO gather-chain control-block machinery that timed an
// external PPS signal is gone, since nothing in this kernel counts an
// external reference. What's kept is the general-purpose part: claiming a
// channel, building a channel config, and pushing a buffer paced by a DREQ
// or copying one flat-out. src/rp2hw/uart.go uses Push8 to drain the log
// ring to the UART DREQ; MemCopy32 has no caller in the kernel.
package rp2hw

import (
	"device/rp"
	"errors"
	"runtime"
	"runtime/volatile"
	"time"
	"unsafe"
)

var dmaArb = &dmaArbiter{}

type dmaArbiter struct {
	claimedChannels uint16
}

// ClaimChannel returns a DMA channel that can be used for transfers, or
// false if every channel is already claimed.
func ClaimChannel() (channel DmaChannel, ok bool) {
	for i := uint8(0); i < 12; i++ {
		ch := dmaArb.channel(i)
		if ch.TryClaim() {
			return ch, true
		}
	}
	return DmaChannel{}, false
}

func (arb *dmaArbiter) channel(channel uint8) DmaChannel {
	if channel > 11 {
		panic("invalid DMA channel")
	}
	var dmaChannels = (*[12]dmaChannelHW)(unsafe.Pointer(rp.DMA))
	return DmaChannel{hw: &dmaChannels[channel], arb: arb, idx: channel}
}

// DmaChannel is one of the RP2040's 12 DMA channels.
type DmaChannel struct {
	hw  *dmaChannelHW
	arb *dmaArbiter
	dl  deadliner
	idx uint8
}

func (ch DmaChannel) TryClaim() bool {
	ch.mustValid()
	if ch.IsClaimed() {
		return false
	}
	ch.arb.claimedChannels |= 1 << ch.idx
	return true
}

func (ch DmaChannel) Unclaim() {
	ch.mustValid()
	ch.arb.claimedChannels &^= 1 << ch.idx
}

func (ch DmaChannel) IsClaimed() bool {
	ch.mustValid()
	return ch.arb.claimedChannels&(1<<ch.idx) != 0
}

func (ch DmaChannel) IsValid() bool { return ch.hw != nil && ch.arb == dmaArb }

func (ch DmaChannel) ChannelIndex() uint8 { return ch.idx }

func (ch DmaChannel) HW() *dmaChannelHW { return ch.hw }

func (ch DmaChannel) mustValid() {
	if !ch.IsValid() {
		panic("use of unclaimed DMA channel")
	}
}

// SetTimeout bounds how long Push8/MemCopy32 will wait for a busy
// channel or an in-flight transfer before giving up.
func (ch *DmaChannel) SetTimeout(d time.Duration) { ch.dl.setTimeout(d) }

//goland:noinspection GoSnakeCaseUsage
type dmaChannelHW struct {
	READ_ADDR   volatile.Register32
	WRITE_ADDR  volatile.Register32
	TRANS_COUNT volatile.Register32
	CTRL_TRIG   volatile.Register32
	_           [12]volatile.Register32 // aliases
}

func (ch DmaChannel) Busy() bool {
	return ch.HW().CTRL_TRIG.Get()&rp.DMA_CH0_CTRL_TRIG_BUSY != 0
}

type DmaTxSize uint32

const (
	DmaTxSize8 DmaTxSize = iota
	DmaTxSize16
	DmaTxSize32
)

type DmaChannelConfig struct{ CTRL uint32 }

// DefaultDMAConfig returns the baseline config the teacher's setup used:
// no ring, no byte-swap, quiet IRQs, chained to itself (meaning "don't
// chain"), permanent TREQ (run flat out) until the caller overrides it.
func DefaultDMAConfig(channel uint8) (cc DmaChannelConfig) {
	cc.SetRing(false, 0)
	cc.SetIRQQuiet(true)
	cc.SetChainTo(channel)
	cc.SetTREQ_SEL(rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_PERMANENT)
	cc.SetReadIncrement(true)
	cc.SetWriteIncrement(true)
	cc.SetTransferDataSize(DmaTxSize32)
	return cc
}

func (cc *DmaChannelConfig) SetTREQ_SEL(dreq uint32) {
	cc.CTRL = (cc.CTRL &^ rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Msk) | (dreq << rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Pos)
}

func (cc *DmaChannelConfig) SetChainTo(chainTo uint8) {
	cc.CTRL = (cc.CTRL &^ rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Msk) | (uint32(chainTo) << rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Pos)
}

func (cc *DmaChannelConfig) SetTransferDataSize(size DmaTxSize) {
	cc.CTRL = (cc.CTRL &^ rp.DMA_CH0_CTRL_TRIG_DATA_SIZE_Msk) | (uint32(size) << rp.DMA_CH0_CTRL_TRIG_DATA_SIZE_Pos)
}

func (cc *DmaChannelConfig) SetRing(write bool, sizeBits uint32) {
	cc.CTRL = (cc.CTRL &^ rp.DMA_CH0_CTRL_TRIG_RING_SIZE_Msk) | (sizeBits << rp.DMA_CH0_CTRL_TRIG_RING_SIZE_Pos)
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_RING_SEL_Pos, write)
}

func (cc *DmaChannelConfig) SetReadIncrement(incr bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_INCR_READ_Pos, incr)
}

func (cc *DmaChannelConfig) SetWriteIncrement(incr bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_INCR_WRITE_Pos, incr)
}

func (cc *DmaChannelConfig) SetIRQQuiet(irqQuiet bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_IRQ_QUIET_Pos, irqQuiet)
}

func (cc *DmaChannelConfig) SetEnable(enable bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_EN_Pos, enable)
}

func setBitPos(cc *uint32, pos uint32, bit bool) {
	if bit {
		*cc |= 1 << pos
	} else {
		*cc &^= 1 << pos
	}
}

// MemCopy32 copies len(src) words from src to dst using this channel,
// running at full memory bandwidth (permanent TREQ).
func (ch DmaChannel) MemCopy32(dst, src []uint32) error {
	if len(dst) < len(src) {
		panic("MemCopy32: dst shorter than src")
	}
	deadline := ch.dl.newDeadline()
	for ch.Busy() {
		if deadline.expired() {
			return errContentionTimeout
		}
		runtime.Gosched()
	}
	hw := ch.HW()
	hw.READ_ADDR.Set(uint32(uintptr(unsafe.Pointer(&src[0]))))
	hw.WRITE_ADDR.Set(uint32(uintptr(unsafe.Pointer(&dst[0]))))
	hw.TRANS_COUNT.Set(uint32(len(src)))

	cc := DefaultDMAConfig(ch.idx)
	cc.SetEnable(true)
	hw.CTRL_TRIG.Set(cc.CTRL)

	deadline = ch.dl.newDeadline()
	for ch.Busy() {
		if deadline.expired() {
			ch.abort()
			return errTimeout
		}
		runtime.Gosched()
	}
	return nil
}

// Push8 streams src to the memory location at dst, paced by dreq. Used by
// the UART DMA log backend to hand a formatted line to UART0's TX FIFO
// without CPU involvement.
func (ch DmaChannel) Push8(dst *byte, src []byte, dreq uint32) error {
	if len(src) == 0 {
		return nil
	}
	deadline := ch.dl.newDeadline()
	for ch.Busy() {
		if deadline.expired() {
			return errContentionTimeout
		}
		runtime.Gosched()
	}
	hw := ch.HW()
	hw.READ_ADDR.Set(uint32(uintptr(unsafe.Pointer(&src[0]))))
	hw.WRITE_ADDR.Set(uint32(uintptr(unsafe.Pointer(dst))))
	hw.TRANS_COUNT.Set(uint32(len(src)))

	cc := DefaultDMAConfig(ch.idx)
	cc.SetTREQ_SEL(dreq)
	cc.SetTransferDataSize(DmaTxSize8)
	cc.SetReadIncrement(true)
	cc.SetWriteIncrement(false)
	cc.SetEnable(true)
	hw.CTRL_TRIG.Set(cc.CTRL)

	deadline = ch.dl.newDeadline()
	for ch.Busy() {
		if deadline.expired() {
			ch.abort()
			return errTimeout
		}
		runtime.Gosched()
	}
	return nil
}

func (ch DmaChannel) abort() {
	chMask := uint32(1 << ch.idx)
	rp.DMA.CHAN_ABORT.Set(chMask)
	deadline := ch.dl.newDeadline()
	for rp.DMA.CHAN_ABORT.Get()&chMask != 0 {
		if deadline.expired() {
			break
		}
		runtime.Gosched()
	}
}

// UART0 TX DREQ, from the RP2040 system DREQ table (2.5.3.1), needed by the
// log backend to pace Push8 off the UART's own FIFO rather than memory
// bandwidth.
const DreqUART0Tx = 0x14

var (
	errTimeout           = errors.New("rp2hw: dma timeout")
	errContentionTimeout = errors.New("rp2hw: dma contention timeout")
)

type deadline struct{ t time.Time }

func (dl deadline) expired() bool {
	if dl.t.IsZero() {
		return false
	}
	return time.Since(dl.t) > 0
}

type deadliner struct{ timeout uint8 }

func (d deadliner) newDeadline() deadline {
	var t time.Time
	if d.timeout != 0 {
		t = time.Now().Add(time.Duration(1) << d.timeout)
	}
	return deadline{t: t}
}

func (d *deadliner) setTimeout(timeout time.Duration) {
	if timeout <= 0 {
		d.timeout = 0
		return
	}
	for i := uint8(0); i < 64; i++ {
		if time.Duration(1)<<i > timeout {
			d.timeout = i
			return
		}
	}
}

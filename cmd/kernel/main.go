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

package main

import (
	"fmt"
	"machine"
	"time"

	"tinygo.org/x/drivers/flash"

	"rp2040gov/src/bench"
	"rp2040gov/src/governor"
	"rp2040gov/src/krnruntime"
	"rp2040gov/src/krnstate"
	"rp2040gov/src/logring"
	"rp2040gov/src/metrics"
	"rp2040gov/src/persist"
	"rp2040gov/src/piostab"
	"rp2040gov/src/ramp"
	"rp2040gov/src/rp2hw"
	"rp2040gov/src/shell"
)

// idlePin/heartbeatPin are the GPIOs core 0's loop drives and the PIO
// arbiter watches (spec §4.2, §4.5). lockoutAckTimeout bounds how long the
// ramp engine waits for core 0 to pause before proceeding unlocked (spec
// §4.1 step 2's "bounded timeout").
const (
	idlePin          = machine.Pin(14)
	heartbeatPin     = machine.Pin(15)
	flashCSPin       = machine.Pin(17)
	lockoutAckTimeout = 50 * time.Millisecond

	// sku1350 is false until a board variant that exposes the 1.35V VREG
	// step is added; rp2hw.VregFor/ramp.VregFor both fall back to 1300mV
	// above 250MHz when this is false.
	sku1350 = false
)

// rampHardware bundles the ramp engine and the PIO arbiter so the one
// object handed to the governor registry satisfies governor.Ramp
// (RampStep from the ramp engine, SafeToScale/NotifyFreqChange from the
// arbiter) without either package depending on the other.
type rampHardware struct {
	*ramp.Engine
	*piostab.Arbiter
}

// pioPollAdapter makes *piostab.Driver satisfy krnruntime.PioPoller: the
// driver's Poll returns a Snapshot for direct callers (the shell's `pio`
// command reads the arbiter's snapshot directly instead), but the core-0 loop only
// ever needs the side effect of feeding the arbiter once per iteration.
type pioPollAdapter struct {
	d *piostab.Driver
}

func (a pioPollAdapter) Poll(nowTicks uint64) { a.d.Poll(nowTicks) }

func fatal(msg string) {
	fmt.Println(msg)
	rp2hw.RebootViaWatchdog()
}

func main() {
	time.Sleep(500 * time.Millisecond)

	machine.UART0.Configure(machine.UARTConfig{BaudRate: 115200})
	clk := rp2hw.MillisClock{}

	state := krnstate.New()
	log := logring.New()
	if sink, ok := rp2hw.NewUARTDMABackend(); ok {
		log.SetSink(sink)
	}
	log.SetUARTMirror(true)

	// External SPI NOR flash, below the program image, holding the
	// persisted governor-name/parameter sector (spec §6). flashCSPin is a
	// board-specific chip-select; boards that instead expose the onboard
	// QSPI flash as a plain machine.Flash block device would wrap that
	// directly in a persist.Flash adapter here instead.
	flashDev := flash.New(machine.SPI0, flashCSPin)
	if err := flashDev.Configure(); err != nil {
		fatal("flash configure failed: " + err.Error())
	}
	sectorOff := int64(flashDev.Size()) - persist.SectorSize
	pstore := persist.New(persist.NewDeviceFlash(flashDev), sectorOff)

	temp := rp2hw.NewDieTempSensor()
	mmio := rp2hw.NewMMIO()

	arb := piostab.NewArbiter()
	driver, err := piostab.NewDriver(arb, idlePin, heartbeatPin)
	if err != nil {
		// The arbiter's own failsafe (spec §4.2 "has not been initialized")
		// keeps safe_to_scale true; the governor loop runs degraded rather
		// than halting the kernel over a PIO claim failure.
		log.Logf("pio driver init failed: %v, running without stability gating", err)
	} else {
		arb.MarkInitialized()
	}

	rampHW := &rampHardware{
		Engine:  ramp.New(rp2hw.NewRampHardware(lockoutAckTimeout), state, log, sku1350),
		Arbiter: arb,
	}

	govCtx := &governor.Context{
		State: state,
		Ramp:  rampHW,
		Temp:  temp,
		Clock: clk,
		Log:   log,
	}
	registry := governor.NewRegistry(govCtx, pstore)
	for _, g := range []governor.Governor{
		governor.NewRp2040Perf(),
		governor.NewPerformance(),
		governor.NewOndemand(),
		governor.NewSchedutil(),
	} {
		if err := registry.Register(g); err != nil {
			log.Logf("failed to register governor %s: %v", g.Name(), err)
		}
	}
	if blob, ok := pstore.LoadParams("rp2040_perf"); ok {
		if g, ok := registry.ByName("rp2040_perf"); ok {
			if t, ok := g.(governor.Tunable); ok {
				_ = t.UnmarshalParams(blob)
			}
		}
	}
	if err := registry.Init("rp2040_perf"); err != nil {
		log.Logf("failed to select default governor: %v", err)
	}

	ring := metrics.New()
	snap := metrics.NewSnapshotPublisher()
	benchRunner := bench.NewRunner(clk, ring)

	sh := shell.New()
	shell.RegisterCommands(sh, shell.CommandsConfig{
		State:     state,
		Clock:     clk,
		Governors: registry,
		Pio:       arb,
		Metrics:   ring,
		Snapshot:  snap,
		Bench:     benchRunner,
		Persist:   pstore,
		Temp:      temp,
		Log:       log,
		MMIO:      mmio,
		Reboot:    rp2hw.RebootViaWatchdog,
		Bootsel:   rp2hw.EnterBootloader,
		Sleep:     func(ms uint32) { time.Sleep(time.Duration(ms) * time.Millisecond) },
	})

	// idlePin/heartbeatPin are driven as plain GPIOs by core 0's loop and
	// watched by the PIO programs piostab.NewDriver just loaded on the
	// same two pins (spec §4.2's idle-fraction and heartbeat-period
	// counters observe exactly what core 0 toggles).
	idle := idlePin
	idle.Configure(machine.PinConfig{Mode: machine.PinOutput})
	heartbeat := heartbeatPin
	heartbeat.Configure(machine.PinConfig{Mode: machine.PinOutput})

	rp2hw.ArmLockoutVictim()

	core1 := krnruntime.NewCore1(krnruntime.Core1Config{
		State:     state,
		Metrics:   ring,
		Governors: registry,
		Snapshot:  snap,
		SleepMs:   func(ms uint32) { time.Sleep(time.Duration(ms) * time.Millisecond) },
	})
	rp2hw.LaunchCore1(func() {
		for {
			core1.RunOnce()
		}
	})

	var poller krnruntime.PioPoller
	if driver != nil {
		poller = pioPollAdapter{d: driver}
	}
	core0 := krnruntime.NewCore0(krnruntime.Core0Config{
		State:        state,
		Heartbeat:    gpioPulse{heartbeat},
		Idle:         gpioLevel{idle},
		Chars:        uartCharSource{},
		Shell:        sh,
		Out:          uartWriter{},
		Pio:          poller,
		Clock:        clk,
		Log:          log,
		Reboot:       rp2hw.RebootViaWatchdog,
		Telemetry:    func() { publishTelemetry(log, state, snap) },
		LockoutCheck: rp2hw.CheckLockoutVictim,
	})

	for {
		core0.RunOnce(clk.Millis())
	}
}

// gpioPulse drives a pin high then immediately low, the heartbeat pulse
// core 0's loop emits once per iteration (spec §4.5).
type gpioPulse struct{ pin machine.Pin }

func (p gpioPulse) Pulse() {
	p.pin.High()
	p.pin.Low()
}

// gpioLevel drives the IDLE pin, held high across the REPL's non-blocking
// byte read and low the rest of the loop body.
type gpioLevel struct{ pin machine.Pin }

func (p gpioLevel) High() { p.pin.High() }
func (p gpioLevel) Low()  { p.pin.Low() }

// uartCharSource is a non-blocking single-byte reader over UART0, the
// "zero-timeout" character source spec §4.5 names.
type uartCharSource struct{}

func (uartCharSource) ReadByte() (byte, bool) {
	if machine.UART0.Buffered() == 0 {
		return 0, false
	}
	b, err := machine.UART0.ReadByte()
	if err != nil {
		return 0, false
	}
	return b, true
}

// uartWriter emits shell output over UART0.
type uartWriter struct{}

func (uartWriter) Write(s string) { machine.UART0.Write([]byte(s)) }

// publishTelemetry writes one live-stats line to the log ring (spec §4.5
// "updates live telemetry every stat_period_ms"); the shell's `stats`
// command only toggles State.StatsEnabled, the loop itself decides what a
// telemetry line looks like.
func publishTelemetry(log *logring.Ring, state *krnstate.State, snap *metrics.SnapshotPublisher) {
	s := snap.Snapshot()
	log.Logf("target=%dkHz current=%dkHz vreg=%dmV tick=%.2fms",
		state.TargetKHz(), state.CurrentKHz(), state.CurrentVoltageMV(), s.GovTickAvgMs)
}

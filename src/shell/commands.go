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

package shell

import (
	"fmt"
	"strconv"
	"strings"

	"rp2040gov/src/bench"
	"rp2040gov/src/governor"
	"rp2040gov/src/krnstate"
	"rp2040gov/src/logring"
	"rp2040gov/src/metrics"
	"rp2040gov/src/persist"
)

// mmioMin/mmioMax bound `peek`/`poke` (spec §6): the RP2040's peripheral
// and SRAM address space.
const (
	mmioMin uint32 = 0x10000000
	mmioMax uint32 = 0x50200000
)

// PioArbiter is the narrow slice of *piostab.Arbiter the shell needs for
// `pio`/`pio safe`/`pio reset`/`pio watch`.
type PioArbiter interface {
	IdleFraction() float64
	StableCount() int
	SafeToScale(idleThresh, jitterThreshPct float64, minStable int) bool
	NotifyFreqChange(newKHz uint32)
}

// TempSensor reads the die temperature, shared with governor.TempSensor's
// shape so the same concrete reader satisfies both.
type TempSensor interface {
	ReadCelsius() float64
}

// MMIO is the raw 32-bit peek/poke backend; the shell validates range and
// alignment itself before ever calling it (spec §7 kind 1).
type MMIO interface {
	Read32(addr uint32) (uint32, error)
	Write32(addr, val uint32) error
}

// CommandsConfig bundles every collaborator the standard command table
// (spec §6) needs. Fields left nil degrade their commands to an error
// message rather than a panic (spec §7 "never fatal").
type CommandsConfig struct {
	State     *krnstate.State
	Clock     krnstate.Clock
	Governors *governor.Registry
	Pio       PioArbiter
	Metrics   *metrics.Ring
	Snapshot  *metrics.SnapshotPublisher
	Bench     *bench.Runner
	Persist   *persist.Store
	Temp      TempSensor
	Log       *logring.Ring
	MMIO      MMIO
	Reboot    func()
	Bootsel   func()
	// Sleep paces `pio watch`; nil makes every watch iteration fire back
	// to back with no delay (fine for tests, a busy REPL on real hardware).
	Sleep func(ms uint32)
}

// RegisterCommands wires the full spec §6 command table into sh.
func RegisterCommands(sh *Shell, cfg CommandsConfig) {
	sh.Register(Command{Name: "set", Help: "set <mhz> - write target_khz", Run: func(args []string) string {
		return cmdSet(cfg, args)
	}})
	sh.Register(Command{Name: "gov", Help: "gov list|set <name>|status|tune ... - governor control", Run: func(args []string) string {
		return cmdGov(cfg, args)
	}})
	sh.Register(Command{Name: "pio", Help: "pio [safe|reset|watch [ms [n]]] - arbiter introspection", Run: func(args []string) string {
		return cmdPio(cfg, args)
	}})
	sh.Register(Command{Name: "bench", Help: "bench <target> <ms>|suite <ms> [csv] - run workloads", Run: func(args []string) string {
		return cmdBench(cfg, args)
	}})
	sh.Register(Command{Name: "stats", Help: "stats - toggle live telemetry", Run: func(args []string) string {
		return cmdStats(cfg, args)
	}})
	sh.Register(Command{Name: "temp", Help: "temp - die temperature readout", Run: func(args []string) string {
		return cmdTemp(cfg, args)
	}})
	sh.Register(Command{Name: "clocks", Help: "clocks - frequency/voltage readout", Run: func(args []string) string {
		return cmdClocks(cfg, args)
	}})
	sh.Register(Command{Name: "uptime", Help: "uptime - milliseconds since boot", Run: func(args []string) string {
		return cmdUptime(cfg, args)
	}})
	sh.Register(Command{Name: "flash", Help: "flash - persisted-record readout", Run: func(args []string) string {
		return cmdFlash(cfg, args)
	}})
	sh.Register(Command{Name: "metrics", Help: "metrics - read-only aggregate readout", Run: func(args []string) string {
		return cmdMetrics(cfg, args)
	}})
	sh.Register(Command{Name: "persist", Help: "persist - persisted governor/params readout", Run: func(args []string) string {
		return cmdFlash(cfg, args)
	}})
	sh.Register(Command{Name: "peek", Help: "peek <hex> - 32-bit MMIO read", Run: func(args []string) string {
		return cmdPeek(cfg, args)
	}})
	sh.Register(Command{Name: "poke", Help: "poke <hex> <hex> - 32-bit MMIO write", Run: func(args []string) string {
		return cmdPoke(cfg, args)
	}})
	sh.Register(Command{Name: "dmesg", Help: "dmesg [uart on|off] - log ring dump / UART mirror toggle", Run: func(args []string) string {
		return cmdDmesg(cfg, args)
	}})
	sh.Register(Command{Name: "reboot", Help: "reboot - watchdog reset", Run: func(args []string) string {
		if cfg.Reboot == nil {
			return "reboot: unavailable"
		}
		cfg.Reboot()
		return "rebooting"
	}})
	sh.Register(Command{Name: "bootsel", Help: "bootsel - reset into USB mass storage", Run: func(args []string) string {
		if cfg.Bootsel == nil {
			return "bootsel: unavailable"
		}
		cfg.Bootsel()
		return "entering bootsel"
	}})
	sh.Register(Command{Name: "clear", Help: "clear - clear the terminal", Run: func(args []string) string {
		return "\x1b[2J\x1b[H"
	}})
	sh.Register(Command{Name: "help", Help: "help - this message", Run: func(args []string) string {
		return sh.Help()
	}})
}

func cmdSet(cfg CommandsConfig, args []string) string {
	if cfg.State == nil {
		return "set: unavailable"
	}
	if len(args) != 1 {
		return "usage: set <mhz>"
	}
	mhz, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Sprintf("set: %v", err)
	}
	if mhz < krnstate.MinKHz/1000 || mhz > krnstate.MaxKHz/1000 {
		return fmt.Sprintf("set: %d out of range [%d, %d]", mhz, krnstate.MinKHz/1000, krnstate.MaxKHz/1000)
	}
	cfg.State.SetTargetKHz(uint32(mhz) * 1000)
	return fmt.Sprintf("target_khz = %d", uint32(mhz)*1000)
}

func cmdGov(cfg CommandsConfig, args []string) string {
	if cfg.Governors == nil {
		return "gov: unavailable"
	}
	if len(args) == 0 {
		return "usage: gov list|set <name>|status|tune <name> show|list|get <p>|set <p> <v>"
	}
	switch args[0] {
	case "list":
		return strings.Join(cfg.Governors.List(), "\n")
	case "set":
		if len(args) != 2 {
			return "usage: gov set <name>"
		}
		if err := cfg.Governors.SetCurrent(args[1]); err != nil {
			return fmt.Sprintf("gov set: %v", err)
		}
		return fmt.Sprintf("current governor = %s", args[1])
	case "status":
		g := cfg.Governors.Current()
		if g == nil {
			return "no governor selected"
		}
		return fmt.Sprintf("current governor = %s", g.Name())
	case "tune":
		return cmdGovTune(cfg, args[1:])
	default:
		return fmt.Sprintf("gov: unknown subcommand %q", args[0])
	}
}

func cmdGovTune(cfg CommandsConfig, args []string) string {
	if len(args) < 2 {
		return "usage: gov tune <name> show|list|get <p>|set <p> <v>"
	}
	g, ok := cfg.Governors.ByName(args[0])
	if !ok {
		return fmt.Sprintf("gov tune: unknown governor %q", args[0])
	}
	t, ok := g.(governor.Tunable)
	if !ok {
		return fmt.Sprintf("gov tune: %s has no tunable parameters", args[0])
	}
	switch args[1] {
	case "list":
		return strings.Join(t.ParamNames(), "\n")
	case "show":
		var b strings.Builder
		for _, name := range t.ParamNames() {
			v, _ := t.GetParam(name)
			fmt.Fprintf(&b, "%s = %s\n", name, v)
		}
		return strings.TrimRight(b.String(), "\n")
	case "get":
		if len(args) != 3 {
			return "usage: gov tune <name> get <param>"
		}
		v, ok := t.GetParam(args[2])
		if !ok {
			return fmt.Sprintf("gov tune: unknown parameter %q", args[2])
		}
		return v
	case "set":
		if len(args) != 4 {
			return "usage: gov tune <name> set <param> <value>"
		}
		ok, err := t.SetParam(args[2], args[3])
		if err != nil {
			return fmt.Sprintf("gov tune: %v", err)
		}
		if !ok {
			return fmt.Sprintf("gov tune: unknown parameter %q", args[2])
		}
		if cfg.Persist != nil {
			if err := cfg.Persist.SaveParams(args[0], t.MarshalParams()); err != nil && cfg.Log != nil {
				cfg.Log.Logf("gov tune: failed to persist %s: %v", args[0], err)
			}
		}
		return fmt.Sprintf("%s = %s", args[2], args[3])
	default:
		return fmt.Sprintf("gov tune: unknown subcommand %q", args[1])
	}
}

func cmdPio(cfg CommandsConfig, args []string) string {
	if cfg.Pio == nil {
		return "pio: unavailable"
	}
	if len(args) == 0 {
		return pioSnapshotLine(cfg.Pio)
	}
	switch args[0] {
	case "safe":
		return fmt.Sprintf("safe_to_scale = %v", cfg.Pio.SafeToScale(0.03, 3.0, 4))
	case "reset":
		khz := uint32(0)
		if cfg.State != nil {
			khz = cfg.State.CurrentKHz()
		}
		cfg.Pio.NotifyFreqChange(khz)
		return "arbiter window reset, settle window armed"
	case "watch":
		return cmdPioWatch(cfg, args[1:])
	default:
		return fmt.Sprintf("pio: unknown subcommand %q", args[0])
	}
}

func cmdPioWatch(cfg CommandsConfig, args []string) string {
	ms := uint32(1000)
	n := 1
	var err error
	if len(args) >= 1 {
		var v uint64
		if v, err = strconv.ParseUint(args[0], 10, 32); err != nil {
			return fmt.Sprintf("pio watch: %v", err)
		}
		ms = uint32(v)
	}
	if len(args) >= 2 {
		var v uint64
		if v, err = strconv.ParseUint(args[1], 10, 32); err != nil {
			return fmt.Sprintf("pio watch: %v", err)
		}
		n = int(v)
	}
	if n < 1 {
		n = 1
	}

	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 && cfg.Sleep != nil {
			cfg.Sleep(ms)
		}
		b.WriteString(pioSnapshotLine(cfg.Pio))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func pioSnapshotLine(a PioArbiter) string {
	return fmt.Sprintf("idle_fraction=%.3f stable_count=%d safe_to_scale=%v",
		a.IdleFraction(), a.StableCount(), a.SafeToScale(0.03, 3.0, 4))
}

func cmdBench(cfg CommandsConfig, args []string) string {
	if cfg.Bench == nil {
		return "bench: unavailable"
	}
	if len(args) == 0 {
		return "usage: bench <target> <ms>|bench suite <ms> [csv]"
	}
	if args[0] == "suite" {
		if len(args) < 2 {
			return "usage: bench suite <ms> [csv]"
		}
		ms, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Sprintf("bench suite: %v", err)
		}
		results := cfg.Bench.Suite(uint32(ms))
		if len(args) >= 3 && args[2] == "csv" {
			return bench.FormatCSV(results)
		}
		var b strings.Builder
		for _, r := range results {
			fmt.Fprintf(&b, "%s: %d iterations, intensity=%d, %dms\n", r.Target, r.Iterations, r.Intensity, r.DurationMs)
		}
		return strings.TrimRight(b.String(), "\n")
	}

	if len(args) != 2 {
		return "usage: bench <target> <ms>"
	}
	ms, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Sprintf("bench: %v", err)
	}
	r, err := cfg.Bench.Run(args[0], uint32(ms))
	if err != nil {
		return fmt.Sprintf("bench: %v", err)
	}
	return fmt.Sprintf("%s: %d iterations, intensity=%d, %dms", r.Target, r.Iterations, r.Intensity, r.DurationMs)
}

func cmdStats(cfg CommandsConfig, args []string) string {
	if cfg.State == nil {
		return "stats: unavailable"
	}
	on := !cfg.State.StatsEnabled()
	cfg.State.SetStatsEnabled(on)
	return fmt.Sprintf("telemetry %s", onOff(on))
}

func cmdTemp(cfg CommandsConfig, args []string) string {
	if cfg.Temp == nil {
		return "temp: unavailable"
	}
	return fmt.Sprintf("%.1f C", cfg.Temp.ReadCelsius())
}

func cmdClocks(cfg CommandsConfig, args []string) string {
	if cfg.State == nil {
		return "clocks: unavailable"
	}
	return fmt.Sprintf("target_khz=%d current_khz=%d current_voltage_mv=%d throttle=%v",
		cfg.State.TargetKHz(), cfg.State.CurrentKHz(), cfg.State.CurrentVoltageMV(), cfg.State.ThrottleActive())
}

func cmdUptime(cfg CommandsConfig, args []string) string {
	if cfg.Clock == nil {
		return "uptime: unavailable"
	}
	return fmt.Sprintf("%dms", cfg.Clock.Millis())
}

func cmdFlash(cfg CommandsConfig, args []string) string {
	if cfg.Persist == nil {
		return "flash: unavailable"
	}
	name, nameOK := cfg.Persist.LoadName()
	blob, blobOK := cfg.Persist.LoadParams(name)
	if !nameOK {
		return "flash: no persisted governor name"
	}
	if !blobOK {
		return fmt.Sprintf("governor=%s params=<none>", name)
	}
	return fmt.Sprintf("governor=%s params=%d bytes", name, len(blob))
}

func cmdMetrics(cfg CommandsConfig, args []string) string {
	if cfg.Metrics == nil {
		return "metrics: unavailable"
	}
	agg := cfg.Metrics.GetAggregate(false)
	line := fmt.Sprintf("count=%d avg_workload=%d avg_intensity=%d avg_duration_ms=%d last_ts_ms=%d",
		agg.Count, agg.AvgWorkload, agg.AvgIntensity, agg.AvgDurationMs, agg.LastTsMs)
	if cfg.Snapshot == nil {
		return line
	}
	snap := cfg.Snapshot.Snapshot()
	return fmt.Sprintf("%s | gov_tick_count=%d gov_tick_avg_ms=%.3f", line, snap.GovTickCount, snap.GovTickAvgMs)
}

func cmdPeek(cfg CommandsConfig, args []string) string {
	if cfg.MMIO == nil {
		return "peek: unavailable"
	}
	if len(args) != 1 {
		return "usage: peek <hex>"
	}
	addr, err := parseUintArg(args[0])
	if err != nil {
		return fmt.Sprintf("peek: %v", err)
	}
	if err := checkMMIOAddr(uint32(addr)); err != nil {
		return fmt.Sprintf("peek: %v", err)
	}
	v, err := cfg.MMIO.Read32(uint32(addr))
	if err != nil {
		return fmt.Sprintf("peek: %v", err)
	}
	return fmt.Sprintf("0x%08x = 0x%08x", addr, v)
}

func cmdPoke(cfg CommandsConfig, args []string) string {
	if cfg.MMIO == nil {
		return "poke: unavailable"
	}
	if len(args) != 2 {
		return "usage: poke <hex> <hex>"
	}
	addr, err := parseUintArg(args[0])
	if err != nil {
		return fmt.Sprintf("poke: %v", err)
	}
	if err := checkMMIOAddr(uint32(addr)); err != nil {
		return fmt.Sprintf("poke: %v", err)
	}
	val, err := parseUintArg(args[1])
	if err != nil {
		return fmt.Sprintf("poke: %v", err)
	}
	if err := cfg.MMIO.Write32(uint32(addr), uint32(val)); err != nil {
		return fmt.Sprintf("poke: %v", err)
	}
	return fmt.Sprintf("0x%08x := 0x%08x", addr, val)
}

func cmdDmesg(cfg CommandsConfig, args []string) string {
	if cfg.Log == nil {
		return "dmesg: unavailable"
	}
	if len(args) == 0 {
		return strings.Join(cfg.Log.Lines(), "\n")
	}
	if args[0] == "uart" && len(args) == 2 {
		switch args[1] {
		case "on":
			cfg.Log.SetUARTMirror(true)
			return "uart mirror on"
		case "off":
			cfg.Log.SetUARTMirror(false)
			return "uart mirror off"
		}
	}
	return "usage: dmesg [uart on|off]"
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// checkMMIOAddr validates an address for peek/poke (spec §6: 4-byte-aligned,
// within [0x10000000, 0x50200000]). It has no hardware dependency, so it
// runs identically in tests and on the board.
func checkMMIOAddr(addr uint32) error {
	if addr%4 != 0 {
		return fmt.Errorf("address 0x%x is not 4-byte aligned", addr)
	}
	if addr < mmioMin || addr > mmioMax {
		return fmt.Errorf("address 0x%x out of range [0x%x, 0x%x]", addr, mmioMin, mmioMax)
	}
	return nil
}

package cpu

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nescore/cpu6502/memory"
)

// nesTestRow is one parsed line of nestest.log: PC plus the register
// snapshot and cycle count sampled immediately before that instruction
// executes. Column offsets are fixed-width, matching the log format
// produced by Nintendulator-derived tools.
type nesTestRow struct {
	PC         uint16
	A, X, Y, P uint8
	SP         uint8
	Cycle      uint64
}

func loadNestestLog(path string) ([]nesTestRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []nesTestRow
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 91 {
			continue
		}
		pc, err := strconv.ParseUint(line[0:4], 16, 16)
		if err != nil {
			return nil, err
		}
		a, err := strconv.ParseUint(line[50:52], 16, 8)
		if err != nil {
			return nil, err
		}
		x, err := strconv.ParseUint(line[55:57], 16, 8)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseUint(line[60:62], 16, 8)
		if err != nil {
			return nil, err
		}
		p, err := strconv.ParseUint(line[65:67], 16, 8)
		if err != nil {
			return nil, err
		}
		sp, err := strconv.ParseUint(line[71:73], 16, 8)
		if err != nil {
			return nil, err
		}
		cyc, err := strconv.ParseUint(strings.TrimSpace(line[90:]), 10, 64)
		if err != nil {
			return nil, err
		}
		rows = append(rows, nesTestRow{
			PC: uint16(pc), A: uint8(a), X: uint8(x), Y: uint8(y),
			P: uint8(p), SP: uint8(sp), Cycle: cyc,
		})
	}
	return rows, scanner.Err()
}

// TestNestestConformance replays nestest.nes against the engine and checks
// every retired instruction's register snapshot and cycle count against
// nestest.log. Both files are large binary/text fixtures not checked into
// this tree; the test skips with a clear message when they are absent
// instead of failing, so the rest of the suite still runs clean in an
// environment that hasn't fetched them (see DESIGN.md Open Questions).
func TestNestestConformance(t *testing.T) {
	romPath := filepath.Join("testdata", "nestest.nes")
	logPath := filepath.Join("testdata", "nestest.log")

	rom, err := os.ReadFile(romPath)
	if os.IsNotExist(err) {
		t.Skipf("skipping: %s not present (conformance fixture not vendored)", romPath)
	}
	if err != nil {
		t.Fatalf("read %s: %v", romPath, err)
	}

	rows, err := loadNestestLog(logPath)
	if os.IsNotExist(err) {
		t.Skipf("skipping: %s not present (conformance fixture not vendored)", logPath)
	}
	if err != nil {
		t.Fatalf("load %s: %v", logPath, err)
	}

	// nestest.nes carries a 16-byte iNES header followed by a single 16KB
	// PRG bank, mirrored here into both $8000-$BFFF and $C000-$FFFF; this
	// harness only needs the CPU bus, so the PRG is mapped straight in
	// without any mapper logic.
	const header = 16
	const bankSize = 16 * 1024
	if len(rom) < header+bankSize {
		t.Fatalf("nestest.nes too short: %d bytes", len(rom))
	}
	prg := rom[header : header+bankSize]

	bus := memory.NewFlatBus(nil)
	bus.LoadAt(0x8000, prg)
	bus.LoadAt(0xC000, prg)

	e, err := New(Config{Bus: bus, Variant: RicohNMOS, StartPC: 0xC000, StartPCSet: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// The fixture's expected starting state is SP=$FD, P=$24, cycle 7,
	// which New's Reset already produces.

	for i, want := range rows {
		got := e.State()
		if got.PC != want.PC || got.A != want.A || got.X != want.X ||
			got.Y != want.Y || got.P != want.P || got.SP != want.SP ||
			got.Cycles != want.Cycle {
			t.Fatalf("row %d mismatch:\n got PC=%04X A=%02X X=%02X Y=%02X P=%02X SP=%02X CYC=%d\nwant PC=%04X A=%02X X=%02X Y=%02X P=%02X SP=%02X CYC=%d",
				i, got.PC, got.A, got.X, got.Y, got.P, got.SP, got.Cycles,
				want.PC, want.A, want.X, want.Y, want.P, want.SP, want.Cycle)
		}
		runInstruction(t, e)
	}
}

// Package memory defines the bus interface the CPU execution engine
// consumes, plus a flat 64KB implementation used for testing the engine
// in isolation. Production address-map/mirroring concerns (PPU registers,
// cartridge mappers, controller ports) live outside this package; a real
// embedding uses its own Bank chain and only needs to satisfy Bus.
package memory

import (
	"fmt"
	"math/rand"
	"time"
)

// Bus is the narrow interface the CPU execution engine requires of its
// memory map. Reads and writes may have side effects (e.g. a PPU status
// register clearing vblank on read) which the engine must not assume away.
// The engine reads each opcode, operand and indirect-pointer byte and each
// effective operand once, and writes each result once; it does not issue
// the dummy reads and writes that some 6502 bus cycles perform (such as
// the write-back of the unmodified value during a read-modify-write).
type Bus interface {
	// Read returns the data byte stored at addr.
	Read(addr uint16) uint8
	// Write updates addr with the new value.
	Write(addr uint16, val uint8)
}

// Bank extends Bus with the chaining/power-on conveniences a layered
// address-map implementation typically wants: a Bank can sit behind other
// Banks (cartridge mappers, PPU register windows) and still expose the
// last value seen on the data bus to the outermost caller.
type Bank interface {
	Bus
	// PowerOn resets the bank to its power-on state. Implementation
	// specific as to whether that's randomized or all zeros.
	PowerOn()
	// Parent holds a reference (if non-nil) to the next level memory
	// controller. Chaining these lets LatestDatabusVal walk to the
	// outermost bank.
	Parent() Bank
	// DatabusVal returns the last value seen to go across the data bus.
	DatabusVal() uint8
}

// LatestDatabusVal hunts up a chain of Banks until it finds the outermost
// one and returns the DatabusVal from it.
func LatestDatabusVal(b Bank) uint8 {
	if b.Parent() != nil {
		return LatestDatabusVal(b.Parent())
	}
	return b.DatabusVal()
}

// FlatBus is a flat, unmirrored 64KB address space implementing Bank. It's
// the bus the engine's own tests and the nestest conformance harness drive
// the CPU against; a cartridge/PPU-aware bus would wrap or replace it but
// isn't this package's concern.
type FlatBus struct {
	ram        [1 << 16]uint8
	parent     Bank
	databusVal uint8
}

// NewFlatBus creates a zeroed 64KB bus, optionally chained under parent.
func NewFlatBus(parent Bank) *FlatBus {
	return &FlatBus{parent: parent}
}

// Read implements Bus.
func (f *FlatBus) Read(addr uint16) uint8 {
	val := f.ram[addr]
	f.databusVal = val
	return val
}

// Write implements Bus.
func (f *FlatBus) Write(addr uint16, val uint8) {
	f.databusVal = val
	f.ram[addr] = val
}

// PowerOn implements Bank by randomizing RAM contents, matching real
// hardware's undefined power-on state.
func (f *FlatBus) PowerOn() {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := range f.ram {
		f.ram[i] = uint8(rng.Intn(256))
	}
}

// Parent implements Bank.
func (f *FlatBus) Parent() Bank { return f.parent }

// DatabusVal implements Bank.
func (f *FlatBus) DatabusVal() uint8 { return f.databusVal }

// LoadAt copies data into the bus starting at addr, for test/ROM fixture
// setup. It does not wrap; data must fit within the remaining address space.
func (f *FlatBus) LoadAt(addr uint16, data []uint8) error {
	if int(addr)+len(data) > len(f.ram) {
		return fmt.Errorf("memory: LoadAt(%#04x, %d bytes) overruns 64KB bus", addr, len(data))
	}
	copy(f.ram[addr:], data)
	return nil
}

// SetVector writes a little-endian 16 bit pointer at addr, for setting up
// the reset/NMI/IRQ vectors in tests.
func (f *FlatBus) SetVector(addr uint16, target uint16) {
	f.ram[addr] = uint8(target & 0xFF)
	f.ram[addr+1] = uint8(target >> 8)
}

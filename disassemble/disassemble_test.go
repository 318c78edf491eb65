package disassemble

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nescore/cpu6502/memory"
)

func TestStepAbsolute(t *testing.T) {
	bus := memory.NewFlatBus(nil)
	bus.LoadAt(0xC000, []uint8{0x4C, 0x00, 0xC0}) // JMP $C000
	text, n := Step(0xC000, bus)
	assert.Equal(t, "JMP $C000", text)
	assert.Equal(t, 3, n)
}

func TestStepIllegalIsMarked(t *testing.T) {
	bus := memory.NewFlatBus(nil)
	bus.LoadAt(0xC000, []uint8{0x02}) // JAM
	text, _ := Step(0xC000, bus)
	assert.Contains(t, text, "(illegal)")
}

func TestRangeWalksInstructionLengths(t *testing.T) {
	bus := memory.NewFlatBus(nil)
	bus.LoadAt(0xC000, []uint8{
		0xA9, 0x01, // LDA #$01
		0xEA, // NOP
	})
	out := Range(0xC000, 0xC003, bus)
	assert.Equal(t, "LDA #$01", out[0xC000])
	assert.Equal(t, "NOP", out[0xC002])
	assert.NotContains(t, out, uint16(0xC001))
}

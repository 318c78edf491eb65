package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableCoversAllOpcodes(t *testing.T) {
	for i := 0; i < 256; i++ {
		entry := Table[i]
		require.NotEmpty(t, entry.Mnemonic, "opcode %#02x has no mnemonic", i)
		assert.Greater(t, entry.Cycles, 0, "opcode %#02x has zero base cycles", i)
	}
}

func TestOfficialOpcodeCount(t *testing.T) {
	count := 0
	for i := 0; i < 256; i++ {
		if Table[i].Kind != Illegal {
			count++
		}
	}
	assert.Equal(t, 151, count, "documented opcode count must match the 6502's official 151")
}

func TestNOPIsTheOnlyExecutableNop(t *testing.T) {
	assert.Equal(t, "NOP", Table[0xEA].Mnemonic)
	assert.NotEqual(t, Illegal, Table[0xEA].Kind)

	unofficialNops := []uint8{0x1A, 0x3A, 0x5A, 0x7A, 0xDA, 0xFA}
	for _, op := range unofficialNops {
		assert.Equal(t, Illegal, Table[op].Kind, "opcode %#02x must be fatal despite being a NOP variant", op)
	}
}

func TestModeBytes(t *testing.T) {
	cases := []struct {
		mode  Mode
		bytes int
	}{
		{Implied, 1},
		{Accumulator, 1},
		{Immediate, 2},
		{ZeroPage, 2},
		{ZeroPageX, 2},
		{ZeroPageY, 2},
		{IndirectX, 2},
		{IndirectY, 2},
		{Relative, 2},
		{Absolute, 3},
		{AbsoluteX, 3},
		{AbsoluteY, 3},
		{Indirect, 3},
	}
	for _, c := range cases {
		assert.Equal(t, c.bytes, c.mode.Bytes())
	}
}

func TestKnownEntries(t *testing.T) {
	assert.Equal(t, Entry{Mnemonic: "BRK", Mode: Implied, Cycles: 7, Kind: BRK}, Table[0x00])
	assert.Equal(t, Entry{Mnemonic: "LDA", Mode: Immediate, Cycles: 2, Kind: Read}, Table[0xA9])
	assert.Equal(t, Entry{Mnemonic: "JMP", Mode: Indirect, Cycles: 5, Kind: JumpIndirect}, Table[0x6C])
	assert.Equal(t, Entry{Mnemonic: "STA", Mode: AbsoluteX, Cycles: 5, Kind: Write}, Table[0x9D])
}

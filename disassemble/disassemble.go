// Package disassemble renders a single static instruction as text without
// needing a running Engine or register snapshot — useful for dumping a ROM
// image or inspecting a breakpoint's surrounding code, where trace.Format's
// full nestest-style register block doesn't apply. It shares the opcode
// table with package decode and package trace rather than keeping its own
// independently drifting copy.
package disassemble

import (
	"fmt"

	"github.com/nescore/cpu6502/decode"
	"github.com/nescore/cpu6502/memory"
)

// Step disassembles the instruction at pc and returns its text form plus
// the number of bytes to advance to reach the next instruction. It always
// reads the two bytes after pc regardless of the opcode actually found
// there (mirroring how the real fetch pipeline behaves), so pc+2 must be a
// valid address on the bus.
func Step(pc uint16, bus memory.Bus) (string, int) {
	opcode := bus.Read(pc)
	entry := decode.Table[opcode]
	b1 := bus.Read(pc + 1)
	b2 := bus.Read(pc + 2)

	var text string
	switch entry.Mode {
	case decode.Implied:
		text = entry.Mnemonic
	case decode.Accumulator:
		text = entry.Mnemonic + " A"
	case decode.Immediate:
		text = fmt.Sprintf("%s #$%02X", entry.Mnemonic, b1)
	case decode.ZeroPage:
		text = fmt.Sprintf("%s $%02X", entry.Mnemonic, b1)
	case decode.ZeroPageX:
		text = fmt.Sprintf("%s $%02X,X", entry.Mnemonic, b1)
	case decode.ZeroPageY:
		text = fmt.Sprintf("%s $%02X,Y", entry.Mnemonic, b1)
	case decode.IndirectX:
		text = fmt.Sprintf("%s ($%02X,X)", entry.Mnemonic, b1)
	case decode.IndirectY:
		text = fmt.Sprintf("%s ($%02X),Y", entry.Mnemonic, b1)
	case decode.Absolute:
		text = fmt.Sprintf("%s $%02X%02X", entry.Mnemonic, b2, b1)
	case decode.AbsoluteX:
		text = fmt.Sprintf("%s $%02X%02X,X", entry.Mnemonic, b2, b1)
	case decode.AbsoluteY:
		text = fmt.Sprintf("%s $%02X%02X,Y", entry.Mnemonic, b2, b1)
	case decode.Indirect:
		text = fmt.Sprintf("%s ($%02X%02X)", entry.Mnemonic, b2, b1)
	case decode.Relative:
		target := pc + 2 + uint16(int8(b1))
		text = fmt.Sprintf("%s $%04X", entry.Mnemonic, target)
	default:
		text = entry.Mnemonic
	}

	if entry.Kind == decode.Illegal {
		text += " (illegal)"
	}

	return text, entry.Mode.Bytes()
}

// Range disassembles every instruction between start and end (exclusive),
// stepping Step's own reported byte count each time. Instruction bytes that
// overlap inline data are disassembled as if they were code; Range has no
// way to tell code from data apart.
func Range(start, end uint16, bus memory.Bus) map[uint16]string {
	out := make(map[uint16]string)
	for pc := start; pc < end; {
		text, n := Step(pc, bus)
		out[pc] = text
		if n <= 0 {
			n = 1
		}
		pc += uint16(n)
	}
	return out
}

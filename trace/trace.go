// Package trace formats and delivers nestest.log-compatible execution trace
// lines. Output goes through a caller-supplied Sink interface rather than a
// file opened internally, so the engine never touches the filesystem on its
// own.
package trace

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/nescore/cpu6502/decode"
)

// Sink receives one formatted trace line at a time. Implementations decide
// where the line goes (file, in-memory buffer, io.Writer adapter, nowhere).
type Sink interface {
	WriteLine(line string) error
}

// NopSink discards every line. Used when a cpu.Config carries no Trace.
type NopSink struct{}

// WriteLine implements Sink by doing nothing.
func (NopSink) WriteLine(string) error { return nil }

// fileSink writes lines to an already-open file, one per call, flushing
// through a buffered writer.
type fileSink struct {
	f *os.File
	w *bufio.Writer
}

// NewFileSink opens path for trace output. Opening the file is the
// caller's explicit act: nothing in this package opens a file until asked
// to.
func NewFileSink(path string) (Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: open sink: %w", err)
	}
	return &fileSink{f: f, w: bufio.NewWriter(f)}, nil
}

// WriteLine implements Sink.
func (s *fileSink) WriteLine(line string) error {
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *fileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

// Line is everything the formatter needs to render one nestest.log row. The
// engine fills this in per instruction using the operand bytes it already
// fetched for execution, so the bus is never read twice for tracing.
type Line struct {
	PC      uint16
	Opcode  uint8
	Operand []uint8 // 0, 1, or 2 bytes, per decode.Entry.Mode.Bytes()-1
	A, X, Y uint8
	P       uint8
	SP      uint8
	Cycle   uint64
}

// Format renders l in the fixed-width nestest.log layout:
//
//	PC    bytes      mnemonic+operand            A:.. X:.. Y:.. P:.. SP:.. PPU:  0,  0 CYC:n
func Format(l Line) string {
	entry := decode.Table[l.Opcode]

	var byteCols strings.Builder
	fmt.Fprintf(&byteCols, "%02X", l.Opcode)
	for _, b := range l.Operand {
		fmt.Fprintf(&byteCols, " %02X", b)
	}

	asm := disassemble(entry, l.PC, l.Operand)

	return fmt.Sprintf(
		"%04X  %-9s %-32sA:%02X X:%02X Y:%02X P:%02X SP:%02X PPU:  0,  0 CYC:%d",
		l.PC, byteCols.String(), asm, l.A, l.X, l.Y, l.P, l.SP, l.Cycle,
	)
}

// disassemble formats the mnemonic/operand portion of a trace line, driven
// off the shared decode table rather than a second mode switch.
func disassemble(e decode.Entry, pc uint16, operand []uint8) string {
	switch e.Mode {
	case decode.Implied:
		return e.Mnemonic
	case decode.Accumulator:
		return e.Mnemonic + " A"
	case decode.Immediate:
		return fmt.Sprintf("%s #$%02X", e.Mnemonic, operand[0])
	case decode.ZeroPage:
		return fmt.Sprintf("%s $%02X", e.Mnemonic, operand[0])
	case decode.ZeroPageX:
		return fmt.Sprintf("%s $%02X,X", e.Mnemonic, operand[0])
	case decode.ZeroPageY:
		return fmt.Sprintf("%s $%02X,Y", e.Mnemonic, operand[0])
	case decode.IndirectX:
		return fmt.Sprintf("%s ($%02X,X)", e.Mnemonic, operand[0])
	case decode.IndirectY:
		return fmt.Sprintf("%s ($%02X),Y", e.Mnemonic, operand[0])
	case decode.Absolute:
		return fmt.Sprintf("%s $%02X%02X", e.Mnemonic, operand[1], operand[0])
	case decode.AbsoluteX:
		return fmt.Sprintf("%s $%02X%02X,X", e.Mnemonic, operand[1], operand[0])
	case decode.AbsoluteY:
		return fmt.Sprintf("%s $%02X%02X,Y", e.Mnemonic, operand[1], operand[0])
	case decode.Indirect:
		return fmt.Sprintf("%s ($%02X%02X)", e.Mnemonic, operand[1], operand[0])
	case decode.Relative:
		target := pc + 2 + uint16(int8(operand[0]))
		return fmt.Sprintf("%s $%04X", e.Mnemonic, target)
	default:
		return e.Mnemonic
	}
}

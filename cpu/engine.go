// Package cpu implements the 2A03/6502 execution engine: one Tick call
// retires one whole instruction against an external memory.Bus, advancing
// the cycle counter by the resolved cost and producing an optional
// nestest.log-compatible trace line. See SPEC_FULL.md for the full design.
package cpu

import (
	"context"
	"fmt"

	"github.com/nescore/cpu6502/decode"
	"github.com/nescore/cpu6502/irq"
	"github.com/nescore/cpu6502/memory"
	"github.com/nescore/cpu6502/trace"
)

// Variant selects the chip flavor. The NES's 2A03/2A07 is RicohNMOS: BCD
// decoding is present in hardware but silicon-disabled, so ADC/SBC never
// take the decimal path regardless of the D flag. Plain NMOS routes ADC and
// SBC through adcDecimal when D is set; no test in this package selects it.
type Variant int

const (
	RicohNMOS Variant = iota
	NMOS
)

// Config configures a new Engine. Bus is the only required field.
type Config struct {
	Bus     memory.Bus
	Variant Variant
	IRQ     irq.Sender
	NMI     irq.Sender
	Trace   trace.Sink
	// StartPC, if non-zero-valued via StartPCSet, overrides the
	// reset-vector PC read — used by the nestest conformance harness,
	// which starts execution at a fixed address rather than through a
	// power-on reset sequence.
	StartPC    uint16
	StartPCSet bool
}

// Engine is the CPU execution engine. Zero value is not usable; build one
// with New.
type Engine struct {
	state State

	bus     memory.Bus
	variant Variant
	irqS    irq.Sender
	nmiS    irq.Sender
	trace   trace.Sink

	pending  int  // bus cycles still owed from the last retired instruction
	prevNMI  bool // previous sampled NMI line, for edge detection
	deferIRQ bool // true until the next instruction boundary after PLP/RTI changed I
}

// New builds an Engine from cfg and performs the power-on reset sequence;
// when StartPCSet is true, cfg.StartPC then replaces the PC read from the
// reset vector.
func New(cfg Config) (*Engine, error) {
	if cfg.Bus == nil {
		return nil, &InvalidCPUState{Reason: "Config.Bus is required"}
	}
	e := &Engine{
		bus:     cfg.Bus,
		variant: cfg.Variant,
		irqS:    cfg.IRQ,
		nmiS:    cfg.NMI,
		trace:   cfg.Trace,
	}
	if e.trace == nil {
		e.trace = trace.NopSink{}
	}
	e.Reset()
	if cfg.StartPCSet {
		e.state.PC = cfg.StartPC
	}
	return e, nil
}

// Reset performs the 6502 reset sequence: three stack-pointer decrements
// (no actual writes, matching real hardware), I flag set, PC loaded from
// ResetVector. Costed at 7 cycles.
func (e *Engine) Reset() {
	e.state.SP -= 3
	e.state.setFlag(FlagInterrupt, true)
	e.state.setFlag(FlagS1, true)
	lo := e.bus.Read(ResetVector)
	hi := e.bus.Read(ResetVector + 1)
	e.state.PC = uint16(lo) | uint16(hi)<<8
	e.state.Cycles += 7
	e.pending = 0
}

// State returns a copy of the current register file and cycle counter.
func (e *Engine) State() State { return e.state }

// Tick advances the engine by one bus cycle's worth of external clock.
// While the engine is still "ahead" on a previously retired instruction's
// cycle cost it simply decrements that debt and returns nil; once the debt
// reaches zero the next call retires one whole instruction (or services a
// pending interrupt) atomically and re-arms the debt counter with that
// instruction's full cost minus the one cycle just spent.
//
// ctx is checked once at entry for cancellation; nothing inside Tick
// blocks, so this is a fast-path guard rather than real mid-instruction
// cancellation support.
func (e *Engine) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.pending > 0 {
		e.pending--
		return nil
	}
	return e.step()
}

// step retires exactly one instruction or interrupt sequence.
func (e *Engine) step() error {
	nmiEdge := e.sampleNMI()
	irqLevel := e.irqS != nil && e.irqS.Raised()

	deferred := e.deferIRQ
	e.deferIRQ = false

	if nmiEdge {
		return e.serviceInterrupt(NMIVector)
	}
	if irqLevel && !e.state.flag(FlagInterrupt) && !deferred {
		return e.serviceInterrupt(IRQVector)
	}

	pc := e.state.PC
	opcode := e.bus.Read(pc)
	entry := decode.Table[opcode]

	if entry.Kind == decode.Illegal {
		return &FatalDecodeError{Opcode: opcode, PC: pc}
	}

	operandLen := entry.Mode.Bytes() - 1
	operand := make([]uint8, operandLen)
	for i := 0; i < operandLen; i++ {
		operand[i] = e.bus.Read(pc + 1 + uint16(i))
	}

	if err := e.emitTrace(pc, opcode, operand); err != nil {
		return err
	}

	e.state.PC = pc + uint16(entry.Mode.Bytes())

	cycles, err := e.execute(entry, operand)
	if err != nil {
		return err
	}

	e.state.Cycles += uint64(cycles)
	e.pending = cycles - 1
	return nil
}

// sampleNMI updates edge-tracking state and reports whether a low-to-high
// transition happened since the last sample.
func (e *Engine) sampleNMI() bool {
	cur := e.nmiS != nil && e.nmiS.Raised()
	edge := cur && !e.prevNMI
	e.prevNMI = cur
	return edge
}

func (e *Engine) emitTrace(pc uint16, opcode uint8, operand []uint8) error {
	if _, ok := e.trace.(trace.NopSink); ok {
		return nil
	}
	line := trace.Format(trace.Line{
		PC:      pc,
		Opcode:  opcode,
		Operand: operand,
		A:       e.state.A,
		X:       e.state.X,
		Y:       e.state.Y,
		P:       e.state.P,
		SP:      e.state.SP,
		Cycle:   e.state.Cycles,
	})
	if err := e.trace.WriteLine(line); err != nil {
		return &LogError{Err: err}
	}
	return nil
}

// serviceInterrupt runs the 7-cycle push-PC/push-P/fetch-vector sequence
// for a hardware IRQ or NMI; the pushed P always has B clear, distinguishing
// it on the stack from BRK's software interrupt (see execBRK).
func (e *Engine) serviceInterrupt(vector uint16) error {
	e.state.push(e.bus, uint8(e.state.PC>>8))
	e.state.push(e.bus, uint8(e.state.PC))

	p := (e.state.P | FlagS1) &^ FlagB
	e.state.push(e.bus, p)

	e.state.setFlag(FlagInterrupt, true)

	lo := e.bus.Read(vector)
	hi := e.bus.Read(vector + 1)
	e.state.PC = uint16(lo) | uint16(hi)<<8

	e.state.Cycles += 7
	e.pending = 6
	return nil
}

// resolved is what resolve produces for an addressing mode and the
// already-fetched operand bytes: the value to operate on, the address to
// write back to (for RMW), and whether an indexed/indirect resolution
// crossed a page boundary.
type resolved struct {
	addr        uint16
	value       uint8
	pageCrossed bool
}

// resolveAddr computes the effective address for mode without reading the
// value stored there. Indirect modes still issue the pointer-byte reads
// they need to form that address (those are reads of the pointer, not of
// the final destination), so a plain store only ever reads what real
// hardware reads on the way to resolving $(zp,X)/($zp),Y.
func (e *Engine) resolveAddr(mode decode.Mode, operand []uint8) (addr uint16, pageCrossed bool) {
	switch mode {
	case decode.ZeroPage:
		return uint16(operand[0]), false
	case decode.ZeroPageX:
		return uint16(uint8(operand[0] + e.state.X)), false
	case decode.ZeroPageY:
		return uint16(uint8(operand[0] + e.state.Y)), false
	case decode.Absolute:
		return uint16(operand[0]) | uint16(operand[1])<<8, false
	case decode.AbsoluteX:
		base := uint16(operand[0]) | uint16(operand[1])<<8
		addr := base + uint16(e.state.X)
		return addr, (base & 0xFF00) != (addr & 0xFF00)
	case decode.AbsoluteY:
		base := uint16(operand[0]) | uint16(operand[1])<<8
		addr := base + uint16(e.state.Y)
		return addr, (base & 0xFF00) != (addr & 0xFF00)
	case decode.IndirectX:
		ptr := uint8(operand[0] + e.state.X)
		lo := e.bus.Read(uint16(ptr))
		hi := e.bus.Read(uint16(uint8(ptr + 1)))
		return uint16(lo) | uint16(hi)<<8, false
	case decode.IndirectY:
		ptr := operand[0]
		lo := e.bus.Read(uint16(ptr))
		hi := e.bus.Read(uint16(uint8(ptr + 1)))
		base := uint16(lo) | uint16(hi)<<8
		addr := base + uint16(e.state.Y)
		return addr, (base & 0xFF00) != (addr & 0xFF00)
	case decode.Indirect:
		ptr := uint16(operand[0]) | uint16(operand[1])<<8
		lo := e.bus.Read(ptr)
		// Hardware bug: the high byte is fetched from the same page as
		// the low byte, wrapping within that page instead of crossing
		// into the next one.
		hiAddr := (ptr & 0xFF00) | uint16(uint8(ptr)+1)
		hi := e.bus.Read(hiAddr)
		return uint16(lo) | uint16(hi)<<8, false
	default:
		return 0, false
	}
}

func (e *Engine) resolve(mode decode.Mode, operand []uint8) resolved {
	switch mode {
	case decode.Implied, decode.Accumulator:
		return resolved{value: e.state.A}
	case decode.Immediate:
		return resolved{value: operand[0]}
	case decode.Indirect:
		addr, _ := e.resolveAddr(mode, operand)
		return resolved{addr: addr}
	default:
		addr, crossed := e.resolveAddr(mode, operand)
		return resolved{addr: addr, value: e.bus.Read(addr), pageCrossed: crossed}
	}
}

func (e *Engine) execute(entry decode.Entry, operand []uint8) (int, error) {
	switch entry.Kind {
	case decode.Branch:
		return e.execBranch(entry, operand)
	case decode.Implied:
		e.execImplied(entry.Mnemonic)
		return entry.Cycles, nil
	case decode.Push:
		e.execPush(entry.Mnemonic)
		return entry.Cycles, nil
	case decode.Pull:
		e.execPull(entry.Mnemonic)
		return entry.Cycles, nil
	case decode.Jump:
		e.state.PC = uint16(operand[0]) | uint16(operand[1])<<8
		return entry.Cycles, nil
	case decode.JumpIndirect:
		r := e.resolve(decode.Indirect, operand)
		e.state.PC = r.addr
		return entry.Cycles, nil
	case decode.JSR:
		return e.execJSR(operand)
	case decode.RTS:
		return e.execRTS()
	case decode.RTI:
		return e.execRTI()
	case decode.BRK:
		return e.execBRK()
	case decode.Read:
		r := e.resolve(entry.Mode, operand)
		e.execRead(entry.Mnemonic, r.value)
		cycles := entry.Cycles
		if r.pageCrossed {
			cycles++
		}
		return cycles, nil
	case decode.Write:
		val := e.execWriteValue(entry.Mnemonic)
		addr, _ := e.resolveAddr(entry.Mode, operand)
		e.bus.Write(addr, val)
		return entry.Cycles, nil
	case decode.RMW:
		return e.execRMW(entry, operand)
	default:
		return 0, &InvalidCPUState{Reason: fmt.Sprintf("unhandled decode.Kind %d", entry.Kind)}
	}
}

func (e *Engine) execImplied(mnemonic string) {
	s := &e.state
	switch mnemonic {
	case "NOP":
	case "CLC":
		s.setFlag(FlagCarry, false)
	case "SEC":
		s.setFlag(FlagCarry, true)
	case "CLI":
		s.setFlag(FlagInterrupt, false)
	case "SEI":
		s.setFlag(FlagInterrupt, true)
	case "CLV":
		s.setFlag(FlagOverflow, false)
	case "CLD":
		s.setFlag(FlagDecimal, false)
	case "SED":
		s.setFlag(FlagDecimal, true)
	case "TAX":
		s.X = s.A
		s.setZN(s.X)
	case "TXA":
		s.A = s.X
		s.setZN(s.A)
	case "TAY":
		s.Y = s.A
		s.setZN(s.Y)
	case "TYA":
		s.A = s.Y
		s.setZN(s.A)
	case "TSX":
		s.X = s.SP
		s.setZN(s.X)
	case "TXS":
		s.SP = s.X
	case "INX":
		s.X++
		s.setZN(s.X)
	case "DEX":
		s.X--
		s.setZN(s.X)
	case "INY":
		s.Y++
		s.setZN(s.Y)
	case "DEY":
		s.Y--
		s.setZN(s.Y)
	}
}

func (e *Engine) execPush(mnemonic string) {
	s := &e.state
	switch mnemonic {
	case "PHA":
		s.push(e.bus, s.A)
	case "PHP":
		s.push(e.bus, s.P|FlagS1|FlagB)
	}
}

func (e *Engine) execPull(mnemonic string) {
	s := &e.state
	switch mnemonic {
	case "PLA":
		s.A = s.pop(e.bus)
		s.setZN(s.A)
	case "PLP":
		oldI := s.flag(FlagInterrupt)
		p := s.pop(e.bus)
		p &^= FlagB
		p |= FlagS1
		s.P = p
		if s.flag(FlagInterrupt) != oldI {
			e.deferIRQ = true
		}
	}
}

func (e *Engine) execJSR(operand []uint8) (int, error) {
	s := &e.state
	// PC already advanced past the 3-byte instruction in step(); the
	// pushed return address is the last byte of this instruction, i.e.
	// current PC - 1.
	ret := s.PC - 1
	s.push(e.bus, uint8(ret>>8))
	s.push(e.bus, uint8(ret))
	s.PC = uint16(operand[0]) | uint16(operand[1])<<8
	return 6, nil
}

func (e *Engine) execRTS() (int, error) {
	s := &e.state
	lo := s.pop(e.bus)
	hi := s.pop(e.bus)
	s.PC = (uint16(lo) | uint16(hi)<<8) + 1
	return 6, nil
}

func (e *Engine) execRTI() (int, error) {
	s := &e.state
	oldI := s.flag(FlagInterrupt)
	p := s.pop(e.bus)
	p &^= FlagB
	p |= FlagS1
	s.P = p
	lo := s.pop(e.bus)
	hi := s.pop(e.bus)
	s.PC = uint16(lo) | uint16(hi)<<8
	if s.flag(FlagInterrupt) != oldI {
		e.deferIRQ = true
	}
	return 6, nil
}

func (e *Engine) execBRK() (int, error) {
	s := &e.state
	// BRK is a two-byte instruction even though the second byte (a
	// padding/signature byte, sometimes used as a software break code) is
	// never fetched for execution; step() only advanced PC past the
	// opcode, so the return address pushed here must skip one more byte.
	s.PC++
	s.push(e.bus, uint8(s.PC>>8))
	s.push(e.bus, uint8(s.PC))
	s.push(e.bus, s.P|FlagS1|FlagB)
	s.setFlag(FlagInterrupt, true)
	lo := e.bus.Read(IRQVector)
	hi := e.bus.Read(IRQVector + 1)
	s.PC = uint16(lo) | uint16(hi)<<8
	return 7, nil
}

func (e *Engine) execBranch(entry decode.Entry, operand []uint8) (int, error) {
	s := &e.state
	taken := false
	switch entry.Mnemonic {
	case "BPL":
		taken = !s.flag(FlagNegative)
	case "BMI":
		taken = s.flag(FlagNegative)
	case "BVC":
		taken = !s.flag(FlagOverflow)
	case "BVS":
		taken = s.flag(FlagOverflow)
	case "BCC":
		taken = !s.flag(FlagCarry)
	case "BCS":
		taken = s.flag(FlagCarry)
	case "BNE":
		taken = !s.flag(FlagZero)
	case "BEQ":
		taken = s.flag(FlagZero)
	}
	cycles := entry.Cycles
	if !taken {
		return cycles, nil
	}
	cycles++
	base := s.PC
	target := base + uint16(int8(operand[0]))
	if base&0xFF00 != target&0xFF00 {
		cycles++
	}
	s.PC = target
	return cycles, nil
}

func (e *Engine) execRead(mnemonic string, val uint8) {
	s := &e.state
	switch mnemonic {
	case "LDA":
		s.A = val
		s.setZN(s.A)
	case "LDX":
		s.X = val
		s.setZN(s.X)
	case "LDY":
		s.Y = val
		s.setZN(s.Y)
	case "ORA":
		s.A |= val
		s.setZN(s.A)
	case "AND":
		s.A &= val
		s.setZN(s.A)
	case "EOR":
		s.A ^= val
		s.setZN(s.A)
	case "BIT":
		s.setFlag(FlagZero, s.A&val == 0)
		s.setFlag(FlagOverflow, val&0x40 != 0)
		s.setFlag(FlagNegative, val&0x80 != 0)
	case "ADC":
		e.adc(val)
	case "SBC":
		e.adc(^val)
	case "CMP":
		e.compare(s.A, val)
	case "CPX":
		e.compare(s.X, val)
	case "CPY":
		e.compare(s.Y, val)
	}
}

func (e *Engine) execWriteValue(mnemonic string) uint8 {
	s := &e.state
	switch mnemonic {
	case "STA":
		return s.A
	case "STX":
		return s.X
	case "STY":
		return s.Y
	}
	return 0
}

func (e *Engine) execRMW(entry decode.Entry, operand []uint8) (int, error) {
	s := &e.state
	if entry.Mode == decode.Accumulator {
		s.A = e.rmwOp(entry.Mnemonic, s.A)
		return entry.Cycles, nil
	}
	r := e.resolve(entry.Mode, operand)
	// Real hardware performs a dummy write of the unmodified value before
	// the final write; the bus interface here has no side effect to
	// observe from that, so it is not replayed.
	result := e.rmwOp(entry.Mnemonic, r.value)
	e.bus.Write(r.addr, result)
	return entry.Cycles, nil
}

func (e *Engine) rmwOp(mnemonic string, val uint8) uint8 {
	s := &e.state
	switch mnemonic {
	case "ASL":
		s.setFlag(FlagCarry, val&0x80 != 0)
		val <<= 1
	case "LSR":
		s.setFlag(FlagCarry, val&0x01 != 0)
		val >>= 1
	case "ROL":
		carry := s.flag(FlagCarry)
		s.setFlag(FlagCarry, val&0x80 != 0)
		val <<= 1
		if carry {
			val |= 0x01
		}
	case "ROR":
		carry := s.flag(FlagCarry)
		s.setFlag(FlagCarry, val&0x01 != 0)
		val >>= 1
		if carry {
			val |= 0x80
		}
	case "INC":
		val++
	case "DEC":
		val--
	}
	s.setZN(val)
	return val
}

// adc implements ADC; SBC is dispatched here too with its operand already
// bitwise-inverted by the caller, the standard ones-complement trick that
// makes SBC's carry/overflow arithmetic identical to ADC's.
func (e *Engine) adc(val uint8) {
	s := &e.state
	if e.variant != RicohNMOS && s.flag(FlagDecimal) {
		e.adcDecimal(val)
		return
	}
	carry := uint16(0)
	if s.flag(FlagCarry) {
		carry = 1
	}
	sum := uint16(s.A) + uint16(val) + carry
	result := uint8(sum)
	s.setFlag(FlagOverflow, (s.A^result)&(val^result)&0x80 != 0)
	s.setFlag(FlagCarry, sum > 0xFF)
	s.A = result
	s.setZN(s.A)
}

// adcDecimal is the BCD path, reachable only on the plain NMOS variant per
// Config.Variant; the NES's RicohNMOS never takes it.
func (e *Engine) adcDecimal(val uint8) {
	s := &e.state
	carry := uint16(0)
	if s.flag(FlagCarry) {
		carry = 1
	}
	lo := uint16(s.A&0x0F) + uint16(val&0x0F) + carry
	hi := uint16(s.A>>4) + uint16(val>>4)
	if lo > 9 {
		lo += 6
		hi++
	}
	binSum := uint16(s.A) + uint16(val) + carry
	s.setFlag(FlagOverflow, (s.A^uint8(binSum))&(val^uint8(binSum))&0x80 != 0)
	if hi > 9 {
		hi += 6
	}
	s.setFlag(FlagCarry, hi > 15)
	s.A = uint8(lo&0x0F) | uint8((hi&0x0F)<<4)
	s.setZN(s.A)
}

func (e *Engine) compare(reg, val uint8) {
	s := &e.state
	result := reg - val
	s.setFlag(FlagCarry, reg >= val)
	s.setZN(result)
}

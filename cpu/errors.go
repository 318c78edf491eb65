package cpu

import "fmt"

// FatalDecodeError is returned when Tick dispatches an opcode this engine
// refuses to execute: every undocumented opcode, including the unofficial
// NOPs that otherwise behave harmlessly.
type FatalDecodeError struct {
	Opcode uint8
	PC     uint16
}

func (e *FatalDecodeError) Error() string {
	return fmt.Sprintf("cpu: illegal opcode %#02x at %#04x", e.Opcode, e.PC)
}

// BusError wraps an error a memory.Bus implementation chooses to surface.
// The narrow Bus interface itself has no error return, so this exists for
// engines composed with a Bank/Bus implementation that panics with a typed
// value on, e.g., an out-of-range mapper access recovered by the caller.
type BusError struct {
	Addr uint16
	Err  error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("cpu: bus error at %#04x: %v", e.Addr, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// LogError wraps a failure writing a trace.Sink line. The engine surfaces
// this rather than logging it itself — it has no logger of its own.
type LogError struct {
	Err error
}

func (e *LogError) Error() string {
	return fmt.Sprintf("cpu: trace sink write failed: %v", e.Err)
}

func (e *LogError) Unwrap() error { return e.Err }

// InvalidCPUState reports an engine invariant violated at runtime (e.g. a
// resolved addressing mode with no defined behavior).
type InvalidCPUState struct {
	Reason string
}

func (e *InvalidCPUState) Error() string {
	return "cpu: invalid state: " + e.Reason
}

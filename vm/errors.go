package vm

import "github.com/pkg/errors"

// sentinel panic values the Run loop's recover distinguishes from
// arbitrary host/foreign-procedure errors (grounded on
// db47h-ngaro/vm/core.go's panic/recover use for ErrOutOfRange / stack
// over/underflow).
var (
	errStackOverflow  = errors.New("operand stack overflow")
	errStackUnderflow = errors.New("operand stack underflow")
	errCallOverflow   = errors.New("call stack overflow")
	errCallUnderflow  = errors.New("call stack underflow")
)

// RuntimeError is returned by Run for any failure encountered while
// executing bytecode: it carries the program counter of the offending
// instruction so a host can map it back to source (spec.md §4.6,
// "failures carry the failing program counter").
type RuntimeError struct {
	PC    int
	Instr string
	cause error
}

func (e *RuntimeError) Error() string {
	if e.Instr == "" {
		return errors.Wrapf(e.cause, "runtime error at pc %d", e.PC).Error()
	}
	return errors.Wrapf(e.cause, "runtime error at %s", e.Instr).Error()
}

func (e *RuntimeError) Unwrap() error { return e.cause }

// runtimeErrorf builds a RuntimeError positioned at the Instance's
// current pc, for use both by opcode handlers and by accessor methods
// like Number/String that a foreign procedure calls mid-instruction.
func (i *Instance) runtimeErrorf(format string, args ...interface{}) error {
	return &RuntimeError{PC: i.pc, cause: errors.Errorf(format, args...)}
}

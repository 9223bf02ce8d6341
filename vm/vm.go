package vm

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/minivm/minivm/symtab"
)

// Default capacities, overridable via Option (spec.md §9's note that fixed
// Ngaro-style capacities should become configurable ceilings).
const (
	DefaultStackSize = 4096
	DefaultCallDepth = 1024
)

// globalSlot is the runtime counterpart of symtab.Global: a heap Value
// plus the use-before-set flag the compiler already checked statically,
// kept here too so code that skips the compiler's check gets a runtime
// error from OpGet instead of reading an unset slot.
type globalSlot struct {
	value       Value
	initialized bool
}

// callFrame is one entry on the indirection stack: everything CALL must
// restore on RETURN (spec.md §4.4).
type callFrame struct {
	nargs   int
	savedFP int
	savedPC int
}

// Foreign is a host-implemented procedure bound into the foreign table
// (spec.md §3, §6). It receives the callee's argument Values and the
// Instance to allocate results against, and returns the single result
// Value CALLF pushes back.
type Foreign func(i *Instance, args []Value) (Value, error)

// Instance is one running machine: its operand stack, call-frame stack,
// heap, globals, constant pool, and bound foreign procedures. Grounded on
// github.com/db47h/ngaro/vm's Instance (stack + input/output + memory
// image bundled behind one type that Run mutates in place).
type Instance struct {
	code []byte

	stack []Value
	sp    int

	calls []callFrame
	fp    int // index into stack: base of the current frame's locals
	pc    int

	globals     []globalSlot
	consts      []symtab.Const
	foreign     []Foreign
	procEntries []int

	heap *heap

	stdout io.Writer
	stdin  *lineReader

	halted   bool
	exitCode int
}

// Option configures an Instance at construction time. Grounded on the
// functional-options pattern github.com/db47h/ngaro/vm uses for its own
// Option type.
type Option func(*Instance)

// Output redirects VM `write` output; the default is os.Stdout.
func Output(w io.Writer) Option {
	return func(i *Instance) { i.stdout = w }
}

// Input redirects VM `read` input; the default is os.Stdin.
func Input(r io.Reader) Option {
	return func(i *Instance) { i.stdin = newLineReader(r) }
}

// StackSize overrides the operand stack capacity.
func StackSize(n int) Option {
	return func(i *Instance) { i.stack = make([]Value, n) }
}

// CallDepth overrides the indirection stack capacity.
func CallDepth(n int) Option {
	return func(i *Instance) { i.calls = make([]callFrame, 0, n) }
}

// GCThreshold overrides the initial collection threshold (default 2, per
// spec.md §4.5).
func GCThreshold(n int) Option {
	return func(i *Instance) { i.heap = newHeap(n) }
}

// New creates an Instance ready to run code compiled from tables: the
// constant pool is copied in, globals are sized to tables.Globals.Len(),
// and the foreign table is sized to tables.Foreign.Len() awaiting
// BindForeign calls.
func New(code []byte, tables *symtab.Tables, opts ...Option) *Instance {
	procSlots := tables.Procs.Slots()
	entries := make([]int, len(procSlots))
	for idx, p := range procSlots {
		entries[idx] = p.EntryPC
	}
	i := &Instance{
		code:        code,
		stack:       make([]Value, DefaultStackSize),
		calls:       make([]callFrame, 0, DefaultCallDepth),
		globals:     make([]globalSlot, tables.Globals.Len()),
		consts:      tables.Constants.Entries(),
		foreign:     make([]Foreign, tables.Foreign.Len()),
		procEntries: entries,
		heap:        newHeap(2),
		stdout:      os.Stdout,
		stdin:       newLineReader(os.Stdin),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// BindForeign installs the implementation for the foreign procedure at
// slot (as assigned by symtab.Foreign.Register during parsing). Binding
// every registered foreign name before Run is the host's responsibility
// (spec.md §6, "Binding ... happens before compilation of any call site
// that references it resolves").
func (i *Instance) BindForeign(slot int, fn Foreign) error {
	if slot < 0 || slot >= len(i.foreign) {
		return errors.Errorf("foreign slot %d out of range", slot)
	}
	i.foreign[slot] = fn
	return nil
}

// Teardown runs one final collection with no roots, releasing every
// remaining heap object and its native hooks (spec.md §5).
func (i *Instance) Teardown() {
	i.heap.teardown()
}

// push and pop are the operand stack primitives every opcode handler
// funnels through; both panic on exhaustion so the Run loop's recover
// can convert the condition into a positioned RuntimeError (grounded on
// db47h-ngaro/vm/core.go's Run(), which uses the same panic/recover
// shape for its own stack-bounds checks).
func (i *Instance) push(v Value) {
	if i.sp >= len(i.stack) {
		panic(errStackOverflow)
	}
	i.stack[i.sp] = v
	i.sp++
}

func (i *Instance) pop() Value {
	if i.sp == 0 {
		panic(errStackUnderflow)
	}
	i.sp--
	return i.stack[i.sp]
}

func (i *Instance) peek() Value {
	if i.sp == 0 {
		panic(errStackUnderflow)
	}
	return i.stack[i.sp-1]
}

// Push places v on top of the operand stack. It is the host-facing
// counterpart of push, returning a structured error instead of
// panicking (spec.md §7's "structured error return at API boundaries"
// rewrite contract) since a host calling this between Compile and Run
// is not inside the interpreter's own recover-protected loop.
func (i *Instance) Push(v Value) error {
	if i.sp >= len(i.stack) {
		return errStackOverflow
	}
	i.stack[i.sp] = v
	i.sp++
	return nil
}

// Pop removes and returns the top of the operand stack, for a host
// driving CallProc arguments or reading back a foreign call's result.
func (i *Instance) Pop() (Value, error) {
	if i.sp == 0 {
		return Null, errStackUnderflow
	}
	i.sp--
	return i.stack[i.sp], nil
}

// localIndex returns the operand stack index, relative to the current frame pointer, of
// local/parameter slot idx (negative for parameters, per the compiler's
// frame layout convention).
func (i *Instance) localIndex(idx int) int {
	return i.fp + idx
}

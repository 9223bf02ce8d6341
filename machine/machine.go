// Package machine is the embedding API for minivm: it wires the lexer,
// parser, compiler, and vm.Instance together behind the single sequence
// a host actually needs — register foreign procedures, compile source,
// run it, call into it — mirroring the way
// github.com/db47h/ngaro/vm.Instance bundles image loading and
// execution behind one type, but split across compile-then-run since
// minivm's source is text, not a pre-built memory image.
package machine

import (
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/minivm/minivm/compiler"
	"github.com/minivm/minivm/config"
	"github.com/minivm/minivm/lexer"
	"github.com/minivm/minivm/parser"
	"github.com/minivm/minivm/symtab"
	"github.com/minivm/minivm/vm"
)

// Value is the handle type every host-facing accessor deals in; it is
// vm.Value re-exported so callers never need to import the vm package
// directly for ordinary embedding use.
type Value = vm.Value

// Null is the sentinel "no value" handle (an unwritten array slot).
const Null = vm.Null

// Foreign is a host-implemented procedure bound into the running
// program under the name it was registered with.
type Foreign = vm.Foreign

// Option configures a Machine at construction time.
type Option func(*Machine)

// Output redirects `write` output; default os.Stdout.
func Output(w io.Writer) Option {
	return func(m *Machine) { m.vmOpts = append(m.vmOpts, vm.Output(w)) }
}

// Input redirects `read` input; default os.Stdin.
func Input(r io.Reader) Option {
	return func(m *Machine) { m.vmOpts = append(m.vmOpts, vm.Input(r)) }
}

// Machine is one compile-and-run unit: a fresh symbol table, an
// optional set of foreign bindings registered before Compile, and
// (after Compile) the vm.Instance executing the compiled program.
type Machine struct {
	cfg     *config.Config
	tables  *symtab.Tables
	vmOpts  []vm.Option
	foreign map[string]Foreign

	instance *vm.Instance
	compiled bool
}

// New creates a Machine ready for RegisterForeign calls followed by one
// Compile call. cfg may be nil, in which case config.DefaultConfig() is
// used.
func New(cfg *config.Config, opts ...Option) *Machine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	m := &Machine{
		cfg:     cfg,
		tables:  symtab.NewTables(cfg.Limits.MaxGlobals, cfg.Limits.MaxProcs, cfg.Limits.MaxForeign),
		foreign: make(map[string]Foreign),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterForeign binds name to fn as a foreign procedure callable from
// source as `name(...)`. It must be called before Compile: §6 fixes
// foreign bindings before any call site that references them resolves.
func (m *Machine) RegisterForeign(name string, fn Foreign) error {
	if m.compiled {
		return errors.New("foreign procedures must be registered before Compile")
	}
	if _, err := m.tables.Foreign.Register(name); err != nil {
		return err
	}
	m.foreign[name] = fn
	return nil
}

// Compile lexes, parses, and compiles src into bytecode and constructs
// the underlying vm.Instance, binding every foreign procedure
// registered so far.
func (m *Machine) Compile(src io.Reader, name string) error {
	if m.compiled {
		return errors.New("machine already compiled")
	}
	lex := lexer.New(src, name)
	p, err := parser.New(lex, m.tables)
	if err != nil {
		return errors.Wrap(err, "initializing parser")
	}
	root, err := p.Parse()
	if err != nil {
		return errors.Wrap(err, "parsing")
	}
	code, err := compiler.Compile(root, m.tables)
	if err != nil {
		return errors.Wrap(err, "compiling")
	}

	opts := append([]vm.Option{
		vm.StackSize(m.cfg.VM.StackSize),
		vm.CallDepth(m.cfg.VM.CallDepth),
		vm.GCThreshold(m.cfg.GC.InitialThreshold),
	}, m.vmOpts...)
	m.instance = vm.New(code, m.tables, opts...)

	for name, fn := range m.foreign {
		slot, _ := m.tables.Foreign.Lookup(name)
		if err := m.instance.BindForeign(slot, fn); err != nil {
			return errors.Wrapf(err, "binding foreign procedure %q", name)
		}
	}
	m.compiled = true
	return nil
}

// CompileString is a convenience wrapper around Compile for in-memory
// source.
func (m *Machine) CompileString(src, name string) error {
	return m.Compile(strings.NewReader(src), name)
}

// Run executes the compiled program's top-level statements from the
// start, in source order, until OpHalt.
func (m *Machine) Run() error {
	if !m.compiled {
		return errors.New("machine has not been compiled")
	}
	return m.instance.Run()
}

// CallProc invokes the user procedure name directly, bypassing the
// top-level program flow — the mechanism a host uses to drive minivm as
// a library of callable procedures rather than a single script.
func (m *Machine) CallProc(name string, args ...Value) (Value, error) {
	if !m.compiled {
		return Null, errors.New("machine has not been compiled")
	}
	id, err := m.tables.Procs.GetOrCreate(name)
	if err != nil {
		return Null, err
	}
	entry := m.tables.Procs.EntryPC(id)
	if entry < 0 {
		return Null, errors.Errorf("procedure %q was never defined", name)
	}
	return m.instance.CallProc(entry, args)
}

// Push and Pop drive the operand stack directly, for a host that wants
// finer control than CallProc's "push args, get one result" shape — for
// instance staging arguments incrementally before a foreign-procedure
// style call of its own.
func (m *Machine) Push(v Value) error {
	if !m.compiled {
		return errors.New("machine has not been compiled")
	}
	return m.instance.Push(v)
}

func (m *Machine) Pop() (Value, error) {
	if !m.compiled {
		return Null, errors.New("machine has not been compiled")
	}
	return m.instance.Pop()
}

// NewNumber, NewString, NewArray allocate host-visible values against
// the running Instance's heap, for use as CallProc arguments.
func (m *Machine) NewNumber(v float64) Value    { return m.instance.NewNumber(v) }
func (m *Machine) NewString(s string) Value     { return m.instance.NewString(s) }
func (m *Machine) NewArray(n int) Value         { return m.instance.NewArray(n) }
func (m *Machine) NewNative(h *vm.NativeHooks) Value {
	return m.instance.NewNative(h)
}

// Number, String, ArrayLen, Native inspect a Value produced by the
// running Instance.
func (m *Machine) Number(v Value) (float64, error)    { return m.instance.Number(v) }
func (m *Machine) String(v Value) (string, error)     { return m.instance.String(v) }
func (m *Machine) ArrayLen(v Value) (int, error)      { return m.instance.ArrayLen(v) }
func (m *Machine) Native(v Value) (interface{}, error) { return m.instance.Native(v) }

// Teardown releases every heap object the running Instance still holds.
func (m *Machine) Teardown() {
	if m.instance != nil {
		m.instance.Teardown()
	}
}

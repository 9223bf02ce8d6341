// Package symtab holds the tables shared between the parser and the
// compiler: the deduplicated constant pool, the global variable table,
// the user procedure table, and the foreign procedure table (§3).
//
// The parser populates these as it scans; the compiler reads and
// refines them (entry pcs, initialization flags) as it lowers the AST.
// Keeping them in their own package (rather than embedded in the parser
// or the vm, as the original source does) follows spec.md §9's note to
// encapsulate singletons into explicit, passable aggregates.
package symtab

import (
	"math"

	"github.com/pkg/errors"
)

// MaxMembers bounds a named-member array's member list (§3).
const MaxMembers = 32

// ConstKind tags a ConstPool entry.
type ConstKind byte

const (
	ConstNumber ConstKind = iota
	ConstString
)

// Const is one deduplicated constant pool entry.
type Const struct {
	Kind ConstKind
	Num  float64
	Str  string
}

// ConstPool is the deduplicated table of literal numbers and strings
// referenced by index from bytecode (§3).
type ConstPool struct {
	entries []Const
	nums    map[uint64]int // keyed by math.Float64bits
	strs    map[string]int
}

// NewConstPool creates an empty constant pool.
func NewConstPool() *ConstPool {
	return &ConstPool{
		nums: make(map[uint64]int),
		strs: make(map[string]int),
	}
}

// Number returns the index of v, registering a new entry if v has not
// been seen before (bitwise double equality dedup, §3).
func (c *ConstPool) Number(v float64) int {
	bits := math.Float64bits(v)
	if idx, ok := c.nums[bits]; ok {
		return idx
	}
	idx := len(c.entries)
	c.entries = append(c.entries, Const{Kind: ConstNumber, Num: v})
	c.nums[bits] = idx
	return idx
}

// String returns the index of s, registering a new entry if s has not
// been seen before (byte equality dedup, §3).
func (c *ConstPool) String(s string) int {
	if idx, ok := c.strs[s]; ok {
		return idx
	}
	idx := len(c.entries)
	c.entries = append(c.entries, Const{Kind: ConstString, Str: s})
	c.strs[s] = idx
	return idx
}

// Entries returns the pool contents in index order.
func (c *ConstPool) Entries() []Const { return c.entries }

// Global is one global variable slot (§3).
type Global struct {
	Name        string
	Initialized bool
	Members     map[string]int // nil until populated by `name = { a, b, ... }`
	MemberOrder []string
}

// Globals is the name-indexed global variable table.
type Globals struct {
	byName map[string]int
	slots  []Global
	max    int // 0 = unlimited
}

// NewGlobals creates an empty global table. max bounds the number of
// distinct globals (0 disables the bound; see SPEC_FULL.md's note on
// growable tables with configurable ceilings).
func NewGlobals(max int) *Globals {
	return &Globals{byName: make(map[string]int), max: max}
}

// Lookup returns the index of name, registering a fresh uninitialized
// slot if this is the first reference to it.
func (g *Globals) Lookup(name string) (int, error) {
	if idx, ok := g.byName[name]; ok {
		return idx, nil
	}
	if g.max > 0 && len(g.slots) >= g.max {
		return 0, errors.Errorf("too many global variables (limit %d)", g.max)
	}
	idx := len(g.slots)
	g.slots = append(g.slots, Global{Name: name})
	g.byName[name] = idx
	return idx, nil
}

// Slot returns a pointer to the global at idx for mutation by the compiler.
func (g *Globals) Slot(idx int) *Global { return &g.slots[idx] }

// Len returns the number of registered globals.
func (g *Globals) Len() int { return len(g.slots) }

// Slots returns the table contents in index order.
func (g *Globals) Slots() []Global { return g.slots }

// SetMembers installs the named-member map for the global at idx from an
// ordered identifier list (§4.3's `{ m1, m2, ... }` assignment lowering).
func (g *Globals) SetMembers(idx int, names []string) error {
	if len(names) > MaxMembers {
		return errors.Errorf("named-member array %q: too many members (max %d)", g.slots[idx].Name, MaxMembers)
	}
	members := make(map[string]int, len(names))
	for i, n := range names {
		members[n] = i
	}
	g.slots[idx].Members = members
	g.slots[idx].MemberOrder = names
	return nil
}

// Proc is one user procedure table entry (§3). EntryPC is -1 until the
// compiler emits the procedure's body.
type Proc struct {
	Name    string
	EntryPC int
}

// Procs is the user procedure table, addressed by non-negative ids.
type Procs struct {
	byName map[string]int
	slots  []Proc
	max    int
}

// NewProcs creates an empty procedure table.
func NewProcs(max int) *Procs {
	return &Procs{byName: make(map[string]int), max: max}
}

// GetOrCreate returns the id for name, allocating a pending entry
// (EntryPC == -1) on first reference so forward and recursive calls can
// resolve before the `proc` body itself has been compiled (§4.3's late
// binding contract).
func (p *Procs) GetOrCreate(name string) (int, error) {
	if id, ok := p.byName[name]; ok {
		return id, nil
	}
	if p.max > 0 && len(p.slots) >= p.max {
		return 0, errors.Errorf("too many procedures (limit %d)", p.max)
	}
	id := len(p.slots)
	p.slots = append(p.slots, Proc{Name: name, EntryPC: -1})
	p.byName[name] = id
	return id, nil
}

// SetEntryPC records the compiled entry point for procedure id.
func (p *Procs) SetEntryPC(id, pc int) { p.slots[id].EntryPC = pc }

// EntryPC returns the compiled entry point for procedure id.
func (p *Procs) EntryPC(id int) int { return p.slots[id].EntryPC }

// Len returns the number of registered procedures.
func (p *Procs) Len() int { return len(p.slots) }

// Slots returns the table contents in index order.
func (p *Procs) Slots() []Proc { return p.slots }

// Foreign is the foreign (host-registered) procedure table, addressed by
// non-negative slot. Compiled call sites reference foreign procedures via
// the bitwise-complement convention id = -(slot+1) (§3).
type Foreign struct {
	byName map[string]int
	names  []string
	max    int
}

// NewForeign creates an empty foreign procedure table.
func NewForeign(max int) *Foreign {
	return &Foreign{byName: make(map[string]int), max: max}
}

// Register binds name to the next free foreign slot. Re-registering the
// same name is an error: foreign bindings are fixed before compilation
// starts (§6).
func (f *Foreign) Register(name string) (int, error) {
	if _, ok := f.byName[name]; ok {
		return 0, errors.Errorf("foreign procedure %q already registered", name)
	}
	if f.max > 0 && len(f.names) >= f.max {
		return 0, errors.Errorf("too many foreign procedures (limit %d)", f.max)
	}
	slot := len(f.names)
	f.names = append(f.names, name)
	f.byName[name] = slot
	return slot, nil
}

// Lookup returns the slot registered for name, if any.
func (f *Foreign) Lookup(name string) (int, bool) {
	slot, ok := f.byName[name]
	return slot, ok
}

// Len returns the number of registered foreign procedures.
func (f *Foreign) Len() int { return len(f.names) }

// Names returns the foreign names in slot order.
func (f *Foreign) Names() []string { return f.names }

// Tables bundles the three symbol tables and the constant pool that the
// parser and compiler share for one compilation unit.
type Tables struct {
	Constants *ConstPool
	Globals   *Globals
	Procs     *Procs
	Foreign   *Foreign
}

// NewTables creates an empty table set. Limits of 0 mean unlimited.
func NewTables(maxGlobals, maxProcs, maxForeign int) *Tables {
	return &Tables{
		Constants: NewConstPool(),
		Globals:   NewGlobals(maxGlobals),
		Procs:     NewProcs(maxProcs),
		Foreign:   NewForeign(maxForeign),
	}
}

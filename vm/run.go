package vm

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/minivm/minivm/symtab"
)

// haltPC marks the synthetic caller of the outermost frame: RETURN from
// this frame stops the loop instead of resuming bytecode (used by both
// Run, whose program ends in OpHalt before this ever triggers, and
// CallProc, whose synthetic top frame has no bytecode to return into).
const haltPC = -1

func (i *Instance) fetchImm32(at int) int32 {
	return int32(binary.LittleEndian.Uint32(i.code[at : at+4]))
}

// Run executes bytecode starting at pc 0 until OpHalt, returning the
// first runtime error encountered. Grounded on
// github.com/db47h/ngaro/vm/core.go's Run(): a flat dispatch switch
// inside a defer/recover that turns internal panics (stack bounds,
// invalid reference) into a positioned, wrapped error instead of an
// uncontrolled crash.
func (i *Instance) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = i.recoverToError(r)
		}
	}()

	i.pc = 0
	i.halted = false
	for !i.halted {
		i.step()
	}
	return nil
}

// CallProc invokes the user procedure whose body starts at entryPC as a
// host would: args are pushed, a synthetic top-level frame is entered at
// that entry point, and execution runs until that frame returns. It is
// the mechanism machine.CallProc is built on.
func (i *Instance) CallProc(entryPC int, args []Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = i.recoverToError(r)
		}
	}()

	for _, a := range args {
		i.push(a)
	}
	i.calls = append(i.calls, callFrame{nargs: len(args), savedFP: i.fp, savedPC: haltPC})
	i.fp = i.sp
	i.pc = entryPC
	i.halted = false

	for !i.halted {
		if i.pc == haltPC {
			break
		}
		i.step()
	}
	if i.sp > 0 {
		return i.stack[i.sp-1], nil
	}
	return Null, nil
}

// recoverToError converts a panic recovered from step into a
// RuntimeError positioned at the failing instruction, annotated with
// its disassembly (vm/disasm.go) so the diagnostic names the opcode
// that faulted, not just its pc.
func (i *Instance) recoverToError(r interface{}) error {
	if rerr, ok := r.(*RuntimeError); ok {
		if rerr.Instr == "" {
			_, rerr.Instr = i.Disassemble(rerr.PC)
		}
		return rerr
	}
	var cause error
	if err, ok := r.(error); ok {
		cause = err
	} else {
		cause = errors.Errorf("%v", r)
	}
	_, instr := i.Disassemble(i.pc)
	return &RuntimeError{PC: i.pc, Instr: instr, cause: cause}
}

// step decodes and executes exactly one instruction. It panics (rather
// than returning an error) on internal faults so the recover in Run and
// CallProc stays the only place that translates faults into diagnostics —
// the same shape db47h-ngaro/vm/core.go uses for its fetch-execute loop.
func (i *Instance) step() {
	// Many handlers advance i.pc before the operation that can fault, so
	// a fault is pinned back to the pc of the instruction that raised it.
	start := i.pc
	defer func() {
		if r := recover(); r != nil {
			i.pc = start
			if rerr, ok := r.(*RuntimeError); ok {
				rerr.PC = start
			}
			panic(r)
		}
	}()

	if i.pc < 0 || i.pc >= len(i.code) {
		panic(errors.Errorf("program counter %d out of range", i.pc))
	}
	op := Op(i.code[i.pc])
	at := i.pc + 1

	switch op {
	case OpHalt:
		i.halted = true
		return

	case OpPush:
		idx := int(i.fetchImm32(at))
		i.pc = at + 4
		i.push(i.pushConst(idx))
		return

	case OpPop:
		i.pop()
		i.pc = at
		return

	case OpDup:
		i.push(i.peek())
		i.pc = at
		return

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpOr, OpAnd,
		OpLt, OpLte, OpGt, OpGte, OpEqu, OpNequ:
		i.execBinary(op)
		i.pc = at
		return

	case OpPrint:
		v := i.pop()
		fmt.Fprintln(i.stdout, i.displayString(v))
		i.pc = at
		return

	case OpSet:
		idx := int(i.fetchImm32(at))
		i.pc = at + 4
		v := i.pop()
		i.globals[idx] = globalSlot{value: v, initialized: true}
		return

	case OpGet:
		idx := int(i.fetchImm32(at))
		i.pc = at + 4
		g := i.globals[idx]
		if !g.initialized {
			panic(errors.Errorf("global %d read before set", idx))
		}
		i.push(g.value)
		return

	case OpGetLocal:
		idx := int(i.fetchImm32(at))
		i.pc = at + 4
		i.push(i.stack[i.localIndex(idx)])
		return

	case OpSetLocal:
		idx := int(i.fetchImm32(at))
		i.pc = at + 4
		i.stack[i.localIndex(idx)] = i.pop()
		return

	case OpRead:
		i.pc = at
		line, ok := i.stdin.readLine()
		if !ok {
			i.push(i.NewString(""))
			return
		}
		i.push(i.NewString(line))
		return

	case OpGoto:
		i.pc = int(i.fetchImm32(at))
		return

	case OpGotoZ:
		target := int(i.fetchImm32(at))
		v := i.pop()
		if i.isZero(v) {
			i.pc = target
		} else {
			i.pc = at + 4
		}
		return

	case OpGotoNZ:
		target := int(i.fetchImm32(at))
		v := i.pop()
		if !i.isZero(v) {
			i.pc = target
		} else {
			i.pc = at + 4
		}
		return

	case OpCall:
		nargs := int(i.fetchImm32(at))
		procID := int(i.fetchImm32(at + 4))
		i.pc = at + 8
		i.doCall(nargs, procID)
		return

	case OpCallF:
		nargs := int(i.fetchImm32(at))
		slot := int(i.fetchImm32(at + 4))
		i.pc = at + 8
		i.doCallForeign(nargs, slot)
		return

	case OpReturn:
		i.doReturn(false)
		return

	case OpReturnValue:
		i.doReturn(true)
		return

	case OpMakeArray:
		i.pc = at
		lenV := i.pop()
		n, err := i.Number(lenV)
		if err != nil {
			panic(err)
		}
		i.push(i.NewArray(int(n)))
		return

	case OpSetIndex:
		i.pc = at
		val := i.pop()
		idxV := i.pop()
		arrV := i.pop()
		i.setIndex(arrV, idxV, val)
		i.push(val)
		return

	case OpGetIndex:
		i.pc = at
		idxV := i.pop()
		arrV := i.pop()
		i.push(i.getIndex(arrV, idxV))
		return

	default:
		panic(errors.Errorf("illegal opcode 0x%02x", byte(op)))
	}
}

func (i *Instance) pushConst(idx int) Value {
	c := i.consts[idx]
	if c.Kind == symtab.ConstString {
		return i.NewString(c.Str)
	}
	return i.NewNumber(c.Num)
}

func (i *Instance) procEntry(procID int) int {
	if procID < 0 || procID >= len(i.procEntries) {
		panic(errors.Errorf("call to unknown procedure %d", procID))
	}
	entry := i.procEntries[procID]
	if entry < 0 {
		panic(errors.Errorf("call to procedure %d with no compiled body", procID))
	}
	return entry
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// doCall pushes a new frame and jumps to the user procedure's entry
// point. The nargs arguments are already the top nargs values of the
// operand stack (spec.md §8 #1, stack balance invariant).
func (i *Instance) doCall(nargs, procID int) {
	if procID < 0 {
		panic(errors.Errorf("call to unresolved procedure"))
	}
	entryPC := i.procEntry(procID)
	if len(i.calls) >= cap(i.calls) {
		panic(errCallOverflow)
	}
	i.calls = append(i.calls, callFrame{nargs: nargs, savedFP: i.fp, savedPC: i.pc})
	i.fp = i.sp
	i.pc = entryPC
}

func (i *Instance) doCallForeign(nargs, slot int) {
	if slot < 0 || slot >= len(i.foreign) {
		panic(errors.Errorf("foreign slot %d out of range", slot))
	}
	fn := i.foreign[slot]
	if fn == nil {
		panic(errors.Errorf("foreign procedure at slot %d not bound", slot))
	}
	if i.sp < nargs {
		panic(errStackUnderflow)
	}
	args := make([]Value, nargs)
	copy(args, i.stack[i.sp-nargs:i.sp])
	i.sp -= nargs
	result, err := fn(i, args)
	if err != nil {
		panic(err)
	}
	i.push(result)
}

// doReturn pops the current frame, restoring fp/pc and dropping the
// frame's locals and arguments from the operand stack. When withValue is
// set, the return expression's value (already on top of the stack,
// above the locals) survives the truncation and is the only thing left
// behind for the caller.
func (i *Instance) doReturn(withValue bool) {
	var result Value
	if withValue {
		result = i.pop()
	}
	if len(i.calls) == 0 {
		panic(errCallUnderflow)
	}
	frame := i.calls[len(i.calls)-1]
	i.calls = i.calls[:len(i.calls)-1]

	i.sp = i.fp - frame.nargs
	i.fp = frame.savedFP
	i.pc = frame.savedPC

	// Every call is an expression and must leave exactly one result
	// behind, so a bare `return` with no value yields 0 (spec.md §4.3).
	if !withValue {
		result = i.NewNumber(0)
	}
	i.push(result)
	if i.pc == haltPC {
		i.halted = true
	}
}

func (i *Instance) execBinary(op Op) {
	b := i.pop()
	a := i.pop()
	switch op {
	case OpEqu:
		i.push(i.boolValue(i.valuesEqual(a, b)))
		return
	case OpNequ:
		i.push(i.boolValue(!i.valuesEqual(a, b)))
		return
	}

	an, aerr := i.Number(a)
	bn, berr := i.Number(b)
	if aerr != nil || berr != nil {
		panic(i.runtimeErrorf("operand is not a number"))
	}
	switch op {
	case OpAdd:
		i.push(i.NewNumber(an + bn))
	case OpSub:
		i.push(i.NewNumber(an - bn))
	case OpMul:
		i.push(i.NewNumber(an * bn))
	case OpDiv:
		if bn == 0 {
			panic(i.runtimeErrorf("division by zero"))
		}
		i.push(i.NewNumber(an / bn))
	case OpMod:
		if bn == 0 {
			panic(i.runtimeErrorf("division by zero"))
		}
		i.push(i.NewNumber(float64(int64(an) % int64(bn))))
	case OpOr:
		i.push(i.NewNumber(float64(int64(an) | int64(bn))))
	case OpAnd:
		i.push(i.NewNumber(float64(int64(an) & int64(bn))))
	case OpLt:
		i.push(i.boolValue(an < bn))
	case OpLte:
		i.push(i.boolValue(an <= bn))
	case OpGt:
		i.push(i.boolValue(an > bn))
	case OpGte:
		i.push(i.boolValue(an >= bn))
	}
}

func (i *Instance) boolValue(b bool) Value {
	if b {
		return i.NewNumber(1)
	}
	return i.NewNumber(0)
}

func (i *Instance) isZero(v Value) bool {
	n, err := i.Number(v)
	if err != nil {
		return false
	}
	return n == 0
}

func (i *Instance) valuesEqual(a, b Value) bool {
	oa, err := i.heap.get(a)
	if err != nil {
		return false
	}
	ob, err := i.heap.get(b)
	if err != nil {
		return false
	}
	if oa.kind != ob.kind {
		return false
	}
	switch oa.kind {
	case kindNumber:
		return oa.num == ob.num
	case kindString:
		return string(oa.str) == string(ob.str)
	default:
		return a == b
	}
}

func (i *Instance) setIndex(arrV, idxV, val Value) {
	obj, err := i.heap.get(arrV)
	if err != nil || obj.kind != kindArray {
		panic(i.runtimeErrorf("index target is not an array"))
	}
	idx, err := i.Number(idxV)
	if err != nil {
		panic(err)
	}
	n := int(idx)
	if n < 0 || n >= len(obj.arr) {
		panic(i.runtimeErrorf("array index %d out of bounds (length %d)", n, len(obj.arr)))
	}
	obj.arr[n] = val
}

func (i *Instance) getIndex(arrV, idxV Value) Value {
	obj, err := i.heap.get(arrV)
	if err != nil || obj.kind != kindArray {
		panic(i.runtimeErrorf("index target is not an array"))
	}
	idx, err := i.Number(idxV)
	if err != nil {
		panic(err)
	}
	n := int(idx)
	if n < 0 || n >= len(obj.arr) {
		panic(i.runtimeErrorf("array index %d out of bounds (length %d)", n, len(obj.arr)))
	}
	if obj.arr[n] == Null {
		return i.NewNumber(0)
	}
	return obj.arr[n]
}

func (i *Instance) displayString(v Value) string {
	obj, err := i.heap.get(v)
	if err != nil {
		return ""
	}
	switch obj.kind {
	case kindString:
		return string(obj.str)
	case kindNumber:
		return formatNumber(obj.num)
	default:
		return fmt.Sprintf("<%s>", obj.kind.String())
	}
}

func (k kind) String() string {
	switch k {
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	case kindArray:
		return "array"
	case kindNative:
		return "native"
	default:
		return "?"
	}
}

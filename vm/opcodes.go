// Package vm implements the minivm bytecode interpreter: the operand
// stack, the call-frame indirection stack, the tagged value/object heap,
// and the mark-sweep garbage collector that owns every runtime value
// (spec.md §4.4, §4.5).
//
// The overall shape — a byte-oriented instruction set dispatched from a
// single Run loop, with a parallel mnemonic table for diagnostics — is
// grounded on github.com/db47h/ngaro/vm's opcodes.go/core.go; the value
// model itself (tagged heap cells behind small integer handles, reclaimed
// by a tracing collector) has no teacher counterpart since Ngaro operates
// directly on untyped memory cells, so it follows spec.md §3 and §4.5
// directly.
package vm

// Op is a single-byte bytecode opcode (spec.md §4.4).
type Op byte

// Instruction set. Immediates are 4-byte little-endian signed integers,
// fixing the host-byte-order defect spec.md §9 calls out in the
// original implementation.
const (
	OpPush        Op = iota // imm32: constant pool index
	OpPop                   // -
	OpDup                   // -
	OpAdd                   // -
	OpSub                   // -
	OpMul                   // -
	OpDiv                   // -
	OpMod                   // -
	OpOr                    // -
	OpAnd                   // -
	OpLt                    // -
	OpLte                   // -
	OpGt                    // -
	OpGte                   // -
	OpEqu                   // -
	OpNequ                  // -
	OpPrint                 // -
	OpSet                   // imm32: global index
	OpGet                   // imm32: global index
	OpRead                  // -
	OpGoto                  // imm32: absolute pc
	OpGotoZ                 // imm32: absolute pc
	OpGotoNZ                // imm32: absolute pc
	OpCall                  // imm32 nargs, imm32 procId
	OpReturn                // -
	OpReturnValue           // -
	OpCallF                 // imm32 nargs, imm32 foreign slot
	OpGetLocal              // imm32: frame-relative index (may be negative)
	OpSetLocal              // imm32: frame-relative index (may be negative)
	OpMakeArray             // -
	OpSetIndex              // -
	OpGetIndex              // -
	OpHalt                  // -
)

var mnemonics = [...]string{
	OpPush:        "push",
	OpPop:         "pop",
	OpDup:         "dup",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpDiv:         "div",
	OpMod:         "mod",
	OpOr:          "or",
	OpAnd:         "and",
	OpLt:          "lt",
	OpLte:         "lte",
	OpGt:          "gt",
	OpGte:         "gte",
	OpEqu:         "equ",
	OpNequ:        "nequ",
	OpPrint:       "print",
	OpSet:         "set",
	OpGet:         "get",
	OpRead:        "read",
	OpGoto:        "goto",
	OpGotoZ:       "gotoz",
	OpGotoNZ:      "gotonz",
	OpCall:        "call",
	OpReturn:      "return",
	OpReturnValue: "return_value",
	OpCallF:       "callf",
	OpGetLocal:    "getlocal",
	OpSetLocal:    "setlocal",
	OpMakeArray:   "make_array",
	OpSetIndex:    "setindex",
	OpGetIndex:    "getindex",
	OpHalt:        "halt",
}

func (op Op) String() string {
	if int(op) < len(mnemonics) && mnemonics[op] != "" {
		return mnemonics[op]
	}
	return "???"
}

// numImm reports how many 4-byte little-endian immediates follow op.
func (op Op) numImm() int {
	switch op {
	case OpPush, OpSet, OpGet, OpGoto, OpGotoZ, OpGotoNZ, OpGetLocal, OpSetLocal:
		return 1
	case OpCall, OpCallF:
		return 2
	default:
		return 0
	}
}

package vm

import "fmt"

// Disassemble renders the single instruction at pc as text and returns
// the pc of the instruction that follows it. Used only to annotate
// RuntimeError diagnostics with the failing instruction, not as a
// standalone tool — mirrors the shape of
// github.com/db47h/ngaro/vm.Image.Disassemble, adapted to this VM's
// two-immediate call opcodes.
func (i *Instance) Disassemble(pc int) (next int, text string) {
	if pc < 0 || pc >= len(i.code) {
		return pc, "<out of range>"
	}
	op := Op(i.code[pc])
	next = pc + 1
	switch op.numImm() {
	case 1:
		imm := i.fetchImm32(next)
		next += 4
		text = fmt.Sprintf("%04d  %-12s %d", pc, op, imm)
	case 2:
		a := i.fetchImm32(next)
		next += 4
		b := i.fetchImm32(next)
		next += 4
		text = fmt.Sprintf("%04d  %-12s %d, %d", pc, op, a, b)
	default:
		text = fmt.Sprintf("%04d  %s", pc, op)
	}
	return next, text
}

// Package compiler lowers an ast.Node program into the flat bytecode
// vm.Instance executes (spec.md §4.4). It performs a single post-order
// walk of the tree the parser produced, in the same textual order the
// source appeared in, which is what lets it double as the pass that
// enforces "a global must be assigned before it is read" (§4.3) without
// a separate analysis pass.
//
// Grounded on github.com/db47h/ngaro/asm: a linear emit-as-you-walk
// compiler with a backpatch table for forward jumps, rather than
// building an intermediate instruction list and resolving addresses in
// a second pass.
package compiler

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minivm/minivm/ast"
	"github.com/minivm/minivm/symtab"
	"github.com/minivm/minivm/token"
	"github.com/minivm/minivm/vm"
)

type compiler struct {
	tables *symtab.Tables
	code   []byte
}

// Compile lowers root (as produced by parser.Parse) into bytecode
// addressed against tables, which must be the same Tables instance the
// parser populated.
func Compile(root *ast.Node, tables *symtab.Tables) ([]byte, error) {
	c := &compiler{tables: tables}
	if err := c.compileSeq(root); err != nil {
		return nil, err
	}
	c.emit(vm.OpHalt)
	return c.code, nil
}

func (c *compiler) pc() int { return len(c.code) }

func (c *compiler) emit(op vm.Op) {
	c.code = append(c.code, byte(op))
}

func (c *compiler) emitImm(op vm.Op, imm int) {
	c.code = append(c.code, byte(op), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(c.code[len(c.code)-4:], uint32(int32(imm)))
}

func (c *compiler) emitImm2(op vm.Op, a, b int) {
	c.code = append(c.code, byte(op), 0, 0, 0, 0, 0, 0, 0, 0)
	base := len(c.code) - 8
	binary.LittleEndian.PutUint32(c.code[base:], uint32(int32(a)))
	binary.LittleEndian.PutUint32(c.code[base+4:], uint32(int32(b)))
}

// emitPlaceholder emits op with a zero immediate and returns the byte
// offset of that immediate, for a later patch once the jump target is
// known.
func (c *compiler) emitPlaceholder(op vm.Op) int {
	c.emitImm(op, 0)
	return len(c.code) - 4
}

func (c *compiler) patch(at int, target int) {
	binary.LittleEndian.PutUint32(c.code[at:at+4], uint32(int32(target)))
}

func (c *compiler) compileSeq(n *ast.Node) error {
	for stmt := n; stmt != nil; stmt = stmt.Next {
		if err := c.compileStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

// compileStmt compiles n for its effect only. Forms that evaluate to a
// value (everything compileExpr handles) are followed by a POP so that
// statement position never leaves a residue on the operand stack
// (spec.md §8 #1, stack balance).
func (c *compiler) compileStmt(n *ast.Node) error {
	switch n.Kind {
	case ast.ProcDecl:
		return c.compileProc(n)
	case ast.IfExpr:
		return c.compileIf(n)
	case ast.WhileExpr:
		return c.compileWhile(n)
	case ast.ReturnExpr:
		return c.compileReturn(n)
	case ast.ReadExpr:
		return c.compileRead(n)
	case ast.WriteExpr:
		return c.compileWrite(n)
	case ast.LocalDecl:
		return nil // slot already zero-initialized by the proc prologue
	default:
		if err := c.compileExpr(n); err != nil {
			return err
		}
		c.emit(vm.OpPop)
		return nil
	}
}

// compileExpr compiles n so that it leaves exactly one value on the
// operand stack.
func (c *compiler) compileExpr(n *ast.Node) error {
	switch n.Kind {
	case ast.NumberLit, ast.StringLit:
		c.emitImm(vm.OpPush, n.ResolvedIndex)
		return nil

	case ast.Ident:
		g := c.tables.Globals.Slot(n.ResolvedIndex)
		if !g.Initialized {
			return errors.Errorf("%s: %q used before it is assigned", n.Pos, n.Name)
		}
		c.emitImm(vm.OpGet, n.ResolvedIndex)
		return nil

	case ast.LocalRef, ast.LocalDecl:
		c.emitImm(vm.OpGetLocal, n.ResolvedIndex)
		return nil

	case ast.Index:
		if err := c.compileExpr(n.Base); err != nil {
			return err
		}
		if err := c.compileExpr(n.IndexExpr); err != nil {
			return err
		}
		c.emit(vm.OpGetIndex)
		return nil

	case ast.Member:
		k, err := c.memberIndex(n)
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Base); err != nil {
			return err
		}
		c.emitImm(vm.OpPush, c.tables.Constants.Number(float64(k)))
		c.emit(vm.OpGetIndex)
		return nil

	case ast.ArrayLit:
		if err := c.compileExpr(n.Length); err != nil {
			return err
		}
		c.emit(vm.OpMakeArray)
		return nil

	case ast.Call:
		for _, arg := range n.Args {
			if err := c.compileExpr(arg); err != nil {
				return err
			}
		}
		if n.ResolvedIndex < 0 {
			c.emitImm2(vm.OpCallF, len(n.Args), ^n.ResolvedIndex)
		} else {
			c.emitImm2(vm.OpCall, len(n.Args), n.ResolvedIndex)
		}
		return nil

	case ast.Unary:
		return c.compileUnary(n)

	case ast.Binary:
		if n.Op == token.ASSIGN {
			return c.compileAssign(n)
		}
		return c.compileBinary(n)

	default:
		return errors.Errorf("%s: %s cannot be used as a value", n.Pos, n.Kind)
	}
}

func (c *compiler) compileUnary(n *ast.Node) error {
	switch n.Op {
	case token.PLUS:
		return c.compileExpr(n.Operand)
	case token.MINUS:
		c.emitImm(vm.OpPush, c.tables.Constants.Number(0))
		if err := c.compileExpr(n.Operand); err != nil {
			return err
		}
		c.emit(vm.OpSub)
		return nil
	default:
		return errors.Errorf("%s: invalid unary operator %s", n.Pos, n.Op)
	}
}

var binaryOps = map[token.Kind]vm.Op{
	token.PLUS:    vm.OpAdd,
	token.MINUS:   vm.OpSub,
	token.STAR:    vm.OpMul,
	token.SLASH:   vm.OpDiv,
	token.PERCENT: vm.OpMod,
	token.AMP:     vm.OpAnd,
	token.PIPE:    vm.OpOr,
	token.LT:      vm.OpLt,
	token.GT:      vm.OpGt,
	token.LE:      vm.OpLte,
	token.GE:      vm.OpGte,
	token.EQ:      vm.OpEqu,
	token.NE:      vm.OpNequ,
}

func (c *compiler) compileBinary(n *ast.Node) error {
	op, ok := binaryOps[n.Op]
	if !ok {
		return errors.Errorf("%s: invalid binary operator %s", n.Pos, n.Op)
	}
	if err := c.compileExpr(n.Left); err != nil {
		return err
	}
	if err := c.compileExpr(n.Right); err != nil {
		return err
	}
	c.emit(op)
	return nil
}

// compileAssign lowers `target = value` (§4.3). Every assignment form
// leaves the assigned value on the stack, the same convention a bare
// Ident/LocalRef read uses, so compileStmt's trailing POP applies
// uniformly regardless of what kind of target was assigned.
func (c *compiler) compileAssign(n *ast.Node) error {
	if n.Right.Kind == ast.BraceIdentList {
		return c.compileMemberInit(n)
	}
	switch n.Left.Kind {
	case ast.Ident:
		if err := c.compileExpr(n.Right); err != nil {
			return err
		}
		c.emit(vm.OpDup)
		c.emitImm(vm.OpSet, n.Left.ResolvedIndex)
		c.tables.Globals.Slot(n.Left.ResolvedIndex).Initialized = true
		return nil

	case ast.LocalRef, ast.LocalDecl:
		if err := c.compileExpr(n.Right); err != nil {
			return err
		}
		c.emit(vm.OpDup)
		c.emitImm(vm.OpSetLocal, n.Left.ResolvedIndex)
		return nil

	case ast.Index:
		if err := c.compileExpr(n.Left.Base); err != nil {
			return err
		}
		if err := c.compileExpr(n.Left.IndexExpr); err != nil {
			return err
		}
		if err := c.compileExpr(n.Right); err != nil {
			return err
		}
		c.emit(vm.OpSetIndex)
		return nil

	case ast.Member:
		k, err := c.memberIndex(n.Left)
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Left.Base); err != nil {
			return err
		}
		c.emitImm(vm.OpPush, c.tables.Constants.Number(float64(k)))
		if err := c.compileExpr(n.Right); err != nil {
			return err
		}
		c.emit(vm.OpSetIndex)
		return nil

	default:
		return errors.Errorf("%s: invalid assignment target", n.Pos)
	}
}

// compileMemberInit lowers `global = { a, b, c }` (§4.3): it fixes the
// global's named-member map and allocates the backing array in the same
// step, so a subsequent `global.a = 1` resolves against a live array.
func (c *compiler) compileMemberInit(n *ast.Node) error {
	if n.Left.Kind != ast.Ident {
		return errors.Errorf("%s: named-member initializer is only valid for a global variable", n.Pos)
	}
	idx := n.Left.ResolvedIndex
	if err := c.tables.Globals.SetMembers(idx, n.Right.Idents); err != nil {
		return err
	}
	c.emitImm(vm.OpPush, c.tables.Constants.Number(float64(len(n.Right.Idents))))
	c.emit(vm.OpMakeArray)
	c.emit(vm.OpDup)
	c.emitImm(vm.OpSet, idx)
	c.tables.Globals.Slot(idx).Initialized = true
	return nil
}

func (c *compiler) memberIndex(n *ast.Node) (int, error) {
	if n.Base.Kind != ast.Ident {
		return 0, errors.Errorf("%s: %q is not a named-member array", n.Pos, n.Member2)
	}
	g := c.tables.Globals.Slot(n.Base.ResolvedIndex)
	if g.Members == nil {
		return 0, errors.Errorf("%s: %q has no named members", n.Pos, g.Name)
	}
	k, ok := g.Members[n.Member2]
	if !ok {
		return 0, errors.Errorf("%s: %q has no member %q", n.Pos, g.Name, n.Member2)
	}
	return k, nil
}

// compileProc lowers a `proc` declaration (§4.3). Its body is always
// skipped over at the point it textually appears — a GOTO patched to
// land just past the body — since a proc can be declared anywhere in a
// statement sequence, not only before its first call.
func (c *compiler) compileProc(n *ast.Node) error {
	skip := c.emitPlaceholder(vm.OpGoto)
	entry := c.pc()
	c.tables.Procs.SetEntryPC(n.ResolvedIndex, entry)

	zero := c.tables.Constants.Number(0)
	for k := 0; k < n.NumLocals; k++ {
		c.emitImm(vm.OpPush, zero)
	}
	if err := c.compileSeq(n.Body); err != nil {
		return err
	}
	c.emit(vm.OpReturn)

	c.patch(skip, c.pc())
	return nil
}

func (c *compiler) compileIf(n *ast.Node) error {
	if err := c.compileExpr(n.Cond); err != nil {
		return err
	}
	skip := c.emitPlaceholder(vm.OpGotoZ)
	if err := c.compileSeq(n.Then); err != nil {
		return err
	}
	c.patch(skip, c.pc())
	return nil
}

func (c *compiler) compileWhile(n *ast.Node) error {
	loopStart := c.pc()
	if err := c.compileExpr(n.Cond); err != nil {
		return err
	}
	exit := c.emitPlaceholder(vm.OpGotoZ)
	if err := c.compileSeq(n.Then); err != nil {
		return err
	}
	c.emitImm(vm.OpGoto, loopStart)
	c.patch(exit, c.pc())
	return nil
}

func (c *compiler) compileReturn(n *ast.Node) error {
	if n.Value == nil {
		c.emit(vm.OpReturn)
		return nil
	}
	if err := c.compileExpr(n.Value); err != nil {
		return err
	}
	c.emit(vm.OpReturnValue)
	return nil
}

// compileRead lowers `read t1 t2 ... end` (§4.3): each target receives
// one line of input, read and assigned left to right.
func (c *compiler) compileRead(n *ast.Node) error {
	for _, target := range n.Targets {
		c.emit(vm.OpRead)
		switch target.Kind {
		case ast.Ident:
			c.emitImm(vm.OpSet, target.ResolvedIndex)
			c.tables.Globals.Slot(target.ResolvedIndex).Initialized = true
		case ast.LocalRef:
			c.emitImm(vm.OpSetLocal, target.ResolvedIndex)
		default:
			return errors.Errorf("%s: invalid read target", target.Pos)
		}
	}
	return nil
}

func (c *compiler) compileWrite(n *ast.Node) error {
	for _, e := range n.Exprs {
		if err := c.compileExpr(e); err != nil {
			return err
		}
		c.emit(vm.OpPrint)
	}
	return nil
}

// Package ast defines the expression tree produced by the parser.
//
// Statement sequences (program bodies, proc bodies, if/while bodies) are
// represented as singly-linked chains via Node.Next, the same flat
// "expr list with next pointers" shape spec.md §4.2 calls for, rather
// than a slice-of-statements block node — this keeps every node the
// same shape whether it stands alone or heads a sequence.
package ast

import "github.com/minivm/minivm/token"

// Kind identifies the syntactic form of a Node.
type Kind int

const (
	NumberLit Kind = iota
	StringLit
	Ident          // bare global variable reference
	LocalRef       // $name reference
	LocalDecl      // `local name`
	Index          // base[index]
	Member         // base.name (sugar for base[k], resolved at compile time)
	ArrayLit       // [length]
	BraceIdentList // { a, b, c } — only legal as the RHS of a global member-map assignment
	Call
	Unary
	Binary
	ProcDecl
	IfExpr
	WhileExpr
	ReturnExpr
	ReadExpr
	WriteExpr
)

var kindNames = [...]string{
	NumberLit: "number literal", StringLit: "string literal", Ident: "identifier",
	LocalRef: "local reference", LocalDecl: "local declaration", Index: "index expression",
	Member: "member expression", ArrayLit: "array literal", BraceIdentList: "member list",
	Call: "call", Unary: "unary expression", Binary: "binary expression", ProcDecl: "proc declaration",
	IfExpr: "if", WhileExpr: "while", ReturnExpr: "return", ReadExpr: "read", WriteExpr: "write",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "?"
}

// Node is one expression or statement in the program tree. Which fields
// are meaningful depends on Kind; see the compiler for the authoritative
// mapping.
type Node struct {
	Kind Kind
	Pos  token.Position
	Next *Node // next statement in the enclosing sequence

	// NumberLit / StringLit
	NumValue float64
	StrValue string

	// Ident / LocalRef / LocalDecl / Call / ProcDecl
	Name string

	// Ident: resolved global slot index; LocalRef/LocalDecl: resolved
	// local slot index (negative for arguments); Call: resolved
	// procedure id (non-negative for user procs, bitwise-complement of
	// the foreign slot for foreign procs, per §3).
	ResolvedIndex int

	// Index / Member
	Base  *Node
	IndexExpr *Node // Index only
	Member2   string // Member only: the member name

	// BraceIdentList
	Idents []string

	// ArrayLit
	Length *Node

	// Call
	Args []*Node

	// Unary
	Op      token.Kind
	Operand *Node

	// Binary (includes assignment, Op == token.ASSIGN)
	Left  *Node
	Right *Node

	// ProcDecl
	Params    []string
	NumLocals int
	Body      *Node // first statement of the body sequence, or nil

	// IfExpr / WhileExpr
	Cond *Node
	Then *Node // first statement of the body sequence

	// ReturnExpr
	Value *Node // nil for bare `return`

	// ReadExpr
	Targets []*Node

	// WriteExpr
	Exprs []*Node
}

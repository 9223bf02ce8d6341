// Package parser implements the recursive-descent, precedence-climbing
// parser described in spec.md §4.2. It produces an ast.Node tree and,
// as a side effect of scanning, registers literals into the constant
// pool and identifiers into the global/procedure tables (symtab.Tables)
// — mirroring the way github.com/db47h/ngaro/asm's parser resolves
// labels and constants while it scans, rather than in a separate pass.
package parser

import (
	"github.com/pkg/errors"

	"github.com/minivm/minivm/ast"
	"github.com/minivm/minivm/lexer"
	"github.com/minivm/minivm/symtab"
	"github.com/minivm/minivm/token"
)

// precedence gives the binding power of each binary operator (§4.2).
// Higher binds tighter; ASSIGN is deliberately the lowest so that it is
// parsed like any other (right-associative) binary operator.
var precedence = map[token.Kind]int{
	token.STAR:    5,
	token.SLASH:   5,
	token.PERCENT: 5,
	token.AMP:     5,
	token.PIPE:    5,
	token.PLUS:    4,
	token.MINUS:   4,
	token.LT:      3,
	token.GT:      3,
	token.LE:      3,
	token.GE:      3,
	token.EQ:      3,
	token.NE:      3,
	token.ASSIGN:  1,
}

type localDecl struct {
	name  string
	idx   int
	depth int
}

// Parser consumes tokens from a Lexer and builds an ast.Node tree,
// registering names and literals into tables as it goes.
type Parser struct {
	lex    *lexer.Lexer
	tables *symtab.Tables

	cur, peek token.Token

	// per-procedure parsing state; scopeDepth == 0 means "at top level",
	// where `proc` is legal and `local`/`$name` are not (§4.2).
	scopeDepth int
	locals     []localDecl
	localCount int
}

// New creates a Parser reading tokens from lex and registering names
// into tables.
func New(lex *lexer.Lexer, tables *symtab.Tables) (*Parser, error) {
	p := &Parser{lex: lex, tables: tables}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	p.cur = p.peek
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.peek = t
	return nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return errors.Errorf("%s: "+format+" (got %s)", append(append([]interface{}{p.cur.Pos}, args...), p.cur)...)
}

func (p *Parser) expect(k token.Kind) error {
	if p.cur.Kind != k {
		return p.errorf("expected %s", k)
	}
	return p.advance()
}

func (p *Parser) parseIdentName() (string, token.Position, error) {
	if p.cur.Kind != token.IDENT {
		return "", token.Position{}, p.errorf("expected identifier")
	}
	name, pos := p.cur.Text, p.cur.Pos
	return name, pos, p.advance()
}

// Parse parses the whole token stream as a `program := expr*` sequence
// terminated by EOF.
func (p *Parser) Parse() (*ast.Node, error) {
	return p.parseStmtSequence(token.EOF)
}

func (p *Parser) parseStmtSequence(terminators ...token.Kind) (*ast.Node, error) {
	var head, tail *ast.Node
	for !p.atAny(terminators) {
		if p.cur.Kind == token.EOF {
			return nil, p.errorf("unexpected end of input")
		}
		stmt, err := p.parseExpr(1)
		if err != nil {
			return nil, err
		}
		if head == nil {
			head = stmt
		} else {
			tail.Next = stmt
		}
		tail = stmt
	}
	return head, nil
}

func (p *Parser) atAny(kinds []token.Kind) bool {
	for _, k := range kinds {
		if p.cur.Kind == k {
			return true
		}
	}
	return false
}

// parseExpr implements precedence climbing starting at minPrec (§4.2).
func (p *Parser) parseExpr(minPrec int) (*ast.Node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		op := p.cur.Kind
		prec, ok := precedence[op]
		if !ok || prec < minPrec {
			return left, nil
		}
		pos := p.cur.Pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		nextMin := prec + 1
		if op == token.ASSIGN {
			nextMin = prec // right-associative
		}
		right, err := p.parseExpr(nextMin)
		if err != nil {
			return nil, err
		}
		left = &ast.Node{Kind: ast.Binary, Op: op, Left: left, Right: right, Pos: pos}
	}
}

func (p *Parser) parseFactor() (*ast.Node, error) {
	switch p.cur.Kind {
	case token.NUMBER:
		n := p.cur
		idx := p.tables.Constants.Number(n.Num)
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.NumberLit, NumValue: n.Num, ResolvedIndex: idx, Pos: n.Pos}, nil

	case token.STRING:
		s := p.cur
		idx := p.tables.Constants.String(s.Text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.StringLit, StrValue: s.Text, ResolvedIndex: idx, Pos: s.Pos}, nil

	case token.LOCALREF:
		return p.parseLocalRef()

	case token.IDENT:
		return p.parseIdentFactor()

	case token.LOCAL:
		return p.parseLocalDecl()

	case token.PROC:
		return p.parseProc()

	case token.IF:
		return p.parseIf()

	case token.WHILE:
		return p.parseWhile()

	case token.RETURN:
		return p.parseReturn()

	case token.READ:
		return p.parseRead()

	case token.WRITE:
		return p.parseWrite()

	case token.LBRACE:
		return p.parseBraceIdentList()

	case token.LBRACKET:
		return p.parseArrayLit()

	case token.PLUS, token.MINUS:
		op, pos := p.cur.Kind, p.cur.Pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.Unary, Op: op, Operand: operand, Pos: pos}, nil

	case token.LPAREN:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr(1)
		if err != nil {
			return nil, err
		}
		return inner, p.expect(token.RPAREN)

	default:
		return nil, p.errorf("unexpected token")
	}
}

func (p *Parser) parseLocalRef() (*ast.Node, error) {
	name, pos := p.cur.Text, p.cur.Pos
	idx, err := p.lookupLocal(name)
	if err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node := &ast.Node{Kind: ast.LocalRef, Name: name, ResolvedIndex: idx, Pos: pos}
	if p.cur.Kind == token.LBRACKET {
		return p.parseIndex(node)
	}
	return node, nil
}

func (p *Parser) parseIdentFactor() (*ast.Node, error) {
	name, pos, err := p.parseIdentName()
	if err != nil {
		return nil, err
	}
	switch p.cur.Kind {
	case token.LPAREN:
		return p.parseCall(name, pos)
	case token.LBRACKET:
		idx, err := p.tables.Globals.Lookup(name)
		if err != nil {
			return nil, err
		}
		base := &ast.Node{Kind: ast.Ident, Name: name, ResolvedIndex: idx, Pos: pos}
		return p.parseIndex(base)
	case token.DOT:
		idx, err := p.tables.Globals.Lookup(name)
		if err != nil {
			return nil, err
		}
		base := &ast.Node{Kind: ast.Ident, Name: name, ResolvedIndex: idx, Pos: pos}
		if err := p.advance(); err != nil {
			return nil, err
		}
		member, _, err := p.parseIdentName()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.Member, Base: base, Member2: member, Pos: pos}, nil
	default:
		idx, err := p.tables.Globals.Lookup(name)
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.Ident, Name: name, ResolvedIndex: idx, Pos: pos}, nil
	}
}

func (p *Parser) parseIndex(base *ast.Node) (*ast.Node, error) {
	pos := p.cur.Pos
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	idxExpr, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.RBRACKET); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.Index, Base: base, IndexExpr: idxExpr, Pos: pos}, nil
}

func (p *Parser) parseCall(name string, pos token.Position) (*ast.Node, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	var args []*ast.Node
	for p.cur.Kind != token.RPAREN {
		arg, err := p.parseExpr(1)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur.Kind == token.COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	id, err := p.resolveCall(name)
	if err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.Call, Name: name, Args: args, ResolvedIndex: id, Pos: pos}, nil
}

func (p *Parser) resolveCall(name string) (int, error) {
	// Name resolution at parse time selects foreign over user procedure (§6).
	if slot, ok := p.tables.Foreign.Lookup(name); ok {
		return -(slot + 1), nil
	}
	return p.tables.Procs.GetOrCreate(name)
}

func (p *Parser) parseLocalDecl() (*ast.Node, error) {
	pos := p.cur.Pos
	if err := p.advance(); err != nil { // consume 'local'
		return nil, err
	}
	if p.scopeDepth < 1 {
		return nil, p.errorf("'local' is only legal inside a procedure")
	}
	name, _, err := p.parseIdentName()
	if err != nil {
		return nil, err
	}
	idx := p.declareLocal(name)
	return &ast.Node{Kind: ast.LocalDecl, Name: name, ResolvedIndex: idx, Pos: pos}, nil
}

func (p *Parser) declareLocal(name string) int {
	idx := p.localCount
	p.localCount++
	p.locals = append(p.locals, localDecl{name: name, idx: idx, depth: p.scopeDepth})
	return idx
}

func (p *Parser) lookupLocal(name string) (int, error) {
	for i := len(p.locals) - 1; i >= 0; i-- {
		d := p.locals[i]
		if d.name == name && d.depth <= p.scopeDepth {
			return d.idx, nil
		}
	}
	return 0, p.errorf("undeclared local $%s", name)
}

func (p *Parser) pushScope() { p.scopeDepth++ }

func (p *Parser) popScope() {
	depth := p.scopeDepth
	n := len(p.locals)
	for n > 0 && p.locals[n-1].depth >= depth {
		n--
	}
	p.locals = p.locals[:n]
	p.scopeDepth--
}

func (p *Parser) parseProc() (*ast.Node, error) {
	pos := p.cur.Pos
	if p.scopeDepth != 0 {
		return nil, p.errorf("'proc' is only legal at top level")
	}
	if err := p.advance(); err != nil { // consume 'proc'
		return nil, err
	}
	name, _, err := p.parseIdentName()
	if err != nil {
		return nil, err
	}
	id, err := p.tables.Procs.GetOrCreate(name)
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	var params []string
	for p.cur.Kind != token.RPAREN {
		pname, _, err := p.parseIdentName()
		if err != nil {
			return nil, err
		}
		params = append(params, pname)
		if p.cur.Kind == token.COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}

	// Enter procedure scope: fresh local state, arguments at negative
	// indices just below the frame pointer (§3).
	savedLocals, savedCount, savedDepth := p.locals, p.localCount, p.scopeDepth
	p.locals = nil
	p.localCount = 0
	p.scopeDepth = 1
	n := len(params)
	for i, pname := range params {
		p.locals = append(p.locals, localDecl{name: pname, idx: -n + i, depth: 1})
	}

	body, err := p.parseStmtSequence(token.END)
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.END); err != nil {
		return nil, err
	}
	numLocals := p.localCount

	p.locals, p.localCount, p.scopeDepth = savedLocals, savedCount, savedDepth

	return &ast.Node{
		Kind: ast.ProcDecl, Name: name, Params: params, NumLocals: numLocals,
		Body: body, ResolvedIndex: id, Pos: pos,
	}, nil
}

func (p *Parser) parseIf() (*ast.Node, error) {
	pos := p.cur.Pos
	if err := p.advance(); err != nil { // consume 'if'
		return nil, err
	}
	cond, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.THEN); err != nil {
		return nil, err
	}
	p.pushScope()
	body, err := p.parseStmtSequence(token.END)
	p.popScope()
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.END); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.IfExpr, Cond: cond, Then: body, Pos: pos}, nil
}

func (p *Parser) parseWhile() (*ast.Node, error) {
	pos := p.cur.Pos
	if err := p.advance(); err != nil { // consume 'while'
		return nil, err
	}
	cond, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	p.pushScope()
	body, err := p.parseStmtSequence(token.END)
	p.popScope()
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.END); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.WhileExpr, Cond: cond, Then: body, Pos: pos}, nil
}

func (p *Parser) parseReturn() (*ast.Node, error) {
	pos := p.cur.Pos
	if err := p.advance(); err != nil { // consume 'return'
		return nil, err
	}
	if p.cur.Kind == token.SEMI {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.ReturnExpr, Pos: pos}, nil
	}
	val, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.ReturnExpr, Value: val, Pos: pos}, nil
}

func (p *Parser) parseRead() (*ast.Node, error) {
	pos := p.cur.Pos
	if err := p.advance(); err != nil { // consume 'read'
		return nil, err
	}
	var targets []*ast.Node
	for p.cur.Kind == token.IDENT || p.cur.Kind == token.LOCALREF {
		if p.cur.Kind == token.IDENT {
			name, tpos := p.cur.Text, p.cur.Pos
			idx, err := p.tables.Globals.Lookup(name)
			if err != nil {
				return nil, err
			}
			targets = append(targets, &ast.Node{Kind: ast.Ident, Name: name, ResolvedIndex: idx, Pos: tpos})
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		name, tpos := p.cur.Text, p.cur.Pos
		idx, err := p.lookupLocal(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, &ast.Node{Kind: ast.LocalRef, Name: name, ResolvedIndex: idx, Pos: tpos})
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(token.END); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.ReadExpr, Targets: targets, Pos: pos}, nil
}

func (p *Parser) parseWrite() (*ast.Node, error) {
	pos := p.cur.Pos
	if err := p.advance(); err != nil { // consume 'write'
		return nil, err
	}
	var exprs []*ast.Node
	for p.cur.Kind != token.END {
		e, err := p.parseExpr(1)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	if err := p.expect(token.END); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.WriteExpr, Exprs: exprs, Pos: pos}, nil
}

func (p *Parser) parseBraceIdentList() (*ast.Node, error) {
	pos := p.cur.Pos
	if err := p.advance(); err != nil { // consume '{'
		return nil, err
	}
	var idents []string
	for {
		name, _, err := p.parseIdentName()
		if err != nil {
			return nil, err
		}
		idents = append(idents, name)
		if p.cur.Kind == token.COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expect(token.RBRACE); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.BraceIdentList, Idents: idents, Pos: pos}, nil
}

func (p *Parser) parseArrayLit() (*ast.Node, error) {
	pos := p.cur.Pos
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	length, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.RBRACKET); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.ArrayLit, Length: length, Pos: pos}, nil
}

// Package lexer turns a byte stream into a stream of minivm tokens.
//
// Grounded on the character-at-a-time scanning style of
// github.com/db47h/ngaro/asm, adapted to a hand-rolled single-rune
// lookahead instead of text/scanner, since the source grammar (§4.1)
// needs $-prefixed local references and un-escaped quoted strings that
// text/scanner does not model directly.
package lexer

import (
	"bufio"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/minivm/minivm/token"
)

// Lexer reads runes from an io.Reader and emits Tokens one at a time.
type Lexer struct {
	name string
	r    *bufio.Reader
	ch   rune // current lookahead character
	eof  bool
	line int
	col  int
}

// New creates a Lexer reading from r. name is used in diagnostics.
func New(r io.Reader, name string) *Lexer {
	l := &Lexer{name: name, r: bufio.NewReader(r), line: 1, col: 0}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.eof {
		l.ch = 0
		return
	}
	ch, _, err := l.r.ReadRune()
	if err != nil {
		l.eof = true
		l.ch = 0
		return
	}
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	l.ch = ch
	l.col++
}

func (l *Lexer) pos() token.Position {
	return token.Position{Name: l.name, Line: l.line, Col: l.col}
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

func isAlpha(ch rune) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch rune) bool { return isAlpha(ch) || isDigit(ch) }

func (l *Lexer) skipSpaceAndComments() {
	for {
		for !l.eof && (l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n') {
			l.readChar()
		}
		if l.ch == '#' {
			for !l.eof && l.ch != '\n' {
				l.readChar()
			}
			continue
		}
		return
	}
}

// Next returns the next token in the stream. Once EOF has been reached it
// keeps returning an EOF token.
func (l *Lexer) Next() (token.Token, error) {
	l.skipSpaceAndComments()
	pos := l.pos()

	if l.eof {
		return token.Token{Kind: token.EOF, Pos: pos}, nil
	}

	switch {
	case isAlpha(l.ch):
		return l.scanIdentOrKeyword(pos)
	case l.ch == '$':
		return l.scanLocalRef(pos)
	case isDigit(l.ch):
		return l.scanNumber(pos)
	case l.ch == '"':
		return l.scanString(pos)
	}

	return l.scanOperator(pos)
}

func (l *Lexer) scanIdentOrKeyword(pos token.Position) (token.Token, error) {
	var b []byte
	for isIdentChar(l.ch) {
		b = append(b, byte(l.ch))
		l.readChar()
	}
	s := string(b)
	switch s {
	case "true":
		return token.Token{Kind: token.NUMBER, Num: 1, Pos: pos}, nil
	case "false":
		return token.Token{Kind: token.NUMBER, Num: 0, Pos: pos}, nil
	}
	if kw, ok := token.Keywords[s]; ok {
		return token.Token{Kind: kw, Text: s, Pos: pos}, nil
	}
	return token.Token{Kind: token.IDENT, Text: s, Pos: pos}, nil
}

func (l *Lexer) scanLocalRef(pos token.Position) (token.Token, error) {
	l.readChar() // consume '$'
	if !isAlpha(l.ch) {
		return token.Token{}, errors.Errorf("%s: expected identifier after '$'", pos)
	}
	var b []byte
	for isIdentChar(l.ch) {
		b = append(b, byte(l.ch))
		l.readChar()
	}
	return token.Token{Kind: token.LOCALREF, Text: string(b), Pos: pos}, nil
}

func (l *Lexer) scanNumber(pos token.Position) (token.Token, error) {
	var b []byte
	for isDigit(l.ch) || l.ch == '.' {
		b = append(b, byte(l.ch))
		l.readChar()
	}
	s := string(b)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return token.Token{}, errors.Wrapf(err, "%s: invalid number literal %q", pos, s)
	}
	return token.Token{Kind: token.NUMBER, Num: v, Pos: pos}, nil
}

func (l *Lexer) scanString(pos token.Position) (token.Token, error) {
	l.readChar() // consume opening quote
	var b []byte
	for {
		if l.eof {
			return token.Token{}, errors.Errorf("%s: unterminated string literal", pos)
		}
		if l.ch == '"' {
			l.readChar()
			break
		}
		b = append(b, byte(l.ch))
		l.readChar()
	}
	return token.Token{Kind: token.STRING, Text: string(b), Pos: pos}, nil
}

func (l *Lexer) scanOperator(pos token.Position) (token.Token, error) {
	ch := l.ch
	l.readChar()
	mk := func(k token.Kind) (token.Token, error) { return token.Token{Kind: k, Pos: pos}, nil }
	switch ch {
	case '+':
		return mk(token.PLUS)
	case '-':
		return mk(token.MINUS)
	case '*':
		return mk(token.STAR)
	case '/':
		return mk(token.SLASH)
	case '%':
		return mk(token.PERCENT)
	case '&':
		return mk(token.AMP)
	case '|':
		return mk(token.PIPE)
	case '(':
		return mk(token.LPAREN)
	case ')':
		return mk(token.RPAREN)
	case '[':
		return mk(token.LBRACKET)
	case ']':
		return mk(token.RBRACKET)
	case '{':
		return mk(token.LBRACE)
	case '}':
		return mk(token.RBRACE)
	case ',':
		return mk(token.COMMA)
	case ';':
		return mk(token.SEMI)
	case '.':
		return mk(token.DOT)
	case '<':
		if l.ch == '=' {
			l.readChar()
			return mk(token.LE)
		}
		return mk(token.LT)
	case '>':
		if l.ch == '=' {
			l.readChar()
			return mk(token.GE)
		}
		return mk(token.GT)
	case '=':
		if l.ch == '=' {
			l.readChar()
			return mk(token.EQ)
		}
		return mk(token.ASSIGN)
	case '!':
		if l.ch == '=' {
			l.readChar()
			return mk(token.NE)
		}
		return token.Token{}, errors.Errorf("%s: unexpected character %q", pos, ch)
	default:
		return token.Token{}, errors.Errorf("%s: unexpected character %q", pos, ch)
	}
}

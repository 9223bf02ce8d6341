package compiler_test

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minivm/minivm/compiler"
	"github.com/minivm/minivm/lexer"
	"github.com/minivm/minivm/parser"
	"github.com/minivm/minivm/symtab"
	"github.com/minivm/minivm/vm"
)

func compile(t *testing.T, src string) ([]byte, error) {
	t.Helper()
	lex := lexer.New(strings.NewReader(src), t.Name())
	tables := symtab.NewTables(0, 0, 0)
	p, err := parser.New(lex, tables)
	require.NoError(t, err)
	root, err := p.Parse()
	require.NoError(t, err)
	return compiler.Compile(root, tables)
}

func TestUseBeforeSetFailsAtCompileTime(t *testing.T) {
	_, err := compile(t, `write x end`)
	require.Error(t, err)
}

func TestAssignThenReadSucceeds(t *testing.T) {
	_, err := compile(t, `x = 1 write x end`)
	require.NoError(t, err)
}

func TestInvalidAssignmentTargetIsAnError(t *testing.T) {
	_, err := compile(t, `1 = 2`)
	require.Error(t, err)
}

func TestMemberReadOnNonMemberArrayIsAnError(t *testing.T) {
	_, err := compile(t, `
x = 1
write x.a end
`)
	require.Error(t, err)
}

func TestProgramEndsWithHalt(t *testing.T) {
	code, err := compile(t, `x = 1`)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	require.Equal(t, byte(vm.OpHalt), code[len(code)-1], "last opcode byte must be OpHalt")
}

func TestForeignCallEncodesBitwiseComplementSlot(t *testing.T) {
	lex := lexer.New(strings.NewReader(`write log(1) end`), t.Name())
	tables := symtab.NewTables(0, 0, 0)
	_, err := tables.Foreign.Register("log")
	require.NoError(t, err)
	p, err := parser.New(lex, tables)
	require.NoError(t, err)
	root, err := p.Parse()
	require.NoError(t, err)
	code, err := compiler.Compile(root, tables)
	require.NoError(t, err)
	// push 1 (5 bytes), then callf nargs=1, slot=^(-1)=0.
	require.Equal(t, byte(vm.OpCallF), code[5])
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(code[6:10]))
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(code[10:14]))
}

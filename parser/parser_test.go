package parser_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minivm/minivm/lexer"
	"github.com/minivm/minivm/parser"
	"github.com/minivm/minivm/symtab"
)

func parse(t *testing.T, src string) error {
	t.Helper()
	lex := lexer.New(strings.NewReader(src), t.Name())
	tables := symtab.NewTables(0, 0, 0)
	p, err := parser.New(lex, tables)
	require.NoError(t, err)
	_, err = p.Parse()
	return err
}

func TestLocalOutsideProcIsAnError(t *testing.T) {
	err := parse(t, `local x`)
	require.Error(t, err)
}

func TestUndeclaredLocalReferenceIsAnError(t *testing.T) {
	err := parse(t, `
proc f()
	write $x end
end
`)
	require.Error(t, err)
}

func TestProcNestedInsideProcIsAnError(t *testing.T) {
	err := parse(t, `
proc outer()
	proc inner()
	end
end
`)
	require.Error(t, err)
}

func TestLocalScopeEndsWithItsBlock(t *testing.T) {
	err := parse(t, `
proc f(n)
	if n then
		local x
	end
	write $x end
end
`)
	require.Error(t, err)
}

func TestRecursiveForwardCallResolves(t *testing.T) {
	err := parse(t, `
proc even(n)
	if n then
		return odd(n - 1)
	end
	return 1
end

proc odd(n)
	if n then
		return even(n - 1)
	end
	return 0
end
`)
	require.NoError(t, err)
}

func TestForeignNameShadowsUserProcedure(t *testing.T) {
	lex := lexer.New(strings.NewReader(`write log(1) end`), t.Name())
	tables := symtab.NewTables(0, 0, 0)
	_, err := tables.Foreign.Register("log")
	require.NoError(t, err)
	p, err := parser.New(lex, tables)
	require.NoError(t, err)
	root, err := p.Parse()
	require.NoError(t, err)
	require.Len(t, root.Exprs, 1)
	require.True(t, root.Exprs[0].ResolvedIndex < 0, "call to a registered foreign name must resolve to a negative id")
}

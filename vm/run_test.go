package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minivm/minivm/compiler"
	"github.com/minivm/minivm/lexer"
	"github.com/minivm/minivm/parser"
	"github.com/minivm/minivm/symtab"
	"github.com/minivm/minivm/vm"
)

func build(t *testing.T, src string) ([]byte, *symtab.Tables) {
	t.Helper()
	lex := lexer.New(strings.NewReader(src), t.Name())
	tables := symtab.NewTables(0, 0, 0)
	p, err := parser.New(lex, tables)
	require.NoError(t, err)
	root, err := p.Parse()
	require.NoError(t, err)
	code, err := compiler.Compile(root, tables)
	require.NoError(t, err)
	return code, tables
}

func TestRunProducesExpectedOutput(t *testing.T) {
	code, tables := build(t, `write 2 + 3 end`)
	var out bytes.Buffer
	i := vm.New(code, tables, vm.Output(&out))
	require.NoError(t, i.Run())
	require.Equal(t, "5\n", out.String())
}

func TestDivisionByZeroIsARuntimeError(t *testing.T) {
	code, tables := build(t, `write 1 / 0 end`)
	i := vm.New(code, tables, vm.Output(new(bytes.Buffer)))
	err := i.Run()
	require.Error(t, err)
	var rerr *vm.RuntimeError
	require.ErrorAs(t, err, &rerr)
}

func TestArrayIndexOutOfBoundsIsARuntimeError(t *testing.T) {
	code, tables := build(t, `
arr = [2]
write arr[5] end
`)
	i := vm.New(code, tables, vm.Output(new(bytes.Buffer)))
	err := i.Run()
	require.Error(t, err)
}

func TestStackOverflowIsRecoveredAsAnError(t *testing.T) {
	code, tables := build(t, `
proc loop()
	return 1 + loop()
end
write loop() end
`)
	i := vm.New(code, tables, vm.Output(new(bytes.Buffer)), vm.CallDepth(8))
	err := i.Run()
	require.Error(t, err)
}

func TestGCUnderTightThresholdKeepsLiveValues(t *testing.T) {
	src := `
local_n = 0
while local_n < 50
	local_s = "garbage"
	local_n = local_n + 1
end
write local_n end
`
	code, tables := build(t, src)
	var out bytes.Buffer
	i := vm.New(code, tables, vm.Output(&out), vm.GCThreshold(2))
	require.NoError(t, i.Run())
	require.Equal(t, "50\n", out.String())
}

func TestTeardownReleasesAllHeapObjects(t *testing.T) {
	code, tables := build(t, `x = "hello" write x end`)
	i := vm.New(code, tables, vm.Output(new(bytes.Buffer)))
	require.NoError(t, i.Run())
	v := i.NewNumber(1)
	i.Teardown()
	_, err := i.Number(v)
	require.Error(t, err, "a value allocated before Teardown must be released")
}

package machine_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minivm/minivm/machine"
	"github.com/minivm/minivm/vm"
)

func run(t *testing.T, src string) string {
	t.Helper()
	var out bytes.Buffer
	m := machine.New(nil, machine.Output(&out))
	require.NoError(t, m.CompileString(src, t.Name()), "compile")
	require.NoError(t, m.Run(), "run")
	m.Teardown()
	return out.String()
}

// TestArithmeticPrecedence is spec.md §8 end-to-end scenario #1.
func TestArithmeticPrecedence(t *testing.T) {
	require.Equal(t, "7\n", run(t, "write 1 + 2 * 3 end"))
}

// TestCountdownPrintsOnePerLine is spec.md §8 end-to-end scenario #2:
// every PRINT terminates its value with a newline, not just the last one.
func TestCountdownPrintsOnePerLine(t *testing.T) {
	src := `
x = 10
while x > 0
	write x end
	x = x - 1
end
`
	require.Equal(t, "10\n9\n8\n7\n6\n5\n4\n3\n2\n1\n", run(t, src))
}

func TestRecursiveFactorial(t *testing.T) {
	src := `
proc fact(n)
	if $n <= 1 then
		return 1
	end
	return $n * fact($n - 1)
end
write fact(6) end
`
	require.Equal(t, "720\n", run(t, src))
}

// TestRecursiveSquare is spec.md §8 end-to-end scenario #3.
func TestRecursiveSquare(t *testing.T) {
	src := `
proc f(n) return $n * $n end
write f(6) end
`
	require.Equal(t, "36\n", run(t, src))
}

func TestArrayMemberReadWrite(t *testing.T) {
	src := `
point = { x, y }
point.x = 3
point.y = 4
write point.x + point.y end
`
	require.Equal(t, "7\n", run(t, src))
}

func TestStringLiteralWrite(t *testing.T) {
	require.Equal(t, "hi\n", run(t, `write "hi" end`))
}

// TestPlainArrayIndexing is spec.md §8 end-to-end scenario #4.
func TestPlainArrayIndexing(t *testing.T) {
	src := `
a = [3]
a[0] = 1
a[1] = 2
a[2] = a[0] + a[1]
write a[2] end
`
	require.Equal(t, "3\n", run(t, src))
}

func TestUnreadArraySlotDefaultsToZero(t *testing.T) {
	src := `
arr = [2]
write arr[1] end
`
	require.Equal(t, "0\n", run(t, src))
}

func TestBitwiseOrAndAnd(t *testing.T) {
	require.Equal(t, "6\n", run(t, "write 4 | 2 end"))
	require.Equal(t, "8\n", run(t, "write 12 & 10 end"))
}

func TestForeignProcedureBinding(t *testing.T) {
	var out bytes.Buffer
	m := machine.New(nil, machine.Output(&out))
	require.NoError(t, m.RegisterForeign("double", func(i *vm.Instance, args []machine.Value) (machine.Value, error) {
		n, err := i.Number(args[0])
		if err != nil {
			return machine.Null, err
		}
		return i.NewNumber(n * 2), nil
	}))
	require.NoError(t, m.CompileString(`write double(21) end`, t.Name()))
	require.NoError(t, m.Run())
	require.Equal(t, "42\n", out.String())
}

func TestUseBeforeSetIsACompileError(t *testing.T) {
	m := machine.New(nil)
	err := m.CompileString(`write x end`, t.Name())
	require.Error(t, err)
}

func TestCallProcFromHost(t *testing.T) {
	var out bytes.Buffer
	m := machine.New(nil, machine.Output(&out))
	src := `
proc square(n)
	return $n * $n
end
`
	require.NoError(t, m.CompileString(src, t.Name()))
	require.NoError(t, m.Run())
	result, err := m.CallProc("square", m.NewNumber(6))
	require.NoError(t, err)
	n, err := m.Number(result)
	require.NoError(t, err)
	require.Equal(t, float64(36), n)
}

func TestPushAndPopDriveOperandStackDirectly(t *testing.T) {
	m := machine.New(nil, machine.Output(new(bytes.Buffer)))
	require.NoError(t, m.CompileString(``, t.Name()))
	require.NoError(t, m.Run())
	require.NoError(t, m.Push(m.NewNumber(41)))
	v, err := m.Pop()
	require.NoError(t, err)
	n, err := m.Number(v)
	require.NoError(t, err)
	require.Equal(t, float64(41), n)

	_, err = m.Pop()
	require.Error(t, err, "popping an empty operand stack must fail")
}

// TestRuntimeErrorIsAnnotatedWithTheFailingInstruction exercises
// vm.Disassemble wired into RuntimeError (vm/run.go's recoverToError):
// a division-by-zero fault must report the opcode that faulted, not
// just its pc.
func TestRuntimeErrorIsAnnotatedWithTheFailingInstruction(t *testing.T) {
	var out bytes.Buffer
	m := machine.New(nil, machine.Output(&out))
	require.NoError(t, m.CompileString(`write 1 / 0 end`, t.Name()))
	err := m.Run()
	require.Error(t, err)
	require.Contains(t, err.Error(), "div")
}

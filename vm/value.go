package vm

// Value is a handle into the Instance's heap, not a pointer: spec.md §9
// asks for a representation that lets mark traversal visit a cyclic
// array graph and terminate cleanly, which a small integer index plus a
// per-object marked bit gives for free. Null (-1) names no object; the
// zero Value is handle 0, an ordinary object.
type Value int32

// Null is the absence of a value: an array slot that has never been
// written (spec.md §3, "Reading an array slot that was never written
// yields a fresh number 0" — Null is the sentinel the interpreter sees
// before synthesizing that fresh zero).
const Null Value = -1

type kind byte

const (
	kindNumber kind = iota
	kindString
	kindArray
	kindNative
)

// NativeHooks lets a host-allocated Value participate in collection: Free
// runs exactly once when the object becomes unreachable, Mark is called
// during the mark phase so the host can keep its own referents alive by
// calling Instance.MarkRoot on them (spec.md §3, "native opaque host
// pointer with optional free and mark callbacks").
type NativeHooks struct {
	Data interface{}
	Free func(data interface{})
	Mark func(data interface{}, i *Instance)
}

type object struct {
	kind   kind
	marked bool

	num    float64
	str    []byte
	arr    []Value
	native *NativeHooks
}

// Kind constants exposed to hosts inspecting a Value (spec.md §1,
// "runtime tag inspection" is the only type checking this language does).
const (
	KindNumber = kindNumber
	KindString = kindString
	KindArray  = kindArray
	KindNative = kindNative
)

// Kind returns v's runtime type tag, or an error if v does not name a
// live object.
func (i *Instance) Kind(v Value) (kind, error) {
	obj, err := i.heap.get(v)
	if err != nil {
		return 0, err
	}
	return obj.kind, nil
}

// Number returns v's numeric payload; it is an error if v is not a number.
func (i *Instance) Number(v Value) (float64, error) {
	obj, err := i.heap.get(v)
	if err != nil {
		return 0, err
	}
	if obj.kind != kindNumber {
		return 0, i.runtimeErrorf("value is not a number")
	}
	return obj.num, nil
}

// String returns v's byte payload; it is an error if v is not a string.
func (i *Instance) String(v Value) (string, error) {
	obj, err := i.heap.get(v)
	if err != nil {
		return "", err
	}
	if obj.kind != kindString {
		return "", i.runtimeErrorf("value is not a string")
	}
	return string(obj.str), nil
}

// ArrayLen returns the length of the array named by v.
func (i *Instance) ArrayLen(v Value) (int, error) {
	obj, err := i.heap.get(v)
	if err != nil {
		return 0, err
	}
	if obj.kind != kindArray {
		return 0, i.runtimeErrorf("value is not an array")
	}
	return len(obj.arr), nil
}

// Native returns v's host payload; it is an error if v is not native.
func (i *Instance) Native(v Value) (interface{}, error) {
	obj, err := i.heap.get(v)
	if err != nil {
		return nil, err
	}
	if obj.kind != kindNative {
		return nil, i.runtimeErrorf("value is not native")
	}
	return obj.native.Data, nil
}

// NewNumber allocates a fresh heap cell holding v (§3: every runtime
// value, including numbers, is an owned heap cell).
func (i *Instance) NewNumber(v float64) Value {
	h := i.heap.alloc(i, kindNumber)
	i.heap.objects[h].num = v
	return h
}

// NewString allocates a fresh heap cell holding a copy of s.
func (i *Instance) NewString(s string) Value {
	h := i.heap.alloc(i, kindString)
	i.heap.objects[h].str = []byte(s)
	return h
}

// NewArray allocates a fresh array of length n with every slot unwritten.
func (i *Instance) NewArray(n int) Value {
	h := i.heap.alloc(i, kindArray)
	arr := make([]Value, n)
	for k := range arr {
		arr[k] = Null
	}
	i.heap.objects[h].arr = arr
	return h
}

// NewNative allocates a fresh opaque host value with the given hooks.
func (i *Instance) NewNative(hooks *NativeHooks) Value {
	h := i.heap.alloc(i, kindNative)
	i.heap.objects[h].native = hooks
	return h
}

// MarkRoot marks v and everything reachable from it as live. Native mark
// hooks call this to anchor host-held Values across the next collection.
func (i *Instance) MarkRoot(v Value) {
	i.heap.mark(v, i)
}

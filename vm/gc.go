package vm

import "github.com/pkg/errors"

// heap is the collector-owned object arena. Every live object is
// reachable by its Value index; dead slots are recycled via free so the
// arena does not grow without bound under steady-state allocation.
//
// Grounded on spec.md §4.5: mark-from-roots (operand stack + initialized
// globals, recursing through arrays and native mark hooks), sweep an
// intrusive list of live objects, 2x-headroom threshold growth. The
// "intrusive singly-linked list" of spec.md is represented here as a
// plain slice walked in index order during sweep — spec.md §9 notes this
// substitution is acceptable as long as finalization still runs exactly
// once per dead object, which the nil-out-on-free below guarantees.
type heap struct {
	objects   []*object
	free      []int32
	liveCount int
	threshold int
}

func newHeap(initialThreshold int) *heap {
	if initialThreshold < 1 {
		initialThreshold = 2
	}
	return &heap{threshold: initialThreshold}
}

func (h *heap) get(v Value) (*object, error) {
	if v < 0 || int(v) >= len(h.objects) || h.objects[v] == nil {
		return nil, errors.Errorf("invalid value reference %d", v)
	}
	return h.objects[v], nil
}

// alloc reserves a new object of the given kind, collecting first if the
// live count has reached the threshold (spec.md §4.5, "Trigger").
func (h *heap) alloc(i *Instance, k kind) Value {
	if h.liveCount >= h.threshold {
		h.collect(i)
	}
	h.liveCount++
	if n := len(h.free); n > 0 {
		idx := h.free[n-1]
		h.free = h.free[:n-1]
		h.objects[idx] = &object{kind: k}
		return Value(idx)
	}
	idx := Value(len(h.objects))
	h.objects = append(h.objects, &object{kind: k})
	return idx
}

// mark visits v and, if not already marked, recurses into its
// referents: array elements and, for native objects, the host-supplied
// mark hook (spec.md §4.5, step 1).
func (h *heap) mark(v Value, i *Instance) {
	if v < 0 || int(v) >= len(h.objects) {
		return
	}
	obj := h.objects[v]
	if obj == nil || obj.marked {
		return
	}
	obj.marked = true
	switch obj.kind {
	case kindArray:
		for _, e := range obj.arr {
			h.mark(e, i)
		}
	case kindNative:
		if obj.native != nil && obj.native.Mark != nil {
			obj.native.Mark(obj.native.Data, i)
		}
	}
}

// collect runs one mark-sweep cycle rooted at i's operand stack and
// initialized globals (spec.md §4.5, "Roots"). The indirection (call)
// stack holds only plain integers and is never a root.
func (h *heap) collect(i *Instance) {
	for _, v := range i.stack[:i.sp] {
		h.mark(v, i)
	}
	for idx := range i.globals {
		if i.globals[idx].initialized {
			h.mark(i.globals[idx].value, i)
		}
	}

	live := 0
	for idx, obj := range h.objects {
		if obj == nil {
			continue
		}
		if obj.marked {
			obj.marked = false
			live++
			continue
		}
		h.finalize(obj)
		h.objects[idx] = nil
		h.free = append(h.free, int32(idx))
	}
	h.liveCount = live
	h.threshold = 2 * live
	if h.threshold < 2 {
		h.threshold = 2
	}
}

// finalize runs exactly once per object, the moment it is swept as dead
// (spec.md §4.5, "Sweep"): release the string buffer and array storage
// (implicit under the Go garbage collector) and invoke any native free
// hook.
func (h *heap) finalize(obj *object) {
	if obj.kind == kindNative && obj.native != nil && obj.native.Free != nil {
		obj.native.Free(obj.native.Data)
	}
	obj.str = nil
	obj.arr = nil
}

// teardown clears every object unconditionally by running one final
// collection with no roots (spec.md §5, "Teardown ... runs one final
// collection").
func (h *heap) teardown() {
	for idx, obj := range h.objects {
		if obj == nil {
			continue
		}
		h.finalize(obj)
		h.objects[idx] = nil
	}
	h.free = h.free[:0]
	h.liveCount = 0
	h.objects = nil
}

// Live returns the number of currently-live heap objects.
func (h *heap) Live() int { return h.liveCount }

package vm

import "testing"

// rootSet is a test helper implementing GCRoots over a value slice.
type rootSet []Value

func (r rootSet) ForEachRoot(fn func(Value)) {
	for _, v := range r {
		fn(v)
	}
}

func TestHeapAllocAndResolve(t *testing.T) {
	h := NewHeap()

	id := h.AllocObject(NewMaterObject(), true)
	if id == 0 {
		t.Fatal("handle 0 is reserved")
	}
	if h.Object(id) == nil {
		t.Fatal("fresh handle must resolve")
	}
	if h.Object(0) != nil {
		t.Error("sentinel handle must not resolve")
	}

	sid := h.AllocString("hello")
	if sid == 0 {
		t.Fatal("string handle 0 is reserved")
	}
	if h.String(sid) != "hello" {
		t.Errorf("String(%d) = %q", sid, h.String(sid))
	}
}

func TestGCCollectsUnreachable(t *testing.T) {
	h := NewHeap()

	live := h.AllocObject(NewMaterObject(), true)
	dead := h.AllocObject(NewMaterObject(), true)
	deadStr := h.AllocString("gone")
	liveStr := h.AllocString("kept")

	// Root the live object; have it reference the live string.
	h.Object(live).SetProperty(AtomName, StringValue(liveStr))

	h.Collect(rootSet{ObjectValue(live)})

	if h.Object(live) == nil {
		t.Error("rooted object was collected")
	}
	if !h.ValidString(liveStr) {
		t.Error("string reachable from root was collected")
	}
	if h.Object(dead) != nil {
		t.Error("unreachable object survived")
	}
	if h.ValidString(deadStr) {
		t.Error("unreachable string survived")
	}
}

func TestGCHandlesCycles(t *testing.T) {
	h := NewHeap()

	a := h.AllocObject(NewMaterObject(), true)
	b := h.AllocObject(NewMaterObject(), true)
	h.Object(a).SetProperty(AtomNext, ObjectValue(b))
	h.Object(b).SetProperty(AtomNext, ObjectValue(a))

	h.Collect(rootSet{ObjectValue(a)})
	if h.Object(a) == nil || h.Object(b) == nil {
		t.Error("cycle reachable from root was collected")
	}

	h.Collect(rootSet{})
	if h.Object(a) != nil || h.Object(b) != nil {
		t.Error("unreachable cycle survived")
	}
}

func TestGCNonCollectable(t *testing.T) {
	h := NewHeap()
	proto := h.AllocObject(NewMaterObject(), false)
	h.Collect(rootSet{})
	if h.Object(proto) == nil {
		t.Error("non-collectable object was swept")
	}
}

func TestGCStaticPins(t *testing.T) {
	h := NewHeap()
	pinned := h.AllocObject(NewMaterObject(), true)
	h.AddStaticObject(pinned)
	h.AddStaticObject(pinned)

	h.Collect(rootSet{})
	if h.Object(pinned) == nil {
		t.Fatal("pinned object was collected")
	}

	h.RemoveStaticObject(pinned)
	h.Collect(rootSet{})
	if h.Object(pinned) == nil {
		t.Fatal("object with remaining pin was collected")
	}

	h.RemoveStaticObject(pinned)
	h.Collect(rootSet{})
	if h.Object(pinned) != nil {
		t.Error("unpinned object survived")
	}
}

func TestHandleReuseAfterSweep(t *testing.T) {
	h := NewHeap()
	dead := h.AllocObject(NewMaterObject(), true)
	h.Collect(rootSet{})
	if h.Object(dead) != nil {
		t.Fatal("object should be swept")
	}
	reused := h.AllocObject(NewMaterObject(), true)
	if reused != dead {
		t.Errorf("freed handle not reused: got %d, want %d", reused, dead)
	}
}

func TestGCSoundness(t *testing.T) {
	// After a collection, every value reachable from the root set must
	// resolve to a live handle.
	h := NewHeap()
	root := h.AllocObject(NewArrayObject(), true)
	for i := 0; i < 50; i++ {
		child := h.AllocObject(NewMaterObject(), true)
		h.Object(child).SetProperty(AtomValueProp, h.AllocStringValue("payload"))
		h.Object(root).AppendElement(ObjectValue(child))
	}
	// Garbage interleaved with the live graph.
	for i := 0; i < 50; i++ {
		h.AllocObject(NewMaterObject(), true)
	}

	h.Collect(rootSet{ObjectValue(root)})

	obj := h.Object(root)
	if obj == nil {
		t.Fatal("root collected")
	}
	for i := 0; i < obj.ElementCount(); i++ {
		e, _ := obj.Element(i)
		child := h.ObjectOf(e)
		if child == nil {
			t.Fatalf("element %d does not resolve after collection", i)
		}
		v, _ := child.Property(AtomValueProp)
		if !h.ValidString(v.StringID()) {
			t.Fatalf("string of element %d does not resolve", i)
		}
	}
}

func TestMemoryInfo(t *testing.T) {
	h := NewHeap()
	h.AllocObject(NewMaterObject(), true)
	h.AllocString("abc")
	info := h.MemoryInfo()
	if info.NumAllocations < 2 {
		t.Errorf("NumAllocations = %d, want >= 2", info.NumAllocations)
	}
	if info.AllocatedSize == 0 {
		t.Error("AllocatedSize should be nonzero")
	}
	if len(info.ByType) == 0 {
		t.Error("ByType should enumerate categories")
	}
}

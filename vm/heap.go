package vm

// ---------------------------------------------------------------------------
// Heap: index-addressed stores for strings and objects
// ---------------------------------------------------------------------------

// Heap owns every collectable entity. Two index-addressed tables, one for
// strings and one for objects, hand out stable 32-bit handles; sweeping
// frees a slot and recycles its handle. Slot 0 of each table is the
// reserved sentinel (empty string, null object) and is never collected.
//
// The heap is mutated only inside VM safe points, so it needs no locking.
type Heap struct {
	objects     []Object
	objMarked   []bool
	objPinned   []bool // non-collectable: prototypes, root functions
	objFree     []ObjectID
	strings     []string
	strLive     []bool
	strMarked   []bool
	strPinned   []bool
	strFree     []StringID
	statics     map[ObjectID]int // pin counts for event closures
	allocs      int              // allocations since the last collection
	totalAllocs int
	gcThreshold int
}

// DefaultGCThreshold is the allocation high-water mark that triggers a
// collection at the next safe point.
const DefaultGCThreshold = 1024

// NewHeap creates an empty heap. Slot 0 of each store holds the sentinel.
func NewHeap() *Heap {
	h := &Heap{
		objects:     []Object{nil},
		objMarked:   []bool{false},
		objPinned:   []bool{true},
		strings:     []string{""},
		strLive:     []bool{true},
		strMarked:   []bool{false},
		strPinned:   []bool{true},
		statics:     make(map[ObjectID]int),
		gcThreshold: DefaultGCThreshold,
	}
	return h
}

// SetGCThreshold overrides the collection high-water mark.
func (h *Heap) SetGCThreshold(n int) {
	if n > 0 {
		h.gcThreshold = n
	}
}

// ---------------------------------------------------------------------------
// Object store
// ---------------------------------------------------------------------------

// AllocObject adds an object to the store and returns its handle. When
// collectable is false the object survives every sweep (prototypes, root
// functions, registered factories).
func (h *Heap) AllocObject(obj Object, collectable bool) ObjectID {
	h.allocs++
	h.totalAllocs++
	if n := len(h.objFree); n > 0 {
		id := h.objFree[n-1]
		h.objFree = h.objFree[:n-1]
		h.objects[id] = obj
		h.objMarked[id] = false
		h.objPinned[id] = !collectable
		return id
	}
	id := ObjectID(len(h.objects))
	h.objects = append(h.objects, obj)
	h.objMarked = append(h.objMarked, false)
	h.objPinned = append(h.objPinned, !collectable)
	return id
}

// AllocObjectValue is AllocObject returning the boxed handle.
func (h *Heap) AllocObjectValue(obj Object, collectable bool) Value {
	return ObjectValue(h.AllocObject(obj, collectable))
}

// Object resolves a handle, or nil when the handle is invalid or freed.
func (h *Heap) Object(id ObjectID) Object {
	if id == 0 || int(id) >= len(h.objects) {
		return nil
	}
	return h.objects[id]
}

// ValidObject reports whether a handle resolves to a live object.
func (h *Heap) ValidObject(id ObjectID) bool {
	return id != 0 && int(id) < len(h.objects) && h.objects[id] != nil
}

// ObjectOf resolves an object-handle value, or nil.
func (h *Heap) ObjectOf(v Value) Object {
	if !v.IsObject() {
		return nil
	}
	return h.Object(v.ObjectID())
}

// ---------------------------------------------------------------------------
// String store
// ---------------------------------------------------------------------------

// AllocString adds a string to the store and returns its handle.
func (h *Heap) AllocString(s string) StringID {
	h.allocs++
	h.totalAllocs++
	if n := len(h.strFree); n > 0 {
		id := h.strFree[n-1]
		h.strFree = h.strFree[:n-1]
		h.strings[id] = s
		h.strLive[id] = true
		h.strMarked[id] = false
		h.strPinned[id] = false
		return id
	}
	id := StringID(len(h.strings))
	h.strings = append(h.strings, s)
	h.strLive = append(h.strLive, true)
	h.strMarked = append(h.strMarked, false)
	h.strPinned = append(h.strPinned, false)
	return id
}

// AllocStringValue is AllocString returning the boxed handle.
func (h *Heap) AllocStringValue(s string) Value {
	return StringValue(h.AllocString(s))
}

// PinString makes a string handle survive every sweep; used for the
// program's string-literal pool.
func (h *Heap) PinString(id StringID) {
	if int(id) < len(h.strPinned) {
		h.strPinned[id] = true
	}
}

// String resolves a handle. Invalid handles resolve to the sentinel empty
// string, matching the store's slot-0 error entry.
func (h *Heap) String(id StringID) string {
	if int(id) >= len(h.strings) || !h.strLive[id] {
		return ""
	}
	return h.strings[id]
}

// ValidString reports whether a handle resolves to a live string.
func (h *Heap) ValidString(id StringID) bool {
	return id != 0 && int(id) < len(h.strings) && h.strLive[id]
}

// ---------------------------------------------------------------------------
// Static objects: GC pins for in-flight closures
// ---------------------------------------------------------------------------

// AddStaticObject pins an object as a GC root until removed. Pins are
// counted so the same closure can be in flight more than once.
func (h *Heap) AddStaticObject(id ObjectID) {
	h.statics[id]++
}

// RemoveStaticObject drops one pin.
func (h *Heap) RemoveStaticObject(id ObjectID) {
	if n, ok := h.statics[id]; ok {
		if n <= 1 {
			delete(h.statics, id)
		} else {
			h.statics[id] = n - 1
		}
	}
}

// ---------------------------------------------------------------------------
// Accounting
// ---------------------------------------------------------------------------

// MemoryInfo is the meminfo() snapshot: synthetic block accounting over the
// live stores, grouped by object kind.
type MemoryInfo struct {
	FreeSize       int
	AllocatedSize  int
	NumAllocations int
	ByType         []MemoryTypeInfo
}

// MemoryTypeInfo is one allocationsByType[] entry.
type MemoryTypeInfo struct {
	Type  string
	Count int
	Size  int
}

// memBlockSize is the synthetic block unit used for accounting.
const memBlockSize = 16

// MemoryInfo computes the current accounting snapshot.
func (h *Heap) MemoryInfo() MemoryInfo {
	counts := map[string]int{}
	live := 0
	for _, obj := range h.objects[1:] {
		if obj != nil {
			counts[obj.TypeName()]++
			live++
		}
	}
	strCount := 0
	strBytes := 0
	for id := 1; id < len(h.strings); id++ {
		if h.strLive[id] {
			strCount++
			strBytes += len(h.strings[id])
		}
	}
	info := MemoryInfo{
		NumAllocations: h.totalAllocs,
		AllocatedSize:  live*memBlockSize + strBytes,
		FreeSize:       (len(h.objFree) + len(h.strFree)) * memBlockSize,
	}
	for _, t := range []string{"object", "array", "function", "native", "string"} {
		c := counts[t]
		size := c * memBlockSize
		if t == "string" {
			c = strCount
			size = strBytes
		}
		info.ByType = append(info.ByType, MemoryTypeInfo{Type: t, Count: c, Size: size})
	}
	return info
}

// NeedsCollection reports whether allocations crossed the high-water mark.
func (h *Heap) NeedsCollection() bool { return h.allocs >= h.gcThreshold }

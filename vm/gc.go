package vm

// ---------------------------------------------------------------------------
// Garbage collector: mark and sweep over both stores
// ---------------------------------------------------------------------------

// GCRoots is implemented by anything that contributes to the root set: the
// run loop (task stacks, pending events), programs (constants, globals,
// prototypes), and tests.
type GCRoots interface {
	ForEachRoot(fn func(Value))
}

// Collect runs a full mark/sweep collection. The root set is the union of
// the supplied roots plus every statically pinned object. Collect must only
// be called at a safe point, between complete opcodes.
func (h *Heap) Collect(roots ...GCRoots) {
	// Clear mark bits on every live slot.
	for i := range h.objMarked {
		h.objMarked[i] = false
	}
	for i := range h.strMarked {
		h.strMarked[i] = false
	}

	// Seed with the root set.
	for id := range h.statics {
		h.markObject(id)
	}
	for _, r := range roots {
		r.ForEachRoot(h.MarkValue)
	}

	h.sweep()
	h.allocs = 0
}

// MarkValue marks the store entry a value references, then traverses it.
// Cycles terminate on the mark bit.
func (h *Heap) MarkValue(v Value) {
	switch {
	case v.IsObject():
		h.markObject(v.ObjectID())
	case v.IsString():
		h.markString(v.StringID())
	case v.IsElemRef():
		id, _ := v.ElemRef()
		h.markObject(id)
	}
}

func (h *Heap) markObject(id ObjectID) {
	if id == 0 || int(id) >= len(h.objects) || h.objects[id] == nil || h.objMarked[id] {
		return
	}
	h.objMarked[id] = true
	h.objects[id].ForEachRef(h.MarkValue)
}

func (h *Heap) markString(id StringID) {
	if id == 0 || int(id) >= len(h.strings) || !h.strLive[id] {
		return
	}
	h.strMarked[id] = true
}

// sweep frees every unmarked collectable slot. Freed handles go on the free
// lists for reuse; a stale handle then refuses to resolve.
func (h *Heap) sweep() {
	for i := 1; i < len(h.objects); i++ {
		id := ObjectID(i)
		if h.objects[i] == nil || h.objPinned[i] || h.objMarked[i] {
			continue
		}
		if _, pinned := h.statics[id]; pinned {
			continue
		}
		h.objects[i] = nil
		h.objFree = append(h.objFree, id)
	}
	for i := 1; i < len(h.strings); i++ {
		if !h.strLive[i] || h.strPinned[i] || h.strMarked[i] {
			continue
		}
		h.strLive[i] = false
		h.strings[i] = ""
		h.strFree = append(h.strFree, StringID(i))
	}
}

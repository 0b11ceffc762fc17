package vm

// ---------------------------------------------------------------------------
// Array, Object and Iterator prototypes
// ---------------------------------------------------------------------------

func registerArrayProto(p *Program) {
	NewObjectFactory(p, AtomArray, []PropDesc{
		{Atom: AtomConstructor, Kind: DescFunction, Fn: arrayConstruct},
	})
}

// arrayConstruct builds an array from its arguments.
func arrayConstruct(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	arr := NewArrayObject()
	for i := 0; i < nparams; i++ {
		arr.AppendElement(eu.Arg(i, nparams))
	}
	eu.Push(eu.Heap().AllocObjectValue(arr, true))
	return ReturnCount(1)
}

func registerObjectProto(p *Program) {
	NewObjectFactory(p, AtomObject, []PropDesc{
		{Atom: AtomConstructor, Kind: DescFunction, Fn: objectConstruct},
	})
}

func objectConstruct(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	// A string argument wraps the string so it can dispatch methods.
	if nparams >= 1 {
		if v := eu.Arg(0, nparams); v.IsString() {
			eu.Push(eu.Heap().AllocObjectValue(NewStringObject(v.StringID()), true))
			return ReturnCount(1)
		}
	}
	eu.Push(eu.Heap().AllocObjectValue(NewMaterObject(), true))
	return ReturnCount(1)
}

// ---------------------------------------------------------------------------
// Iterator
// ---------------------------------------------------------------------------

// iteratorObject walks the elements of an array, the bytes of a string, or
// the property values of a plain object in insertion order. In numeric and
// string contexts the iterator stands in for its current value, which is
// what makes `for (var v : a) s = s + v` see the elements.
type iteratorObject struct {
	MaterObject
	target Value
	index  int
}

func (it *iteratorObject) TypeName() string { return "object" }

// resolveTarget unwraps string-wrapper targets so iteration visits the
// underlying bytes.
func (it *iteratorObject) resolveTarget(eu *ExecutionUnit) Value {
	if so, ok := eu.Heap().ObjectOf(it.target).(*StringObject); ok {
		return StringValue(so.StringID())
	}
	return it.target
}

func (it *iteratorObject) count(eu *ExecutionUnit) int {
	target := it.resolveTarget(eu)
	switch {
	case target.IsString():
		return len(eu.Heap().String(target.StringID()))
	case target.IsObject():
		obj := eu.Heap().ObjectOf(target)
		if obj == nil {
			return 0
		}
		if obj.ElementCount() > 0 || obj.IsArray() {
			return obj.ElementCount()
		}
		return obj.PropertyCount()
	default:
		return 0
	}
}

func (it *iteratorObject) current(eu *ExecutionUnit) Value {
	target := it.resolveTarget(eu)
	switch {
	case target.IsString():
		s := eu.Heap().String(target.StringID())
		if it.index < len(s) {
			return IntValue(int32(s[it.index]))
		}
	case target.IsObject():
		obj := eu.Heap().ObjectOf(target)
		if obj == nil {
			return Undefined
		}
		if obj.ElementCount() > 0 || obj.IsArray() {
			v, _ := obj.Element(it.index)
			return v
		}
		return obj.PropertyAt(it.index)
	}
	return Undefined
}

func (it *iteratorObject) Unbox(eu *ExecutionUnit) (Value, bool) {
	return it.current(eu), true
}

func (it *iteratorObject) ForEachRef(fn func(Value)) {
	fn(it.target)
	it.MaterObject.ForEachRef(fn)
}

func registerIteratorProto(p *Program) {
	NewObjectFactory(p, AtomIteratorProto, []PropDesc{
		{Atom: AtomConstructor, Kind: DescFunction, Fn: iteratorConstruct},
		{Atom: AtomDone, Kind: DescFunction, Fn: iteratorDone},
		{Atom: AtomNext, Kind: DescFunction, Fn: iteratorNext},
		{Atom: AtomValueProp, Kind: DescFunction, Fn: iteratorValue},
	})
}

// iteratorConstruct replaces the seeded instance with a dedicated iterator
// over the first argument.
func iteratorConstruct(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	it := &iteratorObject{}
	if nparams >= 1 {
		it.target = eu.Arg(0, nparams)
	}
	// Carry the method surface over from the seeded instance.
	if inst := eu.Heap().ObjectOf(this); inst != nil {
		for i := 0; i < inst.PropertyCount(); i++ {
			it.SetProperty(inst.PropertyAtomAt(i), inst.PropertyAt(i))
		}
	}
	eu.Push(eu.Heap().AllocObjectValue(it, true))
	return ReturnCount(1)
}

func asIterator(eu *ExecutionUnit, this Value) *iteratorObject {
	it, _ := eu.Heap().ObjectOf(this).(*iteratorObject)
	return it
}

func iteratorDone(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	it := asIterator(eu, this)
	if it == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	eu.Push(BoolValue(it.index >= it.count(eu)))
	return ReturnCount(1)
}

func iteratorNext(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	it := asIterator(eu, this)
	if it == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	if it.index < it.count(eu) {
		it.index++
	}
	return ReturnCount(0)
}

func iteratorValue(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	it := asIterator(eu, this)
	if it == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	eu.Push(it.current(eu))
	return ReturnCount(1)
}

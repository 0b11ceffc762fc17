package vm

// ---------------------------------------------------------------------------
// Host object kit
// ---------------------------------------------------------------------------

// DescKind tells how a descriptor entry seeds the prototype.
type DescKind int

const (
	// DescFunction binds a native function under the atom.
	DescFunction DescKind = iota
	// DescProperty stores a plain value under the atom.
	DescProperty
)

// PropDesc is one entry of a host object's static descriptor list.
type PropDesc struct {
	Atom  Atom
	Kind  DescKind
	Fn    NativeFn
	Value Value
}

// ObjectFactory builds a built-in prototype object from a static
// descriptor list. The prototype is a non-collectable class-like object:
// `new Proto(...)` copies its descriptors into the instance and runs the
// `constructor` entry, so the VM's dispatch machinery sees no difference
// between script classes and host prototypes.
type ObjectFactory struct {
	name  Atom
	objID ObjectID
	obj   *MaterObject
}

// NewObjectFactory installs a prototype into a program's globals under
// name, seeded from the descriptor list.
func NewObjectFactory(p *Program, name Atom, descs []PropDesc) *ObjectFactory {
	obj := NewMaterObject()
	for _, d := range descs {
		switch d.Kind {
		case DescFunction:
			fnID := p.Heap().AllocObject(NewNativeFunction(d.Fn), false)
			obj.SetProperty(d.Atom, ObjectValue(fnID))
		case DescProperty:
			obj.SetProperty(d.Atom, d.Value)
		}
	}
	id := p.Heap().AllocObject(obj, false)
	p.SetGlobal(name, ObjectValue(id))
	return &ObjectFactory{name: name, objID: id, obj: obj}
}

// Object returns the prototype object.
func (f *ObjectFactory) Object() *MaterObject { return f.obj }

// Value returns the boxed prototype handle.
func (f *ObjectFactory) Value() Value { return ObjectValue(f.objID) }

// AddNativeGlobal installs a bare native function into the globals.
func AddNativeGlobal(p *Program, name Atom, fn NativeFn) {
	id := p.Heap().AllocObject(NewNativeFunction(fn), false)
	p.SetGlobal(name, ObjectValue(id))
}

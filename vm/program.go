package vm

// ---------------------------------------------------------------------------
// Program: one loaded script
// ---------------------------------------------------------------------------

// Program binds a compiled root function to its global symbol table, the
// shared string-literal pool, and the registered built-in prototypes. A
// Program's lifetime spans one script load.
type Program struct {
	heap  *Heap
	atoms *AtomTable

	main     ObjectID // root Function, non-collectable
	globalID ObjectID // global object, non-collectable
	literals map[string]StringID

	// Compile is installed by the compiler package so import and
	// importString can build modules without a dependency cycle.
	Compile CompileFn
	// ReadModule resolves an import path to source text, typically from
	// the mounted filesystem.
	ReadModule ModuleReaderFn
	// FileSystem backs the FS, File and Directory prototypes.
	FileSystem FileSystem
}

// NewProgram creates an empty program over a heap and atom table. The
// built-in prototypes are installed by RegisterBuiltins.
func NewProgram(heap *Heap, atoms *AtomTable) *Program {
	p := &Program{
		heap:     heap,
		atoms:    atoms,
		literals: make(map[string]StringID),
	}
	p.globalID = heap.AllocObject(NewMaterObject(), false)
	return p
}

// Heap returns the heap this program allocates from.
func (p *Program) Heap() *Heap { return p.heap }

// Atoms returns the process atom table.
func (p *Program) Atoms() *AtomTable { return p.atoms }

// AtomizeString interns a name.
func (p *Program) AtomizeString(s string) Atom { return p.atoms.Intern(s) }

// SetMain installs the root function. The handle is expected to be
// non-collectable.
func (p *Program) SetMain(id ObjectID) { p.main = id }

// MainID returns the root function handle.
func (p *Program) MainID() ObjectID { return p.main }

// Main returns the root function, or nil before SetMain.
func (p *Program) Main() *Function {
	if f, ok := p.heap.Object(p.main).(*Function); ok {
		return f
	}
	return nil
}

// GlobalObject returns the global object, which also serves as the default
// this value for plain calls.
func (p *Program) GlobalObject() Object { return p.heap.Object(p.globalID) }

// GlobalObjectValue returns the boxed global object handle.
func (p *Program) GlobalObjectValue() Value { return ObjectValue(p.globalID) }

// Global reads a global by atom.
func (p *Program) Global(a Atom) (Value, bool) {
	return p.GlobalObject().Property(a)
}

// SetGlobal writes a global by atom.
func (p *Program) SetGlobal(a Atom, v Value) {
	p.GlobalObject().SetProperty(a, v)
}

// AddStringLiteral interns a source string literal into the shared pool.
// Pool entries are pinned: they live as long as the process, like the
// program itself.
func (p *Program) AddStringLiteral(s string) StringID {
	if id, ok := p.literals[s]; ok {
		return id
	}
	id := p.heap.AllocString(s)
	p.heap.PinString(id)
	p.literals[s] = id
	return id
}

// StringLiterals returns the pool contents, for the image writer.
func (p *Program) StringLiterals() map[string]StringID { return p.literals }

// ForEachRoot contributes the program's GC roots: the root function with
// its constant pool, and the global object with the registered prototypes.
func (p *Program) ForEachRoot(fn func(Value)) {
	if p.main != 0 {
		fn(ObjectValue(p.main))
	}
	fn(ObjectValue(p.globalID))
	for _, id := range p.literals {
		fn(StringValue(id))
	}
}

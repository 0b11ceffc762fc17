package compiler

import (
	"fmt"

	"github.com/chazu/m8rgo/vm"
)

// ---------------------------------------------------------------------------
// Emitter: bytecode generation services used by the parser
// ---------------------------------------------------------------------------

// codeBuf is one bytecode emission target: either a function's main stream
// or a deferred region awaiting its splice.
type codeBuf struct {
	bytes []byte
}

func (b *codeBuf) len() int { return len(b.bytes) }

func (b *codeBuf) patchInt16(pos int, v int16) {
	b.bytes[pos] = byte(uint16(v))
	b.bytes[pos+1] = byte(uint16(v) >> 8)
}

// region is a deferred code region. Emission toggles between the region
// and its parent until emitDeferred splices the collected bytes into the
// parent with a linear offset translation.
type region struct {
	buf    codeBuf
	parent *codeBuf
}

// Label marks a code position for jump resolution. addr is the position a
// backward jump targets; matchedAddr and buf record where a forward jump's
// operand awaits its fix-up. Jump offsets are relative, so fully resolved
// code inside a deferred region splices without rewriting; only labels
// that cross a region boundary translate, via translate().
type Label struct {
	buf         *codeBuf
	addr        int
	matchedAddr int
	used        bool
}

// translate shifts a label recorded inside a spliced region into its
// parent's coordinate space.
func (l *Label) translate(from *codeBuf, to *codeBuf, offset int) {
	if l.buf == from {
		l.buf = to
		l.matchedAddr += offset
		l.addr += offset
	}
}

// pendingKind tracks a property or element access whose final operation
// (load, store, call, reference) is decided by what the parser sees next.
type pendingKind int

const (
	pendNone pendingKind = iota
	pendProp             // stack holds [obj name]
	pendElt              // stack holds [obj index]
)

// funcState is one partially built function on the parser's function stack.
type funcState struct {
	fn      *vm.Function
	main    codeBuf
	regions []*region
	active  *codeBuf

	breakStack    [][]*Label
	continueStack [][]*Label
}

func newFuncState(ctor bool) *funcState {
	fs := &funcState{fn: vm.NewFunction(ctor)}
	fs.active = &fs.main
	return fs
}

// currentFunc returns the function being emitted into.
func (p *Parser) currentFunc() *funcState {
	return p.funcs[len(p.funcs)-1]
}

func (p *Parser) emitByte(b byte) {
	buf := p.currentFunc().active
	buf.bytes = append(buf.bytes, b)
}

func (p *Parser) emitOp(op vm.Opcode) { p.emitByte(byte(op)) }

func (p *Parser) emitOpByte(op vm.Opcode, operand byte) {
	p.emitByte(byte(op))
	p.emitByte(operand)
}

func (p *Parser) emitOpU16(op vm.Opcode, operand uint16) {
	p.emitByte(byte(op))
	p.emitByte(byte(operand))
	p.emitByte(byte(operand >> 8))
}

// ---------------------------------------------------------------------------
// Deferred code regions
// ---------------------------------------------------------------------------

// startDeferred opens a deferred region over the current target and begins
// collecting into it. Returns the region's starting offset.
func (p *Parser) startDeferred() int {
	fs := p.currentFunc()
	r := &region{parent: fs.active}
	fs.regions = append(fs.regions, r)
	fs.active = &r.buf
	return r.buf.len()
}

// endDeferred suspends collection, resuming emission into the region's
// parent.
func (p *Parser) endDeferred() {
	fs := p.currentFunc()
	fs.active = fs.regions[len(fs.regions)-1].parent
}

// resumeDeferred resumes collection into the open region and returns its
// current offset.
func (p *Parser) resumeDeferred() int {
	fs := p.currentFunc()
	r := fs.regions[len(fs.regions)-1]
	fs.active = &r.buf
	return r.buf.len()
}

// emitDeferred splices the open region into its parent and returns the
// parent offset where it landed. Break and continue labels taken inside
// the region are translated into the parent's space; other labels are the
// caller's responsibility, mirroring the switch fix-up rules.
func (p *Parser) emitDeferred() int {
	fs := p.currentFunc()
	r := fs.regions[len(fs.regions)-1]
	fs.regions = fs.regions[:len(fs.regions)-1]
	fs.active = r.parent
	start := r.parent.len()
	r.parent.bytes = append(r.parent.bytes, r.buf.bytes...)
	for _, scope := range fs.breakStack {
		for _, l := range scope {
			l.translate(&r.buf, r.parent, start)
		}
	}
	for _, scope := range fs.continueStack {
		for _, l := range scope {
			l.translate(&r.buf, r.parent, start)
		}
	}
	return start
}

// ---------------------------------------------------------------------------
// Jumps
// ---------------------------------------------------------------------------

// label takes a label at the current emit position.
func (p *Parser) label() *Label {
	buf := p.currentFunc().active
	return &Label{buf: buf, addr: buf.len(), matchedAddr: -1}
}

// addMatchedJump emits a forward jump whose target is patched later by
// matchJump.
func (p *Parser) addMatchedJump(op vm.Opcode, l *Label) {
	p.emitOp(op)
	buf := p.currentFunc().active
	l.buf = buf
	l.matchedAddr = buf.len()
	l.used = true
	p.emitByte(0)
	p.emitByte(0)
}

// matchJump patches a forward jump to land at the current position of its
// buffer.
func (p *Parser) matchJump(l *Label) {
	if !l.used || l.matchedAddr < 0 {
		return
	}
	p.matchJumpTo(l, l.buf.len())
}

// matchJumpTo patches a forward jump to an explicit target in the label's
// buffer space.
func (p *Parser) matchJumpTo(l *Label, target int) {
	if !l.used || l.matchedAddr < 0 {
		return
	}
	l.buf.patchInt16(l.matchedAddr, int16(target-(l.matchedAddr+2)))
}

// jumpToLabel emits a backward jump to a previously taken label in the
// current buffer.
func (p *Parser) jumpToLabel(op vm.Opcode, l *Label) {
	buf := p.currentFunc().active
	off := l.addr - (buf.len() + 3)
	p.emitOp(op)
	p.emitByte(byte(uint16(int16(off))))
	p.emitByte(byte(uint16(int16(off)) >> 8))
}

// ---------------------------------------------------------------------------
// Identifier and constant emission
// ---------------------------------------------------------------------------

// IdType hints how an identifier should resolve.
type IdType int

const (
	// MustBeLocal: the name was just declared in this function.
	MustBeLocal IdType = iota
	// MightBeLocal: local if declared, otherwise a global reference.
	MightBeLocal
	// NotLocal: a property name or deliberate global.
	NotLocal
)

// emitId emits the load for an identifier: a local slot reference, or an
// atom value the VM resolves against named functions and globals.
func (p *Parser) emitId(a vm.Atom, hint IdType) {
	fn := p.currentFunc().fn
	if hint != NotLocal {
		if slot := fn.LocalIndex(a); slot >= 0 {
			p.emitOpByte(vm.OpPUSHLREF, byte(slot))
			return
		}
		if hint == MustBeLocal {
			p.errorf("internal: %q must be a local", p.program.Atoms().Resolve(a))
			return
		}
	}
	p.emitOpU16(vm.OpPUSHID, uint16(a))
}

// pushK pushes a constant through the function's pool.
func (p *Parser) pushK(v vm.Value) {
	idx := p.currentFunc().fn.AddConstant(v)
	p.emitOpU16(vm.OpPUSHK, uint16(idx))
}

// pushString pushes a string literal through the program's shared pool.
func (p *Parser) pushString(s string) {
	p.pushK(vm.StringValue(p.program.AddStringLiteral(s)))
}

// pushThis pushes the frame's this value.
func (p *Parser) pushThis() { p.emitOp(vm.OpPUSHTHIS) }

// allocTmp reserves an anonymous frame slot.
func (p *Parser) allocTmp() int {
	return p.currentFunc().fn.AllocTemp()
}

// pushTmpRef pushes a reference to a temp slot.
func (p *Parser) pushTmpRef(slot int) {
	p.emitOpByte(vm.OpPUSHLREF, byte(slot))
}

// ---------------------------------------------------------------------------
// Pending property/element accesses
// ---------------------------------------------------------------------------

// flushPending collapses a pending property or element pair into its
// loaded value.
func (p *Parser) flushPending() {
	switch p.pending {
	case pendProp:
		p.emitOp(vm.OpDEREFPROP)
	case pendElt:
		p.emitOp(vm.OpDEREFELT)
	}
	p.pending = pendNone
}

// refPending collapses a pending pair into an element reference, for the
// increment and decrement operators.
func (p *Parser) refPending() {
	switch p.pending {
	case pendProp:
		p.emitOp(vm.OpREFPROP)
	case pendElt:
		p.emitOp(vm.OpREFELT)
	}
	p.pending = pendNone
}

// emitDeref records that the top of stack holds an [obj name] or
// [obj index] pair whose resolution is decided by the next token.
func (p *Parser) emitDeref(kind pendingKind) {
	p.pending = kind
}

// ---------------------------------------------------------------------------
// Operators, moves, calls
// ---------------------------------------------------------------------------

func (p *Parser) emitBinOp(op vm.Opcode) {
	p.flushPending()
	p.emitOp(op)
}

func (p *Parser) emitUnOp(op vm.Opcode) {
	switch op {
	case vm.OpPREINC, vm.OpPREDEC, vm.OpPOSTINC, vm.OpPOSTDEC:
		// These operate through a reference.
		p.refPending()
	default:
		p.flushPending()
	}
	p.emitOp(op)
}

func (p *Parser) emitDup() {
	p.flushPending()
	p.emitOp(vm.OpDUP)
}

// emitMove stores the value on top of the stack through the reference
// beneath it, leaving the value.
func (p *Parser) emitMove() {
	p.flushPending()
	p.emitOp(vm.OpMOVE)
}

// emitPush resolves the value on top of the stack in place, for arguments.
func (p *Parser) emitPush() {
	p.flushPending()
	p.emitOp(vm.OpPUSH)
}

// discardResult drops the completed expression's value.
func (p *Parser) discardResult() {
	p.flushPending()
	p.emitOp(vm.OpPOP)
}

// emitCaseTest compares the value on top of the stack against the switch
// discriminant beneath it without consuming the discriminant.
func (p *Parser) emitCaseTest() {
	p.flushPending()
	p.emitOp(vm.OpCASETEST)
}

// emitLoadLit pushes a fresh literal object, in array mode when requested.
func (p *Parser) emitLoadLit(array bool) {
	flag := byte(0)
	if array {
		flag = 1
	}
	p.emitOpByte(vm.OpLOADLIT, flag)
}

func (p *Parser) emitAppendElt() {
	p.flushPending()
	p.emitOp(vm.OpAPPENDELT)
}

func (p *Parser) emitAppendProp() {
	p.flushPending()
	p.emitOp(vm.OpAPPENDPROP)
}

// callKind selects the flavor emitCallRet emits.
type callKind int

const (
	kindCall callKind = iota
	kindNew
	kindRet
)

// emitCallRet emits a call, a construction, or a return. For calls, a
// pending property pair becomes a method call so the receiver supplies
// this; anything else calls the resolved value with the global this.
func (p *Parser) emitCallRet(kind callKind, argc int) {
	switch kind {
	case kindCall:
		if p.pending == pendProp {
			p.pending = pendNone
			p.emitOpByte(vm.OpCALLPROP, byte(argc))
			return
		}
		p.flushPending()
		p.emitOpByte(vm.OpCALL, byte(argc))
	case kindNew:
		p.flushPending()
		p.emitOpByte(vm.OpNEW, byte(argc))
	case kindRet:
		p.emitOpByte(vm.OpRET, byte(argc))
	}
}

// ---------------------------------------------------------------------------
// Break and continue scopes
// ---------------------------------------------------------------------------

func (p *Parser) popBreakScopes() (breaks, continues []*Label) {
	fs := p.currentFunc()
	breaks = fs.breakStack[len(fs.breakStack)-1]
	continues = fs.continueStack[len(fs.continueStack)-1]
	fs.breakStack = fs.breakStack[:len(fs.breakStack)-1]
	fs.continueStack = fs.continueStack[:len(fs.continueStack)-1]
	return breaks, continues
}

// ---------------------------------------------------------------------------
// Function and class construction
// ---------------------------------------------------------------------------

// functionStart opens a new function for emission.
func (p *Parser) functionStart(ctor bool) {
	p.funcs = append(p.funcs, newFuncState(ctor))
}

// functionAddParam declares a parameter.
func (p *Parser) functionAddParam(a vm.Atom) {
	if p.currentFunc().fn.AddLocal(a) < 0 {
		p.errorf("duplicate parameter %q", p.program.Atoms().Resolve(a))
	}
}

// functionParamsEnd marks where parameters stop and body locals begin.
func (p *Parser) functionParamsEnd() {
	p.currentFunc().fn.MarkParamEnd()
}

// functionIsCtor reports whether the open function is a constructor.
func (p *Parser) functionIsCtor() bool {
	return p.currentFunc().fn.IsCtor()
}

// functionEnd closes the open function, seals it with a return, and
// allocates its handle. The root function is non-collectable; nested
// functions stay alive through their parents' constant pools.
func (p *Parser) functionEnd() vm.Value {
	p.emitOpByte(vm.OpRET, 0)
	fs := p.funcs[len(p.funcs)-1]
	p.funcs = p.funcs[:len(p.funcs)-1]
	fs.fn.SetCode(fs.main.bytes)
	collectable := len(p.funcs) > 0
	id := p.program.Heap().AllocObject(fs.fn, collectable)
	return vm.ObjectValue(id)
}

// addVar declares a named local in the open function. Redeclaration is
// tolerated, matching var semantics.
func (p *Parser) addVar(a vm.Atom) {
	p.currentFunc().fn.AddLocal(a)
}

// addNamedFunction binds a named function statement. The binding lives as
// a property of the root function, which owns the program's named code
// and travels with it through the image; the global alias keeps the name
// visible to later compilations against the same program (the shell).
func (p *Parser) addNamedFunction(fn vm.Value, name vm.Atom) {
	if f, ok := p.program.Heap().ObjectOf(fn).(*vm.Function); ok {
		f.SetName(name)
	}
	p.funcs[0].fn.SetProperty(name, fn)
	p.program.SetGlobal(name, fn)
}

// classStart opens a class body.
func (p *Parser) classStart() {
	p.classes = append(p.classes, vm.NewMaterObject())
}

// currentClass returns the open class object.
func (p *Parser) currentClass() *vm.MaterObject {
	return p.classes[len(p.classes)-1]
}

// classEnd closes the class and pushes it as a constant.
func (p *Parser) classEnd() {
	cls := p.classes[len(p.classes)-1]
	p.classes = p.classes[:len(p.classes)-1]
	id := p.program.Heap().AllocObject(cls, true)
	p.pushK(vm.ObjectValue(id))
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

const maxParseErrors = 32

// errorf records a diagnostic at the current line.
func (p *Parser) errorf(format string, args ...interface{}) {
	if len(p.errors) < maxParseErrors {
		p.errors = append(p.errors, fmt.Sprintf("line %d: %s", p.tok.Line, fmt.Sprintf(format, args...)))
	}
}

// expectedError records a mismatch diagnostic naming the wanted token and
// the last scanned token.
func (p *Parser) expectedError(want TokenType) {
	p.errorf("expected %s, last token %s", want.Name(), p.describeTok())
}

func (p *Parser) describeTok() string {
	switch p.tok.Type {
	case TokenIdentifier, TokenString:
		return fmt.Sprintf("%q", p.tok.Str)
	case TokenInteger:
		return fmt.Sprintf("%d", p.tok.Int)
	default:
		return p.tok.Type.Name()
	}
}

package vm

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Frame: execution state of one activation
// ---------------------------------------------------------------------------

// Frame is one activation record: the running function, its instruction
// pointer, the base of its register window on the shared stack, and the
// bound this value.
type Frame struct {
	fn   *Function
	fnID ObjectID
	ip   int
	bp   int
	this Value
	args []Value // actual arguments, for arguments()
	ctor bool
}

// ---------------------------------------------------------------------------
// ExecutionUnit: the stack machine
// ---------------------------------------------------------------------------

// Printer receives console output from print/println/printf.
type Printer interface {
	Print(s string)
}

// PrinterFunc adapts a function to the Printer interface.
type PrinterFunc func(s string)

func (f PrinterFunc) Print(s string) { f(s) }

// ExecutionUnit interprets a Program's bytecode: a value stack shared by
// all frames, a call stack of activations, and explicit suspension points.
// Execution is re-entrant through Execute: a suspension reason returned to
// the run loop leaves the unit resumable from its saved state.
type ExecutionUnit struct {
	program *Program
	heap    *Heap
	console Printer

	stack  []Value
	sp     int
	frames []Frame

	started    bool
	terminated atomic.Bool

	// roots contributes extra GC roots during collection at safe points;
	// the run loop installs itself here so sibling tasks and pending
	// events stay alive.
	roots GCRoots

	// task is the owning scheduler task, when scheduled.
	task *Task
}

const initialStackSize = 256

// NewExecutionUnit creates an execution unit over a program, printing to
// console.
func NewExecutionUnit(p *Program, console Printer) *ExecutionUnit {
	if console == nil {
		console = PrinterFunc(func(s string) { fmt.Print(s) })
	}
	return &ExecutionUnit{
		program: p,
		heap:    p.Heap(),
		console: console,
		stack:   make([]Value, initialStackSize),
	}
}

// Program returns the bound program.
func (eu *ExecutionUnit) Program() *Program { return eu.program }

// Heap returns the backing heap.
func (eu *ExecutionUnit) Heap() *Heap { return eu.heap }

// Console returns the output printer.
func (eu *ExecutionUnit) Console() Printer { return eu.console }

// Task returns the owning task, or nil when run outside the scheduler.
func (eu *ExecutionUnit) Task() *Task { return eu.task }

// SetRoots installs the additional GC root provider used at safe points.
func (eu *ExecutionUnit) SetRoots(r GCRoots) { eu.roots = r }

// Terminate requests cancellation. The unit observes the flag at the next
// safe point and unwinds with a Terminated reason.
func (eu *ExecutionUnit) Terminate() { eu.terminated.Store(true) }

// Print writes to the console.
func (eu *ExecutionUnit) Print(s string) { eu.console.Print(s) }

// ---------------------------------------------------------------------------
// Stack access
// ---------------------------------------------------------------------------

func (eu *ExecutionUnit) push(v Value) {
	if eu.sp >= len(eu.stack) {
		grown := make([]Value, len(eu.stack)*2)
		copy(grown, eu.stack)
		eu.stack = grown
	}
	eu.stack[eu.sp] = v
	eu.sp++
}

func (eu *ExecutionUnit) pop() Value {
	if eu.sp <= 0 {
		panic("stack underflow")
	}
	eu.sp--
	return eu.stack[eu.sp]
}

func (eu *ExecutionUnit) top() Value {
	return eu.stack[eu.sp-1]
}

// Push exposes the stack to native functions leaving return values.
func (eu *ExecutionUnit) Push(v Value) { eu.push(v) }

// Pop exposes the stack to native functions consuming values.
func (eu *ExecutionUnit) Pop() Value { return eu.pop() }

// Arg reads argument i of a native call with nparams arguments, by
// negative offset from the top of the stack.
func (eu *ExecutionUnit) Arg(i, nparams int) Value {
	return eu.resolveRef(eu.stack[eu.sp-nparams+i])
}

// StackDepth returns the current operand depth, for tests.
func (eu *ExecutionUnit) StackDepth() int { return eu.sp }

// currentFrame returns the innermost activation.
func (eu *ExecutionUnit) currentFrame() *Frame {
	if len(eu.frames) == 0 {
		return nil
	}
	return &eu.frames[len(eu.frames)-1]
}

// CurrentArgs returns the actual arguments of the innermost activation.
func (eu *ExecutionUnit) CurrentArgs() []Value {
	if f := eu.currentFrame(); f != nil {
		return f.args
	}
	return nil
}

// ---------------------------------------------------------------------------
// Reference resolution
// ---------------------------------------------------------------------------

// resolveRef turns a deferred reference into a plain value. Atom values
// resolve against the enclosing function's named members and then the
// globals; element references with the null-object sentinel handle resolve
// against the current frame's register window.
func (eu *ExecutionUnit) resolveRef(v Value) Value {
	switch {
	case v.IsAtom():
		a := v.Atom()
		if f := eu.currentFrame(); f != nil && f.fn != nil {
			if pv, ok := f.fn.Property(a); ok {
				return pv
			}
		}
		if gv, ok := eu.program.Global(a); ok {
			return gv
		}
		// Named functions also live on the root function, which is how
		// they travel through a persisted image.
		if main := eu.program.Main(); main != nil {
			if pv, ok := main.Property(a); ok {
				return pv
			}
		}
		return Undefined
	case v.IsElemRef():
		id, idx := v.ElemRef()
		if id == 0 {
			f := eu.currentFrame()
			return eu.stack[f.bp+int(idx)]
		}
		obj := eu.heap.Object(id)
		if obj == nil {
			return Undefined
		}
		if idx&elemRefPropBit != 0 {
			return obj.PropertyAt(int(idx &^ elemRefPropBit))
		}
		ev, _ := obj.Element(int(idx))
		return ev
	default:
		return v
	}
}

// storeRef writes through a reference value.
func (eu *ExecutionUnit) storeRef(ref, v Value) ErrorCode {
	switch {
	case ref.IsAtom():
		eu.program.SetGlobal(ref.Atom(), v)
		return ErrNone
	case ref.IsElemRef():
		id, idx := ref.ElemRef()
		if id == 0 {
			f := eu.currentFrame()
			eu.stack[f.bp+int(idx)] = v
			return ErrNone
		}
		obj := eu.heap.Object(id)
		if obj == nil {
			return ErrPropertyDoesNotExist
		}
		if idx&elemRefPropBit != 0 {
			obj.SetPropertyAt(int(idx&^elemRefPropBit), v)
			return ErrNone
		}
		if !obj.SetElement(int(idx), v) {
			return ErrOutOfRange
		}
		return ErrNone
	default:
		return ErrPropertyDoesNotExist
	}
}

// ---------------------------------------------------------------------------
// Frame management
// ---------------------------------------------------------------------------

// pushFrame enters a script function. The register window starts at the
// current stack top; parameters are seeded from args and the remaining
// named locals and temps start undefined.
func (eu *ExecutionUnit) pushFrame(fn *Function, fnID ObjectID, this Value, args []Value, ctor bool) {
	bp := eu.sp
	size := fn.FrameSize()
	for i := 0; i < size; i++ {
		if i < fn.ParamCount() && i < len(args) {
			eu.push(args[i])
		} else {
			eu.push(Undefined)
		}
	}
	saved := make([]Value, len(args))
	copy(saved, args)
	eu.frames = append(eu.frames, Frame{
		fn:   fn,
		fnID: fnID,
		bp:   bp,
		this: this,
		args: saved,
		ctor: ctor,
	})
}

func (eu *ExecutionUnit) popFrame() Frame {
	f := eu.frames[len(eu.frames)-1]
	eu.frames = eu.frames[:len(eu.frames)-1]
	eu.sp = f.bp
	return f
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Start arms the unit to run its program's root function from the top.
func (eu *ExecutionUnit) Start() {
	eu.started = true
	eu.sp = 0
	eu.frames = eu.frames[:0]
	main := eu.program.Main()
	eu.pushFrame(main, eu.program.MainID(), eu.program.GlobalObjectValue(), nil, false)
}

// Execute runs until the program finishes, suspends, is terminated, or
// fails. A suspension leaves the unit resumable: calling Execute again
// continues from the saved state once the run loop decides the wait is
// over.
func (eu *ExecutionUnit) Execute() CallReturnValue {
	if !eu.started {
		eu.Start()
	}
	crv := eu.runUntil(0)
	if crv.IsReturn() {
		// The root frame returned; drop any top-level return values.
		eu.sp = 0
		return Finished()
	}
	return crv
}

// CallValue synchronously invokes a callable value with the given this and
// arguments, for host paths that need a script result (toString, JSON
// stringify, shell evaluation). Suspension inside such a call is refused:
// the frames are unwound and the suspension reason reported.
func (eu *ExecutionUnit) CallValue(fn Value, this Value, args []Value) (Value, CallReturnValue) {
	depth := len(eu.frames)
	baseSp := eu.sp

	fn = eu.resolveRef(fn)
	obj := eu.heap.ObjectOf(fn)
	if obj == nil {
		return Undefined, Error(ErrNotCallable)
	}

	if f, ok := obj.(*Function); ok {
		eu.pushFrame(f, fn.ObjectID(), this, args, false)
		crv := eu.runUntil(depth)
		if !crv.IsReturn() {
			// A failure or termination already unwound everything; only
			// a refused suspension leaves our frames to clean up.
			if len(eu.frames) > depth {
				eu.frames = eu.frames[:depth]
			}
			if eu.sp > baseSp {
				eu.sp = baseSp
			}
			return Undefined, crv
		}
		var result Value = Undefined
		if crv.Count() > 0 {
			result = eu.pop()
		}
		eu.sp = baseSp
		return result, ReturnCount(crv.Count())
	}

	// Native: arguments travel on the stack.
	for _, a := range args {
		eu.push(a)
	}
	crv := obj.Call(eu, this, len(args), false)
	if !crv.IsReturn() {
		eu.sp = baseSp
		return Undefined, crv
	}
	var result Value = Undefined
	if crv.Count() > 0 {
		result = eu.pop()
	}
	eu.sp = baseSp
	return result, crv
}

// FireEvent delivers a queued event: the callable runs on top of the
// current (suspended) state and its frames are fully unwound again before
// the task resumes. Returns the delivery outcome.
func (eu *ExecutionUnit) FireEvent(fn Value, this Value, args []Value) CallReturnValue {
	_, crv := eu.CallValue(fn, this, args)
	return crv
}

// safePoint runs between complete opcodes: it observes termination and
// lets the collector run when the allocator crossed its high-water mark.
func (eu *ExecutionUnit) safePoint() bool {
	if eu.terminated.Load() {
		return false
	}
	if eu.heap.NeedsCollection() {
		if eu.roots != nil {
			eu.heap.Collect(eu.program, eu, eu.roots)
		} else {
			eu.heap.Collect(eu.program, eu)
		}
	}
	return true
}

// fail prints a stack trace and unwinds every frame of the task.
func (eu *ExecutionUnit) fail(code ErrorCode) CallReturnValue {
	var sb strings.Builder
	fmt.Fprintf(&sb, "runtime error: %s\n", code)
	for i := len(eu.frames) - 1; i >= 0; i-- {
		f := eu.frames[i]
		name := "<anonymous>"
		if f.fn != nil && f.fn.Name() != NoAtom {
			name = eu.program.Atoms().Resolve(f.fn.Name())
		}
		fmt.Fprintf(&sb, "  at %s (pc %d)\n", name, f.ip)
	}
	eu.Print(sb.String())
	eu.frames = eu.frames[:0]
	eu.sp = 0
	return Error(code)
}

// runUntil is the dispatch loop. It runs until the frame stack shrinks to
// baseDepth (the topmost popped frame's RET reports its value count), a
// native suspends, the unit is terminated, or an error unwinds the task.
func (eu *ExecutionUnit) runUntil(baseDepth int) CallReturnValue {
	for {
		if !eu.safePoint() {
			eu.frames = eu.frames[:0]
			eu.sp = 0
			return Terminated()
		}

		f := eu.currentFrame()
		if f == nil {
			return ReturnCount(0)
		}
		code := f.fn.Code()

		if f.ip >= len(code) {
			// Implicit return at end of code.
			if crv, done := eu.doReturn(0, baseDepth); done {
				return crv
			}
			continue
		}

		op := Opcode(code[f.ip])
		f.ip++

		switch op {
		case OpNOP:

		case OpPOP:
			eu.pop()

		case OpDUP:
			eu.push(eu.top())

		case OpDUP2:
			b := eu.top()
			a := eu.stack[eu.sp-2]
			eu.push(a)
			eu.push(b)

		case OpPUSH:
			eu.push(eu.resolveRef(eu.pop()))

		case OpPUSHTHIS:
			eu.push(f.this)

		case OpPUSHK:
			idx := int(ReadUint16(code, f.ip))
			f.ip += 2
			eu.push(f.fn.Constant(idx))

		case OpPUSHID:
			a := Atom(ReadUint16(code, f.ip))
			f.ip += 2
			eu.push(AtomValue(a))

		case OpPUSHLREF:
			slot := code[f.ip]
			f.ip++
			eu.push(ElemRefValue(0, uint16(slot)))

		case OpLOADLIT:
			flag := code[f.ip]
			f.ip++
			var obj *MaterObject
			if flag != 0 {
				obj = NewArrayObject()
			} else {
				obj = NewMaterObject()
			}
			eu.push(eu.heap.AllocObjectValue(obj, true))

		case OpMOVE:
			v := eu.resolveRef(eu.pop())
			ref := eu.pop()
			if errc := eu.storeRef(ref, v); errc != ErrNone {
				return eu.fail(errc)
			}
			eu.push(v)

		case OpAPPENDELT:
			v := eu.resolveRef(eu.pop())
			obj := eu.heap.ObjectOf(eu.top())
			if obj == nil {
				return eu.fail(ErrPropertyDoesNotExist)
			}
			obj.AppendElement(v)

		case OpAPPENDPROP:
			v := eu.resolveRef(eu.pop())
			name := eu.pop()
			obj := eu.heap.ObjectOf(eu.top())
			if obj == nil || !name.IsAtom() && !name.IsString() {
				return eu.fail(ErrPropertyAssignment)
			}
			obj.SetProperty(eu.toPropertyAtom(name), v)

		case OpDEREFPROP:
			name := eu.pop()
			objv := eu.resolveRef(eu.pop())
			v, errc := eu.getProperty(objv, name)
			if errc != ErrNone {
				return eu.fail(errc)
			}
			eu.push(v)

		case OpDEREFELT:
			idxv := eu.resolveRef(eu.pop())
			objv := eu.resolveRef(eu.pop())
			v, errc := eu.getElement(objv, idxv)
			if errc != ErrNone {
				return eu.fail(errc)
			}
			eu.push(v)

		case OpSTOPROP:
			v := eu.resolveRef(eu.pop())
			name := eu.pop()
			objv := eu.resolveRef(eu.pop())
			obj := eu.heap.ObjectOf(objv)
			if obj == nil {
				return eu.fail(ErrPropertyDoesNotExist)
			}
			obj.SetProperty(eu.toPropertyAtom(name), v)
			eu.push(v)

		case OpSTOELT:
			v := eu.resolveRef(eu.pop())
			idxv := eu.resolveRef(eu.pop())
			objv := eu.resolveRef(eu.pop())
			obj := eu.heap.ObjectOf(objv)
			if obj == nil {
				return eu.fail(ErrPropertyDoesNotExist)
			}
			idx, ok := eu.ToIntValue(idxv)
			if !ok {
				return eu.fail(ErrCannotConvertStringToNumber)
			}
			if !obj.SetElement(int(idx), v) {
				return eu.fail(ErrOutOfRange)
			}
			eu.push(v)

		case OpREFPROP:
			name := eu.pop()
			objv := eu.resolveRef(eu.pop())
			obj := eu.heap.ObjectOf(objv)
			if obj == nil {
				return eu.fail(ErrPropertyDoesNotExist)
			}
			a := eu.toPropertyAtom(name)
			idx := obj.PropertyIndex(a)
			if idx < 0 {
				obj.SetProperty(a, Undefined)
				idx = obj.PropertyIndex(a)
			}
			eu.push(ElemRefValue(objv.ObjectID(), uint16(idx)|elemRefPropBit))

		case OpDELPROP:
			name := eu.pop()
			objv := eu.resolveRef(eu.pop())
			if obj := eu.heap.ObjectOf(objv); obj != nil {
				obj.DeleteProperty(eu.toPropertyAtom(name))
			}

		case OpREFELT:
			idxv := eu.resolveRef(eu.pop())
			objv := eu.resolveRef(eu.pop())
			obj := eu.heap.ObjectOf(objv)
			if obj == nil {
				return eu.fail(ErrPropertyDoesNotExist)
			}
			idx, ok := eu.ToIntValue(idxv)
			if !ok {
				return eu.fail(ErrCannotConvertStringToNumber)
			}
			if idx < 0 || int(idx) >= obj.ElementCount() {
				return eu.fail(ErrOutOfRange)
			}
			eu.push(ElemRefValue(objv.ObjectID(), uint16(idx)))

		case OpADD, OpSUB, OpMUL, OpDIV, OpMOD, OpSHL, OpSHR, OpSAR,
			OpAND, OpOR, OpXOR, OpLAND, OpLOR,
			OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE:
			b := eu.resolveRef(eu.pop())
			a := eu.resolveRef(eu.pop())
			v, errc := eu.binOp(op, a, b)
			if errc != ErrNone {
				return eu.fail(errc)
			}
			eu.push(v)

		case OpUMINUS, OpUNOT, OpUNEG:
			v, errc := eu.unOp(op, eu.resolveRef(eu.pop()))
			if errc != ErrNone {
				return eu.fail(errc)
			}
			eu.push(v)

		case OpPREINC, OpPREDEC, OpPOSTINC, OpPOSTDEC:
			ref := eu.pop()
			if !ref.IsRef() {
				return eu.fail(ErrOutOfRange)
			}
			old, ok := eu.ToNumber(eu.resolveRef(ref))
			if !ok {
				return eu.fail(ErrCannotConvertStringToNumber)
			}
			delta := int32(1)
			if op == OpPREDEC || op == OpPOSTDEC {
				delta = -1
			}
			var updated Value
			if old.IsFloat() {
				updated = FloatValue(old.Float64() + float64(delta))
			} else {
				updated = IntValue(old.Int32() + delta)
			}
			if errc := eu.storeRef(ref, updated); errc != ErrNone {
				return eu.fail(errc)
			}
			if op == OpPOSTINC || op == OpPOSTDEC {
				eu.push(old)
			} else {
				eu.push(updated)
			}

		case OpJMP:
			off := ReadInt16(code, f.ip)
			f.ip += 2 + int(off)

		case OpJT:
			off := ReadInt16(code, f.ip)
			f.ip += 2
			if eu.Truthy(eu.resolveRef(eu.pop())) {
				f.ip += int(off)
			}

		case OpJF:
			off := ReadInt16(code, f.ip)
			f.ip += 2
			if !eu.Truthy(eu.resolveRef(eu.pop())) {
				f.ip += int(off)
			}

		case OpCASETEST:
			caseVal := eu.resolveRef(eu.pop())
			disc := eu.resolveRef(eu.top())
			eu.push(BoolValue(eu.valuesEqual(disc, caseVal)))

		case OpCALL, OpCALLPROP, OpNEW:
			argc := int(code[f.ip])
			f.ip++
			crv, done := eu.doCall(op, argc, baseDepth)
			if done {
				return crv
			}

		case OpRET:
			retc := int(code[f.ip])
			f.ip++
			if crv, done := eu.doReturn(retc, baseDepth); done {
				return crv
			}

		default:
			panic(fmt.Sprintf("unknown opcode: %02X at pc %d", byte(op), f.ip-1))
		}
	}
}

// toPropertyAtom coerces a property-name value (atom or string) to an atom.
func (eu *ExecutionUnit) toPropertyAtom(name Value) Atom {
	if name.IsAtom() {
		return name.Atom()
	}
	if name.IsString() {
		return eu.program.AtomizeString(eu.heap.String(name.StringID()))
	}
	return eu.program.AtomizeString(eu.ToStringValue(name))
}

// getProperty implements DEREFPROP. A missing property reads as undefined;
// dereferencing a non-object is an error.
func (eu *ExecutionUnit) getProperty(objv, name Value) (Value, ErrorCode) {
	a := eu.toPropertyAtom(name)
	switch {
	case objv.IsString():
		if a == AtomLength {
			return IntValue(int32(len(eu.heap.String(objv.StringID())))), ErrNone
		}
		if a == AtomIterator {
			if v, ok := eu.program.Global(AtomIteratorProto); ok {
				return v, ErrNone
			}
		}
		return Undefined, ErrNone
	case objv.IsObject():
		obj := eu.heap.ObjectOf(objv)
		if obj == nil {
			return Undefined, ErrPropertyDoesNotExist
		}
		if a == AtomLength && obj.IsArray() {
			return IntValue(int32(obj.ElementCount())), ErrNone
		}
		if v, ok := obj.Property(a); ok {
			return v, ErrNone
		}
		// Every object satisfies the iterator contract through the
		// built-in Iterator unless it supplies its own.
		if a == AtomIterator {
			if v, ok := eu.program.Global(AtomIteratorProto); ok {
				return v, ErrNone
			}
		}
		return Undefined, ErrNone
	default:
		return Undefined, ErrPropertyDoesNotExist
	}
}

// getElement implements DEREFELT over arrays, objects and strings.
func (eu *ExecutionUnit) getElement(objv, idxv Value) (Value, ErrorCode) {
	idx, ok := eu.ToIntValue(idxv)
	if !ok {
		return Undefined, ErrCannotConvertStringToNumber
	}
	switch {
	case objv.IsString():
		s := eu.heap.String(objv.StringID())
		if idx < 0 || int(idx) >= len(s) {
			return Undefined, ErrOutOfRange
		}
		return IntValue(int32(s[idx])), ErrNone
	case objv.IsObject():
		obj := eu.heap.ObjectOf(objv)
		if obj == nil {
			return Undefined, ErrPropertyDoesNotExist
		}
		if idx < 0 || int(idx) >= obj.ElementCount() {
			return Undefined, ErrOutOfRange
		}
		v, _ := obj.Element(int(idx))
		return v, ErrNone
	default:
		return Undefined, ErrPropertyDoesNotExist
	}
}

// ---------------------------------------------------------------------------
// Calls and returns
// ---------------------------------------------------------------------------

// doCall handles CALL, CALLPROP and NEW. It either pushes a new script
// frame (and the loop continues there) or invokes a native and pushes its
// results. The bool result is true when the loop must return crv to its
// caller (suspension, termination, error).
func (eu *ExecutionUnit) doCall(op Opcode, argc, baseDepth int) (CallReturnValue, bool) {
	args := make([]Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = eu.resolveRef(eu.pop())
	}

	var callee Value
	var this Value
	switch op {
	case OpCALLPROP:
		name := eu.pop()
		objv := eu.resolveRef(eu.pop())
		this = objv
		v, errc := eu.getProperty(objv, name)
		if errc != ErrNone {
			return eu.fail(errc), true
		}
		if v == Undefined {
			// toString on plain values falls back to the console rendering.
			if eu.toPropertyAtom(name) == AtomToString {
				eu.push(eu.heap.AllocStringValue(eu.ToStringValue(objv)))
				return CallReturnValue{}, false
			}
			return eu.fail(ErrPropertyDoesNotExist), true
		}
		callee = v
	default:
		callee = eu.resolveRef(eu.pop())
		this = eu.program.GlobalObjectValue()
	}

	if op == OpNEW {
		return eu.doNew(callee, args, baseDepth)
	}

	obj := eu.heap.ObjectOf(callee)
	if obj == nil {
		return eu.fail(ErrNotCallable), true
	}
	if fn, ok := obj.(*Function); ok {
		eu.pushFrame(fn, callee.ObjectID(), this, args, false)
		return CallReturnValue{}, false
	}
	return eu.callNative(obj, this, args)
}

// callNative invokes a host object's Call with the arguments on the stack
// per the host protocol, then normalizes the stack to hold exactly one
// result. Suspension propagates upward with an undefined placeholder
// result already in place for resumption.
func (eu *ExecutionUnit) callNative(obj Object, this Value, args []Value) (CallReturnValue, bool) {
	base := eu.sp
	for _, a := range args {
		eu.push(a)
	}
	crv := obj.Call(eu, this, len(args), false)
	switch crv.Type() {
	case CallReturned:
		var result Value = Undefined
		if crv.Count() > 0 {
			result = eu.pop()
		}
		eu.sp = base
		eu.push(result)
		return CallReturnValue{}, false
	case CallDelay, CallWaitForEvent:
		eu.sp = base
		eu.push(Undefined)
		return crv, true
	default:
		return eu.fail(crv.ErrorCode()), true
	}
}

// doNew constructs an instance. Script functions act as JS-style
// constructors over a fresh object; plain objects act as classes whose own
// properties seed the instance before constructor runs; native factories
// may substitute their own instance by returning a value.
func (eu *ExecutionUnit) doNew(callee Value, args []Value, baseDepth int) (CallReturnValue, bool) {
	obj := eu.heap.ObjectOf(callee)
	if obj == nil {
		return eu.fail(ErrNotCallable), true
	}

	if fn, ok := obj.(*Function); ok {
		instance := eu.heap.AllocObjectValue(NewMaterObject(), true)
		eu.pushFrame(fn, callee.ObjectID(), instance, args, true)
		return CallReturnValue{}, false
	}

	if _, ok := obj.(*NativeFunction); ok {
		return eu.callNative(obj, Undefined, args)
	}

	// Class object: copy its own enumerable properties into the instance.
	inst := NewMaterObject()
	for i := 0; i < obj.PropertyCount(); i++ {
		inst.SetProperty(obj.PropertyAtomAt(i), obj.PropertyAt(i))
	}
	instance := eu.heap.AllocObjectValue(inst, true)

	ctorV, hasCtor := obj.Property(AtomConstructor)
	if !hasCtor {
		eu.push(instance)
		return CallReturnValue{}, false
	}
	ctorObj := eu.heap.ObjectOf(ctorV)
	if ctorObj == nil {
		return eu.fail(ErrNotCallable), true
	}
	if fn, ok := ctorObj.(*Function); ok {
		eu.pushFrame(fn, ctorV.ObjectID(), instance, args, true)
		return CallReturnValue{}, false
	}
	crv, done := eu.callNative(ctorObj, instance, args)
	if done {
		return crv, true
	}
	// A native ctor may return its own instance; otherwise keep ours.
	if eu.top() == Undefined {
		eu.pop()
		eu.push(instance)
	}
	return CallReturnValue{}, false
}

// doReturn pops the current frame, leaving retc (0 or 1) results for the
// caller. Inside a ctor a bare return yields this. The bool result is true
// when the frame stack reached baseDepth and the loop must stop.
func (eu *ExecutionUnit) doReturn(retc, baseDepth int) (CallReturnValue, bool) {
	var result Value
	if retc > 0 {
		result = eu.resolveRef(eu.pop())
	}
	f := eu.popFrame()
	if retc == 0 && f.ctor {
		result = f.this
		retc = 1
	}
	if len(eu.frames) <= baseDepth {
		if retc > 0 {
			eu.push(result)
		}
		return ReturnCount(retc), true
	}
	// Callers always see exactly one result.
	if retc > 0 {
		eu.push(result)
	} else {
		eu.push(Undefined)
	}
	return CallReturnValue{}, false
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (eu *ExecutionUnit) binOp(op Opcode, a, b Value) (Value, ErrorCode) {
	switch op {
	case OpADD:
		au, bu := eu.unbox(a), eu.unbox(b)
		if au.IsString() || bu.IsString() {
			return eu.heap.AllocStringValue(eu.ToStringValue(au) + eu.ToStringValue(bu)), ErrNone
		}
	case OpLAND:
		return BoolValue(eu.Truthy(a) && eu.Truthy(b)), ErrNone
	case OpLOR:
		return BoolValue(eu.Truthy(a) || eu.Truthy(b)), ErrNone
	case OpEQ:
		return BoolValue(eu.valuesEqual(a, b)), ErrNone
	case OpNE:
		return BoolValue(!eu.valuesEqual(a, b)), ErrNone
	case OpLT, OpLE, OpGT, OpGE:
		return eu.compare(op, a, b)
	}

	an, ok := eu.ToNumber(a)
	if !ok {
		return Undefined, ErrCannotConvertStringToNumber
	}
	bn, ok := eu.ToNumber(b)
	if !ok {
		return Undefined, ErrCannotConvertStringToNumber
	}

	if an.IsInt() && bn.IsInt() {
		x, y := an.Int32(), bn.Int32()
		switch op {
		case OpADD:
			return IntValue(x + y), ErrNone
		case OpSUB:
			return IntValue(x - y), ErrNone
		case OpMUL:
			return IntValue(x * y), ErrNone
		case OpDIV:
			if y == 0 {
				return Undefined, ErrOutOfRange
			}
			return IntValue(x / y), ErrNone
		case OpMOD:
			if y == 0 {
				return Undefined, ErrOutOfRange
			}
			return IntValue(x % y), ErrNone
		case OpSHL:
			return IntValue(x << (uint32(y) & 31)), ErrNone
		case OpSHR:
			return IntValue(x >> (uint32(y) & 31)), ErrNone
		case OpSAR:
			return IntValue(int32(uint32(x) >> (uint32(y) & 31))), ErrNone
		case OpAND:
			return IntValue(x & y), ErrNone
		case OpOR:
			return IntValue(x | y), ErrNone
		case OpXOR:
			return IntValue(x ^ y), ErrNone
		}
	}

	// Float path; bitwise operators coerce through int32.
	xf, _ := eu.ToFloatValue(an)
	yf, _ := eu.ToFloatValue(bn)
	switch op {
	case OpADD:
		return FloatValue(xf + yf), ErrNone
	case OpSUB:
		return FloatValue(xf - yf), ErrNone
	case OpMUL:
		return FloatValue(xf * yf), ErrNone
	case OpDIV:
		if yf == 0 {
			return Undefined, ErrOutOfRange
		}
		return FloatValue(xf / yf), ErrNone
	case OpMOD:
		if yf == 0 {
			return Undefined, ErrOutOfRange
		}
		return IntValue(int32(xf) % int32(yf)), ErrNone
	case OpSHL:
		return IntValue(int32(xf) << (uint32(int32(yf)) & 31)), ErrNone
	case OpSHR:
		return IntValue(int32(xf) >> (uint32(int32(yf)) & 31)), ErrNone
	case OpSAR:
		return IntValue(int32(uint32(int32(xf)) >> (uint32(int32(yf)) & 31))), ErrNone
	case OpAND:
		return IntValue(int32(xf) & int32(yf)), ErrNone
	case OpOR:
		return IntValue(int32(xf) | int32(yf)), ErrNone
	case OpXOR:
		return IntValue(int32(xf) ^ int32(yf)), ErrNone
	}
	return Undefined, ErrOutOfRange
}

func (eu *ExecutionUnit) compare(op Opcode, a, b Value) (Value, ErrorCode) {
	au, bu := eu.unbox(a), eu.unbox(b)
	if au.IsString() && bu.IsString() {
		x, y := eu.heap.String(au.StringID()), eu.heap.String(bu.StringID())
		switch op {
		case OpLT:
			return BoolValue(x < y), ErrNone
		case OpLE:
			return BoolValue(x <= y), ErrNone
		case OpGT:
			return BoolValue(x > y), ErrNone
		case OpGE:
			return BoolValue(x >= y), ErrNone
		}
	}
	xf, ok := eu.ToFloatValue(au)
	if !ok {
		return Undefined, ErrCannotConvertStringToNumber
	}
	yf, ok := eu.ToFloatValue(bu)
	if !ok {
		return Undefined, ErrCannotConvertStringToNumber
	}
	switch op {
	case OpLT:
		return BoolValue(xf < yf), ErrNone
	case OpLE:
		return BoolValue(xf <= yf), ErrNone
	case OpGT:
		return BoolValue(xf > yf), ErrNone
	default:
		return BoolValue(xf >= yf), ErrNone
	}
}

func (eu *ExecutionUnit) unOp(op Opcode, v Value) (Value, ErrorCode) {
	switch op {
	case OpUNEG:
		return BoolValue(!eu.Truthy(v)), ErrNone
	case OpUMINUS:
		n, ok := eu.ToNumber(v)
		if !ok {
			return Undefined, ErrCannotConvertStringToNumber
		}
		if n.IsFloat() {
			return FloatValue(-n.Float64()), ErrNone
		}
		return IntValue(-n.Int32()), ErrNone
	default: // OpUNOT
		n, ok := eu.ToIntValue(v)
		if !ok {
			return Undefined, ErrCannotConvertStringToNumber
		}
		return IntValue(^n), ErrNone
	}
}

// valuesEqual implements == and the switch case comparison: numeric
// equality across int and float, content equality for strings, handle
// identity for objects.
func (eu *ExecutionUnit) valuesEqual(a, b Value) bool {
	a, b = eu.unbox(a), eu.unbox(b)
	if a == b {
		return true
	}
	if (a.IsInt() || a.IsFloat()) && (b.IsInt() || b.IsFloat()) {
		af, _ := eu.ToFloatValue(a)
		bf, _ := eu.ToFloatValue(b)
		return af == bf
	}
	if a.IsString() && b.IsString() {
		return eu.heap.String(a.StringID()) == eu.heap.String(b.StringID())
	}
	if a.IsString() && (b.IsInt() || b.IsFloat()) || b.IsString() && (a.IsInt() || a.IsFloat()) {
		av, aok := eu.ToNumber(a)
		bv, bok := eu.ToNumber(b)
		if aok && bok {
			af, _ := eu.ToFloatValue(av)
			bf, _ := eu.ToFloatValue(bv)
			return af == bf
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// GC roots
// ---------------------------------------------------------------------------

// ForEachRoot contributes the unit's live stack, each frame's this and
// saved arguments, the running functions, and the bound program's own
// roots, so every task keeps its program alive through the collector.
func (eu *ExecutionUnit) ForEachRoot(fn func(Value)) {
	eu.program.ForEachRoot(fn)
	for i := 0; i < eu.sp; i++ {
		fn(eu.stack[i])
	}
	for i := range eu.frames {
		fn(eu.frames[i].this)
		if eu.frames[i].fnID != 0 {
			fn(ObjectValue(eu.frames[i].fnID))
		}
		for _, a := range eu.frames[i].args {
			fn(a)
		}
	}
}

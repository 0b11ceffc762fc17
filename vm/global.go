package vm

// ---------------------------------------------------------------------------
// Global: the built-in global function set
// ---------------------------------------------------------------------------

// CompileFn compiles source text into a root function on the program's
// heap. The compiler package installs this hook so the VM can service
// import and importString without a dependency cycle.
type CompileFn func(p *Program, source string) (ObjectID, error)

// ModuleReaderFn reads a module source by path, typically from the mounted
// filesystem.
type ModuleReaderFn func(path string) (string, error)

// RegisterBuiltins installs the global functions and every built-in
// prototype into a program. Call once after NewProgram.
func RegisterBuiltins(p *Program) {
	AddNativeGlobal(p, AtomCurrentTime, globalCurrentTime)
	AddNativeGlobal(p, AtomDelay, globalDelay)
	AddNativeGlobal(p, AtomPrint, globalPrint)
	AddNativeGlobal(p, AtomPrintln, globalPrintln)
	AddNativeGlobal(p, AtomPrintf, globalPrintf)
	AddNativeGlobal(p, AtomToInt, globalToInt)
	AddNativeGlobal(p, AtomToUInt, globalToUInt)
	AddNativeGlobal(p, AtomToFloat, globalToFloat)
	AddNativeGlobal(p, AtomArguments, globalArguments)
	AddNativeGlobal(p, AtomImport, globalImport)
	AddNativeGlobal(p, AtomImportString, globalImportString)
	AddNativeGlobal(p, AtomWaitForEvent, globalWaitForEvent)
	AddNativeGlobal(p, AtomMeminfo, globalMeminfo)
	p.SetGlobal(AtomConsoleListener, Null)

	registerArrayProto(p)
	registerObjectProto(p)
	registerIteratorProto(p)
	registerTCPProto(p)
	registerUDPProto(p)
	registerIPAddrProto(p)
	registerGPIOProto(p)
	registerBase64Proto(p)
	registerJSONProto(p)
	registerFSProtos(p)
	registerTaskProto(p)
}

func globalCurrentTime(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	eu.Push(FloatValue(WallTime()))
	return ReturnCount(1)
}

func globalDelay(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	ms, ok := eu.ToIntValue(eu.Arg(0, nparams))
	if !ok {
		return Error(ErrCannotConvertStringToNumber)
	}
	return MsDelay(ms)
}

func globalPrint(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	for i := 0; i < nparams; i++ {
		eu.Print(eu.ToStringValue(eu.Arg(i, nparams)))
	}
	return ReturnCount(0)
}

func globalPrintln(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	for i := 0; i < nparams; i++ {
		eu.Print(eu.ToStringValue(eu.Arg(i, nparams)))
	}
	eu.Print("\n")
	return ReturnCount(0)
}

func globalPrintf(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 1 {
		return Error(ErrBadFormatString)
	}
	format := eu.Arg(0, nparams)
	if !format.IsString() {
		return Error(ErrBadFormatString)
	}
	args := make([]Value, nparams-1)
	for i := 1; i < nparams; i++ {
		args[i-1] = eu.Arg(i, nparams)
	}
	s, ok := eu.Format(eu.Heap().String(format.StringID()), args)
	if !ok {
		return Error(ErrBadFormatString)
	}
	eu.Print(s)
	return ReturnCount(0)
}

// numericArgs unpacks the (string, allowWhitespace?) convention shared by
// toInt, toUInt and toFloat.
func numericArgs(eu *ExecutionUnit, nparams int) (string, bool, bool) {
	if nparams < 1 {
		return "", false, false
	}
	allowWs := true
	if nparams > 1 {
		n, ok := eu.ToIntValue(eu.Arg(1, nparams))
		if ok {
			allowWs = n != 0
		}
	}
	return eu.ToStringValue(eu.Arg(0, nparams)), allowWs, true
}

func globalToInt(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	s, allowWs, ok := numericArgs(eu, nparams)
	if !ok {
		return ReturnCount(0)
	}
	v, ok := parseNumber(s, allowWs)
	if !ok {
		return Error(ErrCannotConvertStringToNumber)
	}
	if v.IsFloat() {
		v = IntValue(int32(v.Float64()))
	}
	eu.Push(v)
	return ReturnCount(1)
}

func globalToUInt(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	s, allowWs, ok := numericArgs(eu, nparams)
	if !ok {
		return ReturnCount(0)
	}
	u, ok := parseUint(s, allowWs)
	if !ok {
		return Error(ErrCannotConvertStringToNumber)
	}
	eu.Push(IntValue(int32(u)))
	return ReturnCount(1)
}

func globalToFloat(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	s, allowWs, ok := numericArgs(eu, nparams)
	if !ok {
		return ReturnCount(0)
	}
	v, ok := parseNumber(s, allowWs)
	if !ok {
		return Error(ErrCannotConvertStringToNumber)
	}
	if v.IsInt() {
		v = FloatValue(float64(v.Int32()))
	}
	eu.Push(v)
	return ReturnCount(1)
}

func globalArguments(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	arr := NewArrayObject()
	for _, a := range eu.CurrentArgs() {
		arr.AppendElement(a)
	}
	v := eu.Heap().AllocObjectValue(arr, true)
	if v == Undefined {
		return Error(ErrCannotCreateArgumentsArray)
	}
	eu.Push(v)
	return ReturnCount(1)
}

func globalImport(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 1 {
		return ReturnCount(0)
	}
	p := eu.Program()
	if p.ReadModule == nil || p.Compile == nil {
		return Error(ErrIO)
	}
	src, err := p.ReadModule(eu.ToStringValue(eu.Arg(0, nparams)))
	if err != nil {
		return Error(ErrIO)
	}
	return importSource(eu, src)
}

func globalImportString(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 1 {
		return ReturnCount(0)
	}
	if eu.Program().Compile == nil {
		return Error(ErrIO)
	}
	return importSource(eu, eu.ToStringValue(eu.Arg(0, nparams)))
}

// importSource compiles source into a module function and returns it as a
// value; callers invoke or construct it.
func importSource(eu *ExecutionUnit, src string) CallReturnValue {
	id, err := eu.Program().Compile(eu.Program(), src)
	if err != nil {
		return Error(ErrSyntax)
	}
	eu.Push(ObjectValue(id))
	return ReturnCount(1)
}

func globalWaitForEvent(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	return WaitForEvent()
}

func globalMeminfo(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	h := eu.Heap()
	info := h.MemoryInfo()

	byType := NewArrayObject()
	for _, t := range info.ByType {
		entry := NewMaterObject()
		entry.SetProperty(AtomType, h.AllocStringValue(t.Type))
		entry.SetProperty(AtomCount, IntValue(int32(t.Count)))
		entry.SetProperty(AtomSize, IntValue(int32(t.Size)))
		byType.AppendElement(h.AllocObjectValue(entry, true))
	}

	obj := NewMaterObject()
	obj.SetProperty(AtomFreeSize, IntValue(int32(info.FreeSize)))
	obj.SetProperty(AtomAllocatedSize, IntValue(int32(info.AllocatedSize)))
	obj.SetProperty(AtomNumAllocations, IntValue(int32(info.NumAllocations)))
	obj.SetProperty(AtomAllocationsByType, h.AllocObjectValue(byType, true))
	eu.Push(h.AllocObjectValue(obj, true))
	return ReturnCount(1)
}

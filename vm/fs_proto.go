package vm

// ---------------------------------------------------------------------------
// FS, File and Directory prototypes
// ---------------------------------------------------------------------------
//
// Script surface:
//
//	var f = FS.open("/data/log.txt", "a");
//	f.write("hello");
//	f.close();
//	var d = FS.openDirectory("/data");
//	while (!d.done()) { println(d.name(), " ", d.size()); d.next(); }
//
// The backing store is the program's mounted FileSystem; without a mount
// every operation fails with an i/o error.

func registerFSProtos(p *Program) {
	NewObjectFactory(p, AtomFS, []PropDesc{
		{Atom: AtomMount, Kind: DescFunction, Fn: fsMount},
		{Atom: AtomOpen, Kind: DescFunction, Fn: fsOpen},
		{Atom: AtomOpenDirectory, Kind: DescFunction, Fn: fsOpenDirectory},
		{Atom: AtomRemove, Kind: DescFunction, Fn: fsRemove},
		{Atom: AtomFormat, Kind: DescFunction, Fn: fsFormat},
	})
	NewObjectFactory(p, AtomFile, nil)
	NewObjectFactory(p, AtomDirectory, nil)
}

func fsMount(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	// Mounting happens host-side before scripts run; report whether a
	// filesystem is attached.
	eu.Push(BoolValue(eu.Program().FileSystem != nil))
	return ReturnCount(1)
}

// fileObject wraps an open handle with the File method surface.
type fileObject struct {
	MaterObject
	handle FileHandle
}

func (o *fileObject) TypeName() string { return "native" }

func registerFileMethods(eu *ExecutionUnit, o *fileObject) {
	add := func(a Atom, fn NativeFn) {
		id := eu.Heap().AllocObject(NewNativeFunction(fn), true)
		o.SetProperty(a, ObjectValue(id))
	}
	add(AtomRead, fileRead)
	add(AtomWrite, fileWrite)
	add(AtomSeek, fileSeek)
	add(AtomSize, fileSize)
	add(AtomClose, fileClose)
}

func fsOpen(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	fs := eu.Program().FileSystem
	if fs == nil {
		return Error(ErrIO)
	}
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	path := eu.ToStringValue(eu.Arg(0, nparams))
	mode := "r"
	if nparams > 1 {
		mode = eu.ToStringValue(eu.Arg(1, nparams))
	}
	handle, err := fs.Open(path, mode)
	if err != nil {
		return Error(ErrIO)
	}
	f := &fileObject{handle: handle}
	registerFileMethods(eu, f)
	eu.Push(eu.Heap().AllocObjectValue(f, true))
	return ReturnCount(1)
}

func asFile(eu *ExecutionUnit, this Value) *fileObject {
	f, _ := eu.Heap().ObjectOf(this).(*fileObject)
	return f
}

func fileRead(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	f := asFile(eu, this)
	if f == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	n := 4096
	if nparams >= 1 {
		if v, ok := eu.ToIntValue(eu.Arg(0, nparams)); ok {
			n = int(v)
		}
	}
	data, err := f.handle.Read(n)
	if err != nil {
		return Error(ErrIO)
	}
	eu.Push(eu.Heap().AllocStringValue(string(data)))
	return ReturnCount(1)
}

func fileWrite(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	f := asFile(eu, this)
	if f == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	n, err := f.handle.Write([]byte(eu.ToStringValue(eu.Arg(0, nparams))))
	if err != nil {
		return Error(ErrIO)
	}
	eu.Push(IntValue(int32(n)))
	return ReturnCount(1)
}

func fileSeek(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	f := asFile(eu, this)
	if f == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	off, ok := eu.ToIntValue(eu.Arg(0, nparams))
	if !ok {
		return Error(ErrCannotConvertStringToNumber)
	}
	pos, err := f.handle.Seek(int64(off))
	if err != nil {
		return Error(ErrIO)
	}
	eu.Push(IntValue(int32(pos)))
	return ReturnCount(1)
}

func fileSize(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	f := asFile(eu, this)
	if f == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	eu.Push(IntValue(int32(f.handle.Size())))
	return ReturnCount(1)
}

func fileClose(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	f := asFile(eu, this)
	if f == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	if err := f.handle.Close(); err != nil {
		return Error(ErrIO)
	}
	return ReturnCount(0)
}

// dirObject walks a directory listing.
type dirObject struct {
	MaterObject
	entries []DirEntry
	index   int
}

func (o *dirObject) TypeName() string { return "native" }

func fsOpenDirectory(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	fs := eu.Program().FileSystem
	if fs == nil {
		return Error(ErrIO)
	}
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	entries, err := fs.ReadDir(eu.ToStringValue(eu.Arg(0, nparams)))
	if err != nil {
		return Error(ErrIO)
	}
	d := &dirObject{entries: entries}
	add := func(a Atom, fn NativeFn) {
		id := eu.Heap().AllocObject(NewNativeFunction(fn), true)
		d.SetProperty(a, ObjectValue(id))
	}
	add(AtomName, dirName)
	add(AtomSize, dirSize)
	add(AtomNext, dirNext)
	add(AtomDone, dirDone)
	eu.Push(eu.Heap().AllocObjectValue(d, true))
	return ReturnCount(1)
}

func asDir(eu *ExecutionUnit, this Value) *dirObject {
	d, _ := eu.Heap().ObjectOf(this).(*dirObject)
	return d
}

func dirName(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	d := asDir(eu, this)
	if d == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	name := ""
	if d.index < len(d.entries) {
		name = d.entries[d.index].Name
	}
	eu.Push(eu.Heap().AllocStringValue(name))
	return ReturnCount(1)
}

func dirSize(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	d := asDir(eu, this)
	if d == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	var size int64
	if d.index < len(d.entries) {
		size = d.entries[d.index].Size
	}
	eu.Push(IntValue(int32(size)))
	return ReturnCount(1)
}

func dirNext(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	d := asDir(eu, this)
	if d == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	if d.index < len(d.entries) {
		d.index++
	}
	return ReturnCount(0)
}

func dirDone(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	d := asDir(eu, this)
	if d == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	eu.Push(BoolValue(d.index >= len(d.entries)))
	return ReturnCount(1)
}

func fsRemove(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	fs := eu.Program().FileSystem
	if fs == nil {
		return Error(ErrIO)
	}
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	if err := fs.Remove(eu.ToStringValue(eu.Arg(0, nparams))); err != nil {
		return Error(ErrIO)
	}
	return ReturnCount(0)
}

func fsFormat(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	fs := eu.Program().FileSystem
	if fs == nil {
		return Error(ErrIO)
	}
	if err := fs.Format(); err != nil {
		return Error(ErrIO)
	}
	return ReturnCount(0)
}

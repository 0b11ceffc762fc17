package vm

// ---------------------------------------------------------------------------
// Task prototype
// ---------------------------------------------------------------------------
//
// Script surface:
//
//	var t = new Task("/scripts/worker.m8r");
//	t.run();
//	t.terminate();
//
// A constructed task gets its own program and execution unit over the
// shared heap; the scheduler runs it cooperatively alongside its creator.

type taskObject struct {
	MaterObject
	task *Task
}

func (o *taskObject) TypeName() string { return "native" }

func registerTaskProto(p *Program) {
	NewObjectFactory(p, AtomTask, []PropDesc{
		{Atom: AtomConstructor, Kind: DescFunction, Fn: taskConstruct},
		{Atom: AtomRun, Kind: DescFunction, Fn: taskRun},
		{Atom: AtomTerminate, Kind: DescFunction, Fn: taskTerminate},
	})
}

func taskConstruct(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	owner := eu.Task()
	parent := eu.Program()
	if owner == nil || parent.Compile == nil || parent.ReadModule == nil {
		return Error(ErrIO)
	}
	src, err := parent.ReadModule(eu.ToStringValue(eu.Arg(0, nparams)))
	if err != nil {
		return Error(ErrIO)
	}

	p := NewProgram(parent.Heap(), parent.Atoms())
	p.Compile = parent.Compile
	p.ReadModule = parent.ReadModule
	p.FileSystem = parent.FileSystem
	RegisterBuiltins(p)
	mainID, err := p.Compile(p, src)
	if err != nil {
		return Error(ErrSyntax)
	}
	p.SetMain(mainID)

	childEU := NewExecutionUnit(p, eu.Console())
	child := owner.Loop().AddTask(childEU)

	t := &taskObject{task: child}
	if inst := eu.Heap().ObjectOf(this); inst != nil {
		for i := 0; i < inst.PropertyCount(); i++ {
			t.SetProperty(inst.PropertyAtomAt(i), inst.PropertyAt(i))
		}
	}
	eu.Push(eu.Heap().AllocObjectValue(t, true))
	return ReturnCount(1)
}

func asTask(eu *ExecutionUnit, this Value) *taskObject {
	t, _ := eu.Heap().ObjectOf(this).(*taskObject)
	return t
}

func taskRun(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	t := asTask(eu, this)
	if t == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	// Admission made the task ready; run is the explicit start signal for
	// tasks created while the loop was idle.
	if t.task.state != TaskFinished {
		t.task.state = TaskReady
	}
	return ReturnCount(0)
}

func taskTerminate(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	t := asTask(eu, this)
	if t == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	t.task.Terminate()
	return ReturnCount(0)
}

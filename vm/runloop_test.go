package vm_test

import (
	"strings"
	"testing"
	"time"

	"github.com/chazu/m8rgo/compiler"
	"github.com/chazu/m8rgo/vm"
)

// startLooped compiles src, admits it as a task, and runs the loop on a
// background goroutine.
func startLooped(t *testing.T, src string, out *strings.Builder) (*vm.RunLoop, *vm.Program, *vm.Task, chan struct{}) {
	t.Helper()
	heap := vm.NewHeap()
	prog := vm.NewProgram(heap, vm.NewAtomTable())
	prog.Compile = compiler.Compile
	vm.RegisterBuiltins(prog)

	mainID, err := compiler.Compile(prog, src)
	if err != nil {
		t.Fatalf("compile failed: %s", err)
	}
	prog.SetMain(mainID)

	loop := vm.NewRunLoop(heap)
	eu := vm.NewExecutionUnit(prog, vm.PrinterFunc(func(s string) { out.WriteString(s) }))
	task := loop.AddTask(eu)

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()
	return loop, prog, task, done
}

// Resuming after waitForEvent runs the next instruction only after at
// least one event has been delivered.
func TestEventDelivery(t *testing.T) {
	var out strings.Builder
	src := `
		function cb(msg) { println("got " + msg); }
		waitForEvent();
		println("after");
	`
	loop, prog, task, done := startLooped(t, src, &out)

	// Let the task reach its waitForEvent.
	time.Sleep(50 * time.Millisecond)

	cb, ok := prog.Global(prog.AtomizeString("cb"))
	if !ok {
		t.Fatal("callback global not bound")
	}
	loop.PostEvent(&vm.Event{
		Task: task,
		Fn:   cb,
		This: vm.Undefined,
		Prepare: func(eu *vm.ExecutionUnit) []vm.Value {
			return []vm.Value{eu.Heap().AllocStringValue("ping")}
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not resume after event delivery")
	}
	if out.String() != "got ping\nafter\n" {
		t.Errorf("output = %q, want %q", out.String(), "got ping\nafter\n")
	}
}

func TestEventOrdering(t *testing.T) {
	var out strings.Builder
	src := `
		function cb(n) { println(n); }
		waitForEvent();
	`
	loop, prog, task, done := startLooped(t, src, &out)
	time.Sleep(50 * time.Millisecond)

	cb, _ := prog.Global(prog.AtomizeString("cb"))
	for i := 1; i <= 3; i++ {
		n := int32(i)
		loop.PostEvent(&vm.Event{
			Task: task,
			Fn:   cb,
			This: vm.Undefined,
			Args: []vm.Value{vm.IntValue(n)},
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
	// Events from one source arrive in source order; the wait is
	// satisfied by the first and the rest drain before the task resumes
	// or right after.
	got := out.String()
	if !strings.HasPrefix(got, "1\n") {
		t.Errorf("first event out of order: %q", got)
	}
	if strings.Contains(got, "3\n2") || strings.Contains(got, "2\n1") {
		t.Errorf("events delivered out of order: %q", got)
	}
}

func TestSleepingTaskWakes(t *testing.T) {
	var out strings.Builder
	_, _, _, done := startLooped(t, `delay(30); println("woke");`, &out)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sleeping task never woke")
	}
	if out.String() != "woke\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestStopAbandonsLoop(t *testing.T) {
	var out strings.Builder
	loop, _, _, done := startLooped(t, `while (true) { delay(5); }`, &out)
	time.Sleep(20 * time.Millisecond)
	loop.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not end Run")
	}
}

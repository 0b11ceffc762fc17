package vm

import (
	"container/heap"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

var runloopLog = commonlog.GetLogger("m8r.runloop")

// ---------------------------------------------------------------------------
// Event records
// ---------------------------------------------------------------------------

// Event is a queued callable delivery: (callable, this, arguments), plus
// the pins that keep the closure alive while the event is in flight. Host
// adapters enqueue events; the run loop is the single consumer.
type Event struct {
	Task *Task
	Fn   Value
	This Value
	Args []Value

	// Prepare builds the argument vector on the run loop goroutine at
	// delivery time. Host goroutines must use this instead of Args for
	// anything that allocates on the heap, which is not thread safe.
	Prepare func(eu *ExecutionUnit) []Value

	// Unpin lists object handles whose pin is dropped after delivery.
	Unpin []ObjectID
}

// ---------------------------------------------------------------------------
// Timer queue
// ---------------------------------------------------------------------------

type timerEntry struct {
	at   Time
	task *Task
}

type timerQueue []timerEntry

func (q timerQueue) Len() int            { return len(q) }
func (q timerQueue) Less(i, j int) bool  { return q[i].at < q[j].at }
func (q timerQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *timerQueue) Push(x interface{}) { *q = append(*q, x.(timerEntry)) }
func (q *timerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// ---------------------------------------------------------------------------
// RunLoop: the cooperative scheduler
// ---------------------------------------------------------------------------

// RunLoop drives every task of one runtime instance: a FIFO of ready
// tasks, a priority queue of sleep deadlines, and an event queue fed by
// host adapters (sockets, timers, resolvers) from their own goroutines.
// Script code only ever runs on the goroutine that calls Run, so the VM
// state needs no locking.
type RunLoop struct {
	heap  *Heap
	tasks []*Task

	timers timerQueue
	events chan *Event
	funcs  chan func()

	holds atomic.Int32
	stop  chan struct{}
}

// NewRunLoop creates a run loop over a heap.
func NewRunLoop(h *Heap) *RunLoop {
	return &RunLoop{
		heap:   h,
		events: make(chan *Event, 64),
		funcs:  make(chan func(), 16),
		stop:   make(chan struct{}),
	}
}

// Heap returns the shared heap.
func (rl *RunLoop) Heap() *Heap { return rl.heap }

// AddTask admits a program execution as a new task, initially ready.
func (rl *RunLoop) AddTask(eu *ExecutionUnit) *Task {
	t := newTask(eu, rl)
	eu.SetRoots(rl)
	rl.tasks = append(rl.tasks, t)
	runloopLog.Debugf("task %s admitted", t.ID)
	return t
}

// PostEvent enqueues an event for delivery. Safe to call from any
// goroutine; the pins named in the event must already be held.
func (rl *RunLoop) PostEvent(ev *Event) {
	select {
	case rl.events <- ev:
	case <-rl.stop:
	}
}

// Hold keeps Run alive while no tasks exist, for hosts with listeners
// that admit tasks later. Balance with Release.
func (rl *RunLoop) Hold() { rl.holds.Add(1) }

// Release drops one hold.
func (rl *RunLoop) Release() { rl.holds.Add(-1) }

// Post schedules fn to run on the loop goroutine, where touching the heap
// and the VMs is safe. Used by host adapters that must create tasks or
// compile code from their own goroutines.
func (rl *RunLoop) Post(fn func()) {
	select {
	case rl.funcs <- fn:
	case <-rl.stop:
	}
}

// Stop makes Run return after the current iteration.
func (rl *RunLoop) Stop() {
	close(rl.stop)
}

// Stopped is closed when the loop is shutting down; hosts blocked on
// posted work select on it.
func (rl *RunLoop) Stopped() <-chan struct{} { return rl.stop }

// Run drives the loop until every task has finished or Stop is called.
func (rl *RunLoop) Run() {
	for rl.runOnce(true) {
	}
}

// RunOnce performs a single non-blocking iteration, for tests and for
// embedding in a host loop. Reports whether live tasks remain.
func (rl *RunLoop) RunOnce() bool {
	return rl.runOnce(false)
}

func (rl *RunLoop) runOnce(block bool) bool {
	select {
	case <-rl.stop:
		return false
	default:
	}

	// 1. Drain posted host work and ready events.
	rl.drainFuncs()
	rl.drainEvents()

	// 2. Advance timers.
	now := Now()
	for len(rl.timers) > 0 && !now.Before(rl.timers[0].at) {
		e := heap.Pop(&rl.timers).(timerEntry)
		if e.task.state == TaskSleeping {
			e.task.state = TaskReady
		}
	}

	// 3. Run one quantum of each ready task.
	for _, t := range rl.tasks {
		if t.state != TaskReady {
			continue
		}
		rl.runQuantum(t)
	}

	// 4. Retire finished tasks.
	alive := rl.tasks[:0]
	for _, t := range rl.tasks {
		if t.state == TaskFinished {
			t.releasePins()
			rl.dropPendingFor(t)
			continue
		}
		alive = append(alive, t)
	}
	rl.tasks = alive
	if len(rl.tasks) == 0 && rl.holds.Load() == 0 {
		return false
	}

	// 5. Block on the selector until the earliest deadline or the next
	// event, unless something is already runnable.
	if block && !rl.anyReady() {
		rl.blockForWork()
	}
	return true
}

func (rl *RunLoop) anyReady() bool {
	for _, t := range rl.tasks {
		if t.state == TaskReady || len(t.pending) > 0 {
			return true
		}
	}
	return false
}

func (rl *RunLoop) blockForWork() {
	var timer *time.Timer
	var due <-chan time.Time
	if len(rl.timers) > 0 {
		wait := rl.timers[0].at.Sub(Now())
		if wait < 0 {
			return
		}
		timer = time.NewTimer(wait.Std())
		due = timer.C
	}
	select {
	case ev := <-rl.events:
		rl.deliver(ev)
	case fn := <-rl.funcs:
		fn()
	case <-due:
	case <-rl.stop:
	}
	if timer != nil {
		timer.Stop()
	}
}

func (rl *RunLoop) drainFuncs() {
	for {
		select {
		case fn := <-rl.funcs:
			fn()
		default:
			return
		}
	}
}

// drainEvents moves every queued event into its task and fires it.
func (rl *RunLoop) drainEvents() {
	for {
		select {
		case ev := <-rl.events:
			rl.deliver(ev)
		default:
			return
		}
	}
}

// deliver fires one event on its task's VM. Delivery runs the callback to
// completion (or suspension refusal) on top of the task's suspended state;
// a waiting task becomes ready afterwards since its wait is satisfied.
func (rl *RunLoop) deliver(ev *Event) {
	t := ev.Task
	defer func() {
		for _, id := range ev.Unpin {
			if t != nil {
				t.Unpin(id)
			} else {
				rl.heap.RemoveStaticObject(id)
			}
		}
	}()
	if t == nil || t.state == TaskFinished {
		return
	}
	args := ev.Args
	if ev.Prepare != nil {
		args = ev.Prepare(t.eu)
	}
	crv := t.eu.FireEvent(ev.Fn, ev.This, args)
	if crv.IsError() {
		runloopLog.Errorf("task %s: event callback failed: %s", t.ID, crv.ErrorCode())
	}
	if t.state == TaskWaiting {
		t.state = TaskReady
	} else {
		t.wakeups++
	}
}

func (rl *RunLoop) dropPendingFor(t *Task) {
	t.pending = nil
}

// runQuantum executes one task until it yields, finishes, or fails.
func (rl *RunLoop) runQuantum(t *Task) {
	crv := t.eu.Execute()
	switch crv.Type() {
	case CallDelay:
		t.state = TaskSleeping
		t.wakeAt = Now().Add(crv.Delay())
		heap.Push(&rl.timers, timerEntry{at: t.wakeAt, task: t})
	case CallWaitForEvent:
		// An event delivered before the wait began satisfies it.
		if t.wakeups > 0 {
			t.wakeups--
			t.state = TaskReady
		} else {
			t.state = TaskWaiting
		}
	case CallFinished:
		runloopLog.Debugf("task %s finished", t.ID)
		t.state = TaskFinished
	case CallTerminated:
		runloopLog.Debugf("task %s terminated", t.ID)
		t.state = TaskFinished
	case CallError:
		runloopLog.Errorf("task %s failed: %s", t.ID, crv.ErrorCode())
		t.state = TaskFinished
	default:
		t.state = TaskFinished
	}
}

// ---------------------------------------------------------------------------
// GC roots
// ---------------------------------------------------------------------------

// ForEachRoot contributes every task's VM state and every undelivered
// event's values to the root set.
func (rl *RunLoop) ForEachRoot(fn func(Value)) {
	for _, t := range rl.tasks {
		t.eu.ForEachRoot(fn)
		for _, ev := range t.pending {
			ev.forEachRoot(fn)
		}
	}
	// Events sitting in the channel cannot be traversed without draining
	// it; their closures are covered by the poster's pins.
}

func (ev *Event) forEachRoot(fn func(Value)) {
	fn(ev.Fn)
	fn(ev.This)
	for _, a := range ev.Args {
		fn(a)
	}
}

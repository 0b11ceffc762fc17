package vm

import "github.com/google/uuid"

// ---------------------------------------------------------------------------
// Task: one cooperatively scheduled script execution
// ---------------------------------------------------------------------------

// TaskState tracks a task through the scheduler.
type TaskState int

const (
	// TaskReady: runnable, queued for the next quantum.
	TaskReady TaskState = iota
	// TaskSleeping: waiting for a deadline (delay).
	TaskSleeping
	// TaskWaiting: waiting for at least one event (waitForEvent).
	TaskWaiting
	// TaskFinished: ran to completion, failed, or was terminated.
	TaskFinished
)

// Task binds an execution unit to the scheduler. A task owns its VM stack;
// stacks are never shared across tasks. Lifetime runs from admission to
// normal termination, explicit termination, or fatal error.
type Task struct {
	ID   uuid.UUID
	eu   *ExecutionUnit
	loop *RunLoop

	state  TaskState
	wakeAt Time

	// pins are the event roots this task holds; released when the task
	// finishes so its closures become collectable.
	pins []ObjectID

	// pending are delivered-but-not-yet-fired events.
	pending []*Event

	// wakeups counts events delivered while the task was not waiting, so
	// a waitForEvent that starts after its event still returns.
	wakeups int
}

func newTask(eu *ExecutionUnit, loop *RunLoop) *Task {
	t := &Task{ID: uuid.New(), eu: eu, loop: loop}
	eu.task = t
	return t
}

// EU returns the task's execution unit.
func (t *Task) EU() *ExecutionUnit { return t.eu }

// Loop returns the owning run loop.
func (t *Task) Loop() *RunLoop { return t.loop }

// State returns the scheduler state.
func (t *Task) State() TaskState { return t.state }

// Terminate requests cancellation. The VM observes the flag at its next
// safe point and unwinds with a Terminated reason; the task's event pins
// are released when the scheduler retires it.
func (t *Task) Terminate() {
	t.eu.Terminate()
	if t.state == TaskSleeping || t.state == TaskWaiting {
		t.state = TaskReady
	}
}

// Pin registers an object as a GC root for the lifetime of an asynchronous
// operation started by this task.
func (t *Task) Pin(id ObjectID) {
	t.eu.Heap().AddStaticObject(id)
	t.pins = append(t.pins, id)
}

// Unpin drops one pin.
func (t *Task) Unpin(id ObjectID) {
	t.eu.Heap().RemoveStaticObject(id)
	for i, p := range t.pins {
		if p == id {
			t.pins = append(t.pins[:i], t.pins[i+1:]...)
			break
		}
	}
}

// releasePins drops every outstanding pin; called when the task finishes.
func (t *Task) releasePins() {
	for _, id := range t.pins {
		t.eu.Heap().RemoveStaticObject(id)
	}
	t.pins = nil
}

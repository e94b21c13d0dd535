package async

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// TaskKind is the flavour of coroutine a task drives.
type TaskKind int

const (
	KindAsync TaskKind = iota
	KindSyncStar
	KindAsyncStar
)

func (k TaskKind) String() string {
	switch k {
	case KindSyncStar:
		return "sync*"
	case KindAsyncStar:
		return "async*"
	}
	return "async"
}

// TaskState is the lifecycle state of a task.
type TaskState int32

const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskSuspended
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskSuspended:
		return "suspended"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	}
	return "created"
}

// Task is the driver-side record of one coroutine activation.
type Task struct {
	ID   uuid.UUID
	Kind TaskKind
	Gen  Generator

	state     atomic.Int32
	cancelled atomic.Bool
	point     atomic.Int32
	awaiting  atomic.Pointer[Future]
}

func newTask(kind TaskKind, gen Generator) *Task {
	t := &Task{ID: uuid.New(), Kind: kind, Gen: gen}
	t.point.Store(int32(StepDone))
	return t
}

// State returns the task's current state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

func (t *Task) setState(s TaskState) { t.state.Store(int32(s)) }

// SuspensionPoint is the kind of the step the body last suspended at.
// A task that has not run yet or has finished reports StepDone.
func (t *Task) SuspensionPoint() StepKind { return StepKind(t.point.Load()) }

// Awaiting returns the future the body is suspended on, or nil when it is
// not parked on a pending future.
func (t *Task) Awaiting() *Future { return t.awaiting.Load() }

// Cancelled reports whether cancellation was requested.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

func (t *Task) resume(r Resumption) (Step, error) {
	if t.Cancelled() {
		r = Resumption{Kind: ResumeReturn}
	}
	t.setState(TaskRunning)
	step, err := t.Gen.Resume(r)
	t.awaiting.Store(nil)
	if err != nil {
		t.point.Store(int32(StepDone))
	} else {
		t.point.Store(int32(step.Kind))
		if step.Kind == StepAwait {
			t.awaiting.Store(step.Future)
		}
	}
	switch {
	case err != nil:
		t.setState(TaskFailed)
	case step.Kind == StepDone && t.Cancelled():
		t.setState(TaskCancelled)
	case step.Kind == StepDone:
		t.setState(TaskCompleted)
	default:
		t.setState(TaskSuspended)
	}
	return step, err
}

package async

import (
	"iter"

	"github.com/funvibe/dynrt/internal/diagnostics"
)

// Iterable is the lazily produced sequence of a sync* body. Every
// Iterator starts a fresh generator, so iteration is restartable.
type Iterable struct {
	factory func() Generator
}

// SyncStar wraps a generator factory as an iterable.
func SyncStar(factory func() Generator) *Iterable {
	return &Iterable{factory: factory}
}

// SyncStarFunc is SyncStar over a Go body.
func SyncStarFunc(body func(s *Suspender) error) *Iterable {
	return SyncStar(func() Generator {
		return FromFunc(func(s *Suspender) (any, error) { return nil, body(s) })
	})
}

// Iterator starts a new pass over the sequence. Drain it or call Close:
// an iterator abandoned mid-sequence keeps a FromFunc body's goroutine
// parked and never runs its cleanup. All closes on early exit.
func (it *Iterable) Iterator() *Iterator {
	return &Iterator{task: newTask(KindSyncStar, it.factory())}
}

// All ranges over the sequence. A body error is yielded once as the final
// pair; stopping early closes the iterator so the body's cleanup runs.
func (it *Iterable) All() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		i := it.Iterator()
		for {
			ok, err := i.MoveNext()
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			if !yield(i.Current(), nil) {
				i.Close()
				return
			}
		}
	}
}

// ToList drains one full pass.
func (it *Iterable) ToList() ([]any, error) {
	out := []any{}
	for v, err := range it.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ClassName implements diagnostics.Named.
func (it *Iterable) ClassName() string { return "Iterable" }

// Iterator pulls elements from one sync* activation.
type Iterator struct {
	task    *Task
	current any
	done    bool
}

// MoveNext runs the body up to its next yield. It returns false once the
// body finished; a body error is returned once and ends iteration.
func (i *Iterator) MoveNext() (bool, error) {
	if i.done {
		return false, nil
	}
	step, err := i.task.resume(Resumption{})
	if err != nil {
		i.finish()
		return false, err
	}
	switch step.Kind {
	case StepYield:
		i.current = step.Value
		return true, nil
	case StepAwait:
		i.Close()
		return false, diagnostics.NewStateError("sync* body cannot await")
	}
	i.finish()
	return false, nil
}

func (i *Iterator) finish() {
	i.done = true
	i.current = nil
}

// Current returns the element produced by the last successful MoveNext.
func (i *Iterator) Current() any { return i.current }

// Task returns the record of the running activation.
func (i *Iterator) Task() *Task { return i.task }

// Close abandons iteration and runs the body's pending cleanup.
func (i *Iterator) Close() error {
	if i.done {
		return nil
	}
	i.task.cancelled.Store(true)
	i.finish()
	_, err := i.task.resume(Resumption{Kind: ResumeReturn})
	return err
}

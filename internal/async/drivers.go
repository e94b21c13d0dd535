package async

import (
	"github.com/funvibe/dynrt/internal/diagnostics"
)

// Async runs an async body and returns the future of its result. The body
// runs synchronously up to its first suspension.
func Async(loop *Loop, gen Generator) *Future {
	c := NewCompleter(loop)
	task := newTask(KindAsync, gen)
	loop.logger.Debug("task started", "task", task.ID, "kind", task.Kind)

	var step func(r Resumption)
	step = func(r Resumption) {
		s, err := task.resume(r)
		if err != nil {
			loop.logger.Debug("task failed", "task", task.ID, "error", err)
			c.Fail(err)
			return
		}
		switch s.Kind {
		case StepDone:
			loop.logger.Debug("task completed", "task", task.ID)
			c.Complete(s.Value)
		case StepAwait:
			awaitStep(loop, s, step)
		case StepYield:
			task.cancelled.Store(true)
			task.resume(Resumption{Kind: ResumeReturn})
			c.Fail(diagnostics.NewStateError("async body cannot yield"))
		}
	}
	step(Resumption{})
	return c.Future
}

// AsyncFunc is Async over a Go body.
func AsyncFunc(loop *Loop, body func(s *Suspender) (any, error)) *Future {
	return Async(loop, FromFunc(body))
}

// awaitStep resumes the body with the outcome of an await step.
func awaitStep(loop *Loop, s Step, resume func(Resumption)) {
	if s.Future == nil {
		v := s.Value
		loop.Schedule(func() { resume(Resumption{Value: v}) })
		return
	}
	s.Future.OnComplete(func(v any, err error) {
		if err != nil {
			resume(Resumption{Kind: ResumeError, Err: err})
			return
		}
		resume(Resumption{Value: v})
	})
}

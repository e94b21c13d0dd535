package async

import (
	"github.com/funvibe/dynrt/internal/diagnostics"
)

// Stream is the event sequence of an async* body. Each Listen starts a
// fresh activation.
type Stream struct {
	loop    *Loop
	factory func() Generator
}

// AsyncStar wraps a generator factory as a stream on loop.
func AsyncStar(loop *Loop, factory func() Generator) *Stream {
	return &Stream{loop: loop, factory: factory}
}

// AsyncStarFunc is AsyncStar over a Go body.
func AsyncStarFunc(loop *Loop, body func(s *Suspender) error) *Stream {
	return AsyncStar(loop, func() Generator {
		return FromFunc(func(s *Suspender) (any, error) { return nil, body(s) })
	})
}

// Loop returns the loop the stream delivers on.
func (st *Stream) Loop() *Loop { return st.loop }

// ClassName implements diagnostics.Named.
func (st *Stream) ClassName() string { return "Stream" }

// Handlers receive stream events. Any of them may be nil.
type Handlers struct {
	OnData  func(v any)
	OnError func(err error)
	OnDone  func()
}

type subState int

const (
	subScheduled subState = iota // a resumption is queued
	subAwaiting                  // the body waits on a future
	subParked                    // paused after delivering an element
	subDone
)

// Subscription controls one activation of an async* body. Its methods
// must be called on the loop goroutine, typically from handlers.
type Subscription struct {
	loop   *Loop
	task   *Task
	h      Handlers
	state  subState
	paused bool
	cancel *Completer
}

// Listen starts the body on the next microtask and delivers its events to h.
func (st *Stream) Listen(h Handlers) *Subscription {
	sub := &Subscription{loop: st.loop, task: newTask(KindAsyncStar, st.factory()), h: h}
	st.loop.logger.Debug("task started", "task", sub.task.ID, "kind", sub.task.Kind)
	st.loop.Schedule(func() { sub.advance(Resumption{}) })
	return sub
}

// Task returns the record of the running activation.
func (sub *Subscription) Task() *Task { return sub.task }

// IsPaused reports whether the subscriber asked to stop production.
func (sub *Subscription) IsPaused() bool { return sub.paused }

// Pause suspends production after the element currently being produced.
func (sub *Subscription) Pause() { sub.paused = true }

// Resume continues a paused subscription.
func (sub *Subscription) Resume() {
	if !sub.paused {
		return
	}
	sub.paused = false
	if sub.state == subParked {
		sub.state = subScheduled
		sub.loop.Schedule(func() { sub.advance(Resumption{}) })
	}
}

// Cancel stops the body at its next resumption point, running its pending
// cleanup. The returned future completes once cleanup finished and fails
// with any error the cleanup raised.
func (sub *Subscription) Cancel() *Future {
	if sub.cancel != nil {
		return sub.cancel.Future
	}
	sub.cancel = NewCompleter(sub.loop)
	if sub.state == subDone {
		sub.cancel.Complete(nil)
		return sub.cancel.Future
	}
	sub.task.cancelled.Store(true)
	if sub.state == subParked {
		sub.state = subScheduled
		sub.loop.Schedule(func() { sub.advance(Resumption{Kind: ResumeReturn}) })
	}
	return sub.cancel.Future
}

func (sub *Subscription) advance(r Resumption) {
	if sub.state == subDone {
		return
	}
	s, err := sub.task.resume(r)
	if err != nil {
		sub.finish(err)
		return
	}
	switch s.Kind {
	case StepDone:
		sub.finish(nil)
	case StepAwait:
		sub.state = subAwaiting
		awaitStep(sub.loop, s, func(r Resumption) {
			sub.state = subScheduled
			sub.advance(r)
		})
	case StepYield:
		if !sub.task.Cancelled() && sub.h.OnData != nil {
			sub.h.OnData(s.Value)
		}
		switch {
		case sub.task.Cancelled():
			sub.state = subScheduled
			sub.loop.Schedule(func() { sub.advance(Resumption{Kind: ResumeReturn}) })
		case sub.paused:
			sub.state = subParked
		default:
			sub.state = subScheduled
			sub.loop.Schedule(func() { sub.advance(Resumption{}) })
		}
	}
}

func (sub *Subscription) finish(err error) {
	sub.state = subDone
	log := sub.loop.logger
	if sub.cancel != nil {
		log.Debug("task cancelled", "task", sub.task.ID)
		if err != nil {
			sub.cancel.Fail(err)
		} else {
			sub.cancel.Complete(nil)
		}
		return
	}
	if err != nil {
		log.Debug("task failed", "task", sub.task.ID, "error", err)
		if sub.h.OnError != nil {
			sub.h.OnError(err)
		}
	} else {
		log.Debug("task completed", "task", sub.task.ID)
	}
	if sub.h.OnDone != nil {
		sub.h.OnDone()
	}
}

// ToList collects every element. The future fails with the first error.
func (st *Stream) ToList() *Future {
	c := NewCompleter(st.loop)
	var out []any
	st.Listen(Handlers{
		OnData:  func(v any) { out = append(out, v) },
		OnError: func(err error) { c.Fail(err) },
		OnDone: func() {
			if !c.IsCompleted() {
				if out == nil {
					out = []any{}
				}
				c.Complete(out)
			}
		},
	})
	return c.Future
}

// First completes with the first element and cancels the subscription.
func (st *Stream) First() *Future {
	c := NewCompleter(st.loop)
	var sub *Subscription
	sub = st.Listen(Handlers{
		OnData: func(v any) {
			if c.IsCompleted() {
				return
			}
			c.Complete(v)
			sub.Cancel()
		},
		OnError: func(err error) { c.Fail(err) },
		OnDone: func() {
			if !c.IsCompleted() {
				c.Fail(diagnostics.NewStateError("no element"))
			}
		},
	})
	return c.Future
}

package async

import (
	"errors"
	"fmt"
)

// ResumeKind says how a suspended body continues.
type ResumeKind int

const (
	// ResumeValue continues with Value as the result of the suspension.
	ResumeValue ResumeKind = iota
	// ResumeError raises Err at the suspension point.
	ResumeError
	// ResumeReturn unwinds the body from the suspension point, running its
	// cleanup. Drivers use it for cancellation.
	ResumeReturn
)

// Resumption is passed to Generator.Resume.
type Resumption struct {
	Kind  ResumeKind
	Value any
	Err   error
}

// StepKind says why a body suspended.
type StepKind int

const (
	StepYield StepKind = iota
	StepAwait
	StepDone
)

func (k StepKind) String() string {
	switch k {
	case StepYield:
		return "yield"
	case StepAwait:
		return "await"
	}
	return "done"
}

// Step is what a body produced when it suspended or finished. Value is the
// yielded element, the awaited non-future value or the return value;
// Future is set for awaits on a pending computation.
type Step struct {
	Kind   StepKind
	Value  any
	Future *Future
}

// Generator is a resumable coroutine body. The first Resume starts the
// body and its value is ignored. After a StepDone or an error the
// generator is finished and further resumptions report StepDone.
type Generator interface {
	Resume(r Resumption) (Step, error)
}

// ErrCancelled is returned from Suspender operations once the driver asked
// the body to return. Bodies should propagate it so their deferred cleanup
// runs.
var ErrCancelled = errors.New("coroutine cancelled")

// Suspender is handed to a FromFunc body to suspend it.
type Suspender struct {
	g         *funcGen
	cancelled bool
}

// Yield publishes v and waits for the consumer to ask for the next element.
func (s *Suspender) Yield(v any) error {
	_, err := s.suspend(Step{Kind: StepYield, Value: v})
	return err
}

// Await suspends until f completes and returns its outcome.
func (s *Suspender) Await(f *Future) (any, error) {
	return s.suspend(Step{Kind: StepAwait, Future: f})
}

// AwaitValue suspends for one microtask turn and returns v, the way
// awaiting a non-future value behaves.
func (s *Suspender) AwaitValue(v any) (any, error) {
	return s.suspend(Step{Kind: StepAwait, Value: v})
}

// Cancelled reports whether the driver asked the body to return.
func (s *Suspender) Cancelled() bool { return s.cancelled }

func (s *Suspender) suspend(step Step) (any, error) {
	if s.cancelled {
		return nil, ErrCancelled
	}
	s.g.out <- outcome{step: step}
	r := <-s.g.in
	switch r.Kind {
	case ResumeError:
		return nil, r.Err
	case ResumeReturn:
		s.cancelled = true
		return nil, ErrCancelled
	}
	return r.Value, nil
}

type outcome struct {
	step Step
	err  error
}

// funcGen runs a Go body on its own goroutine with strict handoff: exactly
// one of the driver and the body is running at any time.
type funcGen struct {
	body     func(*Suspender) (any, error)
	in       chan Resumption
	out      chan outcome
	started  bool
	finished bool
}

// FromFunc adapts a Go function body to a Generator. The body suspends
// through its Suspender; returning ends the coroutine.
//
// The body runs on its own goroutine, which stays parked at its last
// suspension until the driver resumes it. A generator that is dropped
// without being run to StepDone or resumed with ResumeReturn, or whose
// body awaits a future that never completes, leaks that goroutine.
func FromFunc(body func(s *Suspender) (any, error)) Generator {
	return &funcGen{body: body, in: make(chan Resumption), out: make(chan outcome)}
}

func (g *funcGen) Resume(r Resumption) (Step, error) {
	if g.finished {
		return Step{Kind: StepDone}, nil
	}
	if !g.started {
		g.started = true
		switch r.Kind {
		case ResumeReturn:
			g.finished = true
			return Step{Kind: StepDone}, nil
		case ResumeError:
			g.finished = true
			return Step{}, r.Err
		}
		go g.run()
	} else {
		g.in <- r
	}
	res := <-g.out
	if res.err != nil || res.step.Kind == StepDone {
		g.finished = true
	}
	return res.step, res.err
}

func (g *funcGen) run() {
	s := &Suspender{g: g}
	var res outcome
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				res = outcome{err: e}
			} else {
				res = outcome{err: fmt.Errorf("panic in coroutine: %v", r)}
			}
		}
		g.out <- res
	}()
	v, err := g.body(s)
	switch {
	case s.cancelled && (err == nil || errors.Is(err, ErrCancelled)):
		res = outcome{step: Step{Kind: StepDone}}
	case err != nil:
		res = outcome{err: err}
	default:
		res = outcome{step: Step{Kind: StepDone, Value: v}}
	}
}

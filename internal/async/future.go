package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/funvibe/dynrt/internal/diagnostics"
)

// Future is the deferred result of an asynchronous computation. Completion
// callbacks always run as microtasks, never synchronously inside Complete.
type Future struct {
	loop *Loop

	mu        sync.Mutex
	done      bool
	value     any
	err       error
	callbacks []func(any, error)
}

// Completer is the write side of a Future.
type Completer struct {
	Future *Future
}

// NewCompleter creates a pending future bound to loop.
func NewCompleter(loop *Loop) *Completer {
	return &Completer{Future: &Future{loop: loop}}
}

// Complete resolves the future with v. A *Future value is chained: the
// completer settles when v does.
func (c *Completer) Complete(v any) error {
	if other, ok := v.(*Future); ok {
		if c.Future.Done() {
			return diagnostics.NewStateError("future already completed")
		}
		other.OnComplete(func(v any, err error) { c.Future.settle(v, err) })
		return nil
	}
	return c.Future.settle(v, nil)
}

// Fail completes the future with err.
func (c *Completer) Fail(err error) error {
	if err == nil {
		err = fmt.Errorf("future failed with a nil error")
	}
	return c.Future.settle(nil, err)
}

// IsCompleted reports whether the future has settled.
func (c *Completer) IsCompleted() bool { return c.Future.Done() }

func (f *Future) settle(v any, err error) error {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return diagnostics.NewStateError("future already completed")
	}
	f.done, f.value, f.err = true, v, err
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		f.loop.Schedule(func() { cb(v, err) })
	}
	return nil
}

// Resolved returns a future already completed with v.
func Resolved(loop *Loop, v any) *Future {
	c := NewCompleter(loop)
	c.Complete(v)
	return c.Future
}

// Failed returns a future already failed with err.
func Failed(loop *Loop, err error) *Future {
	c := NewCompleter(loop)
	c.Fail(err)
	return c.Future
}

// Delayed completes with the result of fn after d. fn runs on the loop.
func Delayed(loop *Loop, d time.Duration, fn func() (any, error)) *Future {
	c := NewCompleter(loop)
	release := loop.Hold()
	time.AfterFunc(d, func() {
		loop.Post(func() {
			defer release()
			if fn == nil {
				c.Complete(nil)
				return
			}
			v, err := fn()
			if err != nil {
				c.Fail(err)
				return
			}
			c.Complete(v)
		})
	})
	return c.Future
}

// Loop returns the loop the future completes on.
func (f *Future) Loop() *Loop { return f.loop }

// Done reports whether the future has completed.
func (f *Future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Result returns the outcome once the future is done.
func (f *Future) Result() (v any, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.done
}

// OnComplete registers cb to run as a microtask once the future settles.
func (f *Future) OnComplete(cb func(v any, err error)) {
	f.mu.Lock()
	if !f.done {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	f.loop.Schedule(func() { cb(v, err) })
}

// Then returns a future completed with onValue's result, or with
// onError's result when f fails. A nil handler passes the outcome through.
func (f *Future) Then(onValue func(any) (any, error), onError func(error) (any, error)) *Future {
	next := NewCompleter(f.loop)
	f.OnComplete(func(v any, err error) {
		var (
			res  any
			rerr error
		)
		switch {
		case err == nil && onValue != nil:
			res, rerr = onValue(v)
		case err == nil:
			res = v
		case onError != nil:
			res, rerr = onError(err)
		default:
			rerr = err
		}
		if rerr != nil {
			next.Fail(rerr)
			return
		}
		next.Complete(res)
	})
	return next.Future
}

// Await drives the loop until f completes. It must be called from the
// goroutine that owns the loop and never from inside a microtask.
func (f *Future) Await(ctx context.Context) (any, error) {
	return f.loop.RunUntil(ctx, f)
}

// ClassName implements diagnostics.Named.
func (f *Future) ClassName() string { return "Future" }

func (f *Future) String() string {
	v, err, ok := f.Result()
	switch {
	case !ok:
		return "Future(pending)"
	case err != nil:
		return fmt.Sprintf("Future(failed: %v)", err)
	}
	return fmt.Sprintf("Future(%v)", v)
}

package async

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/funvibe/dynrt/internal/diagnostics"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func countTo(n int, cleanups *int) *Iterable {
	return SyncStarFunc(func(s *Suspender) error {
		if cleanups != nil {
			defer func() { *cleanups++ }()
		}
		for i := 1; i <= n; i++ {
			if err := s.Yield(i); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestSyncStarRestartable(t *testing.T) {
	seq := countTo(3, nil)
	for pass := 0; pass < 2; pass++ {
		got, err := seq.ToList()
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, []any{1, 2, 3}) {
			t.Errorf("pass %d: %v", pass, got)
		}
	}

	// Two live iterators do not share a cursor.
	a, b := seq.Iterator(), seq.Iterator()
	a.MoveNext()
	a.MoveNext()
	b.MoveNext()
	if a.Current() != 2 || b.Current() != 1 {
		t.Errorf("cursors shared: a=%v b=%v", a.Current(), b.Current())
	}
	a.Close()
	b.Close()
}

func TestSyncStarEarlyExitRunsCleanup(t *testing.T) {
	cleanups := 0
	seq := countTo(100, &cleanups)
	for v := range seq.All() {
		if v == 2 {
			break
		}
	}
	if cleanups != 1 {
		t.Errorf("cleanup ran %d times, want 1", cleanups)
	}

	it := seq.Iterator()
	it.MoveNext()
	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	if cleanups != 2 {
		t.Errorf("Close should run cleanup once, total %d", cleanups)
	}
	if ok, _ := it.MoveNext(); ok {
		t.Error("closed iterator produced an element")
	}
	if it.Task().State() != TaskCancelled {
		t.Errorf("state = %v", it.Task().State())
	}
}

func TestSyncStarErrorRethrown(t *testing.T) {
	boom := errors.New("boom")
	cleanups := 0
	seq := SyncStarFunc(func(s *Suspender) error {
		defer func() { cleanups++ }()
		if err := s.Yield("a"); err != nil {
			return err
		}
		return boom
	})

	it := seq.Iterator()
	if ok, err := it.MoveNext(); !ok || err != nil {
		t.Fatalf("first MoveNext: %v, %v", ok, err)
	}
	if ok, err := it.MoveNext(); ok || err != boom {
		t.Fatalf("second MoveNext: %v, %v", ok, err)
	}
	if cleanups != 1 {
		t.Errorf("cleanup ran %d times", cleanups)
	}
	if ok, err := it.MoveNext(); ok || err != nil {
		t.Errorf("after failure: %v, %v", ok, err)
	}

	var got []any
	var gotErr error
	for v, err := range seq.All() {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, v)
	}
	if len(got) != 1 || gotErr != boom {
		t.Errorf("All: %v, %v", got, gotErr)
	}
}

func TestSyncStarCannotAwait(t *testing.T) {
	loop := NewLoop(nil)
	seq := SyncStarFunc(func(s *Suspender) error {
		_, err := s.Await(Resolved(loop, 1))
		return err
	})
	_, err := seq.Iterator().MoveNext()
	var se *diagnostics.StateError
	if !errors.As(err, &se) {
		t.Errorf("await in sync* = %v", err)
	}
}

func TestAsyncAwaitsFailure(t *testing.T) {
	ctx := testContext(t)
	loop := NewLoop(nil)
	boom := errors.New("remote failed")
	var events []string

	deferred := Delayed(loop, 10*time.Millisecond, func() (any, error) {
		return nil, boom
	})
	result := AsyncFunc(loop, func(s *Suspender) (any, error) {
		defer func() { events = append(events, "finally") }()
		events = append(events, "before await")
		v, err := s.Await(deferred)
		if err != nil {
			return nil, err
		}
		events = append(events, "after await")
		return v, nil
	})

	result.OnComplete(func(_ any, err error) {
		events = append(events, "observed: "+err.Error())
	})
	_, err := result.Await(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the awaited failure", err)
	}
	if err := loop.Run(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{"before await", "finally", "observed: remote failed"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestAsyncCompletes(t *testing.T) {
	ctx := testContext(t)
	loop := NewLoop(nil)

	inner := AsyncFunc(loop, func(s *Suspender) (any, error) {
		v, err := s.AwaitValue(20)
		if err != nil {
			return nil, err
		}
		return v.(int) + 1, nil
	})
	outer := AsyncFunc(loop, func(s *Suspender) (any, error) {
		a, err := s.Await(inner)
		if err != nil {
			return nil, err
		}
		b, err := s.Await(Delayed(loop, time.Millisecond, func() (any, error) { return 21, nil }))
		if err != nil {
			return nil, err
		}
		return a.(int) + b.(int), nil
	})
	v, err := outer.Await(ctx)
	if err != nil || v != 42 {
		t.Errorf("result = %v, %v", v, err)
	}

	// Errors thrown before the first await fail the future too.
	early := AsyncFunc(loop, func(s *Suspender) (any, error) { return nil, errors.New("early") })
	if _, err := early.Await(ctx); err == nil || err.Error() != "early" {
		t.Errorf("early failure = %v", err)
	}

	panicky := AsyncFunc(loop, func(s *Suspender) (any, error) { panic("kaboom") })
	if _, err := panicky.Await(ctx); err == nil {
		t.Error("panic should fail the future")
	}
}

func TestFutureThenAndCompleter(t *testing.T) {
	ctx := testContext(t)
	loop := NewLoop(nil)

	c := NewCompleter(loop)
	chained := c.Future.
		Then(func(v any) (any, error) { return v.(int) * 2, nil }, nil).
		Then(func(v any) (any, error) { return nil, fmt.Errorf("got %v", v) }, nil).
		Then(nil, func(err error) (any, error) { return "recovered: " + err.Error(), nil })

	if err := c.Complete(5); err != nil {
		t.Fatal(err)
	}
	var se *diagnostics.StateError
	if err := c.Complete(6); !errors.As(err, &se) {
		t.Errorf("second completion = %v", err)
	}
	v, err := chained.Await(ctx)
	if err != nil || v != "recovered: got 10" {
		t.Errorf("chain = %v, %v", v, err)
	}

	// A completer resolved with a future adopts its outcome.
	adopt := NewCompleter(loop)
	adopt.Complete(Failed(loop, errors.New("adopted")))
	if _, err := adopt.Future.Await(ctx); err == nil || err.Error() != "adopted" {
		t.Errorf("adopted = %v", err)
	}

	pending := NewCompleter(loop).Future
	if _, err := pending.Await(ctx); !errors.As(err, &se) {
		t.Errorf("idle loop = %v, want StateError", err)
	}
}

func TestLoopPostFromGoroutine(t *testing.T) {
	ctx := testContext(t)
	loop := NewLoop(nil)
	c := NewCompleter(loop)
	release := loop.Hold()
	go func() {
		time.Sleep(5 * time.Millisecond)
		loop.Post(func() {
			c.Complete("from goroutine")
			release()
		})
	}()
	v, err := c.Future.Await(ctx)
	if err != nil || v != "from goroutine" {
		t.Errorf("Await = %v, %v", v, err)
	}
	if err := loop.Run(ctx); err != nil {
		t.Errorf("Run after release: %v", err)
	}
}

func counterStream(loop *Loop, produced *[]int, cleanups *int) *Stream {
	return AsyncStarFunc(loop, func(s *Suspender) error {
		defer func() { *cleanups++ }()
		for i := 1; ; i++ {
			*produced = append(*produced, i)
			if err := s.Yield(i); err != nil {
				return err
			}
		}
	})
}

func TestAsyncStarBackpressure(t *testing.T) {
	ctx := testContext(t)
	loop := NewLoop(nil)
	var produced []int
	cleanups := 0
	var received []any
	var sub *Subscription
	sub = counterStream(loop, &produced, &cleanups).Listen(Handlers{
		OnData: func(v any) {
			received = append(received, v)
			if v == 2 {
				sub.Pause()
			}
		},
	})

	if err := loop.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(produced) != 2 || len(received) != 2 {
		t.Fatalf("paused stream kept producing: produced=%v received=%v", produced, received)
	}
	if !sub.IsPaused() || sub.Task().State() != TaskSuspended {
		t.Errorf("paused=%v state=%v", sub.IsPaused(), sub.Task().State())
	}

	// Let exactly one more element through.
	sub.h.OnData = func(v any) {
		received = append(received, v)
		sub.Pause()
	}
	sub.Resume()
	if err := loop.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(received) != 3 {
		t.Errorf("received after resume = %v", received)
	}

	done, err := sub.Cancel().Await(ctx)
	if err != nil || done != nil {
		t.Errorf("cancel = %v, %v", done, err)
	}
	if cleanups != 1 {
		t.Errorf("cleanup ran %d times", cleanups)
	}
	if sub.Task().State() != TaskCancelled {
		t.Errorf("state = %v", sub.Task().State())
	}
}

func TestAsyncStarCancelFromHandler(t *testing.T) {
	ctx := testContext(t)
	loop := NewLoop(nil)
	var produced []int
	cleanups := 0
	var received []any
	var sub *Subscription
	var cancelled *Future
	doneCalled := false
	sub = counterStream(loop, &produced, &cleanups).Listen(Handlers{
		OnData: func(v any) {
			received = append(received, v)
			if len(received) == 3 {
				cancelled = sub.Cancel()
			}
		},
		OnDone: func() { doneCalled = true },
	})

	if err := loop.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(received, []any{1, 2, 3}) {
		t.Errorf("received = %v", received)
	}
	if len(produced) != 3 {
		t.Errorf("body kept running after cancel: %v", produced)
	}
	if cleanups != 1 {
		t.Errorf("cleanup ran %d times", cleanups)
	}
	if !cancelled.Done() {
		t.Error("cancel future should complete after cleanup")
	}
	if doneCalled {
		t.Error("OnDone must not fire for a cancelled subscription")
	}
	if again := sub.Cancel(); again != cancelled {
		t.Error("Cancel should be idempotent")
	}
}

func TestAsyncStarCancelDuringAwait(t *testing.T) {
	ctx := testContext(t)
	loop := NewLoop(nil)
	var steps []string
	stream := AsyncStarFunc(loop, func(s *Suspender) error {
		defer func() { steps = append(steps, "finally") }()
		if err := s.Yield("first"); err != nil {
			return err
		}
		if _, err := s.Await(Delayed(loop, 5*time.Millisecond, nil)); err != nil {
			return err
		}
		steps = append(steps, "resumed after await")
		return s.Yield("second")
	})

	var sub *Subscription
	var cancelled *Future
	sub = stream.Listen(Handlers{
		OnData: func(v any) {
			steps = append(steps, fmt.Sprint(v))
			// Cancel once the body is parked on its await.
			loop.Schedule(func() {
				loop.Schedule(func() {
					if sub.state != subAwaiting {
						t.Errorf("cancel issued in state %d, want awaiting", sub.state)
					}
					cancelled = sub.Cancel()
				})
			})
		},
	})
	if err := loop.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := cancelled.Await(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "finally"}
	if !reflect.DeepEqual(steps, want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}
}

func TestAsyncStarErrorAndToList(t *testing.T) {
	ctx := testContext(t)
	loop := NewLoop(nil)
	boom := errors.New("boom")

	failing := AsyncStarFunc(loop, func(s *Suspender) error {
		if err := s.Yield(1); err != nil {
			return err
		}
		return boom
	})
	var events []string
	failing.Listen(Handlers{
		OnData:  func(v any) { events = append(events, fmt.Sprint("data ", v)) },
		OnError: func(err error) { events = append(events, "error "+err.Error()) },
		OnDone:  func() { events = append(events, "done") },
	})
	if err := loop.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if want := []string{"data 1", "error boom", "done"}; !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v", events)
	}
	if _, err := failing.ToList().Await(ctx); err != boom {
		t.Errorf("ToList err = %v", err)
	}

	finite := AsyncStarFunc(loop, func(s *Suspender) error {
		for _, w := range []string{"a", "b"} {
			if _, err := s.AwaitValue(nil); err != nil {
				return err
			}
			if err := s.Yield(w); err != nil {
				return err
			}
		}
		return nil
	})
	// Restartable: each listen runs a fresh activation.
	for i := 0; i < 2; i++ {
		got, err := finite.ToList().Await(ctx)
		if err != nil || !reflect.DeepEqual(got, []any{"a", "b"}) {
			t.Errorf("listen %d: %v, %v", i, got, err)
		}
	}
	if v, err := finite.First().Await(ctx); err != nil || v != "a" {
		t.Errorf("First = %v, %v", v, err)
	}
}

func TestTaskRecordsSuspension(t *testing.T) {
	ctx := testContext(t)
	loop := NewLoop(nil)
	gate := NewCompleter(loop)
	stream := AsyncStarFunc(loop, func(s *Suspender) error {
		v, err := s.Await(gate.Future)
		if err != nil {
			return err
		}
		return s.Yield(v)
	})

	var got []any
	sub := stream.Listen(Handlers{OnData: func(v any) { got = append(got, v) }})
	task := sub.Task()
	if task.SuspensionPoint() != StepDone || task.Awaiting() != nil {
		t.Errorf("before start: point %v, awaiting %v", task.SuspensionPoint(), task.Awaiting())
	}
	if err := loop.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if task.SuspensionPoint() != StepAwait || task.Awaiting() != gate.Future {
		t.Errorf("parked: point %v, awaiting %v", task.SuspensionPoint(), task.Awaiting())
	}
	if task.State() != TaskSuspended {
		t.Errorf("state = %v", task.State())
	}

	gate.Complete(7)
	if err := loop.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []any{7}) {
		t.Errorf("got %v", got)
	}
	if task.SuspensionPoint() != StepDone || task.Awaiting() != nil || task.State() != TaskCompleted {
		t.Errorf("finished: point %v, awaiting %v, state %v", task.SuspensionPoint(), task.Awaiting(), task.State())
	}
}

// Package async drives coroutine bodies: async functions complete a Future,
// sync* bodies back restartable iterables and async* bodies feed streams
// with backpressure and prompt cancellation.
//
// All driver continuations run on the goroutine that calls Loop.Run or
// Loop.RunUntil. Work finishing on other goroutines re-enters through
// Loop.Post.
package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/funvibe/dynrt/internal/diagnostics"
)

// Loop is a FIFO microtask queue.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	holds atomic.Int64

	logger *slog.Logger
}

// NewLoop creates an idle loop. A nil logger discards output.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{wake: make(chan struct{}, 1), logger: logger}
}

// Logger returns the loop's logger.
func (l *Loop) Logger() *slog.Logger { return l.logger }

// Schedule appends fn to the microtask queue.
func (l *Loop) Schedule(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Post schedules fn from any goroutine. It is Schedule under the name host
// code uses for completions.
func (l *Loop) Post(fn func()) { l.Schedule(fn) }

// Hold marks an outstanding external operation. Run does not report the
// loop idle while holds are outstanding. The returned release is
// idempotent.
func (l *Loop) Hold() (release func()) {
	l.holds.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			l.holds.Add(-1)
			select {
			case l.wake <- struct{}{}:
			default:
			}
		})
	}
}

// drain runs the tasks queued so far and reports whether any ran. Tasks
// scheduled while draining run in the next round.
func (l *Loop) drain() bool {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch) > 0
}

// Run processes microtasks until the queue is empty and no holds are
// outstanding, or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.drain() {
			continue
		}
		if l.holds.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// RunUntil processes microtasks until f completes and returns its result.
// It fails with a StateError when the loop goes idle first.
func (l *Loop) RunUntil(ctx context.Context, f *Future) (any, error) {
	for {
		if v, err, ok := f.Result(); ok {
			return v, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l.drain() {
			continue
		}
		if l.holds.Load() == 0 {
			if v, err, ok := f.Result(); ok {
				return v, err
			}
			return nil, diagnostics.NewStateError("future can never complete: the event loop is idle")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.wake:
		}
	}
}

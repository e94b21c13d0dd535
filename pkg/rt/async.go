package rt

import (
	"errors"

	"github.com/funvibe/dynrt/internal/async"
	"github.com/funvibe/dynrt/internal/config"
	"github.com/funvibe/dynrt/internal/extension"
	"github.com/funvibe/dynrt/internal/object"
)

// Extension kinds of the coroutine driver values.
const (
	KindFuture       extension.Kind = config.FutureTypeName
	KindStream       extension.Kind = config.StreamTypeName
	KindIterable     extension.Kind = config.IterableTypeName
	KindIterator     extension.Kind = "Iterator"
	KindSubscription extension.Kind = "StreamSubscription"
)

func classify[T any](kind extension.Kind) extension.Classifier {
	return func(v any) (extension.Kind, bool) {
		_, ok := v.(T)
		return kind, ok
	}
}

// callback adapts a runtime callable to a Go continuation.
func callback(c *extension.Call, fn any) func(any) (any, error) {
	if fn == nil {
		return nil
	}
	return func(v any) (any, error) { return c.Invoker.Call(fn, object.Pos(v)) }
}

// installAsync exposes futures, streams and iterables to dynamic dispatch.
func installAsync(t *extension.Table) error {
	return errors.Join(
		t.DefineKind(KindFuture, extension.KindObject, classify[*async.Future](KindFuture)),
		t.DefineKind(KindStream, extension.KindObject, classify[*async.Stream](KindStream)),
		t.DefineKind(KindIterable, extension.KindObject, classify[*async.Iterable](KindIterable)),
		t.DefineKind(KindIterator, extension.KindObject, classify[*async.Iterator](KindIterator)),
		t.DefineKind(KindSubscription, extension.KindObject, classify[*async.Subscription](KindSubscription)),
		installFuture(t),
		installStream(t),
		installIterable(t),
	)
}

func installFuture(t *extension.Table) error {
	fut := func(c *extension.Call) *async.Future { return c.Recv.(*async.Future) }
	return errors.Join(
		t.Method(KindFuture, "then", object.Params("onValue"), func(c *extension.Call) (any, error) {
			return fut(c).Then(callback(c, c.Arg(0)), nil), nil
		}),
		t.Method(KindFuture, "catchError", object.Params("onError"), func(c *extension.Call) (any, error) {
			onError := callback(c, c.Arg(0))
			if onError == nil {
				return fut(c), nil
			}
			return fut(c).Then(nil, func(err error) (any, error) { return onError(err) }), nil
		}),
		t.Method(KindFuture, "whenComplete", object.Params("action"), func(c *extension.Call) (any, error) {
			action := c.Arg(0)
			f := fut(c)
			next := async.NewCompleter(f.Loop())
			f.OnComplete(func(v any, err error) {
				if _, aerr := c.Invoker.Call(action, object.Args{}); aerr != nil {
					next.Fail(aerr)
					return
				}
				if err != nil {
					next.Fail(err)
					return
				}
				next.Complete(v)
			})
			return next.Future, nil
		}),
		t.Getter(KindFuture, "isCompleted", func(c *extension.Call) (any, error) {
			return fut(c).Done(), nil
		}),
	)
}

func installStream(t *extension.Table) error {
	stream := func(c *extension.Call) *async.Stream { return c.Recv.(*async.Stream) }
	sub := func(c *extension.Call) *async.Subscription { return c.Recv.(*async.Subscription) }
	listenSig := object.Signature{
		Positional: []object.Param{{Name: "onData"}},
		Required:   1,
		Named:      []object.Param{{Name: "onError"}, {Name: "onDone"}},
	}
	return errors.Join(
		t.Method(KindStream, "listen", listenSig, func(c *extension.Call) (any, error) {
			onData, onError, onDone := c.Arg(0), c.Arg(1), c.Arg(2)
			log := stream(c).Loop().Logger()
			report := func(err error) {
				if err != nil {
					log.Warn("stream handler failed", "error", err)
				}
			}
			h := async.Handlers{
				OnData: func(v any) {
					_, err := c.Invoker.Call(onData, object.Pos(v))
					report(err)
				},
			}
			if onError != nil {
				h.OnError = func(e error) {
					_, err := c.Invoker.Call(onError, object.Pos(e))
					report(err)
				}
			}
			if onDone != nil {
				h.OnDone = func() {
					_, err := c.Invoker.Call(onDone, object.Args{})
					report(err)
				}
			}
			return stream(c).Listen(h), nil
		}),
		t.Method(KindStream, "toList", object.Signature{}, func(c *extension.Call) (any, error) {
			return stream(c).ToList(), nil
		}),
		t.Getter(KindStream, "first", func(c *extension.Call) (any, error) {
			return stream(c).First(), nil
		}),
		t.Method(KindSubscription, "cancel", object.Signature{}, func(c *extension.Call) (any, error) {
			return sub(c).Cancel(), nil
		}),
		t.Method(KindSubscription, "pause", object.Signature{}, func(c *extension.Call) (any, error) {
			sub(c).Pause()
			return nil, nil
		}),
		t.Method(KindSubscription, "resume", object.Signature{}, func(c *extension.Call) (any, error) {
			sub(c).Resume()
			return nil, nil
		}),
		t.Getter(KindSubscription, "isPaused", func(c *extension.Call) (any, error) {
			return sub(c).IsPaused(), nil
		}),
	)
}

func installIterable(t *extension.Table) error {
	iterable := func(c *extension.Call) *async.Iterable { return c.Recv.(*async.Iterable) }
	iterator := func(c *extension.Call) *async.Iterator { return c.Recv.(*async.Iterator) }
	return errors.Join(
		t.Getter(KindIterable, "iterator", func(c *extension.Call) (any, error) {
			return iterable(c).Iterator(), nil
		}),
		t.Method(KindIterable, "toList", object.Signature{}, func(c *extension.Call) (any, error) {
			return iterable(c).ToList()
		}),
		t.Method(KindIterator, "moveNext", object.Signature{}, func(c *extension.Call) (any, error) {
			return iterator(c).MoveNext()
		}),
		t.Getter(KindIterator, "current", func(c *extension.Call) (any, error) {
			return iterator(c).Current(), nil
		}),
	)
}

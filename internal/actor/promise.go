package actor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// promiseImpl is the concrete implementation shared by Promise[T] and
// Future[T]. A single instance backs both views: Complete is only ever
// called through the Promise[T] side, while Await/ThenApply/OnComplete are
// reachable through either.
type promiseImpl[T any] struct {
	// done is closed exactly once, by the first successful Complete.
	done chan struct{}

	// once guards against a second Complete racing the close of done.
	once sync.Once

	// result holds the completed value; only valid for readers after
	// done is closed.
	result fn.Result[T]
}

// NewPromise creates a new, uncompleted Promise[T]. The returned Promise's
// Future() method yields the Future[T] consumers should hold onto; the
// Promise itself stays with whichever goroutine is responsible for
// eventually calling Complete (spec.md §4.8, the synchronous request
// ledger's continuation bookkeeping is built directly on top of this type).
func NewPromise[T any]() Promise[T] {
	return &promiseImpl[T]{
		done: make(chan struct{}),
	}
}

// Complete implements Promise[T]. It returns true iff this call was the
// first to complete the promise.
func (p *promiseImpl[T]) Complete(result fn.Result[T]) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		completed = true
	})
	return completed
}

// Future implements Promise[T] by returning the same object; promiseImpl
// satisfies both Promise[T] and Future[T].
func (p *promiseImpl[T]) Future() Future[T] {
	return p
}

// Await implements Future[T]. It blocks until the promise completes or ctx
// is cancelled, whichever happens first.
func (p *promiseImpl[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		return p.result
	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// ThenApply implements Future[T]. It returns a new Future that resolves to
// fn(value) once the original future completes successfully, passes errors
// through unchanged, and resolves to the context's error if ctx is
// cancelled first.
func (p *promiseImpl[T]) ThenApply(ctx context.Context, fn2 func(T) T) Future[T] {
	next := NewPromise[T]()

	go func() {
		result := p.Await(ctx)
		val, err := result.Unpack()
		if err != nil {
			next.Complete(fn.Err[T](err))
			return
		}
		next.Complete(fn.Ok(fn2(val)))
	}()

	return next.Future()
}

// OnComplete implements Future[T]. The callback runs on a new goroutine
// once the future resolves (by completion or context cancellation), never
// on the caller's goroutine, so OnComplete itself never blocks.
func (p *promiseImpl[T]) OnComplete(ctx context.Context, cb func(fn.Result[T])) {
	go func() {
		cb(p.Await(ctx))
	}()
}

// Compile-time interface checks.
var (
	_ Promise[int] = (*promiseImpl[int])(nil)
	_ Future[int]  = (*promiseImpl[int])(nil)
)

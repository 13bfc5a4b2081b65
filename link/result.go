package link

import (
	"context"
	"sync"
)

// Result is the outcome of an asynchronous operation. It completes exactly
// once, with a value or with an error; failure is never a panic.
type Result[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	val       T
	err       error
	callbacks []resultCallback[T]
}

type resultCallback[T any] struct {
	loop *Loop
	fn   func(T, error)
}

func NewResult[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{})}
}

// Completed returns an already completed result.
func Completed[T any](val T, err error) *Result[T] {
	r := NewResult[T]()
	r.Complete(val, err)
	return r
}

// Complete sets the outcome. Later calls are ignored and report false.
func (r *Result[T]) Complete(val T, err error) bool {
	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		return false
	}
	r.completed = true
	r.val, r.err = val, err
	callbacks := r.callbacks
	r.callbacks = nil
	close(r.done)
	r.mu.Unlock()

	for _, cb := range callbacks {
		dispatch(cb, val, err)
	}
	return true
}

func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Await blocks until the result completes or ctx is done.
func (r *Result[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the outcome without blocking; ok is false while pending.
func (r *Result[T]) Peek() (val T, err error, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.val, r.err, r.completed
}

// OnComplete runs fn on loop once the result completes. A nil loop runs fn
// on the completing goroutine.
func (r *Result[T]) OnComplete(loop *Loop, fn func(T, error)) {
	cb := resultCallback[T]{loop: loop, fn: fn}
	r.mu.Lock()
	if !r.completed {
		r.callbacks = append(r.callbacks, cb)
		r.mu.Unlock()
		return
	}
	val, err := r.val, r.err
	r.mu.Unlock()
	dispatch(cb, val, err)
}

func dispatch[T any](cb resultCallback[T], val T, err error) {
	if cb.loop == nil {
		cb.fn(val, err)
		return
	}
	cb.loop.Post(func() { cb.fn(val, err) })
}

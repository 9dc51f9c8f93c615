package util

import (
	"context"
	"sync"
)

// Executor runs submitted tasks asynchronously. Submit must not block waiting
// for a task to finish. *workerpool.WorkerPool satisfies this interface.
type Executor interface {
	Submit(task func())
}

// Future holds the result of an asynchronous computation. A future is
// completed exactly once; later completions are ignored.
//
// Continuations registered through Then and Then2 are submitted to an
// Executor only once all of their inputs are complete, so executor workers
// never block waiting on another task.
type Future[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	completed bool
	value     T
	err       error
	callbacks []func()
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future that already holds value.
func Completed[T any](value T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(value, nil)
	return f
}

// Failed returns a future that already holds err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	var zero T
	f.Complete(zero, err)
	return f
}

// Complete sets the result of the future and runs registered callbacks on the
// calling goroutine. It returns false if the future was already completed.
func (f *Future[T]) Complete(value T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return true
}

// Done returns a channel that is closed once the future is completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is completed and returns its result.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// WaitContext is Wait, but gives up when ctx is done.
func (f *Future[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// onComplete runs cb once the future is completed. If it already is, cb runs
// immediately on the calling goroutine.
func (f *Future[T]) onComplete(cb func()) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	cb()
}

// Go runs fn on the executor and returns a future of its result.
func Go[T any](exec Executor, fn func() (T, error)) *Future[T] {
	out := NewFuture[T]()
	exec.Submit(func() {
		out.Complete(fn())
	})
	return out
}

// Then runs fn on the executor with the value of in, once in is completed. If
// in failed, fn is skipped and the returned future fails with the same error.
func Then[T any, R any](exec Executor, in *Future[T], fn func(T) (R, error)) *Future[R] {
	out := NewFuture[R]()
	in.onComplete(func() {
		value, err := in.Wait()
		if err != nil {
			var zero R
			out.Complete(zero, err)
			return
		}
		exec.Submit(func() {
			out.Complete(fn(value))
		})
	})
	return out
}

// Then2 runs fn on the executor once both inputs are completed. If either
// input failed, fn is skipped and the first input's error wins.
func Then2[A any, B any, R any](exec Executor, a *Future[A], b *Future[B], fn func(A, B) (R, error)) *Future[R] {
	out := NewFuture[R]()
	a.onComplete(func() {
		b.onComplete(func() {
			av, aErr := a.Wait()
			bv, bErr := b.Wait()
			if aErr != nil || bErr != nil {
				var zero R
				if aErr != nil {
					out.Complete(zero, aErr)
				} else {
					out.Complete(zero, bErr)
				}
				return
			}
			exec.Submit(func() {
				out.Complete(fn(av, bv))
			})
		})
	})
	return out
}

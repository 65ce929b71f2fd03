package workerpool

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Future is a single-assignment result slot. It is resolved exactly once and
// any number of goroutines may wait on it.
type Future[T any] struct {
	id   uuid.UUID
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// NewFuture creates an unresolved future with a fresh ID.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{
		id:   uuid.New(),
		done: make(chan struct{}),
	}
}

// ID identifies the future in logs.
func (f *Future[T]) ID() uuid.UUID {
	return f.id
}

// Resolve stores the outcome and wakes all waiters. Only the first call has
// an effect; it reports whether this call resolved the future.
func (f *Future[T]) Resolve(val T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether Resolve has been called.
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future is resolved or ctx is done. Waiting with
// context.Background() never times out.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}

	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

package session

import (
	"context"
	"errors"
	"io"
	"sync"
)

// TryResult tells what TryNext found.
type TryResult int

const (
	// TryItem means a value was returned.
	TryItem TryResult = iota
	// TryEmpty means the producer is still running but nothing is queued.
	TryEmpty
	// TryFinished means the stream ended; Err reports how.
	TryFinished
)

func (r TryResult) String() string {
	switch r {
	case TryItem:
		return "item"
	case TryEmpty:
		return "empty"
	case TryFinished:
		return "finished"
	}
	return "unknown"
}

// DcIterator is the consumer view of a one-shot producer. The producer never
// blocks on a slow consumer; values queue until they are pulled or the
// iterator is closed.
type DcIterator[T any] struct {
	mu       sync.Mutex
	items    []T
	finished bool
	closed   bool
	err      error

	// signal wakes one blocked Next; done is closed once the stream ended.
	signal chan struct{}
	done   chan struct{}
}

func newIterator[T any]() *DcIterator[T] {
	return &DcIterator[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (it *DcIterator[T]) wake() {
	select {
	case it.signal <- struct{}{}:
	default:
	}
}

// send queues v. It returns false once the consumer closed the iterator or
// the stream already finished.
func (it *DcIterator[T]) send(v T) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed || it.finished {
		return false
	}
	it.items = append(it.items, v)
	it.wake()
	return true
}

// finish ends the stream. Only the first call has an effect.
func (it *DcIterator[T]) finish(err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.finished {
		return
	}
	it.finished = true
	it.err = err
	close(it.done)
	it.wake()
}

// Next blocks until a value is available. At the end of the stream it returns
// io.EOF after a clean finish or the producer's error otherwise. A done ctx
// returns ctx.Err() without ending the stream.
func (it *DcIterator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		v, res := it.TryNext()
		switch res {
		case TryItem:
			return v, nil
		case TryFinished:
			if err := it.Err(); err != nil {
				return zero, err
			}
			return zero, io.EOF
		}

		select {
		case <-it.signal:
		case <-it.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryNext returns a queued value without blocking.
func (it *DcIterator[T]) TryNext() (T, TryResult) {
	var zero T
	it.mu.Lock()
	defer it.mu.Unlock()
	if len(it.items) > 0 {
		v := it.items[0]
		it.items[0] = zero
		it.items = it.items[1:]
		return v, TryItem
	}
	if it.finished || it.closed {
		return zero, TryFinished
	}
	return zero, TryEmpty
}

// IsFinished reports whether the producer is done and every value was taken.
func (it *DcIterator[T]) IsFinished() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return (it.finished || it.closed) && len(it.items) == 0
}

// Err returns the error the producer finished with. Nil while running, after
// a clean finish, and for a consumer-closed stream.
func (it *DcIterator[T]) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

// Done is closed once the producer finished.
func (it *DcIterator[T]) Done() <-chan struct{} {
	return it.done
}

// Close drops queued values and tells the producer to stop. It does not wait
// for the producer; use Done for that.
func (it *DcIterator[T]) Close() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.closed = true
	clear(it.items)
	it.items = nil
	it.wake()
}

// Collect drains the iterator. It returns the values read so far together
// with the first error other than io.EOF.
func (it *DcIterator[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for {
		v, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

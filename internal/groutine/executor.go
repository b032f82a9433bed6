package groutine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Executor runs named background work. Bridges and download workers are
// started through the process executor so tests can substitute their own.
type Executor interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context))
}

var (
	defaultMu   sync.RWMutex
	defaultOnce sync.Once
	defaultExec Executor
)

// Default returns the process-scoped executor, creating it on first use.
// It is never torn down.
func Default() Executor {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		if defaultExec == nil {
			defaultExec = labelledExecutor{}
		}
		defaultMu.Unlock()
	})

	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultExec
}

// SetDefault replaces the process executor and returns a func restoring the previous one.
func SetDefault(e Executor) (restore func()) {
	prev := Default()

	defaultMu.Lock()
	defaultExec = e
	defaultMu.Unlock()

	return func() {
		defaultMu.Lock()
		defaultExec = prev
		defaultMu.Unlock()
	}
}

type labelledExecutor struct{}

func (labelledExecutor) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	spawn(ctx, name, fn)
}

// TrackingExecutor counts the goroutines it starts and lets tests wait for all
// of them to return.
type TrackingExecutor struct {
	wg      sync.WaitGroup
	started atomic.Int64
	running atomic.Int64

	mu    sync.Mutex
	names []string
}

func NewTrackingExecutor() *TrackingExecutor {
	return &TrackingExecutor{}
}

func (e *TrackingExecutor) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	e.wg.Add(1)
	e.started.Add(1)
	e.running.Add(1)

	e.mu.Lock()
	e.names = append(e.names, name)
	e.mu.Unlock()

	spawn(ctx, name, func(ctx context.Context) {
		defer e.wg.Done()
		defer e.running.Add(-1)
		fn(ctx)
	})
}

// Started returns how many goroutines were launched.
func (e *TrackingExecutor) Started() int { return int(e.started.Load()) }

// Running returns how many launched goroutines have not returned yet.
func (e *TrackingExecutor) Running() int { return int(e.running.Load()) }

// Names returns the names of the launched goroutines in start order.
func (e *TrackingExecutor) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.names...)
}

// Wait blocks until every launched goroutine returned or the timeout expires.
// It reports whether all goroutines finished.
func (e *TrackingExecutor) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

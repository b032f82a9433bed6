package groutine

import (
	"context"
	"runtime"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a named goroutine on the process executor.
// Example usage:
//
//	groutine.Go(ctx, "ble-bridge", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	Default().Go(parentCtx, name, fn)
}

// GoLocked is like Go but pins the goroutine to its OS thread for the whole
// lifetime of fn. Used for native calls that must stay on one thread.
func GoLocked(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	Default().Go(parentCtx, name, func(ctx context.Context) {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		fn(ctx)
	})
}

// spawn runs fn in a new goroutine labelled for pprof and carrying its name in ctx.
func spawn(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

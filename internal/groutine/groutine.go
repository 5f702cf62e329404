// Package groutine starts goroutines carrying a pprof "goroutine_name" label,
// so transport workers and link monitors can be told apart in profiles.
package groutine

import (
	"context"
	"runtime/pprof"
)

type nameKey struct{}

// Go runs fn on a new labelled goroutine. A nil parent means context.Background().
//
//	groutine.Go(ctx, "ble-connect-"+addr, func(ctx context.Context) {
//	    // work
//	})
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}

	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey{}, name))
	})
}

// Name returns the name given to Go, or "" outside a named goroutine.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(nameKey{}).(string)
	return name
}

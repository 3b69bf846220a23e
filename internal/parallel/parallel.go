// Package parallel runs independent units of work with a concurrency cap.
package parallel

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

type Outcome[In, Out any] struct {
	In  In
	Out Out
	Err error
}

type stopKey struct{}

// Detach returns a context that is never cancelled, so work already started
// can finish its I/O, but that still reports the cancellation of ctx through
// Stopped.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), stopKey{}, ctx)
}

// Stopped reports whether ctx, or any context it was detached from, has been
// cancelled. Schedulers use it to decide whether new work may start.
func Stopped(ctx context.Context) bool {
	return StopErr(ctx) != nil
}

// StopErr is the error of the nearest cancelled context in ctx's detach
// chain, or nil.
func StopErr(ctx context.Context) error {
	for ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		parent, _ := ctx.Value(stopKey{}).(context.Context)
		ctx = parent
	}
	return nil
}

// Transform calls fn for each item with at most limit calls in flight.
// Outcomes are returned in completion order. A failing item does not affect
// its siblings. Once ctx is cancelled no further items are started, here or
// in any Transform nested inside a running item; items already running
// finish with a detached context.
func Transform[In, Out any](ctx context.Context, items []In, limit int, fn func(context.Context, In) (Out, error)) []Outcome[In, Out] {
	if limit < 1 {
		limit = 1
	}
	runCtx := Detach(ctx)

	var (
		mu  sync.Mutex
		out = make([]Outcome[In, Out], 0, len(items))
		g   errgroup.Group
	)
	g.SetLimit(limit)

	for _, item := range items {
		if Stopped(ctx) {
			break
		}
		g.Go(func() error {
			// Re-check after waiting for a free slot.
			if Stopped(ctx) {
				return nil
			}
			res, err := fn(runCtx, item)
			mu.Lock()
			out = append(out, Outcome[In, Out]{In: item, Out: res, Err: err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Successes drops failed outcomes and returns the outputs in order.
func Successes[In, Out any](outcomes []Outcome[In, Out]) []Out {
	res := make([]Out, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			res = append(res, o.Out)
		}
	}
	return res
}

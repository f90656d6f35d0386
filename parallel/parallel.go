// Package parallel implements forge's worker-pool map: the primitive
// every fan-out in the system (a compile wave, a batch of X90 files, a
// kernel source tree) runs through to spread work across a bounded
// number of workers.
package parallel

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result pairs a mapped value with any error produced while computing it.
// This is the sum-type-over-exceptions the design notes call for: a
// worker's failure is a value on this struct, never a panic or an
// exception crossing a goroutine boundary.
type Result[Out any] struct {
	Value Out
	Err   error
}

// Results is a convenience alias for a slice of Result.
type Results[Out any] []Result[Out]

// Errors folds every non-nil error in rs into a single joined error, or
// returns nil if there were none. This is the "left fold" the design
// notes describe as the natural replacement for a runtime-type-checking
// check_for_errors.
func (rs Results[Out]) Errors() error {
	var errs []error
	for _, r := range rs {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Values returns the Value field of every result, in input order,
// regardless of whether that result carried an error. Callers that need
// only the successes should filter using the paired Err field or check
// Errors() first.
func (rs Results[Out]) Values() []Out {
	out := make([]Out, len(rs))
	for i, r := range rs {
		out[i] = r.Value
	}
	return out
}

// Map applies fn to every item in items. When multiprocessing is true, up
// to nProcs items are processed concurrently; when it is false, items are
// processed strictly sequentially in the caller, which is the escape
// hatch for debugging a stalled or misbehaving fn.
//
// Result order always corresponds to input order. A panic or error from
// one item never prevents its peers from running to completion: fn's own
// error return is captured in-band on the matching Result, and Map itself
// never returns an error — callers call Results.Errors() once the map is
// done, mirroring the "first uncaught error does not abort peers" rule.
func Map[In, Out any](ctx context.Context, items []In, multiprocessing bool, nProcs int, fn func(context.Context, In) (Out, error)) Results[Out] {
	results := make(Results[Out], len(items))
	if len(items) == 0 {
		return results
	}

	// call runs fn on one item, turning a panic into that item's error.
	call := func(ctx context.Context, i int, item In) (result Result[Out]) {
		defer func() {
			if r := recover(); r != nil {
				result = Result[Out]{Err: fmt.Errorf("parallel: item %d panicked: %v", i, r)}
			}
		}()
		value, err := fn(ctx, item)
		return Result[Out]{Value: value, Err: err}
	}

	if !multiprocessing {
		for i, item := range items {
			results[i] = call(ctx, i, item)
		}
		return results
	}

	limit := nProcs
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for i, item := range items {
		i, item := i, item
		group.Go(func() error {
			results[i] = call(groupCtx, i, item)
			return nil
		})
	}

	// group.Wait only ever returns an error from fn itself if fn returns
	// one directly to errgroup, which we never do: every error is
	// captured on the matching Result instead, so peers are never
	// cancelled by one item's failure.
	_ = group.Wait()

	return results
}

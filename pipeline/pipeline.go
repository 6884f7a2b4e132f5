// Package pipeline streams work items through channel stages that stop as
// soon as their context is done.
package pipeline

import (
	"context"

	"github.com/ar90n/knngraph/common"
	"github.com/sourcegraph/conc/stream"
)

const streamBufferSize = 8

// Generate emits f(0), ..., f(n-1). f is called from a single goroutine.
func Generate[T any](ctx context.Context, n int, f func(i int) T) <-chan T {
	outputStream := make(chan T, streamBufferSize)
	go func() {
		defer close(outputStream)
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case outputStream <- f(i):
			}
		}
	}()

	return outputStream
}

// Map calls f on every item with at most workers calls in flight and emits
// the results in input order. The first error cancels the stage; wait
// blocks until the output is closed and returns that error.
func Map[T, U any](ctx context.Context, inputStream <-chan T, workers int, f func(ctx context.Context, item T) (U, error)) (<-chan U, func() error) {
	ctx, cancel := context.WithCancel(ctx)
	outputStream := make(chan U, streamBufferSize)
	done := make(chan struct{})

	var firstErr error
	go func() {
		defer close(done)
		defer close(outputStream)
		defer cancel()

		s := stream.New().WithMaxGoroutines(common.GetProcNum(workers))
		for item := range OrDone(ctx, inputStream) {
			s.Go(func() stream.Callback {
				result, err := f(ctx, item)
				// callbacks run one at a time in submission order
				return func() {
					if firstErr != nil {
						return
					}
					if err != nil {
						firstErr = err
						cancel()
						return
					}
					select {
					case <-ctx.Done():
					case outputStream <- result:
					}
				}
			})
		}
		s.Wait()
	}()

	wait := func() error {
		<-done
		return firstErr
	}
	return outputStream, wait
}

func OrDone[T any](ctx context.Context, inputStream <-chan T) <-chan T {
	outputStream := make(chan T, streamBufferSize)
	go func() {
		defer close(outputStream)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-inputStream:
				if !ok {
					return
				}

				select {
				case <-ctx.Done():
				case outputStream <- v:
				}
			}
		}
	}()

	return outputStream
}

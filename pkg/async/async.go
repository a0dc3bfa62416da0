package async

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// SafeGo executes fn in a goroutine with context cancellation, a timeout,
// and panic recovery. Errors and panics are logged, never fatal.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[async] PANIC in %s: %v\n%s", taskName, r, debug.Stack())
			}
		}()

		if err := fn(ctx); err != nil {
			log.Printf("[async] error in %s: %v", taskName, err)
		}
	}()
}

// Batch processes items concurrently with at most workers goroutines, each
// task bounded by timeout. Returns every error encountered, including
// recovered panics. A nil or empty slice returns nil.
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration, fn func(context.Context, T) error) []error {
	if len(items) == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	work := make(chan T)
	errCh := make(chan error, len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				runOne(ctx, timeout, taskName, item, fn, errCh)
			}
		}()
	}

	for _, item := range items {
		select {
		case work <- item:
		case <-ctx.Done():
			errCh <- ctx.Err()
			close(work)
			wg.Wait()
			return drainErrors(errCh)
		}
	}
	close(work)
	wg.Wait()

	return drainErrors(errCh)
}

func runOne[T any](ctx context.Context, timeout time.Duration, taskName string, item T, fn func(context.Context, T) error, errCh chan<- error) {
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[async] PANIC in %s: %v\n%s", taskName, r, debug.Stack())
			errCh <- fmt.Errorf("panic in %s: %v", taskName, r)
		}
	}()

	if err := fn(taskCtx, item); err != nil {
		errCh <- err
	}
}

func drainErrors(errCh chan error) []error {
	var errs []error
	for {
		select {
		case err := <-errCh:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStopped is returned for work submitted after Stop.
var ErrStopped = errors.New("server: worker stopped")

// job represents a unit of work to be executed against the runtime.
type job struct {
	fn   func(*Runtime) (any, error)
	done chan jobResult
}

// jobResult holds the return value from a job.
type jobResult struct {
	value any
	err   error
}

// Worker runs jobs against a Runtime on a fixed set of goroutines, which
// bounds how many evaluations run at once. A job that panics (the
// interpreter panics on contract violations) fails alone.
type Worker struct {
	rt       *Runtime
	requests chan job
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a Worker with n goroutines (at least one).
func NewWorker(rt *Runtime, n int) *Worker {
	if n < 1 {
		n = 1
	}
	w := &Worker{
		rt:       rt,
		requests: make(chan job, 64),
		quit:     make(chan struct{}),
	}
	w.wg.Add(n)
	for i := 0; i < n; i++ {
		go w.loop()
	}
	return w
}

// loop processes jobs until Stop.
func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the runtime, recovering from panics.
func (w *Worker) execute(fn func(*Runtime) (any, error)) (result jobResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("job panicked: %v", r)
			result = jobResult{err: fmt.Errorf("internal error: %v", r)}
		}
	}()
	v, err := fn(w.rt)
	return jobResult{value: v, err: err}
}

// Do submits fn and blocks until it completes or ctx is done. A job already
// running when ctx ends still runs to completion; its result is dropped.
func (w *Worker) Do(ctx context.Context, fn func(*Runtime) (any, error)) (any, error) {
	select {
	case <-w.quit:
		return nil, ErrStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := job{fn: fn, done: make(chan jobResult, 1)}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, ErrStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, ErrStopped
	}
}

// Stop shuts down the worker goroutines and waits for them.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	w.wg.Wait()
}

// Runtime returns the runtime jobs run against.
func (w *Worker) Runtime() *Runtime {
	return w.rt
}

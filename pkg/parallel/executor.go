// Package parallel provides the serial executor that owns all access to a
// target, and helpers that bridge results from it to callers on other
// goroutines.
package parallel

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"
)

// ============================================================================
// Executor Configuration
// ============================================================================

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// QueueSize is the number of tasks that can wait for the worker.
	// Default: 16
	QueueSize int

	// CollectMetrics enables collection of execution metrics.
	CollectMetrics bool
}

// DefaultExecutorConfig returns a default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{QueueSize: 16}
}

// WithQueueSize returns a new config with the specified queue size.
func (c ExecutorConfig) WithQueueSize(n int) ExecutorConfig {
	c.QueueSize = n
	return c
}

// WithMetrics returns a new config with metrics collection enabled.
func (c ExecutorConfig) WithMetrics() ExecutorConfig {
	c.CollectMetrics = true
	return c
}

// ============================================================================
// Execution Metrics
// ============================================================================

// ExecutorMetrics holds execution statistics.
type ExecutorMetrics struct {
	TotalTasks    int64
	FailedTasks   int64
	CanceledTasks int64
	BusyDuration  time.Duration
	MaxTaskTime   time.Duration
}

// ============================================================================
// Executor
// ============================================================================

// ErrExecutorClosed is returned by Submit after Close.
var ErrExecutorClosed = errors.New("executor is closed")

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

type workerKey struct{}

// Executor runs submitted functions one at a time on a single goroutine.
// A function running on the worker may submit further work to the same
// executor; it runs inline.
type Executor struct {
	config ExecutorConfig
	tasks  chan task
	quit   chan struct{}
	exited chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	metrics   ExecutorMetrics
}

// NewExecutor starts an executor.
func NewExecutor(config ExecutorConfig) *Executor {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultExecutorConfig().QueueSize
	}
	e := &Executor{
		config: config,
		tasks:  make(chan task, config.QueueSize),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer close(e.exited)
	for {
		select {
		case <-e.quit:
			return
		case t := <-e.tasks:
			e.run(t)
		}
	}
}

func (e *Executor) run(t task) {
	if err := t.ctx.Err(); err != nil {
		e.record(0, err)
		t.done <- err
		return
	}
	start := time.Now()
	err := t.fn(context.WithValue(t.ctx, workerKey{}, e))
	e.record(time.Since(start), err)
	t.done <- err
}

func (e *Executor) record(d time.Duration, err error) {
	if !e.config.CollectMetrics {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.TotalTasks++
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.metrics.CanceledTasks++
	case err != nil:
		e.metrics.FailedTasks++
	}
	e.metrics.BusyDuration += d
	e.metrics.MaxTaskTime = max(e.metrics.MaxTaskTime, d)
}

// OnWorker reports whether ctx belongs to a function running on e.
func (e *Executor) OnWorker(ctx context.Context) bool {
	w, _ := ctx.Value(workerKey{}).(*Executor)
	return w == e
}

// Submit runs fn on the worker and waits for it to return. If ctx is done
// before fn starts, fn is not run and ctx's error is returned.
func (e *Executor) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.OnWorker(ctx) {
		return fn(ctx)
	}
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case <-e.quit:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case e.tasks <- t:
	}
	select {
	case err := <-t.done:
		return err
	case <-e.exited:
		// The worker stopped after accepting the task; it may still have
		// completed it.
		select {
		case err := <-t.done:
			return err
		default:
			return ErrExecutorClosed
		}
	}
}

// Close stops the worker after the running task returns. Queued tasks that
// have not started fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
	})
	<-e.exited
}

// Metrics returns the current execution metrics.
func (e *Executor) Metrics() ExecutorMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// ============================================================================
// Result Helpers
// ============================================================================

// Do runs fn on the executor and returns its result.
func Do[R any](ctx context.Context, e *Executor, fn func(ctx context.Context) (R, error)) (R, error) {
	var result R
	err := e.Submit(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// Stream runs the sequence returned by produce on the executor and hands
// each element to the caller as it is produced. Breaking out of the loop
// cancels the producer before its next element. The sequence ends after
// the first error.
//
// The loop body runs on the caller's goroutine while the worker is parked
// on the producer, so it must not submit to the same executor.
func Stream[T any](ctx context.Context, e *Executor, produce func(ctx context.Context) iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if e.OnWorker(ctx) {
			for v, err := range produce(ctx) {
				if !yield(v, err) || err != nil {
					return
				}
			}
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		type item struct {
			v   T
			err error
		}
		items := make(chan item)
		result := make(chan error, 1)
		go func() {
			err := e.Submit(ctx, func(ctx context.Context) error {
				for v, err := range produce(ctx) {
					select {
					case items <- item{v, err}:
					case <-ctx.Done():
						return ctx.Err()
					}
					if err != nil {
						return nil
					}
				}
				return nil
			})
			close(items)
			result <- err
		}()

		for it := range items {
			if !yield(it.v, it.err) {
				cancel()
				for range items {
				}
				return
			}
		}
		if err := <-result; err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

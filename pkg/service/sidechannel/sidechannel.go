// Package sidechannel runs best-effort background work whose failure must never reach
// the caller: memory writes, transcript exports and similar enhancements.
package sidechannel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

var ErrDropped = goerr.New("side channel task dropped")

// Task is a unit of best-effort work
type Task func(ctx context.Context) error

// FailureHandler observes failed or dropped tasks. It must not block.
type FailureHandler func(ctx context.Context, name string, err error)

type job struct {
	ctx  context.Context
	name string
	fn   Task
}

// Runner hands tasks to a fixed pool of workers. Tasks are never retried: a failure is
// reported to the FailureHandler and the work is lost.
type Runner struct {
	jobs      chan job
	timeout   time.Duration
	workers   int
	onFailure FailureHandler

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Runner
type Option func(*Runner)

// WithWorkers sets the number of worker goroutines
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithBuffer sets how many tasks may wait for a worker before new ones are dropped
func WithBuffer(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.jobs = make(chan job, n)
		}
	}
}

// WithTimeout bounds each task
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithFailureHandler replaces the default handler, which logs at warn level
func WithFailureHandler(h FailureHandler) Option {
	return func(r *Runner) {
		r.onFailure = h
	}
}

// New creates a Runner and starts its workers
func New(opts ...Option) *Runner {
	r := &Runner{
		jobs:    make(chan job, 64),
		timeout: 10 * time.Second,
		workers: 4,
		onFailure: func(ctx context.Context, name string, err error) {
			logging.From(ctx).Warn("best-effort task failed", "task", name, "error", err)
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Go submits fn without blocking. The task runs detached from ctx's cancellation but
// keeps its values (logger). It returns false when the task was dropped.
func (r *Runner) Go(ctx context.Context, name string, fn Task) bool {
	j := job{ctx: context.WithoutCancel(ctx), name: name, fn: fn}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.onFailure(j.ctx, name, goerr.Wrap(ErrDropped, "runner closed", goerr.V("task", name)))
		return false
	}

	select {
	case r.jobs <- j:
		return true
	default:
		r.onFailure(j.ctx, name, goerr.Wrap(ErrDropped, "buffer full", goerr.V("task", name)))
		return false
	}
}

func (r *Runner) work() {
	defer r.wg.Done()
	for j := range r.jobs {
		r.run(j)
	}
}

func (r *Runner) run(j job) {
	ctx := j.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.onFailure(ctx, j.name, goerr.New("task panicked", goerr.V("task", j.name), goerr.V("panic", fmt.Sprint(rec))))
		}
	}()

	if err := j.fn(ctx); err != nil {
		r.onFailure(ctx, j.name, err)
	}
}

// Close stops accepting tasks and waits for queued ones to finish or ctx to expire
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "side channel did not drain")
	}
}

package pipeline

import (
	"context"
	"errors"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// PoolOptions bounds the work admitted to a Pool.
type PoolOptions struct {
	// Workers is the number of jobs run at once.
	Workers int

	// QueueDepth is how many jobs may wait for a worker. Submissions beyond
	// it are rejected immediately with ServerBusy.
	QueueDepth int

	// QueueTimeout is how long a job may wait for a worker.
	QueueTimeout time.Duration

	// RunTimeout bounds a job once it has a worker.
	RunTimeout time.Duration
}

// Pool runs jobs on a bounded set of workers behind a bounded queue.
type Pool struct {
	sem   *semaphore.Weighted
	queue chan struct{}
	opts  PoolOptions
}

// NewPool creates a pool. Workers defaults to the number of CPUs.
func NewPool(opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = 10 * time.Second
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 30 * time.Second
	}
	return &Pool{
		sem:   semaphore.NewWeighted(int64(opts.Workers)),
		queue: make(chan struct{}, opts.Workers+opts.QueueDepth),
		opts:  opts,
	}
}

// Do runs fn on a worker and waits for it.
//
// # Errors
//
//   - ServerBusy when every worker and queue slot is taken.
//   - Timeout when no worker frees up within QueueTimeout, or fn does not
//     finish within RunTimeout. fn's context is cancelled at that point and
//     its eventual result is discarded; the worker slot stays taken until fn
//     returns.
//   - ctx.Err() when the caller gives up first.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.queue <- struct{}{}:
	default:
		return omrerr.New(omrerr.KindServerBusy, "all %d workers and %d queue slots are busy",
			p.opts.Workers, p.opts.QueueDepth)
	}
	defer func() { <-p.queue }()

	waitCtx, cancelWait := context.WithTimeout(ctx, p.opts.QueueTimeout)
	err := p.sem.Acquire(waitCtx, 1)
	cancelWait()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return omrerr.New(omrerr.KindTimeout, "no worker free within %s", p.opts.QueueTimeout)
	}

	runCtx, cancelRun := context.WithTimeout(ctx, p.opts.RunTimeout)
	defer cancelRun()
	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn(runCtx)
	}()

	select {
	case err := <-done:
		return p.finished(ctx, runCtx, err)
	case <-runCtx.Done():
		select {
		case err := <-done:
			return p.finished(ctx, runCtx, err)
		default:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return omrerr.New(omrerr.KindTimeout, "run exceeded %s", p.opts.RunTimeout)
	}
}

// finished classifies the error of a job that returned.
func (p *Pool) finished(ctx, runCtx context.Context, err error) error {
	if err == nil || ctx.Err() != nil || omrerr.KindOf(err) == omrerr.KindTimeout {
		return err
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return omrerr.Wrap(omrerr.KindTimeout, err, "run exceeded %s", p.opts.RunTimeout)
	}
	return err
}

// Run executes fn on pool and returns its value. After a Timeout the zero
// value is returned and fn's late result is dropped.
func Run[T any](ctx context.Context, pool *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	out := make(chan T, 1)
	err := pool.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out <- v
		return err
	})

	var v T
	if omrerr.KindOf(err) == omrerr.KindTimeout || ctx.Err() != nil {
		return v, err
	}
	select {
	case v = <-out:
	default:
	}
	return v, err
}

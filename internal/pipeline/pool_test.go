package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// occupy starts a job that holds a worker until release is closed.
func occupy(t *testing.T, p *Pool) (release func(), finished <-chan error) {
	t.Helper()
	started := make(chan struct{})
	hold := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	return func() { close(hold) }, done
}

func TestPool_RunsJob(t *testing.T) {
	p := NewPool(PoolOptions{Workers: 2, QueueDepth: 1})
	want := errors.New("boom")

	if err := p.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Do: %v", err)
	}
	if err := p.Do(context.Background(), func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("job error should pass through, got %v", err)
	}
}

func TestPool_ServerBusy(t *testing.T) {
	p := NewPool(PoolOptions{Workers: 1, QueueDepth: 0})
	release, done := occupy(t, p)
	defer func() {
		release()
		<-done
	}()

	err := p.Do(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, omrerr.ErrServerBusy) {
		t.Fatalf("expected ServerBusy, got %v", err)
	}
}

func TestPool_QueueTimeout(t *testing.T) {
	p := NewPool(PoolOptions{Workers: 1, QueueDepth: 1, QueueTimeout: 30 * time.Millisecond})
	release, done := occupy(t, p)
	defer func() {
		release()
		<-done
	}()

	var ran atomic.Bool
	err := p.Do(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if !errors.Is(err, omrerr.ErrTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if ran.Load() {
		t.Error("a job that timed out in the queue must not run")
	}
}

func TestPool_RunTimeout(t *testing.T) {
	p := NewPool(PoolOptions{Workers: 1, RunTimeout: 30 * time.Millisecond})

	err := p.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, omrerr.ErrTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestPool_RunTimeoutIgnoresLateResult(t *testing.T) {
	p := NewPool(PoolOptions{Workers: 1, RunTimeout: 20 * time.Millisecond})
	finish := make(chan struct{})

	err := p.Do(context.Background(), func(ctx context.Context) error {
		<-finish
		return nil
	})
	if !errors.Is(err, omrerr.ErrTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}

	// The stuck job still holds the only worker.
	p.opts.QueueTimeout = 20 * time.Millisecond
	if err := p.Do(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, omrerr.ErrTimeout) {
		t.Errorf("worker should stay taken until the job returns, got %v", err)
	}

	close(finish)
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := p.Do(context.Background(), func(ctx context.Context) error { return nil })
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never freed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPool_CallerCancel(t *testing.T) {
	p := NewPool(PoolOptions{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	p := NewPool(PoolOptions{Workers: workers, QueueDepth: 20, QueueTimeout: 5 * time.Second})

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), func(ctx context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > workers {
		t.Errorf("peak concurrency %d exceeds %d workers", peak.Load(), workers)
	}
}

func TestRun_ReturnsValue(t *testing.T) {
	p := NewPool(PoolOptions{Workers: 1})
	want := errors.New("partial")

	v, err := Run(context.Background(), p, func(ctx context.Context) (int, error) { return 7, want })
	if v != 7 || !errors.Is(err, want) {
		t.Errorf("Run: got (%d, %v), want (7, %v)", v, err, want)
	}

	p.opts.RunTimeout = 10 * time.Millisecond
	v, err = Run(context.Background(), p, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 9, ctx.Err()
	})
	if v != 0 || !errors.Is(err, omrerr.ErrTimeout) {
		t.Errorf("Run after timeout: got (%d, %v)", v, err)
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/pkg/schema"
)

// PoolMetrics tracks run pool operational counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("run pool is shut down")

// DefaultPoolSize is the default number of concurrent async runs.
const DefaultPoolSize = 10

// Pool is a bounded goroutine pool for runs started by triggers and
// schedules.
type Pool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
	logger  *slog.Logger
}

// NewPool creates a pool with the given max concurrency.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{
		sem:    make(chan struct{}, size),
		done:   make(chan struct{}),
		logger: logging.Or(logger),
	}
}

// Submit enqueues work. It blocks while the pool is at capacity and gives up
// when ctx is done. fn runs detached from ctx's cancellation so a finished
// request does not abort the run it started.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				logging.LogWith(runCtx, p.logger).Error("pooled run panicked", "panic", fmt.Sprint(r))
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(runCtx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
			if !schema.IsCode(err, schema.ErrCodeStepFailed) {
				logging.LogWith(runCtx, p.logger).Warn("pooled run failed", "error", err)
			}
			return
		}
		atomic.AddInt64(&p.metrics.Completed, 1)
	}()

	return nil
}

// Wait blocks until all submitted work completes.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting work and waits for active runs to finish or ctx
// to end, whichever comes first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return schema.NewErrorf(schema.ErrCodeTimeout,
			"run pool shutdown gave up with %d runs active", atomic.LoadInt64(&p.metrics.Active)).WithCause(ctx.Err())
	}
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}

// AsyncRunner submits runs to a Pool. Used by the scheduler and the event
// router, which must not wait for the run to finish.
// A workflow has at most one async run queued or running; overlapping
// submits are rejected with CONFLICT before they take a pool slot.
type AsyncRunner struct {
	runner Runner
	pool   *Pool

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewAsyncRunner wraps runner with pool.
func NewAsyncRunner(runner Runner, pool *Pool) *AsyncRunner {
	return &AsyncRunner{runner: runner, pool: pool, inflight: make(map[string]struct{})}
}

// Submit starts a run of workflowID in the background.
func (a *AsyncRunner) Submit(ctx context.Context, workflowID string, ec schema.ExecutionContext) error {
	if !a.claim(workflowID) {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s already has a run in flight; submit dropped", workflowID).
			WithDetails(map[string]any{"workflow_id": workflowID})
	}

	err := a.pool.Submit(logging.WithWorkflowID(ctx, workflowID), func(ctx context.Context) error {
		defer a.unclaim(workflowID)
		_, err := a.runner.Run(ctx, workflowID, ec)
		return err
	})
	if err != nil {
		a.unclaim(workflowID)
	}
	return err
}

// InFlight reports whether an async run of workflowID is queued or running.
func (a *AsyncRunner) InFlight(workflowID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inflight[workflowID]
	return ok
}

func (a *AsyncRunner) claim(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inflight[id]; busy {
		return false
	}
	a.inflight[id] = struct{}{}
	return true
}

func (a *AsyncRunner) unclaim(id string) {
	a.mu.Lock()
	delete(a.inflight, id)
	a.mu.Unlock()
}

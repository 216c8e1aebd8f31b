package engine

import (
	"context"
	"sync"

	"github.com/rendis/autoflow/pkg/schema"
)

// RunLocks serializes runs of the same workflow. Locks are created on first
// use and dropped once nobody holds or waits for them.
type RunLocks struct {
	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	ch   chan struct{}
	refs int
}

// NewRunLocks creates an empty lock table.
func NewRunLocks() *RunLocks {
	return &RunLocks{locks: make(map[string]*runLock)}
}

// Acquire blocks until the lock for id is held or ctx is done. The returned
// release func must be called exactly once.
func (l *RunLocks) Acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &runLock{ch: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(id, lk)
		return nil, schema.NewErrorf(schema.ErrCodeTimeout,
			"gave up waiting for the run lock of workflow %s", id).WithCause(ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.unref(id, lk)
		})
	}, nil
}

// Held reports whether a run of id currently holds its lock.
func (l *RunLocks) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[id]
	return ok && len(lk.ch) > 0
}

func (l *RunLocks) unref(id string, lk *runLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}

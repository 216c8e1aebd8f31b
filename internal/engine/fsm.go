package engine

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rendis/autoflow/pkg/schema"
)

// Transition describes one execution status change.
type Transition struct {
	ExecutionID string
	WorkflowID  string
	From, To    schema.ExecutionStatus
	// Step is the failing step, if any.
	Step string
	// Message is the run result message or error text.
	Message string
}

// TransitionHook observes a transition. A before hook error vetoes it.
type TransitionHook func(ctx context.Context, t Transition) error

// ValidExecutionTransitions lists the allowed moves. Terminal states have
// no entry, so nothing leaves them.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionRunning: {schema.ExecutionCompleted, schema.ExecutionFailed},
}

type hookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM validates execution status transitions and runs hooks
// around them. Begin runs before the new status is persisted, Commit after.
type ExecutionFSM struct {
	mu     sync.Mutex
	before map[hookKey][]TransitionHook
	after  map[hookKey][]TransitionHook
}

// NewExecutionFSM creates an FSM with no hooks.
func NewExecutionFSM() *ExecutionFSM {
	return &ExecutionFSM{
		before: make(map[hookKey][]TransitionHook),
		after:  make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called by Begin.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called by Commit.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Begin validates t and runs the before hooks. The first hook error aborts.
func (f *ExecutionFSM) Begin(ctx context.Context, t Transition) error {
	if !IsValidTransition(t.From, t.To) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", t.From, t.To).
			WithDetails(map[string]any{"execution_id": t.ExecutionID, "from": string(t.From), "to": string(t.To)})
	}
	for _, hook := range f.hooks(f.before, t) {
		if err := hook(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Commit runs the after hooks once the caller has persisted t.To. Every
// hook runs; their errors are joined.
func (f *ExecutionFSM) Commit(ctx context.Context, t Transition) error {
	var errs []error
	for _, hook := range f.hooks(f.after, t) {
		if err := hook(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *ExecutionFSM) hooks(m map[hookKey][]TransitionHook, t Transition) []TransitionHook {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(m[hookKey{t.From, t.To}])
}

// IsValidTransition reports whether from -> to is allowed.
func IsValidTransition(from, to schema.ExecutionStatus) bool {
	return slices.Contains(ValidExecutionTransitions[from], to)
}

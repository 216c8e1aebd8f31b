package trigger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// WorkflowLister is the part of the workflow store the router reads.
type WorkflowLister interface {
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error)
}

// Submitter starts a run without waiting for it. Satisfied by
// *engine.AsyncRunner.
type Submitter interface {
	Submit(ctx context.Context, workflowID string, ec schema.ExecutionContext) error
}

// Router fans an event out to every active workflow whose trigger matches.
type Router struct {
	workflows WorkflowLister
	matcher   *Matcher
	submitter Submitter
	logger    *slog.Logger
	now       func() time.Time
}

// NewRouter creates a Router. A nil matcher uses CheckTriggerConditions.
func NewRouter(workflows WorkflowLister, matcher *Matcher, submitter Submitter, logger *slog.Logger) *Router {
	if matcher == nil {
		matcher = defaultMatcher
	}
	return &Router{
		workflows: workflows,
		matcher:   matcher,
		submitter: submitter,
		logger:    logging.Or(logger),
		now:       time.Now,
	}
}

// TriggerWorkflowsByEvent submits a run for each active workflow of
// triggerType whose conditions match event, and returns their ids. Submit
// failures are skipped and reported together in the error.
func (r *Router) TriggerWorkflowsByEvent(ctx context.Context, triggerType schema.TriggerType, event Event) ([]string, error) {
	wfs, err := r.workflows.ListWorkflows(ctx, store.WorkflowFilter{TriggerType: triggerType, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	source := strings.ToLower(string(triggerType))
	triggered := []string{}
	var errs []error
	for _, wf := range wfs {
		if !wf.IsActive || !r.matcher.Check(wf, event) {
			continue
		}
		ec := schema.ExecutionContext{
			Source:    source,
			Timestamp: r.now().UTC(),
			UserID:    wf.UserID,
			Data:      event,
		}
		if err := r.submitter.Submit(ctx, wf.ID, ec); err != nil {
			r.logger.Warn("failed to submit triggered run", "workflow_id", wf.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		triggered = append(triggered, wf.ID)
	}

	r.logger.Info("event routed", "trigger_type", string(triggerType), "candidates", len(wfs), "triggered", len(triggered))
	return triggered, errors.Join(errs...)
}

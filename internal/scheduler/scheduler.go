// Package scheduler keeps one cron job per scheduled workflow and submits a
// run each time a job fires.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/metrics"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// MinInterval is the shortest accepted interval schedule.
const MinInterval = time.Minute

// WorkflowStore is the part of the store the scheduler needs.
type WorkflowStore interface {
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error)
	TouchLastRun(ctx context.Context, id string, at time.Time) error
}

// Submitter starts a run without waiting for it. Satisfied by
// *engine.AsyncRunner.
type Submitter interface {
	Submit(ctx context.Context, workflowID string, ec schema.ExecutionContext) error
}

// Config holds optional scheduler settings.
type Config struct {
	Location *time.Location
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Entry describes one registered job.
type Entry struct {
	WorkflowID string    `json:"workflowId"`
	Next       time.Time `json:"next"`
	Prev       time.Time `json:"prev,omitzero"`
}

// Scheduler maps workflow ids to cron entries.
type Scheduler struct {
	store     WorkflowStore
	submitter Submitter
	cron      *cron.Cron
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	fireCtx    context.Context
	cancelFire context.CancelFunc

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// New creates a stopped Scheduler.
func New(s WorkflowStore, submitter Submitter, cfg Config) *Scheduler {
	logger := logging.Or(cfg.Logger)
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	fireCtx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger: logger}
	return &Scheduler{
		store:     s,
		submitter: submitter,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		metrics:    cfg.Metrics,
		logger:     logger,
		now:        time.Now,
		fireCtx:    fireCtx,
		cancelFire: cancel,
		jobs:       make(map[string]cron.EntryID),
	}
}

// ScheduleWorkflow registers a job for wf, replacing any existing one. A
// bad trigger config returns a CONFIGURATION_ERROR and leaves no job.
func (s *Scheduler) ScheduleWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeConfiguration, "workflow id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(wf.ID)

	if wf.TriggerType != schema.TriggerSchedule {
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"workflow %s has trigger type %s, not %s", wf.ID, wf.TriggerType, schema.TriggerSchedule)
	}
	sched, desc, err := ParseTriggerConfig(wf.TriggerConfig)
	if err != nil {
		return err
	}

	id := s.cron.Schedule(sched, s.job(wf.ID, wf.UserID))
	s.jobs[wf.ID] = id
	s.metrics.SetScheduledJobs(len(s.jobs))

	if err := s.store.TouchLastRun(ctx, wf.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to record schedule time", "workflow_id", wf.ID, "error", err)
	}

	s.logger.Info("workflow scheduled", "workflow_id", wf.ID, "schedule", desc,
		"next", s.cron.Entry(id).Next)
	return nil
}

func (s *Scheduler) job(workflowID, userID string) cron.FuncJob {
	return func() {
		ctx := logging.WithWorkflowID(s.fireCtx, workflowID)
		ec := schema.ExecutionContext{
			Source:    schema.SourceSchedule,
			Timestamp: s.now().UTC(),
			UserID:    userID,
		}
		if err := s.submitter.Submit(ctx, workflowID, ec); err != nil {
			s.metrics.ScheduleFired("dropped")
			if schema.IsCode(err, schema.ErrCodeConflict) {
				logging.LogWith(ctx, s.logger).Warn("previous run still in flight; tick skipped")
				return
			}
			logging.LogWith(ctx, s.logger).Error("scheduled run not submitted", "error", err)
			return
		}
		s.metrics.ScheduleFired("submitted")
	}
}

// CancelSchedule removes the job for id and reports whether one existed.
func (s *Scheduler) CancelSchedule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(id)
}

func (s *Scheduler) cancelLocked(id string) bool {
	entry, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(entry)
	delete(s.jobs, id)
	s.metrics.SetScheduledJobs(len(s.jobs))
	s.logger.Info("workflow schedule cancelled", "workflow_id", id)
	return true
}

// CancelAllSchedules removes every job.
func (s *Scheduler) CancelAllSchedules() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.jobs {
		s.cron.Remove(entry)
		delete(s.jobs, id)
	}
	s.metrics.SetScheduledJobs(0)
}

// IsScheduled reports whether id has a job.
func (s *Scheduler) IsScheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Count returns the number of registered jobs.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Entries lists the registered jobs ordered by workflow id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.jobs))
	for id, entryID := range s.jobs {
		e := s.cron.Entry(entryID)
		out = append(out, Entry{WorkflowID: id, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out
}

// LoadActive schedules every active SCHEDULE workflow in the store.
// Workflows whose config cannot be scheduled are logged and skipped.
func (s *Scheduler) LoadActive(ctx context.Context) (int, error) {
	wfs, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{TriggerType: schema.TriggerSchedule, ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("list scheduled workflows: %w", err)
	}

	loaded := 0
	for _, wf := range wfs {
		if err := s.ScheduleWorkflow(ctx, wf); err != nil {
			s.logger.Error("failed to schedule workflow", "workflow_id", wf.ID, "error", err)
			continue
		}
		loaded++
	}

	s.logger.Info("scheduled workflows loaded", "loaded", loaded, "skipped", len(wfs)-loaded)
	return loaded, nil
}

// Start starts the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts job firing and waits for running job funcs, up to ctx.
// Submissions blocked on a full pool are abandoned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancelFire()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's logr-style output to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}

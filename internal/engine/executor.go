// Package engine runs workflows: it walks the step list of one workflow,
// records the execution and enforces the RUNNING -> COMPLETED|FAILED
// lifecycle.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/metrics"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/pkg/schema"
)

// Result messages recorded in execution logs.
const (
	MsgNoSteps = "workflow has no steps to execute"
)

// StepDispatcher runs one step. Satisfied by *steps.Dispatcher.
type StepDispatcher interface {
	Dispatch(ctx context.Context, step schema.Step, data *schema.ExecutionData) schema.StepResult
}

// Runner starts a workflow run and waits for it.
type Runner interface {
	Run(ctx context.Context, workflowID string, ec schema.ExecutionContext) (*RunResult, error)
}

// RunResult is the outcome of one run.
type RunResult struct {
	ExecutionID string                 `json:"executionId"`
	WorkflowID  string                 `json:"workflowId"`
	Status      schema.ExecutionStatus `json:"status"`
	Message     string                 `json:"message,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Outputs     map[string]any         `json:"outputs,omitempty"`
	StepsRun    int                    `json:"stepsRun"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
}

// ExecutorConfig holds the optional collaborators of the executor.
type ExecutorConfig struct {
	Metrics *metrics.Metrics
	Events  streaming.EventHub
	Logger  *slog.Logger
}

// Executor is the workflow run coordinator.
type Executor struct {
	workflows  store.WorkflowStore
	executions store.ExecutionRecorder
	dispatcher StepDispatcher
	fsm        *ExecutionFSM
	locks      *RunLocks
	metrics    *metrics.Metrics
	events     streaming.EventHub
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(workflows store.WorkflowStore, executions store.ExecutionRecorder, dispatcher StepDispatcher, cfg ExecutorConfig) *Executor {
	e := &Executor{
		workflows:  workflows,
		executions: executions,
		dispatcher: dispatcher,
		fsm:        NewExecutionFSM(),
		locks:      NewRunLocks(),
		metrics:    cfg.Metrics,
		events:     cfg.Events,
		logger:     logging.Or(cfg.Logger),
		now:        time.Now,
	}
	e.fsm.OnAfter(schema.ExecutionRunning, schema.ExecutionCompleted, e.publishTerminal(streaming.EventRunCompleted, "message"))
	e.fsm.OnAfter(schema.ExecutionRunning, schema.ExecutionFailed, e.publishTerminal(streaming.EventRunFailed, "error"))
	return e
}

// runLog is the JSON shape stored in WorkflowExecution.Logs.
type runLog struct {
	Context     schema.ExecutionContext `json:"context"`
	Steps       []schema.StepEntry      `json:"steps"`
	Outputs     map[string]any          `json:"outputs"`
	CurrentStep int                     `json:"currentStep,omitempty"`
	TotalSteps  int                     `json:"totalSteps"`
	Result      string                  `json:"result,omitempty"`
}

// runState is the per-invocation bookkeeping.
type runState struct {
	wf     *schema.Workflow
	exec   *schema.WorkflowExecution
	data   *schema.ExecutionData
	status schema.ExecutionStatus
	logger *slog.Logger
}

// Run executes workflowID once. Runs of the same workflow are serialized.
// A failed step yields a FAILED result together with a STEP_FAILED error.
func (e *Executor) Run(ctx context.Context, workflowID string, ec schema.ExecutionContext) (result *RunResult, err error) {
	release, err := e.locks.Acquire(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx = logging.WithWorkflowID(ctx, workflowID)

	wf, err := e.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, schema.NewErrorf(schema.CodeOf(err), "cannot run workflow %s: %s", workflowID, errText(err)).WithCause(err)
	}

	if ec.Timestamp.IsZero() {
		ec.Timestamp = e.now().UTC()
	}
	if ec.Source == "" {
		ec.Source = schema.SourceManual
	}
	if ec.UserID == "" {
		ec.UserID = wf.UserID
	}

	exec := &schema.WorkflowExecution{
		ID:            uuid.NewString(),
		WorkflowID:    wf.ID,
		UserID:        ec.UserID,
		Status:        schema.ExecutionRunning,
		StartTime:     e.now().UTC(),
		TriggerSource: ec.Source,
		TriggerData:   ec.Data,
	}
	if err := e.executions.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	ctx = logging.WithExecutionID(ctx, exec.ID)
	st := &runState{
		wf:     wf,
		exec:   exec,
		data:   schema.NewExecutionData(ec),
		status: schema.ExecutionRunning,
		logger: logging.LogWith(ctx, e.logger),
	}
	st.logger.Info("workflow run started", "source", ec.Source, "steps", len(wf.Steps))
	e.metrics.RunStarted()
	e.publish(ctx, st, streaming.EventRunStarted, "", map[string]any{"source": ec.Source, "total_steps": len(wf.Steps)})

	defer func() {
		if r := recover(); r != nil {
			result, err = e.abort(ctx, st, schema.NewErrorf(schema.ErrCodeExecution, "run panicked: %v", r))
		}
	}()

	if len(wf.Steps) == 0 {
		return e.complete(ctx, st, MsgNoSteps)
	}

	total := len(wf.Steps)
	for i, step := range wf.Steps {
		if err := ctx.Err(); err != nil {
			return e.abort(ctx, st, schema.NewErrorf(schema.ErrCodeExecution,
				"run cancelled before step %d: %s", i+1, err.Error()).WithCause(err))
		}

		progress := e.marshalLog(st, runLog{CurrentStep: i + 1, TotalSteps: total})
		if err := e.executions.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{Logs: progress}); err != nil {
			return e.abort(ctx, st, err)
		}

		name := stepName(step)
		res := e.dispatcher.Dispatch(logging.WithStep(ctx, name), step, st.data)

		entry := schema.StepEntry{Index: i, Name: name, Type: step.Type, Status: schema.StepStatusSuccess, Result: res}
		if !res.Success {
			entry.Status = schema.StepStatusFailed
		}
		st.data.Append(entry)

		if !res.Success {
			e.publish(ctx, st, streaming.EventStepFailed, name, map[string]any{"index": i + 1, "error": res.Error})
			return e.failStep(ctx, st, i, name, res)
		}
		e.publish(ctx, st, streaming.EventStepCompleted, name, map[string]any{"index": i + 1, "message": res.Message})

		if step.OutputName != "" && !st.data.SetOutput(step.OutputName, res.Output) {
			st.logger.Warn("output name already used; keeping the earlier value",
				"step", name, "output_name", step.OutputName)
		}
	}

	return e.complete(ctx, st, fmt.Sprintf("workflow completed successfully (%d steps)", total))
}

func (e *Executor) complete(ctx context.Context, st *runState, msg string) (*RunResult, error) {
	tr := st.transition(schema.ExecutionCompleted, "", msg)
	if err := e.fsm.Begin(ctx, tr); err != nil {
		return e.abort(ctx, st, err)
	}

	end := e.now().UTC()
	status := schema.ExecutionCompleted
	logs := e.marshalLog(st, runLog{TotalSteps: len(st.wf.Steps), Result: msg})
	if err := e.executions.UpdateExecution(context.WithoutCancel(ctx), st.exec.ID, store.ExecutionUpdate{
		Status:  &status,
		EndTime: &end,
		Logs:    logs,
	}); err != nil {
		return e.abort(ctx, st, err)
	}
	st.status = status

	e.finish(ctx, st, end)
	e.commit(ctx, st, tr)
	st.logger.Info("workflow run completed", "message", msg)

	return &RunResult{
		ExecutionID: st.exec.ID,
		WorkflowID:  st.wf.ID,
		Status:      status,
		Message:     msg,
		Outputs:     st.data.Outputs,
		StepsRun:    len(st.data.Steps),
		StartedAt:   st.exec.StartTime,
		CompletedAt: end,
	}, nil
}

func (e *Executor) failStep(ctx context.Context, st *runState, index int, name string, res schema.StepResult) (*RunResult, error) {
	msg := fmt.Sprintf("Step %d (%s) failed: %s", index+1, name, res.Error)

	tr := st.transition(schema.ExecutionFailed, name, msg)
	if err := e.fsm.Begin(ctx, tr); err != nil {
		return e.abort(ctx, st, err)
	}

	end := e.now().UTC()
	status := schema.ExecutionFailed
	logs := e.marshalLog(st, runLog{TotalSteps: len(st.wf.Steps), Result: msg})
	if err := e.executions.UpdateExecution(context.WithoutCancel(ctx), st.exec.ID, store.ExecutionUpdate{
		Status:  &status,
		EndTime: &end,
		Logs:    logs,
		Error:   &msg,
	}); err != nil {
		st.logger.Error("failed to record step failure", "error", err)
	}
	st.status = status

	e.finish(ctx, st, end)
	e.commit(ctx, st, tr)
	st.logger.Warn("workflow run failed", "step", name, "error", res.Error)

	return &RunResult{
			ExecutionID: st.exec.ID,
			WorkflowID:  st.wf.ID,
			Status:      status,
			Error:       msg,
			Outputs:     st.data.Outputs,
			StepsRun:    len(st.data.Steps),
			StartedAt:   st.exec.StartTime,
			CompletedAt: end,
		}, schema.NewError(schema.ErrCodeStepFailed, msg).
			WithStep(name).
			WithDetails(map[string]any{"execution_id": st.exec.ID, "step_index": index + 1})
}

// abort handles errors that escape the step loop: a best-effort FAILED
// update whose own failure is only logged.
func (e *Executor) abort(ctx context.Context, st *runState, cause error) (*RunResult, error) {
	msg := errText(cause)
	end := e.now().UTC()
	res := &RunResult{
		ExecutionID: st.exec.ID,
		WorkflowID:  st.wf.ID,
		Status:      schema.ExecutionFailed,
		Error:       msg,
		Outputs:     st.data.Outputs,
		StepsRun:    len(st.data.Steps),
		StartedAt:   st.exec.StartTime,
		CompletedAt: end,
	}

	if st.status.Terminal() {
		st.logger.Error("run error after terminal state", "status", st.status, "error", cause)
		return res, cause
	}

	// Abort skips Begin: a before hook cannot veto the failure path.
	tr := st.transition(schema.ExecutionFailed, "", msg)
	status := schema.ExecutionFailed
	logs := e.marshalLog(st, runLog{TotalSteps: len(st.wf.Steps), Result: msg})
	if err := e.executions.UpdateExecution(context.WithoutCancel(ctx), st.exec.ID, store.ExecutionUpdate{
		Status:  &status,
		EndTime: &end,
		Logs:    logs,
		Error:   &msg,
	}); err != nil {
		st.logger.Error("best-effort failure update did not persist", "error", err, "cause", msg)
	}
	st.status = status

	e.finish(ctx, st, end)
	e.commit(ctx, st, tr)
	st.logger.Error("workflow run aborted", "error", cause)

	code := schema.CodeOf(cause)
	if code == "" {
		code = schema.ErrCodeExecution
	}
	return res, schema.NewErrorf(code, "workflow %s run %s aborted: %s", st.wf.ID, st.exec.ID, msg).WithCause(cause)
}

// finish updates workflow counters and metrics once the run is terminal.
func (e *Executor) finish(ctx context.Context, st *runState, end time.Time) {
	duration := end.Sub(st.exec.StartTime)
	if err := e.workflows.RecordRun(context.WithoutCancel(ctx), st.wf.ID, duration, end); err != nil {
		st.logger.Warn("failed to update workflow run counters", "error", err)
	}
	e.metrics.RunFinished(string(st.status), st.exec.TriggerSource, duration)
}

func (st *runState) transition(to schema.ExecutionStatus, step, msg string) Transition {
	return Transition{
		ExecutionID: st.exec.ID,
		WorkflowID:  st.wf.ID,
		From:        st.status,
		To:          to,
		Step:        step,
		Message:     msg,
	}
}

// commit runs the after hooks; the status is already persisted, so hook
// errors are only logged.
func (e *Executor) commit(ctx context.Context, st *runState, tr Transition) {
	if err := e.fsm.Commit(context.WithoutCancel(ctx), tr); err != nil {
		st.logger.Warn("transition hook failed", "to", tr.To, "error", err)
	}
}

// publishTerminal emits the terminal run event from an after hook.
func (e *Executor) publishTerminal(eventType, key string) TransitionHook {
	return func(ctx context.Context, tr Transition) error {
		return e.emit(ctx, streaming.RunEvent{
			WorkflowID:  tr.WorkflowID,
			ExecutionID: tr.ExecutionID,
			Step:        tr.Step,
			EventType:   eventType,
			Payload:     map[string]any{key: tr.Message},
		})
	}
}

// publish is fire-and-forget; a nil hub disables events.
func (e *Executor) publish(ctx context.Context, st *runState, eventType, step string, payload map[string]any) {
	err := e.emit(ctx, streaming.RunEvent{
		WorkflowID:  st.wf.ID,
		ExecutionID: st.exec.ID,
		Step:        step,
		EventType:   eventType,
		Payload:     payload,
	})
	if err != nil {
		st.logger.Debug("run event not published", "event", eventType, "error", err)
	}
}

func (e *Executor) emit(ctx context.Context, evt streaming.RunEvent) error {
	if e.events == nil {
		return nil
	}
	evt.Time = e.now().UTC()
	return e.events.Publish(context.WithoutCancel(ctx), evt)
}

func (e *Executor) marshalLog(st *runState, l runLog) json.RawMessage {
	l.Context = st.data.Context
	l.Steps = st.data.Steps
	l.Outputs = st.data.Outputs
	b, err := json.Marshal(l)
	if err != nil {
		st.logger.Warn("execution data is not JSON-encodable; storing summary only", "error", err)
		b, _ = json.Marshal(map[string]any{
			"totalSteps":  l.TotalSteps,
			"currentStep": l.CurrentStep,
			"result":      l.Result,
			"logError":    err.Error(),
		})
	}
	return b
}

func stepName(step schema.Step) string {
	if step.Name != "" {
		return step.Name
	}
	return string(step.Type)
}

func errText(err error) string {
	if fe, ok := err.(*schema.FlowError); ok {
		return fe.Message
	}
	return err.Error()
}

package schema

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the lifecycle state of one workflow run.
// RUNNING moves to COMPLETED or FAILED exactly once.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// StepStatus is the outcome recorded for a step in ExecutionData.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
)

// Trigger sources recorded on executions.
const (
	SourceSchedule  = "schedule"
	SourceManual    = "manual"
	SourceFileEvent = "file_event"
	SourceAPI       = "api"
)

// WorkflowExecution is the durable record of one run.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflowId"`
	UserID        string          `json:"userId,omitempty"`
	Status        ExecutionStatus `json:"status"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       *time.Time      `json:"endTime,omitempty"`
	TriggerSource string          `json:"triggerSource"`
	TriggerData   map[string]any  `json:"triggerData,omitempty"`
	Logs          json.RawMessage `json:"logs,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// ExecutionContext is the input to a run.
type ExecutionContext struct {
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// StepResult is what every step handler returns.
type StepResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Output  any    `json:"output,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(message string, output any) StepResult {
	return StepResult{Success: true, Message: message, Output: output}
}

// Failed builds a failed result from an error message.
func Failed(errMsg string) StepResult {
	return StepResult{Success: false, Error: errMsg}
}

// FailedErr builds a failed result from an error.
func FailedErr(err error) StepResult {
	if err == nil {
		return Failed("unknown error")
	}
	return Failed(err.Error())
}

// StepEntry is the per-step record accumulated during a run.
type StepEntry struct {
	Index  int        `json:"index"`
	Name   string     `json:"name"`
	Type   StepType   `json:"type"`
	Status StepStatus `json:"status"`
	Result StepResult `json:"result"`
}

// ExecutionData accumulates step results and named outputs for one run.
// It lives for the duration of the run and is folded into the record's logs.
type ExecutionData struct {
	Context ExecutionContext `json:"context"`
	Steps   []StepEntry      `json:"steps"`
	Outputs map[string]any   `json:"outputs"`
}

// NewExecutionData creates an empty accumulator for the given context.
func NewExecutionData(ec ExecutionContext) *ExecutionData {
	return &ExecutionData{
		Context: ec,
		Steps:   []StepEntry{},
		Outputs: make(map[string]any),
	}
}

// Append records a step outcome.
func (d *ExecutionData) Append(entry StepEntry) {
	d.Steps = append(d.Steps, entry)
}

// SetOutput stores a named output. Existing keys are never overwritten;
// the return value reports whether the value was stored.
func (d *ExecutionData) SetOutput(name string, value any) bool {
	if _, exists := d.Outputs[name]; exists {
		return false
	}
	d.Outputs[name] = value
	return true
}

// Scope returns the data as a plain map for template and expression lookup.
// Keys: context, steps, outputs, inputs (the event payload).
func (d *ExecutionData) Scope() map[string]any {
	steps := make([]any, 0, len(d.Steps))
	for _, s := range d.Steps {
		steps = append(steps, map[string]any{
			"index":  s.Index,
			"name":   s.Name,
			"type":   string(s.Type),
			"status": string(s.Status),
			"result": map[string]any{
				"success": s.Result.Success,
				"message": s.Result.Message,
				"error":   s.Result.Error,
				"output":  s.Result.Output,
			},
		})
	}

	data := d.Context.Data
	if data == nil {
		data = map[string]any{}
	}

	return map[string]any{
		"context": map[string]any{
			"source":    d.Context.Source,
			"timestamp": d.Context.Timestamp.UTC().Format(time.RFC3339Nano),
			"userId":    d.Context.UserID,
			"data":      data,
		},
		"steps":   steps,
		"outputs": d.Outputs,
		"inputs":  data,
	}
}

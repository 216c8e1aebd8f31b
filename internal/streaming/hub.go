// Package streaming fans out live run events to subscribers such as the MCP
// server.
package streaming

import (
	"context"
	"time"
)

// Event types published by the executor.
const (
	EventRunStarted    = "run.started"
	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
)

// RunEvent is one lifecycle event of a workflow run.
type RunEvent struct {
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	Step        string         `json:"step,omitempty"`
	EventType   string         `json:"event_type"`
	Time        time.Time      `json:"time"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// EventFilter selects events for a subscriber. Zero fields match everything.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub is pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}

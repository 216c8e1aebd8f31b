package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerType enumerates what can cause a workflow to run.
type TriggerType string

const (
	TriggerSchedule  TriggerType = "SCHEDULE"
	TriggerFileEvent TriggerType = "FILE_EVENT"
	TriggerManual    TriggerType = "MANUAL"
	TriggerAPI       TriggerType = "API"
)

// StepType enumerates the kinds of steps a workflow can contain.
type StepType string

const (
	StepFileOperation     StepType = "FILE_OPERATION"
	StepHTTPRequest       StepType = "HTTP_REQUEST"
	StepScript            StepType = "SCRIPT"
	StepConditional       StepType = "CONDITIONAL"
	StepFileImport        StepType = "FILE_IMPORT"
	StepFileExport        StepType = "FILE_EXPORT"
	StepDataTransform     StepType = "DATA_TRANSFORM"
	StepAIAnalysis        StepType = "AI_ANALYSIS"
	StepDatabaseOperation StepType = "DATABASE_OPERATION"
	StepNotification      StepType = "NOTIFICATION"
)

// StepTypes lists every known step type in declaration order.
var StepTypes = []StepType{
	StepFileOperation, StepHTTPRequest, StepScript, StepConditional,
	StepFileImport, StepFileExport, StepDataTransform, StepAIAnalysis,
	StepDatabaseOperation, StepNotification,
}

// Workflow is a named, ordered list of steps plus a trigger definition.
// Owned by the storage collaborator; the engine only updates counters.
type Workflow struct {
	ID                   string         `json:"id" yaml:"id"`
	Name                 string         `json:"name" yaml:"name"`
	UserID               string         `json:"userId,omitempty" yaml:"userId"`
	TriggerType          TriggerType    `json:"triggerType" yaml:"triggerType"`
	TriggerConfig        map[string]any `json:"triggerConfig,omitempty" yaml:"triggerConfig"`
	Steps                []Step         `json:"steps" yaml:"steps"`
	IsActive             bool           `json:"isActive" yaml:"isActive"`
	ExecutionCount       int            `json:"executionCount" yaml:"-"`
	AverageExecutionTime float64        `json:"averageExecutionTime" yaml:"-"` // milliseconds
	LastRunAt            *time.Time     `json:"lastRunAt,omitempty" yaml:"-"`
	CreatedAt            time.Time      `json:"createdAt" yaml:"-"`
	UpdatedAt            time.Time      `json:"updatedAt" yaml:"-"`
}

// Step is one typed unit of work within a workflow.
type Step struct {
	Name       string         `json:"name" yaml:"name"`
	Type       StepType       `json:"type" yaml:"type"`
	Config     map[string]any `json:"config,omitempty" yaml:"config"`
	OutputName string         `json:"outputName,omitempty" yaml:"outputName"`
}

// StepFromMap decodes a nested step definition, such as a CONDITIONAL
// branch, from its config form.
func StepFromMap(raw any) (*Step, error) {
	switch v := raw.(type) {
	case Step:
		return &v, nil
	case *Step:
		if v == nil {
			return nil, fmt.Errorf("step is nil")
		}
		return v, nil
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode step: %w", err)
		}
		var s Step
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("decode step: %w", err)
		}
		if s.Type == "" {
			return nil, fmt.Errorf("step type is required")
		}
		if s.Name == "" {
			s.Name = string(s.Type)
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("step must be an object, got %T", raw)
	}
}

// Schedule variants accepted in a SCHEDULE trigger config's "type" field.
const (
	ScheduleCron     = "cron"
	ScheduleInterval = "interval"
	ScheduleDaily    = "daily"
	ScheduleWeekly   = "weekly"
	ScheduleMonthly  = "monthly"
)

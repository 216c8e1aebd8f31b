// Package steps implements the typed step handlers and the dispatcher that
// routes a step to its handler.
package steps

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rendis/autoflow/pkg/schema"
)

// Handler executes one step type. Execute never returns an error: every
// outcome, including failure, is a StepResult.
type Handler interface {
	Type() schema.StepType
	Schema() HandlerSchema
	Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult
}

// HandlerSchema describes a handler's config contract.
type HandlerSchema struct {
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// HandlerInfo is a summary of a registered handler for listing.
type HandlerInfo struct {
	Type        schema.StepType `json:"type"`
	Description string          `json:"description,omitempty"`
}

// ConfigValidator checks a raw step config against a JSON Schema.
type ConfigValidator interface {
	ValidateConfig(cfg map[string]any, configSchema []byte) error
}

// fail converts an error into a failed result, keeping only the message of
// structured errors so step failures read cleanly in execution logs.
func fail(err error) schema.StepResult {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return schema.Failed(fe.Message)
	}
	return schema.FailedErr(err)
}

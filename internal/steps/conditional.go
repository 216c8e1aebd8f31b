package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

const conditionalSchema = `{
  "type": "object",
  "properties": {
    "condition": {"type": ["string", "boolean"]},
    "trueStep": {"type": "object"},
    "falseStep": {"type": "object"}
  },
  "required": ["condition"]
}`

// ConditionalHandler implements CONDITIONAL. The condition is
// template-resolved, evaluated as CEL, and the chosen branch is dispatched
// through the same Dispatcher.
type ConditionalHandler struct {
	cel        *expressions.CELEngine
	dispatcher *Dispatcher
}

// NewConditionalHandler creates a CONDITIONAL handler bound to d.
func NewConditionalHandler(cel *expressions.CELEngine, d *Dispatcher) *ConditionalHandler {
	return &ConditionalHandler{cel: cel, dispatcher: d}
}

func (h *ConditionalHandler) Type() schema.StepType { return schema.StepConditional }

func (h *ConditionalHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Evaluate a CEL condition and run trueStep or falseStep.",
		ConfigSchema: json.RawMessage(conditionalSchema),
	}
}

func (h *ConditionalHandler) Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	scope := data.Scope()

	var outcome bool
	switch c := cfg["condition"].(type) {
	case bool:
		outcome = c
	case string:
		expr := strings.TrimSpace(expressions.Resolve(c, scope))
		if expr == "" {
			return schema.Failed("condition is required")
		}
		v, err := h.cel.EvaluateBool(ctx, expr, scope)
		if err != nil {
			return schema.Failed("condition evaluation failed: " + errMessage(err))
		}
		outcome = v
	default:
		return schema.Failed("condition is required")
	}

	key := "falseStep"
	if outcome {
		key = "trueStep"
	}
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return schema.Succeeded(fmt.Sprintf("condition evaluated to %t; no %s configured", outcome, key), nil)
	}

	branch, err := schema.StepFromMap(raw)
	if err != nil {
		return schema.Failed(fmt.Sprintf("invalid %s: %s", key, err.Error()))
	}

	res := h.dispatcher.Dispatch(ctx, *branch, data)
	if res.Success {
		res.Message = fmt.Sprintf("condition evaluated to %t; %s: %s", outcome, branch.Name, res.Message)
	} else {
		res.Error = fmt.Sprintf("%s %s failed: %s", key, branch.Name, res.Error)
	}
	return res
}

func errMessage(err error) string {
	return fail(err).Error
}

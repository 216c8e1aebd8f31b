package steps

import (
	"context"
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conditionalDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher()
	require.NoError(t, RegisterBuiltins(d, Deps{}))
	return d
}

func conditionalStep(cfg map[string]any) schema.Step {
	return schema.Step{Name: "branch", Type: schema.StepConditional, Config: cfg}
}

func TestConditional_RunsTrueBranch(t *testing.T) {
	d := conditionalDispatcher(t)
	data := runData(map[string]any{"count": 7}, nil)

	res := d.Dispatch(context.Background(), conditionalStep(map[string]any{
		"condition": "outputs.count > 5",
		"trueStep":  map[string]any{"type": "SCRIPT", "config": map[string]any{"code": `"big"`}},
		"falseStep": map[string]any{"type": "SCRIPT", "config": map[string]any{"code": `"small"`}},
	}), data)
	requireSuccess(t, res)
	assert.Equal(t, "big", res.Output)
	assert.Contains(t, res.Message, "condition evaluated to true")
}

func TestConditional_TemplateResolvedCondition(t *testing.T) {
	d := conditionalDispatcher(t)
	data := runData(map[string]any{"status": "done"}, nil)

	res := d.Dispatch(context.Background(), conditionalStep(map[string]any{
		"condition": `"{{outputs.status}}" == "pending"`,
		"falseStep": map[string]any{"name": "else", "type": "SCRIPT", "config": map[string]any{"code": "42"}},
	}), data)
	requireSuccess(t, res)
	assert.EqualValues(t, 42, res.Output)
}

func TestConditional_MissingBranchSucceedsWithoutOutput(t *testing.T) {
	d := conditionalDispatcher(t)
	res := d.Dispatch(context.Background(), conditionalStep(map[string]any{"condition": "1 == 2"}), runData(nil, nil))
	requireSuccess(t, res)
	assert.Nil(t, res.Output)
	assert.Contains(t, res.Message, "no falseStep configured")
}

func TestConditional_BoolLiteralAndErrors(t *testing.T) {
	d := conditionalDispatcher(t)

	res := d.Dispatch(context.Background(), conditionalStep(map[string]any{"condition": true}), runData(nil, nil))
	requireSuccess(t, res)

	res = d.Dispatch(context.Background(), conditionalStep(map[string]any{"condition": `"yes"`}), runData(nil, nil))
	requireFailure(t, res, "condition evaluation failed")

	res = d.Dispatch(context.Background(), conditionalStep(map[string]any{
		"condition": "true",
		"trueStep":  map[string]any{"config": map[string]any{}},
	}), runData(nil, nil))
	requireFailure(t, res, "invalid trueStep")
}

func TestConditional_BranchFailurePropagates(t *testing.T) {
	d := conditionalDispatcher(t)
	res := d.Dispatch(context.Background(), conditionalStep(map[string]any{
		"condition": "true",
		"trueStep":  map[string]any{"name": "inner", "type": "NOTIFICATION", "config": map[string]any{"type": "email"}},
	}), runData(nil, nil))
	requireFailure(t, res, "email notifications are not implemented")
	assert.Contains(t, res.Error, "trueStep inner failed")
}

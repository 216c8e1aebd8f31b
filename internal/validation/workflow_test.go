package validation

import (
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupFunc func(schema.StepType) bool

func (f lookupFunc) Has(t schema.StepType) bool { return f(t) }

func violationsOf(t *testing.T, err error) []string {
	t.Helper()
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	v, _ := fe.Details["violations"].([]string)
	return v
}

func TestWorkflowValidator_UnregisteredHandler(t *testing.T) {
	wv, err := NewWorkflowValidator(lookupFunc(func(st schema.StepType) bool {
		return st != schema.StepAIAnalysis
	}))
	require.NoError(t, err)

	wf := validWorkflow()
	wf.Steps = append(wf.Steps, schema.Step{Name: "ask", Type: schema.StepAIAnalysis})

	err = wv.ValidateWorkflow(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `steps[1].type: no handler registered for "AI_ANALYSIS"`)
}

func TestWorkflowValidator_ScheduleConfig(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	wf := validWorkflow()
	wf.TriggerType = schema.TriggerSchedule

	require.Error(t, wv.ValidateWorkflow(wf))

	wf.TriggerConfig = map[string]any{"type": "hourly"}
	assert.Contains(t, wv.ValidateWorkflow(wf).Error(), "unknown schedule type")

	wf.TriggerConfig = map[string]any{"type": "cron"}
	assert.Contains(t, wv.ValidateWorkflow(wf).Error(), "require an expression")

	wf.TriggerConfig = map[string]any{"type": "interval", "minutes": 30}
	assert.NoError(t, wv.ValidateWorkflow(wf))
}

func TestWorkflowValidator_FileEventLists(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	wf := validWorkflow()
	wf.TriggerType = schema.TriggerFileEvent
	wf.TriggerConfig = map[string]any{"fileExtensions": "csv", "eventTypes": []any{"created"}}

	err = wv.ValidateWorkflow(wf)
	require.Error(t, err)
	assert.Equal(t, []string{"triggerConfig.fileExtensions: must be a list of strings"}, violationsOf(t, err))
}

func TestWorkflowValidator_ConditionalBranches(t *testing.T) {
	wv, err := NewWorkflowValidator(lookupFunc(func(st schema.StepType) bool {
		return st != schema.StepNotification
	}))
	require.NoError(t, err)

	wf := validWorkflow()
	wf.Steps = []schema.Step{{
		Name: "branch",
		Type: schema.StepConditional,
		Config: map[string]any{
			"trueStep":  map[string]any{"name": "notify", "type": "NOTIFICATION"},
			"falseStep": "not-a-step",
		},
	}}

	err = wv.ValidateWorkflow(wf)
	require.Error(t, err)
	violations := violationsOf(t, err)
	require.Len(t, violations, 3)
	assert.Contains(t, violations[0], "require a condition")
	assert.Contains(t, violations[1], "steps[0].config.trueStep.type")
	assert.Contains(t, violations[2], "steps[0].config.falseStep")
}

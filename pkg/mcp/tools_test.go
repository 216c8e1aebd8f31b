package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/trigger"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Store ---

type mockStore struct {
	store.WorkflowStore // embed for unimplemented methods
	store.ExecutionRecorder

	workflows  map[string]*schema.Workflow
	executions []*schema.WorkflowExecution
	lastFilter store.ExecutionFilter
}

func newMockStore(wfs ...*schema.Workflow) *mockStore {
	m := &mockStore{workflows: make(map[string]*schema.Workflow)}
	for _, wf := range wfs {
		m.workflows[wf.ID] = wf
	}
	return m
}

func (m *mockStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	if wf, ok := m.workflows[id]; ok {
		return wf, nil
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "workflow not found")
}

func (m *mockStore) GetExecution(_ context.Context, id string) (*schema.WorkflowExecution, error) {
	for _, e := range m.executions {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "execution not found")
}

func (m *mockStore) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	m.lastFilter = filter
	var out []*schema.WorkflowExecution
	for _, e := range m.executions {
		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// --- Mock collaborators ---

type mockRunner struct {
	result *engine.RunResult
	err    error
	gotID  string
	gotEC  schema.ExecutionContext
}

func (m *mockRunner) Run(_ context.Context, id string, ec schema.ExecutionContext) (*engine.RunResult, error) {
	m.gotID = id
	m.gotEC = ec
	return m.result, m.err
}

type mockRouter struct {
	ids     []string
	err     error
	gotType schema.TriggerType
	gotEv   trigger.Event
}

func (m *mockRouter) TriggerWorkflowsByEvent(_ context.Context, tt schema.TriggerType, ev trigger.Event) ([]string, error) {
	m.gotType = tt
	m.gotEv = ev
	return m.ids, m.err
}

type mockScheduler struct {
	scheduled map[string]bool
	err       error
}

func (m *mockScheduler) ScheduleWorkflow(_ context.Context, wf *schema.Workflow) error {
	if m.err != nil {
		return m.err
	}
	if m.scheduled == nil {
		m.scheduled = make(map[string]bool)
	}
	m.scheduled[wf.ID] = true
	return nil
}

func (m *mockScheduler) CancelSchedule(id string) bool {
	ok := m.scheduled[id]
	delete(m.scheduled, id)
	return ok
}

func (m *mockScheduler) Entries() []scheduler.Entry {
	var out []scheduler.Entry
	for id := range m.scheduled {
		out = append(out, scheduler.Entry{WorkflowID: id})
	}
	return out
}

// --- Helper ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// --- Tests ---

func TestRunTool(t *testing.T) {
	runner := &mockRunner{result: &engine.RunResult{
		ExecutionID: "e-1",
		WorkflowID:  "wf-1",
		Status:      schema.ExecutionCompleted,
		Message:     "workflow completed successfully (1 steps)",
	}}
	s := NewAutoflowServer(AutoflowServerDeps{Runner: runner})

	req := buildRequest("autoflow.run", map[string]any{
		"workflow_id": "wf-1",
		"data":        map[string]any{"env": "prod"},
		"user_id":     "u-9",
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.Equal(t, "wf-1", runner.gotID)
	assert.Equal(t, schema.SourceManual, runner.gotEC.Source)
	assert.Equal(t, "u-9", runner.gotEC.UserID)
	assert.Equal(t, "prod", runner.gotEC.Data["env"])

	var out engine.RunResult
	unmarshalResult(t, result, &out)
	assert.Equal(t, "e-1", out.ExecutionID)
	assert.Equal(t, schema.ExecutionCompleted, out.Status)
}

func TestRunToolFailedRunReturnsResult(t *testing.T) {
	runner := &mockRunner{
		result: &engine.RunResult{WorkflowID: "wf-1", Status: schema.ExecutionFailed, Error: "Step 1 (fetch) failed: boom"},
		err:    schema.NewError(schema.ErrCodeStepFailed, "Step 1 (fetch) failed: boom"),
	}
	s := NewAutoflowServer(AutoflowServerDeps{Runner: runner})

	result, err := s.handleRun(context.Background(), buildRequest("autoflow.run", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, "FAILED", out["status"])
	assert.Equal(t, "Step 1 (fetch) failed: boom", out["error"])
}

func TestRunToolErrors(t *testing.T) {
	s := NewAutoflowServer(AutoflowServerDeps{Runner: &mockRunner{err: schema.NewError(schema.ErrCodeNotFound, "gone")}})

	result, err := s.handleRun(context.Background(), buildRequest("autoflow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleRun(context.Background(), buildRequest("autoflow.run", map[string]any{"workflow_id": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "gone")

	unconfigured := NewAutoflowServer(AutoflowServerDeps{})
	result, err = unconfigured.handleRun(context.Background(), buildRequest("autoflow.run", map[string]any{"workflow_id": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestEventTool(t *testing.T) {
	router := &mockRouter{ids: []string{"a", "b"}}
	s := NewAutoflowServer(AutoflowServerDeps{Router: router})

	req := buildRequest("autoflow.event", map[string]any{
		"trigger_type": "FILE_EVENT",
		"event":        map[string]any{"eventType": "created", "filePath": "/tmp/x.txt"},
	})
	result, err := s.handleEvent(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.Equal(t, schema.TriggerFileEvent, router.gotType)
	assert.Equal(t, "/tmp/x.txt", router.gotEv["filePath"])

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, []any{"a", "b"}, out["triggered"])
	assert.NotContains(t, out, "error")
}

func TestEventToolPartialFailure(t *testing.T) {
	router := &mockRouter{ids: []string{"b"}, err: errors.New("pool is full")}
	s := NewAutoflowServer(AutoflowServerDeps{Router: router})

	result, err := s.handleEvent(context.Background(), buildRequest("autoflow.event", map[string]any{"trigger_type": "API"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, "pool is full", out["error"])

	router.ids = nil
	result, err = s.handleEvent(context.Background(), buildRequest("autoflow.event", map[string]any{"trigger_type": "API"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestScheduleAndUnscheduleTools(t *testing.T) {
	ms := newMockStore(&schema.Workflow{ID: "wf-s", TriggerType: schema.TriggerSchedule})
	sched := &mockScheduler{}
	s := NewAutoflowServer(AutoflowServerDeps{Scheduler: sched, Workflows: ms})

	result, err := s.handleSchedule(context.Background(), buildRequest("autoflow.schedule", map[string]any{"workflow_id": "wf-s"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.True(t, sched.scheduled["wf-s"])

	result, err = s.handleSchedule(context.Background(), buildRequest("autoflow.schedule", map[string]any{"workflow_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleUnschedule(context.Background(), buildRequest("autoflow.unschedule", map[string]any{"workflow_id": "wf-s"}))
	require.NoError(t, err)
	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, true, out["cancelled"])

	result, err = s.handleUnschedule(context.Background(), buildRequest("autoflow.unschedule", map[string]any{"workflow_id": "wf-s"}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Equal(t, false, out["cancelled"])
}

func TestScheduleToolConfigError(t *testing.T) {
	ms := newMockStore(&schema.Workflow{ID: "wf-s"})
	sched := &mockScheduler{err: schema.NewError(schema.ErrCodeConfiguration, "schedule type is required")}
	s := NewAutoflowServer(AutoflowServerDeps{Scheduler: sched, Workflows: ms})

	result, err := s.handleSchedule(context.Background(), buildRequest("autoflow.schedule", map[string]any{"workflow_id": "wf-s"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "schedule type is required")
}

func TestExecutionsTool(t *testing.T) {
	now := time.Now().UTC()
	ms := newMockStore()
	ms.executions = []*schema.WorkflowExecution{
		{ID: "e1", WorkflowID: "wf-1", Status: schema.ExecutionCompleted, StartTime: now},
		{ID: "e2", WorkflowID: "wf-1", Status: schema.ExecutionFailed, StartTime: now, Error: "Step 1 (x) failed: y"},
		{ID: "e3", WorkflowID: "wf-2", Status: schema.ExecutionRunning, StartTime: now},
	}
	s := NewAutoflowServer(AutoflowServerDeps{Executions: ms})

	result, err := s.handleExecutions(context.Background(), buildRequest("autoflow.executions", map[string]any{
		"workflow_id": "wf-1",
		"status":      "FAILED",
	}))
	require.NoError(t, err)
	var list struct {
		Executions []schema.WorkflowExecution `json:"executions"`
	}
	unmarshalResult(t, result, &list)
	require.Len(t, list.Executions, 1)
	assert.Equal(t, "e2", list.Executions[0].ID)
	assert.Equal(t, defaultExecutionLimit, ms.lastFilter.Limit)

	result, err = s.handleExecutions(context.Background(), buildRequest("autoflow.executions", map[string]any{"execution_id": "e3"}))
	require.NoError(t, err)
	var one schema.WorkflowExecution
	unmarshalResult(t, result, &one)
	assert.Equal(t, schema.ExecutionRunning, one.Status)

	result, err = s.handleExecutions(context.Background(), buildRequest("autoflow.executions", map[string]any{"execution_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleExecutions(context.Background(), buildRequest("autoflow.executions", map[string]any{"workflow_id": "none", "limit": float64(5)}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"executions":[]}`, extractText(t, result))
	assert.Equal(t, 5, ms.lastFilter.Limit)
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

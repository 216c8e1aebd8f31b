package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/trigger"
	"github.com/rendis/autoflow/pkg/schema"
)

const defaultExecutionLimit = 20

// handleRun runs a workflow synchronously. A failed run is still a tool
// success: the result carries status FAILED and the step error.
func (s *AutoflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.runner == nil {
		return mcp.NewToolResultError("workflow runner is not configured"), nil
	}

	ec := schema.ExecutionContext{
		Source: schema.SourceManual,
		UserID: req.GetString("user_id", ""),
		Data:   mcp.ParseStringMap(req, "data", nil),
	}

	result, runErr := s.runner.Run(ctx, workflowID, ec)
	if result == nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow run failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// handleEvent routes an event to matching workflows.
func (s *AutoflowServer) handleEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	triggerType, err := req.RequireString("trigger_type")
	if err != nil {
		return mcp.NewToolResultError("trigger_type is required"), nil
	}
	if s.router == nil {
		return mcp.NewToolResultError("event router is not configured"), nil
	}

	event := trigger.Event(mcp.ParseStringMap(req, "event", nil))
	ids, routeErr := s.router.TriggerWorkflowsByEvent(ctx, schema.TriggerType(triggerType), event)
	if ids == nil && routeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event routing failed: %v", routeErr)), nil
	}

	out := map[string]any{
		"trigger_type": triggerType,
		"triggered":    ids,
	}
	if routeErr != nil {
		out["error"] = routeErr.Error()
	}
	return marshalResult(out)
}

// handleSchedule loads a workflow and registers its schedule job.
func (s *AutoflowServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.scheduler == nil || s.workflows == nil {
		return mcp.NewToolResultError("scheduler is not configured"), nil
	}

	wf, getErr := s.workflows.GetWorkflow(ctx, workflowID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", getErr)), nil
	}
	if schedErr := s.scheduler.ScheduleWorkflow(ctx, wf); schedErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", schedErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":          true,
		"workflow_id": workflowID,
		"schedules":   s.scheduler.Entries(),
	})
}

// handleUnschedule removes a workflow's schedule job.
func (s *AutoflowServer) handleUnschedule(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduler is not configured"), nil
	}

	return marshalResult(map[string]any{
		"workflow_id": workflowID,
		"cancelled":   s.scheduler.CancelSchedule(workflowID),
	})
}

// handleExecutions returns one execution or a filtered list.
func (s *AutoflowServer) handleExecutions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.executions == nil {
		return mcp.NewToolResultError("execution store is not configured"), nil
	}

	if id := req.GetString("execution_id", ""); id != "" {
		exec, err := s.executions.GetExecution(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("execution lookup failed: %v", err)), nil
		}
		return marshalResult(exec)
	}

	limit := req.GetInt("limit", defaultExecutionLimit)
	if limit <= 0 {
		limit = defaultExecutionLimit
	}
	filter := store.ExecutionFilter{
		WorkflowID: req.GetString("workflow_id", ""),
		Status:     schema.ExecutionStatus(req.GetString("status", "")),
		Limit:      limit,
	}

	execs, err := s.executions.ListExecutions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution query failed: %v", err)), nil
	}
	if execs == nil {
		execs = []*schema.WorkflowExecution{}
	}
	return marshalResult(map[string]any{"executions": execs})
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// Package mcp exposes the workflow engine as MCP tools over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/internal/trigger"
	"github.com/rendis/autoflow/pkg/schema"
)

// EventRouter fans events out to matching workflows.
type EventRouter interface {
	TriggerWorkflowsByEvent(ctx context.Context, triggerType schema.TriggerType, event trigger.Event) ([]string, error)
}

// ScheduleManager registers and removes schedule jobs.
type ScheduleManager interface {
	ScheduleWorkflow(ctx context.Context, wf *schema.Workflow) error
	CancelSchedule(id string) bool
	Entries() []scheduler.Entry
}

// AutoflowServerDeps holds the dependencies for creating an AutoflowServer.
type AutoflowServerDeps struct {
	Runner     engine.Runner
	Router     EventRouter
	Scheduler  ScheduleManager
	Workflows  store.WorkflowStore
	Executions store.ExecutionRecorder
	Events     streaming.EventHub // optional; run events become MCP notifications
	Version    string
	Logger     *slog.Logger
}

// AutoflowServer wraps an MCP server with the workflow tool handlers.
type AutoflowServer struct {
	runner     engine.Runner
	router     EventRouter
	scheduler  ScheduleManager
	workflows  store.WorkflowStore
	executions store.ExecutionRecorder
	events     streaming.EventHub
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewAutoflowServer creates an AutoflowServer with all tools registered.
func NewAutoflowServer(deps AutoflowServerDeps) *AutoflowServer {
	s := &AutoflowServer{
		runner:     deps.Runner,
		router:     deps.Router,
		scheduler:  deps.Scheduler,
		workflows:  deps.Workflows,
		executions: deps.Executions,
		events:     deps.Events,
		logger:     logging.Or(deps.Logger),
	}

	version := deps.Version
	if version == "" {
		version = "dev"
	}

	mcpSrv := server.NewMCPServer(
		"autoflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Autoflow runs automation workflows. Use autoflow.run to start a workflow now, autoflow.event to deliver a file or API event to matching workflows, autoflow.schedule and autoflow.unschedule to manage schedule jobs, and autoflow.executions to inspect run records."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *AutoflowServer) Serve(ctx context.Context) error {
	if s.events != nil {
		stop, err := s.forwardEvents(ctx, s.mcpServer.SendNotificationToAllClients)
		if err != nil {
			return err
		}
		defer stop()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AutoflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *AutoflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: eventTool(), Handler: s.handleEvent},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: unscheduleTool(), Handler: s.handleUnschedule},
		{Tool: executionsTool(), Handler: s.handleExecutions},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("autoflow.run",
		mcp.WithDescription("Run a workflow now and wait for the result"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithObject("data", mcp.Description("Trigger data, available to steps as inputs")),
		mcp.WithString("user_id", mcp.Description("User the run acts for (default: workflow owner)")),
	)
}

func eventTool() mcp.Tool {
	return mcp.NewTool("autoflow.event",
		mcp.WithDescription("Deliver an event to every active workflow whose trigger matches"),
		mcp.WithString("trigger_type", mcp.Required(),
			mcp.Enum(string(schema.TriggerFileEvent), string(schema.TriggerAPI), string(schema.TriggerManual)),
			mcp.Description("Trigger type of the workflows to consider"),
		),
		mcp.WithObject("event", mcp.Description("Event payload: eventType, filePath, endpoint, method, ...")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("autoflow.schedule",
		mcp.WithDescription("Register or replace the schedule job of a SCHEDULE workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to schedule")),
	)
}

func unscheduleTool() mcp.Tool {
	return mcp.NewTool("autoflow.unschedule",
		mcp.WithDescription("Remove the schedule job of a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to unschedule")),
	)
}

func executionsTool() mcp.Tool {
	return mcp.NewTool("autoflow.executions",
		mcp.WithDescription("Get one execution record or list recent ones"),
		mcp.WithString("execution_id", mcp.Description("Return this execution only")),
		mcp.WithString("workflow_id", mcp.Description("Filter by workflow")),
		mcp.WithString("status", mcp.Enum("RUNNING", "COMPLETED", "FAILED"), mcp.Description("Filter by status")),
		mcp.WithNumber("limit", mcp.Description("Maximum records to return (default 20)")),
	)
}

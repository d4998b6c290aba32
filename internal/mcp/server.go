package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskproof/internal/core"
	"taskproof/internal/workflow"
)

// MCPServer exposes the task workflow as MCP tools.
type MCPServer struct {
	engine   *workflow.Engine
	logger   *slog.Logger
	location *time.Location
	server   *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(engine *workflow.Engine, logger *slog.Logger, location *time.Location) *MCPServer {
	if location == nil {
		location = time.Local
	}
	s := &MCPServer{
		engine:   engine,
		logger:   logger,
		location: location,
		server: server.NewMCPServer(
			"taskproof",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// HTTPHandler returns a streamable HTTP transport for mounting at /mcp.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func (s *MCPServer) registerTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("task_create",
				mcp.WithDescription("Schedule a task that must be proven done with a photo. The alarm starts at start_time and keeps going until a photo passes verification."),
				mcp.WithString("name", mcp.Required(), mcp.Description("Task name, 1-100 characters")),
				mcp.WithString("start_time", mcp.Required(), mcp.Description("Start time as HH:MM, 24-hour")),
				mcp.WithNumber("duration_minutes", mcp.Required(), mcp.Description("Expected duration in minutes"), mcp.Min(core.MinDurationMinutes), mcp.Max(core.MaxDurationMinutes)),
				mcp.WithNumber("alert_gap_minutes", mcp.Description("Minutes between push escalations, default 5"), mcp.Min(core.MinAlertGapMinutes), mcp.Max(core.MaxAlertGapMinutes)),
				mcp.WithString("verification_instructions", mcp.Required(), mcp.Description("What the photo must show, 10-500 characters")),
			),
			Handler: s.handleCreateTask,
		},
		{
			Tool: mcp.NewTool("task_list",
				mcp.WithDescription("List scheduled tasks ordered by start time"),
				mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("pending", "active", "completed")),
			),
			Handler: s.handleListTasks,
		},
		{
			Tool: mcp.NewTool("task_get",
				mcp.WithDescription("Show one task"),
				mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
			),
			Handler: s.handleGetTask,
		},
		{
			Tool: mcp.NewTool("task_delete",
				mcp.WithDescription("Delete a task with its verification history and stop its alarm"),
				mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
			),
			Handler: s.handleDeleteTask,
		},
		{
			Tool: mcp.NewTool("task_submit_evidence",
				mcp.WithDescription("Submit a photo for an active task. Pass either image_base64 or image_path."),
				mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
				mcp.WithString("image_base64", mcp.Description("Image bytes, base64 encoded")),
				mcp.WithString("image_path", mcp.Description("Path of an image file readable by the server")),
			),
			Handler: s.handleSubmitEvidence,
		},
		{
			Tool: mcp.NewTool("task_attempts",
				mcp.WithDescription("Show a task's verification attempts, newest first"),
				mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
				mcp.WithNumber("limit", mcp.Description("Number of attempts to return, default 20"), mcp.Min(1), mcp.Max(100)),
			),
			Handler: s.handleListAttempts,
		},
		{
			Tool: mcp.NewTool("task_status",
				mcp.WithDescription("Summarize tasks and running alarms"),
			),
			Handler: s.handleStatus,
		},
	}
	s.server.AddTools(tools...)
	s.logger.Debug("MCP tools registered", "count", len(tools))
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := s.engine.CreateTask(ctx, core.TaskInput{
		Name:            mcp.ParseString(request, "name", ""),
		StartTime:       mcp.ParseString(request, "start_time", ""),
		DurationMinutes: int(mcp.ParseFloat64(request, "duration_minutes", 0)),
		AlertGapMinutes: int(mcp.ParseFloat64(request, "alert_gap_minutes", core.DefaultAlertGapMinutes)),
		Instructions:    mcp.ParseString(request, "verification_instructions", ""),
	})
	if err != nil {
		return toolError("create task", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task created\nID: %s\nStarts: %s\n", task.ID, task.StartTime)), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var statusFilter *core.TaskStatus
	if raw := mcp.ParseString(request, "status", ""); raw != "" {
		status := core.TaskStatus(raw)
		if !status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", raw)), nil
		}
		statusFilter = &status
	}
	tasks, err := s.engine.ListTasks(ctx, statusFilter)
	if err != nil {
		return toolError("list tasks", err), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %s  %s  %s\n", statusIcon(t.Status), t.StartTime, t.ID, t.Name)
		fmt.Fprintf(&b, "  Proof: %s\n\n", truncateString(t.Instructions, 60))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := s.engine.GetTask(ctx, mcp.ParseString(request, "task_id", ""))
	if err != nil {
		return toolError("get task", err), nil
	}
	return mcp.NewToolResultText(s.describeTask(task)), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.engine.DeleteTask(ctx, taskID); err != nil {
		return toolError("delete task", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task deleted: %s", taskID)), nil
}

func (s *MCPServer) handleSubmitEvidence(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	image, err := readImageArgument(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.engine.SubmitEvidence(ctx, taskID, image)
	if err != nil {
		return toolError("verify task", err), nil
	}
	verdict := "FAILED"
	if result.Judgment.Success {
		verdict = "PASSED"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Verification %s (confidence %.2f)\nTask status: %s\nReasoning: %s\nAttempt: %s",
		verdict,
		result.Judgment.Confidence,
		result.TaskStatus,
		result.Judgment.Reasoning,
		result.Attempt.ID,
	)), nil
}

func (s *MCPServer) handleListAttempts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))
	attempts, err := s.engine.ListAttempts(ctx, taskID, limit, 0)
	if err != nil {
		return toolError("list attempts", err), nil
	}
	if len(attempts) == 0 {
		return mcp.NewToolResultText("No verification attempts yet"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Attempts for %s (%d):\n\n", taskID, len(attempts))
	for _, a := range attempts {
		icon := "❌"
		if a.Success {
			icon = "✅"
		}
		fmt.Fprintf(&b, "%s %s  confidence %.2f  %s\n", icon, formatTime(a.CreatedAt.In(s.location)), a.Confidence, a.ID)
		fmt.Fprintf(&b, "  %s\n", truncateString(a.Reasoning, 120))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := s.engine.Status(ctx)
	if err != nil {
		return toolError("load status", err), nil
	}
	oracleState := "mock"
	if summary.OracleConfigured {
		oracleState = "configured"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Current time: %s\nTasks: %d total, %d pending, %d active, %d completed\nActive alarms: %d\nOracle: %s",
		summary.CurrentTime, summary.Total, summary.Pending, summary.Active, summary.Completed,
		len(summary.ActiveAlarms), oracleState,
	)), nil
}

func (s *MCPServer) describeTask(task *core.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task ID: %s\n", task.ID)
	fmt.Fprintf(&b, "Name: %s\n", task.Name)
	fmt.Fprintf(&b, "Status: %s %s\n", statusIcon(task.Status), task.Status)
	fmt.Fprintf(&b, "Start: %s for %d minutes\n", task.StartTime, task.DurationMinutes)
	fmt.Fprintf(&b, "Alert gap: %d minutes\n", task.AlertGapMinutes)
	fmt.Fprintf(&b, "Proof: %s\n", task.Instructions)
	fmt.Fprintf(&b, "Created: %s\n", formatTime(task.CreatedAt.In(s.location)))
	if task.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", formatTime(task.CompletedAt.In(s.location)))
	}
	return b.String()
}

func readImageArgument(request mcp.CallToolRequest) ([]byte, error) {
	encoded := strings.TrimSpace(mcp.ParseString(request, "image_base64", ""))
	path := strings.TrimSpace(mcp.ParseString(request, "image_path", ""))
	switch {
	case encoded != "" && path != "":
		return nil, errors.New("pass either image_base64 or image_path, not both")
	case encoded != "":
		if _, data, ok := strings.Cut(encoded, ";base64,"); ok {
			encoded = data
		}
		image, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode image_base64: %w", err)
		}
		return image, nil
	case path != "":
		image, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image_path: %w", err)
		}
		return image, nil
	default:
		return nil, errors.New("image_base64 or image_path is required")
	}
}

func toolError(op string, err error) *mcp.CallToolResult {
	var verrs core.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, core.ErrTaskNotFound):
		return mcp.NewToolResultError("task not found")
	case errors.Is(err, workflow.ErrTaskNotActive), errors.Is(err, workflow.ErrJudgeInProgress):
		return mcp.NewToolResultError(err.Error())
	default:
		return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", op, err))
	}
}

func statusIcon(status core.TaskStatus) string {
	switch status {
	case core.TaskStatusActive:
		return "🚨"
	case core.TaskStatusCompleted:
		return "✅"
	default:
		return "⏳"
	}
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

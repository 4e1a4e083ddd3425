// Package mcp exposes the orchestrator as MCP tools over stdio, so an
// agent operator can drive the approval loop programmatically.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/forja-io/forja/internal/engine"
)

// ForjaServerDeps holds the dependencies for creating a ForjaServer.
type ForjaServerDeps struct {
	Orchestrator *engine.Orchestrator
	Logger       *slog.Logger
}

// ForjaServer wraps an MCP server with forja-specific tool handlers.
type ForjaServer struct {
	orchestrator *engine.Orchestrator
	logger       *slog.Logger
	mcpServer    *server.MCPServer
}

// NewForjaServer creates a ForjaServer with all 6 tools registered.
func NewForjaServer(deps ForjaServerDeps) *ForjaServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ForjaServer{
		orchestrator: deps.Orchestrator,
		logger:       logger,
	}

	mcpSrv := server.NewMCPServer(
		"forja",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Forja orchestrates a human-gated six-step design pipeline. Use forja.create_run to start from a brief, forja.status to inspect a run, forja.approve/forja.reject to gate each step, forja.logs for execution history, and forja.export to collect the final artifacts."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ForjaServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ForjaServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *ForjaServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: createRunTool(), Handler: s.handleCreateRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: approveTool(), Handler: s.handleApprove},
		{Tool: rejectTool(), Handler: s.handleReject},
		{Tool: exportTool(), Handler: s.handleExport},
		{Tool: logsTool(), Handler: s.handleLogs},
	}
}

// --- Tool definitions ---

func createRunTool() mcp.Tool {
	return mcp.NewTool("forja.create_run",
		mcp.WithDescription("Start a new pipeline run from a business brief"),
		mcp.WithString("brief", mcp.Required(), mcp.Description("Business brief (at least 30 characters)")),
		mcp.WithString("domain", mcp.Description("Business domain of the brief")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("forja.status",
		mcp.WithDescription("Get the current status of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func approveTool() mcp.Tool {
	return mcp.NewTool("forja.approve",
		mcp.WithDescription("Approve the artifact the run is waiting on, advancing to the next step"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the waiting run")),
	)
}

func rejectTool() mcp.Tool {
	return mcp.NewTool("forja.reject",
		mcp.WithDescription("Reject the artifact the run is waiting on, sending it back with feedback"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the waiting run")),
		mcp.WithString("feedback", mcp.Required(), mcp.Description("What to correct (at least 3 characters)")),
	)
}

func exportTool() mcp.Tool {
	return mcp.NewTool("forja.export",
		mcp.WithDescription("Export the latest version of every artifact a run has produced"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to export")),
	)
}

func logsTool() mcp.Tool {
	return mcp.NewTool("forja.logs",
		mcp.WithDescription("Get the execution log lines of one pipeline step"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithNumber("step", mcp.Required(), mcp.Description("Pipeline step ordinal (1-6)")),
	)
}

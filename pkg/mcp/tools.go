package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleCreateRun starts a new pipeline run from a brief.
func (s *ForjaServer) handleCreateRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	brief, err := req.RequireString("brief")
	if err != nil {
		return mcp.NewToolResultError("brief is required"), nil
	}
	domain := req.GetString("domain", "")

	snap, runErr := s.orchestrator.CreateRun(ctx, domain, brief)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create run failed: %v", runErr)), nil
	}
	return marshalResult(snap)
}

// handleStatus returns the current snapshot of a run.
func (s *ForjaServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	snap, statusErr := s.orchestrator.GetRun(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(snap)
}

// handleApprove gates the waiting step forward.
func (s *ForjaServer) handleApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	snap, approveErr := s.orchestrator.Approve(ctx, runID)
	if approveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("approve failed: %v", approveErr)), nil
	}
	return marshalResult(snap)
}

// handleReject sends the waiting step back with feedback.
func (s *ForjaServer) handleReject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	feedback, err := req.RequireString("feedback")
	if err != nil {
		return mcp.NewToolResultError("feedback is required"), nil
	}

	snap, rejectErr := s.orchestrator.Reject(ctx, runID, feedback)
	if rejectErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reject failed: %v", rejectErr)), nil
	}
	return marshalResult(snap)
}

// handleExport bundles the latest version of every produced artifact.
func (s *ForjaServer) handleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	export, exportErr := s.orchestrator.ExportAll(ctx, runID)
	if exportErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", exportErr)), nil
	}
	return marshalResult(export)
}

// handleLogs returns the execution log lines of one step.
func (s *ForjaServer) handleLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	step, err := req.RequireInt("step")
	if err != nil {
		return mcp.NewToolResultError("step is required"), nil
	}

	logs, logsErr := s.orchestrator.GetLogs(ctx, runID, step)
	if logsErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("logs query failed: %v", logsErr)), nil
	}
	return marshalResult(map[string]any{"run_id": runID, "step": step, "logs": logs})
}

// marshalResult renders a value as a JSON tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

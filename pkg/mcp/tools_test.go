package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forja-io/forja/internal/engine"
	"github.com/forja-io/forja/internal/pipeline"
	"github.com/forja-io/forja/internal/store"
	"github.com/forja-io/forja/internal/streaming"
	"github.com/forja-io/forja/internal/trigger"
	"github.com/forja-io/forja/pkg/schema"
)

const testBrief = "Design an appointment scheduling service for veterinary clinics."

type noopGateway struct{}

func (noopGateway) Trigger(context.Context, string, trigger.Request) (*trigger.Response, error) {
	return &trigger.Response{StatusCode: 200}, nil
}

func newTestForjaServer(t *testing.T) (*ForjaServer, *engine.Orchestrator) {
	t.Helper()

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "forja.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	orch := engine.NewOrchestrator(engine.Options{
		Store:        st,
		Pipeline:     pipeline.New(nil),
		Gateway:      noopGateway{},
		Hub:          streaming.NewMemoryHub(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		WaitTimeout:  200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})
	return NewForjaServer(ForjaServerDeps{Orchestrator: orch}), orch
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError)
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	return decoded
}

func TestCreateRunTool(t *testing.T) {
	s, _ := newTestForjaServer(t)

	result, err := s.handleCreateRun(context.Background(), buildRequest("forja.create_run", map[string]any{
		"brief":  testBrief,
		"domain": "healthcare",
	}))
	require.NoError(t, err)

	decoded := resultJSON(t, result)
	assert.Equal(t, "in_progress", decoded["status"])
	assert.Equal(t, float64(1), decoded["current_step"])
	assert.NotEmpty(t, decoded["id"])
}

func TestCreateRunTool_MissingBrief(t *testing.T) {
	s, _ := newTestForjaServer(t)

	result, err := s.handleCreateRun(context.Background(), buildRequest("forja.create_run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCreateRunTool_ShortBrief(t *testing.T) {
	s, _ := newTestForjaServer(t)

	result, err := s.handleCreateRun(context.Background(), buildRequest("forja.create_run", map[string]any{
		"brief": "too short",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	s, orch := newTestForjaServer(t)
	snap, err := orch.CreateRun(context.Background(), "healthcare", testBrief)
	require.NoError(t, err)

	result, err := s.handleStatus(context.Background(), buildRequest("forja.status", map[string]any{
		"run_id": snap.ID,
	}))
	require.NoError(t, err)

	decoded := resultJSON(t, result)
	assert.Equal(t, snap.ID, decoded["id"])
	assert.Equal(t, "requirements", decoded["current_step_slug"])
}

func TestStatusTool_NotFound(t *testing.T) {
	s, _ := newTestForjaServer(t)

	result, err := s.handleStatus(context.Background(), buildRequest("forja.status", map[string]any{
		"run_id": "RUN_MISSING",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestApproveRejectTools(t *testing.T) {
	s, orch := newTestForjaServer(t)
	ctx := context.Background()

	snap, err := orch.CreateRun(ctx, "healthcare", testBrief)
	require.NoError(t, err)

	// Approving before the artifact arrives fails.
	result, err := s.handleApprove(ctx, buildRequest("forja.approve", map[string]any{"run_id": snap.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	_, err = orch.HandleCallback(ctx, "requirements", &schema.CallbackPayload{
		RunID:   snap.ID,
		Content: map[string]any{"artifact": map[string]any{"scope": "clinics"}},
	})
	require.NoError(t, err)

	result, err = s.handleReject(ctx, buildRequest("forja.reject", map[string]any{
		"run_id":   snap.ID,
		"feedback": "missing the reminders flow",
	}))
	require.NoError(t, err)
	decoded := resultJSON(t, result)
	assert.Equal(t, "retrying", decoded["status"])

	_, err = orch.HandleCallback(ctx, "requirements", &schema.CallbackPayload{
		RunID:   snap.ID,
		Content: map[string]any{"artifact": map[string]any{"scope": "clinics", "reminders": true}},
	})
	require.NoError(t, err)

	result, err = s.handleApprove(ctx, buildRequest("forja.approve", map[string]any{"run_id": snap.ID}))
	require.NoError(t, err)
	decoded = resultJSON(t, result)
	assert.Equal(t, "in_progress", decoded["status"])
	assert.Equal(t, float64(2), decoded["current_step"])
}

func TestExportTool(t *testing.T) {
	s, orch := newTestForjaServer(t)
	ctx := context.Background()

	snap, err := orch.CreateRun(ctx, "healthcare", testBrief)
	require.NoError(t, err)
	_, err = orch.HandleCallback(ctx, "requirements", &schema.CallbackPayload{
		RunID:   snap.ID,
		Content: map[string]any{"artifact": map[string]any{"scope": "clinics"}},
	})
	require.NoError(t, err)

	result, err := s.handleExport(ctx, buildRequest("forja.export", map[string]any{"run_id": snap.ID}))
	require.NoError(t, err)
	decoded := resultJSON(t, result)
	assert.NotEmpty(t, decoded["exported_at"])
	artifacts := decoded["artifacts"].([]any)
	require.Len(t, artifacts, 1)
	entry := artifacts[0].(map[string]any)
	assert.Equal(t, "requirements", entry["artifact_type"])
	assert.Equal(t, map[string]any{"scope": "clinics"}, entry["artifact"])
}

func TestLogsTool(t *testing.T) {
	s, orch := newTestForjaServer(t)
	ctx := context.Background()

	snap, err := orch.CreateRun(ctx, "healthcare", testBrief)
	require.NoError(t, err)

	result, err := s.handleLogs(ctx, buildRequest("forja.logs", map[string]any{
		"run_id": snap.ID,
		"step":   1,
	}))
	require.NoError(t, err)
	decoded := resultJSON(t, result)
	logs := decoded["logs"].([]any)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0], "[attempt 1]")
}

func TestToolRegistration(t *testing.T) {
	s, _ := newTestForjaServer(t)
	require.NotNil(t, s.MCPServer())
	assert.Len(t, s.tools(), 6)
}

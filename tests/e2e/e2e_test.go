// End-to-end tests: a real HTTP API server, a real trigger gateway, and
// a fake generation engine that answers webhooks the way n8n workflows
// do, either asynchronously via the callback URL or synchronously in
// the webhook response.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forja-io/forja/internal/api"
	"github.com/forja-io/forja/internal/engine"
	"github.com/forja-io/forja/internal/pipeline"
	"github.com/forja-io/forja/internal/store"
	"github.com/forja-io/forja/internal/streaming"
	"github.com/forja-io/forja/internal/trigger"
	"github.com/forja-io/forja/internal/validation"
)

const testBrief = "Design an online marketplace for local artisans with escrow payments and dispute resolution."

// capturedTrigger is the decoded body of one webhook delivery.
type capturedTrigger struct {
	RunID       string         `json:"run_id"`
	Context     map[string]any `json:"context"`
	IsFeedback  bool           `json:"is_feedback"`
	Feedback    string         `json:"feedback"`
	CallbackURL string         `json:"callback_url"`
	Slug        string         `json:"-"`
}

// fakeEngine stands in for the n8n instance. In async mode it accepts
// the trigger and POSTs the artifact back to the callback URL a moment
// later; in sync mode it answers the webhook with the artifact inline.
type fakeEngine struct {
	t    *testing.T
	sync bool

	mu       sync.Mutex
	triggers []capturedTrigger
	server   *httptest.Server
}

func newFakeEngine(t *testing.T, syncMode bool) *fakeEngine {
	e := &fakeEngine{t: t, sync: syncMode}
	e.server = httptest.NewServer(http.HandlerFunc(e.handle))
	t.Cleanup(e.server.Close)
	return e
}

func (e *fakeEngine) handle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	require.NoError(e.t, err)

	var tr capturedTrigger
	require.NoError(e.t, json.Unmarshal(raw, &tr))
	tr.Slug = tr.CallbackURL[strings.LastIndex(tr.CallbackURL, "/")+1:]

	e.mu.Lock()
	e.triggers = append(e.triggers, tr)
	e.mu.Unlock()

	if e.sync {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"body": []any{map[string]any{"json": artifactFor(tr.Slug)}},
		})
		return
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		payload, _ := json.Marshal(map[string]any{
			"run_id":  tr.RunID,
			"content": artifactFor(tr.Slug),
		})
		resp, err := http.Post(tr.CallbackURL, "application/json", bytes.NewReader(payload))
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"message": "Workflow was started"})
}

// waitTrigger blocks until the engine has seen a trigger for the slug,
// returning the most recent one.
func (e *fakeEngine) waitTrigger(t *testing.T, slug string) capturedTrigger {
	t.Helper()
	var found capturedTrigger
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i := len(e.triggers) - 1; i >= 0; i-- {
			if e.triggers[i].Slug == slug {
				found = e.triggers[i]
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "engine never saw a trigger for %s", slug)
	return found
}

func artifactFor(slug string) map[string]any {
	return map[string]any{
		"artifact": map[string]any{
			"paso":      slug,
			"secciones": []any{"alcance", "objetivos"},
		},
		"justification": "Generated artifact for " + slug,
	}
}

// newHarness wires a full server stack against the given engine URL and
// returns the API base URL. The API server is created after its own
// httptest listener so callbacks can point back at it.
func newHarness(t *testing.T, engineURL string) string {
	t.Helper()

	var handler atomic.Value
	apiTS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Load().(http.Handler).ServeHTTP(w, r)
	}))
	t.Cleanup(apiTS.Close)

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "forja.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(t.Context()))
	t.Cleanup(func() { _ = st.Close() })

	validator, err := validation.NewArtifactValidator()
	require.NoError(t, err)

	hub := streaming.NewMemoryHub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orch := engine.NewOrchestrator(engine.Options{
		Store:           st,
		Pipeline:        pipeline.New(pipeline.OverridesForEngine(engineURL)),
		Gateway:         trigger.NewHTTPGateway(trigger.Config{Timeout: 2 * time.Second}),
		Hub:             hub,
		Validator:       validator,
		Logger:          logger,
		CallbackBaseURL: apiTS.URL,
		WaitTimeout:     2 * time.Second,
		PollInterval:    20 * time.Millisecond,
	})

	srv := api.NewServer("127.0.0.1:0", api.Deps{
		Orchestrator: orch,
		Hub:          hub,
		Validator:    validator,
		Logger:       logger,
	})
	handler.Store(srv.Handler())
	return apiTS.URL
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func createRun(t *testing.T, base string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/runs", map[string]any{
		"domain": "marketplace",
		"brief":  testBrief,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func waitStatus(t *testing.T, base, runID, status string) map[string]any {
	t.Helper()
	var snap map[string]any
	require.Eventually(t, func() bool {
		resp, body := doJSON(t, http.MethodGet, base+"/runs/"+runID, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		snap = body
		return body["status"] == status
	}, 5*time.Second, 25*time.Millisecond, "run %s never reached %s", runID, status)
	return snap
}

func TestFullPipeline_AsyncEngine(t *testing.T) {
	eng := newFakeEngine(t, false)
	base := newHarness(t, eng.server.URL)

	id := createRun(t, base)
	slugs := []string{"requirements", "inception", "agile", "diagramacion", "pseudocodigo", "qa"}

	for i, slug := range slugs {
		tr := eng.waitTrigger(t, slug)
		assert.Equal(t, id, tr.RunID)
		assert.False(t, tr.IsFeedback)
		assert.Contains(t, tr.CallbackURL, base+"/callbacks/agent/"+slug)

		snap := waitStatus(t, base, id, "waiting_approval")
		assert.Equal(t, float64(i+1), snap["current_step"])

		resp, body := doJSON(t, http.MethodPost, base+"/runs/"+id+"/approve", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		if i == len(slugs)-1 {
			assert.Equal(t, "completed", body["status"])
		} else {
			assert.Equal(t, "in_progress", body["status"])
			assert.Equal(t, float64(i+2), body["current_step"])
		}
	}

	// Context composition deepens along the pipeline.
	reqTrigger := eng.waitTrigger(t, "requirements")
	assert.Contains(t, reqTrigger.Context, "brief")
	assert.NotContains(t, reqTrigger.Context, "requirements")

	incTrigger := eng.waitTrigger(t, "inception")
	assert.Contains(t, incTrigger.Context, "brief")
	assert.Contains(t, incTrigger.Context, "requirements")

	qaTrigger := eng.waitTrigger(t, "qa")
	for _, key := range []string{"requirements", "inception", "agile", "diagramacion", "pseudocodigo"} {
		assert.Contains(t, qaTrigger.Context, key)
	}

	resp, body := doJSON(t, http.MethodGet, base+"/runs/"+id+"/artifacts/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.NotEmpty(t, body["exported_at"])
	artifacts := body["artifacts"].([]any)
	require.Len(t, artifacts, 6)
	for i, raw := range artifacts {
		entry := raw.(map[string]any)
		assert.Equal(t, slugs[i], entry["artifact_type"])
		assert.Equal(t, float64(1), entry["version"])
		assert.Contains(t, entry, "artifact")
		assert.NotContains(t, entry, "content")
	}
}

func TestFeedbackLoop_AsyncEngine(t *testing.T) {
	eng := newFakeEngine(t, false)
	base := newHarness(t, eng.server.URL)

	id := createRun(t, base)
	waitStatus(t, base, id, "waiting_approval")

	feedback := "Agrega una seccion de seguridad y cumplimiento."
	resp, body := doJSON(t, http.MethodPost, base+"/runs/"+id+"/reject", map[string]any{"feedback": feedback})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "retrying", body["status"])

	var retry capturedTrigger
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		for _, tr := range eng.triggers {
			if tr.IsFeedback {
				retry = tr
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "requirements", retry.Slug)
	assert.Equal(t, feedback, retry.Feedback)
	assert.Contains(t, retry.Context, "feedback")
	assert.Contains(t, retry.Context, "base")

	waitStatus(t, base, id, "waiting_approval")
	resp, body = doJSON(t, http.MethodGet, base+"/runs/"+id+"/artifacts/latest?artifact_type=requirements", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["version"])
}

func TestSynchronousEngineResponse(t *testing.T) {
	eng := newFakeEngine(t, true)
	base := newHarness(t, eng.server.URL)

	id := createRun(t, base)
	waitStatus(t, base, id, "waiting_approval")

	resp, body := doJSON(t, http.MethodGet, base+"/api/chat/logs?step=1&uuid="+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	joined := fmt.Sprintf("%v", body["logs"])
	assert.Contains(t, joined, "Engine accepted trigger")
}

func TestEngineUnreachable_RunStaysInProgress(t *testing.T) {
	base := newHarness(t, "http://127.0.0.1:1")

	id := createRun(t, base)

	require.Eventually(t, func() bool {
		resp, body := doJSON(t, http.MethodGet, base+"/api/chat/logs?step=1&uuid="+id, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return strings.Contains(fmt.Sprintf("%v", body["logs"]), "Trigger failed")
	}, 5*time.Second, 50*time.Millisecond)

	resp, body := doJSON(t, http.MethodGet, base+"/runs/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in_progress", body["status"])
	assert.Equal(t, float64(1), body["current_step"])
}

func TestChatDrivenFlow_SyncEngine(t *testing.T) {
	eng := newFakeEngine(t, true)
	base := newHarness(t, eng.server.URL)

	resp, body := doJSON(t, http.MethodPost, base+"/api/chat/step", map[string]any{
		"step":    1,
		"context": testBrief,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := body["uuid"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, true, body["artifact_ready"])
	assert.Contains(t, body["message"], "Requirements Agent v1")

	// Posting the next step while waiting is an implicit approval.
	resp, body = doJSON(t, http.MethodPost, base+"/api/chat/step", map[string]any{
		"step": 2,
		"uuid": id,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["artifact_ready"])
	assert.Contains(t, body["message"], "Inception Agent v1")

	tr := eng.waitTrigger(t, "inception")
	assert.Contains(t, tr.Context, "requirements")
}

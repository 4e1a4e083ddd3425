package api

import (
	"io"
	"net/http"

	"github.com/forja-io/forja/internal/callback"
	"github.com/forja-io/forja/internal/engine"
	"github.com/forja-io/forja/internal/store"
	"github.com/forja-io/forja/pkg/schema"
)

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Domain string `json:"domain"`
		Brief  string `json:"brief"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	snap, err := s.deps.Orchestrator.CreateRun(r.Context(), body.Domain, body.Brief)
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status: schema.RunStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
	}
	snaps, err := s.deps.Orchestrator.ListRuns(r.Context(), filter)
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": snaps})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Orchestrator.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Orchestrator.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Feedback string `json:"feedback"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	snap, err := s.deps.Orchestrator.Reject(r.Context(), r.PathValue("id"), body.Feedback)
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLatestArtifact(w http.ResponseWriter, r *http.Request) {
	artifactType := r.URL.Query().Get("artifact_type")
	if artifactType == "" {
		writeError(w, http.StatusUnprocessableEntity, "artifact_type query parameter is required")
		return
	}

	artifact, err := s.deps.Orchestrator.LatestArtifact(r.Context(), r.PathValue("id"), artifactType)
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := s.deps.Orchestrator.ExportAll(r.Context(), r.PathValue("id"))
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) handleManualArtifact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ArtifactType string         `json:"artifact_type"`
		Content      map[string]any `json:"content"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	artifact, err := s.deps.Orchestrator.PutManualArtifact(r.Context(), r.PathValue("id"), body.ArtifactType, body.Content)
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func (s *Server) handlePostStep(w http.ResponseWriter, r *http.Request) {
	var req engine.StepRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.deps.Orchestrator.PostStep(r.Context(), req)
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChatLogs(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("uuid")
	step := queryInt(r, "step", 0)

	logs, err := s.deps.Orchestrator.GetLogs(r.Context(), runID, step)
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleChatArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("uuid")
	step := queryInt(r, "step", 0)

	entries, err := s.deps.Orchestrator.GetArtifacts(r.Context(), runID, step)
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": entries})
}

func (s *Server) handleChatDownload(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("uuid")
	step := queryInt(r, "step", 0)
	id := queryInt64(r, "id")
	jqExpr := r.URL.Query().Get("query")

	doc, err := s.deps.Orchestrator.GetArtifactDownload(r.Context(), runID, step, id, jqExpr)
	if err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "failed to read callback body")
		return
	}

	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidateEnvelope(raw); err != nil {
			writeForjaError(w, err)
			return
		}
	}

	payload, err := callback.Normalize(raw)
	if err != nil {
		writeForjaError(w, err)
		return
	}

	if _, err := s.deps.Orchestrator.HandleCallback(r.Context(), slug, payload); err != nil {
		writeForjaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	steps := s.deps.Orchestrator.Steps()
	agents := make([]map[string]any, len(steps))
	for i, step := range steps {
		agents[i] = map[string]any{
			"step":          step.Ordinal,
			"slug":          step.Slug,
			"name":          step.Name,
			"artifact_type": step.ArtifactType,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// Package engine holds the run state machine and the orchestrator that
// drives runs through the pipeline: creation, callback ingestion,
// approval gating, and rejection retries. All mutating operations on a
// run are serialized by a per-run lock; outbound webhook triggers run as
// detached goroutines so callers never block on the engine.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/forja-io/forja/internal/callback"
	"github.com/forja-io/forja/internal/diagram"
	"github.com/forja-io/forja/internal/logging"
	"github.com/forja-io/forja/internal/pipeline"
	"github.com/forja-io/forja/internal/query"
	"github.com/forja-io/forja/internal/store"
	"github.com/forja-io/forja/internal/streaming"
	"github.com/forja-io/forja/internal/trigger"
	"github.com/forja-io/forja/internal/validation"
	"github.com/forja-io/forja/pkg/schema"
)

const (
	defaultDomain       = "general"
	defaultWaitTimeout  = 60 * time.Second
	defaultPollInterval = 2 * time.Second
)

// Options configures an Orchestrator.
type Options struct {
	Store           store.Store
	Pipeline        *pipeline.Pipeline
	Gateway         trigger.Gateway
	Hub             streaming.EventHub
	Validator       *validation.ArtifactValidator
	Logger          *slog.Logger
	CallbackBaseURL string
	WaitTimeout     time.Duration
	PollInterval    time.Duration
}

// Orchestrator coordinates run lifecycle operations.
type Orchestrator struct {
	store     store.Store
	pipeline  *pipeline.Pipeline
	gateway   trigger.Gateway
	hub       streaming.EventHub
	validator *validation.ArtifactValidator
	projector *query.Engine
	logger    *slog.Logger
	locks     *runLocks

	callbackBaseURL string
	waitTimeout     time.Duration
	pollInterval    time.Duration
}

// NewOrchestrator wires an orchestrator from its dependencies.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Orchestrator{
		store:           opts.Store,
		pipeline:        opts.Pipeline,
		gateway:         opts.Gateway,
		hub:             opts.Hub,
		validator:       opts.Validator,
		projector:       query.NewEngine(),
		logger:          opts.Logger,
		locks:           newRunLocks(),
		callbackBaseURL: strings.TrimRight(opts.CallbackBaseURL, "/"),
		waitTimeout:     opts.WaitTimeout,
		pollInterval:    opts.PollInterval,
	}
}

// RunSnapshot is the read model returned by orchestrator operations.
type RunSnapshot struct {
	ID              string           `json:"id"`
	Domain          string           `json:"domain"`
	Status          schema.RunStatus `json:"status"`
	CurrentStep     int              `json:"current_step"`
	CurrentStepSlug string           `json:"current_step_slug,omitempty"`
	CurrentStepName string           `json:"current_step_name,omitempty"`
	WaitingForUser  bool             `json:"waiting_for_user"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ExportArtifact is one entry of a full-run export: the latest version
// of one artifact type, with the inner artifact document unwrapped.
type ExportArtifact struct {
	Step         int       `json:"step"`
	ArtifactType string    `json:"artifact_type"`
	Name         string    `json:"name"`
	Version      int       `json:"version"`
	Artifact     any       `json:"artifact"`
	CreatedAt    time.Time `json:"created_at"`
}

// Export is the full-run export envelope: the latest version of every
// produced artifact type, in pipeline order.
type Export struct {
	RunID       string           `json:"run_id"`
	Domain      string           `json:"domain"`
	Status      schema.RunStatus `json:"status"`
	CurrentStep int              `json:"current_step"`
	ExportedAt  time.Time        `json:"exported_at"`
	Artifacts   []ExportArtifact `json:"artifacts"`
}

// ArtifactEntry is a list item in the per-step artifact history.
type ArtifactEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CreateRun validates the brief, persists a new run at step 1, and
// fires the first trigger. The snapshot is returned immediately; the
// artifact arrives later via callback.
func (o *Orchestrator) CreateRun(ctx context.Context, domain, brief string) (*RunSnapshot, error) {
	brief = strings.TrimSpace(brief)
	if len(brief) < schema.MinBriefLength {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"brief must be at least %d characters", schema.MinBriefLength)
	}
	if len(brief) > schema.MaxBriefLength {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"brief must be at most %d characters", schema.MaxBriefLength)
	}
	if strings.TrimSpace(domain) == "" {
		domain = defaultDomain
	}

	first := o.pipeline.First()
	run := &store.Run{
		ID:          NewRunID(),
		Domain:      domain,
		Brief:       brief,
		Status:      schema.RunStatusInProgress,
		CurrentStep: first.Ordinal,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	ctx = logging.WithRunStep(ctx, run.ID, first.Ordinal)
	o.publish(ctx, streaming.StreamEvent{RunID: run.ID, Step: first.Ordinal, EventType: schema.EventRunCreated})

	trigCtx := pipeline.Compose(first.Slug, pipeline.RunInfo{Domain: run.Domain, Brief: run.Brief}, nil)
	if err := o.startStep(ctx, run, first, trigCtx, false, ""); err != nil {
		return nil, err
	}
	return o.snapshot(run), nil
}

// HandleCallback ingests an agent completion. Unknown slug or run is
// NOT_FOUND with no mutation. A callback for a step other than the
// current one is logged and ignored. Duplicate callbacks for the current
// step are each accepted and each bump the artifact version.
func (o *Orchestrator) HandleCallback(ctx context.Context, slug string, payload *schema.CallbackPayload) (*RunSnapshot, error) {
	step, ok := o.pipeline.BySlug(slug)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown agent slug %q", slug)
	}

	release := o.locks.acquire(payload.RunID)
	defer release()

	run, err := o.store.GetRun(ctx, payload.RunID)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRunStep(ctx, run.ID, step.Ordinal)
	log := logging.LogWith(ctx, o.logger)

	if run.Status == schema.RunStatusCompleted || run.CurrentStep != step.Ordinal {
		log.WarnContext(ctx, "ignoring callback for non-current step",
			"callback_step", step.Ordinal, "current_step", run.CurrentStep, "status", run.Status)
		return o.snapshot(run), nil
	}

	content := payload.Content
	if step.Slug == "diagramacion" {
		if normalized, ok := diagram.NormalizeArtifact(content).(map[string]any); ok {
			content = normalized
		}
	}
	if o.validator != nil {
		if err := o.validator.ValidateContent(step.ArtifactType, content); err != nil {
			log.WarnContext(ctx, "artifact content failed schema validation", "error", err)
		}
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "artifact content is not serializable").WithCause(err)
	}

	artifact, err := o.store.PutArtifact(ctx, run.ID, step.ArtifactType, raw)
	if err != nil {
		return nil, err
	}

	if exec, execErr := o.store.LatestExecution(ctx, run.ID, step.Ordinal); execErr == nil {
		now := time.Now().UTC()
		st := schema.ExecutionStatusArtifactReceived
		msg := buildAgentMessage(step, artifact)
		_ = o.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{Status: &st, ResponseMessage: &msg, FinishedAt: &now})
		_ = o.store.AppendStepLog(ctx, exec.ID, fmt.Sprintf("Artifact %s v%d received", step.ArtifactType, artifact.Version))
	}

	if err := o.transition(ctx, run, schema.RunStatusWaitingApproval, run.CurrentStep, true); err != nil {
		return nil, err
	}

	o.publish(ctx, streaming.StreamEvent{
		RunID:     run.ID,
		Step:      step.Ordinal,
		EventType: schema.EventArtifactReceived,
		Payload:   map[string]any{"artifact_type": step.ArtifactType, "version": artifact.Version},
	})

	log.InfoContext(ctx, "artifact accepted", "artifact_type", step.ArtifactType, "version", artifact.Version)
	return o.snapshot(run), nil
}

// Approve advances a waiting run to the next step, or completes it when
// the current step is the last one.
func (o *Orchestrator) Approve(ctx context.Context, runID string) (*RunSnapshot, error) {
	release := o.locks.acquire(runID)
	defer release()

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != schema.RunStatusWaitingApproval {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"run is %s at step %d, approval requires waiting_approval", run.Status, run.CurrentStep)
	}

	ctx = logging.WithRunStep(ctx, run.ID, run.CurrentStep)

	next, ok := o.pipeline.Next(run.CurrentStep)
	if !ok {
		if err := o.transition(ctx, run, schema.RunStatusCompleted, run.CurrentStep, false); err != nil {
			return nil, err
		}
		logging.LogWith(ctx, o.logger).InfoContext(ctx, "run completed")
		return o.snapshot(run), nil
	}

	latest, err := o.latestContents(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	trigCtx := pipeline.Compose(next.Slug, pipeline.RunInfo{Domain: run.Domain, Brief: run.Brief}, latest)

	if err := o.transition(ctx, run, schema.RunStatusInProgress, next.Ordinal, false); err != nil {
		return nil, err
	}
	if err := o.startStep(ctx, run, next, trigCtx, false, ""); err != nil {
		return nil, err
	}
	return o.snapshot(run), nil
}

// Reject sends the current step back to its agent with feedback. The
// run stays on the same step in retrying; the correction context is the
// step's own latest artifact plus the feedback, never upstream history.
func (o *Orchestrator) Reject(ctx context.Context, runID, feedback string) (*RunSnapshot, error) {
	feedback = strings.TrimSpace(feedback)
	if len(feedback) < schema.MinFeedbackLength {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"feedback must be at least %d characters", schema.MinFeedbackLength)
	}
	if len(feedback) > schema.MaxFeedbackLength {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"feedback must be at most %d characters", schema.MaxFeedbackLength)
	}

	release := o.locks.acquire(runID)
	defer release()

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != schema.RunStatusWaitingApproval {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"run is %s at step %d, rejection requires waiting_approval", run.Status, run.CurrentStep)
	}

	ctx = logging.WithRunStep(ctx, run.ID, run.CurrentStep)

	step, ok := o.pipeline.ByOrdinal(run.CurrentStep)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState, "run points at unknown step %d", run.CurrentStep)
	}

	latest, err := o.store.LatestArtifact(ctx, run.ID, step.ArtifactType)
	if err != nil {
		return nil, err
	}
	var base map[string]any
	if err := json.Unmarshal(latest.Content, &base); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "stored artifact content is not an object").WithCause(err)
	}
	trigCtx := pipeline.ComposeFeedback(base, feedback)

	if err := o.transition(ctx, run, schema.RunStatusRetrying, run.CurrentStep, false); err != nil {
		return nil, err
	}
	if err := o.startStep(ctx, run, step, trigCtx, true, feedback); err != nil {
		return nil, err
	}
	return o.snapshot(run), nil
}

// GetRun returns the current snapshot of a run.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*RunSnapshot, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return o.snapshot(run), nil
}

// ListRuns returns snapshots of runs matching the filter.
func (o *Orchestrator) ListRuns(ctx context.Context, filter store.RunFilter) ([]*RunSnapshot, error) {
	runs, err := o.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*RunSnapshot, len(runs))
	for i, run := range runs {
		out[i] = o.snapshot(run)
	}
	return out, nil
}

// LatestArtifact returns the newest version of one artifact type.
func (o *Orchestrator) LatestArtifact(ctx context.Context, runID, artifactType string) (*store.Artifact, error) {
	if _, err := o.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return o.store.LatestArtifact(ctx, runID, artifactType)
}

// ExportAll bundles the latest version of every produced artifact type,
// in pipeline order, with the inner artifact document unwrapped.
func (o *Orchestrator) ExportAll(ctx context.Context, runID string) (*Export, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	latest, err := o.store.LatestArtifactsByType(ctx, runID)
	if err != nil {
		return nil, err
	}

	export := &Export{
		RunID:       run.ID,
		Domain:      run.Domain,
		Status:      run.Status,
		CurrentStep: run.CurrentStep,
		ExportedAt:  time.Now().UTC(),
		Artifacts:   []ExportArtifact{},
	}
	for _, step := range o.pipeline.Steps() {
		artifact, ok := latest[step.ArtifactType]
		if !ok {
			continue
		}
		export.Artifacts = append(export.Artifacts, ExportArtifact{
			Step:         step.Ordinal,
			ArtifactType: step.ArtifactType,
			Name:         step.Name,
			Version:      artifact.Version,
			Artifact:     unwrapContent(artifact.Content),
			CreatedAt:    artifact.CreatedAt,
		})
	}
	return export, nil
}

// GetLogs renders the execution history of one step as human-readable
// lines, oldest first. Missing runs or steps yield an empty slice.
func (o *Orchestrator) GetLogs(ctx context.Context, runID string, step int) ([]string, error) {
	execs, err := o.store.ListExecutions(ctx, runID, step)
	if err != nil {
		return nil, err
	}
	lines := []string{}
	for _, exec := range execs {
		logs, err := o.store.ListStepLogs(ctx, exec.ID)
		if err != nil {
			return nil, err
		}
		for _, l := range logs {
			lines = append(lines, fmt.Sprintf("[attempt %d] %s", exec.Attempt, l.Message))
		}
		if exec.ResponseMessage != "" {
			lines = append(lines, fmt.Sprintf("[attempt %d] %s", exec.Attempt, exec.ResponseMessage))
		}
	}
	return lines, nil
}

// GetArtifacts lists the version history of one step, newest first.
func (o *Orchestrator) GetArtifacts(ctx context.Context, runID string, step int) ([]ArtifactEntry, error) {
	stepDef, ok := o.pipeline.ByOrdinal(step)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "step must be between 1 and %d", o.pipeline.Len())
	}
	artifacts, err := o.store.ListArtifacts(ctx, runID, stepDef.ArtifactType)
	if err != nil {
		return nil, err
	}
	entries := []ArtifactEntry{}
	for i := len(artifacts) - 1; i >= 0; i-- {
		a := artifacts[i]
		entries = append(entries, ArtifactEntry{
			ID:   a.ID,
			Name: fmt.Sprintf("%s v%d - %s", stepDef.Name, a.Version, a.CreatedAt.Format("2006-01-02 15:04")),
		})
	}
	return entries, nil
}

// GetArtifactDownload returns the JSON document of one artifact,
// unwrapped to its inner artifact when present. A non-empty jq
// expression projects the document before it is returned.
func (o *Orchestrator) GetArtifactDownload(ctx context.Context, runID string, step int, id int64, jqExpr string) (any, error) {
	stepDef, ok := o.pipeline.ByOrdinal(step)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "step must be between 1 and %d", o.pipeline.Len())
	}
	artifact, err := o.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if artifact.RunID != runID || artifact.ArtifactType != stepDef.ArtifactType {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "artifact %d not found for run %s step %d", id, runID, step)
	}

	doc := unwrapContent(artifact.Content)
	if jqExpr == "" {
		return doc, nil
	}
	input, ok := doc.(map[string]any)
	if !ok {
		input = map[string]any{"value": doc}
	}
	return o.projector.Project(ctx, jqExpr, input)
}

// PutManualArtifact ingests an operator-supplied artifact, bypassing the
// engine. When the type matches the current step of an active run, the
// run flips to waiting_approval exactly as on a callback.
func (o *Orchestrator) PutManualArtifact(ctx context.Context, runID, artifactType string, content map[string]any) (*store.Artifact, error) {
	var stepDef pipeline.StepDefinition
	found := false
	for _, s := range o.pipeline.Steps() {
		if s.ArtifactType == artifactType {
			stepDef = s
			found = true
			break
		}
	}
	if !found {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown artifact type %q", artifactType)
	}

	release := o.locks.acquire(runID)
	defer release()

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "artifact content is not serializable").WithCause(err)
	}
	artifact, err := o.store.PutArtifact(ctx, runID, artifactType, raw)
	if err != nil {
		return nil, err
	}

	active := run.Status == schema.RunStatusInProgress || run.Status == schema.RunStatusRetrying
	if active && run.CurrentStep == stepDef.Ordinal {
		if err := o.transition(ctx, run, schema.RunStatusWaitingApproval, run.CurrentStep, true); err != nil {
			return nil, err
		}
	}

	o.publish(ctx, streaming.StreamEvent{
		RunID:     runID,
		Step:      stepDef.Ordinal,
		EventType: schema.EventArtifactReceived,
		Payload:   map[string]any{"artifact_type": artifactType, "version": artifact.Version, "manual": true},
	})
	return artifact, nil
}

// Steps exposes the pipeline definition for listing surfaces.
func (o *Orchestrator) Steps() []pipeline.StepDefinition {
	return o.pipeline.Steps()
}

// --- internals ---

// startStep records a new execution attempt and fires the trigger as a
// detached goroutine. Call with the run lock held.
func (o *Orchestrator) startStep(ctx context.Context, run *store.Run, step pipeline.StepDefinition, trigCtx map[string]any, isFeedback bool, feedback string) error {
	req := trigger.Request{
		RunID:       run.ID,
		Context:     trigCtx,
		IsFeedback:  isFeedback,
		Feedback:    feedback,
		CallbackURL: o.callbackURL(step.Slug),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "failed to encode trigger payload").WithCause(err)
	}

	exec := &store.StepExecution{
		RunID:          run.ID,
		Step:           step.Ordinal,
		Slug:           step.Slug,
		IsFeedback:     isFeedback,
		FeedbackText:   feedback,
		Status:         schema.ExecutionStatusStarted,
		RequestPayload: payload,
	}
	if err := o.store.CreateExecution(ctx, exec); err != nil {
		return err
	}
	_ = o.store.AppendStepLog(ctx, exec.ID, fmt.Sprintf("Triggering %s (%s)", step.Name, logging.StepLabel(step.Ordinal)))

	o.publish(ctx, streaming.StreamEvent{
		RunID:     run.ID,
		Step:      step.Ordinal,
		EventType: schema.EventStepTriggered,
		Payload:   map[string]any{"slug": step.Slug, "attempt": exec.Attempt, "is_feedback": isFeedback},
	})

	go o.fireTrigger(run.ID, step, exec.ID, exec.Attempt, req)
	return nil
}

// fireTrigger delivers one trigger outside the run lock. Failures are
// recorded on the execution; the run state is never changed here, a
// stuck step surfaces through the stale sweep and the logs.
func (o *Orchestrator) fireTrigger(runID string, step pipeline.StepDefinition, execID int64, attempt int, req trigger.Request) {
	ctx := logging.WithAttempt(logging.WithRunStep(context.Background(), runID, step.Ordinal), attempt)
	log := logging.LogWith(ctx, o.logger)

	resp, err := o.gateway.Trigger(ctx, step.WebhookURL, req)
	if err != nil {
		log.ErrorContext(ctx, "trigger delivery failed", "slug", step.Slug, "error", err)
		now := time.Now().UTC()
		st := schema.ExecutionStatusError
		msg := err.Error()
		_ = o.store.UpdateExecution(ctx, execID, store.ExecutionUpdate{Status: &st, ResponseMessage: &msg, FinishedAt: &now})
		_ = o.store.AppendStepLog(ctx, execID, "Trigger failed: "+err.Error())
		o.publish(ctx, streaming.StreamEvent{
			RunID:     runID,
			Step:      step.Ordinal,
			EventType: schema.EventTriggerFailed,
			Payload:   map[string]any{"slug": step.Slug, "error": err.Error()},
		})
		return
	}

	st := schema.ExecutionStatusWaitingResult
	_ = o.store.UpdateExecution(ctx, execID, store.ExecutionUpdate{Status: &st})
	_ = o.store.AppendStepLog(ctx, execID, fmt.Sprintf("Engine accepted trigger for %s (status %d)", step.Name, resp.StatusCode))

	// Some workflows answer the webhook synchronously with the artifact
	// instead of calling back. Persist it through the same path.
	if content := callback.ExtractFromTriggerResponse(resp.Body); content != nil {
		payload := &schema.CallbackPayload{RunID: runID, ArtifactType: step.ArtifactType, Content: content}
		if j, ok := content["justification"].(string); ok {
			payload.Justification = j
		}
		if _, err := o.HandleCallback(ctx, step.Slug, payload); err != nil {
			log.WarnContext(ctx, "synchronous artifact ingestion failed", "error", err)
		}
	}
}

// transition validates and applies a run status change, mutating the
// in-memory run to match and publishing the entry event. A no-op status
// (duplicate callback) skips validation and the event.
func (o *Orchestrator) transition(ctx context.Context, run *store.Run, to schema.RunStatus, step int, waiting bool) error {
	changed := run.Status != to
	if changed {
		if err := validateTransition(run.ID, run.Status, to); err != nil {
			return err
		}
	}

	update := store.RunUpdate{Status: &to, CurrentStep: &step, WaitingForUser: &waiting}
	if err := o.store.UpdateRun(ctx, run.ID, update); err != nil {
		return err
	}
	run.Status = to
	run.CurrentStep = step
	run.WaitingForUser = waiting
	run.UpdatedAt = time.Now().UTC()

	if changed {
		if ev := transitionEvent(to); ev != "" {
			o.publish(ctx, streaming.StreamEvent{RunID: run.ID, Step: step, EventType: ev})
		}
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event streaming.StreamEvent) {
	if o.hub == nil {
		return
	}
	if err := o.hub.Publish(ctx, event); err != nil {
		logging.LogWith(ctx, o.logger).WarnContext(ctx, "event publish failed", "event_type", event.EventType, "error", err)
	}
}

func (o *Orchestrator) snapshot(run *store.Run) *RunSnapshot {
	snap := &RunSnapshot{
		ID:             run.ID,
		Domain:         run.Domain,
		Status:         run.Status,
		CurrentStep:    run.CurrentStep,
		WaitingForUser: run.WaitingForUser,
		CreatedAt:      run.CreatedAt,
		UpdatedAt:      run.UpdatedAt,
	}
	if step, ok := o.pipeline.ByOrdinal(run.CurrentStep); ok {
		snap.CurrentStepSlug = step.Slug
		snap.CurrentStepName = step.Name
	}
	return snap
}

// latestContents loads the newest artifact content per type, decoded.
func (o *Orchestrator) latestContents(ctx context.Context, runID string) (map[string]map[string]any, error) {
	latest, err := o.store.LatestArtifactsByType(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(latest))
	for t, artifact := range latest {
		var content map[string]any
		if err := json.Unmarshal(artifact.Content, &content); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "stored %s artifact is not an object", t).WithCause(err)
		}
		out[t] = content
	}
	return out, nil
}

func (o *Orchestrator) callbackURL(slug string) string {
	if o.callbackBaseURL == "" {
		return "/callbacks/agent/" + slug
	}
	return o.callbackBaseURL + "/callbacks/agent/" + slug
}

// unwrapContent decodes stored artifact JSON, lifting the inner
// "artifact" document when present.
func unwrapContent(raw json.RawMessage) any {
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		var v any
		_ = json.Unmarshal(raw, &v)
		return v
	}
	if inner, ok := content["artifact"]; ok {
		return inner
	}
	return content
}

// sortedKeys returns the map keys in lexical order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

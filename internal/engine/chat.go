package engine

import (
	"context"

	"github.com/forja-io/forja/pkg/schema"
)

// StepRequest is the step-oriented conversational entry point: one call
// per pipeline interaction, carrying either a brief (step 1, new run),
// an implicit approval (posting the next step), or rejection feedback.
type StepRequest struct {
	Step       int    `json:"step"`
	RunID      string `json:"uuid"`
	Content    string `json:"context"`
	IsFeedback bool   `json:"is_feedback"`
}

// StepResult is the synthesized outcome of a step post.
type StepResult struct {
	RunID         string `json:"uuid"`
	Message       string `json:"message"`
	ArtifactReady bool   `json:"artifact_ready"`
	ArtifactID    int64  `json:"artifact_id,omitempty"`
}

// PostStep drives one pipeline interaction and waits a bounded time for
// the resulting artifact. On timeout it answers with a provisional
// message and leaves the run untouched; the artifact still lands via
// callback and is picked up on the next post or through the run surface.
func (o *Orchestrator) PostStep(ctx context.Context, req StepRequest) (*StepResult, error) {
	stepDef, ok := o.pipeline.ByOrdinal(req.Step)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "step must be between 1 and %d", o.pipeline.Len())
	}

	runID := req.RunID
	baseline := 0

	if runID == "" {
		if req.Step != 1 || req.IsFeedback {
			return nil, schema.NewError(schema.ErrCodeValidation, "uuid is required for steps after the first")
		}
		snap, err := o.CreateRun(ctx, "", req.Content)
		if err != nil {
			return nil, err
		}
		runID = snap.ID
	} else {
		run, err := o.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		baseline, err = o.store.LatestVersion(ctx, runID, stepDef.ArtifactType)
		if err != nil {
			return nil, err
		}

		switch {
		case req.IsFeedback:
			if run.CurrentStep != req.Step {
				return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
					"feedback targets step %d but run is at step %d", req.Step, run.CurrentStep)
			}
			if _, err := o.Reject(ctx, runID, req.Content); err != nil {
				return nil, err
			}
		case run.Status == schema.RunStatusWaitingApproval && run.CurrentStep+1 == req.Step:
			// Posting the next step while waiting is an implicit approval.
			if _, err := o.Approve(ctx, runID); err != nil {
				return nil, err
			}
		case run.Status == schema.RunStatusWaitingApproval && run.CurrentStep == req.Step:
			// Already answered: hand back the latest artifact's message.
			if artifact, aerr := o.store.LatestArtifact(ctx, runID, stepDef.ArtifactType); aerr == nil {
				return &StepResult{
					RunID:         runID,
					Message:       buildAgentMessage(stepDef, artifact),
					ArtifactReady: true,
					ArtifactID:    artifact.ID,
				}, nil
			}
			return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
				"run is waiting at step %d without an artifact", req.Step)
		case run.CurrentStep == req.Step:
			// Trigger already in flight for this step; just wait below.
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
				"cannot post step %d while run is %s at step %d", req.Step, run.Status, run.CurrentStep)
		}
	}

	artifact, arrived := o.WaitForNewArtifact(ctx, runID, stepDef.ArtifactType, baseline)
	if !arrived {
		return &StepResult{RunID: runID, Message: stillProcessingMessage}, nil
	}
	return &StepResult{
		RunID:         runID,
		Message:       buildAgentMessage(stepDef, artifact),
		ArtifactReady: true,
		ArtifactID:    artifact.ID,
	}, nil
}

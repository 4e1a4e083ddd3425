package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forja-io/forja/internal/trigger"
	"github.com/forja-io/forja/pkg/schema"
)

func TestPostStep_CreatesRunAndReturnsArtifactMessage(t *testing.T) {
	gw := newFakeGateway()
	gw.resp = &trigger.Response{
		StatusCode: 200,
		Body: map[string]any{
			"body": map[string]any{
				"artifact":      map[string]any{"functional_requirements": []any{}},
				"justification": "drafted the functional requirements from the brief",
			},
		},
	}
	o, _ := newTestOrchestrator(t, gw)

	res, err := o.PostStep(context.Background(), StepRequest{Step: 1, Content: testBrief})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.ArtifactReady)
	assert.Contains(t, res.Message, "Requirements Agent v1")
	assert.Contains(t, res.Message, "drafted the functional requirements")
}

func TestPostStep_TimeoutReturnsProvisionalMessage(t *testing.T) {
	gw := newFakeGateway()
	o, _ := newTestOrchestrator(t, gw)
	o.waitTimeout = 100 * time.Millisecond

	res, err := o.PostStep(context.Background(), StepRequest{Step: 1, Content: testBrief})
	require.NoError(t, err)
	assert.False(t, res.ArtifactReady)
	assert.Equal(t, stillProcessingMessage, res.Message)

	// Run state is untouched by the timeout.
	run, err := o.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusInProgress, run.Status)
}

func TestPostStep_NextStepIsImplicitApproval(t *testing.T) {
	gw := newFakeGateway()
	o, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()

	snap, err := o.CreateRun(ctx, "retail", testBrief)
	require.NoError(t, err)
	gw.waitCall(t)

	_, err = o.HandleCallback(ctx, "requirements", &schema.CallbackPayload{
		RunID:   snap.ID,
		Content: artifactContent("functional_requirements"),
	})
	require.NoError(t, err)

	// Callback for step 2 lands while PostStep waits.
	go func() {
		gw.waitCall(t)
		_, _ = o.HandleCallback(ctx, "inception", &schema.CallbackPayload{
			RunID:   snap.ID,
			Content: artifactContent("vision", "scope"),
		})
	}()

	res, err := o.PostStep(ctx, StepRequest{Step: 2, RunID: snap.ID})
	require.NoError(t, err)
	assert.True(t, res.ArtifactReady)
	assert.Contains(t, res.Message, "Inception Agent v1")
	assert.Contains(t, res.Message, "Secciones: scope, vision")
}

func TestPostStep_FeedbackRejectsAndWaits(t *testing.T) {
	gw := newFakeGateway()
	o, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()

	snap, err := o.CreateRun(ctx, "retail", testBrief)
	require.NoError(t, err)
	gw.waitCall(t)

	_, err = o.HandleCallback(ctx, "requirements", &schema.CallbackPayload{
		RunID:   snap.ID,
		Content: artifactContent("functional_requirements"),
	})
	require.NoError(t, err)

	go func() {
		call := gw.waitCall(t)
		assert.True(t, call.Req.IsFeedback)
		_, _ = o.HandleCallback(ctx, "requirements", &schema.CallbackPayload{
			RunID:   snap.ID,
			Content: artifactContent("functional_requirements", "payments"),
		})
	}()

	res, err := o.PostStep(ctx, StepRequest{Step: 1, RunID: snap.ID, Content: "add the payments module", IsFeedback: true})
	require.NoError(t, err)
	assert.True(t, res.ArtifactReady)
	assert.Contains(t, res.Message, "Requirements Agent v2")
}

func TestPostStep_SameStepWhileWaitingReturnsLatest(t *testing.T) {
	gw := newFakeGateway()
	o, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()

	snap, err := o.CreateRun(ctx, "retail", testBrief)
	require.NoError(t, err)
	gw.waitCall(t)

	_, err = o.HandleCallback(ctx, "requirements", &schema.CallbackPayload{
		RunID:   snap.ID,
		Content: artifactContent("functional_requirements"),
	})
	require.NoError(t, err)

	res, err := o.PostStep(ctx, StepRequest{Step: 1, RunID: snap.ID})
	require.NoError(t, err)
	assert.True(t, res.ArtifactReady)
	assert.Contains(t, res.Message, "Requirements Agent v1")
}

func TestPostStep_InvalidRequests(t *testing.T) {
	gw := newFakeGateway()
	o, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()

	_, err := o.PostStep(ctx, StepRequest{Step: 0, Content: testBrief})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = o.PostStep(ctx, StepRequest{Step: 3, Content: testBrief})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	snap, err := o.CreateRun(ctx, "retail", testBrief)
	require.NoError(t, err)
	gw.waitCall(t)

	// Skipping ahead is rejected.
	_, err = o.PostStep(ctx, StepRequest{Step: 4, RunID: snap.ID})
	assert.Equal(t, schema.ErrCodeInvalidState, schema.CodeOf(err))
}

func TestWaitForNewArtifact_SeesExistingNewerVersion(t *testing.T) {
	gw := newFakeGateway()
	o, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()

	snap, err := o.CreateRun(ctx, "retail", testBrief)
	require.NoError(t, err)
	gw.waitCall(t)

	_, err = o.HandleCallback(ctx, "requirements", &schema.CallbackPayload{
		RunID:   snap.ID,
		Content: artifactContent("functional_requirements"),
	})
	require.NoError(t, err)

	artifact, ok := o.WaitForNewArtifact(ctx, snap.ID, "requirements", 0)
	require.True(t, ok)
	assert.Equal(t, 1, artifact.Version)

	o.waitTimeout = 100 * time.Millisecond
	_, ok = o.WaitForNewArtifact(ctx, snap.ID, "requirements", 1)
	assert.False(t, ok)
}

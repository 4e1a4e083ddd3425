package engine

import (
	"context"
	"time"

	"github.com/forja-io/forja/internal/store"
	"github.com/forja-io/forja/internal/streaming"
	"github.com/forja-io/forja/pkg/schema"
)

// WaitForNewArtifact blocks until an artifact of the given type newer
// than baseline exists, or the wait timeout elapses. It listens on the
// event hub and additionally polls the store, covering artifacts written
// by another process against the same database.
func (o *Orchestrator) WaitForNewArtifact(ctx context.Context, runID, artifactType string, baseline int) (*store.Artifact, bool) {
	waitCtx, cancel := context.WithTimeout(ctx, o.waitTimeout)
	defer cancel()

	var events <-chan streaming.StreamEvent
	if o.hub != nil {
		ch, unsubscribe, err := o.hub.Subscribe(waitCtx, streaming.EventFilter{
			RunID:      runID,
			EventTypes: []string{schema.EventArtifactReceived},
		})
		if err == nil {
			defer unsubscribe()
			events = ch
		}
	}

	check := func() *store.Artifact {
		artifact, err := o.store.LatestArtifact(ctx, runID, artifactType)
		if err == nil && artifact.Version > baseline {
			return artifact
		}
		return nil
	}

	if artifact := check(); artifact != nil {
		return artifact, true
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return nil, false
		case <-ticker.C:
			if artifact := check(); artifact != nil {
				return artifact, true
			}
		case <-events:
			if artifact := check(); artifact != nil {
				return artifact, true
			}
		}
	}
}

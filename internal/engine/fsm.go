package engine

import (
	"github.com/forja-io/forja/pkg/schema"
)

// ValidRunTransitions defines the allowed run status transitions.
// Completed is terminal. A run never moves backwards in the table;
// rejection keeps the current step and flips to retrying.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusInProgress:      {schema.RunStatusWaitingApproval},
	schema.RunStatusRetrying:        {schema.RunStatusWaitingApproval},
	schema.RunStatusWaitingApproval: {schema.RunStatusInProgress, schema.RunStatusRetrying, schema.RunStatusCompleted},
	schema.RunStatusCompleted:       {},
}

// validateTransition checks a run status transition against the table.
func validateTransition(runID string, from, to schema.RunStatus) error {
	for _, allowed := range ValidRunTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid run transition: %s -> %s", from, to).
		WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
}

// transitionEvent maps a target status to the event published on entry.
func transitionEvent(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusWaitingApproval:
		return schema.EventRunWaiting
	case schema.RunStatusInProgress:
		return schema.EventRunApproved
	case schema.RunStatusRetrying:
		return schema.EventRunRejected
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	default:
		return ""
	}
}

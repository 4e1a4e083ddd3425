package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forja-io/forja/pkg/schema"
)

func TestValidateTransition_Table(t *testing.T) {
	valid := []struct {
		from, to schema.RunStatus
	}{
		{schema.RunStatusInProgress, schema.RunStatusWaitingApproval},
		{schema.RunStatusRetrying, schema.RunStatusWaitingApproval},
		{schema.RunStatusWaitingApproval, schema.RunStatusInProgress},
		{schema.RunStatusWaitingApproval, schema.RunStatusRetrying},
		{schema.RunStatusWaitingApproval, schema.RunStatusCompleted},
	}
	for _, tc := range valid {
		assert.NoError(t, validateTransition("RUN_X", tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	invalid := []struct {
		from, to schema.RunStatus
	}{
		{schema.RunStatusInProgress, schema.RunStatusCompleted},
		{schema.RunStatusInProgress, schema.RunStatusRetrying},
		{schema.RunStatusRetrying, schema.RunStatusInProgress},
		{schema.RunStatusCompleted, schema.RunStatusInProgress},
		{schema.RunStatusCompleted, schema.RunStatusWaitingApproval},
	}
	for _, tc := range invalid {
		err := validateTransition("RUN_X", tc.from, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))
	}
}

func TestTransitionEvent(t *testing.T) {
	assert.Equal(t, schema.EventRunWaiting, transitionEvent(schema.RunStatusWaitingApproval))
	assert.Equal(t, schema.EventRunApproved, transitionEvent(schema.RunStatusInProgress))
	assert.Equal(t, schema.EventRunRejected, transitionEvent(schema.RunStatusRetrying))
	assert.Equal(t, schema.EventRunCompleted, transitionEvent(schema.RunStatusCompleted))
}

func TestNewRunID_Format(t *testing.T) {
	id := NewRunID()
	assert.Regexp(t, `^RUN_[0-9A-F]+$`, id)
	assert.NotEqual(t, id, NewRunID())
}

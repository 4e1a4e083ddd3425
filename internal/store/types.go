package store

import (
	"encoding/json"
	"time"

	"github.com/forja-io/forja/pkg/schema"
)

// Run is the persisted representation of one pipeline run.
type Run struct {
	ID             string           `json:"id"`
	Domain         string           `json:"domain"`
	Brief          string           `json:"brief"`
	Status         schema.RunStatus `json:"status"`
	CurrentStep    int              `json:"current_step"` // 1..6, 0 = none
	WaitingForUser bool             `json:"waiting_for_user"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Artifact is one versioned step output. Rows are append-only: a new
// version is written for every accepted callback, never mutated in place.
type Artifact struct {
	ID           int64           `json:"id"`
	RunID        string          `json:"run_id"`
	ArtifactType string          `json:"artifact_type"`
	Version      int             `json:"version"`
	Content      json.RawMessage `json:"content"`
	CreatedAt    time.Time       `json:"created_at"`
}

// StepExecution is one trigger attempt for a (run, step) pair, including
// retries caused by rejection.
type StepExecution struct {
	ID              int64                  `json:"id"`
	RunID           string                 `json:"run_id"`
	Step            int                    `json:"step"`
	Slug            string                 `json:"slug"`
	Attempt         int                    `json:"attempt"`
	IsFeedback      bool                   `json:"is_feedback"`
	FeedbackText    string                 `json:"feedback_text,omitempty"`
	Status          schema.ExecutionStatus `json:"status"`
	RequestPayload  json.RawMessage        `json:"request_payload,omitempty"`
	ResponseMessage string                 `json:"response_message,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	FinishedAt      *time.Time             `json:"finished_at,omitempty"`
}

// StepLog is one human-readable log line attached to an execution.
type StepLog struct {
	ID          int64     `json:"id"`
	ExecutionID int64     `json:"execution_id"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunUpdate specifies the mutable fields of a run. Nil fields are left
// untouched; updated_at always advances.
type RunUpdate struct {
	Status         *schema.RunStatus
	CurrentStep    *int
	WaitingForUser *bool
	Brief          *string
}

// ExecutionUpdate specifies the mutable fields of a step execution.
type ExecutionUpdate struct {
	Status          *schema.ExecutionStatus
	ResponseMessage *string
	FinishedAt      *time.Time
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       schema.RunStatus
	UpdatedSince *time.Time
	StaleBefore  *time.Time
	Limit        int
}

package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Artifacts (append-only, versioned per run+type).
	// PutArtifact assigns max(existing)+1 atomically and returns the row
	// with its version populated.
	PutArtifact(ctx context.Context, runID, artifactType string, content []byte) (*Artifact, error)
	LatestArtifact(ctx context.Context, runID, artifactType string) (*Artifact, error)
	LatestArtifactsByType(ctx context.Context, runID string) (map[string]*Artifact, error)
	LatestVersion(ctx context.Context, runID, artifactType string) (int, error)
	ListArtifacts(ctx context.Context, runID, artifactType string) ([]*Artifact, error)
	GetArtifact(ctx context.Context, id int64) (*Artifact, error)

	// Step executions (one row per trigger attempt).
	// CreateExecution assigns the next attempt number for (run, step).
	CreateExecution(ctx context.Context, exec *StepExecution) error
	UpdateExecution(ctx context.Context, id int64, update ExecutionUpdate) error
	LatestExecution(ctx context.Context, runID string, step int) (*StepExecution, error)
	ListExecutions(ctx context.Context, runID string, step int) ([]*StepExecution, error)

	// Step logs
	AppendStepLog(ctx context.Context, executionID int64, message string) error
	ListStepLogs(ctx context.Context, executionID int64) ([]*StepLog, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

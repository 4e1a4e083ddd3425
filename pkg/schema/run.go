package schema

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusInProgress      RunStatus = "in_progress"
	RunStatusWaitingApproval RunStatus = "waiting_approval"
	RunStatusRetrying        RunStatus = "retrying"
	RunStatusCompleted       RunStatus = "completed"
)

// ExecutionStatus represents the lifecycle state of a single trigger attempt.
type ExecutionStatus string

const (
	ExecutionStatusStarted          ExecutionStatus = "started"
	ExecutionStatusWaitingResult    ExecutionStatus = "waiting_result"
	ExecutionStatusArtifactReceived ExecutionStatus = "artifact_received"
	ExecutionStatusCompleted        ExecutionStatus = "completed"
	ExecutionStatusTimeout          ExecutionStatus = "timeout"
	ExecutionStatusError            ExecutionStatus = "error"
)

// Event type constants published on the run event hub.
const (
	EventRunCreated       = "run_created"
	EventStepTriggered    = "step_triggered"
	EventArtifactReceived = "artifact_received"
	EventRunWaiting       = "run_waiting"
	EventRunApproved      = "run_approved"
	EventRunRejected      = "run_rejected"
	EventRunCompleted     = "run_completed"
	EventRunStale         = "run_stale"
	EventTriggerFailed    = "trigger_failed"
)

// Validation thresholds enforced by the orchestrator.
const (
	MinBriefLength    = 30
	MaxBriefLength    = 20_000
	MinFeedbackLength = 3
	MaxFeedbackLength = 10_000
)

// PipelineLength is the number of steps in the pipeline.
const PipelineLength = 6

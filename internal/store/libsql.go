package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/forja-io/forja/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/forja.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	run.CreatedAt = timeOrNow(run.CreatedAt)
	run.UpdatedAt = timeOrNow(run.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, domain, brief, status, current_step, waiting_for_user, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Domain, run.Brief, string(run.Status), run.CurrentStep,
		boolInt(run.WaitingForUser), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "insert run: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var status string
	var waiting int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, domain, brief, status, current_step, waiting_for_user, created_at, updated_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Domain, &run.Brief, &status, &run.CurrentStep, &waiting,
		&run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	run.WaitingForUser = waiting != 0
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, *update.CurrentStep)
	}
	if update.WaitingForUser != nil {
		sets = append(sets, "waiting_for_user = ?")
		args = append(args, boolInt(*update.WaitingForUser))
	}
	if update.Brief != nil {
		sets = append(sets, "brief = ?")
		args = append(args, *update.Brief)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT id, domain, brief, status, current_step, waiting_for_user, created_at, updated_at FROM runs`
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.UpdatedSince != nil {
		conds = append(conds, "updated_at >= ?")
		args = append(args, *filter.UpdatedSince)
	}
	if filter.StaleBefore != nil {
		conds = append(conds, "updated_at < ?")
		args = append(args, *filter.StaleBefore)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var status string
		var waiting int
		if err := rows.Scan(&run.ID, &run.Domain, &run.Brief, &status, &run.CurrentStep,
			&waiting, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		run.Status = schema.RunStatus(status)
		run.WaitingForUser = waiting != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Artifacts ---

// PutArtifact appends a new artifact version. The version is assigned
// inside a transaction that first forces a write lock, so concurrent
// puts for the same (run, type) can never observe the same MAX and
// collide; the UNIQUE constraint backstops the invariant.
func (s *LibSQLStore) PutArtifact(ctx context.Context, runID, artifactType string, content []byte) (*Artifact, error) {
	if !json.Valid(content) {
		wrapped, err := json.Marshal(map[string]string{"raw_content": string(content)})
		if err != nil {
			return nil, err
		}
		content = wrapped
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin artifact tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; execute a
	// write-intent statement to force immediate lock acquisition before
	// reading MAX(version).
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return nil, fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return nil, fmt.Errorf("cleanup write lock: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE run_id = ? AND artifact_type = ?`,
		runID, artifactType,
	).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("next artifact version: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO artifacts (run_id, artifact_type, version, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, artifactType, version, string(content), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit artifact: %w", err)
	}

	return &Artifact{
		ID:           id,
		RunID:        runID,
		ArtifactType: artifactType,
		Version:      version,
		Content:      json.RawMessage(content),
		CreatedAt:    now,
	}, nil
}

func (s *LibSQLStore) LatestArtifact(ctx context.Context, runID, artifactType string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, artifact_type, version, content, created_at
		 FROM artifacts WHERE run_id = ? AND artifact_type = ?
		 ORDER BY version DESC LIMIT 1`, runID, artifactType)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("artifact", runID+"/"+artifactType)
	}
	return a, err
}

func (s *LibSQLStore) LatestArtifactsByType(ctx context.Context, runID string) (map[string]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.run_id, a.artifact_type, a.version, a.content, a.created_at
		 FROM artifacts a
		 JOIN (SELECT artifact_type, MAX(version) AS v FROM artifacts WHERE run_id = ? GROUP BY artifact_type) latest
		   ON a.artifact_type = latest.artifact_type AND a.version = latest.v
		 WHERE a.run_id = ?`, runID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*Artifact)
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out[a.ArtifactType] = a
	}
	return out, rows.Err()
}

func (s *LibSQLStore) LatestVersion(ctx context.Context, runID, artifactType string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM artifacts WHERE run_id = ? AND artifact_type = ?`,
		runID, artifactType,
	).Scan(&v)
	return v, err
}

func (s *LibSQLStore) ListArtifacts(ctx context.Context, runID, artifactType string) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, artifact_type, version, content, created_at
		 FROM artifacts WHERE run_id = ? AND artifact_type = ?
		 ORDER BY version DESC, created_at DESC`, runID, artifactType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) GetArtifact(ctx context.Context, id int64) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, artifact_type, version, content, created_at
		 FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("artifact", fmt.Sprintf("%d", id))
	}
	return a, err
}

// --- Step executions ---

// CreateExecution inserts a new trigger attempt, assigning the next
// attempt number for (run, step) atomically.
func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *StepExecution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin execution tx: %w", err)
	}
	defer tx.Rollback()

	var attempt int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(attempt), 0) + 1 FROM step_executions WHERE run_id = ? AND step = ?`,
		exec.RunID, exec.Step,
	).Scan(&attempt)
	if err != nil {
		return fmt.Errorf("next attempt: %w", err)
	}
	exec.Attempt = attempt
	exec.StartedAt = timeOrNow(exec.StartedAt)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO step_executions (run_id, step, slug, attempt, is_feedback, feedback_text, status, request_payload, response_message, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.RunID, exec.Step, exec.Slug, exec.Attempt, boolInt(exec.IsFeedback),
		nullStr(exec.FeedbackText), string(exec.Status), nullRaw(exec.RequestPayload),
		nullStr(exec.ResponseMessage), exec.StartedAt, nullTime(exec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	exec.ID = id

	return tx.Commit()
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id int64, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.ResponseMessage != nil {
		sets = append(sets, "response_message = ?")
		args = append(args, *update.ResponseMessage)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE step_executions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", fmt.Sprintf("%d", id))
}

func (s *LibSQLStore) LatestExecution(ctx context.Context, runID string, step int) (*StepExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, step, slug, attempt, is_feedback, feedback_text, status, request_payload, response_message, started_at, finished_at
		 FROM step_executions WHERE run_id = ? AND step = ?
		 ORDER BY attempt DESC, started_at DESC LIMIT 1`, runID, step)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", fmt.Sprintf("%s/step-%d", runID, step))
	}
	return e, err
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, runID string, step int) ([]*StepExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, slug, attempt, is_feedback, feedback_text, status, request_payload, response_message, started_at, finished_at
		 FROM step_executions WHERE run_id = ? AND step = ?
		 ORDER BY attempt ASC, started_at ASC`, runID, step)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StepExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Step logs ---

func (s *LibSQLStore) AppendStepLog(ctx context.Context, executionID int64, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_logs (execution_id, message, created_at) VALUES (?, ?, ?)`,
		executionID, message, time.Now().UTC(),
	)
	return err
}

func (s *LibSQLStore) ListStepLogs(ctx context.Context, executionID int64) ([]*StepLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, message, created_at FROM step_logs
		 WHERE execution_id = ? ORDER BY created_at ASC, id ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StepLog
	for rows.Next() {
		l := &StepLog{}
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*Artifact, error) {
	a := &Artifact{}
	var content string
	if err := row.Scan(&a.ID, &a.RunID, &a.ArtifactType, &a.Version, &content, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Content = json.RawMessage(content)
	return a, nil
}

func scanExecution(row rowScanner) (*StepExecution, error) {
	e := &StepExecution{}
	var isFeedback int
	var feedback, payload, response sql.NullString
	var finished sql.NullTime
	var status string
	if err := row.Scan(&e.ID, &e.RunID, &e.Step, &e.Slug, &e.Attempt, &isFeedback,
		&feedback, &status, &payload, &response, &e.StartedAt, &finished); err != nil {
		return nil, err
	}
	e.IsFeedback = isFeedback != 0
	e.FeedbackText = feedback.String
	e.Status = schema.ExecutionStatus(status)
	e.RequestPayload = rawOrNil(payload)
	e.ResponseMessage = response.String
	if finished.Valid {
		e.FinishedAt = &finished.Time
	}
	return e, nil
}

// --- Value helpers ---

func storeNotFound(resource, id string) *schema.ForjaError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"fivecut/internal/config"
)

// ErrNotFound is returned when no job matches the requested identifier.
var ErrNotFound = errors.New("job not found")

// timeFormat is RFC3339 with a fixed-width nanosecond field. Timestamps are
// compared lexicographically in SQL (claim ordering, heartbeat cutoffs), so
// trailing fractional zeros must not be trimmed the way RFC3339Nano does.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages job persistence backed by SQLite. One store is shared by the
// gateway and every worker; all cross-process coordination happens through
// the job rows it manages.
type Store struct {
	db   *sql.DB
	path string

	defaultTimeout          int
	defaultResultRetention  int
	defaultFailureRetention int
}

// Open initializes or connects to the job database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.QueueDatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:                      db,
		path:                    dbPath,
		defaultTimeout:          cfg.Workflow.JobTimeout,
		defaultResultRetention:  cfg.Workflow.ResultRetention,
		defaultFailureRetention: cfg.Workflow.FailureRetention,
	}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the backing database file path.
func (s *Store) Path() string {
	return s.path
}

// Enqueue inserts a new queued job with empty metadata and returns it.
func (s *Store) Enqueue(ctx context.Context, params EnqueueParams) (*Job, error) {
	if params.OwnerSub == "" {
		return nil, errors.New("owner sub required")
	}
	if params.SourceKey == "" {
		return nil, errors.New("source key required")
	}

	optionsJSON, err := json.Marshal(params.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(timeFormat)
	timeout := params.TimeoutSeconds
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	resultRetention := params.ResultRetention
	if resultRetention <= 0 {
		resultRetention = s.defaultResultRetention
	}
	failureRetention := params.FailureRetention
	if failureRetention <= 0 {
		failureRetention = s.defaultFailureRetention
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, owner_sub, source_key, options_json, status, logs_json,
            timeout_seconds, result_retention, failure_retention,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, '[]', ?, ?, ?, ?, ?)`,
		id,
		params.OwnerSub,
		params.SourceKey,
		string(optionsJSON),
		StatusQueued,
		timeout,
		resultRetention,
		failureRetention,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists the mutable fields of an existing job. Jobs are mutated
// only by the worker executing them; cancellation flags raised concurrently
// by the gateway are preserved rather than overwritten.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()

	logsJSON, err := json.Marshal(appendBounded(nil, job.Logs))
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, logs_json = ?, output_key = ?, json_key = ?,
             detect_mp4_key = ?, error_message = ?, child_pid = ?,
             canceled = CASE WHEN ? THEN 1 ELSE canceled END,
             updated_at = ?, started_at = ?, ended_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		job.Status,
		string(logsJSON),
		nullableString(job.OutputKey),
		nullableString(job.JSONKey),
		nullableString(job.DetectMP4Key),
		nullableString(job.ErrorMessage),
		job.ChildPID,
		job.Canceled,
		job.UpdatedAt.Format(timeFormat),
		nullableTime(job.StartedAt),
		nullableTime(job.EndedAt),
		nullableTime(job.LastHeartbeat),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// AppendLogs appends lines to the job's bounded log. The log never grows
// past LogLimit entries; the oldest lines are trimmed first.
func (s *Store) AppendLogs(ctx context.Context, id string, lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var logsJSON string
		row := tx.QueryRowContext(ctx, `SELECT logs_json FROM jobs WHERE id = ?`, id)
		if err := row.Scan(&logsJSON); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("read logs: %w", err)
		}

		var logs []string
		if err := json.Unmarshal([]byte(logsJSON), &logs); err != nil {
			logs = nil
		}
		logs = appendBounded(logs, lines)

		encoded, err := json.Marshal(logs)
		if err != nil {
			return fmt.Errorf("marshal logs: %w", err)
		}
		_, err = tx.ExecContext(
			ctx,
			`UPDATE jobs SET logs_json = ?, updated_at = ? WHERE id = ?`,
			string(encoded),
			time.Now().UTC().Format(timeFormat),
			id,
		)
		if err != nil {
			return fmt.Errorf("write logs: %w", err)
		}
		return nil
	})
}

// Artifact metadata fields settable incrementally while a job runs.
const (
	ArtifactOutput    = "output_key"
	ArtifactJSON      = "json_key"
	ArtifactDetectMP4 = "detect_mp4_key"
)

// SetArtifactKey records one artifact key on the job as soon as the
// pipeline produces it, so status polls see partial results mid-run.
func (s *Store) SetArtifactKey(ctx context.Context, id, field, key string) error {
	switch field {
	case ArtifactOutput, ArtifactJSON, ArtifactDetectMP4:
	default:
		return fmt.Errorf("unknown artifact field %q", field)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET `+field+` = ?, updated_at = ? WHERE id = ?`,
		key,
		time.Now().UTC().Format(timeFormat),
		id,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	return nil
}

// SetChildPID records the process group leader spawned for the job so a
// cancellation can locate it.
func (s *Store) SetChildPID(ctx context.Context, id string, pid int) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET child_pid = ?, updated_at = ? WHERE id = ?`,
		pid,
		time.Now().UTC().Format(timeFormat),
		id,
	)
	if err != nil {
		return fmt.Errorf("set child pid: %w", err)
	}
	return nil
}

// ShouldAbort reports whether cancellation has been requested for the job.
func (s *Store) ShouldAbort(ctx context.Context, id string) (bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT abort, cancel_requested, canceled FROM jobs WHERE id = ?`,
		id,
	)
	var abort, requested, canceled int
	if err := row.Scan(&abort, &requested, &canceled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("read abort flags: %w", err)
	}
	return abort != 0 || requested != 0 || canceled != 0, nil
}

// MarkCanceled completes the cooperative abort protocol: a started job is
// moved to canceled with the user-cancellation reason, unless a more specific
// error was already recorded. Calling it twice is harmless.
func (s *Store) MarkCanceled(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, canceled = 1,
             error_message = COALESCE(NULLIF(error_message, ''), ?),
             ended_at = COALESCE(ended_at, ?), last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusCanceled,
		CanceledByUser,
		now,
		now,
		id,
		StatusStarted,
		StatusCanceled,
	)
	if err != nil {
		return fmt.Errorf("mark canceled: %w", err)
	}
	return nil
}

// RequestCancel cancels a job. Jobs that have not started are moved directly
// to canceled; started jobs only get their abort flags raised, and the worker
// performs the state change at its next checkpoint.
func (s *Store) RequestCancel(ctx context.Context, id string) (CancelOutcome, error) {
	var outcome CancelOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var statusStr string
		row := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id)
		if err := row.Scan(&statusStr); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("read status: %w", err)
		}

		now := time.Now().UTC().Format(timeFormat)
		switch Status(statusStr) {
		case StatusQueued, StatusDeferred:
			_, err := tx.ExecContext(
				ctx,
				`UPDATE jobs
                 SET status = ?, canceled = 1, cancel_requested = 1,
                     error_message = ?, ended_at = ?, updated_at = ?
                 WHERE id = ?`,
				StatusCanceled,
				CanceledByUser,
				now,
				now,
				id,
			)
			if err != nil {
				return fmt.Errorf("cancel queued job: %w", err)
			}
			outcome.Canceled = true
		case StatusStarted:
			_, err := tx.ExecContext(
				ctx,
				`UPDATE jobs SET abort = 1, cancel_requested = 1, updated_at = ? WHERE id = ?`,
				now,
				id,
			)
			if err != nil {
				return fmt.Errorf("flag started job: %w", err)
			}
			outcome.AlreadyStarted = true
		case StatusCanceled:
			outcome.Canceled = true
		default:
			// finished/failed: nothing to cancel
		}
		return nil
	})
	return outcome, err
}

// ClaimNext atomically claims the oldest queued or deferred job for a
// worker, transitioning it to started. Returns nil when the queue is empty.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(
			ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY created_at LIMIT 1`,
			StatusQueued,
			StatusDeferred,
		)
		candidate, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next job: %w", err)
		}

		now := time.Now().UTC()
		nowStr := now.Format(timeFormat)
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, started_at = COALESCE(started_at, ?),
                 last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusStarted,
			nowStr,
			nowStr,
			nowStr,
			candidate.ID,
			candidate.Status,
		)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}

		candidate.Status = StatusStarted
		if candidate.StartedAt == nil {
			candidate.StartedAt = &now
		}
		candidate.LastHeartbeat = &now
		job = candidate
		return nil
	})
	return job, err
}

// UpdateHeartbeat refreshes the liveness timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now,
		now,
		id,
		StatusStarted,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale parks started jobs whose heartbeat expired as deferred so
// another worker can pick them up.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, last_heartbeat = NULL, child_pid = 0, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusDeferred,
		now,
		StatusStarted,
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// ReapExpired deletes terminal jobs whose retention window has passed.
// Finished jobs use the result retention; failed and canceled jobs use the
// failure retention.
func (s *Store) ReapExpired(ctx context.Context, now time.Time) (int64, error) {
	nowStr := now.UTC().Format(timeFormat)
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs
         WHERE ended_at IS NOT NULL AND (
             (status = ? AND datetime(ended_at, '+' || result_retention || ' seconds') < datetime(?))
          OR (status IN (?, ?) AND datetime(ended_at, '+' || failure_retention || ' seconds') < datetime(?))
         )`,
		StatusFinished,
		nowStr,
		StatusFailed,
		StatusCanceled,
		nowStr,
	)
	if err != nil {
		return 0, fmt.Errorf("reap expired jobs: %w", err)
	}
	return res.RowsAffected()
}

// ListByOwner returns the owner's jobs, newest first. A limit of zero or
// less means no limit.
func (s *Store) ListByOwner(ctx context.Context, ownerSub string, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_sub = ? ORDER BY created_at DESC`
	args := []any{ownerSub}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const jobColumns = "id, owner_sub, source_key, options_json, status, logs_json, output_key, json_key, detect_mp4_key, error_message, abort, cancel_requested, canceled, child_pid, timeout_seconds, result_retention, failure_retention, created_at, updated_at, started_at, ended_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               string
		ownerSub         string
		sourceKey        string
		optionsJSON      string
		statusStr        string
		logsJSON         string
		outputKey        sql.NullString
		jsonKey          sql.NullString
		detectMP4Key     sql.NullString
		errorMessage     sql.NullString
		abort            int
		cancelRequested  int
		canceled         int
		childPID         int
		timeoutSeconds   int
		resultRetention  int
		failureRetention int
		createdRaw       string
		updatedRaw       string
		startedRaw       sql.NullString
		endedRaw         sql.NullString
		heartbeatRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ownerSub,
		&sourceKey,
		&optionsJSON,
		&statusStr,
		&logsJSON,
		&outputKey,
		&jsonKey,
		&detectMP4Key,
		&errorMessage,
		&abort,
		&cancelRequested,
		&canceled,
		&childPID,
		&timeoutSeconds,
		&resultRetention,
		&failureRetention,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&endedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:               id,
		OwnerSub:         ownerSub,
		SourceKey:        sourceKey,
		Status:           Status(statusStr),
		OutputKey:        outputKey.String,
		JSONKey:          jsonKey.String,
		DetectMP4Key:     detectMP4Key.String,
		ErrorMessage:     errorMessage.String,
		Abort:            abort != 0,
		CancelRequested:  cancelRequested != 0,
		Canceled:         canceled != 0,
		ChildPID:         childPID,
		TimeoutSeconds:   timeoutSeconds,
		ResultRetention:  resultRetention,
		FailureRetention: failureRetention,
	}

	if err := json.Unmarshal([]byte(optionsJSON), &job.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal([]byte(logsJSON), &job.Logs); err != nil {
		job.Logs = nil
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if endedRaw.Valid {
		if ended, err := parseTimeString(endedRaw.String); err == nil {
			job.EndedAt = &ended
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timeFormat)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

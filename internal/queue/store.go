// Package queue implements the durable job store (C1) and the generic
// worker runtime harness (C2) that drives handlers against it.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/jobkind"
	"github.com/aurorafeed/broadcast-core/internal/models"
)

// Default tunables per §4.1 and §6's environment variable list.
const (
	DefaultPriority    = 5
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = 30 * time.Minute
)

// Notifier publishes a wake-up signal for a job type after enqueue. Failures
// to notify are logged and swallowed — the poll loop is always the backstop.
type Notifier interface {
	Publish(ctx context.Context, jobType string) error
}

// Store is the durable job queue: enqueue, claim-with-lease, renew, complete,
// fail-with-backoff, dead-letter. Grounded on the teacher's raw database/sql
// repository style (internal/database/repositories.go) and on
// internal/webhook/delivery.go's exponential-backoff formula.
type Store struct {
	db          *database.DB
	notifier    Notifier
	backoffBase time.Duration
	backoffMax  time.Duration
}

// NewStore builds a Store. notifier may be nil, in which case enqueue never
// publishes a wake-up and callers rely entirely on the runtime's poll ticker.
func NewStore(db *database.DB, notifier Notifier, backoffBase, backoffMax time.Duration) *Store {
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}
	if backoffMax <= 0 {
		backoffMax = DefaultBackoffMax
	}
	return &Store{db: db, notifier: notifier, backoffBase: backoffBase, backoffMax: backoffMax}
}

// Enqueue inserts a pending job scheduled for now+delay and emits a wake-up
// notification on channel new_job_<type>.
func (s *Store) Enqueue(ctx context.Context, jobType string, payload []byte, priority int, delay time.Duration, maxAttempts int) (uuid.UUID, error) {
	if priority < 0 || priority > 10 {
		return uuid.Nil, jobkind.Validation(fmt.Sprintf("priority %d out of range 0..10", priority), nil)
	}
	id := uuid.New()
	now := time.Now()
	query := `
		INSERT INTO jobs (id, type, payload, priority, state, scheduled_for, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)
	`
	_, err := s.db.ExecContext(ctx, query, id, jobType, payload, priority, models.JobStatePending, now.Add(delay), maxAttempts, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, jobType); err != nil {
			log.Warn().Err(err).Str("job_type", jobType).Msg("wake-up notification publish failed, poll loop will catch it")
		}
	}

	return id, nil
}

// Claim atomically selects the highest-priority, oldest-scheduled claimable
// job of worker_type using row-level skip-locked semantics so concurrent
// claimers never block on one another, transitions it to processing, and
// returns it. Returns (nil, nil) when no job is available.
func (s *Store) Claim(ctx context.Context, workerType, workerID string, leaseSeconds int) (*models.Job, error) {
	query := `
		WITH next_job AS (
			SELECT id FROM jobs
			WHERE type = $1 AND state = $2 AND scheduled_for <= now()
			ORDER BY priority DESC, scheduled_for ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs
		SET state = $3, lease_owner = $4, lease_expires_at = now() + ($5 * interval '1 second'),
			attempts = attempts + 1, updated_at = now()
		FROM next_job
		WHERE jobs.id = next_job.id
		RETURNING jobs.id, jobs.type, jobs.payload, jobs.priority, jobs.state, jobs.scheduled_for,
			jobs.attempts, jobs.max_attempts, jobs.lease_owner, jobs.lease_expires_at, jobs.last_error,
			jobs.created_at, jobs.updated_at
	`
	job := &models.Job{}
	err := s.db.QueryRowContext(ctx, query, workerType, models.JobStatePending, models.JobStateProcessing, workerID, leaseSeconds).Scan(
		&job.ID, &job.Type, &job.Payload, &job.Priority, &job.State, &job.ScheduledFor,
		&job.Attempts, &job.MaxAttempts, &job.LeaseOwner, &job.LeaseExpiresAt, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// RenewLease extends lease_expires_at iff lease_owner=worker_id. Returns an
// error if the lease is no longer held by worker_id (lost to another claimer
// or the job moved to a terminal state).
func (s *Store) RenewLease(ctx context.Context, jobID uuid.UUID, workerID string, leaseSeconds int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET lease_expires_at = now() + ($3 * interval '1 second'), updated_at = now()
		WHERE id = $1 AND lease_owner = $2 AND state = 'processing'
	`, jobID, workerID, leaseSeconds)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		return jobkind.Integrity(fmt.Sprintf("lease for job %s not held by %s", jobID, workerID), nil)
	}
	return nil
}

// Complete transitions processing->completed. No-op if already completed.
func (s *Store) Complete(ctx context.Context, jobID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = $2, lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND state = 'processing'
	`, jobID, models.JobStateCompleted)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if n == 0 {
		var state string
		if scanErr := s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = $1`, jobID).Scan(&state); scanErr != nil {
			return fmt.Errorf("complete job: job %s not found: %w", jobID, scanErr)
		}
		if state != models.JobStateCompleted {
			return fmt.Errorf("complete job %s: unexpected state %q", jobID, state)
		}
	}
	return nil
}

// BackoffDelay computes delay = base * 2^(attempts-1) capped at max, exactly
// the formula grounded on webhook.RetryWorker.shouldRetry.
func (s *Store) BackoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := s.backoffBase * time.Duration(uint64(1)<<uint(attempts-1))
	if delay > s.backoffMax {
		delay = s.backoffMax
	}
	return delay
}

// Fail records the error and either re-schedules the job with exponential
// backoff (attempts < max_attempts) or moves it to failed and inserts a
// DeadLetter row. Integrity-kind errors always dead-letter regardless of
// attempts remaining, per the error handling design.
func (s *Store) Fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fail job: begin tx: %w", err)
	}
	defer tx.Rollback()

	var jobType string
	var payload []byte
	var attempts, maxAttempts int
	var state string
	err = tx.QueryRowContext(ctx, `
		SELECT type, payload, attempts, max_attempts, state FROM jobs WHERE id = $1 FOR UPDATE
	`, jobID).Scan(&jobType, &payload, &attempts, &maxAttempts, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("fail job: job %s not found", jobID)
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if state == models.JobStateCompleted || state == models.JobStateFailed {
		return tx.Commit()
	}

	msg := cause.Error()
	forceDeadLetter := false
	var kindErr *jobkind.Error
	if errors.As(cause, &kindErr) {
		forceDeadLetter = kindErr.Kind == jobkind.KindIntegrity
	}

	if attempts < maxAttempts && !forceDeadLetter {
		delay := s.BackoffDelay(attempts)
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET state = $2, lease_owner = NULL, lease_expires_at = NULL,
				scheduled_for = now() + ($3 * interval '1 second'), last_error = $4, updated_at = now()
			WHERE id = $1
		`, jobID, models.JobStatePending, delay.Seconds(), msg)
		if err != nil {
			return fmt.Errorf("fail job: reschedule: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("fail job: commit: %w", err)
		}
		if s.notifier != nil {
			if pubErr := s.notifier.Publish(ctx, jobType); pubErr != nil {
				log.Warn().Err(pubErr).Str("job_type", jobType).Msg("wake-up notification publish failed after reschedule")
			}
		}
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET state = $2, lease_owner = NULL, lease_expires_at = NULL, last_error = $3, updated_at = now()
		WHERE id = $1
	`, jobID, models.JobStateFailed, msg)
	if err != nil {
		return fmt.Errorf("fail job: terminal: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, job_id, job_type, payload, failure_reason, attempts_made, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, uuid.New(), jobID, jobType, payload, msg, attempts)
	if err != nil {
		return fmt.Errorf("fail job: dead-letter insert: %w", err)
	}
	return tx.Commit()
}

// UnmarshalPayload is a convenience helper for handlers that JSON-encode
// their job payloads (kb_index, segment_make, audio_finalize all do).
func UnmarshalPayload(job *models.Job, v any) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return jobkind.Validation(fmt.Sprintf("malformed payload for job %s", job.ID), err)
	}
	return nil
}

// DeadLetterRepository gives operators read/requeue access to quarantined jobs.
type DeadLetterRepository struct {
	db *database.DB
}

func NewDeadLetterRepository(db *database.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

func (r *DeadLetterRepository) ListUnreviewed(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, job_type, payload, failure_reason, attempts_made, reviewed_at, created_at
		FROM dead_letters WHERE reviewed_at IS NULL ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*models.DeadLetter
	for rows.Next() {
		dl := &models.DeadLetter{}
		if err := rows.Scan(&dl.ID, &dl.JobID, &dl.JobType, &dl.Payload, &dl.FailureReason, &dl.AttemptsMade, &dl.ReviewedAt, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// Requeue manually re-enqueues a dead-lettered job's payload as a fresh
// pending job and marks the dead letter reviewed.
func (r *DeadLetterRepository) Requeue(ctx context.Context, store *Store, dl *models.DeadLetter, priority int, maxAttempts int) (uuid.UUID, error) {
	newID, err := store.Enqueue(ctx, dl.JobType, dl.Payload, priority, 0, maxAttempts)
	if err != nil {
		return uuid.Nil, err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE dead_letters SET reviewed_at = now() WHERE id = $1`, dl.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mark dead letter reviewed: %w", err)
	}
	return newID, nil
}

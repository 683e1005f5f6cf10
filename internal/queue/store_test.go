package queue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/jobkind"
	"github.com/aurorafeed/broadcast-core/internal/models"
)

// connectTestDB skips the test when DATABASE_URL isn't set, mirroring the
// teacher's internal/services integration tests.
func connectTestDB(t *testing.T) *database.DB {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	db, err := database.Connect(dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return db
}

func TestStore_EnqueueClaimComplete(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()

	store := NewStore(db, nil, 30*time.Second, 30*time.Minute)
	ctx := context.Background()
	jobType := fmt.Sprintf("test_enqueue_%d", time.Now().UnixNano())

	id, err := store.Enqueue(ctx, jobType, []byte(`{"foo":"bar"}`), DefaultPriority, 0, DefaultMaxAttempts)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := store.Claim(ctx, jobType, "test-worker-1", 30)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job, got nil")
	}
	if job.ID != id {
		t.Errorf("claimed job id = %s, want %s", job.ID, id)
	}
	if job.State != models.JobStateProcessing {
		t.Errorf("claimed job state = %s, want %s", job.State, models.JobStateProcessing)
	}
	if job.Attempts != 1 {
		t.Errorf("claimed job attempts = %d, want 1", job.Attempts)
	}

	second, err := store.Claim(ctx, jobType, "test-worker-2", 30)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Fatal("expected no job available for a second claimer, got one")
	}

	if err := store.RenewLease(ctx, job.ID, "test-worker-1", 60); err != nil {
		t.Fatalf("renew lease: %v", err)
	}

	if err := store.Complete(ctx, job.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.Complete(ctx, job.ID); err != nil {
		t.Fatalf("complete is not idempotent: %v", err)
	}
}

func TestStore_RenewLease_WrongOwner(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()

	store := NewStore(db, nil, 30*time.Second, 30*time.Minute)
	ctx := context.Background()
	jobType := fmt.Sprintf("test_lease_%d", time.Now().UnixNano())

	if _, err := store.Enqueue(ctx, jobType, []byte(`{}`), DefaultPriority, 0, DefaultMaxAttempts); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := store.Claim(ctx, jobType, "owner-a", 30)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	err = store.RenewLease(ctx, job.ID, "owner-b", 30)
	if err == nil {
		t.Fatal("expected renew lease by wrong owner to fail")
	}
	var kindErr *jobkind.Error
	if ke, ok := err.(*jobkind.Error); ok {
		kindErr = ke
	}
	if kindErr == nil || kindErr.Kind != jobkind.KindIntegrity {
		t.Errorf("expected an integrity-kind error, got %v", err)
	}
}

func TestStore_BackoffDelay(t *testing.T) {
	store := &Store{backoffBase: 30 * time.Second, backoffMax: 5 * time.Minute}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 30 * time.Second},
		{attempts: 1, want: 30 * time.Second},
		{attempts: 2, want: 60 * time.Second},
		{attempts: 3, want: 120 * time.Second},
		{attempts: 10, want: 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempts=%d", tt.attempts), func(t *testing.T) {
			got := store.BackoffDelay(tt.attempts)
			if got != tt.want {
				t.Errorf("BackoffDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
			}
		})
	}
}

func TestStore_Fail_ReschedulesWithinAttempts(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()

	store := NewStore(db, nil, time.Second, time.Minute)
	ctx := context.Background()
	jobType := fmt.Sprintf("test_fail_retry_%d", time.Now().UnixNano())

	if _, err := store.Enqueue(ctx, jobType, []byte(`{}`), DefaultPriority, 0, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := store.Claim(ctx, jobType, "owner-a", 30)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	if err := store.Fail(ctx, job.ID, fmt.Errorf("transient boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	var state string
	var attempts int
	if err := db.QueryRowContext(ctx, `SELECT state, attempts FROM jobs WHERE id = $1`, job.ID).Scan(&state, &attempts); err != nil {
		t.Fatalf("query after fail: %v", err)
	}
	if state != models.JobStatePending {
		t.Errorf("state after retriable fail = %s, want %s", state, models.JobStatePending)
	}
	if attempts != 1 {
		t.Errorf("attempts after retriable fail = %d, want unchanged 1", attempts)
	}
}

func TestStore_Fail_DeadLettersOnExhaustion(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()

	store := NewStore(db, nil, time.Second, time.Minute)
	ctx := context.Background()
	jobType := fmt.Sprintf("test_fail_exhaust_%d", time.Now().UnixNano())

	if _, err := store.Enqueue(ctx, jobType, []byte(`{}`), DefaultPriority, 0, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := store.Claim(ctx, jobType, "owner-a", 30)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	if err := store.Fail(ctx, job.ID, fmt.Errorf("out of attempts")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	var state string
	if err := db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = $1`, job.ID).Scan(&state); err != nil {
		t.Fatalf("query after fail: %v", err)
	}
	if state != models.JobStateFailed {
		t.Errorf("state after exhausted fail = %s, want %s", state, models.JobStateFailed)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM dead_letters WHERE job_id = $1`, job.ID).Scan(&count); err != nil {
		t.Fatalf("query dead_letters: %v", err)
	}
	if count != 1 {
		t.Errorf("dead_letters rows for job = %d, want 1", count)
	}
}

func TestStore_Fail_IntegrityErrorForcesDeadLetter(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()

	store := NewStore(db, nil, time.Second, time.Minute)
	ctx := context.Background()
	jobType := fmt.Sprintf("test_fail_integrity_%d", time.Now().UnixNano())

	if _, err := store.Enqueue(ctx, jobType, []byte(`{}`), DefaultPriority, 0, 10); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := store.Claim(ctx, jobType, "owner-a", 30)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	if err := store.Fail(ctx, job.ID, jobkind.Integrity("payload schema violated", nil)); err != nil {
		t.Fatalf("fail: %v", err)
	}

	var state string
	if err := db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = $1`, job.ID).Scan(&state); err != nil {
		t.Fatalf("query after fail: %v", err)
	}
	if state != models.JobStateFailed {
		t.Errorf("state after integrity fail = %s, want %s even with attempts remaining", state, models.JobStateFailed)
	}
}

func TestUnmarshalPayload_MalformedPayload(t *testing.T) {
	job := &models.Job{ID: uuid.New(), Payload: []byte(`not json`)}
	var v map[string]any
	err := UnmarshalPayload(job, &v)
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
	var kindErr *jobkind.Error
	if ke, ok := err.(*jobkind.Error); ok {
		kindErr = ke
	}
	if kindErr == nil || kindErr.Kind != jobkind.KindValidation {
		t.Errorf("expected a validation-kind error, got %v", err)
	}
}

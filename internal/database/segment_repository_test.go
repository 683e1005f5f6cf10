package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aurorafeed/broadcast-core/internal/jobkind"
	"github.com/aurorafeed/broadcast-core/internal/models"
)

func connectTestDB(t *testing.T) *DB {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	db, err := Connect(dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return db
}

func insertTestSegment(t *testing.T, db *DB, state string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO segments (id, slot_type, state, lang, max_retries, priority, created_at, updated_at)
		VALUES ($1, 'news', $2, 'en', 3, 5, now(), now())
	`, id, state)
	if err != nil {
		t.Fatalf("insert test segment: %v", err)
	}
	return id
}

func TestSegmentRepository_GetAndTransition(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewSegmentRepository(db)
	ctx := context.Background()

	id := insertTestSegment(t, db, models.SegmentQueued)

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != models.SegmentQueued {
		t.Errorf("state = %s, want %s", got.State, models.SegmentQueued)
	}

	if err := repo.TransitionTo(ctx, id, models.SegmentRetrieving); err != nil {
		t.Fatalf("transition queued->retrieving: %v", err)
	}
	got, err = repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get after transition: %v", err)
	}
	if got.State != models.SegmentRetrieving {
		t.Errorf("state after transition = %s, want %s", got.State, models.SegmentRetrieving)
	}
}

func TestSegmentRepository_TransitionTo_RejectsIllegalJump(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewSegmentRepository(db)
	ctx := context.Background()

	id := insertTestSegment(t, db, models.SegmentQueued)

	err := repo.TransitionTo(ctx, id, models.SegmentReady)
	if err == nil {
		t.Fatal("expected illegal transition queued->ready to fail")
	}
	var kindErr *jobkind.Error
	if ke, ok := err.(*jobkind.Error); ok {
		kindErr = ke
	}
	if kindErr == nil || kindErr.Kind != jobkind.KindIntegrity {
		t.Errorf("expected integrity-kind error, got %v", err)
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != models.SegmentQueued {
		t.Errorf("state after rejected transition = %s, want unchanged %s", got.State, models.SegmentQueued)
	}
}

func TestSegmentRepository_FailedOnlyRequeuesToQueued(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewSegmentRepository(db)
	ctx := context.Background()

	id := insertTestSegment(t, db, models.SegmentFailed)

	if err := repo.TransitionTo(ctx, id, models.SegmentRetrieving); err == nil {
		t.Fatal("expected failed->retrieving to be rejected")
	}
	if err := repo.TransitionTo(ctx, id, models.SegmentQueued); err != nil {
		t.Fatalf("failed->queued should be allowed: %v", err)
	}
}

func TestSegmentRepository_SetScriptAndSetAsset(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewSegmentRepository(db)
	ctx := context.Background()

	id := insertTestSegment(t, db, models.SegmentGenerating)
	citations := []models.Citation{{DocID: "doc-1", ChunkID: uuid.New(), Title: "Test doc", RelevanceScore: 0.9}}

	if err := repo.SetScript(ctx, id, "# Script body", citations); err != nil {
		t.Fatalf("set script: %v", err)
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ScriptMD == nil || *got.ScriptMD != "# Script body" {
		t.Errorf("script_md = %v, want '# Script body'", got.ScriptMD)
	}
	if len(got.Citations) != 1 || got.Citations[0].DocID != "doc-1" {
		t.Errorf("citations = %+v, want one citation with doc_id doc-1", got.Citations)
	}

	assetID := uuid.New()
	_, err = db.ExecContext(ctx, `
		INSERT INTO assets (id, content_hash, storage_path, validation_status, created_at, updated_at)
		VALUES ($1, $2, 'raw/test.wav', 'pending', now(), now())
	`, assetID, assetID.String())
	if err != nil {
		t.Fatalf("insert test asset: %v", err)
	}

	if err := repo.SetAsset(ctx, id, assetID, 42.5); err != nil {
		t.Fatalf("set asset: %v", err)
	}
	got, err = repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get after set asset: %v", err)
	}
	if got.AssetID == nil || *got.AssetID != assetID {
		t.Errorf("asset_id = %v, want %s", got.AssetID, assetID)
	}
	if got.DurationSec == nil || *got.DurationSec != 42.5 {
		t.Errorf("duration_sec = %v, want 42.5", got.DurationSec)
	}
}

func TestSegmentRepository_FindByIdempotencyKey(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	ctx := context.Background()

	key := "idem-" + uuid.New().String()
	id := uuid.New()
	_, err := db.ExecContext(ctx, `
		INSERT INTO segments (id, slot_type, state, lang, max_retries, priority, idempotency_key, created_at, updated_at)
		VALUES ($1, 'news', $2, 'en', 3, 5, $3, now(), now())
	`, id, models.SegmentReady, key)
	if err != nil {
		t.Fatalf("insert test segment: %v", err)
	}

	repo := NewSegmentRepository(db)
	found, err := repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		t.Fatalf("find by idempotency key: %v", err)
	}
	if found == nil || found.ID != id {
		t.Fatalf("found = %v, want segment %s", found, id)
	}

	miss, err := repo.FindByIdempotencyKey(ctx, "no-such-key-"+uuid.New().String())
	if err != nil {
		t.Fatalf("find by missing idempotency key: %v", err)
	}
	if miss != nil {
		t.Errorf("expected nil for missing key, got %+v", miss)
	}
}

func TestSegmentRepository_ListReadyForPlayout(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	ctx := context.Background()

	assetID := uuid.New()
	_, err := db.ExecContext(ctx, `
		INSERT INTO assets (id, content_hash, storage_path, validation_status, created_at, updated_at)
		VALUES ($1, $2, 'final/test.wav', 'passed', now(), now())
	`, assetID, assetID.String())
	if err != nil {
		t.Fatalf("insert test asset: %v", err)
	}

	id := uuid.New()
	scheduled := time.Now().Add(time.Minute)
	_, err = db.ExecContext(ctx, `
		INSERT INTO segments (id, slot_type, state, lang, max_retries, priority, asset_id, scheduled_start_ts, duration_sec, created_at, updated_at)
		VALUES ($1, 'news', $2, 'en', 3, 5, $3, $4, 30.0, now(), now())
	`, id, models.SegmentReady, assetID, scheduled)
	if err != nil {
		t.Fatalf("insert ready segment: %v", err)
	}

	repo := NewSegmentRepository(db)
	list, err := repo.ListReadyForPlayout(ctx, 50)
	if err != nil {
		t.Fatalf("list ready for playout: %v", err)
	}
	var found bool
	for _, s := range list {
		if s.ID == id {
			found = true
			if s.AssetID == nil || *s.AssetID != assetID {
				t.Errorf("listed segment asset_id = %v, want %s", s.AssetID, assetID)
			}
		}
	}
	if !found {
		t.Fatalf("ready segment %s not found in playout list", id)
	}
}

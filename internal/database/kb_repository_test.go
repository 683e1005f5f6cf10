package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aurorafeed/broadcast-core/internal/models"
)

func insertTestUniverseDoc(t *testing.T, db *DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO universe_docs (id, title, body, created_at, updated_at) VALUES ($1, $2, $3, now(), now())
	`, id, "Test doc "+id.String(), "Body text for "+id.String())
	if err != nil {
		t.Fatalf("insert test universe doc: %v", err)
	}
	return id
}

func TestKBRepository_GetUniverseDoc(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewKBRepository(db)
	ctx := context.Background()

	id := insertTestUniverseDoc(t, db)
	got, err := repo.GetUniverseDoc(ctx, id)
	if err != nil {
		t.Fatalf("get universe doc: %v", err)
	}
	if got.ID != id {
		t.Errorf("id = %s, want %s", got.ID, id)
	}
}

func TestKBRepository_GetEvent(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewKBRepository(db)
	ctx := context.Background()

	id := uuid.New()
	eventDate := time.Now().Add(-24 * time.Hour)
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (id, title, body, event_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, id, "Test event", "Something happened", eventDate)
	if err != nil {
		t.Fatalf("insert test event: %v", err)
	}

	got, err := repo.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.ID != id {
		t.Errorf("id = %s, want %s", got.ID, id)
	}
}

func TestKBRepository_ReplaceChunks(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewKBRepository(db)
	ctx := context.Background()

	sourceID := insertTestUniverseDoc(t, db)
	sourceType := "universe_doc"

	chunks := []models.KBChunk{
		{ID: uuid.New(), SourceID: sourceID, SourceType: sourceType, ChunkText: "first chunk", ChunkIndex: 0, TokenCount: 120, ContentHash: "h1", Lang: "en"},
		{ID: uuid.New(), SourceID: sourceID, SourceType: sourceType, ChunkText: "second chunk", ChunkIndex: 1, TokenCount: 130, ContentHash: "h2", Lang: "en"},
	}
	vectors := [][]float32{
		make([]float32, 1024),
		make([]float32, 1024),
	}

	if err := repo.ReplaceChunks(ctx, sourceID, sourceType, chunks, vectors); err != nil {
		t.Fatalf("replace chunks (initial): %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM kb_chunks WHERE source_id = $1 AND source_type = $2`, sourceID, sourceType).Scan(&count); err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if count != 2 {
		t.Fatalf("chunk count = %d, want 2", count)
	}
	var embCount int
	if err := db.QueryRowContext(ctx, `
		SELECT count(*) FROM kb_embeddings WHERE chunk_id IN (SELECT id FROM kb_chunks WHERE source_id = $1 AND source_type = $2)
	`, sourceID, sourceType).Scan(&embCount); err != nil {
		t.Fatalf("count embeddings: %v", err)
	}
	if embCount != 2 {
		t.Fatalf("embedding count = %d, want 2", embCount)
	}

	// Replaying with a smaller chunk set must fully replace, not append.
	smaller := []models.KBChunk{
		{ID: uuid.New(), SourceID: sourceID, SourceType: sourceType, ChunkText: "only chunk", ChunkIndex: 0, TokenCount: 90, ContentHash: "h3", Lang: "en"},
	}
	if err := repo.ReplaceChunks(ctx, sourceID, sourceType, smaller, vectors[:1]); err != nil {
		t.Fatalf("replace chunks (smaller set): %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM kb_chunks WHERE source_id = $1 AND source_type = $2`, sourceID, sourceType).Scan(&count); err != nil {
		t.Fatalf("count chunks after replace: %v", err)
	}
	if count != 1 {
		t.Fatalf("chunk count after replace = %d, want 1", count)
	}
}

func TestKBRepository_ReplaceChunks_MismatchedLengths(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewKBRepository(db)
	ctx := context.Background()

	sourceID := insertTestUniverseDoc(t, db)
	chunks := []models.KBChunk{{ID: uuid.New(), SourceID: sourceID, SourceType: "universe_doc", ChunkText: "x", ChunkIndex: 0, TokenCount: 1, ContentHash: "h", Lang: "en"}}

	err := repo.ReplaceChunks(ctx, sourceID, "universe_doc", chunks, nil)
	if err == nil {
		t.Fatal("expected mismatched chunks/vectors length to error")
	}
}

func TestKBRepository_UpsertIndexStatus(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewKBRepository(db)
	ctx := context.Background()

	sourceID := insertTestUniverseDoc(t, db)
	status := &models.KBIndexStatus{
		SourceID:          sourceID,
		SourceType:        "universe_doc",
		State:             models.IndexStatePending,
		ChunksCreated:     0,
		EmbeddingsCreated: 0,
	}
	if err := repo.UpsertIndexStatus(ctx, status); err != nil {
		t.Fatalf("upsert index status (insert): %v", err)
	}

	status.State = "complete"
	status.ChunksCreated = 3
	status.EmbeddingsCreated = 3
	if err := repo.UpsertIndexStatus(ctx, status); err != nil {
		t.Fatalf("upsert index status (update): %v", err)
	}

	var state string
	var chunksCreated int
	if err := db.QueryRowContext(ctx, `
		SELECT state, chunks_created FROM kb_index_status WHERE source_id = $1 AND source_type = $2
	`, sourceID, "universe_doc").Scan(&state, &chunksCreated); err != nil {
		t.Fatalf("query index status: %v", err)
	}
	if state != "complete" || chunksCreated != 3 {
		t.Errorf("state=%s chunks_created=%d, want complete/3", state, chunksCreated)
	}
}

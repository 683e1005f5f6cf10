package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/aurorafeed/broadcast-core/internal/models"
)

// KBRepository persists chunked knowledge-base text, its embeddings, and
// per-source indexing progress for the kb_index pipeline (C3+C4).
type KBRepository struct {
	db *DB
}

func NewKBRepository(db *DB) *KBRepository {
	return &KBRepository{db: db}
}

func (r *KBRepository) GetUniverseDoc(ctx context.Context, id uuid.UUID) (*models.UniverseDoc, error) {
	d := &models.UniverseDoc{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, body, lang, source_url, created_at, updated_at FROM universe_docs WHERE id = $1
	`, id).Scan(&d.ID, &d.Title, &d.Body, &d.Lang, &d.SourceURL, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("universe doc %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get universe doc: %w", err)
	}
	return d, nil
}

func (r *KBRepository) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	e := &models.Event{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, body, event_date, lang, created_at, updated_at FROM events WHERE id = $1
	`, id).Scan(&e.ID, &e.Title, &e.Body, &e.EventDate, &e.Lang, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// ReplaceChunks atomically drops any existing chunks/embeddings for
// (sourceID, sourceType) and inserts the freshly computed set, keeping a
// source's chunk sequence contiguous per the §3 KBChunk invariant.
func (r *KBRepository) ReplaceChunks(ctx context.Context, sourceID uuid.UUID, sourceType string, chunks []models.KBChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("replace chunks: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace chunks: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM kb_embeddings WHERE chunk_id IN (SELECT id FROM kb_chunks WHERE source_id = $1 AND source_type = $2)
	`, sourceID, sourceType); err != nil {
		return fmt.Errorf("replace chunks: delete embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_chunks WHERE source_id = $1 AND source_type = $2`, sourceID, sourceType); err != nil {
		return fmt.Errorf("replace chunks: delete chunks: %w", err)
	}

	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kb_chunks (id, source_id, source_type, chunk_text, chunk_index, token_count, content_hash, lang, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		`, c.ID, sourceID, sourceType, c.ChunkText, c.ChunkIndex, c.TokenCount, c.ContentHash, c.Lang); err != nil {
			return fmt.Errorf("replace chunks: insert chunk %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kb_embeddings (chunk_id, vector, created_at) VALUES ($1, $2, now())
		`, c.ID, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("replace chunks: insert embedding %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// UpsertIndexStatus records kb_index progress for one upstream source.
func (r *KBRepository) UpsertIndexStatus(ctx context.Context, status *models.KBIndexStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kb_index_status (source_id, source_type, state, chunks_created, embeddings_created, started_at, completed_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id, source_type) DO UPDATE SET
			state = EXCLUDED.state,
			chunks_created = EXCLUDED.chunks_created,
			embeddings_created = EXCLUDED.embeddings_created,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			error = EXCLUDED.error
	`, status.SourceID, status.SourceType, status.State, status.ChunksCreated, status.EmbeddingsCreated,
		status.StartedAt, status.CompletedAt, status.Error)
	if err != nil {
		return fmt.Errorf("upsert kb index status: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aurorafeed/broadcast-core/internal/models"
)

// AssetRepository persists immutable-once-validated audio artifacts,
// deduplicated by content hash per §4.8's mastering dedupe step.
type AssetRepository struct {
	db *DB
}

func NewAssetRepository(db *DB) *AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) Get(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	a := &models.Asset{}
	var metadataJSON []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, content_hash, storage_path, lufs_integrated, peak_db, duration_sec,
			validation_status, validation_errors, metadata, created_at, updated_at
		FROM assets WHERE id = $1
	`, id).Scan(
		&a.ID, &a.ContentHash, &a.StoragePath, &a.LufsIntegrated, &a.PeakDB, &a.DurationSec,
		&a.ValidationStatus, pq.Array(&a.ValidationErrors), &metadataJSON, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal asset metadata: %w", err)
		}
	}
	return a, nil
}

// FindPassedByContentHash looks up an already-validated asset sharing
// content_hash, the C8 dedupe lookup.
func (r *AssetRepository) FindPassedByContentHash(ctx context.Context, hash string) (*models.Asset, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM assets WHERE content_hash = $1 AND validation_status = $2 LIMIT 1
	`, hash, models.AssetValidationPassed).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find asset by content hash: %w", err)
	}
	return r.Get(ctx, id)
}

// Insert creates a new pending asset row, called by the segment orchestrator
// right after rendering uploads the raw audio.
func (r *AssetRepository) Insert(ctx context.Context, contentHash, storagePath string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (id, content_hash, storage_path, validation_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, id, contentHash, storagePath, models.AssetValidationPending)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert asset: %w", err)
	}
	return id, nil
}

// SetDuplicateOf marks asset id as a duplicate of canonical, per the C8
// dedupe path (rebinding the segment to canonical happens in the caller).
func (r *AssetRepository) SetDuplicateOf(ctx context.Context, id, canonical uuid.UUID) error {
	metadata, err := json.Marshal(map[string]any{"duplicate_of": canonical.String()})
	if err != nil {
		return fmt.Errorf("marshal duplicate_of metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `UPDATE assets SET metadata = $2, updated_at = now() WHERE id = $1`, id, metadata)
	if err != nil {
		return fmt.Errorf("set duplicate_of: %w", err)
	}
	return nil
}

// RecordMastering persists the measured loudness metrics and validation
// outcome from the normalizer, and updates storage_path to the final
// normalized object key.
func (r *AssetRepository) RecordMastering(ctx context.Context, id uuid.UUID, storagePath string, lufs, peakDB, durationSec float64, status string, issues []string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE assets SET storage_path = $2, lufs_integrated = $3, peak_db = $4, duration_sec = $5,
			validation_status = $6, validation_errors = $7, updated_at = now()
		WHERE id = $1
	`, id, storagePath, lufs, peakDB, durationSec, status, pq.Array(issues))
	if err != nil {
		return fmt.Errorf("record mastering result: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aurorafeed/broadcast-core/internal/jobkind"
	"github.com/aurorafeed/broadcast-core/internal/models"
)

// SegmentRepository persists the atomic unit of broadcast content and
// enforces the §3 state transition table at the data layer, mirroring the
// teacher's raw database/sql repository style.
type SegmentRepository struct {
	db *DB
}

func NewSegmentRepository(db *DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

func (r *SegmentRepository) Get(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	s := &models.Segment{}
	var citationsJSON []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, program_id, slot_type, state, lang, script_md, asset_id, duration_sec,
			scheduled_start_ts, aired_at, retry_count, max_retries, last_error, citations,
			cache_key, idempotency_key, priority, created_at, updated_at
		FROM segments WHERE id = $1
	`, id).Scan(
		&s.ID, &s.ProgramID, &s.SlotType, &s.State, &s.Lang, &s.ScriptMD, &s.AssetID, &s.DurationSec,
		&s.ScheduledStartTS, &s.AiredAt, &s.RetryCount, &s.MaxRetries, &s.LastError, &citationsJSON,
		&s.CacheKey, &s.IdempotencyKey, &s.Priority, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobkind.Integrity(fmt.Sprintf("segment %s not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	if len(citationsJSON) > 0 {
		if err := json.Unmarshal(citationsJSON, &s.Citations); err != nil {
			return nil, fmt.Errorf("unmarshal segment citations: %w", err)
		}
	}
	return s, nil
}

// FindByIdempotencyKey supports C7's idempotency short-circuit: reuse a
// prior successful run's script/asset instead of regenerating.
func (r *SegmentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Segment, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `SELECT id FROM segments WHERE idempotency_key = $1`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find segment by idempotency key: %w", err)
	}
	return r.Get(ctx, id)
}

// TransitionTo moves segment id from its current state to next, validated
// against models.SegmentTransitionAllowed. Only state and updated_at are
// written; stage fields are persisted separately (SetScript, SetAsset).
func (r *SegmentRepository) TransitionTo(ctx context.Context, id uuid.UUID, next string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transition segment: begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT state FROM segments WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobkind.Integrity(fmt.Sprintf("segment %s not found", id), nil)
		}
		return fmt.Errorf("transition segment: %w", err)
	}
	if !models.SegmentTransitionAllowed(current, next) {
		return jobkind.Integrity(fmt.Sprintf("illegal segment transition %s -> %s", current, next), nil)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE segments SET state = $2, updated_at = now() WHERE id = $1`, id, next); err != nil {
		return fmt.Errorf("transition segment: update: %w", err)
	}
	return tx.Commit()
}

// SetScript persists the generated script and its citations, called when
// entering the rendering state.
func (r *SegmentRepository) SetScript(ctx context.Context, id uuid.UUID, scriptMD string, citations []models.Citation) error {
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE segments SET script_md = $2, citations = $3, updated_at = now() WHERE id = $1
	`, id, scriptMD, citationsJSON)
	if err != nil {
		return fmt.Errorf("set segment script: %w", err)
	}
	return nil
}

// SetAsset links a rendered asset and its duration to the segment.
func (r *SegmentRepository) SetAsset(ctx context.Context, id, assetID uuid.UUID, durationSec float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE segments SET asset_id = $2, duration_sec = $3, updated_at = now() WHERE id = $1
	`, id, assetID, durationSec)
	if err != nil {
		return fmt.Errorf("set segment asset: %w", err)
	}
	return nil
}

// MarkFailed records the last error without changing state; the job store's
// retry/dead-letter flow owns state recovery via re-enqueue to queued.
func (r *SegmentRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE segments SET retry_count = retry_count + 1, last_error = $2, updated_at = now() WHERE id = $1
	`, id, cause.Error())
	if err != nil {
		return fmt.Errorf("mark segment failed: %w", err)
	}
	return nil
}

// ListReadyForPlayout returns ready segments ordered for the C9 playout feed.
func (r *SegmentRepository) ListReadyForPlayout(ctx context.Context, limit int) ([]*models.Segment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, slot_type, asset_id, scheduled_start_ts, priority, duration_sec
		FROM segments
		WHERE state = $1 AND asset_id IS NOT NULL
		ORDER BY scheduled_start_ts ASC NULLS LAST, priority DESC
		LIMIT $2
	`, models.SegmentReady, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready segments: %w", err)
	}
	defer rows.Close()

	var out []*models.Segment
	for rows.Next() {
		s := &models.Segment{State: models.SegmentReady}
		if err := rows.Scan(&s.ID, &s.SlotType, &s.AssetID, &s.ScheduledStartTS, &s.Priority, &s.DurationSec); err != nil {
			return nil, fmt.Errorf("scan ready segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

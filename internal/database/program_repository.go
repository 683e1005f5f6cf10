package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aurorafeed/broadcast-core/internal/models"
)

// ProgramRepository reads programs seeded by the external scheduler;
// read-only from this core's perspective.
type ProgramRepository struct {
	db *DB
}

func NewProgramRepository(db *DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

func (r *ProgramRepository) Get(ctx context.Context, id uuid.UUID) (*models.Program, error) {
	p := &models.Program{}
	err := r.db.QueryRowContext(ctx, `SELECT id, name, description FROM programs WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("program %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get program: %w", err)
	}
	return p, nil
}

// DJRepository reads DJ personas seeded by the external scheduler.
type DJRepository struct {
	db *DB
}

func NewDJRepository(db *DB) *DJRepository {
	return &DJRepository{db: db}
}

func (r *DJRepository) Get(ctx context.Context, id uuid.UUID) (*models.DJ, error) {
	dj := &models.DJ{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, bio, personality_traits, voice_id, tone_primary, tone_secondary, tone_neutral
		FROM djs WHERE id = $1
	`, id).Scan(&dj.ID, &dj.Name, &dj.Bio, pq.Array(&dj.PersonalityTraits), &dj.VoiceID,
		&dj.ToneBalance.Primary, &dj.ToneBalance.Secondary, &dj.ToneBalance.Neutral)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dj %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dj: %w", err)
	}
	return dj, nil
}

// GetDefault returns the DJ persona whose name sorts first, used when a
// segment carries no more specific DJ association (DJ selection per segment
// is owned by the external scheduler; this core only needs a persona to
// populate C6 prompt context when one hasn't been assigned elsewhere).
func (r *DJRepository) GetDefault(ctx context.Context) (*models.DJ, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `SELECT id FROM djs ORDER BY name ASC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default dj: %w", err)
	}
	return r.Get(ctx, id)
}

// ToneReportRepository persists per-segment tone validator scores and
// supports the /analytics/tone/aggregate endpoint.
type ToneReportRepository struct {
	db *DB
}

func NewToneReportRepository(db *DB) *ToneReportRepository {
	return &ToneReportRepository{db: db}
}

func (r *ToneReportRepository) Insert(ctx context.Context, report *models.ToneReport) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tone_reports (id, date, segment_id, slot_type, score, flagged_terms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, report.ID, report.Date, report.SegmentID, report.SlotType, report.Score, pq.Array(report.FlaggedTerms))
	if err != nil {
		return fmt.Errorf("insert tone report: %w", err)
	}
	return nil
}

// AggregateByDate computes the /analytics/tone/aggregate response for date.
func (r *ToneReportRepository) AggregateByDate(ctx context.Context, date string) (segmentsCount int, averageScore float64, flaggedCount int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT count(*), coalesce(avg(score), 0), count(*) FILTER (WHERE array_length(flagged_terms, 1) > 0)
		FROM tone_reports WHERE date::date = $1::date
	`, date).Scan(&segmentsCount, &averageScore, &flaggedCount)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("aggregate tone reports: %w", err)
	}
	return segmentsCount, averageScore, flaggedCount, nil
}

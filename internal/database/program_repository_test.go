package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aurorafeed/broadcast-core/internal/models"
)

func TestProgramRepository_Get(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewProgramRepository(db)
	ctx := context.Background()

	id := uuid.New()
	if _, err := db.ExecContext(ctx, `INSERT INTO programs (id, name, description) VALUES ($1, $2, $3)`,
		id, "Morning Drive", "early broadcast block"); err != nil {
		t.Fatalf("insert test program: %v", err)
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Morning Drive" {
		t.Errorf("name = %s, want Morning Drive", got.Name)
	}
}

func insertTestDJ(t *testing.T, db *DB, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	traits := []string{"witty", "curious"}
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO djs (id, name, bio, personality_traits, voice_id, tone_primary, tone_secondary, tone_neutral)
		VALUES ($1, $2, $3, $4, $5, 0.6, 0.3, 0.1)
	`, id, name, "a test persona", pq.Array(traits), "voice-1")
	if err != nil {
		t.Fatalf("insert test dj: %v", err)
	}
	return id
}

func TestDJRepository_Get(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewDJRepository(db)
	ctx := context.Background()

	id := insertTestDJ(t, db, "Aria Test")
	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Aria Test" {
		t.Errorf("name = %s, want Aria Test", got.Name)
	}
	if len(got.PersonalityTraits) != 2 {
		t.Errorf("personality_traits = %v, want 2 entries", got.PersonalityTraits)
	}
	if got.ToneBalance.Primary != 0.6 {
		t.Errorf("tone_primary = %v, want 0.6", got.ToneBalance.Primary)
	}
}

func TestDJRepository_GetDefault(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewDJRepository(db)
	ctx := context.Background()

	insertTestDJ(t, db, "AAA First Alphabetically "+uuid.New().String())

	got, err := repo.GetDefault(ctx)
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if got == nil {
		t.Fatal("expected a default dj, got nil")
	}
}

func TestToneReportRepository_InsertAndAggregate(t *testing.T) {
	db := connectTestDB(t)
	defer db.Close()
	repo := NewToneReportRepository(db)
	ctx := context.Background()

	segmentID := insertTestSegment(t, db, models.SegmentReady)
	date := time.Now()

	clean := &models.ToneReport{ID: uuid.New(), Date: date, SegmentID: segmentID, SlotType: "news", Score: 92}
	if err := repo.Insert(ctx, clean); err != nil {
		t.Fatalf("insert clean report: %v", err)
	}

	flaggedSegmentID := insertTestSegment(t, db, models.SegmentReady)
	flagged := &models.ToneReport{
		ID: uuid.New(), Date: date, SegmentID: flaggedSegmentID, SlotType: "culture",
		Score: 40, FlaggedTerms: []string{"dystopian"},
	}
	if err := repo.Insert(ctx, flagged); err != nil {
		t.Fatalf("insert flagged report: %v", err)
	}

	dateStr := date.Format("2006-01-02")
	count, avg, flaggedCount, err := repo.AggregateByDate(ctx, dateStr)
	if err != nil {
		t.Fatalf("aggregate by date: %v", err)
	}
	if count < 2 {
		t.Errorf("segments count = %d, want at least 2", count)
	}
	if avg <= 0 {
		t.Errorf("average score = %v, want > 0", avg)
	}
	if flaggedCount < 1 {
		t.Errorf("flagged count = %d, want at least 1", flaggedCount)
	}
}

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultReaperInterval = 60 * time.Second

// Reaper is the sole guarantor of liveness against crashed workers: every
// tick it finds jobs stuck in processing with an expired lease and calls
// Fail on them, which applies the same backoff/dead-letter logic as any
// other failure. Grounded on internal/webhook/delivery.go's RetryWorker
// ticker-loop shape.
type Reaper struct {
	store    *Store
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewReaper(store *Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	return &Reaper{store: store, interval: interval, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Start runs the reaper loop until ctx is cancelled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				if err := r.tick(ctx); err != nil {
					log.Error().Err(err).Msg("reaper tick failed")
				}
			}
		}
	}()
}

func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reaper) tick(ctx context.Context) error {
	ids, err := r.staleJobIDs(ctx)
	if err != nil {
		return fmt.Errorf("list stale jobs: %w", err)
	}
	for _, id := range ids {
		if err := r.store.Fail(ctx, id, fmt.Errorf("lease expired")); err != nil {
			log.Error().Err(err).Str("job_id", id.String()).Msg("reaper failed to reclaim stale job")
			continue
		}
		log.Info().Str("job_id", id.String()).Msg("reaper reclaimed stale job")
	}
	return nil
}

func (r *Reaper) staleJobIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id FROM jobs WHERE state = 'processing' AND lease_expires_at < now()
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

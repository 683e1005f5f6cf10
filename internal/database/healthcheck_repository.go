package database

import (
	"context"
	"fmt"

	"github.com/aurorafeed/broadcast-core/internal/models"
)

// HealthCheckRepository persists per-worker-instance liveness reports.
type HealthCheckRepository struct {
	db *DB
}

func NewHealthCheckRepository(db *DB) *HealthCheckRepository {
	return &HealthCheckRepository{db: db}
}

// Upsert records the current jobs_in_flight/uptime for a worker instance.
func (r *HealthCheckRepository) Upsert(ctx context.Context, hc *models.HealthCheck) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO health_checks (worker_type, instance_id, status, last_heartbeat, jobs_in_flight, uptime_sec)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (worker_type, instance_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat,
			jobs_in_flight = EXCLUDED.jobs_in_flight,
			uptime_sec = EXCLUDED.uptime_sec
	`, hc.WorkerType, hc.InstanceID, hc.Status, hc.LastHeartbeat, hc.JobsInFlight, hc.UptimeSec)
	if err != nil {
		return fmt.Errorf("upsert health check: %w", err)
	}
	return nil
}

// ListByType returns the most recent heartbeat for every instance of worker_type.
func (r *HealthCheckRepository) ListByType(ctx context.Context, workerType string) ([]*models.HealthCheck, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT worker_type, instance_id, status, last_heartbeat, jobs_in_flight, uptime_sec
		FROM health_checks WHERE worker_type = $1
	`, workerType)
	if err != nil {
		return nil, fmt.Errorf("list health checks: %w", err)
	}
	defer rows.Close()

	var out []*models.HealthCheck
	for rows.Next() {
		hc := &models.HealthCheck{}
		if err := rows.Scan(&hc.WorkerType, &hc.InstanceID, &hc.Status, &hc.LastHeartbeat, &hc.JobsInFlight, &hc.UptimeSec); err != nil {
			return nil, fmt.Errorf("scan health check: %w", err)
		}
		out = append(out, hc)
	}
	return out, rows.Err()
}

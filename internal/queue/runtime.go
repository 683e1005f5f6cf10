package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/models"
)

// Handler processes one claimed job. Returning an error fails the job via
// Store.Fail; a nil return completes it. Handlers should wrap domain errors
// in a jobkind.Error so Fail can apply the right taxonomy bucket.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
}

// Waker is satisfied by notify.KafkaSubscriber. Listen may be nil-returning
// (a Runtime with no Waker just polls on Config.PollInterval).
type Waker interface {
	Listen(ctx context.Context, jobType, instanceID string) (<-chan struct{}, func() error)
}

// Config parameterizes a Runtime per §4.2 / §6's worker env vars.
type Config struct {
	WorkerType        string
	InstanceID        string
	MaxConcurrentJobs int
	LeaseSeconds      int
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	DrainTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 4
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 120
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Runtime is the generic worker harness: claim loop, bounded concurrency,
// per-job lease renewal, heartbeat, graceful drain on shutdown. Grounded on
// processor.JobProcessor's semaphore pattern and webhook.RetryWorker's
// ticker-loop shape, generalized from a single job type to any Handler.
type Runtime struct {
	cfg     Config
	store   *Store
	health  *database.HealthCheckRepository
	handler Handler
	waker   Waker

	sem     chan struct{}
	wg      sync.WaitGroup
	started time.Time
}

func NewRuntime(cfg Config, store *Store, health *database.HealthCheckRepository, handler Handler, waker Waker) *Runtime {
	cfg = cfg.withDefaults()
	return &Runtime{
		cfg:     cfg,
		store:   store,
		health:  health,
		handler: handler,
		waker:   waker,
		sem:     make(chan struct{}, cfg.MaxConcurrentJobs),
	}
}

// Run blocks until ctx is cancelled, then drains in-flight jobs up to
// DrainTimeout before returning.
func (r *Runtime) Run(ctx context.Context) {
	r.started = time.Now()
	log.Info().Str("worker_type", r.cfg.WorkerType).Str("instance_id", r.cfg.InstanceID).
		Int("max_concurrent_jobs", r.cfg.MaxConcurrentJobs).Msg("worker runtime starting")

	var wake <-chan struct{}
	var closeWaker func() error
	if r.waker != nil {
		wake, closeWaker = r.waker.Listen(ctx, r.cfg.WorkerType, r.cfg.InstanceID)
		defer closeWaker()
	}

	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	r.beat(ctx)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-heartbeat.C:
			r.beat(ctx)
		case <-poll.C:
			r.drainClaimable(ctx)
		case <-wake:
			r.drainClaimable(ctx)
		}
	}

	log.Info().Str("worker_type", r.cfg.WorkerType).Msg("worker runtime draining")
	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(r.cfg.DrainTimeout):
		log.Warn().Str("worker_type", r.cfg.WorkerType).Msg("drain timeout exceeded, exiting with jobs still in flight")
	}
}

// drainClaimable claims and dispatches jobs until concurrency is saturated
// or no more are available, so a single wake-up or poll tick can pick up a
// backlog rather than one job at a time.
func (r *Runtime) drainClaimable(ctx context.Context) {
	for {
		select {
		case r.sem <- struct{}{}:
		default:
			return
		}

		job, err := r.store.Claim(ctx, r.cfg.WorkerType, r.cfg.InstanceID, r.cfg.LeaseSeconds)
		if err != nil {
			log.Error().Err(err).Str("worker_type", r.cfg.WorkerType).Msg("claim failed")
			<-r.sem
			return
		}
		if job == nil {
			<-r.sem
			return
		}

		r.wg.Add(1)
		go func(job *models.Job) {
			defer r.wg.Done()
			defer func() { <-r.sem }()
			r.process(ctx, job)
		}(job)
	}
}

// process renews the lease at half its duration until the handler returns,
// so a slow job never outlives the lease it was claimed under.
func (r *Runtime) process(ctx context.Context, job *models.Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	renew := time.NewTicker(time.Duration(r.cfg.LeaseSeconds) * time.Second / 2)
	defer renew.Stop()
	go func() {
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-renew.C:
				if err := r.store.RenewLease(ctx, job.ID, r.cfg.InstanceID, r.cfg.LeaseSeconds); err != nil {
					log.Error().Err(err).Str("job_id", job.ID.String()).Msg("lease renewal failed, abandoning job")
					cancel()
					return
				}
			}
		}
	}()

	err := r.handler.Handle(jobCtx, job)
	if err != nil {
		if failErr := r.store.Fail(ctx, job.ID, err); failErr != nil {
			log.Error().Err(failErr).Str("job_id", job.ID.String()).Msg("failed to record job failure")
		}
		return
	}
	if err := r.store.Complete(ctx, job.ID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark job completed")
	}
}

func (r *Runtime) beat(ctx context.Context) {
	if r.health == nil {
		return
	}
	hc := &models.HealthCheck{
		WorkerType:    r.cfg.WorkerType,
		InstanceID:    r.cfg.InstanceID,
		Status:        models.HealthStatusHealthy,
		LastHeartbeat: time.Now(),
		JobsInFlight:  len(r.sem),
		UptimeSec:     int64(time.Since(r.started).Seconds()),
	}
	if err := r.health.Upsert(ctx, hc); err != nil {
		log.Error().Err(err).Str("worker_type", r.cfg.WorkerType).Msg("heartbeat upsert failed")
	}
}

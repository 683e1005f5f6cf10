package models

import (
	"time"

	"github.com/google/uuid"
)

// Job is a unit of durable work claimed and executed by a worker.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	Type           string     `json:"type"` // kb_index, segment_make, audio_finalize
	Payload        []byte     `json:"payload"`
	Priority       int        `json:"priority"` // 0..10, higher claims first
	State          string     `json:"state"`    // pending, processing, completed, failed
	ScheduledFor   time.Time  `json:"scheduled_for"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	LeaseOwner     *string    `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Claimable reports whether the job is eligible for claim at the given instant.
func (j *Job) Claimable(now time.Time) bool {
	return j.State == JobStatePending && !j.ScheduledFor.After(now)
}

// Stale reports whether a processing job's lease has expired.
func (j *Job) Stale(now time.Time) bool {
	return j.State == JobStateProcessing && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
}

const (
	JobStatePending    = "pending"
	JobStateProcessing = "processing"
	JobStateCompleted  = "completed"
	JobStateFailed     = "failed"
)

const (
	JobTypeKBIndex       = "kb_index"
	JobTypeSegmentMake   = "segment_make"
	JobTypeAudioFinalize = "audio_finalize"
)

// DeadLetter is the terminal quarantine for a job that exhausted retries.
type DeadLetter struct {
	ID            uuid.UUID  `json:"id"`
	JobID         uuid.UUID  `json:"job_id"`
	JobType       string     `json:"job_type"`
	Payload       []byte     `json:"payload"`
	FailureReason string     `json:"failure_reason"`
	AttemptsMade  int        `json:"attempts_made"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Citation links a generated script passage back to the RAG chunk it drew on.
type Citation struct {
	DocID           string  `json:"doc_id"`
	ChunkID         uuid.UUID `json:"chunk_id"`
	Title           string  `json:"title,omitempty"`
	RelevanceScore  float64 `json:"relevance_score"`
}

// Segment is the atomic unit of broadcast content.
type Segment struct {
	ID               uuid.UUID  `json:"id"`
	ProgramID        *uuid.UUID `json:"program_id,omitempty"`
	SlotType         string     `json:"slot_type"`
	State            string     `json:"state"`
	Lang             string     `json:"lang"`
	ScriptMD         *string    `json:"script_md,omitempty"`
	AssetID          *uuid.UUID `json:"asset_id,omitempty"`
	DurationSec      *float64   `json:"duration_sec,omitempty"`
	ScheduledStartTS *time.Time `json:"scheduled_start_ts,omitempty"`
	AiredAt          *time.Time `json:"aired_at,omitempty"`
	RetryCount       int        `json:"retry_count"`
	MaxRetries       int        `json:"max_retries"`
	LastError        *string    `json:"last_error,omitempty"`
	Citations        []Citation `json:"citations"`
	CacheKey         *string    `json:"cache_key,omitempty"`
	IdempotencyKey   *string    `json:"idempotency_key,omitempty"`
	Priority         int        `json:"priority"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

const (
	SegmentQueued      = "queued"
	SegmentRetrieving  = "retrieving"
	SegmentGenerating  = "generating"
	SegmentRendering   = "rendering"
	SegmentNormalizing = "normalizing"
	SegmentReady       = "ready"
	SegmentAiring      = "airing"
	SegmentAired       = "aired"
	SegmentFailed      = "failed"
	SegmentArchived    = "archived"
)

// legalSegmentTransitions mirrors the §3 state table exactly; nothing outside
// it is a valid transition.
var legalSegmentTransitions = map[string]map[string]bool{
	SegmentQueued:      {SegmentRetrieving: true, SegmentFailed: true},
	SegmentRetrieving:  {SegmentGenerating: true, SegmentFailed: true},
	SegmentGenerating:  {SegmentRendering: true, SegmentFailed: true},
	SegmentRendering:   {SegmentNormalizing: true, SegmentFailed: true},
	SegmentNormalizing: {SegmentReady: true, SegmentFailed: true},
	SegmentReady:       {SegmentAiring: true},
	SegmentAiring:      {SegmentAired: true},
	SegmentAired:       {SegmentArchived: true},
	SegmentFailed:      {SegmentQueued: true},
	SegmentArchived:    {},
}

// SegmentTransitionAllowed reports whether from->to appears in the §3 table.
func SegmentTransitionAllowed(from, to string) bool {
	next, ok := legalSegmentTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Asset is an immutable (once validated) audio artifact, deduplicated by content hash.
type Asset struct {
	ID                uuid.UUID      `json:"id"`
	ContentHash       string         `json:"content_hash"`
	StoragePath       string         `json:"storage_path"`
	LufsIntegrated    *float64       `json:"lufs_integrated,omitempty"`
	PeakDB            *float64       `json:"peak_db,omitempty"`
	DurationSec       *float64       `json:"duration_sec,omitempty"`
	ValidationStatus  string         `json:"validation_status"` // pending, passed, failed
	ValidationErrors  []string       `json:"validation_errors,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

const (
	AssetValidationPending = "pending"
	AssetValidationPassed  = "passed"
	AssetValidationFailed  = "failed"
)

// Tagged validation-issue values; see SPEC_FULL.md §9 open-question decision
// (never free-form substring-scanned strings).
const (
	IssueLufsOutOfRange     = "lufs_out_of_range"
	IssuePeakExceedsCeiling = "peak_exceeds_ceiling"
	IssueNormalizerError    = "normalizer_error"
)

const (
	SourceTypeUniverseDoc = "universe_doc"
	SourceTypeEvent       = "event"
)

// KBChunk is a token-bounded, overlapping text window ready for embedding.
type KBChunk struct {
	ID          uuid.UUID `json:"id"`
	SourceID    uuid.UUID `json:"source_id"`
	SourceType  string    `json:"source_type"`
	ChunkText   string    `json:"chunk_text"`
	ChunkIndex  int       `json:"chunk_index"`
	TokenCount  int       `json:"token_count"`
	ContentHash string    `json:"content_hash"`
	Lang        string    `json:"lang"`
	CreatedAt   time.Time `json:"created_at"`
}

// KBEmbedding is the fixed-dimension vector for a KBChunk.
type KBEmbedding struct {
	ChunkID   uuid.UUID `json:"chunk_id"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// KBIndexStatus tracks kb_index progress for one upstream source.
type KBIndexStatus struct {
	SourceID           uuid.UUID  `json:"source_id"`
	SourceType         string     `json:"source_type"`
	State              string     `json:"state"` // pending, processing, complete, failed
	ChunksCreated      int        `json:"chunks_created"`
	EmbeddingsCreated  int        `json:"embeddings_created"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Error              *string    `json:"error,omitempty"`
}

const (
	IndexStatePending    = "pending"
	IndexStateProcessing = "processing"
	IndexStateComplete   = "complete"
	IndexStateFailed     = "failed"
)

const HealthStatusHealthy = "healthy"

// HealthCheck is a worker process's most recent liveness report.
type HealthCheck struct {
	WorkerType    string    `json:"worker_type"`
	InstanceID    string    `json:"instance_id"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	JobsInFlight  int       `json:"jobs_in_flight"`
	UptimeSec     int64     `json:"uptime_sec"`
}

// Healthy reports liveness per §3: now - last_heartbeat < 2*heartbeat_interval.
func (h *HealthCheck) Healthy(now time.Time, heartbeatInterval time.Duration) bool {
	return now.Sub(h.LastHeartbeat) < 2*heartbeatInterval
}

// UniverseDoc is an upstream knowledge-base document fed into kb_index.
type UniverseDoc struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Lang      *string   `json:"lang,omitempty"`
	SourceURL *string   `json:"source_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is an upstream timestamped occurrence fed into kb_index; its
// EventDate backs the §4.5 recency-boost computation.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	EventDate time.Time `json:"event_date"`
	Lang      *string   `json:"lang,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Program groups segments under a named broadcast program; owned by the
// external scheduler, read-only to this core.
type Program struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
}

// ToneBalance is the target primary/secondary/neutral mix a DJ's persona aims for.
type ToneBalance struct {
	Primary   float64 `json:"primary"`
	Secondary float64 `json:"secondary"`
	Neutral   float64 `json:"neutral"`
}

// DJ is a station character persona used by the script generator and TTS.
type DJ struct {
	ID                uuid.UUID   `json:"id"`
	Name              string      `json:"name"`
	Bio                string      `json:"bio"`
	PersonalityTraits []string    `json:"personality_traits"`
	VoiceID           string      `json:"voice_id"`
	ToneBalance       ToneBalance `json:"tone_balance"`
}

// ToneReport is one day's tone-validator score for a single segment.
type ToneReport struct {
	ID            uuid.UUID `json:"id"`
	Date          time.Time `json:"date"`
	SegmentID     uuid.UUID `json:"segment_id"`
	SlotType      string    `json:"slot_type"`
	Score         int       `json:"score"`
	FlaggedTerms  []string  `json:"flagged_terms,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// RAGChunk is one retrieved, scored chunk in a RAGResult.
type RAGChunk struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	SourceID      uuid.UUID `json:"source_id"`
	SourceType    string    `json:"source_type"`
	ChunkText     string    `json:"chunk_text"`
	VectorScore   float64   `json:"vector_score"`
	LexicalScore  float64   `json:"lexical_score"`
	RecencyScore  float64   `json:"recency_score"`
	FinalScore    float64   `json:"final_score"`
}

// RAGQuery is the POST /rag/retrieve request body.
type RAGQuery struct {
	Text          string    `json:"text"`
	TopK          int       `json:"top_k,omitempty"`
	Filters       *RAGFilters `json:"filters,omitempty"`
	RecencyBoost  bool      `json:"recency_boost,omitempty"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// RAGFilters whitelists source types a query is restricted to.
type RAGFilters struct {
	SourceTypes []string `json:"source_types,omitempty"`
}

// RAGResult is the POST /rag/retrieve response body.
type RAGResult struct {
	Chunks       []RAGChunk `json:"chunks"`
	QueryTimeMS  int64      `json:"query_time_ms"`
	TotalResults int        `json:"total_results"`
}

// PlayoutSegment is one entry in the GET /playout/next response.
type PlayoutSegment struct {
	SegmentID        uuid.UUID `json:"segment_id"`
	SlotType         string    `json:"slot_type"`
	ScheduledStartTS *time.Time `json:"scheduled_start_ts,omitempty"`
	Priority         int       `json:"priority"`
	DurationSec      *float64  `json:"duration_sec,omitempty"`
	SignedURL        string    `json:"signed_url"`
}

// PlayoutNextResponse is the GET /playout/next response envelope.
type PlayoutNextResponse struct {
	Segments []PlayoutSegment `json:"segments"`
}

// NowPlayingRequest is the POST /playout/now-playing request body.
type NowPlayingRequest struct {
	SegmentID uuid.UUID `json:"segment_id"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
}

// AiredRequest is the POST /playout/aired request body.
type AiredRequest struct {
	SegmentID uuid.UUID `json:"segment_id"`
	AiredAt   time.Time `json:"aired_at"`
}

// ToneAggregateResponse is the POST /analytics/tone/aggregate response body.
type ToneAggregateResponse struct {
	Date          string  `json:"date"`
	SegmentsCount int     `json:"segments_count"`
	AverageScore  float64 `json:"average_score"`
	FlaggedCount  int     `json:"flagged_count"`
}

// ErrorResponse is the uniform JSON error envelope for all HTTP surfaces.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Package playout implements C9: the HTTP feed the broadcast player polls
// for ready segments, plus the now-playing/aired callbacks that drive the
// ready->airing->aired state transitions. Handler shape grounded on
// internal/handlers/jobs.go's writeJSON/writeJSONError idiom.
package playout

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aurorafeed/broadcast-core/internal/blobstore"
	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/models"
)

const defaultLimit = 10

// Handler serves the playout feed surfaces.
type Handler struct {
	segments *database.SegmentRepository
	assets   *database.AssetRepository
	blobs    *blobstore.Client
	signTTL  time.Duration
}

func NewHandler(segments *database.SegmentRepository, assets *database.AssetRepository, blobs *blobstore.Client, signTTL time.Duration) *Handler {
	if signTTL <= 0 {
		signTTL = time.Hour
	}
	return &Handler{segments: segments, assets: assets, blobs: blobs, signTTL: signTTL}
}

// Next handles GET /playout/next?limit=N, returning ready segments with
// signed URLs to their mastered audio.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	segments, err := h.segments.ListReadyForPlayout(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("list ready segments")
		writeJSONError(w, http.StatusInternalServerError, "failed to list ready segments")
		return
	}

	out := make([]models.PlayoutSegment, 0, len(segments))
	for _, s := range segments {
		entry := models.PlayoutSegment{
			SegmentID:        s.ID,
			SlotType:         s.SlotType,
			ScheduledStartTS: s.ScheduledStartTS,
			Priority:         s.Priority,
			DurationSec:      s.DurationSec,
		}
		if s.AssetID != nil {
			asset, err := h.assets.Get(r.Context(), *s.AssetID)
			if err != nil {
				log.Error().Err(err).Str("segment_id", s.ID.String()).Msg("load asset for playout feed")
				continue
			}
			url, err := h.blobs.Sign(asset.StoragePath, h.signTTL)
			if err != nil {
				log.Error().Err(err).Str("segment_id", s.ID.String()).Msg("sign playout asset url")
				continue
			}
			entry.SignedURL = url
		}
		out = append(out, entry)
	}

	writeJSON(w, http.StatusOK, models.PlayoutNextResponse{Segments: out})
}

// NowPlaying handles POST /playout/now-playing: transitions a segment from
// ready to airing. Idempotent: a segment already airing is left as-is.
func (h *Handler) NowPlaying(w http.ResponseWriter, r *http.Request) {
	var req models.NowPlayingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.transitionIfNeeded(r.Context(), req.SegmentID, models.SegmentAiring); err != nil {
		log.Error().Err(err).Str("segment_id", req.SegmentID.String()).Msg("now-playing transition")
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Aired handles POST /playout/aired: transitions a segment from airing to
// aired. Idempotent: a segment already aired is left as-is.
func (h *Handler) Aired(w http.ResponseWriter, r *http.Request) {
	var req models.AiredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.transitionIfNeeded(r.Context(), req.SegmentID, models.SegmentAired); err != nil {
		log.Error().Err(err).Str("segment_id", req.SegmentID.String()).Msg("aired transition")
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// transitionIfNeeded is a no-op when the segment is already in target state,
// per §4.9's invariant that repeated playout callbacks (retries from the
// player) never error.
func (h *Handler) transitionIfNeeded(ctx context.Context, segmentID uuid.UUID, target string) error {
	segment, err := h.segments.Get(ctx, segmentID)
	if err != nil {
		return err
	}
	if segment.State == target {
		return nil
	}
	return h.segments.TransitionTo(ctx, segmentID, target)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("write json response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: message})
}

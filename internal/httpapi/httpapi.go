// Package httpapi serves the RAG retrieval and tone analytics surfaces,
// same writeJSON/writeJSONError handler idiom as internal/playout.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/models"
	"github.com/aurorafeed/broadcast-core/internal/retrieval"
)

// queryEmbedder mirrors internal/orchestrator's narrow embedding interface:
// only EmbedQuery is needed to serve a single ad hoc retrieval request.
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Handler serves the retrieval and analytics HTTP surfaces.
type Handler struct {
	retriever *retrieval.Retriever
	embedder  queryEmbedder
	toneRepo  *database.ToneReportRepository
}

func NewHandler(retriever *retrieval.Retriever, embedder queryEmbedder, toneRepo *database.ToneReportRepository) *Handler {
	return &Handler{retriever: retriever, embedder: embedder, toneRepo: toneRepo}
}

// Retrieve handles POST /rag/retrieve.
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req models.RAGQuery
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	started := time.Now()

	vector, err := h.embedder.EmbedQuery(r.Context(), req.Text)
	if err != nil {
		log.Error().Err(err).Msg("embed retrieval query")
		writeJSONError(w, http.StatusInternalServerError, "failed to embed query")
		return
	}

	referenceTime := time.Now()
	if req.ReferenceTime != nil {
		referenceTime = *req.ReferenceTime
	}

	chunks, err := h.retriever.Retrieve(r.Context(), req.Text, vector, req.Filters, req.RecencyBoost, referenceTime)
	if err != nil {
		log.Error().Err(err).Msg("retrieve chunks")
		writeJSONError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}

	if req.TopK > 0 && req.TopK < len(chunks) {
		chunks = chunks[:req.TopK]
	}

	writeJSON(w, http.StatusOK, models.RAGResult{
		Chunks:       chunks,
		QueryTimeMS:  time.Since(started).Milliseconds(),
		TotalResults: len(chunks),
	})
}

// ToneAggregate handles POST /analytics/tone/aggregate.
func (h *Handler) ToneAggregate(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	count, avg, flagged, err := h.toneRepo.AggregateByDate(r.Context(), date)
	if err != nil {
		log.Error().Err(err).Str("date", date).Msg("aggregate tone reports")
		writeJSONError(w, http.StatusInternalServerError, "failed to aggregate tone reports")
		return
	}

	writeJSON(w, http.StatusOK, models.ToneAggregateResponse{
		Date:          date,
		SegmentsCount: count,
		AverageScore:  avg,
		FlaggedCount:  flagged,
	})
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

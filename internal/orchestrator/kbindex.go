// Package orchestrator drives jobs through the multi-step pipelines that
// turn upstream content into aired audio: kb_index (chunk + embed upstream
// documents), segment_make (C7, retrieve → generate → render), and
// audio_finalize (C8, normalize → validate → promote to ready). Grounded on
// internal/processor/job_processor.go's ProcessJob/processJobPipeline shape:
// load → short-circuit on terminal/idempotent state → run pipeline stages →
// persist → enqueue follow-up job.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aurorafeed/broadcast-core/internal/chunker"
	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/embedding"
	"github.com/aurorafeed/broadcast-core/internal/jobkind"
	"github.com/aurorafeed/broadcast-core/internal/models"
	"github.com/aurorafeed/broadcast-core/internal/queue"
)

// KBIndexPayload is the kb_index job's payload.
type KBIndexPayload struct {
	SourceID   uuid.UUID `json:"source_id"`
	SourceType string    `json:"source_type"`
}

// KBIndexer handles kb_index jobs: chunk an upstream universe_doc or event
// and populate its embeddings, matching §2's "C3/C4 populate chunks+vectors"
// data flow step.
type KBIndexer struct {
	kb       *database.KBRepository
	chunker  chunker.Options
	embedder *embedding.Embedder
}

func NewKBIndexer(kb *database.KBRepository, chunkerOpts chunker.Options, embedder *embedding.Embedder) *KBIndexer {
	return &KBIndexer{kb: kb, chunker: chunkerOpts, embedder: embedder}
}

func (k *KBIndexer) Handle(ctx context.Context, job *models.Job) error {
	var payload KBIndexPayload
	if err := queue.UnmarshalPayload(job, &payload); err != nil {
		return err
	}

	started := time.Now()
	status := &models.KBIndexStatus{
		SourceID:   payload.SourceID,
		SourceType: payload.SourceType,
		State:      models.IndexStateProcessing,
		StartedAt:  &started,
	}
	if err := k.kb.UpsertIndexStatus(ctx, status); err != nil {
		return jobkind.Transient("record kb_index processing status", err)
	}

	text, lang, err := k.loadSource(ctx, payload)
	if err != nil {
		k.failStatus(ctx, status, err)
		return err
	}

	opts := k.chunker
	chunks := chunker.Chunk(text, opts)
	if len(chunks) == 0 {
		err := jobkind.Semantic(jobkind.CodeEmbeddingDimMismatch, "chunker produced no chunks for source", nil)
		k.failStatus(ctx, status, err)
		return err
	}

	items := make([]embedding.Item, len(chunks))
	for i, c := range chunks {
		items[i] = embedding.Item{ContentHash: c.ContentHash, Text: c.Text}
	}
	vectors, err := k.embedder.EmbedMany(ctx, items)
	if err != nil {
		k.failStatus(ctx, status, err)
		return err
	}

	kbChunks := make([]models.KBChunk, len(chunks))
	for i, c := range chunks {
		effectiveLang := c.Lang
		if effectiveLang == "" {
			effectiveLang = lang
		}
		kbChunks[i] = models.KBChunk{
			ID:          uuid.New(),
			SourceID:    payload.SourceID,
			SourceType:  payload.SourceType,
			ChunkText:   c.Text,
			ChunkIndex:  c.Index,
			TokenCount:  c.TokenCount,
			ContentHash: c.ContentHash,
			Lang:        effectiveLang,
		}
	}

	if err := k.kb.ReplaceChunks(ctx, payload.SourceID, payload.SourceType, kbChunks, vectors); err != nil {
		wrapped := jobkind.Transient("persist kb chunks and embeddings", err)
		k.failStatus(ctx, status, wrapped)
		return wrapped
	}

	completed := time.Now()
	status.State = models.IndexStateComplete
	status.ChunksCreated = len(kbChunks)
	status.EmbeddingsCreated = len(kbChunks)
	status.CompletedAt = &completed
	status.Error = nil
	if err := k.kb.UpsertIndexStatus(ctx, status); err != nil {
		return jobkind.Transient("record kb_index completed status", err)
	}
	return nil
}

func (k *KBIndexer) loadSource(ctx context.Context, payload KBIndexPayload) (text, lang string, err error) {
	switch payload.SourceType {
	case models.SourceTypeUniverseDoc:
		doc, err := k.kb.GetUniverseDoc(ctx, payload.SourceID)
		if err != nil {
			return "", "", jobkind.Integrity("load universe_doc for kb_index", err)
		}
		if doc.Lang != nil {
			lang = *doc.Lang
		}
		return doc.Body, lang, nil
	case models.SourceTypeEvent:
		event, err := k.kb.GetEvent(ctx, payload.SourceID)
		if err != nil {
			return "", "", jobkind.Integrity("load event for kb_index", err)
		}
		if event.Lang != nil {
			lang = *event.Lang
		}
		return event.Body, lang, nil
	default:
		return "", "", jobkind.Validation(fmt.Sprintf("unknown kb_index source_type %q", payload.SourceType), nil)
	}
}

func (k *KBIndexer) failStatus(ctx context.Context, status *models.KBIndexStatus, cause error) {
	msg := cause.Error()
	status.State = models.IndexStateFailed
	status.Error = &msg
	_ = k.kb.UpsertIndexStatus(ctx, status)
}

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aurorafeed/broadcast-core/internal/blobstore"
	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/jobkind"
	"github.com/aurorafeed/broadcast-core/internal/models"
	"github.com/aurorafeed/broadcast-core/internal/queue"
	"github.com/aurorafeed/broadcast-core/internal/retrieval"
	"github.com/aurorafeed/broadcast-core/internal/scriptgen"
	"github.com/aurorafeed/broadcast-core/internal/tts"
)

// SegmentMakePayload is the segment_make job's payload.
type SegmentMakePayload struct {
	SegmentID uuid.UUID `json:"segment_id"`
}

// slotsRequiringGrounding are slot types for which zero retrieved chunks is
// a hard failure rather than a thin/ungrounded script attempt.
var slotsRequiringGrounding = map[string]bool{
	"news": true, "culture": true, "tech": true, "interview": true, "panel": true, "history": true,
}

// queryTemplates fills in year/month/day from a segment's reference_time to
// synthesize a time-aware retrieval query, decoupling relevance from
// wall-clock time per §4.5.
var queryTemplates = map[string]string{
	"news":    "news and current events for %d-%02d-%02d",
	"weather": "weather conditions and forecast for %d-%02d-%02d",
	"culture": "cultural happenings and community stories around %d-%02d-%02d",
	"history": "historical context and anniversaries near %d-%02d-%02d",
}

const defaultQueryTemplate = "station news and topics for %d-%02d-%02d"

func synthesizeQuery(slotType string, referenceTime time.Time) string {
	tmpl, ok := queryTemplates[slotType]
	if !ok {
		tmpl = defaultQueryTemplate
	}
	return fmt.Sprintf(tmpl, referenceTime.Year(), referenceTime.Month(), referenceTime.Day())
}

// SegmentOrchestrator drives a segment through queued -> retrieving ->
// generating -> rendering -> normalizing, grounded on
// internal/processor/job_processor.go's ProcessJob pipeline shape.
type SegmentOrchestrator struct {
	segments     *database.SegmentRepository
	assets       *database.AssetRepository
	programs     *database.ProgramRepository
	djs          *database.DJRepository
	retriever    *retrieval.Retriever
	embedder     queryEmbedder
	generator    *scriptgen.Generator
	synth        *tts.Synthesizer
	blobs        *blobstore.Client
	store        *queue.Store
	futureYears  int
	interTurnGap time.Duration
}

// queryEmbedder is the narrow slice of internal/embedding.Embedder that the
// orchestrator needs to embed a single synthesized retrieval query.
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

func NewSegmentOrchestrator(
	segments *database.SegmentRepository,
	assets *database.AssetRepository,
	programs *database.ProgramRepository,
	djs *database.DJRepository,
	retriever *retrieval.Retriever,
	embedder queryEmbedder,
	generator *scriptgen.Generator,
	synth *tts.Synthesizer,
	blobs *blobstore.Client,
	store *queue.Store,
	futureYears int,
) *SegmentOrchestrator {
	return &SegmentOrchestrator{
		segments: segments, assets: assets, programs: programs, djs: djs,
		retriever: retriever, embedder: embedder, generator: generator, synth: synth,
		blobs: blobs, store: store, futureYears: futureYears, interTurnGap: 800 * time.Millisecond,
	}
}

func (o *SegmentOrchestrator) Handle(ctx context.Context, job *models.Job) error {
	var payload SegmentMakePayload
	if err := queue.UnmarshalPayload(job, &payload); err != nil {
		return err
	}

	segment, err := o.segments.Get(ctx, payload.SegmentID)
	if err != nil {
		return err
	}

	if segment.IdempotencyKey != nil && *segment.IdempotencyKey != "" {
		if prior, err := o.segments.FindByIdempotencyKey(ctx, *segment.IdempotencyKey); err == nil && prior != nil &&
			prior.ID != segment.ID && prior.ScriptMD != nil && prior.AssetID != nil &&
			(prior.State == models.SegmentReady || prior.State == models.SegmentAiring ||
				prior.State == models.SegmentAired || prior.State == models.SegmentArchived) {
			return o.reuse(ctx, segment, prior)
		}
	}

	if segment.State != models.SegmentQueued {
		return jobkind.Integrity(fmt.Sprintf("segment %s not in queued state (state=%s)", segment.ID, segment.State), nil)
	}

	if err := o.segments.TransitionTo(ctx, segment.ID, models.SegmentRetrieving); err != nil {
		return err
	}

	referenceTime := time.Now().AddDate(o.futureYears, 0, 0)
	if segment.ScheduledStartTS != nil {
		referenceTime = segment.ScheduledStartTS.AddDate(o.futureYears, 0, 0)
	}

	queryText := synthesizeQuery(segment.SlotType, referenceTime)
	queryVector, err := o.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return err
	}

	chunks, err := o.retriever.Retrieve(ctx, queryText, queryVector, nil, true, referenceTime)
	if err != nil {
		return err
	}
	if len(chunks) == 0 && slotsRequiringGrounding[segment.SlotType] {
		return jobkind.Semantic(jobkind.CodeScriptUngrounded, fmt.Sprintf("no retrieved chunks for slot type %q", segment.SlotType), nil)
	}

	if err := o.segments.TransitionTo(ctx, segment.ID, models.SegmentGenerating); err != nil {
		return err
	}

	req := scriptgen.Request{
		SlotType:      segment.SlotType,
		Topic:         queryText,
		Chunks:        chunks,
		ReferenceTime: referenceTime,
		FutureYear:    referenceTime.Year(),
	}
	if segment.ProgramID != nil {
		if program, err := o.programs.Get(ctx, *segment.ProgramID); err == nil {
			req.ProgramName = program.Name
		}
	}
	if dj, err := o.djs.GetDefault(ctx); err == nil && dj != nil {
		req.DJName, req.DJBio, req.DJTraits = dj.Name, dj.Bio, dj.PersonalityTraits
	}

	result, err := o.generator.Generate(ctx, req)
	if err != nil {
		return err
	}
	if err := o.segments.SetScript(ctx, segment.ID, result.ScriptMD, result.Citations); err != nil {
		return err
	}

	if err := o.segments.TransitionTo(ctx, segment.ID, models.SegmentRendering); err != nil {
		return err
	}

	audio, err := o.synth.Synthesize(ctx, result.ScriptMD, "")
	if err != nil {
		return jobkind.Transient("tts synthesis failed", err)
	}

	key := fmt.Sprintf("raw/%d-%s.wav", time.Now().Unix(), uuid.New().String()[:8])
	if err := o.blobs.Upload(ctx, key, newReader(audio.Data), audio.MimeType, int64(len(audio.Data))); err != nil {
		return jobkind.Transient("upload raw segment audio", err)
	}

	assetID, err := o.assets.Insert(ctx, contentHashHex(audio.Data), key)
	if err != nil {
		return jobkind.Transient("insert asset row", err)
	}
	if err := o.segments.SetAsset(ctx, segment.ID, assetID, audio.Duration); err != nil {
		return err
	}

	if err := o.segments.TransitionTo(ctx, segment.ID, models.SegmentNormalizing); err != nil {
		return err
	}

	contentType := "speech"
	finalizePayload, err := marshalFinalizePayload(segment.ID, assetID, contentType)
	if err != nil {
		return fmt.Errorf("marshal audio_finalize payload: %w", err)
	}
	if _, err := o.store.Enqueue(ctx, models.JobTypeAudioFinalize, finalizePayload, queue.DefaultPriority, 0, queue.DefaultMaxAttempts); err != nil {
		return jobkind.Transient("enqueue audio_finalize job", err)
	}

	return nil
}

// idempotentReplayStates is the fixed forward walk every idempotent reuse
// takes: the asset behind prior is already validated, so the replay always
// lands on ready regardless of how far the prior run got, rather than
// re-entering normalizing and re-running the mastering pipeline.
var idempotentReplayStates = []string{
	models.SegmentRetrieving, models.SegmentGenerating, models.SegmentRendering,
	models.SegmentNormalizing, models.SegmentReady,
}

// reuse rebinds segment to a prior idempotent run's script and asset without
// regenerating anything, per §4.7's idempotency rule, walking the legal
// state chain forward to ready rather than skipping validation.
func (o *SegmentOrchestrator) reuse(ctx context.Context, segment, prior *models.Segment) error {
	if err := o.segments.SetScript(ctx, segment.ID, *prior.ScriptMD, prior.Citations); err != nil {
		return err
	}
	duration := 0.0
	if prior.DurationSec != nil {
		duration = *prior.DurationSec
	}
	if err := o.segments.SetAsset(ctx, segment.ID, *prior.AssetID, duration); err != nil {
		return err
	}
	for _, state := range idempotentReplayStates {
		if err := o.segments.TransitionTo(ctx, segment.ID, state); err != nil {
			return err
		}
	}
	return nil
}

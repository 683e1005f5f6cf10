package orchestrator

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/aurorafeed/broadcast-core/internal/blobstore"
	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/jobkind"
	"github.com/aurorafeed/broadcast-core/internal/models"
	"github.com/aurorafeed/broadcast-core/internal/normalize"
	"github.com/aurorafeed/broadcast-core/internal/queue"
)

// speechTargetLUFS and musicTargetLUFS are the two loudness targets C8
// chooses between by content_type, per SPEC_FULL.md §4.8.
const (
	speechTargetLUFS = -16.0
	musicTargetLUFS  = -14.0
	peakCeilingDBTP  = -1.0
	lufsTolerance    = 1.0
)

// MasteringOrchestrator handles audio_finalize jobs (C8): dedupe against an
// already-validated asset sharing content_hash, else normalize, validate,
// and publish the raw segment's rendered audio to its final object key.
type MasteringOrchestrator struct {
	segments  *database.SegmentRepository
	assets    *database.AssetRepository
	blobs     *blobstore.Client
	normalize normalize.Options
	workDir   string
}

func NewMasteringOrchestrator(
	segments *database.SegmentRepository,
	assets *database.AssetRepository,
	blobs *blobstore.Client,
	normOpts normalize.Options,
	workDir string,
) *MasteringOrchestrator {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &MasteringOrchestrator{segments: segments, assets: assets, blobs: blobs, normalize: normOpts, workDir: workDir}
}

func (o *MasteringOrchestrator) Handle(ctx context.Context, job *models.Job) error {
	var payload AudioFinalizePayload
	if err := queue.UnmarshalPayload(job, &payload); err != nil {
		return err
	}

	asset, err := o.assets.Get(ctx, payload.AssetID)
	if err != nil {
		return err
	}

	if canonical, err := o.assets.FindPassedByContentHash(ctx, asset.ContentHash); err == nil && canonical != nil && canonical.ID != asset.ID {
		if err := o.assets.SetDuplicateOf(ctx, asset.ID, canonical.ID); err != nil {
			return err
		}
		if err := o.segments.SetAsset(ctx, payload.SegmentID, canonical.ID, valueOrZero(canonical.DurationSec)); err != nil {
			return err
		}
		return o.segments.TransitionTo(ctx, payload.SegmentID, models.SegmentReady)
	}

	rawBytes, err := o.blobs.Download(ctx, asset.StoragePath)
	if err != nil {
		return jobkind.Transient("download raw segment asset", err)
	}

	rawPath := filepath.Join(o.workDir, fmt.Sprintf("%s-raw.wav", payload.AssetID))
	outPath := filepath.Join(o.workDir, fmt.Sprintf("%s-final.wav", payload.AssetID))
	if err := os.WriteFile(rawPath, rawBytes, 0o600); err != nil {
		return fmt.Errorf("write raw asset to workdir: %w", err)
	}
	defer os.Remove(rawPath)
	defer os.Remove(outPath)

	target := musicTargetLUFS
	if payload.ContentType == "speech" {
		target = speechTargetLUFS
	}
	opts := o.normalize
	opts.TargetLUFS = target
	if opts.PeakCeiling == 0 {
		opts.PeakCeiling = peakCeilingDBTP
	}

	result, err := normalize.Normalize(ctx, opts, rawPath, outPath)
	if err != nil {
		return jobkind.Transient("loudness normalization failed", err)
	}

	var issues []string
	if math.Abs(result.LUFSIntegrated-target) > lufsTolerance {
		issues = append(issues, models.IssueLufsOutOfRange)
	}
	if result.PeakDB > opts.PeakCeiling {
		issues = append(issues, models.IssuePeakExceedsCeiling)
	}

	status := models.AssetValidationPassed
	if len(issues) > 0 {
		status = models.AssetValidationFailed
	}

	finalBytes, err := os.ReadFile(outPath)
	if err != nil {
		return fmt.Errorf("read normalized output: %w", err)
	}

	finalKey := fmt.Sprintf("final/%s.wav", payload.AssetID)
	if err := o.blobs.Upload(ctx, finalKey, newReader(finalBytes), "audio/wav", int64(len(finalBytes))); err != nil {
		return jobkind.Transient("upload mastered asset", err)
	}

	if err := o.assets.RecordMastering(ctx, payload.AssetID, finalKey, result.LUFSIntegrated, result.PeakDB, result.DurationSec, status, issues); err != nil {
		return err
	}

	if len(issues) > 0 {
		if err := o.segments.TransitionTo(ctx, payload.SegmentID, models.SegmentFailed); err != nil {
			return err
		}
		return jobkind.Semantic(jobkind.CodeAudioQualityFail,
			fmt.Sprintf("asset %s failed mastering validation: %v", payload.AssetID, issues), nil)
	}

	if err := o.blobs.Delete(ctx, asset.StoragePath); err != nil {
		return jobkind.Transient("delete raw segment asset", err)
	}

	return o.segments.TransitionTo(ctx, payload.SegmentID, models.SegmentReady)
}

func valueOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

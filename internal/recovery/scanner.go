// Package recovery is the pipeline's safety net. The stage workers never
// force-correct a status, so a crash between stage work and the status write,
// or a lost queue message, can park an asset in a non-terminal status
// forever. The scanner finds those assets, repairs the ones whose metadata
// proves the stage work actually finished, and escalates the rest.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ilovetoast/brandlens/internal/embeddingstore"
	"github.com/ilovetoast/brandlens/internal/incident"
	"github.com/ilovetoast/brandlens/internal/models"
	"github.com/ilovetoast/brandlens/internal/queue"
)

// AssetStore is the slice of the asset repository the scanner needs.
type AssetStore interface {
	ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]models.Asset, error)
	AdvanceStatus(ctx context.Context, id uuid.UUID, from, to models.AnalysisStatus) (bool, error)
}

// EmbeddingChecker reports whether an embedding row exists for an asset.
type EmbeddingChecker interface {
	Get(ctx context.Context, assetID uuid.UUID) (*models.AssetEmbedding, error)
}

// Incidents is the incident service surface the scanner uses.
type Incidents interface {
	Open(ctx context.Context, req incident.OpenRequest) (*models.Incident, error)
	Resolve(ctx context.Context, id uuid.UUID, auto bool) error
	HasOpenForSource(ctx context.Context, sourceType string, sourceID uuid.UUID) (bool, error)
}

type Options struct {
	StallTimeout time.Duration
	BatchLimit   int
}

func DefaultOptions() Options {
	return Options{
		StallTimeout: 30 * time.Minute,
		BatchLimit:   100,
	}
}

type Scanner struct {
	assets     AssetStore
	embeddings EmbeddingChecker
	incidents  Incidents
	ticketer   incident.Ticketer
	queue      queue.Enqueuer
	opts       Options
}

func NewScanner(assets AssetStore, embeddings EmbeddingChecker, incidents Incidents, ticketer incident.Ticketer, q queue.Enqueuer, opts Options) *Scanner {
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultOptions().StallTimeout
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = DefaultOptions().BatchLimit
	}
	return &Scanner{
		assets:     assets,
		embeddings: embeddings,
		incidents:  incidents,
		ticketer:   ticketer,
		queue:      q,
		opts:       opts,
	}
}

// Report summarizes one scan pass.
type Report struct {
	Scanned     int
	Repaired    int
	Escalated   int
	AlreadyOpen int
}

// Scan examines every asset stalled past the timeout and handles each one
// independently; a failure on one asset is logged and does not stop the
// pass.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	cutoff := time.Now().Add(-s.opts.StallTimeout)
	stalled, err := s.assets.ListStalled(ctx, cutoff, s.opts.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list stalled assets: %w", err)
	}

	report := &Report{Scanned: len(stalled)}
	for i := range stalled {
		if err := s.handle(ctx, &stalled[i], report); err != nil {
			slog.Error("recovery pass failed for asset",
				"asset_id", stalled[i].ID,
				"status", stalled[i].AnalysisStatus,
				"error", err,
			)
		}
	}

	slog.Info("recovery scan finished",
		"scanned", report.Scanned,
		"repaired", report.Repaired,
		"escalated", report.Escalated,
		"already_open", report.AlreadyOpen,
	)
	return report, nil
}

func (s *Scanner) handle(ctx context.Context, asset *models.Asset, report *Report) error {
	repair, repairable, err := s.classify(ctx, asset)
	if err != nil {
		return err
	}

	if repairable {
		report.Repaired++
		return s.repair(ctx, asset, repair)
	}

	// Unrepairable: status stays untouched, a human gets a ticket. One open
	// incident per asset; repeat passes over the same stall are silent.
	open, err := s.incidents.HasOpenForSource(ctx, "asset", asset.ID)
	if err != nil {
		return fmt.Errorf("check open incident: %w", err)
	}
	if open {
		report.AlreadyOpen++
		return nil
	}

	inc, err := s.incidents.Open(ctx, incident.OpenRequest{
		TenantID:   asset.TenantID,
		SourceType: "asset",
		SourceID:   asset.ID,
		Severity:   models.SeverityCritical,
		Retryable:  false,
		Metadata: map[string]interface{}{
			"analysis_status":  string(asset.AnalysisStatus),
			"thumbnail_status": asset.ThumbnailStatus,
			"stalled_since":    asset.UpdatedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("open incident: %w", err)
	}

	if err := s.ticketer.OpenTicket(ctx, inc); err != nil {
		slog.Error("support ticket creation failed", "incident_id", inc.ID, "error", err)
	}

	report.Escalated++
	slog.Warn("stalled asset escalated",
		"asset_id", asset.ID,
		"status", asset.AnalysisStatus,
		"incident_id", inc.ID,
	)
	return nil
}

// repairAction describes how to re-drive a repairable stall: an optional
// status advance (when the completed work's advance was lost) and the task
// to re-enqueue.
type repairAction struct {
	advanceTo models.AnalysisStatus
	enqueue   []string
}

// classify decides whether the asset's metadata proves the current stage's
// work finished. Evidence per status:
//
//	uploading              upload_completed flag
//	generating_thumbnails  thumbnail_status=completed (renderer callback lost)
//	extracting_metadata    metadata_extracted flag + timestamp
//	generating_embedding   embedding row exists
//	scoring                scoring gate criteria all hold
func (s *Scanner) classify(ctx context.Context, asset *models.Asset) (repairAction, bool, error) {
	switch asset.AnalysisStatus {
	case models.StatusUploading:
		if asset.Metadata.Bool(models.MetaUploadCompleted) {
			return repairAction{enqueue: []string{queue.TypeAssetProcess}}, true, nil
		}

	case models.StatusGeneratingThumbnails:
		if asset.ThumbnailStatus == models.ThumbnailCompleted {
			return repairAction{
				advanceTo: models.StatusExtractingMetadata,
				enqueue:   []string{queue.TypeAssetExtractMetadata, queue.TypeAssetTag},
			}, true, nil
		}

	case models.StatusExtractingMetadata:
		if asset.Metadata.Bool(models.MetaMetadataExtracted) &&
			asset.Metadata.String(models.MetaMetadataExtractedAt) != "" {
			return repairAction{
				advanceTo: models.StatusGeneratingEmbedding,
				enqueue:   []string{queue.TypeAssetGenerateEmbedding},
			}, true, nil
		}

	case models.StatusGeneratingEmbedding:
		_, err := s.embeddings.Get(ctx, asset.ID)
		if err == nil {
			return repairAction{
				advanceTo: models.StatusScoring,
				enqueue:   []string{queue.TypeAssetScore},
			}, true, nil
		}
		if !errors.Is(err, embeddingstore.ErrNotFound) {
			return repairAction{}, false, fmt.Errorf("check embedding: %w", err)
		}

	case models.StatusScoring:
		if asset.ReadyForScoring() {
			return repairAction{enqueue: []string{queue.TypeAssetScore}}, true, nil
		}
	}

	return repairAction{}, false, nil
}

func (s *Scanner) repair(ctx context.Context, asset *models.Asset, action repairAction) error {
	if action.advanceTo != "" {
		advanced, err := s.assets.AdvanceStatus(ctx, asset.ID, asset.AnalysisStatus, action.advanceTo)
		if err != nil {
			return fmt.Errorf("advance during repair: %w", err)
		}
		if !advanced {
			// Something else moved the asset since we listed it; that is
			// the pipeline healing on its own.
			slog.Info("repair advance lost the race", "asset_id", asset.ID)
			return nil
		}
	}

	for _, taskType := range action.enqueue {
		var err error
		if taskType == queue.TypeAssetTag {
			err = s.queue.EnqueueTagging(queue.AssetTagPayload{
				AssetID:  asset.ID.String(),
				TenantID: asset.TenantID.String(),
			})
		} else {
			err = s.queue.EnqueueStage(taskType, queue.AssetStagePayload{
				AssetID:  asset.ID.String(),
				TenantID: asset.TenantID.String(),
			})
		}
		if err != nil {
			return fmt.Errorf("re-enqueue %s: %w", taskType, err)
		}
	}

	// The stall did produce an incident trail: record it and close it in the
	// same pass so operators can see the scanner worked.
	if err := s.resolveOrRecord(ctx, asset); err != nil {
		slog.Warn("incident bookkeeping failed after repair", "asset_id", asset.ID, "error", err)
	}

	slog.Info("stalled asset repaired",
		"asset_id", asset.ID,
		"status", asset.AnalysisStatus,
		"re_enqueued", action.enqueue,
	)
	return nil
}

func (s *Scanner) resolveOrRecord(ctx context.Context, asset *models.Asset) error {
	inc, err := s.incidents.Open(ctx, incident.OpenRequest{
		TenantID:   asset.TenantID,
		SourceType: "asset",
		SourceID:   asset.ID,
		Severity:   models.SeverityWarning,
		Retryable:  true,
		Metadata: map[string]interface{}{
			"analysis_status": string(asset.AnalysisStatus),
			"repaired":        true,
		},
	})
	if err != nil {
		return err
	}
	return s.incidents.Resolve(ctx, inc.ID, true)
}

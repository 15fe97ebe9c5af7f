package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ilovetoast/brandlens/internal/models"
)

// ScoringWorker is the pipeline's final gate. It only fires when the asset
// is in scoring AND the completion criteria hold (thumbnail rendered, both
// analysis flags set); an asset whose tagging has not landed yet stays put,
// and the tagging worker re-enqueues this task when it finishes.
type ScoringWorker struct {
	assets AssetStore
	scorer Scorer
}

func NewScoringWorker(assets AssetStore, scorer Scorer) *ScoringWorker {
	return &ScoringWorker{assets: assets, scorer: scorer}
}

func (w *ScoringWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	assetID, err := stagePayload(t)
	if err != nil {
		return err
	}

	asset, err := w.assets.GetByID(ctx, assetID)
	if err != nil {
		return fmt.Errorf("get asset: %w", err)
	}

	if asset.AnalysisStatus != models.StatusScoring {
		slog.Warn("scoring stage skipped, unexpected status",
			"asset_id", assetID,
			"status", asset.AnalysisStatus,
			"expected", models.StatusScoring,
		)
		return nil
	}

	if !asset.ReadyForScoring() {
		slog.Info("scoring gate not met, waiting for remaining analysis",
			"asset_id", assetID,
			"thumbnail_status", asset.ThumbnailStatus,
			"metadata_extracted", asset.Metadata.Bool(models.MetaMetadataExtracted),
			"ai_tagging_completed", asset.Metadata.Bool(models.MetaAITaggingCompleted),
		)
		return nil
	}

	score, err := w.scorer.Score(ctx, assetID, asset.BrandID)
	if err != nil {
		return fmt.Errorf("score asset: %w", err)
	}

	advanced, err := w.assets.CompleteScoring(ctx, assetID)
	if err != nil {
		return fmt.Errorf("complete scoring: %w", err)
	}
	if !advanced {
		slog.Warn("scoring stage lost the advance race", "asset_id", assetID)
		return nil
	}

	slog.Info("asset analysis complete",
		"asset_id", assetID,
		"evaluation_status", score.EvaluationStatus,
	)
	return nil
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ilovetoast/brandlens/internal/models"
)

// ProcessWorker is the entry stage: it validates that the asset is
// processable and advances uploading -> generating_thumbnails. The rendering
// itself happens in the external thumbnail service, which reports back
// through the thumbnail-complete API callback; that callback enqueues the
// metadata-extraction and tagging tasks.
type ProcessWorker struct {
	assets AssetStore
}

func NewProcessWorker(assets AssetStore) *ProcessWorker {
	return &ProcessWorker{assets: assets}
}

func (w *ProcessWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	assetID, err := stagePayload(t)
	if err != nil {
		return err
	}

	asset, err := w.assets.GetByID(ctx, assetID)
	if err != nil {
		return fmt.Errorf("get asset: %w", err)
	}

	if asset.AnalysisStatus != models.StatusUploading {
		slog.Warn("process stage skipped, unexpected status",
			"asset_id", assetID,
			"status", asset.AnalysisStatus,
			"expected", models.StatusUploading,
		)
		return nil
	}

	if asset.FilePath == "" {
		return fmt.Errorf("asset %s has no file path, cannot process", assetID)
	}

	advanced, err := w.assets.BeginProcessing(ctx, assetID)
	if err != nil {
		return fmt.Errorf("begin processing: %w", err)
	}
	if !advanced {
		slog.Warn("process stage lost the advance race", "asset_id", assetID)
		return nil
	}

	slog.Info("asset handed to thumbnail renderer",
		"asset_id", assetID, "mime_type", asset.MimeType)
	return nil
}

package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ilovetoast/brandlens/internal/models"
	"github.com/ilovetoast/brandlens/internal/queue"
	"github.com/ilovetoast/brandlens/internal/textextract"
)

// MetadataWorker runs color analysis on the rendered medium thumbnail (never
// the original file, which may be a vector or AVIF source the renderer had to
// rasterize) and, for document formats, extracts a text description from the
// original. Persisting the color output and the advance to
// generating_embedding is a single conditional UPDATE in the repo.
type MetadataWorker struct {
	assets         AssetStore
	files          FileFetcher
	colors         ColorAnalyzer
	queue          queue.Enqueuer
	bucket         string
	thumbnailStyle string
}

func NewMetadataWorker(assets AssetStore, files FileFetcher, colors ColorAnalyzer, q queue.Enqueuer, bucket, thumbnailStyle string) *MetadataWorker {
	return &MetadataWorker{
		assets:         assets,
		files:          files,
		colors:         colors,
		queue:          q,
		bucket:         bucket,
		thumbnailStyle: thumbnailStyle,
	}
}

func (w *MetadataWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	assetID, err := stagePayload(t)
	if err != nil {
		return err
	}

	asset, err := w.assets.GetByID(ctx, assetID)
	if err != nil {
		return fmt.Errorf("get asset: %w", err)
	}

	if asset.AnalysisStatus != models.StatusExtractingMetadata {
		slog.Warn("metadata stage skipped, unexpected status",
			"asset_id", assetID,
			"status", asset.AnalysisStatus,
			"expected", models.StatusExtractingMetadata,
		)
		return nil
	}

	thumbPath := asset.Metadata.ThumbnailPath(w.thumbnailStyle)
	if thumbPath == "" {
		return fmt.Errorf("no %q thumbnail recorded for asset %s", w.thumbnailStyle, assetID)
	}

	thumb, err := w.files.Download(ctx, w.bucket, thumbPath)
	if err != nil {
		return fmt.Errorf("download thumbnail: %w", err)
	}
	res, err := w.colors.Analyze(thumb)
	thumb.Close()
	if err != nil {
		return fmt.Errorf("color analysis: %w", err)
	}

	if textextract.Supported(asset.MimeType) {
		if err := w.extractDescription(ctx, asset); err != nil {
			// Description feeds tone/typography scoring but is not a stage
			// artifact; a failed extraction must not wedge the pipeline.
			slog.Warn("text extraction failed", "asset_id", assetID, "error", err)
		}
	}

	advanced, err := w.assets.CompleteMetadataExtraction(ctx, assetID, res)
	if err != nil {
		return fmt.Errorf("complete metadata extraction: %w", err)
	}
	if !advanced {
		slog.Warn("metadata stage lost the advance race", "asset_id", assetID)
		return nil
	}

	slog.Info("metadata extracted",
		"asset_id", assetID,
		"clusters", len(res.Clusters),
		"dominant_bucket", res.DominantBucket(),
	)

	return w.queue.EnqueueStage(queue.TypeAssetGenerateEmbedding, queue.AssetStagePayload{
		AssetID:  assetID.String(),
		TenantID: asset.TenantID.String(),
	})
}

func (w *MetadataWorker) extractDescription(ctx context.Context, asset *models.Asset) error {
	original, err := w.files.Download(ctx, w.bucket, asset.FilePath)
	if err != nil {
		return fmt.Errorf("download original: %w", err)
	}
	defer original.Close()

	data, err := io.ReadAll(original)
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}

	text, err := textextract.Extract(textextract.ReaderAtFromBytes(data), int64(len(data)), asset.MimeType)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return nil
	}

	return w.assets.MergeMetadata(ctx, asset.ID, map[string]interface{}{
		"description": text,
	})
}

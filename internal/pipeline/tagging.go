package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ilovetoast/brandlens/internal/models"
	"github.com/ilovetoast/brandlens/internal/queue"
	"github.com/ilovetoast/brandlens/internal/tagging"
)

// TaggingWorker runs AI tagging over the rendered thumbnail. It is not a
// status-machine stage: it runs in parallel with the metadata and embedding
// stages and only contributes the ai_tagging_completed flag the scoring gate
// waits on. When the asset already sits at scoring, the worker re-enqueues
// the scoring task so the gate re-checks.
type TaggingWorker struct {
	assets         AssetStore
	files          FileFetcher
	tagger         tagging.Tagger
	queue          queue.Enqueuer
	bucket         string
	thumbnailStyle string
}

func NewTaggingWorker(assets AssetStore, files FileFetcher, tagger tagging.Tagger, q queue.Enqueuer, bucket, thumbnailStyle string) *TaggingWorker {
	return &TaggingWorker{
		assets:         assets,
		files:          files,
		tagger:         tagger,
		queue:          q,
		bucket:         bucket,
		thumbnailStyle: thumbnailStyle,
	}
}

func (w *TaggingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.AssetTagPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal tagging payload: %w", err)
	}
	assetID, err := uuid.Parse(payload.AssetID)
	if err != nil {
		return fmt.Errorf("parse asset ID: %w", err)
	}

	asset, err := w.assets.GetByID(ctx, assetID)
	if err != nil {
		return fmt.Errorf("get asset: %w", err)
	}

	if asset.Metadata.Bool(models.MetaAITaggingCompleted) {
		slog.Info("tagging already completed", "asset_id", assetID)
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
	data, err := io.ReadAll(thumb)
	thumb.Close()
	if err != nil {
		return fmt.Errorf("read thumbnail: %w", err)
	}

	tags, err := w.tagger.TagImage(ctx, data, http.DetectContentType(data))
	if err != nil {
		return fmt.Errorf("tag image: %w", err)
	}

	if err := w.assets.SetTags(ctx, assetID, tags); err != nil {
		return fmt.Errorf("store tags: %w", err)
	}

	slog.Info("asset tagged", "asset_id", assetID, "tags", len(tags))

	// The scoring gate may have already run and bowed out waiting for this
	// flag; give it another pass. Status is re-read because the embedding
	// stage can advance the asset while tagging is in flight.
	asset, err = w.assets.GetByID(ctx, assetID)
	if err != nil {
		return fmt.Errorf("reload asset after tagging: %w", err)
	}
	if asset.AnalysisStatus == models.StatusScoring {
		return w.queue.EnqueueStage(queue.TypeAssetScore, queue.AssetStagePayload{
			AssetID:  assetID.String(),
			TenantID: asset.TenantID.String(),
		})
	}
	return nil
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ilovetoast/brandlens/internal/embedding"
	"github.com/ilovetoast/brandlens/internal/models"
	"github.com/ilovetoast/brandlens/internal/queue"
)

// EmbeddingWorker calls the embedding provider, L2-normalizes the vector and
// persists it together with the advance to scoring in one transaction.
type EmbeddingWorker struct {
	assets   AssetStore
	embedder embedding.Embedder
	model    string
	queue    queue.Enqueuer
}

func NewEmbeddingWorker(assets AssetStore, embedder embedding.Embedder, model string, q queue.Enqueuer) *EmbeddingWorker {
	return &EmbeddingWorker{
		assets:   assets,
		embedder: embedder,
		model:    model,
		queue:    q,
	}
}

func (w *EmbeddingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	assetID, err := stagePayload(t)
	if err != nil {
		return err
	}

	asset, err := w.assets.GetByID(ctx, assetID)
	if err != nil {
		return fmt.Errorf("get asset: %w", err)
	}

	if asset.AnalysisStatus != models.StatusGeneratingEmbedding {
		slog.Warn("embedding stage skipped, unexpected status",
			"asset_id", assetID,
			"status", asset.AnalysisStatus,
			"expected", models.StatusGeneratingEmbedding,
		)
		return nil
	}

	vec, err := w.embedder.EmbedAsset(ctx, asset)
	if err != nil {
		return fmt.Errorf("embed asset: %w", err)
	}
	vec = embedding.Normalize(vec)

	advanced, err := w.assets.CompleteEmbedding(ctx, assetID, vec, w.model)
	if err != nil {
		return fmt.Errorf("complete embedding: %w", err)
	}
	if !advanced {
		slog.Warn("embedding stage lost the advance race", "asset_id", assetID)
		return nil
	}

	slog.Info("embedding stored", "asset_id", assetID, "dimension", len(vec))

	return w.queue.EnqueueStage(queue.TypeAssetScore, queue.AssetStagePayload{
		AssetID:  assetID.String(),
		TenantID: asset.TenantID.String(),
	})
}

// Package pipeline holds the asynq stage workers that drive an asset from
// uploading to complete. Every worker follows the same contract: load the
// asset, check the stage precondition, do the work, complete through a
// compare-and-swap advance, then enqueue the next stage. A precondition or
// CAS miss is a logged no-op, never an error, so duplicate deliveries and
// stale jobs drain harmlessly.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ilovetoast/brandlens/internal/coloranalysis"
	"github.com/ilovetoast/brandlens/internal/models"
	"github.com/ilovetoast/brandlens/internal/queue"
)

// AssetStore is the slice of the asset repository the stage workers use.
type AssetStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	BeginProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteMetadataExtraction(ctx context.Context, id uuid.UUID, res *coloranalysis.Result) (bool, error)
	CompleteEmbedding(ctx context.Context, id uuid.UUID, vector []float32, model string) (bool, error)
	CompleteScoring(ctx context.Context, id uuid.UUID) (bool, error)
	MergeMetadata(ctx context.Context, id uuid.UUID, patch map[string]interface{}) error
	SetTags(ctx context.Context, id uuid.UUID, tags []string) error
}

// ColorAnalyzer extracts dominant color clusters from a rendered thumbnail.
type ColorAnalyzer interface {
	Analyze(r io.Reader) (*coloranalysis.Result, error)
}

// Scorer runs the compliance evaluation for one (asset, brand) pair.
type Scorer interface {
	Score(ctx context.Context, assetID, brandID uuid.UUID) (*models.BrandComplianceScore, error)
}

// FileFetcher reads a stored object (original file or rendered thumbnail).
type FileFetcher interface {
	Download(ctx context.Context, bucket, path string) (io.ReadCloser, error)
}

func stagePayload(t *asynq.Task) (uuid.UUID, error) {
	var p queue.AssetStagePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return uuid.Nil, fmt.Errorf("unmarshal stage payload: %w", err)
	}
	id, err := uuid.Parse(p.AssetID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse asset ID: %w", err)
	}
	return id, nil
}

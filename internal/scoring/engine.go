package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ilovetoast/brandlens/internal/audit"
	"github.com/ilovetoast/brandlens/internal/brand"
	"github.com/ilovetoast/brandlens/internal/cache"
	"github.com/ilovetoast/brandlens/internal/coloranalysis"
	"github.com/ilovetoast/brandlens/internal/embeddingstore"
	"github.com/ilovetoast/brandlens/internal/models"
)

type AssetGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
}

type BrandModels interface {
	GetEnabledModel(ctx context.Context, brandID uuid.UUID) (*models.BrandModel, error)
	GetActiveVersion(ctx context.Context, model *models.BrandModel) (*models.BrandModelVersion, error)
	ListReferences(ctx context.Context, brandID uuid.UUID, types []string) ([]models.BrandVisualReference, error)
}

type EmbeddingGetter interface {
	Get(ctx context.Context, assetID uuid.UUID) (*models.AssetEmbedding, error)
}

type CentroidCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type Auditor interface {
	Log(ctx context.Context, entry audit.LogEntry) error
}

type Options struct {
	// ColorMatchThreshold is the CIE76 delta-E under which a dominant color
	// counts as matching a palette entry.
	ColorMatchThreshold float64
	CentroidTTL         time.Duration
}

func DefaultOptions() Options {
	return Options{
		ColorMatchThreshold: 20.0,
		CentroidTTL:         time.Hour,
	}
}

// Engine computes one authoritative compliance verdict per call and upserts
// it. It never throws on incomplete data: missing analysis artifacts become
// an explicit pending_processing row, a missing brand model becomes
// not_applicable. Model versions are immutable, so concurrent scoring of
// many assets against the same version needs no locking.
type Engine struct {
	assets     AssetGetter
	brands     BrandModels
	embeddings EmbeddingGetter
	scores     ScoreStore
	cache      CentroidCache
	auditor    Auditor
	opts       Options
}

func NewEngine(assets AssetGetter, brands BrandModels, embeddings EmbeddingGetter, scores ScoreStore, centroids CentroidCache, auditor Auditor, opts Options) *Engine {
	if opts.ColorMatchThreshold <= 0 {
		opts.ColorMatchThreshold = DefaultOptions().ColorMatchThreshold
	}
	if opts.CentroidTTL <= 0 {
		opts.CentroidTTL = DefaultOptions().CentroidTTL
	}
	return &Engine{
		assets:     assets,
		brands:     brands,
		embeddings: embeddings,
		scores:     scores,
		cache:      centroids,
		auditor:    auditor,
		opts:       opts,
	}
}

// Score evaluates one (asset, brand) pair and upserts the verdict row.
func (e *Engine) Score(ctx context.Context, assetID, brandID uuid.UUID) (*models.BrandComplianceScore, error) {
	asset, err := e.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}

	model, err := e.brands.GetEnabledModel(ctx, brandID)
	if errors.Is(err, brand.ErrNoEnabledModel) {
		return e.finish(ctx, asset, brandID, nil, models.EvaluationNotApplicable, nil, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load brand model: %w", err)
	}

	version, err := e.brands.GetActiveVersion(ctx, model)
	if errors.Is(err, brand.ErrNoActiveVersion) {
		return e.finish(ctx, asset, brandID, nil, models.EvaluationNotApplicable, nil, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load active model version: %w", err)
	}

	colors := dominantColors(asset.Metadata)
	assetEmb, err := e.embeddings.Get(ctx, assetID)
	if err != nil && !errors.Is(err, embeddingstore.ErrNotFound) {
		return nil, fmt.Errorf("load asset embedding: %w", err)
	}

	// Image readiness gate: an image asset with any analysis artifact still
	// missing is recorded as pending, never partially scored. Non-image
	// assets bypass this and score on whatever their rules define.
	if asset.IsImage() {
		if len(colors) == 0 || asset.DominantHueGroup == nil || *asset.DominantHueGroup == "" || assetEmb == nil {
			slog.Info("asset analysis incomplete, recording pending score",
				"asset_id", assetID, "brand_id", brandID)
			return e.finish(ctx, asset, brandID, &version.ID, models.EvaluationPendingProcessing, nil, nil)
		}
	}

	breakdown, err := e.scoreDimensions(ctx, asset, brandID, version, colors, assetEmb)
	if err != nil {
		return nil, err
	}

	overall, scored := combine(breakdown)
	if !scored {
		return e.finish(ctx, asset, brandID, &version.ID, models.EvaluationNotApplicable, nil, breakdown)
	}
	return e.finish(ctx, asset, brandID, &version.ID, models.EvaluationEvaluated, &overall, breakdown)
}

// MarkPending nulls the (asset, brand) verdict during reanalysis so a stale
// score never survives while artifacts are being recomputed.
func (e *Engine) MarkPending(ctx context.Context, assetID, brandID uuid.UUID) error {
	score := &models.BrandComplianceScore{
		AssetID:          assetID,
		BrandID:          brandID,
		EvaluationStatus: models.EvaluationPendingProcessing,
	}
	if err := e.scores.Upsert(ctx, score); err != nil {
		return err
	}
	return nil
}

func (e *Engine) scoreDimensions(ctx context.Context, asset *models.Asset, brandID uuid.UUID, version *models.BrandModelVersion, colors []coloranalysis.Cluster, assetEmb *models.AssetEmbedding) ([]models.DimensionResult, error) {
	rules := version.Payload.ScoringRules
	cfg := version.Payload.ScoringConfig

	results := []models.DimensionResult{
		scoreColor(colors, rules.AllowedColorPalette, cfg.ColorWeight, e.opts.ColorMatchThreshold),
	}

	imagery, err := e.scoreImagery(ctx, asset, brandID, rules, cfg.ImageryWeight, assetEmb)
	if err != nil {
		return nil, err
	}
	results = append(results, imagery)

	corpus := textCorpus(asset)
	results = append(results,
		scoreKeywords(models.DimensionTone, rules.ToneKeywords, corpus, cfg.ToneWeight,
			"Tone keywords found in asset text"),
		scoreKeywords(models.DimensionTypography, rules.TypographyKeywords, corpus, cfg.TypographyWeight,
			"Typography keywords found in asset text"),
	)
	return results, nil
}

func (e *Engine) scoreImagery(ctx context.Context, asset *models.Asset, brandID uuid.UUID, rules models.ScoringRules, weight float64, assetEmb *models.AssetEmbedding) (models.DimensionResult, error) {
	res := models.DimensionResult{Dimension: models.DimensionImagery, Weight: weight}

	if weight <= 0 {
		res.Status = models.DimensionNotApplicable
		res.Reason = "dimension weight is zero"
		return res, nil
	}
	if assetEmb == nil {
		res.Status = models.DimensionNotApplicable
		res.Reason = "no embedding available for asset"
		return res, nil
	}

	centroid, err := e.brandCentroid(ctx, brandID, rules.ImageryReferenceTypes)
	if err != nil {
		return res, err
	}
	if centroid == nil {
		res.Status = models.DimensionNotApplicable
		res.Reason = "brand has no visual references"
		return res, nil
	}

	score := similarityToScore(cosineSimilarity(assetEmb.Vector, centroid))
	res.Status = models.DimensionScored
	res.Score = &score
	res.Reason = "Visual similarity to brand centroid"
	return res, nil
}

// brandCentroid resolves the brand's reference centroid, through the cache
// when the rules do not scope by reference type. Reference mutations
// invalidate the cached entry.
func (e *Engine) brandCentroid(ctx context.Context, brandID uuid.UUID, types []string) ([]float32, error) {
	cacheable := len(types) == 0 && e.cache != nil
	key := brand.CentroidCacheKey(brandID)

	if cacheable {
		var cached []float32
		err := e.cache.Get(ctx, key, &cached)
		if err == nil && len(cached) > 0 {
			return cached, nil
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			slog.Warn("centroid cache read failed", "brand_id", brandID, "error", err)
		}
	}

	refs, err := e.brands.ListReferences(ctx, brandID, types)
	if err != nil {
		return nil, fmt.Errorf("list brand references: %w", err)
	}
	centroid := Centroid(refs)

	if cacheable && centroid != nil {
		if err := e.cache.Set(ctx, key, centroid, e.opts.CentroidTTL); err != nil {
			slog.Warn("centroid cache write failed", "brand_id", brandID, "error", err)
		}
	}
	return centroid, nil
}

func (e *Engine) finish(ctx context.Context, asset *models.Asset, brandID uuid.UUID, versionID *uuid.UUID, status models.EvaluationStatus, overall *float64, breakdown []models.DimensionResult) (*models.BrandComplianceScore, error) {
	score := &models.BrandComplianceScore{
		AssetID:          asset.ID,
		BrandID:          brandID,
		ModelVersionID:   versionID,
		EvaluationStatus: status,
		OverallScore:     overall,
		Breakdown:        breakdown,
	}
	if err := e.scores.Upsert(ctx, score); err != nil {
		return nil, err
	}

	if e.auditor != nil {
		details := map[string]interface{}{
			"brand_id":          brandID.String(),
			"evaluation_status": string(status),
		}
		if overall != nil {
			details["overall_score"] = *overall
		}
		if err := e.auditor.Log(ctx, audit.LogEntry{
			TenantID:     asset.TenantID,
			Action:       "compliance.scored",
			ResourceType: "asset",
			ResourceID:   &asset.ID,
			Details:      details,
		}); err != nil {
			slog.Warn("audit log write failed", "asset_id", asset.ID, "error", err)
		}
	}

	slog.Info("compliance verdict recorded",
		"asset_id", asset.ID,
		"brand_id", brandID,
		"evaluation_status", status,
	)
	return score, nil
}

// dominantColors decodes the color analysis clusters out of the metadata
// bag. The bag holds JSON-decoded values, so a roundtrip recovers the typed
// form.
func dominantColors(meta models.AssetMetadata) []coloranalysis.Cluster {
	raw, ok := meta[models.MetaDominantColors]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var clusters []coloranalysis.Cluster
	if err := json.Unmarshal(data, &clusters); err != nil {
		return nil
	}
	return clusters
}

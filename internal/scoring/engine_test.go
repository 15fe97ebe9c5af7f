package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilovetoast/brandlens/internal/brand"
	"github.com/ilovetoast/brandlens/internal/cache"
	"github.com/ilovetoast/brandlens/internal/embeddingstore"
	"github.com/ilovetoast/brandlens/internal/models"
)

type fakeAssets map[uuid.UUID]*models.Asset

func (f fakeAssets) GetByID(_ context.Context, id uuid.UUID) (*models.Asset, error) {
	a, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("asset %s not found", id)
	}
	return a, nil
}

type fakeBrands struct {
	model   *models.BrandModel
	version *models.BrandModelVersion
	refs    []models.BrandVisualReference
}

func (f *fakeBrands) GetEnabledModel(_ context.Context, brandID uuid.UUID) (*models.BrandModel, error) {
	if f.model == nil || !f.model.Enabled {
		return nil, brand.ErrNoEnabledModel
	}
	return f.model, nil
}

func (f *fakeBrands) GetActiveVersion(_ context.Context, _ *models.BrandModel) (*models.BrandModelVersion, error) {
	if f.version == nil {
		return nil, brand.ErrNoActiveVersion
	}
	return f.version, nil
}

func (f *fakeBrands) ListReferences(_ context.Context, _ uuid.UUID, types []string) ([]models.BrandVisualReference, error) {
	if len(types) == 0 {
		return f.refs, nil
	}
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	var out []models.BrandVisualReference
	for _, r := range f.refs {
		if allowed[r.Type] {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeEmbeddings map[uuid.UUID][]float32

func (f fakeEmbeddings) Get(_ context.Context, assetID uuid.UUID) (*models.AssetEmbedding, error) {
	vec, ok := f[assetID]
	if !ok {
		return nil, embeddingstore.ErrNotFound
	}
	return &models.AssetEmbedding{AssetID: assetID, Vector: vec, Model: "test-model"}, nil
}

type fakeScores map[string]*models.BrandComplianceScore

func scoreKey(assetID, brandID uuid.UUID) string {
	return assetID.String() + "|" + brandID.String()
}

func (f fakeScores) Upsert(_ context.Context, score *models.BrandComplianceScore) error {
	if score.ID == uuid.Nil {
		score.ID = uuid.New()
	}
	cp := *score
	f[scoreKey(score.AssetID, score.BrandID)] = &cp
	return nil
}

func (f fakeScores) Get(_ context.Context, assetID, brandID uuid.UUID) (*models.BrandComplianceScore, error) {
	s, ok := f[scoreKey(assetID, brandID)]
	if !ok {
		return nil, ErrScoreNotFound
	}
	return s, nil
}

func newVersion(rules models.ScoringRules, cfg models.ScoringConfig) (*models.BrandModel, *models.BrandModelVersion) {
	modelID := uuid.New()
	versionID := uuid.New()
	model := &models.BrandModel{
		ID:              modelID,
		BrandID:         uuid.New(),
		Enabled:         true,
		ActiveVersionID: &versionID,
	}
	version := &models.BrandModelVersion{
		ID:      versionID,
		ModelID: modelID,
		Version: 1,
		Payload: models.ModelPayload{ScoringRules: rules, ScoringConfig: cfg},
	}
	return model, version
}

func hueGroup(s string) *string { return &s }

func readyImageAsset(id uuid.UUID) *models.Asset {
	return &models.Asset{
		ID:               id,
		TenantID:         uuid.New(),
		Title:            "Summer campaign hero",
		MimeType:         "image/jpeg",
		AnalysisStatus:   models.StatusScoring,
		ThumbnailStatus:  models.ThumbnailCompleted,
		DominantHueGroup: hueGroup("blue"),
		Metadata: models.AssetMetadata{
			models.MetaMetadataExtracted:  true,
			models.MetaAITaggingCompleted: true,
			models.MetaDominantColors: []interface{}{
				map[string]interface{}{
					"lab":      []interface{}{34.2, 39.3, -72.5},
					"hex":      "#2040c8",
					"coverage": 0.8,
					"bucket":   "blue",
				},
				map[string]interface{}{
					"lab":      []interface{}{95.0, 0.0, 0.0},
					"hex":      "#f5f5f5",
					"coverage": 0.2,
					"bucket":   "white",
				},
			},
			models.MetaTags: []interface{}{"outdoor", "bold"},
		},
	}
}

func TestScoreNoEnabledModelNotApplicable(t *testing.T) {
	assetID, brandID := uuid.New(), uuid.New()
	assets := fakeAssets{assetID: readyImageAsset(assetID)}
	scores := fakeScores{}

	eng := NewEngine(assets, &fakeBrands{}, fakeEmbeddings{}, scores, nil, nil, Options{})

	got, err := eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationNotApplicable, got.EvaluationStatus)
	assert.Nil(t, got.OverallScore)
}

func TestScoreNoActiveVersionNotApplicable(t *testing.T) {
	assetID, brandID := uuid.New(), uuid.New()
	assets := fakeAssets{assetID: readyImageAsset(assetID)}
	model, _ := newVersion(models.ScoringRules{}, models.ScoringConfig{})

	eng := NewEngine(assets, &fakeBrands{model: model}, fakeEmbeddings{}, fakeScores{}, nil, nil, Options{})

	got, err := eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationNotApplicable, got.EvaluationStatus)
	assert.Nil(t, got.OverallScore)
}

func TestScoreImageMissingArtifactsPending(t *testing.T) {
	model, version := newVersion(models.ScoringRules{}, models.ScoringConfig{ImageryWeight: 1})
	brands := &fakeBrands{model: model, version: version}

	tests := []struct {
		name   string
		mutate func(a *models.Asset, emb fakeEmbeddings)
	}{
		{"missing hue group", func(a *models.Asset, emb fakeEmbeddings) {
			a.DominantHueGroup = nil
			emb[a.ID] = []float32{1, 0}
		}},
		{"missing dominant colors", func(a *models.Asset, emb fakeEmbeddings) {
			delete(a.Metadata, models.MetaDominantColors)
			emb[a.ID] = []float32{1, 0}
		}},
		{"missing embedding", func(a *models.Asset, emb fakeEmbeddings) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assetID, brandID := uuid.New(), uuid.New()
			a := readyImageAsset(assetID)
			emb := fakeEmbeddings{}
			tt.mutate(a, emb)

			scores := fakeScores{}
			eng := NewEngine(fakeAssets{assetID: a}, brands, emb, scores, nil, nil, Options{})

			got, err := eng.Score(context.Background(), assetID, brandID)
			require.NoError(t, err)
			assert.Equal(t, models.EvaluationPendingProcessing, got.EvaluationStatus)
			assert.Nil(t, got.OverallScore)
		})
	}
}

func TestScoreNonImageBypassesReadinessGate(t *testing.T) {
	assetID, brandID := uuid.New(), uuid.New()
	doc := &models.Asset{
		ID:       assetID,
		TenantID: uuid.New(),
		Title:    "Brand guidelines",
		MimeType: "application/pdf",
		Metadata: models.AssetMetadata{
			"description": "a bold and playful voice for the modern brand",
		},
	}

	model, version := newVersion(
		models.ScoringRules{ToneKeywords: []string{"bold", "playful"}},
		models.ScoringConfig{ToneWeight: 1},
	)

	scores := fakeScores{}
	eng := NewEngine(fakeAssets{assetID: doc}, &fakeBrands{model: model, version: version}, fakeEmbeddings{}, scores, nil, nil, Options{})

	got, err := eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationEvaluated, got.EvaluationStatus)
	require.NotNil(t, got.OverallScore)
	assert.InDelta(t, 100.0, *got.OverallScore, 1e-9)
}

func TestScoreImageryIdenticalVectorExactly100(t *testing.T) {
	assetID, brandID := uuid.New(), uuid.New()
	vec := []float32{0.1, 0.5, -0.3, 0.8}

	model, version := newVersion(models.ScoringRules{}, models.ScoringConfig{ImageryWeight: 1})
	brands := &fakeBrands{
		model:   model,
		version: version,
		refs: []models.BrandVisualReference{
			{BrandID: brandID, Type: "logo", Vector: vec},
		},
	}

	scores := fakeScores{}
	eng := NewEngine(fakeAssets{assetID: readyImageAsset(assetID)}, brands,
		fakeEmbeddings{assetID: vec}, scores, nil, nil, Options{})

	got, err := eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationEvaluated, got.EvaluationStatus)
	require.NotNil(t, got.OverallScore)
	assert.Equal(t, 100.0, *got.OverallScore)
}

func TestScoreCentroidShiftsWithReferenceSet(t *testing.T) {
	assetVec := []float32{1, 0, 0, 0}
	refA := []float32{1, 0, 0, 0}
	refB := []float32{0, 1, 0, 0}

	score := func(refs ...[]float32) float64 {
		assetID, brandID := uuid.New(), uuid.New()
		model, version := newVersion(models.ScoringRules{}, models.ScoringConfig{ImageryWeight: 1})
		brands := &fakeBrands{model: model, version: version}
		for _, v := range refs {
			brands.refs = append(brands.refs, models.BrandVisualReference{
				BrandID: brandID, Type: "photography_reference", Vector: v,
			})
		}

		eng := NewEngine(fakeAssets{assetID: readyImageAsset(assetID)}, brands,
			fakeEmbeddings{assetID: assetVec}, fakeScores{}, nil, nil, Options{})
		got, err := eng.Score(context.Background(), assetID, brandID)
		require.NoError(t, err)
		require.NotNil(t, got.OverallScore)
		return *got.OverallScore
	}

	onlyA := score(refA)
	onlyB := score(refB)
	both := score(refA, refB)

	assert.Equal(t, 100.0, onlyA)
	assert.NotEqual(t, onlyA, both)
	assert.NotEqual(t, onlyB, both)
	// The blended centroid sits between the two extremes.
	assert.Greater(t, both, onlyB)
	assert.Less(t, both, onlyA)
}

func TestScoreColorDimension(t *testing.T) {
	assetID, brandID := uuid.New(), uuid.New()

	// Palette matches the dominant blue cluster (0.8 coverage) but not the
	// white one.
	model, version := newVersion(
		models.ScoringRules{AllowedColorPalette: []string{"#2040c8"}},
		models.ScoringConfig{ColorWeight: 1},
	)

	emb := fakeEmbeddings{assetID: []float32{1, 0}}
	scores := fakeScores{}
	eng := NewEngine(fakeAssets{assetID: readyImageAsset(assetID)}, &fakeBrands{model: model, version: version}, emb, scores, nil, nil, Options{})

	got, err := eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationEvaluated, got.EvaluationStatus)
	require.NotNil(t, got.OverallScore)
	assert.InDelta(t, 80.0, *got.OverallScore, 0.5)
}

func TestScoreWeightsRenormalizedOverScoredDimensions(t *testing.T) {
	assetID, brandID := uuid.New(), uuid.New()
	vec := []float32{1, 0, 0}

	// Imagery scores 100, tone scores 50, color and typography configured
	// with no rules so they are excluded rather than counted as zero.
	model, version := newVersion(
		models.ScoringRules{ToneKeywords: []string{"outdoor", "minimal"}},
		models.ScoringConfig{ImageryWeight: 3, ToneWeight: 1, ColorWeight: 2, TypographyWeight: 2},
	)
	brands := &fakeBrands{
		model: model, version: version,
		refs: []models.BrandVisualReference{{BrandID: brandID, Type: "logo", Vector: vec}},
	}

	a := readyImageAsset(assetID)
	delete(a.Metadata, models.MetaDominantColors)
	a.MimeType = "application/pdf" // skip the image gate so missing colors exclude the dimension

	scores := fakeScores{}
	eng := NewEngine(fakeAssets{assetID: a}, brands, fakeEmbeddings{assetID: vec}, scores, nil, nil, Options{})

	got, err := eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)
	require.NotNil(t, got.OverallScore)
	// (3*100 + 1*50) / (3+1)
	assert.InDelta(t, 87.5, *got.OverallScore, 1e-9)

	byDim := map[string]models.DimensionResult{}
	for _, d := range got.Breakdown {
		byDim[d.Dimension] = d
	}
	assert.Equal(t, models.DimensionScored, byDim[models.DimensionImagery].Status)
	assert.Equal(t, models.DimensionScored, byDim[models.DimensionTone].Status)
	assert.Equal(t, models.DimensionNotApplicable, byDim[models.DimensionColor].Status)
	assert.Equal(t, models.DimensionNotApplicable, byDim[models.DimensionTypography].Status)
}

func TestScoreAllWeightsZeroNotApplicable(t *testing.T) {
	assetID, brandID := uuid.New(), uuid.New()
	model, version := newVersion(models.ScoringRules{}, models.ScoringConfig{})

	emb := fakeEmbeddings{assetID: []float32{1, 0}}
	eng := NewEngine(fakeAssets{assetID: readyImageAsset(assetID)}, &fakeBrands{model: model, version: version}, emb, fakeScores{}, nil, nil, Options{})

	got, err := eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationNotApplicable, got.EvaluationStatus)
	assert.Nil(t, got.OverallScore)
}

func TestMarkPendingNullsPreviousScore(t *testing.T) {
	assetID, brandID := uuid.New(), uuid.New()
	vec := []float32{0.2, 0.9}

	model, version := newVersion(models.ScoringRules{}, models.ScoringConfig{ImageryWeight: 1})
	brands := &fakeBrands{
		model: model, version: version,
		refs: []models.BrandVisualReference{{BrandID: brandID, Type: "logo", Vector: vec}},
	}

	scores := fakeScores{}
	eng := NewEngine(fakeAssets{assetID: readyImageAsset(assetID)}, brands,
		fakeEmbeddings{assetID: vec}, scores, nil, nil, Options{})

	first, err := eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)
	require.NotNil(t, first.OverallScore)

	require.NoError(t, eng.MarkPending(context.Background(), assetID, brandID))

	stored, err := scores.Get(context.Background(), assetID, brandID)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationPendingProcessing, stored.EvaluationStatus)
	assert.Nil(t, stored.OverallScore)
}

func TestScoreMultiAssetIsolation(t *testing.T) {
	brandID := uuid.New()
	idA, idB := uuid.New(), uuid.New()
	vecA := []float32{1, 0}
	vecB := []float32{0, 1}

	model, version := newVersion(models.ScoringRules{}, models.ScoringConfig{ImageryWeight: 1})
	brands := &fakeBrands{
		model: model, version: version,
		refs: []models.BrandVisualReference{{BrandID: brandID, Type: "logo", Vector: vecA}},
	}

	scores := fakeScores{}
	eng := NewEngine(
		fakeAssets{idA: readyImageAsset(idA), idB: readyImageAsset(idB)},
		brands,
		fakeEmbeddings{idA: vecA, idB: vecB},
		scores, nil, nil, Options{},
	)

	gotA, err := eng.Score(context.Background(), idA, brandID)
	require.NoError(t, err)
	gotB, err := eng.Score(context.Background(), idB, brandID)
	require.NoError(t, err)

	require.NotNil(t, gotA.OverallScore)
	require.NotNil(t, gotB.OverallScore)
	assert.Equal(t, 100.0, *gotA.OverallScore)
	assert.InDelta(t, 50.0, *gotB.OverallScore, 1e-9)

	// Re-reading each row shows no cross-contamination.
	storedA, err := scores.Get(context.Background(), idA, brandID)
	require.NoError(t, err)
	storedB, err := scores.Get(context.Background(), idB, brandID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, *storedA.OverallScore)
	assert.InDelta(t, 50.0, *storedB.OverallScore, 1e-9)
}

func TestScoreRescoringUpsertsInPlace(t *testing.T) {
	assetID, brandID := uuid.New(), uuid.New()
	vec := []float32{0.3, 0.7}

	model, version := newVersion(models.ScoringRules{}, models.ScoringConfig{ImageryWeight: 1})
	brands := &fakeBrands{
		model: model, version: version,
		refs: []models.BrandVisualReference{{BrandID: brandID, Type: "logo", Vector: vec}},
	}

	scores := fakeScores{}
	eng := NewEngine(fakeAssets{assetID: readyImageAsset(assetID)}, brands,
		fakeEmbeddings{assetID: vec}, scores, nil, nil, Options{})

	_, err := eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)
	_, err = eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)

	assert.Len(t, scores, 1)
}

func TestCentroid(t *testing.T) {
	refs := []models.BrandVisualReference{
		{Vector: []float32{1, 0, 3}},
		{Vector: []float32{3, 2, 1}},
	}
	assert.Equal(t, []float32{2, 1, 2}, Centroid(refs))

	assert.Nil(t, Centroid(nil))

	// Mismatched dimensions are skipped, not averaged in.
	mixed := append(refs, models.BrandVisualReference{Vector: []float32{1, 1}})
	assert.Equal(t, []float32{2, 1, 2}, Centroid(mixed))
}

func TestSimilarityToScoreMapping(t *testing.T) {
	assert.Equal(t, 100.0, similarityToScore(1))
	assert.Equal(t, 50.0, similarityToScore(0))
	assert.Equal(t, 0.0, similarityToScore(-1))
}

type countingCache struct {
	store map[string][]float32
	gets  int
	sets  int
}

func (c *countingCache) Get(_ context.Context, key string, dest interface{}) error {
	c.gets++
	v, ok := c.store[key]
	if !ok {
		return cache.ErrMiss
	}
	*(dest.(*[]float32)) = v
	return nil
}

func (c *countingCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.sets++
	c.store[key] = value.([]float32)
	return nil
}

func TestBrandCentroidCached(t *testing.T) {
	assetID, brandID := uuid.New(), uuid.New()
	vec := []float32{1, 0}

	model, version := newVersion(models.ScoringRules{}, models.ScoringConfig{ImageryWeight: 1})
	brands := &fakeBrands{
		model: model, version: version,
		refs: []models.BrandVisualReference{{BrandID: brandID, Type: "logo", Vector: vec}},
	}

	cc := &countingCache{store: map[string][]float32{}}
	eng := NewEngine(fakeAssets{assetID: readyImageAsset(assetID)}, brands,
		fakeEmbeddings{assetID: vec}, fakeScores{}, cc, nil, Options{})

	_, err := eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)
	_, err = eng.Score(context.Background(), assetID, brandID)
	require.NoError(t, err)

	assert.Equal(t, 2, cc.gets)
	assert.Equal(t, 1, cc.sets, "second run should hit the cached centroid")
}

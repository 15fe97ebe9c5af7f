package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilovetoast/brandlens/internal/brand"
	"github.com/ilovetoast/brandlens/internal/coloranalysis"
	"github.com/ilovetoast/brandlens/internal/embedding"
	"github.com/ilovetoast/brandlens/internal/embeddingstore"
	"github.com/ilovetoast/brandlens/internal/models"
	"github.com/ilovetoast/brandlens/internal/queue"
	"github.com/ilovetoast/brandlens/internal/scoring"
)

// memStore mirrors the repository's compare-and-swap semantics in memory:
// completions mutate only when the status precondition holds and report the
// swap result, exactly like the conditional UPDATEs they stand in for.
type memStore struct {
	assets     map[uuid.UUID]*models.Asset
	embeddings map[uuid.UUID][]float32
	embedModel map[uuid.UUID]string
}

func newMemStore() *memStore {
	return &memStore{
		assets:     map[uuid.UUID]*models.Asset{},
		embeddings: map[uuid.UUID][]float32{},
		embedModel: map[uuid.UUID]string{},
	}
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Asset, error) {
	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s not found", id)
	}
	cp := *a
	cp.Metadata = models.AssetMetadata{}
	for k, v := range a.Metadata {
		cp.Metadata[k] = v
	}
	return &cp, nil
}

func (s *memStore) cas(id uuid.UUID, from, to models.AnalysisStatus) bool {
	a, ok := s.assets[id]
	if !ok || a.AnalysisStatus != from {
		return false
	}
	a.AnalysisStatus = to
	a.UpdatedAt = time.Now()
	return true
}

func (s *memStore) BeginProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	return s.cas(id, models.StatusUploading, models.StatusGeneratingThumbnails), nil
}

func (s *memStore) CompleteThumbnailRendering(id uuid.UUID, paths map[string]string) bool {
	a, ok := s.assets[id]
	if !ok || a.AnalysisStatus != models.StatusGeneratingThumbnails {
		return false
	}
	a.ThumbnailStatus = models.ThumbnailCompleted
	converted := map[string]interface{}{}
	for k, v := range paths {
		converted[k] = v
	}
	a.Metadata[models.MetaThumbnailPaths] = converted
	a.AnalysisStatus = models.StatusExtractingMetadata
	return true
}

func (s *memStore) CompleteMetadataExtraction(_ context.Context, id uuid.UUID, res *coloranalysis.Result) (bool, error) {
	if len(res.Clusters) == 0 {
		return false, fmt.Errorf("refusing to persist empty color analysis for asset %s", id)
	}
	a, ok := s.assets[id]
	if !ok || a.AnalysisStatus != models.StatusExtractingMetadata {
		return false, nil
	}
	// JSON roundtrip matches what a JSONB column hands back.
	raw, err := json.Marshal(res.Clusters)
	if err != nil {
		return false, err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return false, err
	}
	a.Metadata[models.MetaDominantColors] = decoded
	a.Metadata[models.MetaMetadataExtracted] = true
	a.Metadata[models.MetaMetadataExtractedAt] = time.Now().UTC().Format(time.RFC3339)
	bucket := res.DominantBucket()
	a.DominantHueGroup = &bucket
	a.AnalysisStatus = models.StatusGeneratingEmbedding
	return true, nil
}

func (s *memStore) CompleteEmbedding(_ context.Context, id uuid.UUID, vector []float32, model string) (bool, error) {
	a, ok := s.assets[id]
	if !ok || a.AnalysisStatus != models.StatusGeneratingEmbedding {
		return false, nil
	}
	s.embeddings[id] = vector
	s.embedModel[id] = model
	a.AnalysisStatus = models.StatusScoring
	return true, nil
}

func (s *memStore) CompleteScoring(_ context.Context, id uuid.UUID) (bool, error) {
	return s.cas(id, models.StatusScoring, models.StatusComplete), nil
}

func (s *memStore) MergeMetadata(_ context.Context, id uuid.UUID, patch map[string]interface{}) error {
	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s not found", id)
	}
	for k, v := range patch {
		a.Metadata[k] = v
	}
	return nil
}

func (s *memStore) SetTags(ctx context.Context, id uuid.UUID, tags []string) error {
	converted := make([]interface{}, len(tags))
	for i, t := range tags {
		converted[i] = t
	}
	return s.MergeMetadata(ctx, id, map[string]interface{}{
		models.MetaTags:               converted,
		models.MetaAITaggingCompleted: true,
	})
}

// Get satisfies scoring.EmbeddingGetter for end-to-end runs.
func (s *memStore) Get(_ context.Context, assetID uuid.UUID) (*models.AssetEmbedding, error) {
	vec, ok := s.embeddings[assetID]
	if !ok {
		return nil, embeddingstore.ErrNotFound
	}
	return &models.AssetEmbedding{AssetID: assetID, Vector: vec, Model: s.embedModel[assetID]}, nil
}

type queuedTask struct {
	taskType string
	payload  []byte
}

type memQueue struct {
	tasks []queuedTask
}

func (q *memQueue) EnqueueStage(taskType string, payload queue.AssetStagePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.tasks = append(q.tasks, queuedTask{taskType: taskType, payload: data})
	return nil
}

func (q *memQueue) EnqueueTagging(payload queue.AssetTagPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.tasks = append(q.tasks, queuedTask{taskType: queue.TypeAssetTag, payload: data})
	return nil
}

func (q *memQueue) pop() (queuedTask, bool) {
	if len(q.tasks) == 0 {
		return queuedTask{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

type memFiles map[string][]byte

func (f memFiles) Download(_ context.Context, _ string, path string) (io.ReadCloser, error) {
	data, ok := f[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fixedAnalyzer struct {
	res   *coloranalysis.Result
	calls int
}

func (a *fixedAnalyzer) Analyze(io.Reader) (*coloranalysis.Result, error) {
	a.calls++
	return a.res, nil
}

type fixedEmbedder struct {
	vec   []float32
	calls int
}

func (e *fixedEmbedder) EmbedAsset(context.Context, *models.Asset) ([]float32, error) {
	e.calls++
	return append([]float32(nil), e.vec...), nil
}

type fixedTagger struct{ tags []string }

func (t fixedTagger) TagImage(context.Context, []byte, string) ([]string, error) {
	return t.tags, nil
}

type recordingScorer struct {
	calls  int
	result *models.BrandComplianceScore
}

func (s *recordingScorer) Score(_ context.Context, assetID, brandID uuid.UUID) (*models.BrandComplianceScore, error) {
	s.calls++
	if s.result != nil {
		return s.result, nil
	}
	return &models.BrandComplianceScore{
		AssetID: assetID, BrandID: brandID,
		EvaluationStatus: models.EvaluationEvaluated,
	}, nil
}

func stageTask(t *testing.T, taskType string, assetID uuid.UUID) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.AssetStagePayload{AssetID: assetID.String(), TenantID: uuid.New().String()})
	require.NoError(t, err)
	return asynq.NewTask(taskType, data)
}

func threeClusterResult() *coloranalysis.Result {
	return &coloranalysis.Result{
		Clusters: []coloranalysis.Cluster{
			{Lab: [3]float64{40, 30, -60}, Hex: "#2040c8", Coverage: 0.6, Bucket: "blue"},
			{Lab: [3]float64{95, 0, 0}, Hex: "#f2f2f2", Coverage: 0.3, Bucket: "white"},
			{Lab: [3]float64{55, 60, 45}, Hex: "#d02020", Coverage: 0.1, Bucket: "red"},
		},
	}
}

func seedAsset(store *memStore, status models.AnalysisStatus) *models.Asset {
	a := &models.Asset{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		BrandID:        uuid.New(),
		Title:          "Launch banner",
		FilePath:       "assets/launch-banner.png",
		MimeType:       "image/png",
		AnalysisStatus: status,
		ThumbnailStatus: func() string {
			if status == models.StatusUploading || status == models.StatusGeneratingThumbnails {
				return models.ThumbnailPending
			}
			return models.ThumbnailCompleted
		}(),
		Metadata: models.AssetMetadata{},
	}
	store.assets[a.ID] = a
	return a
}

func TestProcessWorkerAdvances(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusUploading)

	w := NewProcessWorker(store)
	require.NoError(t, w.ProcessTask(context.Background(), stageTask(t, queue.TypeAssetProcess, a.ID)))

	assert.Equal(t, models.StatusGeneratingThumbnails, store.assets[a.ID].AnalysisStatus)
}

func TestProcessWorkerSkipsOnStatusMismatch(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusScoring)

	w := NewProcessWorker(store)
	require.NoError(t, w.ProcessTask(context.Background(), stageTask(t, queue.TypeAssetProcess, a.ID)))

	// No mutation of any kind.
	assert.Equal(t, models.StatusScoring, store.assets[a.ID].AnalysisStatus)
	assert.Empty(t, store.assets[a.ID].Metadata)
}

func TestProcessWorkerRejectsMissingFilePath(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusUploading)
	a.FilePath = ""

	w := NewProcessWorker(store)
	err := w.ProcessTask(context.Background(), stageTask(t, queue.TypeAssetProcess, a.ID))
	require.Error(t, err)
	assert.Equal(t, models.StatusUploading, store.assets[a.ID].AnalysisStatus)
}

func TestMetadataWorkerPersistsColorsAndAdvances(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusExtractingMetadata)
	a.Metadata[models.MetaThumbnailPaths] = map[string]interface{}{"medium": "thumbs/medium.png"}

	files := memFiles{"thumbs/medium.png": []byte("raster")}
	analyzer := &fixedAnalyzer{res: threeClusterResult()}
	q := &memQueue{}

	w := NewMetadataWorker(store, files, analyzer, q, "assets", "medium")
	require.NoError(t, w.ProcessTask(context.Background(), stageTask(t, queue.TypeAssetExtractMetadata, a.ID)))

	got := store.assets[a.ID]
	assert.Equal(t, models.StatusGeneratingEmbedding, got.AnalysisStatus)
	assert.True(t, got.Metadata.Bool(models.MetaMetadataExtracted))
	require.NotNil(t, got.DominantHueGroup)
	assert.Equal(t, "blue", *got.DominantHueGroup)

	require.Len(t, q.tasks, 1)
	assert.Equal(t, queue.TypeAssetGenerateEmbedding, q.tasks[0].taskType)
}

func TestMetadataWorkerIdempotentSecondRun(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusExtractingMetadata)
	a.Metadata[models.MetaThumbnailPaths] = map[string]interface{}{"medium": "thumbs/medium.png"}

	files := memFiles{"thumbs/medium.png": []byte("raster")}
	analyzer := &fixedAnalyzer{res: threeClusterResult()}
	q := &memQueue{}
	w := NewMetadataWorker(store, files, analyzer, q, "assets", "medium")

	task := stageTask(t, queue.TypeAssetExtractMetadata, a.ID)
	require.NoError(t, w.ProcessTask(context.Background(), task))
	require.NoError(t, w.ProcessTask(context.Background(), task))

	// Second delivery is a no-op: one analysis, one downstream enqueue, no
	// double advance.
	assert.Equal(t, models.StatusGeneratingEmbedding, store.assets[a.ID].AnalysisStatus)
	assert.Len(t, q.tasks, 1)
}

func TestMetadataWorkerErrorsWithoutThumbnail(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusExtractingMetadata)

	w := NewMetadataWorker(store, memFiles{}, &fixedAnalyzer{res: threeClusterResult()}, &memQueue{}, "assets", "medium")
	err := w.ProcessTask(context.Background(), stageTask(t, queue.TypeAssetExtractMetadata, a.ID))
	require.Error(t, err)
	assert.Equal(t, models.StatusExtractingMetadata, store.assets[a.ID].AnalysisStatus)
}

func TestEmbeddingWorkerNormalizesBeforeStorage(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusGeneratingEmbedding)

	q := &memQueue{}
	w := NewEmbeddingWorker(store, &fixedEmbedder{vec: []float32{3, 4}}, "text-embedding-3-small", q)
	require.NoError(t, w.ProcessTask(context.Background(), stageTask(t, queue.TypeAssetGenerateEmbedding, a.ID)))

	assert.Equal(t, models.StatusScoring, store.assets[a.ID].AnalysisStatus)
	stored := store.embeddings[a.ID]
	require.Len(t, stored, 2)
	assert.InDelta(t, 0.6, stored[0], 1e-6)
	assert.InDelta(t, 0.8, stored[1], 1e-6)
	assert.Equal(t, "text-embedding-3-small", store.embedModel[a.ID])

	require.Len(t, q.tasks, 1)
	assert.Equal(t, queue.TypeAssetScore, q.tasks[0].taskType)
}

func TestScoringWorkerWaitsForGate(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusScoring)
	a.Metadata[models.MetaMetadataExtracted] = true
	// ai_tagging_completed still missing.

	scorer := &recordingScorer{}
	w := NewScoringWorker(store, scorer)
	require.NoError(t, w.ProcessTask(context.Background(), stageTask(t, queue.TypeAssetScore, a.ID)))

	assert.Equal(t, models.StatusScoring, store.assets[a.ID].AnalysisStatus)
	assert.Zero(t, scorer.calls)
}

func TestScoringWorkerCompletesWhenReady(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusScoring)
	a.Metadata[models.MetaMetadataExtracted] = true
	a.Metadata[models.MetaAITaggingCompleted] = true

	scorer := &recordingScorer{}
	w := NewScoringWorker(store, scorer)
	require.NoError(t, w.ProcessTask(context.Background(), stageTask(t, queue.TypeAssetScore, a.ID)))

	assert.Equal(t, models.StatusComplete, store.assets[a.ID].AnalysisStatus)
	assert.Equal(t, 1, scorer.calls)
}

func TestTaggingWorkerSetsFlagAndRedrivesScoring(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusScoring)
	a.Metadata[models.MetaThumbnailPaths] = map[string]interface{}{"medium": "thumbs/medium.png"}

	files := memFiles{"thumbs/medium.png": []byte("\x89PNG\r\n\x1a\nrest")}
	q := &memQueue{}
	w := NewTaggingWorker(store, files, fixedTagger{tags: []string{"outdoor", "bold"}}, q, "assets", "medium")

	data, err := json.Marshal(queue.AssetTagPayload{AssetID: a.ID.String(), TenantID: a.TenantID.String()})
	require.NoError(t, err)
	require.NoError(t, w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeAssetTag, data)))

	got := store.assets[a.ID]
	assert.True(t, got.Metadata.Bool(models.MetaAITaggingCompleted))
	assert.Equal(t, []string{"outdoor", "bold"}, got.Metadata.StringSlice(models.MetaTags))

	require.Len(t, q.tasks, 1)
	assert.Equal(t, queue.TypeAssetScore, q.tasks[0].taskType)

	// A duplicate delivery is a no-op and does not re-enqueue.
	q.tasks = nil
	require.NoError(t, w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeAssetTag, data)))
	assert.Empty(t, q.tasks)
}

// e2eBrands serves the scoring engine a single enabled model whose one logo
// reference vector equals the asset's embedding.
type e2eBrands struct {
	model   *models.BrandModel
	version *models.BrandModelVersion
	refs    []models.BrandVisualReference
}

func (b *e2eBrands) GetEnabledModel(context.Context, uuid.UUID) (*models.BrandModel, error) {
	if b.model == nil {
		return nil, brand.ErrNoEnabledModel
	}
	return b.model, nil
}

func (b *e2eBrands) GetActiveVersion(context.Context, *models.BrandModel) (*models.BrandModelVersion, error) {
	return b.version, nil
}

func (b *e2eBrands) ListReferences(context.Context, uuid.UUID, []string) ([]models.BrandVisualReference, error) {
	return b.refs, nil
}

type e2eScores map[string]*models.BrandComplianceScore

func (s e2eScores) Upsert(_ context.Context, score *models.BrandComplianceScore) error {
	cp := *score
	s[score.AssetID.String()+"|"+score.BrandID.String()] = &cp
	return nil
}

func (s e2eScores) Get(_ context.Context, assetID, brandID uuid.UUID) (*models.BrandComplianceScore, error) {
	sc, ok := s[assetID.String()+"|"+brandID.String()]
	if !ok {
		return nil, scoring.ErrScoreNotFound
	}
	return sc, nil
}

// TestPipelineEndToEnd drives one asset through every stage: process, a
// simulated thumbnail-renderer callback, metadata extraction, embedding,
// tagging and the scoring gate. The brand carries imagery weight 1.0 and a
// single logo reference equal to the asset's embedding, so the final verdict
// is exactly 100.
func TestPipelineEndToEnd(t *testing.T) {
	store := newMemStore()
	a := seedAsset(store, models.StatusUploading)
	a.ThumbnailStatus = models.ThumbnailPending

	refVec := make([]float32, 64)
	for i := range refVec {
		refVec[i] = float32(i%7) - 3
	}

	versionID := uuid.New()
	brands := &e2eBrands{
		model: &models.BrandModel{
			ID: uuid.New(), BrandID: a.BrandID,
			Enabled: true, ActiveVersionID: &versionID,
		},
		version: &models.BrandModelVersion{
			ID: versionID, Version: 1,
			Payload: models.ModelPayload{
				ScoringConfig: models.ScoringConfig{ImageryWeight: 1.0},
			},
		},
		// One logo reference whose vector equals the asset's stored
		// (normalized) embedding.
		refs: []models.BrandVisualReference{
			{BrandID: a.BrandID, Type: "logo", Vector: embedding.Normalize(refVec)},
		},
	}

	scores := e2eScores{}
	engine := scoring.NewEngine(store, brands, store, scores, nil, nil, scoring.Options{})

	files := memFiles{
		"thumbs/medium.png":        []byte("raster"),
		"assets/launch-banner.png": []byte("original"),
	}
	q := &memQueue{}

	process := NewProcessWorker(store)
	metadata := NewMetadataWorker(store, files, &fixedAnalyzer{res: threeClusterResult()}, q, "assets", "medium")
	embed := NewEmbeddingWorker(store, &fixedEmbedder{vec: refVec}, "text-embedding-3-small", q)
	tag := NewTaggingWorker(store, files, fixedTagger{tags: []string{"logo", "brandmark"}}, q, "assets", "medium")
	score := NewScoringWorker(store, engine)

	ctx := context.Background()

	// Upload completion kicks the pipeline.
	require.NoError(t, process.ProcessTask(ctx, stageTask(t, queue.TypeAssetProcess, a.ID)))
	require.Equal(t, models.StatusGeneratingThumbnails, store.assets[a.ID].AnalysisStatus)

	// Simulated external renderer callback: thumbnail done, metadata
	// extraction and tagging enqueued.
	require.True(t, store.CompleteThumbnailRendering(a.ID, map[string]string{"medium": "thumbs/medium.png"}))
	require.NoError(t, q.EnqueueStage(queue.TypeAssetExtractMetadata, queue.AssetStagePayload{AssetID: a.ID.String(), TenantID: a.TenantID.String()}))
	require.NoError(t, q.EnqueueTagging(queue.AssetTagPayload{AssetID: a.ID.String(), TenantID: a.TenantID.String()}))

	// Drain the queue the way the asynq server would.
	for {
		next, ok := q.pop()
		if !ok {
			break
		}
		task := asynq.NewTask(next.taskType, next.payload)
		var err error
		switch next.taskType {
		case queue.TypeAssetExtractMetadata:
			err = metadata.ProcessTask(ctx, task)
		case queue.TypeAssetGenerateEmbedding:
			err = embed.ProcessTask(ctx, task)
		case queue.TypeAssetScore:
			err = score.ProcessTask(ctx, task)
		case queue.TypeAssetTag:
			err = tag.ProcessTask(ctx, task)
		default:
			t.Fatalf("unexpected task type %q", next.taskType)
		}
		require.NoError(t, err, "task %s", next.taskType)
	}

	final := store.assets[a.ID]
	assert.Equal(t, models.StatusComplete, final.AnalysisStatus)
	assert.True(t, final.Metadata.Bool(models.MetaMetadataExtracted))
	assert.True(t, final.Metadata.Bool(models.MetaAITaggingCompleted))

	verdict, err := scores.Get(ctx, a.ID, a.BrandID)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationEvaluated, verdict.EvaluationStatus)
	require.NotNil(t, verdict.OverallScore)
	assert.Equal(t, 100.0, *verdict.OverallScore)
}

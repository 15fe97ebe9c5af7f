package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ilovetoast/brandlens/internal/coloranalysis"
	"github.com/ilovetoast/brandlens/internal/models"
)

var ErrNotFound = errors.New("asset: not found")

// ErrNoMetadataAccepted means a metadata write would have dropped every key
// it was given. Silently losing user-visible analysis output is the one
// failure mode this layer refuses to degrade through.
var ErrNoMetadataAccepted = errors.New("asset: no metadata keys accepted for write")

// writableMetadataKeys is the allowlist for metadata merges. Keys outside it
// are dropped from the patch.
var writableMetadataKeys = map[string]bool{
	models.MetaUploadCompleted:     true,
	models.MetaMetadataExtracted:   true,
	models.MetaAITaggingCompleted:  true,
	models.MetaDominantColors:      true,
	models.MetaThumbnailPaths:      true,
	models.MetaTags:                true,
	models.MetaMetadataExtractedAt: true,
	"description":                  true,
}

// Repo owns asset rows and every analysis_status transition. All advances
// are single conditional UPDATEs (compare-and-swap on analysis_status): two
// concurrent stage runs can never both pass their precondition and
// double-advance.
type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

const assetColumns = `id, tenant_id, brand_id, title, file_path, mime_type,
	analysis_status, thumbnail_status, dominant_hue_group, metadata, created_at, updated_at`

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var a models.Asset
	var meta []byte
	err := row.Scan(&a.ID, &a.TenantID, &a.BrandID, &a.Title, &a.FilePath, &a.MimeType,
		&a.AnalysisStatus, &a.ThumbnailStatus, &a.DominantHueGroup, &meta, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan asset: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return nil, fmt.Errorf("decode asset metadata: %w", err)
		}
	}
	if a.Metadata == nil {
		a.Metadata = models.AssetMetadata{}
	}
	return &a, nil
}

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE id = $1", id)
	return scanAsset(row)
}

// AdvanceStatus moves the asset from exactly `from` to `to` in one
// conditional write. It returns false, without error, when the row was not
// in `from` — the caller treats that as "already processed or out of
// order" and skips.
func (r *Repo) AdvanceStatus(ctx context.Context, id uuid.UUID, from, to models.AnalysisStatus) (bool, error) {
	if !from.CanAdvance(to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE assets SET analysis_status = $1, updated_at = now()
		 WHERE id = $2 AND analysis_status = $3`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("advance %s -> %s: %w", from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// BeginProcessing is the first stage advance. An asset whose status was
// never set reads as 'uploading' via the column default, so the CAS covers
// both cases.
func (r *Repo) BeginProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.AdvanceStatus(ctx, id, models.StatusUploading, models.StatusGeneratingThumbnails)
}

// CompleteThumbnailRendering records the external renderer's completion:
// thumbnail substate, rendered paths, and the advance into metadata
// extraction, all in one conditional UPDATE.
func (r *Repo) CompleteThumbnailRendering(ctx context.Context, id uuid.UUID, paths map[string]string) (bool, error) {
	patch, err := json.Marshal(map[string]interface{}{
		models.MetaThumbnailPaths: paths,
	})
	if err != nil {
		return false, fmt.Errorf("marshal thumbnail paths: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE assets SET
			thumbnail_status = $1,
			metadata = metadata || $2::jsonb,
			analysis_status = $3,
			updated_at = now()
		 WHERE id = $4 AND analysis_status = $5`,
		models.ThumbnailCompleted, patch, models.StatusExtractingMetadata,
		id, models.StatusGeneratingThumbnails,
	)
	if err != nil {
		return false, fmt.Errorf("complete thumbnail rendering: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteMetadataExtraction persists the color analysis output and advances
// extracting_metadata -> generating_embedding. Output data and status share
// one UPDATE, so there is no window where one exists without the other.
func (r *Repo) CompleteMetadataExtraction(ctx context.Context, id uuid.UUID, res *coloranalysis.Result) (bool, error) {
	if len(res.Clusters) == 0 {
		return false, fmt.Errorf("refusing to persist empty color analysis for asset %s", id)
	}

	patch, err := json.Marshal(map[string]interface{}{
		models.MetaDominantColors:      res.Clusters,
		models.MetaMetadataExtracted:   true,
		models.MetaMetadataExtractedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, fmt.Errorf("marshal color analysis: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE assets SET
			metadata = metadata || $1::jsonb,
			dominant_hue_group = $2,
			analysis_status = $3,
			updated_at = now()
		 WHERE id = $4 AND analysis_status = $5`,
		patch, res.DominantBucket(), models.StatusGeneratingEmbedding,
		id, models.StatusExtractingMetadata,
	)
	if err != nil {
		return false, fmt.Errorf("complete metadata extraction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteEmbedding upserts the asset's embedding row and advances
// generating_embedding -> scoring in one transaction. A CAS miss rolls the
// embedding write back.
func (r *Repo) CompleteEmbedding(ctx context.Context, id uuid.UUID, vector []float32, model string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO asset_embeddings (id, asset_id, embedding, model)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (asset_id) DO UPDATE SET embedding = $3, model = $4`,
		uuid.New(), id, pgvector.NewVector(vector), model,
	)
	if err != nil {
		return false, fmt.Errorf("upsert embedding: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE assets SET analysis_status = $1, updated_at = now()
		 WHERE id = $2 AND analysis_status = $3`,
		models.StatusScoring, id, models.StatusGeneratingEmbedding,
	)
	if err != nil {
		return false, fmt.Errorf("advance to scoring: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit embedding stage: %w", err)
	}
	return true, nil
}

// CompleteScoring advances scoring -> complete.
func (r *Repo) CompleteScoring(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.AdvanceStatus(ctx, id, models.StatusScoring, models.StatusComplete)
}

// MergeMetadata filters the patch through the writable-key allowlist and
// merges it into the asset's metadata bag. A patch with no surviving keys is
// a logic fault, not a quiet no-op.
func (r *Repo) MergeMetadata(ctx context.Context, id uuid.UUID, patch map[string]interface{}) error {
	accepted := make(map[string]interface{}, len(patch))
	for k, v := range patch {
		if writableMetadataKeys[k] {
			accepted[k] = v
		}
	}
	if len(accepted) == 0 {
		return fmt.Errorf("%w: keys %v", ErrNoMetadataAccepted, keysOf(patch))
	}

	data, err := json.Marshal(accepted)
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE assets SET metadata = metadata || $1::jsonb, updated_at = now() WHERE id = $2`,
		data, id,
	)
	if err != nil {
		return fmt.Errorf("merge metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTags records AI tagging output and its completion flag.
func (r *Repo) SetTags(ctx context.Context, id uuid.UUID, tags []string) error {
	return r.MergeMetadata(ctx, id, map[string]interface{}{
		models.MetaTags:               tags,
		models.MetaAITaggingCompleted: true,
	})
}

// ListStalled returns non-terminal assets untouched since the cutoff, oldest
// first. Consumed by the recovery scanner.
func (r *Repo) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]models.Asset, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		"SELECT "+assetColumns+` FROM assets
		 WHERE analysis_status <> $1 AND updated_at < $2
		 ORDER BY updated_at ASC
		 LIMIT $3`,
		models.StatusComplete, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stalled assets: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ResetAnalysis clears every derived analysis artifact so the pipeline
// recomputes from scratch: status back to uploading, thumbnail re-pending,
// hue group and analysis metadata dropped, embedding row deleted. The
// compliance score is nulled separately by the scoring engine.
func (r *Repo) ResetAnalysis(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE assets SET
			analysis_status = $1,
			thumbnail_status = $2,
			dominant_hue_group = NULL,
			metadata = metadata
				- $3::text - $4::text - $5::text - $6::text - $7::text - $8::text,
			updated_at = now()
		 WHERE id = $9`,
		models.StatusUploading, models.ThumbnailPending,
		models.MetaDominantColors, models.MetaMetadataExtracted, models.MetaMetadataExtractedAt,
		models.MetaAITaggingCompleted, models.MetaTags, models.MetaThumbnailPaths,
		id,
	)
	if err != nil {
		return fmt.Errorf("reset asset analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, "DELETE FROM asset_embeddings WHERE asset_id = $1", id); err != nil {
		return fmt.Errorf("delete embedding during reset: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

func keysOf(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

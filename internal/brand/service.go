package brand

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ilovetoast/brandlens/internal/models"
)

var (
	ErrNoEnabledModel  = errors.New("brand: no enabled model")
	ErrNoActiveVersion = errors.New("brand: model has no active version")
)

// CentroidInvalidator drops cached centroid entries when a brand's
// reference set changes. The redis cache satisfies this.
type CentroidInvalidator interface {
	Delete(ctx context.Context, keys ...string) error
}

// CentroidCacheKey is the cache key for a brand's reference centroid.
func CentroidCacheKey(brandID uuid.UUID) string {
	return "brand_centroid:" + brandID.String()
}

type Service struct {
	db    *pgxpool.Pool
	cache CentroidInvalidator
}

func NewService(db *pgxpool.Pool, cache CentroidInvalidator) *Service {
	return &Service{db: db, cache: cache}
}

// GetEnabledModel returns the brand's enabled model, or ErrNoEnabledModel.
// A brand owns at most one model row.
func (s *Service) GetEnabledModel(ctx context.Context, brandID uuid.UUID) (*models.BrandModel, error) {
	var m models.BrandModel
	err := s.db.QueryRow(ctx,
		`SELECT id, brand_id, enabled, active_version_id, created_at, updated_at
		 FROM brand_models WHERE brand_id = $1 AND enabled = true`,
		brandID,
	).Scan(&m.ID, &m.BrandID, &m.Enabled, &m.ActiveVersionID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoEnabledModel
	}
	if err != nil {
		return nil, fmt.Errorf("get enabled model: %w", err)
	}
	return &m, nil
}

// GetOrInitModel returns the brand's model row, creating a disabled one on
// first touch. Keyed by brand_id; the insert is idempotent under races.
func (s *Service) GetOrInitModel(ctx context.Context, brandID uuid.UUID) (*models.BrandModel, error) {
	var m models.BrandModel
	err := s.db.QueryRow(ctx,
		`INSERT INTO brand_models (id, brand_id, enabled)
		 VALUES ($1, $2, false)
		 ON CONFLICT (brand_id) DO UPDATE SET updated_at = brand_models.updated_at
		 RETURNING id, brand_id, enabled, active_version_id, created_at, updated_at`,
		uuid.New(), brandID,
	).Scan(&m.ID, &m.BrandID, &m.Enabled, &m.ActiveVersionID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or init brand model: %w", err)
	}
	return &m, nil
}

// GetActiveVersion resolves the version a live scoring run must use. Only
// the version referenced by active_version_id is ever consulted.
func (s *Service) GetActiveVersion(ctx context.Context, model *models.BrandModel) (*models.BrandModelVersion, error) {
	if model.ActiveVersionID == nil {
		return nil, ErrNoActiveVersion
	}

	var v models.BrandModelVersion
	var payload []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, model_id, version, model_payload, created_at
		 FROM brand_model_versions WHERE id = $1`,
		*model.ActiveVersionID,
	).Scan(&v.ID, &v.ModelID, &v.Version, &payload, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveVersion
	}
	if err != nil {
		return nil, fmt.Errorf("get active version: %w", err)
	}
	if err := json.Unmarshal(payload, &v.Payload); err != nil {
		return nil, fmt.Errorf("decode model payload: %w", err)
	}
	return &v, nil
}

// CreateVersion appends an immutable version and makes it active. Versions
// are never mutated after creation; changing rules means a new version.
func (s *Service) CreateVersion(ctx context.Context, modelID uuid.UUID, payload models.ModelPayload) (*models.BrandModelVersion, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal model payload: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var v models.BrandModelVersion
	err = tx.QueryRow(ctx,
		`INSERT INTO brand_model_versions (id, model_id, version, model_payload)
		 VALUES ($1, $2,
			COALESCE((SELECT MAX(version) FROM brand_model_versions WHERE model_id = $2), 0) + 1,
			$3)
		 RETURNING id, model_id, version, created_at`,
		uuid.New(), modelID, data,
	).Scan(&v.ID, &v.ModelID, &v.Version, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert model version: %w", err)
	}
	v.Payload = payload

	_, err = tx.Exec(ctx,
		`UPDATE brand_models SET active_version_id = $1, updated_at = now() WHERE id = $2`,
		v.ID, modelID,
	)
	if err != nil {
		return nil, fmt.Errorf("activate model version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit model version: %w", err)
	}
	return &v, nil
}

// SetEnabled flips the model's enabled flag. Scoring only ever consults
// enabled models.
func (s *Service) SetEnabled(ctx context.Context, modelID uuid.UUID, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE brand_models SET enabled = $1, updated_at = now() WHERE id = $2`,
		enabled, modelID,
	)
	if err != nil {
		return fmt.Errorf("set model enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("brand model %s not found", modelID)
	}
	return nil
}

// ListReferences returns the brand's visual references, optionally filtered
// by type. An empty types list means all reference types.
func (s *Service) ListReferences(ctx context.Context, brandID uuid.UUID, types []string) ([]models.BrandVisualReference, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(types) == 0 {
		rows, err = s.db.Query(ctx,
			`SELECT id, brand_id, type, label, embedding, created_at
			 FROM brand_visual_references WHERE brand_id = $1 ORDER BY created_at ASC`,
			brandID,
		)
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT id, brand_id, type, label, embedding, created_at
			 FROM brand_visual_references WHERE brand_id = $1 AND type = ANY($2) ORDER BY created_at ASC`,
			brandID, types,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list visual references: %w", err)
	}
	defer rows.Close()

	var out []models.BrandVisualReference
	for rows.Next() {
		var ref models.BrandVisualReference
		var vec pgvector.Vector
		if err := rows.Scan(&ref.ID, &ref.BrandID, &ref.Type, &ref.Label, &vec, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan visual reference: %w", err)
		}
		ref.Vector = vec.Slice()
		out = append(out, ref)
	}
	return out, rows.Err()
}

// AddReference inserts a reference vector and invalidates the cached
// centroid, so the next scoring run recomputes it.
func (s *Service) AddReference(ctx context.Context, ref *models.BrandVisualReference) error {
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO brand_visual_references (id, brand_id, type, label, embedding)
		 VALUES ($1, $2, $3, $4, $5)`,
		ref.ID, ref.BrandID, ref.Type, ref.Label, pgvector.NewVector(ref.Vector),
	)
	if err != nil {
		return fmt.Errorf("insert visual reference: %w", err)
	}
	s.invalidateCentroid(ctx, ref.BrandID)
	return nil
}

func (s *Service) DeleteReference(ctx context.Context, brandID, refID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM brand_visual_references WHERE id = $1 AND brand_id = $2",
		refID, brandID,
	)
	if err != nil {
		return fmt.Errorf("delete visual reference: %w", err)
	}
	s.invalidateCentroid(ctx, brandID)
	return nil
}

func (s *Service) invalidateCentroid(ctx context.Context, brandID uuid.UUID) {
	if s.cache == nil {
		return
	}
	// Best effort: a stale cache entry only survives until its TTL.
	_ = s.cache.Delete(ctx, CentroidCacheKey(brandID))
}

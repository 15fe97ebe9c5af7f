package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ilovetoast/brandlens/internal/models"
)

var ErrScoreNotFound = errors.New("scoring: no score for asset and brand")

// ScoreStore persists compliance verdicts, one row per (asset, brand),
// upserted in place. Re-scoring overwrites; it never appends.
type ScoreStore interface {
	Upsert(ctx context.Context, score *models.BrandComplianceScore) error
	Get(ctx context.Context, assetID, brandID uuid.UUID) (*models.BrandComplianceScore, error)
}

type PgScoreStore struct {
	db *pgxpool.Pool
}

func NewPgScoreStore(db *pgxpool.Pool) *PgScoreStore {
	return &PgScoreStore{db: db}
}

func (s *PgScoreStore) Upsert(ctx context.Context, score *models.BrandComplianceScore) error {
	if score.ID == uuid.Nil {
		score.ID = uuid.New()
	}
	breakdown, err := json.Marshal(score.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO brand_compliance_scores
			(id, asset_id, brand_id, model_version_id, evaluation_status, overall_score, breakdown_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (asset_id, brand_id) DO UPDATE SET
			model_version_id = $4,
			evaluation_status = $5,
			overall_score = $6,
			breakdown_payload = $7,
			updated_at = now()
		 RETURNING id, created_at, updated_at`,
		score.ID, score.AssetID, score.BrandID, score.ModelVersionID,
		score.EvaluationStatus, score.OverallScore, breakdown,
	).Scan(&score.ID, &score.CreatedAt, &score.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert compliance score: %w", err)
	}
	return nil
}

func (s *PgScoreStore) Get(ctx context.Context, assetID, brandID uuid.UUID) (*models.BrandComplianceScore, error) {
	var sc models.BrandComplianceScore
	var breakdown []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, asset_id, brand_id, model_version_id, evaluation_status, overall_score, breakdown_payload, created_at, updated_at
		 FROM brand_compliance_scores WHERE asset_id = $1 AND brand_id = $2`,
		assetID, brandID,
	).Scan(&sc.ID, &sc.AssetID, &sc.BrandID, &sc.ModelVersionID, &sc.EvaluationStatus,
		&sc.OverallScore, &breakdown, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get compliance score: %w", err)
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &sc.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown: %w", err)
		}
	}
	return &sc, nil
}

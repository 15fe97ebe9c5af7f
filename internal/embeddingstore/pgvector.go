package embeddingstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ilovetoast/brandlens/internal/models"
)

var ErrNotFound = errors.New("embeddingstore: no embedding for asset")

// Store persists one fixed-dimension vector per asset. Rows are immutable
// except by full regeneration: reanalysis deletes and the embedding stage
// writes a fresh row.
type Store interface {
	Upsert(ctx context.Context, assetID uuid.UUID, vector []float32, model string) error
	Get(ctx context.Context, assetID uuid.UUID) (*models.AssetEmbedding, error)
	Delete(ctx context.Context, assetID uuid.UUID) error
}

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Upsert(ctx context.Context, assetID uuid.UUID, vector []float32, model string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO asset_embeddings (id, asset_id, embedding, model)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (asset_id) DO UPDATE SET embedding = $3, model = $4`,
		uuid.New(), assetID, pgvector.NewVector(vector), model,
	)
	if err != nil {
		return fmt.Errorf("upsert embedding for asset %s: %w", assetID, err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, assetID uuid.UUID) (*models.AssetEmbedding, error) {
	var e models.AssetEmbedding
	var vec pgvector.Vector
	err := s.db.QueryRow(ctx,
		`SELECT id, asset_id, embedding, model, created_at
		 FROM asset_embeddings WHERE asset_id = $1`,
		assetID,
	).Scan(&e.ID, &e.AssetID, &vec, &e.Model, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding for asset %s: %w", assetID, err)
	}
	e.Vector = vec.Slice()
	return &e, nil
}

func (s *PgStore) Delete(ctx context.Context, assetID uuid.UUID) error {
	_, err := s.db.Exec(ctx, "DELETE FROM asset_embeddings WHERE asset_id = $1", assetID)
	if err != nil {
		return fmt.Errorf("delete embedding for asset %s: %w", assetID, err)
	}
	return nil
}

package embedding

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ilovetoast/brandlens/internal/config"
	"github.com/ilovetoast/brandlens/internal/models"
)

// Embedder produces a fixed-length feature vector for an asset. The vector
// may come back un-normalized; callers normalize before storage.
type Embedder interface {
	EmbedAsset(ctx context.Context, asset *models.Asset) ([]float32, error)
}

// OpenAIProvider embeds an asset's textual representation (title, tags,
// extracted description) through the OpenAI embeddings API.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
}

func NewOpenAIProvider(cfg config.EmbeddingConfig) *OpenAIProvider {
	return &OpenAIProvider{
		client:    openai.NewClient(cfg.OpenAIKey),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

func (p *OpenAIProvider) EmbedAsset(ctx context.Context, asset *models.Asset) ([]float32, error) {
	input := assetText(asset)
	if input == "" {
		input = asset.FilePath
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(p.model),
		Input:      []string{input},
		Dimensions: p.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned for asset %s", asset.ID)
	}

	vec := resp.Data[0].Embedding
	if p.dimension > 0 && len(vec) != p.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), p.dimension)
	}
	return vec, nil
}

func assetText(asset *models.Asset) string {
	parts := []string{asset.Title}
	parts = append(parts, asset.Metadata.StringSlice(models.MetaTags)...)
	if d := asset.Metadata.String("description"); d != "" {
		parts = append(parts, d)
	}

	var nonEmpty []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, strings.TrimSpace(p))
		}
	}
	return strings.Join(nonEmpty, "\n")
}

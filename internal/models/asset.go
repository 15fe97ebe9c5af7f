package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnalysisStatus is the per-asset pipeline phase. Transitions are linear and
// monotonic; a stage job may only move an asset from its expected status to
// the next one in the chain.
type AnalysisStatus string

const (
	StatusUploading            AnalysisStatus = "uploading"
	StatusGeneratingThumbnails AnalysisStatus = "generating_thumbnails"
	StatusExtractingMetadata   AnalysisStatus = "extracting_metadata"
	StatusGeneratingEmbedding  AnalysisStatus = "generating_embedding"
	StatusScoring              AnalysisStatus = "scoring"
	StatusComplete             AnalysisStatus = "complete"
)

var statusOrder = []AnalysisStatus{
	StatusUploading,
	StatusGeneratingThumbnails,
	StatusExtractingMetadata,
	StatusGeneratingEmbedding,
	StatusScoring,
	StatusComplete,
}

// Next returns the status that follows s in the pipeline, or false when s is
// terminal or unknown.
func (s AnalysisStatus) Next() (AnalysisStatus, bool) {
	for i, st := range statusOrder {
		if st == s && i+1 < len(statusOrder) {
			return statusOrder[i+1], true
		}
	}
	return "", false
}

// CanAdvance reports whether a single-step transition from s to target is
// legal under the pipeline's transition table.
func (s AnalysisStatus) CanAdvance(target AnalysisStatus) bool {
	next, ok := s.Next()
	return ok && next == target
}

func (s AnalysisStatus) Terminal() bool {
	return s == StatusComplete
}

func (s AnalysisStatus) Valid() bool {
	for _, st := range statusOrder {
		if st == s {
			return true
		}
	}
	return false
}

// Thumbnail rendering substate, independent of AnalysisStatus.
const (
	ThumbnailPending   = "pending"
	ThumbnailCompleted = "completed"
	ThumbnailFailed    = "failed"
)

// Metadata keys written by the pipeline.
const (
	MetaUploadCompleted     = "upload_completed"
	MetaMetadataExtracted   = "metadata_extracted"
	MetaAITaggingCompleted  = "ai_tagging_completed"
	MetaDominantColors      = "dominant_colors"
	MetaThumbnailPaths      = "thumbnail_paths"
	MetaTags                = "tags"
	MetaMetadataExtractedAt = "metadata_extracted_at"
)

// AssetMetadata is the asset's semi-structured key/value bag. It round-trips
// as JSONB; typed accessors below cover the flags the pipeline cares about.
type AssetMetadata map[string]interface{}

func (m AssetMetadata) Bool(key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

func (m AssetMetadata) String(key string) string {
	v, _ := m[key].(string)
	return v
}

func (m AssetMetadata) StringSlice(key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ThumbnailPath returns the rendered thumbnail path for a style key
// ("medium", "small", ...), or "" when the renderer has not written one.
func (m AssetMetadata) ThumbnailPath(style string) string {
	paths, ok := m[MetaThumbnailPaths].(map[string]interface{})
	if !ok {
		return ""
	}
	p, _ := paths[style].(string)
	return p
}

func (m AssetMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(m))
}

type Asset struct {
	ID               uuid.UUID      `json:"id" db:"id"`
	TenantID         uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	BrandID          uuid.UUID      `json:"brand_id" db:"brand_id"`
	Title            string         `json:"title" db:"title"`
	FilePath         string         `json:"file_path,omitempty" db:"file_path"`
	MimeType         string         `json:"mime_type,omitempty" db:"mime_type"`
	AnalysisStatus   AnalysisStatus `json:"analysis_status" db:"analysis_status"`
	ThumbnailStatus  string         `json:"thumbnail_status" db:"thumbnail_status"`
	DominantHueGroup *string        `json:"dominant_hue_group,omitempty" db:"dominant_hue_group"`
	Metadata         AssetMetadata  `json:"metadata" db:"metadata"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

func (a *Asset) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// ReadyForScoring reports whether the scoring gate's completion criteria are
// met: the thumbnail is rendered and both analysis flags have been written.
func (a *Asset) ReadyForScoring() bool {
	return a.ThumbnailStatus == ThumbnailCompleted &&
		a.Metadata.Bool(MetaAITaggingCompleted) &&
		a.Metadata.Bool(MetaMetadataExtracted)
}

// AssetEmbedding is the asset's visual feature vector, one row per asset.
// Immutable once written; reanalysis deletes and regenerates it.
type AssetEmbedding struct {
	ID        uuid.UUID `json:"id" db:"id"`
	AssetID   uuid.UUID `json:"asset_id" db:"asset_id"`
	Vector    []float32 `json:"-" db:"embedding"`
	Model     string    `json:"model" db:"model"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

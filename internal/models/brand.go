package models

import (
	"time"

	"github.com/google/uuid"
)

// BrandVisualReference is a labeled reference embedding for a brand. The
// compliance target is the centroid of all of a brand's reference vectors,
// not any single nearest neighbor.
type BrandVisualReference struct {
	ID        uuid.UUID `json:"id" db:"id"`
	BrandID   uuid.UUID `json:"brand_id" db:"brand_id"`
	Type      string    `json:"type" db:"type"` // logo, photography_reference, ...
	Label     string    `json:"label,omitempty" db:"label"`
	Vector    []float32 `json:"-" db:"embedding"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BrandModel is a brand's scoring configuration holder. A brand owns at most
// one enabled model; only the active version is used for live scoring.
type BrandModel struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	BrandID         uuid.UUID  `json:"brand_id" db:"brand_id"`
	Enabled         bool       `json:"enabled" db:"enabled"`
	ActiveVersionID *uuid.UUID `json:"active_version_id,omitempty" db:"active_version_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// BrandModelVersion is an immutable, append-only snapshot of scoring rules
// and weights. Versions are never mutated after creation.
type BrandModelVersion struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	ModelID   uuid.UUID    `json:"model_id" db:"model_id"`
	Version   int          `json:"version" db:"version"`
	Payload   ModelPayload `json:"model_payload" db:"model_payload"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

type ModelPayload struct {
	ScoringRules  ScoringRules  `json:"scoring_rules"`
	ScoringConfig ScoringConfig `json:"scoring_config"`
}

// ScoringRules define what each dimension matches against.
type ScoringRules struct {
	AllowedColorPalette   []string `json:"allowed_color_palette,omitempty"`   // hex strings
	ToneKeywords          []string `json:"tone_keywords,omitempty"`           // matched against textual metadata
	TypographyKeywords    []string `json:"typography_keywords,omitempty"`     // matched against typography metadata
	ImageryReferenceTypes []string `json:"imagery_reference_types,omitempty"` // empty = all reference types
}

// ScoringConfig carries the four dimension weights. They are non-negative
// and need not sum to 1; the scoring engine renormalizes over the dimensions
// that actually produce a score.
type ScoringConfig struct {
	ColorWeight      float64 `json:"color_weight"`
	TypographyWeight float64 `json:"typography_weight"`
	ToneWeight       float64 `json:"tone_weight"`
	ImageryWeight    float64 `json:"imagery_weight"`
}

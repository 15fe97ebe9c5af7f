package models

import (
	"time"

	"github.com/google/uuid"
)

// EvaluationStatus classifies a compliance-score row's outcome. It
// distinguishes "not yet possible to score" from "scored" from "not
// configured to score" — the engine records one of these explicitly rather
// than guessing.
type EvaluationStatus string

const (
	EvaluationPendingProcessing EvaluationStatus = "pending_processing"
	EvaluationEvaluated         EvaluationStatus = "evaluated"
	EvaluationNotApplicable     EvaluationStatus = "not_applicable"
)

// Scoring dimension names used in breakdown payloads.
const (
	DimensionColor      = "color"
	DimensionImagery    = "imagery"
	DimensionTone       = "tone"
	DimensionTypography = "typography"
)

const (
	DimensionScored        = "scored"
	DimensionNotApplicable = "not_applicable"
)

// DimensionResult is one entry of the per-dimension breakdown. Reason is a
// short human string for audit/debugging, not an input to computation.
type DimensionResult struct {
	Dimension string   `json:"dimension"`
	Status    string   `json:"status"` // scored | not_applicable
	Score     *float64 `json:"score,omitempty"`
	Weight    float64  `json:"weight"`
	Reason    string   `json:"reason,omitempty"`
}

// BrandComplianceScore is the single authoritative verdict per (asset,
// brand) pair, upserted in place on every scoring attempt. OverallScore is
// null whenever EvaluationStatus is not "evaluated".
type BrandComplianceScore struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	AssetID          uuid.UUID         `json:"asset_id" db:"asset_id"`
	BrandID          uuid.UUID         `json:"brand_id" db:"brand_id"`
	ModelVersionID   *uuid.UUID        `json:"model_version_id,omitempty" db:"model_version_id"`
	EvaluationStatus EvaluationStatus  `json:"evaluation_status" db:"evaluation_status"`
	OverallScore     *float64          `json:"overall_score,omitempty" db:"overall_score"`
	Breakdown        []DimensionResult `json:"breakdown_payload" db:"breakdown_payload"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "open"
	IncidentResolved IncidentStatus = "resolved"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Incident records a pipeline stall or exhausted job. Opened by the recovery
// scanner; resolved either automatically (repairable stall) or by a human
// via the ticketing collaborator.
type Incident struct {
	ID           uuid.UUID              `json:"id" db:"id"`
	TenantID     uuid.UUID              `json:"tenant_id" db:"tenant_id"`
	SourceType   string                 `json:"source_type" db:"source_type"` // "asset"
	SourceID     uuid.UUID              `json:"source_id" db:"source_id"`
	Severity     string                 `json:"severity" db:"severity"`
	Retryable    bool                   `json:"retryable" db:"retryable"`
	Status       IncidentStatus         `json:"status" db:"status"`
	AutoResolved bool                   `json:"auto_resolved" db:"auto_resolved"`
	Metadata     map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	ResolvedAt   *time.Time             `json:"resolved_at,omitempty" db:"resolved_at"`
}

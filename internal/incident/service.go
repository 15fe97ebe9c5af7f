package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ilovetoast/brandlens/internal/models"
)

// Ticketer is the external ticketing collaborator. Unrepairable pipeline
// stalls are escalated through it.
type Ticketer interface {
	OpenTicket(ctx context.Context, inc *models.Incident) error
}

// LogTicketer is the default Ticketer: it only logs. Deployments plug a real
// helpdesk client in its place.
type LogTicketer struct{}

func (LogTicketer) OpenTicket(ctx context.Context, inc *models.Incident) error {
	slog.Warn("support ticket requested",
		"incident_id", inc.ID,
		"source_type", inc.SourceType,
		"source_id", inc.SourceID,
		"severity", inc.Severity,
	)
	return nil
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

type OpenRequest struct {
	TenantID   uuid.UUID
	SourceType string
	SourceID   uuid.UUID
	Severity   string
	Retryable  bool
	Metadata   map[string]interface{}
}

func (s *Service) Open(ctx context.Context, req OpenRequest) (*models.Incident, error) {
	if req.Severity == "" {
		req.Severity = models.SeverityWarning
	}
	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal incident metadata: %w", err)
	}

	inc := &models.Incident{
		ID:         uuid.New(),
		TenantID:   req.TenantID,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Severity:   req.Severity,
		Retryable:  req.Retryable,
		Status:     models.IncidentOpen,
		Metadata:   req.Metadata,
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO incidents (id, tenant_id, source_type, source_id, severity, retryable, status, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		inc.ID, inc.TenantID, inc.SourceType, inc.SourceID, inc.Severity, inc.Retryable, inc.Status, meta,
	).Scan(&inc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert incident: %w", err)
	}
	return inc, nil
}

// Resolve closes an incident. auto marks it as repaired by the recovery
// scanner rather than by a human.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, auto bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE incidents SET status = $1, auto_resolved = $2, resolved_at = now()
		 WHERE id = $3 AND status = $4`,
		models.IncidentResolved, auto, id, models.IncidentOpen,
	)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident %s not open", id)
	}
	return nil
}

// HasOpenForSource reports whether the source already has an open incident,
// so the scanner does not stack duplicates on every pass.
func (s *Service) HasOpenForSource(ctx context.Context, sourceType string, sourceID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM incidents WHERE source_type = $1 AND source_id = $2 AND status = $3
		 )`,
		sourceType, sourceID, models.IncidentOpen,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open incident: %w", err)
	}
	return exists, nil
}

func (s *Service) ListOpen(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, source_type, source_id, severity, retryable, status, auto_resolved, metadata, created_at, resolved_at
		 FROM incidents WHERE tenant_id = $1 AND status = $2
		 ORDER BY created_at DESC LIMIT $3`,
		tenantID, models.IncidentOpen, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list open incidents: %w", err)
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		var inc models.Incident
		var meta []byte
		if err := rows.Scan(&inc.ID, &inc.TenantID, &inc.SourceType, &inc.SourceID, &inc.Severity,
			&inc.Retryable, &inc.Status, &inc.AutoResolved, &meta, &inc.CreatedAt, &inc.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &inc.Metadata); err != nil {
				return nil, fmt.Errorf("decode incident metadata: %w", err)
			}
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

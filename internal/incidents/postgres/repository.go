// Package postgres provides PostgreSQL implementation of the incident repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/incidents"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const incidentColumns = `
	id, object, domains, gravity, status, opened_at, closed_at, sites_impacted,
	manual_emails, auto_notified_emails, template_excluded_emails, template_id, template_score,
	actions, validated_at, validated_by, archived_at, archived_by, creator_id, assignee_id,
	creator_email, assignee_email, deleted_at, version, created_at, updated_at`

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new incident.
func (r *Repository) Create(ctx context.Context, inc *domain.Incident) error {
	actions, err := marshalActions(inc.Actions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO incidents (
			object, domains, gravity, status, opened_at, closed_at, sites_impacted,
			manual_emails, auto_notified_emails, template_excluded_emails, template_id, template_score,
			actions, validated_at, validated_by, archived_at, archived_by, creator_id, assignee_id,
			creator_email, assignee_email, deleted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING ` + incidentColumns

	row := r.db.QueryRow(ctx, query,
		inc.Object,
		nonNil(inc.Domains),
		inc.Gravity,
		inc.Status,
		inc.OpenedAt,
		inc.ClosedAt,
		nonNil(inc.SitesImpacted),
		nonNil(inc.ManualEmails),
		nonNil(inc.AutoNotifiedEmails),
		nonNil(inc.TemplateExcludedEmails),
		inc.TemplateID,
		inc.TemplateScore,
		actions,
		inc.ValidatedAt,
		inc.ValidatedBy,
		inc.ArchivedAt,
		inc.ArchivedBy,
		inc.CreatorID,
		inc.AssigneeID,
		inc.CreatorEmail,
		inc.AssigneeEmail,
		inc.DeletedAt,
	)
	if err := scanIncident(row, inc); err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// Get retrieves an incident by ID, including trashed ones.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	var inc domain.Incident
	err := scanIncident(r.db.QueryRow(ctx, query, id), &inc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return &inc, nil
}

// Update writes every mutable column when the stored version matches.
// opened_at is never part of the SET list.
func (r *Repository) Update(ctx context.Context, inc *domain.Incident) error {
	actions, err := marshalActions(inc.Actions)
	if err != nil {
		return err
	}

	query := `
		UPDATE incidents SET
			object = $3,
			domains = $4,
			gravity = $5,
			status = $6,
			closed_at = $7,
			sites_impacted = $8,
			manual_emails = $9,
			auto_notified_emails = $10,
			template_excluded_emails = $11,
			template_id = $12,
			template_score = $13,
			actions = $14,
			validated_at = $15,
			validated_by = $16,
			archived_at = $17,
			archived_by = $18,
			assignee_id = $19,
			creator_email = $20,
			assignee_email = $21,
			deleted_at = $22,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + incidentColumns

	row := r.db.QueryRow(ctx, query,
		inc.ID,
		inc.Version,
		inc.Object,
		nonNil(inc.Domains),
		inc.Gravity,
		inc.Status,
		inc.ClosedAt,
		nonNil(inc.SitesImpacted),
		nonNil(inc.ManualEmails),
		nonNil(inc.AutoNotifiedEmails),
		nonNil(inc.TemplateExcludedEmails),
		inc.TemplateID,
		inc.TemplateScore,
		actions,
		inc.ValidatedAt,
		inc.ValidatedBy,
		inc.ArchivedAt,
		inc.ArchivedBy,
		inc.AssigneeID,
		inc.CreatorEmail,
		inc.AssigneeEmail,
		inc.DeletedAt,
	)
	err = scanIncident(row, inc)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update incident: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM incidents WHERE id = $1)`, inc.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check incident exists: %w", err)
	}
	if !exists {
		return incidents.ErrIncidentNotFound
	}
	return incidents.ErrConflict
}

// Delete removes an incident. History rows cascade.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

func scanIncident(row pgx.Row, inc *domain.Incident) error {
	var actions []byte
	err := row.Scan(
		&inc.ID,
		&inc.Object,
		&inc.Domains,
		&inc.Gravity,
		&inc.Status,
		&inc.OpenedAt,
		&inc.ClosedAt,
		&inc.SitesImpacted,
		&inc.ManualEmails,
		&inc.AutoNotifiedEmails,
		&inc.TemplateExcludedEmails,
		&inc.TemplateID,
		&inc.TemplateScore,
		&actions,
		&inc.ValidatedAt,
		&inc.ValidatedBy,
		&inc.ArchivedAt,
		&inc.ArchivedBy,
		&inc.CreatorID,
		&inc.AssigneeID,
		&inc.CreatorEmail,
		&inc.AssigneeEmail,
		&inc.DeletedAt,
		&inc.Version,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	)
	if err != nil {
		return err
	}
	inc.Actions = nil
	if err := json.Unmarshal(actions, &inc.Actions); err != nil {
		return fmt.Errorf("unmarshal actions: %w", err)
	}
	return nil
}

func marshalActions(actions []domain.Action) ([]byte, error) {
	if actions == nil {
		actions = []domain.Action{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return nil, fmt.Errorf("marshal actions: %w", err)
	}
	return data, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// Package postgres provides PostgreSQL implementation of the template repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/templates"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const templateColumns = `id, name, actions, linked_distribution_list_id, active`

// Repository implements templates.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateTemplate inserts a template at the given catalog position.
func (r *Repository) CreateTemplate(ctx context.Context, tpl *domain.Template, position int) error {
	actions, err := json.Marshal(nonNilActions(tpl.Actions))
	if err != nil {
		return fmt.Errorf("marshal template actions: %w", err)
	}

	query := `
		INSERT INTO templates (name, actions, linked_distribution_list_id, active, position)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err = r.db.QueryRow(ctx, query,
		tpl.Name,
		actions,
		tpl.LinkedDistributionListID,
		tpl.Active,
		position,
	).Scan(&tpl.ID)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// ListActiveTemplates returns active templates ordered by catalog position.
func (r *Repository) ListActiveTemplates(ctx context.Context) ([]domain.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE active ORDER BY position, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Template, 0)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return result, nil
}

// GetTemplate retrieves a template by ID, active or not.
func (r *Repository) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = $1`

	tpl, err := scanTemplate(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, templates.ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

func scanTemplate(row pgx.Row) (*domain.Template, error) {
	var tpl domain.Template
	var actions []byte

	err := row.Scan(&tpl.ID, &tpl.Name, &actions, &tpl.LinkedDistributionListID, &tpl.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}
	if err := json.Unmarshal(actions, &tpl.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal template actions: %w", err)
	}
	return &tpl, nil
}

func nonNilActions(actions []domain.TemplateAction) []domain.TemplateAction {
	if actions == nil {
		return []domain.TemplateAction{}
	}
	return actions
}

// Package postgres provides PostgreSQL implementation of the distribution list repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/incident-relay/internal/distlists"
	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const listColumns = `id, name, type, gravity, domains, sites, emails, active`

// Repository implements distlists.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateList validates and inserts a distribution list.
func (r *Repository) CreateList(ctx context.Context, list *domain.DistributionList) error {
	if err := distlists.Validate(list); err != nil {
		return err
	}

	query := `
		INSERT INTO distribution_lists (name, type, gravity, domains, sites, emails, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		list.Name,
		list.Type,
		list.Gravity,
		nonNil(list.Domains),
		nonNil(list.Sites),
		nonNil(list.Emails),
		list.Active,
	).Scan(&list.ID)
	if err != nil {
		return fmt.Errorf("create distribution list: %w", err)
	}
	return nil
}

// ListActive retrieves active lists with optional type and gravity filters.
func (r *Repository) ListActive(ctx context.Context, filter distlists.Filter) ([]domain.DistributionList, error) {
	query := `SELECT ` + listColumns + ` FROM distribution_lists WHERE active`
	args := []interface{}{}
	argNum := 1

	if filter.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, *filter.Type)
		argNum++
	}

	if filter.Gravity != nil {
		query += fmt.Sprintf(" AND gravity = $%d", argNum)
		args = append(args, *filter.Gravity)
	}

	query += " ORDER BY name, id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list distribution lists: %w", err)
	}
	defer rows.Close()

	lists := make([]domain.DistributionList, 0)
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan distribution list: %w", err)
		}
		lists = append(lists, *list)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distribution lists: %w", err)
	}

	return lists, nil
}

// GetValidatorList retrieves the active validator list, or nil if none exists.
func (r *Repository) GetValidatorList(ctx context.Context) (*domain.DistributionList, error) {
	query := `SELECT ` + listColumns + ` FROM distribution_lists WHERE active AND type = 'validator' LIMIT 1`

	list, err := scanList(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get validator list: %w", err)
	}
	return list, nil
}

// GetList retrieves a distribution list by ID.
func (r *Repository) GetList(ctx context.Context, id string) (*domain.DistributionList, error) {
	query := `SELECT ` + listColumns + ` FROM distribution_lists WHERE id = $1`

	list, err := scanList(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, distlists.ErrListNotFound
		}
		return nil, fmt.Errorf("get distribution list: %w", err)
	}
	return list, nil
}

func scanList(row pgx.Row) (*domain.DistributionList, error) {
	var list domain.DistributionList
	err := row.Scan(
		&list.ID,
		&list.Name,
		&list.Type,
		&list.Gravity,
		&list.Domains,
		&list.Sites,
		&list.Emails,
		&list.Active,
	)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

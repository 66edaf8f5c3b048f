// Package postgres provides PostgreSQL implementation of the user directory.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/incident-relay/internal/users"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements users.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateUser inserts a directory entry and returns its ID.
func (r *Repository) CreateUser(ctx context.Context, email, jobCode string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (email, job_code) VALUES (NULLIF($1, ''), NULLIF($2, '')) RETURNING id`,
		email, jobCode,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// ResolveEmail returns the user's email.
func (r *Repository) ResolveEmail(ctx context.Context, userID string) (string, error) {
	if uuid.Validate(userID) != nil {
		return "", users.ErrUserNotFound
	}
	var email *string
	err := r.db.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", users.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get user email: %w", err)
	}
	if email == nil {
		return "", nil
	}
	return *email, nil
}

// JobCode returns the user's external job code.
func (r *Repository) JobCode(ctx context.Context, userID string) (string, error) {
	if uuid.Validate(userID) != nil {
		return "", users.ErrUserNotFound
	}
	var code *string
	err := r.db.QueryRow(ctx, `SELECT job_code FROM users WHERE id = $1`, userID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", users.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get user job code: %w", err)
	}
	if code == nil {
		return "", nil
	}
	return *code, nil
}

// Package postgres provides PostgreSQL implementation of the history repository.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements audit.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateEntry inserts a history entry.
func (r *Repository) CreateEntry(ctx context.Context, entry *domain.HistoryEntry) error {
	snapshot, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	var changes []byte
	if entry.Changes != nil {
		changes, err = json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO incident_history (incident_id, action, actor_id, snapshot, changes, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = r.db.QueryRow(ctx, query,
		entry.IncidentID,
		entry.Action,
		entry.ActorID,
		snapshot,
		changes,
		entry.Reason,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("create history entry: %w", err)
	}
	return nil
}

// ListByIncident returns history entries for an incident, newest first.
func (r *Repository) ListByIncident(ctx context.Context, incidentID string) ([]domain.HistoryEntry, error) {
	query := `
		SELECT id, incident_id, action, actor_id, snapshot, changes, reason, created_at
		FROM incident_history
		WHERE incident_id = $1
		ORDER BY seq DESC
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		var e domain.HistoryEntry
		var snapshot, changes []byte
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.Action, &e.ActorID, &snapshot, &changes, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if err := json.Unmarshal(snapshot, &e.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, fmt.Errorf("unmarshal changes: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

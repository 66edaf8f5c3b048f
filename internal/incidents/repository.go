package incidents

import (
	"context"

	"github.com/bissquit/incident-relay/internal/domain"
)

// Repository defines the interface for incident storage.
type Repository interface {
	// Create inserts the incident and fills ID, Version and timestamps.
	Create(ctx context.Context, inc *domain.Incident) error
	// Get returns the incident, trashed or not.
	Get(ctx context.Context, id string) (*domain.Incident, error)
	// Update persists inc if its Version still matches the stored one, then
	// refreshes inc from storage. OpenedAt is never written.
	// Returns ErrConflict on version mismatch.
	Update(ctx context.Context, inc *domain.Incident) error
	// Delete removes the incident and its history.
	Delete(ctx context.Context, id string) error
}

// Package distlists provides access to notification distribution lists.
package distlists

import (
	"context"
	"errors"

	"github.com/bissquit/incident-relay/internal/domain"
)

// Repository errors.
var (
	ErrListNotFound = errors.New("distribution list not found")
	ErrInvalidList  = errors.New("invalid distribution list")
)

// Filter narrows ListActive results. Nil fields do not filter.
type Filter struct {
	Type    *domain.DistributionListType `json:"type,omitempty"`
	Gravity *domain.Gravity              `json:"gravity,omitempty"`
}

// Repository defines the interface for distribution list storage.
type Repository interface {
	ListActive(ctx context.Context, filter Filter) ([]domain.DistributionList, error)
	// GetValidatorList returns nil without error when no active validator list exists.
	GetValidatorList(ctx context.Context) (*domain.DistributionList, error)
	GetList(ctx context.Context, id string) (*domain.DistributionList, error)
}

// Package users resolves user emails and roles from the external user directory.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/incident-relay/internal/domain"
)

// ErrUserNotFound is returned when the directory has no such user.
var ErrUserNotFound = errors.New("user not found")

// Repository defines the interface for the user directory.
type Repository interface {
	// ResolveEmail returns an empty string when the user has no email.
	ResolveEmail(ctx context.Context, userID string) (string, error)
	JobCode(ctx context.Context, userID string) (string, error)
}

// ResolveRole maps an external job code to a role. Unknown codes get RoleUser.
func ResolveRole(jobCode string, mapping map[string]domain.Role) domain.Role {
	role, ok := mapping[strings.TrimSpace(jobCode)]
	if !ok || !role.IsValid() {
		return domain.RoleUser
	}
	return role
}

// Service combines directory lookups with the role mapping table.
type Service struct {
	repo    Repository
	mapping map[string]domain.Role
}

// NewService creates a new user service.
func NewService(repo Repository, mapping map[string]domain.Role) *Service {
	return &Service{repo: repo, mapping: mapping}
}

// ResolveEmail returns the user's email, or an empty string for unknown users.
func (s *Service) ResolveEmail(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", nil
	}
	email, err := s.repo.ResolveEmail(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve email: %w", err)
	}
	return email, nil
}

// Actor builds the acting user with its role resolved on every call.
func (s *Service) Actor(ctx context.Context, userID string) (domain.Actor, error) {
	code, err := s.repo.JobCode(ctx, userID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("get job code: %w", err)
	}
	return domain.Actor{ID: userID, Role: ResolveRole(code, s.mapping)}, nil
}

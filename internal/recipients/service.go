package recipients

import (
	"context"
	"fmt"

	"github.com/bissquit/incident-relay/internal/distlists"
	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/pkg/ctxlog"
)

// ListSource is the read side of the distribution list store.
type ListSource interface {
	ListActive(ctx context.Context, filter distlists.Filter) ([]domain.DistributionList, error)
	GetValidatorList(ctx context.Context) (*domain.DistributionList, error)
}

// Service loads the lists relevant to an event and resolves recipients.
type Service struct {
	lists ListSource
}

// NewService creates a new recipient service.
func NewService(lists ListSource) *Service {
	return &Service{lists: lists}
}

// Recipients returns the recipients for an incident event.
// A failing validator lookup is treated as a missing roster.
func (s *Service) Recipients(ctx context.Context, inc *domain.Incident, kind domain.EventKind) ([]string, error) {
	var lists []domain.DistributionList

	if IsEscalation(inc, kind) {
		validator, err := s.lists.GetValidatorList(ctx)
		if err != nil {
			ctxlog.FromContext(ctx).Error("failed to load validator list",
				"incident_id", inc.ID,
				"error", err,
			)
		} else if validator != nil {
			lists = append(lists, *validator)
		}
	} else {
		metier := domain.DistributionListMetier
		gravity := inc.Gravity
		matched, err := s.lists.ListActive(ctx, distlists.Filter{Type: &metier, Gravity: &gravity})
		if err != nil {
			return nil, fmt.Errorf("list metier distribution lists: %w", err)
		}
		lists = append(lists, matched...)
	}

	return Resolve(ctx, inc, kind, lists), nil
}

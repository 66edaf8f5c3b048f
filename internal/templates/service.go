package templates

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/incident-relay/internal/distlists"
	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/pkg/ctxlog"
)

// ErrTemplateNotFound is returned when an explicitly requested template is missing or inactive.
var ErrTemplateNotFound = errors.New("template not found")

// Repository defines the interface for template storage.
type Repository interface {
	// ListActiveTemplates returns active templates in catalog order.
	ListActiveTemplates(ctx context.Context) ([]domain.Template, error)
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
}

// ListGetter loads the distribution list linked to a template.
type ListGetter interface {
	GetList(ctx context.Context, id string) (*domain.DistributionList, error)
}

// Service applies templates to incidents.
type Service struct {
	repo      Repository
	lists     ListGetter
	threshold float64
}

// NewService creates a new template service. A non-positive threshold falls back to DefaultThreshold.
func NewService(repo Repository, lists ListGetter, threshold float64) *Service {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Service{repo: repo, lists: lists, threshold: threshold}
}

// Threshold returns the minimum score applied by AutoMatch.
func (s *Service) Threshold() float64 {
	return s.threshold
}

// AutoMatch applies the best matching active template to inc.
// Lookup failures are logged and leave the incident untouched.
func (s *Service) AutoMatch(ctx context.Context, inc *domain.Incident) (*Match, error) {
	logger := ctxlog.FromContext(ctx)

	catalog, err := s.repo.ListActiveTemplates(ctx)
	if err != nil {
		logger.Warn("template catalog unavailable, skipping match", "error", err)
		return nil, nil
	}

	match, ok := BestMatch(inc.Object, catalog, s.threshold)
	if !ok {
		return nil, nil
	}

	var tpl *domain.Template
	for i := range catalog {
		if catalog[i].ID == match.TemplateID {
			tpl = &catalog[i]
			break
		}
	}

	s.apply(ctx, inc, tpl, match.Score)
	logger.Info("template matched",
		"template_id", match.TemplateID,
		"score", match.Score,
	)
	return &match, nil
}

// Apply applies an explicitly chosen template. The score is recorded as 100.
func (s *Service) Apply(ctx context.Context, inc *domain.Incident, templateID string) (*Match, error) {
	tpl, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	if !tpl.Active {
		return nil, ErrTemplateNotFound
	}

	s.apply(ctx, inc, tpl, 100)
	return &Match{TemplateID: tpl.ID, Name: tpl.Name, Score: 100}, nil
}

func (s *Service) apply(ctx context.Context, inc *domain.Incident, tpl *domain.Template, score float64) {
	Seed(inc, tpl, score)

	if tpl.LinkedDistributionListID == nil || s.lists == nil {
		return
	}

	list, err := s.lists.GetList(ctx, *tpl.LinkedDistributionListID)
	if err != nil {
		if !errors.Is(err, distlists.ErrListNotFound) {
			ctxlog.FromContext(ctx).Warn("failed to load linked distribution list",
				"template_id", tpl.ID,
				"list_id", *tpl.LinkedDistributionListID,
				"error", err,
			)
		}
		return
	}
	if !list.Active {
		return
	}

	inc.AutoNotifiedEmails = mergeEmails(inc.AutoNotifiedEmails, list.Emails)
}

func mergeEmails(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, e := range list {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

package incidents

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/incident-relay/internal/distlists"
	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/templates"
	"github.com/google/uuid"
)

type mockRepository struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident
	updateErr error
	// afterUpdate mutates the copy returned to the caller, not the stored row.
	afterUpdate func(inc *domain.Incident)
}

func newMockRepository() *mockRepository {
	return &mockRepository{incidents: make(map[string]*domain.Incident)}
}

func (m *mockRepository) Create(_ context.Context, inc *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc.ID = uuid.NewString()
	inc.Version = 1
	inc.CreatedAt = time.Now()
	inc.UpdatedAt = inc.CreatedAt
	m.incidents[inc.ID] = inc.Clone()
	return nil
}

func (m *mockRepository) Get(_ context.Context, id string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return inc.Clone(), nil
}

func (m *mockRepository) Update(_ context.Context, inc *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.incidents[inc.ID]
	if !ok {
		return ErrIncidentNotFound
	}
	if stored.Version != inc.Version {
		return ErrConflict
	}
	next := inc.Clone()
	next.OpenedAt = stored.OpenedAt
	next.Version = stored.Version + 1
	next.UpdatedAt = time.Now()
	m.incidents[inc.ID] = next

	*inc = *next.Clone()
	if m.afterUpdate != nil {
		m.afterUpdate(inc)
	}
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[id]; !ok {
		return ErrIncidentNotFound
	}
	delete(m.incidents, id)
	return nil
}

func (m *mockRepository) stored(id string) *domain.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incidents[id].Clone()
}

type mockHistoryRepository struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
	err     error
	panics  bool
}

func (m *mockHistoryRepository) CreateEntry(_ context.Context, entry *domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panics {
		panic("history store crashed")
	}
	if m.err != nil {
		return m.err
	}
	entry.ID = uuid.NewString()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockHistoryRepository) ListByIncident(_ context.Context, incidentID string) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.HistoryEntry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].IncidentID == incidentID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *mockHistoryRepository) actions(incidentID string) []domain.HistoryAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryAction
	for _, e := range m.entries {
		if e.IncidentID == incidentID {
			out = append(out, e.Action)
		}
	}
	return out
}

type mockListSource struct {
	validator *domain.DistributionList
	lists     []domain.DistributionList
}

func (m *mockListSource) ListActive(_ context.Context, filter distlists.Filter) ([]domain.DistributionList, error) {
	var out []domain.DistributionList
	for _, l := range m.lists {
		if filter.Type != nil && l.Type != *filter.Type {
			continue
		}
		if filter.Gravity != nil && (l.Gravity == nil || *l.Gravity != *filter.Gravity) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *mockListSource) GetValidatorList(_ context.Context) (*domain.DistributionList, error) {
	return m.validator, nil
}

func (m *mockListSource) GetList(_ context.Context, id string) (*domain.DistributionList, error) {
	for i := range m.lists {
		if m.lists[i].ID == id {
			l := m.lists[i]
			return &l, nil
		}
	}
	return nil, distlists.ErrListNotFound
}

type mockTemplateRepository struct {
	templates []domain.Template
}

func (m *mockTemplateRepository) ListActiveTemplates(_ context.Context) ([]domain.Template, error) {
	return m.templates, nil
}

func (m *mockTemplateRepository) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	for i := range m.templates {
		if m.templates[i].ID == id {
			t := m.templates[i]
			return &t, nil
		}
	}
	return nil, templates.ErrTemplateNotFound
}

type mockUsers struct {
	emails map[string]string
}

func (m *mockUsers) ResolveEmail(_ context.Context, userID string) (string, error) {
	return m.emails[userID], nil
}

type notification struct {
	kind       domain.EventKind
	recipients []string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (m *mockNotifier) Notify(_ context.Context, _ *domain.Incident, kind domain.EventKind, recipients []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notification{kind: kind, recipients: recipients})
	return m.err
}

func (m *mockNotifier) kinds() []domain.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EventKind
	for _, n := range m.sent {
		out = append(out, n.kind)
	}
	return out
}

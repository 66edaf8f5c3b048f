package templates

import (
	"context"
	"errors"
	"testing"

	"github.com/bissquit/incident-relay/internal/distlists"
	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	templates []domain.Template
	listErr   error
}

func (m *mockRepository) ListActiveTemplates(_ context.Context) ([]domain.Template, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Template
	for _, t := range m.templates {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockRepository) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	for i := range m.templates {
		if m.templates[i].ID == id {
			t := m.templates[i]
			return &t, nil
		}
	}
	return nil, ErrTemplateNotFound
}

type mockLists struct {
	lists map[string]domain.DistributionList
	err   error
}

func (m *mockLists) GetList(_ context.Context, id string) (*domain.DistributionList, error) {
	if m.err != nil {
		return nil, m.err
	}
	l, ok := m.lists[id]
	if !ok {
		return nil, distlists.ErrListNotFound
	}
	return &l, nil
}

func strPtr(s string) *string { return &s }

func newTestService() *Service {
	repo := &mockRepository{templates: []domain.Template{
		{
			ID:                       "tpl-server",
			Name:                     "Panne serveur critique",
			Actions:                  []domain.TemplateAction{{Text: "Prévenir l'astreinte", Mandatory: true}},
			LinkedDistributionListID: strPtr("list-infra"),
			Active:                   true,
		},
		{
			ID:      "tpl-retired",
			Name:    "Ancienne procédure",
			Actions: []domain.TemplateAction{{Text: "Obsolète"}},
			Active:  false,
		},
	}}
	lists := &mockLists{lists: map[string]domain.DistributionList{
		"list-infra": {ID: "list-infra", Type: domain.DistributionListPersonnelle, Emails: []string{"infra@example.com"}, Active: true},
	}}
	return NewService(repo, lists, 0)
}

func TestService_AutoMatch(t *testing.T) {
	t.Run("applies matching template and linked list", func(t *testing.T) {
		svc := newTestService()
		inc := &domain.Incident{Object: "Panne serveur", AutoNotifiedEmails: []string{"ops@example.com"}}

		match, err := svc.AutoMatch(context.Background(), inc)

		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Equal(t, "tpl-server", match.TemplateID)
		assert.Equal(t, float64(90), match.Score)
		assert.Len(t, inc.Actions, 1)
		assert.Equal(t, domain.ActionPriorityHigh, inc.Actions[0].Priority)
		assert.Equal(t, []string{"ops@example.com", "infra@example.com"}, inc.AutoNotifiedEmails)
	})

	t.Run("no match leaves incident untouched", func(t *testing.T) {
		svc := newTestService()
		inc := &domain.Incident{Object: "xyz"}

		match, err := svc.AutoMatch(context.Background(), inc)

		require.NoError(t, err)
		assert.Nil(t, match)
		assert.Nil(t, inc.TemplateID)
		assert.Empty(t, inc.Actions)
	})

	t.Run("catalog failure is not fatal", func(t *testing.T) {
		svc := NewService(&mockRepository{listErr: errors.New("db down")}, nil, 70)
		inc := &domain.Incident{Object: "Panne serveur"}

		match, err := svc.AutoMatch(context.Background(), inc)

		require.NoError(t, err)
		assert.Nil(t, match)
	})

	t.Run("linked list failure keeps checklist", func(t *testing.T) {
		svc := newTestService()
		svc.lists = &mockLists{err: errors.New("cache down")}
		inc := &domain.Incident{Object: "Panne serveur critique"}

		match, err := svc.AutoMatch(context.Background(), inc)

		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Len(t, inc.Actions, 1)
		assert.Empty(t, inc.AutoNotifiedEmails)
	})
}

func TestService_Apply(t *testing.T) {
	t.Run("explicit template", func(t *testing.T) {
		svc := newTestService()
		inc := &domain.Incident{Object: "sans rapport"}

		match, err := svc.Apply(context.Background(), inc, "tpl-server")

		require.NoError(t, err)
		assert.Equal(t, float64(100), match.Score)
		require.NotNil(t, inc.TemplateScore)
		assert.Equal(t, float64(100), *inc.TemplateScore)
	})

	t.Run("unknown template", func(t *testing.T) {
		svc := newTestService()

		_, err := svc.Apply(context.Background(), &domain.Incident{}, "missing")

		assert.ErrorIs(t, err, ErrTemplateNotFound)
	})

	t.Run("inactive template", func(t *testing.T) {
		svc := newTestService()
		inc := &domain.Incident{}

		_, err := svc.Apply(context.Background(), inc, "tpl-retired")

		assert.ErrorIs(t, err, ErrTemplateNotFound)
		assert.Nil(t, inc.TemplateID)
	})
}

func TestNewService_DefaultThreshold(t *testing.T) {
	assert.Equal(t, float64(DefaultThreshold), NewService(&mockRepository{}, nil, 0).Threshold())
	assert.Equal(t, float64(80), NewService(&mockRepository{}, nil, 80).Threshold())
}

package incidents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-relay/internal/audit"
	"github.com/bissquit/incident-relay/internal/authz"
	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/recipients"
	"github.com/bissquit/incident-relay/internal/templates"
	"github.com/bissquit/incident-relay/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fixedNow      = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	fixedOpenedAt = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	reporter       = domain.Actor{ID: "creator", Role: domain.RoleUser}
	officer        = domain.Actor{ID: "officer", Role: domain.RoleOfficer}
	validatorActor = domain.Actor{ID: "val-1", Role: domain.RoleValidator}
	admin          = domain.Actor{ID: "admin", Role: domain.RoleAdmin}
)

type fixture struct {
	svc      *Service
	repo     *mockRepository
	history  *mockHistoryRepository
	notifier *mockNotifier
}

func gravityPtr(g domain.Gravity) *domain.Gravity { return &g }
func statusPtr(s domain.IncidentStatus) *domain.IncidentStatus { return &s }
func strPtr(s string) *string { return &s }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	enforcer, err := authz.NewEnforcer()
	require.NoError(t, err)

	lists := &mockListSource{
		validator: &domain.DistributionList{
			ID:     "validators",
			Type:   domain.DistributionListValidator,
			Emails: []string{"v1@example.com", "v2@example.com"},
			Active: true,
		},
		lists: []domain.DistributionList{
			{ID: "m1", Type: domain.DistributionListMetier, Gravity: gravityPtr(domain.GravityTresGrave), Emails: []string{"m1@example.com"}, Active: true},
			{ID: "m2", Type: domain.DistributionListMetier, Gravity: gravityPtr(domain.GravityMoyen), Domains: []string{"Production"}, Emails: []string{"m2@example.com"}, Active: true},
			{ID: "infra", Type: domain.DistributionListPersonnelle, Emails: []string{"infra@example.com"}, Active: true},
		},
	}
	catalog := &mockTemplateRepository{templates: []domain.Template{
		{
			ID:   "tpl-1",
			Name: "Panne serveur critique",
			Actions: []domain.TemplateAction{
				{Text: "Prévenir l'astreinte", Mandatory: true},
				{Text: "Ouvrir un ticket fournisseur"},
			},
			LinkedDistributionListID: strPtr("infra"),
			Active:                   true,
		},
	}}

	f := &fixture{
		repo:     newMockRepository(),
		history:  &mockHistoryRepository{},
		notifier: &mockNotifier{},
	}
	f.svc = NewService(Dependencies{
		Repo:       f.repo,
		Recorder:   audit.NewRecorder(f.history, nil),
		Recipients: recipients.NewService(lists),
		Templates:  templates.NewService(catalog, lists, templates.DefaultThreshold),
		Users:      &mockUsers{emails: map[string]string{"creator": "creator@example.com", "bob": "bob@example.com"}},
		Notifier:   f.notifier,
		Authorizer: enforcer,
		Now:        func() time.Time { return fixedNow },
	})
	return f
}

func (f *fixture) create(t *testing.T, gravity domain.Gravity) *domain.Incident {
	t.Helper()
	inc, err := f.svc.Create(context.Background(), reporter, CreateIncidentInput{
		Object:        "Fuite d'eau salle serveurs",
		Gravity:       gravity,
		Domains:       []string{"Production"},
		SitesImpacted: []string{"Clermont-Ferrand"},
		OpenedAt:      &fixedOpenedAt,
	})
	require.NoError(t, err)
	return inc
}

func TestService_Create_EscalatesHighGravity(t *testing.T) {
	f := newFixture(t)

	inc := f.create(t, domain.GravityTresGrave)

	assert.Equal(t, domain.IncidentStatusEnAttente, inc.Status)
	assert.Equal(t, "creator@example.com", inc.CreatorEmail)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, domain.EventKindCreation, f.notifier.sent[0].kind)
	assert.Equal(t, []string{"creator@example.com", "v1@example.com", "v2@example.com"}, f.notifier.sent[0].recipients)
	assert.Equal(t, []domain.HistoryAction{domain.HistoryActionCreated}, f.history.actions(inc.ID))
}

func TestService_Create_LowGravityUsesMetierLists(t *testing.T) {
	f := newFixture(t)

	inc := f.create(t, domain.GravityMoyen)

	assert.Equal(t, domain.IncidentStatusEnCours, inc.Status)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, []string{"creator@example.com", "m2@example.com"}, f.notifier.sent[0].recipients)
}

func TestService_Create_AutoMatchesTemplate(t *testing.T) {
	f := newFixture(t)

	inc, err := f.svc.Create(context.Background(), reporter, CreateIncidentInput{
		Object:  "Panne serveur",
		Gravity: domain.GravityFaible,
	})

	require.NoError(t, err)
	require.NotNil(t, inc.TemplateID)
	assert.Equal(t, "tpl-1", *inc.TemplateID)
	require.NotNil(t, inc.TemplateScore)
	assert.Equal(t, float64(90), *inc.TemplateScore)
	assert.Len(t, inc.Actions, 2)
	assert.Equal(t, []string{"infra@example.com"}, inc.AutoNotifiedEmails)
	assert.Equal(t, []string{"creator@example.com", "infra@example.com"}, f.notifier.sent[0].recipients)
}

func TestService_Create_TemplateExclusionRespected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), reporter, CreateIncidentInput{
		Object:                 "Panne serveur",
		Gravity:                domain.GravityFaible,
		TemplateExcludedEmails: []string{"infra@example.com"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"creator@example.com"}, f.notifier.sent[0].recipients)
}

func TestService_Create_ExplicitTemplate(t *testing.T) {
	t.Run("missing template is fatal", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Create(context.Background(), reporter, CreateIncidentInput{
			Object:     "Panne serveur",
			Gravity:    domain.GravityFaible,
			TemplateID: strPtr("unknown"),
		})

		assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
		assert.Empty(t, f.repo.incidents)
		assert.Empty(t, f.notifier.sent)
	})

	t.Run("requested template scores 100", func(t *testing.T) {
		f := newFixture(t)

		inc, err := f.svc.Create(context.Background(), reporter, CreateIncidentInput{
			Object:     "Sans rapport",
			Gravity:    domain.GravityFaible,
			TemplateID: strPtr("tpl-1"),
		})

		require.NoError(t, err)
		require.NotNil(t, inc.TemplateScore)
		assert.Equal(t, float64(100), *inc.TemplateScore)
	})
}

func TestService_Create_InvalidInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		input CreateIncidentInput
	}{
		{"empty object", CreateIncidentInput{Gravity: domain.GravityFaible}},
		{"unknown gravity", CreateIncidentInput{Object: "x", Gravity: "extreme"}},
		{"bad manual email", CreateIncidentInput{Object: "x", Gravity: domain.GravityFaible, ManualEmails: []string{"not-an-email"}}},
		{"empty domain", CreateIncidentInput{Object: "x", Gravity: domain.GravityFaible, Domains: []string{""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), reporter, tt.input)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Empty(t, f.repo.incidents)
}

func TestService_Create_Forbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), domain.Actor{ID: "x", Role: "guest"}, CreateIncidentInput{
		Object:  "x",
		Gravity: domain.GravityFaible,
	})

	assert.ErrorIs(t, err, authz.ErrForbidden)
}

func TestService_Update_BypassRejected(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityTresGrave)

	_, err := f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{
		Status: statusPtr(domain.IncidentStatusEnCours),
	})

	var bypass *workflow.BypassError
	require.ErrorAs(t, err, &bypass)
	assert.Equal(t, domain.IncidentStatusEnAttente, bypass.From)
	assert.Equal(t, domain.IncidentStatusEnAttente, f.repo.stored(inc.ID).Status)
	assert.Equal(t, []domain.HistoryAction{domain.HistoryActionCreated}, f.history.actions(inc.ID))
}

func TestService_Update_AutoReleaseOnDowngrade(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityGrave)

	updated, err := f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{
		Gravity: gravityPtr(domain.GravityFaible),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusEnCours, updated.Status)
	assert.Nil(t, updated.ValidatedAt)
	assert.Equal(t, []domain.EventKind{domain.EventKindCreation, domain.EventKindDowngraded}, f.notifier.kinds())

	entries, err := f.svc.ListHistory(context.Background(), reporter, inc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.HistoryActionUpdated, entries[0].Action)
	assert.Equal(t, domain.FieldChange{Old: "grave", New: "faible"}, entries[0].Changes["gravity"])
	assert.Equal(t, domain.FieldChange{Old: "en_attente", New: "en_cours"}, entries[0].Changes["status"])
}

func TestService_Update_FieldsAndAssignee(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityMoyen)

	updated, err := f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{
		Object:       strPtr("Fuite d'eau maîtrisée"),
		ManualEmails: []string{"a@example.com"},
		AssigneeID:   strPtr("bob"),
		Reason:       strPtr("suivi"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Fuite d'eau maîtrisée", updated.Object)
	assert.Equal(t, "bob@example.com", updated.AssigneeEmail)
	assert.Equal(t, 2, updated.Version)

	updated, err = f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{AssigneeID: strPtr("")})
	require.NoError(t, err)
	assert.Nil(t, updated.AssigneeID)
	assert.Empty(t, updated.AssigneeEmail)
}

func TestService_Update_ClosingThroughStatus(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityMoyen)

	updated, err := f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{
		Status: statusPtr(domain.IncidentStatusCloture),
	})

	require.NoError(t, err)
	require.NotNil(t, updated.ClosedAt)
	assert.Equal(t, fixedNow, *updated.ClosedAt)
	assert.Equal(t, []domain.HistoryAction{domain.HistoryActionCreated, domain.HistoryActionClosed}, f.history.actions(inc.ID))
	assert.Equal(t, []domain.EventKind{domain.EventKindCreation, domain.EventKindCloture}, f.notifier.kinds())
}

func TestService_Validate(t *testing.T) {
	t.Run("validator releases pending incident", func(t *testing.T) {
		f := newFixture(t)
		inc := f.create(t, domain.GravityTresGrave)

		validated, err := f.svc.Validate(context.Background(), validatorActor, inc.ID)

		require.NoError(t, err)
		assert.Equal(t, domain.IncidentStatusEnCours, validated.Status)
		require.NotNil(t, validated.ValidatedBy)
		assert.Equal(t, "val-1", *validated.ValidatedBy)
		require.Len(t, f.notifier.sent, 2)
		assert.Equal(t, domain.EventKindValidation, f.notifier.sent[1].kind)
		assert.Equal(t, []string{"creator@example.com", "v1@example.com", "v2@example.com"}, f.notifier.sent[1].recipients)
	})

	t.Run("history entry is marked as a validation", func(t *testing.T) {
		f := newFixture(t)
		inc := f.create(t, domain.GravityGrave)

		_, err := f.svc.Validate(context.Background(), validatorActor, inc.ID)
		require.NoError(t, err)

		history, err := f.svc.ListHistory(context.Background(), validatorActor, inc.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, domain.HistoryActionUpdated, history[0].Action)
		require.NotNil(t, history[0].Reason)
		assert.Equal(t, ValidatedReason, *history[0].Reason)
		assert.Equal(t, "val-1", history[0].ActorID)
	})

	t.Run("low gravity cannot be validated", func(t *testing.T) {
		f := newFixture(t)
		inc := f.create(t, domain.GravityFaible)

		_, err := f.svc.Validate(context.Background(), validatorActor, inc.ID)

		assert.ErrorIs(t, err, workflow.ErrInvalidGravityForValidation)
		assert.Equal(t, domain.IncidentStatusEnCours, f.repo.stored(inc.ID).Status)
	})

	t.Run("reporter cannot validate", func(t *testing.T) {
		f := newFixture(t)
		inc := f.create(t, domain.GravityGrave)

		_, err := f.svc.Validate(context.Background(), reporter, inc.ID)

		assert.ErrorIs(t, err, authz.ErrForbidden)
		assert.Equal(t, domain.IncidentStatusEnAttente, f.repo.stored(inc.ID).Status)
	})

	t.Run("unknown incident", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Validate(context.Background(), validatorActor, "missing")

		assert.ErrorIs(t, err, ErrIncidentNotFound)
	})
}

func TestService_Close(t *testing.T) {
	t.Run("officer closes open incident", func(t *testing.T) {
		f := newFixture(t)
		inc := f.create(t, domain.GravityMoyen)

		closed, err := f.svc.Close(context.Background(), officer, inc.ID, strPtr("résolu"))

		require.NoError(t, err)
		assert.Equal(t, domain.IncidentStatusCloture, closed.Status)
		entries, err := f.svc.ListHistory(context.Background(), officer, inc.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.HistoryActionClosed, entries[0].Action)
		require.NotNil(t, entries[0].Reason)
		assert.Equal(t, "résolu", *entries[0].Reason)
	})

	t.Run("pending incident is a bypass", func(t *testing.T) {
		f := newFixture(t)
		inc := f.create(t, domain.GravityGrave)

		_, err := f.svc.Close(context.Background(), officer, inc.ID, nil)

		assert.ErrorIs(t, err, workflow.ErrBypass)
	})
}

func TestService_ArchiveRoundTrip(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityMoyen)
	_, err := f.svc.Close(context.Background(), officer, inc.ID, nil)
	require.NoError(t, err)

	archived, err := f.svc.Archive(context.Background(), validatorActor, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusArchive, archived.Status)

	_, err = f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{Status: statusPtr(domain.IncidentStatusEnCours)})
	assert.ErrorIs(t, err, workflow.ErrIllegalTransition)

	unarchived, err := f.svc.Unarchive(context.Background(), validatorActor, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusCloture, unarchived.Status)

	assert.Equal(t, []domain.HistoryAction{
		domain.HistoryActionCreated,
		domain.HistoryActionClosed,
		domain.HistoryActionArchived,
		domain.HistoryActionRestoredArchive,
	}, f.history.actions(inc.ID))
	assert.Equal(t, []domain.EventKind{
		domain.EventKindCreation,
		domain.EventKindCloture,
		domain.EventKindArchive,
		domain.EventKindUnarchive,
	}, f.notifier.kinds())
}

func TestService_Archive_AnyStatus(t *testing.T) {
	t.Run("pending incident", func(t *testing.T) {
		f := newFixture(t)
		inc := f.create(t, domain.GravityTresGrave)
		require.Equal(t, domain.IncidentStatusEnAttente, inc.Status)

		archived, err := f.svc.Archive(context.Background(), validatorActor, inc.ID)

		require.NoError(t, err)
		assert.Equal(t, domain.IncidentStatusArchive, archived.Status)
		require.NotNil(t, archived.ArchivedAt)
		assert.Equal(t, fixedOpenedAt, archived.OpenedAt)
		assert.Equal(t, []domain.HistoryAction{
			domain.HistoryActionCreated,
			domain.HistoryActionArchived,
		}, f.history.actions(inc.ID))
	})

	t.Run("already archived incident", func(t *testing.T) {
		f := newFixture(t)
		inc := f.create(t, domain.GravityMoyen)
		_, err := f.svc.Archive(context.Background(), validatorActor, inc.ID)
		require.NoError(t, err)

		again, err := f.svc.Archive(context.Background(), validatorActor, inc.ID)

		require.NoError(t, err)
		assert.Equal(t, domain.IncidentStatusArchive, again.Status)
		assert.Equal(t, domain.EventKindArchive, f.notifier.kinds()[len(f.notifier.kinds())-1])
	})
}

func TestService_TrashAndRestore(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityMoyen)

	_, err := f.svc.Restore(context.Background(), officer, inc.ID)
	assert.ErrorIs(t, err, ErrNotTrashed)

	trashed, err := f.svc.Trash(context.Background(), officer, inc.ID, strPtr("doublon"))
	require.NoError(t, err)
	assert.True(t, trashed.IsTrashed())

	_, err = f.svc.Trash(context.Background(), officer, inc.ID, nil)
	assert.ErrorIs(t, err, ErrAlreadyTrashed)

	_, err = f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{Object: strPtr("x")})
	assert.ErrorIs(t, err, ErrAlreadyTrashed)

	restored, err := f.svc.Restore(context.Background(), officer, inc.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsTrashed())

	assert.Equal(t, []domain.HistoryAction{
		domain.HistoryActionCreated,
		domain.HistoryActionTrashed,
		domain.HistoryActionRestoredTrash,
	}, f.history.actions(inc.ID))
	assert.Equal(t, []domain.EventKind{
		domain.EventKindCreation,
		domain.EventKindTrashed,
		domain.EventKindRestored,
	}, f.notifier.kinds())

	// The restore scope is closed: later updates are recorded again.
	_, err = f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{Object: strPtr("après restauration")})
	require.NoError(t, err)
	assert.Len(t, f.history.actions(inc.ID), 4)
}

func TestService_Restore_FailureAbortsScope(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityMoyen)
	_, err := f.svc.Trash(context.Background(), officer, inc.ID, nil)
	require.NoError(t, err)

	f.repo.updateErr = errors.New("connection reset")
	_, err = f.svc.Restore(context.Background(), officer, inc.ID)
	require.Error(t, err)
	assertUnlocked(t, f.svc, inc.ID)

	f.repo.updateErr = nil
	_, err = f.svc.Restore(context.Background(), officer, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.HistoryAction{
		domain.HistoryActionCreated,
		domain.HistoryActionTrashed,
		domain.HistoryActionRestoredTrash,
	}, f.history.actions(inc.ID))
}

func TestService_Restore_PanicReleasesLock(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityMoyen)
	_, err := f.svc.Trash(context.Background(), officer, inc.ID, nil)
	require.NoError(t, err)

	f.history.mu.Lock()
	f.history.panics = true
	f.history.mu.Unlock()

	assert.Panics(t, func() {
		_, _ = f.svc.Restore(context.Background(), officer, inc.ID)
	})
	assertUnlocked(t, f.svc, inc.ID)
}

func assertUnlocked(t *testing.T, svc *Service, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock, err := svc.locker.Lock(ctx, id)
	require.NoError(t, err, "incident lock is still held")
	unlock()
}

func TestService_OpenedAtImmutable(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityGrave)
	require.True(t, inc.OpenedAt.Equal(fixedOpenedAt))

	_, err := f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{Object: strPtr("Fuite d'eau étendue")})
	require.NoError(t, err)
	_, err = f.svc.Trash(context.Background(), officer, inc.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Restore(context.Background(), officer, inc.ID)
	require.NoError(t, err)
	final, err := f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{Gravity: gravityPtr(domain.GravityMoyen)})
	require.NoError(t, err)

	assert.True(t, final.OpenedAt.Equal(fixedOpenedAt))
	assert.True(t, f.repo.stored(inc.ID).OpenedAt.Equal(fixedOpenedAt))

	entries, err := f.svc.ListHistory(context.Background(), reporter, inc.ID)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, fixedOpenedAt.Format(time.RFC3339Nano), e.Snapshot["opened_at"], "entry %s", e.Action)
		assert.NotContains(t, e.Changes, "opened_at")
	}
}

func TestService_OpenedAtDriftCorrected(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityMoyen)
	f.repo.afterUpdate = func(i *domain.Incident) {
		i.OpenedAt = fixedNow.Add(time.Hour)
	}

	trashed, err := f.svc.Trash(context.Background(), officer, inc.ID, nil)

	require.NoError(t, err)
	assert.True(t, trashed.OpenedAt.Equal(fixedOpenedAt))
	entries, err := f.svc.ListHistory(context.Background(), officer, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, fixedOpenedAt.Format(time.RFC3339Nano), entries[0].Snapshot["opened_at"])
}

func TestService_NotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")

	inc, err := f.svc.Create(context.Background(), reporter, CreateIncidentInput{
		Object:  "Alarme incendie",
		Gravity: domain.GravityTresGrave,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, inc.ID)
	assert.Len(t, f.notifier.sent, 1)
}

func TestService_HistoryFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityMoyen)
	f.history.err = errors.New("disk full")

	updated, err := f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{Object: strPtr("Fuite maîtrisée")})

	require.NoError(t, err)
	assert.Equal(t, "Fuite maîtrisée", f.repo.stored(inc.ID).Object)
	assert.Equal(t, "Fuite maîtrisée", updated.Object)
}

func TestService_ForceDelete(t *testing.T) {
	t.Run("admin deletes and notifies", func(t *testing.T) {
		f := newFixture(t)
		inc := f.create(t, domain.GravityMoyen)

		require.NoError(t, f.svc.ForceDelete(context.Background(), admin, inc.ID))

		_, err := f.svc.Get(context.Background(), inc.ID)
		assert.ErrorIs(t, err, ErrIncidentNotFound)
		require.Len(t, f.notifier.sent, 2)
		assert.Equal(t, domain.EventKindForceDeleted, f.notifier.sent[1].kind)
		assert.Equal(t, []string{"creator@example.com", "m2@example.com"}, f.notifier.sent[1].recipients)
	})

	t.Run("officer is forbidden", func(t *testing.T) {
		f := newFixture(t)
		inc := f.create(t, domain.GravityMoyen)

		err := f.svc.ForceDelete(context.Background(), officer, inc.ID)

		assert.ErrorIs(t, err, authz.ErrForbidden)
		_, err = f.svc.Get(context.Background(), inc.ID)
		assert.NoError(t, err)
	})
}

func TestService_ApplyTemplate(t *testing.T) {
	f := newFixture(t)
	inc, err := f.svc.Create(context.Background(), reporter, CreateIncidentInput{
		Object:  "Sans rapport",
		Gravity: domain.GravityFaible,
		Actions: []domain.Action{{Text: "Action saisie", Priority: domain.ActionPriorityNormal, State: domain.ActionStateTodo}},
	})
	require.NoError(t, err)
	require.Nil(t, inc.TemplateID)

	applied, err := f.svc.ApplyTemplate(context.Background(), officer, inc.ID, "tpl-1")
	require.NoError(t, err)
	require.NotNil(t, applied.TemplateID)
	assert.Equal(t, "tpl-1", *applied.TemplateID)
	assert.Len(t, applied.Actions, 1)
	assert.Equal(t, []string{"infra@example.com"}, applied.AutoNotifiedEmails)

	_, err = f.svc.ApplyTemplate(context.Background(), officer, inc.ID, "unknown")
	assert.ErrorIs(t, err, templates.ErrTemplateNotFound)

	_, err = f.svc.ApplyTemplate(context.Background(), reporter, inc.ID, "tpl-1")
	assert.ErrorIs(t, err, authz.ErrForbidden)
}

func TestService_UpdateConflict(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityMoyen)
	f.repo.updateErr = ErrConflict

	_, err := f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{Object: strPtr("x")})

	assert.ErrorIs(t, err, ErrConflict)
}

func TestService_ConcurrentUpdatesAreSerialized(t *testing.T) {
	f := newFixture(t)
	inc := f.create(t, domain.GravityMoyen)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Update(context.Background(), reporter, inc.ID, UpdateIncidentInput{
				Object: strPtr(string(rune('A' + i))),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, workers+1, f.repo.stored(inc.ID).Version)
}

// Package incidents orchestrates the incident lifecycle: workflow decision,
// persistence, history, recipient resolution and notification.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-relay/internal/audit"
	"github.com/bissquit/incident-relay/internal/authz"
	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/pkg/ctxlog"
	"github.com/bissquit/incident-relay/internal/templates"
	"github.com/bissquit/incident-relay/internal/workflow"
	"github.com/go-playground/validator/v10"
)

// Notifier delivers event notifications. Failures are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, inc *domain.Incident, kind domain.EventKind, recipients []string) error
}

// RecipientResolver computes who receives an event.
type RecipientResolver interface {
	Recipients(ctx context.Context, inc *domain.Incident, kind domain.EventKind) ([]string, error)
}

// TemplateApplier seeds incidents from the template catalog.
type TemplateApplier interface {
	AutoMatch(ctx context.Context, inc *domain.Incident) (*templates.Match, error)
	Apply(ctx context.Context, inc *domain.Incident, templateID string) (*templates.Match, error)
}

// EmailResolver looks up user emails in the directory.
type EmailResolver interface {
	ResolveEmail(ctx context.Context, userID string) (string, error)
}

// Authorizer checks whether a role may perform an action.
type Authorizer interface {
	Authorize(role domain.Role, action authz.Action) error
}

// HistoryRecorder writes and reads incident history.
type HistoryRecorder interface {
	Record(ctx context.Context, in audit.RecordInput) *domain.HistoryEntry
	BeginRestore(incidentID string) audit.RestoreToken
	CompleteRestore(ctx context.Context, token audit.RestoreToken, in audit.RecordInput) (*domain.HistoryEntry, error)
	AbortRestore(token audit.RestoreToken)
	ListHistory(ctx context.Context, incidentID string) ([]domain.HistoryEntry, error)
}

// Dependencies holds the collaborators of Service.
// Locker, Workflow and Now are optional.
type Dependencies struct {
	Repo       Repository
	Recorder   HistoryRecorder
	Recipients RecipientResolver
	Templates  TemplateApplier
	Users      EmailResolver
	Notifier   Notifier
	Authorizer Authorizer
	Locker     Locker
	Workflow   *workflow.Workflow
	Now        func() time.Time
}

// Service implements incident business logic.
type Service struct {
	repo       Repository
	recorder   HistoryRecorder
	recipients RecipientResolver
	templates  TemplateApplier
	users      EmailResolver
	notifier   Notifier
	authorizer Authorizer
	locker     Locker
	workflow   *workflow.Workflow
	validate   *validator.Validate
	now        func() time.Time
}

// NewService creates a new incident service.
func NewService(deps Dependencies) *Service {
	s := &Service{
		repo:       deps.Repo,
		recorder:   deps.Recorder,
		recipients: deps.Recipients,
		templates:  deps.Templates,
		users:      deps.Users,
		notifier:   deps.Notifier,
		authorizer: deps.Authorizer,
		locker:     deps.Locker,
		workflow:   deps.Workflow,
		validate:   validator.New(),
		now:        deps.Now,
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.workflow == nil {
		s.workflow = workflow.NewWithClock(s.now)
	}
	return s
}

// CreateIncidentInput holds data for creating an incident.
type CreateIncidentInput struct {
	Object                 string          `validate:"required,max=500"`
	Domains                []string        `validate:"dive,required"`
	Gravity                domain.Gravity  `validate:"required,oneof=faible moyen grave tres_grave"`
	SitesImpacted          []string        `validate:"dive,required"`
	ManualEmails           []string        `validate:"dive,email"`
	TemplateExcludedEmails []string        `validate:"dive,email"`
	Actions                []domain.Action `validate:"dive"`
	AssigneeID             *string         `validate:"omitempty,min=1"`
	// TemplateID requests a specific template. Auto-matching is used when nil.
	TemplateID *string
	// OpenedAt defaults to now.
	OpenedAt *time.Time
}

// UpdateIncidentInput holds the fields to change. Nil fields are kept.
type UpdateIncidentInput struct {
	Object                 *string                `validate:"omitempty,min=1,max=500"`
	Domains                []string               `validate:"dive,required"`
	Gravity                *domain.Gravity        `validate:"omitempty,oneof=faible moyen grave tres_grave"`
	Status                 *domain.IncidentStatus `validate:"omitempty,oneof=en_attente en_cours cloture archive"`
	SitesImpacted          []string               `validate:"dive,required"`
	ManualEmails           []string               `validate:"dive,email"`
	TemplateExcludedEmails []string               `validate:"dive,email"`
	Actions                []domain.Action        `validate:"dive"`
	// AssigneeID set to an empty string unassigns the incident.
	AssigneeID *string
	Reason     *string
}

// Create creates an incident, applies a template and notifies.
func (s *Service) Create(ctx context.Context, actor domain.Actor, input CreateIncidentInput) (inc *domain.Incident, err error) {
	defer func() { recordMutation("create", err) }()

	if err := s.authorize(actor, authz.ActionCreate); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	openedAt := s.now()
	if input.OpenedAt != nil {
		openedAt = *input.OpenedAt
	}

	inc = &domain.Incident{
		Object:                 input.Object,
		Domains:                input.Domains,
		Gravity:                input.Gravity,
		Status:                 s.workflow.ProposeCreate(input.Gravity),
		OpenedAt:               openedAt.UTC(),
		SitesImpacted:          input.SitesImpacted,
		ManualEmails:           input.ManualEmails,
		TemplateExcludedEmails: input.TemplateExcludedEmails,
		Actions:                input.Actions,
		CreatorID:              actor.ID,
		AssigneeID:             input.AssigneeID,
	}
	inc.CreatorEmail = s.resolveEmail(ctx, actor.ID)
	if inc.AssigneeID != nil {
		inc.AssigneeEmail = s.resolveEmail(ctx, *inc.AssigneeID)
	}

	if input.TemplateID != nil {
		if _, err := s.templates.Apply(ctx, inc, *input.TemplateID); err != nil {
			return nil, fmt.Errorf("apply template: %w", err)
		}
	} else if _, err := s.templates.AutoMatch(ctx, inc); err != nil {
		ctxlog.FromContext(ctx).Warn("template auto-match failed", "error", err)
	}

	if err := s.repo.Create(ctx, inc); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	s.recorder.Record(ctx, audit.RecordInput{
		Action:   domain.HistoryActionCreated,
		Incident: inc,
		ActorID:  actor.ID,
	})

	ctxlog.FromContext(ctx).Info("incident created",
		"incident_id", inc.ID,
		"gravity", inc.Gravity,
		"status", inc.Status,
	)

	s.notify(ctx, inc, domain.EventKindCreation)
	return inc, nil
}

// Update edits an incident under the validation workflow.
func (s *Service) Update(ctx context.Context, actor domain.Actor, id string, input UpdateIncidentInput) (inc *domain.Incident, err error) {
	defer func() { recordMutation("update", err) }()

	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	prev, next, err := s.mutate(ctx, actor, id, mutation{
		action:  authz.ActionUpdate,
		history: domain.HistoryActionUpdated,
		reason:  input.Reason,
		apply: func(inc *domain.Incident) error {
			return s.applyUpdate(ctx, inc, input)
		},
	})
	if err != nil {
		return nil, err
	}

	if next.Status == domain.IncidentStatusCloture && prev.Status != domain.IncidentStatusCloture {
		s.notify(ctx, next, domain.EventKindCloture)
	}
	if workflow.IsDowngrade(prev.Gravity, next.Gravity) {
		s.notify(ctx, next, domain.EventKindDowngraded)
	}
	return next, nil
}

func (s *Service) applyUpdate(ctx context.Context, inc *domain.Incident, input UpdateIncidentInput) error {
	var requestedStatus domain.IncidentStatus
	if input.Status != nil {
		requestedStatus = *input.Status
	}
	var requestedGravity domain.Gravity
	if input.Gravity != nil {
		requestedGravity = *input.Gravity
	}

	status, err := s.workflow.ProposeUpdate(inc, requestedStatus, requestedGravity)
	if err != nil {
		if errors.Is(err, workflow.ErrBypass) {
			bypassRejections.Inc()
		}
		return err
	}

	if input.Object != nil {
		inc.Object = *input.Object
	}
	if input.Domains != nil {
		inc.Domains = input.Domains
	}
	if input.SitesImpacted != nil {
		inc.SitesImpacted = input.SitesImpacted
	}
	if input.ManualEmails != nil {
		inc.ManualEmails = input.ManualEmails
	}
	if input.TemplateExcludedEmails != nil {
		inc.TemplateExcludedEmails = input.TemplateExcludedEmails
	}
	if input.Actions != nil {
		inc.Actions = input.Actions
	}
	if input.AssigneeID != nil {
		if *input.AssigneeID == "" {
			inc.AssigneeID = nil
			inc.AssigneeEmail = ""
		} else {
			assignee := *input.AssigneeID
			inc.AssigneeID = &assignee
			inc.AssigneeEmail = s.resolveEmail(ctx, assignee)
		}
	}
	if requestedGravity != "" {
		inc.Gravity = requestedGravity
	}
	s.workflow.ApplyStatus(inc, status)
	return nil
}

// ValidatedReason marks the history entry written by Validate.
const ValidatedReason = "validated"

// Validate releases a pending grave or tres_grave incident.
func (s *Service) Validate(ctx context.Context, actor domain.Actor, id string) (inc *domain.Incident, err error) {
	defer func() { recordMutation("validate", err) }()

	reason := ValidatedReason
	_, next, err := s.mutate(ctx, actor, id, mutation{
		action:  authz.ActionValidate,
		history: domain.HistoryActionUpdated,
		reason:  &reason,
		apply: func(inc *domain.Incident) error {
			return s.workflow.Validate(inc, actor.ID)
		},
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, next, domain.EventKindValidation)
	return next, nil
}

// Close moves an incident to cloture.
func (s *Service) Close(ctx context.Context, actor domain.Actor, id string, reason *string) (inc *domain.Incident, err error) {
	defer func() { recordMutation("close", err) }()

	_, next, err := s.mutate(ctx, actor, id, mutation{
		action:  authz.ActionClose,
		history: domain.HistoryActionClosed,
		reason:  reason,
		apply: func(inc *domain.Incident) error {
			if err := s.workflow.Close(inc); err != nil {
				if errors.Is(err, workflow.ErrBypass) {
					bypassRejections.Inc()
				}
				return err
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, next, domain.EventKindCloture)
	return next, nil
}

// Archive archives an incident.
func (s *Service) Archive(ctx context.Context, actor domain.Actor, id string) (inc *domain.Incident, err error) {
	defer func() { recordMutation("archive", err) }()

	_, next, err := s.mutate(ctx, actor, id, mutation{
		action:  authz.ActionArchive,
		history: domain.HistoryActionArchived,
		apply: func(inc *domain.Incident) error {
			s.workflow.Archive(inc, actor.ID)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, next, domain.EventKindArchive)
	return next, nil
}

// Unarchive brings an archived incident back to cloture.
func (s *Service) Unarchive(ctx context.Context, actor domain.Actor, id string) (inc *domain.Incident, err error) {
	defer func() { recordMutation("unarchive", err) }()

	_, next, err := s.mutate(ctx, actor, id, mutation{
		action:  authz.ActionUnarchive,
		history: domain.HistoryActionRestoredArchive,
		apply:   s.workflow.Unarchive,
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, next, domain.EventKindUnarchive)
	return next, nil
}

// Trash soft-deletes an incident.
func (s *Service) Trash(ctx context.Context, actor domain.Actor, id string, reason *string) (inc *domain.Incident, err error) {
	defer func() { recordMutation("trash", err) }()

	_, next, err := s.mutate(ctx, actor, id, mutation{
		action:  authz.ActionTrash,
		history: domain.HistoryActionTrashed,
		reason:  reason,
		apply: func(inc *domain.Incident) error {
			now := s.now().UTC()
			inc.DeletedAt = &now
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, next, domain.EventKindTrashed)
	return next, nil
}

// Restore brings an incident back from trash. The internal state change is
// not recorded as an update; a single restoredTrash entry is written instead.
func (s *Service) Restore(ctx context.Context, actor domain.Actor, id string) (inc *domain.Incident, err error) {
	defer func() { recordMutation("restore", err) }()

	if err := s.authorize(actor, authz.ActionRestore); err != nil {
		return nil, err
	}

	next, err := s.restoreLocked(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, next, domain.EventKindRestored)
	return next, nil
}

func (s *Service) restoreLocked(ctx context.Context, actor domain.Actor, id string) (*domain.Incident, error) {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock incident: %w", err)
	}
	defer unlock()

	token := s.recorder.BeginRestore(id)

	prev, next, err := s.mutateLocked(ctx, actor, id, mutation{
		history:      domain.HistoryActionUpdated,
		allowTrashed: true,
		apply: func(inc *domain.Incident) error {
			if !inc.IsTrashed() {
				return ErrNotTrashed
			}
			inc.DeletedAt = nil
			return nil
		},
	})
	if err != nil {
		s.recorder.AbortRestore(token)
		return nil, err
	}

	if _, err := s.recorder.CompleteRestore(ctx, token, audit.RecordInput{
		Incident: next,
		Previous: prev,
		ActorID:  actor.ID,
	}); err != nil {
		ctxlog.FromContext(ctx).Error("failed to complete restore history",
			"incident_id", id,
			"error", err,
		)
	}
	return next, nil
}

// ForceDelete permanently removes an incident and its history.
// Recipients are resolved before the row disappears.
func (s *Service) ForceDelete(ctx context.Context, actor domain.Actor, id string) (err error) {
	defer func() { recordMutation("force_delete", err) }()

	if err := s.authorize(actor, authz.ActionForceDelete); err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("lock incident: %w", err)
	}
	defer unlock()

	inc, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get incident: %w", err)
	}

	recipients := s.resolveRecipients(ctx, inc, domain.EventKindForceDeleted)

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}

	ctxlog.FromContext(ctx).Info("incident deleted permanently",
		"incident_id", id,
		"actor_id", actor.ID,
	)

	s.dispatch(ctx, inc, domain.EventKindForceDeleted, recipients)
	return nil
}

// ApplyTemplate applies an explicitly chosen template to an incident.
func (s *Service) ApplyTemplate(ctx context.Context, actor domain.Actor, id, templateID string) (inc *domain.Incident, err error) {
	defer func() { recordMutation("apply_template", err) }()

	_, next, err := s.mutate(ctx, actor, id, mutation{
		action:  authz.ActionApplyTemplate,
		history: domain.HistoryActionUpdated,
		apply: func(inc *domain.Incident) error {
			if _, err := s.templates.Apply(ctx, inc, templateID); err != nil {
				return fmt.Errorf("apply template: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Get retrieves an incident by ID, trashed or not.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	inc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// ListHistory returns the history of an incident, newest first.
func (s *Service) ListHistory(ctx context.Context, actor domain.Actor, id string) ([]domain.HistoryEntry, error) {
	if err := s.authorize(actor, authz.ActionReadHistory); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.recorder.ListHistory(ctx, id)
}

type mutation struct {
	action       authz.Action
	history      domain.HistoryAction
	reason       *string
	allowTrashed bool
	apply        func(inc *domain.Incident) error
}

// mutate runs one locked read-decide-write-record cycle and returns the
// states before and after the mutation.
func (s *Service) mutate(ctx context.Context, actor domain.Actor, id string, m mutation) (*domain.Incident, *domain.Incident, error) {
	if err := s.authorize(actor, m.action); err != nil {
		return nil, nil, err
	}

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("lock incident: %w", err)
	}
	defer unlock()

	return s.mutateLocked(ctx, actor, id, m)
}

// mutateLocked is mutate without authorization and locking.
func (s *Service) mutateLocked(ctx context.Context, actor domain.Actor, id string, m mutation) (*domain.Incident, *domain.Incident, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get incident: %w", err)
	}
	if current.IsTrashed() && !m.allowTrashed {
		return nil, nil, ErrAlreadyTrashed
	}

	next := current.Clone()
	if err := m.apply(next); err != nil {
		return nil, nil, err
	}
	next.OpenedAt = current.OpenedAt

	if err := s.repo.Update(ctx, next); err != nil {
		return nil, nil, fmt.Errorf("update incident: %w", err)
	}

	action := m.history
	if action == domain.HistoryActionUpdated &&
		next.Status == domain.IncidentStatusCloture &&
		current.Status != domain.IncidentStatusCloture {
		action = domain.HistoryActionClosed
	}

	s.recorder.Record(ctx, audit.RecordInput{
		Action:   action,
		Incident: next,
		Previous: current,
		ActorID:  actor.ID,
		Reason:   m.reason,
	})

	return current, next, nil
}

func (s *Service) authorize(actor domain.Actor, action authz.Action) error {
	if s.authorizer == nil {
		return nil
	}
	return s.authorizer.Authorize(actor.Role, action)
}

func (s *Service) resolveEmail(ctx context.Context, userID string) string {
	if s.users == nil || userID == "" {
		return ""
	}
	email, err := s.users.ResolveEmail(ctx, userID)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("failed to resolve user email",
			"user_id", userID,
			"error", err,
		)
		return ""
	}
	return email
}

func (s *Service) notify(ctx context.Context, inc *domain.Incident, kind domain.EventKind) {
	s.dispatch(ctx, inc, kind, s.resolveRecipients(ctx, inc, kind))
}

func (s *Service) resolveRecipients(ctx context.Context, inc *domain.Incident, kind domain.EventKind) []string {
	recipients, err := s.recipients.Recipients(ctx, inc, kind)
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to resolve recipients",
			"incident_id", inc.ID,
			"event", kind,
			"error", err,
		)
		return nil
	}
	return recipients
}

func (s *Service) dispatch(ctx context.Context, inc *domain.Incident, kind domain.EventKind, recipients []string) {
	if s.notifier == nil || len(recipients) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, inc, kind, recipients); err != nil {
		ctxlog.FromContext(ctx).Error("notification failed",
			"incident_id", inc.ID,
			"event", kind,
			"recipients", len(recipients),
			"error", err,
		)
	}
}

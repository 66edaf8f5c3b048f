package domain

import "time"

// Gravity represents the severity of an incident.
type Gravity string

// Gravity levels, lowest first.
const (
	GravityFaible    Gravity = "faible"
	GravityMoyen     Gravity = "moyen"
	GravityGrave     Gravity = "grave"
	GravityTresGrave Gravity = "tres_grave"
)

// IsValid checks if the gravity is valid.
func (g Gravity) IsValid() bool {
	switch g {
	case GravityFaible, GravityMoyen, GravityGrave, GravityTresGrave:
		return true
	}
	return false
}

// RequiresValidation reports whether incidents of this gravity are held
// pending an explicit validation.
func (g Gravity) RequiresValidation() bool {
	return g == GravityGrave || g == GravityTresGrave
}

// IncidentStatus represents the lifecycle status of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusEnAttente IncidentStatus = "en_attente"
	IncidentStatusEnCours   IncidentStatus = "en_cours"
	IncidentStatusCloture   IncidentStatus = "cloture"
	IncidentStatusArchive   IncidentStatus = "archive"
)

// IsValid checks if the status is valid.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusEnAttente, IncidentStatusEnCours,
		IncidentStatusCloture, IncidentStatusArchive:
		return true
	}
	return false
}

// ActionPriority is the priority of a pending action.
type ActionPriority string

// Action priorities.
const (
	ActionPriorityHigh   ActionPriority = "high"
	ActionPriorityNormal ActionPriority = "normal"
)

// ActionState is the progress state of a pending action.
type ActionState string

// Action states.
const (
	ActionStateTodo ActionState = "todo"
	ActionStateDone ActionState = "done"
)

// Action is an item of the incident's "actions to carry out" checklist.
type Action struct {
	Text     string         `json:"text"`
	Priority ActionPriority `json:"priority"`
	State    ActionState    `json:"state"`
}

// Incident represents a tracked security or operational incident.
//
// OpenedAt is set once at creation and never written again.
type Incident struct {
	ID                     string         `json:"id"`
	Object                 string         `json:"object"`
	Domains                []string       `json:"domains"`
	Gravity                Gravity        `json:"gravity"`
	Status                 IncidentStatus `json:"status"`
	OpenedAt               time.Time      `json:"opened_at"`
	ClosedAt               *time.Time     `json:"closed_at"`
	SitesImpacted          []string       `json:"sites_impacted"`
	ManualEmails           []string       `json:"manual_emails"`
	AutoNotifiedEmails     []string       `json:"auto_notified_emails"`
	TemplateExcludedEmails []string       `json:"template_excluded_emails"`
	TemplateID             *string        `json:"template_id"`
	TemplateScore          *float64       `json:"template_score"`
	Actions                []Action       `json:"actions"`
	ValidatedAt            *time.Time     `json:"validated_at"`
	ValidatedBy            *string        `json:"validated_by"`
	ArchivedAt             *time.Time     `json:"archived_at"`
	ArchivedBy             *string        `json:"archived_by"`
	CreatorID              string         `json:"creator_id"`
	AssigneeID             *string        `json:"assignee_id"`
	CreatorEmail           string         `json:"creator_email"`
	AssigneeEmail          string         `json:"assignee_email"`
	DeletedAt              *time.Time     `json:"deleted_at"`
	Version                int            `json:"version"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// IsTrashed returns true if the incident is soft-deleted.
func (i *Incident) IsTrashed() bool {
	return i.DeletedAt != nil
}

// IsPendingValidation returns true if the incident is held in en_attente.
func (i *Incident) IsPendingValidation() bool {
	return i.Status == IncidentStatusEnAttente
}

// Clone returns a deep copy of the incident.
func (i *Incident) Clone() *Incident {
	c := *i
	c.Domains = cloneStrings(i.Domains)
	c.SitesImpacted = cloneStrings(i.SitesImpacted)
	c.ManualEmails = cloneStrings(i.ManualEmails)
	c.AutoNotifiedEmails = cloneStrings(i.AutoNotifiedEmails)
	c.TemplateExcludedEmails = cloneStrings(i.TemplateExcludedEmails)
	if i.Actions != nil {
		c.Actions = append([]Action(nil), i.Actions...)
	}
	c.ClosedAt = cloneTime(i.ClosedAt)
	c.ValidatedAt = cloneTime(i.ValidatedAt)
	c.ArchivedAt = cloneTime(i.ArchivedAt)
	c.DeletedAt = cloneTime(i.DeletedAt)
	c.TemplateID = cloneString(i.TemplateID)
	c.ValidatedBy = cloneString(i.ValidatedBy)
	c.ArchivedBy = cloneString(i.ArchivedBy)
	c.AssigneeID = cloneString(i.AssigneeID)
	if i.TemplateScore != nil {
		v := *i.TemplateScore
		c.TemplateScore = &v
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Package workflow implements the gravity-gated incident validation lifecycle.
package workflow

import (
	"fmt"
	"time"

	"github.com/bissquit/incident-relay/internal/domain"
)

// Workflow decides legal status transitions. It holds no incident state.
type Workflow struct {
	now func() time.Time
}

// New creates a new workflow.
func New() *Workflow {
	return &Workflow{now: time.Now}
}

// NewWithClock creates a workflow using the given clock.
func NewWithClock(now func() time.Time) *Workflow {
	return &Workflow{now: now}
}

// ProposeCreate returns the initial status for a new incident of the given gravity.
func (w *Workflow) ProposeCreate(gravity domain.Gravity) domain.IncidentStatus {
	if gravity.RequiresValidation() {
		return domain.IncidentStatusEnAttente
	}
	return domain.IncidentStatusEnCours
}

// ProposeUpdate returns the status an incident ends up in after an edit.
// An empty requestedStatus keeps the current status, an empty requestedGravity
// keeps the current gravity.
//
// A pending incident cannot leave en_attente through an edit unless the
// requested gravity no longer requires validation.
func (w *Workflow) ProposeUpdate(current *domain.Incident, requestedStatus domain.IncidentStatus, requestedGravity domain.Gravity) (domain.IncidentStatus, error) {
	if requestedStatus == "" {
		requestedStatus = current.Status
	}
	if requestedGravity == "" {
		requestedGravity = current.Gravity
	}

	if !requestedStatus.IsValid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, requestedStatus)
	}
	if !requestedGravity.IsValid() {
		return "", fmt.Errorf("%w: unknown gravity %q", ErrIllegalTransition, requestedGravity)
	}

	if current.Status == domain.IncidentStatusEnAttente {
		if !requestedGravity.RequiresValidation() {
			// Downgrade releases the hold.
			if requestedStatus == domain.IncidentStatusEnAttente {
				return domain.IncidentStatusEnCours, nil
			}
			return w.checkTarget(current, requestedStatus)
		}
		if requestedStatus != domain.IncidentStatusEnAttente {
			return "", &BypassError{From: current.Status, To: requestedStatus}
		}
		return domain.IncidentStatusEnAttente, nil
	}

	// Raising an incident that was never validated puts it back on hold.
	if current.Status == domain.IncidentStatusEnCours &&
		requestedGravity.RequiresValidation() &&
		!current.Gravity.RequiresValidation() &&
		current.ValidatedAt == nil &&
		requestedStatus == domain.IncidentStatusEnCours {
		return domain.IncidentStatusEnAttente, nil
	}

	if requestedStatus == domain.IncidentStatusEnAttente && current.Status != domain.IncidentStatusEnAttente {
		if requestedGravity.RequiresValidation() && current.ValidatedAt == nil {
			return domain.IncidentStatusEnAttente, nil
		}
		return "", fmt.Errorf("%w: %s to %s", ErrIllegalTransition, current.Status, requestedStatus)
	}

	return w.checkTarget(current, requestedStatus)
}

// checkTarget rejects transitions that must go through a dedicated operation.
func (w *Workflow) checkTarget(current *domain.Incident, to domain.IncidentStatus) (domain.IncidentStatus, error) {
	if to == current.Status {
		return to, nil
	}
	if to == domain.IncidentStatusArchive || current.Status == domain.IncidentStatusArchive {
		return "", fmt.Errorf("%w: %s to %s, use archive or unarchive", ErrIllegalTransition, current.Status, to)
	}
	return to, nil
}

// ApplyStatus sets the status and stamps the closing timestamp.
func (w *Workflow) ApplyStatus(inc *domain.Incident, status domain.IncidentStatus) {
	if status == inc.Status {
		return
	}
	switch status {
	case domain.IncidentStatusCloture:
		if inc.ClosedAt == nil {
			now := w.now()
			inc.ClosedAt = &now
		}
	case domain.IncidentStatusEnCours, domain.IncidentStatusEnAttente:
		inc.ClosedAt = nil
	}
	inc.Status = status
}

// Validate releases a pending high-severity incident.
// The incident is left untouched on failure.
func (w *Workflow) Validate(inc *domain.Incident, actorID string) error {
	if !inc.Gravity.RequiresValidation() {
		return &InvalidGravityError{Gravity: inc.Gravity}
	}
	if inc.Status != domain.IncidentStatusEnAttente {
		return fmt.Errorf("%w: status is %s", ErrNotPendingValidation, inc.Status)
	}

	now := w.now()
	inc.Status = domain.IncidentStatusEnCours
	inc.ValidatedAt = &now
	inc.ValidatedBy = &actorID
	return nil
}

// Close moves an incident to cloture.
func (w *Workflow) Close(inc *domain.Incident) error {
	switch inc.Status {
	case domain.IncidentStatusEnAttente:
		return &BypassError{From: inc.Status, To: domain.IncidentStatusCloture}
	case domain.IncidentStatusArchive:
		return fmt.Errorf("%w: %s to %s, use unarchive", ErrIllegalTransition, inc.Status, domain.IncidentStatusCloture)
	}
	w.ApplyStatus(inc, domain.IncidentStatusCloture)
	return nil
}

// Archive archives an incident from any status and stamps the archive metadata.
func (w *Workflow) Archive(inc *domain.Incident, actorID string) {
	now := w.now()
	inc.Status = domain.IncidentStatusArchive
	inc.ArchivedAt = &now
	inc.ArchivedBy = &actorID
}

// Unarchive brings an archived incident back to cloture.
func (w *Workflow) Unarchive(inc *domain.Incident) error {
	if inc.Status != domain.IncidentStatusArchive {
		return fmt.Errorf("%w: incident is not archived", ErrIllegalTransition)
	}
	inc.Status = domain.IncidentStatusCloture
	inc.ArchivedAt = nil
	inc.ArchivedBy = nil
	if inc.ClosedAt == nil {
		now := w.now()
		inc.ClosedAt = &now
	}
	return nil
}

// IsDowngrade reports whether a gravity change leaves the validation range.
func IsDowngrade(from, to domain.Gravity) bool {
	return from.RequiresValidation() && to.IsValid() && !to.RequiresValidation()
}

package workflow

import (
	"errors"
	"fmt"

	"github.com/bissquit/incident-relay/internal/domain"
)

// Workflow errors.
var (
	ErrBypass                      = errors.New("incident is pending validation")
	ErrInvalidGravityForValidation = errors.New("only grave or tres_grave incidents can be validated")
	ErrNotPendingValidation        = errors.New("incident is not pending validation")
	ErrIllegalTransition           = errors.New("illegal status transition")
)

// BypassError is returned when a status change would move a pending
// incident forward without validation.
type BypassError struct {
	From domain.IncidentStatus
	To   domain.IncidentStatus
}

func (e *BypassError) Error() string {
	return fmt.Sprintf("cannot move incident from %s to %s: %s, validate it or lower its gravity", e.From, e.To, ErrBypass)
}

func (e *BypassError) Unwrap() error {
	return ErrBypass
}

// InvalidGravityError is returned by Validate for low-severity incidents.
type InvalidGravityError struct {
	Gravity domain.Gravity
}

func (e *InvalidGravityError) Error() string {
	return fmt.Sprintf("gravity %q does not require validation: %s", e.Gravity, ErrInvalidGravityForValidation)
}

func (e *InvalidGravityError) Unwrap() error {
	return ErrInvalidGravityForValidation
}

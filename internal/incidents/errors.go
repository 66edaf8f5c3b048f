package incidents

import "errors"

// Incident errors.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrConflict         = errors.New("incident was modified concurrently")
	ErrNotTrashed       = errors.New("incident is not in trash")
	ErrAlreadyTrashed   = errors.New("incident is in trash")
	ErrInvalidInput     = errors.New("invalid incident input")
)

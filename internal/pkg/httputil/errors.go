package httputil

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/bissquit/incident-relay/internal/pkg/ctxlog"
)

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// HandleError writes the response of the first mapping matching err.
// Unmapped errors are logged and hidden behind a 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	status, msg := http.StatusInternalServerError, "internal error"
	if i := slices.IndexFunc(mappings, func(m ErrorMapping) bool { return errors.Is(err, m.Error) }); i >= 0 {
		status, msg = mappings[i].Status, mappings[i].Message
		if msg == "" {
			msg = err.Error()
		}
	} else {
		ctxlog.FromContext(ctx).Error("internal error", "error", err)
	}
	Error(w, status, msg)
}

package incidents

import (
	"net/http"

	"github.com/bissquit/incident-relay/internal/authz"
	"github.com/bissquit/incident-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: authz.ErrForbidden, Status: http.StatusForbidden, Message: "insufficient permissions"},
	{Error: httputil.ErrNotAuthenticated, Status: http.StatusUnauthorized, Message: "unauthorized"},
}

// Handler exposes read-only incident endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers incident routes. They expect an actor in the request context.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents/{id}", func(r chi.Router) {
		r.Get("/", h.GetIncident)
		r.Get("/history", h.ListHistory)
	})
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := incidentID(w, r)
	if !ok {
		return
	}

	inc, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// ListHistory handles GET /incidents/{id}/history.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := incidentID(w, r)
	if !ok {
		return
	}

	actor, err := httputil.ActorFromContext(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	entries, err := h.service.ListHistory(r.Context(), actor, id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

func incidentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid incident id")
		return "", false
	}
	return id, true
}

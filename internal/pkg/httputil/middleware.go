package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/pkg/ctxlog"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

// CORSMiddleware handles preflight requests and adds CORS headers for allowed origins.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (originsSet[origin] || originsSet["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserIDHeader)
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const actorKey contextKey = "actor"

// ActorResolver builds the acting user from an identifier.
type ActorResolver interface {
	Actor(ctx context.Context, userID string) (domain.Actor, error)
}

// ErrNotAuthenticated is returned by ActorFromContext when no actor was attached.
var ErrNotAuthenticated = errors.New("not authenticated")

// ActorMiddleware resolves the X-User-ID header into a domain.Actor stored in the context.
// Resolver errors are mapped with mappings.
func ActorMiddleware(resolver ActorResolver, mappings []ErrorMapping) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(UserIDHeader)
			if userID == "" {
				Error(w, http.StatusUnauthorized, "missing "+UserIDHeader+" header")
				return
			}

			actor, err := resolver.Actor(r.Context(), userID)
			if err != nil {
				HandleError(r.Context(), w, err, mappings)
				return
			}

			ctx := ctxlog.With(r.Context(), "user_id", actor.ID, "role", actor.Role)
			next.ServeHTTP(w, r.WithContext(WithActor(ctx, actor)))
		})
	}
}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the actor attached by ActorMiddleware.
func ActorFromContext(ctx context.Context) (domain.Actor, error) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	if !ok {
		return domain.Actor{}, ErrNotAuthenticated
	}
	return actor, nil
}

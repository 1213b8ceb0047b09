package http

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/example/roombook/internal/application"
)

// RequireActor resolves the acting principal from the X-Actor-ID and
// X-Actor-Role headers set by the authenticating gateway. Requests without
// an actor identity are refused; /healthz is exempt so probes need no
// headers.
func RequireActor(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.Header.Get("X-Actor-ID")
			if actorID == "" {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingActor)
				return
			}

			role, ok := parseRole(r.Header.Get("X-Actor-Role"))
			if !ok {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errUnknownRole)
				return
			}

			principal := application.Principal{UserID: actorID, Role: role}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func parseRole(value string) (application.Role, bool) {
	switch application.Role(value) {
	case "":
		return application.RoleMember, true
	case application.RoleMember:
		return application.RoleMember, true
	case application.RoleFacilityManager:
		return application.RoleFacilityManager, true
	case application.RoleAdmin:
		return application.RoleAdmin, true
	default:
		return "", false
	}
}

// RequestLogger attaches a per-request logger to the context and records
// request start and completion.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			start := time.Now()
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "duration", time.Since(start))
		})
	}
}

package permissions

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/pkg/observability"
)

// PrincipalResolver extracts the authenticated principal from a request.
// The platform's auth layer provides the implementation; the engine never
// inspects credentials itself.
type PrincipalResolver func(r *http.Request) (Principal, bool)

// ResourceResolver extracts the protected resource from a request, typically
// from route variables.
type ResourceResolver func(r *http.Request) (ResourceRef, bool)

// Middleware gates route handlers on effective permission levels.
type Middleware struct {
	service   Service
	principal PrincipalResolver
}

// NewMiddleware creates permission middleware over the query service.
func NewMiddleware(service Service, principal PrincipalResolver) *Middleware {
	return &Middleware{service: service, principal: principal}
}

// RequireLevel requires the request's principal to hold at least the given
// level on the resolved resource. Resolution failures deny: a check that
// cannot be answered is never an allow.
func (m *Middleware) RequireLevel(level PermissionLevel, resource ResourceResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := m.principal(r)
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			ref, ok := resource(r)
			if !ok {
				http.Error(w, "resource required", http.StatusBadRequest)
				return
			}

			ctx := observability.WithPrincipal(r.Context(), p.String())
			effective, err := m.service.EffectivePermission(ctx, p, ref)
			if err != nil {
				observability.FromContext(ctx).WithError(err).Error("permission check failed")
				http.Error(w, "unable to determine access", http.StatusInternalServerError)
				return
			}
			if !effective.AtLeast(level) {
				http.Error(w, "insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestID assigns each request a UUID, exposed on the response and the
// request context for log correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}

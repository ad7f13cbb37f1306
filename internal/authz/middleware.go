package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/educanvas/educanvas/internal/platform/httpx"
)

// Middleware guards routes with permission checks. The target tenant is
// taken from the tenantID URL parameter when present, falling back to the
// principal's home tenant.
type Middleware struct {
	Engine *Engine
	Logger *slog.Logger

	// RevealDetail includes the required role and missing permissions in
	// 403 bodies. Off by default so denials leak nothing about the catalog.
	RevealDetail bool
}

// RequirePermission denies with 403 unless the principal holds the action.
func (m *Middleware) RequirePermission(action Action) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request, req Request) Result {
		return m.Engine.Check(r.Context(), req, action)
	})
}

// RequireAny denies unless at least one of the actions is granted.
func (m *Middleware) RequireAny(actions ...Action) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request, req Request) Result {
		return m.Engine.CheckAny(r.Context(), req, actions)
	})
}

// RequireAll denies unless every action is granted.
func (m *Middleware) RequireAll(actions ...Action) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request, req Request) Result {
		return m.Engine.CheckAll(r.Context(), req, actions)
	})
}

// RequireRole denies unless the principal's role is at least minRole. The
// principal is resolved first so header-less deployments still work.
func (m *Middleware) RequireRole(minRole Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			resolved, err := m.Engine.ResolvePrincipal(r.Context(), *p)
			if err != nil {
				m.logger().Warn("principal resolution failed",
					slog.String("principal", p.ID),
					slog.Any("error", err))
				httpx.RespondError(w, httpx.ErrUnavailable)
				return
			}
			if resolved.Status != StatusActive || !m.Engine.HasRoleOrHigher(&resolved, minRole) {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), &resolved)))
		})
	}
}

func (m *Middleware) require(check func(*http.Request, Request) Result) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			req := Request{Principal: p, TargetTenantID: chi.URLParam(r, "tenantID")}
			res := check(r, req)
			if res.Granted {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, res)
		})
	}
}

func (m *Middleware) deny(w http.ResponseWriter, res Result) {
	if res.Reason == ReasonServiceUnavailable {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	if !m.RevealDetail {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	httpx.JSON(w, http.StatusForbidden, res)
}

func (m *Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

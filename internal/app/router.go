package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/educanvas/educanvas/internal/authz"
	"github.com/educanvas/educanvas/internal/membership"
	"github.com/educanvas/educanvas/internal/observability"
	"github.com/educanvas/educanvas/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Engine            *authz.Engine
	AuthzHandler      *authz.Handler
	MembershipHandler *membership.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with EduCanvas defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	guard := &authz.Middleware{
		Engine:       params.Engine,
		Logger:       params.Logger,
		RevealDetail: params.Config != nil && params.Config.AuthzRevealDenialDetail,
	}

	r.Route("/authz", func(r chi.Router) {
		r.Use(authz.PrincipalFromHeaders)
		params.AuthzHandler.MountRoutes(r)
	})

	// The tenant segment is matched here so the permission guard can scope
	// its check to the target tenant.
	r.Route("/admin/tenants/{tenantID}", func(r chi.Router) {
		r.Use(authz.PrincipalFromHeaders)
		r.Use(guard.RequirePermission("user:manage"))
		params.MembershipHandler.MountRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(authz.PrincipalFromHeaders)
			r.Use(guard.RequireRole(authz.RoleSystemAdmin))
			params.JobHandler.MountRoutes(r)
		})
	}

	return r
}

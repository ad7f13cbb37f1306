package authz

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/educanvas/educanvas/internal/platform/httpx"
)

// Handler wires HTTP endpoints for authorization checks and introspection.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler constructs the authorization HTTP handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		engine:    engine,
		validator: validator.New(),
	}
}

// MountRoutes registers authorization routes on the provided router. Cache
// administration is gated behind system administration.
func (h *Handler) MountRoutes(r chi.Router) {
	mw := &Middleware{Engine: h.engine, Logger: h.logger}
	r.Post("/check", h.handleCheck)
	r.Get("/permissions/me", h.handlePermissionSummary)
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireRole(RoleSystemAdmin))
		r.Get("/cache/stats", h.handleCacheStats)
		r.Post("/cache/invalidate", h.handleCacheInvalidate)
	})
}

type checkRequest struct {
	Action         string   `json:"action" validate:"omitempty,min=3"`
	AnyOf          []string `json:"anyOf" validate:"omitempty,min=1,dive,min=3"`
	AllOf          []string `json:"allOf" validate:"omitempty,min=1,dive,min=3"`
	TargetTenantID string   `json:"targetTenantId" validate:"omitempty,uuid"`
	ResourceID     string   `json:"resourceId" validate:"omitempty,max=128"`
}

func (req checkRequest) modes() int {
	n := 0
	if req.Action != "" {
		n++
	}
	if len(req.AnyOf) > 0 {
		n++
	}
	if len(req.AllOf) > 0 {
		n++
	}
	return n
}

// handleCheck evaluates a decision for the calling principal. The body names
// exactly one of action, anyOf or allOf.
func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var body checkRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, validationSummary(err)))
		return
	}
	if body.modes() != 1 {
		httpx.RespondError(w, fmt.Errorf("%w: exactly one of action, anyOf or allOf is required", httpx.ErrValidation))
		return
	}

	req := Request{
		Principal:      p,
		TargetTenantID: body.TargetTenantID,
		ResourceID:     body.ResourceID,
	}

	var res Result
	switch {
	case body.Action != "":
		res = h.engine.Check(r.Context(), req, Action(body.Action))
	case len(body.AnyOf) > 0:
		res = h.engine.CheckAny(r.Context(), req, toActions(body.AnyOf))
	default:
		res = h.engine.CheckAll(r.Context(), req, toActions(body.AllOf))
	}

	httpx.JSON(w, http.StatusOK, res)
}

// handlePermissionSummary reports the caller's effective permission surface.
func (h *Handler) handlePermissionSummary(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	resolved, err := h.engine.ResolvePrincipal(r.Context(), *p)
	if err != nil {
		h.logger.Warn("permission summary resolution failed",
			slog.String("principal", p.ID),
			slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	if resolved.Status != StatusActive {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	httpx.JSON(w, http.StatusOK, h.engine.Summarize(resolved))
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.CacheStats(r.Context())
	if err != nil {
		h.logger.Error("cache stats failed", slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

type invalidateRequest struct {
	PrincipalID string `json:"principalId" validate:"omitempty,uuid"`
}

// handleCacheInvalidate drops cached decisions for one principal, or the
// whole cache when no principal is named.
func (h *Handler) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var body invalidateRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, validationSummary(err)))
		return
	}
	if err := h.engine.Invalidate(r.Context(), body.PrincipalID); err != nil {
		h.logger.Error("cache invalidation failed",
			slog.String("principal", body.PrincipalID),
			slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toActions(names []string) []Action {
	actions := make([]Action, len(names))
	for i, name := range names {
		actions[i] = Action(name)
	}
	return actions
}

func validationSummary(err error) string {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return "invalid request"
	}
	return fmt.Sprintf("field %s failed %s", fieldErrs[0].Field(), fieldErrs[0].Tag())
}

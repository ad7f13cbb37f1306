package membership

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/educanvas/educanvas/internal/platform/httpx"
)

// Handler wires HTTP endpoints for membership administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers membership routes on the provided router. The caller
// mounts them under a tenant-scoped path behind a user management permission
// guard.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/members", h.handleList)
	r.Get("/members/{userID}", h.handleGet)
	r.Put("/members/{userID}", h.handleAssign)
	r.Patch("/members/{userID}/role", h.handleChangeRole)
	r.Patch("/members/{userID}/status", h.handleChangeStatus)
	r.Delete("/members/{userID}", h.handleRemove)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	memberships, err := h.service.ListByTenant(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.logger.Error("list memberships failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, memberships)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Describe(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

type assignRequest struct {
	Role   string `json:"role" validate:"required"`
	Status string `json:"status" validate:"required"`
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body assignRequest
	if err := h.decode(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.Assign(r.Context(), Membership{
		UserID:   chi.URLParam(r, "userID"),
		TenantID: chi.URLParam(r, "tenantID"),
		Role:     body.Role,
		Status:   body.Status,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var body changeRoleRequest
	if err := h.decode(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	err := h.service.ChangeRole(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "tenantID"), body.Role)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changeStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var body changeStatusRequest
	if err := h.decode(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	err := h.service.ChangeStatus(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "tenantID"), body.Status)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	err := h.service.Remove(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return fmt.Errorf("%w: malformed body", httpx.ErrValidation)
	}
	if err := h.validator.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrInvalidInput):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		h.logger.Error("membership request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

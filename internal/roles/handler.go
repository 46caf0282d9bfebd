package roles

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vantage-admin/vantage/internal/platform/httpx"
	"github.com/vantage-admin/vantage/internal/shared"
)

// Handler exposes role administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers role routes. The router mounting these already
// applies the admin role gate.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.remove)
	r.Post("/{id}/duplicate", h.duplicate)
	r.Get("/{id}/users", h.users)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageFromRequest(r)
	req := ListRolesRequest{
		Search:  r.URL.Query().Get("search"),
		SortBy:  r.URL.Query().Get("sort_by"),
		SortDir: r.URL.Query().Get("sort_dir"),
		Page:    page,
		PerPage: perPage,
	}
	list, pagination, err := h.service.List(r.Context(), req)
	if err != nil {
		h.fail(w, r, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": list, "pagination": pagination})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	role, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role})
}

func (h *Handler) users(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	list, err := h.service.Users(r.Context(), id)
	if err != nil {
		h.fail(w, r, "role users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": list})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var in CreateRoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed role payload")
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.RespondError(w, shared.ErrValidationFailed(fieldErrors(err)))
		return
	}
	role, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	h.flash(r, "success", "Role created")
	httpx.JSON(w, http.StatusCreated, map[string]any{"role": role})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var in UpdateRoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed role payload")
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.RespondError(w, shared.ErrValidationFailed(fieldErrors(err)))
		return
	}
	role, err := h.service.Update(r.Context(), actor, id, in)
	if err != nil {
		h.fail(w, r, "update role", err)
		return
	}
	h.flash(r, "success", "Role updated")
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, r, "delete role", err)
		return
	}
	h.flash(r, "success", "Role deleted")
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) duplicate(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	role, err := h.service.Duplicate(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, "duplicate role", err)
		return
	}
	h.flash(r, "success", "Role duplicated")
	httpx.JSON(w, http.StatusCreated, map[string]any{"role": role})
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if adminErr, ok := shared.AsAdminError(err); ok {
		h.logger.Warn(op,
			slog.String("path", r.URL.Path),
			slog.String("kind", string(adminErr.Kind)),
			slog.Any("context", adminErr.Context),
		)
	} else {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) flash(r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
}

func fieldErrors(err error) map[string]string {
	fields := make(map[string]string)
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
	}
	return fields
}

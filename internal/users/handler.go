package users

import (
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vantage-admin/vantage/internal/hierarchy"
	"github.com/vantage-admin/vantage/internal/platform/httpx"
	"github.com/vantage-admin/vantage/internal/shared"
	"github.com/vantage-admin/vantage/internal/storage"
)

const maxAvatarBytes = 2 << 20

var avatarExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}

// Handler exposes user administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	avatars   storage.AvatarStore
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, avatars storage.AvatarStore) *Handler {
	return &Handler{logger: logger, service: service, avatars: avatars, validator: validator.New()}
}

// MountRoutes registers user routes. The router mounting these already
// applies the admin role gate.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/stats", h.stats)
	r.Get("/export", h.export)
	r.Get("/search", h.quickSearch)
	r.Get("/suggestions", h.suggestions)
	r.Post("/bulk-action", h.bulkAction)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.archive)
	r.Post("/{id}/restore", h.restore)
	r.Post("/{id}/toggle-status", h.toggleStatus)
	r.Patch("/{id}/status", h.updateStatus)
}

func listRequestFromQuery(r *http.Request) ListUsersRequest {
	q := r.URL.Query()
	page, perPage := shared.PageFromRequest(r)
	req := ListUsersRequest{
		Search:  q.Get("search"),
		Role:    q.Get("role"),
		Status:  q.Get("status"),
		SortBy:  q.Get("sort_by"),
		SortDir: q.Get("sort_dir"),
		Page:    page,
		PerPage: perPage,
	}
	if from, err := time.Parse("2006-01-02", q.Get("created_from")); err == nil {
		req.CreatedFrom = &from
	}
	if to, err := time.Parse("2006-01-02", q.Get("created_to")); err == nil {
		end := to.Add(24*time.Hour - time.Nanosecond)
		req.CreatedTo = &end
	}
	return req
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	list, pagination, err := h.service.List(r.Context(), actor, listRequestFromQuery(r))
	if err != nil {
		h.fail(w, r, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": list, "pagination": pagination})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "user stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	user, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in CreateUserInput
	avatarRef, err := h.decodeUserPayload(r, &in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		h.discardAvatar(avatarRef)
		httpx.RespondError(w, shared.ErrValidationFailed(fieldErrors(err)))
		return
	}
	user, err := h.service.Create(r.Context(), actor, in, avatarRef)
	if err != nil {
		h.discardAvatar(avatarRef)
		h.fail(w, r, "create user", err)
		return
	}
	h.flash(r, "success", "User created")
	httpx.JSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var in UpdateUserInput
	avatarRef, err := h.decodeUserPayload(r, &in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var refPtr *string
	if avatarRef != "" {
		refPtr = &avatarRef
	}
	if err := h.validator.Struct(in); err != nil {
		h.discardAvatar(avatarRef)
		httpx.RespondError(w, shared.ErrValidationFailed(fieldErrors(err)))
		return
	}
	user, err := h.service.Update(r.Context(), actor, id, in, refPtr)
	if err != nil {
		h.discardAvatar(avatarRef)
		h.fail(w, r, "update user", err)
		return
	}
	h.flash(r, "success", "User updated")
	httpx.JSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.service.Archive(r.Context(), actor, id); err != nil {
		h.fail(w, r, "archive user", err)
		return
	}
	h.flash(r, "success", "User archived")
	httpx.JSON(w, http.StatusOK, map[string]any{"archived": true})
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.service.Restore(r.Context(), actor, id); err != nil {
		h.fail(w, r, "restore user", err)
		return
	}
	h.flash(r, "success", "User restored")
	httpx.JSON(w, http.StatusOK, map[string]any{"restored": true})
}

func (h *Handler) toggleStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	user, err := h.service.ToggleStatus(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, "toggle user status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed status payload")
		return
	}
	user, err := h.service.UpdateStatus(r.Context(), actor, id, body.Status)
	if err != nil {
		h.fail(w, r, "update user status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) bulkAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in BulkActionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed bulk payload")
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.RespondError(w, shared.ErrValidationFailed(fieldErrors(err)))
		return
	}
	result, err := h.service.BulkAction(r.Context(), actor, in)
	if err != nil {
		h.fail(w, r, "bulk action", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) quickSearch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	list, err := h.service.QuickSearch(r.Context(), actor, r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, "quick search", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": list})
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		field = "name"
	}
	values, err := h.service.Suggestions(r.Context(), field, r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, "suggestions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suggestions": values})
}

// decodeUserPayload reads either a JSON body or a multipart form with an
// optional avatar file. It returns the stored avatar reference, empty when
// no file was uploaded.
func (h *Handler) decodeUserPayload(r *http.Request, target any) (string, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAvatarBytes + 1<<20); err != nil {
			return "", shared.ErrValidationFailed(map[string]string{"body": "malformed multipart form"})
		}
		if payload := r.FormValue("payload"); payload != "" {
			if err := json.Unmarshal([]byte(payload), target); err != nil {
				return "", shared.ErrValidationFailed(map[string]string{"payload": "malformed JSON payload"})
			}
		} else {
			fillFromForm(r, target)
		}
		file, header, err := r.FormFile("avatar")
		if err != nil {
			if err == http.ErrMissingFile {
				return "", nil
			}
			return "", shared.ErrValidationFailed(map[string]string{"avatar": "unreadable avatar upload"})
		}
		defer file.Close()
		return h.storeAvatar(file, header)
	}
	if err := httpx.DecodeJSON(r, target); err != nil {
		return "", shared.ErrValidationFailed(map[string]string{"body": "malformed JSON body"})
	}
	return "", nil
}

func (h *Handler) storeAvatar(file multipart.File, header *multipart.FileHeader) (string, error) {
	if header.Size > maxAvatarBytes {
		return "", shared.ErrValidationFailed(map[string]string{"avatar": "must be 2MB or smaller"})
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !avatarExtensions[ext] {
		return "", shared.ErrValidationFailed(map[string]string{"avatar": "must be a jpeg, png or gif image"})
	}
	if h.avatars == nil {
		return "", nil
	}
	ref, err := h.avatars.Store(file, ext)
	if err != nil {
		return "", err
	}
	return ref, nil
}

func fillFromForm(r *http.Request, target any) {
	switch in := target.(type) {
	case *CreateUserInput:
		in.Name = r.FormValue("name")
		in.Email = r.FormValue("email")
		in.Password = r.FormValue("password")
		in.Phone = r.FormValue("phone")
		in.Address = r.FormValue("address")
		in.BirthDate = r.FormValue("birth_date")
		in.Status = r.FormValue("status")
		in.RoleIDs = formIDs(r, "role_ids")
	case *UpdateUserInput:
		in.Name = r.FormValue("name")
		in.Email = r.FormValue("email")
		in.Password = r.FormValue("password")
		in.Phone = r.FormValue("phone")
		in.Address = r.FormValue("address")
		in.BirthDate = r.FormValue("birth_date")
		in.Status = r.FormValue("status")
		if _, present := r.Form["role_ids"]; present {
			ids := formIDs(r, "role_ids")
			in.RoleIDs = &ids
		}
	}
}

func formIDs(r *http.Request, key string) []int64 {
	var ids []int64
	for _, raw := range r.Form[key] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if id, err := strconv.ParseInt(part, 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (hierarchy.Subject, bool) {
	subject, found := shared.ActorFromContext(r.Context())
	if !found {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return hierarchy.Subject{}, false
	}
	return subject, true
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return 0, false
	}
	return id, true
}

func (h *Handler) discardAvatar(ref string) {
	if ref == "" || h.avatars == nil {
		return
	}
	if err := h.avatars.Delete(ref); err != nil {
		h.logger.Warn("discard avatar", slog.String("ref", ref), slog.Any("error", err))
	}
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

package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vantage-admin/vantage/internal/hierarchy"
	"github.com/vantage-admin/vantage/internal/platform/httpx"
	"github.com/vantage-admin/vantage/internal/shared"
)

// ActorSource loads authorization snapshots and role level lookups.
type ActorSource interface {
	LoadActor(ctx context.Context, userID int64) (hierarchy.Subject, error)
	RoleLevels(ctx context.Context, names []string) (map[string]int, error)
}

// Middleware wires role-gate authorization for HTTP handlers.
type Middleware struct {
	Actors    ActorSource
	Logger    *slog.Logger
	LoginPath string
}

// RequireRole admits the request when the actor holds any of the named
// roles, holds the top role, or has an effective level at or above the
// lowest level among the named roles. With no names it only requires
// authentication. The resolved actor is stored in the request context.
func (m Middleware) RequireRole(names ...string) func(http.Handler) http.Handler {
	required := normalizeNames(names)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				userID := currentUserID(r)
				if userID == 0 {
					m.unauthenticated(w, r)
					return
				}
				loaded, err := m.Actors.LoadActor(r.Context(), userID)
				if err != nil {
					if errors.Is(err, shared.ErrNotFound) || errors.Is(err, ErrAccountInactive) {
						m.unauthenticated(w, r)
						return
					}
					m.logError(r, "rbac load actor", err)
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
					return
				}
				actor = loaded
				r = r.WithContext(shared.ContextWithActor(r.Context(), actor))
			}

			if len(required) == 0 || hierarchy.IsTopLevel(actor) || hierarchy.HasAnyRole(actor, required) {
				next.ServeHTTP(w, r)
				return
			}

			levels, err := m.Actors.RoleLevels(r.Context(), required)
			if err != nil {
				m.logError(r, "rbac role levels", err)
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if minLevel, ok := lowestLevel(levels); ok && hierarchy.EffectiveLevel(actor) >= minLevel {
				next.ServeHTTP(w, r)
				return
			}

			if m.Logger != nil {
				m.Logger.Warn("rbac denied",
					slog.String("path", r.URL.Path),
					slog.Int64("actor_id", actor.ID),
					slog.Int("effective_level", hierarchy.EffectiveLevel(actor)),
					slog.Any("required_roles", required),
				)
			}
			httpx.RespondError(w, shared.ErrPermissionDenied(
				"access route "+r.URL.Path,
				map[string]any{"required_roles": required},
			))
		})
	}
}

// RequireAuthenticated only resolves the actor and rejects anonymous
// requests.
func (m Middleware) RequireAuthenticated() func(http.Handler) http.Handler {
	return m.RequireRole()
}

func (m Middleware) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if httpx.WantsJSON(r) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	path := m.LoginPath
	if path == "" {
		path = "/auth/login"
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func (m Middleware) logError(r *http.Request, msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

func currentUserID(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	return sess.UserID()
}

func normalizeNames(names []string) []string {
	unique := make(map[string]struct{}, len(names))
	ordered := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		if n == "" {
			continue
		}
		if _, seen := unique[n]; seen {
			continue
		}
		unique[n] = struct{}{}
		ordered = append(ordered, n)
	}
	return ordered
}

func lowestLevel(levels map[string]int) (int, bool) {
	min := 0
	found := false
	for _, level := range levels {
		if !found || level < min {
			min = level
			found = true
		}
	}
	return min, found
}

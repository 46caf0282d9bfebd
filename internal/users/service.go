package users

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vantage-admin/vantage/internal/hierarchy"
	"github.com/vantage-admin/vantage/internal/platform/cache"
	"github.com/vantage-admin/vantage/internal/roles"
	"github.com/vantage-admin/vantage/internal/shared"
	"github.com/vantage-admin/vantage/internal/storage"
)

// RoleDirectory resolves role definitions during assignment validation.
// Satisfied by roles.Repository.
type RoleDirectory interface {
	GetByIDs(ctx context.Context, ids []int64) ([]roles.Role, error)
}

// Service orchestrates user administration workflows. Every operation takes
// the acting subject explicitly and consults the hierarchy before mutating
// state.
type Service struct {
	repo    Repository
	roles   RoleDirectory
	avatars storage.AvatarStore
	cache   *cache.Versioned
	audit   *shared.AuditLogger
	logger  *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, roleRepo RoleDirectory, avatars storage.AvatarStore, cache *cache.Versioned, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, roles: roleRepo, avatars: avatars, cache: cache, audit: audit, logger: logger}
}

func scopeFor(actor hierarchy.Subject) LevelScope {
	return LevelScope{Below: hierarchy.EffectiveLevel(actor), All: hierarchy.IsTopLevel(actor)}
}

// List returns users visible to the actor: targets with an effective level
// strictly below the actor's, everyone for top-level actors.
func (s *Service) List(ctx context.Context, actor hierarchy.Subject, req ListUsersRequest) ([]User, shared.Pagination, error) {
	list, total, err := s.repo.List(ctx, req, scopeFor(actor))
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = shared.DefaultPerPage
	}
	return list, shared.NewPagination(page, perPage, total), nil
}

// Get fetches a single user the actor may view. Self is the equal-level
// case: only top-level actors clear the strict comparison on their own
// record.
func (s *Service) Get(ctx context.Context, actor hierarchy.Subject, id int64) (*User, error) {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUserNotFound(id)
		}
		return nil, err
	}
	if !hierarchy.CanActOn(actor, target.Subject(), hierarchy.ActionView) {
		return nil, shared.ErrPermissionDenied("view user", map[string]any{"user_id": id})
	}
	return target, nil
}

// Create inserts a new user with optionally assigned roles. Either the
// whole operation succeeds or nothing is written.
func (s *Service) Create(ctx context.Context, actor hierarchy.Subject, in CreateUserInput, avatarRef string) (*User, error) {
	exists, err := s.repo.EmailExists(ctx, in.Email, 0)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, shared.ErrDuplicateEmail(in.Email)
	}

	assigned, err := s.validateRoleAssignment(ctx, actor, in.RoleIDs)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := User{
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: string(hash),
		Phone:        strings.TrimSpace(in.Phone),
		Address:      strings.TrimSpace(in.Address),
		AvatarRef:    avatarRef,
		Status:       StatusActive,
	}
	if in.Status != "" {
		user.Status = Status(in.Status)
	}
	if in.BirthDate != "" {
		birth, err := time.Parse("2006-01-02", in.BirthDate)
		if err != nil {
			return nil, shared.ErrValidationFailed(map[string]string{"birth_date": "must be YYYY-MM-DD"})
		}
		user.BirthDate = &birth
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		id, err := tx.Create(ctx, user)
		if err != nil {
			return err
		}
		user.ID = id
		if len(assigned) > 0 {
			return tx.ReplaceRoles(ctx, id, in.RoleIDs, actor.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditUserCreate, user.ID, map[string]any{"email": user.Email})
	return s.repo.Get(ctx, user.ID)
}

// Update modifies a user the actor outranks. RoleIDs, when present, is a
// full replace-set validated role by role.
func (s *Service) Update(ctx context.Context, actor hierarchy.Subject, id int64, in UpdateUserInput, avatarRef *string) (*User, error) {
	target, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !hierarchy.CanActOn(actor, target.Subject(), hierarchy.ActionEdit) {
		return nil, shared.ErrPermissionDenied("edit user", map[string]any{"user_id": id})
	}

	exists, err := s.repo.EmailExists(ctx, in.Email, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, shared.ErrDuplicateEmail(in.Email)
	}

	var assignedIDs []int64
	if in.RoleIDs != nil {
		if _, err := s.validateRoleAssignment(ctx, actor, *in.RoleIDs); err != nil {
			return nil, err
		}
		assignedIDs = *in.RoleIDs
	}

	updated := *target
	updated.Name = strings.TrimSpace(in.Name)
	updated.Email = strings.TrimSpace(in.Email)
	updated.Phone = strings.TrimSpace(in.Phone)
	updated.Address = strings.TrimSpace(in.Address)
	if in.Status != "" {
		// Archiving carries the last-super-admin guard and must go
		// through the archive endpoint.
		if Status(in.Status) == StatusArchived && target.Status != StatusArchived {
			return nil, shared.ErrValidationFailed(map[string]string{"status": "use the archive endpoint"})
		}
		updated.Status = Status(in.Status)
	}
	if in.BirthDate != "" {
		birth, err := time.Parse("2006-01-02", in.BirthDate)
		if err != nil {
			return nil, shared.ErrValidationFailed(map[string]string{"birth_date": "must be YYYY-MM-DD"})
		}
		updated.BirthDate = &birth
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		updated.PasswordHash = string(hash)
	}

	oldAvatar := target.AvatarRef
	if avatarRef != nil {
		updated.AvatarRef = *avatarRef
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.Update(ctx, updated); err != nil {
			return err
		}
		if in.RoleIDs != nil {
			return tx.ReplaceRoles(ctx, id, assignedIDs, actor.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if avatarRef != nil && oldAvatar != "" && oldAvatar != *avatarRef {
		s.dropAvatar(oldAvatar)
	}
	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditUserUpdate, id, map[string]any{"email": updated.Email})
	return s.repo.Get(ctx, id)
}

// Archive marks a user archived instead of deleting the row. The last
// holder of the top role can never be archived; the check runs inside a
// serializable transaction with the assignment rows locked.
func (s *Service) Archive(ctx context.Context, actor hierarchy.Subject, id int64) error {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrUserNotFound(id)
		}
		return err
	}
	if actor.ID == id {
		return shared.ErrSelfDeletionForbidden()
	}
	if !hierarchy.CanActOn(actor, target.Subject(), hierarchy.ActionDelete) {
		return shared.ErrPermissionDenied("archive user", map[string]any{"user_id": id})
	}

	err = s.repo.WithSerializableTx(ctx, func(ctx context.Context, tx Repository) error {
		if target.HoldsTopRole() {
			if err := tx.LockTopRoleAssignments(ctx); err != nil {
				return err
			}
			others, err := tx.CountOtherTopRoleHolders(ctx, id)
			if err != nil {
				return err
			}
			if others == 0 {
				return shared.ErrLastSuperAdmin()
			}
		}
		return tx.Archive(ctx, id, actor.ID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditUserArchive, id, nil)
	return nil
}

// Restore reactivates an archived user. Restoring an already-active user is
// a no-op.
func (s *Service) Restore(ctx context.Context, actor hierarchy.Subject, id int64) error {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrUserNotFound(id)
		}
		return err
	}
	if !hierarchy.CanActOn(actor, target.Subject(), hierarchy.ActionEdit) {
		return shared.ErrPermissionDenied("restore user", map[string]any{"user_id": id})
	}
	if target.Status == StatusActive && target.ArchivedAt == nil {
		return nil
	}

	if err := s.repo.Restore(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditUserRestore, id, nil)
	return nil
}

// ToggleStatus flips a user between active and inactive. Archived users
// must be restored instead.
func (s *Service) ToggleStatus(ctx context.Context, actor hierarchy.Subject, id int64) (*User, error) {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUserNotFound(id)
		}
		return nil, err
	}
	if !hierarchy.CanActOn(actor, target.Subject(), hierarchy.ActionEdit) {
		return nil, shared.ErrPermissionDenied("toggle user status", map[string]any{"user_id": id})
	}
	if target.Status == StatusArchived {
		return nil, shared.ErrValidationFailed(map[string]string{"status": "archived users must be restored first"})
	}

	next := StatusActive
	if target.Status == StatusActive {
		next = StatusInactive
	}
	if err := s.repo.SetStatus(ctx, id, next); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditUserStatus, id, map[string]any{"status": string(next)})
	return s.repo.Get(ctx, id)
}

// UpdateStatus sets an explicit lifecycle state. Archiving routes through
// Archive to keep the last-super-admin guard in one place; leaving the
// archived state routes through Restore so the archive fields are cleared.
func (s *Service) UpdateStatus(ctx context.Context, actor hierarchy.Subject, id int64, status string) (*User, error) {
	if !ValidStatus(status) {
		return nil, shared.ErrValidationFailed(map[string]string{"status": "unknown status"})
	}
	if Status(status) == StatusArchived {
		if err := s.Archive(ctx, actor, id); err != nil {
			return nil, err
		}
		return s.repo.Get(ctx, id)
	}

	target, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUserNotFound(id)
		}
		return nil, err
	}
	if !hierarchy.CanActOn(actor, target.Subject(), hierarchy.ActionEdit) {
		return nil, shared.ErrPermissionDenied("set user status", map[string]any{"user_id": id})
	}

	if target.Status == StatusArchived && Status(status) == StatusActive {
		if err := s.repo.Restore(ctx, id); err != nil {
			return nil, err
		}
	} else if err := s.repo.SetStatus(ctx, id, Status(status)); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditUserStatus, id, map[string]any{"status": status})
	return s.repo.Get(ctx, id)
}

// BulkAction applies one action over up to MaxBulkIDs users. Each id is
// authorized independently; failures are reported per id while the passing
// subset is applied in a single transaction.
func (s *Service) BulkAction(ctx context.Context, actor hierarchy.Subject, in BulkActionInput) (BulkActionResult, error) {
	result := BulkActionResult{}
	if len(in.UserIDs) == 0 || len(in.UserIDs) > MaxBulkIDs {
		return result, shared.ErrValidationFailed(map[string]string{
			"user_ids": "must contain between 1 and " + strconv.Itoa(MaxBulkIDs) + " ids",
		})
	}

	action := hierarchy.ActionEdit
	if in.Action == BulkArchive {
		action = hierarchy.ActionDelete
	}

	type applyItem struct {
		id      int64
		topRole bool
	}
	var apply []applyItem

	for _, id := range in.UserIDs {
		target, err := s.repo.Get(ctx, id)
		if err != nil {
			result.Errors = append(result.Errors, bulkError(id, shared.ErrUserNotFound(id)))
			continue
		}
		if in.Action == BulkArchive && actor.ID == id {
			result.Errors = append(result.Errors, bulkError(id, shared.ErrSelfDeletionForbidden()))
			continue
		}
		if !hierarchy.CanActOn(actor, target.Subject(), action) {
			result.Errors = append(result.Errors, bulkError(id, shared.ErrPermissionDenied(
				"bulk "+in.Action, map[string]any{"user_id": id})))
			continue
		}
		apply = append(apply, applyItem{id: id, topRole: target.HoldsTopRole()})
	}

	if len(apply) > 0 {
		err := s.repo.WithSerializableTx(ctx, func(ctx context.Context, tx Repository) error {
			locked := false
			for _, item := range apply {
				if in.Action == BulkArchive && item.topRole {
					if !locked {
						if err := tx.LockTopRoleAssignments(ctx); err != nil {
							return err
						}
						locked = true
					}
					others, err := tx.CountOtherTopRoleHolders(ctx, item.id)
					if err != nil {
						return err
					}
					if others == 0 {
						result.Errors = append(result.Errors, bulkError(item.id, shared.ErrLastSuperAdmin()))
						continue
					}
				}
				var err error
				switch in.Action {
				case BulkActivate:
					err = tx.SetStatus(ctx, item.id, StatusActive)
				case BulkDeactivate:
					err = tx.SetStatus(ctx, item.id, StatusInactive)
				case BulkSuspend:
					err = tx.SetStatus(ctx, item.id, StatusSuspended)
				case BulkArchive:
					err = tx.Archive(ctx, item.id, actor.ID)
				default:
					return shared.ErrValidationFailed(map[string]string{"action": "unknown bulk action"})
				}
				if err != nil {
					return err
				}
				result.Succeeded++
			}
			return nil
		})
		if err != nil {
			return BulkActionResult{}, err
		}
	}

	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditUserBulkAction, actor.ID, map[string]any{
		"action":    in.Action,
		"requested": len(in.UserIDs),
		"succeeded": result.Succeeded,
	})
	return result, nil
}

// QuickSearch returns up to QuickSearchLimit users matching the query,
// scoped below the actor's level.
func (s *Service) QuickSearch(ctx context.Context, actor hierarchy.Subject, query string) ([]User, error) {
	query = strings.TrimSpace(query)
	if len(query) < MinQueryLength {
		return nil, shared.ErrValidationFailed(map[string]string{
			"q": "query must be at least " + strconv.Itoa(MinQueryLength) + " characters",
		})
	}
	return s.repo.Search(ctx, query, scopeFor(actor), QuickSearchLimit)
}

// Suggestions returns distinct field values for typeahead inputs.
func (s *Service) Suggestions(ctx context.Context, field, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if len(query) < MinQueryLength {
		return nil, shared.ErrValidationFailed(map[string]string{
			"q": "query must be at least " + strconv.Itoa(MinQueryLength) + " characters",
		})
	}
	switch field {
	case "name", "email", "phone":
	default:
		return nil, shared.ErrValidationFailed(map[string]string{"field": "must be one of name, email, phone"})
	}
	return s.repo.Suggest(ctx, field, query, SuggestionLimit)
}

// ExportRows returns the full filtered, hierarchy-scoped user set for the
// CSV download.
func (s *Service) ExportRows(ctx context.Context, actor hierarchy.Subject, req ListUsersRequest) ([]User, error) {
	return s.repo.ListAll(ctx, req, scopeFor(actor))
}

// Stats returns the aggregate dashboard block, cached until the next write.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	key, err := s.cache.BuildKey(ctx, cache.TagUserStats)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	err = s.cache.FetchJSON(ctx, key, &stats, func(ctx context.Context) (any, error) {
		return s.repo.Stats(ctx)
	})
	return stats, err
}

// validateRoleAssignment verifies every role id exists and sits below the
// actor's ceiling. The whole set is rejected on the first violation.
func (s *Service) validateRoleAssignment(ctx context.Context, actor hierarchy.Subject, roleIDs []int64) ([]roles.Role, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	found, err := s.roles.GetByIDs(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	if len(found) != len(uniqueIDs(roleIDs)) {
		return nil, shared.ErrValidationFailed(map[string]string{"role_ids": "contains unknown role ids"})
	}
	for _, role := range found {
		if !hierarchy.CanAssignRole(actor, role.Level) {
			return nil, shared.ErrRoleHierarchyViolation(role.Name)
		}
	}
	return found, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func bulkError(id int64, err error) BulkItemError {
	item := BulkItemError{UserID: id, Message: shared.UserSafeMessage(err)}
	if adminErr, ok := shared.AsAdminError(err); ok {
		item.Kind = string(adminErr.Kind)
	}
	return item
}

func (s *Service) dropAvatar(ref string) {
	if s.avatars == nil || ref == "" {
		return
	}
	if err := s.avatars.Delete(ref); err != nil && s.logger != nil {
		s.logger.Warn("delete avatar", slog.String("ref", ref), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx, cache.TagUserStats); err != nil && s.logger != nil {
		s.logger.Warn("bump user stats cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, userID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("record user audit", slog.String("action", action), slog.Any("error", err))
	}
}

package roles

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/vantage-admin/vantage/internal/hierarchy"
	"github.com/vantage-admin/vantage/internal/platform/cache"
	"github.com/vantage-admin/vantage/internal/shared"
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Service handles role administration. Every mutation takes the acting
// subject explicitly; there is no ambient authentication state.
type Service struct {
	repo   Repository
	cache  *cache.Versioned
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, cache *cache.Versioned, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger}
}

// List returns roles matching the filters.
func (s *Service) List(ctx context.Context, req ListRolesRequest) ([]Role, shared.Pagination, error) {
	list, total, err := s.repo.List(ctx, req)
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

// Get fetches a single role.
func (s *Service) Get(ctx context.Context, id int64) (*Role, error) {
	return s.repo.Get(ctx, id)
}

// Users returns the users currently holding the role.
func (s *Service) Users(ctx context.Context, id int64) ([]RoleUser, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.UsersOfRole(ctx, id)
}

// Create inserts a new role definition. The actor must outrank the new
// role's level.
func (s *Service) Create(ctx context.Context, actor hierarchy.Subject, in CreateRoleInput) (*Role, error) {
	if !roleNamePattern.MatchString(in.Name) {
		return nil, shared.ErrValidationFailed(map[string]string{
			"name": "must start with a letter and contain only lowercase letters, digits and underscores",
		})
	}
	if !hierarchy.CanCreateOrEditRoleAtLevel(actor, in.Level) {
		return nil, shared.ErrRoleHierarchyViolation(in.Name)
	}
	exists, err := s.repo.NameExists(ctx, in.Name, 0)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, shared.ErrDuplicateRoleName(in.Name)
	}

	role := Role{
		Name:        in.Name,
		DisplayName: in.DisplayName,
		Description: in.Description,
		Color:       in.Color,
		Permissions: in.Permissions,
		Level:       in.Level,
		IsDefault:   in.IsDefault,
	}
	if role.Color == "" {
		role.Color = ColorFor(role.Name)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		id, err := tx.Create(ctx, role)
		if err != nil {
			return err
		}
		role.ID = id
		if role.IsDefault {
			return tx.UnsetDefaultExcept(ctx, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditRoleCreate, role.ID, map[string]any{"name": role.Name, "level": role.Level})
	return s.repo.Get(ctx, role.ID)
}

// Update modifies an existing role. The actor must outrank both the current
// and the new level; system roles keep their name.
func (s *Service) Update(ctx context.Context, actor hierarchy.Subject, id int64, in UpdateRoleInput) (*Role, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !roleNamePattern.MatchString(in.Name) {
		return nil, shared.ErrValidationFailed(map[string]string{
			"name": "must start with a letter and contain only lowercase letters, digits and underscores",
		})
	}
	if hierarchy.IsSystemRole(existing.Name) && in.Name != existing.Name {
		return nil, shared.ErrValidationFailed(map[string]string{
			"name": "system roles cannot be renamed",
		})
	}
	if !hierarchy.CanCreateOrEditRoleAtLevel(actor, existing.Level) {
		return nil, shared.ErrRoleHierarchyViolation(existing.Name)
	}
	if !hierarchy.CanCreateOrEditRoleAtLevel(actor, in.Level) {
		return nil, shared.ErrRoleHierarchyViolation(in.Name)
	}
	exists, err := s.repo.NameExists(ctx, in.Name, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, shared.ErrDuplicateRoleName(in.Name)
	}

	updated := Role{
		ID:          id,
		Name:        in.Name,
		DisplayName: in.DisplayName,
		Description: in.Description,
		Color:       in.Color,
		Permissions: in.Permissions,
		Level:       in.Level,
		IsDefault:   in.IsDefault,
	}
	if updated.Color == "" {
		updated.Color = existing.Color
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.Update(ctx, updated); err != nil {
			return err
		}
		if updated.IsDefault {
			return tx.UnsetDefaultExcept(ctx, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditRoleUpdate, id, map[string]any{"name": updated.Name, "level": updated.Level})
	return s.repo.Get(ctx, id)
}

// Delete soft-deletes a role. System roles and roles that still have users
// assigned cannot be deleted, regardless of the actor's level.
func (s *Service) Delete(ctx context.Context, actor hierarchy.Subject, id int64) error {
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if hierarchy.IsSystemRole(role.Name) {
		return shared.ErrSystemRoleDeletion(role.Name)
	}
	count, err := s.repo.UsersCount(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return shared.ErrRoleInUse(id, count)
	}
	if !hierarchy.CanCreateOrEditRoleAtLevel(actor, role.Level) {
		return shared.ErrRoleHierarchyViolation(role.Name)
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditRoleDelete, id, map[string]any{"name": role.Name})
	return nil
}

// Duplicate clones a role under a timestamped name. Assignments are not
// cloned and the copy is never the default role.
func (s *Service) Duplicate(ctx context.Context, actor hierarchy.Subject, id int64) (*Role, error) {
	source, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !hierarchy.CanCreateOrEditRoleAtLevel(actor, source.Level) {
		return nil, shared.ErrRoleHierarchyViolation(source.Name)
	}

	copied := *source
	copied.ID = 0
	copied.Name = source.Name + "_copy_" + time.Now().UTC().Format("20060102150405")
	copied.DisplayName = source.DisplayName + " (copy)"
	copied.IsDefault = false
	copied.UsersCount = 0

	newID, err := s.repo.Create(ctx, copied)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.record(ctx, actor.ID, shared.AuditRoleDuplicate, newID, map[string]any{"source_id": id, "name": copied.Name})
	return s.repo.Get(ctx, newID)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx, cache.TagRoleList); err != nil && s.logger != nil {
		s.logger.Warn("bump role list cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, roleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role",
		EntityID: formatID(roleID),
		Meta:     meta,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("record role audit", slog.String("action", action), slog.Any("error", err))
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

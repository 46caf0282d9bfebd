package roles

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantage-admin/vantage/internal/hierarchy"
	"github.com/vantage-admin/vantage/internal/shared"
)

type fakeRepo struct {
	nextID    int64
	roles     map[int64]*Role
	userCount map[int64]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nextID: 1, roles: make(map[int64]*Role), userCount: make(map[int64]int)}
}

func (f *fakeRepo) seed(role Role) int64 {
	id := f.nextID
	f.nextID++
	role.ID = id
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	f.roles[id] = &role
	return id
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, f)
}

func (f *fakeRepo) Get(_ context.Context, id int64) (*Role, error) {
	role, ok := f.roles[id]
	if !ok || role.DeletedAt != nil {
		return nil, shared.ErrNotFound
	}
	copied := *role
	copied.UsersCount = f.userCount[id]
	return &copied, nil
}

func (f *fakeRepo) GetByName(_ context.Context, name string) (*Role, error) {
	for _, role := range f.roles {
		if role.Name == name && role.DeletedAt == nil {
			copied := *role
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeRepo) GetByIDs(_ context.Context, ids []int64) ([]Role, error) {
	var list []Role
	for _, id := range ids {
		if role, ok := f.roles[id]; ok && role.DeletedAt == nil {
			list = append(list, *role)
		}
	}
	return list, nil
}

func (f *fakeRepo) List(_ context.Context, req ListRolesRequest) ([]Role, int, error) {
	var list []Role
	for _, role := range f.roles {
		if role.DeletedAt != nil {
			continue
		}
		if req.Search != "" && !strings.Contains(role.Name, req.Search) {
			continue
		}
		list = append(list, *role)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Level > list[j].Level })
	return list, len(list), nil
}

func (f *fakeRepo) Create(_ context.Context, role Role) (int64, error) {
	for _, existing := range f.roles {
		if existing.Name == role.Name && existing.DeletedAt == nil {
			return 0, shared.ErrDuplicateRoleName(role.Name)
		}
	}
	id := f.nextID
	f.nextID++
	role.ID = id
	f.roles[id] = &role
	return id, nil
}

func (f *fakeRepo) Update(_ context.Context, role Role) error {
	existing, ok := f.roles[role.ID]
	if !ok || existing.DeletedAt != nil {
		return shared.ErrNotFound
	}
	role.CreatedAt = existing.CreatedAt
	f.roles[role.ID] = &role
	return nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, id int64) error {
	role, ok := f.roles[id]
	if !ok || role.DeletedAt != nil {
		return shared.ErrNotFound
	}
	now := time.Now().UTC()
	role.DeletedAt = &now
	return nil
}

func (f *fakeRepo) NameExists(_ context.Context, name string, excludeID int64) (bool, error) {
	for _, role := range f.roles {
		if role.Name == name && role.ID != excludeID && role.DeletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) UsersCount(_ context.Context, roleID int64) (int, error) {
	return f.userCount[roleID], nil
}

func (f *fakeRepo) UsersOfRole(_ context.Context, roleID int64) ([]RoleUser, error) {
	return nil, nil
}

func (f *fakeRepo) UnsetDefaultExcept(_ context.Context, keepID int64) error {
	for _, role := range f.roles {
		if role.ID != keepID {
			role.IsDefault = false
		}
	}
	return nil
}

func (f *fakeRepo) DefaultRole(_ context.Context) (*Role, error) {
	for _, role := range f.roles {
		if role.IsDefault && role.DeletedAt == nil {
			copied := *role
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func adminActor() hierarchy.Subject {
	return hierarchy.Subject{ID: 1, Roles: []hierarchy.Role{{ID: 2, Name: "admin", Level: 80}}}
}

func superActor() hierarchy.Subject {
	return hierarchy.Subject{ID: 99, Roles: []hierarchy.Role{{ID: 1, Name: hierarchy.TopRoleName, Level: 100}}}
}

func newService(repo Repository) *Service {
	return NewService(repo, nil, nil, nil)
}

func requireKind(t *testing.T, err error, kind shared.ErrorKind) {
	t.Helper()
	adminErr, ok := shared.AsAdminError(err)
	require.True(t, ok, "expected AdminError, got %v", err)
	require.Equal(t, kind, adminErr.Kind)
}

func TestCreateRoleAboveOwnLevelRejected(t *testing.T) {
	svc := newService(newFakeRepo())

	_, err := svc.Create(context.Background(), adminActor(), CreateRoleInput{
		Name: "superboss", DisplayName: "Super Boss", Level: 95,
	})
	requireKind(t, err, shared.KindRoleHierarchyViolation)

	// Equal level is also denied.
	_, err = svc.Create(context.Background(), adminActor(), CreateRoleInput{
		Name: "peer", DisplayName: "Peer", Level: 80,
	})
	requireKind(t, err, shared.KindRoleHierarchyViolation)
}

func TestCreateRoleBelowOwnLevelSucceeds(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)

	role, err := svc.Create(context.Background(), adminActor(), CreateRoleInput{
		Name: "junior", DisplayName: "Junior", Level: 30,
	})
	require.NoError(t, err)
	require.Equal(t, "junior", role.Name)
	require.Equal(t, 30, role.Level)
	require.NotEmpty(t, role.Color, "color must come from the palette when unset")
}

func TestCreateRoleInvalidName(t *testing.T) {
	svc := newService(newFakeRepo())

	_, err := svc.Create(context.Background(), superActor(), CreateRoleInput{
		Name: "Bad Name!", DisplayName: "Bad", Level: 10,
	})
	requireKind(t, err, shared.KindValidationFailed)
}

func TestCreateRoleDuplicateName(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(Role{Name: "editor", DisplayName: "Editor", Level: 40})
	svc := newService(repo)

	_, err := svc.Create(context.Background(), superActor(), CreateRoleInput{
		Name: "editor", DisplayName: "Editor Again", Level: 40,
	})
	requireKind(t, err, shared.KindDuplicateRoleName)
}

func TestCreateDefaultRoleUnsetsPrevious(t *testing.T) {
	repo := newFakeRepo()
	oldID := repo.seed(Role{Name: "user", DisplayName: "User", Level: 20, IsDefault: true})
	svc := newService(repo)

	created, err := svc.Create(context.Background(), superActor(), CreateRoleInput{
		Name: "member", DisplayName: "Member", Level: 15, IsDefault: true,
	})
	require.NoError(t, err)
	require.True(t, created.IsDefault)
	require.False(t, repo.roles[oldID].IsDefault, "previous default must be unset in the same transaction")
}

func TestUpdateSystemRoleRenameRejected(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(Role{Name: "admin", DisplayName: "Admin", Level: 80})
	svc := newService(repo)

	_, err := svc.Update(context.Background(), superActor(), id, UpdateRoleInput{
		Name: "administrator", DisplayName: "Admin", Level: 80,
	})
	requireKind(t, err, shared.KindValidationFailed)
}

func TestDeleteSystemRoleRejectedEvenWhenUnused(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(Role{Name: "admin", DisplayName: "Admin", Level: 80})
	svc := newService(repo)

	err := svc.Delete(context.Background(), superActor(), id)
	requireKind(t, err, shared.KindSystemRoleDeletion)
}

func TestDeleteRoleInUseRejected(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(Role{Name: "editor", DisplayName: "Editor", Level: 40})
	repo.userCount[id] = 3
	svc := newService(repo)

	err := svc.Delete(context.Background(), superActor(), id)
	requireKind(t, err, shared.KindRoleInUse)
}

func TestDeleteUnusedRoleSucceeds(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(Role{Name: "editor", DisplayName: "Editor", Level: 40})
	svc := newService(repo)

	require.NoError(t, svc.Delete(context.Background(), superActor(), id))
	_, err := svc.Get(context.Background(), id)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDuplicateRole(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(Role{
		Name: "editor", DisplayName: "Editor", Level: 40,
		Permissions: []string{"users.view"}, IsDefault: true, Color: "#10B981",
	})
	svc := newService(repo)

	copied, err := svc.Duplicate(context.Background(), superActor(), id)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(copied.Name, "editor_copy_"))
	require.False(t, copied.IsDefault, "copies are never the default role")
	require.Equal(t, 40, copied.Level)
	require.Equal(t, []string{"users.view"}, copied.Permissions)
	require.Zero(t, copied.UsersCount)
}

func TestHasPermissionWildcard(t *testing.T) {
	role := Role{Permissions: []string{PermissionWildcard}}
	require.True(t, role.HasPermission("anything.at.all"))

	scoped := Role{Permissions: []string{"users.view"}}
	require.True(t, scoped.HasPermission("users.view"))
	require.False(t, scoped.HasPermission("users.delete"))
}

package users

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantage-admin/vantage/internal/hierarchy"
	"github.com/vantage-admin/vantage/internal/roles"
	"github.com/vantage-admin/vantage/internal/shared"
)

type fakeRoleDirectory struct {
	roles map[int64]roles.Role
}

func (f fakeRoleDirectory) GetByIDs(_ context.Context, ids []int64) ([]roles.Role, error) {
	var out []roles.Role
	seen := map[int64]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if role, ok := f.roles[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	nextID int64
	users  map[int64]*User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: make(map[int64]*User)}
}

func (f *fakeUserRepo) seed(u User) int64 {
	id := f.nextID
	f.nextID++
	u.ID = id
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.Status == "" {
		u.Status = StatusActive
	}
	f.users[id] = &u
	return id
}

func (f *fakeUserRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, f)
}

func (f *fakeUserRepo) WithSerializableTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, f)
}

func (f *fakeUserRepo) Get(_ context.Context, id int64) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) EmailExists(_ context.Context, email string, excludeID int64) (bool, error) {
	for _, u := range f.users {
		if u.Email == email && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUserRepo) List(_ context.Context, req ListUsersRequest, scope LevelScope) ([]User, int, error) {
	var list []User
	for _, u := range f.users {
		if !scope.All && u.EffectiveLevel() >= scope.Below {
			continue
		}
		if req.Status != "" && string(u.Status) != req.Status {
			continue
		}
		list = append(list, *u)
	}
	return list, len(list), nil
}

func (f *fakeUserRepo) ListAll(ctx context.Context, req ListUsersRequest, scope LevelScope) ([]User, error) {
	list, _, err := f.List(ctx, req, scope)
	return list, err
}

func (f *fakeUserRepo) Create(_ context.Context, u User) (int64, error) {
	id := f.nextID
	f.nextID++
	u.ID = id
	f.users[id] = &u
	return id, nil
}

func (f *fakeUserRepo) Update(_ context.Context, u User) error {
	existing, ok := f.users[u.ID]
	if !ok {
		return shared.ErrNotFound
	}
	u.Roles = existing.Roles
	f.users[u.ID] = &u
	return nil
}

func (f *fakeUserRepo) Archive(_ context.Context, id, by int64) error {
	u, ok := f.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	now := time.Now().UTC()
	u.Status = StatusArchived
	u.ArchivedAt = &now
	u.ArchivedBy = &by
	return nil
}

func (f *fakeUserRepo) Restore(_ context.Context, id int64) error {
	u, ok := f.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Status = StatusActive
	u.ArchivedAt = nil
	u.ArchivedBy = nil
	return nil
}

func (f *fakeUserRepo) SetStatus(_ context.Context, id int64, status Status) error {
	u, ok := f.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Status = status
	return nil
}

func (f *fakeUserRepo) ReplaceRoles(_ context.Context, userID int64, roleIDs []int64, assignedBy int64) error {
	u, ok := f.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.Roles = nil
	for _, id := range roleIDs {
		u.Roles = append(u.Roles, roles.Role{ID: id, Name: "assigned", Level: 1})
	}
	return nil
}

func (f *fakeUserRepo) LockTopRoleAssignments(context.Context) error { return nil }

func (f *fakeUserRepo) CountOtherTopRoleHolders(_ context.Context, excludeUserID int64) (int, error) {
	count := 0
	for _, u := range f.users {
		if u.ID == excludeUserID || u.Status == StatusArchived {
			continue
		}
		if u.HoldsTopRole() {
			count++
		}
	}
	return count, nil
}

func (f *fakeUserRepo) Search(_ context.Context, query string, scope LevelScope, limit int) ([]User, error) {
	var list []User
	for _, u := range f.users {
		if u.Status == StatusArchived {
			continue
		}
		if !scope.All && u.EffectiveLevel() >= scope.Below {
			continue
		}
		if strings.Contains(u.Name, query) || strings.Contains(u.Email, query) {
			list = append(list, *u)
		}
		if len(list) == limit {
			break
		}
	}
	return list, nil
}

func (f *fakeUserRepo) Suggest(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}

func (f *fakeUserRepo) Stats(context.Context) (Stats, error) {
	stats := Stats{ByStatus: map[string]int{}}
	for _, u := range f.users {
		stats.Total++
		stats.ByStatus[string(u.Status)]++
	}
	return stats, nil
}

var (
	superRole  = roles.Role{ID: 1, Name: hierarchy.TopRoleName, Level: 100}
	adminRole  = roles.Role{ID: 2, Name: "admin", Level: 80}
	editorRole = roles.Role{ID: 3, Name: "editor", Level: 40}
	userRole   = roles.Role{ID: 4, Name: "user", Level: 20}
)

func testDirectory() fakeRoleDirectory {
	return fakeRoleDirectory{roles: map[int64]roles.Role{
		1: superRole, 2: adminRole, 3: editorRole, 4: userRole,
	}}
}

func newTestService(repo *fakeUserRepo) *Service {
	return NewService(repo, testDirectory(), nil, nil, nil, nil)
}

func subjectOf(repo *fakeUserRepo, id int64) hierarchy.Subject {
	return repo.users[id].Subject()
}

func requireKind(t *testing.T, err error, kind shared.ErrorKind) {
	t.Helper()
	adminErr, ok := shared.AsAdminError(err)
	require.True(t, ok, "expected AdminError, got %v", err)
	require.Equal(t, kind, adminErr.Kind)
}

func seedAdmin(repo *fakeUserRepo) int64 {
	return repo.seed(User{Name: "Ada Admin", Email: "ada@test.local", Roles: []roles.Role{adminRole}})
}

func seedSuper(repo *fakeUserRepo, email string) int64 {
	return repo.seed(User{Name: "Sam Super", Email: email, Roles: []roles.Role{superRole}})
}

func TestCreateDuplicateEmailIncludesArchived(t *testing.T) {
	repo := newFakeUserRepo()
	repo.seed(User{Name: "Old", Email: "taken@test.local", Status: StatusArchived})
	svc := newTestService(repo)
	admin := subjectOf(repo, seedAdmin(repo))

	_, err := svc.Create(context.Background(), admin, CreateUserInput{
		Name: "New", Email: "taken@test.local", Password: "secret-pass",
	}, "")
	requireKind(t, err, shared.KindDuplicateEmail)
}

func TestCreateWithRoleAtOwnLevelRejected(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	admin := subjectOf(repo, seedAdmin(repo))

	// admin (80) granting admin (80): at-or-above is always denied.
	_, err := svc.Create(context.Background(), admin, CreateUserInput{
		Name: "New", Email: "new@test.local", Password: "secret-pass", RoleIDs: []int64{2},
	}, "")
	requireKind(t, err, shared.KindRoleHierarchyViolation)
}

func TestCreateWithRoleBelowOwnLevel(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	admin := subjectOf(repo, seedAdmin(repo))

	user, err := svc.Create(context.Background(), admin, CreateUserInput{
		Name: "New", Email: "new@test.local", Password: "secret-pass", RoleIDs: []int64{3},
	}, "")
	require.NoError(t, err)
	require.Equal(t, StatusActive, user.Status)
	require.Len(t, user.Roles, 1)
	require.NotEqual(t, "secret-pass", user.PasswordHash, "password must be hashed")
}

func TestEqualLevelEditDenied(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	first := seedAdmin(repo)
	second := repo.seed(User{Name: "Bob Admin", Email: "bob@test.local", Roles: []roles.Role{adminRole}})

	_, err := svc.Update(context.Background(), subjectOf(repo, first), second, UpdateUserInput{
		Name: "Bob Admin", Email: "bob@test.local",
	}, nil)
	requireKind(t, err, shared.KindPermissionDenied)
}

func TestTopLevelBypassEditsAnyone(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	super := seedSuper(repo, "sam@test.local")
	admin := seedAdmin(repo)

	_, err := svc.Update(context.Background(), subjectOf(repo, super), admin, UpdateUserInput{
		Name: "Ada Renamed", Email: "ada@test.local",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "Ada Renamed", repo.users[admin].Name)
}

func TestSelfEditDeniedBelowTopLevel(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	admin := seedAdmin(repo)

	// Self is the equal-level case: 80 vs 80 fails the strict comparison.
	_, err := svc.Update(context.Background(), subjectOf(repo, admin), admin, UpdateUserInput{
		Name: "Ada Renamed", Email: "ada@test.local",
	}, nil)
	requireKind(t, err, shared.KindPermissionDenied)

	_, err = svc.Get(context.Background(), subjectOf(repo, admin), admin)
	requireKind(t, err, shared.KindPermissionDenied)
}

func TestSelfEditAllowedForTopLevel(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	super := seedSuper(repo, "sam@test.local")

	updated, err := svc.Update(context.Background(), subjectOf(repo, super), super, UpdateUserInput{
		Name: "Sam Renamed", Email: "sam@test.local",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "Sam Renamed", updated.Name)
}

func TestSelfArchiveForbiddenEvenForTopLevel(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	seedSuper(repo, "other@test.local")
	super := seedSuper(repo, "sam@test.local")

	err := svc.Archive(context.Background(), subjectOf(repo, super), super)
	requireKind(t, err, shared.KindSelfDeletionForbidden)
}

func TestArchiveLastSuperAdminRejected(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	super := seedSuper(repo, "sam@test.local")
	other := seedSuper(repo, "other@test.local")

	// Two holders: archiving one succeeds.
	require.NoError(t, svc.Archive(context.Background(), subjectOf(repo, super), other))
	require.Equal(t, StatusArchived, repo.users[other].Status)
	require.NotNil(t, repo.users[other].ArchivedAt)

	// Now exactly one remains; nobody may archive them.
	err := svc.Archive(context.Background(), hierarchy.Subject{ID: 999, Roles: []hierarchy.Role{{ID: 1, Name: hierarchy.TopRoleName, Level: 100}}}, super)
	requireKind(t, err, shared.KindLastSuperAdmin)
}

func TestRestoreIsIdempotent(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	super := seedSuper(repo, "sam@test.local")
	target := repo.seed(User{Name: "Eve", Email: "eve@test.local", Roles: []roles.Role{userRole}})

	require.NoError(t, svc.Restore(context.Background(), subjectOf(repo, super), target))
	require.Equal(t, StatusActive, repo.users[target].Status)

	require.NoError(t, svc.Archive(context.Background(), subjectOf(repo, super), target))
	require.NoError(t, svc.Restore(context.Background(), subjectOf(repo, super), target))
	require.Equal(t, StatusActive, repo.users[target].Status)
	require.Nil(t, repo.users[target].ArchivedAt)
	require.Nil(t, repo.users[target].ArchivedBy)
}

func TestBulkActionPartialSuccess(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	admin := seedAdmin(repo)

	// Three reachable targets, two that must fail: a peer admin and the
	// actor themselves.
	t1 := repo.seed(User{Name: "U1", Email: "u1@test.local", Roles: []roles.Role{userRole}})
	t2 := repo.seed(User{Name: "U2", Email: "u2@test.local", Roles: []roles.Role{userRole}})
	t3 := repo.seed(User{Name: "U3", Email: "u3@test.local", Roles: []roles.Role{editorRole}})
	peer := repo.seed(User{Name: "Peer", Email: "peer@test.local", Roles: []roles.Role{adminRole}})

	result, err := svc.BulkAction(context.Background(), subjectOf(repo, admin), BulkActionInput{
		Action:  BulkArchive,
		UserIDs: []int64{t1, t2, t3, peer, admin},
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Succeeded)
	require.Len(t, result.Errors, 2)

	require.Equal(t, StatusArchived, repo.users[t1].Status)
	require.Equal(t, StatusArchived, repo.users[t2].Status)
	require.Equal(t, StatusArchived, repo.users[t3].Status)
	require.Equal(t, StatusActive, repo.users[peer].Status)
	require.Equal(t, StatusActive, repo.users[admin].Status)
}

func TestBulkActionCap(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	admin := subjectOf(repo, seedAdmin(repo))

	ids := make([]int64, MaxBulkIDs+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	_, err := svc.BulkAction(context.Background(), admin, BulkActionInput{Action: BulkActivate, UserIDs: ids})
	requireKind(t, err, shared.KindValidationFailed)
}

func TestQuickSearchMinimumLength(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	admin := subjectOf(repo, seedAdmin(repo))

	_, err := svc.QuickSearch(context.Background(), admin, "a")
	requireKind(t, err, shared.KindValidationFailed)
}

func TestQuickSearchScopedBelowActorLevel(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	admin := seedAdmin(repo)
	repo.seed(User{Name: "Searchable User", Email: "findme@test.local", Roles: []roles.Role{userRole}})
	repo.seed(User{Name: "Searchable Super", Email: "findme2@test.local", Roles: []roles.Role{superRole}})

	found, err := svc.QuickSearch(context.Background(), subjectOf(repo, admin), "Searchable")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "Searchable User", found[0].Name)
}

func TestSuggestionsFieldWhitelist(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)

	_, err := svc.Suggestions(context.Background(), "password_hash", "ad")
	requireKind(t, err, shared.KindValidationFailed)
}

func TestToggleStatusArchivedRejected(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	super := seedSuper(repo, "sam@test.local")
	target := repo.seed(User{Name: "Eve", Email: "eve@test.local", Status: StatusArchived, Roles: []roles.Role{userRole}})

	_, err := svc.ToggleStatus(context.Background(), subjectOf(repo, super), target)
	requireKind(t, err, shared.KindValidationFailed)
}

func TestUpdateStatusArchiveRoutesThroughGuard(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	super := seedSuper(repo, "sam@test.local")

	// Only holder of the top role: archiving via the status endpoint must
	// hit the same guard as the archive endpoint.
	_, err := svc.UpdateStatus(context.Background(),
		hierarchy.Subject{ID: 999, Roles: []hierarchy.Role{{ID: 1, Name: hierarchy.TopRoleName, Level: 100}}},
		super, string(StatusArchived))
	requireKind(t, err, shared.KindLastSuperAdmin)
}

func TestUpdateStatusRestoreClearsArchiveFields(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	super := seedSuper(repo, "sam@test.local")
	by := int64(1)
	now := time.Now().UTC()
	target := repo.seed(User{Name: "Eve", Email: "eve@test.local", Status: StatusArchived,
		ArchivedAt: &now, ArchivedBy: &by, Roles: []roles.Role{userRole}})

	user, err := svc.UpdateStatus(context.Background(), subjectOf(repo, super), target, string(StatusActive))
	require.NoError(t, err)
	require.Equal(t, StatusActive, user.Status)
	require.Nil(t, user.ArchivedAt)
	require.Nil(t, user.ArchivedBy)
}

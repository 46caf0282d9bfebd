package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func subject(id int64, roles ...Role) Subject {
	return Subject{ID: id, Roles: roles}
}

func TestEffectiveLevel(t *testing.T) {
	require.Equal(t, 0, EffectiveLevel(subject(1)))
	require.Equal(t, 40, EffectiveLevel(subject(1, Role{Name: "editor", Level: 40})))
	require.Equal(t, 80, EffectiveLevel(subject(1,
		Role{Name: "user", Level: 20},
		Role{Name: "admin", Level: 80},
		Role{Name: "editor", Level: 40},
	)))
}

func TestIsTopLevel(t *testing.T) {
	require.True(t, IsTopLevel(subject(1, Role{Name: TopRoleName, Level: 100})))
	require.False(t, IsTopLevel(subject(1, Role{Name: "admin", Level: 80})))
	require.False(t, IsTopLevel(subject(1)))
}

func TestCanActOnStrictInequality(t *testing.T) {
	admin := subject(1, Role{Name: "admin", Level: 80})
	moderator := subject(2, Role{Name: "moderator", Level: 60})
	peer := subject(3, Role{Name: "admin", Level: 80})

	require.True(t, CanActOn(admin, moderator, ActionEdit))
	require.False(t, CanActOn(moderator, admin, ActionEdit))
	// Equal levels never grant cross-action rights.
	require.False(t, CanActOn(admin, peer, ActionEdit))
	require.False(t, CanActOn(peer, admin, ActionDelete))
}

func TestCanActOnTopLevelBypass(t *testing.T) {
	root := subject(1, Role{Name: TopRoleName, Level: 100})
	otherRoot := subject(2, Role{Name: TopRoleName, Level: 100})

	require.True(t, CanActOn(root, otherRoot, ActionEdit))
	require.True(t, CanActOn(root, otherRoot, ActionDelete))
	// Self-deletion is denied even for top-level actors.
	require.False(t, CanActOn(root, root, ActionDelete))
	require.True(t, CanActOn(root, root, ActionEdit))
}

func TestCanActOnNoRoles(t *testing.T) {
	nobody := subject(1)
	other := subject(2)
	moderator := subject(3, Role{Name: "moderator", Level: 60})

	require.False(t, CanActOn(nobody, other, ActionEdit))
	require.False(t, CanActOn(nobody, moderator, ActionEdit))
	require.True(t, CanActOn(moderator, nobody, ActionEdit))
}

func TestCanAssignRoleCeiling(t *testing.T) {
	admin := subject(1, Role{Name: "admin", Level: 80})

	require.True(t, CanAssignRole(admin, 79))
	require.True(t, CanAssignRole(admin, 1))
	require.False(t, CanAssignRole(admin, 80))
	require.False(t, CanAssignRole(admin, 95))

	root := subject(2, Role{Name: TopRoleName, Level: 100})
	require.True(t, CanAssignRole(root, 100))
}

func TestCanCreateOrEditRoleAtLevel(t *testing.T) {
	admin := subject(1, Role{Name: "admin", Level: 80})
	require.False(t, CanCreateOrEditRoleAtLevel(admin, 95))
	require.True(t, CanCreateOrEditRoleAtLevel(admin, 30))
}

func TestMaxAssignableLevel(t *testing.T) {
	require.Equal(t, MaxLevel, MaxAssignableLevel(subject(1, Role{Name: TopRoleName, Level: 100})))
	require.Equal(t, 79, MaxAssignableLevel(subject(1, Role{Name: "admin", Level: 80})))
	require.Equal(t, MinLevel, MaxAssignableLevel(subject(1)))
	require.Equal(t, MinLevel, MaxAssignableLevel(subject(1, Role{Name: "guest", Level: 1})))
}

func TestIsSystemRole(t *testing.T) {
	require.True(t, IsSystemRole("super_admin"))
	require.True(t, IsSystemRole("admin"))
	require.False(t, IsSystemRole("moderator"))
}

// Package hierarchy implements the role-level authorization rules shared by
// the middleware and the administration services. All functions are pure:
// they operate on snapshots of actor and target data and never touch storage.
package hierarchy

// TopRoleName is the designated highest-privilege role. Holders bypass all
// level comparisons.
const TopRoleName = "super_admin"

// MaxLevel is the ceiling for role levels. By convention only TopRoleName
// sits at this level.
const MaxLevel = 100

// MinLevel is the floor for role levels.
const MinLevel = 1

// SystemRoleNames lists roles that must never be deleted, regardless of the
// actor's privileges.
var SystemRoleNames = []string{TopRoleName, "admin"}

// Action identifies what an actor is attempting against a target user.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Role is the authorization-relevant slice of a role definition.
type Role struct {
	ID    int64
	Name  string
	Level int
}

// Subject is the authorization-relevant slice of a user: identity plus the
// currently assigned, non-deleted roles.
type Subject struct {
	ID    int64
	Roles []Role
}

// EffectiveLevel returns the maximum level across the subject's roles, or 0
// when no roles are assigned.
func EffectiveLevel(s Subject) int {
	level := 0
	for _, r := range s.Roles {
		if r.Level > level {
			level = r.Level
		}
	}
	return level
}

// IsTopLevel reports whether the subject holds the top role by name.
func IsTopLevel(s Subject) bool {
	return HasRole(s, TopRoleName)
}

// HasRole reports whether the subject holds a role with the given name.
func HasRole(s Subject, name string) bool {
	for _, r := range s.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the subject holds at least one of the named roles.
func HasAnyRole(s Subject, names []string) bool {
	for _, name := range names {
		if HasRole(s, name) {
			return true
		}
	}
	return false
}

// CanActOn decides whether actor may perform action on target.
//
// Self-deletion is forbidden unconditionally, even for top-level actors. A
// top-level actor may otherwise act on anyone. Everyone else needs a strictly
// higher effective level than the target; equal levels never grant access.
func CanActOn(actor, target Subject, action Action) bool {
	if action == ActionDelete && actor.ID == target.ID {
		return false
	}
	if IsTopLevel(actor) {
		return true
	}
	return EffectiveLevel(actor) > EffectiveLevel(target)
}

// CanAssignRole decides whether actor may grant a role at the given level.
// Non-top-level actors can only grant roles strictly below their own
// effective level.
func CanAssignRole(actor Subject, roleLevel int) bool {
	if IsTopLevel(actor) {
		return true
	}
	return roleLevel < EffectiveLevel(actor)
}

// CanCreateOrEditRoleAtLevel applies the same strict-inequality rule to role
// definitions themselves.
func CanCreateOrEditRoleAtLevel(actor Subject, level int) bool {
	return CanAssignRole(actor, level)
}

// MaxAssignableLevel returns the highest role level the actor may create or
// assign: MaxLevel for top-level actors, otherwise one below their own
// effective level (never less than MinLevel).
func MaxAssignableLevel(actor Subject) int {
	if IsTopLevel(actor) {
		return MaxLevel
	}
	level := EffectiveLevel(actor) - 1
	if level < MinLevel {
		return MinLevel
	}
	return level
}

// IsSystemRole reports whether name is one of the protected system roles.
func IsSystemRole(name string) bool {
	for _, n := range SystemRoleNames {
		if n == name {
			return true
		}
	}
	return false
}

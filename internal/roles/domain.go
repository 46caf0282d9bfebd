// Package roles implements role administration: definitions carrying a
// numeric privilege level, a permission set, and presentation metadata.
package roles

import (
	"hash/fnv"
	"time"
)

// PermissionWildcard grants every capability.
const PermissionWildcard = "*"

// Palette is the fixed set of role badge colors. New roles without an
// explicit color get one derived from their name.
var Palette = []string{
	"#3B82F6", "#EF4444", "#10B981", "#F59E0B",
	"#8B5CF6", "#EC4899", "#06B6D4", "#84CC16",
	"#F97316", "#6366F1", "#14B8A6", "#F43F5E",
}

// Role represents a role definition.
type Role struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description"`
	Color       string     `json:"color"`
	Permissions []string   `json:"permissions"`
	Level       int        `json:"level"`
	IsDefault   bool       `json:"is_default"`
	UsersCount  int        `json:"users_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// HasPermission reports whether the role grants the capability token,
// honouring the wildcard.
func (r Role) HasPermission(perm string) bool {
	for _, p := range r.Permissions {
		if p == PermissionWildcard || p == perm {
			return true
		}
	}
	return false
}

// RoleUser is a user currently holding a role, as shown on the role detail
// page.
type RoleUser struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	AssignedAt time.Time `json:"assigned_at"`
}

// ColorFor derives a palette color from the role name so the same role
// always renders with the same badge.
func ColorFor(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return Palette[int(h.Sum32())%len(Palette)]
}

// Package users implements user administration: account lifecycle, role
// assignment, bulk operations, search and export, all gated by the role
// hierarchy.
package users

import (
	"time"

	"github.com/vantage-admin/vantage/internal/hierarchy"
	"github.com/vantage-admin/vantage/internal/roles"
)

// Status is the account lifecycle state. Archive stands in for deletion;
// rows are never hard-deleted by ordinary workflows.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusArchived  Status = "archived"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusActive, StatusInactive, StatusSuspended, StatusArchived:
		return true
	}
	return false
}

// User represents a managed account with its current role assignments.
type User struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Phone        string       `json:"phone,omitempty"`
	Address      string       `json:"address,omitempty"`
	BirthDate    *time.Time   `json:"birth_date,omitempty"`
	AvatarRef    string       `json:"avatar,omitempty"`
	Status       Status       `json:"status"`
	ArchivedAt   *time.Time   `json:"archived_at,omitempty"`
	ArchivedBy   *int64       `json:"archived_by,omitempty"`
	LastLoginAt  *time.Time   `json:"last_login_at,omitempty"`
	Roles        []roles.Role `json:"roles"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Subject converts the user into an authorization snapshot.
func (u User) Subject() hierarchy.Subject {
	subject := hierarchy.Subject{ID: u.ID}
	for _, r := range u.Roles {
		subject.Roles = append(subject.Roles, hierarchy.Role{ID: r.ID, Name: r.Name, Level: r.Level})
	}
	return subject
}

// EffectiveLevel is the maximum level across the user's roles, 0 if none.
func (u User) EffectiveLevel() int {
	return hierarchy.EffectiveLevel(u.Subject())
}

// HoldsTopRole reports whether the user holds the top privilege role.
func (u User) HoldsTopRole() bool {
	return hierarchy.IsTopLevel(u.Subject())
}

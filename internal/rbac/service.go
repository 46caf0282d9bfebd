// Package rbac resolves the authenticated actor and gates admin routes by
// role name, with a level fallback for roles renamed after routes were
// declared.
package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-admin/vantage/internal/hierarchy"
	"github.com/vantage-admin/vantage/internal/shared"
)

// ErrAccountInactive indicates the session belongs to a user whose account
// is no longer active. The middleware treats it as unauthenticated.
var ErrAccountInactive = errors.New("rbac: account inactive")

// Service loads actor snapshots and role level lookups.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// LoadActor fetches the user's current role assignments as an authorization
// snapshot. Archived or non-active users yield ErrAccountInactive.
func (s *Service) LoadActor(ctx context.Context, userID int64) (hierarchy.Subject, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM users WHERE id = $1`, userID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return hierarchy.Subject{}, shared.ErrNotFound
		}
		return hierarchy.Subject{}, err
	}
	if status != "active" {
		return hierarchy.Subject{}, ErrAccountInactive
	}

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name, r.level
		FROM role_user ru
		JOIN roles r ON r.id = ru.role_id
		WHERE ru.user_id = $1 AND r.deleted_at IS NULL
		ORDER BY r.level DESC`, userID)
	if err != nil {
		return hierarchy.Subject{}, err
	}
	defer rows.Close()

	actor := hierarchy.Subject{ID: userID}
	for rows.Next() {
		var role hierarchy.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Level); err != nil {
			return hierarchy.Subject{}, err
		}
		actor.Roles = append(actor.Roles, role)
	}
	return actor, rows.Err()
}

// RoleLevels returns the level for each named role that still exists.
// Missing names are simply absent from the result.
func (s *Service) RoleLevels(ctx context.Context, names []string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, level FROM roles
		WHERE name = ANY($1) AND deleted_at IS NULL`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make(map[string]int, len(names))
	for rows.Next() {
		var name string
		var level int
		if err := rows.Scan(&name, &level); err != nil {
			return nil, err
		}
		levels[name] = level
	}
	return levels, rows.Err()
}

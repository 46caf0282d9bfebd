package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-admin/vantage/internal/platform/db"
	"github.com/vantage-admin/vantage/internal/shared"
)

// Repository provides persistence for role definitions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Role, error)
	List(ctx context.Context, req ListRolesRequest) ([]Role, int, error)
	Create(ctx context.Context, role Role) (int64, error)
	Update(ctx context.Context, role Role) error
	SoftDelete(ctx context.Context, id int64) error
	NameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	UsersCount(ctx context.Context, roleID int64) (int, error)
	UsersOfRole(ctx context.Context, roleID int64) ([]RoleUser, error)
	UnsetDefaultExcept(ctx context.Context, keepID int64) error
	DefaultRole(ctx context.Context) (*Role, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const roleColumns = `r.id, r.name, r.display_name, r.description, r.color,
	r.permissions, r.level, r.is_default, r.created_at, r.updated_at, r.deleted_at,
	(SELECT COUNT(*) FROM role_user ru WHERE ru.role_id = r.id) AS users_count`

func scanRole(row pgx.Row) (*Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description,
		&role.Color, &role.Permissions, &role.Level, &role.IsDefault,
		&role.CreatedAt, &role.UpdatedAt, &role.DeletedAt, &role.UsersCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Role, error) {
	return scanRole(r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM roles r WHERE r.id = $1 AND r.deleted_at IS NULL`, roleColumns), id))
}

func (r *repository) GetByName(ctx context.Context, name string) (*Role, error) {
	return scanRole(r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM roles r WHERE r.name = $1 AND r.deleted_at IS NULL`, roleColumns), name))
}

func (r *repository) GetByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM roles r WHERE r.id = ANY($1) AND r.deleted_at IS NULL`, roleColumns), ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

var roleSortColumns = map[string]string{
	"name":        "r.name",
	"level":       "r.level",
	"users_count": "users_count",
	"created_at":  "r.created_at",
}

func (r *repository) List(ctx context.Context, req ListRolesRequest) ([]Role, int, error) {
	conditions := []string{"r.deleted_at IS NULL"}
	args := []any{}
	argPos := 1

	if search := strings.TrimSpace(req.Search); search != "" {
		conditions = append(conditions,
			fmt.Sprintf("(r.name ILIKE $%d OR r.display_name ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+search+"%")
		argPos++
	}
	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM roles r %s`, whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderBy, ok := roleSortColumns[req.SortBy]
	if !ok {
		orderBy = "r.level"
	}
	dir := "DESC"
	if strings.EqualFold(req.SortDir, "asc") {
		dir = "ASC"
	}

	perPage := req.PerPage
	if perPage <= 0 {
		perPage = shared.DefaultPerPage
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}

	query := fmt.Sprintf(`SELECT %s FROM roles r %s ORDER BY %s %s, r.id LIMIT $%d OFFSET $%d`,
		roleColumns, whereClause, orderBy, dir, argPos, argPos+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list, err := collectRoles(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func collectRoles(rows pgx.Rows) ([]Role, error) {
	var list []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description,
			&role.Color, &role.Permissions, &role.Level, &role.IsDefault,
			&role.CreatedAt, &role.UpdatedAt, &role.DeletedAt, &role.UsersCount); err != nil {
			return nil, err
		}
		list = append(list, role)
	}
	return list, rows.Err()
}

func (r *repository) Create(ctx context.Context, role Role) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO roles (name, display_name, description, color, permissions, level, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING id`,
		role.Name, role.DisplayName, role.Description, role.Color,
		role.Permissions, role.Level, role.IsDefault).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err, "roles_name_key") {
			return 0, shared.ErrDuplicateRoleName(role.Name)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, role Role) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE roles SET name = $2, display_name = $3, description = $4, color = $5,
			permissions = $6, level = $7, is_default = $8, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		role.ID, role.Name, role.DisplayName, role.Description, role.Color,
		role.Permissions, role.Level, role.IsDefault)
	if err != nil {
		if db.IsUniqueViolation(err, "roles_name_key") {
			return shared.ErrDuplicateRoleName(role.Name)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE roles SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM roles WHERE name = $1 AND id <> $2 AND deleted_at IS NULL)`,
		name, excludeID).Scan(&exists)
	return exists, err
}

func (r *repository) UsersCount(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM role_user WHERE role_id = $1`, roleID).Scan(&count)
	return count, err
}

func (r *repository) UsersOfRole(ctx context.Context, roleID int64) ([]RoleUser, error) {
	rows, err := r.db.Query(ctx, `
		SELECT u.id, u.name, u.email, ru.assigned_at
		FROM role_user ru
		JOIN users u ON u.id = ru.user_id
		WHERE ru.role_id = $1
		ORDER BY ru.assigned_at DESC`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []RoleUser
	for rows.Next() {
		var ru RoleUser
		if err := rows.Scan(&ru.ID, &ru.Name, &ru.Email, &ru.AssignedAt); err != nil {
			return nil, err
		}
		list = append(list, ru)
	}
	return list, rows.Err()
}

// UnsetDefaultExcept clears is_default on every role other than keepID. Run
// inside the same transaction that sets the new default.
func (r *repository) UnsetDefaultExcept(ctx context.Context, keepID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE roles SET is_default = FALSE, updated_at = now() WHERE is_default AND id <> $1`, keepID)
	return err
}

func (r *repository) DefaultRole(ctx context.Context) (*Role, error) {
	return scanRole(r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM roles r WHERE r.is_default AND r.deleted_at IS NULL ORDER BY r.id LIMIT 1`, roleColumns)))
}

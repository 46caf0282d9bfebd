package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/vantage-admin/vantage/internal/hierarchy"
	"github.com/vantage-admin/vantage/internal/platform/db"
	"github.com/vantage-admin/vantage/internal/roles"
	"github.com/vantage-admin/vantage/internal/shared"
)

// Repository provides persistence for user accounts and role assignments.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	WithSerializableTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*User, error)
	EmailExists(ctx context.Context, email string, excludeID int64) (bool, error)
	List(ctx context.Context, req ListUsersRequest, scope LevelScope) ([]User, int, error)
	ListAll(ctx context.Context, req ListUsersRequest, scope LevelScope) ([]User, error)
	Create(ctx context.Context, user User) (int64, error)
	Update(ctx context.Context, user User) error
	Archive(ctx context.Context, id, by int64) error
	Restore(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, status Status) error
	ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy int64) error
	LockTopRoleAssignments(ctx context.Context) error
	CountOtherTopRoleHolders(ctx context.Context, excludeUserID int64) (int, error)
	Search(ctx context.Context, query string, scope LevelScope, limit int) ([]User, error)
	Suggest(ctx context.Context, field, query string, limit int) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
}

// LevelScope restricts reads to targets strictly below a level. All is set
// for top-level actors, who see everyone.
type LevelScope struct {
	Below int
	All   bool
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

func (r *repository) WithSerializableTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const userColumns = `u.id, u.name, u.email, u.password_hash, u.phone, u.address,
	u.birth_date, u.avatar, u.status, u.archived_at, u.archived_by,
	u.last_login_at, u.created_at, u.updated_at`

const effectiveLevelExpr = `(SELECT COALESCE(MAX(r.level), 0)
	FROM role_user ru JOIN roles r ON r.id = ru.role_id
	WHERE ru.user_id = u.id AND r.deleted_at IS NULL)`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Phone, &u.Address,
		&u.BirthDate, &u.AvatarRef, &u.Status, &u.ArchivedAt, &u.ArchivedBy,
		&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*User, error) {
	user, err := scanUser(r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM users u WHERE u.id = $1`, userColumns), id))
	if err != nil {
		return nil, err
	}
	if err := r.attachRoles(ctx, []*User{user}); err != nil {
		return nil, err
	}
	return user, nil
}

// EmailExists checks the address against every row, archived users
// included.
func (r *repository) EmailExists(ctx context.Context, email string, excludeID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND id <> $2)`,
		email, excludeID).Scan(&exists)
	return exists, err
}

var userSortColumns = map[string]string{
	"name":          "u.name",
	"status":        "u.status",
	"last_login_at": "u.last_login_at",
	"created_at":    "u.created_at",
}

func (r *repository) buildListQuery(req ListUsersRequest, scope LevelScope) (string, string, []any, int) {
	conditions := []string{"TRUE"}
	args := []any{}
	argPos := 1

	if !scope.All {
		conditions = append(conditions, fmt.Sprintf("%s < $%d", effectiveLevelExpr, argPos))
		args = append(args, scope.Below)
		argPos++
	}
	if search := strings.TrimSpace(req.Search); search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(u.name ILIKE $%d OR u.email ILIKE $%d OR u.phone ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+search+"%")
		argPos++
	}
	if req.Status != "" {
		conditions = append(conditions, fmt.Sprintf("u.status = $%d", argPos))
		args = append(args, req.Status)
		argPos++
	}
	if req.Role != "" {
		conditions = append(conditions, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM role_user ru JOIN roles r ON r.id = ru.role_id
				WHERE ru.user_id = u.id AND r.name = $%d AND r.deleted_at IS NULL)`, argPos))
		args = append(args, req.Role)
		argPos++
	}
	if req.CreatedFrom != nil {
		conditions = append(conditions, fmt.Sprintf("u.created_at >= $%d", argPos))
		args = append(args, *req.CreatedFrom)
		argPos++
	}
	if req.CreatedTo != nil {
		conditions = append(conditions, fmt.Sprintf("u.created_at <= $%d", argPos))
		args = append(args, *req.CreatedTo)
		argPos++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	orderBy, ok := userSortColumns[req.SortBy]
	if !ok {
		orderBy = "u.created_at"
	}
	dir := "DESC"
	if strings.EqualFold(req.SortDir, "asc") {
		dir = "ASC"
	}
	orderClause := fmt.Sprintf("ORDER BY %s %s, u.id", orderBy, dir)
	return whereClause, orderClause, args, argPos
}

func (r *repository) List(ctx context.Context, req ListUsersRequest, scope LevelScope) ([]User, int, error) {
	whereClause, orderClause, args, argPos := r.buildListQuery(req, scope)

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM users u %s`, whereClause)

	perPage := req.PerPage
	if perPage <= 0 {
		perPage = shared.DefaultPerPage
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}

	query := fmt.Sprintf(`SELECT %s FROM users u %s %s LIMIT $%d OFFSET $%d`,
		userColumns, whereClause, orderClause, argPos, argPos+1)
	pageArgs := append(append([]any{}, args...), perPage, (page-1)*perPage)

	// Inside a transaction both queries must share the single connection;
	// on the pool they can run in parallel.
	var total int
	var list []User
	if _, pooled := r.db.(*pgxpool.Pool); pooled {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return r.db.QueryRow(gctx, countQuery, args...).Scan(&total)
		})
		g.Go(func() error {
			var err error
			list, err = r.queryUsers(gctx, query, pageArgs...)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, 0, err
		}
		return list, total, nil
	}

	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	list, err := r.queryUsers(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *repository) ListAll(ctx context.Context, req ListUsersRequest, scope LevelScope) ([]User, error) {
	whereClause, orderClause, args, _ := r.buildListQuery(req, scope)
	query := fmt.Sprintf(`SELECT %s FROM users u %s %s`, userColumns, whereClause, orderClause)
	return r.queryUsers(ctx, query, args...)
}

func (r *repository) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []User
	var refs []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Phone, &u.Address,
			&u.BirthDate, &u.AvatarRef, &u.Status, &u.ArchivedAt, &u.ArchivedBy,
			&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		refs = append(refs, &list[i])
	}
	if err := r.attachRoles(ctx, refs); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) attachRoles(ctx context.Context, list []*User) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[int64]*User, len(list))
	ids := make([]int64, 0, len(list))
	for _, u := range list {
		byID[u.ID] = u
		ids = append(ids, u.ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT ru.user_id, r.id, r.name, r.display_name, r.description, r.color,
			r.permissions, r.level, r.is_default, r.created_at, r.updated_at
		FROM role_user ru
		JOIN roles r ON r.id = ru.role_id
		WHERE ru.user_id = ANY($1) AND r.deleted_at IS NULL
		ORDER BY r.level DESC`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var userID int64
		var role roles.Role
		if err := rows.Scan(&userID, &role.ID, &role.Name, &role.DisplayName,
			&role.Description, &role.Color, &role.Permissions, &role.Level,
			&role.IsDefault, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return err
		}
		if u, ok := byID[userID]; ok {
			u.Roles = append(u.Roles, role)
		}
	}
	return rows.Err()
}

func (r *repository) Create(ctx context.Context, user User) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, phone, address, birth_date, avatar, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING id`,
		user.Name, user.Email, user.PasswordHash, user.Phone, user.Address,
		user.BirthDate, user.AvatarRef, user.Status).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err, "users_email_key") {
			return 0, shared.ErrDuplicateEmail(user.Email)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, user User) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET name = $2, email = $3, password_hash = $4, phone = $5,
			address = $6, birth_date = $7, avatar = $8, status = $9, updated_at = now()
		WHERE id = $1`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.Phone,
		user.Address, user.BirthDate, user.AvatarRef, user.Status)
	if err != nil {
		if db.IsUniqueViolation(err, "users_email_key") {
			return shared.ErrDuplicateEmail(user.Email)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Archive(ctx context.Context, id, by int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET status = 'archived', archived_at = now(), archived_by = $2, updated_at = now()
		WHERE id = $1`, id, by)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Restore(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET status = 'active', archived_at = NULL, archived_by = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ReplaceRoles syncs the user's assignments to exactly roleIDs, stamping
// assigned_by and assigned_at. The previous set is overwritten, not
// versioned.
func (r *repository) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_user WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		_, err := r.db.Exec(ctx, `
			INSERT INTO role_user (user_id, role_id, assigned_by, assigned_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID, assignedBy)
		if err != nil {
			return err
		}
	}
	return nil
}

// LockTopRoleAssignments takes row locks on every current top-role
// assignment so concurrent archive decisions serialize.
func (r *repository) LockTopRoleAssignments(ctx context.Context) error {
	rows, err := r.db.Query(ctx, `
		SELECT ru.user_id FROM role_user ru
		JOIN roles r ON r.id = ru.role_id
		WHERE r.name = $1 AND r.deleted_at IS NULL
		FOR UPDATE OF ru`, hierarchy.TopRoleName)
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

func (r *repository) CountOtherTopRoleHolders(ctx context.Context, excludeUserID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT ru.user_id) FROM role_user ru
		JOIN roles r ON r.id = ru.role_id
		JOIN users u ON u.id = ru.user_id
		WHERE r.name = $1 AND r.deleted_at IS NULL
			AND ru.user_id <> $2 AND u.status <> 'archived'`,
		hierarchy.TopRoleName, excludeUserID).Scan(&count)
	return count, err
}

func (r *repository) Search(ctx context.Context, query string, scope LevelScope, limit int) ([]User, error) {
	conditions := "u.status <> 'archived' AND (u.name ILIKE $1 OR u.email ILIKE $1)"
	args := []any{"%" + query + "%"}
	if !scope.All {
		conditions += fmt.Sprintf(" AND %s < $2", effectiveLevelExpr)
		args = append(args, scope.Below)
	}
	args = append(args, limit)
	sql := fmt.Sprintf(`SELECT %s FROM users u WHERE %s ORDER BY u.name LIMIT $%d`,
		userColumns, conditions, len(args))
	return r.queryUsers(ctx, sql, args...)
}

var suggestColumns = map[string]string{
	"name":  "name",
	"email": "email",
	"phone": "phone",
}

func (r *repository) Suggest(ctx context.Context, field, query string, limit int) ([]string, error) {
	column, ok := suggestColumns[field]
	if !ok {
		return nil, fmt.Errorf("users: unsupported suggestion field %q", field)
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT %s FROM users
		WHERE %s ILIKE $1 AND %s <> '' AND status <> 'archived'
		ORDER BY %s LIMIT $2`, column, column, column, column),
		"%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (r *repository) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[string]int)}

	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM users GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE created_at >= date_trunc('month', now())`).
		Scan(&stats.NewThisMonth)
	if err != nil {
		return stats, err
	}
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT role_id) FROM role_user`).Scan(&stats.RolesInUse)
	if err != nil {
		return stats, err
	}
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM roles WHERE is_default AND deleted_at IS NULL`).
		Scan(&stats.DefaultRoles)
	return stats, err
}

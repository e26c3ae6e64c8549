package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tinadmin.org/internal/auth"
	"tinadmin.org/internal/ids"
	"tinadmin.org/internal/obs"
)

func (s *Store) User(ctx context.Context, userID string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	var (
		user     auth.User
		tenantID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, email, role_id, tenant_id, created_at
		from users
		where id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.RoleID, &tenantID, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	user.TenantID = tenantID.String
	return user, nil
}

// Role loads a role with its permission set. Stored permission strings outside
// the catalog are dropped.
func (s *Store) Role(ctx context.Context, roleID string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, rp.permission
		from roles r
		left join role_permissions rp on rp.role_id = r.id
		where r.id = $1
		order by rp.permission
	`, roleID)
	if err != nil {
		return auth.Role{}, err
	}
	defer rows.Close()

	var (
		role  auth.Role
		found bool
	)
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&role.ID, &role.Name, &raw); err != nil {
			return auth.Role{}, err
		}
		found = true
		if !raw.Valid {
			continue
		}
		p, err := auth.ParsePermission(raw.String)
		if err != nil {
			obs.Logger().Warn("dropping unknown role permission",
				zap.String("role_id", roleID), zap.String("permission", raw.String))
			continue
		}
		role.Permissions = append(role.Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return auth.Role{}, err
	}
	if !found {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select id from roles order by name`)
	if err != nil {
		return nil, err
	}
	var roleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		roleIDs = append(roleIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roles := make([]auth.Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		role, err := s.Role(ctx, id)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// EnsureBuiltinRoles creates missing built-in roles and resets their permission
// sets to the catalog definition. Existing role ids are kept.
func (s *Store) EnsureBuiltinRoles(ctx context.Context, builtins []auth.BuiltinRole) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, b := range builtins {
		var roleID string
		err := tx.QueryRowContext(ctx, `
			insert into roles (id, name)
			values ($1, $2)
			on conflict (name) do update set name = excluded.name
			returning id
		`, ids.New(), b.Name).Scan(&roleID)
		if err != nil {
			return fmt.Errorf("ensure role %s: %w", b.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
			return err
		}
		for _, p := range b.Permissions {
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions (role_id, permission)
				values ($1, $2)
			`, roleID, string(p)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) PermissionOverrides(ctx context.Context, tenantID, userID string) ([]auth.PermissionOverride, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	query := `
		select tenant_id, user_id, permission, granted
		from tenant_permission_overrides
		where tenant_id = $1`
	args := []any{tenantID}
	if userID != "" {
		query += ` and user_id = $2`
		args = append(args, userID)
	}
	query += ` order by user_id, permission`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []auth.PermissionOverride
	for rows.Next() {
		var (
			o   auth.PermissionOverride
			raw string
		)
		if err := rows.Scan(&o.TenantID, &o.UserID, &raw, &o.Granted); err != nil {
			return nil, err
		}
		p, err := auth.ParsePermission(raw)
		if err != nil {
			obs.Logger().Warn("dropping unknown override permission",
				zap.String("tenant_id", tenantID), zap.String("user_id", o.UserID), zap.String("permission", raw))
			continue
		}
		o.Permission = p
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return overrides, nil
}

// SetPermissionOverride upserts the override for (tenant, user, permission).
func (s *Store) SetPermissionOverride(ctx context.Context, o auth.PermissionOverride) (auth.PermissionOverride, error) {
	if s.db == nil {
		return auth.PermissionOverride{}, errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into tenant_permission_overrides (tenant_id, user_id, permission, granted)
		values ($1, $2, $3, $4)
		on conflict (tenant_id, user_id, permission) do update set granted = excluded.granted
	`, o.TenantID, o.UserID, string(o.Permission), o.Granted)
	if err != nil {
		return auth.PermissionOverride{}, mapWriteErr(err)
	}
	return o, nil
}

func (s *Store) DeletePermissionOverride(ctx context.Context, tenantID, userID string, p auth.Permission) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from tenant_permission_overrides
		where tenant_id = $1 and user_id = $2 and permission = $3
	`, tenantID, userID, string(p))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

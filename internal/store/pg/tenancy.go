package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tinadmin.org/internal/auth"
	"tinadmin.org/internal/ids"
)

const tenantColumns = `id, name, domain, plan, settings, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (auth.Tenant, error) {
	var (
		t       auth.Tenant
		plan    sql.NullString
		rawSets []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Domain, &plan, &rawSets, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return auth.Tenant{}, err
	}
	t.Plan = plan.String
	settings, err := decodeJSON(rawSets)
	if err != nil {
		return auth.Tenant{}, err
	}
	t.Settings = settings
	return t, nil
}

func (s *Store) Tenant(ctx context.Context, tenantID string) (auth.Tenant, error) {
	if s.db == nil {
		return auth.Tenant{}, errNoDB
	}
	t, err := scanTenant(s.db.QueryRowContext(ctx, `select `+tenantColumns+` from tenants where id = $1`, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Tenant{}, auth.ErrNotFound
	}
	return t, err
}

func (s *Store) TenantByDomain(ctx context.Context, domain string) (auth.Tenant, error) {
	if s.db == nil {
		return auth.Tenant{}, errNoDB
	}
	t, err := scanTenant(s.db.QueryRowContext(ctx, `select `+tenantColumns+` from tenants where domain = $1`, strings.ToLower(domain)))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Tenant{}, auth.ErrNotFound
	}
	return t, err
}

func (s *Store) ListTenants(ctx context.Context) ([]auth.Tenant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+tenantColumns+` from tenants order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateTenant(ctx context.Context, t auth.Tenant) (auth.Tenant, error) {
	if s.db == nil {
		return auth.Tenant{}, errNoDB
	}
	settings, err := encodeJSON(t.Settings)
	if err != nil {
		return auth.Tenant{}, err
	}
	status := t.Status
	if status == "" {
		status = auth.TenantStatusActive
	}
	created, err := scanTenant(s.db.QueryRowContext(ctx, `
		insert into tenants (id, name, domain, plan, settings, status)
		values ($1, $2, $3, $4, $5, $6)
		returning `+tenantColumns,
		ids.New(), t.Name, t.Domain, nullIfEmpty(t.Plan), settings, status))
	if err != nil {
		return auth.Tenant{}, mapWriteErr(err)
	}
	return created, nil
}

func (s *Store) UpdateTenant(ctx context.Context, tenantID string, upd auth.TenantUpdate) (auth.Tenant, error) {
	if s.db == nil {
		return auth.Tenant{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Domain != nil {
		sets = append(sets, fmt.Sprintf("domain = $%d", idx))
		args = append(args, *upd.Domain)
		idx++
	}
	if upd.Plan != nil {
		sets = append(sets, fmt.Sprintf("plan = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Plan))
		idx++
	}
	if upd.Settings != nil {
		raw, err := encodeJSON(upd.Settings)
		if err != nil {
			return auth.Tenant{}, err
		}
		sets = append(sets, fmt.Sprintf("settings = $%d", idx))
		args = append(args, raw)
		idx++
	}
	if len(sets) == 0 {
		return s.Tenant(ctx, tenantID)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, tenantID)
	query := fmt.Sprintf(`update tenants set %s where id = $%d returning %s`, strings.Join(sets, ", "), idx, tenantColumns)
	t, err := scanTenant(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return auth.Tenant{}, mapWriteErr(err)
	}
	return t, nil
}

// DisableTenant is the only way a tenant leaves service; rows are never deleted.
func (s *Store) DisableTenant(ctx context.Context, tenantID string) (auth.Tenant, error) {
	if s.db == nil {
		return auth.Tenant{}, errNoDB
	}
	t, err := scanTenant(s.db.QueryRowContext(ctx, `
		update tenants set status = $2, updated_at = now()
		where id = $1
		returning `+tenantColumns, tenantID, auth.TenantStatusDisabled))
	if err != nil {
		return auth.Tenant{}, mapWriteErr(err)
	}
	return t, nil
}

const workspaceColumns = `id, tenant_id, name, description, created_at, updated_at`

func scanWorkspace(row rowScanner) (auth.Workspace, error) {
	var (
		ws   auth.Workspace
		desc sql.NullString
	)
	if err := row.Scan(&ws.ID, &ws.TenantID, &ws.Name, &desc, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		return auth.Workspace{}, err
	}
	ws.Description = desc.String
	return ws, nil
}

func (s *Store) ListWorkspaces(ctx context.Context, tenantID string) ([]auth.Workspace, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+workspaceColumns+`
		from workspaces
		where tenant_id = $1
		order by name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetWorkspace(ctx context.Context, tenantID, workspaceID string) (auth.Workspace, error) {
	if s.db == nil {
		return auth.Workspace{}, errNoDB
	}
	ws, err := scanWorkspace(s.db.QueryRowContext(ctx, `
		select `+workspaceColumns+`
		from workspaces
		where tenant_id = $1 and id = $2
	`, tenantID, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Workspace{}, auth.ErrNotFound
	}
	return ws, err
}

func (s *Store) CreateWorkspace(ctx context.Context, ws auth.Workspace) (auth.Workspace, error) {
	if s.db == nil {
		return auth.Workspace{}, errNoDB
	}
	created, err := scanWorkspace(s.db.QueryRowContext(ctx, `
		insert into workspaces (id, tenant_id, name, description)
		values ($1, $2, $3, $4)
		returning `+workspaceColumns,
		ids.New(), ws.TenantID, ws.Name, nullIfEmpty(ws.Description)))
	if err != nil {
		return auth.Workspace{}, mapWriteErr(err)
	}
	return created, nil
}

func (s *Store) UpdateWorkspace(ctx context.Context, tenantID, workspaceID string, upd auth.WorkspaceUpdate) (auth.Workspace, error) {
	if s.db == nil {
		return auth.Workspace{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		if *upd.Description == "" {
			sets = append(sets, "description = NULL")
		} else {
			sets = append(sets, fmt.Sprintf("description = $%d", idx))
			args = append(args, *upd.Description)
			idx++
		}
	}
	if len(sets) == 0 {
		return s.GetWorkspace(ctx, tenantID, workspaceID)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, tenantID, workspaceID)
	query := fmt.Sprintf(`update workspaces set %s where tenant_id = $%d and id = $%d returning %s`,
		strings.Join(sets, ", "), idx, idx+1, workspaceColumns)
	ws, err := scanWorkspace(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return auth.Workspace{}, mapWriteErr(err)
	}
	return ws, nil
}

func (s *Store) DeleteWorkspace(ctx context.Context, tenantID, workspaceID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from workspaces where tenant_id = $1 and id = $2`, tenantID, workspaceID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) ListMembers(ctx context.Context, tenantID, workspaceID string) ([]auth.Member, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select m.workspace_id, m.user_id, m.role_id, m.created_at
		from workspace_members m
		join workspaces w on w.id = m.workspace_id
		where w.tenant_id = $1 and m.workspace_id = $2
		order by m.created_at, m.user_id
	`, tenantID, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []auth.Member
	for rows.Next() {
		var m auth.Member
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.RoleID, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

// AddMember inserts only when both the workspace and the user belong to tenantID.
func (s *Store) AddMember(ctx context.Context, tenantID string, m auth.Member) (auth.Member, error) {
	if s.db == nil {
		return auth.Member{}, errNoDB
	}
	var out auth.Member
	err := s.db.QueryRowContext(ctx, `
		insert into workspace_members (workspace_id, user_id, role_id)
		select $1, $2, $3
		where exists (select 1 from workspaces where id = $1 and tenant_id = $4)
		  and exists (select 1 from users where id = $2 and tenant_id = $4)
		returning workspace_id, user_id, role_id, created_at
	`, m.WorkspaceID, m.UserID, m.RoleID, tenantID).Scan(&out.WorkspaceID, &out.UserID, &out.RoleID, &out.CreatedAt)
	if err != nil {
		return auth.Member{}, mapWriteErr(err)
	}
	return out, nil
}

func (s *Store) UpdateMember(ctx context.Context, tenantID, workspaceID, userID, roleID string) (auth.Member, error) {
	if s.db == nil {
		return auth.Member{}, errNoDB
	}
	var out auth.Member
	err := s.db.QueryRowContext(ctx, `
		update workspace_members m
		set role_id = $4
		from workspaces w
		where w.id = m.workspace_id and w.tenant_id = $1 and m.workspace_id = $2 and m.user_id = $3
		returning m.workspace_id, m.user_id, m.role_id, m.created_at
	`, tenantID, workspaceID, userID, roleID).Scan(&out.WorkspaceID, &out.UserID, &out.RoleID, &out.CreatedAt)
	if err != nil {
		return auth.Member{}, mapWriteErr(err)
	}
	return out, nil
}

func (s *Store) RemoveMember(ctx context.Context, tenantID, workspaceID, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from workspace_members m
		using workspaces w
		where w.id = m.workspace_id and w.tenant_id = $1 and m.workspace_id = $2 and m.user_id = $3
	`, tenantID, workspaceID, userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

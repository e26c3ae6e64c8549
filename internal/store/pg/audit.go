package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"tinadmin.org/internal/audit"
)

// auditErr reports a missing audit table or an unreachable database as
// audit.ErrStorageUnavailable.
func auditErr(err error) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUndefinedTable {
		return fmt.Errorf("%w: %s", audit.ErrStorageUnavailable, pgErr.Message)
	}
	var (
		connErr *pgconn.ConnectError
		netErr  net.Error
	)
	if errors.As(err, &connErr) || errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, errNoDB) {
		return fmt.Errorf("%w: %v", audit.ErrStorageUnavailable, err)
	}
	return err
}

func (s *Store) AppendAuditEntry(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return auditErr(errNoDB)
	}
	meta, err := encodeJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_logs (id, user_id, tenant_id, workspace_id, action, resource, permission, allowed, reason, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, nullIfEmpty(e.UserID), nullIfEmpty(e.TenantID), nullIfEmpty(e.WorkspaceID), e.Action,
		nullIfEmpty(e.Resource), nullIfEmpty(e.Permission), e.Allowed, nullIfEmpty(e.Reason), meta, e.CreatedAt)
	return auditErr(err)
}

func (s *Store) ListAuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, auditErr(errNoDB)
	}
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("user_id", f.UserID)
	add("tenant_id", f.TenantID)
	add("workspace_id", f.WorkspaceID)
	add("action", f.Action)

	query := `
		select id, user_id, tenant_id, workspace_id, action, resource, permission, allowed, reason, metadata, created_at
		from audit_logs`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	limit := f.Limit
	if limit <= 0 || limit > audit.MaxLimit {
		limit = audit.MaxLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(` order by created_at desc, id desc limit $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, auditErr(err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var userID, tenantID, wsID, res, perm, reason sql.NullString
		var meta []byte
		if err := rows.Scan(&e.ID, &userID, &tenantID, &wsID, &e.Action, &res, &perm, &e.Allowed, &reason, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID = userID.String
		e.TenantID = tenantID.String
		e.WorkspaceID = wsID.String
		e.Resource = res.String
		e.Permission = perm.String
		e.Reason = reason.String
		if e.Metadata, err = decodeJSON(meta); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, auditErr(err)
	}
	return entries, nil
}

package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"tinadmin.org/internal/audit"
	"tinadmin.org/internal/auth"
)

// handleAuditLogs lists audit entries of the resolved tenant. Without a tenant the
// query runs at platform scope and spans every tenant.
func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	sub := subject(r)
	q := r.URL.Query()

	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > audit.MaxLimit {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(audit.MaxLimit))
			return
		}
		limit = n
	}

	err := a.authz.Authorize(r.Context(), auth.AccessRequest{
		Subject:    sub,
		Permission: auth.PermAuditRead,
		Action:     "audit.query",
		Resource:   "audit_log",
	})
	if err != nil {
		handleActionError(w, r, err)
		return
	}

	entries := a.audit.Query(r.Context(), audit.Filter{
		UserID:      q.Get("user_id"),
		TenantID:    sub.TenantID,
		WorkspaceID: q.Get("workspace_id"),
		Action:      q.Get("action"),
		Limit:       limit,
	})
	writeJSON(w, http.StatusOK, items(entries))
}

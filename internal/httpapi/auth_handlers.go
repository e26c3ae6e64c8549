package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"tinadmin.org/internal/audit"
	"tinadmin.org/internal/auth"
	"tinadmin.org/internal/tenant"
)

type tokenRequest struct {
	UserID string `json:"user_id"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken mints a session token for an existing user. It only exists when
// dev tokens are enabled; production sessions come from the identity provider.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !a.devTokens {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	user, err := a.users.User(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "user not found")
			return
		}
		handleActionError(w, r, err)
		return
	}

	token, expiresAt, err := a.tokens.Generate(user.ID, user.Email, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    user.ID,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (a *API) handleMeTenant(w http.ResponseWriter, r *http.Request) {
	res, _ := tenant.FromContext(r.Context())
	writeJSON(w, http.StatusOK, res)
}

type permissionsResponse struct {
	TenantID    string                          `json:"tenant_id,omitempty"`
	Mode        string                          `json:"mode,omitempty"`
	Permissions []auth.Permission               `json:"permissions,omitempty"`
	Allowed     *bool                           `json:"allowed,omitempty"`
	Effective   map[auth.Permission]auth.Source `json:"effective,omitempty"`
}

// handleMePermissions answers a boolean gate for ?permission=a,b&mode=any|all, or
// lists the effective permissions when no permission is named.
func (a *API) handleMePermissions(w http.ResponseWriter, r *http.Request) {
	sub := subject(r)
	q := r.URL.Query()

	var perms []auth.Permission
	for _, raw := range q["permission"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			p, err := auth.ParsePermission(part)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "unknown permission "+part)
				return
			}
			perms = append(perms, p)
		}
	}

	if len(perms) == 0 {
		effective, err := a.authz.EffectivePermissions(r.Context(), sub.UserID, sub.TenantID)
		if err != nil {
			handleActionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, permissionsResponse{TenantID: sub.TenantID, Effective: effective})
		return
	}

	mode := strings.ToLower(strings.TrimSpace(q.Get("mode")))
	if mode == "" {
		mode = "all"
	}
	var allowed bool
	switch mode {
	case "any":
		if sub.TenantID == "" {
			allowed = a.authz.HasAnyPermission(r.Context(), sub.UserID, perms...)
		} else {
			allowed = a.authz.HasAnyTenantPermission(r.Context(), sub.UserID, sub.TenantID, perms...)
		}
	case "all":
		if sub.TenantID == "" {
			allowed = a.authz.HasAllPermissions(r.Context(), sub.UserID, perms...)
		} else {
			allowed = a.authz.HasAllTenantPermissions(r.Context(), sub.UserID, sub.TenantID, perms...)
		}
	default:
		writeError(w, r, http.StatusBadRequest, "mode must be any or all")
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{
		TenantID:    sub.TenantID,
		Mode:        mode,
		Permissions: perms,
		Allowed:     &allowed,
	})
}

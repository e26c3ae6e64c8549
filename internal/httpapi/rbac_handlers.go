package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tinadmin.org/internal/auth"
)

type createTenantRequest struct {
	Name     string         `json:"name"`
	Domain   string         `json:"domain"`
	Plan     string         `json:"plan"`
	Settings map[string]any `json:"settings"`
}

type updateTenantRequest struct {
	Name     *string        `json:"name"`
	Domain   *string        `json:"domain"`
	Plan     *string        `json:"plan"`
	Settings map[string]any `json:"settings"`
}

type overrideRequest struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission"`
	Granted    bool   `json:"granted"`
}

type permissionInfo struct {
	Name        auth.Permission `json:"name"`
	Description string          `json:"description"`
}

type roleResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Permissions []permissionInfo `json:"permissions"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	list, err := a.actions.ListRoles(r.Context(), subject(r))
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	out := make([]roleResponse, 0, len(list))
	for _, role := range list {
		resp := roleResponse{ID: role.ID, Name: role.Name, Permissions: []permissionInfo{}}
		for _, p := range auth.AllPermissions() {
			if role.Grants(p) {
				resp.Permissions = append(resp.Permissions, permissionInfo{Name: p, Description: p.Description()})
			}
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, items(out))
}

func (a *API) handleListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := a.actions.ListTenants(r.Context(), subject(r))
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items(list))
}

func (a *API) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	t, err := a.actions.CreateTenant(r.Context(), subject(r), req.Name, req.Domain, req.Plan, req.Settings)
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.actions.GetTenant(r.Context(), subject(r), chi.URLParam(r, "tenantID"))
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	var req updateTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	t, err := a.actions.UpdateTenant(r.Context(), subject(r), chi.URLParam(r, "tenantID"), auth.TenantUpdate{
		Name:     req.Name,
		Domain:   req.Domain,
		Plan:     req.Plan,
		Settings: req.Settings,
	})
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDisableTenant serves DELETE; tenants are disabled, never removed.
func (a *API) handleDisableTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.actions.DisableTenant(r.Context(), subject(r), chi.URLParam(r, "tenantID"))
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	list, err := a.actions.ListOverrides(r.Context(), subject(r), chi.URLParam(r, "tenantID"), r.URL.Query().Get("user_id"))
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items(list))
}

func (a *API) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := a.actions.SetOverride(r.Context(), subject(r), auth.PermissionOverride{
		TenantID:   chi.URLParam(r, "tenantID"),
		UserID:     req.UserID,
		Permission: auth.Permission(req.Permission),
		Granted:    req.Granted,
	})
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	err := a.actions.RemoveOverride(r.Context(), subject(r),
		chi.URLParam(r, "tenantID"), chi.URLParam(r, "userID"), auth.Permission(chi.URLParam(r, "permission")))
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

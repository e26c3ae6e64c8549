package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tinadmin.org/internal/auth"
)

type workspaceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type memberRequest struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func items[T any](in []T) listResponse[T] {
	if in == nil {
		in = []T{}
	}
	return listResponse[T]{Items: in}
}

func (a *API) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := a.actions.ListWorkspaces(r.Context(), subject(r))
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items(list))
}

func (a *API) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ws, err := a.actions.CreateWorkspace(r.Context(), subject(r), deref(req.Name), deref(req.Description))
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (a *API) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := a.actions.GetWorkspace(r.Context(), subject(r), chi.URLParam(r, "workspaceID"))
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (a *API) handleUpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ws, err := a.actions.UpdateWorkspace(r.Context(), subject(r), chi.URLParam(r, "workspaceID"), auth.WorkspaceUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (a *API) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := a.actions.DeleteWorkspace(r.Context(), subject(r), chi.URLParam(r, "workspaceID")); err != nil {
		handleActionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	list, err := a.actions.ListMembers(r.Context(), subject(r), chi.URLParam(r, "workspaceID"))
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items(list))
}

func (a *API) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.actions.AddMember(r.Context(), subject(r), chi.URLParam(r, "workspaceID"), req.UserID, req.RoleID)
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoleID string `json:"role_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.actions.UpdateMember(r.Context(), subject(r), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "userID"), req.RoleID)
	if err != nil {
		handleActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := a.actions.RemoveMember(r.Context(), subject(r), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "userID")); err != nil {
		handleActionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

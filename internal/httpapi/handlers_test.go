package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"tinadmin.org/internal/actions"
	"tinadmin.org/internal/audit"
	"tinadmin.org/internal/auth"
	"tinadmin.org/internal/tenant"
)

// memStore backs the resolver, the evaluator and the actions with maps.
type memStore struct {
	mu         sync.Mutex
	users      map[string]auth.User
	roles      map[string]auth.Role
	tenants    map[string]auth.Tenant
	overrides  []auth.PermissionOverride
	workspaces map[string]auth.Workspace
	members    []auth.Member
	writes     int
}

func newMemStore() *memStore {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &memStore{
		users: map[string]auth.User{
			"root":     {ID: "root", Email: "root@example.com", RoleID: "r-platform"},
			"admin":    {ID: "admin", Email: "admin@acme.test", RoleID: "r-admin", TenantID: "t1"},
			"viewer":   {ID: "viewer", Email: "viewer@acme.test", RoleID: "r-viewer", TenantID: "t1"},
			"outsider": {ID: "outsider", Email: "o@globex.test", RoleID: "r-admin", TenantID: "t2"},
		},
		roles: map[string]auth.Role{
			"r-platform": {ID: "r-platform", Name: auth.RolePlatformAdmin, Permissions: auth.AllPermissions()},
			"r-admin":    {ID: "r-admin", Name: auth.RoleTenantAdmin, Permissions: auth.BuiltinRoles[1].Permissions},
			"r-viewer":   {ID: "r-viewer", Name: auth.RoleViewer, Permissions: []auth.Permission{auth.PermTenantsRead, auth.PermUsersRead}},
		},
		tenants: map[string]auth.Tenant{
			"t1": {ID: "t1", Name: "Acme", Domain: "acme", Status: auth.TenantStatusActive, CreatedAt: now, UpdatedAt: now},
			"t2": {ID: "t2", Name: "Globex", Domain: "globex", Status: auth.TenantStatusActive, CreatedAt: now, UpdatedAt: now},
		},
		workspaces: map[string]auth.Workspace{
			"ws1": {ID: "ws1", TenantID: "t1", Name: "Support", CreatedAt: now, UpdatedAt: now},
			"ws2": {ID: "ws2", TenantID: "t2", Name: "Sales", CreatedAt: now, UpdatedAt: now},
		},
	}
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) User(_ context.Context, id string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *memStore) Role(_ context.Context, id string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, nil
}

func (s *memStore) Tenant(_ context.Context, id string) (auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return auth.Tenant{}, auth.ErrNotFound
	}
	return t, nil
}

func (s *memStore) TenantByDomain(_ context.Context, domain string) (auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Domain == domain {
			return t, nil
		}
	}
	return auth.Tenant{}, auth.ErrNotFound
}

func (s *memStore) ListRoles(context.Context) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) PermissionOverrides(_ context.Context, tenantID, userID string) ([]auth.PermissionOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.PermissionOverride
	for _, o := range s.overrides {
		if o.TenantID == tenantID && (userID == "" || o.UserID == userID) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) SetPermissionOverride(_ context.Context, o auth.PermissionOverride) (auth.PermissionOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for i, cur := range s.overrides {
		if cur.TenantID == o.TenantID && cur.UserID == o.UserID && cur.Permission == o.Permission {
			s.overrides[i] = o
			return o, nil
		}
	}
	s.overrides = append(s.overrides, o)
	return o, nil
}

func (s *memStore) DeletePermissionOverride(_ context.Context, tenantID, userID string, p auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for i, cur := range s.overrides {
		if cur.TenantID == tenantID && cur.UserID == userID && cur.Permission == p {
			s.overrides = append(s.overrides[:i], s.overrides[i+1:]...)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s *memStore) ListWorkspaces(_ context.Context, tenantID string) ([]auth.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Workspace
	for _, ws := range s.workspaces {
		if ws.TenantID == tenantID {
			out = append(out, ws)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) GetWorkspace(_ context.Context, tenantID, id string) (auth.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok || ws.TenantID != tenantID {
		return auth.Workspace{}, auth.ErrNotFound
	}
	return ws, nil
}

func (s *memStore) CreateWorkspace(_ context.Context, ws auth.Workspace) (auth.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for _, cur := range s.workspaces {
		if cur.TenantID == ws.TenantID && cur.Name == ws.Name {
			return auth.Workspace{}, auth.ErrConflict
		}
	}
	ws.ID = "ws-new"
	s.workspaces[ws.ID] = ws
	return ws, nil
}

func (s *memStore) UpdateWorkspace(_ context.Context, tenantID, id string, upd auth.WorkspaceUpdate) (auth.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	ws, ok := s.workspaces[id]
	if !ok || ws.TenantID != tenantID {
		return auth.Workspace{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		ws.Name = *upd.Name
	}
	if upd.Description != nil {
		ws.Description = *upd.Description
	}
	s.workspaces[id] = ws
	return ws, nil
}

func (s *memStore) DeleteWorkspace(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	ws, ok := s.workspaces[id]
	if !ok || ws.TenantID != tenantID {
		return auth.ErrNotFound
	}
	delete(s.workspaces, id)
	return nil
}

func (s *memStore) ListMembers(_ context.Context, tenantID, wsID string) ([]auth.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.workspaces[wsID]; !ok || ws.TenantID != tenantID {
		return nil, auth.ErrNotFound
	}
	var out []auth.Member
	for _, m := range s.members {
		if m.WorkspaceID == wsID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) AddMember(_ context.Context, tenantID string, m auth.Member) (auth.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	ws, ok := s.workspaces[m.WorkspaceID]
	u, uok := s.users[m.UserID]
	if !ok || !uok || ws.TenantID != tenantID || u.TenantID != tenantID {
		return auth.Member{}, auth.ErrNotFound
	}
	s.members = append(s.members, m)
	return m, nil
}

func (s *memStore) UpdateMember(_ context.Context, tenantID, wsID, userID, roleID string) (auth.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for i, m := range s.members {
		if m.WorkspaceID == wsID && m.UserID == userID && s.workspaces[wsID].TenantID == tenantID {
			s.members[i].RoleID = roleID
			return s.members[i], nil
		}
	}
	return auth.Member{}, auth.ErrNotFound
}

func (s *memStore) RemoveMember(_ context.Context, tenantID, wsID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for i, m := range s.members {
		if m.WorkspaceID == wsID && m.UserID == userID && s.workspaces[wsID].TenantID == tenantID {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s *memStore) ListTenants(context.Context) ([]auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) CreateTenant(_ context.Context, t auth.Tenant) (auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for _, cur := range s.tenants {
		if cur.Domain == t.Domain {
			return auth.Tenant{}, auth.ErrConflict
		}
	}
	t.ID = "t-" + t.Domain
	s.tenants[t.ID] = t
	return t, nil
}

func (s *memStore) UpdateTenant(_ context.Context, id string, upd auth.TenantUpdate) (auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	t, ok := s.tenants[id]
	if !ok {
		return auth.Tenant{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.Domain != nil {
		t.Domain = *upd.Domain
	}
	if upd.Plan != nil {
		t.Plan = *upd.Plan
	}
	if upd.Settings != nil {
		t.Settings = upd.Settings
	}
	s.tenants[id] = t
	return t, nil
}

func (s *memStore) DisableTenant(_ context.Context, id string) (auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	t, ok := s.tenants[id]
	if !ok {
		return auth.Tenant{}, auth.ErrNotFound
	}
	t.Status = auth.TenantStatusDisabled
	s.tenants[id] = t
	return t, nil
}

// memAudit keeps audit entries in insertion order.
type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAudit) AppendAuditEntry(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) ListAuditEntries(context.Context, audit.Filter) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...), nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	tokens  *auth.Tokens
	store   *memStore
	audit   *memAudit
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := newMemStore()
	trail := &memAudit{}
	logger := audit.NewLogger(trail)
	evaluator, err := auth.NewEvaluator(store, auth.WithRecorder(logger))
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	resolver, err := tenant.NewResolver(store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	svc, err := actions.NewService(store, evaluator)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	tokens, err := auth.NewTokens("test-secret", "tinadmin-test")
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	api, err := New(Options{
		Version:    "test",
		Tokens:     tokens,
		TokenTTL:   time.Minute,
		DevTokens:  true,
		Users:      store,
		Resolver:   resolver,
		Authz:      evaluator,
		Actions:    svc,
		Audit:      logger,
		RateBurst:  1000,
		RatePerSec: 1000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		tokens:  tokens,
		store:   store,
		audit:   trail,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, params url.Values, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, u.String(), bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, params, nil, headers)
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, nil, body, headers)
}

// as returns bearer headers for userID, signed directly with the test secret.
func (c *apiClient) as(userID string) map[string]string {
	c.t.Helper()
	token, _, err := c.tokens.Generate(userID, userID+"@example.com", time.Minute)
	if err != nil {
		c.t.Fatalf("generate token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body.String())
	}
}

func TestHealthzIsPublic(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers")
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/workspaces", nil, map[string]string{"X-Request-ID": "req-42"})
	expectStatus(t, resp, http.StatusUnauthorized)
	body := decode[map[string]any](t, resp)
	if body["error"] != "missing bearer token" || body["request_id"] != "req-42" {
		t.Fatalf("unexpected body: %v", body)
	}

	resp = api.get("/v1/workspaces", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestAuthTokenIssuesUsableSession(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"user_id": "ghost"}, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.post("/v1/auth/token", map[string]any{"user_id": "viewer"}, nil)
	expectStatus(t, resp, http.StatusOK)
	issued := decode[tokenResponse](t, resp)
	if issued.Token == "" || issued.ExpiresAt.IsZero() {
		t.Fatalf("unexpected token response: %+v", issued)
	}

	resp = api.get("/v1/me/tenant", nil, map[string]string{"Authorization": "Bearer " + issued.Token})
	expectStatus(t, resp, http.StatusOK)
	res := decode[tenant.Resolution](t, resp)
	if res.TenantID != "t1" || res.Source != tenant.SourceSession {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestExplicitTenantHeaderWinsOverSession(t *testing.T) {
	api := newTestAPI(t)
	headers := api.as("root")
	headers["X-Tenant-ID"] = "t2"

	resp := api.get("/v1/me/tenant", nil, headers)
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-Tenant-Source") != string(tenant.SourceHeader) {
		t.Fatalf("expected header source, got %q", resp.Header.Get("X-Tenant-Source"))
	}
	res := decode[tenant.Resolution](t, resp)
	if res.TenantID != "t2" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestViewerCannotDeleteWorkspace(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodDelete, "/v1/workspaces/ws1", nil, nil, api.as("viewer"))
	expectStatus(t, resp, http.StatusForbidden)
	body := decode[map[string]any](t, resp)
	if body["error"] != "missing permission tenants.delete" || body["request_id"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}
	if n := api.store.writeCount(); n != 0 {
		t.Fatalf("denied delete reached the store %d times", n)
	}

	api.audit.mu.Lock()
	defer api.audit.mu.Unlock()
	if len(api.audit.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(api.audit.entries))
	}
	e := api.audit.entries[0]
	if e.Allowed || e.Action != "workspace.delete" || e.WorkspaceID != "ws1" || e.Metadata["request_id"] == nil {
		t.Fatalf("unexpected audit entry: %+v", e)
	}
}

func TestWorkspaceLifecycle(t *testing.T) {
	api := newTestAPI(t)
	admin := api.as("admin")

	resp := api.post("/v1/workspaces", map[string]any{"name": "  Billing  "}, admin)
	expectStatus(t, resp, http.StatusCreated)
	ws := decode[auth.Workspace](t, resp)
	if ws.Name != "Billing" || ws.TenantID != "t1" {
		t.Fatalf("unexpected workspace: %+v", ws)
	}

	resp = api.post("/v1/workspaces", map[string]any{"name": "Billing"}, admin)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.do(http.MethodPatch, "/v1/workspaces/"+ws.ID, nil, map[string]any{"description": "invoices"}, admin)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[auth.Workspace](t, resp); got.Description != "invoices" || got.Name != "Billing" {
		t.Fatalf("unexpected update: %+v", got)
	}

	resp = api.get("/v1/workspaces", nil, admin)
	expectStatus(t, resp, http.StatusOK)
	list := decode[listResponse[auth.Workspace]](t, resp)
	if len(list.Items) != 2 {
		t.Fatalf("expected tenant t1 workspaces only, got %+v", list.Items)
	}

	resp = api.get("/v1/workspaces/ws2", nil, admin)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/workspaces/"+ws.ID, nil, nil, admin)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestMembershipRoutes(t *testing.T) {
	api := newTestAPI(t)
	admin := api.as("admin")

	resp := api.post("/v1/workspaces/ws1/members", map[string]any{"user_id": "viewer", "role_id": "r-viewer"}, admin)
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.post("/v1/workspaces/ws1/members", map[string]any{"user_id": "outsider", "role_id": "r-viewer"}, admin)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.do(http.MethodPatch, "/v1/workspaces/ws1/members/viewer", nil, map[string]any{"role_id": "r-admin"}, admin)
	expectStatus(t, resp, http.StatusOK)
	if m := decode[auth.Member](t, resp); m.RoleID != "r-admin" {
		t.Fatalf("unexpected member: %+v", m)
	}

	resp = api.get("/v1/workspaces/ws1/members", nil, api.as("viewer"))
	expectStatus(t, resp, http.StatusOK)
	if list := decode[listResponse[auth.Member]](t, resp); len(list.Items) != 1 {
		t.Fatalf("unexpected members: %+v", list.Items)
	}

	resp = api.do(http.MethodDelete, "/v1/workspaces/ws1/members/viewer", nil, nil, api.as("viewer"))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/workspaces/ws1/members/viewer", nil, nil, admin)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestInvalidBodyIsBadRequest(t *testing.T) {
	api := newTestAPI(t)
	admin := api.as("admin")

	resp := api.post("/v1/workspaces", map[string]any{"name": "x", "owner": "me"}, admin)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post("/v1/workspaces", map[string]any{"name": "   "}, admin)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	if n := api.store.writeCount(); n != 0 {
		t.Fatalf("invalid input reached the store %d times", n)
	}
}

func TestTenantRoutes(t *testing.T) {
	api := newTestAPI(t)
	root := api.as("root")
	admin := api.as("admin")

	resp := api.get("/v1/tenants", nil, admin)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/tenants", nil, root)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[listResponse[auth.Tenant]](t, resp); len(list.Items) != 2 {
		t.Fatalf("unexpected tenants: %+v", list.Items)
	}

	resp = api.post("/v1/tenants", map[string]any{"name": "Initech", "domain": "Initech"}, root)
	expectStatus(t, resp, http.StatusCreated)
	created := decode[auth.Tenant](t, resp)
	if created.Domain != "initech" || created.Status != auth.TenantStatusActive {
		t.Fatalf("unexpected tenant: %+v", created)
	}

	resp = api.post("/v1/tenants", map[string]any{"name": "Bad", "domain": "not a label"}, root)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/v1/tenants/t2", nil, admin)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodPatch, "/v1/tenants/t1", nil, map[string]any{"name": "Acme Corp", "plan": "pro"}, admin)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[auth.Tenant](t, resp); got.Name != "Acme Corp" || got.Plan != "pro" {
		t.Fatalf("unexpected tenant: %+v", got)
	}

	resp = api.do(http.MethodDelete, "/v1/tenants/t2", nil, nil, root)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[auth.Tenant](t, resp); got.Status != auth.TenantStatusDisabled {
		t.Fatalf("expected disabled tenant, got %+v", got)
	}

	resp = api.get("/v1/workspaces", nil, api.as("outsider"))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestOverridesReplaceRoleDecision(t *testing.T) {
	api := newTestAPI(t)
	root := api.as("root")
	root["X-Tenant-ID"] = "t1"
	admin := api.as("admin")

	resp := api.do(http.MethodPut, "/v1/tenants/t1/overrides", nil,
		map[string]any{"user_id": "viewer", "permission": "tenants.delete", "granted": true}, admin)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodPut, "/v1/tenants/t1/overrides", nil,
		map[string]any{"user_id": "viewer", "permission": "tenants.delete", "granted": true}, root)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/workspaces/ws1", nil, nil, api.as("viewer"))
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.get("/v1/tenants/t1/overrides", url.Values{"user_id": {"viewer"}}, root)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[listResponse[auth.PermissionOverride]](t, resp); len(list.Items) != 1 {
		t.Fatalf("unexpected overrides: %+v", list.Items)
	}

	resp = api.do(http.MethodDelete, "/v1/tenants/t1/overrides/viewer/tenants.delete", nil, nil, root)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/tenants/t1/overrides/viewer/tenants.nuke", nil, nil, root)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestMePermissions(t *testing.T) {
	api := newTestAPI(t)
	viewer := api.as("viewer")

	resp := api.get("/v1/me/permissions", url.Values{"permission": {"tenants.read,tenants.delete"}, "mode": {"any"}}, viewer)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[permissionsResponse](t, resp); got.Allowed == nil || !*got.Allowed || got.TenantID != "t1" {
		t.Fatalf("expected any-mode allow, got %+v", got)
	}

	resp = api.get("/v1/me/permissions", url.Values{"permission": {"tenants.read", "tenants.delete"}}, viewer)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[permissionsResponse](t, resp); got.Allowed == nil || *got.Allowed || got.Mode != "all" {
		t.Fatalf("expected all-mode deny, got %+v", got)
	}

	resp = api.get("/v1/me/permissions", url.Values{"permission": {"tenants.fly"}}, viewer)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/v1/me/permissions", url.Values{"permission": {"tenants.read"}, "mode": {"some"}}, viewer)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/v1/me/permissions", nil, viewer)
	expectStatus(t, resp, http.StatusOK)
	got := decode[permissionsResponse](t, resp)
	if len(got.Effective) != 2 || got.Effective[auth.PermUsersRead] != auth.SourceRole {
		t.Fatalf("unexpected effective permissions: %+v", got.Effective)
	}
}

func TestRolesListCatalogDescriptions(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/roles", nil, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.get("/v1/roles", nil, api.as("viewer"))
	expectStatus(t, resp, http.StatusOK)
	list := decode[listResponse[roleResponse]](t, resp)
	if len(list.Items) != 3 {
		t.Fatalf("expected 3 roles, got %+v", list.Items)
	}
	viewerRole := list.Items[2]
	if viewerRole.ID != "r-viewer" || len(viewerRole.Permissions) != 2 {
		t.Fatalf("unexpected viewer role: %+v", viewerRole)
	}
	first := viewerRole.Permissions[0]
	if first.Name != auth.PermTenantsRead || first.Description != auth.PermTenantsRead.Description() || first.Description == "" {
		t.Fatalf("unexpected permission entry: %+v", first)
	}
}

func TestAuditLogsAreTenantScoped(t *testing.T) {
	api := newTestAPI(t)

	// a denied delete and a denied cross-tenant read, both against t1
	resp := api.do(http.MethodDelete, "/v1/workspaces/ws1", nil, nil, api.as("viewer"))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
	resp = api.get("/v1/tenants/t1", nil, api.as("outsider"))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/audit-logs", nil, api.as("viewer"))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/audit-logs", url.Values{"action": {"workspace.delete"}}, api.as("admin"))
	expectStatus(t, resp, http.StatusOK)
	list := decode[listResponse[audit.Entry]](t, resp)
	if len(list.Items) != 1 || list.Items[0].UserID != "viewer" || list.Items[0].TenantID != "t1" {
		t.Fatalf("unexpected entries: %+v", list.Items)
	}

	resp = api.get("/v1/audit-logs", url.Values{"limit": {"0"}}, api.as("admin"))
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/nope", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	if body := decode[map[string]any](t, resp); body["error"] != "not found" {
		t.Fatalf("unexpected body: %v", body)
	}
}

package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tinadmin.org/internal/actions"
	"tinadmin.org/internal/audit"
	"tinadmin.org/internal/auth"
	"tinadmin.org/internal/obs"
	"tinadmin.org/internal/tenant"
)

// ReadyProbe pings the database for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Authorizer answers permission questions for the session user.
type Authorizer interface {
	Authorize(ctx context.Context, req auth.AccessRequest) error
	HasAnyPermission(ctx context.Context, userID string, perms ...auth.Permission) bool
	HasAllPermissions(ctx context.Context, userID string, perms ...auth.Permission) bool
	HasAnyTenantPermission(ctx context.Context, userID, tenantID string, perms ...auth.Permission) bool
	HasAllTenantPermissions(ctx context.Context, userID, tenantID string, perms ...auth.Permission) bool
	EffectivePermissions(ctx context.Context, userID, tenantID string) (map[auth.Permission]auth.Source, error)
}

// TenantResolver picks the active tenant of a request.
type TenantResolver interface {
	Resolve(ctx context.Context, req tenant.Request) tenant.Resolution
}

// AuditQuerier reads the audit trail.
type AuditQuerier interface {
	Query(ctx context.Context, f audit.Filter) []audit.Entry
}

// UserDirectory looks up users for token issuance.
type UserDirectory interface {
	User(ctx context.Context, userID string) (auth.User, error)
}

// Options wires the API. Tokens, Resolver, Authz, Actions and Audit are required.
type Options struct {
	Version        string
	Ready          ReadyProbe
	Tokens         *auth.Tokens
	TokenTTL       time.Duration
	DevTokens      bool
	Users          UserDirectory
	Resolver       TenantResolver
	Authz          Authorizer
	Actions        *actions.Service
	Audit          AuditQuerier
	RateBurst      int
	RatePerSec     float64
	MaxBodyBytes   int64
	AllowedOrigins []string
	TrustedProxies []string
}

// API is the HTTP layer.
type API struct {
	router chi.Router

	version    string
	readyProbe ReadyProbe
	tokens     *auth.Tokens
	tokenTTL   time.Duration
	devTokens  bool
	users      UserDirectory
	resolver   TenantResolver
	authz      Authorizer
	actions    *actions.Service
	audit      AuditQuerier

	rateBurst      int
	ratePerSec     float64
	maxBodyBytes   int64
	allowedOrigins []string
	trustedProxies []netip.Prefix
}

func New(opts Options) (*API, error) {
	switch {
	case opts.Tokens == nil:
		return nil, errors.New("token issuer is required")
	case opts.Resolver == nil:
		return nil, errors.New("tenant resolver is required")
	case opts.Authz == nil:
		return nil, errors.New("authorizer is required")
	case opts.Actions == nil:
		return nil, errors.New("actions service is required")
	case opts.Audit == nil:
		return nil, errors.New("audit querier is required")
	case opts.DevTokens && opts.Users == nil:
		return nil, errors.New("dev tokens need a user directory")
	}
	a := &API{
		version:        opts.Version,
		readyProbe:     opts.Ready,
		tokens:         opts.Tokens,
		tokenTTL:       opts.TokenTTL,
		devTokens:      opts.DevTokens,
		users:          opts.Users,
		resolver:       opts.Resolver,
		authz:          opts.Authz,
		actions:        opts.Actions,
		audit:          opts.Audit,
		rateBurst:      opts.RateBurst,
		ratePerSec:     opts.RatePerSec,
		maxBodyBytes:   opts.MaxBodyBytes,
		allowedOrigins: opts.AllowedOrigins,
	}
	trusted, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a.trustedProxies = trusted
	if a.tokenTTL <= 0 {
		a.tokenTTL = time.Hour
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.allowedOrigins))
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec, a.trustedProxies) })
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBodyBytes) })
	r.Use(obs.Instrument)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())
	r.Post("/v1/auth/token", a.handleAuthToken)

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)
		r.Use(a.withTenant)

		r.Get("/v1/me/tenant", a.handleMeTenant)
		r.Get("/v1/me/permissions", a.handleMePermissions)

		r.Route("/v1/workspaces", func(r chi.Router) {
			r.Get("/", a.handleListWorkspaces)
			r.Post("/", a.handleCreateWorkspace)
			r.Route("/{workspaceID}", func(r chi.Router) {
				r.Get("/", a.handleGetWorkspace)
				r.Patch("/", a.handleUpdateWorkspace)
				r.Delete("/", a.handleDeleteWorkspace)
				r.Get("/members", a.handleListMembers)
				r.Post("/members", a.handleAddMember)
				r.Patch("/members/{userID}", a.handleUpdateMember)
				r.Delete("/members/{userID}", a.handleRemoveMember)
			})
		})

		r.Route("/v1/tenants", func(r chi.Router) {
			r.Get("/", a.handleListTenants)
			r.Post("/", a.handleCreateTenant)
			r.Route("/{tenantID}", func(r chi.Router) {
				r.Get("/", a.handleGetTenant)
				r.Patch("/", a.handleUpdateTenant)
				r.Delete("/", a.handleDisableTenant)
				r.Get("/overrides", a.handleListOverrides)
				r.Put("/overrides", a.handleSetOverride)
				r.Delete("/overrides/{userID}/{permission}", a.handleRemoveOverride)
			})
		})

		r.Get("/v1/roles", a.handleListRoles)
		r.Get("/v1/audit-logs", a.handleAuditLogs)
	})
	return r
}

// Handler returns the root handler for the server.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tinadmin-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// subject builds the permission subject from the session user and resolved tenant.
func subject(r *http.Request) auth.Subject {
	userID, _ := auth.UserIDFromContext(r.Context())
	res, _ := tenant.FromContext(r.Context())
	return auth.Subject{UserID: userID, TenantID: res.TenantID}
}

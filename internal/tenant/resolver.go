package tenant

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tinadmin.org/internal/auth"
	"tinadmin.org/internal/obs"
)

// Source identifies which input produced a resolution.
type Source string

const (
	SourceSubdomain Source = "subdomain"
	SourceHeader    Source = "header"
	SourceSession   Source = "session"
	SourceNone      Source = "none"
)

const (
	// HeaderTenantID carries an explicit tenant id inbound and the resolved id downstream.
	HeaderTenantID      = "X-Tenant-ID"
	// HeaderTenantSource carries the resolution source downstream.
	HeaderTenantSource  = "X-Tenant-Source"
	HeaderForwardedHost = "X-Forwarded-Host"
	QueryTenantID       = "tenant_id"
)

// Resolution is the active tenant for a request. An empty TenantID means no tenant.
type Resolution struct {
	TenantID string `json:"tenant_id"`
	Source   Source `json:"source"`
}

// HasTenant reports whether a tenant was resolved.
func (r Resolution) HasTenant() bool { return r.TenantID != "" }

// Request is the slice of request context the resolver consumes.
type Request struct {
	Host          string
	ForwardedHost string
	TenantHeader  string
	TenantQuery   string
	UserID        string
}

// RequestFromHTTP collects resolver inputs from r. userID is the authenticated
// user, empty when there is no session.
func RequestFromHTTP(r *http.Request, userID string) Request {
	return Request{
		Host:          r.Host,
		ForwardedHost: r.Header.Get(HeaderForwardedHost),
		TenantHeader:  r.Header.Get(HeaderTenantID),
		TenantQuery:   r.URL.Query().Get(QueryTenantID),
		UserID:        userID,
	}
}

// Directory is the lookup surface the resolver needs.
type Directory interface {
	TenantByDomain(ctx context.Context, domain string) (auth.Tenant, error)
	Tenant(ctx context.Context, tenantID string) (auth.Tenant, error)
	User(ctx context.Context, userID string) (auth.User, error)
	Role(ctx context.Context, roleID string) (auth.Role, error)
}

// Resolver picks the active tenant: subdomain, then explicit header, then session.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("tenant directory is required")
	}
	return &Resolver{dir: dir}, nil
}

// Resolve never fails: lookup misses and store errors fall through to the next
// source and finally to "none".
func (r *Resolver) Resolve(ctx context.Context, req Request) Resolution {
	res := r.resolve(ctx, req)
	obs.TenantResolutions.WithLabelValues(string(res.Source)).Inc()
	return res
}

func (r *Resolver) resolve(ctx context.Context, req Request) Resolution {
	host := req.Host
	if fwd := firstValue(req.ForwardedHost); fwd != "" {
		host = fwd
	}
	if sub, ok := Subdomain(host); ok {
		t, err := r.dir.TenantByDomain(ctx, sub)
		if r.usable(t, err, "subdomain") {
			return Resolution{TenantID: t.ID, Source: SourceSubdomain}
		}
	}

	explicit := strings.TrimSpace(req.TenantHeader)
	if explicit == "" {
		explicit = strings.TrimSpace(req.TenantQuery)
	}
	if explicit != "" {
		t, err := r.dir.Tenant(ctx, explicit)
		if r.usable(t, err, "header") {
			return Resolution{TenantID: t.ID, Source: SourceHeader}
		}
	}

	if userID := strings.TrimSpace(req.UserID); userID != "" {
		if res, ok := r.fromSession(ctx, userID); ok {
			return res
		}
	}
	return Resolution{Source: SourceNone}
}

func (r *Resolver) fromSession(ctx context.Context, userID string) (Resolution, bool) {
	user, err := r.dir.User(ctx, userID)
	if err != nil {
		logMiss("session", err)
		return Resolution{}, false
	}
	if user.TenantID != "" {
		return Resolution{TenantID: user.TenantID, Source: SourceSession}, true
	}
	role, err := r.dir.Role(ctx, user.RoleID)
	if err != nil {
		logMiss("session", err)
		return Resolution{}, false
	}
	if role.IsPlatformAdmin() {
		// platform admins are not forced into any tenant
		return Resolution{Source: SourceSession}, true
	}
	return Resolution{}, false
}

func (r *Resolver) usable(t auth.Tenant, err error, source string) bool {
	if err != nil {
		logMiss(source, err)
		return false
	}
	return t.ID != "" && t.Active()
}

func logMiss(source string, err error) {
	if errors.Is(err, auth.ErrNotFound) {
		return
	}
	obs.Logger().Warn("tenant lookup failed", zap.String("source", source), zap.Error(err))
}

// Subdomain extracts the leftmost label of host when host has at least three
// labels and is neither an IP literal nor localhost.
func Subdomain(host string) (string, bool) {
	host = normalizeHost(host)
	if host == "" || net.ParseIP(host) != nil {
		return "", false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return "", false
	}
	sub := labels[0]
	if sub == "" || sub == "localhost" {
		return "", false
	}
	return sub, true
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return strings.TrimSuffix(host, ".")
}

func firstValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

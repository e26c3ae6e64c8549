package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tinadmin.org/internal/obs"
)

// Source names the layer that decided a permission.
type Source string

const (
	SourceTenant Source = "tenant"
	SourceRole   Source = "role"
	SourceNone   Source = "none"
)

// PermissionStore is the read side the evaluator needs from the backing store.
type PermissionStore interface {
	User(ctx context.Context, userID string) (User, error)
	Role(ctx context.Context, roleID string) (Role, error)
	Tenant(ctx context.Context, tenantID string) (Tenant, error)
	PermissionOverrides(ctx context.Context, tenantID, userID string) ([]PermissionOverride, error)
}

// Decision is one evaluated access request.
type Decision struct {
	UserID      string
	TenantID    string
	WorkspaceID string
	Action      string
	Resource    string
	Permission  Permission
	Allowed     bool
	Source      Source
	Reason      string
}

// DecisionRecorder receives every Authorize decision. Implementations must not block
// or fail the caller.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d Decision)
}

// AccessRequest describes a gated action.
type AccessRequest struct {
	Subject     Subject
	Permission  Permission
	Action      string
	Resource    string
	WorkspaceID string
}

// Evaluator answers allow/deny questions for (user, tenant) pairs. Every failure
// to resolve the user, role or tenant denies.
type Evaluator struct {
	store    PermissionStore
	recorder DecisionRecorder
}

// EvaluatorOption configures Evaluator.
type EvaluatorOption func(*Evaluator)

// WithRecorder routes Authorize decisions to r.
func WithRecorder(r DecisionRecorder) EvaluatorOption {
	return func(e *Evaluator) { e.recorder = r }
}

func NewEvaluator(store PermissionStore, opts ...EvaluatorOption) (*Evaluator, error) {
	if store == nil {
		return nil, errors.New("permission store is required")
	}
	e := &Evaluator{store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// HasPermission checks p against the user's own tenant.
func (e *Evaluator) HasPermission(ctx context.Context, userID string, p Permission) bool {
	return e.HasAllPermissions(ctx, userID, p)
}

// HasAnyPermission is true when at least one of perms is allowed.
func (e *Evaluator) HasAnyPermission(ctx context.Context, userID string, perms ...Permission) bool {
	return e.load(ctx, userID, "", false).any(perms)
}

// HasAllPermissions is true when every one of perms is allowed. An empty list denies.
func (e *Evaluator) HasAllPermissions(ctx context.Context, userID string, perms ...Permission) bool {
	return e.load(ctx, userID, "", false).all(perms)
}

// HasTenantPermission checks p for userID inside tenantID.
func (e *Evaluator) HasTenantPermission(ctx context.Context, userID, tenantID string, p Permission) bool {
	return e.HasAllTenantPermissions(ctx, userID, tenantID, p)
}

func (e *Evaluator) HasAnyTenantPermission(ctx context.Context, userID, tenantID string, perms ...Permission) bool {
	return e.load(ctx, userID, tenantID, true).any(perms)
}

func (e *Evaluator) HasAllTenantPermissions(ctx context.Context, userID, tenantID string, perms ...Permission) bool {
	return e.load(ctx, userID, tenantID, true).all(perms)
}

// PermissionSource reports which layer decided p for the pair. A tenant override
// decides both grants and revocations; SourceNone means nothing granted it.
func (e *Evaluator) PermissionSource(ctx context.Context, userID, tenantID string, p Permission) Source {
	_, src := e.load(ctx, userID, tenantID, true).decide(p)
	return src
}

// EffectivePermissions lists the allowed catalog permissions with their deciding layer.
func (e *Evaluator) EffectivePermissions(ctx context.Context, userID, tenantID string) (map[Permission]Source, error) {
	g := e.load(ctx, userID, tenantID, true)
	if g.reason != "" {
		return nil, &AuthorizationError{UserID: userID, TenantID: tenantID, Action: "permissions.list", Reason: g.reason}
	}
	out := make(map[Permission]Source)
	for _, p := range AllPermissions() {
		if ok, src := g.decide(p); ok {
			out[p] = src
		}
	}
	return out, nil
}

// Authorize gates an action. It returns *AuthorizationError on deny and reports the
// decision to the recorder either way.
func (e *Evaluator) Authorize(ctx context.Context, req AccessRequest) error {
	g := e.load(ctx, req.Subject.UserID, req.Subject.TenantID, true)
	allowed, src := g.decide(req.Permission)
	observe(req.Permission, allowed, src)

	reason := g.reason
	if reason == "" {
		reason = decisionReason(allowed, src)
	}
	if e.recorder != nil {
		e.recorder.RecordDecision(ctx, Decision{
			UserID:      req.Subject.UserID,
			TenantID:    req.Subject.TenantID,
			WorkspaceID: req.WorkspaceID,
			Action:      req.Action,
			Resource:    req.Resource,
			Permission:  req.Permission,
			Allowed:     allowed,
			Source:      src,
			Reason:      reason,
		})
	}
	if !allowed {
		return &AuthorizationError{
			UserID:     req.Subject.UserID,
			TenantID:   req.Subject.TenantID,
			Permission: req.Permission,
			Action:     req.Action,
			Reason:     reason,
		}
	}
	return nil
}

// grants is the resolved permission view of one (user, tenant) pair.
// A non-empty reason means resolution failed and everything is denied.
type grants struct {
	role      map[Permission]struct{}
	overrides map[Permission]bool
	reason    string
}

func denied(reason string) grants { return grants{reason: reason} }

func (g grants) decide(p Permission) (bool, Source) {
	if g.reason != "" || !p.Valid() {
		return false, SourceNone
	}
	if granted, ok := g.overrides[p]; ok {
		return granted, SourceTenant
	}
	if _, ok := g.role[p]; ok {
		return true, SourceRole
	}
	return false, SourceNone
}

func (g grants) any(perms []Permission) bool {
	found := false
	for _, p := range perms {
		ok, src := g.decide(p)
		observe(p, ok, src)
		if ok {
			found = true
		}
	}
	return found
}

func (g grants) all(perms []Permission) bool {
	if len(perms) == 0 {
		return false
	}
	result := true
	for _, p := range perms {
		ok, src := g.decide(p)
		observe(p, ok, src)
		if !ok {
			result = false
		}
	}
	return result
}

// load resolves the role set and tenant overrides. With scoped=false the user's
// own tenant is used, otherwise tenantID ("" meaning platform scope, which only
// the Platform Admin role may enter).
func (e *Evaluator) load(ctx context.Context, userID, tenantID string, scoped bool) grants {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return denied("no session")
	}
	user, err := e.store.User(ctx, userID)
	if err != nil {
		return denied(lookupReason("user", err))
	}
	role, err := e.store.Role(ctx, user.RoleID)
	if err != nil {
		return denied(lookupReason("role", err))
	}
	if !scoped {
		tenantID = user.TenantID
	}
	tenantID = strings.TrimSpace(tenantID)

	g := grants{role: make(map[Permission]struct{}, len(role.Permissions))}
	for _, p := range role.Permissions {
		g.role[p] = struct{}{}
	}
	if tenantID == "" {
		if scoped && !role.IsPlatformAdmin() {
			return denied("platform scope requires platform admin")
		}
		return g
	}

	tenant, err := e.store.Tenant(ctx, tenantID)
	if err != nil {
		return denied(lookupReason("tenant", err))
	}
	if !tenant.Active() {
		return denied("tenant disabled")
	}
	if !role.IsPlatformAdmin() && user.TenantID != tenant.ID {
		return denied("user does not belong to tenant")
	}
	overrides, err := e.store.PermissionOverrides(ctx, tenant.ID, user.ID)
	if err != nil {
		return denied(lookupReason("permission overrides", err))
	}
	if len(overrides) > 0 {
		g.overrides = make(map[Permission]bool, len(overrides))
		for _, o := range overrides {
			g.overrides[o.Permission] = o.Granted
		}
	}
	return g
}

func lookupReason(what string, err error) string {
	if errors.Is(err, ErrNotFound) {
		return what + " not found"
	}
	obs.Logger().Warn("permission lookup failed", zap.String("lookup", what), zap.Error(err))
	return what + " lookup failed"
}

func decisionReason(allowed bool, src Source) string {
	switch {
	case allowed && src == SourceTenant:
		return "granted by tenant override"
	case allowed:
		return "granted by role"
	case src == SourceTenant:
		return "revoked by tenant override"
	default:
		return "permission not granted"
	}
}

func observe(p Permission, allowed bool, src Source) {
	label := string(p)
	if !p.Valid() {
		label = "invalid"
	}
	obs.PermissionChecks.WithLabelValues(label, strconv.FormatBool(allowed), string(src)).Inc()
}

package actions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"tinadmin.org/internal/auth"
)

// Store is the persistence side of the gated actions. Workspace calls are scoped by
// tenant so that no lookup is needed before authorization.
type Store interface {
	ListWorkspaces(ctx context.Context, tenantID string) ([]auth.Workspace, error)
	GetWorkspace(ctx context.Context, tenantID, workspaceID string) (auth.Workspace, error)
	CreateWorkspace(ctx context.Context, ws auth.Workspace) (auth.Workspace, error)
	UpdateWorkspace(ctx context.Context, tenantID, workspaceID string, upd auth.WorkspaceUpdate) (auth.Workspace, error)
	DeleteWorkspace(ctx context.Context, tenantID, workspaceID string) error

	ListMembers(ctx context.Context, tenantID, workspaceID string) ([]auth.Member, error)
	AddMember(ctx context.Context, tenantID string, m auth.Member) (auth.Member, error)
	UpdateMember(ctx context.Context, tenantID, workspaceID, userID, roleID string) (auth.Member, error)
	RemoveMember(ctx context.Context, tenantID, workspaceID, userID string) error

	ListTenants(ctx context.Context) ([]auth.Tenant, error)
	Tenant(ctx context.Context, tenantID string) (auth.Tenant, error)
	CreateTenant(ctx context.Context, t auth.Tenant) (auth.Tenant, error)
	UpdateTenant(ctx context.Context, tenantID string, upd auth.TenantUpdate) (auth.Tenant, error)
	DisableTenant(ctx context.Context, tenantID string) (auth.Tenant, error)

	ListRoles(ctx context.Context) ([]auth.Role, error)

	PermissionOverrides(ctx context.Context, tenantID, userID string) ([]auth.PermissionOverride, error)
	SetPermissionOverride(ctx context.Context, o auth.PermissionOverride) (auth.PermissionOverride, error)
	DeletePermissionOverride(ctx context.Context, tenantID, userID string, p auth.Permission) error
}

// Authorizer gates each action.
type Authorizer interface {
	Authorize(ctx context.Context, req auth.AccessRequest) error
}

// Service runs each action as authorize, validate, then delegate. Store results pass
// through unchanged.
type Service struct {
	store Store
	authz Authorizer
}

func NewService(store Store, authz Authorizer) (*Service, error) {
	if store == nil {
		return nil, errors.New("actions store is required")
	}
	if authz == nil {
		return nil, errors.New("authorizer is required")
	}
	return &Service{store: store, authz: authz}, nil
}

// domain labels become subdomains, so they follow DNS label syntax
var domainLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

func (s *Service) gate(ctx context.Context, sub auth.Subject, tenantID string, perm auth.Permission, action, resource, workspaceID string) error {
	return s.authz.Authorize(ctx, auth.AccessRequest{
		Subject:     auth.Subject{UserID: sub.UserID, TenantID: tenantID},
		Permission:  perm,
		Action:      action,
		Resource:    resource,
		WorkspaceID: workspaceID,
	})
}

// requireTenant is checked after the gate, which already denied everyone but the
// Platform Admin at platform scope.
func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant is required", auth.ErrInvalidInput)
	}
	return nil
}

func requireID(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", auth.ErrInvalidInput, name)
	}
	return nil
}

func (s *Service) ListWorkspaces(ctx context.Context, sub auth.Subject) ([]auth.Workspace, error) {
	tenantID := strings.TrimSpace(sub.TenantID)
	if err := s.gate(ctx, sub, tenantID, auth.PermTenantsRead, "workspace.list", "workspace", ""); err != nil {
		return nil, err
	}
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return s.store.ListWorkspaces(ctx, tenantID)
}

func (s *Service) GetWorkspace(ctx context.Context, sub auth.Subject, workspaceID string) (auth.Workspace, error) {
	tenantID := strings.TrimSpace(sub.TenantID)
	workspaceID = strings.TrimSpace(workspaceID)
	if err := s.gate(ctx, sub, tenantID, auth.PermTenantsRead, "workspace.get", "workspace", workspaceID); err != nil {
		return auth.Workspace{}, err
	}
	if err := requireTenant(tenantID); err != nil {
		return auth.Workspace{}, err
	}
	if err := requireID("workspace_id", workspaceID); err != nil {
		return auth.Workspace{}, err
	}
	return s.store.GetWorkspace(ctx, tenantID, workspaceID)
}

func (s *Service) CreateWorkspace(ctx context.Context, sub auth.Subject, name, description string) (auth.Workspace, error) {
	tenantID := strings.TrimSpace(sub.TenantID)
	if err := s.gate(ctx, sub, tenantID, auth.PermTenantsCreate, "workspace.create", "workspace", ""); err != nil {
		return auth.Workspace{}, err
	}
	if err := requireTenant(tenantID); err != nil {
		return auth.Workspace{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return auth.Workspace{}, fmt.Errorf("%w: workspace name is required", auth.ErrInvalidInput)
	}
	return s.store.CreateWorkspace(ctx, auth.Workspace{
		TenantID:    tenantID,
		Name:        name,
		Description: strings.TrimSpace(description),
	})
}

func (s *Service) UpdateWorkspace(ctx context.Context, sub auth.Subject, workspaceID string, upd auth.WorkspaceUpdate) (auth.Workspace, error) {
	tenantID := strings.TrimSpace(sub.TenantID)
	workspaceID = strings.TrimSpace(workspaceID)
	if err := s.gate(ctx, sub, tenantID, auth.PermTenantsUpdate, "workspace.update", "workspace", workspaceID); err != nil {
		return auth.Workspace{}, err
	}
	if err := requireTenant(tenantID); err != nil {
		return auth.Workspace{}, err
	}
	if err := requireID("workspace_id", workspaceID); err != nil {
		return auth.Workspace{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return auth.Workspace{}, fmt.Errorf("%w: workspace name is required", auth.ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	return s.store.UpdateWorkspace(ctx, tenantID, workspaceID, upd)
}

func (s *Service) DeleteWorkspace(ctx context.Context, sub auth.Subject, workspaceID string) error {
	tenantID := strings.TrimSpace(sub.TenantID)
	workspaceID = strings.TrimSpace(workspaceID)
	if err := s.gate(ctx, sub, tenantID, auth.PermTenantsDelete, "workspace.delete", "workspace", workspaceID); err != nil {
		return err
	}
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if err := requireID("workspace_id", workspaceID); err != nil {
		return err
	}
	return s.store.DeleteWorkspace(ctx, tenantID, workspaceID)
}

func (s *Service) ListMembers(ctx context.Context, sub auth.Subject, workspaceID string) ([]auth.Member, error) {
	tenantID := strings.TrimSpace(sub.TenantID)
	workspaceID = strings.TrimSpace(workspaceID)
	if err := s.gate(ctx, sub, tenantID, auth.PermUsersRead, "member.list", "workspace_member", workspaceID); err != nil {
		return nil, err
	}
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := requireID("workspace_id", workspaceID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, tenantID, workspaceID)
}

func (s *Service) AddMember(ctx context.Context, sub auth.Subject, workspaceID, userID, roleID string) (auth.Member, error) {
	m, err := s.memberChange(ctx, sub, "member.add", workspaceID, userID, roleID)
	if err != nil {
		return auth.Member{}, err
	}
	return s.store.AddMember(ctx, strings.TrimSpace(sub.TenantID), m)
}

func (s *Service) UpdateMember(ctx context.Context, sub auth.Subject, workspaceID, userID, roleID string) (auth.Member, error) {
	m, err := s.memberChange(ctx, sub, "member.update", workspaceID, userID, roleID)
	if err != nil {
		return auth.Member{}, err
	}
	return s.store.UpdateMember(ctx, strings.TrimSpace(sub.TenantID), m.WorkspaceID, m.UserID, m.RoleID)
}

// memberChange gates an add or update and validates its arguments.
func (s *Service) memberChange(ctx context.Context, sub auth.Subject, action, workspaceID, userID, roleID string) (auth.Member, error) {
	tenantID := strings.TrimSpace(sub.TenantID)
	m := auth.Member{
		WorkspaceID: strings.TrimSpace(workspaceID),
		UserID:      strings.TrimSpace(userID),
		RoleID:      strings.TrimSpace(roleID),
	}
	if err := s.gate(ctx, sub, tenantID, auth.PermUsersManage, action, "workspace_member", m.WorkspaceID); err != nil {
		return auth.Member{}, err
	}
	if err := requireTenant(tenantID); err != nil {
		return auth.Member{}, err
	}
	if err := requireID("workspace_id", m.WorkspaceID); err != nil {
		return auth.Member{}, err
	}
	if err := requireID("user_id", m.UserID); err != nil {
		return auth.Member{}, err
	}
	if err := requireID("role_id", m.RoleID); err != nil {
		return auth.Member{}, err
	}
	return m, nil
}

func (s *Service) RemoveMember(ctx context.Context, sub auth.Subject, workspaceID, userID string) error {
	tenantID := strings.TrimSpace(sub.TenantID)
	workspaceID = strings.TrimSpace(workspaceID)
	userID = strings.TrimSpace(userID)
	if err := s.gate(ctx, sub, tenantID, auth.PermUsersManage, "member.remove", "workspace_member", workspaceID); err != nil {
		return err
	}
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if err := requireID("workspace_id", workspaceID); err != nil {
		return err
	}
	if err := requireID("user_id", userID); err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, tenantID, workspaceID, userID)
}

// ListTenants is platform scoped: the check runs without a tenant.
func (s *Service) ListTenants(ctx context.Context, sub auth.Subject) ([]auth.Tenant, error) {
	if err := s.gate(ctx, sub, "", auth.PermTenantsRead, "tenant.list", "tenant", ""); err != nil {
		return nil, err
	}
	return s.store.ListTenants(ctx)
}

// Tenant actions are checked inside the target tenant. A blank id falls to platform
// scope, so only the Platform Admin gets past the gate to the validation error.
func (s *Service) GetTenant(ctx context.Context, sub auth.Subject, tenantID string) (auth.Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if err := s.gate(ctx, sub, tenantID, auth.PermTenantsRead, "tenant.get", "tenant", ""); err != nil {
		return auth.Tenant{}, err
	}
	if err := requireID("tenant_id", tenantID); err != nil {
		return auth.Tenant{}, err
	}
	return s.store.Tenant(ctx, tenantID)
}

func (s *Service) CreateTenant(ctx context.Context, sub auth.Subject, name, domain, plan string, settings map[string]any) (auth.Tenant, error) {
	if err := s.gate(ctx, sub, "", auth.PermTenantsCreate, "tenant.create", "tenant", ""); err != nil {
		return auth.Tenant{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return auth.Tenant{}, fmt.Errorf("%w: tenant name is required", auth.ErrInvalidInput)
	}
	domain, err := normalizeDomain(domain)
	if err != nil {
		return auth.Tenant{}, err
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return s.store.CreateTenant(ctx, auth.Tenant{
		Name:     name,
		Domain:   domain,
		Plan:     strings.TrimSpace(plan),
		Settings: settings,
		Status:   auth.TenantStatusActive,
	})
}

// UpdateTenant changes tenant attributes. Settings and plan changes additionally
// require settings.update and billing.manage.
func (s *Service) UpdateTenant(ctx context.Context, sub auth.Subject, tenantID string, upd auth.TenantUpdate) (auth.Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if err := s.gate(ctx, sub, tenantID, auth.PermTenantsUpdate, "tenant.update", "tenant", ""); err != nil {
		return auth.Tenant{}, err
	}
	if upd.Settings != nil {
		if err := s.gate(ctx, sub, tenantID, auth.PermSettingsUpdate, "tenant.settings.update", "tenant", ""); err != nil {
			return auth.Tenant{}, err
		}
	}
	if upd.Plan != nil {
		if err := s.gate(ctx, sub, tenantID, auth.PermBillingManage, "tenant.plan.update", "tenant", ""); err != nil {
			return auth.Tenant{}, err
		}
	}

	if err := requireID("tenant_id", tenantID); err != nil {
		return auth.Tenant{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return auth.Tenant{}, fmt.Errorf("%w: tenant name is required", auth.ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Domain != nil {
		domain, err := normalizeDomain(*upd.Domain)
		if err != nil {
			return auth.Tenant{}, err
		}
		upd.Domain = &domain
	}
	if upd.Plan != nil {
		plan := strings.TrimSpace(*upd.Plan)
		upd.Plan = &plan
	}
	return s.store.UpdateTenant(ctx, tenantID, upd)
}

// DisableTenant soft-deletes a tenant.
func (s *Service) DisableTenant(ctx context.Context, sub auth.Subject, tenantID string) (auth.Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if err := s.gate(ctx, sub, tenantID, auth.PermTenantsDelete, "tenant.disable", "tenant", ""); err != nil {
		return auth.Tenant{}, err
	}
	if err := requireID("tenant_id", tenantID); err != nil {
		return auth.Tenant{}, err
	}
	return s.store.DisableTenant(ctx, tenantID)
}

// ListRoles returns the role catalog so callers can pick a role_id for members.
// Roles are global; the check runs in the subject's tenant.
func (s *Service) ListRoles(ctx context.Context, sub auth.Subject) ([]auth.Role, error) {
	if err := s.gate(ctx, sub, strings.TrimSpace(sub.TenantID), auth.PermUsersRead, "role.list", "role", ""); err != nil {
		return nil, err
	}
	return s.store.ListRoles(ctx)
}

// ListOverrides returns the tenant's permission overrides, optionally for one user.
func (s *Service) ListOverrides(ctx context.Context, sub auth.Subject, tenantID, userID string) ([]auth.PermissionOverride, error) {
	tenantID = strings.TrimSpace(tenantID)
	if err := s.gate(ctx, sub, tenantID, auth.PermRolesManage, "override.list", "permission_override", ""); err != nil {
		return nil, err
	}
	if err := requireID("tenant_id", tenantID); err != nil {
		return nil, err
	}
	return s.store.PermissionOverrides(ctx, tenantID, strings.TrimSpace(userID))
}

// SetOverride grants or revokes one permission for a user inside a tenant. The
// override replaces whatever the user's role says about that permission.
func (s *Service) SetOverride(ctx context.Context, sub auth.Subject, o auth.PermissionOverride) (auth.PermissionOverride, error) {
	o.TenantID = strings.TrimSpace(o.TenantID)
	o.UserID = strings.TrimSpace(o.UserID)
	if err := s.gate(ctx, sub, o.TenantID, auth.PermRolesManage, "override.set", "permission_override", ""); err != nil {
		return auth.PermissionOverride{}, err
	}
	if err := requireID("tenant_id", o.TenantID); err != nil {
		return auth.PermissionOverride{}, err
	}
	if err := requireID("user_id", o.UserID); err != nil {
		return auth.PermissionOverride{}, err
	}
	var err error
	if o.Permission, err = auth.ParsePermission(string(o.Permission)); err != nil {
		return auth.PermissionOverride{}, err
	}
	return s.store.SetPermissionOverride(ctx, o)
}

func (s *Service) RemoveOverride(ctx context.Context, sub auth.Subject, tenantID, userID string, p auth.Permission) error {
	tenantID = strings.TrimSpace(tenantID)
	userID = strings.TrimSpace(userID)
	if err := s.gate(ctx, sub, tenantID, auth.PermRolesManage, "override.remove", "permission_override", ""); err != nil {
		return err
	}
	if err := requireID("tenant_id", tenantID); err != nil {
		return err
	}
	if err := requireID("user_id", userID); err != nil {
		return err
	}
	p, err := auth.ParsePermission(string(p))
	if err != nil {
		return err
	}
	return s.store.DeletePermissionOverride(ctx, tenantID, userID, p)
}

func normalizeDomain(raw string) (string, error) {
	domain := strings.ToLower(strings.TrimSpace(raw))
	if !domainLabel.MatchString(domain) || domain == "localhost" || domain == "www" {
		return "", fmt.Errorf("%w: domain must be a single DNS label", auth.ErrInvalidInput)
	}
	return domain, nil
}

package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is a resource.action token from the closed catalog below.
type Permission string

const (
	PermTenantsRead    Permission = "tenants.read"
	PermTenantsCreate  Permission = "tenants.create"
	PermTenantsUpdate  Permission = "tenants.update"
	PermTenantsDelete  Permission = "tenants.delete"
	PermUsersRead      Permission = "users.read"
	PermUsersManage    Permission = "users.manage"
	PermRolesManage    Permission = "roles.manage"
	PermAuditRead      Permission = "audit.read"
	PermSettingsUpdate Permission = "settings.update"
	PermBillingManage  Permission = "billing.manage"
)

var catalog = map[Permission]string{
	PermTenantsRead:    "View tenants and their workspaces",
	PermTenantsCreate:  "Create tenants and workspaces",
	PermTenantsUpdate:  "Edit tenants and workspaces",
	PermTenantsDelete:  "Disable tenants and delete workspaces",
	PermUsersRead:      "View workspace members",
	PermUsersManage:    "Add, change and remove workspace members",
	PermRolesManage:    "Edit role permission sets",
	PermAuditRead:      "Read the audit log",
	PermSettingsUpdate: "Change tenant settings",
	PermBillingManage:  "Manage tenant billing",
}

// Valid reports whether p is part of the catalog.
func (p Permission) Valid() bool {
	_, ok := catalog[p]
	return ok
}

// Resource returns the part before the dot.
func (p Permission) Resource() string {
	resource, _, _ := strings.Cut(string(p), ".")
	return resource
}

// Description returns the catalog description, empty for unknown permissions.
func (p Permission) Description() string { return catalog[p] }

// ParsePermission validates a raw token against the catalog.
func ParsePermission(raw string) (Permission, error) {
	p := Permission(strings.TrimSpace(strings.ToLower(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, raw)
	}
	return p, nil
}

// AllPermissions returns the catalog in lexical order.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(catalog))
	for p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

const (
	RolePlatformAdmin = "Platform Admin"
	RoleTenantAdmin   = "Tenant Admin"
	RoleMember        = "Member"
	RoleViewer        = "Viewer"
)

// BuiltinRole is a role provisioned by the seed step.
type BuiltinRole struct {
	Name        string
	Permissions []Permission
}

var BuiltinRoles = []BuiltinRole{
	{Name: RolePlatformAdmin, Permissions: AllPermissions()},
	{Name: RoleTenantAdmin, Permissions: []Permission{
		PermTenantsRead, PermTenantsCreate, PermTenantsUpdate, PermTenantsDelete,
		PermUsersRead, PermUsersManage, PermAuditRead, PermSettingsUpdate, PermBillingManage,
	}},
	{Name: RoleMember, Permissions: []Permission{PermTenantsRead, PermTenantsCreate, PermTenantsUpdate, PermUsersRead}},
	{Name: RoleViewer, Permissions: []Permission{PermTenantsRead, PermUsersRead}},
}

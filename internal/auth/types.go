package auth

import "time"

const (
	TenantStatusActive   = "active"
	TenantStatusDisabled = "disabled"
)

// Tenant is an isolated customer scope. Tenants are disabled, never deleted.
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Domain    string         `json:"domain"`
	Plan      string         `json:"plan,omitempty"`
	Settings  map[string]any `json:"settings,omitempty"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Active reports whether the tenant can be resolved and authorized against.
func (t Tenant) Active() bool { return t.Status != TenantStatusDisabled }

type TenantUpdate struct {
	Name     *string
	Domain   *string
	Plan     *string
	Settings map[string]any
}

// User is owned by the identity provider; this service only reads it.
// An empty TenantID means the user is not bound to any tenant.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	RoleID    string    `json:"role_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is a named permission bundle.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// Grants reports whether the role bundles p.
func (r Role) Grants(p Permission) bool {
	for _, candidate := range r.Permissions {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsPlatformAdmin reports whether the role is the tenant-less administrator role.
func (r Role) IsPlatformAdmin() bool { return r.Name == RolePlatformAdmin }

// PermissionOverride grants or revokes one permission for a user inside a tenant.
type PermissionOverride struct {
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	Permission Permission `json:"permission"`
	Granted    bool       `json:"granted"`
}

type Workspace struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type WorkspaceUpdate struct {
	Name        *string
	Description *string
}

// Member binds a user to a workspace with a role.
type Member struct {
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	RoleID      string    `json:"role_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Subject is the (user, tenant) pair every permission check resolves against.
// TenantID is empty for platform-scoped calls.
type Subject struct {
	UserID   string
	TenantID string
}

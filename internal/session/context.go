// Package session implements the scope negotiation state machine that turns
// a credential into a fully scoped session (tenant, role, organization,
// warehouse, bearer token), and its durable persistence across restarts.
package session

// Context is the fully or partially scoped session. Organization id 0 is a
// legitimate "all organizations" wildcard, so every field uses a pointer:
// presence is tested with nil checks, never with zero-value truthiness.
type Context struct {
	TenantID      *int   `json:"tenant_id,omitempty"`
	TenantName    string `json:"tenant_name,omitempty"`
	RoleID        *int   `json:"role_id,omitempty"`
	RoleName      string `json:"role_name,omitempty"`
	OrgID         *int   `json:"org_id,omitempty"`
	OrgName       string `json:"org_name,omitempty"`
	WarehouseID   *int   `json:"warehouse_id,omitempty"`
	WarehouseName string `json:"warehouse_name,omitempty"`
	Token         string `json:"token,omitempty"`
}

// Complete reports whether every scope field is set and a token is present.
// A token without full scope is useless and must not count as authenticated.
func (c *Context) Complete() bool {
	return c != nil &&
		c.TenantID != nil &&
		c.RoleID != nil &&
		c.OrgID != nil &&
		c.WarehouseID != nil &&
		c.Token != ""
}

func intPtr(v int) *int { return &v }

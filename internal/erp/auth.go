package erp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// NamedRef is an (id, name) pair from a scope candidate list. Id 0 is a
// legitimate value (the "all organizations" wildcard), so candidate presence
// is always tested against the slice, never against the id.
type NamedRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// LoginResult carries the provisional token and the tenants it may be
// scoped to.
type LoginResult struct {
	Token   string
	Tenants []NamedRef
}

// ScopeSelection is the fully narrowed tuple exchanged for the final token.
type ScopeSelection struct {
	TenantID    int `json:"clientId"`
	RoleID      int `json:"roleId"`
	OrgID       int `json:"organizationId"`
	WarehouseID int `json:"warehouseId"`
}

// Login exchanges credentials for a provisional token and the tenant list.
// A 401 here is a bad credential, not a session teardown.
func (c *Client) Login(ctx context.Context, user, pass string) (*LoginResult, error) {
	body := Record{"userName": user, "password": pass}
	var resp struct {
		Token   string     `json:"token"`
		Clients []NamedRef `json:"clients"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/tokens", body, &resp, false); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &LoginResult{Token: resp.Token, Tenants: resp.Clients}, nil
}

// Roles lists the roles available under a tenant.
func (c *Client) Roles(ctx context.Context, tenantID int) ([]NamedRef, error) {
	var resp struct {
		Roles []NamedRef `json:"roles"`
	}
	path := "/auth/roles?client=" + strconv.Itoa(tenantID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return resp.Roles, nil
}

// Organizations lists the organizations available under a tenant and role.
func (c *Client) Organizations(ctx context.Context, tenantID, roleID int) ([]NamedRef, error) {
	var resp struct {
		Organizations []NamedRef `json:"organizations"`
	}
	path := fmt.Sprintf("/auth/organizations?client=%d&role=%d", tenantID, roleID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return resp.Organizations, nil
}

// Warehouses lists the warehouses available under a tenant, role and
// organization.
func (c *Client) Warehouses(ctx context.Context, tenantID, roleID, orgID int) ([]NamedRef, error) {
	var resp struct {
		Warehouses []NamedRef `json:"warehouses"`
	}
	path := fmt.Sprintf("/auth/warehouses?client=%d&role=%d&organization=%d", tenantID, roleID, orgID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	return resp.Warehouses, nil
}

// FinalizeToken exchanges the scoped selection for the definitive bearer
// token and installs it on the gateway.
func (c *Client) FinalizeToken(ctx context.Context, sel ScopeSelection) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPut, "/auth/tokens", sel, &resp, true); err != nil {
		return "", fmt.Errorf("finalize token: %w", err)
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/erp"
)

// Negotiation errors.
var (
	// ErrInvalidStep is returned when a selection is made out of sequence.
	ErrInvalidStep = errors.New("session: selection not valid in current step")
	// ErrNoTenants is returned when authentication yields zero tenants.
	ErrNoTenants = errors.New("session: no tenants available for user")
	// ErrCannotGoBack is returned at the credentials step.
	ErrCannotGoBack = errors.New("session: already at first step")
)

// State is the tagged union over negotiation steps. Each variant carries
// exactly the data resolved so far; transitions produce a new variant instead
// of mutating shared fields.
type State interface {
	// Step names the state for callers that render it.
	Step() string
}

// Credentials is the initial state: nothing resolved yet.
type Credentials struct{}

// TenantSelection awaits a tenant choice.
type TenantSelection struct {
	Tenants []erp.NamedRef
}

// RoleSelection awaits a role choice under the resolved tenant.
type RoleSelection struct {
	Tenant erp.NamedRef
	Roles  []erp.NamedRef
}

// OrgSelection awaits an organization choice. Organization id 0 means "all
// organizations" and is a normal candidate, not an unset marker.
type OrgSelection struct {
	Tenant erp.NamedRef
	Role   erp.NamedRef
	Orgs   []erp.NamedRef
}

// WarehouseSelection awaits a warehouse choice. Err carries the message of a
// failed finalize attempt so the caller can retry this step alone.
type WarehouseSelection struct {
	Tenant     erp.NamedRef
	Role       erp.NamedRef
	Org        erp.NamedRef
	Warehouses []erp.NamedRef
	Err        string
}

// Done carries the fully scoped session context.
type Done struct {
	Context *Context
}

func (Credentials) Step() string        { return "credentials" }
func (TenantSelection) Step() string    { return "tenant-selection" }
func (RoleSelection) Step() string      { return "role-selection" }
func (OrgSelection) Step() string       { return "org-selection" }
func (WarehouseSelection) Step() string { return "warehouse-selection" }
func (Done) Step() string               { return "done" }

// Gateway is the slice of the record gateway the negotiator drives.
type Gateway interface {
	Login(ctx context.Context, user, pass string) (*erp.LoginResult, error)
	Roles(ctx context.Context, tenantID int) ([]erp.NamedRef, error)
	Organizations(ctx context.Context, tenantID, roleID int) ([]erp.NamedRef, error)
	Warehouses(ctx context.Context, tenantID, roleID, orgID int) ([]erp.NamedRef, error)
	FinalizeToken(ctx context.Context, sel erp.ScopeSelection) (string, error)
	SetToken(token string)
}

// Invalidator is anything that must drop per-session cached state when the
// session changes. The lookup cache implements it.
type Invalidator interface {
	Invalidate()
}

// Negotiator walks credential verification through the scope-narrowing
// sequence credentials → tenant → role → organization → warehouse → done.
// Steps with exactly one tenant or role, or at most one organization or
// warehouse, advance automatically; zero organizations or warehouses resolve
// to the id-0 wildcard rather than failing.
type Negotiator struct {
	gw      Gateway
	store   ContextStore
	caches  []Invalidator
	logger  *zap.Logger
	profile string

	mu      sync.Mutex
	state   State
	history []State
}

// New creates a negotiator in the credentials state.
func New(gw Gateway, store ContextStore, profile string, logger *zap.Logger, caches ...Invalidator) *Negotiator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profile == "" {
		profile = "default"
	}
	return &Negotiator{
		gw:      gw,
		store:   store,
		caches:  caches,
		logger:  logger,
		profile: profile,
		state:   Credentials{},
	}
}

// State returns the current negotiation state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// CurrentContext returns the scoped context, or nil before done.
func (n *Negotiator) CurrentContext() *Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	if done, ok := n.state.(Done); ok {
		return done.Context
	}
	return nil
}

// Restore rebuilds state from the durable store on process start. A token
// with a complete context restores straight to done; a token without one is
// discarded, because unscoped tokens must not present as authenticated.
func (n *Negotiator) Restore(ctx context.Context) error {
	token, sc, err := n.store.Load(ctx, n.profile)
	if err != nil {
		return err
	}
	if token == "" && sc == nil {
		return nil
	}
	if sc.Complete() {
		n.gw.SetToken(sc.Token)
		n.mu.Lock()
		n.state = Done{Context: sc}
		n.mu.Unlock()
		n.logger.Info("session restored",
			zap.String("tenant", sc.TenantName),
			zap.String("warehouse", sc.WarehouseName))
		return nil
	}

	n.logger.Warn("discarding persisted token without a scoped context")
	return n.store.Clear(ctx, n.profile)
}

// Authenticate exchanges credentials for a provisional token and starts the
// scope walk. Zero tenants fails the whole operation.
func (n *Negotiator) Authenticate(ctx context.Context, user, pass string) (State, error) {
	res, err := n.gw.Login(ctx, user, pass)
	if err != nil {
		return n.reset(), err
	}
	if len(res.Tenants) == 0 {
		return n.reset(), ErrNoTenants
	}

	n.mu.Lock()
	n.history = nil
	n.state = TenantSelection{Tenants: res.Tenants}
	n.mu.Unlock()

	if len(res.Tenants) == 1 {
		if err := n.advanceTenant(ctx, res.Tenants[0]); err != nil {
			return n.State(), err
		}
	}
	return n.State(), nil
}

// SelectTenant resolves the tenant and fetches role candidates.
func (n *Negotiator) SelectTenant(ctx context.Context, id int) (State, error) {
	n.mu.Lock()
	st, ok := n.state.(TenantSelection)
	n.mu.Unlock()
	if !ok {
		return n.State(), ErrInvalidStep
	}
	tenant, ok := findRef(st.Tenants, id)
	if !ok {
		return n.State(), fmt.Errorf("session: tenant %d is not a candidate", id)
	}
	if err := n.advanceTenant(ctx, tenant); err != nil {
		return n.State(), err
	}
	return n.State(), nil
}

// SelectRole resolves the role and fetches organization candidates.
func (n *Negotiator) SelectRole(ctx context.Context, id int) (State, error) {
	n.mu.Lock()
	st, ok := n.state.(RoleSelection)
	n.mu.Unlock()
	if !ok {
		return n.State(), ErrInvalidStep
	}
	role, ok := findRef(st.Roles, id)
	if !ok {
		return n.State(), fmt.Errorf("session: role %d is not a candidate", id)
	}
	if err := n.advanceRole(ctx, st.Tenant, role); err != nil {
		return n.State(), err
	}
	return n.State(), nil
}

// SelectOrg resolves the organization and fetches warehouse candidates.
func (n *Negotiator) SelectOrg(ctx context.Context, id int) (State, error) {
	n.mu.Lock()
	st, ok := n.state.(OrgSelection)
	n.mu.Unlock()
	if !ok {
		return n.State(), ErrInvalidStep
	}
	org, ok := findRef(st.Orgs, id)
	if !ok {
		return n.State(), fmt.Errorf("session: organization %d is not a candidate", id)
	}
	if err := n.advanceOrg(ctx, st.Tenant, st.Role, org); err != nil {
		return n.State(), err
	}
	return n.State(), nil
}

// SelectWarehouse resolves the warehouse and finalizes the session.
func (n *Negotiator) SelectWarehouse(ctx context.Context, id int) (State, error) {
	n.mu.Lock()
	st, ok := n.state.(WarehouseSelection)
	n.mu.Unlock()
	if !ok {
		return n.State(), ErrInvalidStep
	}
	wh, ok := findRef(st.Warehouses, id)
	if !ok {
		return n.State(), fmt.Errorf("session: warehouse %d is not a candidate", id)
	}
	if err := n.finalize(ctx, st.Tenant, st.Role, st.Org, wh, st.Warehouses); err != nil {
		return n.State(), err
	}
	return n.State(), nil
}

// GoBack moves exactly one state backward. It is undefined at credentials.
func (n *Negotiator) GoBack() (State, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.state.(Credentials); ok {
		return n.state, ErrCannotGoBack
	}
	if len(n.history) == 0 {
		return n.state, ErrCannotGoBack
	}
	n.state = n.history[len(n.history)-1]
	n.history = n.history[:len(n.history)-1]
	return n.state, nil
}

// Logout tears the session down: durable record cleared, token dropped,
// per-session caches invalidated, state back to credentials.
func (n *Negotiator) Logout(ctx context.Context) error {
	err := n.store.Clear(ctx, n.profile)
	n.gw.SetToken("")
	n.invalidateCaches()
	n.reset()
	return err
}

// Invalidate is the gateway's on-unauthorized hook: the store already
// rejected the token, so only local state is torn down.
func (n *Negotiator) Invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.store.Clear(ctx, n.profile); err != nil {
		n.logger.Warn("failed to clear persisted session", zap.Error(err))
	}
	n.invalidateCaches()
	n.reset()
}

func (n *Negotiator) advanceTenant(ctx context.Context, tenant erp.NamedRef) error {
	roles, err := n.gw.Roles(ctx, tenant.ID)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		return fmt.Errorf("session: no roles available under tenant %q", tenant.Name)
	}

	n.push(RoleSelection{Tenant: tenant, Roles: roles})
	if len(roles) == 1 {
		return n.advanceRole(ctx, tenant, roles[0])
	}
	return nil
}

func (n *Negotiator) advanceRole(ctx context.Context, tenant, role erp.NamedRef) error {
	orgs, err := n.gw.Organizations(ctx, tenant.ID, role.ID)
	if err != nil {
		return err
	}

	n.push(OrgSelection{Tenant: tenant, Role: role, Orgs: orgs})
	if len(orgs) == 0 {
		// No explicit organizations means the all-organizations wildcard.
		return n.advanceOrg(ctx, tenant, role, erp.NamedRef{ID: 0, Name: "*"})
	}
	if len(orgs) == 1 {
		return n.advanceOrg(ctx, tenant, role, orgs[0])
	}
	return nil
}

func (n *Negotiator) advanceOrg(ctx context.Context, tenant, role, org erp.NamedRef) error {
	warehouses, err := n.gw.Warehouses(ctx, tenant.ID, role.ID, org.ID)
	if err != nil {
		return err
	}

	n.push(WarehouseSelection{Tenant: tenant, Role: role, Org: org, Warehouses: warehouses})
	if len(warehouses) == 0 {
		return n.finalize(ctx, tenant, role, org, erp.NamedRef{ID: 0}, warehouses)
	}
	if len(warehouses) == 1 {
		return n.finalize(ctx, tenant, role, org, warehouses[0], warehouses)
	}
	return nil
}

func (n *Negotiator) finalize(ctx context.Context, tenant, role, org, wh erp.NamedRef, candidates []erp.NamedRef) error {
	token, err := n.gw.FinalizeToken(ctx, erp.ScopeSelection{
		TenantID:    tenant.ID,
		RoleID:      role.ID,
		OrgID:       org.ID,
		WarehouseID: wh.ID,
	})
	if err != nil {
		n.mu.Lock()
		n.state = WarehouseSelection{
			Tenant: tenant, Role: role, Org: org,
			Warehouses: candidates,
			Err:        err.Error(),
		}
		n.mu.Unlock()
		return err
	}

	sc := &Context{
		TenantID:      intPtr(tenant.ID),
		TenantName:    tenant.Name,
		RoleID:        intPtr(role.ID),
		RoleName:      role.Name,
		OrgID:         intPtr(org.ID),
		OrgName:       org.Name,
		WarehouseID:   intPtr(wh.ID),
		WarehouseName: wh.Name,
		Token:         token,
	}

	if err := n.store.Save(ctx, n.profile, sc); err != nil {
		// The session itself is valid; it just will not survive a restart.
		n.logger.Warn("failed to persist session context", zap.Error(err))
	}

	// A freshly scoped session must not see reference ids from the old one.
	n.invalidateCaches()

	n.mu.Lock()
	n.state = Done{Context: sc}
	n.mu.Unlock()

	n.logger.Info("session negotiated",
		zap.String("tenant", tenant.Name),
		zap.String("role", role.Name),
		zap.Int("org_id", org.ID),
		zap.String("warehouse", wh.Name))
	return nil
}

// push records the current state in the back stack and installs next.
func (n *Negotiator) push(next State) {
	n.mu.Lock()
	n.history = append(n.history, n.state)
	n.state = next
	n.mu.Unlock()
}

func (n *Negotiator) reset() State {
	n.mu.Lock()
	n.state = Credentials{}
	n.history = nil
	st := n.state
	n.mu.Unlock()
	return st
}

func (n *Negotiator) invalidateCaches() {
	for _, c := range n.caches {
		c.Invalidate()
	}
}

func findRef(refs []erp.NamedRef, id int) (erp.NamedRef, bool) {
	for _, r := range refs {
		if r.ID == id {
			return r, true
		}
	}
	return erp.NamedRef{}, false
}

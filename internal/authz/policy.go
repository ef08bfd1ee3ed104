package authz

import (
	"fmt"
	"sort"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Actions checked by the document store.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionView    = "view"
	ActionApprove = "approve"
	ActionSuspend = "suspend"
	ActionArchive = "archive"
	ActionDelete  = "delete"
	ActionPurge   = "purge"
)

// Actions lists every action name.
var Actions = []string{
	ActionCreate, ActionUpdate, ActionView, ActionApprove,
	ActionSuspend, ActionArchive, ActionDelete, ActionPurge,
}

// Subjects are role ids; g maps a role id to its role type and policies
// grant role types. "*" in a policy matches any collection or action.
const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// Permission grants a role type an action on a collection.
type Permission struct {
	RoleType   RoleType
	Collection string
	Action     string
}

// Policy resolves allow-lists from roles and permissions using an
// in-memory casbin enforcer.
type Policy struct {
	mu       sync.Mutex
	enforcer *casbin.Enforcer
	roles    []Role
}

// NewPolicy loads roles and permissions into a fresh enforcer.
func NewPolicy(roles []Role, perms []Permission) (*Policy, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("authz policy model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}

	for _, r := range roles {
		if _, ok := ParseRoleType(string(r.Type)); !ok {
			return nil, fmt.Errorf("role %q: unknown role type %q", r.ID, r.Type)
		}
		if _, err := e.AddRoleForUser(r.ID, string(r.Type)); err != nil {
			return nil, fmt.Errorf("role %q: %w", r.ID, err)
		}
	}
	for _, p := range perms {
		if _, err := e.AddPolicy(string(p.RoleType), p.Collection, p.Action); err != nil {
			return nil, fmt.Errorf("permission %s/%s/%s: %w", p.RoleType, p.Collection, p.Action, err)
		}
	}

	sorted := append([]Role(nil), roles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Policy{enforcer: e, roles: sorted}, nil
}

// Roles returns the loaded roles ordered by id.
func (p *Policy) Roles() []Role {
	return append([]Role(nil), p.roles...)
}

// Role looks up a role by id.
func (p *Policy) Role(id string) (Role, bool) {
	for _, r := range p.roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// AllowList returns the ids of every role permitted to perform action on
// collection, ordered by id.
func (p *Policy) AllowList(collection, action string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := []string{}
	for _, r := range p.roles {
		ok, err := p.enforcer.Enforce(r.ID, collection, action)
		if err != nil {
			return nil, fmt.Errorf("enforce %s %s/%s: %w", r.ID, collection, action, err)
		}
		if ok {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

// AssertPermitted composes AssertApproved and AssertRoleAllowed for
// action on collection. The returned check names which assertion failed.
func (p *Policy) AssertPermitted(s State, collection, action string) (check string, err error) {
	if err := AssertApproved(s); err != nil {
		return CheckApproved, err
	}
	allow, err := p.AllowList(collection, action)
	if err != nil {
		return "", err
	}
	if err := AssertRoleAllowed(s, allow); err != nil {
		return CheckRole, err
	}
	return "", nil
}

// Package authz gates privileged incident actions by role.
package authz

import (
	"errors"
	"fmt"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// ErrForbidden is returned when a role may not perform an action.
var ErrForbidden = errors.New("forbidden")

// Action names an incident operation subject to authorization.
type Action string

// Incident actions.
const (
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionReadHistory   Action = "read_history"
	ActionClose         Action = "close"
	ActionTrash         Action = "trash"
	ActionRestore       Action = "restore"
	ActionApplyTemplate Action = "apply_template"
	ActionValidate      Action = "validate"
	ActionArchive       Action = "archive"
	ActionUnarchive     Action = "unarchive"
	ActionForceDelete   Action = "force_delete"
)

const objIncident = "incident"

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// Each role inherits everything granted to the role before it.
var grants = []struct {
	role    domain.Role
	actions []Action
}{
	{domain.RoleUser, []Action{ActionCreate, ActionUpdate, ActionReadHistory}},
	{domain.RoleOfficer, []Action{ActionClose, ActionTrash, ActionRestore, ActionApplyTemplate}},
	{domain.RoleValidator, []Action{ActionValidate, ActionArchive, ActionUnarchive}},
	{domain.RoleAdmin, []Action{ActionForceDelete}},
}

// Enforcer checks role permissions against a fixed policy.
type Enforcer struct {
	e *casbin.SyncedEnforcer
}

// NewEnforcer builds the role hierarchy and its policy.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("load authz model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	for i, g := range grants {
		for _, a := range g.actions {
			if _, err := e.AddPolicy(string(g.role), objIncident, string(a)); err != nil {
				return nil, fmt.Errorf("add policy %s/%s: %w", g.role, a, err)
			}
		}
		if i > 0 {
			parent := grants[i-1].role
			if _, err := e.AddGroupingPolicy(string(g.role), string(parent)); err != nil {
				return nil, fmt.Errorf("add role %s: %w", g.role, err)
			}
		}
	}

	return &Enforcer{e: e}, nil
}

// Authorize returns ErrForbidden unless role may perform action.
func (e *Enforcer) Authorize(role domain.Role, action Action) error {
	ok, err := e.e.Enforce(string(role), objIncident, string(action))
	if err != nil {
		return fmt.Errorf("enforce: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s cannot %s", ErrForbidden, role, action)
	}
	return nil
}

package authorizer

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/medconsole/rbac/types"
)

type flusher interface {
	Flush(ctx context.Context) error
}

type authorizer struct {
	types.Registry
	types.Assignment
	l logr.Logger
}

// New creates an authorizer on top of the permission catalog and the role assignment
func New(reg types.Registry, a types.Assignment, l logr.Logger) types.Authorizer {
	return &authorizer{
		Registry:   reg,
		Assignment: a,
		l:          l,
	}
}

// Allowed tells if the principal may perform the gated action, any error means no
func (a *authorizer) Allowed(p types.Principal, id string) bool {
	if p == nil {
		return false
	}

	role := p.Role()
	ok, e := a.Assignment.HasPermission(role, id)
	if e != nil {
		a.l.V(2).Info("deny", "role", role, "permission", id, "reason", e.Error())
		return false
	}

	a.l.V(4).Info("allowed", "role", role, "permission", id, "result", ok)
	return ok
}

// Flush blocks until all accepted changes are written to the persister, if there is one
func (a *authorizer) Flush(ctx context.Context) error {
	if f, ok := a.Assignment.(flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

package rbac

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/medconsole/rbac/internal/assignment"
	"github.com/medconsole/rbac/internal/registry"
	"github.com/medconsole/rbac/types"
)

// Seed is the assignment a freshly provisioned deployment starts with.
// Roles left out start with nothing, and ADMIN always starts with everything.
type Seed map[types.Role][]string

type seedStep struct {
	role types.Role
	ids  []string
}

type seedPlan []seedStep

// plan checks the seed with the same rules ReplaceAll uses, against a scratch store
func (s Seed) plan(reg *registry.Registry) (seedPlan, error) {
	for role := range s {
		if !role.Valid() {
			return nil, fmt.Errorf("%w: %q", types.ErrUnknownRole, role)
		}
	}
	if _, ok := s[types.Admin]; ok {
		return nil, fmt.Errorf("%w: %s always holds every permission", types.ErrValidation, types.Admin)
	}

	scratch := assignment.NewStore(reg, logr.Discard())
	plan := make(seedPlan, 0, len(types.AllRoles()))
	for _, role := range types.AllRoles() {
		ids := s[role]
		if role == types.Admin {
			ids = reg.IDs()
		}
		if ids == nil {
			ids = []string{}
		}
		if e := scratch.ReplaceAll(role, ids); e != nil {
			return nil, fmt.Errorf("seed %s: %w", role, e)
		}
		plan = append(plan, seedStep{role: role, ids: ids})
	}

	return plan, nil
}

func (p seedPlan) apply(w types.AssignmentWriter) error {
	for _, step := range p {
		if e := w.ReplaceAll(step.role, step.ids); e != nil {
			return fmt.Errorf("seed %s: %w", step.role, e)
		}
	}
	return nil
}

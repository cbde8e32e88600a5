package registry

import (
	"fmt"
	"strings"

	"github.com/medconsole/rbac/types"
)

var _ types.Registry = (*Registry)(nil)

// Registry is an immutable, ordered catalog of permissions.
// It needs no locking since nothing changes after New returns.
type Registry struct {
	perms []types.Permission
	index map[string]int
}

// New builds a registry keeping the given declaration order
func New(perms ...types.Permission) (*Registry, error) {
	if len(perms) == 0 {
		return nil, types.ErrNoPermissions
	}

	r := &Registry{
		perms: make([]types.Permission, 0, len(perms)),
		index: make(map[string]int, len(perms)),
	}
	for _, p := range perms {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("%w: empty permission id (name %q)", types.ErrValidation, p.Name)
		}
		if _, ok := r.index[p.ID]; ok {
			return nil, fmt.Errorf("%w: %q", types.ErrDuplicatePermission, p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		r.index[p.ID] = len(r.perms)
		r.perms = append(r.perms, p)
	}

	return r, nil
}

// ListPermissions returns all permissions in declaration order
func (r *Registry) ListPermissions() []types.Permission {
	out := make([]types.Permission, len(r.perms))
	copy(out, r.perms)
	return out
}

// IDs returns all permission ids in declaration order
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.perms))
	for _, p := range r.perms {
		out = append(out, p.ID)
	}
	return out
}

// Exists tells if the permission id is registered
func (r *Registry) Exists(id string) bool {
	_, ok := r.index[id]
	return ok
}

// Get returns the registered permission with the id
func (r *Registry) Get(id string) (types.Permission, error) {
	i, ok := r.index[id]
	if !ok {
		return types.Permission{}, fmt.Errorf("%w: %q", types.ErrUnknownPermission, id)
	}
	return r.perms[i], nil
}

// Validate returns ErrUnknownPermission if id is not registered
func (r *Registry) Validate(id string) error {
	if !r.Exists(id) {
		return fmt.Errorf("%w: %q", types.ErrUnknownPermission, id)
	}
	return nil
}

// Sorted returns ids of the set in declaration order
func (r *Registry) Sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for _, p := range r.perms {
		if _, ok := set[p.ID]; ok {
			out = append(out, p.ID)
		}
	}
	return out
}

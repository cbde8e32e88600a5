package assignment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"

	"github.com/medconsole/rbac/types"
)

var _ types.Assignment = (*Store)(nil)

// recorder receives effective changes while the role lock is held.
// Implementations must not block or do any I/O.
type recorder interface {
	record(changes ...types.AssignmentPolicyChange)
}

type roleEntry struct {
	perms roleSet
	sync.RWMutex
}

// Store keeps the permissions granted to every role.
// Each role has its own lock, so changes to different roles never wait for each other.
type Store struct {
	reg   types.Registry
	roles map[types.Role]*roleEntry
	rec   recorder
	log   logr.Logger
}

// NewStore creates a store where every known role holds nothing
func NewStore(reg types.Registry, l logr.Logger) *Store {
	s := &Store{
		reg:   reg,
		roles: make(map[types.Role]*roleEntry),
		log:   l,
	}
	for _, r := range types.AllRoles() {
		s.roles[r] = &roleEntry{perms: make(roleSet)}
	}
	return s
}

// entry never changes the roles map, so it does not need any lock
func (s *Store) entry(role types.Role) (*roleEntry, error) {
	e, ok := s.roles[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownRole, role)
	}
	return e, nil
}

func (s *Store) emit(role types.Role, method types.PersistMethod, ids ...string) {
	if s.rec == nil || len(ids) == 0 {
		return
	}
	changes := make([]types.AssignmentPolicyChange, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, types.AssignmentPolicyChange{
			AssignmentPolicy: types.AssignmentPolicy{Role: role, PermissionID: id},
			Method:           method,
		})
	}
	s.rec.record(changes...)
}

// GetPermissions returns a copy of permission ids granted to role
func (s *Store) GetPermissions(role types.Role) (map[string]struct{}, error) {
	e, err := s.entry(role)
	if err != nil {
		return nil, err
	}

	e.RLock()
	defer e.RUnlock()
	return e.perms.clone(), nil
}

// HasPermission tells if the permission is granted to role, unregistered ids are errors
func (s *Store) HasPermission(role types.Role, id string) (bool, error) {
	e, err := s.entry(role)
	if err != nil {
		return false, err
	}
	if err := s.reg.Validate(id); err != nil {
		return false, err
	}

	e.RLock()
	defer e.RUnlock()
	return e.perms.has(id), nil
}

// Grant the permission to role
func (s *Store) Grant(role types.Role, id string) error {
	s.log.V(4).Info("grant", "role", role, "permission", id)

	e, err := s.entry(role)
	if err != nil {
		return err
	}
	if err := s.reg.Validate(id); err != nil {
		return err
	}

	e.Lock()
	defer e.Unlock()
	if e.perms.add(id) {
		s.emit(role, types.PersistInsert, id)
	}
	return nil
}

// Revoke the permission from role
func (s *Store) Revoke(role types.Role, id string) error {
	s.log.V(4).Info("revoke", "role", role, "permission", id)

	e, err := s.entry(role)
	if err != nil {
		return err
	}
	if err := s.reg.Validate(id); err != nil {
		return err
	}

	e.Lock()
	defer e.Unlock()
	if e.perms.remove(id) {
		s.emit(role, types.PersistDelete, id)
	}
	return nil
}

// Toggle revokes the permission if granted, or grants it otherwise
func (s *Store) Toggle(role types.Role, id string) (bool, error) {
	s.log.V(4).Info("toggle", "role", role, "permission", id)

	e, err := s.entry(role)
	if err != nil {
		return false, err
	}
	if err := s.reg.Validate(id); err != nil {
		return false, err
	}

	e.Lock()
	defer e.Unlock()
	if e.perms.remove(id) {
		s.emit(role, types.PersistDelete, id)
		return false, nil
	}
	e.perms.add(id)
	s.emit(role, types.PersistInsert, id)
	return true, nil
}

// ReplaceAll sets the permissions of role to exactly ids.
// Nothing changes unless every id is registered.
func (s *Store) ReplaceAll(role types.Role, ids []string) error {
	s.log.V(4).Info("replace all", "role", role, "permissions", ids)

	e, err := s.entry(role)
	if err != nil {
		return err
	}
	for i, id := range ids {
		if !s.reg.Exists(id) {
			return fmt.Errorf("%w: %w: %q at position %d", types.ErrValidation, types.ErrUnknownPermission, id, i)
		}
	}

	e.Lock()
	defer e.Unlock()

	added, removed := e.perms.diff(ids)
	sort.Strings(removed)
	for _, id := range removed {
		e.perms.remove(id)
	}
	for _, id := range added {
		e.perms.add(id)
	}
	s.emit(role, types.PersistDelete, removed...)
	s.emit(role, types.PersistInsert, added...)

	return nil
}

// apply a change made by someone else, it is never recorded again
func (s *Store) apply(change types.AssignmentPolicyChange) error {
	e, err := s.entry(change.Role)
	if err != nil {
		return err
	}
	if err := s.reg.Validate(change.PermissionID); err != nil {
		return err
	}

	e.Lock()
	defer e.Unlock()

	switch change.Method {
	case types.PersistInsert:
		e.perms.add(change.PermissionID)
	case types.PersistDelete:
		e.perms.remove(change.PermissionID)
	default:
		return fmt.Errorf("%w: %s", types.ErrUnsupportedChange, change.Method)
	}
	return nil
}

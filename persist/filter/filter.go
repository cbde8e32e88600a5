package filter

import (
	"context"
	"sync"

	"github.com/medconsole/rbac/types"
)

type assignmentPersisterFilter struct {
	types.AssignmentPersister
	changes map[types.AssignmentPolicyChange]int
	sync.Mutex
}

// NewAssignmentPersister checks if the incoming changes are made by the inner persister itself,
// and drops them from Watch if true
func NewAssignmentPersister(p types.AssignmentPersister) *assignmentPersisterFilter {
	if f, ok := p.(*assignmentPersisterFilter); ok {
		return f
	}
	return &assignmentPersisterFilter{
		AssignmentPersister: p,
		changes:             make(map[types.AssignmentPolicyChange]int),
	}
}

// Insert a policy to the persister
func (f *assignmentPersisterFilter) Insert(ctx context.Context, role types.Role, id string) error {
	change := types.AssignmentPolicyChange{
		AssignmentPolicy: types.AssignmentPolicy{Role: role, PermissionID: id},
		Method:           types.PersistInsert,
	}

	f.mark(change)
	if e := f.AssignmentPersister.Insert(ctx, role, id); e != nil {
		f.unmark(change)
		return e
	}
	return nil
}

// Remove a policy from the persister
func (f *assignmentPersisterFilter) Remove(ctx context.Context, role types.Role, id string) error {
	change := types.AssignmentPolicyChange{
		AssignmentPolicy: types.AssignmentPolicy{Role: role, PermissionID: id},
		Method:           types.PersistDelete,
	}

	f.mark(change)
	if e := f.AssignmentPersister.Remove(ctx, role, id); e != nil {
		f.unmark(change)
		return e
	}
	return nil
}

// Watch changes made by anyone else
func (f *assignmentPersisterFilter) Watch(ctx context.Context) (<-chan types.AssignmentPolicyChange, error) {
	in, e := f.AssignmentPersister.Watch(ctx)
	if e != nil {
		return nil, e
	}

	out := make(chan types.AssignmentPolicyChange)

	go func() {
		defer close(out)

		for change := range in {
			if f.unmark(change) {
				continue
			}

			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (f *assignmentPersisterFilter) mark(change types.AssignmentPolicyChange) {
	f.Lock()
	f.changes[change]++
	f.Unlock()
}

// unmark returns false if the change was not made by us
func (f *assignmentPersisterFilter) unmark(change types.AssignmentPolicyChange) bool {
	f.Lock()
	defer f.Unlock()

	n, ok := f.changes[change]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(f.changes, change)
	} else {
		f.changes[change] = n - 1
	}
	return true
}

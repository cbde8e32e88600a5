package fake

import (
	"context"
	"sync"

	"github.com/medconsole/rbac/types"
)

var _ interface {
	types.AssignmentPersister
	types.SeedMarker
} = (*assignmentPersister)(nil)

type assignmentPersister struct {
	polices map[types.Role]map[string]struct{}
	seeded  bool
	changes chan types.AssignmentPolicyChange
	done    <-chan struct{}
	sync.RWMutex
}

// NewAssignmentPersister returns a fake assignment persister which should not be used in real works
func NewAssignmentPersister() *assignmentPersister {
	return &assignmentPersister{
		polices: make(map[types.Role]map[string]struct{}),
	}
}

func (p *assignmentPersister) Insert(_ context.Context, role types.Role, id string) error {
	p.Lock()
	defer p.Unlock()

	if p.polices[role] == nil {
		p.polices[role] = make(map[string]struct{})
	}
	if _, ok := p.polices[role][id]; ok {
		return types.ErrAlreadyExists
	}
	p.polices[role][id] = struct{}{}

	p.notify(types.AssignmentPolicyChange{
		AssignmentPolicy: types.AssignmentPolicy{Role: role, PermissionID: id},
		Method:           types.PersistInsert,
	})
	return nil
}

func (p *assignmentPersister) Remove(_ context.Context, role types.Role, id string) error {
	p.Lock()
	defer p.Unlock()

	if _, ok := p.polices[role][id]; !ok {
		return types.ErrNotFound
	}
	delete(p.polices[role], id)

	p.notify(types.AssignmentPolicyChange{
		AssignmentPolicy: types.AssignmentPolicy{Role: role, PermissionID: id},
		Method:           types.PersistDelete,
	})
	return nil
}

func (p *assignmentPersister) List(context.Context) ([]types.AssignmentPolicy, error) {
	p.RLock()
	defer p.RUnlock()

	polices := make([]types.AssignmentPolicy, 0, len(p.polices))
	for role, ids := range p.polices {
		for id := range ids {
			polices = append(polices, types.AssignmentPolicy{Role: role, PermissionID: id})
		}
	}

	return polices, nil
}

// Watch returns a channel of every following change, it is closed when ctx is done
func (p *assignmentPersister) Watch(ctx context.Context) (<-chan types.AssignmentPolicyChange, error) {
	p.Lock()
	defer p.Unlock()

	changes := make(chan types.AssignmentPolicyChange)
	p.changes = changes
	p.done = ctx.Done()

	go func() {
		<-ctx.Done()
		p.Lock()
		if p.changes == changes {
			p.changes = nil
		}
		close(changes)
		p.Unlock()
	}()

	return changes, nil
}

// notify must be called with the lock held
func (p *assignmentPersister) notify(change types.AssignmentPolicyChange) {
	if p.changes == nil {
		return
	}

	select {
	case p.changes <- change:
	case <-p.done:
	}
}

func (p *assignmentPersister) Seeded(context.Context) (bool, error) {
	p.RLock()
	defer p.RUnlock()
	return p.seeded, nil
}

func (p *assignmentPersister) MarkSeeded(context.Context) error {
	p.Lock()
	defer p.Unlock()
	p.seeded = true
	return nil
}

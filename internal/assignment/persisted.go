package assignment

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/medconsole/rbac/persist/filter"
	"github.com/medconsole/rbac/types"
)

// Persisted is a Store loaded from, written to, and kept synced with a persister
type Persisted struct {
	*Store
	persist types.AssignmentPersister
	journal *journal
	loaded  int
}

// NewPersisted loads polices from the persister, and starts writing and watching changes until ctx is done
func NewPersisted(ctx context.Context, reg types.Registry, persist types.AssignmentPersister, l logr.Logger, onError func(error)) (*Persisted, error) {
	p := &Persisted{
		Store:   NewStore(reg, l),
		persist: filter.NewAssignmentPersister(persist),
	}

	if e := p.loadPersisted(ctx); e != nil {
		return nil, e
	}
	if e := p.startWatching(ctx); e != nil {
		return nil, e
	}

	p.journal = newJournal(p.persist, l.WithName("journal"), onError)
	p.Store.rec = p.journal
	go p.journal.run(ctx)

	return p, nil
}

// Loaded returns how many polices were found in the persister on start
func (p *Persisted) Loaded() int {
	return p.loaded
}

// Flush blocks until every accepted change is written to the persister
func (p *Persisted) Flush(ctx context.Context) error {
	return p.journal.flush(ctx)
}

func (p *Persisted) loadPersisted(ctx context.Context) error {
	p.log.V(4).Info("load persisted polices")

	polices, e := p.persist.List(ctx)
	if e != nil {
		return fmt.Errorf("list persisted polices: %w", e)
	}
	for _, policy := range polices {
		change := types.AssignmentPolicyChange{AssignmentPolicy: policy, Method: types.PersistInsert}
		if e := p.Store.apply(change); e != nil {
			return fmt.Errorf("load persisted policy %s -> %q: %w", policy.Role, policy.PermissionID, e)
		}
	}
	p.loaded = len(polices)

	return nil
}

func (p *Persisted) startWatching(ctx context.Context) error {
	changes, e := p.persist.Watch(ctx)
	if e != nil {
		return fmt.Errorf("watch persisted polices: %w", e)
	}

	go func() {
		for {
			select {
			case change, ok := <-changes:
				if !ok {
					p.log.V(2).Info("persister stopped sending changes")
					return
				}
				if e := p.coordinateChange(change); e != nil {
					p.log.Error(e, "coordinate assignment changes", "change", change)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (p *Persisted) coordinateChange(change types.AssignmentPolicyChange) error {
	p.log.V(4).Info("coordinate assignment changes", "change", change)
	return p.Store.apply(change)
}

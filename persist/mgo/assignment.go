package mgo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/globalsign/mgo"
	"github.com/go-logr/logr"

	"github.com/medconsole/rbac/types"
)

// AssignmentPersister is an AssignmentPersister backed by mongodb
type AssignmentPersister struct {
	*collection
}

// NewAssignment uses the given mongodb collection as backend to persist assignment polices
func NewAssignment(coll *mgo.Collection, opts ...collectionOption) (*AssignmentPersister, error) {
	c := &AssignmentPersister{&collection{
		Collection:   coll,
		log:          logr.Discard(),
		retryTimeout: time.Second,
	}}
	for _, opt := range opts {
		opt(c.collection)
	}

	ss := c.copySession()
	defer ss.closeSession()

	if e := ss.EnsureIndex(mgo.Index{Key: []string{"role", "permission"}, Unique: true}); e != nil {
		return nil, e
	}

	return c, nil
}

type assignmentPolicyDO struct {
	ID         string     `bson:"_id"`
	Role       types.Role `bson:"role,omitempty"`
	Permission string     `bson:"permission,omitempty"`
}

func newAssignmentPolicyDO(role types.Role, id string) *assignmentPolicyDO {
	p := &assignmentPolicyDO{Role: role, Permission: id}
	p.ID = p.id()
	return p
}

func (p *assignmentPolicyDO) id() string {
	return string(p.Role) + "#" + p.Permission
}

// parseID is used when the full document is gone, like after deleting
func (p *assignmentPolicyDO) parseID(id string) error {
	parts := strings.SplitN(id, "#", 2)
	if len(parts) < 2 {
		return fmt.Errorf("invalid assignment policy id: %s", id)
	}

	p.ID = id
	p.Role = types.Role(parts[0])
	p.Permission = parts[1]
	return nil
}

func (p *assignmentPolicyDO) asAssignmentPolicy() types.AssignmentPolicy {
	return types.AssignmentPolicy{Role: p.Role, PermissionID: p.Permission}
}

func parseMgoError(e error) error {
	switch {
	case e == nil:
		return nil
	case mgo.IsDup(e):
		return fmt.Errorf("%w: %s", types.ErrAlreadyExists, e)
	case errors.Is(e, mgo.ErrNotFound):
		return types.ErrNotFound
	}
	return e
}

// Insert a policy to the persister
func (p *AssignmentPersister) Insert(_ context.Context, role types.Role, id string) error {
	ss := p.copySession()
	defer ss.closeSession()

	policy := newAssignmentPolicyDO(role, id)
	p.log.V(4).Info("insert assignment policy", "policy", policy)

	return parseMgoError(ss.Insert(policy))
}

// Remove a policy from the persister
func (p *AssignmentPersister) Remove(_ context.Context, role types.Role, id string) error {
	ss := p.copySession()
	defer ss.closeSession()

	policy := newAssignmentPolicyDO(role, id)
	p.log.V(4).Info("remove assignment policy", "policy", policy)

	return parseMgoError(ss.RemoveId(policy.ID))
}

// List all polices from the persister
func (p *AssignmentPersister) List(context.Context) ([]types.AssignmentPolicy, error) {
	ss := p.copySession()
	defer ss.closeSession()

	iter := ss.Find(nil).Iter()
	defer iter.Close()

	polices := make([]types.AssignmentPolicy, 0)
	var ap assignmentPolicyDO
	for iter.Next(&ap) {
		polices = append(polices, ap.asAssignmentPolicy())
		ap = assignmentPolicyDO{}
	}
	if e := iter.Err(); e != nil {
		return nil, e
	}

	p.log.V(4).Info("list assignment policies", "polices", polices)

	return polices, nil
}

type assignmentChangeEvent struct {
	OperationType changeStreamOperationType `bson:"operationType,omitempty"`
	FullDocument  assignmentPolicyDO        `bson:"fullDocument,omitempty"`
	DocumentKey   struct {
		ID string `bson:"_id,omitempty"`
	} `bson:"documentKey,omitempty"`
}

// Watch any changes occurred about the polices in the persister
func (p *AssignmentPersister) Watch(ctx context.Context) (<-chan types.AssignmentPolicyChange, error) {
	connect := func() (*mgo.ChangeStream, func(), error) {
		ss := p.copySession()
		cs, e := ss.Watch(nil, mgo.ChangeStreamOptions{})
		if e != nil {
			ss.closeSession()
			return nil, nil, e
		}

		p.log.Info("watch mongo stream change")

		return cs, func() {
			cs.Close()
			ss.closeSession()
		}, nil
	}

	fetch := func(cs *mgo.ChangeStream, changes chan<- types.AssignmentPolicyChange) error {
		for {
			var event assignmentChangeEvent
			if cs.Next(&event) {
				var method types.PersistMethod

				switch event.OperationType {
				case insert:
					method = types.PersistInsert

				case delete:
					method = types.PersistDelete
					// we cannot get fulldocument if deleted, and have to parse it from id
					policy := assignmentPolicyDO{}
					if e := policy.parseID(event.DocumentKey.ID); e != nil {
						p.log.Error(e, "parse assignment policy id", "id", event.DocumentKey.ID)
						continue
					}
					event.FullDocument = policy

				default:
					// polices are only inserted or removed, never updated in place
					p.log.Info("unknown operation type", "operation type", event.OperationType, "key", event.DocumentKey.ID)
					continue
				}

				p.log.V(4).Info("got assignment change event", "method", method, "document", event.FullDocument)
				change := types.AssignmentPolicyChange{
					AssignmentPolicy: event.FullDocument.asAssignmentPolicy(),
					Method:           method,
				}

				select {
				case <-ctx.Done():
					return ctx.Err()
				case changes <- change:
				}
				continue
			}

			if e := cs.Err(); e != nil {
				if !errors.Is(e, mgo.ErrNotFound) {
					return e
				}
				p.log.V(2).Info("watch found nothing, retry later")
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	cs, closer, e := connect()
	if e != nil {
		return nil, e
	}

	changes := make(chan types.AssignmentPolicyChange)
	go func() {
		defer close(changes)

		for {
			e := fetch(cs, changes)
			closer()
			if ctx.Err() != nil {
				return
			}
			p.log.Error(e, "fetch event change failed, reconnect later")

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.retryTimeout):
				}

				cs, closer, e = connect()
				if e == nil {
					break
				}
				p.log.Error(e, "connect to watch failed, reconnect later")
			}
		}
	}()

	return changes, nil
}

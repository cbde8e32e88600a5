package mgo

import (
	"context"
	"time"

	"github.com/globalsign/mgo"

	"github.com/medconsole/rbac/types"
)

var _ interface {
	types.AssignmentPersister
	types.SeedMarker
} = (*AssignmentPersister)(nil)

const seededID = "seeded"

type metaDO struct {
	ID string    `bson:"_id"`
	At time.Time `bson:"at"`
}

// meta documents live next to the polices, so List never sees them
func (c *collection) meta() *mgo.Collection {
	return c.Database.C(c.Name + "_meta")
}

// Seeded tells if the seed policy was ever applied to the collection
func (p *AssignmentPersister) Seeded(context.Context) (bool, error) {
	ss := p.copySession()
	defer ss.closeSession()

	n, e := ss.meta().FindId(seededID).Count()
	if e != nil {
		return false, e
	}
	return n > 0, nil
}

// MarkSeeded records the seed policy was applied
func (p *AssignmentPersister) MarkSeeded(context.Context) error {
	ss := p.copySession()
	defer ss.closeSession()

	e := ss.meta().Insert(&metaDO{ID: seededID, At: time.Now()})
	if e != nil && !mgo.IsDup(e) {
		return e
	}
	return nil
}

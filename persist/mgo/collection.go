package mgo

import (
	"time"

	"github.com/globalsign/mgo"
	"github.com/go-logr/logr"
)

type collection struct {
	*mgo.Collection
	log          logr.Logger
	retryTimeout time.Duration
}

func (c *collection) copySession() *collection {
	db := c.Database
	return &collection{
		Collection:   db.Session.Copy().DB(db.Name).C(c.Name),
		log:          c.log,
		retryTimeout: c.retryTimeout,
	}
}

func (c *collection) closeSession() {
	c.Database.Session.Close()
}

type collectionOption func(*collection)

// WithLogger sets logger for the persister
func WithLogger(l logr.Logger) collectionOption {
	return func(c *collection) {
		c.log = l
	}
}

// SetRetryTimeout sets how long to wait before reconnecting a broken change stream
func SetRetryTimeout(d time.Duration) collectionOption {
	return func(c *collection) {
		c.retryTimeout = d
	}
}

type changeStreamOperationType string

const (
	insert  changeStreamOperationType = "insert"
	delete  changeStreamOperationType = "delete"
	update  changeStreamOperationType = "update"
	replace changeStreamOperationType = "replace"
)

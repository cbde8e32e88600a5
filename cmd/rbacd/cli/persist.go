package cli

import (
	"context"
	"fmt"

	"github.com/globalsign/mgo"
	"github.com/go-logr/logr"

	"github.com/medconsole/rbac/internal/config"
	mgopersist "github.com/medconsole/rbac/persist/mgo"
	"github.com/medconsole/rbac/persist/pg"
	"github.com/medconsole/rbac/persist/redis"
	"github.com/medconsole/rbac/persist/sqlite"
	"github.com/medconsole/rbac/types"
)

// openPersister connects the configured storage, nil for the memory driver
func openPersister(ctx context.Context, cfg config.PersistConfig, l logr.Logger) (types.AssignmentPersister, func(), error) {
	l = l.WithName("persist").WithValues("driver", cfg.Driver)
	noop := func() {}

	switch cfg.Driver {
	case config.DriverMemory, "":
		l.Info("assignments will be lost after restart")
		return nil, noop, nil

	case config.DriverSqlite:
		p, e := sqlite.Open(cfg.DSN, l)
		if e != nil {
			return nil, nil, e
		}
		return p, func() { p.Close() }, nil

	case config.DriverPostgres:
		pool, e := pg.NewPool(ctx, cfg.DSN, 10, 2)
		if e != nil {
			return nil, nil, e
		}
		p, e := pg.New(ctx, pool, pg.WithLogger(l), pg.SetRetryTimeout(cfg.RetryTimeout))
		if e != nil {
			pool.Close()
			return nil, nil, e
		}
		return p, pool.Close, nil

	case config.DriverRedis:
		client, e := redis.Dial(ctx, cfg.DSN)
		if e != nil {
			return nil, nil, e
		}
		return redis.New(client, redis.WithLogger(l)), func() { client.Close() }, nil

	case config.DriverMongo:
		sess, e := mgo.Dial(cfg.DSN)
		if e != nil {
			return nil, nil, fmt.Errorf("dial mongo: %w", e)
		}
		p, e := mgopersist.NewAssignment(sess.DB("").C("role_permissions"),
			mgopersist.WithLogger(l), mgopersist.SetRetryTimeout(cfg.RetryTimeout))
		if e != nil {
			sess.Close()
			return nil, nil, e
		}
		return p, sess.Close, nil
	}

	return nil, nil, fmt.Errorf("%w: persist driver %q", types.ErrValidation, cfg.Driver)
}

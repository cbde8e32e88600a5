package cli

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/medconsole/rbac"
	"github.com/medconsole/rbac/internal/config"
	"github.com/medconsole/rbac/types"
)

// newAuthorizer builds the authorizer from config, the returned func closes the persister
func newAuthorizer(ctx context.Context, cfg *config.Config, l logr.Logger) (types.Authorizer, func(), error) {
	seed, e := cfg.SeedPolicy()
	if e != nil {
		return nil, nil, e
	}

	pp, closePersister, e := openPersister(ctx, cfg.Persist, l)
	if e != nil {
		return nil, nil, e
	}

	opts := []rbac.AuthorizerOption{
		rbac.WithPermissions(cfg.Permissions...),
		rbac.WithSeedPolicy(seed),
		rbac.WithLogger(l),
		rbac.WithErrorHandler(func(e error) {
			l.Error(e, "assignment change is not persisted")
		}),
	}
	if pp != nil {
		opts = append(opts, rbac.WithPersister(pp))
	}

	authz, e := rbac.New(ctx, opts...)
	if e != nil {
		closePersister()
		return nil, nil, e
	}
	return authz, closePersister, nil
}

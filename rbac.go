package rbac

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/medconsole/rbac/internal/assignment"
	"github.com/medconsole/rbac/internal/authorizer"
	"github.com/medconsole/rbac/internal/registry"
	"github.com/medconsole/rbac/types"
)

// New creates a RBAC Authorizer
func New(ctx context.Context, opts ...AuthorizerOption) (types.Authorizer, error) {
	cfg := &AuthorizerConfig{seed: make(Seed)}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.log == nil {
		l := stdr.New(log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile))
		cfg.log = &l
	}
	logger := *cfg.log

	reg, e := registry.New(cfg.perms...)
	if e != nil {
		return nil, fmt.Errorf("init permission registry failed: %w", e)
	}

	plan, e := cfg.seed.plan(reg)
	if e != nil {
		return nil, fmt.Errorf("invalid seed policy: %w", e)
	}

	var a types.Assignment
	var marker types.SeedMarker
	fresh, seeded := true, false
	if cfg.pp != nil {
		p, e := assignment.NewPersisted(ctx, reg, cfg.pp, logger.WithName("assignment"), cfg.onError)
		if e != nil {
			return nil, fmt.Errorf("init persisted assignment failed: %w", e)
		}
		// without a marker, an empty persister is taken as a fresh deployment
		if m, ok := cfg.pp.(types.SeedMarker); ok {
			marker = m
			if seeded, e = m.Seeded(ctx); e != nil {
				return nil, fmt.Errorf("read seed marker failed: %w", e)
			}
		}
		fresh = p.Loaded() == 0 && !seeded
		a = p
	} else {
		a = assignment.NewStore(reg, logger.WithName("assignment"))
	}

	if fresh {
		logger.V(2).Info("seed fresh deployment", "roles", len(plan))
		if e := plan.apply(a); e != nil {
			return nil, fmt.Errorf("seed assignment failed: %w", e)
		}
	} else {
		logger.V(2).Info("deployment was seeded before, skip seeding")
	}

	authz := authorizer.New(reg, a, logger.WithName("authorizer"))

	if marker != nil && !seeded {
		if e := authz.Flush(ctx); e != nil {
			return nil, fmt.Errorf("persist seed failed: %w", e)
		}
		if e := marker.MarkSeeded(ctx); e != nil {
			return nil, fmt.Errorf("write seed marker failed: %w", e)
		}
	}

	return authz, nil
}

// WithPermissions sets the permission catalog, in the order it should be listed
// at least one permission is required
func WithPermissions(perms ...types.Permission) AuthorizerOption {
	return func(cfg *AuthorizerConfig) {
		cfg.perms = append(cfg.perms, perms...)
	}
}

// WithPersister sets Persister for role assignments
// all changes will be lost after restart if not set
func WithPersister(p types.AssignmentPersister) AuthorizerOption {
	return func(cfg *AuthorizerConfig) {
		cfg.pp = p
	}
}

// WithSeed sets the permissions a role starts with on a fresh deployment
// ADMIN always starts with every permission and could not be seeded
func WithSeed(role types.Role, ids ...string) AuthorizerOption {
	return func(cfg *AuthorizerConfig) {
		cfg.seed[role] = append(cfg.seed[role], ids...)
	}
}

// WithSeedPolicy merges a whole seed policy, like one read from a config file
func WithSeedPolicy(seed Seed) AuthorizerOption {
	return func(cfg *AuthorizerConfig) {
		for role, ids := range seed {
			cfg.seed[role] = append(cfg.seed[role], ids...)
		}
	}
}

// WithLogger sets logger for rbac components
func WithLogger(l logr.Logger) AuthorizerOption {
	return func(cfg *AuthorizerConfig) {
		cfg.log = &l
	}
}

// WithErrorHandler is called whenever an accepted change could not be persisted
func WithErrorHandler(f func(error)) AuthorizerOption {
	return func(cfg *AuthorizerConfig) {
		cfg.onError = f
	}
}

// AuthorizerConfig works together with AuthorizerOption to control the initialization of authorizer
type AuthorizerConfig struct {
	perms   []types.Permission
	pp      types.AssignmentPersister
	seed    Seed
	onError func(error)
	log     *logr.Logger
}

// AuthorizerOption controls how to init an authorizer
type AuthorizerOption func(*AuthorizerConfig)

// Package redis persists role assignments in redis sets,
// and shares changes between processes with pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/medconsole/rbac/types"
)

var _ interface {
	types.AssignmentPersister
	types.SeedMarker
} = (*AssignmentPersister)(nil)

// KEYS[1] role set, KEYS[2] role index; ARGV[1] permission, ARGV[2] role, ARGV[3] channel, ARGV[4] payload
var insertScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
if added == 1 then
	redis.call('SADD', KEYS[2], ARGV[2])
	redis.call('PUBLISH', ARGV[3], ARGV[4])
end
return added
`)

// KEYS[1] role set; ARGV[1] permission, ARGV[2] channel, ARGV[3] payload
var removeScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 1 then
	redis.call('PUBLISH', ARGV[2], ARGV[3])
end
return removed
`)

// DefaultPrefix is prepended to every key and the change channel
const DefaultPrefix = "rbac"

// AssignmentPersister is an AssignmentPersister backed by redis
type AssignmentPersister struct {
	client redis.UniversalClient
	prefix string
	log    logr.Logger
}

type persisterOption func(*AssignmentPersister)

// WithLogger sets logger for the persister
func WithLogger(l logr.Logger) persisterOption {
	return func(p *AssignmentPersister) {
		p.log = l
	}
}

// WithPrefix sets the key prefix, processes sharing polices must use the same one
func WithPrefix(prefix string) persisterOption {
	return func(p *AssignmentPersister) {
		p.prefix = prefix
	}
}

// New uses the redis client as backend to persist assignment polices
func New(client redis.UniversalClient, opts ...persisterOption) *AssignmentPersister {
	p := &AssignmentPersister{
		client: client,
		prefix: DefaultPrefix,
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *AssignmentPersister) roleKey(role types.Role) string {
	return p.prefix + ":role:" + string(role)
}

func (p *AssignmentPersister) indexKey() string {
	return p.prefix + ":roles"
}

func (p *AssignmentPersister) seededKey() string {
	return p.prefix + ":seeded"
}

func (p *AssignmentPersister) channel() string {
	return p.prefix + ":changes"
}

func encode(role types.Role, id string, method types.PersistMethod) (string, error) {
	b, err := json.Marshal(types.AssignmentPolicyChange{
		AssignmentPolicy: types.AssignmentPolicy{Role: role, PermissionID: id},
		Method:           method,
	})
	return string(b), err
}

// Insert a policy to the persister
func (p *AssignmentPersister) Insert(ctx context.Context, role types.Role, id string) error {
	p.log.V(4).Info("insert assignment policy", "role", role, "permission", id)

	payload, err := encode(role, id, types.PersistInsert)
	if err != nil {
		return err
	}

	added, err := insertScript.Run(ctx, p.client,
		[]string{p.roleKey(role), p.indexKey()},
		id, string(role), p.channel(), payload,
	).Int()
	if err != nil {
		return fmt.Errorf("insert assignment policy: %w", err)
	}
	if added == 0 {
		return fmt.Errorf("%w: %s -> %q", types.ErrAlreadyExists, role, id)
	}
	return nil
}

// Remove a policy from the persister
func (p *AssignmentPersister) Remove(ctx context.Context, role types.Role, id string) error {
	p.log.V(4).Info("remove assignment policy", "role", role, "permission", id)

	payload, err := encode(role, id, types.PersistDelete)
	if err != nil {
		return err
	}

	removed, err := removeScript.Run(ctx, p.client,
		[]string{p.roleKey(role)},
		id, p.channel(), payload,
	).Int()
	if err != nil {
		return fmt.Errorf("remove assignment policy: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s -> %q", types.ErrNotFound, role, id)
	}
	return nil
}

// List all polices from the persister
func (p *AssignmentPersister) List(ctx context.Context) ([]types.AssignmentPolicy, error) {
	roles, err := p.client.SMembers(ctx, p.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	sort.Strings(roles)

	polices := make([]types.AssignmentPolicy, 0)
	for _, role := range roles {
		ids, err := p.client.SMembers(ctx, p.roleKey(types.Role(role))).Result()
		if err != nil {
			return nil, fmt.Errorf("list permissions of %s: %w", role, err)
		}
		sort.Strings(ids)
		for _, id := range ids {
			polices = append(polices, types.AssignmentPolicy{Role: types.Role(role), PermissionID: id})
		}
	}

	p.log.V(4).Info("list assignment polices", "count", len(polices))
	return polices, nil
}

// Watch any changes occurred about the polices, from any process using the same prefix
func (p *AssignmentPersister) Watch(ctx context.Context) (<-chan types.AssignmentPolicyChange, error) {
	sub := p.client.Subscribe(ctx, p.channel())
	// wait for the subscription, or changes published right after Watch returns could be missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", p.channel(), err)
	}
	p.log.Info("subscribe assignment changes", "channel", p.channel())

	messages := sub.Channel()
	changes := make(chan types.AssignmentPolicyChange)

	go func() {
		defer close(changes)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}

				var change types.AssignmentPolicyChange
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					p.log.Error(err, "decode assignment change", "payload", msg.Payload)
					continue
				}
				p.log.V(4).Info("got assignment change", "change", change)

				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return changes, nil
}

// Seeded tells if the seed policy was ever applied under the prefix
func (p *AssignmentPersister) Seeded(ctx context.Context) (bool, error) {
	n, err := p.client.Exists(ctx, p.seededKey()).Result()
	if err != nil {
		return false, fmt.Errorf("read seed marker: %w", err)
	}
	return n > 0, nil
}

// MarkSeeded records the seed policy was applied
func (p *AssignmentPersister) MarkSeeded(ctx context.Context) error {
	if err := p.client.SetNX(ctx, p.seededKey(), time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("write seed marker: %w", err)
	}
	return nil
}

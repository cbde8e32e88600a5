// Package pg persists role assignments in postgres,
// and shares changes between processes with LISTEN/NOTIFY.
package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medconsole/rbac/types"
)

var _ interface {
	types.AssignmentPersister
	types.SeedMarker
} = (*AssignmentPersister)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS role_permissions (
	role       TEXT NOT NULL,
	permission TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (role, permission)
)`

const metaSchema = `
CREATE TABLE IF NOT EXISTS rbac_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// DefaultChannel is the notification channel changes are sent to
const DefaultChannel = "rbac_role_permissions"

// AssignmentPersister is an AssignmentPersister backed by postgres
type AssignmentPersister struct {
	pool         *pgxpool.Pool
	channel      string
	log          logr.Logger
	retryTimeout time.Duration
}

type persisterOption func(*AssignmentPersister)

// WithLogger sets logger for the persister
func WithLogger(l logr.Logger) persisterOption {
	return func(p *AssignmentPersister) {
		p.log = l
	}
}

// SetRetryTimeout sets how long to wait before listening again after the connection is lost
func SetRetryTimeout(d time.Duration) persisterOption {
	return func(p *AssignmentPersister) {
		p.retryTimeout = d
	}
}

// WithChannel sets the notification channel, processes sharing polices must use the same one
func WithChannel(channel string) persisterOption {
	return func(p *AssignmentPersister) {
		p.channel = channel
	}
}

// New uses the pool as backend to persist assignment polices, the table is created if missing
func New(ctx context.Context, pool *pgxpool.Pool, opts ...persisterOption) (*AssignmentPersister, error) {
	p := &AssignmentPersister{
		pool:         pool,
		channel:      DefaultChannel,
		log:          logr.Discard(),
		retryTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate role_permissions: %w", err)
	}
	if _, err := pool.Exec(ctx, metaSchema); err != nil {
		return nil, fmt.Errorf("migrate rbac_meta: %w", err)
	}

	return p, nil
}

// Insert a policy to the persister
func (p *AssignmentPersister) Insert(ctx context.Context, role types.Role, id string) error {
	p.log.V(4).Info("insert assignment policy", "role", role, "permission", id)

	return p.change(ctx, types.AssignmentPolicyChange{
		AssignmentPolicy: types.AssignmentPolicy{Role: role, PermissionID: id},
		Method:           types.PersistInsert,
	}, `INSERT INTO role_permissions (role, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`, types.ErrAlreadyExists)
}

// Remove a policy from the persister
func (p *AssignmentPersister) Remove(ctx context.Context, role types.Role, id string) error {
	p.log.V(4).Info("remove assignment policy", "role", role, "permission", id)

	return p.change(ctx, types.AssignmentPolicyChange{
		AssignmentPolicy: types.AssignmentPolicy{Role: role, PermissionID: id},
		Method:           types.PersistDelete,
	}, `DELETE FROM role_permissions WHERE role = $1 AND permission = $2`, types.ErrNotFound)
}

// change runs the statement and notifies listeners in one transaction,
// noop is returned if the statement affects no rows
func (p *AssignmentPersister) change(ctx context.Context, change types.AssignmentPolicyChange, stmt string, noop error) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, stmt, string(change.Role), change.PermissionID)
	if err != nil {
		return fmt.Errorf("%s assignment policy: %w", change.Method, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> %q", noop, change.Role, change.PermissionID)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(payload)); err != nil {
		return fmt.Errorf("notify assignment change: %w", err)
	}

	return tx.Commit(ctx)
}

// List all polices from the persister
func (p *AssignmentPersister) List(ctx context.Context) ([]types.AssignmentPolicy, error) {
	rows, err := p.pool.Query(ctx, `SELECT role, permission FROM role_permissions ORDER BY role, created_at, permission`)
	if err != nil {
		return nil, fmt.Errorf("list assignment polices: %w", err)
	}

	polices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AssignmentPolicy, error) {
		var role, id string
		err := row.Scan(&role, &id)
		return types.AssignmentPolicy{Role: types.Role(role), PermissionID: id}, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan assignment polices: %w", err)
	}

	p.log.V(4).Info("list assignment polices", "count", len(polices))
	return polices, nil
}

// Watch any changes occurred about the polices, from any process using the same channel
func (p *AssignmentPersister) Watch(ctx context.Context) (<-chan types.AssignmentPolicyChange, error) {
	conn, err := p.listen(ctx)
	if err != nil {
		return nil, err
	}

	changes := make(chan types.AssignmentPolicyChange)
	go func() {
		defer close(changes)

		for {
			err := p.fetch(ctx, conn, changes)
			if ctx.Err() != nil {
				return
			}
			p.log.Error(err, "wait for notification failed, listen again later")

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.retryTimeout):
				}

				conn, err = p.listen(ctx)
				if err == nil {
					break
				}
				p.log.Error(err, "listen failed, retry later")
			}
		}
	}()

	return changes, nil
}

// listen takes a connection out of the pool for good, so closing the pool never waits for it
func (p *AssignmentPersister) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listening connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", p.channel, err)
	}

	p.log.Info("listen assignment changes", "channel", p.channel)
	return conn.Hijack(), nil
}

func (p *AssignmentPersister) fetch(ctx context.Context, conn *pgx.Conn, changes chan<- types.AssignmentPolicyChange) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		conn.Close(closeCtx)
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var change types.AssignmentPolicyChange
		if err := json.Unmarshal([]byte(n.Payload), &change); err != nil {
			p.log.Error(err, "decode assignment change", "payload", n.Payload)
			continue
		}
		p.log.V(4).Info("got assignment change", "change", change, "pid", n.PID)

		select {
		case changes <- change:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Seeded tells if the seed policy was ever applied to the database
func (p *AssignmentPersister) Seeded(ctx context.Context) (bool, error) {
	var seeded bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rbac_meta WHERE key = 'seeded')`).Scan(&seeded); err != nil {
		return false, fmt.Errorf("read seed marker: %w", err)
	}
	return seeded, nil
}

// MarkSeeded records the seed policy was applied
func (p *AssignmentPersister) MarkSeeded(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO rbac_meta (key, value) VALUES ('seeded', now()::text) ON CONFLICT (key) DO NOTHING`); err != nil {
		return fmt.Errorf("write seed marker: %w", err)
	}
	return nil
}

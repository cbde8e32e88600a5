// Package sqlite persists role assignments in a SQLite database.
// Watch only reports changes made through the same AssignmentPersister,
// SQLite has no way to notify other processes.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

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
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (role, permission)
)`

const metaSchema = `
CREATE TABLE IF NOT EXISTS rbac_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// AssignmentPersister is an AssignmentPersister backed by SQLite
type AssignmentPersister struct {
	db  *sqlx.DB
	log logr.Logger

	mu       sync.Mutex
	watchers []*watcher
}

type watcher struct {
	changes chan types.AssignmentPolicyChange
	done    <-chan struct{}
}

// Open opens or creates the database assignments.db in dataDir, pass empty string for in-memory
func Open(dataDir string, l logr.Logger) (*AssignmentPersister, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "assignments.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	return New(dsn, l)
}

// New connects to the sqlite database at dsn and creates the schema if missing
func New(dsn string, l logr.Logger) (*AssignmentPersister, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open assignment database: %w", err)
	}

	// one writer at a time, and an in-memory database lives in exactly one connection
	db.SetMaxOpenConns(1)

	p := &AssignmentPersister{db: db, log: l}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate assignment database: %w", err)
	}
	return p, nil
}

func (p *AssignmentPersister) migrate() error {
	for _, stmt := range []string{schema, metaSchema} {
		if _, err := p.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Seeded tells if the seed policy was ever applied to the database
func (p *AssignmentPersister) Seeded(ctx context.Context) (bool, error) {
	var n int
	if err := p.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM rbac_meta WHERE key = 'seeded'`); err != nil {
		return false, fmt.Errorf("read seed marker: %w", err)
	}
	return n > 0, nil
}

// MarkSeeded records the seed policy was applied
func (p *AssignmentPersister) MarkSeeded(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO rbac_meta (key, value) VALUES ('seeded', CURRENT_TIMESTAMP) ON CONFLICT (key) DO NOTHING`); err != nil {
		return fmt.Errorf("write seed marker: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (p *AssignmentPersister) Close() error {
	return p.db.Close()
}

// Insert a policy to the persister
func (p *AssignmentPersister) Insert(ctx context.Context, role types.Role, id string) error {
	p.log.V(4).Info("insert assignment policy", "role", role, "permission", id)

	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.db.ExecContext(ctx,
		`INSERT INTO role_permissions (role, permission) VALUES (?, ?) ON CONFLICT (role, permission) DO NOTHING`,
		string(role), id)
	if err != nil {
		return fmt.Errorf("insert assignment policy: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s -> %q", types.ErrAlreadyExists, role, id)
	}

	p.notify(types.AssignmentPolicyChange{
		AssignmentPolicy: types.AssignmentPolicy{Role: role, PermissionID: id},
		Method:           types.PersistInsert,
	})
	return nil
}

// Remove a policy from the persister
func (p *AssignmentPersister) Remove(ctx context.Context, role types.Role, id string) error {
	p.log.V(4).Info("remove assignment policy", "role", role, "permission", id)

	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role = ? AND permission = ?`,
		string(role), id)
	if err != nil {
		return fmt.Errorf("remove assignment policy: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s -> %q", types.ErrNotFound, role, id)
	}

	p.notify(types.AssignmentPolicyChange{
		AssignmentPolicy: types.AssignmentPolicy{Role: role, PermissionID: id},
		Method:           types.PersistDelete,
	})
	return nil
}

type policyRow struct {
	Role       string `db:"role"`
	Permission string `db:"permission"`
}

// List all polices from the persister
func (p *AssignmentPersister) List(ctx context.Context) ([]types.AssignmentPolicy, error) {
	var rows []policyRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT role, permission FROM role_permissions ORDER BY role, created_at, permission`); err != nil {
		return nil, fmt.Errorf("list assignment polices: %w", err)
	}

	polices := make([]types.AssignmentPolicy, 0, len(rows))
	for _, r := range rows {
		polices = append(polices, types.AssignmentPolicy{Role: types.Role(r.Role), PermissionID: r.Permission})
	}
	return polices, nil
}

// Watch changes made through this persister, the channel is closed when ctx is done
func (p *AssignmentPersister) Watch(ctx context.Context) (<-chan types.AssignmentPolicyChange, error) {
	w := &watcher{
		changes: make(chan types.AssignmentPolicyChange),
		done:    ctx.Done(),
	}

	p.mu.Lock()
	p.watchers = append(p.watchers, w)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()

		p.mu.Lock()
		defer p.mu.Unlock()
		for i, other := range p.watchers {
			if other == w {
				p.watchers = append(p.watchers[:i], p.watchers[i+1:]...)
				break
			}
		}
		close(w.changes)
	}()

	return w.changes, nil
}

// notify must be called with mu held
func (p *AssignmentPersister) notify(change types.AssignmentPolicyChange) {
	for _, w := range p.watchers {
		select {
		case w.changes <- change:
		case <-w.done:
		}
	}
}

package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/medconsole/rbac/types"
)

// ErrJournalStopped is returned by Flush once the journal no longer writes
var ErrJournalStopped = errors.New("journal stopped")

// journal decouples the persister from the role locks:
// changes are queued in memory while the lock is held, and written by a single goroutine in order.
type journal struct {
	persist types.AssignmentPersister
	onError func(error)
	log     logr.Logger

	mu       sync.Mutex
	queue    []types.AssignmentPolicyChange
	queued   uint64
	written  uint64
	stopped  bool
	progress chan struct{}
	wake     chan struct{}
}

func newJournal(persist types.AssignmentPersister, l logr.Logger, onError func(error)) *journal {
	return &journal{
		persist:  persist,
		onError:  onError,
		log:      l,
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

func (j *journal) record(changes ...types.AssignmentPolicyChange) {
	j.mu.Lock()
	j.queue = append(j.queue, changes...)
	j.queued += uint64(len(changes))
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *journal) run(ctx context.Context) {
	defer func() {
		j.mu.Lock()
		j.stopped = true
		close(j.progress)
		j.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.wake:
		}

		for {
			j.mu.Lock()
			batch := j.queue
			j.queue = nil
			j.mu.Unlock()

			if len(batch) == 0 {
				break
			}

			for _, change := range batch {
				if ctx.Err() != nil {
					return
				}
				j.write(ctx, change)
			}

			j.mu.Lock()
			j.written += uint64(len(batch))
			close(j.progress)
			j.progress = make(chan struct{})
			j.mu.Unlock()
		}
	}
}

func (j *journal) write(ctx context.Context, change types.AssignmentPolicyChange) {
	j.log.V(4).Info("write change", "change", change)

	var e error
	switch change.Method {
	case types.PersistInsert:
		e = j.persist.Insert(ctx, change.Role, change.PermissionID)
		if errors.Is(e, types.ErrAlreadyExists) {
			j.log.V(2).Info("policy already persisted", "change", change)
			e = nil
		}
	case types.PersistDelete:
		e = j.persist.Remove(ctx, change.Role, change.PermissionID)
		if errors.Is(e, types.ErrNotFound) {
			j.log.V(2).Info("policy already removed", "change", change)
			e = nil
		}
	default:
		e = fmt.Errorf("%w: %s", types.ErrUnsupportedChange, change.Method)
	}

	if e != nil {
		j.log.Error(e, "persist change", "change", change)
		if j.onError != nil {
			j.onError(fmt.Errorf("persist %s %s %q: %w", change.Method, change.Role, change.PermissionID, e))
		}
	}
}

// flush blocks until every change queued before the call is written
func (j *journal) flush(ctx context.Context) error {
	j.mu.Lock()
	target := j.queued
	j.mu.Unlock()

	for {
		j.mu.Lock()
		if j.written >= target {
			j.mu.Unlock()
			return nil
		}
		if j.stopped {
			j.mu.Unlock()
			return ErrJournalStopped
		}
		progress := j.progress
		j.mu.Unlock()

		select {
		case <-progress:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

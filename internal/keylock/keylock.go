// Package keylock provides per-key FIFO mutual exclusion. Two process-wide
// instances exist for the lifetime of the daemon: one keyed by repository id
// (guards mirror, worktree and transport operations against one repository)
// and one keyed by workspace id + directory name (guards plain filesystem
// mutations inside one checkout). The instances are independent; an operation
// that ever needs both must take the repository lock first.
package keylock

import (
	"context"
	"fmt"
	"sync"
)

// Keyed serializes critical sections that share a key while letting
// unrelated keys proceed in parallel. Waiters for one key are admitted in
// request order. Idle keys are removed from the internal map so memory does
// not grow with the number of keys seen over the process lifetime.
type Keyed struct {
	mu    sync.Mutex
	tails map[string]*waiter
}

type waiter struct {
	done chan struct{}
}

// New creates an empty keyed lock.
func New() *Keyed {
	return &Keyed{tails: make(map[string]*waiter)}
}

// With runs fn under exclusive access for key. The lock is released when fn
// returns, whether or not it returned an error, and fn's error is passed
// through unchanged. If ctx is cancelled while waiting for admission, With
// returns the context error without running fn.
func (k *Keyed) With(ctx context.Context, key string, fn func() error) error {
	k.mu.Lock()
	prev := k.tails[key]
	me := &waiter{done: make(chan struct{})}
	k.tails[key] = me
	k.mu.Unlock()

	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			// Hand the admission slot through: release our own link so
			// later waiters chained behind us are not stranded.
			go func() {
				<-prev.done
				k.release(key, me)
			}()
			return ctx.Err()
		}
	}

	defer k.release(key, me)
	return fn()
}

// release wakes the next waiter for key and drops the map entry when nobody
// else is chained behind me.
func (k *Keyed) release(key string, me *waiter) {
	k.mu.Lock()
	if tail, ok := k.tails[key]; ok && tail == me {
		delete(k.tails, key)
	}
	k.mu.Unlock()
	close(me.done)
}

// PairKey builds a composite key for the workspace-directory lock. The
// separator cannot appear in identifiers (ids are UUIDs, directory names are
// validated path segments), so distinct pairs never collide.
func PairKey(workspaceID, dir string) string {
	return fmt.Sprintf("%s\x00%s", workspaceID, dir)
}

// Global instances.
var (
	// Repos guards all Git-mutating and credential-consuming operations,
	// keyed by repository id.
	Repos = New()
	// WorkspaceDirs guards filesystem mutations within one workspace
	// checkout, keyed by PairKey(workspaceID, dirName).
	WorkspaceDirs = New()
)

// Package syncer keeps repository mirrors current. The Orchestrator runs
// background sync passes that drive the syncing -> idle|failed status
// machine; the Service exposes the repository lifecycle operations that
// trigger them.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/gitspace/internal/config"
	"github.com/codefionn/gitspace/internal/gitenv"
	"github.com/codefionn/gitspace/internal/gitrepo"
	"github.com/codefionn/gitspace/internal/keylock"
	"github.com/codefionn/gitspace/internal/logger"
	"github.com/codefionn/gitspace/internal/store"
)

// RepoStore is the slice of the persistence layer the orchestrator needs.
type RepoStore interface {
	GetRepo(id string) (*store.Repository, error)
	SetSyncStatus(id string, status store.SyncStatus, upd store.SyncUpdate) error
	UpdateRepoDefaultBranch(id string, branch *string) error
}

// EnvBuilder materializes the Git authentication environment for a remote.
type EnvBuilder interface {
	Build(ctx context.Context, repoURL string, credentialID *string) (map[string]string, gitenv.Cleanup, error)
}

// Orchestrator runs mirror syncs in the background. Each pass holds the
// repository lock for its whole duration, so syncs serialize with worktree
// and push/pull operations against the same repository.
type Orchestrator struct {
	repos RepoStore
	env   EnvBuilder
	cfg   *config.Config
	locks *keylock.Keyed
	log   *logger.Logger

	mu     sync.Mutex
	active map[string]bool
	wg     sync.WaitGroup

	// overridable for tests; production wiring uses the gitrepo functions.
	ensureMirror  func(ctx context.Context, url, mirrorPath string, env map[string]string, timeout time.Duration) error
	defaultBranch func(ctx context.Context, mirrorPath string) (string, error)
}

// NewOrchestrator wires an orchestrator against the process-wide repository
// lock instance.
func NewOrchestrator(repos RepoStore, env EnvBuilder, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		repos:         repos,
		env:           env,
		cfg:           cfg,
		locks:         keylock.Repos,
		log:           logger.Global().WithPrefix("syncer"),
		active:        make(map[string]bool),
		ensureMirror:  gitrepo.EnsureMirror,
		defaultBranch: gitrepo.DefaultBranch,
	}
}

// Request schedules a background sync for repoID and returns immediately. A
// request for a repository whose sync is already running or queued is
// accepted as a no-op; callers observe progress through the persisted sync
// status. Errors escaping the background pass are persisted as failed status
// and logged, never dropped.
func (o *Orchestrator) Request(repoID string) {
	o.mu.Lock()
	if o.active[repoID] {
		o.mu.Unlock()
		o.log.Debug("sync already in flight for %s, ignoring request", repoID)
		return
	}
	o.active[repoID] = true
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.active, repoID)
			o.mu.Unlock()
		}()
		if err := o.syncOnce(context.Background(), repoID); err != nil {
			o.log.Error("background sync of %s failed: %v", repoID, err)
		}
	}()
}

// Wait blocks until all in-flight background syncs finish. Used on daemon
// shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// syncOnce performs one full sync pass under the repository lock. The
// returned error is also persisted as failed status whenever the repository
// record is reachable.
func (o *Orchestrator) syncOnce(ctx context.Context, repoID string) error {
	return o.locks.With(ctx, repoID, func() error {
		repo, err := o.repos.GetRepo(repoID)
		if err != nil {
			// Deleted between request and execution; nothing to record.
			return fmt.Errorf("load repository: %w", err)
		}

		if repo.SyncStatus != store.SyncSyncing {
			if err := o.repos.SetSyncStatus(repoID, store.SyncSyncing, store.SyncUpdate{}); err != nil {
				return fmt.Errorf("mark syncing: %w", err)
			}
		}

		start := time.Now()
		o.log.Info("syncing %s (%s)", repoID, repo.URL)

		syncErr := o.runMirror(ctx, repo)
		if syncErr != nil {
			msg := syncErr.Error()
			if err := o.repos.SetSyncStatus(repoID, store.SyncFailed, store.SyncUpdate{Error: &msg}); err != nil {
				o.log.Error("failed to record sync failure for %s: %v", repoID, err)
			}
			return syncErr
		}

		now := time.Now().UnixMilli()
		if err := o.repos.SetSyncStatus(repoID, store.SyncIdle, store.SyncUpdate{LastSyncAt: &now}); err != nil {
			return fmt.Errorf("record sync success: %w", err)
		}
		o.log.Info("synced %s in %s", repoID, time.Since(start).Round(time.Millisecond))
		return nil
	})
}

// runMirror builds the authentication environment, refreshes the mirror and
// caches the remote's default branch. Environment cleanup runs on every
// path.
func (o *Orchestrator) runMirror(ctx context.Context, repo *store.Repository) error {
	env, cleanup, err := o.env.Build(ctx, repo.URL, repo.CredentialID)
	if err != nil {
		return fmt.Errorf("build git environment: %w", err)
	}
	defer cleanup()

	if err := o.ensureMirror(ctx, repo.URL, repo.MirrorPath, env, o.cfg.GitTimeout()); err != nil {
		return err
	}

	if branch, err := o.defaultBranch(ctx, repo.MirrorPath); err == nil && branch != "" {
		if repo.DefaultBranch == nil || *repo.DefaultBranch != branch {
			if err := o.repos.UpdateRepoDefaultBranch(repo.ID, &branch); err != nil {
				o.log.Warn("failed to cache default branch for %s: %v", repo.ID, err)
			}
		}
	}
	return nil
}

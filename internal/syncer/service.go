package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/codefionn/gitspace/internal/config"
	"github.com/codefionn/gitspace/internal/keylock"
	"github.com/codefionn/gitspace/internal/logger"
	"github.com/codefionn/gitspace/internal/store"
)

var (
	// ErrRepoInUse blocks deletion while workspace directories still
	// reference the repository.
	ErrRepoInUse = errors.New("repository is attached to one or more workspaces")
	// ErrCredentialMissing rejects binding a repository to a credential id
	// that does not resolve.
	ErrCredentialMissing = errors.New("credential not found")
)

// ServiceStore is the persistence surface of the repository lifecycle.
type ServiceStore interface {
	RepoStore
	InsertRepo(r *store.Repository) error
	DeleteRepo(id string) error
	CountWorkspacesReferencing(repoID string) (int, error)
	UpdateRepoCredential(id string, credentialID *string) error
	GetCredential(id string) (*store.Credential, error)
}

// Service implements the repository lifecycle: create, re-sync, credential
// rebinding and delete. Mutating operations return once the state change is
// persisted; mirror work proceeds in the background.
type Service struct {
	store ServiceStore
	orch  *Orchestrator
	cfg   *config.Config
	locks *keylock.Keyed
	log   *logger.Logger
}

// NewService wires a repository service against the process-wide repository
// lock instance.
func NewService(st ServiceStore, orch *Orchestrator, cfg *config.Config) *Service {
	return &Service{
		store: st,
		orch:  orch,
		cfg:   cfg,
		locks: keylock.Repos,
		log:   logger.Global().WithPrefix("repos"),
	}
}

// Create registers url as a new repository and schedules its initial sync.
// The record starts in syncing status; callers poll it for the outcome. A
// duplicate URL fails with store.ErrConflict.
func (s *Service) Create(ctx context.Context, url string, credentialID *string) (*store.Repository, error) {
	if url == "" {
		return nil, errors.New("repository URL must not be empty")
	}
	if credentialID != nil {
		if _, err := s.store.GetCredential(*credentialID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrCredentialMissing, *credentialID)
			}
			return nil, err
		}
	}

	repo := &store.Repository{
		ID:           uuid.NewString(),
		URL:          url,
		CredentialID: credentialID,
		SyncStatus:   store.SyncSyncing,
	}
	repo.MirrorPath = s.cfg.MirrorPath(repo.ID)
	if err := s.store.InsertRepo(repo); err != nil {
		return nil, err
	}

	s.log.Info("registered repository %s (%s)", repo.ID, url)
	s.orch.Request(repo.ID)
	return repo, nil
}

// Resync schedules a fresh sync pass for an existing repository. A request
// while a sync is already in flight is accepted and coalesced.
func (s *Service) Resync(ctx context.Context, repoID string) error {
	if _, err := s.store.GetRepo(repoID); err != nil {
		return err
	}
	s.orch.Request(repoID)
	return nil
}

// SetCredential rebinds the repository to credentialID (nil unbinds) and
// schedules a re-sync so the new identity is exercised against the remote.
func (s *Service) SetCredential(ctx context.Context, repoID string, credentialID *string) error {
	if credentialID != nil {
		if _, err := s.store.GetCredential(*credentialID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrCredentialMissing, *credentialID)
			}
			return err
		}
	}
	if err := s.store.UpdateRepoCredential(repoID, credentialID); err != nil {
		return err
	}
	s.orch.Request(repoID)
	return nil
}

// Delete removes the repository record and its mirror directory. It refuses
// with ErrRepoInUse while any workspace directory still references the
// repository. Runs under the repository lock so an in-flight sync finishes
// first.
func (s *Service) Delete(ctx context.Context, repoID string) error {
	return s.locks.With(ctx, repoID, func() error {
		repo, err := s.store.GetRepo(repoID)
		if err != nil {
			return err
		}
		n, err := s.store.CountWorkspacesReferencing(repoID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w (%d attachments)", ErrRepoInUse, n)
		}
		if err := s.store.DeleteRepo(repoID); err != nil {
			return err
		}
		// The record's own MirrorPath is authoritative; the configured
		// layout may have moved since the mirror was created.
		if err := os.RemoveAll(filepath.Dir(repo.MirrorPath)); err != nil {
			// The record is gone; the directory is now garbage. Surface
			// the problem but do not resurrect the record.
			s.log.Warn("failed to remove mirror directory for %s: %v", repoID, err)
		}
		s.log.Info("deleted repository %s", repoID)
		return nil
	})
}

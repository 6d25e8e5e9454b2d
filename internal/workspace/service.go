// Package workspace manages logical workspaces and the repository worktrees
// attached to them. Worktree mutations run under the repository lock;
// plain file operations inside an attached directory run under the
// workspace-directory lock so they are not blocked by an in-progress sync.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/codefionn/gitspace/internal/config"
	"github.com/codefionn/gitspace/internal/gitrepo"
	"github.com/codefionn/gitspace/internal/keylock"
	"github.com/codefionn/gitspace/internal/logger"
	"github.com/codefionn/gitspace/internal/store"
)

var (
	// ErrInvalidDirName rejects directory names that would escape the
	// workspace root or collide with path machinery.
	ErrInvalidDirName = errors.New("invalid repository directory name")
	// ErrRepoSyncing blocks attaching a repository whose mirror is still
	// being synchronized.
	ErrRepoSyncing = errors.New("repository is currently syncing")
	// ErrPathMismatch signals a fatal consistency violation: the resolved
	// worktree path is not root+dirName.
	ErrPathMismatch = errors.New("worktree path does not match workspace root and directory name")
)

// Store is the persistence surface the workspace service needs.
type Store interface {
	InsertWorkspace(w *store.Workspace) error
	GetWorkspace(id string) (*store.Workspace, error)
	ListWorkspaces() ([]*store.Workspace, error)
	DeleteWorkspace(id string) error
	InsertWorkspaceRepo(wr *store.WorkspaceRepo) error
	GetWorkspaceRepo(workspaceID, dirName string) (*store.WorkspaceRepo, error)
	ListWorkspaceRepos(workspaceID string) ([]*store.WorkspaceRepo, error)
	DeleteWorkspaceRepo(id string) error
	GetRepo(id string) (*store.Repository, error)
}

// Service implements workspace lifecycle and worktree attachment.
type Service struct {
	store     Store
	cfg       *config.Config
	env       EnvBuilder
	repoLocks *keylock.Keyed
	dirLocks  *keylock.Keyed
	log       *logger.Logger

	// overridable for tests; production wiring uses the gitrepo functions.
	createWorktree func(ctx context.Context, mirrorPath, worktreePath, branch string) error
	removeWorktree func(ctx context.Context, mirrorPath, worktreePath string) error
	pickBranch     func(ctx context.Context, mirrorPath, requested string) (string, error)
}

// NewService wires a workspace service against the process-wide lock
// instances. env supplies the authentication environment for push and pull.
func NewService(st Store, cfg *config.Config, env EnvBuilder) *Service {
	return &Service{
		store:          st,
		cfg:            cfg,
		env:            env,
		repoLocks:      keylock.Repos,
		dirLocks:       keylock.WorkspaceDirs,
		log:            logger.Global().WithPrefix("workspace"),
		createWorktree: gitrepo.CreateWorktree,
		removeWorktree: gitrepo.RemoveWorktree,
		pickBranch:     gitrepo.PickBranch,
	}
}

// Create makes a new empty workspace with its root directory on disk.
func (s *Service) Create(ctx context.Context, title string) (*store.Workspace, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("workspace title must not be empty")
	}
	ws := &store.Workspace{
		ID:    uuid.NewString(),
		Title: title,
	}
	ws.RootPath = s.cfg.WorkspaceRoot(ws.ID)
	if err := os.MkdirAll(ws.RootPath, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	if err := s.store.InsertWorkspace(ws); err != nil {
		os.RemoveAll(ws.RootPath)
		return nil, err
	}
	s.log.Info("created workspace %s (%s)", ws.ID, title)
	return ws, nil
}

// Attach checks a repository out into the workspace under dirName and
// persists the association. branch may be empty; the cached default branch
// and the main/master heuristics apply in that order. The whole operation
// runs under the repository lock so it serializes with syncs and other
// worktree mutations on the same repository.
func (s *Service) Attach(ctx context.Context, workspaceID, repoID, dirName, branch string) (*store.WorkspaceRepo, error) {
	ws, err := s.store.GetWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	repo, err := s.store.GetRepo(repoID)
	if err != nil {
		return nil, err
	}
	if dirName == "" {
		dirName = DeriveDirName(repo.URL)
	}
	if err := validateDirName(dirName); err != nil {
		return nil, err
	}

	var assoc *store.WorkspaceRepo
	err = s.repoLocks.With(ctx, repoID, func() error {
		if _, err := s.store.GetWorkspaceRepo(workspaceID, dirName); err == nil {
			return fmt.Errorf("%w: directory %q already attached", store.ErrConflict, dirName)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		// Re-read under the lock; an in-flight sync may have finished or
		// started since the check above.
		repo, err = s.store.GetRepo(repoID)
		if err != nil {
			return err
		}
		if repo.SyncStatus == store.SyncSyncing {
			return ErrRepoSyncing
		}

		worktreePath, err := worktreePath(ws.RootPath, dirName)
		if err != nil {
			return err
		}

		requested := branch
		if requested == "" && repo.DefaultBranch != nil {
			requested = *repo.DefaultBranch
		}
		resolved, err := s.pickBranch(ctx, repo.MirrorPath, requested)
		if err != nil {
			return err
		}

		if err := s.createWorktree(ctx, repo.MirrorPath, worktreePath, resolved); err != nil {
			return err
		}

		assoc = &store.WorkspaceRepo{
			ID:          uuid.NewString(),
			WorkspaceID: workspaceID,
			RepoID:      repoID,
			DirName:     dirName,
		}
		if err := s.store.InsertWorkspaceRepo(assoc); err != nil {
			if rmErr := s.removeWorktree(ctx, repo.MirrorPath, worktreePath); rmErr != nil {
				s.log.Warn("rollback of worktree %s failed: %v", worktreePath, rmErr)
			}
			return err
		}
		s.log.Info("attached %s to workspace %s as %s (branch %s)", repoID, workspaceID, dirName, resolved)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assoc, nil
}

// Detach removes the worktree under dirName and its association. The
// directory is guaranteed gone afterwards even when Git-level removal
// fails; such a failure is still reported.
func (s *Service) Detach(ctx context.Context, workspaceID, dirName string) error {
	ws, err := s.store.GetWorkspace(workspaceID)
	if err != nil {
		return err
	}
	assoc, err := s.store.GetWorkspaceRepo(workspaceID, dirName)
	if err != nil {
		return err
	}
	repo, err := s.store.GetRepo(assoc.RepoID)
	if err != nil {
		return err
	}

	return s.repoLocks.With(ctx, assoc.RepoID, func() error {
		worktreePath, err := worktreePath(ws.RootPath, dirName)
		if err != nil {
			return err
		}
		rmErr := s.removeWorktree(ctx, repo.MirrorPath, worktreePath)
		// The directory is gone either way; keeping the association would
		// strand a phantom entry, so it is removed even on rmErr.
		if err := s.store.DeleteWorkspaceRepo(assoc.ID); err != nil {
			return err
		}
		if rmErr != nil {
			s.log.Warn("worktree removal for %s reported: %v", worktreePath, rmErr)
			return rmErr
		}
		s.log.Info("detached %s from workspace %s", dirName, workspaceID)
		return nil
	})
}

// Delete detaches every attached repository, then removes the workspace
// record and its root directory. The first detach failure aborts so the
// operation can be retried.
func (s *Service) Delete(ctx context.Context, workspaceID string) error {
	ws, err := s.store.GetWorkspace(workspaceID)
	if err != nil {
		return err
	}
	assocs, err := s.store.ListWorkspaceRepos(workspaceID)
	if err != nil {
		return err
	}
	for _, a := range assocs {
		if err := s.Detach(ctx, workspaceID, a.DirName); err != nil {
			return fmt.Errorf("detach %s: %w", a.DirName, err)
		}
	}
	if err := s.store.DeleteWorkspace(workspaceID); err != nil {
		return err
	}
	if err := os.RemoveAll(ws.RootPath); err != nil {
		s.log.Warn("failed to remove workspace root %s: %v", ws.RootPath, err)
	}
	s.log.Info("deleted workspace %s", workspaceID)
	return nil
}

// DeriveDirName proposes a directory name from the repository URL's last
// path segment, stripping a .git suffix.
func DeriveDirName(url string) string {
	trimmed := strings.TrimRight(url, "/")
	base := trimmed
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		base = trimmed[i+1:]
	}
	base = strings.TrimSuffix(base, ".git")
	if base == "" {
		return "repo"
	}
	return base
}

func validateDirName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidDirName, name)
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidDirName, name)
	}
	return nil
}

// worktreePath joins root and dirName and verifies the result is their
// literal concatenation. A mismatch means path cleaning rewrote the name,
// which is a consistency violation rather than a recoverable input error.
func worktreePath(root, dirName string) (string, error) {
	joined := filepath.Join(root, dirName)
	if joined != root+string(os.PathSeparator)+dirName {
		return "", fmt.Errorf("%w: root %q, dir %q", ErrPathMismatch, root, dirName)
	}
	return joined, nil
}

package workspace

import (
	"context"

	"github.com/codefionn/gitspace/internal/gitenv"
	"github.com/codefionn/gitspace/internal/gitrepo"
	"github.com/codefionn/gitspace/internal/store"
)

// EnvBuilder materializes the Git authentication environment for a remote.
type EnvBuilder interface {
	Build(ctx context.Context, repoURL string, credentialID *string) (map[string]string, gitenv.Cleanup, error)
}

// attachment bundles the resolved pieces of one workspace-repo directory.
type attachment struct {
	repo         *store.Repository
	worktreePath string
}

func (s *Service) resolveAttachment(workspaceID, dirName string) (*attachment, error) {
	ws, err := s.store.GetWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	assoc, err := s.store.GetWorkspaceRepo(workspaceID, dirName)
	if err != nil {
		return nil, err
	}
	repo, err := s.store.GetRepo(assoc.RepoID)
	if err != nil {
		return nil, err
	}
	path, err := worktreePath(ws.RootPath, dirName)
	if err != nil {
		return nil, err
	}
	return &attachment{repo: repo, worktreePath: path}, nil
}

// withAttachment runs fn against the resolved attachment under the
// repository lock, serializing with syncs and other Git operations on the
// same repository.
func (s *Service) withAttachment(ctx context.Context, workspaceID, dirName string, fn func(a *attachment) error) error {
	a, err := s.resolveAttachment(workspaceID, dirName)
	if err != nil {
		return err
	}
	return s.repoLocks.With(ctx, a.repo.ID, func() error {
		return fn(a)
	})
}

// GitStatus reports branch, ahead/behind and per-file state of the attached
// worktree.
func (s *Service) GitStatus(ctx context.Context, workspaceID, dirName string) (gitrepo.WorktreeStatus, error) {
	var st gitrepo.WorktreeStatus
	err := s.withAttachment(ctx, workspaceID, dirName, func(a *attachment) error {
		var err error
		st, err = gitrepo.Status(ctx, a.worktreePath)
		return err
	})
	return st, err
}

// Stage adds paths to the index; an empty list stages everything.
func (s *Service) Stage(ctx context.Context, workspaceID, dirName string, paths ...string) error {
	return s.withAttachment(ctx, workspaceID, dirName, func(a *attachment) error {
		return gitrepo.Stage(ctx, a.worktreePath, paths...)
	})
}

// Unstage removes paths from the index, keeping worktree content.
func (s *Service) Unstage(ctx context.Context, workspaceID, dirName string, paths ...string) error {
	return s.withAttachment(ctx, workspaceID, dirName, func(a *attachment) error {
		return gitrepo.Unstage(ctx, a.worktreePath, paths...)
	})
}

// Discard throws away unstaged modifications to paths.
func (s *Service) Discard(ctx context.Context, workspaceID, dirName string, paths ...string) error {
	return s.withAttachment(ctx, workspaceID, dirName, func(a *attachment) error {
		return gitrepo.Discard(ctx, a.worktreePath, paths...)
	})
}

// Commit records the staged changes. identity, when non-nil, applies for
// this commit only via environment overrides.
func (s *Service) Commit(ctx context.Context, workspaceID, dirName, message string, identity *gitrepo.Identity) error {
	return s.withAttachment(ctx, workspaceID, dirName, func(a *attachment) error {
		return gitrepo.Commit(ctx, a.worktreePath, message, identity)
	})
}

// Push publishes the current branch using the repository's bound or default
// credential. Environment cleanup runs on every path.
func (s *Service) Push(ctx context.Context, workspaceID, dirName string, forceWithLease bool) error {
	return s.withAttachment(ctx, workspaceID, dirName, func(a *attachment) error {
		env, cleanup, err := s.env.Build(ctx, a.repo.URL, a.repo.CredentialID)
		if err != nil {
			return err
		}
		defer cleanup()
		return gitrepo.Push(ctx, a.worktreePath, env, s.cfg.GitTimeout(), forceWithLease)
	})
}

// Pull fast-forwards the current branch from origin.
func (s *Service) Pull(ctx context.Context, workspaceID, dirName string) error {
	return s.withAttachment(ctx, workspaceID, dirName, func(a *attachment) error {
		env, cleanup, err := s.env.Build(ctx, a.repo.URL, a.repo.CredentialID)
		if err != nil {
			return err
		}
		defer cleanup()
		return gitrepo.Pull(ctx, a.worktreePath, env, s.cfg.GitTimeout())
	})
}

// SwitchBranch moves the attached worktree to branch.
func (s *Service) SwitchBranch(ctx context.Context, workspaceID, dirName, branch string) error {
	return s.withAttachment(ctx, workspaceID, dirName, func(a *attachment) error {
		return gitrepo.SwitchBranch(ctx, a.worktreePath, branch)
	})
}

// Identity resolves the effective commit identity for the attached worktree.
func (s *Service) Identity(ctx context.Context, workspaceID, dirName string) (gitrepo.EffectiveIdentity, error) {
	var eff gitrepo.EffectiveIdentity
	err := s.withAttachment(ctx, workspaceID, dirName, func(a *attachment) error {
		var err error
		eff, err = gitrepo.ResolveIdentity(ctx, a.worktreePath)
		return err
	})
	return eff, err
}

// SetRepoIdentity writes a repository-local commit identity into the
// attached worktree's configuration.
func (s *Service) SetRepoIdentity(ctx context.Context, workspaceID, dirName string, id gitrepo.Identity) error {
	return s.withAttachment(ctx, workspaceID, dirName, func(a *attachment) error {
		return gitrepo.SetRepoIdentity(ctx, a.worktreePath, id)
	})
}

package gitrepo

import (
	"context"
	"fmt"
	"os"

	"github.com/codefionn/gitspace/internal/logger"
	"github.com/codefionn/gitspace/internal/proc"
)

// CreateWorktree attaches a worktree at worktreePath checking out a local
// branch named branch that tracks origin/<branch>. Any partially created
// state is rolled back before the error is returned.
func CreateWorktree(ctx context.Context, mirrorPath, worktreePath, branch string) error {
	log := logger.Global().WithPrefix("worktree")

	res, err := gitLocal(ctx, mirrorPath, "worktree", "add", "--detach", worktreePath, "origin/"+branch)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return newGitError("worktree add", res)
	}

	// Switch the fresh checkout onto a local tracking branch of the same
	// name. -C keeps the invocation inside the new worktree.
	res, err = gitLocal(ctx, worktreePath, "switch", "-c", branch, "--track", "origin/"+branch)
	if err == nil && !res.Succeeded {
		// The local branch may already exist (e.g. left over from an
		// earlier checkout of the same branch); plain switch covers that.
		var res2 proc.Result
		res2, err = switchExisting(ctx, worktreePath, branch)
		if err == nil && !res2.Succeeded {
			rollbackWorktree(ctx, mirrorPath, worktreePath, log)
			return newGitError("switch", res)
		}
	}
	if err != nil {
		rollbackWorktree(ctx, mirrorPath, worktreePath, log)
		return err
	}
	return nil
}

// RemoveWorktree detaches and deletes the worktree. When Git-level removal
// fails the directory is still force-deleted from disk (leaking directories
// indefinitely is worse than stale metadata), but the original error is
// surfaced.
func RemoveWorktree(ctx context.Context, mirrorPath, worktreePath string) error {
	res, err := gitLocal(ctx, mirrorPath, "worktree", "remove", "--force", worktreePath)
	if err != nil {
		return err
	}
	if res.Succeeded {
		return nil
	}

	gitErr := newGitError("worktree remove", res)
	if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
		return fmt.Errorf("%w (and force delete failed: %v)", gitErr, rmErr)
	}
	// Prune the now-dangling metadata; best effort.
	if pruneRes, pruneErr := gitLocal(ctx, mirrorPath, "worktree", "prune"); pruneErr == nil && !pruneRes.Succeeded {
		logger.Global().WithPrefix("worktree").Debug("worktree prune failed: %s", pruneRes.Output())
	}
	return gitErr
}

// SwitchBranch moves the worktree to branch: a plain switch first (the local
// branch may already exist), falling back to creating a local tracking
// branch from origin/<branch>. The most specific error text wins.
func SwitchBranch(ctx context.Context, worktreePath, branch string) error {
	res, err := switchExisting(ctx, worktreePath, branch)
	if err != nil {
		return err
	}
	if res.Succeeded {
		return nil
	}

	res2, err := gitLocal(ctx, worktreePath, "switch", "-c", branch, "--track", "origin/"+branch)
	if err != nil {
		return err
	}
	if res2.Succeeded {
		return nil
	}
	// Prefer the create-tracking error; it names the missing remote ref.
	return newGitError("switch", res2)
}

func switchExisting(ctx context.Context, worktreePath, branch string) (proc.Result, error) {
	return gitLocal(ctx, worktreePath, "switch", branch)
}

func rollbackWorktree(ctx context.Context, mirrorPath, worktreePath string, log *logger.Logger) {
	if res, err := gitLocal(ctx, mirrorPath, "worktree", "remove", "--force", worktreePath); err != nil || !res.Succeeded {
		if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
			log.Warn("failed to clean up partial worktree %s: %v", worktreePath, rmErr)
		}
		if res, err := gitLocal(ctx, mirrorPath, "worktree", "prune"); err == nil && !res.Succeeded {
			log.Debug("worktree prune failed: %s", res.Output())
		}
	}
}

package gitrepo

import (
	"context"
	"strings"
	"time"
)

// FileStatus is one entry of the porcelain status output.
type FileStatus struct {
	// Staged and Unstaged are the two porcelain v1 status columns (index
	// and worktree respectively), " " when clean.
	Staged   string
	Unstaged string
	Path     string
}

// WorktreeStatus summarizes a worktree for display.
type WorktreeStatus struct {
	Branch   string
	Files    []FileStatus
	Ahead    int
	Behind   int
	Detached bool
}

// Push publishes the current branch to origin. With forceWithLease the push
// overwrites the remote ref only if it still matches the local remote-
// tracking ref.
func Push(ctx context.Context, worktreePath string, env map[string]string, timeout time.Duration, forceWithLease bool) error {
	args := []string{"push", "origin", "HEAD"}
	if forceWithLease {
		args = append(args, "--force-with-lease")
	}
	res, err := gitRun(ctx, worktreePath, env, timeout, args...)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return newGitError("push", res)
	}
	return nil
}

// Pull fast-forwards the current branch from origin. Diverged history fails
// with FailureMergeConflict or FailureNonFastForward rather than creating a
// merge commit.
func Pull(ctx context.Context, worktreePath string, env map[string]string, timeout time.Duration) error {
	res, err := gitRun(ctx, worktreePath, env, timeout, "pull", "--ff-only", "origin")
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return newGitError("pull", res)
	}
	return nil
}

// Stage adds the given paths to the index. An empty path list stages
// everything.
func Stage(ctx context.Context, worktreePath string, paths ...string) error {
	args := []string{"add", "--"}
	if len(paths) == 0 {
		args = []string{"add", "-A"}
	} else {
		args = append(args, paths...)
	}
	res, err := gitLocal(ctx, worktreePath, args...)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return newGitError("add", res)
	}
	return nil
}

// Unstage removes the given paths from the index, keeping worktree content.
// An empty path list unstages everything.
func Unstage(ctx context.Context, worktreePath string, paths ...string) error {
	args := []string{"restore", "--staged", "--"}
	if len(paths) == 0 {
		args = append(args, ".")
	} else {
		args = append(args, paths...)
	}
	res, err := gitLocal(ctx, worktreePath, args...)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return newGitError("restore --staged", res)
	}
	return nil
}

// Discard throws away unstaged worktree modifications to the given paths.
// An empty path list discards everything. Untracked files are not touched.
func Discard(ctx context.Context, worktreePath string, paths ...string) error {
	args := []string{"restore", "--"}
	if len(paths) == 0 {
		args = append(args, ".")
	} else {
		args = append(args, paths...)
	}
	res, err := gitLocal(ctx, worktreePath, args...)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return newGitError("restore", res)
	}
	return nil
}

// Commit records the staged changes. A non-nil identity is applied through
// author/committer environment variables for this commit only; on-disk
// configuration is never modified. An empty index classifies as
// FailureNothingToCommit, a missing identity as FailureIdentityMissing.
func Commit(ctx context.Context, worktreePath, message string, identity *Identity) error {
	var env map[string]string
	if identity != nil {
		env = SessionEnv(*identity)
	}
	res, err := gitRun(ctx, worktreePath, env, 0, "commit", "-m", message)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return newGitError("commit", res)
	}
	return nil
}

// Status reports the worktree's current branch, ahead/behind counts against
// its upstream and per-file staged/unstaged state.
func Status(ctx context.Context, worktreePath string) (WorktreeStatus, error) {
	res, err := gitLocal(ctx, worktreePath, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return WorktreeStatus{}, err
	}
	if !res.Succeeded {
		return WorktreeStatus{}, newGitError("status", res)
	}
	return parseStatus(res.Stdout), nil
}

// CurrentBranch returns the checked-out branch name, or "" for a detached
// HEAD.
func CurrentBranch(ctx context.Context, worktreePath string) (string, error) {
	res, err := gitLocal(ctx, worktreePath, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	if !res.Succeeded {
		return "", newGitError("branch --show-current", res)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func parseStatus(out string) WorktreeStatus {
	var st WorktreeStatus
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			parseStatusHeader(line[3:], &st)
			continue
		}
		if len(line) < 4 {
			continue
		}
		st.Files = append(st.Files, FileStatus{
			Staged:   line[0:1],
			Unstaged: line[1:2],
			Path:     line[3:],
		})
	}
	return st
}

// parseStatusHeader decodes the "## branch...upstream [ahead N, behind M]"
// line of porcelain v1 branch output.
func parseStatusHeader(header string, st *WorktreeStatus) {
	if strings.HasPrefix(header, "HEAD (no branch)") {
		st.Detached = true
		return
	}
	branch := header
	if i := strings.Index(branch, "..."); i >= 0 {
		branch = branch[:i]
	} else if i := strings.Index(branch, " "); i >= 0 {
		branch = branch[:i]
	}
	st.Branch = branch

	open := strings.Index(header, "[")
	close_ := strings.LastIndex(header, "]")
	if open < 0 || close_ <= open {
		return
	}
	for _, part := range strings.Split(header[open+1:close_], ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "ahead "):
			st.Ahead = atoiSafe(part[len("ahead "):])
		case strings.HasPrefix(part, "behind "):
			st.Behind = atoiSafe(part[len("behind "):])
		}
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

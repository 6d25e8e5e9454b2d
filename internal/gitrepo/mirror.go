package gitrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codefionn/gitspace/internal/logger"
)

// refspec fetched into the mirror: all remote branches, pruning deleted ones.
const fetchRefspec = "+refs/heads/*:refs/remotes/origin/*"

// Branch is a remote branch with its tip commit.
type Branch struct {
	Name string
	SHA  string
}

// EnsureMirror makes the bare mirror at mirrorPath exist and be current for
// url. Idempotent: a fresh call against an up-to-date mirror succeeds and
// changes nothing. The origin URL is re-set on every call so credential or
// URL rotation takes effect without re-cloning.
func EnsureMirror(ctx context.Context, url, mirrorPath string, env map[string]string, timeout time.Duration) error {
	log := logger.Global().WithPrefix("mirror")

	if !isBareRepo(mirrorPath) {
		if err := os.MkdirAll(mirrorPath, 0755); err != nil {
			return fmt.Errorf("create mirror directory: %w", err)
		}
		res, err := gitLocal(ctx, mirrorPath, "init", "--bare")
		if err != nil {
			return err
		}
		if !res.Succeeded {
			return newGitError("init", res)
		}
		log.Info("initialized bare mirror at %s", mirrorPath)
	}

	// set-url fails when a partial prior failure never added the remote.
	res, err := gitLocal(ctx, mirrorPath, "remote", "set-url", "origin", url)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		res, err = gitLocal(ctx, mirrorPath, "remote", "add", "origin", url)
		if err != nil {
			return err
		}
		if !res.Succeeded {
			return newGitError("remote add", res)
		}
	}

	res, err = gitRun(ctx, mirrorPath, env, timeout, "fetch", "--prune", "origin", fetchRefspec)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return newGitError("fetch", res)
	}

	// Best effort: lets DefaultBranch resolve the remote's HEAD later. A
	// failure only means callers fall back to main/master heuristics.
	res, err = gitRun(ctx, mirrorPath, env, timeout, "remote", "set-head", "origin", "--auto")
	if err == nil && !res.Succeeded {
		log.Debug("remote set-head failed for %s: %s", mirrorPath, res.Output())
	}

	return nil
}

// DefaultBranch resolves the branch origin's HEAD points at, or "" when the
// symbolic ref is unset or degenerately points at itself.
func DefaultBranch(ctx context.Context, mirrorPath string) (string, error) {
	res, err := gitLocal(ctx, mirrorPath, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		return "", err
	}
	if !res.Succeeded {
		return "", nil
	}
	ref := strings.TrimSpace(res.Stdout)
	name := strings.TrimPrefix(ref, "refs/remotes/origin/")
	if name == "" || name == ref || name == "HEAD" {
		return "", nil
	}
	return name, nil
}

// ListBranches enumerates the mirror's remote branches, excluding the
// synthetic HEAD pointer, with the origin/ prefix stripped.
func ListBranches(ctx context.Context, mirrorPath string) ([]Branch, error) {
	res, err := gitLocal(ctx, mirrorPath,
		"for-each-ref", "--format=%(refname)\t%(objectname)", "refs/remotes/origin")
	if err != nil {
		return nil, err
	}
	if !res.Succeeded {
		return nil, newGitError("for-each-ref", res)
	}

	var branches []Branch
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ref, sha, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		name := strings.TrimPrefix(ref, "refs/remotes/origin/")
		if name == "HEAD" || name == ref {
			continue
		}
		branches = append(branches, Branch{Name: name, SHA: sha})
	}
	return branches, nil
}

// PickBranch resolves the branch to check out: the explicit request, else
// the mirror's default branch, else the first of main/master that exists.
func PickBranch(ctx context.Context, mirrorPath, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if def, err := DefaultBranch(ctx, mirrorPath); err == nil && def != "" {
		return def, nil
	}
	branches, err := ListBranches(ctx, mirrorPath)
	if err != nil {
		return "", err
	}
	names := make(map[string]bool, len(branches))
	for _, b := range branches {
		names[b.Name] = true
	}
	for _, candidate := range []string{"main", "master"} {
		if names[candidate] {
			return candidate, nil
		}
	}
	if len(branches) > 0 {
		return branches[0].Name, nil
	}
	return "", fmt.Errorf("mirror %s has no branches", mirrorPath)
}

func isBareRepo(path string) bool {
	// A bare repository has HEAD at its top level.
	info, err := os.Stat(filepath.Join(path, "HEAD"))
	return err == nil && info.Mode().IsRegular()
}

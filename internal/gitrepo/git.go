// Package gitrepo drives the git binary: bare mirror maintenance, worktree
// lifecycle, identity configuration and per-worktree operations. It holds no
// locks itself; callers serialize through the repository-keyed lock.
package gitrepo

import (
	"context"
	"time"

	"github.com/codefionn/gitspace/internal/proc"
)

// gitRun invokes git with args in dir. The caller-provided env (proxy,
// askpass, ssh command) is merged over the parent environment. LC_ALL=C pins
// the message locale so output classification stays reliable.
func gitRun(ctx context.Context, dir string, env map[string]string, timeout time.Duration, args ...string) (proc.Result, error) {
	merged := map[string]string{"LC_ALL": "C"}
	for k, v := range env {
		merged[k] = v
	}
	return proc.Run(ctx, "git", args, proc.Options{
		Dir:     dir,
		Env:     merged,
		Timeout: timeout,
	})
}

// gitLocal runs a local metadata command with the short timeout.
func gitLocal(ctx context.Context, dir string, args ...string) (proc.Result, error) {
	return gitRun(ctx, dir, nil, proc.ShortTimeout, args...)
}

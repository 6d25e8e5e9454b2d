// Package proc is the single seam through which external tools (git,
// ssh-keygen) are invoked. It captures output, enforces timeouts and never
// fails for a non-zero exit; callers inspect the result to classify failures.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/codefionn/gitspace/internal/logger"
)

const (
	// DefaultTimeout bounds network Git operations (clone, fetch, push, pull).
	DefaultTimeout = 5 * time.Minute
	// ShortTimeout bounds local metadata commands (config, rev-parse, ssh-keygen).
	ShortTimeout = 30 * time.Second
)

// Options configures a single process invocation.
type Options struct {
	Dir     string
	Env     map[string]string // overrides appended onto the parent environment
	Timeout time.Duration     // zero means DefaultTimeout
	Stdin   string
}

// Result describes a finished (or killed) process invocation.
type Result struct {
	Succeeded bool
	// ExitCode is nil when the process was killed or never spawned.
	ExitCode *int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Output returns stderr if non-empty, otherwise stdout, trimmed and with
// runs of whitespace collapsed. Used for human-readable error messages.
func (r Result) Output() string {
	out := r.Stderr
	if strings.TrimSpace(out) == "" {
		out = r.Stdout
	}
	return Collapse(out)
}

// Collapse trims text and collapses internal whitespace runs to single
// spaces, capping the result for diagnostics.
func Collapse(s string) string {
	fields := strings.Fields(s)
	out := strings.Join(fields, " ")
	if len(out) > 4000 {
		out = out[:4000]
	}
	return out
}

// Run invokes command with args. It never returns an error for a non-zero
// exit status; the returned Result carries the exit information. An error is
// only returned when the invocation itself is malformed (empty command).
func Run(ctx context.Context, command string, args []string, opts Options) (Result, error) {
	if command == "" {
		return Result{}, errors.New("proc: empty command")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}

	cmd.Env = os.Environ()
	for key, val := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, val))
	}

	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// After the context cancels and the process is killed, child processes
	// (e.g. credential helpers spawned by git) may still hold the output
	// pipes open. WaitDelay bounds how long Run waits for those to close.
	cmd.WaitDelay = 500 * time.Millisecond

	err := cmd.Run()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if err == nil {
		code := 0
		res.ExitCode = &code
		res.Succeeded = true
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !res.TimedOut {
		code := exitErr.ExitCode()
		if code >= 0 {
			res.ExitCode = &code
		}
	}
	if res.ExitCode == nil {
		logger.Debug("proc: %s killed or failed to spawn: %v", command, err)
	}
	return res, nil
}

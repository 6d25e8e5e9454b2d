package gitrepo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/codefionn/gitspace/internal/proc"
)

// FailureKind classifies a failed Git invocation from its output. The
// heuristics match on lowercased stderr/stdout substrings; LC_ALL=C is
// forced on every invocation so the English message text is stable.
type FailureKind string

const (
	// FailureGeneric is any failure the other kinds do not cover.
	FailureGeneric FailureKind = "generic"
	// FailureAuth means the remote rejected or never received credentials.
	FailureAuth FailureKind = "auth_required"
	// FailureNonFastForward means the remote moved and a push/pull needs
	// reconciliation (or a force-with-lease retry).
	FailureNonFastForward FailureKind = "non_fast_forward"
	// FailureIdentityMissing means commit was attempted without a
	// configured user.name/user.email.
	FailureIdentityMissing FailureKind = "identity_missing"
	// FailureNothingToCommit means the index had no staged changes.
	FailureNothingToCommit FailureKind = "nothing_to_commit"
	// FailureMergeConflict means a pull/merge stopped on conflicts.
	FailureMergeConflict FailureKind = "merge_conflict"
	// FailureTimeout means the process exceeded its wall-clock budget and
	// was killed.
	FailureTimeout FailureKind = "timeout"
)

var authMarkers = []string{
	"could not read username",
	"authentication failed",
	"permission denied",
	"publickey",
	"host key verification failed",
	"terminal prompts disabled",
	"could not read from remote repository",
}

var nonFastForwardMarkers = []string{
	"non-fast-forward",
	"fetch first",
	"tip of your current branch is behind",
}

var identityMarkers = []string{
	"please tell me who you are",
	"unable to auto-detect email address",
}

var conflictMarkers = []string{
	"merge conflict",
	"automatic merge failed",
	"needs merge",
	"not possible to fast-forward",
}

// Classify inspects a failed result and returns the failure kind.
func Classify(res proc.Result) FailureKind {
	if res.TimedOut {
		return FailureTimeout
	}
	out := strings.ToLower(res.Stderr + "\n" + res.Stdout)
	for _, m := range authMarkers {
		if strings.Contains(out, m) {
			return FailureAuth
		}
	}
	for _, m := range nonFastForwardMarkers {
		if strings.Contains(out, m) {
			return FailureNonFastForward
		}
	}
	for _, m := range identityMarkers {
		if strings.Contains(out, m) {
			return FailureIdentityMissing
		}
	}
	if strings.Contains(out, "nothing to commit") {
		return FailureNothingToCommit
	}
	for _, m := range conflictMarkers {
		if strings.Contains(out, m) {
			return FailureMergeConflict
		}
	}
	return FailureGeneric
}

// GitError is a classified Git operation failure carrying the trimmed
// process output for diagnostics.
type GitError struct {
	Op     string
	Kind   FailureKind
	Output string
}

func (e *GitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("git %s failed (%s)", e.Op, e.Kind)
	}
	return fmt.Sprintf("git %s failed (%s): %s", e.Op, e.Kind, e.Output)
}

// newGitError builds a classified error from a failed invocation result.
func newGitError(op string, res proc.Result) *GitError {
	return &GitError{
		Op:     op,
		Kind:   Classify(res),
		Output: res.Output(),
	}
}

// KindOf extracts the failure kind from err, or FailureGeneric when err is
// not a GitError.
func KindOf(err error) FailureKind {
	var ge *GitError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return FailureGeneric
}

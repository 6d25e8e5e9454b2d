package gitrepo

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codefionn/gitspace/internal/proc"
)

// setupOriginRepo creates a temporary repository with one commit on main,
// acting as the remote end for mirror tests.
func setupOriginRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)

	dir := t.TempDir()
	runGitCmd(t, dir, "init", "-b", "main")
	runGitCmd(t, dir, "config", "user.name", "Test User")
	runGitCmd(t, dir, "config", "user.email", "test@example.com")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	runGitCmd(t, dir, "add", "README.md")
	runGitCmd(t, dir, "commit", "-m", "initial commit")

	return dir
}

// runGitCmd runs a git command in the specified directory.
func runGitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("Git command %v failed: %v\nOutput: %s", args, err, string(output))
	}
	return string(output)
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// isolateGitConfig points the global and system config at empty locations so
// the developer's own gitconfig cannot leak into assertions.
func isolateGitConfig(t *testing.T) {
	t.Helper()
	t.Setenv("GIT_CONFIG_GLOBAL", filepath.Join(t.TempDir(), "gitconfig"))
	t.Setenv("GIT_CONFIG_SYSTEM", os.DevNull)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		result proc.Result
		want   FailureKind
	}{
		{"timeout wins", proc.Result{TimedOut: true, Stderr: "Authentication failed"}, FailureTimeout},
		{"https auth prompt", proc.Result{Stderr: "fatal: could not read Username for 'https://example.com': terminal prompts disabled"}, FailureAuth},
		{"ssh publickey", proc.Result{Stderr: "git@example.com: Permission denied (publickey)."}, FailureAuth},
		{"host key", proc.Result{Stderr: "Host key verification failed."}, FailureAuth},
		{"non fast forward", proc.Result{Stderr: "! [rejected] main -> main (non-fast-forward)"}, FailureNonFastForward},
		{"fetch first", proc.Result{Stderr: "hint: Updates were rejected... fetch first"}, FailureNonFastForward},
		{"identity", proc.Result{Stderr: "*** Please tell me who you are."}, FailureIdentityMissing},
		{"nothing to commit", proc.Result{Stdout: "nothing to commit, working tree clean"}, FailureNothingToCommit},
		{"merge conflict", proc.Result{Stdout: "CONFLICT (content): Merge conflict in a.txt\nAutomatic merge failed"}, FailureMergeConflict},
		{"not possible to ff", proc.Result{Stderr: "fatal: Not possible to fast-forward, aborting."}, FailureMergeConflict},
		{"unknown", proc.Result{Stderr: "fatal: some other problem"}, FailureGeneric},
		{"empty output", proc.Result{}, FailureGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.result); got != tc.want {
				t.Errorf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassify_AuthBeforeGeneric(t *testing.T) {
	// Auth markers are checked before the weaker categories even when
	// several markers appear in the same output.
	res := proc.Result{Stderr: "Permission denied (publickey).\nfatal: Could not read from remote repository."}
	if got := Classify(res); got != FailureAuth {
		t.Errorf("Classify() = %q, want %q", got, FailureAuth)
	}
}

func TestGitError_KindOf(t *testing.T) {
	err := newGitError("push", proc.Result{Stderr: "non-fast-forward"})
	if KindOf(err) != FailureNonFastForward {
		t.Errorf("KindOf() = %q, want %q", KindOf(err), FailureNonFastForward)
	}
	if !strings.Contains(err.Error(), "git push failed") {
		t.Errorf("unexpected error text: %s", err.Error())
	}
	if KindOf(os.ErrNotExist) != FailureGeneric {
		t.Errorf("KindOf(plain error) should be generic")
	}
}

func TestEnsureMirror(t *testing.T) {
	ctx := context.Background()
	origin := setupOriginRepo(t)
	mirror := filepath.Join(t.TempDir(), "mirror.git")

	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("EnsureMirror failed: %v", err)
	}

	branches, err := ListBranches(ctx, mirror)
	if err != nil {
		t.Fatalf("ListBranches failed: %v", err)
	}
	if len(branches) != 1 || branches[0].Name != "main" {
		t.Fatalf("Expected single branch main, got %+v", branches)
	}
	if branches[0].SHA == "" {
		t.Error("Branch SHA should not be empty")
	}

	def, err := DefaultBranch(ctx, mirror)
	if err != nil {
		t.Fatalf("DefaultBranch failed: %v", err)
	}
	if def != "main" {
		t.Errorf("Expected default branch main, got %q", def)
	}
}

func TestEnsureMirror_Idempotent(t *testing.T) {
	ctx := context.Background()
	origin := setupOriginRepo(t)
	mirror := filepath.Join(t.TempDir(), "mirror.git")

	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("First EnsureMirror failed: %v", err)
	}

	// A new commit upstream must show up after a second run.
	if err := os.WriteFile(filepath.Join(origin, "second.txt"), []byte("two\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	runGitCmd(t, origin, "add", "second.txt")
	runGitCmd(t, origin, "commit", "-m", "second commit")
	wantSHA := strings.TrimSpace(runGitCmd(t, origin, "rev-parse", "HEAD"))

	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("Second EnsureMirror failed: %v", err)
	}

	branches, err := ListBranches(ctx, mirror)
	if err != nil {
		t.Fatalf("ListBranches failed: %v", err)
	}
	if len(branches) != 1 || branches[0].SHA != wantSHA {
		t.Errorf("Mirror not updated: got %+v, want SHA %s", branches, wantSHA)
	}
}

func TestEnsureMirror_PrunesDeletedBranches(t *testing.T) {
	ctx := context.Background()
	origin := setupOriginRepo(t)
	runGitCmd(t, origin, "branch", "feature")
	mirror := filepath.Join(t.TempDir(), "mirror.git")

	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("EnsureMirror failed: %v", err)
	}
	branches, _ := ListBranches(ctx, mirror)
	if len(branches) != 2 {
		t.Fatalf("Expected 2 branches, got %+v", branches)
	}

	runGitCmd(t, origin, "branch", "-D", "feature")
	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("EnsureMirror after delete failed: %v", err)
	}
	branches, _ = ListBranches(ctx, mirror)
	if len(branches) != 1 || branches[0].Name != "main" {
		t.Errorf("Deleted branch not pruned: %+v", branches)
	}
}

func TestEnsureMirror_UnreachableRemote(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	mirror := filepath.Join(t.TempDir(), "mirror.git")

	err := EnsureMirror(ctx, filepath.Join(t.TempDir(), "does-not-exist"), mirror, nil, time.Minute)
	if err == nil {
		t.Fatal("Expected error for unreachable remote")
	}
	var ge *GitError
	if !errors.As(err, &ge) {
		t.Fatalf("Expected GitError, got %T: %v", err, err)
	}
	if ge.Op != "fetch" {
		t.Errorf("Expected fetch failure, got op %q", ge.Op)
	}
}

func TestPickBranch(t *testing.T) {
	ctx := context.Background()
	origin := setupOriginRepo(t)
	runGitCmd(t, origin, "branch", "develop")
	mirror := filepath.Join(t.TempDir(), "mirror.git")
	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("EnsureMirror failed: %v", err)
	}

	t.Run("explicit request wins", func(t *testing.T) {
		got, err := PickBranch(ctx, mirror, "develop")
		if err != nil || got != "develop" {
			t.Errorf("PickBranch = %q, %v; want develop", got, err)
		}
	})

	t.Run("falls back to default branch", func(t *testing.T) {
		got, err := PickBranch(ctx, mirror, "")
		if err != nil || got != "main" {
			t.Errorf("PickBranch = %q, %v; want main", got, err)
		}
	})

	t.Run("main heuristic without remote HEAD", func(t *testing.T) {
		// Drop the symbolic ref to exercise the name heuristics.
		runGitCmd(t, mirror, "symbolic-ref", "--delete", "refs/remotes/origin/HEAD")
		got, err := PickBranch(ctx, mirror, "")
		if err != nil || got != "main" {
			t.Errorf("PickBranch = %q, %v; want main", got, err)
		}
	})
}

func TestWorktreeLifecycle(t *testing.T) {
	ctx := context.Background()
	origin := setupOriginRepo(t)
	runGitCmd(t, origin, "branch", "feature")
	mirror := filepath.Join(t.TempDir(), "mirror.git")
	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("EnsureMirror failed: %v", err)
	}

	wt := filepath.Join(t.TempDir(), "checkout")
	if err := CreateWorktree(ctx, mirror, wt, "main"); err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wt, "README.md")); err != nil {
		t.Fatalf("Worktree missing checked out file: %v", err)
	}

	branch, err := CurrentBranch(ctx, wt)
	if err != nil {
		t.Fatalf("CurrentBranch failed: %v", err)
	}
	if branch != "main" {
		t.Errorf("Expected branch main, got %q", branch)
	}

	if err := SwitchBranch(ctx, wt, "feature"); err != nil {
		t.Fatalf("SwitchBranch failed: %v", err)
	}
	branch, _ = CurrentBranch(ctx, wt)
	if branch != "feature" {
		t.Errorf("Expected branch feature after switch, got %q", branch)
	}

	// Switching back exercises the plain-switch path for an existing
	// local branch.
	if err := SwitchBranch(ctx, wt, "main"); err != nil {
		t.Fatalf("SwitchBranch back failed: %v", err)
	}

	if err := RemoveWorktree(ctx, mirror, wt); err != nil {
		t.Fatalf("RemoveWorktree failed: %v", err)
	}
	if _, err := os.Stat(wt); !os.IsNotExist(err) {
		t.Errorf("Worktree directory still exists after removal")
	}
}

func TestCreateWorktree_UnknownBranch(t *testing.T) {
	ctx := context.Background()
	origin := setupOriginRepo(t)
	mirror := filepath.Join(t.TempDir(), "mirror.git")
	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("EnsureMirror failed: %v", err)
	}

	wt := filepath.Join(t.TempDir(), "checkout")
	err := CreateWorktree(ctx, mirror, wt, "no-such-branch")
	if err == nil {
		t.Fatal("Expected error for unknown branch")
	}
	if _, statErr := os.Stat(wt); !os.IsNotExist(statErr) {
		t.Errorf("Failed worktree creation left directory behind")
	}
}

func TestSwitchBranch_UnknownBranch(t *testing.T) {
	ctx := context.Background()
	origin := setupOriginRepo(t)
	mirror := filepath.Join(t.TempDir(), "mirror.git")
	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("EnsureMirror failed: %v", err)
	}
	wt := filepath.Join(t.TempDir(), "checkout")
	if err := CreateWorktree(ctx, mirror, wt, "main"); err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}

	if err := SwitchBranch(ctx, wt, "no-such-branch"); err == nil {
		t.Fatal("Expected error for unknown branch")
	}
	// The worktree stays on its original branch.
	branch, _ := CurrentBranch(ctx, wt)
	if branch != "main" {
		t.Errorf("Expected branch main after failed switch, got %q", branch)
	}
}

func TestIdentity(t *testing.T) {
	ctx := context.Background()
	isolateGitConfig(t)
	origin := setupOriginRepo(t)
	mirror := filepath.Join(t.TempDir(), "mirror.git")
	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("EnsureMirror failed: %v", err)
	}
	wt := filepath.Join(t.TempDir(), "checkout")
	if err := CreateWorktree(ctx, mirror, wt, "main"); err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}

	t.Run("unset everywhere resolves to none", func(t *testing.T) {
		eff, err := ResolveIdentity(ctx, wt)
		if err != nil {
			t.Fatalf("ResolveIdentity failed: %v", err)
		}
		if eff.Source != IdentityFromNone || eff.Complete() {
			t.Errorf("Expected no identity, got %+v", eff)
		}
	})

	t.Run("global identity resolves as global", func(t *testing.T) {
		want := Identity{Name: "Global User", Email: "global@example.com"}
		if err := SetGlobalIdentity(ctx, wt, want); err != nil {
			t.Fatalf("SetGlobalIdentity failed: %v", err)
		}
		eff, err := ResolveIdentity(ctx, wt)
		if err != nil {
			t.Fatalf("ResolveIdentity failed: %v", err)
		}
		if eff.Source != IdentityFromGlobal || eff.Identity != want {
			t.Errorf("Expected global identity %+v, got %+v", want, eff)
		}
	})

	t.Run("repo identity wins over global", func(t *testing.T) {
		want := Identity{Name: "Repo User", Email: "repo@example.com"}
		if err := SetRepoIdentity(ctx, wt, want); err != nil {
			t.Fatalf("SetRepoIdentity failed: %v", err)
		}
		eff, err := ResolveIdentity(ctx, wt)
		if err != nil {
			t.Fatalf("ResolveIdentity failed: %v", err)
		}
		if eff.Source != IdentityFromRepo || eff.Identity != want {
			t.Errorf("Expected repo identity %+v, got %+v", want, eff)
		}

		repo, err := RepoIdentity(ctx, wt)
		if err != nil || repo != want {
			t.Errorf("RepoIdentity = %+v, %v; want %+v", repo, err, want)
		}
	})
}

func TestSessionEnv(t *testing.T) {
	env := SessionEnv(Identity{Name: "One Off", Email: "once@example.com"})
	for _, key := range []string{"GIT_AUTHOR_NAME", "GIT_COMMITTER_NAME"} {
		if env[key] != "One Off" {
			t.Errorf("%s = %q, want One Off", key, env[key])
		}
	}
	for _, key := range []string{"GIT_AUTHOR_EMAIL", "GIT_COMMITTER_EMAIL"} {
		if env[key] != "once@example.com" {
			t.Errorf("%s = %q, want once@example.com", key, env[key])
		}
	}
}

func TestCommitAndStatus(t *testing.T) {
	ctx := context.Background()
	isolateGitConfig(t)
	origin := setupOriginRepo(t)
	mirror := filepath.Join(t.TempDir(), "mirror.git")
	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("EnsureMirror failed: %v", err)
	}
	wt := filepath.Join(t.TempDir(), "checkout")
	if err := CreateWorktree(ctx, mirror, wt, "main"); err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}

	t.Run("commit without identity classifies", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(wt, "new.txt"), []byte("x\n"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		if err := Stage(ctx, wt, "new.txt"); err != nil {
			t.Fatalf("Stage failed: %v", err)
		}
		err := Commit(ctx, wt, "add new file", nil)
		if err == nil {
			t.Fatal("Expected commit to fail without identity")
		}
		if KindOf(err) != FailureIdentityMissing {
			t.Errorf("Expected identity_missing, got %q (%v)", KindOf(err), err)
		}
	})

	t.Run("session identity allows commit", func(t *testing.T) {
		id := Identity{Name: "Session User", Email: "session@example.com"}
		if err := Commit(ctx, wt, "add new file", &id); err != nil {
			t.Fatalf("Commit with session identity failed: %v", err)
		}
		out := runGitCmd(t, wt, "log", "-1", "--format=%an <%ae>")
		if strings.TrimSpace(out) != "Session User <session@example.com>" {
			t.Errorf("Unexpected commit author: %s", out)
		}
	})

	t.Run("empty index classifies as nothing to commit", func(t *testing.T) {
		err := Commit(ctx, wt, "empty", &Identity{Name: "S", Email: "s@example.com"})
		if err == nil {
			t.Fatal("Expected commit of empty index to fail")
		}
		if KindOf(err) != FailureNothingToCommit {
			t.Errorf("Expected nothing_to_commit, got %q (%v)", KindOf(err), err)
		}
	})

	t.Run("status reflects staged and unstaged changes", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(wt, "staged.txt"), []byte("a\n"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		if err := Stage(ctx, wt, "staged.txt"); err != nil {
			t.Fatalf("Stage failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(wt, "README.md"), []byte("edited\n"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}

		st, err := Status(ctx, wt)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if st.Branch != "main" {
			t.Errorf("Status branch = %q, want main", st.Branch)
		}
		byPath := map[string]FileStatus{}
		for _, f := range st.Files {
			byPath[f.Path] = f
		}
		if f := byPath["staged.txt"]; f.Staged != "A" {
			t.Errorf("staged.txt status = %+v, want staged A", f)
		}
		if f := byPath["README.md"]; f.Unstaged != "M" {
			t.Errorf("README.md status = %+v, want unstaged M", f)
		}
	})

	t.Run("unstage and discard restore a clean tree", func(t *testing.T) {
		if err := Unstage(ctx, wt, "staged.txt"); err != nil {
			t.Fatalf("Unstage failed: %v", err)
		}
		if err := Discard(ctx, wt, "README.md"); err != nil {
			t.Fatalf("Discard failed: %v", err)
		}
		st, err := Status(ctx, wt)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		for _, f := range st.Files {
			if f.Path == "README.md" && f.Unstaged == "M" {
				t.Errorf("README.md still modified after discard")
			}
			if f.Path == "staged.txt" && f.Staged == "A" {
				t.Errorf("staged.txt still staged after unstage")
			}
		}
	})
}

func TestPushPull(t *testing.T) {
	ctx := context.Background()
	isolateGitConfig(t)
	origin := setupOriginRepo(t)
	// Pushing into a checked-out branch needs an explicit allowance on the
	// receiving side.
	runGitCmd(t, origin, "config", "receive.denyCurrentBranch", "ignore")

	mirror := filepath.Join(t.TempDir(), "mirror.git")
	if err := EnsureMirror(ctx, origin, mirror, nil, time.Minute); err != nil {
		t.Fatalf("EnsureMirror failed: %v", err)
	}
	wt := filepath.Join(t.TempDir(), "checkout")
	if err := CreateWorktree(ctx, mirror, wt, "main"); err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}
	// The worktree pushes and pulls against the origin directly.
	runGitCmd(t, wt, "remote", "set-url", "origin", origin)
	id := Identity{Name: "Pusher", Email: "push@example.com"}

	t.Run("push publishes a commit", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(wt, "pushed.txt"), []byte("p\n"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		if err := Stage(ctx, wt, "pushed.txt"); err != nil {
			t.Fatalf("Stage failed: %v", err)
		}
		if err := Commit(ctx, wt, "push me", &id); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if err := Push(ctx, wt, nil, time.Minute, false); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		out := runGitCmd(t, origin, "log", "-1", "--format=%s", "main")
		if strings.TrimSpace(out) != "push me" {
			t.Errorf("Origin did not receive commit: %s", out)
		}
	})

	t.Run("pull fast-forwards", func(t *testing.T) {
		runGitCmd(t, origin, "reset", "--hard", "main")
		if err := os.WriteFile(filepath.Join(origin, "upstream.txt"), []byte("u\n"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		runGitCmd(t, origin, "add", "upstream.txt")
		runGitCmd(t, origin, "commit", "-m", "upstream change")

		if err := Pull(ctx, wt, nil, time.Minute); err != nil {
			t.Fatalf("Pull failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(wt, "upstream.txt")); err != nil {
			t.Errorf("Pulled file missing: %v", err)
		}
	})

	t.Run("diverged push classifies as non-fast-forward", func(t *testing.T) {
		// Rewind the local branch behind origin, then commit something new.
		runGitCmd(t, wt, "reset", "--hard", "HEAD~1")
		if err := os.WriteFile(filepath.Join(wt, "diverge.txt"), []byte("d\n"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		if err := Stage(ctx, wt, "diverge.txt"); err != nil {
			t.Fatalf("Stage failed: %v", err)
		}
		if err := Commit(ctx, wt, "diverging", &id); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		err := Push(ctx, wt, nil, time.Minute, false)
		if err == nil {
			t.Fatal("Expected diverged push to fail")
		}
		if KindOf(err) != FailureNonFastForward {
			t.Errorf("Expected non_fast_forward, got %q (%v)", KindOf(err), err)
		}

		// force-with-lease resolves it against the known remote state.
		runGitCmd(t, wt, "fetch", "origin")
		if err := Push(ctx, wt, nil, time.Minute, true); err != nil {
			t.Fatalf("Force-with-lease push failed: %v", err)
		}
	})
}

package proc

import (
	"context"
	"testing"
	"time"
)

func TestRun_Success(t *testing.T) {
	res, err := Run(context.Background(), "sh", []string{"-c", "echo hello"}, Options{Timeout: ShortTimeout})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Succeeded {
		t.Fatalf("expected success, stderr: %s", res.Stderr)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %v", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("unexpected stdout: %q", res.Stdout)
	}
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	res, err := Run(context.Background(), "sh", []string{"-c", "echo oops >&2; exit 3"}, Options{Timeout: ShortTimeout})
	if err != nil {
		t.Fatalf("Run returned error for non-zero exit: %v", err)
	}
	if res.Succeeded {
		t.Fatal("expected failure")
	}
	if res.ExitCode == nil || *res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %v", res.ExitCode)
	}
	if res.Stderr != "oops\n" {
		t.Errorf("unexpected stderr: %q", res.Stderr)
	}
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	res, err := Run(context.Background(), "sleep", []string{"30"}, Options{Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not kill the process promptly")
	}
	if res.Succeeded {
		t.Fatal("expected timed-out process to be reported as failed")
	}
	if !res.TimedOut {
		t.Error("expected TimedOut flag")
	}
	if res.ExitCode != nil {
		t.Errorf("expected nil exit code after kill, got %d", *res.ExitCode)
	}
}

func TestRun_WorkingDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	res, err := Run(context.Background(), "sh", []string{"-c", "pwd; printf %s \"$GITSPACE_TEST_VAR\""}, Options{
		Dir:     dir,
		Env:     map[string]string{"GITSPACE_TEST_VAR": "injected"},
		Timeout: ShortTimeout,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Succeeded {
		t.Fatalf("expected success, stderr: %s", res.Stderr)
	}
	// pwd may resolve symlinks (e.g. /tmp -> /private/tmp), so only check
	// that the injected variable made it through.
	if got := res.Stdout[len(res.Stdout)-len("injected"):]; got != "injected" {
		t.Errorf("env override missing from output: %q", res.Stdout)
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	if _, err := Run(context.Background(), "", nil, Options{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestCollapse(t *testing.T) {
	got := Collapse("  fatal: error \n\n  second   line \t end  ")
	want := "fatal: error second line end"
	if got != want {
		t.Errorf("Collapse = %q, want %q", got, want)
	}
}

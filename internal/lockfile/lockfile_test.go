package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLockfile_AcquireRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")
	lock := New(lockPath)

	if err := lock.TryAcquire(); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if !lock.Locked() {
		t.Error("Lock should be locked")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	if lock.Locked() {
		t.Error("Lock should not be locked after release")
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("Lockfile should be removed on release")
	}

	// Should be able to acquire again
	if err := lock.TryAcquire(); err != nil {
		t.Fatalf("Failed to acquire lock after release: %v", err)
	}
	lock.Release()
}

func TestLockfile_AlreadyLocked(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	lock1 := New(lockPath)
	if err := lock1.TryAcquire(); err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2 := New(lockPath)
	if err := lock2.TryAcquire(); err == nil {
		t.Error("Expected error when acquiring already held lock")
		lock2.Release()
	} else if !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked, got: %v", err)
	}
}

func TestLockfile_StalePID(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	// A lockfile naming a PID that cannot exist is stale and taken over.
	content := fmt.Sprintf("%d\n%s\n", 1<<30, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(lockPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create fake lockfile: %v", err)
	}

	lock := New(lockPath)
	if err := lock.TryAcquire(); err != nil {
		t.Fatalf("Failed to acquire stale lock: %v", err)
	}
	defer lock.Release()

	if !lock.Locked() {
		t.Error("Lock should be locked")
	}
}

func TestLockfile_MalformedContent(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")
	if err := os.WriteFile(lockPath, []byte("not a pid\n"), 0644); err != nil {
		t.Fatalf("Failed to create malformed lockfile: %v", err)
	}

	lock := New(lockPath)
	if err := lock.TryAcquire(); err != nil {
		t.Fatalf("Failed to acquire over malformed lockfile: %v", err)
	}
	lock.Release()
}

func TestLockfile_HeldByLivePID(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	// Our own PID is definitely alive; the lock must be refused no matter
	// how old the timestamp is.
	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().Add(-48*time.Hour).Format(time.RFC3339))
	if err := os.WriteFile(lockPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create lockfile: %v", err)
	}

	lock := New(lockPath)
	if err := lock.TryAcquire(); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked for live holder, got: %v", err)
		lock.Release()
	}
}

func TestLockfile_ReleaseNotLocked(t *testing.T) {
	lock := New(filepath.Join(t.TempDir(), "test.lock"))
	if err := lock.Release(); err != nil {
		t.Errorf("Expected no error when releasing unlocked lock, got: %v", err)
	}
}

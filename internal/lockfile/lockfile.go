// Package lockfile enforces single-instance operation of the daemon via a
// pidfile with staleness detection.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked means another live process holds the lock.
var ErrLocked = errors.New("another instance is already running")

// Lockfile is a pidfile-based exclusive lock. The file records the holder's
// PID and acquisition time; a file whose PID no longer maps to a running
// process counts as stale and is taken over.
type Lockfile struct {
	path   string
	file   *os.File
	locked bool
}

// New creates a lockfile handle for path. The lock is not acquired yet.
func New(path string) *Lockfile {
	return &Lockfile{path: path}
}

// TryAcquire takes the lock or fails immediately. A stale lockfile left by a
// dead process is removed and the acquisition retried once.
func (l *Lockfile) TryAcquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lockfile directory: %w", err)
	}

	if err := l.create(); err == nil {
		return nil
	} else if !os.IsExist(err) {
		return fmt.Errorf("create lockfile: %w", err)
	}

	stale, holder := l.checkStale()
	if !stale {
		return fmt.Errorf("%w: %s", ErrLocked, holder)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale lockfile: %w", err)
	}
	if err := l.create(); err != nil {
		if os.IsExist(err) {
			// Another process grabbed it between our remove and create.
			return ErrLocked
		}
		return fmt.Errorf("create lockfile after stale removal: %w", err)
	}
	return nil
}

// create opens the file exclusively and writes pid + timestamp.
func (l *Lockfile) create() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if _, err := file.WriteString(content); err == nil {
		err = file.Sync()
	}
	if err != nil {
		file.Close()
		os.Remove(l.path)
		return fmt.Errorf("write lockfile: %w", err)
	}
	l.file = file
	l.locked = true
	return nil
}

// checkStale inspects an existing lockfile. Unreadable or malformed files
// count as stale. The holder description is only meaningful when not stale.
func (l *Lockfile) checkStale() (stale bool, holder string) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return true, ""
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return true, ""
	}
	if !isProcessRunning(pid) {
		return true, ""
	}
	return false, fmt.Sprintf("pid %d", pid)
}

// Release drops the lock and removes the file. Safe to call when the lock
// was never acquired.
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false

	var err error
	if l.file != nil {
		err = l.file.Close()
		l.file = nil
	}
	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
		if err != nil {
			return fmt.Errorf("%v; remove lockfile: %w", err, removeErr)
		}
		return fmt.Errorf("remove lockfile: %w", removeErr)
	}
	return err
}

// Locked reports whether this handle currently holds the lock.
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path.
func (l *Lockfile) Path() string {
	return l.path
}

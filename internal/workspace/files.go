package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codefionn/gitspace/internal/keylock"
)

// ErrOutsideWorkspace rejects relative paths that resolve outside the
// attached repository directory.
var ErrOutsideWorkspace = errors.New("path escapes the repository directory")

// WriteFile writes content to relPath inside the attached directory,
// creating parent directories as needed. The workspace-directory lock keeps
// concurrent file operations on the same attachment from interleaving; an
// in-progress Git sync on the underlying repository does not block it.
func (s *Service) WriteFile(ctx context.Context, workspaceID, dirName, relPath string, content []byte) error {
	return s.withFile(ctx, workspaceID, dirName, relPath, func(abs string) error {
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return err
		}
		return os.WriteFile(abs, content, 0644)
	})
}

// ReadFile reads relPath inside the attached directory.
func (s *Service) ReadFile(ctx context.Context, workspaceID, dirName, relPath string) ([]byte, error) {
	var data []byte
	err := s.withFile(ctx, workspaceID, dirName, relPath, func(abs string) error {
		var err error
		data, err = os.ReadFile(abs)
		return err
	})
	return data, err
}

// DeleteFile removes relPath inside the attached directory. Directories are
// removed recursively.
func (s *Service) DeleteFile(ctx context.Context, workspaceID, dirName, relPath string) error {
	return s.withFile(ctx, workspaceID, dirName, relPath, os.RemoveAll)
}

// RenameFile moves oldRel to newRel within the attached directory.
func (s *Service) RenameFile(ctx context.Context, workspaceID, dirName, oldRel, newRel string) error {
	ws, err := s.store.GetWorkspace(workspaceID)
	if err != nil {
		return err
	}
	if _, err := s.store.GetWorkspaceRepo(workspaceID, dirName); err != nil {
		return err
	}
	root := filepath.Join(ws.RootPath, dirName)
	from, err := resolveInside(root, oldRel)
	if err != nil {
		return err
	}
	to, err := resolveInside(root, newRel)
	if err != nil {
		return err
	}
	return s.dirLocks.With(ctx, keylock.PairKey(workspaceID, dirName), func() error {
		if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
			return err
		}
		return os.Rename(from, to)
	})
}

func (s *Service) withFile(ctx context.Context, workspaceID, dirName, relPath string, fn func(abs string) error) error {
	ws, err := s.store.GetWorkspace(workspaceID)
	if err != nil {
		return err
	}
	if _, err := s.store.GetWorkspaceRepo(workspaceID, dirName); err != nil {
		return err
	}
	abs, err := resolveInside(filepath.Join(ws.RootPath, dirName), relPath)
	if err != nil {
		return err
	}
	return s.dirLocks.With(ctx, keylock.PairKey(workspaceID, dirName), func() error {
		return fn(abs)
	})
}

// resolveInside resolves rel against root, rejecting anything that cleans
// to a location outside root.
func resolveInside(root, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrOutsideWorkspace, rel)
	}
	abs := filepath.Join(root, rel)
	if abs != root && !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideWorkspace, rel)
	}
	return abs, nil
}

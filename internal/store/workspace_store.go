package store

import (
	"database/sql"
	"errors"
	"fmt"
)

func scanWorkspace(row interface{ Scan(...any) error }) (*Workspace, error) {
	var w Workspace
	var termCred sql.NullString
	err := row.Scan(&w.ID, &w.Title, &w.RootPath, &termCred, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	w.TerminalCredentialID = strPtr(termCred)
	return &w, nil
}

// InsertWorkspace persists a new workspace.
func (s *Store) InsertWorkspace(w *Workspace) error {
	now := nowMillis()
	w.CreatedAt = now
	w.UpdatedAt = now
	_, err := s.db.Exec(`INSERT INTO workspaces
		(id, title, root_path, terminal_credential_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.Title, w.RootPath, nullStr(w.TerminalCredentialID), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

// GetWorkspace fetches a workspace by id.
func (s *Store) GetWorkspace(id string) (*Workspace, error) {
	row := s.db.QueryRow(`SELECT id, title, root_path, terminal_credential_id, created_at, updated_at
		FROM workspaces WHERE id = ?`, id)
	return scanWorkspace(row)
}

// ListWorkspaces returns all workspaces ordered by creation time.
func (s *Store) ListWorkspaces() ([]*Workspace, error) {
	rows, err := s.db.Query(`SELECT id, title, root_path, terminal_credential_id, created_at, updated_at
		FROM workspaces ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWorkspace removes a workspace. Its workspace_repos rows cascade.
func (s *Store) DeleteWorkspace(id string) error {
	res, err := s.db.Exec(`DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return requireRowAffected(res)
}

func scanWorkspaceRepo(row interface{ Scan(...any) error }) (*WorkspaceRepo, error) {
	var wr WorkspaceRepo
	err := row.Scan(&wr.ID, &wr.WorkspaceID, &wr.RepoID, &wr.DirName, &wr.CreatedAt, &wr.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wr, nil
}

// InsertWorkspaceRepo binds a repository to a workspace directory. A
// directory name collision within the workspace yields ErrConflict.
func (s *Store) InsertWorkspaceRepo(wr *WorkspaceRepo) error {
	now := nowMillis()
	wr.CreatedAt = now
	wr.UpdatedAt = now
	_, err := s.db.Exec(`INSERT INTO workspace_repos
		(id, workspace_id, repo_id, dir_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		wr.ID, wr.WorkspaceID, wr.RepoID, wr.DirName, wr.CreatedAt, wr.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: directory %q already exists in workspace", ErrConflict, wr.DirName)
		}
		return fmt.Errorf("insert workspace repo: %w", err)
	}
	return nil
}

// GetWorkspaceRepo fetches the association for a workspace directory.
func (s *Store) GetWorkspaceRepo(workspaceID, dirName string) (*WorkspaceRepo, error) {
	row := s.db.QueryRow(`SELECT id, workspace_id, repo_id, dir_name, created_at, updated_at
		FROM workspace_repos WHERE workspace_id = ? AND dir_name = ?`, workspaceID, dirName)
	return scanWorkspaceRepo(row)
}

// ListWorkspaceRepos returns every repository association of a workspace.
func (s *Store) ListWorkspaceRepos(workspaceID string) ([]*WorkspaceRepo, error) {
	rows, err := s.db.Query(`SELECT id, workspace_id, repo_id, dir_name, created_at, updated_at
		FROM workspace_repos WHERE workspace_id = ? ORDER BY dir_name`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkspaceRepo
	for rows.Next() {
		wr, err := scanWorkspaceRepo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wr)
	}
	return out, rows.Err()
}

// DeleteWorkspaceRepo removes an association.
func (s *Store) DeleteWorkspaceRepo(id string) error {
	res, err := s.db.Exec(`DELETE FROM workspace_repos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workspace repo: %w", err)
	}
	return requireRowAffected(res)
}

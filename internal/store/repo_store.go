package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const repoColumns = `id, url, credential_id, default_branch, mirror_path,
	sync_status, sync_error, last_sync_at, created_at, updated_at`

func scanRepo(row interface{ Scan(...any) error }) (*Repository, error) {
	var r Repository
	var credID, defBranch, syncErr sql.NullString
	var lastSync sql.NullInt64
	err := row.Scan(&r.ID, &r.URL, &credID, &defBranch, &r.MirrorPath,
		&r.SyncStatus, &syncErr, &lastSync, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.CredentialID = strPtr(credID)
	r.DefaultBranch = strPtr(defBranch)
	r.SyncError = strPtr(syncErr)
	r.LastSyncAt = intPtr(lastSync)
	return &r, nil
}

// InsertRepo persists a new repository record. A duplicate URL yields
// ErrConflict.
func (s *Store) InsertRepo(r *Repository) error {
	now := nowMillis()
	r.CreatedAt = now
	r.UpdatedAt = now
	_, err := s.db.Exec(`INSERT INTO repositories
		(id, url, credential_id, default_branch, mirror_path, sync_status, sync_error, last_sync_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.URL, nullStr(r.CredentialID), nullStr(r.DefaultBranch), r.MirrorPath,
		string(r.SyncStatus), nullStr(r.SyncError), nullInt(r.LastSyncAt), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: repository url %s", ErrConflict, r.URL)
		}
		return fmt.Errorf("insert repository: %w", err)
	}
	return nil
}

// GetRepo fetches a repository by id.
func (s *Store) GetRepo(id string) (*Repository, error) {
	row := s.db.QueryRow(`SELECT `+repoColumns+` FROM repositories WHERE id = ?`, id)
	return scanRepo(row)
}

// FindRepoByURL fetches a repository by its unique remote URL.
func (s *Store) FindRepoByURL(url string) (*Repository, error) {
	row := s.db.QueryRow(`SELECT `+repoColumns+` FROM repositories WHERE url = ?`, url)
	return scanRepo(row)
}

// ListRepos returns all repositories ordered by creation time.
func (s *Store) ListRepos() ([]*Repository, error) {
	rows, err := s.db.Query(`SELECT ` + repoColumns + ` FROM repositories ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Repository
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SyncUpdate carries the optional fields of a sync status transition.
type SyncUpdate struct {
	Error      *string
	LastSyncAt *int64
}

// SetSyncStatus transitions the repository's sync state. A nil Error clears
// any previous error message.
func (s *Store) SetSyncStatus(id string, status SyncStatus, upd SyncUpdate) error {
	query := `UPDATE repositories SET sync_status = ?, sync_error = ?, updated_at = ?`
	args := []any{string(status), nullStr(upd.Error), nowMillis()}
	if upd.LastSyncAt != nil {
		query += `, last_sync_at = ?`
		args = append(args, *upd.LastSyncAt)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("set sync status: %w", err)
	}
	return requireRowAffected(res)
}

// UpdateRepoCredential rebinds (or with nil unbinds) the repository's
// credential.
func (s *Store) UpdateRepoCredential(id string, credentialID *string) error {
	res, err := s.db.Exec(`UPDATE repositories SET credential_id = ?, updated_at = ? WHERE id = ?`,
		nullStr(credentialID), nowMillis(), id)
	if err != nil {
		return fmt.Errorf("update repository credential: %w", err)
	}
	return requireRowAffected(res)
}

// UpdateRepoDefaultBranch caches the resolved remote default branch.
func (s *Store) UpdateRepoDefaultBranch(id string, branch *string) error {
	res, err := s.db.Exec(`UPDATE repositories SET default_branch = ?, updated_at = ? WHERE id = ?`,
		nullStr(branch), nowMillis(), id)
	if err != nil {
		return fmt.Errorf("update repository default branch: %w", err)
	}
	return requireRowAffected(res)
}

// CountWorkspacesReferencing reports how many workspace directories are
// attached to the repository. Deletion is blocked while non-zero.
func (s *Store) CountWorkspacesReferencing(repoID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM workspace_repos WHERE repo_id = ?`, repoID).Scan(&n)
	return n, err
}

// DeleteRepo removes the repository record.
func (s *Store) DeleteRepo(id string) error {
	res, err := s.db.Exec(`DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	return requireRowAffected(res)
}

// ResetStuckSyncing marks repositories left in 'syncing' by a previous
// process as failed. Called once at startup, before any sync can launch.
func (s *Store) ResetStuckSyncing(message string) (int64, error) {
	res, err := s.db.Exec(`UPDATE repositories SET sync_status = ?, sync_error = ?, updated_at = ?
		WHERE sync_status = ?`,
		string(SyncFailed), message, nowMillis(), string(SyncSyncing))
	if err != nil {
		return 0, fmt.Errorf("reset stuck repositories: %w", err)
	}
	return res.RowsAffected()
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

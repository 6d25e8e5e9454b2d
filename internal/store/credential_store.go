package store

import (
	"database/sql"
	"errors"
	"fmt"
)

const credColumns = `id, host, kind, label, username, secret_enc, is_default, created_at, updated_at`

func scanCredential(row interface{ Scan(...any) error }) (*Credential, error) {
	var c Credential
	var label, username sql.NullString
	err := row.Scan(&c.ID, &c.Host, &c.Kind, &label, &username, &c.SecretEnc,
		&c.IsDefault, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Label = strPtr(label)
	c.Username = strPtr(username)
	return &c, nil
}

// InsertCredential persists a new credential. When the credential is flagged
// default, any prior default for the same host is cleared in the same
// transaction, so at most one default per host ever exists.
func (s *Store) InsertCredential(c *Credential) error {
	now := nowMillis()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if c.IsDefault {
		if _, err := tx.Exec(`UPDATE credentials SET is_default = FALSE, updated_at = ? WHERE host = ? AND is_default`,
			now, c.Host); err != nil {
			return fmt.Errorf("clear default for host: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO credentials
		(id, host, kind, label, username, secret_enc, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Host, string(c.Kind), nullStr(c.Label), nullStr(c.Username),
		c.SecretEnc, c.IsDefault, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return tx.Commit()
}

// UpdateCredential updates the mutable fields of a credential, with the same
// per-host default clearing as InsertCredential.
func (s *Store) UpdateCredential(c *Credential) error {
	now := nowMillis()
	c.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if c.IsDefault {
		if _, err := tx.Exec(`UPDATE credentials SET is_default = FALSE, updated_at = ? WHERE host = ? AND is_default AND id != ?`,
			now, c.Host, c.ID); err != nil {
			return fmt.Errorf("clear default for host: %w", err)
		}
	}
	res, err := tx.Exec(`UPDATE credentials SET
		host = ?, kind = ?, label = ?, username = ?, secret_enc = ?, is_default = ?, updated_at = ?
		WHERE id = ?`,
		c.Host, string(c.Kind), nullStr(c.Label), nullStr(c.Username),
		c.SecretEnc, c.IsDefault, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if err := requireRowAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// GetCredential fetches a credential (including its encrypted secret) by id.
func (s *Store) GetCredential(id string) (*Credential, error) {
	row := s.db.QueryRow(`SELECT `+credColumns+` FROM credentials WHERE id = ?`, id)
	return scanCredential(row)
}

// PickCredentialForHost selects a default credential for host, preferring
// one whose kind matches preferredKind. A default of a different kind is not
// substituted: an ssh operation never receives an https token and vice
// versa. Returns ErrNotFound when no usable default exists.
func (s *Store) PickCredentialForHost(host string, preferredKind CredentialKind) (*Credential, error) {
	row := s.db.QueryRow(`SELECT `+credColumns+` FROM credentials
		WHERE host = ? AND is_default AND kind = ?`, host, string(preferredKind))
	return scanCredential(row)
}

// ClearDefaultForHost unsets the default flag for every credential of host.
func (s *Store) ClearDefaultForHost(host string) error {
	_, err := s.db.Exec(`UPDATE credentials SET is_default = FALSE, updated_at = ? WHERE host = ? AND is_default`,
		nowMillis(), host)
	return err
}

// ListCredentials returns all credentials ordered by host.
func (s *Store) ListCredentials() ([]*Credential, error) {
	rows, err := s.db.Query(`SELECT ` + credColumns + ` FROM credentials ORDER BY host, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountReposReferencing reports how many repositories are bound to the
// credential. Deletion is blocked while non-zero.
func (s *Store) CountReposReferencing(credentialID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM repositories WHERE credential_id = ?`, credentialID).Scan(&n)
	return n, err
}

// DeleteCredential removes a credential record.
func (s *Store) DeleteCredential(id string) error {
	res, err := s.db.Exec(`DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return requireRowAffected(res)
}

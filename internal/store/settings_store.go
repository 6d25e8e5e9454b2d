package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SettingsDoc is a JSON settings document with its update time.
type SettingsDoc struct {
	Value     json.RawMessage
	UpdatedAt int64
}

// GetJSON fetches a settings document by key. Returns ErrNotFound when the
// key has never been set.
func (s *Store) GetJSON(key string) (*SettingsDoc, error) {
	var doc SettingsDoc
	var raw string
	err := s.db.QueryRow(`SELECT value, updated_at FROM settings WHERE key = ?`, key).
		Scan(&raw, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	doc.Value = json.RawMessage(raw)
	return &doc, nil
}

// SetJSON upserts a settings document.
func (s *Store) SetJSON(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal settings %q: %w", key, err)
	}
	_, err = s.db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), nowMillis())
	if err != nil {
		return fmt.Errorf("set settings %q: %w", key, err)
	}
	return nil
}

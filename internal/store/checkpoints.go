package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetCheckpoint returns the saved cursor for a named job, or "" when the
// job has never checkpointed.
func (s *Store) GetCheckpoint(name string) (string, error) {
	var cursor string
	err := s.db.QueryRow(
		"SELECT COALESCE(cursor, '') FROM checkpoints WHERE name = ?", name).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cursor, nil
}

// SetCheckpoint saves the cursor for a named job
func (s *Store) SetCheckpoint(name, cursor string) error {
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (name, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at
	`, name, cursor, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

// ClearCheckpoint removes a named cursor so the job restarts from the top
func (s *Store) ClearCheckpoint(name string) error {
	if _, err := s.db.Exec("DELETE FROM checkpoints WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}

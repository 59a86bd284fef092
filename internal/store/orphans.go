package store

import (
	"fmt"
	"time"

	"github.com/franz/library-dedup/internal/catalog"
)

// OrphanSighting is a store record whose resolved path was missing on disk
// during a reconcile run. RunsSeen counts consecutive runs with the path
// still missing.
type OrphanSighting struct {
	Store        catalog.Store
	Identity     string
	ResolvedPath string
	RunsSeen     int
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}

// RecordOrphanSighting increments the consecutive-miss counter for a record,
// starting it at 1 on first sight. Returns the new count.
func (s *Store) RecordOrphanSighting(store catalog.Store, identity, resolvedPath string) (int, error) {
	_, err := s.db.Exec(`
		INSERT INTO orphan_sightings (store, identity, resolved_path, runs_seen, last_seen_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(store, identity) DO UPDATE SET
			runs_seen = runs_seen + 1,
			resolved_path = excluded.resolved_path,
			last_seen_at = excluded.last_seen_at
	`, string(store), identity, resolvedPath, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to record orphan sighting: %w", err)
	}

	var runs int
	err = s.db.QueryRow(
		"SELECT runs_seen FROM orphan_sightings WHERE store = ? AND identity = ?",
		string(store), identity).Scan(&runs)
	if err != nil {
		return 0, fmt.Errorf("failed to read orphan sighting: %w", err)
	}
	return runs, nil
}

// ClearOrphanSighting resets the counter for a record whose path turned out
// to be present again. A missing row is not an error.
func (s *Store) ClearOrphanSighting(store catalog.Store, identity string) error {
	_, err := s.db.Exec(
		"DELETE FROM orphan_sightings WHERE store = ? AND identity = ?",
		string(store), identity)
	if err != nil {
		return fmt.Errorf("failed to clear orphan sighting: %w", err)
	}
	return nil
}

// GetOrphans returns sightings seen in at least minRuns consecutive runs
func (s *Store) GetOrphans(minRuns int) ([]*OrphanSighting, error) {
	rows, err := s.db.Query(`
		SELECT store, identity, COALESCE(resolved_path, ''), runs_seen, first_seen_at, last_seen_at
		FROM orphan_sightings WHERE runs_seen >= ?
		ORDER BY store, identity
	`, minRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphans: %w", err)
	}
	defer rows.Close()

	var orphans []*OrphanSighting
	for rows.Next() {
		o := &OrphanSighting{}
		var store string
		err := rows.Scan(&store, &o.Identity, &o.ResolvedPath, &o.RunsSeen, &o.FirstSeenAt, &o.LastSeenAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan orphan sighting: %w", err)
		}
		o.Store = catalog.Store(store)
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/franz/library-dedup/internal/catalog"
)

const itemColumns = `id, store, identity, COALESCE(resolved_path, ''),
       COALESCE(fingerprint, ''), COALESCE(fingerprint_kind, ''),
       COALESCE(format, 'other'),
       COALESCE(tag_title, ''), COALESCE(tag_artist, ''), COALESCE(tag_album, ''),
       COALESCE(tag_bpm, ''), COALESCE(tag_key, ''),
       COALESCE(size_bytes, 0), COALESCE(mtime_unix, 0),
       status, COALESCE(error, ''), first_seen_at, last_update_at`

func scanItem(row interface{ Scan(...any) error }) (*catalog.Item, error) {
	it := &catalog.Item{}
	var store, format string
	err := row.Scan(
		&it.ID, &store, &it.Identity, &it.ResolvedPath,
		&it.Fingerprint, &it.FingerprintKind,
		&format,
		&it.Title, &it.Artist, &it.Album,
		&it.BPM, &it.Key,
		&it.SizeBytes, &it.MtimeUnix,
		&it.Status, &it.Error, &it.FirstSeenAt, &it.LastUpdate,
	)
	if err != nil {
		return nil, err
	}
	it.Store = catalog.Store(store)
	it.Format = catalog.Format(format)
	return it, nil
}

// UpsertItem inserts or refreshes an item record, keyed by (store, identity).
// Fingerprints already recorded are kept unless the incoming item carries one.
func (s *Store) UpsertItem(it *catalog.Item) error {
	result, err := s.db.Exec(`
		INSERT INTO items (store, identity, resolved_path, fingerprint, fingerprint_kind,
		                   format, tag_title, tag_artist, tag_album, tag_bpm, tag_key,
		                   size_bytes, mtime_unix, status)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store, identity) DO UPDATE SET
			resolved_path = excluded.resolved_path,
			fingerprint = COALESCE(NULLIF(excluded.fingerprint, ''), items.fingerprint),
			fingerprint_kind = COALESCE(NULLIF(excluded.fingerprint_kind, ''), items.fingerprint_kind),
			format = excluded.format,
			tag_title = excluded.tag_title,
			tag_artist = excluded.tag_artist,
			tag_album = excluded.tag_album,
			tag_bpm = excluded.tag_bpm,
			tag_key = excluded.tag_key,
			size_bytes = excluded.size_bytes,
			mtime_unix = excluded.mtime_unix,
			last_update_at = CURRENT_TIMESTAMP
		`, string(it.Store), it.Identity, it.ResolvedPath, it.Fingerprint, it.FingerprintKind,
		string(it.Format), it.Title, it.Artist, it.Album, it.BPM, it.Key,
		it.SizeBytes, it.MtimeUnix, it.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}

	if it.ID == 0 {
		if id, err := result.LastInsertId(); err == nil && id != 0 {
			it.ID = id
		}
	}
	// On conflict update LastInsertId is not meaningful, fetch the real ID
	err = s.db.QueryRow("SELECT id FROM items WHERE store = ? AND identity = ?",
		string(it.Store), it.Identity).Scan(&it.ID)
	if err != nil {
		return fmt.Errorf("failed to get item ID: %w", err)
	}

	return nil
}

// GetItemByID retrieves an item by its row ID
func (s *Store) GetItemByID(id int64) (*catalog.Item, error) {
	it, err := scanItem(s.db.QueryRow(
		"SELECT "+itemColumns+" FROM items WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// GetItem retrieves an item by store and identity
func (s *Store) GetItem(store catalog.Store, identity string) (*catalog.Item, error) {
	it, err := scanItem(s.db.QueryRow(
		"SELECT "+itemColumns+" FROM items WHERE store = ? AND identity = ?",
		string(store), identity))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

func (s *Store) queryItems(query string, args ...any) ([]*catalog.Item, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*catalog.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetItemsByStore retrieves all items observed in one store
func (s *Store) GetItemsByStore(store catalog.Store) ([]*catalog.Item, error) {
	return s.queryItems(
		"SELECT "+itemColumns+" FROM items WHERE store = ? ORDER BY id", string(store))
}

// GetActiveItems retrieves all items not yet archived or deleted, the
// universe the match engine runs over.
func (s *Store) GetActiveItems() ([]*catalog.Item, error) {
	return s.queryItems(
		"SELECT " + itemColumns + " FROM items WHERE status NOT IN ('archived', 'deleted') ORDER BY id")
}

// GetFingerprintCandidates retrieves filesystem items still lacking a
// fingerprint.
func (s *Store) GetFingerprintCandidates() ([]*catalog.Item, error) {
	return s.queryItems(
		"SELECT "+itemColumns+" FROM items WHERE store = ? AND (fingerprint IS NULL OR fingerprint = '') AND status NOT IN ('archived', 'deleted', 'skipped') ORDER BY id",
		string(catalog.StoreFilesystem))
}

// UpdateItemFingerprint records a computed or extracted fingerprint
func (s *Store) UpdateItemFingerprint(itemID int64, fingerprint, kind string) error {
	_, err := s.db.Exec(`
		UPDATE items SET fingerprint = ?, fingerprint_kind = ?, status = ?, last_update_at = ?
		WHERE id = ?
	`, fingerprint, kind, catalog.StatusFingerprinted, time.Now(), itemID)
	if err != nil {
		return fmt.Errorf("failed to update item fingerprint: %w", err)
	}
	return nil
}

// UpdateItemStatus updates the lifecycle status of an item
func (s *Store) UpdateItemStatus(itemID int64, status string, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE items SET status = ?, error = ?, last_update_at = ?
		WHERE id = ?
	`, status, errorMsg, time.Now(), itemID)
	if err != nil {
		return fmt.Errorf("failed to update item status: %w", err)
	}
	return nil
}

// CountItems returns the number of catalog items, excluding archived and
// deleted ones.
func (s *Store) CountItems() (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM items WHERE status NOT IN ('archived', 'deleted')").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// CountFingerprintedItems returns the number of active items carrying a
// fingerprint. Together with CountItems this is the coverage fraction.
func (s *Store) CountFingerprintedItems() (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM items
		WHERE fingerprint IS NOT NULL AND fingerprint != ''
		  AND status NOT IN ('archived', 'deleted')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count fingerprinted items: %w", err)
	}
	return count, nil
}

// CountItemsByStore returns per-store item counts
func (s *Store) CountItemsByStore() (map[catalog.Store]int, error) {
	rows, err := s.db.Query("SELECT store, COUNT(*) FROM items GROUP BY store")
	if err != nil {
		return nil, fmt.Errorf("failed to count items by store: %w", err)
	}
	defer rows.Close()

	counts := make(map[catalog.Store]int)
	for rows.Next() {
		var store string
		var count int
		if err := rows.Scan(&store, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[catalog.Store(store)] = count
	}
	return counts, rows.Err()
}

package store

import (
	"database/sql"
	"fmt"

	"github.com/franz/library-dedup/internal/catalog"
)

const (
	// PlanKeep marks the member that survives resolution
	PlanKeep = "keep"
	// PlanArchive marks members scheduled for archival and deletion
	PlanArchive = "archive"
)

// ClearPlans removes all resolution plans (fresh plan run)
func (s *Store) ClearPlans() error {
	if _, err := s.db.Exec("DELETE FROM plans"); err != nil {
		return fmt.Errorf("failed to clear plans: %w", err)
	}
	return nil
}

// InsertPlan persists the keep/archive decisions for one group atomically
func (s *Store) InsertPlan(p *catalog.ResolutionPlan) error {
	return s.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO plans (item_id, group_key, action, reason)
			VALUES (?, ?, ?, ?)
		`, p.Keep.ID, p.GroupKey, PlanKeep, p.Reason)
		if err != nil {
			return fmt.Errorf("failed to insert keep plan: %w", err)
		}
		for _, it := range p.Archive {
			_, err := tx.Exec(`
				INSERT OR REPLACE INTO plans (item_id, group_key, action, reason)
				VALUES (?, ?, ?, ?)
			`, it.ID, p.GroupKey, PlanArchive, p.Reason)
			if err != nil {
				return fmt.Errorf("failed to insert archive plan: %w", err)
			}
		}
		return nil
	})
}

// GetPlan loads the resolution plan for one group, or nil if none exists
func (s *Store) GetPlan(groupKey string) (*catalog.ResolutionPlan, error) {
	rows, err := s.db.Query(`
		SELECT item_id, action, COALESCE(reason, '')
		FROM plans WHERE group_key = ? ORDER BY item_id
	`, groupKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan: %w", err)
	}
	defer rows.Close()

	type planRow struct {
		itemID int64
		action string
		reason string
	}
	var planRows []planRow
	for rows.Next() {
		var r planRow
		if err := rows.Scan(&r.itemID, &r.action, &r.reason); err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		planRows = append(planRows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(planRows) == 0 {
		return nil, nil
	}

	p := &catalog.ResolutionPlan{GroupKey: groupKey}
	for _, r := range planRows {
		it, err := s.GetItemByID(r.itemID)
		if err != nil {
			return nil, err
		}
		if it == nil {
			continue
		}
		p.Reason = r.reason
		switch r.action {
		case PlanKeep:
			p.Keep = it
		case PlanArchive:
			p.Archive = append(p.Archive, it)
		}
	}
	return p, nil
}

// GetArchiveItems returns all items scheduled for archival, ordered by the
// group key of the plan they belong to.
func (s *Store) GetArchiveItems() ([]*catalog.Item, error) {
	return s.queryItems(`
		SELECT `+itemColumns+` FROM items
		JOIN plans p ON p.item_id = items.id
		WHERE p.action = ?
		ORDER BY p.group_key, items.id
	`, PlanArchive)
}

// CountPlans returns the number of keep and archive decisions
func (s *Store) CountPlans() (keep, archive int, err error) {
	err = s.db.QueryRow("SELECT COUNT(*) FROM plans WHERE action = ?", PlanKeep).Scan(&keep)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count keep plans: %w", err)
	}
	err = s.db.QueryRow("SELECT COUNT(*) FROM plans WHERE action = ?", PlanArchive).Scan(&archive)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count archive plans: %w", err)
	}
	return keep, archive, nil
}

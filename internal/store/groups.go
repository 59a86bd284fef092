package store

import (
	"database/sql"
	"fmt"

	"github.com/franz/library-dedup/internal/catalog"
)

// ClearGroups removes all groups and memberships (fresh match run)
func (s *Store) ClearGroups() error {
	if _, err := s.db.Exec("DELETE FROM group_members"); err != nil {
		return fmt.Errorf("failed to clear group members: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM groups"); err != nil {
		return fmt.Errorf("failed to clear groups: %w", err)
	}
	return nil
}

// InsertGroup persists one group and its ordered members atomically
func (s *Store) InsertGroup(g *catalog.DuplicateGroup) error {
	return s.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO groups (group_key, tier, confidence, conflicting, hint)
			VALUES (?, ?, ?, ?, ?)
		`, g.Key, string(g.Tier), g.Confidence, boolToInt(g.Conflicting), g.Hint)
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}

		if _, err := tx.Exec("DELETE FROM group_members WHERE group_key = ?", g.Key); err != nil {
			return fmt.Errorf("failed to clear stale members: %w", err)
		}

		for i, member := range g.Members {
			_, err := tx.Exec(`
				INSERT INTO group_members (group_key, item_id, position)
				VALUES (?, ?, ?)
			`, g.Key, member.ID, i)
			if err != nil {
				return fmt.Errorf("failed to insert group member: %w", err)
			}
		}
		return nil
	})
}

// GetGroup loads one group with its members in stored order
func (s *Store) GetGroup(groupKey string) (*catalog.DuplicateGroup, error) {
	g := &catalog.DuplicateGroup{}
	var tier string
	var conflicting int
	err := s.db.QueryRow(`
		SELECT group_key, tier, confidence, conflicting, COALESCE(hint, '')
		FROM groups WHERE group_key = ?
	`, groupKey).Scan(&g.Key, &tier, &g.Confidence, &conflicting, &g.Hint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	g.Tier = catalog.MatchTier(tier)
	g.Conflicting = conflicting != 0

	members, err := s.getGroupMembers(groupKey)
	if err != nil {
		return nil, err
	}
	g.Members = members
	return g, nil
}

func (s *Store) getGroupMembers(groupKey string) ([]*catalog.Item, error) {
	return s.queryItems(`
		SELECT `+itemColumns+` FROM items
		JOIN group_members gm ON gm.item_id = items.id
		WHERE gm.group_key = ?
		ORDER BY gm.position
	`, groupKey)
}

// GetDuplicateGroups returns groups with at least two members, ordered by
// group key so batch runs and checkpoints are deterministic. Cursor is the
// last processed group key; pass "" to start from the beginning.
func (s *Store) GetDuplicateGroups(cursor string, limit int) ([]*catalog.DuplicateGroup, error) {
	query := `
		SELECT g.group_key, g.tier, g.confidence, g.conflicting, COALESCE(g.hint, '')
		FROM groups g
		JOIN group_members gm ON gm.group_key = g.group_key
		WHERE g.group_key > ?
		GROUP BY g.group_key
		HAVING COUNT(gm.item_id) >= 2
		ORDER BY g.group_key`
	args := []any{cursor}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate groups: %w", err)
	}
	defer rows.Close()

	var groups []*catalog.DuplicateGroup
	for rows.Next() {
		g := &catalog.DuplicateGroup{}
		var tier string
		var conflicting int
		if err := rows.Scan(&g.Key, &tier, &g.Confidence, &conflicting, &g.Hint); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.Tier = catalog.MatchTier(tier)
		g.Conflicting = conflicting != 0
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, g := range groups {
		members, err := s.getGroupMembers(g.Key)
		if err != nil {
			return nil, err
		}
		g.Members = members
	}

	return groups, nil
}

// CountGroups returns total, duplicate, and conflicting group counts
func (s *Store) CountGroups() (total, duplicates, conflicts int, err error) {
	err = s.db.QueryRow("SELECT COUNT(*) FROM groups").Scan(&total)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count groups: %w", err)
	}
	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT group_key FROM group_members GROUP BY group_key HAVING COUNT(*) >= 2
		)`).Scan(&duplicates)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count duplicate groups: %w", err)
	}
	err = s.db.QueryRow("SELECT COUNT(*) FROM groups WHERE conflicting = 1").Scan(&conflicts)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count conflicting groups: %w", err)
	}
	return total, duplicates, conflicts, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/franz/library-dedup/internal/catalog"
)

func scanOperation(row interface{ Scan(...any) error }) (*catalog.OperationRecord, error) {
	op := &catalog.OperationRecord{}
	var store, action, status string
	err := row.Scan(
		&op.OperationID, &op.ItemID, &store, &action, &status,
		&op.Attempts, &op.Error, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	op.Store = catalog.Store(store)
	op.Action = catalog.OpAction(action)
	op.Status = catalog.OpStatus(status)
	return op, nil
}

const operationColumns = `operation_id, item_id, store, action, status,
       COALESCE(attempts, 0), COALESCE(error, ''), created_at, updated_at`

// GetOperation looks up the operation record for one (item, store, action)
// key, or nil when no attempt has been recorded yet.
func (s *Store) GetOperation(itemID int64, store catalog.Store, action catalog.OpAction) (*catalog.OperationRecord, error) {
	op, err := scanOperation(s.db.QueryRow(
		"SELECT "+operationColumns+" FROM operations WHERE item_id = ? AND store = ? AND action = ?",
		itemID, string(store), string(action)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// InsertOperation records a new pending operation. The unique key on
// (item_id, store, action) makes a second insert for the same mutation fail,
// which callers avoid by checking GetOperation first.
func (s *Store) InsertOperation(op *catalog.OperationRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO operations (operation_id, item_id, store, action, status, attempts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, op.OperationID, op.ItemID, string(op.Store), string(op.Action), string(op.Status), op.Attempts)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

// UpdateOperation records the outcome of an attempt
func (s *Store) UpdateOperation(operationID string, status catalog.OpStatus, attempts int, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE operations SET status = ?, attempts = ?, error = ?, updated_at = ?
		WHERE operation_id = ?
	`, string(status), attempts, errorMsg, time.Now(), operationID)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}
	return nil
}

// GetOperationsByItem returns all operation records for one item
func (s *Store) GetOperationsByItem(itemID int64) ([]*catalog.OperationRecord, error) {
	rows, err := s.db.Query(
		"SELECT "+operationColumns+" FROM operations WHERE item_id = ? ORDER BY created_at", itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []*catalog.OperationRecord
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// CountOperationsByStatus returns how many operation records sit in each
// status.
func (s *Store) CountOperationsByStatus() (map[catalog.OpStatus]int, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM operations GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[catalog.OpStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[catalog.OpStatus(status)] = count
	}
	return counts, rows.Err()
}

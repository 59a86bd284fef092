package catalog

import (
	"strings"
	"time"
)

// OpAction is one attempted cross-store mutation kind.
type OpAction string

const (
	OpArchiveInStore OpAction = "ARCHIVE_IN_STORE"
	OpDeleteFile     OpAction = "DELETE_FILE"
)

// OpStatus is the lifecycle state of an OperationRecord.
type OpStatus string

const (
	OpPending           OpStatus = "pending"
	OpSucceeded         OpStatus = "succeeded"
	OpFailedRecoverable OpStatus = "failed_recoverable"
	OpFailedTerminal    OpStatus = "failed_terminal"
)

var allOpStatuses = []OpStatus{OpPending, OpSucceeded, OpFailedRecoverable, OpFailedTerminal}

// ParseOpStatus converts a string into a known OpStatus.
func ParseOpStatus(value string) (OpStatus, bool) {
	normalized := OpStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allOpStatuses {
		if normalized == s {
			return s, true
		}
	}
	return "", false
}

// Terminal reports whether no further attempts will change the status.
func (s OpStatus) Terminal() bool {
	return s == OpSucceeded || s == OpFailedTerminal
}

// OperationRecord is one attempted cross-store mutation, persisted before
// any side effect so a crashed run can resume without re-issuing mutations
// that already succeeded. OperationID is the idempotency key.
type OperationRecord struct {
	OperationID string
	ItemID      int64
	Store       Store
	Action      OpAction
	Status      OpStatus
	Attempts    int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

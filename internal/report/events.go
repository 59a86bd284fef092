package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/franz/library-dedup/internal/catalog"
)

// EventType represents the type of event
type EventType string

const (
	EventScan        EventType = "scan"
	EventFingerprint EventType = "fingerprint"
	EventEmbed       EventType = "embed"
	EventMatch       EventType = "match"
	EventConflict    EventType = "conflict"
	EventPlan        EventType = "plan"
	EventArchive     EventType = "archive"
	EventDelete      EventType = "delete"
	EventOrphan      EventType = "orphan"
	EventSkip        EventType = "skip"
	EventError       EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in a run. The JSONL stream is the
// append-only audit trail of what the tool observed and did.
type Event struct {
	Timestamp   time.Time         `json:"ts"`
	Level       EventLevel        `json:"level"`
	Event       EventType         `json:"event"`
	Store       string            `json:"store,omitempty"`
	Identity    string            `json:"identity,omitempty"`
	Path        string            `json:"path,omitempty"`
	GroupKey    string            `json:"group_key,omitempty"`
	Tier        string            `json:"tier,omitempty"`
	Confidence  float64           `json:"confidence,omitempty"`
	Action      string            `json:"action,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	OperationID string            `json:"operation_id,omitempty"`
	Duration    int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error       string            `json:"error,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogScan logs one item observed in a store
func (l *EventLogger) LogScan(it *catalog.Item) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventScan,
		Store:    string(it.Store),
		Identity: it.Identity,
		Path:     it.ResolvedPath,
		Extra: map[string]string{
			"size_bytes": fmt.Sprintf("%d", it.SizeBytes),
		},
	})
}

// LogFingerprint logs a fingerprint outcome: computed, extracted, or skipped
func (l *EventLogger) LogFingerprint(it *catalog.Item, kind string, skipped bool, err error) error {
	level := LevelInfo
	event := EventFingerprint
	errMsg := ""
	if skipped {
		event = EventSkip
	}
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:    level,
		Event:    event,
		Store:    string(it.Store),
		Identity: it.Identity,
		Path:     it.ResolvedPath,
		Error:    errMsg,
		Extra: map[string]string{
			"kind": kind,
		},
	})
}

// LogEmbed logs a fingerprint tag write-back into a file
func (l *EventLogger) LogEmbed(path string, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level: level,
		Event: EventEmbed,
		Path:  path,
		Error: errMsg,
	})
}

// LogMatch logs a duplicate group formation
func (l *EventLogger) LogMatch(g *catalog.DuplicateGroup) error {
	return l.Log(&Event{
		Level:      LevelInfo,
		Event:      EventMatch,
		GroupKey:   g.Key,
		Tier:       string(g.Tier),
		Confidence: g.Confidence,
		Extra: map[string]string{
			"member_count": fmt.Sprintf("%d", len(g.Members)),
		},
	})
}

// LogConflict logs a group whose members carry disagreeing fingerprints
func (l *EventLogger) LogConflict(groupKey, reason string) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventConflict,
		GroupKey: groupKey,
		Reason:   reason,
	})
}

// LogPlan logs a keep or archive decision
func (l *EventLogger) LogPlan(it *catalog.Item, groupKey, action, reason string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventPlan,
		Store:    string(it.Store),
		Identity: it.Identity,
		Path:     it.ResolvedPath,
		GroupKey: groupKey,
		Action:   action,
		Reason:   reason,
	})
}

// LogOperation logs one attempted cross-store mutation
func (l *EventLogger) LogOperation(op *catalog.OperationRecord, path string, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	event := EventArchive
	if op.Action == catalog.OpDeleteFile {
		event = EventDelete
	}

	return l.Log(&Event{
		Level:       level,
		Event:       event,
		Store:       string(op.Store),
		Action:      string(op.Action),
		OperationID: op.OperationID,
		Path:        path,
		Duration:    duration.Milliseconds(),
		Error:       errMsg,
		Extra: map[string]string{
			"status":   string(op.Status),
			"attempts": fmt.Sprintf("%d", op.Attempts),
		},
	})
}

// LogOrphan logs a store record whose file is missing on disk
func (l *EventLogger) LogOrphan(store catalog.Store, identity, path string, runsSeen int) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventOrphan,
		Store:    string(store),
		Identity: identity,
		Path:     path,
		Extra: map[string]string{
			"runs_seen": fmt.Sprintf("%d", runsSeen),
		},
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, path string, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: event,
		Path:  path,
		Error: err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}

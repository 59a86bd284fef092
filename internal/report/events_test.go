package report

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/franz/library-dedup/internal/catalog"
)

func TestEventLogger_Log(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	event := &Event{
		Timestamp: time.Now(),
		Level:     LevelInfo,
		Event:     EventScan,
		Store:     "filesystem",
		Identity:  "/test/path.mp3",
	}

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	logger.Close()
	content, err := os.ReadFile(logger.path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("Failed to decode JSONL: %v", err)
	}
	if decoded.Store != "filesystem" {
		t.Errorf("Expected store 'filesystem', got '%s'", decoded.Store)
	}
	if decoded.Identity != "/test/path.mp3" {
		t.Errorf("Expected identity '/test/path.mp3', got '%s'", decoded.Identity)
	}
}

func TestEventLogger_LogOperation(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	op := &catalog.OperationRecord{
		OperationID: "op-abc",
		ItemID:      1,
		Store:       catalog.StoreLibraryManager,
		Action:      catalog.OpArchiveInStore,
		Status:      catalog.OpSucceeded,
		Attempts:    2,
	}
	if err := logger.LogOperation(op, "/music/x.mp3", 250*time.Millisecond, nil); err != nil {
		t.Fatalf("LogOperation failed: %v", err)
	}

	del := &catalog.OperationRecord{
		OperationID: "op-def",
		ItemID:      1,
		Store:       catalog.StoreFilesystem,
		Action:      catalog.OpDeleteFile,
		Status:      catalog.OpSucceeded,
		Attempts:    1,
	}
	if err := logger.LogOperation(del, "/music/x.mp3", 10*time.Millisecond, nil); err != nil {
		t.Fatalf("LogOperation failed: %v", err)
	}

	logger.Close()

	file, err := os.Open(logger.path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Failed to decode line: %v", err)
		}
		events = append(events, e)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Event != EventArchive {
		t.Errorf("Expected archive event, got '%s'", events[0].Event)
	}
	if events[0].OperationID != "op-abc" {
		t.Errorf("Expected operation_id 'op-abc', got '%s'", events[0].OperationID)
	}
	if events[0].Extra["attempts"] != "2" {
		t.Errorf("Expected attempts '2', got '%s'", events[0].Extra["attempts"])
	}
	if events[1].Event != EventDelete {
		t.Errorf("Expected delete event, got '%s'", events[1].Event)
	}
}

func TestEventLogger_LogFingerprintSkipped(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	it := &catalog.Item{
		Store:        catalog.StoreFilesystem,
		Identity:     "/music/weird.ogg",
		ResolvedPath: "/music/weird.ogg",
	}
	if err := logger.LogFingerprint(it, "", true, nil); err != nil {
		t.Fatalf("LogFingerprint failed: %v", err)
	}

	logger.Close()
	content, _ := os.ReadFile(logger.path)
	var event Event
	json.Unmarshal(content, &event)

	if event.Event != EventSkip {
		t.Errorf("Expected skip event, got '%s'", event.Event)
	}
	if event.Level != LevelInfo {
		t.Errorf("Expected level 'info', got '%s'", event.Level)
	}
}

func TestEventLogger_NullLogger(t *testing.T) {
	logger := NullLogger()

	if err := logger.Log(&Event{Level: LevelInfo, Event: EventScan}); err != nil {
		t.Errorf("NullLogger.Log should not return error, got: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("NullLogger.Close should not return error, got: %v", err)
	}
	if path := logger.Path(); path != "" {
		t.Errorf("NullLogger.Path should return empty string, got: %s", path)
	}
}

func TestEventLogger_LogLevelFiltering(t *testing.T) {
	testCases := []struct {
		name          string
		minLevel      EventLevel
		expectedCount int
	}{
		{"LevelDebug logs all", LevelDebug, 4},
		{"LevelInfo skips debug", LevelInfo, 3},
		{"LevelWarning skips debug and info", LevelWarning, 2},
		{"LevelError only logs errors", LevelError, 1},
	}

	events := []Event{
		{Level: LevelDebug, Event: EventScan},
		{Level: LevelInfo, Event: EventMatch},
		{Level: LevelWarning, Event: EventConflict},
		{Level: LevelError, Event: EventError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			logger, err := NewEventLogger(tmpDir, tc.minLevel)
			if err != nil {
				t.Fatalf("NewEventLogger failed: %v", err)
			}
			defer logger.Close()

			for _, e := range events {
				if err := logger.Log(&e); err != nil {
					t.Fatalf("Log failed: %v", err)
				}
			}

			logger.Close()

			file, err := os.Open(logger.path)
			if err != nil {
				t.Fatalf("Failed to open log file: %v", err)
			}
			defer file.Close()

			scanner := bufio.NewScanner(file)
			lineCount := 0
			for scanner.Scan() {
				lineCount++
			}

			if lineCount != tc.expectedCount {
				t.Errorf("Expected %d events logged, got %d", tc.expectedCount, lineCount)
			}
		})
	}
}

package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/library-dedup/internal/catalog"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestFilesystemList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.mp3"), "mp3 data")
	writeFile(t, filepath.Join(root, "sub", "b.flac"), "flac data")
	writeFile(t, filepath.Join(root, "cover.jpg"), "not audio")
	writeFile(t, filepath.Join(root, TrashDirName, "old.mp3"), "trashed")

	adapter := NewFilesystem(&FilesystemConfig{Root: root})

	items, err := adapter.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	// WalkDir is lexical: a.mp3 before sub/b.flac
	if items[0].Identity != filepath.Join(root, "a.mp3") {
		t.Errorf("unexpected first item %s", items[0].Identity)
	}
	if items[0].Format != catalog.FormatMP3 {
		t.Errorf("expected mp3 format, got %s", items[0].Format)
	}
	if items[1].Format != catalog.FormatFLAC {
		t.Errorf("expected flac format, got %s", items[1].Format)
	}
	for _, it := range items {
		if it.SizeBytes == 0 {
			t.Errorf("expected non-zero size for %s", it.Identity)
		}
		if it.ResolvedPath != it.Identity {
			t.Errorf("filesystem identity should be the resolved path")
		}
	}
}

func TestFilesystemDeleteFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "sub", "track.mp3")
	writeFile(t, path, "some audio bytes")

	adapter := NewFilesystem(&FilesystemConfig{Root: root})

	freed, err := adapter.DeleteFile(context.Background(), path)
	if err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if freed != int64(len("some audio bytes")) {
		t.Errorf("expected %d bytes freed, got %d", len("some audio bytes"), freed)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected original file to be gone")
	}

	trashPath := filepath.Join(root, TrashDirName, "sub", "track.mp3")
	if _, err := os.Stat(trashPath); err != nil {
		t.Errorf("expected file in trash at %s: %v", trashPath, err)
	}
}

func TestFilesystemDeleteFileAlreadyGone(t *testing.T) {
	root := t.TempDir()
	adapter := NewFilesystem(&FilesystemConfig{Root: root})

	freed, err := adapter.DeleteFile(context.Background(), filepath.Join(root, "missing.mp3"))
	if err != nil {
		t.Fatalf("expected missing file to be a no-op, got: %v", err)
	}
	if freed != 0 {
		t.Errorf("expected 0 bytes freed, got %d", freed)
	}
}

func TestFilesystemDeleteFileOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, "track.mp3")
	writeFile(t, path, "data")

	adapter := NewFilesystem(&FilesystemConfig{Root: root})

	if _, err := adapter.DeleteFile(context.Background(), path); err == nil {
		t.Fatal("expected refusal to delete outside library root")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("file outside root must be untouched")
	}
}

func TestFilesystemDeleteFileTrashCollision(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "track.mp3")
	writeFile(t, path, "first copy")
	writeFile(t, filepath.Join(root, TrashDirName, "track.mp3"), "previously trashed")

	adapter := NewFilesystem(&FilesystemConfig{Root: root})

	if _, err := adapter.DeleteFile(context.Background(), path); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}

	// The older trash entry survives; the new one gets a numbered name
	if _, err := os.Stat(filepath.Join(root, TrashDirName, "track.mp3")); err != nil {
		t.Error("expected existing trash entry to survive")
	}
	if _, err := os.Stat(filepath.Join(root, TrashDirName, "track.1.mp3")); err != nil {
		t.Error("expected collision-renamed trash entry")
	}
}

func TestFilesystemAdditionalExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "track.ogg"), "ogg data")

	plain := NewFilesystem(&FilesystemConfig{Root: root})
	items, err := plain.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected ogg to be excluded by default, got %d items", len(items))
	}

	extended := NewFilesystem(&FilesystemConfig{Root: root, AdditionalExts: []string{".ogg"}})
	items, err = extended.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected ogg to be included, got %d items", len(items))
	}
}

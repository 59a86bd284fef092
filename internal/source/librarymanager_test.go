package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/franz/library-dedup/internal/util"
)

func TestLibraryManagerListPagination(t *testing.T) {
	tracks := make([]lmTrack, 5)
	for i := range tracks {
		tracks[i] = lmTrack{
			ID:       int64(i + 1),
			Title:    fmt.Sprintf("Track %d", i+1),
			Artist:   "Artist",
			Folder:   "crate1",
			FileName: fmt.Sprintf("track%d.mp3", i+1),
			Path:     "/mnt/other-machine/music/stale.mp3",
		}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		end := offset + limit
		if end > len(tracks) {
			end = len(tracks)
		}
		page := lmTrackPage{Total: len(tracks)}
		if offset < len(tracks) {
			page.Tracks = tracks[offset:end]
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	adapter := NewLibraryManager(&LibraryManagerConfig{
		BaseURL:     server.URL,
		LibraryRoot: "/music",
		PageSize:    2,
	})

	items, err := adapter.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 items across pages, got %d", len(items))
	}

	first := items[0]
	if first.Identity != "1" {
		t.Errorf("expected identity '1', got %s", first.Identity)
	}
	// The path must be derived from the configured root, never read from
	// the payload's path field
	want := filepath.Join("/music", "crate1", "track1.mp3")
	if first.ResolvedPath != want {
		t.Errorf("expected derived path %s, got %s", want, first.ResolvedPath)
	}
}

func TestLibraryManagerListServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := NewLibraryManager(&LibraryManagerConfig{BaseURL: server.URL, LibraryRoot: "/music"})

	if _, err := adapter.List(context.Background()); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestLibraryManagerArchive(t *testing.T) {
	var archivedID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		archivedID = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	adapter := NewLibraryManager(&LibraryManagerConfig{BaseURL: server.URL, LibraryRoot: "/music"})

	it := adapter.toItem(&lmTrack{ID: 42, FileName: "x.mp3"})
	if err := adapter.Archive(context.Background(), it); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if archivedID != "/api/tracks/42/archive" {
		t.Errorf("unexpected archive path %s", archivedID)
	}
}

func TestLibraryManagerArchiveMissingTrackIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	adapter := NewLibraryManager(&LibraryManagerConfig{BaseURL: server.URL, LibraryRoot: "/music"})

	it := adapter.toItem(&lmTrack{ID: 7})
	if err := adapter.Archive(context.Background(), it); err != nil {
		t.Fatalf("expected 404 to be treated as already archived, got: %v", err)
	}
}

func TestLibraryManagerArchivePermissionDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "read only", http.StatusForbidden)
	}))
	defer server.Close()

	adapter := NewLibraryManager(&LibraryManagerConfig{BaseURL: server.URL, LibraryRoot: "/music"})

	err := adapter.Archive(context.Background(), adapter.toItem(&lmTrack{ID: 7}))
	if err == nil {
		t.Fatal("expected error on 403")
	}
	if !errors.Is(err, util.ErrPermission) {
		t.Errorf("expected permission error, got: %v", err)
	}
}

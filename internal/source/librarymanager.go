package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/util"
)

// LibraryManagerAdapter talks to the local library manager's HTTP API.
// Track rows carry a folder and file name; the absolute path is always
// derived from the configured library root, never read from the payload,
// because the manager records paths from whatever machine last wrote them.
type LibraryManagerAdapter struct {
	httpClient  *http.Client
	baseURL     string
	libraryRoot string
	pageSize    int
}

// LibraryManagerConfig holds library manager adapter configuration
type LibraryManagerConfig struct {
	BaseURL     string
	LibraryRoot string
	PageSize    int
	Timeout     time.Duration
}

// NewLibraryManager creates a library manager API client
func NewLibraryManager(cfg *LibraryManagerConfig) *LibraryManagerAdapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &LibraryManagerAdapter{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		libraryRoot: cfg.LibraryRoot,
		pageSize:    cfg.PageSize,
	}
}

func (a *LibraryManagerAdapter) Store() catalog.Store {
	return catalog.StoreLibraryManager
}

// lmTrack is one track row from the manager API
type lmTrack struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	BPM      string `json:"bpm"`
	Key      string `json:"key"`
	Folder   string `json:"folder"`
	FileName string `json:"file_name"`
	// Path is whatever machine last synced this row; deliberately unused
	Path string `json:"path"`
}

type lmTrackPage struct {
	Tracks []lmTrack `json:"tracks"`
	Total  int       `json:"total"`
}

// List pages through the manager's track table
func (a *LibraryManagerAdapter) List(ctx context.Context) ([]*catalog.Item, error) {
	var items []*catalog.Item
	offset := 0

	for {
		page, err := a.fetchPage(ctx, offset)
		if err != nil {
			return nil, err
		}

		for _, track := range page.Tracks {
			items = append(items, a.toItem(&track))
		}

		offset += len(page.Tracks)
		if len(page.Tracks) == 0 || offset >= page.Total {
			break
		}
	}

	util.DebugLog("Library manager: listed %d tracks", len(items))
	return items, nil
}

func (a *LibraryManagerAdapter) fetchPage(ctx context.Context, offset int) (*lmTrackPage, error) {
	urlStr := fmt.Sprintf("%s/api/tracks?offset=%d&limit=%d", a.baseURL, offset, a.pageSize)

	req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("library manager request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("library manager returned %d: %s", resp.StatusCode, string(body))
	}

	var page lmTrackPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode track page: %w", err)
	}
	return &page, nil
}

func (a *LibraryManagerAdapter) toItem(track *lmTrack) *catalog.Item {
	resolved := ""
	if track.FileName != "" {
		resolved = filepath.Join(a.libraryRoot, track.Folder, track.FileName)
	}

	return &catalog.Item{
		Store:        catalog.StoreLibraryManager,
		Identity:     fmt.Sprintf("%d", track.ID),
		ResolvedPath: resolved,
		Format:       catalog.FormatFromPath(track.FileName),
		Title:        track.Title,
		Artist:       track.Artist,
		Album:        track.Album,
		BPM:          track.BPM,
		Key:          track.Key,
		Status:       catalog.StatusDiscovered,
	}
}

// Archive marks a track archived in the manager. The track row survives
// with its crates and play history; only its library visibility changes.
func (a *LibraryManagerAdapter) Archive(ctx context.Context, it *catalog.Item) error {
	urlStr := fmt.Sprintf("%s/api/tracks/%s/archive", a.baseURL, url.PathEscape(it.Identity))

	body, err := json.Marshal(map[string]bool{"archived": true})
	if err != nil {
		return fmt.Errorf("failed to encode archive request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", urlStr, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("library manager archive failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		util.DebugLog("Library manager: archived track %s", it.Identity)
		return nil
	case http.StatusNotFound:
		// Already gone from the manager; archiving is idempotent
		util.DebugLog("Library manager: track %s not found, treating as archived", it.Identity)
		return nil
	case http.StatusForbidden, http.StatusUnauthorized:
		return fmt.Errorf("library manager rejected archive for track %s: %w", it.Identity, util.ErrPermission)
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("library manager returned %d archiving track %s: %s",
			resp.StatusCode, it.Identity, string(respBody))
	}
}

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/util"
)

const (
	// metaRateLimit spaces out requests to the hosted metadata API,
	// which throttles at roughly 3 requests per second
	metaRateLimit = 350 * time.Millisecond
)

// MetaStoreAdapter talks to the remote metadata database over its HTTP
// API with bearer token auth and cursor pagination.
type MetaStoreAdapter struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	databaseID  string
	pageSize    int
	rateLimiter *time.Ticker
}

// MetaStoreConfig holds metadata store adapter configuration
type MetaStoreConfig struct {
	BaseURL    string
	Token      string
	DatabaseID string
	PageSize   int
	Timeout    time.Duration
}

// NewMetaStore creates a metadata store API client
func NewMetaStore(cfg *MetaStoreConfig) *MetaStoreAdapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &MetaStoreAdapter{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		databaseID:  cfg.DatabaseID,
		pageSize:    cfg.PageSize,
		rateLimiter: time.NewTicker(metaRateLimit),
	}
}

// Close releases resources used by the adapter
func (a *MetaStoreAdapter) Close() {
	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}
}

func (a *MetaStoreAdapter) Store() catalog.Store {
	return catalog.StoreMetadata
}

// metaRecord is one record from the metadata database
type metaRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	BPM         string `json:"bpm"`
	Key         string `json:"key"`
	Fingerprint string `json:"fingerprint"`
	FilePath    string `json:"file_path"`
	Archived    bool   `json:"archived"`
}

type metaRecordPage struct {
	Records    []metaRecord `json:"records"`
	NextCursor string       `json:"next_cursor"`
	HasMore    bool         `json:"has_more"`
}

// List pages through the metadata database using cursor pagination.
// Archived records are excluded; they are the store's own trash.
func (a *MetaStoreAdapter) List(ctx context.Context) ([]*catalog.Item, error) {
	var items []*catalog.Item
	cursor := ""

	for {
		page, err := a.queryPage(ctx, cursor)
		if err != nil {
			return nil, err
		}

		for _, record := range page.Records {
			if record.Archived {
				continue
			}
			items = append(items, toMetaItem(&record))
		}

		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	util.DebugLog("Metadata store: listed %d records", len(items))
	return items, nil
}

func (a *MetaStoreAdapter) queryPage(ctx context.Context, cursor string) (*metaRecordPage, error) {
	a.waitForRateLimit(ctx)

	payload := map[string]any{
		"page_size": a.pageSize,
	}
	if cursor != "" {
		payload["start_cursor"] = cursor
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	urlStr := fmt.Sprintf("%s/v1/databases/%s/query", a.baseURL, url.PathEscape(a.databaseID))
	req, err := http.NewRequestWithContext(ctx, "POST", urlStr, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata store request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkMetaStatus(resp); err != nil {
		return nil, err
	}

	var page metaRecordPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode record page: %w", err)
	}
	return &page, nil
}

func toMetaItem(record *metaRecord) *catalog.Item {
	return &catalog.Item{
		Store:        catalog.StoreMetadata,
		Identity:     record.ID,
		ResolvedPath: record.FilePath,
		Fingerprint:  record.Fingerprint,
		Format:       catalog.FormatFromPath(record.FilePath),
		Title:        record.Title,
		Artist:       record.Artist,
		Album:        record.Album,
		BPM:          record.BPM,
		Key:          record.Key,
		Status:       catalog.StatusDiscovered,
	}
}

// Archive flips the record's archived flag. The record and its data
// survive in the store's trash, reversible from the store's own UI.
func (a *MetaStoreAdapter) Archive(ctx context.Context, it *catalog.Item) error {
	a.waitForRateLimit(ctx)

	body, err := json.Marshal(map[string]bool{"archived": true})
	if err != nil {
		return fmt.Errorf("failed to encode archive request: %w", err)
	}

	urlStr := fmt.Sprintf("%s/v1/records/%s", a.baseURL, url.PathEscape(it.Identity))
	req, err := http.NewRequestWithContext(ctx, "PATCH", urlStr, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("metadata store archive failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Already archived or removed upstream
		util.DebugLog("Metadata store: record %s not found, treating as archived", it.Identity)
		return nil
	}
	if err := checkMetaStatus(resp); err != nil {
		return fmt.Errorf("archiving record %s: %w", it.Identity, err)
	}

	util.DebugLog("Metadata store: archived record %s", it.Identity)
	return nil
}

func (a *MetaStoreAdapter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func checkMetaStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("metadata store rate limit exceeded (429): too many requests")
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("metadata store unavailable (503): service unavailable")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("metadata store auth failed (%d): %w", resp.StatusCode, util.ErrPermission)
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("metadata store returned %d: %s", resp.StatusCode, string(body))
	}
}

// waitForRateLimit spaces out API calls
func (a *MetaStoreAdapter) waitForRateLimit(ctx context.Context) {
	select {
	case <-a.rateLimiter.C:
	case <-ctx.Done():
	}
}

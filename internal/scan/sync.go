package scan

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dhowden/tag"
	"github.com/schollz/progressbar/v3"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/report"
	"github.com/franz/library-dedup/internal/source"
	"github.com/franz/library-dedup/internal/store"
	"github.com/franz/library-dedup/internal/util"
)

// Syncer pulls the current listing of every configured store into the
// catalog. Filesystem items additionally get their tags read so the
// metadata matching tiers have something to work with.
type Syncer struct {
	store       *store.Store
	adapters    []source.Adapter
	concurrency int
	logger      *report.EventLogger
}

// Config holds syncer configuration
type Config struct {
	Store       *store.Store
	Adapters    []source.Adapter
	Concurrency int
	Logger      *report.EventLogger
}

// New creates a new Syncer
func New(cfg *Config) *Syncer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Syncer{
		store:       cfg.Store,
		adapters:    cfg.Adapters,
		concurrency: concurrency,
		logger:      cfg.Logger,
	}
}

// Result represents a sync result
type Result struct {
	ItemsByStore map[catalog.Store]int
	TagsRead     int
	Errors       int
}

// Run lists every adapter and upserts what it sees. Remote listings are
// all-or-nothing per store; per-file tag errors only lose the tags.
func (s *Syncer) Run(ctx context.Context) (*Result, error) {
	result := &Result{ItemsByStore: make(map[catalog.Store]int)}

	for _, adapter := range s.adapters {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		util.InfoLog("Listing %s...", adapter.Store())
		items, err := adapter.List(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to list %s: %w", adapter.Store(), err)
		}
		util.InfoLog("  %d items in %s", len(items), adapter.Store())

		if adapter.Store() == catalog.StoreFilesystem {
			tagsRead, tagErrors := s.readTags(ctx, items)
			result.TagsRead += tagsRead
			result.Errors += tagErrors
		}

		for _, it := range items {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if it.Status == "" {
				it.Status = catalog.StatusDiscovered
			}
			if err := s.store.UpsertItem(it); err != nil {
				return result, fmt.Errorf("failed to record %s item %s: %w",
					it.Store, it.Identity, err)
			}
			s.logger.LogScan(it)
			result.ItemsByStore[it.Store]++
		}
	}

	total := 0
	for _, n := range result.ItemsByStore {
		total += n
	}
	util.SuccessLog("Sync complete: %d items across %d stores", total, len(s.adapters))
	return result, nil
}

// readTags fills in title/artist/album (and bpm/key where the container
// carries them) for filesystem items, using a bounded worker pool.
func (s *Syncer) readTags(ctx context.Context, items []*catalog.Item) (read, errors int) {
	var tagsRead, tagErrors atomic.Int64

	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(len(items),
			progressbar.OptionSetDescription("Reading tags"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	work := make(chan *catalog.Item)
	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range work {
				if ctx.Err() != nil {
					return
				}
				if err := readFileTags(it); err != nil {
					util.DebugLog("No tags for %s: %v", it.ResolvedPath, err)
					tagErrors.Add(1)
				} else {
					tagsRead.Add(1)
				}
				if bar != nil {
					bar.Add(1)
				}
			}
		}()
	}

	for _, it := range items {
		select {
		case work <- it:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()

	if bar != nil {
		bar.Finish()
	}
	return int(tagsRead.Load()), int(tagErrors.Load())
}

// readFileTags reads container tags into the item in place
func readFileTags(it *catalog.Item) error {
	f, err := os.Open(it.ResolvedPath)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return err
	}

	it.Title = m.Title()
	it.Artist = m.Artist()
	it.Album = m.Album()

	// BPM and musical key only exist in some containers
	for key, value := range m.Raw() {
		upper := strings.ToUpper(key)
		str, ok := value.(string)
		if !ok {
			continue
		}
		switch {
		case strings.Contains(upper, "TBPM") || upper == "BPM":
			it.BPM = str
		case strings.Contains(upper, "TKEY") || upper == "INITIALKEY":
			it.Key = str
		}
	}
	return nil
}

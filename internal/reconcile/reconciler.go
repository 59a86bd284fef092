package reconcile

import (
	"context"
	"fmt"
	"os"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/report"
	"github.com/franz/library-dedup/internal/source"
	"github.com/franz/library-dedup/internal/store"
	"github.com/franz/library-dedup/internal/util"
)

// OrphanThreshold is the number of consecutive runs a path must be
// missing before a record counts as orphaned. A single miss is often a
// mounted-volume hiccup, not a divergence.
const OrphanThreshold = 2

// Reconciler detects store records whose files no longer exist on disk
// and, on request, archives them once they have been missing for two
// consecutive runs.
type Reconciler struct {
	store     *store.Store
	logger    *report.EventLogger
	archivers map[catalog.Store]source.Archiver
	execute   bool
	statFn    func(string) (os.FileInfo, error)
}

// Config holds reconciler dependencies.
type Config struct {
	Store     *store.Store
	Logger    *report.EventLogger
	Archivers map[catalog.Store]source.Archiver

	// Execute archives confirmed orphans through their adapters.
	// Without it the run only updates sighting counters and reports.
	Execute bool

	// Stat overrides filesystem probing, for tests.
	Stat func(string) (os.FileInfo, error)
}

// New creates a reconciler.
func New(cfg *Config) *Reconciler {
	statFn := cfg.Stat
	if statFn == nil {
		statFn = os.Stat
	}
	return &Reconciler{
		store:     cfg.Store,
		logger:    cfg.Logger,
		archivers: cfg.Archivers,
		execute:   cfg.Execute,
		statFn:    statFn,
	}
}

// Result summarizes one reconcile run.
type Result struct {
	RecordsChecked int
	Missing        int
	FirstSightings int
	Orphaned       int
	Archived       int
	Failed         int
}

// Run checks every remote store record against the filesystem. Records
// with an empty resolved path cannot be checked and are skipped.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	for _, st := range []catalog.Store{catalog.StoreLibraryManager, catalog.StoreMetadata} {
		items, err := r.store.GetItemsByStore(st)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s items: %w", st, err)
		}

		for _, it := range items {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if it.ResolvedPath == "" || it.Status == catalog.StatusArchived {
				continue
			}
			result.RecordsChecked++

			if _, err := r.statFn(it.ResolvedPath); err == nil {
				if err := r.store.ClearOrphanSighting(it.Store, it.Identity); err != nil {
					return result, err
				}
				continue
			} else if !os.IsNotExist(err) {
				// Unreadable is not the same as missing
				util.WarnLog("Cannot stat %s: %v", it.ResolvedPath, err)
				continue
			}

			result.Missing++
			runs, err := r.store.RecordOrphanSighting(it.Store, it.Identity, it.ResolvedPath)
			if err != nil {
				return result, err
			}
			r.logger.LogOrphan(it.Store, it.Identity, it.ResolvedPath, runs)

			if runs < OrphanThreshold {
				result.FirstSightings++
				util.DebugLog("First sighting of missing %s for %s/%s, waiting for confirmation",
					it.ResolvedPath, it.Store, it.Identity)
				continue
			}

			result.Orphaned++
			if !r.execute {
				continue
			}
			if err := r.archiveOrphan(ctx, it); err != nil {
				result.Failed++
				util.ErrorLog("Failed to archive orphan %s/%s: %v", it.Store, it.Identity, err)
				continue
			}
			result.Archived++
		}
	}

	util.InfoLog("Reconcile: %d records checked, %d missing, %d orphaned, %d archived",
		result.RecordsChecked, result.Missing, result.Orphaned, result.Archived)
	return result, nil
}

func (r *Reconciler) archiveOrphan(ctx context.Context, it *catalog.Item) error {
	archiver, ok := r.archivers[it.Store]
	if !ok {
		return fmt.Errorf("no adapter configured for store %s", it.Store)
	}

	err := util.Retry(ctx, util.RemoteRetryConfig(), func() error {
		return archiver.Archive(ctx, it)
	}, fmt.Sprintf("archive orphan %s/%s", it.Store, it.Identity))
	if err != nil {
		return err
	}

	if err := r.store.UpdateItemStatus(it.ID, catalog.StatusArchived, ""); err != nil {
		return err
	}
	// The divergence is repaired, the streak is over
	return r.store.ClearOrphanSighting(it.Store, it.Identity)
}

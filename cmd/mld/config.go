package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/viper"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/report"
	"github.com/franz/library-dedup/internal/source"
	"github.com/franz/library-dedup/internal/store"
	"github.com/franz/library-dedup/internal/util"
)

// setDefaults centralizes every config key and its default
func setDefaults() {
	viper.SetDefault("concurrency", runtime.GOMAXPROCS(0))
	viper.SetDefault("artifacts", "artifacts")

	viper.SetDefault("library.root", "")
	viper.SetDefault("library.extensions", []string{})

	viper.SetDefault("librarymanager.url", "")
	viper.SetDefault("librarymanager.page_size", 200)

	viper.SetDefault("metastore.url", "")
	viper.SetDefault("metastore.token", "")
	viper.SetDefault("metastore.database_id", "")
	viper.SetDefault("metastore.page_size", 100)

	viper.SetDefault("cache.ttl", "5m")

	viper.SetDefault("coverage.threshold", 0.8)

	viper.SetDefault("match.fuzzy_threshold", 0.85)
	viper.SetDefault("match.ngram_size", 3)
	viper.SetDefault("match.ngram_threshold", 0.60)
	viper.SetDefault("match.hamming_max", 8)

	viper.SetDefault("policy.prefer_completeness", false)
}

// applyLogLevel wires the --verbose/--quiet flags into the logger
func applyLogLevel() {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
}

// openState opens the state database and takes the single-instance lock.
// Two mld processes mutating the same state file would race the
// checkpoint and operation tables.
func openState() (*store.Store, func(), error) {
	dbPath := viper.GetString("db")

	runLock := flock.New(dbPath + ".lock")
	locked, err := runLock.TryLock()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("another mld instance is already using %s", dbPath)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		runLock.Unlock()
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	cleanup := func() {
		db.Close()
		runLock.Unlock()
	}
	return db, cleanup, nil
}

// newEventLogger creates the JSONL audit log for this run
func newEventLogger() *report.EventLogger {
	logLevel := report.LevelInfo
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug
	}

	logger, err := report.NewEventLogger(viper.GetString("artifacts"), logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}
	return logger
}

// adapterSet bundles the configured store adapters for one run
type adapterSet struct {
	adapters  []source.Adapter
	archivers map[catalog.Store]source.Archiver
	deleter   source.FileDeleter
	closeFns  []func()
}

func (s *adapterSet) Close() {
	for _, fn := range s.closeFns {
		fn()
	}
}

// buildAdapters constructs the adapters for every configured store.
// Remote archivers are fronted by a per-run TTL cache invalidated on
// writes.
func buildAdapters(needFilesystem bool) (*adapterSet, error) {
	set := &adapterSet{archivers: make(map[catalog.Store]source.Archiver)}

	libraryRoot := viper.GetString("library.root")
	if libraryRoot == "" && needFilesystem {
		return nil, fmt.Errorf("library root is required (set library.root or MLD_LIBRARY_ROOT)")
	}

	if libraryRoot != "" {
		fs := source.NewFilesystem(&source.FilesystemConfig{
			Root:           libraryRoot,
			AdditionalExts: viper.GetStringSlice("library.extensions"),
		})
		set.adapters = append(set.adapters, fs)
		set.deleter = fs
	}

	cacheTTL := viper.GetDuration("cache.ttl")
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	if url := viper.GetString("librarymanager.url"); url != "" {
		lm := source.NewLibraryManager(&source.LibraryManagerConfig{
			BaseURL:     url,
			LibraryRoot: libraryRoot,
			PageSize:    viper.GetInt("librarymanager.page_size"),
		})
		cached := source.NewCachedAdapter(lm, cacheTTL)
		set.adapters = append(set.adapters, cached)
		set.archivers[catalog.StoreLibraryManager] = cached
	}

	if url := viper.GetString("metastore.url"); url != "" {
		token := viper.GetString("metastore.token")
		if token == "" {
			return nil, fmt.Errorf("metastore token is required (set metastore.token or MLD_METASTORE_TOKEN)")
		}
		ms := source.NewMetaStore(&source.MetaStoreConfig{
			BaseURL:    url,
			Token:      token,
			DatabaseID: viper.GetString("metastore.database_id"),
			PageSize:   viper.GetInt("metastore.page_size"),
		})
		cached := source.NewCachedAdapter(ms, cacheTTL)
		set.adapters = append(set.adapters, cached)
		set.archivers[catalog.StoreMetadata] = cached
		set.closeFns = append(set.closeFns, ms.Close)
	}

	if len(set.adapters) == 0 {
		return nil, fmt.Errorf("no stores configured")
	}
	return set, nil
}

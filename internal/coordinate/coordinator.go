package coordinate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/report"
	"github.com/franz/library-dedup/internal/source"
	"github.com/franz/library-dedup/internal/store"
	"github.com/franz/library-dedup/internal/util"
)

const groupPageSize = 100

// DefaultCheckpoint is the cursor name used when the caller does not pick
// a run name.
const DefaultCheckpoint = "execute"

// Coordinator executes resolution plans with the store-first ordering
// guarantee: a file is physically removed only after every remote record
// grouped with it has been archived. Every mutation is persisted as an
// OperationRecord before it is attempted, so a crashed run resumes
// without re-issuing mutations that already succeeded.
type Coordinator struct {
	store     *store.Store
	logger    *report.EventLogger
	archivers map[catalog.Store]source.Archiver
	deleter   source.FileDeleter

	dryRun     bool
	limit      int
	checkpoint string
	workers    int
	retryCfg   *util.RetryConfig

	mu      sync.Mutex
	summary report.ExecutionSummary
	locks   keyedLocks
}

// Config holds coordinator dependencies and knobs.
type Config struct {
	Store     *store.Store
	Logger    *report.EventLogger
	Archivers map[catalog.Store]source.Archiver
	Deleter   source.FileDeleter

	// DryRun walks the plans and reports what would happen without
	// touching any store. This is the default mode of the CLI.
	DryRun bool
	// Limit caps the number of duplicate groups processed this run.
	Limit int
	// Checkpoint names the resumable cursor for this run.
	Checkpoint string
	// Workers bounds group-level concurrency.
	Workers int
	// Retry overrides the remote retry policy, mainly for tests.
	Retry *util.RetryConfig
}

// New creates a coordinator.
func New(cfg *Config) *Coordinator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	checkpoint := cfg.Checkpoint
	if checkpoint == "" {
		checkpoint = DefaultCheckpoint
	}
	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = util.RemoteRetryConfig()
	}
	return &Coordinator{
		store:      cfg.Store,
		logger:     cfg.Logger,
		archivers:  cfg.Archivers,
		deleter:    cfg.Deleter,
		dryRun:     cfg.DryRun,
		limit:      cfg.Limit,
		checkpoint: checkpoint,
		workers:    workers,
		retryCfg:   retryCfg,
	}
}

// Run executes the stored plans and returns the run summary. Per-item
// failures never abort the batch; only infrastructure errors do.
func (c *Coordinator) Run(ctx context.Context) (*report.ExecutionSummary, error) {
	cursor, err := c.store.GetCheckpoint(c.checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if cursor != "" {
		util.InfoLog("Resuming from checkpoint %q at group %s", c.checkpoint, cursor)
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return c.result(), err
		}

		pageSize := groupPageSize
		if c.limit > 0 && c.limit-processed < pageSize {
			pageSize = c.limit - processed
		}
		if pageSize <= 0 {
			break
		}

		groups, err := c.store.GetDuplicateGroups(cursor, pageSize)
		if err != nil {
			return c.result(), fmt.Errorf("failed to load duplicate groups: %w", err)
		}
		if len(groups) == 0 {
			break
		}

		if err := c.processPage(ctx, groups); err != nil {
			return c.result(), err
		}

		cursor = groups[len(groups)-1].Key
		processed += len(groups)

		if !c.dryRun {
			if err := c.store.SetCheckpoint(c.checkpoint, cursor); err != nil {
				return c.result(), fmt.Errorf("failed to advance checkpoint: %w", err)
			}
		}

		if len(groups) < pageSize {
			break
		}
	}

	// A batch that drained every group has nothing left to resume
	if !c.dryRun && (c.limit <= 0 || processed < c.limit) {
		if err := c.store.ClearCheckpoint(c.checkpoint); err != nil {
			return c.result(), fmt.Errorf("failed to clear checkpoint: %w", err)
		}
	}

	return c.result(), nil
}

// processPage runs one page of groups through a bounded worker pool. The
// checkpoint only advances once the whole page has settled.
func (c *Coordinator) processPage(ctx context.Context, groups []*catalog.DuplicateGroup) error {
	sem := make(chan struct{}, c.workers)
	errCh := make(chan error, len(groups))
	var wg sync.WaitGroup

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(g *catalog.DuplicateGroup) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.processGroup(ctx, g); err != nil {
				errCh <- err
			}
		}(g)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return ctx.Err()
}

func (c *Coordinator) processGroup(ctx context.Context, g *catalog.DuplicateGroup) error {
	if g.Conflicting {
		c.mu.Lock()
		c.summary.Conflicts++
		c.mu.Unlock()
		c.logger.LogConflict(g.Key, "fingerprints disagree, not executing")
		return nil
	}

	plan, err := c.store.GetPlan(g.Key)
	if err != nil {
		return fmt.Errorf("failed to load plan for %s: %w", g.Key, err)
	}
	if plan == nil || plan.Keep == nil {
		return nil
	}

	// Records first, files last. The split enforces the ordering even
	// though plan.Archive interleaves stores.
	var records, files []*catalog.Item
	for _, it := range plan.Archive {
		if it.Store == catalog.StoreFilesystem {
			files = append(files, it)
		} else {
			records = append(records, it)
		}
	}

	for _, it := range records {
		if err := c.archiveRecord(ctx, it); err != nil {
			return err
		}
	}
	for _, it := range files {
		if err := c.deleteFile(ctx, plan, it); err != nil {
			return err
		}
	}
	return nil
}

// archiveRecord archives one remote store record as a single unit.
func (c *Coordinator) archiveRecord(ctx context.Context, it *catalog.Item) error {
	if c.dryRun {
		c.countDryRun(0)
		util.InfoLog("[dry-run] would archive %s record %s (%s - %s)",
			it.Store, it.Identity, it.Artist, it.Title)
		return nil
	}

	unlock := c.locks.lock(it.LockKey())
	defer unlock()

	archiver, ok := c.archivers[it.Store]
	if !ok {
		c.count(outcomeFailedTerminal)
		util.ErrorLog("No adapter configured for store %s, cannot archive %s", it.Store, it.Identity)
		return nil
	}

	outcome, err := c.runOp(ctx, it, it.Store, catalog.OpArchiveInStore, func(ctx context.Context) error {
		return archiver.Archive(ctx, it)
	})
	if err != nil {
		return err
	}

	if outcome == outcomeSucceeded {
		if err := c.store.UpdateItemStatus(it.ID, catalog.StatusArchived, ""); err != nil {
			return err
		}
	}
	c.count(outcome)
	return nil
}

// deleteFile removes one physical file as a single unit, gated on every
// remote record in the plan's archive set having a confirmed archive.
// The gate is group membership, never path equality: a record whose path
// did not resolve, or resolved differently, still blocks the deletion.
func (c *Coordinator) deleteFile(ctx context.Context, plan *catalog.ResolutionPlan, it *catalog.Item) error {
	records := remoteArchiveSet(plan)

	if c.dryRun {
		c.countDryRun(it.SizeBytes)
		util.InfoLog("[dry-run] would delete %s (after archiving %d records)",
			it.ResolvedPath, len(records))
		return nil
	}

	unlock := c.locks.lock(it.LockKey())
	defer unlock()

	c.mu.Lock()
	c.summary.UnitsAttempted++
	c.mu.Unlock()

	if plan.Keep.Store != catalog.StoreFilesystem && plan.Keep.ResolvedPath == it.ResolvedPath {
		c.countLocked(func(s *report.ExecutionSummary) { s.Skipped++ })
		util.WarnLog("Keeper record %s/%s still references %s, not deleting",
			plan.Keep.Store, plan.Keep.Identity, it.ResolvedPath)
		return nil
	}

	for _, rec := range records {
		op, err := c.store.GetOperation(rec.ID, rec.Store, catalog.OpArchiveInStore)
		if err != nil {
			return err
		}
		if op == nil || op.Status != catalog.OpSucceeded {
			if op != nil && op.Status == catalog.OpFailedTerminal {
				c.countLocked(func(s *report.ExecutionSummary) { s.FailedTerminal++ })
			} else {
				c.countLocked(func(s *report.ExecutionSummary) { s.FailedRecoverableExhausted++ })
			}
			util.WarnLog("Archive of %s/%s not confirmed, leaving %s on disk",
				rec.Store, rec.Identity, it.ResolvedPath)
			return nil
		}
	}

	var freed int64
	outcome, err := c.runOp(ctx, it, catalog.StoreFilesystem, catalog.OpDeleteFile, func(ctx context.Context) error {
		n, err := c.deleter.DeleteFile(ctx, it.ResolvedPath)
		freed = n
		return err
	})
	if err != nil {
		return err
	}

	if outcome == outcomeSucceeded {
		if err := c.store.UpdateItemStatus(it.ID, catalog.StatusDeleted, ""); err != nil {
			return err
		}
	}

	c.mu.Lock()
	switch outcome {
	case outcomeSucceeded:
		c.summary.Succeeded++
		c.summary.BytesFreed += freed
	case outcomeAlreadyDone:
		c.summary.Skipped++
	case outcomeFailedRecoverable:
		c.summary.FailedRecoverableExhausted++
	case outcomeFailedTerminal:
		c.summary.FailedTerminal++
	}
	c.mu.Unlock()
	return nil
}

// remoteArchiveSet returns the non-filesystem records the plan archives.
// Every one of them gates every file deletion in the group.
func remoteArchiveSet(plan *catalog.ResolutionPlan) []*catalog.Item {
	var records []*catalog.Item
	for _, m := range plan.Archive {
		if m.Store != catalog.StoreFilesystem {
			records = append(records, m)
		}
	}
	return records
}

type opOutcome int

const (
	outcomeSucceeded opOutcome = iota
	outcomeAlreadyDone
	outcomeFailedRecoverable
	outcomeFailedTerminal
)

// runOp executes one mutation behind its OperationRecord: the record is
// created (pending) before any side effect, previously succeeded ops are
// never re-issued, and the outcome is persisted before it is reported.
func (c *Coordinator) runOp(ctx context.Context, it *catalog.Item, opStore catalog.Store, action catalog.OpAction, fn func(context.Context) error) (opOutcome, error) {
	op, err := c.store.GetOperation(it.ID, opStore, action)
	if err != nil {
		return 0, err
	}
	if op == nil {
		op = &catalog.OperationRecord{
			OperationID: uuid.NewString(),
			ItemID:      it.ID,
			Store:       opStore,
			Action:      action,
			Status:      catalog.OpPending,
		}
		if err := c.store.InsertOperation(op); err != nil {
			return 0, err
		}
	}

	switch op.Status {
	case catalog.OpSucceeded:
		util.DebugLog("Operation %s already succeeded, skipping", op.OperationID)
		return outcomeAlreadyDone, nil
	case catalog.OpFailedTerminal:
		return outcomeFailedTerminal, nil
	}

	start := time.Now()
	opErr := util.Retry(ctx, c.retryCfg, func() error { return fn(ctx) },
		fmt.Sprintf("%s %s/%s", action, opStore, it.Identity))
	op.Attempts++
	duration := time.Since(start)

	if ctx.Err() != nil && opErr != nil {
		// Cancelled mid-operation: leave the record pending for resume
		return 0, ctx.Err()
	}

	outcome := outcomeSucceeded
	errMsg := ""
	switch {
	case opErr == nil:
		op.Status = catalog.OpSucceeded
	case util.IsRetryableError(opErr):
		op.Status = catalog.OpFailedRecoverable
		outcome = outcomeFailedRecoverable
		errMsg = opErr.Error()
	default:
		op.Status = catalog.OpFailedTerminal
		outcome = outcomeFailedTerminal
		errMsg = opErr.Error()
	}

	if err := c.store.UpdateOperation(op.OperationID, op.Status, op.Attempts, errMsg); err != nil {
		return 0, err
	}
	op.Error = errMsg
	c.logger.LogOperation(op, it.ResolvedPath, duration, opErr)
	return outcome, nil
}

func (c *Coordinator) count(outcome opOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.UnitsAttempted++
	switch outcome {
	case outcomeSucceeded:
		c.summary.Succeeded++
	case outcomeAlreadyDone:
		c.summary.Skipped++
	case outcomeFailedRecoverable:
		c.summary.FailedRecoverableExhausted++
	case outcomeFailedTerminal:
		c.summary.FailedTerminal++
	}
}

func (c *Coordinator) countLocked(fn func(*report.ExecutionSummary)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.summary)
}

// countDryRun records a unit that was inspected but deliberately not
// executed. Bytes accumulate so the dry run can report reclaimable space.
func (c *Coordinator) countDryRun(bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.UnitsAttempted++
	c.summary.Skipped++
	c.summary.BytesFreed += bytes
}

func (c *Coordinator) result() *report.ExecutionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.summary
	return &s
}

// keyedLocks serializes work on a single item across concurrent groups.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

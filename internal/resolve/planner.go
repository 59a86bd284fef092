package resolve

import (
	"context"
	"fmt"

	"github.com/franz/library-dedup/internal/report"
	"github.com/franz/library-dedup/internal/store"
	"github.com/franz/library-dedup/internal/util"
)

const groupPageSize = 200

// Planner walks the stored duplicate groups and persists a resolution
// plan for every non-conflicting one.
type Planner struct {
	store  *store.Store
	logger *report.EventLogger
	policy Policy
}

// Config holds planner dependencies.
type Config struct {
	Store              *store.Store
	Logger             *report.EventLogger
	PreferCompleteness bool
}

// New creates a planner.
func New(cfg *Config) *Planner {
	return &Planner{
		store:  cfg.Store,
		logger: cfg.Logger,
		policy: Policy{PreferCompleteness: cfg.PreferCompleteness},
	}
}

// Result summarizes one planning run.
type Result struct {
	GroupsPlanned    int
	ConflictsSkipped int
	ItemsToArchive   int
	BytesToFree      int64
}

// Run recomputes all plans from the current duplicate groups. Planning is
// derived state, so it always starts from a clean slate.
func (p *Planner) Run(ctx context.Context) (*Result, error) {
	if err := p.store.ClearPlans(); err != nil {
		return nil, fmt.Errorf("failed to clear previous plans: %w", err)
	}

	result := &Result{}
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		groups, err := p.store.GetDuplicateGroups(cursor, groupPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load duplicate groups: %w", err)
		}
		if len(groups) == 0 {
			break
		}

		for _, g := range groups {
			cursor = g.Key

			if g.Conflicting {
				result.ConflictsSkipped++
				p.logger.LogConflict(g.Key, "fingerprints disagree, group left for manual review")
				continue
			}

			plan, err := p.policy.Decide(g)
			if err != nil {
				return nil, err
			}
			if err := p.store.InsertPlan(plan); err != nil {
				return nil, fmt.Errorf("failed to store plan for %s: %w", g.Key, err)
			}

			p.logger.LogPlan(plan.Keep, g.Key, store.PlanKeep, plan.Reason)
			for _, it := range plan.Archive {
				p.logger.LogPlan(it, g.Key, store.PlanArchive, plan.Reason)
				result.ItemsToArchive++
				result.BytesToFree += it.SizeBytes
			}
			result.GroupsPlanned++
		}

		if len(groups) < groupPageSize {
			break
		}
	}

	util.InfoLog("Planned %d groups (%d items to archive, %d conflicts skipped)",
		result.GroupsPlanned, result.ItemsToArchive, result.ConflictsSkipped)
	return result, nil
}

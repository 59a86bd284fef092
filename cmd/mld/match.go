package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/library-dedup/internal/coverage"
	"github.com/franz/library-dedup/internal/match"
	"github.com/franz/library-dedup/internal/util"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Detect duplicates across all stores",
	Long: `Match runs the three-tier duplicate detection cascade over the catalog:

1. EXACT_FINGERPRINT - identical or near-identical content fingerprints
2. FUZZY_METADATA    - normalized artist/title similarity
3. NGRAM_TOKEN       - character n-gram similarity over thin metadata

Each tier only sees items the earlier tiers left ungrouped. Groups whose
members carry disagreeing fingerprints are flagged as conflicting and are
never auto-resolved.`,
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	applyLogLevel()

	db, cleanup, err := openState()
	if err != nil {
		return err
	}
	defer cleanup()

	logger := newEventLogger()
	defer logger.Close()

	// The coverage gate only informs, it never blocks: below-threshold
	// coverage means the fallback tiers do more of the work
	tracker := coverage.New(&coverage.Config{
		Store:     db,
		Threshold: viper.GetFloat64("coverage.threshold"),
	})
	snapshot, err := tracker.Measure()
	if err != nil {
		return err
	}
	util.InfoLog("Fingerprint coverage: %.1f%%", snapshot.Fraction()*100)

	engine := match.New(&match.Config{
		Store:          db,
		Logger:         logger,
		FuzzyThreshold: viper.GetFloat64("match.fuzzy_threshold"),
		NgramSize:      viper.GetInt("match.ngram_size"),
		NgramThreshold: viper.GetFloat64("match.ngram_threshold"),
		HammingMax:     viper.GetInt("match.hamming_max"),
	})

	start := time.Now()
	result, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("matching failed: %w", err)
	}

	util.SuccessLog("Matching complete in %v", time.Since(start).Round(time.Millisecond))
	util.InfoLog("  Duplicate groups: %d (%d items)", result.GroupsCreated, result.ItemsGrouped)
	util.InfoLog("  Exact fingerprint: %d", result.ExactGroups)
	util.InfoLog("  Fuzzy metadata: %d", result.FuzzyGroups)
	util.InfoLog("  N-gram token: %d", result.NgramGroups)
	if result.ConflictingGroups > 0 {
		util.WarnLog("  Conflicting (manual review): %d", result.ConflictingGroups)
	}

	util.InfoLog("")
	util.InfoLog("Next step: mld plan")
	return nil
}

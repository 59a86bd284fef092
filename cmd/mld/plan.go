package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/library-dedup/internal/resolve"
	"github.com/franz/library-dedup/internal/util"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Decide which copy of each duplicate to keep",
	Long: `Plan picks the keeper of every duplicate group and schedules the rest
for archival. Keeper selection ranks format quality first (WAV beats FLAC
beats MP3), then metadata completeness, then file size, then the earliest
copy. With --prefer-completeness the first two criteria swap.

Planning touches nothing: it only records decisions for mld execute.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().Bool("prefer-completeness", false, "rank metadata completeness above format quality")
	viper.BindPFlag("policy.prefer_completeness", planCmd.Flags().Lookup("prefer-completeness"))
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	applyLogLevel()

	db, cleanup, err := openState()
	if err != nil {
		return err
	}
	defer cleanup()

	logger := newEventLogger()
	defer logger.Close()

	planner := resolve.New(&resolve.Config{
		Store:              db,
		Logger:             logger,
		PreferCompleteness: viper.GetBool("policy.prefer_completeness"),
	})

	start := time.Now()
	result, err := planner.Run(ctx)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	util.SuccessLog("Planning complete in %v", time.Since(start).Round(time.Millisecond))
	util.InfoLog("  Groups planned: %d", result.GroupsPlanned)
	util.InfoLog("  Items to archive: %d", result.ItemsToArchive)
	util.InfoLog("  Reclaimable space: %s", humanize.Bytes(uint64(result.BytesToFree)))
	if result.ConflictsSkipped > 0 {
		util.WarnLog("  Conflicting groups skipped: %d", result.ConflictsSkipped)
	}

	util.InfoLog("")
	util.InfoLog("Next step: mld execute (dry run), then mld execute --execute --yes")
	return nil
}

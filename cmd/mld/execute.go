package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/library-dedup/internal/coordinate"
	"github.com/franz/library-dedup/internal/util"
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Carry out the resolution plans (dry run by default)",
	Long: `Execute carries out the recorded plans: for every duplicate scheduled
for archival, its records in the library manager and metadata store are
archived first, and only once every one of them is confirmed does the file
itself move to the recoverable trash.

Without --execute this is a dry run that reports what would happen. A real
run additionally requires --yes. Interrupted runs resume from a checkpoint
and never re-issue mutations that already succeeded.`,
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().Bool("execute", false, "actually mutate stores instead of dry-running")
	executeCmd.Flags().Bool("yes", false, "confirm a real execution")
	executeCmd.Flags().Int("limit", 0, "process at most this many duplicate groups")
	executeCmd.Flags().String("checkpoint", coordinate.DefaultCheckpoint, "name of the resumable cursor")
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	execute, _ := cmd.Flags().GetBool("execute")
	yes, _ := cmd.Flags().GetBool("yes")
	limit, _ := cmd.Flags().GetInt("limit")
	checkpoint, _ := cmd.Flags().GetString("checkpoint")

	if execute && !yes {
		return fmt.Errorf("a real execution requires both --execute and --yes")
	}

	// A second SIGINT kills the process; the first one lets in-flight
	// operations settle so the checkpoint stays truthful
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, cleanup, err := openState()
	if err != nil {
		return err
	}
	defer cleanup()

	logger := newEventLogger()
	defer logger.Close()

	set, err := buildAdapters(execute)
	if err != nil {
		return err
	}
	defer set.Close()

	if !execute {
		util.InfoLog("Dry run: no store will be touched (use --execute --yes to apply)")
	}

	coord := coordinate.New(&coordinate.Config{
		Store:      db,
		Logger:     logger,
		Archivers:  set.archivers,
		Deleter:    set.deleter,
		DryRun:     !execute,
		Limit:      limit,
		Checkpoint: checkpoint,
		Workers:    viper.GetInt("concurrency"),
	})

	start := time.Now()
	summary, err := coord.Run(ctx)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	util.SuccessLog("Execution complete in %v", time.Since(start).Round(time.Millisecond))
	util.InfoLog("  Units attempted: %d", summary.UnitsAttempted)
	util.InfoLog("  Succeeded: %d", summary.Succeeded)
	util.InfoLog("  Skipped: %d", summary.Skipped)
	util.InfoLog("  Failed (retries exhausted): %d", summary.FailedRecoverableExhausted)
	util.InfoLog("  Failed (terminal): %d", summary.FailedTerminal)
	util.InfoLog("  Conflicts: %d", summary.Conflicts)
	if execute {
		util.InfoLog("  Space freed: %s", humanize.Bytes(uint64(summary.BytesFreed)))
	} else {
		util.InfoLog("  Space that would be freed: %s", humanize.Bytes(uint64(summary.BytesFreed)))
	}

	if !summary.Consistent() {
		util.WarnLog("Counter mismatch: succeeded+skipped+failed != attempted")
	}
	if summary.Failed() {
		return fmt.Errorf("%d operations failed terminally, see the event log", summary.FailedTerminal)
	}
	return nil
}

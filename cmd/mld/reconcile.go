package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/library-dedup/internal/reconcile"
	"github.com/franz/library-dedup/internal/util"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Detect and repair records pointing at missing files",
	Long: `Reconcile checks every library-manager and metadata-store record
against the filesystem. A record whose file is missing is only counted as
orphaned after it has been missing in two consecutive runs, so a mounted
volume having a bad day does not trigger cleanup.

Without --execute the run only reports. With it, confirmed orphans are
archived in their store (never deleted).`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().Bool("execute", false, "archive confirmed orphans")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	applyLogLevel()

	execute, _ := cmd.Flags().GetBool("execute")

	db, cleanup, err := openState()
	if err != nil {
		return err
	}
	defer cleanup()

	logger := newEventLogger()
	defer logger.Close()

	set, err := buildAdapters(false)
	if err != nil {
		return err
	}
	defer set.Close()

	reconciler := reconcile.New(&reconcile.Config{
		Store:     db,
		Logger:    logger,
		Archivers: set.archivers,
		Execute:   execute,
	})

	start := time.Now()
	result, err := reconciler.Run(ctx)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	util.SuccessLog("Reconcile complete in %v", time.Since(start).Round(time.Millisecond))
	util.InfoLog("  Records checked: %d", result.RecordsChecked)
	util.InfoLog("  Missing on disk: %d", result.Missing)
	util.InfoLog("  First sightings: %d", result.FirstSightings)
	util.InfoLog("  Confirmed orphans: %d", result.Orphaned)
	if execute {
		util.InfoLog("  Archived: %d", result.Archived)
		if result.Failed > 0 {
			util.WarnLog("  Failed to archive: %d", result.Failed)
		}
	} else if result.Orphaned > 0 {
		util.InfoLog("")
		util.InfoLog("Run with --execute to archive the confirmed orphans")
	}
	return nil
}

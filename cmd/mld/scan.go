package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/library-dedup/internal/scan"
	"github.com/franz/library-dedup/internal/util"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List all configured stores into the catalog",
	Long: `Scan lists every configured system of record - the library filesystem,
the library manager, and the metadata store - and records what each one
currently holds. Filesystem items get their tags read in the same pass.

Rescanning is cheap and idempotent: known items are refreshed in place and
previously computed fingerprints are kept.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	applyLogLevel()

	db, cleanup, err := openState()
	if err != nil {
		return err
	}
	defer cleanup()

	logger := newEventLogger()
	defer logger.Close()

	set, err := buildAdapters(true)
	if err != nil {
		return err
	}
	defer set.Close()

	syncer := scan.New(&scan.Config{
		Store:       db,
		Adapters:    set.adapters,
		Concurrency: viper.GetInt("concurrency"),
		Logger:      logger,
	})

	start := time.Now()
	result, err := syncer.Run(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	util.SuccessLog("Scan complete in %v", time.Since(start).Round(time.Millisecond))
	for store, count := range result.ItemsByStore {
		util.InfoLog("  %s: %d items", store, count)
	}
	if result.TagsRead > 0 {
		util.InfoLog("  Tags read: %d", result.TagsRead)
	}
	if result.Errors > 0 {
		util.WarnLog("  Tag errors: %d", result.Errors)
	}

	util.InfoLog("")
	util.InfoLog("Next step: mld fingerprint")
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/coordinate"
	"github.com/franz/library-dedup/internal/reconcile"
	"github.com/franz/library-dedup/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of the pipeline",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	db, cleanup, err := openState()
	if err != nil {
		return err
	}
	defer cleanup()

	byStore, err := db.CountItemsByStore()
	if err != nil {
		return err
	}
	active, err := db.CountItems()
	if err != nil {
		return err
	}
	fingerprinted, err := db.CountFingerprintedItems()
	if err != nil {
		return err
	}

	catalogTable := table.NewWriter()
	catalogTable.SetOutputMirror(os.Stdout)
	catalogTable.SetTitle("Catalog")
	catalogTable.AppendHeader(table.Row{"Store", "Items"})
	for _, st := range catalog.AllStores() {
		catalogTable.AppendRow(table.Row{string(st), byStore[st]})
	}
	catalogTable.AppendFooter(table.Row{"active", active})
	catalogTable.Render()

	coverage := 0.0
	if active > 0 {
		coverage = float64(fingerprinted) / float64(active)
	}
	threshold := viper.GetFloat64("coverage.threshold")
	fmt.Printf("\nFingerprint coverage: %.1f%% (threshold %.0f%%)\n\n", coverage*100, threshold*100)

	total, duplicates, conflicts, err := db.CountGroups()
	if err != nil {
		return err
	}
	keep, archive, err := db.CountPlans()
	if err != nil {
		return err
	}

	matchTable := table.NewWriter()
	matchTable.SetOutputMirror(os.Stdout)
	matchTable.SetTitle("Matching & Planning")
	matchTable.AppendRows([]table.Row{
		{"Groups", total},
		{"Duplicate groups", duplicates},
		{"Conflicting groups", conflicts},
		{"Planned keepers", keep},
		{"Planned archives", archive},
	})
	matchTable.Render()

	opCounts, err := db.CountOperationsByStatus()
	if err != nil {
		return err
	}
	if len(opCounts) > 0 {
		opTable := table.NewWriter()
		opTable.SetOutputMirror(os.Stdout)
		opTable.SetTitle("Operations")
		for _, status := range []catalog.OpStatus{
			catalog.OpPending, catalog.OpSucceeded,
			catalog.OpFailedRecoverable, catalog.OpFailedTerminal,
		} {
			if n := opCounts[status]; n > 0 {
				opTable.AppendRow(table.Row{string(status), n})
			}
		}
		fmt.Println()
		opTable.Render()
	}

	orphans, err := db.GetOrphans(reconcile.OrphanThreshold)
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		fmt.Println()
		orphanTable := table.NewWriter()
		orphanTable.SetOutputMirror(os.Stdout)
		orphanTable.SetTitle("Confirmed Orphans")
		orphanTable.AppendHeader(table.Row{"Store", "Identity", "Path", "Runs"})
		for _, o := range orphans {
			orphanTable.AppendRow(table.Row{string(o.Store), o.Identity, o.ResolvedPath, o.RunsSeen})
		}
		orphanTable.Render()
	}

	if cursor, err := db.GetCheckpoint(coordinate.DefaultCheckpoint); err == nil && cursor != "" {
		util.WarnLog("Execution checkpoint pending at group %s (resume with mld execute)", cursor)
	}

	archiveItems, err := db.GetArchiveItems()
	if err != nil {
		return err
	}
	var reclaimable int64
	for _, it := range archiveItems {
		if it.Store == catalog.StoreFilesystem && it.Status != catalog.StatusDeleted {
			reclaimable += it.SizeBytes
		}
	}
	if reclaimable > 0 {
		fmt.Printf("\nReclaimable space: %s\n", humanize.Bytes(uint64(reclaimable)))
	}
	return nil
}

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/library-dedup/internal/report"
	"github.com/franz/library-dedup/internal/util"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a markdown summary of the current state",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringP("output", "o", "", "output file (default artifacts/summary.md)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = filepath.Join(viper.GetString("artifacts"), "summary.md")
	}

	db, cleanup, err := openState()
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := report.GenerateSummaryReport(db, "")
	if err != nil {
		return fmt.Errorf("failed to gather summary: %w", err)
	}
	summary.DatabasePath = viper.GetString("db")

	if err := report.WriteMarkdownReport(summary, output); err != nil {
		return err
	}

	util.SuccessLog("Report written to %s", output)
	return nil
}

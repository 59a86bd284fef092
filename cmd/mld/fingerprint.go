package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/library-dedup/internal/coverage"
	"github.com/franz/library-dedup/internal/fingerprint"
	"github.com/franz/library-dedup/internal/util"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Compute content fingerprints for library files",
	Long: `Fingerprint computes a content fingerprint for every filesystem item
that does not have one yet. Chromaprint (fpcalc) is used when available,
with a coarse energy-envelope hash as the ffmpeg-only fallback.

Files already carrying an embedded fingerprint tag from an earlier run are
reused without recomputation. With --embed, freshly computed fingerprints
are written back into the files so future rescans stay cheap.`,
	RunE: runFingerprint,
}

func init() {
	fingerprintCmd.Flags().Bool("embed", false, "write computed fingerprints back into the files")
	viper.BindPFlag("fingerprint.embed", fingerprintCmd.Flags().Lookup("embed"))
	rootCmd.AddCommand(fingerprintCmd)
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	applyLogLevel()

	db, cleanup, err := openState()
	if err != nil {
		return err
	}
	defer cleanup()

	logger := newEventLogger()
	defer logger.Close()

	codec := fingerprint.NewCodec(nil)
	pipeline := fingerprint.NewPipeline(&fingerprint.PipelineConfig{
		Store:       db,
		Codec:       codec,
		Logger:      logger,
		Concurrency: viper.GetInt("concurrency"),
		Embed:       viper.GetBool("fingerprint.embed"),
	})

	start := time.Now()
	result, err := pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("fingerprinting failed: %w", err)
	}

	util.SuccessLog("Fingerprinting complete in %v", time.Since(start).Round(time.Millisecond))
	util.InfoLog("  Computed: %d", result.Computed)
	util.InfoLog("  Reused embedded: %d", result.Extracted)
	if result.Embedded > 0 {
		util.InfoLog("  Embedded: %d", result.Embedded)
	}
	if result.Skipped > 0 {
		util.InfoLog("  Skipped (unsupported): %d", result.Skipped)
	}
	if result.Failed > 0 {
		util.WarnLog("  Failed: %d", result.Failed)
	}

	// Report where coverage stands so the user knows how much weight
	// the exact tier will carry
	tracker := coverage.New(&coverage.Config{
		Store:     db,
		Threshold: viper.GetFloat64("coverage.threshold"),
	})
	snapshot, err := tracker.Measure()
	if err != nil {
		return err
	}
	util.InfoLog("")
	util.InfoLog("Fingerprint coverage: %.1f%% (%d of %d items)",
		snapshot.Fraction()*100, snapshot.FingerprintedItems, snapshot.ActiveItems)
	if !snapshot.Sufficient() {
		util.WarnLog("Coverage below %.0f%%: metadata tiers will carry more of the matching",
			snapshot.Threshold*100)
	}

	util.InfoLog("")
	util.InfoLog("Next step: mld match")
	return nil
}

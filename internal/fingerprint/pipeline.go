package fingerprint

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/report"
	"github.com/franz/library-dedup/internal/store"
	"github.com/franz/library-dedup/internal/util"
)

// Pipeline fingerprints every filesystem item still lacking one. An
// embedded fingerprint from an earlier run is reused instead of paying
// for a recompute; freshly computed prints are optionally written back
// into the file.
type Pipeline struct {
	store       *store.Store
	codec       *Codec
	logger      *report.EventLogger
	concurrency int
	embed       bool
}

// PipelineConfig holds pipeline configuration
type PipelineConfig struct {
	Store       *store.Store
	Codec       *Codec
	Logger      *report.EventLogger
	Concurrency int

	// Embed writes computed fingerprints back into the files as a
	// private tag, making future rescans cheap.
	Embed bool
}

// NewPipeline creates a fingerprinting pipeline
func NewPipeline(cfg *PipelineConfig) *Pipeline {
	codec := cfg.Codec
	if codec == nil {
		codec = NewCodec(nil)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pipeline{
		store:       cfg.Store,
		codec:       codec,
		logger:      cfg.Logger,
		concurrency: concurrency,
		embed:       cfg.Embed,
	}
}

// PipelineResult counts fingerprinting outcomes. Skipped covers
// unsupported formats only; failures are counted separately.
type PipelineResult struct {
	Candidates int
	Computed   int
	Extracted  int
	Embedded   int
	Skipped    int
	Failed     int
}

// Run fingerprints all candidates with a bounded worker pool. Per-file
// failures are recorded on the item and never abort the batch.
func (p *Pipeline) Run(ctx context.Context) (*PipelineResult, error) {
	candidates, err := p.store.GetFingerprintCandidates()
	if err != nil {
		return nil, err
	}

	result := &PipelineResult{Candidates: len(candidates)}
	if len(candidates) == 0 {
		util.InfoLog("No items need fingerprinting")
		return result, nil
	}
	util.InfoLog("Fingerprinting %d items with %d workers", len(candidates), p.concurrency)

	var computed, extracted, embedded, skipped, failed atomic.Int64

	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(len(candidates),
			progressbar.OptionSetDescription("Fingerprinting"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	work := make(chan *catalog.Item)
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range work {
				if ctx.Err() != nil {
					return
				}
				switch outcome := p.processItem(ctx, it); outcome {
				case outcomeComputed:
					computed.Add(1)
				case outcomeComputedAndEmbedded:
					computed.Add(1)
					embedded.Add(1)
				case outcomeExtracted:
					extracted.Add(1)
				case outcomeSkipped:
					skipped.Add(1)
				case outcomeFailed:
					failed.Add(1)
				}
				if bar != nil {
					bar.Add(1)
				}
			}
		}()
	}

	for _, it := range candidates {
		select {
		case work <- it:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()

	if bar != nil {
		bar.Finish()
	}

	result.Computed = int(computed.Load())
	result.Extracted = int(extracted.Load())
	result.Embedded = int(embedded.Load())
	result.Skipped = int(skipped.Load())
	result.Failed = int(failed.Load())

	util.SuccessLog("Fingerprinting complete: %d computed, %d reused, %d skipped, %d failed",
		result.Computed, result.Extracted, result.Skipped, result.Failed)
	return result, ctx.Err()
}

type itemOutcome int

const (
	outcomeComputed itemOutcome = iota
	outcomeComputedAndEmbedded
	outcomeExtracted
	outcomeSkipped
	outcomeFailed
)

func (p *Pipeline) processItem(ctx context.Context, it *catalog.Item) itemOutcome {
	// An embedded print from an earlier run beats recomputing
	if existing, err := p.codec.ExtractFingerprint(ctx, it.ResolvedPath); err == nil && existing.Value != "" {
		if err := p.record(it, existing); err != nil {
			return outcomeFailed
		}
		p.logger.LogFingerprint(it, existing.Kind, false, nil)
		return outcomeExtracted
	}

	result, err := p.codec.Compute(ctx, it.ResolvedPath)
	if err != nil {
		util.WarnLog("Fingerprint failed for %s: %v", it.ResolvedPath, err)
		p.store.UpdateItemStatus(it.ID, catalog.StatusError, err.Error())
		p.logger.LogFingerprint(it, "", false, err)
		return outcomeFailed
	}
	if result.Skipped {
		p.store.UpdateItemStatus(it.ID, catalog.StatusSkipped, "")
		p.logger.LogFingerprint(it, "", true, nil)
		return outcomeSkipped
	}

	if err := p.record(it, result); err != nil {
		return outcomeFailed
	}
	p.logger.LogFingerprint(it, result.Kind, false, nil)

	if !p.embed {
		return outcomeComputed
	}
	if err := p.codec.EmbedFingerprint(ctx, it.ResolvedPath, result); err != nil {
		// The print is recorded either way, embedding is an optimization
		util.WarnLog("Could not embed fingerprint into %s: %v", it.ResolvedPath, err)
		p.logger.LogEmbed(it.ResolvedPath, err)
		return outcomeComputed
	}
	p.logger.LogEmbed(it.ResolvedPath, nil)
	return outcomeComputedAndEmbedded
}

func (p *Pipeline) record(it *catalog.Item, result Result) error {
	combined := GroupKey(result.Kind, result.Value)
	if err := p.store.UpdateItemFingerprint(it.ID, combined, result.Kind); err != nil {
		util.ErrorLog("Failed to record fingerprint for %s: %v", it.Identity, err)
		return err
	}
	it.Fingerprint = combined
	it.FingerprintKind = result.Kind
	return nil
}

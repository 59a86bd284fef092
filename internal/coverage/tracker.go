package coverage

import (
	"fmt"

	"github.com/franz/library-dedup/internal/store"
	"github.com/franz/library-dedup/internal/util"
)

// DefaultThreshold is the fingerprint coverage below which fuzzy matches
// carry real risk: with few fingerprints, metadata similarity is the only
// signal and false positives go undetected.
const DefaultThreshold = 0.8

// Snapshot is the fingerprint coverage of the active catalog at one
// point in time.
type Snapshot struct {
	ActiveItems        int
	FingerprintedItems int
	Threshold          float64
}

// Fraction returns the covered fraction, 0 for an empty catalog
func (s Snapshot) Fraction() float64 {
	if s.ActiveItems == 0 {
		return 0
	}
	return float64(s.FingerprintedItems) / float64(s.ActiveItems)
}

// Sufficient reports whether coverage meets the configured threshold
func (s Snapshot) Sufficient() bool {
	return s.Fraction() >= s.Threshold
}

// Tracker measures how much of the catalog carries fingerprints
type Tracker struct {
	store     *store.Store
	threshold float64
}

// Config holds tracker configuration
type Config struct {
	Store     *store.Store
	Threshold float64
}

// New creates a coverage tracker
func New(cfg *Config) *Tracker {
	threshold := cfg.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Tracker{store: cfg.Store, threshold: threshold}
}

// Measure reads current coverage from the state database
func (t *Tracker) Measure() (Snapshot, error) {
	active, err := t.store.CountItems()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to count active items: %w", err)
	}
	fingerprinted, err := t.store.CountFingerprintedItems()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to count fingerprinted items: %w", err)
	}

	snapshot := Snapshot{
		ActiveItems:        active,
		FingerprintedItems: fingerprinted,
		Threshold:          t.threshold,
	}

	if !snapshot.Sufficient() {
		util.WarnLog("Fingerprint coverage is %.1f%% (%d of %d items), below the %.0f%% threshold; fuzzy matches will dominate",
			snapshot.Fraction()*100, fingerprinted, active, t.threshold*100)
	} else {
		util.DebugLog("Fingerprint coverage: %.1f%% (%d of %d items)",
			snapshot.Fraction()*100, fingerprinted, active)
	}

	return snapshot, nil
}

package match

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/store"
)

func openTestStore(t *testing.T, name string) *store.Store {
	t.Helper()
	t.Cleanup(func() {
		os.Remove(name)
		os.Remove(name + "-shm")
		os.Remove(name + "-wal")
	})

	db, err := store.Open(name)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertItem(t *testing.T, db *store.Store, it *catalog.Item) *catalog.Item {
	t.Helper()
	if it.Status == "" {
		it.Status = catalog.StatusDiscovered
	}
	if err := db.UpsertItem(it); err != nil {
		t.Fatalf("failed to insert item: %v", err)
	}
	return it
}

func runEngine(t *testing.T, db *store.Store) (*Result, []*catalog.DuplicateGroup) {
	t.Helper()
	engine := New(&Config{Store: db})
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	groups, err := db.GetDuplicateGroups("", 0)
	if err != nil {
		t.Fatalf("failed to load groups: %v", err)
	}
	return result, groups
}

func TestExactFingerprintAcrossStores(t *testing.T) {
	db := openTestStore(t, "test-match-exact.db")

	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/a.wav",
		Fingerprint: "chromaprint:AQAA1", FingerprintKind: "chromaprint",
		Format: catalog.FormatWAV, Title: "Track A", Artist: "Artist",
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreMetadata, Identity: "r1",
		Fingerprint: "chromaprint:AQAA1", FingerprintKind: "chromaprint",
		Title: "Track A", Artist: "Artist",
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/other.mp3",
		Fingerprint: "chromaprint:AQAA2", FingerprintKind: "chromaprint",
		Format: catalog.FormatMP3, Title: "Unrelated", Artist: "Someone Else",
	})

	result, groups := runEngine(t, db)

	if result.ExactGroups != 1 {
		t.Errorf("expected 1 exact group, got %d", result.ExactGroups)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(groups))
	}
	g := groups[0]
	if g.Tier != catalog.TierExactFingerprint {
		t.Errorf("expected exact tier, got %s", g.Tier)
	}
	if g.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %f", g.Confidence)
	}
	if len(g.Members) != 2 {
		t.Errorf("expected 2 members, got %d", len(g.Members))
	}
}

func TestEnvelopeHammingMerge(t *testing.T) {
	db := openTestStore(t, "test-match-envelope.db")

	// Hashes differ in 4 bits, inside the default limit of 8
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/a.wav",
		Fingerprint: "envelope:00000000000000ff", FingerprintKind: "envelope",
		Format: catalog.FormatWAV,
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/a-transcode.mp3",
		Fingerprint: "envelope:00000000000000f0", FingerprintKind: "envelope",
		Format: catalog.FormatMP3,
	})
	// 40 bits away: a different track
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/b.mp3",
		Fingerprint: "envelope:00ffffffffff0000", FingerprintKind: "envelope",
		Format: catalog.FormatMP3,
	})

	result, groups := runEngine(t, db)

	if result.ExactGroups != 1 {
		t.Errorf("expected 1 exact group, got %d", result.ExactGroups)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(groups))
	}
	g := groups[0]
	if g.Tier != catalog.TierExactFingerprint {
		t.Errorf("expected exact tier, got %s", g.Tier)
	}
	want := 1.0 - 4.0/64.0
	if g.Confidence != want {
		t.Errorf("expected confidence %f, got %f", want, g.Confidence)
	}
}

func TestFuzzyMetadataTier(t *testing.T) {
	db := openTestStore(t, "test-match-fuzzy.db")

	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/night.mp3",
		Format: catalog.FormatMP3, Title: "Night Drive (Extended Mix)", Artist: "Neon Artist",
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreLibraryManager, Identity: "101",
		Title: "Night Drive", Artist: "Neon Artist",
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreLibraryManager, Identity: "102",
		Title: "Different Song Entirely", Artist: "Neon Artist",
	})

	result, groups := runEngine(t, db)

	if result.FuzzyGroups != 1 {
		t.Errorf("expected 1 fuzzy group, got %d", result.FuzzyGroups)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(groups))
	}
	g := groups[0]
	if g.Tier != catalog.TierFuzzyMetadata {
		t.Errorf("expected fuzzy tier, got %s", g.Tier)
	}
	if g.Confidence < DefaultFuzzyThreshold {
		t.Errorf("fuzzy confidence %f below threshold", g.Confidence)
	}
	if g.Conflicting {
		t.Error("no fingerprints present, group must not be conflicting")
	}
}

func TestFuzzyConflictFlagged(t *testing.T) {
	db := openTestStore(t, "test-match-conflict.db")

	// Metadata says same track, fingerprints disagree
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/one.mp3",
		Fingerprint: "chromaprint:AAA", FingerprintKind: "chromaprint",
		Format: catalog.FormatMP3, Title: "Same Song", Artist: "Artist",
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/two.mp3",
		Fingerprint: "chromaprint:BBB", FingerprintKind: "chromaprint",
		Format: catalog.FormatMP3, Title: "Same Song", Artist: "Artist",
	})

	result, groups := runEngine(t, db)

	if result.ConflictingGroups != 1 {
		t.Errorf("expected 1 conflicting group, got %d", result.ConflictingGroups)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(groups))
	}
	if !groups[0].Conflicting {
		t.Error("expected group to be flagged conflicting")
	}
	if groups[0].Tier != catalog.TierFuzzyMetadata {
		t.Errorf("expected fuzzy tier, got %s", groups[0].Tier)
	}
}

func TestNgramTierCatchesUntaggedFiles(t *testing.T) {
	db := openTestStore(t, "test-match-ngram.db")

	// No tags at all; only the file names carry signal
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/artist_-_midnight_city.mp3",
		ResolvedPath: "/music/artist_-_midnight_city.mp3", Format: catalog.FormatMP3,
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/downloads/artist - midnight city.flac",
		ResolvedPath: "/downloads/artist - midnight city.flac", Format: catalog.FormatFLAC,
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/totally_other_track.mp3",
		ResolvedPath: "/music/totally_other_track.mp3", Format: catalog.FormatMP3,
	})

	result, groups := runEngine(t, db)

	if result.NgramGroups != 1 {
		t.Errorf("expected 1 ngram group, got %d", result.NgramGroups)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(groups))
	}
	g := groups[0]
	if g.Tier != catalog.TierNgramToken {
		t.Errorf("expected ngram tier, got %s", g.Tier)
	}
	if g.Confidence >= DefaultFuzzyThreshold {
		t.Errorf("ngram confidence %f must stay below the fuzzy threshold", g.Confidence)
	}
}

func TestCascadeFirstTierWins(t *testing.T) {
	db := openTestStore(t, "test-match-cascade.db")

	// Same fingerprint and same metadata: the exact tier must claim the
	// pair before the fuzzy tier sees it
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/a.wav",
		Fingerprint: "chromaprint:SAME", FingerprintKind: "chromaprint",
		Format: catalog.FormatWAV, Title: "Track", Artist: "Artist",
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/a.mp3",
		Fingerprint: "chromaprint:SAME", FingerprintKind: "chromaprint",
		Format: catalog.FormatMP3, Title: "Track", Artist: "Artist",
	})

	result, groups := runEngine(t, db)

	if result.ExactGroups != 1 || result.FuzzyGroups != 0 {
		t.Errorf("expected exact tier to claim the pair, got exact=%d fuzzy=%d",
			result.ExactGroups, result.FuzzyGroups)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].Tier != catalog.TierExactFingerprint {
		t.Errorf("expected exact tier, got %s", groups[0].Tier)
	}
}

func TestLowCoverageCatalogStillMatches(t *testing.T) {
	db := openTestStore(t, "test-match-coverage.db")

	// Only 2 of 10 items carry fingerprints (20% coverage). The exact
	// tier pairs those two; everything else must still be reachable by
	// the metadata tiers.
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/fp1.wav",
		Fingerprint: "chromaprint:X", FingerprintKind: "chromaprint",
		Format: catalog.FormatWAV, Title: "Printed Track", Artist: "Artist A",
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/fp2.mp3",
		Fingerprint: "chromaprint:X", FingerprintKind: "chromaprint",
		Format: catalog.FormatMP3, Title: "Printed Track", Artist: "Artist A",
	})

	for i := 0; i < 4; i++ {
		insertItem(t, db, &catalog.Item{
			Store: catalog.StoreFilesystem, Identity: fmt.Sprintf("/music/untagged%d.mp3", i),
			Format: catalog.FormatMP3,
			Title:  fmt.Sprintf("Song Number %d", i), Artist: "Artist B",
		})
		insertItem(t, db, &catalog.Item{
			Store: catalog.StoreLibraryManager, Identity: fmt.Sprintf("%d", 200+i),
			Title: fmt.Sprintf("Song Number %d", i), Artist: "Artist B",
		})
	}

	result, groups := runEngine(t, db)

	if result.ExactGroups != 1 {
		t.Errorf("expected 1 exact group, got %d", result.ExactGroups)
	}
	if result.FuzzyGroups != 4 {
		t.Errorf("expected 4 fuzzy groups for the unfingerprinted pairs, got %d", result.FuzzyGroups)
	}
	if result.ItemsGrouped != 10 {
		t.Errorf("expected all 10 items grouped, got %d", result.ItemsGrouped)
	}
	if len(groups) != 5 {
		t.Errorf("expected 5 duplicate groups, got %d", len(groups))
	}
}

func TestZeroConfigAppliesDefaults(t *testing.T) {
	db := openTestStore(t, "test-match-defaults.db")
	e := New(&Config{Store: db})

	if e.fuzzyThreshold != DefaultFuzzyThreshold {
		t.Errorf("expected fuzzy threshold %f, got %f", DefaultFuzzyThreshold, e.fuzzyThreshold)
	}
	if e.ngramSize != DefaultNgramSize {
		t.Errorf("expected ngram size %d, got %d", DefaultNgramSize, e.ngramSize)
	}
	if e.ngramThreshold != DefaultNgramThreshold {
		t.Errorf("expected ngram threshold %f, got %f", DefaultNgramThreshold, e.ngramThreshold)
	}
	// Zero means default, not envelope merging switched off
	if e.hammingMax != DefaultHammingMax {
		t.Errorf("expected hamming max %d, got %d", DefaultHammingMax, e.hammingMax)
	}
}

func TestFuzzyMatchesAcrossArtistArticleVariants(t *testing.T) {
	db := openTestStore(t, "test-match-article.db")

	// Article and suffix spellings of the same artist must land in one
	// block so their titles are actually compared
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/yesterday.mp3",
		Format: catalog.FormatMP3, Title: "Yesterday", Artist: "Beatles",
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreLibraryManager, Identity: "301",
		Title: "Yesterday", Artist: "The Beatles, The",
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreLibraryManager, Identity: "302",
		Title: "Yesterday", Artist: "The Byrds",
	})

	result, groups := runEngine(t, db)

	if result.FuzzyGroups != 1 {
		t.Fatalf("expected 1 fuzzy group, got %d", result.FuzzyGroups)
	}
	if len(groups) != 1 || len(groups[0].Members) != 2 {
		t.Fatalf("expected one 2-member group, got %+v", groups)
	}
	for _, m := range groups[0].Members {
		if m.Artist == "The Byrds" {
			t.Error("a different artist must not ride along on the shared title")
		}
	}
}

func TestNgramKeyKeepsRuneBoundaries(t *testing.T) {
	db := openTestStore(t, "test-match-runes.db")

	// A long accented file name pushes the group key past the truncation
	// point with a multi-byte rune straddling it
	name := "x" + strings.Repeat("é", 70)
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/" + name + ".mp3",
		ResolvedPath: "/music/" + name + ".mp3", Format: catalog.FormatMP3,
	})
	insertItem(t, db, &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/downloads/" + name + ".flac",
		ResolvedPath: "/downloads/" + name + ".flac", Format: catalog.FormatFLAC,
	})

	result, groups := runEngine(t, db)

	if result.NgramGroups != 1 {
		t.Fatalf("expected 1 ngram group, got %d", result.NgramGroups)
	}
	key := groups[0].Key
	if !utf8.ValidString(key) {
		t.Errorf("group key %q is not valid UTF-8", key)
	}
	if got := utf8.RuneCountInString(strings.TrimPrefix(key, "ngram:")); got > 60 {
		t.Errorf("expected the key capped at 60 runes, got %d", got)
	}
}

package resolve

import (
	"strings"
	"testing"

	"github.com/franz/library-dedup/internal/catalog"
)

func makeGroup(key string, members ...*catalog.Item) *catalog.DuplicateGroup {
	return &catalog.DuplicateGroup{
		Key:        key,
		Tier:       catalog.TierExactFingerprint,
		Confidence: 1.0,
		Members:    members,
	}
}

func TestDecideFormatBeatsCompleteness(t *testing.T) {
	wav := &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/track.wav",
		Format: catalog.FormatWAV, Title: "Track",
	}
	mp3 := &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/track.mp3",
		Format: catalog.FormatMP3,
		Title:  "Track", Artist: "Artist", Album: "Album", BPM: "128", Key: "8A",
	}

	policy := &Policy{}
	plan, err := policy.Decide(makeGroup("g1", mp3, wav))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if plan.Keep != wav {
		t.Errorf("expected the WAV keeper, got %s", plan.Keep.Identity)
	}
	if len(plan.Archive) != 1 || plan.Archive[0] != mp3 {
		t.Errorf("expected the MP3 archived")
	}
	if !strings.Contains(plan.Reason, "format") {
		t.Errorf("expected a format reason, got %q", plan.Reason)
	}
}

func TestDecidePreferCompletenessFlipsKeeper(t *testing.T) {
	wav := &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/track.wav",
		Format: catalog.FormatWAV, Title: "Track",
	}
	mp3 := &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/track.mp3",
		Format: catalog.FormatMP3,
		Title:  "Track", Artist: "Artist", Album: "Album", BPM: "128", Key: "8A",
	}

	policy := &Policy{PreferCompleteness: true}
	plan, err := policy.Decide(makeGroup("g1", mp3, wav))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if plan.Keep != mp3 {
		t.Errorf("expected the fully-tagged MP3 keeper, got %s", plan.Keep.Identity)
	}
	if !strings.Contains(plan.Reason, "metadata") {
		t.Errorf("expected a completeness reason, got %q", plan.Reason)
	}
}

func TestDecideSizeThenMtimeTieBreaks(t *testing.T) {
	big := &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/b.mp3",
		Format: catalog.FormatMP3, Title: "Track", SizeBytes: 9_000_000, MtimeUnix: 200,
	}
	small := &catalog.Item{
		Store: catalog.StoreFilesystem, Identity: "/music/a.mp3",
		Format: catalog.FormatMP3, Title: "Track", SizeBytes: 4_000_000, MtimeUnix: 100,
	}

	policy := &Policy{}
	plan, err := policy.Decide(makeGroup("g1", small, big))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if plan.Keep != big {
		t.Errorf("expected the larger file kept, got %s", plan.Keep.Identity)
	}

	// Equal sizes fall through to the earliest mtime
	big.SizeBytes = small.SizeBytes
	plan, err = policy.Decide(makeGroup("g1", small, big))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if plan.Keep != small {
		t.Errorf("expected the earliest copy kept, got %s", plan.Keep.Identity)
	}
	if plan.Reason != "earliest copy in the library" {
		t.Errorf("unexpected reason %q", plan.Reason)
	}
}

func TestDecideDeterministic(t *testing.T) {
	a := &catalog.Item{Store: catalog.StoreFilesystem, Identity: "/music/a.mp3", Format: catalog.FormatMP3}
	b := &catalog.Item{Store: catalog.StoreFilesystem, Identity: "/music/b.mp3", Format: catalog.FormatMP3}
	c := &catalog.Item{Store: catalog.StoreFilesystem, Identity: "/music/c.mp3", Format: catalog.FormatMP3}

	policy := &Policy{}
	first, err := policy.Decide(makeGroup("g1", c, a, b))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	second, err := policy.Decide(makeGroup("g1", b, c, a))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if first.Keep.Identity != second.Keep.Identity {
		t.Errorf("member order changed the keeper: %s vs %s",
			first.Keep.Identity, second.Keep.Identity)
	}
	if first.Keep != a {
		t.Errorf("expected identity tie-break to pick a.mp3, got %s", first.Keep.Identity)
	}
}

func TestDecideRefusesConflictingGroup(t *testing.T) {
	g := makeGroup("g1",
		&catalog.Item{Identity: "x", Fingerprint: "chromaprint:AAA"},
		&catalog.Item{Identity: "y", Fingerprint: "chromaprint:BBB"},
	)
	g.Conflicting = true

	policy := &Policy{}
	if _, err := policy.Decide(g); err == nil {
		t.Error("expected an error for a conflicting group")
	}
}

func TestDecideRefusesSingleton(t *testing.T) {
	g := makeGroup("g1", &catalog.Item{Identity: "x"})
	policy := &Policy{}
	if _, err := policy.Decide(g); err == nil {
		t.Error("expected an error for a singleton group")
	}
}

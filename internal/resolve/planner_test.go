package resolve

import (
	"context"
	"os"
	"testing"

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

func seedGroup(t *testing.T, db *store.Store, key string, conflicting bool, items ...*catalog.Item) {
	t.Helper()
	for _, it := range items {
		it.Status = catalog.StatusDiscovered
		if err := db.UpsertItem(it); err != nil {
			t.Fatalf("failed to upsert item: %v", err)
		}
	}
	g := &catalog.DuplicateGroup{
		Key:         key,
		Tier:        catalog.TierExactFingerprint,
		Confidence:  1.0,
		Conflicting: conflicting,
		Members:     items,
	}
	if err := db.InsertGroup(g); err != nil {
		t.Fatalf("failed to insert group: %v", err)
	}
}

func TestPlannerRun(t *testing.T) {
	db := openTestStore(t, "test-planner.db")

	seedGroup(t, db, "fp:aaa", false,
		&catalog.Item{
			Store: catalog.StoreFilesystem, Identity: "/music/keep.wav",
			Format: catalog.FormatWAV, SizeBytes: 50_000_000,
		},
		&catalog.Item{
			Store: catalog.StoreFilesystem, Identity: "/music/drop.mp3",
			Format: catalog.FormatMP3, SizeBytes: 9_000_000,
		},
	)
	seedGroup(t, db, "fp:bbb", true,
		&catalog.Item{
			Store: catalog.StoreFilesystem, Identity: "/music/x.mp3",
			Format: catalog.FormatMP3, Fingerprint: "chromaprint:AAA",
		},
		&catalog.Item{
			Store: catalog.StoreFilesystem, Identity: "/music/y.mp3",
			Format: catalog.FormatMP3, Fingerprint: "chromaprint:BBB",
		},
	)

	planner := New(&Config{Store: db})
	result, err := planner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.GroupsPlanned != 1 {
		t.Errorf("expected 1 group planned, got %d", result.GroupsPlanned)
	}
	if result.ConflictsSkipped != 1 {
		t.Errorf("expected 1 conflict skipped, got %d", result.ConflictsSkipped)
	}
	if result.ItemsToArchive != 1 {
		t.Errorf("expected 1 item to archive, got %d", result.ItemsToArchive)
	}
	if result.BytesToFree != 9_000_000 {
		t.Errorf("expected 9MB to free, got %d", result.BytesToFree)
	}

	plan, err := db.GetPlan("fp:aaa")
	if err != nil {
		t.Fatalf("failed to load plan: %v", err)
	}
	if plan == nil || plan.Keep == nil {
		t.Fatal("expected a persisted plan with a keeper")
	}
	if plan.Keep.Identity != "/music/keep.wav" {
		t.Errorf("expected the WAV kept, got %s", plan.Keep.Identity)
	}

	conflictPlan, err := db.GetPlan("fp:bbb")
	if err != nil {
		t.Fatalf("failed to load conflict plan: %v", err)
	}
	if conflictPlan != nil {
		t.Error("conflicting group must not receive a plan")
	}
}

func TestPlannerRerunReplacesPlans(t *testing.T) {
	db := openTestStore(t, "test-planner-rerun.db")

	seedGroup(t, db, "fp:aaa", false,
		&catalog.Item{
			Store: catalog.StoreFilesystem, Identity: "/music/a.flac",
			Format: catalog.FormatFLAC,
		},
		&catalog.Item{
			Store: catalog.StoreFilesystem, Identity: "/music/a.mp3",
			Format: catalog.FormatMP3,
		},
	)

	planner := New(&Config{Store: db})
	if _, err := planner.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := planner.Run(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	keep, archive, err := db.CountPlans()
	if err != nil {
		t.Fatalf("failed to count plans: %v", err)
	}
	if keep != 1 || archive != 1 {
		t.Errorf("expected 1 keep / 1 archive after rerun, got %d / %d", keep, archive)
	}
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

func newTestSnapshot(id string, gen int64, ts time.Time, checksum string) domain.Snapshot {
	return domain.Snapshot{
		ID:          id,
		Timestamp:   ts,
		Label:       "label " + id,
		DNAChecksum: checksum,
		DNAData:     `{"generation":1}`,
		Metadata:    domain.SnapshotMetadata{Generation: gen, FitnessScore: 1.5, Version: "1.0.0"},
	}
}

func TestSnapshotRepo_SaveAndGet(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &SnapshotRepo{}
	now := time.Now().UTC()

	if err := repo.Save(ctx, db, "inst-1", newTestSnapshot("snap_1", 3, now, "abc")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Get(ctx, db, "inst-1", "snap_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if got.DNAChecksum != "abc" {
		t.Errorf("Checksum = %q, want %q", got.DNAChecksum, "abc")
	}
	if got.Metadata.Generation != 3 {
		t.Errorf("Generation = %d, want 3", got.Metadata.Generation)
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, now)
	}
}

func TestSnapshotRepo_Get_NoMatch(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	repo := &SnapshotRepo{}
	got, err := repo.Get(context.Background(), db, "inst-1", "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for no match, got %+v", got)
	}
}

func TestSnapshotRepo_ListMostRecentFirst(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &SnapshotRepo{}
	base := time.Now().UTC()

	for i, id := range []string{"snap_a", "snap_b", "snap_c"} {
		if err := repo.Save(ctx, db, "inst-1", newTestSnapshot(id, int64(i+1), base.Add(time.Duration(i)*time.Second), id)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	// Another instance must not leak into the listing.
	if err := repo.Save(ctx, db, "inst-2", newTestSnapshot("snap_other", 1, base.Add(time.Hour), "x")); err != nil {
		t.Fatalf("Save other: %v", err)
	}

	all, err := repo.List(ctx, db, "inst-1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List len = %d, want 3", len(all))
	}
	if all[0].ID != "snap_c" || all[2].ID != "snap_a" {
		t.Errorf("order = %s,%s,%s, want snap_c first and snap_a last", all[0].ID, all[1].ID, all[2].ID)
	}

	limited, err := repo.List(ctx, db, "inst-1", 2)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "snap_c" {
		t.Errorf("limited = %+v, want [snap_c snap_b]", limited)
	}

	n, err := repo.Count(ctx, db, "inst-1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestSnapshotRepo_LatestForGenerationAndDelete(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &SnapshotRepo{}
	base := time.Now().UTC()

	repo.Save(ctx, db, "inst-1", newTestSnapshot("snap_old", 2, base, "old"))
	repo.Save(ctx, db, "inst-1", newTestSnapshot("snap_new", 2, base.Add(time.Second), "new"))
	repo.Save(ctx, db, "inst-1", newTestSnapshot("snap_g3", 3, base.Add(2*time.Second), "g3"))

	got, err := repo.GetLatestForGeneration(ctx, db, "inst-1", 2)
	if err != nil {
		t.Fatalf("GetLatestForGeneration: %v", err)
	}
	if got == nil || got.ID != "snap_new" {
		t.Fatalf("GetLatestForGeneration = %+v, want snap_new", got)
	}

	if err := repo.Delete(ctx, db, "inst-1", "snap_new"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ = repo.GetLatestForGeneration(ctx, db, "inst-1", 2)
	if got == nil || got.ID != "snap_old" {
		t.Errorf("after delete = %+v, want snap_old", got)
	}

	none, err := repo.GetLatestForGeneration(ctx, db, "inst-1", 99)
	if err != nil {
		t.Fatalf("GetLatestForGeneration missing: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for missing generation, got %+v", none)
	}
}

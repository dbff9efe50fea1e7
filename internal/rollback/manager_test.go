package rollback

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/mutation-governor/internal/dna"
	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/store"
)

func newMemoryManagers(t *testing.T, max int) (*Manager, *dna.Manager) {
	t.Helper()
	return NewManager(store.NewMemorySnapshotStore(), max, nil), dna.NewManager(store.NewMemoryStateStore(), nil)
}

func bumpGeneration(t *testing.T, d *dna.Manager, trait string) {
	t.Helper()
	_, err := d.Update(context.Background(), func(x *domain.SystemDNA) error {
		x.Generation++
		x.CoreTraits[trait] = true
		x.Mutations = append(x.Mutations, domain.MutationRecord{ID: trait, Generation: x.Generation})
		return nil
	})
	require.NoError(t, err)
}

func TestCreateSnapshot_DefaultLabelAndChecksum(t *testing.T) {
	rb, dm := newMemoryManagers(t, 5)
	ctx := context.Background()

	cur, err := dm.Get(ctx)
	require.NoError(t, err)
	snap, err := rb.CreateSnapshot(ctx, cur, "")
	require.NoError(t, err)

	assert.Equal(t, "Snapshot at generation 1", snap.Label)
	assert.Regexp(t, `^snap_\d+$`, snap.ID)
	assert.Equal(t, int64(1), snap.Metadata.Generation)

	sum, err := domain.Checksum(cur)
	require.NoError(t, err)
	assert.Equal(t, sum, snap.DNAChecksum)

	named, err := rb.CreateSnapshot(ctx, cur, "before upgrade")
	require.NoError(t, err)
	assert.Equal(t, "before upgrade", named.Label)
	assert.NotEqual(t, snap.ID, named.ID)
}

func TestCreateSnapshot_IDsStrictlyIncrease(t *testing.T) {
	rb, dm := newMemoryManagers(t, 100)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rb.now = func() time.Time { return fixed }
	ctx := context.Background()
	cur, _ := dm.Get(ctx)

	var prev time.Time
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		snap, err := rb.CreateSnapshot(ctx, cur, "")
		require.NoError(t, err)
		assert.False(t, seen[snap.ID], "duplicate id %s", snap.ID)
		seen[snap.ID] = true
		assert.True(t, snap.Timestamp.After(prev))
		prev = snap.Timestamp
	}
}

func TestRollback_RoundTrip(t *testing.T) {
	rb, dm := newMemoryManagers(t, 5)
	ctx := context.Background()

	bumpGeneration(t, dm, "kept")
	snap, err := rb.Checkpoint(ctx, dm, "known good")
	require.NoError(t, err)

	bumpGeneration(t, dm, "discarded")
	bumpGeneration(t, dm, "also_discarded")

	res := rb.Rollback(ctx, dm, snap.ID)
	require.True(t, res.Success, res.Error)
	assert.True(t, res.VerificationPassed)
	assert.Equal(t, snap.ID, res.SnapshotID)
	assert.Equal(t, int64(2), res.RestoredGeneration)

	cur, err := dm.Get(ctx)
	require.NoError(t, err)
	assert.True(t, rb.VerifyRollback(cur, snap))
	assert.Equal(t, true, cur.CoreTraits["kept"])
	assert.NotContains(t, cur.CoreTraits, "discarded")
	assert.NotContains(t, cur.CoreTraits, "also_discarded")
	assert.Len(t, cur.Mutations, 1)
}

func TestRollback_RestoredChecksumMatchesSnapshot(t *testing.T) {
	rb, dm := newMemoryManagers(t, 5)
	ctx := context.Background()

	bumpGeneration(t, dm, "a")
	cur, _ := dm.Get(ctx)
	snap, err := rb.CreateSnapshot(ctx, cur, "")
	require.NoError(t, err)
	bumpGeneration(t, dm, "b")

	res := rb.Rollback(ctx, dm, snap.ID)
	require.True(t, res.Success)

	restored, _ := dm.Get(ctx)
	sum, err := domain.Checksum(restored)
	require.NoError(t, err)
	assert.Equal(t, snap.DNAChecksum, sum)
}

func TestRollback_NotFound(t *testing.T) {
	rb, dm := newMemoryManagers(t, 5)

	res := rb.Rollback(context.Background(), dm, "snap_404")
	assert.False(t, res.Success)
	assert.Equal(t, "Snapshot not found", res.Error)
	assert.Equal(t, int64(0), res.RestoredGeneration)
	assert.Equal(t, "snap_404", res.SnapshotID)
}

func TestRollbackToGeneration(t *testing.T) {
	rb, dm := newMemoryManagers(t, 10)
	ctx := context.Background()

	bumpGeneration(t, dm, "g2")
	cur, _ := dm.Get(ctx)
	_, err := rb.CreateSnapshot(ctx, cur, "first at 2")
	require.NoError(t, err)
	cur.Metadata["note"] = "second"
	latest, err := rb.CreateSnapshot(ctx, cur, "second at 2")
	require.NoError(t, err)

	bumpGeneration(t, dm, "g3")

	res := rb.RollbackToGeneration(ctx, dm, 2)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, latest.ID, res.SnapshotID)
	assert.Equal(t, int64(2), res.RestoredGeneration)

	restored, _ := dm.Get(ctx)
	assert.Equal(t, "second", restored.Metadata["note"])

	miss := rb.RollbackToGeneration(ctx, dm, 9)
	assert.False(t, miss.Success)
	assert.Contains(t, miss.Error, "no snapshot recorded for generation 9")
}

func TestRetention_KeepsMostRecent(t *testing.T) {
	const max = 4
	ctx := context.Background()
	cur := domain.NewSystemDNA()

	for k := 0; k <= 3; k++ {
		t.Run(fmt.Sprintf("extra=%d", k), func(t *testing.T) {
			rb := NewManager(store.NewMemorySnapshotStore(), max, nil)
			var created []string
			for i := 0; i < max+k; i++ {
				snap, err := rb.CreateSnapshot(ctx, cur, "")
				require.NoError(t, err)
				created = append(created, snap.ID)
			}
			stored, err := rb.ListSnapshots(ctx, 0)
			require.NoError(t, err)
			require.Len(t, stored, max)

			want := created[len(created)-max:]
			for i, s := range stored {
				assert.Equal(t, want[len(want)-1-i], s.ID)
			}
		})
	}
}

func TestRetention_SkipsPinned(t *testing.T) {
	rb, dm := newMemoryManagers(t, 2)
	ctx := context.Background()
	cur, _ := dm.Get(ctx)

	oldest, err := rb.CreateSnapshot(ctx, cur, "")
	require.NoError(t, err)
	pinned, err := rb.pin(ctx, oldest.ID)
	require.NoError(t, err)
	require.NotNil(t, pinned)

	for i := 0; i < 3; i++ {
		_, err := rb.CreateSnapshot(ctx, cur, "")
		require.NoError(t, err)
	}
	got, err := rb.GetSnapshot(ctx, oldest.ID)
	require.NoError(t, err)
	assert.NotNil(t, got, "pinned snapshot must survive eviction")

	rb.unpin(oldest.ID)
	_, err = rb.CreateSnapshot(ctx, cur, "")
	require.NoError(t, err)
	got, err = rb.GetSnapshot(ctx, oldest.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, _ := rb.ListSnapshots(ctx, 0)
	assert.Len(t, stored, 2)
}

func TestCapture_DefersRetentionUntilCommit(t *testing.T) {
	rb, dm := newMemoryManagers(t, 2)
	ctx := context.Background()
	cur, _ := dm.Get(ctx)

	for i := 0; i < 2; i++ {
		_, err := rb.CreateSnapshot(ctx, cur, "")
		require.NoError(t, err)
	}
	snap, err := rb.Capture(ctx, cur, "")
	require.NoError(t, err)

	stored, _ := rb.ListSnapshots(ctx, 0)
	assert.Len(t, stored, 3)

	rb.Commit(ctx, snap.ID)
	stored, _ = rb.ListSnapshots(ctx, 0)
	require.Len(t, stored, 2)
	assert.Equal(t, snap.ID, stored[0].ID)

	rb.mu.Lock()
	assert.Empty(t, rb.pinned)
	rb.mu.Unlock()
}

func TestDiscard_RemovesCapturedSnapshot(t *testing.T) {
	rb, dm := newMemoryManagers(t, 2)
	ctx := context.Background()
	cur, _ := dm.Get(ctx)

	kept, err := rb.CreateSnapshot(ctx, cur, "")
	require.NoError(t, err)
	_, err = rb.CreateSnapshot(ctx, cur, "")
	require.NoError(t, err)
	before, _ := rb.ListSnapshots(ctx, 0)

	snap, err := rb.Capture(ctx, cur, "")
	require.NoError(t, err)
	rb.Discard(ctx, snap.ID)

	after, _ := rb.ListSnapshots(ctx, 0)
	assert.Equal(t, before, after)
	got, _ := rb.GetSnapshot(ctx, kept.ID)
	assert.NotNil(t, got)

	rb.mu.Lock()
	assert.Empty(t, rb.pinned)
	rb.mu.Unlock()
}

type failingUpdate struct {
	*dna.Manager
}

func (f failingUpdate) Update(ctx context.Context, fn func(d *domain.SystemDNA) error) (*domain.SystemDNA, error) {
	cur, err := f.Manager.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(cur); err != nil {
		return nil, err
	}
	return nil, errors.New("database is locked")
}

func TestCheckpoint_SaveFailureKeepsSnapshotSet(t *testing.T) {
	rb, dm := newMemoryManagers(t, 1)
	ctx := context.Background()

	first, err := rb.Checkpoint(ctx, dm, "operator checkpoint")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := rb.Checkpoint(ctx, failingUpdate{dm}, "")
		require.Error(t, err)
	}

	stored, err := rb.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, first.ID, stored[0].ID)

	cur, _ := dm.Get(ctx)
	assert.Equal(t, []string{first.ID}, cur.SnapshotIDs)
}

func TestGetLatestSnapshot(t *testing.T) {
	rb, dm := newMemoryManagers(t, 5)
	ctx := context.Background()

	none, err := rb.GetLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	cur, _ := dm.Get(ctx)
	_, _ = rb.CreateSnapshot(ctx, cur, "one")
	two, _ := rb.CreateSnapshot(ctx, cur, "two")

	latest, err := rb.GetLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, two.ID, latest.ID)

	limited, err := rb.ListSnapshots(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// tamperingDNA restores faithfully but hands back altered DNA.
type tamperingDNA struct {
	*dna.Manager
}

func (t tamperingDNA) Restore(ctx context.Context, target *domain.SystemDNA) (*domain.SystemDNA, error) {
	out, err := t.Manager.Restore(ctx, target)
	if err != nil {
		return nil, err
	}
	out.FitnessScore += 1
	return out, nil
}

func TestRollback_VerificationMismatchIsWarning(t *testing.T) {
	rb, dm := newMemoryManagers(t, 5)
	ctx := context.Background()
	cur, _ := dm.Get(ctx)
	snap, err := rb.CreateSnapshot(ctx, cur, "")
	require.NoError(t, err)

	res := rb.Rollback(ctx, tamperingDNA{dm}, snap.ID)
	assert.True(t, res.Success)
	assert.False(t, res.VerificationPassed)
	assert.Empty(t, res.Error)
}

type failingRestore struct {
	*dna.Manager
}

func (f failingRestore) Restore(context.Context, *domain.SystemDNA) (*domain.SystemDNA, error) {
	return nil, errors.New("disk full")
}

func TestRollback_RestoreFailure(t *testing.T) {
	rb, dm := newMemoryManagers(t, 5)
	ctx := context.Background()
	cur, _ := dm.Get(ctx)
	snap, _ := rb.CreateSnapshot(ctx, cur, "")

	res := rb.Rollback(ctx, failingRestore{dm}, snap.ID)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disk full")
	assert.Equal(t, int64(0), res.RestoredGeneration)

	rb.mu.Lock()
	assert.Empty(t, rb.pinned)
	rb.mu.Unlock()
}

func TestRollback_SQLiteStores(t *testing.T) {
	db, err := store.NewDB(filepath.Join(t.TempDir(), "rollback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	dm := dna.NewManager(store.NewStateStore(db, "inst"), nil)
	rb := NewManager(store.NewSnapshotStore(db, "inst"), 3, nil)

	bumpGeneration(t, dm, "one")
	snap, err := rb.Checkpoint(ctx, dm, "")
	require.NoError(t, err)
	bumpGeneration(t, dm, "two")

	res := rb.Rollback(ctx, dm, snap.ID)
	require.True(t, res.Success, res.Error)
	assert.True(t, res.VerificationPassed)
	assert.Equal(t, int64(2), res.RestoredGeneration)

	for i := 0; i < 5; i++ {
		_, err := rb.Checkpoint(ctx, dm, "")
		require.NoError(t, err)
	}
	stored, err := rb.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

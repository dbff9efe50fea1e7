// Package rollback keeps checksummed snapshots of DNA and restores them.
package rollback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/logging"
)

// DefaultMaxSnapshots is the retention count used when none is configured.
const DefaultMaxSnapshots = 10

// Store persists snapshots. Get and LatestForGeneration return nil, nil
// when nothing matches. List is most-recent-first; limit <= 0 means all.
type Store interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	Get(ctx context.Context, id string) (*domain.Snapshot, error)
	LatestForGeneration(ctx context.Context, generation int64) (*domain.Snapshot, error)
	List(ctx context.Context, limit int) ([]domain.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// DNAManager is the DNA access a rollback needs.
type DNAManager interface {
	Get(ctx context.Context) (*domain.SystemDNA, error)
	Update(ctx context.Context, fn func(d *domain.SystemDNA) error) (*domain.SystemDNA, error)
	Restore(ctx context.Context, target *domain.SystemDNA) (*domain.SystemDNA, error)
}

// Manager creates, evicts and restores snapshots.
//
// Lock order: a caller holding the DNA lock may call CreateSnapshot, which
// takes mu. Rollback never holds mu while it restores DNA; it pins the
// snapshot instead so eviction leaves it alone.
type Manager struct {
	store        Store
	maxSnapshots int
	logger       *zap.Logger
	now          func() time.Time

	mu     sync.Mutex
	lastID int64
	pinned map[string]int
}

// NewManager creates a rollback manager keeping at most maxSnapshots.
func NewManager(store Store, maxSnapshots int, logger *zap.Logger) *Manager {
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}
	return &Manager{
		store:        store,
		maxSnapshots: maxSnapshots,
		logger:       logging.OrNop(logger).Named("rollback"),
		now:          time.Now,
		pinned:       make(map[string]int),
	}
}

// MaxSnapshots returns the retention count.
func (m *Manager) MaxSnapshots() int { return m.maxSnapshots }

// CreateSnapshot serialises dna, stores it and enforces retention. An empty
// label becomes "Snapshot at generation N".
func (m *Manager) CreateSnapshot(ctx context.Context, dna *domain.SystemDNA, label string) (domain.Snapshot, error) {
	snap, err := m.Capture(ctx, dna, label)
	if err != nil {
		return domain.Snapshot{}, err
	}
	m.Commit(ctx, snap.ID)
	return snap, nil
}

// Capture stores a snapshot of dna without enforcing retention and pins it
// until Commit or Discard. Callers that record the id in a DNA save which may
// still fail use Capture, so a failed save never evicts an older snapshot.
func (m *Manager) Capture(ctx context.Context, dna *domain.SystemDNA, label string) (domain.Snapshot, error) {
	data, err := domain.EncodeDNA(dna)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if label == "" {
		label = fmt.Sprintf("Snapshot at generation %d", dna.Generation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.nextStampLocked()
	snap := domain.Snapshot{
		ID:          fmt.Sprintf("snap_%d", ts.UnixNano()),
		Timestamp:   ts,
		Label:       label,
		DNAChecksum: domain.ChecksumData(data),
		DNAData:     data,
		Metadata: domain.SnapshotMetadata{
			Generation:   dna.Generation,
			FitnessScore: dna.FitnessScore,
			Version:      dna.Version,
		},
	}
	if err := m.store.Save(ctx, snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	m.pinned[snap.ID]++

	m.logger.Info("snapshot created",
		zap.String("snapshot_id", snap.ID),
		zap.Int64("generation", dna.Generation),
		zap.String("label", label))
	return snap, nil
}

// Commit releases a captured snapshot and enforces retention.
func (m *Manager) Commit(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unpinLocked(id)
	if err := m.evictLocked(ctx); err != nil {
		m.logger.Warn("snapshot eviction failed", zap.Error(err))
	}
}

// Discard deletes a captured snapshot whose DNA save failed.
func (m *Manager) Discard(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unpinLocked(id)
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn("orphan snapshot not deleted", zap.String("snapshot_id", id), zap.Error(err))
		return
	}
	m.logger.Debug("orphan snapshot discarded", zap.String("snapshot_id", id))
}

// nextStampLocked returns a capture time whose nanosecond value is strictly
// greater than the previous one, so ids and creation order never collide.
func (m *Manager) nextStampLocked() time.Time {
	n := m.now().UnixNano()
	if n <= m.lastID {
		n = m.lastID + 1
	}
	m.lastID = n
	return time.Unix(0, n).UTC()
}

// evictLocked deletes the oldest snapshots beyond the retention count,
// skipping any pinned by an in-flight rollback.
func (m *Manager) evictLocked(ctx context.Context) error {
	all, err := m.store.List(ctx, 0)
	if err != nil {
		return err
	}
	excess := len(all) - m.maxSnapshots
	for i := len(all) - 1; i >= 0 && excess > 0; i-- {
		id := all[i].ID
		if m.pinned[id] > 0 {
			continue
		}
		if err := m.store.Delete(ctx, id); err != nil {
			return err
		}
		excess--
		m.logger.Debug("snapshot evicted", zap.String("snapshot_id", id))
	}
	return nil
}

// Checkpoint snapshots the live DNA and records the snapshot id in the DNA,
// both under the DNA lock.
func (m *Manager) Checkpoint(ctx context.Context, dna DNAManager, label string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	_, err := dna.Update(ctx, func(d *domain.SystemDNA) error {
		s, err := m.Capture(ctx, d, label)
		if err != nil {
			return err
		}
		snap = s
		d.SnapshotIDs = append(d.SnapshotIDs, s.ID)
		return nil
	})
	if err != nil {
		if snap.ID != "" {
			m.Discard(ctx, snap.ID)
		}
		return domain.Snapshot{}, err
	}
	m.Commit(ctx, snap.ID)
	return snap, nil
}

// GetSnapshot returns a snapshot by id, or nil when absent.
func (m *Manager) GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error) {
	return m.store.Get(ctx, id)
}

// GetLatestSnapshot returns the newest snapshot, or nil when there is none.
func (m *Manager) GetLatestSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	snaps, err := m.store.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// ListSnapshots returns up to limit snapshots, most recent first.
func (m *Manager) ListSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	return m.store.List(ctx, limit)
}

// Rollback restores DNA from snapshotID. Failures are reported in the
// result, never returned as errors. A checksum mismatch after the restore
// sets VerificationPassed=false but keeps the restore.
func (m *Manager) Rollback(ctx context.Context, dna DNAManager, snapshotID string) domain.RollbackResult {
	res := domain.RollbackResult{SnapshotID: snapshotID}

	snap, err := m.pin(ctx, snapshotID)
	if err != nil {
		res.Error = err.Error()
		m.logger.Warn("rollback lookup failed", zap.String("snapshot_id", snapshotID), zap.Error(err))
		return res
	}
	if snap == nil {
		res.Error = domain.ErrSnapshotNotFound.Message
		return res
	}
	defer m.unpin(snapshotID)

	return m.restore(ctx, dna, *snap)
}

// RollbackToGeneration restores the most recent snapshot taken at generation.
func (m *Manager) RollbackToGeneration(ctx context.Context, dna DNAManager, generation int64) domain.RollbackResult {
	m.mu.Lock()
	snap, err := m.store.LatestForGeneration(ctx, generation)
	if err == nil && snap != nil {
		m.pinned[snap.ID]++
	}
	m.mu.Unlock()

	if err != nil {
		return domain.RollbackResult{Error: err.Error()}
	}
	if snap == nil {
		return domain.RollbackResult{
			Error: fmt.Sprintf("%s %d", domain.ErrNoSnapshotForGen.Message, generation),
		}
	}
	defer m.unpin(snap.ID)

	return m.restore(ctx, dna, *snap)
}

func (m *Manager) restore(ctx context.Context, dna DNAManager, snap domain.Snapshot) domain.RollbackResult {
	res := domain.RollbackResult{SnapshotID: snap.ID}

	target, err := domain.DecodeDNA(snap.DNAData)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	restored, err := dna.Restore(ctx, target)
	if err != nil {
		res.Error = domain.WrapEngineError(domain.ErrRecoveryFailed.Code, domain.ErrRecoveryFailed.Message, err).Error()
		m.logger.Error("rollback restore failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		return res
	}

	res.Success = true
	res.RestoredGeneration = restored.Generation
	res.VerificationPassed = m.VerifyRollback(restored, snap)
	if !res.VerificationPassed {
		m.logger.Warn("rollback verification failed",
			zap.String("snapshot_id", snap.ID),
			zap.Int64("generation", restored.Generation))
	} else {
		m.logger.Info("rollback complete",
			zap.String("snapshot_id", snap.ID),
			zap.Int64("generation", restored.Generation))
	}
	return res
}

// VerifyRollback reports whether restored hashes to the snapshot's checksum.
func (m *Manager) VerifyRollback(restored *domain.SystemDNA, snap domain.Snapshot) bool {
	sum, err := domain.Checksum(restored)
	if err != nil {
		return false
	}
	return sum == snap.DNAChecksum
}

func (m *Manager) pin(ctx context.Context, id string) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.store.Get(ctx, id)
	if err != nil || snap == nil {
		return snap, err
	}
	m.pinned[id]++
	return snap, nil
}

func (m *Manager) unpin(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unpinLocked(id)
}

func (m *Manager) unpinLocked(id string) {
	if m.pinned[id] <= 1 {
		delete(m.pinned, id)
		return
	}
	m.pinned[id]--
}

// RollbackLatest restores the newest snapshot.
func (m *Manager) RollbackLatest(ctx context.Context, dna DNAManager) domain.RollbackResult {
	latest, err := m.GetLatestSnapshot(ctx)
	if err != nil {
		return domain.RollbackResult{Error: err.Error()}
	}
	if latest == nil {
		return domain.RollbackResult{Error: domain.ErrSnapshotNotFound.Message}
	}
	return m.Rollback(ctx, dna, latest.ID)
}

// Binding ties a Manager to one DNA instance.
type Binding struct {
	m   *Manager
	dna DNAManager
}

// Bind returns a Binding that rolls back dna.
func (m *Manager) Bind(dna DNAManager) *Binding {
	return &Binding{m: m, dna: dna}
}

// Rollback restores snapshotID, or the newest snapshot when snapshotID is empty.
func (b *Binding) Rollback(ctx context.Context, snapshotID string) domain.RollbackResult {
	if snapshotID == "" {
		return b.m.RollbackLatest(ctx, b.dna)
	}
	return b.m.Rollback(ctx, b.dna, snapshotID)
}

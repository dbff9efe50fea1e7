package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

// MemoryStateStore keeps the DNA record in memory as its encoded form, so
// loads always hand out fresh copies.
type MemoryStateStore struct {
	mu   sync.Mutex
	data string
	log  []domain.MutationRecord
	seen map[string]bool
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{seen: make(map[string]bool)}
}

// Load returns the current DNA, creating the initial record if absent.
func (s *MemoryStateStore) Load(_ context.Context) (*domain.SystemDNA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == "" {
		data, err := domain.EncodeDNA(domain.NewSystemDNA())
		if err != nil {
			return nil, err
		}
		s.data = data
	}
	return domain.DecodeDNA(s.data)
}

// Save replaces the DNA record.
func (s *MemoryStateStore) Save(_ context.Context, dna *domain.SystemDNA) error {
	data, err := domain.EncodeDNA(dna)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = data
	for _, rec := range dna.Mutations {
		if !s.seen[rec.ID] {
			s.seen[rec.ID] = true
			s.log = append(s.log, rec.Clone())
		}
	}
	return nil
}

// MutationLog returns every mutation ever saved.
func (s *MemoryStateStore) MutationLog(_ context.Context) ([]domain.MutationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.MutationRecord, len(s.log))
	for i, rec := range s.log {
		out[i] = rec.Clone()
	}
	return out, nil
}

// MemorySnapshotStore keeps snapshots in memory in insertion order.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps []domain.Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

// Save stores a snapshot.
func (s *MemorySnapshotStore) Save(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snaps = append(s.snaps, snap)
	return nil
}

// Get returns a snapshot or nil if absent.
func (s *MemorySnapshotStore) Get(_ context.Context, id string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.snaps {
		if s.snaps[i].ID == id {
			snap := s.snaps[i]
			return &snap, nil
		}
	}
	return nil, nil
}

// LatestForGeneration returns the newest snapshot taken at generation, or nil.
func (s *MemorySnapshotStore) LatestForGeneration(ctx context.Context, generation int64) (*domain.Snapshot, error) {
	all, _ := s.List(ctx, 0)
	for i := range all {
		if all[i].Metadata.Generation == generation {
			return &all[i], nil
		}
	}
	return nil, nil
}

// List returns snapshots most-recent-first.
func (s *MemorySnapshotStore) List(_ context.Context, limit int) ([]domain.Snapshot, error) {
	s.mu.RLock()
	out := make([]domain.Snapshot, len(s.snaps))
	copy(out, s.snaps)
	s.mu.RUnlock()

	// Reverse insertion order first so equal timestamps keep the newest on top.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a snapshot.
func (s *MemorySnapshotStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.snaps {
		if s.snaps[i].ID == id {
			s.snaps = append(s.snaps[:i], s.snaps[i+1:]...)
			return nil
		}
	}
	return nil
}

// MemoryAuditLog collects audit records in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

// Record appends rec.
func (a *MemoryAuditLog) Record(_ context.Context, rec domain.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records = append(a.records, rec)
	return nil
}

// List returns records of a category, or all records when category is empty.
func (a *MemoryAuditLog) List(_ context.Context, category string) ([]domain.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.AuditRecord
	for _, r := range a.records {
		if category == "" || r.Category == category {
			out = append(out, r)
		}
	}
	return out, nil
}

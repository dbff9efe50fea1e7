package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

// StateStore persists the DNA record of one instance. Save is a single
// transaction covering the DNA row and the mutation log, guarded by the
// state_version observed at the last Load.
type StateStore struct {
	DB         *sql.DB
	InstanceID string
	DNARepo    *DNARepo
	LogRepo    *MutationLogRepo

	mu      sync.Mutex
	version int64
	logged  int
}

// NewStateStore creates a StateStore for an instance.
func NewStateStore(db *sql.DB, instanceID string) *StateStore {
	return &StateStore{
		DB:         db,
		InstanceID: instanceID,
		DNARepo:    &DNARepo{},
		LogRepo:    &MutationLogRepo{},
	}
}

// Load returns the current DNA, creating the initial record if absent.
func (s *StateStore) Load(ctx context.Context) (*domain.SystemDNA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.DNARepo.GetByID(ctx, s.DB, s.InstanceID)
	if errors.Is(err, domain.ErrDNANotFound) {
		dna := domain.NewSystemDNA()
		if err := s.create(ctx, dna); err != nil {
			return nil, err
		}
		s.version = 1
		s.logged = 0
		return dna, nil
	}
	if err != nil {
		return nil, err
	}
	s.version = row.StateVersion
	s.logged = len(row.DNA.Mutations)
	return row.DNA, nil
}

// Save persists dna atomically. On any error nothing is written.
func (s *StateStore) Save(ctx context.Context, dna *domain.SystemDNA) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version == 0 {
		row, err := s.DNARepo.GetByID(ctx, s.DB, s.InstanceID)
		switch {
		case errors.Is(err, domain.ErrDNANotFound):
			if err := s.create(ctx, dna); err != nil {
				return err
			}
			s.version = 1
			s.logged = len(dna.Mutations)
			return nil
		case err != nil:
			return err
		}
		s.version = row.StateVersion
		s.logged = len(row.DNA.Mutations)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "begin tx", err)
	}
	defer tx.Rollback()

	if err := s.DNARepo.UpdateTx(ctx, tx, s.InstanceID, dna, s.version); err != nil {
		return err
	}
	from := s.logged
	if from > len(dna.Mutations) {
		from = len(dna.Mutations)
	}
	for _, rec := range dna.Mutations[from:] {
		if err := s.LogRepo.AppendTx(ctx, tx, s.InstanceID, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "commit dna", err)
	}

	s.version++
	s.logged = len(dna.Mutations)
	return nil
}

// MutationLog returns every mutation ever applied to this instance,
// including those a rollback removed from the live DNA.
func (s *StateStore) MutationLog(ctx context.Context) ([]domain.MutationRecord, error) {
	return s.LogRepo.ListByInstance(ctx, s.DB, s.InstanceID)
}

func (s *StateStore) create(ctx context.Context, dna *domain.SystemDNA) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "begin tx", err)
	}
	defer tx.Rollback()

	if err := s.DNARepo.CreateTx(ctx, tx, s.InstanceID, dna); err != nil {
		return err
	}
	for _, rec := range dna.Mutations {
		if err := s.LogRepo.AppendTx(ctx, tx, s.InstanceID, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SnapshotStore persists snapshots of one instance.
type SnapshotStore struct {
	DB         *sql.DB
	InstanceID string
	Repo       *SnapshotRepo
}

// NewSnapshotStore creates a SnapshotStore for an instance.
func NewSnapshotStore(db *sql.DB, instanceID string) *SnapshotStore {
	return &SnapshotStore{DB: db, InstanceID: instanceID, Repo: &SnapshotRepo{}}
}

// Save stores a snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	return s.Repo.Save(ctx, s.DB, s.InstanceID, snap)
}

// Get returns a snapshot or nil if absent.
func (s *SnapshotStore) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	return s.Repo.Get(ctx, s.DB, s.InstanceID, id)
}

// LatestForGeneration returns the newest snapshot taken at generation, or nil.
func (s *SnapshotStore) LatestForGeneration(ctx context.Context, generation int64) (*domain.Snapshot, error) {
	return s.Repo.GetLatestForGeneration(ctx, s.DB, s.InstanceID, generation)
}

// List returns snapshots most-recent-first.
func (s *SnapshotStore) List(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	return s.Repo.List(ctx, s.DB, s.InstanceID, limit)
}

// Delete removes a snapshot.
func (s *SnapshotStore) Delete(ctx context.Context, id string) error {
	return s.Repo.Delete(ctx, s.DB, s.InstanceID, id)
}

// AuditLog appends records to the audit trail of one instance.
type AuditLog struct {
	DB         *sql.DB
	InstanceID string
	Repo       *AuditRepo
}

// NewAuditLog creates an AuditLog for an instance.
func NewAuditLog(db *sql.DB, instanceID string) *AuditLog {
	return &AuditLog{DB: db, InstanceID: instanceID, Repo: &AuditRepo{}}
}

// Record appends rec, stamping the instance id.
func (a *AuditLog) Record(ctx context.Context, rec domain.AuditRecord) error {
	rec.InstanceID = a.InstanceID
	if rec.ID == "" || rec.Category == "" || rec.Action == "" {
		return fmt.Errorf("record audit: id, category and action are required")
	}
	return a.Repo.Record(ctx, a.DB, rec)
}

// List returns records of a category, or all records when category is empty.
func (a *AuditLog) List(ctx context.Context, category string) ([]domain.AuditRecord, error) {
	return a.Repo.ListByInstance(ctx, a.DB, a.InstanceID, category)
}

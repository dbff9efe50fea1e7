package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

// SnapshotRepo handles persistence for Snapshot records.
type SnapshotRepo struct{}

const snapshotColumns = `snapshot_id, label, generation, fitness_score, version, dna_checksum, dna_data, created_at`

// Save inserts a snapshot.
func (r *SnapshotRepo) Save(ctx context.Context, db *sql.DB, instanceID string, snap domain.Snapshot) error {
	const q = `INSERT INTO snapshots (instance_id, snapshot_id, label, generation, fitness_score, version, dna_checksum, dna_data, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		instanceID,
		snap.ID,
		snap.Label,
		snap.Metadata.Generation,
		snap.Metadata.FitnessScore,
		snap.Metadata.Version,
		snap.DNAChecksum,
		snap.DNAData,
		snap.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Get returns a snapshot by id. Returns nil if no snapshot exists.
func (r *SnapshotRepo) Get(ctx context.Context, db *sql.DB, instanceID, snapshotID string) (*domain.Snapshot, error) {
	q := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE instance_id = ? AND snapshot_id = ?`

	s, err := scanSnapshot(db.QueryRowContext(ctx, q, instanceID, snapshotID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return s, nil
}

// GetLatestForGeneration returns the most recent snapshot recorded at a
// generation. Returns nil if no snapshot exists.
func (r *SnapshotRepo) GetLatestForGeneration(ctx context.Context, db *sql.DB, instanceID string, generation int64) (*domain.Snapshot, error) {
	q := `SELECT ` + snapshotColumns + ` FROM snapshots
WHERE instance_id = ? AND generation = ?
ORDER BY created_at DESC, seq DESC
LIMIT 1`

	s, err := scanSnapshot(db.QueryRowContext(ctx, q, instanceID, generation))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot for generation: %w", err)
	}
	return s, nil
}

// List returns snapshots most-recent-first. A limit <= 0 returns all.
func (r *SnapshotRepo) List(ctx context.Context, db *sql.DB, instanceID string, limit int) ([]domain.Snapshot, error) {
	q := `SELECT ` + snapshotColumns + ` FROM snapshots
WHERE instance_id = ?
ORDER BY created_at DESC, seq DESC`
	args := []any{instanceID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, *s)
	}
	return snaps, rows.Err()
}

// Count returns the number of stored snapshots for an instance.
func (r *SnapshotRepo) Count(ctx context.Context, db *sql.DB, instanceID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE instance_id = ?`, instanceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// Delete removes a snapshot. Deleting a missing snapshot is not an error.
func (r *SnapshotRepo) Delete(ctx context.Context, db *sql.DB, instanceID, snapshotID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM snapshots WHERE instance_id = ? AND snapshot_id = ?`, instanceID, snapshotID)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var s domain.Snapshot
	var createdAt int64
	err := row.Scan(&s.ID, &s.Label, &s.Metadata.Generation, &s.Metadata.FitnessScore,
		&s.Metadata.Version, &s.DNAChecksum, &s.DNAData, &createdAt)
	if err != nil {
		return nil, err
	}
	s.Timestamp = time.Unix(0, createdAt).UTC()
	return &s, nil
}

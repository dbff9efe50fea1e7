package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

// DNARow is a persisted DNA record together with its lock version.
type DNARow struct {
	InstanceID    string
	DNA           *domain.SystemDNA
	Checksum      string
	StateVersion  int64
	UpdatedAtUnix int64
}

// DNARepo handles persistence for the authoritative DNA record.
type DNARepo struct{}

// CreateTx inserts the first DNA record for an instance within a transaction.
func (r *DNARepo) CreateTx(ctx context.Context, tx *sql.Tx, instanceID string, dna *domain.SystemDNA) error {
	data, err := domain.EncodeDNA(dna)
	if err != nil {
		return err
	}
	const q = `INSERT INTO dna_records (instance_id, version, generation, fitness_score, dna_json, checksum, state_version, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?, 1, ?)`
	_, err = tx.ExecContext(ctx, q,
		instanceID,
		dna.Version,
		dna.Generation,
		dna.FitnessScore,
		data,
		domain.ChecksumData(data),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("create dna record: %w", err)
	}
	return nil
}

// UpdateTx replaces the DNA record using optimistic locking.
// The update only succeeds if the stored state_version matches expectedVersion.
func (r *DNARepo) UpdateTx(ctx context.Context, tx *sql.Tx, instanceID string, dna *domain.SystemDNA, expectedVersion int64) error {
	data, err := domain.EncodeDNA(dna)
	if err != nil {
		return err
	}
	const q = `UPDATE dna_records SET
		version = ?,
		generation = ?,
		fitness_score = ?,
		dna_json = ?,
		checksum = ?,
		state_version = state_version + 1,
		updated_at_unix = ?
	WHERE instance_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		dna.Version,
		dna.Generation,
		dna.FitnessScore,
		data,
		domain.ChecksumData(data),
		time.Now().Unix(),
		instanceID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update dna record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves the DNA record for an instance.
func (r *DNARepo) GetByID(ctx context.Context, db *sql.DB, instanceID string) (*DNARow, error) {
	const q = `SELECT instance_id, dna_json, checksum, state_version, updated_at_unix
FROM dna_records WHERE instance_id = ?`

	row := db.QueryRowContext(ctx, q, instanceID)

	var out DNARow
	var data string
	err := row.Scan(&out.InstanceID, &data, &out.Checksum, &out.StateVersion, &out.UpdatedAtUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDNANotFound
		}
		return nil, fmt.Errorf("get dna record: %w", err)
	}
	dna, err := domain.DecodeDNA(data)
	if err != nil {
		return nil, err
	}
	out.DNA = dna
	return &out, nil
}

// MutationLogRepo handles the append-only log of applied mutations.
// Rows are never updated or deleted.
type MutationLogRepo struct{}

// AppendTx inserts a mutation record within a transaction. Records that are
// already logged are ignored, so re-saving a DNA never duplicates entries.
func (r *MutationLogRepo) AppendTx(ctx context.Context, tx *sql.Tx, instanceID string, rec domain.MutationRecord) error {
	data, err := marshalJSON(rec)
	if err != nil {
		return err
	}
	const q = `INSERT OR IGNORE INTO mutation_log (mutation_id, instance_id, generation, mutation_type, auto_approved, record_json, applied_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		rec.ID,
		instanceID,
		rec.Generation,
		string(rec.Type),
		boolToInt(rec.AutoApproved),
		data,
		rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append mutation log: %w", err)
	}
	return nil
}

// ListByInstance returns every logged mutation for an instance in apply order.
func (r *MutationLogRepo) ListByInstance(ctx context.Context, db *sql.DB, instanceID string) ([]domain.MutationRecord, error) {
	const q = `SELECT record_json FROM mutation_log
WHERE instance_id = ?
ORDER BY applied_at ASC, generation ASC`

	rows, err := db.QueryContext(ctx, q, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list mutation log: %w", err)
	}
	defer rows.Close()

	var records []domain.MutationRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan mutation log: %w", err)
		}
		var rec domain.MutationRecord
		if err := unmarshalJSON(data, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

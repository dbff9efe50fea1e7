// Package mutation applies approved mutations to DNA.
package mutation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/logging"
)

// Updater runs fn against a fresh copy of the DNA and saves the result as
// one atomic write. dna.Manager implements it.
type Updater interface {
	Update(ctx context.Context, fn func(d *domain.SystemDNA) error) (*domain.SystemDNA, error)
}

// Snapshotter captures the pre-mutation state. Capture stores a snapshot
// without enforcing retention; Commit or Discard follows once the DNA save
// has succeeded or failed. rollback.Manager implements it.
type Snapshotter interface {
	Capture(ctx context.Context, dna *domain.SystemDNA, label string) (domain.Snapshot, error)
	Commit(ctx context.Context, id string)
	Discard(ctx context.Context, id string)
}

// Engine applies mutations. Each application is a single Update, so the
// generation bump and the appended record become durable together or not
// at all.
type Engine struct {
	dna    Updater
	snaps  Snapshotter
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an engine. snaps may be nil to skip pre-mutation snapshots.
func NewEngine(dna Updater, snaps Snapshotter, logger *zap.Logger) *Engine {
	return &Engine{
		dna:    dna,
		snaps:  snaps,
		logger: logging.OrNop(logger).Named("mutation"),
		now:    time.Now,
	}
}

// Validate rejects mutations that cannot be applied.
func Validate(m domain.Mutation) error {
	if m.Type == "" {
		return domain.WrapEngineError(domain.ErrInvalidMutation.Code, domain.ErrInvalidMutation.Message, fmt.Errorf("type is required"))
	}
	if math.IsNaN(m.FitnessImpact) || math.IsInf(m.FitnessImpact, 0) {
		return domain.WrapEngineError(domain.ErrInvalidMutation.Code, domain.ErrInvalidMutation.Message, fmt.Errorf("fitness_impact must be finite"))
	}
	return nil
}

// ApplyMutation appends a record for m, bumps the generation by one and adds
// m.FitnessImpact to the fitness score. On failure nothing is persisted and
// the result carries the error: the pre-mutation snapshot of a failed
// application is discarded and no SnapshotID is reported.
func (e *Engine) ApplyMutation(ctx context.Context, m domain.Mutation) domain.MutationResult {
	if err := Validate(m); err != nil {
		return domain.MutationResult{Error: err.Error()}
	}

	var (
		rec        domain.MutationRecord
		snapshotID string
	)
	saved, err := e.dna.Update(ctx, func(d *domain.SystemDNA) error {
		if math.IsInf(d.FitnessScore+m.FitnessImpact, 0) {
			return fmt.Errorf("fitness score would overflow")
		}
		if e.snaps != nil {
			label := fmt.Sprintf("Before %s at generation %d", m.Type, d.Generation)
			snap, err := e.snaps.Capture(ctx, d, label)
			if err != nil {
				return fmt.Errorf("pre-mutation snapshot: %w", err)
			}
			snapshotID = snap.ID
			d.SnapshotIDs = append(d.SnapshotIDs, snap.ID)
		}

		rec = domain.MutationRecord{
			ID:            "mut_" + uuid.NewString(),
			Timestamp:     e.now().UTC(),
			Generation:    d.Generation + 1,
			Type:          m.Type,
			Description:   m.Description,
			FitnessImpact: m.FitnessImpact,
			RiskScore:     m.RiskScore,
			Source:        m.Source,
			Priority:      m.Priority,
			AutoApproved:  m.AutoApproved,
			Traits:        domain.CloneMap(m.Traits),
			SnapshotID:    snapshotID,
		}

		d.Mutations = append(d.Mutations, rec)
		d.Generation++
		d.FitnessScore += m.FitnessImpact
		applyTraits(d, m.Traits)
		return nil
	})
	if err != nil {
		if snapshotID != "" {
			e.snaps.Discard(ctx, snapshotID)
		}
		e.logger.Warn("mutation failed",
			zap.String("type", string(m.Type)),
			zap.Error(err))
		return domain.MutationResult{
			Error: domain.WrapEngineError(domain.ErrMutationFailed.Code, domain.ErrMutationFailed.Message, err).Error(),
		}
	}
	if snapshotID != "" {
		e.snaps.Commit(ctx, snapshotID)
	}

	e.logger.Info("mutation applied",
		zap.String("mutation_id", rec.ID),
		zap.String("type", string(m.Type)),
		zap.Int64("generation", saved.Generation),
		zap.Float64("fitness", saved.FitnessScore),
		zap.Bool("auto_approved", m.AutoApproved))

	return domain.MutationResult{
		Success:       true,
		MutationID:    rec.ID,
		NewGeneration: saved.Generation,
		SnapshotID:    snapshotID,
	}
}

// applyTraits merges trait changes into core traits. A nil value removes the key.
func applyTraits(d *domain.SystemDNA, traits map[string]any) {
	if len(traits) == 0 {
		return
	}
	if d.CoreTraits == nil {
		d.CoreTraits = map[string]any{}
	}
	changes := domain.CloneMap(traits)
	for k, v := range changes {
		if v == nil {
			delete(d.CoreTraits, k)
			continue
		}
		d.CoreTraits[k] = v
	}
}

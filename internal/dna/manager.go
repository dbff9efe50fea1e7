// Package dna owns the authoritative DNA record of one governed instance.
//
// Manager is the single serialization point for DNA writes: every
// load-modify-save and every restore runs under one mutex, and every read
// hands out a deep clone.
package dna

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/logging"
)

// Store is the persistence the manager needs. Save must be atomic: either
// the whole DNA is durable or nothing is.
type Store interface {
	Load(ctx context.Context) (*domain.SystemDNA, error)
	Save(ctx context.Context, dna *domain.SystemDNA) error
}

// Manager serializes access to one DNA instance.
type Manager struct {
	store  Store
	logger *zap.Logger

	mu sync.Mutex
}

// NewManager creates a manager over store.
func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logging.OrNop(logger).Named("dna")}
}

// Get returns an independent copy of the current DNA.
func (m *Manager) Get(ctx context.Context) (*domain.SystemDNA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dna: %w", err)
	}
	return d.Clone(), nil
}

// Update loads a fresh copy, applies fn and saves the result as one atomic
// write. If fn or the save fails nothing is persisted and the error is
// returned. The returned DNA is a copy of what was saved.
func (m *Manager) Update(ctx context.Context, fn func(d *domain.SystemDNA) error) (*domain.SystemDNA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dna: %w", err)
	}
	working := d.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, working); err != nil {
		m.logger.Warn("dna save failed", zap.Int64("generation", working.Generation), zap.Error(err))
		return nil, fmt.Errorf("save dna: %w", err)
	}
	return working.Clone(), nil
}

// Restore replaces the DNA with target verbatim and returns the DNA as read
// back from the store, so callers can verify what actually persisted.
func (m *Manager) Restore(ctx context.Context, target *domain.SystemDNA) (*domain.SystemDNA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Load first so the store observes the current lock version.
	if _, err := m.store.Load(ctx); err != nil {
		return nil, fmt.Errorf("load dna: %w", err)
	}
	if err := m.store.Save(ctx, target.Clone()); err != nil {
		return nil, fmt.Errorf("save dna: %w", err)
	}
	restored, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reload dna: %w", err)
	}
	m.logger.Info("dna restored", zap.Int64("generation", restored.Generation))
	return restored.Clone(), nil
}

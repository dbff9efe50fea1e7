package dna

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/store"
)

func TestManager_GetReturnsIndependentCopy(t *testing.T) {
	m := NewManager(store.NewMemoryStateStore(), nil)
	ctx := context.Background()

	_, err := m.Update(ctx, func(d *domain.SystemDNA) error {
		d.CoreTraits["limits"] = map[string]any{"max": 3.0}
		return nil
	})
	require.NoError(t, err)

	a, err := m.Get(ctx)
	require.NoError(t, err)
	a.CoreTraits["limits"].(map[string]any)["max"] = 99.0
	a.Generation = 42

	b, err := m.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, b.CoreTraits["limits"].(map[string]any)["max"])
	assert.Equal(t, int64(1), b.Generation)
}

func TestManager_UpdateErrorPersistsNothing(t *testing.T) {
	m := NewManager(store.NewMemoryStateStore(), nil)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := m.Update(ctx, func(d *domain.SystemDNA) error {
		d.Generation = 100
		return boom
	})
	require.ErrorIs(t, err, boom)

	d, err := m.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Generation)
}

func TestManager_Restore(t *testing.T) {
	m := NewManager(store.NewMemoryStateStore(), nil)
	ctx := context.Background()

	before, err := m.Get(ctx)
	require.NoError(t, err)

	_, err = m.Update(ctx, func(d *domain.SystemDNA) error {
		d.Generation++
		d.FitnessScore = 7
		return nil
	})
	require.NoError(t, err)

	restored, err := m.Restore(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(1), restored.Generation)

	want, _ := domain.Checksum(before)
	got, _ := domain.Checksum(restored)
	assert.Equal(t, want, got)
}

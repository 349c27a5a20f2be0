package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreSaveAndLatest(t *testing.T) {
	ctx := context.Background()

	for _, c := range []Compression{CompressionZstd, CompressionLZ4, CompressionNone} {
		t.Run(c.String(), func(t *testing.T) {
			s, err := NewLocalStore(t.TempDir(), WithCompression(c))
			require.NoError(t, err)

			require.NoError(t, s.Save(ctx, testState(100)))
			require.NoError(t, s.Save(ctx, testState(200)))

			got, err := s.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, testState(200), got)

			got, err = s.Load(ctx, 100)
			require.NoError(t, err)
			assert.Equal(t, testState(100), got)
		})
	}
}

func TestLocalStoreEmpty(t *testing.T) {
	ctx := context.Background()

	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	_, err = s.Load(ctx, 5)
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	iterations, err := s.Iterations(ctx)
	require.NoError(t, err)
	assert.Empty(t, iterations)
}

func TestLocalStoreCurrentPointer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, testState(7)))

	content, err := os.ReadFile(filepath.Join(dir, CurrentName))
	require.NoError(t, err)
	assert.Equal(t, FileName(7), string(content))
}

func TestLocalStoreIterations(t *testing.T) {
	ctx := context.Background()

	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, iter := range []uint64{300, 100, 200} {
		require.NoError(t, s.Save(ctx, testState(iter)))
	}

	iterations, err := s.Iterations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 200, 300}, iterations)
}

func TestLocalStoreRetain(t *testing.T) {
	ctx := context.Background()

	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, iter := range []uint64{10, 20, 30, 40, 45} {
		require.NoError(t, s.Save(ctx, testState(iter)))
	}

	require.NoError(t, s.Retain(ctx, 20))

	iterations, err := s.Iterations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{20, 40, 45}, iterations, "multiples of 20 plus the latest survive")

	// Latest still resolves after pruning.
	got, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(45), got.Iteration)
}

func TestLocalStoreRetainZeroKeepsAll(t *testing.T) {
	ctx := context.Background()

	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, testState(1)))

	require.NoError(t, s.Retain(ctx, 0))

	iterations, err := s.Iterations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, iterations)
}

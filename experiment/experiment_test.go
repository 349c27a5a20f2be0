package experiment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseArgs() *Args {
	return &Args{
		TrainSet:            "train.csv",
		ImageRoot:           "/data/images",
		BatchP:              32,
		BatchK:              4,
		EmbeddingDim:        128,
		NetInputHeight:      256,
		NetInputWidth:       128,
		Metric:              "euclidean",
		Margin:              "soft",
		LearningRate:        3e-4,
		TrainIterations:     25000,
		CheckpointFrequency: 1000,
		LoadingThreads:      8,
		Seed:                42,
	}
}

func TestFreshRun(t *testing.T) {
	root := filepath.Join(t.TempDir(), "exp")

	args := baseArgs()
	require.NoError(t, Fresh(root, args))

	assert.NotEmpty(t, args.RunID)
	assert.Equal(t, root, args.ExperimentRoot)

	persisted, err := LoadArgs(root)
	require.NoError(t, err)
	assert.Equal(t, args, persisted)
}

func TestFreshRefusesNonEmptyRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "leftover"), []byte("x"), 0o600))

	err := Fresh(root, baseArgs())
	assert.ErrorIs(t, err, ErrRootNotEmpty)
}

func TestFreshAcceptsEmptyExistingRoot(t *testing.T) {
	assert.NoError(t, Fresh(t.TempDir(), baseArgs()))
}

func TestResumePersistedWins(t *testing.T) {
	root := filepath.Join(t.TempDir(), "exp")

	original := baseArgs()
	original.BatchP = 16
	require.NoError(t, Fresh(root, original))

	supplied := baseArgs()
	supplied.BatchP = 32

	merged, conflicts, err := Resume(root, supplied)
	require.NoError(t, err)

	assert.Equal(t, 16, merged.BatchP, "persisted value wins")
	assert.Equal(t, original.RunID, merged.RunID)

	require.Len(t, conflicts, 1)
	assert.Equal(t, "BatchP", conflicts[0].Field)
	assert.Equal(t, 16, conflicts[0].Persisted)
	assert.Equal(t, 32, conflicts[0].Supplied)
}

func TestResumeNoConflicts(t *testing.T) {
	root := filepath.Join(t.TempDir(), "exp")
	require.NoError(t, Fresh(root, baseArgs()))

	_, conflicts, err := Resume(root, baseArgs())
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestResumeWithoutArgs(t *testing.T) {
	_, _, err := Resume(t.TempDir(), baseArgs())
	assert.ErrorIs(t, err, ErrNoArgs)
}

func TestLoadArgsMalformed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ArgsFileName), []byte("{not json"), 0o600))

	_, err := LoadArgs(root)
	assert.ErrorContains(t, err, "parse")
}

func TestConflictString(t *testing.T) {
	c := Conflict{Field: "BatchP", Persisted: 16, Supplied: 32}
	assert.Equal(t, "BatchP: persisted 16 overrides supplied 32", c.String())
}

package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenReadClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	content := []byte("hello, mapped world")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	m, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, content, m.Data)
	assert.Equal(t, int64(len(content)), m.Size())

	p := make([]byte, 5)
	n, err := m.ReadAt(p, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("mappe"), p)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close()) // idempotent
}

func TestOpenEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	m, err := Open(path)
	require.NoError(t, err)
	assert.Nil(t, m.Data)
	require.NoError(t, m.Close())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

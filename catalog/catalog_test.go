package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDescriptor = `0001,images/0001_c1_001.jpg
0002,images/0002_c3_077.jpg
0001,images/0001_c2_014.jpg
0003,images/0003_c1_002.jpg
0001,images/0001_c5_031.jpg
`

func TestRead(t *testing.T) {
	c, err := Read(strings.NewReader(testDescriptor))
	require.NoError(t, err)

	assert.Equal(t, 5, c.NumSamples())
	assert.Equal(t, 3, c.NumIdentities())
	assert.Equal(t, []string{"0001", "0002", "0003"}, c.Identities())
	assert.Equal(t, 3, c.Count("0001"))
	assert.Equal(t, 1, c.Count("0002"))
	assert.Equal(t, 0, c.Count("9999"))
}

func TestReadSamplesRowOrder(t *testing.T) {
	c, err := Read(strings.NewReader(testDescriptor))
	require.NoError(t, err)

	refs, err := c.Samples("0001")
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "images/0001_c1_001.jpg", refs[0].Path)
	assert.Equal(t, "images/0001_c2_014.jpg", refs[1].Path)
	assert.Equal(t, "images/0001_c5_031.jpg", refs[2].Path)
	for _, r := range refs {
		assert.Equal(t, "0001", r.Identity)
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Empty", ""},
		{"MissingLocator", "0001\n"},
		{"EmptyIdentity", ",images/a.jpg\n"},
		{"EmptyLocator", "0001, \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			require.Error(t, err)

			var fe *FormatError
			assert.True(t, errors.As(err, &fe), "expected *FormatError, got %T", err)
		})
	}
}

func TestUnknownIdentity(t *testing.T) {
	c, err := Read(strings.NewReader(testDescriptor))
	require.NoError(t, err)

	_, err = c.Samples("no-such-identity")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.csv")
	require.NoError(t, os.WriteFile(path, []byte(testDescriptor), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, c.NumSamples())

	_, err = Load(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

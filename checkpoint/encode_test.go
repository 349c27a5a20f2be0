package checkpoint

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState(iteration uint64) *State {
	return &State{
		Iteration: iteration,
		RunID:     "run-42",
		Model:     []byte{1, 2, 3, 4},
		Optimizer: []byte{5, 6},
		Sampler:   []byte{7, 8, 9},
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	for _, c := range []Compression{CompressionZstd, CompressionLZ4, CompressionNone} {
		t.Run(c.String(), func(t *testing.T) {
			data, err := EncodeBytes(testState(17), c)
			require.NoError(t, err)

			got, err := DecodeBytes(data)
			require.NoError(t, err)
			assert.Equal(t, testState(17), got)
		})
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := DecodeBytes([]byte("XXXX\x01\x00garbage"))
	assert.ErrorContains(t, err, "not a checkpoint file")
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	data, err := EncodeBytes(testState(1), CompressionNone)
	require.NoError(t, err)

	data[4] = 99
	_, err = DecodeBytes(data)
	assert.ErrorContains(t, err, "unsupported checkpoint format version")
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("TRH")))
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for _, want := range []Compression{CompressionZstd, CompressionLZ4, CompressionNone} {
		got, err := ParseCompression(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}

func TestFileNameRoundtrip(t *testing.T) {
	name := FileName(1234)
	assert.Equal(t, "checkpoint-000001234.ckpt", name)

	iter, ok := ParseFileName(name)
	require.True(t, ok)
	assert.Equal(t, uint64(1234), iter)

	_, ok = ParseFileName("CURRENT")
	assert.False(t, ok)
	_, ok = ParseFileName("checkpoint-abc.ckpt")
	assert.False(t, ok)
}

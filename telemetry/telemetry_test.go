package telemetry

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMetrics(iteration uint64) *StepMetrics {
	return &StepMetrics{
		Iteration: iteration,
		Train: &Summary{
			LossMin:           0.1,
			LossMean:          0.5,
			LossMax:           1.2,
			Top1:              0.75,
			PrecisionAtK:      0.6,
			ActiveCount:       12,
			MeanPositive:      0.4,
			MeanNegative:      1.1,
			MeanEmbeddingNorm: 9.7,
		},
		Duration:  250 * time.Millisecond,
		Remaining: time.Hour,
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, sink.Record(context.Background(), sampleMetrics(7)))
	require.NoError(t, sink.Close())

	out := buf.String()
	assert.Contains(t, out, "iter=7")
	assert.Contains(t, out, "loss_avg=0.5")
	assert.NotContains(t, out, "eval_loss_avg")
}

func TestLogSinkWithEval(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	m := sampleMetrics(8)
	m.Eval = &Summary{LossMean: 0.9, Top1: 0.5, PrecisionAtK: 0.4}
	require.NoError(t, sink.Record(context.Background(), m))

	assert.Contains(t, buf.String(), "eval_loss_avg=0.9")
}

func TestCSVSink(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewCSVSink(dir)
	require.NoError(t, err)
	require.NoError(t, sink.Record(context.Background(), sampleMetrics(1)))
	require.NoError(t, sink.Record(context.Background(), sampleMetrics(2)))
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(dir, HistoryFileName))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2", rows[2][0])
}

func TestCSVSinkAppendsOnResume(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewCSVSink(dir)
	require.NoError(t, err)
	require.NoError(t, sink.Record(context.Background(), sampleMetrics(1)))
	require.NoError(t, sink.Close())

	sink, err = NewCSVSink(dir)
	require.NoError(t, err)
	require.NoError(t, sink.Record(context.Background(), sampleMetrics(2)))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(filepath.Join(dir, HistoryFileName))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3, "header written once, rows appended")
}

func TestDetailDump(t *testing.T) {
	dir := t.TempDir()

	dump, err := NewDetailDump(dir)
	require.NoError(t, err)

	m := sampleMetrics(1)
	m.Detail = &StepDetail{
		Embeddings: []float32{1, 2, 3, 4},
		Dim:        2,
		Losses:     []float32{0.5, 0.25},
		Locators:   []string{"a/1.jpg", "b/2.jpg"},
	}
	require.NoError(t, dump.Record(context.Background(), m))

	// Steps without detail are skipped.
	require.NoError(t, dump.Record(context.Background(), sampleMetrics(2)))
	require.NoError(t, dump.Close())

	emb, err := os.ReadFile(filepath.Join(dir, EmbeddingsFileName))
	require.NoError(t, err)
	require.Len(t, emb, 4*4)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(emb[:4])))
	assert.Equal(t, float32(4), math.Float32frombits(binary.LittleEndian.Uint32(emb[12:16])))

	losses, err := os.ReadFile(filepath.Join(dir, LossesFileName))
	require.NoError(t, err)
	require.Len(t, losses, 2*4)

	locators, err := os.ReadFile(filepath.Join(dir, LocatorsFileName))
	require.NoError(t, err)
	assert.Equal(t, "a/1.jpg\nb/2.jpg\n", string(locators))
}

type failingSink struct{ err error }

func (s *failingSink) Record(ctx context.Context, m *StepMetrics) error { return s.err }
func (s *failingSink) Close() error                                     { return s.err }

func TestMultiSink(t *testing.T) {
	boom := errors.New("boom")
	var buf bytes.Buffer

	multi := MultiSink{
		NewLogSink(slog.New(slog.NewTextHandler(&buf, nil))),
		&failingSink{err: boom},
	}

	err := multi.Record(context.Background(), sampleMetrics(3))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "iter=3", "healthy sinks still record")

	assert.ErrorIs(t, multi.Close(), boom)
}

package telemetry

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// HistoryFileName is the default CSV history file name.
const HistoryFileName = "history.csv"

// CSVSink appends one row per step to a history file.
type CSVSink struct {
	f *os.File
	w *csv.Writer
}

var csvHeader = []string{
	"iteration",
	"loss_min", "loss_mean", "loss_max",
	"top1", "precision_at_k", "active_count",
	"mean_positive", "mean_negative", "mean_embedding_norm",
	"eval_loss_mean", "eval_top1", "eval_precision_at_k",
	"step_seconds",
}

// NewCSVSink opens (or creates) the history file under dir. The header is
// written only when the file is new, so resumed runs keep appending.
func NewCSVSink(dir string) (*CSVSink, error) {
	path := filepath.Join(dir, HistoryFileName)

	info, err := os.Stat(path)
	fresh := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}

	s := &CSVSink{f: f, w: csv.NewWriter(f)}
	if fresh {
		if err := s.w.Write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

func f32(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// Record implements Sink.
func (s *CSVSink) Record(ctx context.Context, m *StepMetrics) error {
	row := []string{
		strconv.FormatUint(m.Iteration, 10),
		f32(m.Train.LossMin), f32(m.Train.LossMean), f32(m.Train.LossMax),
		f32(m.Train.Top1), f32(m.Train.PrecisionAtK), strconv.Itoa(m.Train.ActiveCount),
		f32(m.Train.MeanPositive), f32(m.Train.MeanNegative), f32(m.Train.MeanEmbeddingNorm),
		"", "", "",
		strconv.FormatFloat(m.Duration.Seconds(), 'g', -1, 64),
	}
	if m.Eval != nil {
		row[10] = f32(m.Eval.LossMean)
		row[11] = f32(m.Eval.Top1)
		row[12] = f32(m.Eval.PrecisionAtK)
	}

	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

// Close implements Sink.
func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

package telemetry

import (
	"context"
	"log/slog"
)

// LogSink emits one structured log line per step.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging through the given slog logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(ctx context.Context, m *StepMetrics) error {
	attrs := []any{
		"iter", m.Iteration,
		"loss_min", m.Train.LossMin,
		"loss_avg", m.Train.LossMean,
		"loss_max", m.Train.LossMax,
		"top1", m.Train.Top1,
		"prec_at_k", m.Train.PrecisionAtK,
		"active", m.Train.ActiveCount,
		"embedding_norm", m.Train.MeanEmbeddingNorm,
		"step_time", m.Duration,
		"eta", m.Remaining,
	}
	if m.Eval != nil {
		attrs = append(attrs,
			"eval_loss_avg", m.Eval.LossMean,
			"eval_top1", m.Eval.Top1,
			"eval_prec_at_k", m.Eval.PrecisionAtK,
		)
	}

	s.logger.InfoContext(ctx, "step completed", attrs...)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

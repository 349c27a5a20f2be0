// Package telemetry reports per-step training statistics to pluggable sinks.
package telemetry

import (
	"context"
	"errors"
	"time"
)

// Summary aggregates one batch's mining statistics.
type Summary struct {
	LossMin  float32
	LossMean float32
	LossMax  float32

	Top1         float32
	PrecisionAtK float32
	ActiveCount  int

	MeanPositive float32
	MeanNegative float32

	// MeanEmbeddingNorm is the mean L2 norm of the raw, pre-normalization
	// embeddings.
	MeanEmbeddingNorm float32
}

// StepMetrics is everything reported after one training step.
type StepMetrics struct {
	Iteration uint64
	Train     *Summary
	// Eval is nil when no held-out pipeline is configured.
	Eval *Summary

	Duration  time.Duration
	Remaining time.Duration

	// Detail carries the raw per-anchor batch data. Populated only when
	// detailed logging is enabled; most sinks ignore it.
	Detail *StepDetail
}

// StepDetail is the full per-anchor data of one step.
type StepDetail struct {
	// Embeddings is the flat row-major batch embedding matrix.
	Embeddings []float32
	Dim        int
	Losses     []float32
	Locators   []string
}

// Sink consumes step metrics. Implementations must tolerate being called
// from the training loop's goroutine.
type Sink interface {
	Record(ctx context.Context, m *StepMetrics) error
	Close() error
}

// MultiSink fans metrics out to several sinks, collecting all errors.
type MultiSink []Sink

// Record implements Sink.
func (s MultiSink) Record(ctx context.Context, m *StepMetrics) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Record(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (s MultiSink) Close() error {
	var errs []error
	for _, sink := range s {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

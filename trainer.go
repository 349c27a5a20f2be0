package trihard

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/embedkit/trihard/batchhard"
	"github.com/embedkit/trihard/checkpoint"
	"github.com/embedkit/trihard/distance"
	"github.com/embedkit/trihard/internal/vecmath"
	"github.com/embedkit/trihard/loader"
	"github.com/embedkit/trihard/telemetry"
)

// Embeddings is the output of one forward pass over a batch.
type Embeddings struct {
	// Vectors are the final embeddings, one row per batch sample.
	Vectors [][]float32
	// Raw are the pre-normalization embeddings used for norm statistics.
	// Nil means Vectors are not normalized and serve both roles.
	Raw [][]float32
}

// Embedder maps a batch of samples to embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, batch *loader.Batch) (*Embeddings, error)
	// Snapshot and Restore serialize the model parameters for checkpointing.
	Snapshot() ([]byte, error)
	Restore(state []byte) error
}

// Optimizer applies one training step from a mined batch.
type Optimizer interface {
	Apply(ctx context.Context, batch *loader.Batch, emb *Embeddings, res *batchhard.Result) error
	// Snapshot and Restore serialize the optimizer internals for checkpointing.
	Snapshot() ([]byte, error)
	Restore(state []byte) error
}

// TrainerState is the observable lifecycle state of a Trainer.
type TrainerState int32

const (
	StateFresh TrainerState = iota
	StateRunning
	StateCheckpointing
	StateStopped
)

func (s TrainerState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRunning:
		return "running"
	case StateCheckpointing:
		return "checkpointing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// Trainer drives the batch-hard training loop.
type Trainer struct {
	train     *loader.Pipeline
	embedder  Embedder
	optimizer Optimizer
	o         options

	state atomic.Int32
	ran   atomic.Bool

	// next is the iteration the run starts at, 1 for fresh runs.
	next uint64
}

// New creates a Trainer over a training pipeline, an embedder and an
// optimizer. With WithResume, model, optimizer and sampler state are restored
// before the first step.
func New(train *loader.Pipeline, embedder Embedder, optimizer Optimizer, optFns ...Option) (*Trainer, error) {
	o := applyOptions(optFns)

	if o.iterations == 0 {
		return nil, ErrInvalidIterations
	}
	if o.precisionAt == 0 {
		o.precisionAt = train.Sampler().K() - 1
	}

	t := &Trainer{
		train:     train,
		embedder:  embedder,
		optimizer: optimizer,
		o:         o,
		next:      1,
	}

	if o.resume != nil {
		if err := t.restore(o.resume); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (t *Trainer) restore(state *checkpoint.State) error {
	// A checkpoint at exactly the configured count resumes into a completed
	// run: zero steps, final checkpoint re-saved.
	if state.Iteration > t.o.iterations {
		return &InvalidResumeError{
			Reason: fmt.Sprintf("checkpoint iteration %d is past the configured %d", state.Iteration, t.o.iterations),
		}
	}

	if err := t.embedder.Restore(state.Model); err != nil {
		return &InvalidResumeError{Reason: "model blob rejected", cause: err}
	}
	if err := t.optimizer.Restore(state.Optimizer); err != nil {
		return &InvalidResumeError{Reason: "optimizer blob rejected", cause: err}
	}
	if err := t.train.Sampler().Restore(state.Sampler); err != nil {
		return &InvalidResumeError{Reason: "sampler blob rejected", cause: err}
	}

	if t.o.runID == "" {
		t.o.runID = state.RunID
	}
	t.next = state.Iteration + 1

	return nil
}

// State returns the current lifecycle state.
func (t *Trainer) State() TrainerState {
	return TrainerState(t.state.Load())
}

func (t *Trainer) setState(s TrainerState) {
	t.state.Store(int32(s))
}

// Run executes the training loop until the configured iteration count is
// reached or ctx is cancelled. Cancellation is observed between steps only:
// the in-flight step completes, and a final checkpoint is written regardless
// of how the loop ends.
func (t *Trainer) Run(ctx context.Context) error {
	if !t.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRan
	}

	// Step operations run detached so a cancelled ctx cannot abort a step
	// half-applied. ctx is consulted only at the loop boundary.
	stepCtx := context.WithoutCancel(ctx)

	t.train.Start(stepCtx)
	defer t.train.Close()
	if t.o.evalPipeline != nil {
		t.o.evalPipeline.Start(stepCtx)
		defer t.o.evalPipeline.Close()
	}

	t.setState(StateRunning)
	defer t.setState(StateStopped)

	if t.next > 1 {
		t.o.logger.LogResume(ctx, t.next-1, t.o.runID)
	} else if t.o.store != nil {
		// Store the initialization so a run is reproducible from iteration 0.
		if err := t.saveCheckpoint(stepCtx, 0); err != nil {
			return err
		}
	}

	var (
		runErr        error
		lastCompleted = t.next - 1
		started       = time.Now()
		completed     uint64
	)

	for iter := t.next; iter <= t.o.iterations; iter++ {
		select {
		case <-ctx.Done():
			t.o.logger.InfoContext(stepCtx, "interrupted, stopping after completed step",
				"iteration", lastCompleted,
			)
			runErr = ctx.Err()
		default:
		}
		if runErr != nil {
			break
		}

		stepStart := time.Now()
		m, err := t.step(stepCtx, iter)
		if err != nil {
			runErr = fmt.Errorf("step %d: %w", iter, err)
			break
		}
		lastCompleted = iter
		completed++

		m.Duration = time.Since(stepStart)
		elapsed := time.Since(started)
		m.Remaining = time.Duration(float64(elapsed) / float64(completed) * float64(t.o.iterations-iter))

		if err := t.o.sinks.Record(stepCtx, m); err != nil {
			runErr = fmt.Errorf("record step %d: %w", iter, err)
			break
		}

		if t.checkpointDue(iter) {
			if err := t.saveCheckpoint(stepCtx, iter); err != nil {
				runErr = err
				break
			}
		}
	}

	// One final checkpoint regardless of how the loop ended.
	if t.o.store != nil && lastCompleted > 0 {
		if err := t.saveCheckpoint(stepCtx, lastCompleted); err != nil && runErr == nil {
			runErr = err
		}
	}

	return runErr
}

func (t *Trainer) checkpointDue(iter uint64) bool {
	if t.o.store == nil || t.o.checkpointFrequency == 0 {
		return false
	}
	// The final iteration is covered by the end-of-run checkpoint.
	return iter%t.o.checkpointFrequency == 0 && iter != t.o.iterations
}

func (t *Trainer) saveCheckpoint(ctx context.Context, iter uint64) error {
	t.setState(StateCheckpointing)
	defer t.setState(StateRunning)

	state, err := t.snapshot(iter)
	if err == nil {
		err = t.o.store.Save(ctx, state)
	}

	t.o.logger.LogCheckpoint(ctx, iter, err)
	if err != nil {
		return fmt.Errorf("checkpoint at %d: %w", iter, err)
	}
	return nil
}

func (t *Trainer) snapshot(iter uint64) (*checkpoint.State, error) {
	model, err := t.embedder.Snapshot()
	if err != nil {
		return nil, err
	}
	optim, err := t.optimizer.Snapshot()
	if err != nil {
		return nil, err
	}
	smp, err := t.train.Sampler().State()
	if err != nil {
		return nil, err
	}

	return &checkpoint.State{
		Iteration: iter,
		RunID:     t.o.runID,
		Model:     model,
		Optimizer: optim,
		Sampler:   smp,
	}, nil
}

func (t *Trainer) step(ctx context.Context, iter uint64) (*telemetry.StepMetrics, error) {
	batch, err := t.train.Next(ctx)
	if err != nil {
		return nil, err
	}

	emb, res, err := t.forward(ctx, batch)
	if err != nil {
		return nil, err
	}

	if err := t.optimizer.Apply(ctx, batch, emb, res); err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}

	m := &telemetry.StepMetrics{
		Iteration: iter,
		Train:     summarize(emb, res),
	}

	if t.o.evalPipeline != nil {
		evalBatch, err := t.o.evalPipeline.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("eval: %w", err)
		}
		evalEmb, evalRes, err := t.forward(ctx, evalBatch)
		if err != nil {
			return nil, fmt.Errorf("eval: %w", err)
		}
		m.Eval = summarize(evalEmb, evalRes)
	}

	if t.o.detailedLogs {
		m.Detail = detail(batch, emb, res)
	}

	return m, nil
}

// forward embeds a batch and mines it, without touching the optimizer.
func (t *Trainer) forward(ctx context.Context, batch *loader.Batch) (*Embeddings, *batchhard.Result, error) {
	emb, err := t.embedder.Embed(ctx, batch)
	if err != nil {
		return nil, nil, fmt.Errorf("embed: %w", err)
	}

	d, err := distance.Pairwise(emb.Vectors, t.o.metric)
	if err != nil {
		return nil, nil, err
	}

	res, err := batchhard.Compute(d, batch.Labels(), t.o.margin, t.o.precisionAt)
	if err != nil {
		return nil, nil, err
	}

	return emb, res, nil
}

func summarize(emb *Embeddings, res *batchhard.Result) *telemetry.Summary {
	raw := emb.Raw
	if raw == nil {
		raw = emb.Vectors
	}

	var normSum float32
	for _, v := range raw {
		normSum += vecmath.Norm(v)
	}
	var meanNorm float32
	if len(raw) > 0 {
		meanNorm = normSum / float32(len(raw))
	}

	return &telemetry.Summary{
		LossMin:           res.Min,
		LossMean:          res.Mean,
		LossMax:           res.Max,
		Top1:              res.Top1,
		PrecisionAtK:      res.PrecisionAtK,
		ActiveCount:       res.ActiveCount,
		MeanPositive:      res.MeanPositive,
		MeanNegative:      res.MeanNegative,
		MeanEmbeddingNorm: meanNorm,
	}
}

func detail(batch *loader.Batch, emb *Embeddings, res *batchhard.Result) *telemetry.StepDetail {
	dim := 0
	if len(emb.Vectors) > 0 {
		dim = len(emb.Vectors[0])
	}

	flat := make([]float32, 0, len(emb.Vectors)*dim)
	for _, v := range emb.Vectors {
		flat = append(flat, v...)
	}

	losses := make([]float32, len(res.Losses))
	copy(losses, res.Losses)

	return &telemetry.StepDetail{
		Embeddings: flat,
		Dim:        dim,
		Losses:     losses,
		Locators:   batch.Paths(),
	}
}

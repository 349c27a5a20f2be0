package loader

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/embedkit/trihard/sampler"
)

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithWorkers sets the loading parallelism. Defaults to GOMAXPROCS.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithRateLimit caps per-sample loads at r samples per second with the given
// burst. Useful when the image root sits on shared network storage.
func WithRateLimit(r rate.Limit, burst int) PipelineOption {
	return func(p *Pipeline) {
		p.limiter = rate.NewLimiter(r, burst)
	}
}

type result struct {
	batch *Batch
	err   error
}

// Pipeline connects a sampler to a loader: it draws batch plans, loads their
// samples on a bounded worker pool and hands out fully assembled batches.
//
// The output channel is buffered with depth one, so loading of batch i+1
// overlaps with computation on batch i but never runs further ahead.
type Pipeline struct {
	sampler *sampler.Sampler
	loader  Loader
	workers int
	limiter *rate.Limiter

	out       chan result
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewPipeline creates a pipeline over the given sampler and loader.
func NewPipeline(s *sampler.Sampler, l Loader, optFns ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sampler: s,
		loader:  l,
		workers: runtime.GOMAXPROCS(0),
		out:     make(chan result, 1),
		done:    make(chan struct{}),
	}
	for _, fn := range optFns {
		fn(p)
	}
	return p
}

// Sampler returns the pipeline's sampler, for state checkpointing.
func (p *Pipeline) Sampler() *sampler.Sampler {
	return p.sampler
}

// Start launches the producer goroutine. It is idempotent.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.produce(ctx)
	})
}

func (p *Pipeline) produce(ctx context.Context) {
	defer close(p.done)
	for {
		plan := p.sampler.Next()
		batch, err := p.loadPlan(ctx, plan)

		for {
			select {
			case p.out <- result{batch: batch, err: err}:
			case <-ctx.Done():
				return
			}
			if err == nil {
				break
			}
			// A failed load is terminal: keep reporting it to every caller.
		}
	}
}

// loadPlan loads all samples of one plan concurrently. Every sample lands in
// its plan slot, so the flat PK order survives out-of-order completion.
func (p *Pipeline) loadPlan(ctx context.Context, plan *sampler.Plan) (*Batch, error) {
	samples := make([]Sample, len(plan.Refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, ref := range plan.Refs {
		g.Go(func() error {
			if p.limiter != nil {
				if err := p.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			s, err := p.loader.Load(gctx, ref)
			if err != nil {
				return fmt.Errorf("slot %d: %w", i, err)
			}
			samples[i] = *s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Batch{Samples: samples, P: plan.P, K: plan.K}, nil
}

// Next returns the next loaded batch, blocking until one is ready. Start must
// have been called.
func (p *Pipeline) Next(ctx context.Context) (*Batch, error) {
	select {
	case r := <-p.out:
		return r.batch, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the producer and waits for it to exit.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
	})
}

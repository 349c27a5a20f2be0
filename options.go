package trihard

import (
	"github.com/embedkit/trihard/batchhard"
	"github.com/embedkit/trihard/checkpoint"
	"github.com/embedkit/trihard/distance"
	"github.com/embedkit/trihard/loader"
	"github.com/embedkit/trihard/telemetry"
)

type options struct {
	iterations          uint64
	metric              distance.Metric
	margin              batchhard.Margin
	precisionAt         int
	store               checkpoint.Store
	checkpointFrequency uint64
	sinks               telemetry.MultiSink
	logger              *Logger
	evalPipeline        *loader.Pipeline
	resume              *checkpoint.State
	runID               string
	detailedLogs        bool
}

// Option configures a Trainer.
type Option func(*options)

// WithIterations sets the total number of training iterations.
func WithIterations(n uint64) Option {
	return func(o *options) {
		o.iterations = n
	}
}

// WithMetric sets the distance metric used for mining. Defaults to euclidean.
func WithMetric(m distance.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithMargin sets the triplet margin policy. Defaults to the soft margin.
func WithMargin(m batchhard.Margin) Option {
	return func(o *options) {
		o.margin = m
	}
}

// WithPrecisionAt sets k for the precision-at-k statistic.
// Defaults to K-1, every other sample of the anchor's identity.
func WithPrecisionAt(k int) Option {
	return func(o *options) {
		o.precisionAt = k
	}
}

// WithCheckpointStore enables checkpointing: a snapshot is written every
// frequency iterations and once more when the run stops. frequency 0 keeps
// only the final snapshot.
func WithCheckpointStore(store checkpoint.Store, frequency uint64) Option {
	return func(o *options) {
		o.store = store
		o.checkpointFrequency = frequency
	}
}

// WithSinks sets the telemetry sinks fed after every step.
func WithSinks(sinks ...telemetry.Sink) Option {
	return func(o *options) {
		o.sinks = telemetry.MultiSink(sinks)
	}
}

// WithLogger configures structured logging for the run.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithEvalPipeline adds a held-out pipeline evaluated forward-only each step.
func WithEvalPipeline(p *loader.Pipeline) Option {
	return func(o *options) {
		o.evalPipeline = p
	}
}

// WithResume restores a previously checkpointed run. Model, optimizer and
// sampler state are restored wholesale and training continues at the
// checkpoint's next iteration.
func WithResume(state *checkpoint.State) Option {
	return func(o *options) {
		o.resume = state
	}
}

// WithRunID tags checkpoints and logs with an externally assigned run ID.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// WithDetailedLogs attaches the raw per-anchor batch data to every step's
// metrics, for sinks like telemetry.DetailDump.
func WithDetailedLogs() Option {
	return func(o *options) {
		o.detailedLogs = true
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		iterations: 25000,
		metric:     distance.MetricEuclidean,
		margin:     batchhard.SoftMargin(),
		logger:     NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

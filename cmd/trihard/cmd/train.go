package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/embedkit/trihard"
	"github.com/embedkit/trihard/batchhard"
	"github.com/embedkit/trihard/catalog"
	"github.com/embedkit/trihard/checkpoint"
	cps3 "github.com/embedkit/trihard/checkpoint/s3"
	"github.com/embedkit/trihard/distance"
	"github.com/embedkit/trihard/experiment"
	"github.com/embedkit/trihard/loader"
	"github.com/embedkit/trihard/nets"
	"github.com/embedkit/trihard/sampler"
	"github.com/embedkit/trihard/telemetry"
	"github.com/embedkit/trihard/util"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train an embedding model",
	Long: `Train an embedding model with batch-hard triplet mining.

A fresh run claims an empty experiment root and records its configuration
in args.json. With --resume, training continues from the latest checkpoint;
persisted arguments override differing supplied ones with a warning.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().String("experiment-root", "", "Directory for checkpoints, logs and args.json (required)")
	trainCmd.Flags().String("train-set", "", "CSV file of identity,image pairs (required)")
	trainCmd.Flags().String("image-root", "", "Directory the image paths are relative to (required)")
	trainCmd.Flags().String("test-set", "", "Optional held-out CSV evaluated forward-only each step")

	trainCmd.Flags().Int("batch-p", 32, "Identities per batch")
	trainCmd.Flags().Int("batch-k", 4, "Samples per identity per batch")
	trainCmd.Flags().Int("embedding-dim", 128, "Embedding dimensionality")

	trainCmd.Flags().Int("net-input-height", 256, "Network input height")
	trainCmd.Flags().Int("net-input-width", 128, "Network input width")
	trainCmd.Flags().Int("pre-crop-height", 288, "Resize height before random crop (with --crop-augment)")
	trainCmd.Flags().Int("pre-crop-width", 144, "Resize width before random crop (with --crop-augment)")

	trainCmd.Flags().String("metric", "euclidean", "Distance metric: euclidean, sqeuclidean")
	trainCmd.Flags().String("margin", "soft", "Triplet margin: soft, none, or a number")

	trainCmd.Flags().Float64("learning-rate", 3e-4, "Base learning rate")
	trainCmd.Flags().Uint64("iterations", 25000, "Total training iterations")
	trainCmd.Flags().Uint64("decay-start-iteration", 15000, "Iteration the learning-rate decay starts at")
	trainCmd.Flags().Uint64("checkpoint-frequency", 1000, "Iterations between checkpoints (0 = only final)")

	trainCmd.Flags().Int("loading-threads", 8, "Concurrent image loading workers")
	trainCmd.Flags().Bool("resume", false, "Resume from the latest checkpoint in the experiment root")
	trainCmd.Flags().Bool("flip-augment", false, "Random horizontal flip augmentation")
	trainCmd.Flags().Bool("rotate-augment", false, "Random rotation augmentation")
	trainCmd.Flags().Bool("crop-augment", false, "Random crop augmentation")
	trainCmd.Flags().Bool("detailed-logs", false, "Dump per-step embeddings, losses and locators")
	trainCmd.Flags().Uint64("seed", 42, "Seed for sampling and augmentation")

	trainCmd.Flags().String("checkpoint-uri", "", "Checkpoint destination, e.g. s3://bucket/prefix (default: <experiment-root>/checkpoints)")
	trainCmd.Flags().Uint64("keep-every", 0, "Prune local checkpoints, keeping multiples of N and the latest (0 = keep all)")
}

func argsFromFlags(cmd *cobra.Command) *experiment.Args {
	return &experiment.Args{
		ExperimentRoot:      mustGetString(cmd, "experiment-root"),
		TrainSet:            mustGetString(cmd, "train-set"),
		ImageRoot:           mustGetString(cmd, "image-root"),
		TestSet:             mustGetString(cmd, "test-set"),
		BatchP:              mustGetInt(cmd, "batch-p"),
		BatchK:              mustGetInt(cmd, "batch-k"),
		EmbeddingDim:        mustGetInt(cmd, "embedding-dim"),
		NetInputHeight:      mustGetInt(cmd, "net-input-height"),
		NetInputWidth:       mustGetInt(cmd, "net-input-width"),
		PreCropHeight:       mustGetInt(cmd, "pre-crop-height"),
		PreCropWidth:        mustGetInt(cmd, "pre-crop-width"),
		Metric:              mustGetString(cmd, "metric"),
		Margin:              mustGetString(cmd, "margin"),
		LearningRate:        mustGetFloat64(cmd, "learning-rate"),
		TrainIterations:     mustGetUint64(cmd, "iterations"),
		DecayStartIteration: mustGetUint64(cmd, "decay-start-iteration"),
		CheckpointFrequency: mustGetUint64(cmd, "checkpoint-frequency"),
		LoadingThreads:      mustGetInt(cmd, "loading-threads"),
		FlipAugment:         mustGetBool(cmd, "flip-augment"),
		RotateAugment:       mustGetBool(cmd, "rotate-augment"),
		CropAugment:         mustGetBool(cmd, "crop-augment"),
		DetailedLogs:        mustGetBool(cmd, "detailed-logs"),
		Seed:                mustGetUint64(cmd, "seed"),
	}
}

func runTrain(cmd *cobra.Command, _ []string) error {
	logger := trihard.NewTextLogger(slog.LevelInfo)
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := argsFromFlags(cmd)
	resume := mustGetBool(cmd, "resume")

	if err := validateArgs(args); err != nil {
		return err
	}

	if resume {
		merged, conflicts, err := experiment.Resume(args.ExperimentRoot, args)
		if err != nil {
			return err
		}
		logger.LogConflicts(ctx, conflicts)
		args = merged
	} else {
		if err := experiment.Fresh(args.ExperimentRoot, args); err != nil {
			return err
		}
	}
	logger = logger.WithRunID(args.RunID)

	for _, path := range []string{args.TrainSet, args.ImageRoot} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("required path: %w", err)
		}
	}

	metric, err := distance.ParseMetric(args.Metric)
	if err != nil {
		return err
	}
	margin, err := batchhard.ParseMargin(args.Margin)
	if err != nil {
		return err
	}

	trainPipe, err := buildPipeline(args, args.TrainSet, true)
	if err != nil {
		return err
	}

	inputDim := args.NetInputHeight * args.NetInputWidth * 3
	model := nets.NewLinear(inputDim, args.EmbeddingDim, util.NewRNG(args.Seed+2))
	optimizer := nets.NewSGD(model, metric, margin, args.LearningRate,
		nets.WithExponentialDecay(args.DecayStartIteration, args.TrainIterations),
	)

	store, err := buildStore(ctx, args.ExperimentRoot, mustGetString(cmd, "checkpoint-uri"))
	if err != nil {
		return err
	}

	csvSink, err := telemetry.NewCSVSink(args.ExperimentRoot)
	if err != nil {
		return err
	}
	sinks := []telemetry.Sink{
		telemetry.NewLogSink(logger.Logger),
		csvSink,
		newProgressSink(args.TrainIterations),
	}
	if args.DetailedLogs {
		dump, err := telemetry.NewDetailDump(args.ExperimentRoot)
		if err != nil {
			return err
		}
		sinks = append(sinks, dump)
	}

	opts := []trihard.Option{
		trihard.WithIterations(args.TrainIterations),
		trihard.WithMetric(metric),
		trihard.WithMargin(margin),
		trihard.WithCheckpointStore(store, args.CheckpointFrequency),
		trihard.WithSinks(sinks...),
		trihard.WithLogger(logger),
		trihard.WithRunID(args.RunID),
	}
	if args.DetailedLogs {
		opts = append(opts, trihard.WithDetailedLogs())
	}

	if args.TestSet != "" {
		evalPipe, err := buildPipeline(args, args.TestSet, false)
		if err != nil {
			return err
		}
		opts = append(opts, trihard.WithEvalPipeline(evalPipe))
	}

	if resume {
		state, err := store.Latest(ctx)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		opts = append(opts, trihard.WithResume(state))
	}

	trainer, err := trihard.New(trainPipe, model, optimizer, opts...)
	if err != nil {
		return err
	}

	runErr := trainer.Run(ctx)
	if err := telemetry.MultiSink(sinks).Close(); err != nil && runErr == nil {
		runErr = err
	}

	if keepEvery := mustGetUint64(cmd, "keep-every"); keepEvery > 0 && runErr == nil {
		if local, ok := store.(*checkpoint.LocalStore); ok {
			runErr = local.Retain(context.WithoutCancel(ctx), keepEvery)
		}
	}
	if runErr != nil && ctx.Err() != nil {
		// Interrupted runs checkpoint and exit clean.
		logger.InfoContext(context.WithoutCancel(ctx), "run interrupted, checkpoint written")
		return nil
	}
	return runErr
}

// validateArgs rejects configurations the training graph cannot be built
// from, before any experiment state is touched.
func validateArgs(args *experiment.Args) error {
	if args.ExperimentRoot == "" || args.TrainSet == "" || args.ImageRoot == "" {
		return fmt.Errorf("--experiment-root, --train-set and --image-root are required")
	}
	if args.EmbeddingDim <= 0 {
		return fmt.Errorf("--embedding-dim must be positive, got %d", args.EmbeddingDim)
	}
	if args.NetInputHeight <= 0 || args.NetInputWidth <= 0 {
		return fmt.Errorf("--net-input-height and --net-input-width must be positive, got %dx%d",
			args.NetInputHeight, args.NetInputWidth)
	}
	if args.CropAugment && (args.PreCropHeight < args.NetInputHeight || args.PreCropWidth < args.NetInputWidth) {
		return fmt.Errorf("--pre-crop size %dx%d must cover the net input %dx%d",
			args.PreCropHeight, args.PreCropWidth, args.NetInputHeight, args.NetInputWidth)
	}
	return nil
}

// buildStore resolves the checkpoint destination. Empty uri means a local
// store under the experiment root; s3://bucket/prefix uses the default AWS
// credential chain.
func buildStore(ctx context.Context, root, uri string) (checkpoint.Store, error) {
	if uri == "" {
		return checkpoint.NewLocalStore(filepath.Join(root, "checkpoints"))
	}

	if rest, ok := strings.CutPrefix(uri, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid checkpoint uri %q: missing bucket", uri)
		}

		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return cps3.NewStore(awss3.NewFromConfig(cfg), bucket, prefix), nil
	}

	return nil, fmt.Errorf("unsupported checkpoint uri %q", uri)
}

// buildPipeline assembles catalog, sampler and image loading for one dataset.
// Augmentation applies to the training pipeline only.
func buildPipeline(args *experiment.Args, dataset string, augment bool) (*loader.Pipeline, error) {
	cat, err := catalog.Load(dataset)
	if err != nil {
		return nil, err
	}

	smp, err := sampler.New(cat, args.BatchP, args.BatchK,
		sampler.WithRNG(util.NewRNG(args.Seed)),
	)
	if err != nil {
		return nil, err
	}

	var loaderOpts []loader.ImageOption
	if augment {
		if args.FlipAugment {
			loaderOpts = append(loaderOpts, loader.WithFlipAugment())
		}
		if args.RotateAugment {
			loaderOpts = append(loaderOpts, loader.WithRotateAugment())
		}
		if args.CropAugment {
			loaderOpts = append(loaderOpts, loader.WithCropAugment(args.PreCropHeight, args.PreCropWidth))
		}
		loaderOpts = append(loaderOpts, loader.WithImageRNG(util.NewRNG(args.Seed+1)))
	}

	img := loader.NewImageLoader(args.ImageRoot, args.NetInputHeight, args.NetInputWidth, loaderOpts...)

	return loader.NewPipeline(smp, img, loader.WithWorkers(args.LoadingThreads)), nil
}

// progressSink renders a progress bar with the running mean loss.
type progressSink struct {
	bar *progressbar.ProgressBar
}

func newProgressSink(iterations uint64) *progressSink {
	return &progressSink{
		bar: progressbar.NewOptions(int(iterations),
			progressbar.OptionSetDescription("training"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
		),
	}
}

func (s *progressSink) Record(ctx context.Context, m *telemetry.StepMetrics) error {
	s.bar.Describe(fmt.Sprintf("training (loss %.4f)", m.Train.LossMean))
	return s.bar.Set(int(m.Iteration))
}

func (s *progressSink) Close() error {
	return s.bar.Finish()
}

// Package trihard trains metric-learning embedding models with batch-hard
// triplet mining.
//
// A training run wires together a handful of small pieces:
//
//   - catalog: identity-labelled sample lists loaded from CSV
//   - sampler: PK-batch plans (P identities, K samples each)
//   - loader: image decoding and a concurrent prefetching pipeline
//   - distance: pairwise distance matrices over batch embeddings
//   - batchhard: hardest-positive/hardest-negative mining and the triplet loss
//   - checkpoint: resumable snapshots of model, optimizer and sampler state
//
// The Trainer in this package drives the loop: fetch a batch, embed it, mine
// it, apply an optimizer step, report metrics and periodically checkpoint.
// Interruption is graceful: the in-flight step always completes and a final
// checkpoint is written before Run returns.
//
// Quick start:
//
//	cat, _ := catalog.Load("train.csv")
//	smp, _ := sampler.New(cat, 32, 4, sampler.WithRNG(util.NewRNG(42)))
//	pipe := loader.NewPipeline(smp, loader.NewImageLoader(root, 256, 128))
//
//	store, _ := checkpoint.NewLocalStore("./exp/checkpoints")
//	trainer, _ := trihard.New(pipe, embedder, optimizer,
//	    trihard.WithIterations(25000),
//	    trihard.WithMargin(batchhard.SoftMargin()),
//	    trihard.WithCheckpointStore(store, 1000),
//	)
//	err := trainer.Run(ctx)
package trihard

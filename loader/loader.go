// Package loader turns sample references into in-memory tensors and feeds
// them to the training loop as PK batches.
//
// Loading is fanned out over a bounded worker pool. Results are written back
// into their plan slot, so batches always come out in the exact order the
// sampler established, no matter how loads interleave.
package loader

import (
	"context"

	"github.com/embedkit/trihard/catalog"
)

// Sample is one loaded batch entry: the originating reference plus its
// flattened tensor data.
type Sample struct {
	Ref      catalog.SampleRef
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// Batch is a fixed-size ordered sequence of loaded samples: P identity
// groups of K samples each. It is consumed by a single forward pass.
type Batch struct {
	Samples []Sample
	P       int
	K       int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Samples)
}

// Labels returns the identity label of every sample, aligned with Samples.
func (b *Batch) Labels() []string {
	labels := make([]string, len(b.Samples))
	for i, s := range b.Samples {
		labels[i] = s.Ref.Identity
	}
	return labels
}

// Paths returns the locator of every sample, aligned with Samples.
func (b *Batch) Paths() []string {
	paths := make([]string, len(b.Samples))
	for i, s := range b.Samples {
		paths[i] = s.Ref.Path
	}
	return paths
}

// Loader converts a sample reference into a loaded sample.
// Implementations must be safe for concurrent use.
type Loader interface {
	Load(ctx context.Context, ref catalog.SampleRef) (*Sample, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, ref catalog.SampleRef) (*Sample, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, ref catalog.SampleRef) (*Sample, error) {
	return f(ctx, ref)
}

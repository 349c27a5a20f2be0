// Package testutil provides testing helpers for the training packages.
//
// This package is intended for use in tests and benchmarks only. It builds
// small in-memory catalogs and deterministic sample loaders so cross-package
// tests can exercise full sampler/pipeline/trainer stacks without touching
// image files.
package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/embedkit/trihard/catalog"
	"github.com/embedkit/trihard/loader"
	"github.com/embedkit/trihard/util"
)

// Catalog builds a catalog with count samples per identity. Sample paths are
// "<identity>/<n>.jpg".
func Catalog(identities []string, count int) (*catalog.Catalog, error) {
	var sb strings.Builder
	for _, id := range identities {
		for i := 0; i < count; i++ {
			fmt.Fprintf(&sb, "%s,%s/%d.jpg\n", id, id, i)
		}
	}
	return catalog.Read(strings.NewReader(sb.String()))
}

func hashSeed(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// VectorLoader returns a loader producing deterministic dim-wide vectors:
// samples of one identity cluster around a shared center with small
// per-sample jitter, so identities are separable but never identical.
func VectorLoader(dim int) loader.LoaderFunc {
	return func(ctx context.Context, ref catalog.SampleRef) (*loader.Sample, error) {
		center := util.NewRNG(hashSeed(ref.Identity))
		jitter := util.NewRNG(hashSeed(ref.Path))

		data := make([]float32, dim)
		for i := range data {
			data[i] = center.Float32() + 0.01*jitter.Float32()
		}

		return &loader.Sample{Ref: ref, Data: data}, nil
	}
}

// FailingLoader returns a loader that fails every load with err.
func FailingLoader(err error) loader.LoaderFunc {
	return func(ctx context.Context, ref catalog.SampleRef) (*loader.Sample, error) {
		return nil, err
	}
}

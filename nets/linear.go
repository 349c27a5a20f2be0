// Package nets provides a reference embedding model and optimizer that plug
// into the Trainer: a linear projection trained by SGD with analytic
// batch-hard gradients. It keeps end-to-end runs self-contained; heavier
// models satisfy the same interfaces externally.
package nets

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"

	"github.com/embedkit/trihard"
	"github.com/embedkit/trihard/internal/vecmath"
	"github.com/embedkit/trihard/loader"
	"github.com/embedkit/trihard/util"
)

// Linear embeds samples with a single dense projection y = Wx.
type Linear struct {
	in  int
	out int
	// w is row-major: w[r*in : (r+1)*in] is output row r.
	w []float32
}

// NewLinear creates a linear embedder from in input features to out
// embedding dimensions, with Xavier-uniform initialized weights.
func NewLinear(in, out int, rng *util.RNG) *Linear {
	limit := float32(math.Sqrt(6 / float64(in+out)))

	w := make([]float32, in*out)
	for i := range w {
		w[i] = rng.Float32()*2*limit - limit
	}

	return &Linear{in: in, out: out, w: w}
}

// InputDim returns the expected flat sample size.
func (l *Linear) InputDim() int { return l.in }

// OutputDim returns the embedding dimensionality.
func (l *Linear) OutputDim() int { return l.out }

// Embed implements trihard.Embedder.
func (l *Linear) Embed(ctx context.Context, batch *loader.Batch) (*trihard.Embeddings, error) {
	vectors := make([][]float32, len(batch.Samples))

	for i, s := range batch.Samples {
		if len(s.Data) != l.in {
			return nil, fmt.Errorf("sample %q: %d features, model expects %d", s.Ref.Path, len(s.Data), l.in)
		}

		y := make([]float32, l.out)
		for r := 0; r < l.out; r++ {
			y[r] = vecmath.Dot(l.w[r*l.in:(r+1)*l.in], s.Data)
		}
		vectors[i] = y
	}

	return &trihard.Embeddings{Vectors: vectors}, nil
}

type linearState struct {
	In  int
	Out int
	W   []float32
}

// Snapshot implements trihard.Embedder.
func (l *Linear) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(linearState{In: l.in, Out: l.out, W: l.w}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore implements trihard.Embedder.
func (l *Linear) Restore(state []byte) error {
	var s linearState
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&s); err != nil {
		return err
	}
	if s.In != l.in || s.Out != l.out {
		return fmt.Errorf("snapshot shape %dx%d does not match model %dx%d", s.Out, s.In, l.out, l.in)
	}

	l.w = s.W
	return nil
}

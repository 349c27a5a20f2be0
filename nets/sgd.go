package nets

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"

	"github.com/embedkit/trihard"
	"github.com/embedkit/trihard/batchhard"
	"github.com/embedkit/trihard/distance"
	"github.com/embedkit/trihard/internal/vecmath"
	"github.com/embedkit/trihard/loader"
)

// distEps guards the euclidean gradient against division by a zero distance.
const distEps = 1e-12

// SGDOption configures an SGD optimizer.
type SGDOption func(*SGD)

// WithExponentialDecay decays the learning rate by a factor of 1000 between
// startIter and endIter, matching the classic triplet-training schedule.
func WithExponentialDecay(startIter, endIter uint64) SGDOption {
	return func(s *SGD) {
		s.decayStart = startIter
		s.decayEnd = endIter
	}
}

// SGD trains a Linear embedder by plain gradient descent on the batch-hard
// loss. Gradients are analytic: the margin policy and the distance metric are
// differentiated directly, no autograd involved.
type SGD struct {
	model  *Linear
	metric distance.Metric
	margin batchhard.Margin
	lr     float64

	decayStart uint64
	decayEnd   uint64

	step uint64
}

// NewSGD creates an optimizer for model. metric and margin must match what
// the trainer mines with, since the gradient differentiates through both.
func NewSGD(model *Linear, metric distance.Metric, margin batchhard.Margin, lr float64, optFns ...SGDOption) *SGD {
	s := &SGD{
		model:  model,
		metric: metric,
		margin: margin,
		lr:     lr,
	}

	for _, fn := range optFns {
		fn(s)
	}

	return s
}

// learningRate returns the rate for the current step.
func (s *SGD) learningRate() float64 {
	if s.decayEnd <= s.decayStart || s.step <= s.decayStart {
		return s.lr
	}

	t := float64(s.step-s.decayStart) / float64(s.decayEnd-s.decayStart)
	if t > 1 {
		t = 1
	}
	return s.lr * math.Pow(1e-3, t)
}

// Apply implements trihard.Optimizer.
func (s *SGD) Apply(ctx context.Context, batch *loader.Batch, emb *trihard.Embeddings, res *batchhard.Result) error {
	n := len(emb.Vectors)
	if n == 0 {
		return nil
	}

	validCount := 0
	for _, v := range res.Valid {
		if v {
			validCount++
		}
	}
	s.step++
	if validCount == 0 {
		return nil
	}

	gradY := s.embeddingGrads(emb.Vectors, res, validCount)

	// Backprop through y = Wx: dW[r] += gradY[r] * x.
	lr := float32(s.learningRate())
	for i, gy := range gradY {
		if gy == nil {
			continue
		}
		x := batch.Samples[i].Data
		if len(x) != s.model.in {
			return fmt.Errorf("sample %q: %d features, model expects %d", batch.Samples[i].Ref.Path, len(x), s.model.in)
		}
		for r := 0; r < s.model.out; r++ {
			if gy[r] == 0 {
				continue
			}
			vecmath.AxpyInPlace(s.model.w[r*s.model.in:(r+1)*s.model.in], -lr*gy[r], x)
		}
	}

	return nil
}

// embeddingGrads computes dLoss/dEmbedding for the mean loss over valid
// anchors. Rows with no contribution stay nil.
func (s *SGD) embeddingGrads(vectors [][]float32, res *batchhard.Result, validCount int) [][]float32 {
	n := len(vectors)
	dim := len(vectors[0])

	gradY := make([][]float32, n)
	grad := func(i int) []float32 {
		if gradY[i] == nil {
			gradY[i] = make([]float32, dim)
		}
		return gradY[i]
	}

	scale := 1 / float32(validCount)
	diff := make([]float32, dim)

	for i := 0; i < n; i++ {
		if !res.Valid[i] {
			continue
		}
		p, nn := res.PositiveIndex[i], res.NegativeIndex[i]

		gap := res.HardestPositive[i] - res.HardestNegative[i]
		g := s.margin.Grad(gap) * scale
		if g == 0 {
			continue
		}

		// d(a,p) pulls anchor and positive together.
		s.pairGrad(diff, vectors[i], vectors[p], res.HardestPositive[i])
		vecmath.AxpyInPlace(grad(i), g, diff)
		vecmath.AxpyInPlace(grad(p), -g, diff)

		// -d(a,n) pushes anchor and negative apart.
		s.pairGrad(diff, vectors[i], vectors[nn], res.HardestNegative[i])
		vecmath.AxpyInPlace(grad(i), -g, diff)
		vecmath.AxpyInPlace(grad(nn), g, diff)
	}

	return gradY
}

// pairGrad writes d dist(a,b) / d a into dst; the gradient w.r.t. b is its
// negation. dist is the already-computed distance between a and b.
func (s *SGD) pairGrad(dst, a, b []float32, dist float32) {
	vecmath.SubInto(dst, a, b)

	switch s.metric {
	case distance.MetricSquaredEuclidean:
		vecmath.ScaleInPlace(dst, 2)
	default:
		if dist < distEps {
			dist = distEps
		}
		vecmath.ScaleInPlace(dst, 1/dist)
	}
}

type sgdState struct {
	Step uint64
	LR   float64
}

// Snapshot implements trihard.Optimizer.
func (s *SGD) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sgdState{Step: s.step, LR: s.lr}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore implements trihard.Optimizer.
func (s *SGD) Restore(state []byte) error {
	var st sgdState
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&st); err != nil {
		return err
	}

	s.step = st.Step
	s.lr = st.LR
	return nil
}

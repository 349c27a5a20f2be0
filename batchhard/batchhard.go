// Package batchhard implements batch-hard triplet mining: for every anchor
// in a batch it finds the hardest positive (same identity, farthest) and the
// hardest negative (different identity, closest) and derives a per-anchor
// loss plus ranking diagnostics from the two distances.
//
// Anchors whose identity appears only once in the batch have no positive;
// they contribute zero loss and are excluded from all means. All reductions
// run over explicitly masked sets seeded with ±Inf sentinels, never zero,
// since zero is a valid distance.
package batchhard

import (
	"fmt"
	"math"
	"sort"

	"github.com/embedkit/trihard/distance"
)

var (
	negInf = float32(math.Inf(-1))
	posInf = float32(math.Inf(1))
)

// Result holds the per-anchor mining output and batch-level diagnostics.
type Result struct {
	// Losses has one entry per anchor; zero for anchors without a valid
	// triplet.
	Losses []float32
	// Valid marks anchors that had both a positive and a negative.
	Valid []bool

	// HardestPositive and HardestNegative are the mined distances per
	// anchor. Entries for invalid anchors are meaningless.
	HardestPositive []float32
	HardestNegative []float32
	// PositiveIndex and NegativeIndex are the mined sample indices per
	// anchor, -1 where no candidate existed.
	PositiveIndex []int
	NegativeIndex []int

	// Min, Mean and Max summarize Losses over valid anchors.
	Min  float32
	Mean float32
	Max  float32
	// ActiveCount is the number of anchors with a loss above 1e-5.
	ActiveCount int
	// Top1 is the fraction of valid anchors whose hardest negative is
	// farther than their hardest positive.
	Top1 float32
	// PrecisionAtK is the mean fraction of each anchor's k nearest other
	// samples sharing its identity.
	PrecisionAtK float32
	// MeanPositive and MeanNegative are the mined distances averaged over
	// valid anchors.
	MeanPositive float32
	MeanNegative float32
}

// Compute mines the batch. labels must align with the rows of d; precAt is
// the k for precision-at-k (typically K-1) and may be 0 to skip it.
func Compute(d *distance.Matrix, labels []string, margin Margin, precAt int) (*Result, error) {
	n := d.N()
	if len(labels) != n {
		return nil, fmt.Errorf("label count %d does not match matrix size %d", len(labels), n)
	}
	if precAt < 0 || precAt > n-1 {
		return nil, fmt.Errorf("precision-at-k out of range: %d (batch size %d)", precAt, n)
	}

	r := &Result{
		Losses:          make([]float32, n),
		Valid:           make([]bool, n),
		HardestPositive: make([]float32, n),
		HardestNegative: make([]float32, n),
		PositiveIndex:   make([]int, n),
		NegativeIndex:   make([]int, n),
	}

	var (
		validCount int
		lossSum    float64
		posSum     float64
		negSum     float64
		top1Hits   int
	)
	r.Min = posInf
	r.Max = negInf

	for i := 0; i < n; i++ {
		row := d.Row(i)

		hardestPos, posIdx := negInf, -1
		hardestNeg, negIdx := posInf, -1
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if labels[j] == labels[i] {
				if row[j] > hardestPos {
					hardestPos, posIdx = row[j], j
				}
			} else {
				if row[j] < hardestNeg {
					hardestNeg, negIdx = row[j], j
				}
			}
		}

		r.HardestPositive[i] = hardestPos
		r.HardestNegative[i] = hardestNeg
		r.PositiveIndex[i] = posIdx
		r.NegativeIndex[i] = negIdx

		if posIdx < 0 || negIdx < 0 {
			// No positive (singleton identity) or no negative (single
			// identity batch): excluded from every reduction.
			continue
		}

		r.Valid[i] = true
		validCount++

		loss := margin.Apply(hardestPos - hardestNeg)
		r.Losses[i] = loss

		lossSum += float64(loss)
		posSum += float64(hardestPos)
		negSum += float64(hardestNeg)
		if loss < r.Min {
			r.Min = loss
		}
		if loss > r.Max {
			r.Max = loss
		}
		if loss > 1e-5 {
			r.ActiveCount++
		}
		if hardestNeg > hardestPos {
			top1Hits++
		}
	}

	if validCount > 0 {
		r.Mean = float32(lossSum / float64(validCount))
		r.MeanPositive = float32(posSum / float64(validCount))
		r.MeanNegative = float32(negSum / float64(validCount))
		r.Top1 = float32(top1Hits) / float32(validCount)
	} else {
		r.Min, r.Max = 0, 0
	}

	if precAt > 0 {
		r.PrecisionAtK = precisionAtK(d, labels, precAt)
	}

	return r, nil
}

// precisionAtK computes, per anchor, the fraction of its k nearest other
// samples sharing the anchor's identity, averaged over all anchors.
func precisionAtK(d *distance.Matrix, labels []string, k int) float32 {
	n := d.N()
	order := make([]int, 0, n-1)

	var sum float64
	for i := 0; i < n; i++ {
		row := d.Row(i)

		order = order[:0]
		for j := 0; j < n; j++ {
			if j != i {
				order = append(order, j)
			}
		}
		sort.SliceStable(order, func(a, b int) bool {
			return row[order[a]] < row[order[b]]
		})

		hits := 0
		for _, j := range order[:k] {
			if labels[j] == labels[i] {
				hits++
			}
		}
		sum += float64(hits) / float64(k)
	}

	return float32(sum / float64(n))
}

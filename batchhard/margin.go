package batchhard

import (
	"fmt"
	"math"
	"strconv"
)

// MarginMode selects how the positive/negative distance gap is turned into a
// per-anchor loss.
type MarginMode int

const (
	// MarginFixed applies max(0, gap + margin).
	MarginFixed MarginMode = iota
	// MarginSoft applies log(1 + exp(gap)): smooth, strictly positive, and
	// free of the margin hyperparameter.
	MarginSoft
	// MarginNone passes the raw gap through, for diagnostics and ablations.
	MarginNone
)

// Margin is a margin policy. The zero value is a fixed margin of 0.
type Margin struct {
	Mode  MarginMode
	Value float32
}

// FixedMargin returns a fixed numeric margin policy.
func FixedMargin(value float32) Margin {
	return Margin{Mode: MarginFixed, Value: value}
}

// SoftMargin returns the soft-margin policy.
func SoftMargin() Margin {
	return Margin{Mode: MarginSoft}
}

// NoMargin returns the unclipped pass-through policy.
func NoMargin() Margin {
	return Margin{Mode: MarginNone}
}

// ParseMargin parses a margin argument: "soft", "none", or a float value for
// a fixed margin.
func ParseMargin(s string) (Margin, error) {
	switch s {
	case "soft":
		return SoftMargin(), nil
	case "none":
		return NoMargin(), nil
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return Margin{}, fmt.Errorf("invalid margin %q: expected \"soft\", \"none\" or a number", s)
	}
	return FixedMargin(float32(v)), nil
}

func (m Margin) String() string {
	switch m.Mode {
	case MarginSoft:
		return "soft"
	case MarginNone:
		return "none"
	default:
		return strconv.FormatFloat(float64(m.Value), 'g', -1, 32)
	}
}

// Apply converts a hardest-positive minus hardest-negative gap into a loss.
func (m Margin) Apply(gap float32) float32 {
	switch m.Mode {
	case MarginSoft:
		return softplus(gap)
	case MarginNone:
		return gap
	default:
		if l := gap + m.Value; l > 0 {
			return l
		}
		return 0
	}
}

// Grad returns dLoss/dGap, used by optimizers that differentiate through the
// margin policy.
func (m Margin) Grad(gap float32) float32 {
	switch m.Mode {
	case MarginSoft:
		// Sigmoid of the gap.
		return float32(1 / (1 + math.Exp(-float64(gap))))
	case MarginNone:
		return 1
	default:
		if gap+m.Value > 0 {
			return 1
		}
		return 0
	}
}

// softplus computes log(1+exp(x)) without overflowing for large x.
func softplus(x float32) float32 {
	fx := float64(x)
	if fx > 0 {
		return float32(fx + math.Log1p(math.Exp(-fx)))
	}
	return float32(math.Log1p(math.Exp(fx)))
}

// Package vecmath provides scalar float32 kernels shared by the distance
// and loss packages.
package vecmath

import "math"

// Dot calculates the dot product of two vectors.
//
// SAFETY: This function assumes len(a) == len(b).
// It does NOT perform bounds checks for performance reasons.
func Dot(a, b []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * b[i]
	}

	return ret
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
//
// SAFETY: This function assumes len(a) == len(b).
func SquaredL2(a, b []float32) float32 {
	var ret float32
	for i := range a {
		d := a[i] - b[i]
		ret += d * d
	}

	return ret
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// ScaleInPlace multiplies every element of a by scalar.
func ScaleInPlace(a []float32, scalar float32) {
	for i := range a {
		a[i] *= scalar
	}
}

// AxpyInPlace performs y[i] += alpha * x[i].
//
// SAFETY: This function assumes len(x) == len(y).
func AxpyInPlace(y []float32, alpha float32, x []float32) {
	for i := range y {
		y[i] += alpha * x[i]
	}
}

// SubInto stores a[i] - b[i] into dst.
//
// SAFETY: This function assumes all slices share the same length.
func SubInto(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] - b[i]
	}
}

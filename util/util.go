// Package util provides small shared helpers, most notably a seeded,
// serializable random number generator used to make sampling reproducible.
package util

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe, and its internal state can be persisted and restored
// so that a resumed run continues the exact same random stream.
type RNG struct {
	src  *rand.PCG
	rand *rand.Rand
	seed uint64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed uint64) *RNG {
	src := rand.NewPCG(seed, seed)
	return &RNG{
		src:  src,
		rand: rand.New(src),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() uint64 {
	return r.seed
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.src.Seed(r.seed, r.seed)
}

// IntN returns a non-negative pseudo-random number in [0,n).
func (r *RNG) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.IntN(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// NormFloat64 returns a normally distributed pseudo-random number.
func (r *RNG) NormFloat64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.NormFloat64()
}

// Perm returns a pseudo-random permutation of the integers [0,n).
func (r *RNG) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Perm(n)
}

// Shuffle pseudo-randomizes the order of n elements using the given swap function.
func (r *RNG) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Shuffle(n, swap)
}

// MarshalBinary encodes the current generator state.
func (r *RNG) MarshalBinary() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.MarshalBinary()
}

// UnmarshalBinary restores a previously marshaled generator state.
func (r *RNG) UnmarshalBinary(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.src.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("restore rng state: %w", err)
	}
	return nil
}

// GenerateRandomVectors generates random vectors using the given RNG.
func (r *RNG) GenerateRandomVectors(num int, dimensions int) [][]float32 {
	vectors := make([][]float32, num)
	for i := range vectors {
		vectors[i] = make([]float32, dimensions)
		for j := range vectors[i] {
			vectors[i][j] = r.Float32()
		}
	}

	return vectors
}

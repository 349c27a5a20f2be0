// Package sampler produces an unbounded stream of PK-balanced batch plans:
// P identities per batch, K samples per identity.
//
// Identities are shuffled once per epoch and the epoch is truncated to a
// multiple of P, so no partial identity group is ever carried over. Within an
// identity, K samples are drawn by shuffling a padded index pool, which
// oversamples as evenly as possible when an identity has fewer than K
// samples.
package sampler

import (
	"errors"
	"fmt"

	"github.com/embedkit/trihard/catalog"
	"github.com/embedkit/trihard/util"
)

var (
	// ErrInvalidP is returned when P is not positive.
	ErrInvalidP = errors.New("batch P must be positive")
	// ErrInvalidK is returned when K is not positive.
	ErrInvalidK = errors.New("batch K must be positive")
)

// InsufficientIdentitiesError indicates that the catalog holds fewer unique
// identities than one batch requires.
type InsufficientIdentitiesError struct {
	Have int
	Need int
}

func (e *InsufficientIdentitiesError) Error() string {
	return fmt.Sprintf("insufficient identities: need at least %d, catalog has %d", e.Need, e.Have)
}

// Plan is the flat ordered selection for one batch: P identity groups of K
// samples each, in shuffled identity order. Identity labels travel with
// their locators so that concurrent loading stages stay reordering-safe.
type Plan struct {
	Refs []catalog.SampleRef
	P    int
	K    int
}

// Size returns the number of samples in the plan (always P*K).
func (p *Plan) Size() int {
	return len(p.Refs)
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithRNG injects the random source. Defaults to a generator seeded with 1.
func WithRNG(rng *util.RNG) Option {
	return func(s *Sampler) {
		s.rng = rng
	}
}

// Sampler emits PK batch plans indefinitely. It is not safe for concurrent
// use; a training pipeline drives it from a single goroutine.
type Sampler struct {
	cat *catalog.Catalog
	p   int
	k   int
	rng *util.RNG

	epoch []string // current epoch's identity order, truncated to a multiple of p
	pos   int
}

// New creates a PK sampler over the given catalog.
func New(cat *catalog.Catalog, p, k int, optFns ...Option) (*Sampler, error) {
	if p < 1 {
		return nil, ErrInvalidP
	}
	if k < 1 {
		return nil, ErrInvalidK
	}
	if n := cat.NumIdentities(); n < p {
		return nil, &InsufficientIdentitiesError{Have: n, Need: p}
	}

	s := &Sampler{
		cat: cat,
		p:   p,
		k:   k,
	}
	for _, fn := range optFns {
		fn(s)
	}
	if s.rng == nil {
		s.rng = util.NewRNG(1)
	}

	return s, nil
}

// P returns the number of identities per batch.
func (s *Sampler) P() int { return s.p }

// K returns the number of samples per identity.
func (s *Sampler) K() int { return s.k }

// RNG returns the sampler's random source, for state checkpointing.
func (s *Sampler) RNG() *util.RNG { return s.rng }

// Next returns the plan for the next batch. It never fails and never
// exhausts: epochs repeat indefinitely with a fresh identity shuffle each.
func (s *Sampler) Next() *Plan {
	if s.pos >= len(s.epoch) {
		s.rebuildEpoch()
	}

	identities := s.epoch[s.pos : s.pos+s.p]
	s.pos += s.p

	refs := make([]catalog.SampleRef, 0, s.p*s.k)
	for _, identity := range identities {
		refs = append(refs, s.sampleK(identity)...)
	}

	return &Plan{Refs: refs, P: s.p, K: s.k}
}

// rebuildEpoch reshuffles all identities and truncates to a multiple of P.
func (s *Sampler) rebuildEpoch() {
	all := s.cat.Identities()
	epoch := make([]string, len(all))
	copy(epoch, all)
	s.rng.Shuffle(len(epoch), func(i, j int) {
		epoch[i], epoch[j] = epoch[j], epoch[i]
	})

	s.epoch = epoch[:(len(epoch)/s.p)*s.p]
	s.pos = 0
}

// sampleK selects K samples of one identity. With count >= K this is a
// uniform K-subset without replacement. With count < K, a padded index pool
// (each sample repeated ceil(K/count) times) is shuffled and cut to K, so
// every sample appears between floor(K/count) and ceil(K/count) times.
func (s *Sampler) sampleK(identity string) []catalog.SampleRef {
	samples, err := s.cat.Samples(identity)
	if err != nil {
		// The epoch is built from the catalog's own identity list; a miss
		// here means the catalog was mutated, which its contract forbids.
		panic(fmt.Sprintf("sampler: %v", err))
	}

	count := len(samples)
	padded := ((s.k + count - 1) / count) * count

	indices := make([]int, padded)
	for i := range indices {
		indices[i] = i % count
	}
	s.rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	selected := make([]catalog.SampleRef, s.k)
	for i := 0; i < s.k; i++ {
		selected[i] = samples[indices[i]]
	}
	return selected
}

// State returns the serialized random-source state.
func (s *Sampler) State() ([]byte, error) {
	return s.rng.MarshalBinary()
}

// Restore replaces the random-source state with a previously serialized one.
// The epoch position itself is not persisted: a resumed run starts a fresh
// epoch, but from the restored random stream.
func (s *Sampler) Restore(state []byte) error {
	if err := s.rng.UnmarshalBinary(state); err != nil {
		return err
	}
	s.epoch = nil
	s.pos = 0
	return nil
}

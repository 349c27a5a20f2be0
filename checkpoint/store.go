// Package checkpoint persists versioned snapshots of full training state,
// keyed by iteration number.
//
// A snapshot bundles the model parameters, the optimizer internals and the
// sampler's random-source state as opaque blobs, so a resumed run restores
// everything wholesale instead of field by field. Stores publish a CURRENT
// pointer after every successful save, making "latest" lookup cheap and the
// publish step atomic.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoCheckpoint is returned when a store holds no checkpoint yet.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// CurrentName is the name of the latest-checkpoint pointer entry.
const CurrentName = "CURRENT"

// State is one full training snapshot. The blobs are opaque to the store:
// their encoding belongs to the components that produced them.
type State struct {
	Iteration uint64
	RunID     string
	Model     []byte
	Optimizer []byte
	Sampler   []byte
}

// Store is a versioned checkpoint store.
type Store interface {
	// Save persists the state under its iteration number and publishes it
	// as the latest checkpoint.
	Save(ctx context.Context, state *State) error
	// Load returns the checkpoint for a specific iteration, or
	// ErrNoCheckpoint.
	Load(ctx context.Context, iteration uint64) (*State, error)
	// Latest returns the most recently published checkpoint, or
	// ErrNoCheckpoint.
	Latest(ctx context.Context) (*State, error)
	// Iterations lists all stored checkpoint iterations in ascending order.
	Iterations(ctx context.Context) ([]uint64, error)
}

// FileName returns the canonical checkpoint file name for an iteration.
func FileName(iteration uint64) string {
	return fmt.Sprintf("checkpoint-%09d.ckpt", iteration)
}

// ParseFileName extracts the iteration from a canonical checkpoint name.
func ParseFileName(name string) (uint64, bool) {
	var iteration uint64
	n, err := fmt.Sscanf(name, "checkpoint-%d.ckpt", &iteration)
	if err != nil || n != 1 {
		return 0, false
	}
	return iteration, true
}

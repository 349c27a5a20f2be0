package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/embedkit/trihard/internal/mmap"
)

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithCompression sets the payload codec. Defaults to zstd.
func WithCompression(c Compression) LocalOption {
	return func(s *LocalStore) {
		s.compression = c
	}
}

// LocalStore keeps checkpoints as files in a directory. Saves are atomic:
// data is written to a temp file, fsynced and renamed, and only then the
// CURRENT pointer is updated the same way.
type LocalStore struct {
	dir         string
	compression Compression
}

// NewLocalStore creates a local checkpoint store rooted at dir.
func NewLocalStore(dir string, optFns ...LocalOption) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	s := &LocalStore{dir: dir, compression: CompressionZstd}
	for _, fn := range optFns {
		fn(s)
	}
	return s, nil
}

// Save implements Store.
func (s *LocalStore) Save(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := EncodeBytes(state, s.compression)
	if err != nil {
		return err
	}

	name := FileName(state.Iteration)
	if err := s.writeAtomic(name, data); err != nil {
		return fmt.Errorf("save checkpoint %d: %w", state.Iteration, err)
	}
	if err := s.writeAtomic(CurrentName, []byte(name)); err != nil {
		return fmt.Errorf("publish checkpoint %d: %w", state.Iteration, err)
	}
	return s.syncDir()
}

// writeAtomic writes data to a temp file, fsyncs and renames into place.
func (s *LocalStore) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *LocalStore) syncDir() error {
	f, err := os.Open(s.dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Load implements Store.
func (s *LocalStore) Load(ctx context.Context, iteration uint64) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read(FileName(iteration))
}

// Latest implements Store.
func (s *LocalStore) Latest(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filepath.Join(s.dir, CurrentName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, err
	}

	return s.read(strings.TrimSpace(string(content)))
}

// read decodes one checkpoint file through a read-only mapping.
func (s *LocalStore) read(name string) (*State, error) {
	m, err := mmap.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, err
	}
	defer m.Close()

	return Decode(bytes.NewReader(m.Data))
}

// Iterations implements Store.
func (s *LocalStore) Iterations(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var iterations []uint64
	for _, e := range entries {
		if iter, ok := ParseFileName(e.Name()); ok {
			iterations = append(iterations, iter)
		}
	}
	sort.Slice(iterations, func(i, j int) bool { return iterations[i] < iterations[j] })
	return iterations, nil
}

// Retain prunes stored checkpoints, keeping only iterations that are a
// multiple of keepEvery plus the latest one.
func (s *LocalStore) Retain(ctx context.Context, keepEvery uint64) error {
	if keepEvery == 0 {
		return nil
	}

	iterations, err := s.Iterations(ctx)
	if err != nil {
		return err
	}
	if len(iterations) == 0 {
		return nil
	}

	latest := iterations[len(iterations)-1]
	for _, iter := range iterations {
		if iter == latest || iter%keepEvery == 0 {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, FileName(iter))); err != nil {
			return fmt.Errorf("prune checkpoint %d: %w", iter, err)
		}
	}
	return nil
}

package telemetry

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// File names used by DetailDump inside the experiment root.
const (
	EmbeddingsFileName = "embeddings.f32"
	LossesFileName     = "losses.f32"
	LocatorsFileName   = "locators.txt"
)

// DetailDump appends every step's raw batch data to three flat files:
// little-endian float32 embeddings and losses, plus one locator per line.
// Steps without Detail are skipped.
type DetailDump struct {
	embeddings *bufio.Writer
	losses     *bufio.Writer
	locators   *bufio.Writer

	files []*os.File
}

// NewDetailDump opens the dump files under dir in append mode.
func NewDetailDump(dir string) (*DetailDump, error) {
	d := &DetailDump{}

	open := func(name string) (*bufio.Writer, error) {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open dump file %s: %w", name, err)
		}
		d.files = append(d.files, f)
		return bufio.NewWriter(f), nil
	}

	var err error
	if d.embeddings, err = open(EmbeddingsFileName); err != nil {
		d.Close()
		return nil, err
	}
	if d.losses, err = open(LossesFileName); err != nil {
		d.Close()
		return nil, err
	}
	if d.locators, err = open(LocatorsFileName); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

func writeFloats(w *bufio.Writer, values []float32) error {
	var buf [4]byte
	for _, v := range values {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// Record implements Sink.
func (d *DetailDump) Record(ctx context.Context, m *StepMetrics) error {
	if m.Detail == nil {
		return nil
	}

	if err := writeFloats(d.embeddings, m.Detail.Embeddings); err != nil {
		return err
	}
	if err := writeFloats(d.losses, m.Detail.Losses); err != nil {
		return err
	}
	for _, loc := range m.Detail.Locators {
		if _, err := fmt.Fprintln(d.locators, loc); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Sink.
func (d *DetailDump) Close() error {
	var firstErr error
	for _, w := range []*bufio.Writer{d.embeddings, d.losses, d.locators} {
		if w == nil {
			continue
		}
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range d.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

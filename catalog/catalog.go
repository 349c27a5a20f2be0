// Package catalog builds an immutable identity-indexed view over a dataset
// descriptor file.
//
// The descriptor is a CSV table with one row per sample: the first column is
// the identity label, the second a sample locator (usually an image path
// relative to some image root). The catalog groups rows by identity and is
// safe for concurrent readers after construction.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// ErrUnknownIdentity is returned when looking up an identity that is not in
// the catalog.
var ErrUnknownIdentity = errors.New("unknown identity")

// FormatError indicates a malformed or empty dataset descriptor.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type FormatError struct {
	Line   int
	Reason string
	cause  error
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("dataset format error at line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("dataset format error: %s", e.Reason)
}

func (e *FormatError) Unwrap() error { return e.cause }

// SampleRef identifies one sample: an identity label plus a locator.
// It is immutable once the catalog is built.
type SampleRef struct {
	Identity string
	Path     string
}

// Catalog maps identities to their samples. It keeps the flat row order of
// the descriptor and a per-identity posting list of row IDs.
type Catalog struct {
	samples    []SampleRef
	identities []string
	byIdentity map[string]*roaring.Bitmap
}

// Load reads a dataset descriptor from the given file path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset descriptor: %w", err)
	}
	defer f.Close()

	c, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Read parses a dataset descriptor from r.
func Read(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // validated per row for better error messages
	cr.TrimLeadingSpace = true

	c := &Catalog{
		byIdentity: make(map[string]*roaring.Bitmap),
	}

	line := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &FormatError{Line: line, Reason: "invalid CSV row", cause: err}
		}
		if len(record) < 2 {
			return nil, &FormatError{Line: line, Reason: fmt.Sprintf("expected 2 fields (identity,path), got %d", len(record))}
		}

		identity := strings.TrimSpace(record[0])
		locator := strings.TrimSpace(record[1])
		if identity == "" {
			return nil, &FormatError{Line: line, Reason: "empty identity label"}
		}
		if locator == "" {
			return nil, &FormatError{Line: line, Reason: "empty sample locator"}
		}

		row := uint32(len(c.samples))
		c.samples = append(c.samples, SampleRef{Identity: identity, Path: locator})

		bm, ok := c.byIdentity[identity]
		if !ok {
			bm = roaring.New()
			c.byIdentity[identity] = bm
		}
		bm.Add(row)
	}

	if len(c.samples) == 0 {
		return nil, &FormatError{Reason: "descriptor references zero samples"}
	}

	c.identities = make([]string, 0, len(c.byIdentity))
	for identity := range c.byIdentity {
		c.identities = append(c.identities, identity)
	}
	sort.Strings(c.identities)

	return c, nil
}

// Identities returns the sorted list of unique identity labels.
// The returned slice must not be modified.
func (c *Catalog) Identities() []string {
	return c.identities
}

// NumIdentities returns the number of unique identities.
func (c *Catalog) NumIdentities() int {
	return len(c.identities)
}

// NumSamples returns the total number of samples.
func (c *Catalog) NumSamples() int {
	return len(c.samples)
}

// Count returns the number of samples for the given identity, or 0 if the
// identity is unknown.
func (c *Catalog) Count(identity string) int {
	bm, ok := c.byIdentity[identity]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}

// Samples returns the samples of the given identity in descriptor row order.
func (c *Catalog) Samples(identity string) ([]SampleRef, error) {
	bm, ok := c.byIdentity[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIdentity, identity)
	}

	refs := make([]SampleRef, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		refs = append(refs, c.samples[it.Next()])
	}
	return refs, nil
}

package hkexport

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
)

// Element tags emitted by a default Reader.
const (
	TagRecord          = "Record"
	TagWorkout         = "Workout"
	TagActivitySummary = "ActivitySummary"
)

// Attribute names used by Record and Workout elements.
const (
	AttrType                = "type"
	AttrWorkoutActivityType = "workoutActivityType"
	AttrStartDate           = "startDate"
	AttrEndDate             = "endDate"
	AttrValue               = "value"
	AttrUnit                = "unit"
	AttrSourceName          = "sourceName"
	AttrDuration            = "duration"
	AttrTotalDistance       = "totalDistance"
	AttrTotalEnergyBurned   = "totalEnergyBurned"
)

const readBufferSize = 256 * 1024

// Element is one completed top-level element of interest. Only its own attributes are
// kept; nested children (metadata entries, workout events, routes) are discarded.
type Element struct {
	Name string
	Attr []xml.Attr
}

// Get returns the value of the named attribute, or "" if absent.
func (e *Element) Get(name string) string {
	v, _ := e.Lookup(name)
	return v
}

// Lookup returns the value of the named attribute and whether it was present.
func (e *Element) Lookup(name string) (string, bool) {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Option configures a Reader.
type Option func(*Reader)

// WithTags replaces the set of element names the reader emits.
func WithTags(tags ...string) Option {
	return func(r *Reader) {
		r.tags = make(map[string]struct{}, len(tags))
		for _, t := range tags {
			r.tags[t] = struct{}{}
		}
	}
}

// Reader walks an export document as a forward-only token stream and returns matching
// elements one at a time. It never builds a tree: a matched element's subtree is
// skipped as soon as its start tag is read, so memory use does not depend on document size.
type Reader struct {
	dec    *xml.Decoder
	tags   map[string]struct{}
	closer io.Closer
	done   bool
}

// NewReader returns a Reader over r emitting Record and Workout elements by default.
func NewReader(r io.Reader, opts ...Option) *Reader {
	rd := &Reader{
		dec: xml.NewDecoder(bufio.NewReaderSize(r, readBufferSize)),
	}
	WithTags(TagRecord, TagWorkout)(rd)
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Open opens the export at path. The caller must Close the returned Reader.
func Open(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}
	r := NewReader(f, opts...)
	r.closer = f
	return r, nil
}

// Close releases the underlying file when the Reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// BytesRead reports how far into the input the decoder has consumed.
func (r *Reader) BytesRead() int64 {
	return r.dec.InputOffset()
}

// Next returns the next matching element in document order, or io.EOF when the
// document is exhausted. Syntax errors are returned with the input offset and end
// the stream.
func (r *Reader) Next() (*Element, error) {
	if r.done {
		return nil, io.EOF
	}

	for {
		tok, err := r.dec.Token()
		if err != nil {
			r.done = true
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("xml at offset %d: %w", r.dec.InputOffset(), err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if _, want := r.tags[start.Name.Local]; !want {
			// Containers such as HealthData or Correlation are descended into,
			// so records nested inside them are still found.
			continue
		}

		el := &Element{Name: start.Name.Local, Attr: start.Attr}
		if err := r.dec.Skip(); err != nil {
			r.done = true
			return nil, fmt.Errorf("xml at offset %d: %w", r.dec.InputOffset(), err)
		}
		return el, nil
	}
}

// CountElements makes an independent pass over the export at path and returns how many
// elements with the given tags it contains (Record and Workout when tags is empty).
func CountElements(ctx context.Context, path string, tags ...string) (int, error) {
	if len(tags) == 0 {
		tags = []string{TagRecord, TagWorkout}
	}

	r, err := Open(path, WithTags(tags...))
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = r.Close()
	}()

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		count++
	}
}

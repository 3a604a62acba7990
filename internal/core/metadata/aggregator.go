package metadata

import (
	"sort"
	"time"
)

// Date formats used in metadata.json. Both are ISO-8601 without a zone: export
// timestamps are naive wall-clock values.
const (
	DateLayout          = "2006-01-02T15:04:05"
	LastProcessedLayout = "2006-01-02T15:04:05.000000"
)

// Occurrence tracks how often a key was routed and the span of its start dates
type Occurrence struct {
	Key     string
	Count   int
	MinDate time.Time
	MaxDate time.Time
}

func (o *Occurrence) observe(date time.Time) {
	o.Count++
	if date.IsZero() {
		return
	}
	if o.MinDate.IsZero() || date.Before(o.MinDate) {
		o.MinDate = date
	}
	if o.MaxDate.IsZero() || date.After(o.MaxDate) {
		o.MaxDate = date
	}
}

// Aggregator accumulates run metadata across a whole pass, independent of batching.
type Aggregator struct {
	types       map[string]struct{}
	occurrences map[string]*Occurrence
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		types:       make(map[string]struct{}),
		occurrences: make(map[string]*Occurrence),
	}
}

// ObserveType records a semantic identifier seen in the export, routed or not.
func (a *Aggregator) ObserveType(id string) {
	if id == "" {
		return
	}
	a.types[id] = struct{}{}
}

// Observe counts one routed record under key and folds date into its range.
// A zero date still counts but leaves the range untouched.
func (a *Aggregator) Observe(key string, date time.Time) {
	occ, ok := a.occurrences[key]
	if !ok {
		occ = &Occurrence{Key: key}
		a.occurrences[key] = occ
	}
	occ.observe(date)
}

// Count returns the number of records observed under key.
func (a *Aggregator) Count(key string) int {
	if occ, ok := a.occurrences[key]; ok {
		return occ.Count
	}
	return 0
}

// Total returns the number of records observed under all keys.
func (a *Aggregator) Total() int {
	n := 0
	for _, occ := range a.occurrences {
		n += occ.Count
	}
	return n
}

// Occurrences returns a copy of every key's tally, sorted by key.
func (a *Aggregator) Occurrences() []Occurrence {
	out := make([]Occurrence, 0, len(a.occurrences))
	for _, occ := range a.occurrences {
		out = append(out, *occ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Snapshot builds the metadata document for a run that finished at now.
func (a *Aggregator) Snapshot(now time.Time) *RunMetadata {
	md := &RunMetadata{
		LastProcessed: now.Format(LastProcessedLayout),
		DataTypes:     make([]string, 0, len(a.types)),
		RecordCounts:  make(map[string]int, len(a.occurrences)),
		DataRanges:    make(map[string]DateRange, len(a.occurrences)),
	}
	for id := range a.types {
		md.DataTypes = append(md.DataTypes, id)
	}
	sort.Strings(md.DataTypes)

	for key, occ := range a.occurrences {
		md.RecordCounts[key] = occ.Count
		md.DataRanges[key] = DateRange{
			MinDate: formatDate(occ.MinDate),
			MaxDate: formatDate(occ.MaxDate),
		}
	}
	return md
}

func formatDate(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(DateLayout)
	return &s
}

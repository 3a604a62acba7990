// Package analyze surveys the structure of an export without routing anything:
// which element types it holds, which attributes they carry and the days they span.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/neilberkman/healthprep/pkg/hkexport"
)

// FileName is the default report name.
const FileName = "health_data_analysis.json"

const dayLayout = "2006-01-02"

// DayRange spans the start days seen for one type.
type DayRange struct {
	Min *string `json:"min"`
	Max *string `json:"max"`
}

// Report is the structure survey of one export.
type Report struct {
	// Records are keyed by their type attribute, other elements by tag.
	RecordCounts map[string]int      `json:"record_counts"`
	Attributes   map[string][]string `json:"attributes"`
	DateRanges   map[string]DayRange `json:"date_ranges"`
}

// TypeCount is one row of Report.Top.
type TypeCount struct {
	Type  string
	Count int
}

type span struct {
	min, max time.Time
}

// Analyze reads path once. Cancellation is checked between elements.
func Analyze(ctx context.Context, path string) (*Report, error) {
	r, err := hkexport.Open(path, hkexport.WithTags(
		hkexport.TagRecord, hkexport.TagWorkout, hkexport.TagActivitySummary))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	counts := make(map[string]int)
	attrs := make(map[string]map[string]struct{})
	spans := make(map[string]*span)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		el, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("analyze %s: %w", path, err)
		}

		key := el.Name
		if el.Name == hkexport.TagRecord {
			if t := el.Get(hkexport.AttrType); t != "" {
				key = t
			}
		}
		counts[key]++

		set, ok := attrs[el.Name]
		if !ok {
			set = make(map[string]struct{})
			attrs[el.Name] = set
		}
		for _, a := range el.Attr {
			set[a.Name.Local] = struct{}{}
		}

		raw, ok := el.Lookup(hkexport.AttrStartDate)
		if !ok {
			continue
		}
		day, ok := parseDay(raw)
		if !ok {
			continue
		}
		s, ok := spans[key]
		if !ok {
			spans[key] = &span{min: day, max: day}
			continue
		}
		if day.Before(s.min) {
			s.min = day
		}
		if day.After(s.max) {
			s.max = day
		}
	}

	rep := &Report{
		RecordCounts: counts,
		Attributes:   make(map[string][]string, len(attrs)),
		DateRanges:   make(map[string]DayRange, len(spans)),
	}
	for tag, set := range attrs {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		rep.Attributes[tag] = names
	}
	for key, s := range spans {
		lo, hi := s.min.Format(dayLayout), s.max.Format(dayLayout)
		rep.DateRanges[key] = DayRange{Min: &lo, Max: &hi}
	}
	return rep, nil
}

// parseDay keeps the date part of "2024-01-01 08:00:00 -0800".
func parseDay(raw string) (time.Time, bool) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(dayLayout, fields[0])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Top returns the types ordered by descending count, ties by name.
func (r *Report) Top() []TypeCount {
	out := make([]TypeCount, 0, len(r.RecordCounts))
	for t, n := range r.RecordCounts {
		out = append(out, TypeCount{Type: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Total is the number of elements surveyed.
func (r *Report) Total() int {
	n := 0
	for _, c := range r.RecordCounts {
		n += c
	}
	return n
}

// Write stores the report as indented JSON.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write analysis: %w", err)
	}
	return nil
}

package models

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is how timestamps are written to category tables.
const TimeLayout = "2006-01-02 15:04:05"

// Row is anything a category table can hold.
type Row interface {
	Header() []string
	Values() []string
}

var (
	sampleHeader           = []string{"date", "endDate", "value", "unit", "source"}
	sampleWithMetricHeader = []string{"date", "endDate", "value", "unit", "source", "metric_type"}
	workoutHeader          = []string{"type", "duration", "date", "endDate", "distance", "energy", "source"}
)

// Sample is the normalized form of a Record element
type Sample struct {
	Date       time.Time
	EndDate    time.Time // zero when absent or unparseable
	Value      float64
	Unit       string
	Source     string
	MetricType string // only set for categories that hold several identifiers
}

// Validate checks that the sample can be routed
func (s *Sample) Validate() error {
	if s.Date.IsZero() {
		return errors.New("start date is required")
	}
	return nil
}

func (s *Sample) Header() []string {
	if s.MetricType != "" {
		return sampleWithMetricHeader
	}
	return sampleHeader
}

func (s *Sample) Values() []string {
	v := []string{
		FormatTime(s.Date),
		FormatTime(s.EndDate),
		FormatFloat(s.Value),
		s.Unit,
		s.Source,
	}
	if s.MetricType != "" {
		v = append(v, s.MetricType)
	}
	return v
}

// Workout is the normalized form of a Workout element
type Workout struct {
	Type     string
	Duration float64
	Date     time.Time
	EndDate  time.Time
	Distance float64
	Energy   float64
	Source   string
}

// Validate checks that the workout can be routed
func (w *Workout) Validate() error {
	if w.Date.IsZero() {
		return errors.New("start date is required")
	}
	return nil
}

func (w *Workout) Header() []string {
	return workoutHeader
}

func (w *Workout) Values() []string {
	return []string{
		w.Type,
		FormatFloat(w.Duration),
		FormatTime(w.Date),
		FormatTime(w.EndDate),
		FormatFloat(w.Distance),
		FormatFloat(w.Energy),
		w.Source,
	}
}

// FormatTime renders t for a table cell; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}

// FormatFloat renders v the way the downstream dashboard expects floats: integral
// values keep a trailing ".0".
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if strings.ContainsAny(s, ".eInfNa") {
		return s
	}
	return s + ".0"
}

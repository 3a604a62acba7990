package batch

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neilberkman/healthprep/internal/core/models"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	inner Sink
	calls map[models.Category]int
	fail  error
}

func newCountingSink(inner Sink) *countingSink {
	return &countingSink{inner: inner, calls: map[models.Category]int{}}
}

func (s *countingSink) Append(cat models.Category, header []string, rows [][]string) error {
	s.calls[cat]++
	if s.fail != nil {
		return s.fail
	}
	return s.inner.Append(cat, header, rows)
}

func sample(i int) *models.Sample {
	return &models.Sample{
		Date:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		Value:  float64(i),
		Unit:   "count/min",
		Source: "Watch",
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriter_BatchBoundary(t *testing.T) {
	dir := t.TempDir()
	sink := newCountingSink(NewCSVSink(dir))
	w := New(sink, DefaultSize)

	for i := 0; i < DefaultSize+1; i++ {
		require.NoError(t, w.Append(models.CategoryHeartRate, sample(i)))
	}
	require.Equal(t, 1, sink.calls[models.CategoryHeartRate])
	require.Equal(t, 1, w.Pending())

	require.NoError(t, w.FlushAll())
	require.Equal(t, 2, sink.calls[models.CategoryHeartRate])
	require.Equal(t, 2, w.Flushes())
	require.Equal(t, DefaultSize+1, w.RowsWritten())
	require.Zero(t, w.Pending())

	rows := readCSV(t, filepath.Join(dir, "heart_rate.csv"))
	require.Len(t, rows, DefaultSize+2)
	require.Equal(t, []string{"date", "endDate", "value", "unit", "source"}, rows[0])
	require.Equal(t, "1000.0", rows[DefaultSize+1][2])
}

func TestWriter_FlushAllEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	sink := newCountingSink(NewCSVSink(dir))
	w := New(sink, 10)

	require.NoError(t, w.FlushAll())
	require.NoError(t, w.FlushAll())
	require.Empty(t, sink.calls)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "no header-only tables should be created")

	// A category whose buffer was just flushed by size is not flushed again.
	w = New(sink, 1)
	require.NoError(t, w.Append(models.CategorySteps, sample(1)))
	require.NoError(t, w.FlushAll())
	require.Equal(t, 1, sink.calls[models.CategorySteps])
}

func TestWriter_HeaderOnlyOnFirstWrite(t *testing.T) {
	dir := t.TempDir()
	w := New(NewCSVSink(dir), 2)

	for i := 0; i < 5; i++ {
		s := sample(i)
		s.MetricType = "HKQuantityTypeIdentifierBodyMass"
		require.NoError(t, w.Append(models.CategoryBodyMetrics, s))
	}
	require.NoError(t, w.FlushAll())

	rows := readCSV(t, filepath.Join(dir, "body_metrics.csv"))
	require.Len(t, rows, 6)
	require.Equal(t, "metric_type", rows[0][5])
	for _, r := range rows[1:] {
		require.NotEqual(t, "date", r[0])
		require.Equal(t, "HKQuantityTypeIdentifierBodyMass", r[5])
	}
}

func TestWriter_AppendsToExistingTable(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)

	w := New(sink, 10)
	require.NoError(t, w.Append(models.CategorySteps, sample(1)))
	require.NoError(t, w.FlushAll())

	// A second writer (e.g. a resumed run) appends without repeating the header.
	w = New(sink, 10)
	require.NoError(t, w.Append(models.CategorySteps, sample(2)))
	require.NoError(t, w.FlushAll())

	rows := readCSV(t, sink.Path(models.CategorySteps))
	require.Len(t, rows, 3)
	require.Equal(t, "1.0", rows[1][2])
	require.Equal(t, "2.0", rows[2][2])
}

func TestWriter_SinkErrorPropagates(t *testing.T) {
	sink := newCountingSink(NewCSVSink(t.TempDir()))
	sink.fail = errors.New("disk full")
	w := New(sink, 2)

	require.NoError(t, w.Append(models.CategorySteps, sample(1)))
	err := w.Append(models.CategorySteps, sample(2))
	require.ErrorIs(t, err, sink.fail)
	require.Zero(t, w.Pending())
	require.Zero(t, w.RowsWritten())
}

func TestWriter_FlushAllJoinsErrors(t *testing.T) {
	sink := newCountingSink(NewCSVSink(t.TempDir()))
	w := New(sink, 10)
	require.NoError(t, w.Append(models.CategorySteps, sample(1)))
	require.NoError(t, w.Append(models.CategoryHeartRate, sample(2)))

	sink.fail = errors.New("read-only filesystem")
	err := w.FlushAll()
	require.ErrorIs(t, err, sink.fail)
	require.Equal(t, 1, sink.calls[models.CategorySteps])
	require.Equal(t, 1, sink.calls[models.CategoryHeartRate])
}

func TestWriter_OnFlush(t *testing.T) {
	w := New(NewCSVSink(t.TempDir()), 2)
	got := map[models.Category]int{}
	w.OnFlush(func(cat models.Category, n int) { got[cat] += n })

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(models.CategorySleep, sample(i)))
	}
	require.NoError(t, w.FlushAll())
	require.Equal(t, 3, got[models.CategorySleep])
}

func TestCSVSink_MissingDir(t *testing.T) {
	sink := NewCSVSink(filepath.Join(t.TempDir(), "missing"))
	err := sink.Append(models.CategorySteps, []string{"a"}, [][]string{{"1"}})
	require.Error(t, err)
}

func TestCSVSink_Remove(t *testing.T) {
	sink := NewCSVSink(t.TempDir())
	require.NoError(t, sink.Remove(models.CategorySteps))
	require.NoError(t, sink.Append(models.CategorySteps, []string{"a"}, [][]string{{"1"}}))
	require.FileExists(t, sink.Path(models.CategorySteps))
	require.NoError(t, sink.Remove(models.CategorySteps))
	require.NoFileExists(t, sink.Path(models.CategorySteps))
}

package hkexport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *Reader) []*Element {
	t.Helper()
	var out []*Element
	for {
		el, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, el)
	}
}

func TestReader_Sample(t *testing.T) {
	r, err := Open("testdata/sample.xml")
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	elems := readAll(t, r)

	// 8 top-level records, 1 record nested in a Correlation, 1 workout.
	require.Len(t, elems, 10)

	first := elems[0]
	require.Equal(t, TagRecord, first.Name)
	require.Equal(t, "HKQuantityTypeIdentifierHeartRate", first.Get(AttrType))
	require.Equal(t, "62", first.Get(AttrValue))
	require.Equal(t, "Watch", first.Get(AttrSourceName))

	nested := elems[8]
	require.Equal(t, "HKQuantityTypeIdentifierBloodPressureSystolic", nested.Get(AttrType))

	w := elems[9]
	require.Equal(t, TagWorkout, w.Name)
	require.Equal(t, "HKWorkoutActivityTypeRunning", w.Get(AttrWorkoutActivityType))
	require.Equal(t, "5.0", w.Get(AttrTotalDistance))

	// Exhausted readers keep returning EOF.
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
	require.Positive(t, r.BytesRead())
}

func TestReader_WithTags(t *testing.T) {
	r, err := Open("testdata/sample.xml", WithTags(TagActivitySummary, TagWorkout))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	elems := readAll(t, r)
	require.Len(t, elems, 2)
	require.Equal(t, TagWorkout, elems[0].Name)
	require.Equal(t, TagActivitySummary, elems[1].Name)
	require.Equal(t, "2024-03-04", elems[1].Get("dateComponents"))
}

func TestElement_Lookup(t *testing.T) {
	r := NewReader(strings.NewReader(`<HealthData><Record type="X" unit=""/></HealthData>`))
	el, err := r.Next()
	require.NoError(t, err)

	v, ok := el.Lookup(AttrUnit)
	require.True(t, ok)
	require.Empty(t, v)

	_, ok = el.Lookup(AttrSourceName)
	require.False(t, ok)
}

func TestReader_Malformed(t *testing.T) {
	doc := `<HealthData><Record type="A" startDate="2024-01-01 00:00:00"/><Record type="B" </HealthData>`
	r := NewReader(strings.NewReader(doc))

	el, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "A", el.Get(AttrType))

	_, err = r.Next()
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
	require.Contains(t, err.Error(), "xml at offset")

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_Empty(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	_, err := r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestCountElements(t *testing.T) {
	n, err := CountElements(context.Background(), "testdata/sample.xml")
	require.NoError(t, err)
	require.Equal(t, 10, n)

	n, err = CountElements(context.Background(), "testdata/sample.xml", TagActivitySummary)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCountElements_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CountElements(ctx, "testdata/sample.xml")
	require.ErrorIs(t, err, context.Canceled)
}

func TestCountElements_MissingFile(t *testing.T) {
	_, err := CountElements(context.Background(), "testdata/nope.xml")
	require.Error(t, err)
}

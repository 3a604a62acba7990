package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neilberkman/healthprep/internal/core/batch"
	"github.com/neilberkman/healthprep/internal/core/metadata"
	"github.com/neilberkman/healthprep/internal/core/models"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func writeExport(t *testing.T, elements ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<!DOCTYPE HealthData [<!ELEMENT HealthData (Record*)>]>` + "\n")
	b.WriteString(`<HealthData locale="en_US">` + "\n")
	b.WriteString(` <ExportDate value="2024-06-01 10:00:00 -0700"/>` + "\n")
	for _, el := range elements {
		b.WriteString(" " + el + "\n")
	}
	b.WriteString("</HealthData>\n")

	path := filepath.Join(t.TempDir(), "export.xml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func heartRate(i int) string {
	return fmt.Sprintf(`<Record type="HKQuantityTypeIdentifierHeartRate" sourceName="Watch" unit="count/min" startDate="2024-01-01 08:%02d:00 -0800" endDate="2024-01-01 08:%02d:30 -0800" value="%d.5"/>`, i, i, 60+i)
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

// cancelAfter cancels the run once n elements have been reported
type cancelAfter struct {
	n       int64
	cancel  context.CancelFunc
	total   int64
	updates []int64
}

func (c *cancelAfter) SetTotal(total int64) { c.total = total }
func (c *cancelAfter) Update(current int64) {
	c.updates = append(c.updates, current)
	if c.n > 0 && int64(len(c.updates)) == c.n {
		c.cancel()
	}
}
func (c *cancelAfter) Finish() {}

type fakeRecorder struct {
	started  *models.Run
	finished *models.Run
}

func (r *fakeRecorder) StartRun(run *models.Run) error {
	run.ID = 1
	run.RunID = "run-1"
	r.started = run
	return nil
}

func (r *fakeRecorder) FinishRun(run *models.Run) error {
	r.finished = run
	return nil
}

type failingSink struct{}

func (failingSink) Append(models.Category, []string, [][]string) error {
	return errors.New("disk full")
}

func TestRun_HeartRateRoundTrip(t *testing.T) {
	const n = 25
	var els []string
	for i := 0; i < n; i++ {
		els = append(els, heartRate(i))
	}
	src := writeExport(t, els...)
	out := filepath.Join(t.TempDir(), "processed_data")

	imp := New(WithBatchSize(10), WithClock(clock))
	res, err := imp.Run(context.Background(), src, out, nil)
	require.NoError(t, err)
	require.Equal(t, n, res.Elements)
	require.Equal(t, n, res.Routed)
	require.Equal(t, []State{StateInit, StateCounting, StateStreaming, StateFlushing, StateMetadataWrite, StateDone}, res.States)
	require.Equal(t, []models.CategoryCount{{Category: models.CategoryHeartRate, Rows: n}}, res.Categories)

	rows := readCSV(t, filepath.Join(out, "heart_rate.csv"))
	require.Len(t, rows, n+1)
	require.Equal(t, []string{"date", "endDate", "value", "unit", "source"}, rows[0])
	for i := 0; i < n; i++ {
		require.Equal(t, []string{
			fmt.Sprintf("2024-01-01 08:%02d:00", i),
			fmt.Sprintf("2024-01-01 08:%02d:30", i),
			fmt.Sprintf("%d.5", 60+i),
			"count/min",
			"Watch",
		}, rows[i+1])
	}

	md, err := metadata.Load(out)
	require.NoError(t, err)
	const id = "HKQuantityTypeIdentifierHeartRate"
	require.Equal(t, n, md.RecordCounts[id])
	require.Equal(t, []string{id}, md.DataTypes)
	require.Equal(t, "2024-01-01T08:00:00", *md.DataRanges[id].MinDate)
	require.Equal(t, fmt.Sprintf("2024-01-01T08:%02d:00", n-1), *md.DataRanges[id].MaxDate)
	require.Equal(t, "2024-06-01T12:00:00.000000", md.LastProcessed)
}

func TestRun_Workout(t *testing.T) {
	src := writeExport(t,
		`<Workout workoutActivityType="Running" duration="1800" durationUnit="min" totalDistance="5.0" totalEnergyBurned="400" sourceName="Watch" startDate="2024-02-01 07:00:00 +0000" endDate="2024-02-01 07:30:00 +0000">`+
			`<WorkoutEvent type="HKWorkoutEventTypeSegment" date="2024-02-01 07:10:00 +0000"/>`+
			`</Workout>`,
	)
	out := t.TempDir()

	res, err := New(WithClock(clock)).Run(context.Background(), src, out, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Routed)

	rows := readCSV(t, filepath.Join(out, "workouts.csv"))
	require.Equal(t, [][]string{
		{"type", "duration", "date", "endDate", "distance", "energy", "source"},
		{"Running", "1800.0", "2024-02-01 07:00:00", "2024-02-01 07:30:00", "5.0", "400.0", "Watch"},
	}, rows)

	md, err := metadata.Load(out)
	require.NoError(t, err)
	require.Equal(t, 1, md.RecordCounts["workouts"])
}

func TestRun_WorkoutTypeAttribute(t *testing.T) {
	src := writeExport(t,
		`<Workout type="Running" duration="1800" totalDistance="5.0" totalEnergyBurned="400" sourceName="Watch" startDate="2024-02-01 07:00:00 +0000" endDate="2024-02-01 07:30:00 +0000"/>`,
		`<Workout workoutActivityType="HKWorkoutActivityTypeCycling" type="Ignored" duration="600" startDate="2024-02-02 07:00:00 +0000"/>`,
	)
	out := t.TempDir()

	res, err := New().Run(context.Background(), src, out, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.Routed)

	rows := readCSV(t, filepath.Join(out, "workouts.csv"))
	require.Len(t, rows, 3)
	require.Equal(t, []string{"Running", "1800.0", "2024-02-01 07:00:00", "2024-02-01 07:30:00", "5.0", "400.0", "Watch"}, rows[1])
	require.Equal(t, "HKWorkoutActivityTypeCycling", rows[2][0])
}

func TestRun_TypeMatchedLiterally(t *testing.T) {
	src := writeExport(t,
		`<Record type=" HKQuantityTypeIdentifierStepCount" value="10" startDate="2024-01-01 08:00:00 +0000"/>`,
		`<Record type="HKQuantityTypeIdentifierStepCount" value="20" startDate="2024-01-01 09:00:00 +0000"/>`,
	)
	out := t.TempDir()

	res, err := New().Run(context.Background(), src, out, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Routed)
	require.Equal(t, Skipped{Unclassified: 1}, res.Skipped)

	rows := readCSV(t, filepath.Join(out, "steps.csv"))
	require.Len(t, rows, 2)
	require.Equal(t, "20.0", rows[1][2])
}

func TestRun_DietaryPrefixKeepsType(t *testing.T) {
	src := writeExport(t,
		`<Record type="HKQuantityTypeIdentifierDietaryVitaminC" unit="mg" value="90" sourceName="Lifesum" startDate="2024-03-01 12:00:00 +0100"/>`,
		`<Record type="HKQuantityTypeIdentifierDietaryWater" unit="mL" value="250" sourceName="Lifesum" startDate="2024-03-01 12:05:00 +0100"/>`,
	)
	out := t.TempDir()

	_, err := New().Run(context.Background(), src, out, nil)
	require.NoError(t, err)

	rows := readCSV(t, filepath.Join(out, "dietary_metrics.csv"))
	require.Equal(t, [][]string{
		{"date", "endDate", "value", "unit", "source", "metric_type"},
		{"2024-03-01 12:00:00", "", "90.0", "mg", "Lifesum", "HKQuantityTypeIdentifierDietaryVitaminC"},
	}, rows)

	water := readCSV(t, filepath.Join(out, "water.csv"))
	require.Len(t, water, 2)
	require.Len(t, water[0], 5)
}

func TestRun_SkipsDefectiveElements(t *testing.T) {
	src := writeExport(t,
		`<Record sourceName="Watch" startDate="2024-01-01 08:00:00 +0000" value="1"/>`,
		`<Record type="HKQuantityTypeIdentifierStepCount" startDate="yesterday" value="1"/>`,
		`<Record type="HKQuantityTypeIdentifierNumberOfTimesFallen" startDate="2024-01-01 08:00:00 +0000" value="1"/>`,
		`<Record type="HKQuantityTypeIdentifierStepCount" startDate="2024-01-01 09:00:00 +0000" value="oops"/>`,
	)
	out := t.TempDir()

	res, err := New().Run(context.Background(), src, out, nil)
	require.NoError(t, err)
	require.Equal(t, 4, res.Elements)
	require.Equal(t, 1, res.Routed)
	require.Equal(t, Skipped{MissingType: 1, BadDate: 1, Unclassified: 1}, res.Skipped)

	rows := readCSV(t, filepath.Join(out, "steps.csv"))
	require.Len(t, rows, 2)
	require.Equal(t, "0.0", rows[1][2])

	md, err := metadata.Load(out)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"HKQuantityTypeIdentifierStepCount": 1}, md.RecordCounts)
	require.Equal(t, []string{
		"HKQuantityTypeIdentifierNumberOfTimesFallen",
		"HKQuantityTypeIdentifierStepCount",
	}, md.DataTypes)
}

func TestRun_SourceNotFound(t *testing.T) {
	out := filepath.Join(t.TempDir(), "processed_data")
	res, err := New().Run(context.Background(), filepath.Join(t.TempDir(), "missing.xml"), out, nil)
	require.ErrorIs(t, err, ErrSourceNotFound)
	require.Equal(t, []State{StateInit, StateAborted}, res.States)

	_, statErr := os.Stat(out)
	require.True(t, os.IsNotExist(statErr))
}

func TestRun_InterruptedMidStream(t *testing.T) {
	var els []string
	for i := 0; i < 20; i++ {
		els = append(els, heartRate(i))
	}
	src := writeExport(t, els...)
	out := t.TempDir()

	// a previous completed run must not look complete after an interrupted one
	require.NoError(t, metadata.Write(out, metadata.NewAggregator().Snapshot(fixedNow)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	progress := &cancelAfter{n: 7, cancel: cancel}

	rec := &fakeRecorder{}
	res, err := New(WithBatchSize(3), WithProgressMode(ProgressNone), WithRecorder(rec)).Run(ctx, src, out, progress)
	require.ErrorIs(t, err, ErrInterrupted)
	require.Equal(t, 7, res.Elements)
	require.Equal(t, StateAborted, res.States[len(res.States)-1])
	require.Equal(t, StateFlushing, res.States[len(res.States)-2])

	rows := readCSV(t, filepath.Join(out, "heart_rate.csv"))
	require.Len(t, rows, 8)
	require.Equal(t, "2024-01-01 08:00:00", rows[1][0])
	require.Equal(t, "2024-01-01 08:06:00", rows[7][0])

	_, err = os.Stat(metadata.Path(out))
	require.True(t, os.IsNotExist(err))

	require.NotNil(t, rec.finished)
	require.Equal(t, models.RunInterrupted, rec.finished.Status)
	require.Equal(t, 7, rec.finished.RecordsRouted)
	require.Equal(t, "run-1", res.RunID)
}

func TestRun_CancelledBeforeCounting(t *testing.T) {
	src := writeExport(t, heartRate(0))
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New().Run(ctx, src, out, nil)
	require.ErrorIs(t, err, ErrInterrupted)
	require.Equal(t, []State{StateInit, StateCounting, StateFlushing, StateAborted}, res.States)

	_, err = os.Stat(filepath.Join(out, "heart_rate.csv"))
	require.True(t, os.IsNotExist(err))
}

func TestRun_SinkFailure(t *testing.T) {
	src := writeExport(t, heartRate(0), heartRate(1))
	out := t.TempDir()

	rec := &fakeRecorder{}
	imp := New(
		WithBatchSize(1),
		WithRecorder(rec),
		WithSink(func(string) batch.Sink { return failingSink{} }),
	)
	_, err := imp.Run(context.Background(), src, out, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInterrupted)
	require.Contains(t, err.Error(), "disk full")

	_, statErr := os.Stat(metadata.Path(out))
	require.True(t, os.IsNotExist(statErr))
	require.Equal(t, models.RunFailed, rec.finished.Status)
	require.NotEmpty(t, rec.finished.ErrorMessage)
}

func TestRun_MalformedXMLFlushesAndFails(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "export.xml")
	body := `<HealthData>` + heartRate(0) + heartRate(1) + `<Record type="x" </HealthData>`
	require.NoError(t, os.WriteFile(src, []byte(body), 0644))
	out := filepath.Join(dir, "out")

	res, err := New(WithProgressMode(ProgressNone)).Run(context.Background(), src, out, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInterrupted)
	require.Equal(t, 2, res.Routed)

	rows := readCSV(t, filepath.Join(out, "heart_rate.csv"))
	require.Len(t, rows, 3)
	_, statErr := os.Stat(metadata.Path(out))
	require.True(t, os.IsNotExist(statErr))
}

func TestRun_AppendsAcrossRunsAndClean(t *testing.T) {
	src := writeExport(t, heartRate(0), heartRate(1))
	out := t.TempDir()

	for i := 0; i < 2; i++ {
		_, err := New().Run(context.Background(), src, out, nil)
		require.NoError(t, err)
	}
	require.Len(t, readCSV(t, filepath.Join(out, "heart_rate.csv")), 5)

	_, err := New(WithClean(true)).Run(context.Background(), src, out, nil)
	require.NoError(t, err)
	require.Len(t, readCSV(t, filepath.Join(out, "heart_rate.csv")), 3)
}

func TestRun_ByteProgress(t *testing.T) {
	src := writeExport(t, heartRate(0), heartRate(1), heartRate(2))
	info, err := os.Stat(src)
	require.NoError(t, err)

	progress := &cancelAfter{}
	_, err = New(WithProgressMode(ProgressBytes)).Run(context.Background(), src, t.TempDir(), progress)
	require.NoError(t, err)
	require.Equal(t, info.Size(), progress.total)
	require.Len(t, progress.updates, 3)
	for i := 1; i < len(progress.updates); i++ {
		require.Greater(t, progress.updates[i], progress.updates[i-1])
	}
	require.LessOrEqual(t, progress.updates[2], info.Size())
}

func TestRun_CountProgress(t *testing.T) {
	src := writeExport(t, heartRate(0), heartRate(1))
	progress := &cancelAfter{}
	_, err := New().Run(context.Background(), src, t.TempDir(), progress)
	require.NoError(t, err)
	require.Equal(t, int64(2), progress.total)
	require.Equal(t, []int64{1, 2}, progress.updates)
}

func TestRun_RecorderSuccess(t *testing.T) {
	src := writeExport(t,
		heartRate(0),
		`<Record type="HKQuantityTypeIdentifierStepCount" value="12" startDate="2024-01-01 09:00:00 +0000"/>`,
	)
	rec := &fakeRecorder{}
	res, err := New(WithRecorder(rec), WithProgressMode(ProgressBytes)).Run(context.Background(), src, t.TempDir(), nil)
	require.NoError(t, err)
	require.Equal(t, "run-1", res.RunID)
	require.Equal(t, "bytes", rec.started.ProgressMode)
	require.Equal(t, models.RunSuccess, rec.finished.Status)
	require.Equal(t, []models.CategoryCount{
		{Category: models.CategoryHeartRate, Rows: 1},
		{Category: models.CategorySteps, Rows: 1},
	}, rec.finished.Categories)
	require.Len(t, rec.finished.Counts, 2)
}

func TestProgressReporter(t *testing.T) {
	var b strings.Builder
	p := NewProgressReporter(&b, false)
	p.SetTotal(4)
	p.Update(4)
	p.Finish()
	require.Contains(t, b.String(), "100%")
	require.Contains(t, b.String(), "(4/4)")

	b.Reset()
	p = NewProgressReporter(&b, true)
	p.SetTotal(0)
	p.Update(2048)
	p.Finish()
	require.Contains(t, b.String(), "Processed 2.0 kB")
}

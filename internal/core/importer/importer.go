package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/neilberkman/healthprep/internal/core/batch"
	"github.com/neilberkman/healthprep/internal/core/classify"
	"github.com/neilberkman/healthprep/internal/core/metadata"
	"github.com/neilberkman/healthprep/internal/core/metrics"
	"github.com/neilberkman/healthprep/internal/core/models"
	"github.com/neilberkman/healthprep/pkg/hkexport"
)

var (
	// ErrInterrupted is returned when the context is cancelled mid-run. Buffered
	// rows have been flushed but metadata.json was not written.
	ErrInterrupted = errors.New("processing interrupted")
	// ErrSourceNotFound is returned when the export file does not exist.
	ErrSourceNotFound = errors.New("export file not found")
)

// State is a pipeline stage
type State int

const (
	StateInit State = iota
	StateCounting
	StateStreaming
	StateFlushing
	StateMetadataWrite
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateCounting:
		return "COUNTING"
	case StateStreaming:
		return "STREAMING"
	case StateFlushing:
		return "FLUSHING"
	case StateMetadataWrite:
		return "METADATA_WRITE"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ProgressMode selects what the progress bar counts
type ProgressMode string

const (
	ProgressCount ProgressMode = "count" // elements, needs a counting pass
	ProgressBytes ProgressMode = "bytes" // input offset against file size
	ProgressNone  ProgressMode = "none"
)

// RunRecorder receives run lifecycle events, e.g. the SQLite catalog
type RunRecorder interface {
	StartRun(run *models.Run) error
	FinishRun(run *models.Run) error
}

// Importer runs the export-to-tables pipeline
type Importer struct {
	classifier *classify.Classifier
	batchSize  int
	mode       ProgressMode
	clean      bool
	logger     *log.Logger
	metrics    *metrics.Metrics
	recorder   RunRecorder
	newSink    func(dir string) batch.Sink
	now        func() time.Time
}

type Option func(*Importer)

func WithLogger(l *log.Logger) Option {
	return func(i *Importer) { i.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Importer) { i.metrics = m }
}

func WithRecorder(r RunRecorder) Option {
	return func(i *Importer) { i.recorder = r }
}

// WithBatchSize sets the per-category flush threshold. Non-positive sizes are ignored.
func WithBatchSize(n int) Option {
	return func(i *Importer) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

func WithProgressMode(m ProgressMode) Option {
	return func(i *Importer) { i.mode = m }
}

// WithClean removes existing category tables before streaming
func WithClean(clean bool) Option {
	return func(i *Importer) { i.clean = clean }
}

func WithClassifier(c *classify.Classifier) Option {
	return func(i *Importer) { i.classifier = c }
}

// WithSink replaces the CSV sink, mainly for tests
func WithSink(fn func(dir string) batch.Sink) Option {
	return func(i *Importer) { i.newSink = fn }
}

func WithClock(now func() time.Time) Option {
	return func(i *Importer) { i.now = now }
}

// New creates an importer with the default rule table and a CSV sink
func New(opts ...Option) *Importer {
	i := &Importer{
		classifier: classify.Default(),
		batchSize:  batch.DefaultSize,
		mode:       ProgressCount,
		logger:     log.New(io.Discard, "", 0),
		newSink:    func(dir string) batch.Sink { return batch.NewCSVSink(dir) },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Skipped tallies elements that reached no table
type Skipped struct {
	MissingType  int
	BadDate      int
	Unclassified int
}

func (s Skipped) Total() int {
	return s.MissingType + s.BadDate + s.Unclassified
}

// Result describes a run
type Result struct {
	RunID        string
	Elements     int
	Routed       int
	Skipped      Skipped
	Categories   []models.CategoryCount // rows written per table, taxonomy order
	Metadata     *metadata.RunMetadata  // nil unless the run completed
	MetadataPath string
	Elapsed      time.Duration
	States       []State
}

// runContext is the mutable state of one run
type runContext struct {
	src     string
	outDir  string
	started time.Time
	state   State
	trail   []State

	writer   *batch.Writer
	agg      *metadata.Aggregator
	elements int
	routed   int
	skipped  Skipped
	rows     map[models.Category]int

	run      *models.Run
	progress ProgressCallback
}

func (rc *runContext) enter(s State) {
	rc.state = s
	rc.trail = append(rc.trail, s)
}

// Run streams src into per-category tables under outDir. On success metadata.json is
// written last; an interrupted or failed run flushes buffered rows and leaves no
// metadata.json behind.
func (i *Importer) Run(ctx context.Context, src, outDir string, progress ProgressCallback) (*Result, error) {
	if progress == nil {
		progress = noProgress{}
	}
	rc := &runContext{
		src:      src,
		outDir:   outDir,
		started:  i.now(),
		agg:      metadata.NewAggregator(),
		rows:     make(map[models.Category]int),
		progress: progress,
	}
	rc.enter(StateInit)

	size, err := i.prepare(rc)
	if err != nil {
		rc.enter(StateAborted)
		return i.result(rc), err
	}

	rc.enter(StateCounting)
	total, err := i.count(ctx, rc, size)
	if err != nil {
		return i.abort(rc, err)
	}
	progress.SetTotal(total)

	rc.enter(StateStreaming)
	if err := i.stream(ctx, rc); err != nil {
		progress.Finish()
		return i.abort(rc, err)
	}
	progress.Finish()

	rc.enter(StateFlushing)
	if err := rc.writer.FlushAll(); err != nil {
		rc.enter(StateAborted)
		err = fmt.Errorf("flush tables: %w", err)
		i.finishRun(rc, models.RunFailed, err)
		return i.result(rc), err
	}

	rc.enter(StateMetadataWrite)
	md := rc.agg.Snapshot(i.now())
	if err := metadata.Write(outDir, md); err != nil {
		rc.enter(StateAborted)
		err = fmt.Errorf("write metadata: %w", err)
		i.finishRun(rc, models.RunFailed, err)
		return i.result(rc), err
	}

	rc.enter(StateDone)
	res := i.result(rc)
	res.Metadata = md
	res.MetadataPath = metadata.Path(outDir)

	if i.metrics != nil {
		i.metrics.RecordDuration(res.Elapsed)
		i.metrics.RecordSuccess(i.now())
	}
	i.finishRun(rc, models.RunSuccess, nil)
	i.logger.Printf("run complete: %d elements, %d routed, %d skipped", rc.elements, rc.routed, rc.skipped.Total())
	return res, nil
}

func (i *Importer) prepare(rc *runContext) (int64, error) {
	info, err := os.Stat(rc.src)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %s", ErrSourceNotFound, rc.src)
	}
	if err != nil {
		return 0, fmt.Errorf("stat export: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("export %s is a directory", rc.src)
	}

	if err := os.MkdirAll(rc.outDir, 0755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}

	// metadata.json marks completed output; appending invalidates it until this run completes
	if err := metadata.Remove(rc.outDir); err != nil {
		return 0, fmt.Errorf("remove stale metadata: %w", err)
	}

	sink := i.newSink(rc.outDir)
	if i.clean {
		if err := i.cleanTables(sink); err != nil {
			return 0, err
		}
	}

	rc.writer = batch.New(sink, i.batchSize)
	rc.writer.OnFlush(func(cat models.Category, rows int) {
		rc.rows[cat] += rows
		if i.metrics != nil {
			i.metrics.RecordFlush(cat, rows)
		}
	})

	i.startRun(rc, info.Size())
	return info.Size(), nil
}

type remover interface {
	Remove(cat models.Category) error
}

func (i *Importer) cleanTables(sink batch.Sink) error {
	r, ok := sink.(remover)
	if !ok {
		return nil
	}
	for _, cat := range i.classifier.Categories() {
		if err := r.Remove(cat); err != nil {
			return fmt.Errorf("clean %s: %w", cat, err)
		}
	}
	i.logger.Printf("removed existing tables")
	return nil
}

func (i *Importer) count(ctx context.Context, rc *runContext, size int64) (int64, error) {
	switch i.mode {
	case ProgressBytes:
		return size, nil
	case ProgressNone:
		return 0, nil
	}

	n, err := hkexport.CountElements(ctx, rc.src)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		i.logger.Printf("Warning: counting elements failed, progress is indeterminate: %v", err)
		return 0, nil
	}
	return int64(n), nil
}

func (i *Importer) stream(ctx context.Context, rc *runContext) error {
	r, err := hkexport.Open(rc.src)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for {
		// cancellation is only observed between elements
		if err := ctx.Err(); err != nil {
			return err
		}

		el, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read export: %w", err)
		}

		rc.elements++
		if i.metrics != nil {
			i.metrics.RecordElement()
		}

		if err := i.route(rc, el); err != nil {
			return err
		}

		if i.mode == ProgressBytes {
			rc.progress.Update(r.BytesRead())
		} else {
			rc.progress.Update(int64(rc.elements))
		}
	}
}

func (i *Importer) route(rc *runContext, el *hkexport.Element) error {
	if el.Name == hkexport.TagWorkout {
		return i.routeWorkout(rc, el)
	}
	return i.routeRecord(rc, el)
}

func (i *Importer) routeRecord(rc *runContext, el *hkexport.Element) error {
	id := el.Get(hkexport.AttrType)
	if id == "" {
		i.skip(rc, metrics.SkipMissingType)
		return nil
	}
	rc.agg.ObserveType(id)

	start, ok := hkexport.ParseTimestamp(el.Get(hkexport.AttrStartDate))
	if !ok {
		i.skip(rc, metrics.SkipBadDate)
		return nil
	}

	res := i.classifier.Classify(id)
	if !res.Routed() {
		i.skip(rc, metrics.SkipUnclassified)
		return nil
	}

	end, _ := hkexport.ParseTimestamp(el.Get(hkexport.AttrEndDate))
	s := &models.Sample{
		Date:    start,
		EndDate: end,
		Value:   hkexport.ParseFloat(el.Get(hkexport.AttrValue), 0),
		Unit:    el.Get(hkexport.AttrUnit),
		Source:  el.Get(hkexport.AttrSourceName),
	}
	if res.KeepType {
		s.MetricType = id
	}
	if err := s.Validate(); err != nil {
		i.skip(rc, metrics.SkipBadDate)
		return nil
	}

	if err := rc.writer.Append(res.Category, s); err != nil {
		return err
	}
	i.routedTo(rc, res.Category, id, start)
	return nil
}

func (i *Importer) routeWorkout(rc *runContext, el *hkexport.Element) error {
	start, ok := hkexport.ParseTimestamp(el.Get(hkexport.AttrStartDate))
	if !ok {
		i.skip(rc, metrics.SkipBadDate)
		return nil
	}

	typ := el.Get(hkexport.AttrWorkoutActivityType)
	if typ == "" {
		typ = el.Get(hkexport.AttrType)
	}

	end, _ := hkexport.ParseTimestamp(el.Get(hkexport.AttrEndDate))
	w := &models.Workout{
		Type:     typ,
		Duration: hkexport.ParseFloat(el.Get(hkexport.AttrDuration), 0),
		Date:     start,
		EndDate:  end,
		Distance: hkexport.ParseFloat(el.Get(hkexport.AttrTotalDistance), 0),
		Energy:   hkexport.ParseFloat(el.Get(hkexport.AttrTotalEnergyBurned), 0),
		Source:   el.Get(hkexport.AttrSourceName),
	}

	if err := w.Validate(); err != nil {
		i.skip(rc, metrics.SkipBadDate)
		return nil
	}

	res := i.classifier.ClassifyWorkout()
	if err := rc.writer.Append(res.Category, w); err != nil {
		return err
	}
	i.routedTo(rc, res.Category, string(models.CategoryWorkouts), start)
	return nil
}

func (i *Importer) routedTo(rc *runContext, cat models.Category, key string, date time.Time) {
	rc.agg.Observe(key, date)
	rc.routed++
	if i.metrics != nil {
		i.metrics.RecordRouted(cat)
	}
}

func (i *Importer) skip(rc *runContext, reason string) {
	switch reason {
	case metrics.SkipMissingType:
		rc.skipped.MissingType++
	case metrics.SkipBadDate:
		rc.skipped.BadDate++
	case metrics.SkipUnclassified:
		rc.skipped.Unclassified++
	}
	if i.metrics != nil {
		i.metrics.RecordSkipped(reason)
	}
}

// abort flushes what is buffered and reports cause. Context cancellation becomes
// ErrInterrupted.
func (i *Importer) abort(rc *runContext, cause error) (*Result, error) {
	interrupted := errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)

	rc.enter(StateFlushing)
	var err error
	if interrupted {
		i.logger.Printf("interrupted after %d elements, saving progress", rc.elements)
		err = fmt.Errorf("%w after %d elements", ErrInterrupted, rc.elements)
	} else {
		err = cause
	}
	if rc.writer != nil {
		if ferr := rc.writer.FlushAll(); ferr != nil {
			err = errors.Join(err, fmt.Errorf("flush tables: %w", ferr))
		}
	}
	rc.enter(StateAborted)

	status := models.RunFailed
	if interrupted {
		status = models.RunInterrupted
	}
	i.finishRun(rc, status, err)
	return i.result(rc), err
}

func (i *Importer) startRun(rc *runContext, size int64) {
	if i.recorder == nil {
		return
	}
	run := &models.Run{
		SourcePath:   rc.src,
		SourceSize:   size,
		OutputDir:    rc.outDir,
		ProgressMode: string(i.mode),
		StartedAt:    rc.started,
	}
	if err := i.recorder.StartRun(run); err != nil {
		i.logger.Printf("Warning: failed to record run start: %v", err)
		return
	}
	rc.run = run
}

func (i *Importer) finishRun(rc *runContext, status models.RunStatus, cause error) {
	if rc.run == nil {
		return
	}
	run := rc.run
	run.Status = status
	run.FinishedAt = i.now()
	run.ElementsRead = rc.elements
	run.RecordsRouted = rc.routed
	run.RecordsSkipped = rc.skipped.Total()
	if cause != nil {
		run.ErrorMessage = cause.Error()
	}
	run.Categories = i.categoryCounts(rc)
	for _, o := range rc.agg.Occurrences() {
		run.Counts = append(run.Counts, models.TypeCount{
			Key:     o.Key,
			Count:   o.Count,
			MinDate: o.MinDate,
			MaxDate: o.MaxDate,
		})
	}
	if err := i.recorder.FinishRun(run); err != nil {
		i.logger.Printf("Warning: failed to record run result: %v", err)
	}
}

func (i *Importer) categoryCounts(rc *runContext) []models.CategoryCount {
	var out []models.CategoryCount
	for _, cat := range i.classifier.Categories() {
		if n := rc.rows[cat]; n > 0 {
			out = append(out, models.CategoryCount{Category: cat, Rows: n})
		}
	}
	return out
}

func (i *Importer) result(rc *runContext) *Result {
	res := &Result{
		Elements:   rc.elements,
		Routed:     rc.routed,
		Skipped:    rc.skipped,
		Categories: i.categoryCounts(rc),
		Elapsed:    i.now().Sub(rc.started),
		States:     append([]State(nil), rc.trail...),
	}
	if rc.run != nil {
		res.RunID = rc.run.RunID
	}
	return res
}

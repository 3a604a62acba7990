package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long the export must be quiet before a run starts. Phones
// write multi-gigabyte exports in many chunks.
const DefaultSettle = 5 * time.Second

// RunFunc processes the export once
type RunFunc func(ctx context.Context) error

// WatchStats tracks watcher activity
type WatchStats struct {
	StartTime time.Time
	Runs      int
	Failures  int
	LastRun   time.Time
	LastError error
}

// Watcher reruns the pipeline whenever the export file is replaced or rewritten
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	run     RunFunc
	settle  time.Duration
	logger  *log.Logger
	stats   *WatchStats
}

// NewWatcher watches the directory holding path, so an export moved into place
// is seen as well as one written in place.
func NewWatcher(path string, run RunFunc, settle time.Duration, logger *log.Logger) (*Watcher, error) {
	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("watch directory does not exist: %s", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Watcher{
		watcher: watcher,
		path:    filepath.Clean(path),
		run:     run,
		settle:  settle,
		logger:  logger,
		stats:   &WatchStats{StartTime: time.Now()},
	}, nil
}

func (w *Watcher) Stats() WatchStats {
	return *w.stats
}

// Start blocks until ctx is done. A run failure is logged and watching continues;
// a run cut short by cancellation is returned.
func (w *Watcher) Start(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()
	w.logger.Printf("Watching %s", w.path)

	// timer fires once the export has been quiet for the settle period
	timer := time.NewTimer(w.settle)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			w.logger.Printf("Watcher shutting down...")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			if !w.shouldProcessEvent(event) {
				continue
			}
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.settle)
			pending = true

		case <-timer.C:
			pending = false
			if err := w.runOnce(ctx); err != nil && ctx.Err() != nil {
				return err
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			w.logger.Printf("Watcher error: %v", err)
			w.stats.Failures++
		}
	}
}

func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

func (w *Watcher) runOnce(ctx context.Context) error {
	if _, err := os.Stat(w.path); err != nil {
		w.logger.Printf("Warning: %s disappeared before processing", w.path)
		return nil
	}

	w.logger.Printf("Export changed, processing %s", filepath.Base(w.path))
	err := w.run(ctx)
	w.stats.Runs++
	w.stats.LastRun = time.Now()
	w.stats.LastError = err
	if err != nil {
		w.stats.Failures++
		w.logger.Printf("Run failed: %v", err)
		return err
	}
	w.logger.Printf("✓ Processed %s", filepath.Base(w.path))
	return nil
}

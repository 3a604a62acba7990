// Package batch buffers classified rows per category and appends them to their
// tables in fixed-size batches.
package batch

import (
	"errors"
	"fmt"

	"github.com/neilberkman/healthprep/internal/core/models"
)

// DefaultSize is the number of rows buffered per category before a flush.
const DefaultSize = 1000

// FlushFunc is called after every successful flush.
type FlushFunc func(cat models.Category, rows int)

// Writer holds one in-memory buffer per category. It is not safe for concurrent use.
type Writer struct {
	sink    Sink
	size    int
	buffers map[models.Category][]models.Row
	order   []models.Category
	onFlush FlushFunc

	flushes int
	written int
}

// New returns a Writer flushing to sink every size rows. size <= 0 means DefaultSize.
func New(sink Sink, size int) *Writer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Writer{
		sink:    sink,
		size:    size,
		buffers: make(map[models.Category][]models.Row),
	}
}

// OnFlush registers fn to be called after each flush.
func (w *Writer) OnFlush(fn FlushFunc) {
	w.onFlush = fn
}

// Append buffers row for cat and flushes the buffer once it reaches the batch size.
func (w *Writer) Append(cat models.Category, row models.Row) error {
	buf, seen := w.buffers[cat]
	if !seen {
		w.order = append(w.order, cat)
		buf = make([]models.Row, 0, w.size)
	}
	buf = append(buf, row)
	w.buffers[cat] = buf

	if len(buf) >= w.size {
		return w.flush(cat)
	}
	return nil
}

// FlushAll writes every non-empty buffer regardless of size, in the order categories
// were first seen. It attempts every category even if one fails.
func (w *Writer) FlushAll() error {
	var errs []error
	for _, cat := range w.order {
		if err := w.flush(cat); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending returns the number of buffered, unflushed rows.
func (w *Writer) Pending() int {
	n := 0
	for _, buf := range w.buffers {
		n += len(buf)
	}
	return n
}

// Flushes returns the number of sink writes performed.
func (w *Writer) Flushes() int { return w.flushes }

// RowsWritten returns the number of rows handed to the sink successfully.
func (w *Writer) RowsWritten() int { return w.written }

func (w *Writer) flush(cat models.Category) error {
	buf := w.buffers[cat]
	if len(buf) == 0 {
		return nil
	}

	rows := make([][]string, len(buf))
	for i, r := range buf {
		rows[i] = r.Values()
	}
	header := buf[0].Header()

	// The buffer is released even on failure: a partially written batch must not be
	// appended a second time by a later FlushAll.
	clear(buf)
	w.buffers[cat] = buf[:0]

	if err := w.sink.Append(cat, header, rows); err != nil {
		return fmt.Errorf("flush %s: %w", cat, err)
	}

	w.flushes++
	w.written += len(rows)
	if w.onFlush != nil {
		w.onFlush(cat, len(rows))
	}
	return nil
}

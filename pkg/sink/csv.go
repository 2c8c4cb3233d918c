// Package sink appends enriched records to a CSV file. The file is
// append-only: the header is written once when the file is new or empty and
// every append is flushed and synced before returning.
package sink

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

// Sentinel errors for the writer's failure classes.
var (
	ErrOpen   = errors.New("sink: open failed")
	ErrLocked = errors.New("sink: output file locked by another process")
	ErrWrite  = errors.New("sink: write failed")
)

// Header lists all record fields in their stable output order.
var Header = []string{
	"post_id",
	"title",
	"content",
	"score",
	"created_utc",
	"subreddit",
	"url",
	"num_comments",
	"sentiment_label",
	"sentiment_confidence",
	"sentiment_positive",
	"sentiment_negative",
	"sentiment_neutral",
	"sentiment_score",
	"run_id",
}

// Record is one output row: the submission fields plus sentiment and run id.
type Record struct {
	PostID      string
	Title       string
	Content     string
	Score       int64
	CreatedUTC  int64
	Subreddit   string
	URL         string
	NumComments int64

	SentimentLabel      string
	SentimentConfidence float64
	SentimentPositive   float64
	SentimentNegative   float64
	SentimentNeutral    float64
	SentimentScore      float64

	RunID string
}

// fields renders the record in Header order.
func (r *Record) fields() []string {
	return []string{
		r.PostID,
		r.Title,
		r.Content,
		strconv.FormatInt(r.Score, 10),
		strconv.FormatInt(r.CreatedUTC, 10),
		r.Subreddit,
		r.URL,
		strconv.FormatInt(r.NumComments, 10),
		r.SentimentLabel,
		formatFloat(r.SentimentConfidence),
		formatFloat(r.SentimentPositive),
		formatFloat(r.SentimentNegative),
		formatFloat(r.SentimentNeutral),
		formatFloat(r.SentimentScore),
		r.RunID,
	}
}

// formatFloat renders without an exponent and without locale influence.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Writer is the append-only CSV sink. Single-writer: a sidecar flock guards
// the output file for the writer's lifetime.
type Writer struct {
	path string
	file *os.File
	lock *flock.Flock
}

// Open opens (creating if absent) the sink file, acquires the writer lock,
// and writes the header when the file is empty.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create output directory: %v", ErrOpen, err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock: %v", ErrOpen, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}

	w := &Writer{path: path, file: file, lock: lock}

	empty, err := w.isEmpty()
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrOpen, path, err)
	}
	if empty {
		if err := w.writeRows([][]string{Header}); err != nil {
			w.Close()
			return nil, err
		}
	}

	return w, nil
}

// Append writes the given records. Each record is encoded in memory first and
// written whole, so a failed append never leaves a partial row behind.
func (w *Writer) Append(records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]string, len(records))
	for i := range records {
		rows[i] = records[i].fields()
	}
	return w.writeRows(rows)
}

// writeRows encodes rows into one buffer and commits it with a single write
// followed by fsync.
func (w *Writer) writeRows(rows [][]string) error {
	var buf bytes.Buffer
	enc := csv.NewWriter(&buf)
	for _, row := range rows {
		if err := enc.Write(row); err != nil {
			return fmt.Errorf("%w: encode row: %v", ErrWrite, err)
		}
	}
	enc.Flush()
	if err := enc.Error(); err != nil {
		return fmt.Errorf("%w: encode rows: %v", ErrWrite, err)
	}

	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrWrite, err)
	}
	return nil
}

// isEmpty reports whether the sink file currently has no content.
func (w *Writer) isEmpty() (bool, error) {
	info, err := w.file.Stat()
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

// Close releases the file and the writer lock.
func (w *Writer) Close() error {
	err := w.file.Close()
	if unlockErr := w.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

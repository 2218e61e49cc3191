// Package dataset reads and writes the JSON Lines files the collectors and
// the CLI exchange: one enriched star record, or one classified event, per line.
package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/ZanzyTHEbar/star-forensics/internal/analysis"
	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

// maxLineBytes bounds a single JSONL line.
const maxLineBytes = 4 << 20

// Batch is the result of reading one JSONL source. Rejected holds a
// MalformedRecordError for every line that was not a JSON object.
type Batch struct {
	Records  []types.RawStarRecord
	Rejected []error
}

// Read decodes enriched star records from r. Blank lines are ignored and
// undecodable lines are rejected without stopping the read; only I/O errors
// are returned.
func Read(r io.Reader, source string) (*Batch, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	batch := &Batch{}
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		loc := fmt.Sprintf("%s:%d", source, line)
		var rec types.RawStarRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			batch.Rejected = append(batch.Rejected, apperrors.NewMalformedRecordError(loc, "json", err))
			continue
		}
		rec.Source = loc
		batch.Records = append(batch.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.WrapError(err, "reading %s", source)
	}
	return batch, nil
}

// ReadFile reads a JSONL file; "-" reads standard input.
func ReadFile(path string) (*Batch, error) {
	if path == "-" {
		return Read(os.Stdin, "stdin")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("cannot open %s: %v", path, err))
	}
	defer apperrors.SafeClose(f, path)
	return Read(f, filepath.Base(path))
}

// Writer emits one JSON document per line.
type Writer struct {
	w *bufio.Writer
	n int
}

// NewWriter wraps w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write encodes v on its own line.
func (w *Writer) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	w.n++
	return w.w.WriteByte('\n')
}

// Count returns the number of lines written.
func (w *Writer) Count() int { return w.n }

// Flush writes any buffered data.
func (w *Writer) Flush() error { return w.w.Flush() }

// WriteRecords writes raw star records, e.g. a freshly fetched repository.
func WriteRecords(out io.Writer, records []types.RawStarRecord) error {
	w := NewWriter(out)
	for i := range records {
		if err := w.Write(&records[i]); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteClassified writes one classified event per line.
func WriteClassified(out io.Writer, events []analysis.Classified) error {
	w := NewWriter(out)
	for i := range events {
		if err := w.Write(&events[i]); err != nil {
			return err
		}
	}
	return w.Flush()
}

// CreateFile opens path for writing; "-" writes to standard output. The
// returned close func must be called.
func CreateFile(path string) (io.Writer, func() error, error) {
	if path == "-" || path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

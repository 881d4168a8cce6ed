package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits job event records.
//
// Implementations must be safe for concurrent use; each Write* call emits
// one complete line.
type Writer interface {
	WriteJob(ctx context.Context, job *JobRecord) error
	WriteProgress(ctx context.Context, prog *ProgressRecord) error
	WriteResult(ctx context.Context, res *ResultRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error

	// Close stops further writes. The underlying io.Writer is not closed.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
type JSONLWriter struct {
	w     io.Writer
	jobID string
	kind  string
	now   func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter creates a writer stamping every record with jobID and kind.
func NewJSONLWriter(w io.Writer, jobID, kind string) *JSONLWriter {
	return &JSONLWriter{
		w:     w,
		jobID: jobID,
		kind:  kind,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetJobID changes the correlation ID for subsequent records. procctl run
// only learns the ID after submission.
func (jw *JSONLWriter) SetJobID(id string) {
	jw.mu.Lock()
	jw.jobID = id
	jw.mu.Unlock()
}

// SetKind changes the kind stamped on subsequent records.
func (jw *JSONLWriter) SetKind(kind string) {
	jw.mu.Lock()
	jw.kind = kind
	jw.mu.Unlock()
}

func (jw *JSONLWriter) WriteJob(ctx context.Context, job *JobRecord) error {
	return jw.writeRecord(ctx, TypeJob, job)
}

func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, prog)
}

func (jw *JSONLWriter) WriteResult(ctx context.Context, res *ResultRecord) error {
	if res.DurationHuman == "" && res.Duration > 0 {
		res.DurationHuman = res.Duration.Round(time.Millisecond).String()
	}
	return jw.writeRecord(ctx, TypeResult, res)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// Close marks the writer as closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

// writeRecord holds the mutex for the whole line so concurrent records
// never interleave.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:  recordType,
		TS:    jw.now(),
		JobID: jw.jobID,
		Kind:  jw.kind,
		Data:  dataBytes,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	line = append(line, '\n')
	if err := writeAll(jw.w, line); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll loops over short writes so a line is never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)

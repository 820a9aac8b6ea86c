package results

import (
	"context"
	"strconv"
	"time"
)

// Row is one persisted measurement. Rows are self-describing: they carry
// everything the report stage needs without going back to the backend.
type Row struct {
	RunID       string
	Backend     string
	Test        string
	Operation   string
	RecordCount int64
	Index       int
	Elapsed     time.Duration
	Matched     int
	Detail      string
	Timestamp   time.Time
}

// Header lists the row columns in persisted order.
var Header = []string{
	"run_id", "backend", "test_type", "operation", "record_count", "index",
	"elapsed_ns", "matched", "detail", "timestamp",
}

func (r Row) strings() []string {
	return []string{
		r.RunID,
		r.Backend,
		r.Test,
		r.Operation,
		strconv.FormatInt(r.RecordCount, 10),
		strconv.Itoa(r.Index),
		strconv.FormatInt(int64(r.Elapsed), 10),
		strconv.Itoa(r.Matched),
		r.Detail,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Sink receives rows in completion order from a single writer.
type Sink interface {
	WriteMeta(ctx context.Context, meta Meta) error
	Write(ctx context.Context, row Row) error
	Close() error
}

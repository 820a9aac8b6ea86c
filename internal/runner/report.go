package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/metrics"
)

// Class is the failure category of an outcome.
type Class string

const (
	ClassNone        Class = ""
	ClassConnection  Class = "connection"
	ClassProvision   Class = "provision"
	ClassWrite       Class = "write"
	ClassQuery       Class = "query"
	ClassDegraded    Class = "degraded"
	ClassEmptySample Class = "empty-sample"
	ClassCanceled    Class = "canceled"
	ClassUnknown     Class = "unknown"
)

// Classify maps an error onto its category. Degraded runs wrap the last
// write or query error, so they are checked first. Adapters wrap their own
// timeouts in typed errors, so a typed error wins over a context error it
// wraps; whether the run itself was interrupted is decided by the runner.
func Classify(err error) Class {
	var (
		degraded  *database.DegradedRunError
		empty     *metrics.EmptySampleError
		conn      *database.ConnectionError
		provision *database.ProvisionError
		write     *database.WriteError
		query     *database.QueryError
	)
	switch {
	case err == nil:
		return ClassNone
	case errors.As(err, &degraded):
		return ClassDegraded
	case errors.As(err, &empty):
		return ClassEmptySample
	case errors.As(err, &conn):
		return ClassConnection
	case errors.As(err, &provision):
		return ClassProvision
	case errors.As(err, &write):
		return ClassWrite
	case errors.As(err, &query):
		return ClassQuery
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	}
	return ClassUnknown
}

// classify is Classify for an error returned while ctx was the run context:
// once the run is interrupted every failure is reported as canceled.
func classify(ctx context.Context, err error) Class {
	if err != nil && ctx.Err() != nil {
		return ClassCanceled
	}
	return Classify(err)
}

// Outcome is the result of one (backend, protocol) pair.
type Outcome struct {
	Backend  database.Backend
	Test     database.TestType
	Err      error
	Class    Class
	Result   *database.Result
	Duration time.Duration
}

type Report struct {
	RunID    string
	Outcomes []Outcome
}

// Failed reports whether any pair failed.
func (r *Report) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return true
		}
	}
	return false
}

// Print writes the per-pair table.
func (r *Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\n", r.RunID)
	fmt.Fprintln(tw, "BACKEND\tTEST\tSTATUS\tOPS\tFAILED\tRECORDS\tREC/S\tDURATION\tERROR")
	for _, o := range r.Outcomes {
		status := "ok"
		var ops, failed int
		var records int64
		var rate float64
		if o.Err != nil {
			status = string(o.Class)
		}
		if o.Result != nil {
			ops, failed, records, rate = o.Result.Operations, o.Result.Failures, o.Result.Records, o.Result.Throughput
		}
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.0f\t%s\t%s\n",
			o.Backend, o.Test, status, ops, failed, records, rate, o.Duration.Round(time.Millisecond), errText)
	}
	return tw.Flush()
}

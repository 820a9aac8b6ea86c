// Package workloads holds what the scalability, load and substring protocols
// share: sample bookkeeping, row emission, the failure budget and preloading.
package workloads

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
	"multidb-benchmark/internal/metrics"
	"multidb-benchmark/internal/results"
)

// Tracker follows one protocol execution.
type Tracker struct {
	env       *database.Env
	test      database.TestType
	collector *metrics.Collector
	started   time.Time

	planned    int
	operations int
	failures   int
	lastErr    error
	written    int64
	throughput float64
}

// NewTracker starts tracking a protocol that plans the given number of
// measured operations. The caller must Close it.
func NewTracker(env *database.Env, test database.TestType, planned int) *Tracker {
	return &Tracker{
		env:       env,
		test:      test,
		collector: metrics.NewCollector(),
		started:   time.Now(),
		planned:   planned,
	}
}

func (t *Tracker) Collector() *metrics.Collector { return t.collector }

func (t *Tracker) Close() { t.collector.Close() }

// Measure records a successful timed operation and persists its row.
func (t *Tracker) Measure(ctx context.Context, kind metrics.Kind, recordCount int64, index int, elapsed time.Duration, matched int, detail string) error {
	t.operations++
	t.collector.Record(kind, elapsed)
	row := results.Row{
		RunID:       t.env.RunID,
		Backend:     string(t.env.Backend),
		Test:        string(t.test),
		Operation:   string(kind),
		RecordCount: recordCount,
		Index:       index,
		Elapsed:     elapsed,
		Matched:     matched,
		Detail:      detail,
		Timestamp:   time.Now(),
	}
	if err := t.env.Rows.Write(ctx, row); err != nil {
		return fmt.Errorf("persist %s row %d: %w", kind, index, err)
	}
	return nil
}

// Fail counts a failed measured operation. It returns a *DegradedRunError
// once failures exceed the allowed share of planned operations.
func (t *Tracker) Fail(err error) error {
	t.operations++
	t.failures++
	t.lastErr = err
	t.env.Logger.Warnf("%s operation failed (%d so far): %v", t.test, t.failures, err)
	if float64(t.failures) > t.env.Settings.MaxFailureRatio*float64(t.planned) {
		return &database.DegradedRunError{Test: t.test, Failures: t.failures, Planned: t.planned, Last: err}
	}
	return nil
}

// Wrote counts records written to the backend.
func (t *Tracker) Wrote(n int) {
	t.written += int64(n)
	t.collector.MarkWritten(n)
}

// Written returns the number of records written so far.
func (t *Tracker) Written() int64 { return t.written }

// EndWrites freezes the write throughput figure.
func (t *Tracker) EndWrites() {
	t.throughput = t.collector.WriteRate()
}

// Progress logs a progress line every Settings.ProgressEvery steps and on
// the last one.
func (t *Tracker) Progress(step, total int, kind metrics.Kind) {
	every := t.env.Settings.ProgressEvery
	if every <= 0 || (step%every != 0 && step != total) {
		return
	}
	t.env.Logger.Infof("%s %d/%d: %d records, %d %s samples p95~%s, %.0f records/s",
		t.test, step, total, t.written, t.collector.Count(kind), kind, t.collector.LiveP95(kind), t.collector.WriteRate())
}

// Preload inserts records in batches without measuring them. Any failure
// aborts: without the data the measurement is meaningless.
func (t *Tracker) Preload(ctx context.Context, h database.Handle, records []dataset.Record, batchSize int) error {
	for i, batch := range database.Chunk(records, batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := h.InsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("preload batch %d: %w", i+1, err)
		}
		t.Wrote(len(batch))
	}
	t.EndWrites()
	t.env.Logger.Infof("Preloaded %d records (%.0f records/s)", t.written, t.throughput)
	return nil
}

// Finish builds the protocol result. Every kind listed must have at least
// one successful sample.
func (t *Tracker) Finish(kinds ...metrics.Kind) (*database.Result, error) {
	summaries := t.collector.Summaries()
	for _, kind := range kinds {
		if _, ok := summaries[kind]; !ok {
			return nil, &metrics.EmptySampleError{Kind: kind}
		}
	}
	return &database.Result{
		Backend:    t.env.Backend,
		Test:       t.test,
		Summaries:  summaries,
		Operations: t.operations,
		Failures:   t.failures,
		Records:    t.written,
		TotalTime:  time.Since(t.started),
		Throughput: t.throughput,
	}, nil
}

// SampleCodes draws k distinct codes from records. It returns every code when
// k >= len(records).
func SampleCodes(rng *rand.Rand, records []dataset.Record, k int) []string {
	n := len(records)
	if k >= n {
		return dataset.Codes(records)
	}
	if k <= 0 {
		return []string{}
	}
	// Floyd's algorithm: O(k) regardless of n.
	chosen := make(map[int]struct{}, k)
	codes := make([]string, 0, k)
	for j := n - k; j < n; j++ {
		idx := rng.Intn(j + 1)
		if _, dup := chosen[idx]; dup {
			idx = j
		}
		chosen[idx] = struct{}{}
		codes = append(codes, records[idx].Codigo)
	}
	return codes
}

package scalability

import (
	"context"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
	"multidb-benchmark/internal/metrics"
	"multidb-benchmark/internal/workloads"
)

// Test grows the backend batch by batch and, after every batch, looks up a
// sample of the codes inserted so far. Both timings are tagged with the
// cumulative record count.
type Test struct{}

func (Test) Name() database.TestType { return database.Scalability }

func (t Test) Run(ctx context.Context, h database.Handle, env *database.Env) (*database.Result, error) {
	s := env.Settings
	records := dataset.Limit(env.Records, s.MaxRecords)
	batches := database.Chunk(records, s.BatchSize)

	tracker := workloads.NewTracker(env, database.Scalability, 2*len(batches))
	defer tracker.Close()

	env.Logger.Infof("Scalability: %d records in %d batches of %d", len(records), len(batches), s.BatchSize)

	// cumulative counts every attempted record, so tags stay monotonic even
	// when a batch fails.
	var cumulative int64
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		index := i + 1

		elapsed, err := h.InsertBatch(ctx, batch)
		cumulative += int64(len(batch))
		if err != nil {
			if err := tracker.Fail(err); err != nil {
				return nil, err
			}
		} else {
			tracker.Wrote(len(batch))
			if err := tracker.Measure(ctx, metrics.InsertBatch, cumulative, index, elapsed, len(batch), ""); err != nil {
				return nil, err
			}
		}

		codes := workloads.SampleCodes(env.Rand, records[:cumulative], s.QuerySampleSize)
		found, elapsed, err := h.QueryByCodes(ctx, codes)
		if err != nil {
			if err := tracker.Fail(err); err != nil {
				return nil, err
			}
		} else if err := tracker.Measure(ctx, metrics.QueryByCode, cumulative, index, elapsed, len(found), ""); err != nil {
			return nil, err
		}

		tracker.Progress(index, len(batches), metrics.InsertBatch)
	}
	tracker.EndWrites()

	if n, err := h.Count(ctx); err != nil {
		env.Logger.Warnf("Could not read final record count: %v", err)
	} else if n != tracker.Written() {
		env.Logger.Warnf("Backend holds %d records, %d were written", n, tracker.Written())
	}

	return tracker.Finish(metrics.InsertBatch, metrics.QueryByCode)
}

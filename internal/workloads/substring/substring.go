package substring

import (
	"context"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
	"multidb-benchmark/internal/metrics"
	"multidb-benchmark/internal/workloads"
)

// Test inserts the dataset once and then searches a free-text field,
// cycling through the configured patterns. Backends without a substring
// index scan, and their timings are expected to show it.
type Test struct{}

func (Test) Name() database.TestType { return database.Substring }

func (t Test) Run(ctx context.Context, h database.Handle, env *database.Env) (*database.Result, error) {
	s := env.Settings
	records := dataset.Limit(env.Records, s.MaxRecords)

	tracker := workloads.NewTracker(env, database.Substring, s.SubstringQueries)
	defer tracker.Close()

	if err := tracker.Preload(ctx, h, records, s.LoadBatchSize); err != nil {
		return nil, err
	}

	env.Logger.Infof("Substring: %d queries on %s over %d patterns", s.SubstringQueries, s.SubstringField, len(s.SubstringPatterns))

	for i := 0; i < s.SubstringQueries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		index := i + 1
		pattern := s.SubstringPatterns[i%len(s.SubstringPatterns)]

		found, elapsed, err := h.QueryBySubstring(ctx, s.SubstringField, pattern)
		if err != nil {
			if err := tracker.Fail(err); err != nil {
				return nil, err
			}
			continue
		}
		if err := tracker.Measure(ctx, metrics.QueryBySubstring, tracker.Written(), index, elapsed, len(found), pattern); err != nil {
			return nil, err
		}
		tracker.Progress(index, s.SubstringQueries, metrics.QueryBySubstring)
	}

	return tracker.Finish(metrics.QueryBySubstring)
}

package load

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/time/rate"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
	"multidb-benchmark/internal/metrics"
	"multidb-benchmark/internal/workloads"
)

// warmup draws its codes from this many leading records.
const warmupPrefix = 50

// Test inserts the dataset once and then repeatedly looks up random code
// sets. Warmup lookups are timed but dropped before anything is persisted.
type Test struct{}

func (Test) Name() database.TestType { return database.Load }

func (t Test) Run(ctx context.Context, h database.Handle, env *database.Env) (*database.Result, error) {
	s := env.Settings
	records := dataset.Limit(env.Records, s.MaxRecords)

	tracker := workloads.NewTracker(env, database.Load, s.Iterations)
	defer tracker.Close()

	if err := tracker.Preload(ctx, h, records, s.LoadBatchSize); err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if s.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.MaxRPS), 1)
	}
	pace := func() error {
		if limiter == nil {
			return ctx.Err()
		}
		return limiter.Wait(ctx)
	}

	env.Logger.Infof("Load: %d warmup and %d measured iterations, seed %d", s.Warmup, s.Iterations, s.Seed)

	warm := dataset.Limit(records, warmupPrefix)
	collector := tracker.Collector()
	for i := 0; i < s.Warmup; i++ {
		if err := pace(); err != nil {
			return nil, err
		}
		codes := workloads.SampleCodes(env.Rand, warm, batchSize(env.Rand, s))
		if _, elapsed, err := h.QueryByCodes(ctx, codes); err != nil {
			env.Logger.Debugf("Warmup query failed: %v", err)
		} else {
			collector.Record(metrics.QueryByCode, elapsed)
		}
	}
	collector.Reset(metrics.QueryByCode)

	for i := 0; i < s.Iterations; i++ {
		if err := pace(); err != nil {
			return nil, err
		}
		index := i + 1
		codes := workloads.SampleCodes(env.Rand, records, batchSize(env.Rand, s))
		found, elapsed, err := h.QueryByCodes(ctx, codes)
		if err != nil {
			if err := tracker.Fail(err); err != nil {
				return nil, err
			}
			continue
		}
		detail := fmt.Sprintf("codes=%d", len(codes))
		if err := tracker.Measure(ctx, metrics.QueryByCode, tracker.Written(), index, elapsed, len(found), detail); err != nil {
			return nil, err
		}
		tracker.Progress(index, s.Iterations, metrics.QueryByCode)
	}

	return tracker.Finish(metrics.QueryByCode)
}

// batchSize is uniform in [QueryBatchMin, QueryBatchMax].
func batchSize(rng *rand.Rand, s database.Settings) int {
	if s.QueryBatchMax <= s.QueryBatchMin {
		return s.QueryBatchMin
	}
	return s.QueryBatchMin + rng.Intn(s.QueryBatchMax-s.QueryBatchMin+1)
}

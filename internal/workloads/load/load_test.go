package load

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/database/fixture"
	"multidb-benchmark/internal/dataset"
	"multidb-benchmark/internal/metrics"
	"multidb-benchmark/internal/results"
)

func run(t *testing.T, d *fixture.Driver, mutate func(*database.Settings)) (*database.Result, []results.Row, error) {
	t.Helper()
	ctx := context.Background()
	h, err := d.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Provision(ctx))
	defer h.Close(ctx)

	settings := database.DefaultSettings()
	settings.LoadBatchSize = 25
	if mutate != nil {
		mutate(&settings)
	}
	sink := &results.MemorySink{}
	env := &database.Env{
		RunID:    "run",
		Backend:  d.Backend(),
		Records:  dataset.Generate(100, 1),
		Settings: settings,
		Rand:     rand.New(rand.NewSource(settings.Seed)),
		Rows:     sink,
		Logger:   zap.NewNop().Sugar(),
	}
	res, err := Test{}.Run(ctx, h, env)
	return res, sink.Rows(), err
}

func TestScenarioFixedLatency(t *testing.T) {
	d := fixture.New(database.CouchDB).WithLatency(2 * time.Millisecond)
	res, rows, err := run(t, d, func(s *database.Settings) {
		s.Warmup = 5
		s.Iterations = 20
	})
	require.NoError(t, err)

	summary := res.Summaries[metrics.QueryByCode]
	assert.Equal(t, 20, summary.Count)
	assert.Equal(t, 2*time.Millisecond, summary.Mean)
	assert.Equal(t, 2*time.Millisecond, summary.P95)
	assert.Len(t, rows, 20)
	assert.Equal(t, 25, d.Calls(fixture.OpQuery))
}

func TestWarmupNeverReachesSummary(t *testing.T) {
	for _, warmup := range []int{0, 1, 5, 50} {
		d := fixture.New(database.Postgres)
		res, rows, err := run(t, d, func(s *database.Settings) {
			s.Warmup = warmup
			s.Iterations = 12
		})
		require.NoError(t, err)
		assert.Equal(t, 12, res.Summaries[metrics.QueryByCode].Count, "warmup=%d", warmup)
		require.Len(t, rows, 12, "warmup=%d", warmup)
		assert.Equal(t, 1, rows[0].Index)
		assert.Equal(t, 12+warmup, d.Calls(fixture.OpQuery))
	}
}

func TestQuerySetSizesStayInRange(t *testing.T) {
	_, rows, err := run(t, fixture.New(database.MongoDB), func(s *database.Settings) {
		s.Warmup = 0
		s.Iterations = 200
	})
	require.NoError(t, err)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.Matched, 20)
		assert.LessOrEqual(t, r.Matched, 30)
		assert.Equal(t, int64(100), r.RecordCount)
	}
}

func TestSameSeedSameQueries(t *testing.T) {
	_, a, err := run(t, fixture.New(database.MongoDB), func(s *database.Settings) { s.Iterations = 30 })
	require.NoError(t, err)
	_, b, err := run(t, fixture.New(database.MongoDB), func(s *database.Settings) { s.Iterations = 30 })
	require.NoError(t, err)

	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Detail, b[i].Detail)
		assert.Equal(t, a[i].Matched, b[i].Matched)
	}
}

func TestPreloadFailureAborts(t *testing.T) {
	d := fixture.New(database.Cassandra).FailOn(fixture.OpInsert, errors.New("unavailable"))
	_, rows, err := run(t, d, nil)
	require.Error(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, d.Calls(fixture.OpQuery))
}

func TestDegradedRun(t *testing.T) {
	d := fixture.New(database.ScyllaDB).FailOn(fixture.OpQuery, &database.QueryError{Backend: database.ScyllaDB, Op: "query-by-code", Err: errors.New("timeout")})
	_, _, err := run(t, d, func(s *database.Settings) {
		s.Warmup = 3
		s.Iterations = 8
	})
	var degraded *database.DegradedRunError
	require.True(t, errors.As(err, &degraded))
	assert.Equal(t, 3, degraded.Failures)
}

func TestRateLimitedIterations(t *testing.T) {
	start := time.Now()
	_, rows, err := run(t, fixture.New(database.Postgres), func(s *database.Settings) {
		s.Warmup = 0
		s.Iterations = 5
		s.MaxRPS = 100
	})
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestBatchSize(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := database.Settings{QueryBatchMin: 20, QueryBatchMax: 30}
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		n := batchSize(rng, s)
		require.GreaterOrEqual(t, n, 20)
		require.LessOrEqual(t, n, 30)
		seen[n] = true
	}
	assert.Len(t, seen, 11)
	assert.Equal(t, 5, batchSize(rng, database.Settings{QueryBatchMin: 5, QueryBatchMax: 5}))
}

package workloads

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/database/fixture"
	"multidb-benchmark/internal/dataset"
	"multidb-benchmark/internal/metrics"
	"multidb-benchmark/internal/results"
)

func newEnv(t *testing.T, sink *results.MemorySink) *database.Env {
	settings := database.DefaultSettings()
	return &database.Env{
		RunID:    "run-1",
		Backend:  database.Postgres,
		Records:  dataset.Generate(100, 1),
		Settings: settings,
		Rand:     rand.New(rand.NewSource(settings.Seed)),
		Rows:     sink,
		Logger:   zaptest.NewLogger(t).Sugar(),
	}
}

func TestSampleCodesDistinct(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	records := dataset.Generate(200, 1)
	for k := 0; k <= 40; k++ {
		codes := SampleCodes(rng, records, k)
		require.Len(t, codes, k)
		assert.Len(t, database.UniqueCodes(codes), k)
	}
	assert.Len(t, SampleCodes(rng, records[:5], 20), 5)
}

func TestSampleCodesIsReproducible(t *testing.T) {
	records := dataset.Generate(500, 1)
	a := SampleCodes(rand.New(rand.NewSource(9)), records, 25)
	b := SampleCodes(rand.New(rand.NewSource(9)), records, 25)
	assert.Equal(t, a, b)
}

func TestFailBudget(t *testing.T) {
	env := newEnv(t, &results.MemorySink{})
	tracker := NewTracker(env, database.Load, 20)
	defer tracker.Close()

	cause := errors.New("timeout")
	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Fail(cause))
	}
	err := tracker.Fail(cause)
	var degraded *database.DegradedRunError
	require.True(t, errors.As(err, &degraded))
	assert.Equal(t, 6, degraded.Failures)
	assert.Equal(t, 20, degraded.Planned)
}

func TestMeasurePersistsRow(t *testing.T) {
	sink := &results.MemorySink{}
	env := newEnv(t, sink)
	tracker := NewTracker(env, database.Substring, 1)
	defer tracker.Close()

	require.NoError(t, tracker.Measure(context.Background(), metrics.QueryBySubstring, 10, 1, 3*time.Millisecond, 4, "silva"))
	rows := sink.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, results.Row{
		RunID: "run-1", Backend: "postgres", Test: "substring", Operation: "query-by-substring",
		RecordCount: 10, Index: 1, Elapsed: 3 * time.Millisecond, Matched: 4, Detail: "silva",
		Timestamp: rows[0].Timestamp,
	}, rows[0])

	res, err := tracker.Finish(metrics.QueryBySubstring)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summaries[metrics.QueryBySubstring].Count)
}

func TestFinishWithoutSamplesIsEmptySampleError(t *testing.T) {
	tracker := NewTracker(newEnv(t, &results.MemorySink{}), database.Load, 1)
	defer tracker.Close()

	_, err := tracker.Finish(metrics.QueryByCode)
	var empty *metrics.EmptySampleError
	require.True(t, errors.As(err, &empty))
}

func TestPreloadAbortsOnFailure(t *testing.T) {
	ctx := context.Background()
	d := fixture.New(database.Postgres).FailNth(fixture.OpInsert, 2, errors.New("disk full"))
	h, err := d.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Provision(ctx))

	tracker := NewTracker(newEnv(t, &results.MemorySink{}), database.Load, 1)
	defer tracker.Close()

	err = tracker.Preload(ctx, h, dataset.Generate(30, 1), 10)
	require.Error(t, err)
	assert.Equal(t, int64(10), tracker.Written())
	assert.Equal(t, 2, d.Calls(fixture.OpInsert))
}

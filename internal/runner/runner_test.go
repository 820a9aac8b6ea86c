package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/database/fixture"
	"multidb-benchmark/internal/dataset"
	"multidb-benchmark/internal/metrics"
	"multidb-benchmark/internal/results"
)

func testConfig(test database.TestType, backends ...database.Backend) RunConfig {
	s := database.DefaultSettings()
	s.BatchSize = 20
	s.LoadBatchSize = 30
	s.Iterations = 10
	s.Warmup = 2
	s.SubstringQueries = 5
	s.ProgressEvery = 0
	return RunConfig{
		RunID:    "run-test",
		Backends: backends,
		Test:     test,
		Records:  dataset.Generate(60, 1),
		Settings: s,
		Teardown: true,
	}
}

func newRunner(t *testing.T, cfg RunConfig, sink results.Sink, drivers ...database.Driver) *Runner {
	r := New(cfg, Drivers(drivers...), sink, zaptest.NewLogger(t).Sugar())
	r.hostStat = func() results.SysInfo { return results.SysInfo{Arch: "test"} }
	return r
}

func TestProvisionFailureIsIsolated(t *testing.T) {
	broken := fixture.New(database.Postgres).
		FailOn(fixture.OpProvision, &database.ConnectionError{Backend: database.Postgres, Err: errors.New("connection refused")})
	healthy := fixture.New(database.MongoDB)
	sink := &results.MemorySink{}

	report, err := newRunner(t, testConfig(database.Scalability, database.Postgres, database.MongoDB), sink, broken, healthy).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)

	assert.Equal(t, database.Postgres, report.Outcomes[0].Backend)
	assert.Equal(t, ClassConnection, report.Outcomes[0].Class)
	assert.Nil(t, report.Outcomes[0].Result)
	assert.NoError(t, report.Outcomes[1].Err)
	require.NotNil(t, report.Outcomes[1].Result)
	assert.Equal(t, int64(60), report.Outcomes[1].Result.Records)
	assert.True(t, report.Failed())

	// the failed backend was still torn down and closed
	assert.Equal(t, 2, broken.Calls(fixture.OpTeardown))
	assert.Equal(t, 1, broken.Calls(fixture.OpClose))

	for _, row := range sink.Rows() {
		assert.Equal(t, "mongodb", row.Backend)
	}
	assert.NotEmpty(t, sink.Rows())
	require.Len(t, sink.Meta(), 1)
	assert.Equal(t, []string{"postgres", "mongodb"}, sink.Meta()[0].Backends)
}

func TestConfigurationErrorTouchesNoBackend(t *testing.T) {
	cases := map[string]func(*RunConfig){
		"no backends":      func(c *RunConfig) { c.Backends = nil },
		"unknown backend":  func(c *RunConfig) { c.Backends = []database.Backend{"oracle"} },
		"duplicate":        func(c *RunConfig) { c.Backends = []database.Backend{database.Postgres, database.Postgres} },
		"unknown test":     func(c *RunConfig) { c.Test = "stress" },
		"empty dataset":    func(c *RunConfig) { c.Records = nil },
		"zero batch":       func(c *RunConfig) { c.Settings.BatchSize = 0 },
		"zero iterations":  func(c *RunConfig) { c.Test = database.Load; c.Settings.Iterations = 0 },
		"negative warmup":  func(c *RunConfig) { c.Test = database.Load; c.Settings.Warmup = -1 },
		"inverted range":   func(c *RunConfig) { c.Test = database.All; c.Settings.QueryBatchMin = 40 },
		"unknown field":    func(c *RunConfig) { c.Test = database.Substring; c.Settings.SubstringField = "codigo" },
		"negative max":     func(c *RunConfig) { c.Settings.MaxRecords = -5 },
		"ratio above one":  func(c *RunConfig) { c.Settings.MaxFailureRatio = 1.5 },
		"no patterns":      func(c *RunConfig) { c.Test = database.Substring; c.Settings.SubstringPatterns = nil },
		"negative timeout": func(c *RunConfig) { c.TeardownTimeout = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(database.Scalability, database.Postgres)
			mutate(&cfg)

			called := false
			factory := func(database.Backend) (database.Driver, error) {
				called = true
				return nil, errors.New("unexpected")
			}
			sink := &results.MemorySink{}
			r := New(cfg, factory, sink, zaptest.NewLogger(t).Sugar())

			report, err := r.Run(context.Background())
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.NotEmpty(t, cfgErr.Problems)
			assert.Nil(t, report)
			assert.False(t, called)
			assert.Empty(t, sink.Meta())
		})
	}
}

func TestValidateIgnoresUnselectedProtocols(t *testing.T) {
	cfg := testConfig(database.Scalability, database.CouchDB)
	cfg.Settings.Iterations = 0
	cfg.Settings.SubstringField = "codigo"
	assert.NoError(t, cfg.Validate())
}

func TestAllRunsEveryProtocolOnFreshHandles(t *testing.T) {
	d := fixture.New(database.Cassandra)
	sink := &results.MemorySink{}

	report, err := newRunner(t, testConfig(database.All, database.Cassandra), sink, d).Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.Failed())

	var tests []database.TestType
	for _, o := range report.Outcomes {
		tests = append(tests, o.Test)
	}
	assert.Equal(t, []database.TestType{database.Scalability, database.Load, database.Substring}, tests)

	assert.Equal(t, 3, d.Calls(fixture.OpConnect))
	assert.Equal(t, 3, d.Calls(fixture.OpClose))
	assert.Equal(t, 6, d.Calls(fixture.OpTeardown))
	assert.False(t, d.Provisioned())

	// rows arrive grouped by protocol, in protocol order
	order := map[string]int{"scalability": 0, "load": 1, "substring": 2}
	last := 0
	for _, row := range sink.Rows() {
		require.GreaterOrEqual(t, order[row.Test], last)
		last = order[row.Test]
	}
	assert.Equal(t, 2, last)
}

func TestNoTeardownKeepsOnlyTheFinalSchema(t *testing.T) {
	d := fixture.New(database.ScyllaDB)
	cfg := testConfig(database.All, database.ScyllaDB)
	cfg.Teardown = false

	report, err := newRunner(t, cfg, &results.MemorySink{}, d).Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.Failed())

	assert.Equal(t, 5, d.Calls(fixture.OpTeardown))
	assert.True(t, d.Provisioned())
	assert.Equal(t, 3, d.Calls(fixture.OpClose))
}

func TestTeardownErrorsDoNotFailTheRun(t *testing.T) {
	d := fixture.New(database.CouchDB).
		FailNth(fixture.OpTeardown, 2, errors.New("drop timed out")).
		FailOn(fixture.OpClose, errors.New("already closed"))

	report, err := newRunner(t, testConfig(database.Load, database.CouchDB), &results.MemorySink{}, d).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed())
}

func TestDegradedProtocolIsRecorded(t *testing.T) {
	d := fixture.New(database.MongoDB).FailOn(fixture.OpSubstring, errors.New("scan timeout"))

	report, err := newRunner(t, testConfig(database.All, database.MongoDB), &results.MemorySink{}, d).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)
	assert.NoError(t, report.Outcomes[0].Err)
	assert.NoError(t, report.Outcomes[1].Err)
	assert.Equal(t, ClassDegraded, report.Outcomes[2].Class)
	assert.Equal(t, 6, d.Calls(fixture.OpTeardown))
}

func TestConnectFailure(t *testing.T) {
	d := fixture.New(database.Postgres).FailOn(fixture.OpConnect, errors.New("no route to host"))

	report, err := newRunner(t, testConfig(database.Load, database.Postgres), &results.MemorySink{}, d).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, ClassConnection, report.Outcomes[0].Class)
	assert.Equal(t, 0, d.Calls(fixture.OpTeardown))
	assert.Equal(t, 0, d.Calls(fixture.OpClose))
}

func TestMissingDriverIsConfigurationError(t *testing.T) {
	sink := &results.MemorySink{}
	report, err := newRunner(t, testConfig(database.Scalability, database.CouchDB), sink).Run(context.Background())
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Nil(t, report)
	assert.Empty(t, sink.Meta())
}

func TestUnresolvableBackendFailsBeforeAnyConnect(t *testing.T) {
	first := fixture.New(database.Postgres)
	factory := func(b database.Backend) (database.Driver, error) {
		if b == database.MongoDB {
			return nil, errors.New(`BENCH_MONGODB_PORT: parsing "abc": invalid syntax`)
		}
		return first, nil
	}
	sink := &results.MemorySink{}
	r := New(testConfig(database.Load, database.Postgres, database.MongoDB), factory, sink, zaptest.NewLogger(t).Sugar())

	report, err := r.Run(context.Background())
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Nil(t, report)
	require.Len(t, cfgErr.Problems, 1)
	assert.Contains(t, cfgErr.Problems[0], "mongodb")
	assert.Equal(t, 0, first.Calls(fixture.OpConnect))
	assert.Empty(t, sink.Meta())
}

func TestTimedOutWriteIsAWriteFailure(t *testing.T) {
	d := fixture.New(database.Cassandra).
		FailOn(fixture.OpInsert, &database.WriteError{Backend: database.Cassandra, Err: context.DeadlineExceeded})

	report, err := newRunner(t, testConfig(database.Load, database.Cassandra), &results.MemorySink{}, d).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, ClassWrite, report.Outcomes[0].Class)
	assert.ErrorIs(t, report.Outcomes[0].Err, context.DeadlineExceeded)
}

func TestConnectTimeoutIsAConnectionFailure(t *testing.T) {
	d := fixture.New(database.ScyllaDB).
		FailOn(fixture.OpConnect, &database.ConnectionError{Backend: database.ScyllaDB, Err: fmt.Errorf("dial: %w", context.DeadlineExceeded)})

	report, err := newRunner(t, testConfig(database.Scalability, database.ScyllaDB), &results.MemorySink{}, d).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, ClassConnection, report.Outcomes[0].Class)
}

func TestMetaRecordsSubstringPatterns(t *testing.T) {
	cfg := testConfig(database.Substring, database.Postgres)
	cfg.Settings.SubstringPatterns = []string{"silva", "ltda"}
	sink := &results.MemorySink{}

	_, err := newRunner(t, cfg, sink, fixture.New(database.Postgres)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.Meta(), 1)
	params := sink.Meta()[0].Parameters
	assert.Equal(t, "silva,ltda", params["substring_patterns"])
	assert.Equal(t, "cliente", params["substring_field"])
}

// cancelingSink cancels the run once the first row arrives.
type cancelingSink struct {
	results.MemorySink
	once   sync.Once
	cancel context.CancelFunc
}

func (s *cancelingSink) Write(ctx context.Context, row results.Row) error {
	s.once.Do(s.cancel)
	return s.MemorySink.Write(ctx, row)
}

func TestInterruptStopsSchedulingAndStillTearsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := fixture.New(database.Postgres)
	second := fixture.New(database.MongoDB)
	sink := &cancelingSink{cancel: cancel}

	report, err := newRunner(t, testConfig(database.All, database.Postgres, database.MongoDB), sink, first, second).Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, ClassCanceled, report.Outcomes[0].Class)

	assert.False(t, first.Provisioned())
	assert.Equal(t, 2, first.Calls(fixture.OpTeardown))
	assert.Equal(t, 0, second.Calls(fixture.OpConnect))
}

type failingMetaSink struct{ results.MemorySink }

func (*failingMetaSink) WriteMeta(context.Context, results.Meta) error { return errors.New("read-only") }

func TestMetadataFailureAbortsBeforeBackends(t *testing.T) {
	d := fixture.New(database.Postgres)
	_, err := newRunner(t, testConfig(database.Load, database.Postgres), &failingMetaSink{}, d).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, d.Calls(fixture.OpConnect))
}

func TestRunIDIsGenerated(t *testing.T) {
	cfg := testConfig(database.Load, database.Postgres)
	cfg.RunID = ""
	a := New(cfg, Drivers(), &results.MemorySink{}, zaptest.NewLogger(t).Sugar())
	b := New(cfg, Drivers(), &results.MemorySink{}, zaptest.NewLogger(t).Sugar())
	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestSummariesRecomputedFromRowsMatchResults(t *testing.T) {
	d := fixture.New(database.Postgres)
	sink := &results.MemorySink{}
	report, err := newRunner(t, testConfig(database.All, database.Postgres), sink, d).Run(context.Background())
	require.NoError(t, err)

	groups, err := results.Summarize(sink.Rows())
	require.NoError(t, err)
	recomputed := map[string]metrics.Summary{}
	for _, g := range groups {
		recomputed[g.Test+"/"+g.Operation] = g.Summary
	}
	for _, o := range report.Outcomes {
		require.NotNil(t, o.Result)
		for kind, s := range o.Result.Summaries {
			assert.Equal(t, s, recomputed[string(o.Test)+"/"+string(kind)], "%s/%s", o.Test, kind)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{nil, ClassNone},
		{&database.ConnectionError{Err: errors.New("x")}, ClassConnection},
		{&database.ProvisionError{Err: errors.New("x")}, ClassProvision},
		{fmt.Errorf("preload batch 1: %w", &database.WriteError{Err: errors.New("x")}), ClassWrite},
		{&database.QueryError{Err: errors.New("x")}, ClassQuery},
		{&database.DegradedRunError{Last: &database.WriteError{Err: errors.New("x")}}, ClassDegraded},
		{&metrics.EmptySampleError{Kind: metrics.QueryByCode}, ClassEmptySample},
		{&database.ConnectionError{Err: fmt.Errorf("dial: %w", context.DeadlineExceeded)}, ClassConnection},
		{&database.ProvisionError{Step: "schema", Err: context.DeadlineExceeded}, ClassProvision},
		{fmt.Errorf("preload batch 1: %w", &database.WriteError{Err: context.DeadlineExceeded}), ClassWrite},
		{&database.QueryError{Err: context.DeadlineExceeded}, ClassQuery},
		{context.Canceled, ClassCanceled},
		{fmt.Errorf("pace: %w", context.Canceled), ClassCanceled},
		{context.DeadlineExceeded, ClassUnknown},
		{errors.New("boom"), ClassUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "%v", c.err)
	}
}

func TestClassifyInterruptedRunIsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := &database.QueryError{Err: context.Canceled}
	assert.Equal(t, ClassCanceled, classify(ctx, err))
	assert.Equal(t, ClassQuery, classify(context.Background(), err))
	assert.Equal(t, ClassNone, classify(ctx, nil))
}

func TestReportPrint(t *testing.T) {
	report := &Report{RunID: "r1", Outcomes: []Outcome{
		{Backend: database.Postgres, Test: database.Load, Result: &database.Result{Operations: 10, Records: 60}},
		{Backend: database.MongoDB, Test: database.Load, Err: errors.New("boom"), Class: ClassUnknown},
	}}
	var buf bytes.Buffer
	require.NoError(t, report.Print(&buf))
	out := buf.String()
	assert.Contains(t, out, "run r1")
	assert.Contains(t, out, "postgres")
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "unknown")
	assert.Contains(t, out, "boom")
	assert.True(t, report.Failed())
	assert.False(t, (&Report{}).Failed())
}

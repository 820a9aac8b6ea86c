package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/results"
	"multidb-benchmark/internal/workloads/load"
	"multidb-benchmark/internal/workloads/scalability"
	"multidb-benchmark/internal/workloads/substring"
)

const defaultTeardownTimeout = 2 * time.Minute

// DriverFactory returns the driver for a backend.
type DriverFactory func(database.Backend) (database.Driver, error)

// Drivers is a DriverFactory over a fixed set of drivers.
func Drivers(drivers ...database.Driver) DriverFactory {
	byBackend := make(map[database.Backend]database.Driver, len(drivers))
	for _, d := range drivers {
		byBackend[d.Backend()] = d
	}
	return func(b database.Backend) (database.Driver, error) {
		d, ok := byBackend[b]
		if !ok {
			return nil, fmt.Errorf("no driver registered for %s", b)
		}
		return d, nil
	}
}

var protocols = map[database.TestType]database.Workload{
	database.Scalability: scalability.Test{},
	database.Load:        load.Test{},
	database.Substring:   substring.Test{},
}

// Runner executes the selected protocols against each backend in turn.
type Runner struct {
	cfg     RunConfig
	drivers DriverFactory
	sink    results.Sink
	logger  *zap.SugaredLogger
	// hostStat is swapped out by tests.
	hostStat func() results.SysInfo
}

func New(cfg RunConfig, drivers DriverFactory, sink results.Sink, logger *zap.SugaredLogger) *Runner {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.TeardownTimeout == 0 {
		cfg.TeardownTimeout = defaultTeardownTimeout
	}
	return &Runner{
		cfg:      cfg,
		drivers:  drivers,
		sink:     sink,
		logger:   logger,
		hostStat: results.HostStat,
	}
}

func (r *Runner) RunID() string { return r.cfg.RunID }

// resolve builds the driver of every selected backend. Drivers only hold
// parameters, so this contacts no backend; a backend whose parameters do not
// resolve is a configuration problem.
func (r *Runner) resolve() ([]database.Driver, error) {
	drivers := make([]database.Driver, len(r.cfg.Backends))
	var problems []string
	for i, b := range r.cfg.Backends {
		d, err := r.drivers(b)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", b, err))
			continue
		}
		drivers[i] = d
	}
	if len(problems) > 0 {
		return nil, &ConfigurationError{Problems: problems}
	}
	return drivers, nil
}

// Run validates the configuration and executes every (backend, protocol)
// pair. Failures of one pair are recorded in the report and never stop the
// others; only a ConfigurationError or a failure to persist the run metadata
// is returned as an error. Once ctx is done no further pair is started.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	drivers, err := r.resolve()
	if err != nil {
		return nil, err
	}

	meta := r.meta()
	r.logger.Infof("Run %s: %s on %v, %d records (%s), seed %d, host %s/%s %d cpus",
		meta.RunID, meta.Test, meta.Backends, meta.Records, meta.Size(), meta.Seed,
		meta.Host.Platform, meta.Host.Arch, meta.Host.CPUCount)
	if err := r.sink.WriteMeta(ctx, meta); err != nil {
		return nil, fmt.Errorf("persist run metadata: %w", err)
	}

	report := &Report{RunID: r.cfg.RunID}
	steps := r.cfg.Test.Protocols()

schedule:
	for _, driver := range drivers {
		for i, test := range steps {
			if ctx.Err() != nil {
				r.logger.Warnf("Run interrupted, skipping remaining protocols")
				break schedule
			}
			keep := !r.cfg.Teardown && i == len(steps)-1
			outcome := r.runProtocol(ctx, driver, test, keep)
			report.Outcomes = append(report.Outcomes, outcome)
			if outcome.Err != nil {
				r.logger.Errorf("%s/%s failed (%s): %v", outcome.Backend, test, outcome.Class, outcome.Err)
			}
		}
	}
	return report, nil
}

func (r *Runner) meta() results.Meta {
	backends := make([]string, len(r.cfg.Backends))
	for i, b := range r.cfg.Backends {
		backends[i] = string(b)
	}
	s := r.cfg.Settings
	return results.Meta{
		RunID:        r.cfg.RunID,
		StartedAt:    time.Now(),
		Seed:         s.Seed,
		Backends:     backends,
		Test:         string(r.cfg.Test),
		Dataset:      r.cfg.DatasetPath,
		Records:      len(r.cfg.Records),
		DatasetBytes: r.cfg.DatasetBytes,
		Host:         r.hostStat(),
		Parameters: map[string]string{
			"batch_size":         strconv.Itoa(s.BatchSize),
			"max_records":        strconv.Itoa(s.MaxRecords),
			"query_sample_size":  strconv.Itoa(s.QuerySampleSize),
			"load_batch_size":    strconv.Itoa(s.LoadBatchSize),
			"iterations":         strconv.Itoa(s.Iterations),
			"warmup":             strconv.Itoa(s.Warmup),
			"query_batch_range":  fmt.Sprintf("%d-%d", s.QueryBatchMin, s.QueryBatchMax),
			"max_rps":            strconv.FormatFloat(s.MaxRPS, 'g', -1, 64),
			"substring_queries":  strconv.Itoa(s.SubstringQueries),
			"substring_field":    s.SubstringField,
			"substring_patterns": strings.Join(s.SubstringPatterns, ","),
			"max_failure_ratio":  strconv.FormatFloat(s.MaxFailureRatio, 'g', -1, 64),
			"teardown":           strconv.FormatBool(r.cfg.Teardown),
		},
	}
}

// runProtocol drives one handle through
// Connect, reset, Provision, Run, Teardown and Close. Teardown and Close run
// on every exit path, including cancellation.
func (r *Runner) runProtocol(ctx context.Context, driver database.Driver, test database.TestType, keep bool) (out Outcome) {
	b := driver.Backend()
	logger := r.logger.With("backend", b, "test", test)
	out = Outcome{Backend: b, Test: test}
	start := time.Now()
	defer func() {
		out.Duration = time.Since(start)
		out.Class = classify(ctx, out.Err)
	}()

	logger.Infof("Connecting to %s", b)
	h, err := driver.Connect(ctx)
	if err != nil {
		var connErr *database.ConnectionError
		if !errors.As(err, &connErr) {
			err = &database.ConnectionError{Backend: b, Err: err}
		}
		out.Err = err
		return out
	}
	defer r.finalize(ctx, h, logger, keep)

	// Leftovers of an earlier run without teardown would skew the numbers.
	if err := h.Teardown(ctx); err != nil {
		logger.Warnf("Failed to reset %s before provisioning: %v", b, err)
	}
	if err := h.Provision(ctx); err != nil {
		out.Err = err
		return out
	}

	env := &database.Env{
		RunID:    r.cfg.RunID,
		Backend:  b,
		Records:  r.cfg.Records,
		Settings: r.cfg.Settings,
		Rand:     rand.New(rand.NewSource(r.cfg.Settings.Seed)),
		Rows:     r.sink,
		Logger:   logger,
	}
	logger.Infof("Running %s (seed %d)", test, r.cfg.Settings.Seed)
	res, err := protocols[test].Run(ctx, h, env)
	if err != nil {
		out.Err = err
		return out
	}
	out.Result = res

	if n, err := h.Count(ctx); err == nil {
		logger.Infof("%s holds %d records after %s", b, n, test)
	}
	return out
}

// finalize releases the handle. It ignores cancellation of ctx so that an
// interrupted run still drops its schema; its errors are only logged.
func (r *Runner) finalize(ctx context.Context, h database.Handle, logger *zap.SugaredLogger, keep bool) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.TeardownTimeout)
	defer cancel()

	var err error
	if keep {
		logger.Infof("Keeping schema and data (teardown disabled)")
	} else {
		err = multierr.Append(err, h.Teardown(fctx))
	}
	err = multierr.Append(err, h.Close(fctx))
	if err != nil {
		logger.Warnf("Teardown finished with errors: %v", err)
	}
}

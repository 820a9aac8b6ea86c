package runner

import (
	"fmt"
	"strings"
	"time"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
)

// RunConfig is everything one invocation needs. It carries resolved values
// only; reading files and the environment is the caller's job.
type RunConfig struct {
	RunID    string
	Backends []database.Backend
	Test     database.TestType
	Records  []dataset.Record
	// DatasetPath and DatasetBytes only feed the run metadata.
	DatasetPath  string
	DatasetBytes uint64

	Settings database.Settings

	// Teardown drops the schema after the final protocol of each backend.
	// Intermediate protocols of an "all" run always tear down.
	Teardown        bool
	TeardownTimeout time.Duration
}

// ConfigurationError lists every problem found in a RunConfig. It is raised
// before any backend is contacted.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid run configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration against the protocols it selects.
func (c RunConfig) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.Backends) == 0 {
		add("no backend selected")
	}
	seen := map[database.Backend]bool{}
	for _, b := range c.Backends {
		if _, err := database.ParseBackend(string(b)); err != nil {
			add("%v", err)
			continue
		}
		if seen[b] {
			add("backend %s selected twice", b)
		}
		seen[b] = true
	}

	test, err := database.ParseTestType(string(c.Test))
	if err != nil {
		add("%v", err)
	}
	if len(c.Records) == 0 {
		add("dataset is empty")
	}

	s := c.Settings
	if s.MaxRecords < 0 {
		add("max_records must be >= 0, got %d", s.MaxRecords)
	}
	if s.MaxFailureRatio < 0 || s.MaxFailureRatio > 1 {
		add("max_failure_ratio must be within [0, 1], got %g", s.MaxFailureRatio)
	}
	if c.TeardownTimeout < 0 {
		add("teardown_timeout must not be negative")
	}

	for _, p := range test.Protocols() {
		switch p {
		case database.Scalability:
			if s.BatchSize <= 0 {
				add("batch_size must be > 0, got %d", s.BatchSize)
			}
			if s.QuerySampleSize <= 0 {
				add("query_sample_size must be > 0, got %d", s.QuerySampleSize)
			}
		case database.Load:
			if s.LoadBatchSize <= 0 {
				add("load_batch_size must be > 0, got %d", s.LoadBatchSize)
			}
			if s.Iterations <= 0 {
				add("iterations must be > 0, got %d", s.Iterations)
			}
			if s.Warmup < 0 {
				add("warmup must be >= 0, got %d", s.Warmup)
			}
			if s.QueryBatchMin <= 0 || s.QueryBatchMin > s.QueryBatchMax {
				add("query batch range [%d, %d] is invalid", s.QueryBatchMin, s.QueryBatchMax)
			}
			if s.MaxRPS < 0 {
				add("max_rps must not be negative")
			}
		case database.Substring:
			if s.LoadBatchSize <= 0 {
				add("load_batch_size must be > 0, got %d", s.LoadBatchSize)
			}
			if s.SubstringQueries <= 0 {
				add("substring_queries must be > 0, got %d", s.SubstringQueries)
			}
			if !dataset.IsTextField(s.SubstringField) {
				add("substring field %q is not searchable (one of %s)", s.SubstringField, strings.Join(dataset.TextFields, ", "))
			}
			if len(s.SubstringPatterns) == 0 {
				add("no substring patterns")
			}
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: dedupe(problems)}
	}
	return nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

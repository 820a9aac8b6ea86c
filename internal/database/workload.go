package database

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"multidb-benchmark/internal/dataset"
	"multidb-benchmark/internal/metrics"
	"multidb-benchmark/internal/results"
)

type TestType string

const (
	Scalability TestType = "scalability"
	Load        TestType = "load"
	Substring   TestType = "substring"
	All         TestType = "all"
)

func ParseTestType(s string) (TestType, error) {
	t := TestType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case Scalability, Load, Substring, All:
		return t, nil
	}
	return "", fmt.Errorf("unknown test type %q", s)
}

// Protocols expands a test type into the protocols it runs, in order.
func (t TestType) Protocols() []TestType {
	if t == All {
		return []TestType{Scalability, Load, Substring}
	}
	return []TestType{t}
}

// Settings size one protocol execution.
type Settings struct {
	BatchSize       int
	MaxRecords      int
	QuerySampleSize int

	LoadBatchSize int
	Iterations    int
	Warmup        int
	QueryBatchMin int
	QueryBatchMax int
	MaxRPS        float64

	SubstringQueries  int
	SubstringField    string
	SubstringPatterns []string

	MaxFailureRatio float64
	Seed            int64
	ProgressEvery   int
}

var DefaultSubstringPatterns = []string{
	"empresa", "ltda", "silva", "santos", "oliveira",
	"software", "sistemas", "consultoria", "servicos", "comercio",
}

func DefaultSettings() Settings {
	return Settings{
		BatchSize:         1000,
		QuerySampleSize:   20,
		LoadBatchSize:     1000,
		Iterations:        1000,
		Warmup:            100,
		QueryBatchMin:     20,
		QueryBatchMax:     30,
		SubstringQueries:  1000,
		SubstringField:    "cliente",
		SubstringPatterns: DefaultSubstringPatterns,
		MaxFailureRatio:   0.25,
		Seed:              1,
		ProgressEvery:     10,
	}
}

// RowWriter persists result rows as they are produced.
type RowWriter interface {
	Write(ctx context.Context, row results.Row) error
}

// Env is everything a protocol needs besides the handle. Records is shared
// and must not be modified.
type Env struct {
	RunID    string
	Backend  Backend
	Records  []dataset.Record
	Settings Settings
	Rand     *rand.Rand
	Rows     RowWriter
	Logger   *zap.SugaredLogger
}

// Workload is one test protocol. The runner provisions the handle before Run
// and tears it down afterwards.
type Workload interface {
	Name() TestType
	Run(ctx context.Context, h Handle, env *Env) (*Result, error)
}

type Result struct {
	Backend    Backend
	Test       TestType
	Summaries  map[metrics.Kind]metrics.Summary
	Operations int
	Failures   int
	// Records is the number of records the protocol wrote.
	Records   int64
	TotalTime time.Duration
	// Throughput is the mean records/second of the write phase.
	Throughput float64
}

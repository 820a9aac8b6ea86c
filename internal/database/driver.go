package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"multidb-benchmark/internal/dataset"
)

// Backend identifies one of the supported data stores.
type Backend string

const (
	Postgres  Backend = "postgres"
	MongoDB   Backend = "mongodb"
	CouchDB   Backend = "couchdb"
	Cassandra Backend = "cassandra"
	ScyllaDB  Backend = "scylladb"
)

// Backends lists every known backend in default run order.
var Backends = []Backend{Postgres, MongoDB, CouchDB, Cassandra, ScyllaDB}

func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// Params are the resolved connection parameters of one backend.
type Params struct {
	Host     string
	Port     int
	User     string
	Password string
	// Database is the database, collection owner or keyspace name.
	Database string
	// URI overrides Host/Port/User/Password when set.
	URI string

	PoolSize         int
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	// FanOutLimit bounds concurrent sub-requests of one QueryByCodes call.
	FanOutLimit    int
	Datacenter     string
	SubstringLimit int
}

// Driver opens sessions against one backend.
type Driver interface {
	Backend() Backend
	Connect(ctx context.Context) (Handle, error)
}

// Handle is one open session. It is owned by a single protocol execution and
// is never reused once closed. Timed operations return the wall-clock span of
// the backend call only.
type Handle interface {
	Provision(ctx context.Context) error
	InsertBatch(ctx context.Context, records []dataset.Record) (time.Duration, error)
	QueryByCodes(ctx context.Context, codes []string) ([]dataset.Record, time.Duration, error)
	QueryBySubstring(ctx context.Context, field, pattern string) ([]dataset.Record, time.Duration, error)
	Count(ctx context.Context) (int64, error)
	Teardown(ctx context.Context) error
	Close(ctx context.Context) error
}

// WithTimeout bounds one adapter call. A zero timeout leaves ctx untouched.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// UniqueCodes drops empty and repeated codes, keeping first-seen order.
func UniqueCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ContainsFold reports whether s contains pattern, ignoring case.
func ContainsFold(s, pattern string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(pattern))
}

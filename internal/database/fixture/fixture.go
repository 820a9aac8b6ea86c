// Package fixture is an in-memory backend with synthetic latency and
// injectable failures. Data written through one handle is visible to later
// handles of the same Driver, like a real server.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
)

type Op string

const (
	OpConnect   Op = "connect"
	OpProvision Op = "provision"
	OpInsert    Op = "insert"
	OpQuery     Op = "query"
	OpSubstring Op = "substring"
	OpTeardown  Op = "teardown"
	OpClose     Op = "close"
)

var errClosed = errors.New("handle is closed")

type failure struct {
	err error
	// nth call to fail, 0 means every call
	nth int
}

type Driver struct {
	backend        database.Backend
	latency        time.Duration
	substringLimit int

	mu          sync.Mutex
	failures    map[Op][]failure
	calls       map[Op]int
	provisioned bool
	records     map[string]dataset.Record
	order       []string
}

func New(backend database.Backend) *Driver {
	return &Driver{
		backend:        backend,
		substringLimit: 100,
		failures:       make(map[Op][]failure),
		calls:          make(map[Op]int),
		records:        make(map[string]dataset.Record),
	}
}

// WithLatency makes every timed call report exactly d instead of the real
// elapsed time.
func (d *Driver) WithLatency(latency time.Duration) *Driver {
	d.latency = latency
	return d
}

// FailOn makes every call of op return err.
func (d *Driver) FailOn(op Op, err error) *Driver {
	return d.FailNth(op, 0, err)
}

// FailNth makes only the nth (1-based) call of op return err.
func (d *Driver) FailNth(op Op, nth int, err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = append(d.failures[op], failure{err: err, nth: nth})
	return d
}

// Calls returns how many times op was invoked.
func (d *Driver) Calls(op Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Provisioned reports whether the schema currently exists.
func (d *Driver) Provisioned() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.provisioned
}

func (d *Driver) Backend() database.Backend { return d.backend }

func (d *Driver) Connect(ctx context.Context) (database.Handle, error) {
	if err := d.call(OpConnect); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &database.ConnectionError{Backend: d.backend, Err: err}
	}
	return &handle{driver: d}, nil
}

// call counts op and returns the injected failure for this call, if any.
// Callers hold no lock.
func (d *Driver) call(op Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[op]++
	n := d.calls[op]
	for _, f := range d.failures[op] {
		if f.nth == 0 || f.nth == n {
			return f.err
		}
	}
	return nil
}

func (d *Driver) elapsed(start time.Time) time.Duration {
	if d.latency > 0 {
		return d.latency
	}
	return time.Since(start)
}

type handle struct {
	driver *Driver
	closed bool
}

func (h *handle) check(ctx context.Context) error {
	if h.closed {
		return errClosed
	}
	return ctx.Err()
}

func (h *handle) Provision(ctx context.Context) error {
	d := h.driver
	if err := d.call(OpProvision); err != nil {
		return err
	}
	if err := h.check(ctx); err != nil {
		return &database.ProvisionError{Backend: d.backend, Step: "schema", Err: err}
	}
	d.mu.Lock()
	d.provisioned = true
	d.mu.Unlock()
	return nil
}

func (h *handle) InsertBatch(ctx context.Context, records []dataset.Record) (time.Duration, error) {
	d := h.driver
	start := time.Now()
	if err := d.call(OpInsert); err != nil {
		return d.elapsed(start), err
	}
	if err := h.check(ctx); err != nil {
		return d.elapsed(start), &database.WriteError{Backend: d.backend, Records: len(records), Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.provisioned {
		return d.elapsed(start), &database.WriteError{Backend: d.backend, Records: len(records), Err: errors.New("not provisioned")}
	}
	for _, r := range records {
		if _, ok := d.records[r.Codigo]; !ok {
			d.order = append(d.order, r.Codigo)
		}
		d.records[r.Codigo] = r
	}
	return d.elapsed(start), nil
}

func (h *handle) QueryByCodes(ctx context.Context, codes []string) ([]dataset.Record, time.Duration, error) {
	d := h.driver
	start := time.Now()
	codes = database.UniqueCodes(codes)
	if len(codes) == 0 {
		return []dataset.Record{}, time.Since(start), nil
	}
	if err := d.call(OpQuery); err != nil {
		return nil, d.elapsed(start), err
	}
	if err := h.check(ctx); err != nil {
		return nil, d.elapsed(start), &database.QueryError{Backend: d.backend, Op: "query-by-code", Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	out := []dataset.Record{}
	for _, c := range codes {
		if r, ok := d.records[c]; ok {
			out = append(out, r)
		}
	}
	return out, d.elapsed(start), nil
}

func (h *handle) QueryBySubstring(ctx context.Context, field, pattern string) ([]dataset.Record, time.Duration, error) {
	d := h.driver
	start := time.Now()
	if err := d.call(OpSubstring); err != nil {
		return nil, d.elapsed(start), err
	}
	if !dataset.IsTextField(field) {
		return nil, 0, &database.QueryError{Backend: d.backend, Op: "query-by-substring", Err: fmt.Errorf("field %q is not searchable", field)}
	}
	if err := h.check(ctx); err != nil {
		return nil, d.elapsed(start), &database.QueryError{Backend: d.backend, Op: "query-by-substring", Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	out := []dataset.Record{}
	for _, c := range d.order {
		r := d.records[c]
		if v, _ := r.Field(field); database.ContainsFold(v, pattern) {
			out = append(out, r)
			if len(out) == d.substringLimit {
				break
			}
		}
	}
	return out, d.elapsed(start), nil
}

func (h *handle) Count(ctx context.Context) (int64, error) {
	if err := h.check(ctx); err != nil {
		return 0, err
	}
	d := h.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.records)), nil
}

// Teardown drops everything; a second call finds nothing to drop.
func (h *handle) Teardown(ctx context.Context) error {
	d := h.driver
	if err := d.call(OpTeardown); err != nil {
		return err
	}
	if h.closed {
		return errClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.provisioned = false
	d.records = make(map[string]dataset.Record)
	d.order = nil
	return nil
}

func (h *handle) Close(context.Context) error {
	err := h.driver.call(OpClose)
	h.closed = true
	return err
}

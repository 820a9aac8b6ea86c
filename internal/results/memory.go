package results

import (
	"context"
	"sync"
)

// MemorySink keeps rows in memory so callers can inspect what a protocol
// emitted.
type MemorySink struct {
	mu   sync.Mutex
	meta []Meta
	rows []Row
}

func (s *MemorySink) WriteMeta(_ context.Context, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = append(s.meta, meta)
	return nil
}

func (s *MemorySink) Write(_ context.Context, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Rows returns a copy of the rows written so far.
func (s *MemorySink) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.rows...)
}

func (s *MemorySink) Meta() []Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Meta(nil), s.meta...)
}

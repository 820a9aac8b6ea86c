package results

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// CSVSink appends rows to a CSV file. Every row is flushed as soon as it is
// written, so an interrupted run still leaves the rows measured so far.
type CSVSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
}

// OpenCSV opens path for appending, writing the header only when the file is
// new or empty.
func OpenCSV(path string) (*CSVSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results file %s: %w", path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat results file %s: %w", path, err)
	}

	s := &CSVSink{path: path, file: file, writer: csv.NewWriter(file)}
	if stat.Size() == 0 {
		if err := s.writeLocked(Header); err != nil {
			file.Close()
			return nil, err
		}
	}
	return s, nil
}

// MetaPath is where the run metadata for path is stored.
func MetaPath(path string) string {
	return strings.TrimSuffix(path, ".csv") + ".meta.yaml"
}

// WriteMeta appends the run metadata as one YAML document to the sibling
// .meta.yaml file.
func (s *CSVSink) WriteMeta(_ context.Context, meta Meta) error {
	out, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode run metadata: %w", err)
	}
	f, err := os.OpenFile(MetaPath(s.path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append([]byte("---\n"), out...)); err != nil {
		return fmt.Errorf("write metadata file: %w", err)
	}
	return nil
}

func (s *CSVSink) Write(_ context.Context, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(row.strings())
}

func (s *CSVSink) writeLocked(record []string) error {
	if s.writer == nil {
		return errors.New("results file is closed")
	}
	if err := s.writer.Write(record); err != nil {
		return fmt.Errorf("write results row: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush results row: %w", err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	s.writer.Flush()
	err := s.writer.Error()
	s.writer = nil
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadCSV loads every row of a results file. Header lines are skipped
// wherever they appear.
func ReadCSV(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results file %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(Header)
	var rows []Row
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if record[0] == Header[0] {
			continue
		}
		row, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		rows = append(rows, row)
	}
}

func parseRow(record []string) (Row, error) {
	count, err := strconv.ParseInt(record[4], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("record_count: %w", err)
	}
	index, err := strconv.Atoi(record[5])
	if err != nil {
		return Row{}, fmt.Errorf("index: %w", err)
	}
	elapsed, err := strconv.ParseInt(record[6], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("elapsed_ns: %w", err)
	}
	matched, err := strconv.Atoi(record[7])
	if err != nil {
		return Row{}, fmt.Errorf("matched: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, record[9])
	if err != nil {
		return Row{}, fmt.Errorf("timestamp: %w", err)
	}
	return Row{
		RunID:       record[0],
		Backend:     record[1],
		Test:        record[2],
		Operation:   record[3],
		RecordCount: count,
		Index:       index,
		Elapsed:     time.Duration(elapsed),
		Matched:     matched,
		Detail:      record[8],
		Timestamp:   ts,
	}, nil
}

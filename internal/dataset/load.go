package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrEmpty is returned when a dataset file holds no records.
var ErrEmpty = errors.New("dataset is empty")

// Load reads a JSON array of records. The result keeps file order and is
// never modified afterwards; callers share it read-only.
func Load(path string) ([]Record, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(file, &records); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	for i, r := range records {
		if r.Codigo == "" {
			return nil, fmt.Errorf("%s: record %d has no codigo", path, i)
		}
	}
	return records, nil
}

// Limit returns the first n records, or all of them when n <= 0 or n exceeds
// the dataset size.
func Limit(records []Record, n int) []Record {
	if n <= 0 || n >= len(records) {
		return records
	}
	return records[:n]
}

// Save writes records as an indented JSON array.
func Save(path string, records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/cast"
)

// table is a header-addressed CSV.
type table struct {
	columns map[string]int
	rows    [][]string
}

func readTable(r io.Reader) (*table, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &table{columns: map[string]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &table{columns: make(map[string]int, len(header))}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))
		if _, dup := t.columns[name]; !dup {
			t.columns[name] = i
		}
	}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.rows)+2, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		t.rows = append(t.rows, record)
	}
	return t, nil
}

// has reports whether the header contains name.
func (t *table) has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// get returns the first non-empty value among names, tolerating absent columns and short rows.
func (t *table) get(row []string, names ...string) string {
	for _, name := range names {
		i, ok := t.columns[name]
		if !ok || i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			return v
		}
	}
	return ""
}

func (t *table) boolean(row []string, names ...string) bool {
	return cast.ToBool(strings.ToLower(t.get(row, names...)))
}

// timestamp parses loosely formatted timestamps. Unparseable values become the zero time.
func (t *table) timestamp(row []string, names ...string) time.Time {
	v := t.get(row, names...)
	if v == "" {
		return time.Time{}
	}
	ts, err := dateparse.ParseIn(v, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

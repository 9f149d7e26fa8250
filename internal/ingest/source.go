package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// row is one source record with every cell carried as a string. CSV rows
// are naturally stringly; JSON rows are decoded with json.Number so numeric
// cells survive without float round-tripping.
type row map[string]string

func (r row) str(key string) (string, error) {
	v, ok := r[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("missing column %q", key)
	}
	return strings.TrimSpace(v), nil
}

func (r row) optional(key string) (string, bool) {
	v, ok := r[key]
	v = strings.TrimSpace(v)
	if !ok || v == "" || strings.EqualFold(v, "null") {
		return "", false
	}
	return v, true
}

func (r row) int64(key string) (int64, error) {
	s, err := r.str(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", key, err)
	}
	return n, nil
}

func (r row) float64(key string) (float64, error) {
	s, err := r.str(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", key, err)
	}
	return f, nil
}

func (r row) decimal(key string) (decimal.Decimal, error) {
	s, err := r.str(key)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("column %q: %w", key, err)
	}
	return d, nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

// readRows loads every record of a source file as string-keyed rows.
func readRows(path, format string) ([]row, error) {
	switch strings.ToLower(format) {
	case "csv":
		return readCSV(path)
	case "json":
		return readJSON(path)
	default:
		return nil, fmt.Errorf("unknown source format %q", format)
	}
}

func readCSV(path string) ([]row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv source: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range headers {
		h = strings.TrimSpace(h)
		headers[i] = strings.ReplaceAll(h, `"`, "")
	}

	var rows []row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		r := make(row, len(headers))
		for i, h := range headers {
			if i < len(record) {
				r[h] = record[i]
			}
		}
		rows = append(rows, r)
	}
}

func readJSON(path string) ([]row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open json source: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json source: %w", err)
	}

	rows := make([]row, 0, len(raw))
	for _, item := range raw {
		r := make(row, len(item))
		for k, v := range item {
			switch val := v.(type) {
			case nil:
				// absent
			case string:
				r[k] = val
			case json.Number:
				r[k] = val.String()
			case bool:
				r[k] = strconv.FormatBool(val)
			default:
				return nil, fmt.Errorf("json column %q: unsupported nested value", k)
			}
		}
		rows = append(rows, r)
	}
	return rows, nil
}

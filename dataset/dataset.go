// Package dataset reads the benchmark CSV files into typed records and
// describes which file seeds which dataset.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Spec describes one dataset: the CSV it is loaded from, the column that
// identifies a record, and the key prefix used by key-value stores.
type Spec struct {
	File     string `json:"file" yaml:"file"`
	Name     string `json:"name" yaml:"name"`
	KeyField string `json:"key_field" yaml:"key_field"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

var catalogue = []Spec{
	{File: "online_retail_II.csv", Name: "orders", KeyField: "Invoice", Prefix: "order"},
	{File: "data.csv", Name: "transactions", KeyField: "InvoiceNo", Prefix: "transaction"},
	{File: "styles.csv", Name: "products", KeyField: "id", Prefix: "product"},
	{File: "olist_sellers_dataset.csv", Name: "sellers", KeyField: "seller_id", Prefix: "seller"},
}

// Catalogue returns the known datasets in benchmark order.
func Catalogue() []Spec {
	out := make([]Spec, len(catalogue))
	copy(out, catalogue)

	return out
}

// Names returns the names of the known datasets in benchmark order.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for _, s := range catalogue {
		names = append(names, s.Name)
	}

	return names
}

// Lookup finds a dataset by name.
func Lookup(name string) (Spec, bool) {
	for _, s := range catalogue {
		if s.Name == name {
			return s, true
		}
	}

	return Spec{}, false
}

// PrefixOf returns the key prefix for a dataset, falling back to the
// dataset name for unknown datasets.
func PrefixOf(name string) string {
	if s, ok := Lookup(name); ok {
		return s.Prefix
	}

	return name
}

// Record is one CSV row with coerced values. A nil value is a null.
type Record map[string]any

// Key returns the string form of field, or false when it is null or
// missing.
func (r Record) Key(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}

	return FormatValue(v), true
}

// Summary reports what Read did with the input.
type Summary struct {
	Rows    int
	Skipped int
}

// Coerce converts a raw CSV cell into nil, int64, float64 or string,
// trying each in that order.
func Coerce(raw string) any {
	if raw == "" {
		return nil
	}

	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil &&
		!math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}

	return raw
}

// FormatValue renders a coerced value the way it is stored in string-only
// stores.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Read parses CSV from r. Every row must carry a non-null keyField.
// Rows whose field count differs from the header are skipped.
func Read(r io.Reader, keyField string) ([]Record, Summary, error) {
	var summary Summary

	reader := csv.NewReader(bufio.NewReader(r))
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, summary, fmt.Errorf("read header: %w", err)
	}

	columns := slices.Clone(header)
	columns[0] = strings.TrimPrefix(columns[0], "\ufeff")

	if !slices.Contains(columns, keyField) {
		return nil, summary, fmt.Errorf("key field %q not in header", keyField)
	}

	var records []Record

	for row := 1; ; row++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if errors.Is(err, csv.ErrFieldCount) {
			summary.Skipped++

			continue
		}

		if err != nil {
			return nil, summary, fmt.Errorf("read row %d: %w", row, err)
		}

		rec := make(Record, len(columns))
		for i, col := range columns {
			rec[col] = Coerce(fields[i])
		}

		if _, ok := rec.Key(keyField); !ok {
			return nil, summary, fmt.Errorf(
				"row %d: missing key field %q", row, keyField,
			)
		}

		records = append(records, rec)
		summary.Rows++
	}

	return records, summary, nil
}

// ReadFile opens path and parses it with Read.
func ReadFile(path, keyField string) ([]Record, Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, summary, err := Read(f, keyField)
	if err != nil {
		return nil, summary, fmt.Errorf("parse %s: %w", path, err)
	}

	return records, summary, nil
}

package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/document"
)

// csvTable is a parsed CSV with inferred column types.
type csvTable struct {
	columns []Column
	rows    [][]string
}

// parseCSV decodes raw (UTF-8 with optional BOM, else Latin-1), takes the
// first record as the header and infers column types over every row.
func parseCSV(raw []byte) (*csvTable, error) {
	text, _ := document.DecodeText(raw)

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.Precondition("tabular.LoadCSV", "CSV file is empty")
	}
	if err != nil {
		return nil, apperr.Precondition("tabular.LoadCSV", "malformed CSV header: %v", err)
	}

	var rows [][]string
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Precondition("tabular.LoadCSV", "malformed CSV: %v", err)
		}
		if len(rec) > len(header) {
			return nil, apperr.Precondition("tabular.LoadCSV",
				"line %d has %d fields, header has %d", line, len(rec), len(header))
		}
		if blankRecord(rec) {
			continue
		}
		rows = append(rows, rec)
	}

	names := columnNames(header)
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: inferType(rows, i)}
	}
	return &csvTable{columns: cols, rows: rows}, nil
}

// value returns the typed SQL value of column i in row. Missing and empty
// fields are NULL.
func (t *csvTable) value(row []string, i int) any {
	if i >= len(row) {
		return nil
	}
	v := strings.TrimSpace(row[i])
	if v == "" {
		return nil
	}
	switch t.columns[i].Type {
	case "INTEGER":
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case "REAL":
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return row[i]
	}
}

// columnNames cleans the header: blank names become column_<n> (1-based) and
// repeated names get _2, _3, ... suffixes, compared case-insensitively as
// SQLite does.
func columnNames(header []string) []string {
	used := make(map[string]bool, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		base := strings.TrimSpace(h)
		if base == "" {
			base = fmt.Sprintf("column_%d", i+1)
		}
		name := base
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

// inferType picks the narrowest of INTEGER, REAL and TEXT that fits every
// non-empty value in column i. An all-empty column is TEXT.
func inferType(rows [][]string, i int) string {
	isInt, isReal, nonEmpty := true, true, false
	for _, row := range rows {
		if i >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			continue
		}
		nonEmpty = true
		if isInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
		}
		if !isInt && isReal {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isReal = false
			}
		}
		if !isInt && !isReal {
			break
		}
	}
	switch {
	case !nonEmpty:
		return "TEXT"
	case isInt:
		return "INTEGER"
	case isReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// blankRecord reports whether every field is empty.
func blankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Package tabular parses uploaded product files (csv/json/xlsx/xls) into a
// normalized row table and provides the header-role heuristics used to build
// the product catalog.
package tabular

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is a parsed tabular file. Rows includes the header as row 0.
type Table struct {
	Rows [][]string
}

// Columns returns the header row, or nil for an empty table.
func (t *Table) Columns() []string {
	if len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[0]
}

// RowCount returns the total number of rows including the header.
func (t *Table) RowCount() int { return len(t.Rows) }

// supported file kinds by extension; MIME types that map onto them.
// .xls is accepted because modern exporters commonly put OOXML content
// behind the old extension; a genuine pre-2007 binary workbook is not
// readable by excelize and fails at parse with a clear error.
var extKinds = map[string]string{
	".csv":  "csv",
	".json": "json",
	".xlsx": "xlsx",
	".xls":  "xlsx",
}

var mimeKinds = map[string]string{
	"text/csv":         "csv",
	"application/csv":  "csv",
	"application/json": "json",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": "xlsx",
	"application/vnd.ms-excel":                                          "xlsx",
}

// IsProductFile reports whether a file looks like a tabular product file, by
// declared MIME type or by extension.
func IsProductFile(name, mimeType string) bool {
	if _, ok := mimeKinds[strings.ToLower(strings.TrimSpace(mimeType))]; ok {
		return true
	}
	_, ok := extKinds[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Parse parses a product file into a Table. The format is chosen by declared
// MIME type first, file extension second.
func Parse(name, mimeType string, data []byte) (*Table, error) {
	kind, ok := mimeKinds[strings.ToLower(strings.TrimSpace(mimeType))]
	if !ok {
		kind, ok = extKinds[strings.ToLower(filepath.Ext(name))]
	}
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", name)
	}

	switch kind {
	case "csv":
		return parseCSV(data)
	case "json":
		return parseJSON(data)
	case "xlsx":
		return parseXLSX(data)
	}
	return nil, fmt.Errorf("unsupported file type: %s", name)
}

func parseCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // ragged rows are tolerated
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		if isBlankRow(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("csv file is empty")
	}
	return &Table{Rows: rows}, nil
}

// parseJSON accepts a single object (one-row table) or an array of objects
// (rows derived from the key set of the first element, sorted for stability).
func parseJSON(data []byte) (*Table, error) {
	var single map[string]any
	if err := json.Unmarshal(data, &single); err == nil {
		header := sortedKeys(single)
		return &Table{Rows: [][]string{header, rowFromObject(single, header)}}, nil
	}

	var list []map[string]any
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse json: expected object or array of objects: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("json file is empty")
	}

	header := sortedKeys(list[0])
	rows := make([][]string, 0, len(list)+1)
	rows = append(rows, header)
	for _, obj := range list {
		rows = append(rows, rowFromObject(obj, header))
	}
	return &Table{Rows: rows}, nil
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func rowFromObject(obj map[string]any, header []string) []string {
	row := make([]string, len(header))
	for i, key := range header {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			row[i] = s
		case float64:
			row[i] = formatNumber(s)
		case bool:
			if s {
				row[i] = "true"
			} else {
				row[i] = "false"
			}
		default:
			b, _ := json.Marshal(v)
			row[i] = string(b)
		}
	}
	return row
}

// formatNumber formats a JSON number without a trailing ".0" for integral values.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// parseXLSX reads sheet 1 only, dropping fully-blank rows.
func parseXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("spreadsheet has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		if isBlankRow(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("spreadsheet is empty")
	}
	return &Table{Rows: rows}, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// ContentHash returns a deterministic hash of the parsed rows, used to make
// byte-identical re-uploads idempotent.
func ContentHash(t *Table) string {
	h := sha256.New()
	for _, row := range t.Rows {
		for _, cell := range row {
			h.Write([]byte(cell))
			h.Write([]byte{0x1f}) // unit separator
		}
		h.Write([]byte{0x1e}) // record separator
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Preview renders the first n rows as pipe-joined lines for prompt embedding.
func Preview(t *Table, n int) string {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	lines := make([]string, 0, n)
	for _, row := range t.Rows[:n] {
		lines = append(lines, strings.Join(row, " | "))
	}
	return strings.Join(lines, "\n")
}

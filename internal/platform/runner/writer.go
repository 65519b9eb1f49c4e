package runner

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/flourish/export/internal/platform/flatten"
)

// Format selects the tabular output format for a job.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "xlsx"
)

// Ext returns the file extension for the format.
func (f Format) Ext() string {
	if f == FormatExcel {
		return "xlsx"
	}
	return "csv"
}

// identity columns are hoisted to the front of every file; the remaining
// column union is sorted so the set is stable within a run even though rows
// are ragged.
var leadColumns = []string{
	"subject_identifier",
	"caregiver_subject_identifier",
	"child_subject_identifier",
	"screening_identifier",
	"visit_code",
	"visit_code_sequence",
}

// Columns returns the union of column names across rows in deterministic
// order. Rows missing a column are written blank, not rejected.
func Columns(rows []flatten.Row) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}
	var cols []string
	for _, lead := range leadColumns {
		if seen[lead] {
			cols = append(cols, lead)
			delete(seen, lead)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format("01/02/2006 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}

// WriteCSV writes rows as UTF-8 comma-delimited CSV with a header row and no
// index column.
func WriteCSV(path string, rows []flatten.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	cols := Columns(rows)
	if err := w.Write(cols); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	line := make([]string, len(cols))
	for _, row := range rows {
		for i, col := range cols {
			line[i] = cellString(row[col])
		}
		if err := w.Write(line); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return f.Close()
}

// WriteExcel writes rows to a single-sheet workbook with the same
// column/header rules as CSV.
func WriteExcel(path, sheet string, rows []flatten.Row) error {
	wb := excelize.NewFile()
	defer wb.Close()

	sheet = SanitizeSheetName(sheet)
	idx, err := wb.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("new sheet %s: %w", sheet, err)
	}
	wb.SetActiveSheet(idx)
	if sheet != "Sheet1" {
		_ = wb.DeleteSheet("Sheet1")
	}

	cols := Columns(rows)
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := wb.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for n, row := range rows {
		line := make([]any, len(cols))
		for i, col := range cols {
			line[i] = cellString(row[col])
		}
		cell, _ := excelize.CoordinatesToCellName(1, n+2)
		if err := wb.SetSheetRow(sheet, cell, &line); err != nil {
			return fmt.Errorf("write row %d: %w", n, err)
		}
	}
	if err := wb.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// WriteTable dispatches on format.
func WriteTable(format Format, path, sheet string, rows []flatten.Row) error {
	if format == FormatExcel {
		return WriteExcel(path, sheet, rows)
	}
	return WriteCSV(path, rows)
}

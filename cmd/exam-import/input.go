package main

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
)

var errNoRows = errors.New("input has a header but no rows")

// readInput loads a batch from a .json, .csv or .xlsx file. Spreadsheets use
// their first row as headers; blank rows are skipped.
func readInput(path, sheet string) (rows.Batch, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return rows.Batch{}, withCode(exitUsage, err)
		}
		defer f.Close()
		b, err := rows.DecodeBatch(f)
		if err != nil {
			return rows.Batch{}, withCode(exitValidation, fmt.Errorf("%s: %w", path, err))
		}
		return b, nil
	case ".csv":
		records, err := readCSV(path)
		if err != nil {
			return rows.Batch{}, err
		}
		return tableBatch(path, records)
	case ".xlsx", ".xlsm":
		records, err := readSheet(path, sheet)
		if err != nil {
			return rows.Batch{}, err
		}
		return tableBatch(path, records)
	default:
		return rows.Batch{}, withCode(exitUsage, fmt.Errorf("unsupported input %q: expected .json, .csv or .xlsx", path))
	}
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	defer f.Close()

	br := stripUTF8BOM(bufio.NewReader(f))
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, withCode(exitValidation, fmt.Errorf("%s: %w", path, err))
	}
	return records, nil
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

func readSheet(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("open %s: %w", path, err))
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, withCode(exitValidation, fmt.Errorf("%s: workbook has no sheets", path))
		}
		sheet = sheets[0]
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, withCode(exitValidation, fmt.Errorf("%s: sheet %q: %w", path, sheet, err))
	}
	return records, nil
}

func tableBatch(path string, records [][]string) (rows.Batch, error) {
	if len(records) == 0 {
		return rows.Batch{}, withCode(exitValidation, fmt.Errorf("%s: missing header", path))
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		if !utf8.ValidString(h) {
			return rows.Batch{}, withCode(exitValidation, fmt.Errorf("%s: invalid header encoding", path))
		}
		header[i] = h
	}

	out := rows.Batch{Rows: make([]rows.Raw, 0, len(records)-1)}
	for _, rec := range records[1:] {
		raw := make(rows.Raw, len(header))
		blank := true
		for i, cell := range rec {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if _, dup := raw[header[i]]; dup {
				continue
			}
			if strings.TrimSpace(cell) != "" {
				blank = false
			}
			raw[header[i]] = cell
		}
		if blank {
			continue
		}
		out.Rows = append(out.Rows, raw)
	}
	if len(out.Rows) == 0 {
		return rows.Batch{}, withCode(exitValidation, fmt.Errorf("%s: %w", path, errNoRows))
	}
	return out, nil
}

func readAliases(path string) (rows.Aliases, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	defer f.Close()
	aliases, err := rows.ParseAliases(f)
	if err != nil {
		return nil, withCode(exitValidation, fmt.Errorf("%s: %w", path, err))
	}
	return aliases, nil
}

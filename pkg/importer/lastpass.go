package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LastPassParser parses LastPass CSV export files:
// url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

// LastPass CSV column names (header-based parsing).
const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColTOTP     = "totp"
	lpColExtra    = "extra"
	lpColName     = "name"
)

// lpSecureNoteURL marks Secure Notes in LastPass exports.
const lpSecureNoteURL = "http://sn"

// Source returns the source type for this parser.
func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse parses LastPass CSV data.
func (p *LastPassParser) Parse(data []byte) (*ImportResult, error) {
	rows, err := readCSV(data, strings.ToLower, lpColName)
	if err != nil {
		return nil, err
	}

	c := newCollector()
	for _, r := range rows {
		if r.err != "" {
			c.warn(r.where, r.err)
			continue
		}

		// LastPass may HTML-encode special characters.
		get := func(col string) string { return DecodeHTMLEntities(r.get(col)) }

		item := Item{
			Name:     get(lpColName),
			URL:      get(lpColURL),
			Username: get(lpColUsername),
			Password: get(lpColPassword),
			TOTP:     get(lpColTOTP),
			Notes:    get(lpColExtra),
		}
		if item.URL == lpSecureNoteURL {
			item.URL = ""
			item.Note = true
		}
		c.add(item, r.where)
	}
	return c.result, nil
}

// csvRow is one data row keyed by normalized column name.
type csvRow struct {
	where  string
	values []string
	index  map[string]int
	err    string
}

func (r csvRow) get(col string) string {
	if idx, ok := r.index[col]; ok && idx < len(r.values) {
		return strings.TrimSpace(r.values[idx])
	}
	return ""
}

// readCSV reads a header-based CSV export. keyFn normalizes header names;
// required is the one column every export must carry. Malformed rows are
// returned with err set instead of failing the whole file.
func readCSV(data []byte, keyFn func(string) string, required string) ([]csvRow, error) {
	// Strip UTF-8 BOM if present
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true // Handle malformed exports
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	index := make(map[string]int)
	for i, col := range header {
		index[keyFn(strings.TrimSpace(col))] = i
	}
	if _, ok := index[required]; !ok {
		return nil, fmt.Errorf("missing required column: %s", required)
	}

	var rows []csvRow
	rowNum := 1 // header is row 1
	for {
		rowNum++
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		r := csvRow{where: fmt.Sprintf("row %d", rowNum), index: index}
		switch {
		case err != nil:
			r.err = fmt.Sprintf("failed to parse: %v", err)
		case len(values) != len(header):
			r.err = fmt.Sprintf("column count mismatch (expected %d, got %d)", len(header), len(values))
		default:
			r.values = values
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Package workbook checks spreadsheet uploads before they are sent to the API.
package workbook

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNoHeaderRow is returned when no row contains the first expected header.
var ErrNoHeaderRow = errors.New("no header row found")

// HeaderError lists the expected headers a workbook lacks.
type HeaderError struct {
	Sheet   string
	Missing []string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("sheet %q is missing headers: %s", e.Sheet, strings.Join(e.Missing, ", "))
}

// Report describes the header row that was found.
type Report struct {
	Sheet     string
	HeaderRow int // 1-based
	Headers   []string
	DataRows  int
}

// Check opens the xlsx document read from r and verifies that the first
// worksheet carries every expected header. The header row is the first row
// containing expected[0]; cell values are trimmed before comparison.
func Check(r io.Reader, expected []string) (*Report, error) {
	if len(expected) == 0 {
		return nil, errors.New("no expected headers")
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	headerIdx := -1
	for i, row := range rows {
		if indexOf(row, expected[0]) >= 0 {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("sheet %q: %w", sheet, ErrNoHeaderRow)
	}

	found := make([]string, 0, len(rows[headerIdx]))
	present := make(map[string]bool, len(rows[headerIdx]))
	for _, cell := range rows[headerIdx] {
		h := strings.TrimSpace(cell)
		if h == "" {
			continue
		}
		found = append(found, h)
		present[h] = true
	}

	var missing []string
	for _, h := range expected {
		if !present[h] {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return nil, &HeaderError{Sheet: sheet, Missing: missing}
	}

	data := 0
	for _, row := range rows[headerIdx+1:] {
		if !blank(row) {
			data++
		}
	}

	return &Report{
		Sheet:     sheet,
		HeaderRow: headerIdx + 1,
		Headers:   found,
		DataRows:  data,
	}, nil
}

func indexOf(row []string, want string) int {
	for i, cell := range row {
		if strings.TrimSpace(cell) == want {
			return i
		}
	}
	return -1
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

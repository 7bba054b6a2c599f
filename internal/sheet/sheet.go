// Package sheet holds the schedule table model: the selectable catalog,
// opened table snapshots, row normalization and the date-column rules that
// drive cell highlighting and field locking.
package sheet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NA is the placeholder stored for empty or missing cell values.
const NA = "NA"

// RemarksHeader is the free-text column highlighted when filled.
const RemarksHeader = "REMARKS"

// Cell classes applied to grid cells.
const (
	ClassDateFilled = "cell-date-filled"
	ClassDate       = "cell-date"
	ClassRemarks    = "cell-remarks"
)

// Criteria selects a table by sheet type, month and two-digit year.
type Criteria struct {
	SheetType string `json:"sheet_type"`
	Month     string `json:"month"`
	Year      string `json:"year"`
}

func (c Criteria) String() string {
	return fmt.Sprintf("%s/%s/%s", c.SheetType, c.Month, c.Year)
}

// Row is one table row: display values keyed by header plus the
// backend-assigned identifier used to address edits and deletes.
type Row struct {
	ID     string
	Values map[string]string
}

// Get returns the value for a header, or "" if absent.
func (r Row) Get(header string) string {
	if r.Values == nil {
		return ""
	}
	return r.Values[header]
}

// UnmarshalJSON accepts a flat object where "id" is the row identifier and
// every other key is a header. Nulls become empty strings; numbers and
// booleans are kept in their literal form.
func (r *Row) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}

	r.Values = make(map[string]string, len(raw))
	r.ID = ""
	for k, v := range raw {
		s, err := scalarString(v)
		if err != nil {
			return fmt.Errorf("decoding row field %q: %w", k, err)
		}
		if k == "id" {
			r.ID = s
			continue
		}
		r.Values[k] = s
	}
	return nil
}

// MarshalJSON writes the row back in the same flat shape.
func (r Row) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(r.Values)+1)
	for k, v := range r.Values {
		out[k] = v
	}
	if r.ID != "" {
		out["id"] = r.ID
	}
	return json.Marshal(out)
}

func scalarString(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("unexpected composite value %s", v)
	default:
		// numbers and booleans
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String(), nil
		}
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	}
}

// Snapshot is an opened table: its server-resolved name, ordered headers and rows.
type Snapshot struct {
	TableName string   `json:"table_name"`
	Headers   []string `json:"headers"`
	Rows      []Row    `json:"rows"`
}

// FindRow returns the row with the given id.
func (s *Snapshot) FindRow(id string) (Row, bool) {
	if s == nil {
		return Row{}, false
	}
	for _, r := range s.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// WithRows returns a copy of the snapshot with its rows replaced. Table name
// and headers are preserved.
func (s *Snapshot) WithRows(rows []Row) *Snapshot {
	c := &Snapshot{
		TableName: s.TableName,
		Headers:   append([]string(nil), s.Headers...),
		Rows:      rows,
	}
	return c
}

// Normalize maps every header to its submitted value, replacing empty or
// missing values with NA. Keys outside headers are dropped.
func Normalize(headers []string, values map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		v, ok := values[h]
		if !ok || v == "" {
			v = NA
		}
		out[h] = v
	}
	return out
}

// IsSet reports whether a cell carries a real value.
func IsSet(value string) bool {
	return value != "" && value != NA
}

// CellClass returns the highlight class for a grid cell.
func CellClass(dateCols DateColumns, header, value string) string {
	if dateCols.Contains(header) && IsSet(value) {
		return ClassDateFilled
	}
	if value != "" && strings.Contains(header, "DATE") {
		return ClassDate
	}
	if header == RemarksHeader && value != "" {
		return ClassRemarks
	}
	return ""
}

// FieldLocked reports whether a form field must be rendered disabled: date
// columns become read-only once the row being edited carries a date.
func FieldLocked(dateCols DateColumns, header string, initial *Row) bool {
	if initial == nil || !dateCols.Contains(header) {
		return false
	}
	return IsSet(initial.Get(header))
}

// DateColumns is an allowlist of headers holding calendar dates.
type DateColumns map[string]struct{}

// NewDateColumns builds a DateColumns set.
func NewDateColumns(headers ...string) DateColumns {
	d := make(DateColumns, len(headers))
	for _, h := range headers {
		d[h] = struct{}{}
	}
	return d
}

// Contains reports whether header is a date column.
func (d DateColumns) Contains(header string) bool {
	_, ok := d[header]
	return ok
}

package sheet

import (
	"encoding/json"
	"testing"

	"github.com/schedadmin/schedadmin/internal/config"
)

func TestNormalize(t *testing.T) {
	headers := []string{"OA", "EDD", "REMARKS", "QTY"}
	got := Normalize(headers, map[string]string{
		"OA":      "A-12",
		"EDD":     "",
		"REMARKS": "NA",
		"extra":   "dropped",
	})

	want := map[string]string{"OA": "A-12", "EDD": NA, "REMARKS": "NA", "QTY": NA}
	if len(got) != len(want) {
		t.Fatalf("expected %d fields, got %d: %v", len(want), len(got), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, got[k])
		}
	}
	if _, ok := got["extra"]; ok {
		t.Error("non-header key should be dropped")
	}
}

func TestNormalizeKeepsArbitraryStrings(t *testing.T) {
	for _, v := range []string{" ", "0", "na", "2025-03-01", "line1\nline2"} {
		got := Normalize([]string{"H"}, map[string]string{"H": v})
		if got["H"] != v {
			t.Errorf("expected %q unchanged, got %q", v, got["H"])
		}
	}
}

func TestCellClass(t *testing.T) {
	dates := NewDateColumns("EDD", "DESPATCH DATE")

	tests := []struct {
		header, value, want string
	}{
		{"EDD", "2025-03-01", ClassDateFilled},
		{"EDD", "NA", ""},
		{"EDD", "", ""},
		{"DESPATCH DATE", "2025-04-02", ClassDateFilled},
		{"DESPATCH DATE", "NA", ClassDate},
		{"DESPATCH DATE", "", ""},
		{"INVOICE DATE", "x", ClassDate},
		{"REMARKS", "late", ClassRemarks},
		{"REMARKS", "NA", ClassRemarks},
		{"REMARKS", "", ""},
		{"OA", "A-1", ""},
	}
	for _, tt := range tests {
		if got := CellClass(dates, tt.header, tt.value); got != tt.want {
			t.Errorf("CellClass(%q, %q) = %q, want %q", tt.header, tt.value, got, tt.want)
		}
	}
}

func TestFieldLocked(t *testing.T) {
	dates := NewDateColumns("EDD", "HUB")
	row := &Row{ID: "7", Values: map[string]string{"EDD": "2025-01-10", "HUB": "NA", "OA": "A-1"}}

	if !FieldLocked(dates, "EDD", row) {
		t.Error("EDD with a date should be locked")
	}
	if FieldLocked(dates, "HUB", row) {
		t.Error("HUB with NA should be editable")
	}
	if FieldLocked(dates, "CASE", row) {
		t.Error("CASE is not a date column here")
	}
	if FieldLocked(dates, "OA", row) {
		t.Error("non-date column should never lock")
	}
	if FieldLocked(dates, "EDD", nil) {
		t.Error("add form should never lock")
	}
	absent := &Row{ID: "8", Values: map[string]string{}}
	if FieldLocked(dates, "EDD", absent) {
		t.Error("absent date should be editable")
	}
}

func TestRowJSON(t *testing.T) {
	data := `{"id": 42, "OA": "A-1", "QTY": 3, "AMOUNT": 12.5, "EDD": null, "REMARKS": "ok"}`

	var r Row
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.ID != "42" {
		t.Errorf("expected id 42, got %q", r.ID)
	}
	if r.Get("QTY") != "3" {
		t.Errorf("expected QTY 3, got %q", r.Get("QTY"))
	}
	if r.Get("AMOUNT") != "12.5" {
		t.Errorf("expected AMOUNT 12.5, got %q", r.Get("AMOUNT"))
	}
	if v, ok := r.Values["EDD"]; !ok || v != "" {
		t.Errorf("expected null EDD to decode as empty, got %q (present=%v)", v, ok)
	}
	if _, ok := r.Values["id"]; ok {
		t.Error("id should not be a header value")
	}

	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]string
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if back["id"] != "42" || back["OA"] != "A-1" {
		t.Errorf("unexpected marshalled row: %s", out)
	}
}

func TestRowJSONRejectsNested(t *testing.T) {
	var r Row
	if err := json.Unmarshal([]byte(`{"id": 1, "OA": {"x": 1}}`), &r); err == nil {
		t.Error("expected error for nested value")
	}
}

func TestSnapshotWithRows(t *testing.T) {
	s := &Snapshot{
		TableName: "urgent_03_25",
		Headers:   []string{"OA", "EDD"},
		Rows:      []Row{{ID: "1", Values: map[string]string{"OA": "old"}}},
	}
	fresh := s.WithRows([]Row{{ID: "2", Values: map[string]string{"OA": "new"}}})

	if fresh.TableName != "urgent_03_25" || len(fresh.Headers) != 2 {
		t.Errorf("table name/headers not preserved: %+v", fresh)
	}
	if _, ok := fresh.FindRow("1"); ok {
		t.Error("old row should be gone")
	}
	if r, ok := fresh.FindRow("2"); !ok || r.Get("OA") != "new" {
		t.Error("new row not found")
	}
	if _, ok := s.FindRow("1"); !ok {
		t.Error("original snapshot must not be modified")
	}
}

func TestCatalogValidate(t *testing.T) {
	c := DefaultCatalog()

	if err := c.Validate(Criteria{SheetType: "urgent", Month: "03", Year: "25"}); err != nil {
		t.Errorf("expected valid criteria, got %v", err)
	}
	bad := []Criteria{
		{SheetType: "weekly", Month: "03", Year: "25"},
		{SheetType: "urgent", Month: "3", Year: "25"},
		{SheetType: "urgent", Month: "13", Year: "25"},
		{SheetType: "urgent", Month: "03", Year: "2025"},
		{SheetType: "urgent", Month: "03", Year: "31"},
	}
	for _, cr := range bad {
		if err := c.Validate(cr); err == nil {
			t.Errorf("expected %s to be rejected", cr)
		}
	}

	d := c.Defaults()
	if d.SheetType != "urgent" || d.Month != "01" || d.Year != "25" {
		t.Errorf("unexpected defaults %s", d)
	}
	years := c.Years()
	if len(years) != 6 || years[0].Label != "2025" || years[5].Value != "30" {
		t.Errorf("unexpected years %v", years)
	}
}

func TestCatalogSheetTypeOf(t *testing.T) {
	c := DefaultCatalog()

	tests := map[string]string{
		"urgent_03_25":   "urgent",
		"us_llc_11_26":   "us_llc",
		"SHUTDOWN_01_25": "shutdown",
		"weekly_01_25":   "",
		"urgentx_01_25":  "",
	}
	for name, want := range tests {
		if got := c.SheetTypeOf(name); got != want {
			t.Errorf("SheetTypeOf(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestCatalogOverrides(t *testing.T) {
	c := NewCatalog(config.SheetsConfig{
		Types:       []string{"urgent", "shutdown"},
		Years:       []string{"25"},
		Headers:     []string{"OA", "EDD", "HUB"},
		DateColumns: []string{"EDD", "HUB"},
		Overrides: map[string]config.SheetTypeConfig{
			"shutdown": {Headers: []string{"OA", "EDD"}, DateColumns: []string{"EDD"}},
		},
	})

	if !c.DateColumnsFor("urgent_01_25").Contains("HUB") {
		t.Error("urgent should use default date columns")
	}
	if c.DateColumnsFor("shutdown_01_25").Contains("HUB") {
		t.Error("shutdown override should drop HUB")
	}
	if got := c.HeadersFor("shutdown"); len(got) != 2 {
		t.Errorf("expected 2 shutdown headers, got %v", got)
	}
	if got := c.HeadersFor("urgent"); len(got) != 3 {
		t.Errorf("expected 3 urgent headers, got %v", got)
	}
}

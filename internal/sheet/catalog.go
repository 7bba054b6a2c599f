package sheet

import (
	"fmt"
	"strings"

	"github.com/schedadmin/schedadmin/internal/config"
)

// Option is a selectable value with its display label.
type Option struct {
	Value string
	Label string
}

// Months are the selectable months.
var Months = []Option{
	{"01", "January"},
	{"02", "February"},
	{"03", "March"},
	{"04", "April"},
	{"05", "May"},
	{"06", "June"},
	{"07", "July"},
	{"08", "August"},
	{"09", "September"},
	{"10", "October"},
	{"11", "November"},
	{"12", "December"},
}

// Catalog is the immutable set of selectable tables and their column rules.
type Catalog struct {
	types     []string
	years     []string
	defaults  Criteria
	headers   []string
	dateCols  DateColumns
	overrides map[string]override
}

type override struct {
	headers  []string
	dateCols DateColumns
}

// NewCatalog builds a Catalog from configuration.
func NewCatalog(sc config.SheetsConfig) *Catalog {
	c := &Catalog{
		types: append([]string(nil), sc.Types...),
		years: append([]string(nil), sc.Years...),
		defaults: Criteria{
			SheetType: sc.DefaultType,
			Month:     sc.DefaultMonth,
			Year:      sc.DefaultYear,
		},
		headers:   append([]string(nil), sc.Headers...),
		dateCols:  NewDateColumns(sc.DateColumns...),
		overrides: make(map[string]override, len(sc.Overrides)),
	}
	for t, o := range sc.Overrides {
		ov := override{}
		if len(o.Headers) > 0 {
			ov.headers = append([]string(nil), o.Headers...)
		}
		if len(o.DateColumns) > 0 {
			ov.dateCols = NewDateColumns(o.DateColumns...)
		}
		c.overrides[t] = ov
	}
	return c
}

// DefaultCatalog returns the catalog built from built-in defaults.
func DefaultCatalog() *Catalog {
	return NewCatalog(config.SheetsConfig{
		Types:        config.DefaultSheetTypes,
		Years:        config.DefaultYears,
		DefaultType:  "urgent",
		DefaultMonth: "01",
		DefaultYear:  "25",
		Headers:      config.DefaultHeaders,
		DateColumns:  config.DefaultDateColumns,
	})
}

// SheetTypes returns the selectable sheet types in display order.
func (c *Catalog) SheetTypes() []string { return append([]string(nil), c.types...) }

// Years returns the selectable two-digit years with "20yy" labels.
func (c *Catalog) Years() []Option {
	out := make([]Option, 0, len(c.years))
	for _, y := range c.years {
		out = append(out, Option{Value: y, Label: "20" + y})
	}
	return out
}

// Defaults returns the preselected criteria.
func (c *Catalog) Defaults() Criteria { return c.defaults }

// Validate checks that every field of the criteria is one of the enumerated options.
func (c *Catalog) Validate(cr Criteria) error {
	if !contains(c.types, cr.SheetType) {
		return fmt.Errorf("unknown sheet type %q", cr.SheetType)
	}
	validMonth := false
	for _, m := range Months {
		if m.Value == cr.Month {
			validMonth = true
			break
		}
	}
	if !validMonth {
		return fmt.Errorf("unknown month %q", cr.Month)
	}
	if !contains(c.years, cr.Year) {
		return fmt.Errorf("unknown year %q", cr.Year)
	}
	return nil
}

// SheetTypeOf infers the sheet type from a table name such as
// "us_llc_03_25". The longest matching known type wins; unknown names
// return "".
func (c *Catalog) SheetTypeOf(tableName string) string {
	name := strings.ToLower(tableName)
	best := ""
	for _, t := range c.types {
		if name == t || strings.HasPrefix(name, t+"_") {
			if len(t) > len(best) {
				best = t
			}
		}
	}
	return best
}

// DateColumnsFor returns the date columns for the table.
func (c *Catalog) DateColumnsFor(tableName string) DateColumns {
	if o, ok := c.overrides[c.SheetTypeOf(tableName)]; ok && o.dateCols != nil {
		return o.dateCols
	}
	return c.dateCols
}

// HeadersFor returns the expected header layout for a sheet type.
func (c *Catalog) HeadersFor(sheetType string) []string {
	if o, ok := c.overrides[sheetType]; ok && o.headers != nil {
		return append([]string(nil), o.headers...)
	}
	return append([]string(nil), c.headers...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

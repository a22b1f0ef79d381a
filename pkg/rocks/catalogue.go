package rocks

import (
	"sort"
	"strconv"
)

// Datatype is the scalar type inferred for one catalogue column.
type Datatype int

const (
	DatatypeText Datatype = iota
	DatatypeNumber
)

func (d Datatype) String() string {
	if d == DatatypeNumber {
		return "number"
	}
	return "text"
}

// Column is one ordered sequence of values for a single measured quantity,
// one entry per measurement record.
type Column struct {
	name     string
	datatype Datatype
	values   []any
}

func (c *Column) Name() string {
	return c.name
}

func (c *Column) Datatype() Datatype {
	return c.datatype
}

func (c *Column) Len() int {
	return len(c.values)
}

func (c *Column) Values() []any {
	return c.values
}

// Floats returns the numeric view of the column, skipping entries that did
// not parse as numbers. ok reports whether the column is numeric at all.
func (c *Column) Floats() ([]float64, bool) {
	if c.datatype != DatatypeNumber {
		return nil, false
	}

	floats := make([]float64, 0, len(c.values))
	for _, value := range c.values {
		if f, ok := value.(float64); ok {
			floats = append(floats, f)
		}
	}

	return floats, true
}

// ColumnCatalogue is one datacloud catalogue in column form: repeated
// measurements of the same properties from different methods and sources,
// transposed so that every field becomes a column of equal length.
type ColumnCatalogue struct {
	name    string
	length  int
	columns map[string]*Column
}

// NewColumnCatalogue transposes a list of per-measurement records into
// columns. The column set comes from the first record; the datatype of each
// column is inferred from the last record, mirroring the convention that the
// most recent measurement decides the type. An empty record list yields an
// empty catalogue.
func NewColumnCatalogue(name string, records []map[string]any) *ColumnCatalogue {
	cc := &ColumnCatalogue{
		name:    name,
		length:  len(records),
		columns: map[string]*Column{},
	}

	if len(records) == 0 {
		return cc
	}

	last := records[len(records)-1]

	for field := range records[0] {
		datatype := inferDatatype(last[field])

		values := make([]any, len(records))
		for i, record := range records {
			values[i] = coerce(record[field], datatype)
		}

		cc.columns[field] = &Column{
			name:     field,
			datatype: datatype,
			values:   values,
		}
	}

	return cc
}

func (cc *ColumnCatalogue) Name() string {
	return cc.name
}

// Len is the number of source measurement records; every column has exactly
// this many entries.
func (cc *ColumnCatalogue) Len() int {
	return cc.length
}

func (cc *ColumnCatalogue) Column(name string) (*Column, bool) {
	column, ok := cc.columns[name]
	return column, ok
}

func (cc *ColumnCatalogue) ColumnNames() []string {
	names := make([]string, 0, len(cc.columns))
	for name := range cc.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func inferDatatype(value any) Datatype {
	switch typed := value.(type) {
	case float64:
		return DatatypeNumber
	case string:
		if typed == "" {
			return DatatypeText
		}
		if _, err := strconv.ParseFloat(typed, 64); err == nil {
			return DatatypeNumber
		}
		return DatatypeText
	default:
		return DatatypeText
	}
}

func coerce(value any, datatype Datatype) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case float64:
		if datatype == DatatypeNumber {
			return typed
		}
		return strconv.FormatFloat(typed, 'g', -1, 64)
	case string:
		if datatype == DatatypeNumber {
			if f, err := strconv.ParseFloat(typed, 64); err == nil {
				return f
			}
			return nil
		}
		return typed
	default:
		return value
	}
}

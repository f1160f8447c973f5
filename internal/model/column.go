package model

import (
	"fmt"
	"strings"
)

// ColumnType is the storage type of a record field
type ColumnType int

const (
	ColumnByte ColumnType = iota
	ColumnShort
	ColumnInt
	ColumnLong
	ColumnFloat
	ColumnDouble
	ColumnString
	ColumnText
	ColumnDate
	ColumnTime
	ColumnDateTime
	ColumnISOTime
)

var columnTypeNames = map[ColumnType]string{
	ColumnByte:     "BYTE",
	ColumnShort:    "SHORT",
	ColumnInt:      "INT",
	ColumnLong:     "LONG",
	ColumnFloat:    "FLOAT",
	ColumnDouble:   "DOUBLE",
	ColumnString:   "STRING",
	ColumnText:     "TEXT",
	ColumnDate:     "DATE",
	ColumnTime:     "TIME",
	ColumnDateTime: "DATETIME",
	ColumnISOTime:  "ISOTIME",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// ParseColumnType returns the column type with the given name (case-insensitive)
func ParseColumnType(name string) (ColumnType, error) {
	upper := strings.ToUpper(name)
	for t, n := range columnTypeNames {
		if n == upper {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown column type: %s", name)
}

// IsInteger reports whether values are stored as integers
func (t ColumnType) IsInteger() bool {
	return t >= ColumnByte && t <= ColumnLong
}

// IsFloat reports whether values are stored as floating point numbers
func (t ColumnType) IsFloat() bool {
	return t == ColumnFloat || t == ColumnDouble
}

// IsText reports whether values are stored as strings. Date and time
// columns are stored as formatted strings too.
func (t ColumnType) IsText() bool {
	return t >= ColumnString && t <= ColumnISOTime
}

// ColumnDef describes one physical column of a table
type ColumnDef struct {
	Name  string
	Type  ColumnType
	Index bool
}

// Index is a named index over one or more fields
type Index struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// NewIndex creates an index
func NewIndex(name string, fields ...string) Index {
	return Index{Name: name, Fields: fields}
}

// Equal reports whether two indexes have the same name and fields
func (i Index) Equal(other Index) bool {
	if i.Name != other.Name || len(i.Fields) != len(other.Fields) {
		return false
	}
	for n := range i.Fields {
		if i.Fields[n] != other.Fields[n] {
			return false
		}
	}
	return true
}

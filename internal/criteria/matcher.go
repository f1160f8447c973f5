package criteria

import (
	"sort"
	"strings"

	"github.com/devrev/recordstore/internal/model"
)

// Matches evaluates c against an in-memory record. A nil criteria matches
// every record and a missing column reads as nil.
func Matches(rec model.Record, c Criteria) bool {
	switch crit := c.(type) {
	case nil:
		return true
	case *Comparison:
		return compareMatches(crit, rec[crit.Column])
	case *Group:
		if crit.Logic == LogicOr {
			for _, op := range crit.Operands {
				if Matches(rec, op) {
					return true
				}
			}
			return false
		}
		for _, op := range crit.Operands {
			if !Matches(rec, op) {
				return false
			}
		}
		return true
	}
	return false
}

func compareMatches(c *Comparison, value any) bool {
	switch c.Op {
	case OpEqual:
		return IsEqual(value, c.Value)
	case OpNotEqual:
		return !IsEqual(value, c.Value)
	case OpLessThan:
		return Compare(value, c.Value) < 0
	case OpGreaterThan:
		return Compare(value, c.Value) > 0
	case OpLessEqual:
		return Compare(value, c.Value) <= 0
	case OpGreaterEqual:
		return Compare(value, c.Value) >= 0
	}
	return false
}

// SortField is one column of a sort order
type SortField struct {
	Column    string
	Ascending bool
}

// Asc sorts by column in ascending order
func Asc(column string) SortField {
	return SortField{Column: column, Ascending: true}
}

// Desc sorts by column in descending order
func Desc(column string) SortField {
	return SortField{Column: column, Ascending: false}
}

// Sort is an ordered list of sort fields
type Sort []SortField

// Reverse returns the sort with every direction inverted
func (s Sort) Reverse() Sort {
	out := make(Sort, len(s))
	for i, f := range s {
		out[i] = SortField{Column: f.Column, Ascending: !f.Ascending}
	}
	return out
}

// Compare orders two records. Missing or nil values sort last in either
// direction.
func (s Sort) Compare(a, b model.Record) int {
	for _, f := range s {
		av, bv := a[f.Column], b[f.Column]
		switch {
		case av == nil && bv == nil:
			continue
		case av == nil:
			return 1
		case bv == nil:
			return -1
		}
		c := Compare(av, bv)
		if !f.Ascending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func (s Sort) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		dir := "ASC"
		if !f.Ascending {
			dir = "DESC"
		}
		parts[i] = f.Column + " " + dir
	}
	return strings.Join(parts, ", ")
}

// SortRecords sorts records in place, keeping the relative order of equal
// records.
func SortRecords(records []model.Record, s Sort) {
	if len(s) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		return s.Compare(records[i], records[j]) < 0
	})
}

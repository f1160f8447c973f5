package criteria

import (
	"fmt"
	"strconv"
	"strings"
)

// Criteria is a predicate over record columns. The implementations are
// *Comparison and *Group.
type Criteria interface {
	// ContainsColumn reports whether any comparison in the tree tests column
	ContainsColumn(column string) bool
	// Equal reports structural equality; group operands compare as sets
	Equal(other Criteria) bool
	String() string

	isCriteria()
}

// Operator is a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpLessThan
	OpGreaterThan
	OpLessEqual
	OpGreaterEqual
)

var operatorSymbols = map[Operator]string{
	OpEqual:        "=",
	OpNotEqual:     "!=",
	OpLessThan:     "<",
	OpGreaterThan:  ">",
	OpLessEqual:    "<=",
	OpGreaterEqual: ">=",
}

// Symbol returns the SQL-like symbol of the operator
func (o Operator) Symbol() string {
	if s, ok := operatorSymbols[o]; ok {
		return s
	}
	return "?"
}

// Comparison compares a column with a scalar value
type Comparison struct {
	Op     Operator
	Column string
	Value  any
}

// Equal matches records whose column equals value
func Equal(column string, value any) *Comparison {
	return &Comparison{Op: OpEqual, Column: column, Value: value}
}

// NotEqual matches records whose column differs from value
func NotEqual(column string, value any) *Comparison {
	return &Comparison{Op: OpNotEqual, Column: column, Value: value}
}

// LessThan matches records whose column is below value
func LessThan(column string, value any) *Comparison {
	return &Comparison{Op: OpLessThan, Column: column, Value: value}
}

// GreaterThan matches records whose column is above value
func GreaterThan(column string, value any) *Comparison {
	return &Comparison{Op: OpGreaterThan, Column: column, Value: value}
}

// LessEqual matches records whose column is at most value
func LessEqual(column string, value any) *Comparison {
	return &Comparison{Op: OpLessEqual, Column: column, Value: value}
}

// GreaterEqual matches records whose column is at least value
func GreaterEqual(column string, value any) *Comparison {
	return &Comparison{Op: OpGreaterEqual, Column: column, Value: value}
}

func (c *Comparison) isCriteria() {}

// ContainsColumn reports whether c compares column
func (c *Comparison) ContainsColumn(column string) bool {
	return c.Column == column
}

// Equal reports whether other is the same comparison
func (c *Comparison) Equal(other Criteria) bool {
	o, ok := other.(*Comparison)
	if !ok {
		return false
	}
	return c.Op == o.Op && c.Column == o.Column && IsEqual(c.Value, o.Value)
}

func (c *Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Column, c.Op.Symbol(), formatValue(c.Value))
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(val)
	}
	return asString(v)
}

// Logic combines the operands of a group
type Logic int

const (
	LogicAnd Logic = iota
	LogicOr
)

func (l Logic) String() string {
	if l == LogicOr {
		return "OR"
	}
	return "AND"
}

// Group is a conjunction or disjunction of criteria
type Group struct {
	Logic    Logic
	Operands []Criteria
}

// And matches records that match every operand
func And(operands ...Criteria) *Group {
	return &Group{Logic: LogicAnd, Operands: operands}
}

// Or matches records that match at least one operand
func Or(operands ...Criteria) *Group {
	return &Group{Logic: LogicOr, Operands: operands}
}

func (g *Group) isCriteria() {}

// ContainsColumn reports whether any operand of g refers to column
func (g *Group) ContainsColumn(column string) bool {
	for _, op := range g.Operands {
		if op.ContainsColumn(column) {
			return true
		}
	}
	return false
}

// Equal compares groups with the same logic, treating operands as a set
func (g *Group) Equal(other Criteria) bool {
	o, ok := other.(*Group)
	if !ok || g.Logic != o.Logic || len(g.Operands) != len(o.Operands) {
		return false
	}
	return containsAll(g.Operands, o.Operands) && containsAll(o.Operands, g.Operands)
}

func containsAll(set, items []Criteria) bool {
	for _, item := range items {
		found := false
		for _, c := range set {
			if c.Equal(item) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (g *Group) String() string {
	parts := make([]string, len(g.Operands))
	for i, op := range g.Operands {
		parts[i] = "(" + op.String() + ")"
	}
	return strings.Join(parts, " "+g.Logic.String()+" ")
}

// FindEqualString returns the first non-empty string value that c requires
// column to be equal to. Nested groups are searched depth first.
func FindEqualString(c Criteria, column string) (string, bool) {
	switch c := c.(type) {
	case *Comparison:
		if c.Op != OpEqual || c.Column != column {
			return "", false
		}
		s, ok := c.Value.(string)
		if !ok || s == "" {
			return "", false
		}
		return s, true
	case *Group:
		for _, op := range c.Operands {
			if s, ok := FindEqualString(op, column); ok {
				return s, true
			}
		}
	}
	return "", false
}

// WithoutEqual removes the comparisons column = value from c. It returns
// nil if nothing remains. An Or group collapses to nil as soon as one of
// its operands does.
func WithoutEqual(c Criteria, column string, value any) Criteria {
	switch crit := c.(type) {
	case nil:
		return nil
	case *Comparison:
		if crit.Op == OpEqual && crit.Column == column && IsEqual(crit.Value, value) {
			return nil
		}
		return crit
	case *Group:
		var operands []Criteria
		for _, op := range crit.Operands {
			stripped := WithoutEqual(op, column, value)
			if stripped == nil {
				if crit.Logic == LogicOr {
					return nil
				}
				continue
			}
			operands = append(operands, stripped)
		}
		switch len(operands) {
		case 0:
			return nil
		case 1:
			return operands[0]
		}
		return &Group{Logic: crit.Logic, Operands: operands}
	}
	return c
}

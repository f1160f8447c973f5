package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/devrev/recordstore/internal/criteria"
	"github.com/devrev/recordstore/internal/model"
	"github.com/jackc/pgx/v5"
)

// idColumn holds the record id; "id" is renamed so it cannot clash with
// a field of the same name in quoted SQL.
const idColumn = "_id"

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func columnName(field string) string {
	if field == "id" {
		return idColumn
	}
	return field
}

func fieldName(column string) string {
	if column == idColumn {
		return "id"
	}
	return column
}

func sqlType(t model.ColumnType) string {
	switch t {
	case model.ColumnByte, model.ColumnShort:
		return "SMALLINT"
	case model.ColumnInt:
		return "INTEGER"
	case model.ColumnLong:
		return "BIGINT"
	case model.ColumnFloat:
		return "REAL"
	case model.ColumnDouble:
		return "DOUBLE PRECISION"
	case model.ColumnText:
		return "TEXT"
	case model.ColumnDate, model.ColumnTime, model.ColumnDateTime, model.ColumnISOTime:
		// stored in their formatted string form
		return "VARCHAR(40)"
	default:
		return "VARCHAR(255)"
	}
}

func indexName(table, name string) string {
	return table + "_" + name
}

func createTableSQL(table string, columns []model.ColumnDef) (string, []string) {
	defs := []string{quote(idColumn) + " VARCHAR(64) PRIMARY KEY"}
	var indexes []string
	for _, col := range columns {
		defs = append(defs, quote(col.Name)+" "+sqlType(col.Type))
		if col.Index {
			indexes = append(indexes, createIndexSQL(table, model.NewIndex(col.Name, col.Name)))
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quote(table), strings.Join(defs, ", ")), indexes
}

func createIndexSQL(table string, index model.Index) string {
	cols := make([]string, len(index.Fields))
	for i, f := range index.Fields {
		cols[i] = quote(columnName(f))
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		quote(indexName(table, index.Name)), quote(table), strings.Join(cols, ", "))
}

// query accumulates positional arguments while SQL is built
type query struct {
	sb   strings.Builder
	args []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func (q *query) where(c criteria.Criteria) {
	if c == nil {
		return
	}
	q.sb.WriteString(" WHERE ")
	q.sb.WriteString(q.condition(c))
}

func (q *query) condition(c criteria.Criteria) string {
	switch crit := c.(type) {
	case *criteria.Comparison:
		return q.comparison(crit)
	case *criteria.Group:
		if len(crit.Operands) == 0 {
			if crit.Logic == criteria.LogicOr {
				return "FALSE"
			}
			return "TRUE"
		}
		parts := make([]string, len(crit.Operands))
		for i, op := range crit.Operands {
			parts[i] = "(" + q.condition(op) + ")"
		}
		return strings.Join(parts, " "+crit.Logic.String()+" ")
	}
	return "TRUE"
}

// comparison follows the null ordering of criteria.Compare: null is equal
// only to null and sorts before every value.
func (q *query) comparison(c *criteria.Comparison) string {
	col := quote(columnName(c.Column))
	if c.Value == nil {
		switch c.Op {
		case criteria.OpEqual, criteria.OpLessEqual:
			return col + " IS NULL"
		case criteria.OpNotEqual, criteria.OpGreaterThan:
			return col + " IS NOT NULL"
		case criteria.OpGreaterEqual:
			return "TRUE"
		default:
			return "FALSE"
		}
	}
	p := q.arg(c.Value)
	switch c.Op {
	case criteria.OpEqual:
		return col + " = " + p
	case criteria.OpNotEqual:
		return fmt.Sprintf("(%s <> %s OR %s IS NULL)", col, p, col)
	case criteria.OpLessThan:
		return fmt.Sprintf("(%s < %s OR %s IS NULL)", col, p, col)
	case criteria.OpLessEqual:
		return fmt.Sprintf("(%s <= %s OR %s IS NULL)", col, p, col)
	case criteria.OpGreaterThan:
		return col + " > " + p
	default:
		return col + " >= " + p
	}
}

func (q *query) orderBy(sort criteria.Sort) {
	if len(sort) == 0 {
		return
	}
	parts := make([]string, len(sort))
	for i, f := range sort {
		dir := "ASC"
		if !f.Ascending {
			dir = "DESC"
		}
		parts[i] = quote(columnName(f.Column)) + " " + dir + " NULLS LAST"
	}
	q.sb.WriteString(" ORDER BY ")
	q.sb.WriteString(strings.Join(parts, ", "))
}

func selectSQL(table string, columns []string, c criteria.Criteria, limit int, sort criteria.Sort) (string, []any) {
	q := &query{}
	q.sb.WriteString("SELECT ")
	if len(columns) == 0 {
		q.sb.WriteString("*")
	} else {
		quoted := make([]string, len(columns))
		for i, col := range columns {
			quoted[i] = quote(columnName(col))
		}
		q.sb.WriteString(strings.Join(quoted, ", "))
	}
	q.sb.WriteString(" FROM " + quote(table))
	q.where(c)
	q.orderBy(sort)
	if limit > 0 {
		q.sb.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	return q.sb.String(), q.args
}

func countSQL(table string, c criteria.Criteria) (string, []any) {
	q := &query{}
	q.sb.WriteString("SELECT COUNT(*) FROM " + quote(table))
	q.where(c)
	return q.sb.String(), q.args
}

func insertSQL(table string, rec model.Record) (string, []any) {
	q := &query{}
	keys := rec.Keys()
	cols := make([]string, len(keys))
	params := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = quote(columnName(k))
		params[i] = q.arg(rec[k])
	}
	q.sb.WriteString(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table), strings.Join(cols, ", "), strings.Join(params, ", ")))
	return q.sb.String(), q.args
}

func updateSQL(table string, c criteria.Criteria, values model.Record) (string, []any) {
	q := &query{}
	var sets []string
	for _, k := range values.Keys() {
		if k == "id" {
			continue
		}
		sets = append(sets, quote(k)+" = "+q.arg(values[k]))
	}
	q.sb.WriteString(fmt.Sprintf("UPDATE %s SET %s", quote(table), strings.Join(sets, ", ")))
	q.where(c)
	return q.sb.String(), q.args
}

func deleteSQL(table string, c criteria.Criteria) (string, []any) {
	q := &query{}
	q.sb.WriteString("DELETE FROM " + quote(table))
	q.where(c)
	return q.sb.String(), q.args
}

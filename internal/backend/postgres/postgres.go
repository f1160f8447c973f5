package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/devrev/recordstore/internal/backend"
	"github.com/devrev/recordstore/internal/criteria"
	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// querier is satisfied by both the pool and an open transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Backend stores tables in PostgreSQL
type Backend struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu sync.Mutex
	tx pgx.Tx
}

var _ backend.Backend = (*Backend)(nil)

// New connects to PostgreSQL
func New(
	ctx context.Context,
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*Backend, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Backend{pool: pool, logger: logger}, nil
}

func (b *Backend) conn() querier {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx != nil {
		return b.tx
	}
	return b.pool
}

func (b *Backend) exec(ctx context.Context, op, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := b.conn().Exec(ctx, sql, args...)
	if err != nil {
		b.logger.Debug("Statement failed", zap.String("op", op), zap.String("sql", sql), zap.Error(err))
		return tag, dberrors.Backend(fmt.Sprintf("failed to %s", op), err)
	}
	return tag, nil
}

func (b *Backend) CreateTable(ctx context.Context, table string, columns []model.ColumnDef) error {
	create, indexes := createTableSQL(table, columns)
	if _, err := b.exec(ctx, "create table "+table, create); err != nil {
		return err
	}
	for _, stmt := range indexes {
		if _, err := b.exec(ctx, "create index on "+table, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) CreateIndex(ctx context.Context, table string, index model.Index) error {
	_, err := b.exec(ctx, "create index "+index.Name, createIndexSQL(table, index))
	return err
}

func (b *Backend) DropIndex(ctx context.Context, table, name string) error {
	_, err := b.exec(ctx, "drop index "+name, "DROP INDEX IF EXISTS "+quote(indexName(table, name)))
	return err
}

func (b *Backend) AddColumn(ctx context.Context, table string, column model.ColumnDef) error {
	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quote(table), quote(column.Name), sqlType(column.Type))
	if _, err := b.exec(ctx, "add column "+column.Name, sql); err != nil {
		return err
	}
	if column.Index {
		return b.CreateIndex(ctx, table, model.NewIndex(column.Name, column.Name))
	}
	return nil
}

func (b *Backend) DropColumn(ctx context.Context, table, column string) error {
	sql := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quote(table), quote(column))
	_, err := b.exec(ctx, "drop column "+column, sql)
	return err
}

func (b *Backend) RenameColumn(ctx context.Context, table, oldName, newName string) error {
	sql := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", quote(table), quote(oldName), quote(newName))
	_, err := b.exec(ctx, "rename column "+oldName, sql)
	return err
}

func (b *Backend) SelectDbTables(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		ORDER BY table_name
	`
	rows, err := b.conn().Query(ctx, query)
	if err != nil {
		return nil, dberrors.Backend("failed to list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dberrors.Backend("failed to scan table name", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, dberrors.Backend("failed to list tables", err)
	}
	return tables, nil
}

func (b *Backend) DropDbTable(ctx context.Context, table string) error {
	_, err := b.exec(ctx, "drop table "+table, "DROP TABLE IF EXISTS "+quote(table))
	return err
}

// BeginTransaction routes the following statements through one
// transaction until CommitTransaction.
func (b *Backend) BeginTransaction(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx != nil {
		return nil
	}
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return dberrors.Backend("failed to begin transaction", err)
	}
	b.tx = tx
	return nil
}

func (b *Backend) CommitTransaction(ctx context.Context) error {
	b.mu.Lock()
	tx := b.tx
	b.tx = nil
	b.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return dberrors.Backend("failed to commit transaction", err)
	}
	return nil
}

func (b *Backend) InsertRecords(ctx context.Context, table string, records []model.Record) error {
	for _, rec := range records {
		if rec.ID() == "" {
			rec["id"] = backend.NewID()
		}
		sql, args := insertSQL(table, rec)
		if _, err := b.exec(ctx, "insert into "+table, sql, args...); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) SelectRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, limit int, sort criteria.Sort) ([]model.Record, error) {
	sql, args := selectSQL(table, nil, c, limit, sort)
	return b.queryRecords(ctx, table, sql, args)
}

func (b *Backend) queryRecords(ctx context.Context, table, sql string, args []any) ([]model.Record, error) {
	rows, err := b.conn().Query(ctx, sql, args...)
	if err != nil {
		return nil, dberrors.Backend("failed to select from "+table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []model.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, dberrors.Backend("failed to read row of "+table, err)
		}
		rec := make(model.Record, len(values))
		for i, v := range values {
			rec[fieldName(fields[i].Name)] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dberrors.Backend("failed to select from "+table, err)
	}
	return out, nil
}

func (b *Backend) CountRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) (int, error) {
	sql, args := countSQL(table, c)
	var count int64
	if err := b.conn().QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, dberrors.Backend("failed to count "+table, err)
	}
	return int(count), nil
}

func (b *Backend) UpdateRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, values model.Record) error {
	if len(values) == 0 || (len(values) == 1 && values.ID() != "") {
		return nil
	}
	sql, args := updateSQL(table, c, values)
	_, err := b.exec(ctx, "update "+table, sql, args...)
	return err
}

func (b *Backend) DeleteRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) error {
	sql, args := deleteSQL(table, c)
	_, err := b.exec(ctx, "delete from "+table, sql, args...)
	return err
}

func (b *Backend) SelectLogRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) ([]model.Record, error) {
	var columns []string
	if rt != nil {
		for _, col := range backend.LogColumns {
			if col == "id" || rt.HasField(col) {
				columns = append(columns, col)
			}
		}
	} else {
		existing, err := b.tableColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		for _, col := range backend.LogColumns {
			if existing[strings.ToLower(columnName(col))] {
				columns = append(columns, col)
			}
		}
	}
	sql, args := selectSQL(table, columns, c, 0, nil)
	return b.queryRecords(ctx, table, sql, args)
}

func (b *Backend) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
	`
	rows, err := b.conn().Query(ctx, query, table)
	if err != nil {
		return nil, dberrors.Backend("failed to read columns of "+table, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dberrors.Backend("failed to read columns of "+table, err)
		}
		columns[strings.ToLower(name)] = true
	}
	return columns, rows.Err()
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

package backend

import (
	"context"
	"strings"

	"github.com/devrev/recordstore/internal/criteria"
	"github.com/devrev/recordstore/internal/model"
	"github.com/google/uuid"
)

// Backend performs the storage I/O of one database. All table names are
// physical. The record type passed to reads and writes is optional and
// may be nil for tables whose schema is not known.
type Backend interface {
	// CreateTable creates a table with an "id" primary key and columns
	CreateTable(ctx context.Context, table string, columns []model.ColumnDef) error
	CreateIndex(ctx context.Context, table string, index model.Index) error
	DropIndex(ctx context.Context, table, name string) error
	AddColumn(ctx context.Context, table string, column model.ColumnDef) error
	DropColumn(ctx context.Context, table, column string) error
	RenameColumn(ctx context.Context, table, oldName, newName string) error

	// SelectDbTables lists every physical table
	SelectDbTables(ctx context.Context) ([]string, error)
	DropDbTable(ctx context.Context, table string) error

	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error

	// InsertRecords inserts records and sets the "id" of every record
	InsertRecords(ctx context.Context, table string, records []model.Record) error
	SelectRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, limit int, sort criteria.Sort) ([]model.Record, error)
	CountRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) (int, error)
	UpdateRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, values model.Record) error
	DeleteRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) error
	// SelectLogRecords returns the id, user and time columns of the
	// records matching c, for writing action log entries.
	SelectLogRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) ([]model.Record, error)

	Ping(ctx context.Context) error
	Close() error
}

// Columns that SelectLogRecords returns when a table has them
var LogColumns = []string{"id", "user", "utcTime", "localTime"}

// NewID generates a record id: a random UUID without dashes
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

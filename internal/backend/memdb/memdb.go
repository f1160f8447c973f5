package memdb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/devrev/recordstore/internal/backend"
	"github.com/devrev/recordstore/internal/criteria"
	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/model"
	"go.uber.org/zap"
)

// Backend keeps tables in memory. Rows are schemaless maps, so index
// changes are ignored and column changes rewrite the stored rows.
type Backend struct {
	mu     sync.RWMutex
	tables map[string]*skipList[model.Record]
	logger *zap.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New creates an empty in-memory backend
func New(logger *zap.Logger) *Backend {
	return &Backend{
		tables: make(map[string]*skipList[model.Record]),
		logger: logger,
	}
}

func (b *Backend) table(name string) (*skipList[model.Record], error) {
	t, ok := b.tables[name]
	if !ok {
		return nil, dberrors.TableNotFound(name)
	}
	return t, nil
}

func (b *Backend) CreateTable(ctx context.Context, table string, columns []model.ColumnDef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.tables[table]; exists {
		return dberrors.Backend(fmt.Sprintf("table %q already exists", table), nil)
	}
	b.tables[table] = newSkipList[model.Record]()
	b.logger.Debug("Created table", zap.String("table", table), zap.Int("columns", len(columns)))
	return nil
}

func (b *Backend) CreateIndex(ctx context.Context, table string, index model.Index) error {
	return nil
}

func (b *Backend) DropIndex(ctx context.Context, table, name string) error {
	return nil
}

func (b *Backend) AddColumn(ctx context.Context, table string, column model.ColumnDef) error {
	return b.rewriteRows(table, func(rec model.Record) {
		if _, ok := rec[column.Name]; !ok {
			rec[column.Name] = nil
		}
	})
}

func (b *Backend) DropColumn(ctx context.Context, table, column string) error {
	if column == "id" {
		return dberrors.InvalidArgument("cannot drop column id", nil)
	}
	return b.rewriteRows(table, func(rec model.Record) {
		delete(rec, column)
	})
}

func (b *Backend) RenameColumn(ctx context.Context, table, oldName, newName string) error {
	if oldName == "id" || newName == "id" {
		return dberrors.InvalidArgument("cannot rename column id", nil)
	}
	return b.rewriteRows(table, func(rec model.Record) {
		if v, ok := rec[oldName]; ok {
			rec[newName] = v
			delete(rec, oldName)
		}
	})
}

// rewriteRows replaces every row of table by a copy changed by fn
func (b *Backend) rewriteRows(table string, fn func(rec model.Record)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.table(table)
	if err != nil {
		return err
	}
	var rows []model.Record
	t.ascend(func(_ string, rec model.Record) bool {
		rows = append(rows, rec)
		return true
	})
	for _, rec := range rows {
		updated := rec.Clone()
		fn(updated)
		t.put(updated.ID(), updated)
	}
	return nil
}

func (b *Backend) SelectDbTables(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.tables))
	for name := range b.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) DropDbTable(ctx context.Context, table string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tables, table)
	b.logger.Debug("Dropped table", zap.String("table", table))
	return nil
}

func (b *Backend) BeginTransaction(ctx context.Context) error {
	return nil
}

func (b *Backend) CommitTransaction(ctx context.Context) error {
	return nil
}

func (b *Backend) InsertRecords(ctx context.Context, table string, records []model.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.table(table)
	if err != nil {
		return err
	}
	for _, rec := range records {
		id := rec.ID()
		if id == "" {
			id = backend.NewID()
		} else if _, exists := t.get(id); exists {
			return dberrors.Backend(fmt.Sprintf("duplicate id %q in table %q", id, table), nil)
		}
		rec["id"] = id
		t.put(id, rec.Clone())
	}
	return nil
}

func (b *Backend) matching(t *skipList[model.Record], c criteria.Criteria) []model.Record {
	var out []model.Record
	t.ascend(func(_ string, rec model.Record) bool {
		if criteria.Matches(rec, c) {
			out = append(out, rec)
		}
		return true
	})
	return out
}

func (b *Backend) SelectRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, limit int, sort criteria.Sort) ([]model.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, err := b.table(table)
	if err != nil {
		return nil, err
	}
	rows := b.matching(t, c)
	criteria.SortRecords(rows, sort)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]model.Record, len(rows))
	for i, rec := range rows {
		out[i] = rec.Clone()
	}
	return out, nil
}

func (b *Backend) CountRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, err := b.table(table)
	if err != nil {
		return 0, err
	}
	return len(b.matching(t, c)), nil
}

func (b *Backend) UpdateRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, values model.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.table(table)
	if err != nil {
		return err
	}
	for _, rec := range b.matching(t, c) {
		updated := rec.Clone()
		for k, v := range values {
			if k == "id" {
				continue
			}
			updated[k] = v
		}
		t.put(rec.ID(), updated)
	}
	return nil
}

func (b *Backend) DeleteRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.table(table)
	if err != nil {
		return err
	}
	for _, rec := range b.matching(t, c) {
		t.remove(rec.ID())
	}
	return nil
}

func (b *Backend) SelectLogRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) ([]model.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, err := b.table(table)
	if err != nil {
		return nil, err
	}
	rows := b.matching(t, c)
	out := make([]model.Record, len(rows))
	for i, rec := range rows {
		projected := make(model.Record, len(backend.LogColumns))
		for _, col := range backend.LogColumns {
			if v, ok := rec[col]; ok {
				projected[col] = v
			}
		}
		out[i] = projected
	}
	return out, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables = make(map[string]*skipList[model.Record])
	return nil
}

// Len returns the number of rows in table, or -1 if it does not exist
func (b *Backend) Len(table string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tables[table]
	if !ok {
		return -1
	}
	return t.size
}

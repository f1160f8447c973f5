package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/devrev/recordstore/internal/criteria"
	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/model"
	"go.uber.org/zap"
)

const (
	tableMetadataVersion = 3
	actionLogVersion     = 9
)

// tableMetadataDef defines _table_metadata, which is initialised before
// every other table.
type tableMetadataDef struct {
	BaseTableDef
}

func newTableMetadataDef() *tableMetadataDef {
	return &tableMetadataDef{
		BaseTableDef: NewBaseTableDef(model.TableMetadataTable, model.TableMetadataType, tableMetadataVersion, false),
	}
}

func (d *tableMetadataDef) UpgradeTable(ctx context.Context, version int, db *Database, physTable string) (int, error) {
	switch version {
	case 0:
		// value column becomes TEXT
		rows, err := db.SelectRecords(ctx, physTable, nil, nil, 0, nil)
		if err != nil {
			return 0, err
		}
		if err := db.Delete(ctx, physTable, nil, nil); err != nil {
			return 0, err
		}
		if err := db.DropColumn(ctx, physTable, "value"); err != nil {
			return 0, err
		}
		if err := db.AddColumn(ctx, physTable, model.ColumnDef{Name: "value", Type: model.ColumnText}); err != nil {
			return 0, err
		}
		if err := db.InsertRecords(ctx, physTable, rows); err != nil {
			return 0, err
		}
		return 1, nil
	case 1:
		// rewrite rows with the current value encoding
		rows, err := db.SelectRecords(ctx, physTable, nil, nil, 0, nil)
		if err != nil {
			return 0, err
		}
		if err := db.Delete(ctx, physTable, nil, nil); err != nil {
			return 0, err
		}
		if err := db.InsertRecords(ctx, physTable, rows); err != nil {
			return 0, err
		}
		return 2, nil
	case 2:
		if err := db.CreateIndex(ctx, physTable, model.NewIndex("table", "table")); err != nil {
			return 0, err
		}
		return 3, nil
	}
	return tableMetadataVersion, nil
}

// builtinTableDef is a reserved table without upgrades of its own
type builtinTableDef struct {
	BaseTableDef
}

func newUserTableKeyDef() *builtinTableDef {
	return &builtinTableDef{NewBaseTableDef(model.UserTableKeyTable, model.UserTableKeyType, 0, false)}
}

func newSyncProgressDef() *builtinTableDef {
	return &builtinTableDef{NewBaseTableDef(model.SyncProgressTable, model.SyncProgressType, 0, false)}
}

// actionLogDef describes the action log shards. It has no physical table
// of its own; its upgrades run on every _action_log_<key> shard.
type actionLogDef struct {
	BaseTableDef
}

func newActionLogDef() *actionLogDef {
	return &actionLogDef{
		BaseTableDef: NewBaseTableDef(model.ActionLogTable, model.DatabaseActionType, actionLogVersion, false,
			model.NewIndex("timeOrder", "time", "order")),
	}
}

func (d *actionLogDef) UpgradeTable(ctx context.Context, version int, db *Database, physTable string) (int, error) {
	switch {
	case version < 7:
		return 0, dberrors.Schema(fmt.Sprintf("upgrade of %s from version %d is not supported", physTable, version), nil)
	case version == 7:
		// shards used to be registered as logical tables
		metas, err := SelectAs[*model.TableMetadata](ctx, db, model.TableMetadataTable, model.TableMetadataType,
			criteria.Equal("key", model.MetaVersion), 0, criteria.Sort{criteria.Asc("table")})
		if err != nil {
			return 0, err
		}
		for _, meta := range metas {
			if !strings.HasPrefix(meta.Table, model.ActionLogPrefix) {
				continue
			}
			if err := db.Delete(ctx, model.TableMetadataTable, nil, criteria.Equal("table", meta.Table)); err != nil {
				return 0, err
			}
			db.cache.RemoveLogicalTable(db.name, meta.Table)
			db.cache.AddPhysicalTable(db.name, meta.Table)
		}
		return 8, nil
	case version == 8:
		if err := db.CreateIndex(ctx, physTable, model.NewIndex("recordId", "recordId")); err != nil {
			db.logger.Warn("Failed to create index recordId, probably already exists",
				zap.String("table", physTable), zap.Error(err))
		} else {
			db.logger.Info("Created index recordId", zap.String("table", physTable))
		}
		return 9, nil
	}
	return actionLogVersion, nil
}

func reservedTableDefs() []TableDef {
	return []TableDef{newUserTableKeyDef(), newSyncProgressDef(), newActionLogDef()}
}

// isReservedDef reports whether def is one of the built-in reserved
// definitions. Caller definitions with a reserved name are not.
func isReservedDef(def TableDef) bool {
	switch def.(type) {
	case *builtinTableDef, *actionLogDef:
		return true
	}
	return false
}

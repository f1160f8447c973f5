package database

import (
	"context"
	"fmt"
	"strings"

	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/model"
)

// TableDef is the static definition of a logical table.
//
// UpgradeTable is called once per version step for every physical table
// of the logical table while the database is not yet initialised, so it
// receives physical table names. It returns the version it upgraded the
// table to and must tolerate tables that a previous, interrupted upgrade
// already advanced.
type TableDef interface {
	Name() string
	RecordType() *model.RecordType
	CurrentVersion() int
	CompoundIndexes() []model.Index
	SplitByUser() bool
	UpgradeTable(ctx context.Context, version int, db *Database, physTable string) (int, error)
	UpgradeActionTable(ctx context.Context, version int, db *Database, table model.ActionTable) (int, error)
}

// BaseTableDef implements TableDef for tables that need no data migration.
// Definitions with upgrade steps embed it and override UpgradeTable.
type BaseTableDef struct {
	name        string
	recordType  *model.RecordType
	version     int
	splitByUser bool
	indexes     []model.Index
}

// NewBaseTableDef creates a table definition
func NewBaseTableDef(name string, rt *model.RecordType, version int, splitByUser bool, indexes ...model.Index) BaseTableDef {
	return BaseTableDef{
		name:        name,
		recordType:  rt,
		version:     version,
		splitByUser: splitByUser,
		indexes:     indexes,
	}
}

// Name, RecordType, CurrentVersion and SplitByUser return the definition's
// fields.
func (d BaseTableDef) Name() string                  { return d.name }
func (d BaseTableDef) RecordType() *model.RecordType { return d.recordType }
func (d BaseTableDef) CurrentVersion() int           { return d.version }
func (d BaseTableDef) SplitByUser() bool             { return d.splitByUser }

// CompoundIndexes returns a copy of the compound indexes
func (d BaseTableDef) CompoundIndexes() []model.Index {
	return append([]model.Index(nil), d.indexes...)
}

// UpgradeTable advances one version without touching the table
func (d BaseTableDef) UpgradeTable(ctx context.Context, version int, db *Database, physTable string) (int, error) {
	return version + 1, nil
}

// UpgradeActionTable advances one version until the current version
func (d BaseTableDef) UpgradeActionTable(ctx context.Context, version int, db *Database, table model.ActionTable) (int, error) {
	if version < d.version {
		return version + 1, nil
	}
	return d.version, nil
}

// tableInfoOf returns the schema that a definition records in metadata
func tableInfoOf(def TableDef) *model.TableInfo {
	return &model.TableInfo{
		Fields:          def.RecordType().FieldNames(),
		RecordType:      def.RecordType(),
		CompoundIndexes: def.CompoundIndexes(),
		SplitByUser:     def.SplitByUser(),
	}
}

func validateTableDef(def TableDef) error {
	name := def.Name()
	switch {
	case name == "":
		return dberrors.Schema("table name is required", nil)
	case strings.ToLower(name) != name:
		return dberrors.Schema(fmt.Sprintf("table name must be lowercase: %s", name), nil)
	case strings.Contains(name, model.TableTokenSeparator):
		return dberrors.Schema(fmt.Sprintf("table name must not contain %q: %s", model.TableTokenSeparator, name), nil)
	case def.RecordType() == nil:
		return dberrors.Schema(fmt.Sprintf("table %s has no record type", name), nil)
	case def.CurrentVersion() < 0:
		return dberrors.Schema(fmt.Sprintf("table %s has negative version %d", name, def.CurrentVersion()), nil)
	}
	if def.SplitByUser() && !def.RecordType().HasField("user") {
		return dberrors.Schema(fmt.Sprintf("table %s is split by user but record type %s has no field user",
			name, def.RecordType().Name()), nil)
	}
	for _, idx := range def.CompoundIndexes() {
		for _, field := range idx.Fields {
			if field != "id" && !def.RecordType().HasField(field) {
				return dberrors.Schema(fmt.Sprintf("index %s of table %s refers to unknown field %s",
					idx.Name, name, field), nil)
			}
		}
	}
	return nil
}

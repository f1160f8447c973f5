package database

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/recordstore/internal/actionlog"
	"github.com/devrev/recordstore/internal/backend"
	"github.com/devrev/recordstore/internal/cache"
	"github.com/devrev/recordstore/internal/criteria"
	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/listener"
	"github.com/devrev/recordstore/internal/metrics"
	"github.com/devrev/recordstore/internal/model"
	"github.com/devrev/recordstore/internal/util/keylock"
	"go.uber.org/zap"
)

// processLocks serializes shard creation and action log appends of every
// database in the process unless an engine is given its own registry.
var processLocks = keylock.New()

// Database is the engine of one named database. Before it is marked
// initialised all table names are physical; afterwards public entry
// points take logical names and resolve user shards themselves.
type Database struct {
	name      string
	backend   backend.Backend
	cache     *cache.Cache
	locks     *keylock.Registry
	listeners *listener.Registry
	merger    actionlog.Merger
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
	splitOpts []SplitterOption

	syncEnabled             atomic.Bool
	saveSyncedRemoteActions atomic.Bool
	initialised             atomic.Bool

	initMu          sync.Mutex
	metaInitialised bool
}

// Option configures a Database
type Option func(*Database)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Database) { d.logger = logger }
}

// WithMetrics records engine metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Database) { d.metrics = m }
}

// WithListeners sets the registry notified of data changes and action log
// appends.
func WithListeners(r *listener.Registry) Option {
	return func(d *Database) { d.listeners = r }
}

// WithMerger replaces the default action merge strategy
func WithMerger(m actionlog.Merger) Option {
	return func(d *Database) { d.merger = m }
}

// WithLocks sets the keyed lock registry. Engines of the same database
// must share one.
func WithLocks(r *keylock.Registry) Option {
	return func(d *Database) { d.locks = r }
}

// WithClock sets the wall clock used for action log times
func WithClock(now func() time.Time) Option {
	return func(d *Database) { d.now = now }
}

// WithSyncEnabled enables the action log
func WithSyncEnabled(enabled bool) Option {
	return func(d *Database) { d.syncEnabled.Store(enabled) }
}

// WithSplitterDefaults sets the options every TableSplitter of the engine
// starts from.
func WithSplitterDefaults(opts ...SplitterOption) Option {
	return func(d *Database) { d.splitOpts = append(d.splitOpts, opts...) }
}

// WithSaveSyncedRemoteActions sets whether mutations from a remote source
// are logged too. It defaults to true.
func WithSaveSyncedRemoteActions(save bool) Option {
	return func(d *Database) { d.saveSyncedRemoteActions.Store(save) }
}

// New creates the engine of database name. The cache is shared by all
// engines in the process.
func New(name string, b backend.Backend, c *cache.Cache, opts ...Option) *Database {
	d := &Database{
		name:    name,
		backend: b,
		cache:   c,
		locks:   processLocks,
		merger:  actionlog.RecordActionMerger{},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	d.saveSyncedRemoteActions.Store(true)
	for _, opt := range opts {
		opt(d)
	}
	if d.listeners == nil {
		d.listeners = listener.NewRegistry()
	}
	d.logger = d.logger.With(zap.String("database", name))
	return d
}

// Name returns the database name
func (d *Database) Name() string {
	return d.name
}

// Backend returns the storage backend
func (d *Database) Backend() backend.Backend {
	return d.backend
}

// Listeners returns the listener registry
func (d *Database) Listeners() *listener.Registry {
	return d.listeners
}

// SyncEnabled reports whether mutations are written to the action log
func (d *Database) SyncEnabled() bool {
	return d.syncEnabled.Load()
}

// SetSyncEnabled enables or disables the action log
func (d *Database) SetSyncEnabled(enabled bool) {
	d.syncEnabled.Store(enabled)
}

// SaveSyncedRemoteActions reports whether mutations from a remote source
// are logged.
func (d *Database) SaveSyncedRemoteActions() bool {
	return d.saveSyncedRemoteActions.Load()
}

// SetSaveSyncedRemoteActions sets whether mutations from a remote source
// are logged.
func (d *Database) SetSaveSyncedRemoteActions(save bool) {
	d.saveSyncedRemoteActions.Store(save)
}

// Initialised reports whether table names are resolved as logical names
func (d *Database) Initialised() bool {
	return d.initialised.Load()
}

// SetInitialised marks the database initialised
func (d *Database) SetInitialised(initialised bool) {
	d.initialised.Store(initialised)
}

// Open initialises the reserved tables and every table definition, drops
// logical tables that are no longer defined if dropOldTables is set and
// marks the database initialised.
func (d *Database) Open(ctx context.Context, defs []TableDef, dropOldTables bool) error {
	d.SetInitialised(false)
	if err := d.InitTable(ctx, newTableMetadataDef()); err != nil {
		return err
	}
	defined := make(map[string]bool, len(defs))
	for _, def := range defs {
		if err := d.InitTable(ctx, def); err != nil {
			return err
		}
		defined[def.Name()] = true
	}
	if dropOldTables {
		tables, err := d.SelectTables(ctx)
		if err != nil {
			return err
		}
		for _, table := range tables {
			if model.IsReserved(table) || defined[table] {
				continue
			}
			d.logger.Info("Dropping old table", zap.String("table", table))
			if err := d.DropTable(ctx, table); err != nil {
				return err
			}
		}
	}
	d.SetInitialised(true)
	d.logger.Info("Database opened", zap.Int("tables", len(defs)))
	return nil
}

// InitTable creates or upgrades the tables of def. It initialises the
// reserved tables first if that has not happened yet. Calling it again
// for an initialised table only refreshes cached metadata.
func (d *Database) InitTable(ctx context.Context, def TableDef) error {
	d.initMu.Lock()
	defer d.initMu.Unlock()
	start := time.Now()
	err := d.initTable(ctx, def)
	d.metrics.RecordOperation("init_table", tableKind(def.Name()), start, err)
	return err
}

func (d *Database) initTable(ctx context.Context, def TableDef) error {
	_, isMeta := def.(*tableMetadataDef)
	if isMeta && d.metaInitialised {
		return nil
	}
	if err := validateTableDef(def); err != nil {
		return err
	}
	if model.IsReserved(def.Name()) && !isMeta && !isReservedDef(def) {
		return dberrors.Schema(fmt.Sprintf("table name %s is reserved", def.Name()), nil)
	}

	tables, err := d.physicalTables(ctx)
	if err != nil {
		return err
	}
	if isMeta {
		if !contains(tables, def.Name()) {
			if err := d.createMetaTable(ctx, def); err != nil {
				return err
			}
		}
	} else if !isReservedDef(def) && !d.metaInitialised {
		if err := d.initTable(ctx, newTableMetadataDef()); err != nil {
			return err
		}
	}

	metas, err := d.tableMetadata(ctx, def.Name())
	if err != nil {
		return err
	}
	versionMeta, found := model.FindMetadata(metas, model.MetaVersion)
	if !found {
		for _, table := range tables {
			if cache.HasTablePrefix(table, def.Name()) {
				d.logger.Info("Dropping table without metadata", zap.String("table", table))
				if err := d.DropDbTable(ctx, table); err != nil {
					return err
				}
			}
		}
		if err := d.createMetaTable(ctx, def); err != nil {
			return err
		}
	} else {
		if err := d.upgradeTable(ctx, def, &versionMeta); err != nil {
			return err
		}
		if err := d.syncTableMetadata(ctx, def, metas, versionMeta); err != nil {
			return err
		}
	}

	if isMeta {
		for _, reserved := range reservedTableDefs() {
			if err := d.initTable(ctx, reserved); err != nil {
				return fmt.Errorf("failed to initialise reserved table %s: %w", reserved.Name(), err)
			}
		}
		d.metaInitialised = true
	}
	return nil
}

// createMetaTable creates the physical table of a new logical table and
// writes its metadata. Split tables get their physical shards on first
// use per user.
func (d *Database) createMetaTable(ctx context.Context, def TableDef) error {
	if def.Name() != model.ActionLogTable && !def.SplitByUser() {
		if err := d.createTable(ctx, def.Name(), def.RecordType(), def.CompoundIndexes()); err != nil {
			return err
		}
	}
	version := &model.TableMetadata{
		Table: def.Name(),
		Key:   model.MetaVersion,
		Value: strconv.Itoa(def.CurrentVersion()),
	}
	if err := d.Insert(ctx, model.TableMetadataTable, version); err != nil {
		return err
	}
	d.cache.AddLogicalTable(d.name, def.Name())
	d.logger.Info("Created table",
		zap.String("table", def.Name()),
		zap.Int("version", def.CurrentVersion()),
		zap.Bool("split_by_user", def.SplitByUser()))
	return d.syncTableMetadata(ctx, def, nil, *version)
}

var schemaMetadataKeys = []string{
	model.MetaFields,
	model.MetaDataClass,
	model.MetaCompoundIndexes,
	model.MetaSplitByUser,
}

// syncTableMetadata writes the schema of def to the metadata table where
// it differs from metas and caches it. Once the schema of the table is
// cached only the version is refreshed, since the schema cannot change
// while the process runs.
func (d *Database) syncTableMetadata(ctx context.Context, def TableDef, metas []model.TableMetadata, versionMeta model.TableMetadata) error {
	if d.cache.HasTableInfo(d.name, def.Name()) {
		cached := []model.TableMetadata{versionMeta}
		for _, meta := range metas {
			if meta.Key != model.MetaVersion {
				cached = append(cached, meta)
			}
		}
		d.cache.SetTableMetadata(d.name, def.Name(), cached)
		return nil
	}
	info := tableInfoOf(def)
	values, err := info.MetadataValues()
	if err != nil {
		return dberrors.Schema(fmt.Sprintf("invalid metadata of table %s", def.Name()), err)
	}
	newMetas := []model.TableMetadata{versionMeta}
	for _, key := range schemaMetadataKeys {
		value := values[key]
		meta, found := model.FindMetadata(metas, key)
		if !found {
			meta = model.TableMetadata{Table: def.Name(), Key: key, Value: value}
			if err := d.Insert(ctx, model.TableMetadataTable, &meta); err != nil {
				return err
			}
		} else if meta.Value != value {
			meta.Value = value
			if err := d.UpdateObject(ctx, model.TableMetadataTable, &meta); err != nil {
				return err
			}
		}
		newMetas = append(newMetas, meta)
	}
	d.cache.PutTableInfo(d.name, def.Name(), info)
	d.cache.SetTableMetadata(d.name, def.Name(), newMetas)
	return nil
}

func (d *Database) upgradeTable(ctx context.Context, def TableDef, versionMeta *model.TableMetadata) error {
	version, err := strconv.Atoi(versionMeta.Value)
	if err != nil {
		return dberrors.Schema(fmt.Sprintf("invalid version %q of table %s", versionMeta.Value, def.Name()), err)
	}
	for version < def.CurrentVersion() {
		next, err := d.upgradeTableStep(ctx, def, versionMeta, version)
		if err != nil {
			return fmt.Errorf("failed to upgrade table %s from version %d: %w", def.Name(), version, err)
		}
		if next <= version {
			return dberrors.Schema(fmt.Sprintf("upgrade of table %s did not advance from version %d", def.Name(), version), nil)
		}
		d.logger.Info("Upgraded table",
			zap.String("table", def.Name()),
			zap.Int("from_version", version),
			zap.Int("to_version", next))
		version = next
	}
	return nil
}

// upgradeTableStep upgrades every physical table of def by one step and
// stores the lowest version any of them reached.
func (d *Database) upgradeTableStep(ctx context.Context, def TableDef, versionMeta *model.TableMetadata, version int) (int, error) {
	dbTables, err := d.physicalTables(ctx)
	if err != nil {
		return 0, err
	}
	var physTables []string
	var actionTables []model.ActionTable
	if def.Name() == model.ActionLogTable {
		keys, err := d.selectUserTableKeys(ctx, nil)
		if err != nil {
			return 0, err
		}
		for _, key := range keys {
			physTables = append(physTables, model.ActionShardName(key.Key))
		}
	} else {
		physTables = append(physTables, def.Name())
		if !model.IsReserved(def.Name()) {
			keys, err := d.selectUserTableKeys(ctx, criteria.Equal("table", def.Name()))
			if err != nil {
				return 0, err
			}
			for _, key := range keys {
				physTables = append(physTables, model.ShardName(def.Name(), key.Key))
				actionTables = append(actionTables, model.ActionTable{Name: model.ActionShardName(key.Key), Key: *key})
			}
		}
	}

	minVersion := -1
	lower := func(v int) {
		if minVersion < 0 || v < minVersion {
			minVersion = v
		}
	}
	for _, physTable := range physTables {
		exists := contains(dbTables, physTable)
		if !exists && (def.SplitByUser() || physTable != def.Name()) {
			continue
		}
		if !exists {
			if err := d.createTable(ctx, physTable, def.RecordType(), def.CompoundIndexes()); err != nil {
				return 0, err
			}
		}
		upgraded, err := def.UpgradeTable(ctx, version, d, physTable)
		if err != nil {
			return 0, err
		}
		lower(upgraded)
	}
	for _, at := range actionTables {
		if !contains(dbTables, at.Name) {
			continue
		}
		upgraded, err := def.UpgradeActionTable(ctx, version, d, at)
		if err != nil {
			return 0, err
		}
		lower(upgraded)
	}
	if minVersion < 0 {
		minVersion = version + 1
	}

	versionMeta.Value = strconv.Itoa(minVersion)
	if err := d.UpdateObject(ctx, model.TableMetadataTable, versionMeta); err != nil {
		return 0, err
	}
	return minVersion, nil
}

func (d *Database) createTable(ctx context.Context, table string, rt *model.RecordType, indexes []model.Index) error {
	if err := d.backend.CreateTable(ctx, table, rt.Columns()); err != nil {
		return dberrors.Wrap(fmt.Sprintf("failed to create table %s", table), err)
	}
	for _, idx := range indexes {
		if err := d.backend.CreateIndex(ctx, table, idx); err != nil {
			return dberrors.Wrap(fmt.Sprintf("failed to create index %s on table %s", idx.Name, table), err)
		}
	}
	d.cache.AddPhysicalTable(d.name, table)
	d.logger.Debug("Created physical table", zap.String("table", table))
	return nil
}

// SelectTables returns the sorted logical tables, including reserved
// tables.
func (d *Database) SelectTables(ctx context.Context) ([]string, error) {
	return d.cache.LogicalTables(d.name, func() ([]string, error) {
		exists, err := d.hasPhysicalTable(ctx, model.TableMetadataTable)
		if err != nil || !exists {
			return nil, err
		}
		rows, err := d.backend.SelectRecords(ctx, model.TableMetadataTable, model.TableMetadataType, nil, 0, nil)
		if err != nil {
			return nil, dberrors.Wrap("failed to select logical tables", err)
		}
		seen := make(map[string]bool)
		var tables []string
		for _, row := range rows {
			table, _ := row.StringValue("table")
			if table != "" && !seen[table] {
				seen[table] = true
				tables = append(tables, table)
			}
		}
		sort.Strings(tables)
		return tables, nil
	})
}

// SelectDbTables returns the sorted physical tables
func (d *Database) SelectDbTables(ctx context.Context) ([]string, error) {
	return d.physicalTables(ctx)
}

func (d *Database) physicalTables(ctx context.Context) ([]string, error) {
	return d.cache.PhysicalTables(d.name, d.loadPhysicalTables(ctx))
}

func (d *Database) hasPhysicalTable(ctx context.Context, table string) (bool, error) {
	return d.cache.HasPhysicalTable(d.name, table, d.loadPhysicalTables(ctx))
}

func (d *Database) loadPhysicalTables(ctx context.Context) cache.Loader[[]string] {
	return func() ([]string, error) {
		tables, err := d.backend.SelectDbTables(ctx)
		if err != nil {
			return nil, dberrors.Wrap("failed to select physical tables", err)
		}
		return tables, nil
	}
}

func (d *Database) tableMetadata(ctx context.Context, table string) ([]model.TableMetadata, error) {
	return d.cache.TableMetadata(d.name, table, d.loadAllMetadata(ctx))
}

func (d *Database) tableInfo(ctx context.Context, table string) (*model.TableInfo, error) {
	info, err := d.cache.TableInfo(d.name, table, d.loadAllMetadata(ctx))
	if err != nil {
		return nil, dberrors.Wrap(fmt.Sprintf("failed to read metadata of table %s", table), err)
	}
	return info, nil
}

func (d *Database) loadAllMetadata(ctx context.Context) cache.Loader[[]model.TableMetadata] {
	return func() ([]model.TableMetadata, error) {
		exists, err := d.hasPhysicalTable(ctx, model.TableMetadataTable)
		if err != nil || !exists {
			return nil, err
		}
		metas, err := SelectAs[*model.TableMetadata](ctx, d, model.TableMetadataTable, model.TableMetadataType, nil, 0, nil)
		if err != nil {
			return nil, err
		}
		out := make([]model.TableMetadata, len(metas))
		for i, m := range metas {
			out[i] = *m
		}
		return out, nil
	}
}

// DropTable drops a logical table with all its user shards, action log
// shards, metadata and user table keys.
func (d *Database) DropTable(ctx context.Context, table string) error {
	start := time.Now()
	err := d.dropTable(ctx, table)
	d.metrics.RecordOperation("drop_table", tableKind(table), start, err)
	return err
}

func (d *Database) dropTable(ctx context.Context, table string) error {
	dbTables, err := d.physicalTables(ctx)
	if err != nil {
		return err
	}
	for _, dbTable := range dbTables {
		var drop bool
		if table == model.ActionLogTable {
			drop = strings.HasPrefix(dbTable, table)
		} else {
			drop = cache.HasTablePrefix(dbTable, table)
		}
		if drop {
			if err := d.DropDbTable(ctx, dbTable); err != nil {
				return err
			}
		}
	}

	byTable := criteria.Equal("table", table)
	if err := d.Delete(ctx, model.TableMetadataTable, nil, byTable); err != nil {
		return err
	}
	keys, err := d.selectUserTableKeys(ctx, byTable)
	if err != nil {
		return err
	}
	for _, key := range keys {
		actionTable := model.ActionShardName(key.Key)
		exists, err := d.hasPhysicalTable(ctx, actionTable)
		if err != nil {
			return err
		}
		if exists {
			if err := d.DropDbTable(ctx, actionTable); err != nil {
				return err
			}
		}
	}
	if err := d.Delete(ctx, model.UserTableKeyTable, nil, byTable); err != nil {
		return err
	}
	d.cache.RemoveLogicalTable(d.name, table)
	d.logger.Info("Dropped table", zap.String("table", table))
	return nil
}

// DropDbTable drops one physical table
func (d *Database) DropDbTable(ctx context.Context, table string) error {
	if err := d.backend.DropDbTable(ctx, table); err != nil {
		return dberrors.Wrap(fmt.Sprintf("failed to drop table %s", table), err)
	}
	d.cache.RemovePhysicalTable(d.name, table)
	return nil
}

// Schema changes on physical tables, used by upgrade hooks.

// CreateIndex creates index on a physical table
func (d *Database) CreateIndex(ctx context.Context, table string, index model.Index) error {
	return dberrors.Wrap(fmt.Sprintf("failed to create index %s on table %s", index.Name, table),
		d.backend.CreateIndex(ctx, table, index))
}

// DropIndex drops an index of a physical table
func (d *Database) DropIndex(ctx context.Context, table, name string) error {
	return dberrors.Wrap(fmt.Sprintf("failed to drop index %s on table %s", name, table),
		d.backend.DropIndex(ctx, table, name))
}

// AddColumn adds a column to a physical table
func (d *Database) AddColumn(ctx context.Context, table string, column model.ColumnDef) error {
	return dberrors.Wrap(fmt.Sprintf("failed to add column %s to table %s", column.Name, table),
		d.backend.AddColumn(ctx, table, column))
}

// DropColumn drops a column of a physical table
func (d *Database) DropColumn(ctx context.Context, table, column string) error {
	return dberrors.Wrap(fmt.Sprintf("failed to drop column %s from table %s", column, table),
		d.backend.DropColumn(ctx, table, column))
}

// RenameColumn renames a column of a physical table
func (d *Database) RenameColumn(ctx context.Context, table, oldName, newName string) error {
	return dberrors.Wrap(fmt.Sprintf("failed to rename column %s of table %s", oldName, table),
		d.backend.RenameColumn(ctx, table, oldName, newName))
}

// BeginTransaction starts a backend batch. It is not a rollback boundary.
func (d *Database) BeginTransaction(ctx context.Context) error {
	return dberrors.Wrap("failed to begin transaction", d.backend.BeginTransaction(ctx))
}

// CommitTransaction commits the batch started by BeginTransaction
func (d *Database) CommitTransaction(ctx context.Context) error {
	return dberrors.Wrap("failed to commit transaction", d.backend.CommitTransaction(ctx))
}

func tableKind(table string) string {
	if model.IsReserved(table) {
		return "reserved"
	}
	return "logical"
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

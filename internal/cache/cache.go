package cache

import (
	"sort"
	"strings"
	"sync"

	"github.com/devrev/recordstore/internal/model"
)

// Loader reads a missing cache value from durable state
type Loader[T any] func() (T, error)

// Observer is told about every cache lookup
type Observer func(kind string, hit bool)

// Lookup kinds reported to the observer
const (
	KindLogicalTables  = "logical_tables"
	KindPhysicalTables = "physical_tables"
	KindTableMetadata  = "table_metadata"
	KindTableInfo      = "table_info"
	KindUserTableKey   = "user_table_key"
	KindActionTable    = "action_table"
)

// Cache holds the table metadata of every database in the process. One
// instance is shared by all engines; state is partitioned and locked per
// database name.
//
// Loaders run without any cache lock held. When two callers load the same
// value concurrently the first stored value wins.
type Cache struct {
	mu       sync.Mutex
	dbs      map[string]*dbCache
	observer Observer
}

type userTable struct {
	user  string
	table string
}

type dbCache struct {
	mu sync.Mutex

	logicalTables  []string
	logicalLoaded  bool
	physicalTables []string
	physicalLoaded bool

	metadata       map[string][]model.TableMetadata
	metadataLoaded bool
	tables         map[string]*model.TableInfo

	userTableKeys map[userTable]model.UserTableKey
	actionTables  map[userTable]model.ActionTable
}

// Option configures a Cache
type Option func(*Cache)

// WithObserver reports lookups, for example to metrics
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		c.observer = o
	}
}

// New creates an empty cache
func New(opts ...Option) *Cache {
	c := &Cache{dbs: make(map[string]*dbCache)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) entry(db string) *dbCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.dbs[db]
	if !ok {
		e = &dbCache{
			metadata:      make(map[string][]model.TableMetadata),
			tables:        make(map[string]*model.TableInfo),
			userTableKeys: make(map[userTable]model.UserTableKey),
			actionTables:  make(map[userTable]model.ActionTable),
		}
		c.dbs[db] = e
	}
	return e
}

func (c *Cache) observe(kind string, hit bool) {
	if c.observer != nil {
		c.observer(kind, hit)
	}
}

// ContainsDatabase reports whether anything is cached for db
func (c *Cache) ContainsDatabase(db string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dbs[db]
	return ok
}

// RemoveDatabase forgets everything cached for db
func (c *Cache) RemoveDatabase(db string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dbs, db)
}

// LogicalTables returns the sorted logical tables of db
func (c *Cache) LogicalTables(db string, load Loader[[]string]) ([]string, error) {
	e := c.entry(db)
	e.mu.Lock()
	if e.logicalLoaded {
		out := copyStrings(e.logicalTables)
		e.mu.Unlock()
		c.observe(KindLogicalTables, true)
		return out, nil
	}
	e.mu.Unlock()
	c.observe(KindLogicalTables, false)

	tables, err := load()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.logicalLoaded {
		e.logicalTables = sortedCopy(tables)
		e.logicalLoaded = true
	}
	return copyStrings(e.logicalTables), nil
}

// AddLogicalTable records a new logical table if the list is loaded
func (c *Cache) AddLogicalTable(db, table string) {
	e := c.entry(db)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.logicalLoaded {
		e.logicalTables = insertSorted(e.logicalTables, table)
	}
}

// RemoveLogicalTable forgets a logical table with its metadata, user
// table keys and action tables.
func (c *Cache) RemoveLogicalTable(db, table string) {
	e := c.entry(db)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logicalTables = removeString(e.logicalTables, table)
	delete(e.metadata, table)
	delete(e.tables, table)
	for k := range e.userTableKeys {
		if k.table == table {
			delete(e.userTableKeys, k)
		}
	}
	for k := range e.actionTables {
		if k.table == table {
			delete(e.actionTables, k)
		}
	}
}

// PhysicalTables returns the sorted physical tables of db
func (c *Cache) PhysicalTables(db string, load Loader[[]string]) ([]string, error) {
	e := c.entry(db)
	e.mu.Lock()
	if e.physicalLoaded {
		out := copyStrings(e.physicalTables)
		e.mu.Unlock()
		c.observe(KindPhysicalTables, true)
		return out, nil
	}
	e.mu.Unlock()
	c.observe(KindPhysicalTables, false)

	tables, err := load()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.physicalLoaded {
		e.physicalTables = sortedCopy(tables)
		e.physicalLoaded = true
	}
	return copyStrings(e.physicalTables), nil
}

// HasPhysicalTable reports whether table exists in db
func (c *Cache) HasPhysicalTable(db, table string, load Loader[[]string]) (bool, error) {
	tables, err := c.PhysicalTables(db, load)
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(tables, table)
	return i < len(tables) && tables[i] == table, nil
}

// AddPhysicalTable records a created physical table if the list is loaded
func (c *Cache) AddPhysicalTable(db, table string) {
	e := c.entry(db)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.physicalLoaded {
		e.physicalTables = insertSorted(e.physicalTables, table)
	}
}

// RemovePhysicalTable forgets a dropped physical table
func (c *Cache) RemovePhysicalTable(db, table string) {
	e := c.entry(db)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.physicalTables = removeString(e.physicalTables, table)
}

// TableMetadata returns the metadata rows of table. loadAll reads the rows
// of every table in db and is called at most once per database unless the
// load fails.
func (c *Cache) TableMetadata(db, table string, loadAll Loader[[]model.TableMetadata]) ([]model.TableMetadata, error) {
	e := c.entry(db)
	e.mu.Lock()
	if e.metadataLoaded {
		out := copyMetadata(e.metadata[table])
		e.mu.Unlock()
		c.observe(KindTableMetadata, true)
		return out, nil
	}
	e.mu.Unlock()
	c.observe(KindTableMetadata, false)

	rows, err := loadAll()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.metadataLoaded {
		loaded := make(map[string][]model.TableMetadata)
		for _, row := range rows {
			loaded[row.Table] = append(loaded[row.Table], row)
		}
		// rows set explicitly before the load are newer
		for t, metas := range loaded {
			if _, ok := e.metadata[t]; !ok {
				e.metadata[t] = metas
			}
		}
		e.metadataLoaded = true
	}
	return copyMetadata(e.metadata[table]), nil
}

// SetTableMetadata replaces the cached metadata rows of table
func (c *Cache) SetTableMetadata(db, table string, metas []model.TableMetadata) {
	e := c.entry(db)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metadata[table] = copyMetadata(metas)
}

// TableInfo returns the schema of table decoded from its metadata, or nil
// if the table has no metadata.
func (c *Cache) TableInfo(db, table string, loadAll Loader[[]model.TableMetadata]) (*model.TableInfo, error) {
	e := c.entry(db)
	e.mu.Lock()
	if info, ok := e.tables[table]; ok {
		out := info.Clone()
		e.mu.Unlock()
		c.observe(KindTableInfo, true)
		return out, nil
	}
	e.mu.Unlock()
	c.observe(KindTableInfo, false)

	metas, err := c.TableMetadata(db, table, loadAll)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, nil
	}
	info, err := model.ParseTableInfo(metas)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.tables[table]; ok {
		return cached.Clone(), nil
	}
	e.tables[table] = info
	return info.Clone(), nil
}

// HasTableInfo reports whether the schema of table is cached
func (c *Cache) HasTableInfo(db, table string) bool {
	e := c.entry(db)
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tables[table]
	return ok
}

// PutTableInfo caches the schema of table unless one is cached already.
// It reports whether info was stored.
func (c *Cache) PutTableInfo(db, table string, info *model.TableInfo) bool {
	e := c.entry(db)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[table]; ok {
		return false
	}
	e.tables[table] = info.Clone()
	return true
}

// UserTableKey returns the shard key of (user, table). A loader returning
// nil is not cached.
func (c *Cache) UserTableKey(db, user, table string, load Loader[*model.UserTableKey]) (*model.UserTableKey, error) {
	k := userTable{user: user, table: table}
	e := c.entry(db)
	e.mu.Lock()
	if key, ok := e.userTableKeys[k]; ok {
		e.mu.Unlock()
		c.observe(KindUserTableKey, true)
		return &key, nil
	}
	e.mu.Unlock()
	c.observe(KindUserTableKey, false)

	key, err := load()
	if err != nil || key == nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.userTableKeys[k]; ok {
		return &cached, nil
	}
	e.userTableKeys[k] = *key
	out := *key
	return &out, nil
}

// ActionTable returns the action log shard of (user, table)
func (c *Cache) ActionTable(db, user, table string, load Loader[model.ActionTable]) (model.ActionTable, error) {
	k := userTable{user: user, table: table}
	e := c.entry(db)
	e.mu.Lock()
	if at, ok := e.actionTables[k]; ok {
		e.mu.Unlock()
		c.observe(KindActionTable, true)
		return at, nil
	}
	e.mu.Unlock()
	c.observe(KindActionTable, false)

	at, err := load()
	if err != nil {
		return model.ActionTable{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.actionTables[k]; ok {
		return cached, nil
	}
	e.actionTables[k] = at
	return at, nil
}

// RemoveUserTable forgets the shard key and action table of (user, table)
func (c *Cache) RemoveUserTable(db, user, table string) {
	k := userTable{user: user, table: table}
	e := c.entry(db)
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.userTableKeys, k)
	delete(e.actionTables, k)
}

func copyStrings(s []string) []string {
	return append([]string{}, s...)
}

func sortedCopy(s []string) []string {
	out := copyStrings(s)
	sort.Strings(out)
	return out
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	if i < len(s) && s[i] == v {
		return s
	}
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, item := range s {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}

func copyMetadata(metas []model.TableMetadata) []model.TableMetadata {
	if metas == nil {
		return nil
	}
	return append([]model.TableMetadata{}, metas...)
}

// HasTablePrefix reports whether physical belongs to logical, i.e. equals
// it or is one of its user shards.
func HasTablePrefix(physical, logical string) bool {
	return physical == logical || strings.HasPrefix(physical, logical+model.TableTokenSeparator)
}

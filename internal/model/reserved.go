package model

import "strings"

// Reserved table names. Tables whose name starts with "_" hold engine
// bookkeeping and are never logged or split by user.
const (
	TableMetadataTable = "_table_metadata"
	UserTableKeyTable  = "_user_table_keys"
	SyncProgressTable  = "_sync_progress"
	ActionLogTable     = "_action_log"

	// ActionLogPrefix prefixes every per-user action log shard
	ActionLogPrefix = ActionLogTable + "_"

	// TableTokenSeparator separates a logical table name from a user key
	TableTokenSeparator = "__"
)

// Metadata keys stored in the table metadata table
const (
	MetaVersion         = "version"
	MetaFields          = "fields"
	MetaDataClass       = "data_class"
	MetaCompoundIndexes = "compound_indexes"
	MetaSplitByUser     = "split_by_user"
)

// SourceLocal is the source of mutations made by this process
const SourceLocal = "local"

// IsReserved reports whether table is an engine bookkeeping table
func IsReserved(table string) bool {
	return strings.HasPrefix(table, "_")
}

// ShardName returns the physical table of one user's shard
func ShardName(table, key string) string {
	return table + TableTokenSeparator + key
}

// ActionShardName returns the action log shard for a user table key
func ActionShardName(key string) string {
	return ActionLogPrefix + key
}

// TableMetadata is one (table, key, value) metadata row
type TableMetadata struct {
	Base
	Table string
	Key   string
	Value string
}

func (m *TableMetadata) RecordType() *RecordType { return TableMetadataType }

// TableMetadataType describes the _table_metadata rows
var TableMetadataType = Define("TableMetadata", func() *TableMetadata { return &TableMetadata{} }).
	Field("table", ColumnString, func(m *TableMetadata) any { return &m.Table }, Indexed).
	Field("key", ColumnString, func(m *TableMetadata) any { return &m.Key }).
	Field("value", ColumnText, func(m *TableMetadata) any { return &m.Value }).
	MustBuild()

// FindMetadata returns the metadata row with the given key
func FindMetadata(metas []TableMetadata, key string) (TableMetadata, bool) {
	for _, m := range metas {
		if m.Key == key {
			return m, true
		}
	}
	return TableMetadata{}, false
}

// UserTableKey assigns the random key of one user's shard of a table
type UserTableKey struct {
	Base
	User  string
	Table string
	Key   string
}

func (k *UserTableKey) RecordType() *RecordType { return UserTableKeyType }

// UserTableKeyType describes the _user_table_keys rows
var UserTableKeyType = Define("UserTableKey", func() *UserTableKey { return &UserTableKey{} }).
	Field("user", ColumnString, func(k *UserTableKey) any { return &k.User }, Indexed).
	Field("table", ColumnString, func(k *UserTableKey) any { return &k.Table }).
	Field("key", ColumnString, func(k *UserTableKey) any { return &k.Key }).
	MustBuild()

// SyncProgress records how far a user's table was synchronized
type SyncProgress struct {
	Base
	Table string
	User  string
	Time  int64
	Order int32
}

func (p *SyncProgress) RecordType() *RecordType { return SyncProgressType }

// SyncProgressType describes the _sync_progress rows
var SyncProgressType = Define("SyncProgress", func() *SyncProgress { return &SyncProgress{} }).
	Field("table", ColumnString, func(p *SyncProgress) any { return &p.Table }).
	Field("user", ColumnString, func(p *SyncProgress) any { return &p.User }, Indexed).
	Field("time", ColumnLong, func(p *SyncProgress) any { return &p.Time }).
	Field("order", ColumnInt, func(p *SyncProgress) any { return &p.Order }).
	MustBuild()

// ActionTable is the action log shard of one user's table
type ActionTable struct {
	Name string
	Key  UserTableKey
}

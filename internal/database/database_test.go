package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devrev/recordstore/internal/actionlog"
	"github.com/devrev/recordstore/internal/backend/memdb"
	"github.com/devrev/recordstore/internal/cache"
	"github.com/devrev/recordstore/internal/criteria"
	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/metrics"
	"github.com/devrev/recordstore/internal/model"
	"github.com/devrev/recordstore/internal/util/keylock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sample struct {
	model.Base
	User    string
	UTCTime int64
	Value   string
}

func (s *sample) RecordType() *model.RecordType { return sampleType }

var sampleType = model.Define("databaseTestSample", func() *sample { return &sample{} }).
	Field("user", model.ColumnString, func(s *sample) any { return &s.User }, model.Indexed).
	Field("utcTime", model.ColumnLong, func(s *sample) any { return &s.UTCTime }).
	Field("value", model.ColumnString, func(s *sample) any { return &s.Value }).
	MustBuild()

var shardPattern = regexp.MustCompile(`^events__[0-9a-f]{8}$`)

func samplesDef() BaseTableDef {
	return NewBaseTableDef("samples", sampleType, 0, false)
}

func eventsDef() BaseTableDef {
	return NewBaseTableDef("events", sampleType, 0, true, model.NewIndex("userTime", "user", "utcTime"))
}

func newTestDatabase(t *testing.T, b *memdb.Backend, opts ...Option) *Database {
	t.Helper()
	base := []Option{
		WithLogger(zap.NewNop()),
		WithLocks(keylock.New()),
		WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())),
	}
	return New("testdb", b, cache.New(), append(base, opts...)...)
}

func openTestDatabase(t *testing.T, b *memdb.Backend, defs []TableDef, opts ...Option) *Database {
	t.Helper()
	d := newTestDatabase(t, b, opts...)
	require.NoError(t, d.Open(context.Background(), defs, false))
	return d
}

type actionRecorder struct {
	mu      sync.Mutex
	actions []*model.DatabaseAction
}

func (r *actionRecorder) OnAddDatabaseActions(database, table string, actions []*model.DatabaseAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, actions...)
}

func (r *actionRecorder) all() []*model.DatabaseAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.DatabaseAction(nil), r.actions...)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.UnixMilli(ms)
}

func versionOf(t *testing.T, d *Database, table string) string {
	t.Helper()
	metas, err := SelectAs[*model.TableMetadata](context.Background(), d, model.TableMetadataTable, model.TableMetadataType,
		criteria.And(criteria.Equal("table", table), criteria.Equal("key", model.MetaVersion)), 0, nil)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	return metas[0].Value
}

func TestOpen_CreatesReservedTables(t *testing.T) {
	ctx := context.Background()
	b := memdb.New(zap.NewNop())
	d := openTestDatabase(t, b, []TableDef{samplesDef(), eventsDef()})

	assert.True(t, d.Initialised())

	dbTables, err := d.SelectDbTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"_sync_progress", "_table_metadata", "_user_table_keys", "samples"}, dbTables)

	tables, err := d.SelectTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"_action_log", "_sync_progress", "_table_metadata", "_user_table_keys", "events", "samples"}, tables)

	assert.Equal(t, "0", versionOf(t, d, "samples"))
	assert.Equal(t, "3", versionOf(t, d, model.TableMetadataTable))
	assert.Equal(t, "9", versionOf(t, d, model.ActionLogTable))
}

func TestInitTable_Idempotent(t *testing.T) {
	ctx := context.Background()
	b := memdb.New(zap.NewNop())
	defs := []TableDef{samplesDef(), eventsDef()}
	d := openTestDatabase(t, b, defs)
	rows := b.Len(model.TableMetadataTable)

	require.NoError(t, d.InitTable(ctx, samplesDef()))
	require.NoError(t, d.Open(ctx, defs, false))
	assert.Equal(t, rows, b.Len(model.TableMetadataTable))

	restarted := openTestDatabase(t, b, defs)
	assert.Equal(t, rows, b.Len(model.TableMetadataTable))
	tables, err := restarted.SelectDbTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"_sync_progress", "_table_metadata", "_user_table_keys", "samples"}, tables)
}

func TestInitTable_RejectsInvalidDefinitions(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t, memdb.New(zap.NewNop()))

	tests := []struct {
		name string
		def  TableDef
	}{
		{"reserved name", NewBaseTableDef("_private", sampleType, 0, false)},
		{"built-in sync progress name", NewBaseTableDef(model.SyncProgressTable, sampleType, 0, false)},
		{"built-in user key name", NewBaseTableDef(model.UserTableKeyTable, model.UserTableKeyType, 0, false)},
		{"built-in action log name", NewBaseTableDef(model.ActionLogTable, sampleType, 9, false)},
		{"built-in metadata name", NewBaseTableDef(model.TableMetadataTable, sampleType, 3, false)},
		{"upper case", NewBaseTableDef("Samples", sampleType, 0, false)},
		{"separator", NewBaseTableDef("sam__ples", sampleType, 0, false)},
		{"no record type", NewBaseTableDef("samples", nil, 0, false)},
		{"unknown index field", NewBaseTableDef("samples", sampleType, 0, false, model.NewIndex("bad", "missing"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.InitTable(ctx, tt.def)
			require.Error(t, err)
			assert.True(t, dberrors.IsSchema(err), "got %v", err)
		})
	}
}

func TestSplitByUser_DistinctStableShards(t *testing.T) {
	ctx := context.Background()
	b := memdb.New(zap.NewNop())
	d := openTestDatabase(t, b, []TableDef{eventsDef()})

	require.NoError(t, d.Insert(ctx, "events", &sample{User: "alice", UTCTime: 1, Value: "a"}))
	require.NoError(t, d.Insert(ctx, "events", &sample{User: "bob", UTCTime: 2, Value: "b"}))

	alice, err := d.ResolvePhysicalTable(ctx, "events", "alice")
	require.NoError(t, err)
	again, err := d.ResolvePhysicalTable(ctx, "events", "alice")
	require.NoError(t, err)
	bob, err := d.ResolvePhysicalTable(ctx, "events", "bob")
	require.NoError(t, err)

	assert.Equal(t, alice, again)
	assert.NotEqual(t, alice, bob)
	assert.Regexp(t, shardPattern, alice)
	assert.Regexp(t, shardPattern, bob)
	assert.Equal(t, 1, b.Len(alice))
	assert.Equal(t, 1, b.Len(bob))

	objs, err := SelectAs[*sample](ctx, d, "events", sampleType, criteria.Equal("user", "alice"), 0, nil)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "a", objs[0].Value)
	assert.Equal(t, "alice", objs[0].User)

	n, err := d.Count(ctx, "events", sampleType, criteria.And(criteria.Equal("user", "bob"), criteria.Equal("value", "b")))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSplitByUser_UpdateAndDeleteObject(t *testing.T) {
	ctx := context.Background()
	d := openTestDatabase(t, memdb.New(zap.NewNop()), []TableDef{eventsDef()})

	obj := &sample{User: "alice", UTCTime: 1, Value: "a"}
	require.NoError(t, d.Insert(ctx, "events", obj))
	require.NotEmpty(t, obj.ID)

	obj.Value = "changed"
	require.NoError(t, d.UpdateObject(ctx, "events", obj))
	got, err := d.SelectOne(ctx, "events", sampleType, criteria.Equal("user", "alice"), nil)
	require.NoError(t, err)
	assert.Equal(t, "changed", got.(*sample).Value)

	require.NoError(t, d.DeleteObject(ctx, "events", obj))
	got, err = d.SelectOne(ctx, "events", sampleType, criteria.Equal("user", "alice"), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSplitByUser_ShardingErrors(t *testing.T) {
	ctx := context.Background()
	d := openTestDatabase(t, memdb.New(zap.NewNop()), []TableDef{eventsDef()})

	err := d.InsertRecords(ctx, "events", []model.Record{{"utcTime": int64(1)}})
	assert.True(t, dberrors.IsSharding(err), "missing user: %v", err)

	err = d.InsertRecords(ctx, "events", []model.Record{{"user": ""}})
	assert.True(t, dberrors.IsSharding(err), "empty user: %v", err)

	err = d.InsertRecords(ctx, "events", []model.Record{{"user": "alice"}, {"user": "bob"}})
	assert.True(t, dberrors.IsSharding(err), "mixed users: %v", err)

	_, err = d.SelectRecords(ctx, "events", sampleType, criteria.Equal("value", "x"), 0, nil)
	assert.True(t, dberrors.IsSharding(err), "select without user: %v", err)

	err = d.Update(ctx, "events", sampleType, criteria.Equal("user", "alice"), model.Record{"user": "bob"})
	assert.True(t, dberrors.IsSharding(err), "conflicting users: %v", err)

	err = d.Update(ctx, "events", sampleType, nil, model.Record{"value": "x"})
	assert.True(t, dberrors.IsSharding(err), "update without user: %v", err)

	_, err = d.ResolvePhysicalTable(ctx, "events", "")
	assert.True(t, dberrors.IsSharding(err), "resolve without user: %v", err)
}

func TestUnknownTable(t *testing.T) {
	ctx := context.Background()
	d := openTestDatabase(t, memdb.New(zap.NewNop()), []TableDef{samplesDef()})

	_, err := d.SelectRecords(ctx, "missing", nil, nil, 0, nil)
	assert.True(t, dberrors.IsTableNotFound(err), "got %v", err)
}

func TestUpdate_RejectsID(t *testing.T) {
	ctx := context.Background()
	d := openTestDatabase(t, memdb.New(zap.NewNop()), []TableDef{samplesDef()})

	err := d.Update(ctx, "samples", sampleType, nil, model.Record{"id": "other"})
	require.Error(t, err)
	assert.Equal(t, dberrors.ErrCodeInvalidArgument, dberrors.GetCode(err))
}

func TestActionLog_UpdateThenDeleteInSameMillisecond(t *testing.T) {
	ctx := context.Background()
	clock := &stepClock{}
	clock.Set(1000)
	d := openTestDatabase(t, memdb.New(zap.NewNop()), []TableDef{samplesDef()},
		WithSyncEnabled(true), WithClock(clock.Now))
	recorder := &actionRecorder{}
	d.Listeners().AddActionListener(d.Name(), recorder)

	obj := &sample{User: "alice", UTCTime: 42, Value: "a"}
	require.NoError(t, d.Insert(ctx, "samples", obj))

	clock.Set(2000)
	require.NoError(t, d.Update(ctx, "samples", sampleType, criteria.Equal("id", obj.ID), model.Record{"value": "b"}))
	require.NoError(t, d.Delete(ctx, "samples", sampleType, criteria.Equal("id", obj.ID)))

	actions := recorder.all()
	require.Len(t, actions, 3)
	assert.Equal(t, model.ActionInsert, actions[0].Action)
	assert.Equal(t, int64(1000), actions[0].Time)
	require.NotNil(t, actions[0].JSONData)
	require.NotNil(t, actions[0].SampleTime)
	assert.Equal(t, int64(42), *actions[0].SampleTime)

	update, del := actions[1], actions[2]
	assert.Equal(t, model.ActionUpdate, update.Action)
	assert.Equal(t, model.ActionDelete, del.Action)
	assert.Equal(t, update.Time, del.Time)
	assert.Equal(t, int32(0), update.Order)
	assert.Equal(t, int32(1), del.Order)
	assert.Nil(t, del.JSONData)
	assert.Equal(t, obj.ID, del.RecordID)
	require.NotNil(t, del.User)
	assert.Equal(t, "alice", *del.User)
}

func TestActionLog_MonotonicUnderClockSkew(t *testing.T) {
	ctx := context.Background()
	clock := &stepClock{}
	d := openTestDatabase(t, memdb.New(zap.NewNop()), []TableDef{samplesDef()},
		WithSyncEnabled(true), WithClock(clock.Now))
	recorder := &actionRecorder{}
	d.Listeners().AddActionListener(d.Name(), recorder)

	for _, ms := range []int64{5000, 3000, 3000, 6000} {
		clock.Set(ms)
		require.NoError(t, d.Insert(ctx, "samples", &sample{User: "alice", Value: "v"}))
	}
	clock.Set(4000)
	require.NoError(t, d.Insert(ctx, "samples",
		&sample{User: "alice", Value: "x"}, &sample{User: "alice", Value: "y"}))

	actions := recorder.all()
	require.Len(t, actions, 6)
	want := []struct {
		time  int64
		order int32
	}{{5000, 0}, {5000, 1}, {5000, 2}, {6000, 0}, {6000, 1}, {6000, 2}}
	for i, w := range want {
		assert.Equal(t, w.time, actions[i].Time, "time of action %d", i)
		assert.Equal(t, w.order, actions[i].Order, "order of action %d", i)
	}
}

func TestActionLog_MergeFoldsUpdatesIntoInsert(t *testing.T) {
	ctx := context.Background()
	clock := &stepClock{}
	clock.Set(1000)
	d := openTestDatabase(t, memdb.New(zap.NewNop()), []TableDef{samplesDef()},
		WithSyncEnabled(true), WithClock(clock.Now))

	obj := &sample{User: "alice", UTCTime: 1, Value: "a"}
	require.NoError(t, d.Insert(ctx, "samples", obj))
	clock.Set(2000)
	require.NoError(t, d.Update(ctx, "samples", sampleType, criteria.Equal("id", obj.ID), model.Record{"value": "b"}))
	clock.Set(3000)
	require.NoError(t, d.Update(ctx, "samples", sampleType, criteria.Equal("id", obj.ID), model.Record{"value": "c"}))

	at, err := d.actionTable(ctx, "alice", "samples")
	require.NoError(t, err)
	history, err := SelectAs[*model.DatabaseAction](ctx, d, at.Name, model.DatabaseActionType, nil, 0, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.ActionInsert, history[0].Action)
	assert.Equal(t, int64(3000), history[0].Time)
	require.NotNil(t, history[0].JSONData)
	assert.JSONEq(t, `{"id":"`+obj.ID+`","user":"alice","utcTime":1,"value":"c"}`, *history[0].JSONData)
}

type failingMerger struct{}

func (failingMerger) MergeRecordActions(ctx context.Context, store actionlog.Store, table model.ActionTable, actions []*model.DatabaseAction) error {
	return assert.AnError
}

func TestActionLog_MergeErrorIsReported(t *testing.T) {
	ctx := context.Background()
	d := openTestDatabase(t, memdb.New(zap.NewNop()), []TableDef{samplesDef()},
		WithSyncEnabled(true), WithMerger(failingMerger{}))

	obj := &sample{User: "alice", Value: "a"}
	require.NoError(t, d.Insert(ctx, "samples", obj))
	err := d.Update(ctx, "samples", sampleType, criteria.Equal("id", obj.ID), model.Record{"value": "b"})
	require.Error(t, err)
	assert.True(t, dberrors.IsMerge(err), "got %v", err)

	// the data write is kept
	got, err := d.SelectOne(ctx, "samples", sampleType, criteria.Equal("id", obj.ID), nil)
	require.NoError(t, err)
	assert.Equal(t, "b", got.(*sample).Value)
}

func TestActionLog_Disabled(t *testing.T) {
	ctx := context.Background()
	b := memdb.New(zap.NewNop())
	d := openTestDatabase(t, b, []TableDef{samplesDef()})

	require.NoError(t, d.Insert(ctx, "samples", &sample{User: "alice"}))
	tables, err := d.SelectDbTables(ctx)
	require.NoError(t, err)
	for _, table := range tables {
		assert.NotContains(t, table, model.ActionLogPrefix)
	}
}

func TestActionLog_RemoteSource(t *testing.T) {
	ctx := context.Background()
	d := openTestDatabase(t, memdb.New(zap.NewNop()), []TableDef{samplesDef()},
		WithSyncEnabled(true), WithSaveSyncedRemoteActions(false))
	recorder := &actionRecorder{}
	d.Listeners().AddActionListener(d.Name(), recorder)

	require.NoError(t, d.InsertRecords(ctx, "samples", []model.Record{{"user": "alice"}}, WithSource("remote")))
	assert.Empty(t, recorder.all())

	d.SetSaveSyncedRemoteActions(true)
	require.NoError(t, d.InsertRecords(ctx, "samples", []model.Record{{"user": "alice"}}, WithSource("remote")))
	actions := recorder.all()
	require.Len(t, actions, 1)
	assert.Equal(t, "remote", actions[0].Source)
}

type upgradingDef struct {
	BaseTableDef
	calls *[]int
}

func (d upgradingDef) UpgradeTable(ctx context.Context, version int, db *Database, physTable string) (int, error) {
	*d.calls = append(*d.calls, version)
	return version + 1, nil
}

func TestUpgrade_AcrossRestart(t *testing.T) {
	b := memdb.New(zap.NewNop())
	var calls []int
	def := func(version int) TableDef {
		return upgradingDef{BaseTableDef: NewBaseTableDef("samples", sampleType, version, false), calls: &calls}
	}

	d := openTestDatabase(t, b, []TableDef{def(0)})
	assert.Equal(t, "0", versionOf(t, d, "samples"))
	assert.Empty(t, calls)

	d = openTestDatabase(t, b, []TableDef{def(1)})
	assert.Equal(t, "1", versionOf(t, d, "samples"))

	d = openTestDatabase(t, b, []TableDef{def(2)})
	assert.Equal(t, "2", versionOf(t, d, "samples"))
	assert.Equal(t, []int{0, 1}, calls)

	calls = nil
	fresh := memdb.New(zap.NewNop())
	openTestDatabase(t, fresh, []TableDef{def(0)})
	d = openTestDatabase(t, fresh, []TableDef{def(2)})
	assert.Equal(t, "2", versionOf(t, d, "samples"))
	assert.Equal(t, []int{0, 1}, calls)
}

func TestPurgeUserTable(t *testing.T) {
	ctx := context.Background()
	b := memdb.New(zap.NewNop())
	d := openTestDatabase(t, b, []TableDef{samplesDef()}, WithSyncEnabled(true))

	require.NoError(t, d.Insert(ctx, "samples", &sample{User: "alice", Value: "a1"}, &sample{User: "alice", Value: "a2"}))
	require.NoError(t, d.Insert(ctx, "samples", &sample{User: "bob", Value: "b1"}))
	require.NoError(t, d.Insert(ctx, model.SyncProgressTable,
		&model.SyncProgress{Table: "samples", User: "alice", Time: 1},
		&model.SyncProgress{Table: "samples", User: "bob", Time: 1}))

	aliceLog, err := d.actionTable(ctx, "alice", "samples")
	require.NoError(t, err)
	bobLog, err := d.actionTable(ctx, "bob", "samples")
	require.NoError(t, err)
	require.Equal(t, 2, b.Len(aliceLog.Name))

	require.NoError(t, d.PurgeUserTable(ctx, "samples", "alice"))

	count := func(table string, c criteria.Criteria) int {
		n, err := d.Count(ctx, table, nil, c)
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 0, count("samples", criteria.Equal("user", "alice")))
	assert.Equal(t, 1, count("samples", criteria.Equal("user", "bob")))
	assert.Equal(t, 0, count(model.SyncProgressTable, criteria.Equal("user", "alice")))
	assert.Equal(t, 1, count(model.SyncProgressTable, criteria.Equal("user", "bob")))
	assert.Equal(t, 0, b.Len(aliceLog.Name))
	assert.Equal(t, 1, b.Len(bobLog.Name))
	// the key survives a table purge
	assert.Equal(t, 1, count(model.UserTableKeyTable, criteria.Equal("user", "alice")))
}

func TestPurgeUser_DropsUserShards(t *testing.T) {
	ctx := context.Background()
	b := memdb.New(zap.NewNop())
	d := openTestDatabase(t, b, []TableDef{samplesDef(), eventsDef()}, WithSyncEnabled(true))

	require.NoError(t, d.Insert(ctx, "events", &sample{User: "alice", Value: "a"}))
	require.NoError(t, d.Insert(ctx, "events", &sample{User: "bob", Value: "b"}))
	require.NoError(t, d.Insert(ctx, "samples", &sample{User: "alice", Value: "a"}))

	aliceShard, err := d.ResolvePhysicalTable(ctx, "events", "alice")
	require.NoError(t, err)
	bobShard, err := d.ResolvePhysicalTable(ctx, "events", "bob")
	require.NoError(t, err)
	aliceLog, err := d.actionTable(ctx, "alice", "events")
	require.NoError(t, err)

	require.NoError(t, d.PurgeUser(ctx, "alice"))

	tables, err := d.SelectDbTables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tables, aliceShard)
	assert.NotContains(t, tables, aliceLog.Name)
	assert.Contains(t, tables, bobShard)

	n, err := d.Count(ctx, model.UserTableKeyTable, nil, criteria.Equal("user", "alice"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = d.Count(ctx, "samples", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// a purged user gets a new shard on the next write
	require.NoError(t, d.Insert(ctx, "events", &sample{User: "alice", Value: "again"}))
	shard, err := d.ResolvePhysicalTable(ctx, "events", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len(shard))
}

func TestOpen_DropOldTables(t *testing.T) {
	ctx := context.Background()
	b := memdb.New(zap.NewNop())
	d := openTestDatabase(t, b, []TableDef{samplesDef(), eventsDef()}, WithSyncEnabled(true))
	require.NoError(t, d.Insert(ctx, "events", &sample{User: "alice"}))
	shard, err := d.ResolvePhysicalTable(ctx, "events", "alice")
	require.NoError(t, err)
	at, err := d.actionTable(ctx, "alice", "events")
	require.NoError(t, err)

	reopened := newTestDatabase(t, b)
	require.NoError(t, reopened.Open(ctx, []TableDef{samplesDef()}, true))

	tables, err := reopened.SelectTables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tables, "events")
	dbTables, err := reopened.SelectDbTables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, dbTables, shard)
	assert.NotContains(t, dbTables, at.Name)
	n, err := reopened.Count(ctx, model.UserTableKeyTable, nil, criteria.Equal("table", "events"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

type splittingDef struct {
	BaseTableDef
	batchSize int
}

func (d splittingDef) UpgradeTable(ctx context.Context, version int, db *Database, physTable string) (int, error) {
	if version == 0 && physTable == d.Name() {
		if err := NewTableSplitter(db, WithBatchSize(d.batchSize)).Split(ctx, d); err != nil {
			return 0, err
		}
	}
	return version + 1, nil
}

func TestTableSplitter_MovesRecordsToUserShards(t *testing.T) {
	ctx := context.Background()
	b := memdb.New(zap.NewNop())
	d := openTestDatabase(t, b, []TableDef{NewBaseTableDef("events", sampleType, 0, false)})

	records := []model.Record{
		{"user": "alice", "utcTime": int64(1), "value": "a1"},
		{"user": "alice", "utcTime": int64(2), "value": "a2"},
		{"user": "bob", "utcTime": int64(2), "value": "b2"},
		{"user": "alice", "utcTime": int64(3), "value": "a3"},
		{"user": "bob", "utcTime": int64(5), "value": "b5"},
		{"user": "alice", "utcTime": int64(8), "value": "a8"},
		{"user": "carol", "utcTime": int64(9), "value": "c9"},
	}
	require.NoError(t, d.InsertRecords(ctx, "events", records))

	split := splittingDef{BaseTableDef: NewBaseTableDef("events", sampleType, 1, true), batchSize: 3}
	d = openTestDatabase(t, b, []TableDef{split})

	dbTables, err := d.SelectDbTables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, dbTables, "events")

	want := map[string][]string{
		"alice": {"a1", "a2", "a3", "a8"},
		"bob":   {"b2", "b5"},
		"carol": {"c9"},
	}
	for user, values := range want {
		objs, err := SelectAs[*sample](ctx, d, "events", sampleType, criteria.Equal("user", user), 0,
			criteria.Sort{criteria.Asc("utcTime")})
		require.NoError(t, err)
		got := make([]string, len(objs))
		for i, obj := range objs {
			got[i] = obj.Value
		}
		assert.Equal(t, values, got, "records of %s", user)
	}
	assert.Equal(t, "1", versionOf(t, d, "events"))
}

func TestTableSplitter_MissingTableIsNoop(t *testing.T) {
	ctx := context.Background()
	d := openTestDatabase(t, memdb.New(zap.NewNop()), []TableDef{samplesDef()})
	err := NewTableSplitter(d, WithBatchRate(100)).Split(ctx, NewBaseTableDef("absent", sampleType, 1, true))
	assert.NoError(t, err)
}

func TestTableSplitter_EngineDefaults(t *testing.T) {
	d := newTestDatabase(t, memdb.New(zap.NewNop()), WithSplitterDefaults(WithBatchSize(50), WithBatchRate(10)))

	s := NewTableSplitter(d)
	assert.Equal(t, 50, s.batchSize)
	require.NotNil(t, s.limiter)

	s = NewTableSplitter(d, WithBatchSize(7), WithBatchRate(0))
	assert.Equal(t, 7, s.batchSize)
	assert.Nil(t, s.limiter)
}

func TestOpen_WithoutDefinitions(t *testing.T) {
	ctx := context.Background()
	d := openTestDatabase(t, memdb.New(zap.NewNop()), nil)

	assert.True(t, d.Initialised())
	dbTables, err := d.SelectDbTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"_sync_progress", "_table_metadata", "_user_table_keys"}, dbTables)
}

func TestSplitByUser_UnregisteredRecordType(t *testing.T) {
	ctx := context.Background()
	b := memdb.New(zap.NewNop())
	d := openTestDatabase(t, b, []TableDef{eventsDef()})
	require.NoError(t, d.Insert(ctx, "events", &sample{User: "alice", UTCTime: 1, Value: "a"}))
	alice, err := d.ResolvePhysicalTable(ctx, "events", "alice")
	require.NoError(t, err)

	// a process that does not know the record type of events
	require.NoError(t, b.UpdateRecords(ctx, model.TableMetadataTable, nil,
		criteria.And(criteria.Equal("table", "events"), criteria.Equal("key", model.MetaDataClass)),
		model.Record{"value": "unregisteredSample"}))
	other := openTestDatabase(t, b, nil)

	got, err := other.ResolvePhysicalTable(ctx, "events", "alice")
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = other.ResolvePhysicalTable(ctx, "events", "bob")
	assert.True(t, dberrors.IsSchema(err), "got %v", err)
	n, err := other.Count(ctx, model.UserTableKeyTable, model.UserTableKeyType, criteria.Equal("user", "bob"))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, other.PurgeUserTable(ctx, "events", "alice"))
	assert.Equal(t, 0, b.Len(alice))
}

func TestSplitByUser_ConcurrentFirstWrites(t *testing.T) {
	ctx := context.Background()
	b := memdb.New(zap.NewNop())
	d := openTestDatabase(t, b, []TableDef{eventsDef()}, WithSyncEnabled(true))

	const writers = 32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- d.Insert(ctx, "events", &sample{User: "alice", UTCTime: int64(i), Value: "v"})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	dbTables, err := d.SelectDbTables(ctx)
	require.NoError(t, err)
	var shards, actionShards []string
	for _, table := range dbTables {
		switch {
		case shardPattern.MatchString(table):
			shards = append(shards, table)
		case strings.HasPrefix(table, model.ActionLogPrefix):
			actionShards = append(actionShards, table)
		}
	}
	require.Len(t, shards, 1)
	require.Len(t, actionShards, 1)
	assert.Equal(t, writers, b.Len(shards[0]))

	rows, err := b.SelectRecords(ctx, actionShards[0], nil, nil, 0, nil)
	require.NoError(t, err)
	require.Len(t, rows, writers)
	keys := make(map[string]bool, writers)
	for _, rec := range rows {
		keys[fmt.Sprint(rec["time"], "/", rec["order"])] = true
	}
	assert.Len(t, keys, writers)
}

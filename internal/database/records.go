package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/recordstore/internal/criteria"
	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/listener"
	"github.com/devrev/recordstore/internal/mapper"
	"github.com/devrev/recordstore/internal/model"
)

// WriteOption customizes a write
type WriteOption func(*writeOptions)

type writeOptions struct {
	source string
}

// WithSource marks a write as coming from a remote source instead of
// this process.
func WithSource(source string) WriteOption {
	return func(o *writeOptions) { o.source = source }
}

func applyWriteOptions(opts []WriteOption) writeOptions {
	o := writeOptions{source: model.SourceLocal}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Insert inserts objects into table and sets their generated ids
func (d *Database) Insert(ctx context.Context, table string, objs ...model.Object) error {
	records := make([]model.Record, len(objs))
	for i, obj := range objs {
		rec, err := mapper.ObjectToRecord(obj, false)
		if err != nil {
			return conversionError(err)
		}
		records[i] = rec
	}
	if err := d.InsertRecords(ctx, table, records); err != nil {
		return err
	}
	for i, obj := range objs {
		obj.SetID(records[i].ID())
	}
	return nil
}

// InsertRecords inserts records into table and sets the "id" of every
// record. All records of a table that is split by user must have the same
// non-empty user.
func (d *Database) InsertRecords(ctx context.Context, table string, records []model.Record, opts ...WriteOption) error {
	start := time.Now()
	err := d.insertRecords(ctx, table, records, applyWriteOptions(opts))
	d.metrics.RecordOperation("insert", tableKind(table), start, err)
	return err
}

func (d *Database) insertRecords(ctx context.Context, table string, records []model.Record, o writeOptions) error {
	if len(records) == 0 {
		return nil
	}
	physTable := table
	split, err := d.useSplitUserTable(ctx, table)
	if err != nil {
		return err
	}
	if split {
		user, err := insertUser(table, records)
		if err != nil {
			return err
		}
		if physTable, err = d.splitUserTable(ctx, table, user); err != nil {
			return err
		}
	}
	if err := d.backend.InsertRecords(ctx, physTable, records); err != nil {
		return dberrors.Wrap(fmt.Sprintf("failed to insert into table %s", physTable), err)
	}
	if model.IsReserved(table) {
		return nil
	}
	if d.syncLog(o.source) {
		if err := d.writeActions(ctx, table, model.ActionInsert, records, records, o.source); err != nil {
			return err
		}
	}
	d.listeners.NotifyEvent(listener.Event{
		Type:     listener.EventInsert,
		Database: d.name,
		Table:    table,
		Records:  records,
	})
	return nil
}

// SelectRecords returns the records of table that match c, sorted by s.
// A limit of 0 returns all records. rt may be nil.
func (d *Database) SelectRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, limit int, s criteria.Sort) ([]model.Record, error) {
	start := time.Now()
	records, err := d.selectRecords(ctx, table, rt, c, limit, s)
	d.metrics.RecordOperation("select", tableKind(table), start, err)
	return records, err
}

func (d *Database) selectRecords(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, limit int, s criteria.Sort) ([]model.Record, error) {
	physTable, physCriteria, err := d.resolveSelect(ctx, table, c)
	if err != nil {
		return nil, err
	}
	records, err := d.backend.SelectRecords(ctx, physTable, rt, physCriteria, limit, s)
	if err != nil {
		return nil, dberrors.Wrap(fmt.Sprintf("failed to select from table %s", physTable), err)
	}
	return records, nil
}

// SelectObjects returns the matching records of table as objects of rt
func (d *Database) SelectObjects(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, limit int, s criteria.Sort) ([]model.Object, error) {
	if rt == nil {
		return nil, dberrors.InvalidArgument(fmt.Sprintf("record type is required to select objects from %s", table), nil)
	}
	records, err := d.SelectRecords(ctx, table, rt, c, limit, s)
	if err != nil {
		return nil, err
	}
	objs := make([]model.Object, len(records))
	for i, rec := range records {
		obj, err := mapper.RecordToObject(rec, rt, false)
		if err != nil {
			return nil, conversionError(err)
		}
		objs[i] = obj
	}
	return objs, nil
}

// SelectOne returns the first matching object or nil if nothing matches
func (d *Database) SelectOne(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, s criteria.Sort) (model.Object, error) {
	objs, err := d.SelectObjects(ctx, table, rt, c, 1, s)
	if err != nil || len(objs) == 0 {
		return nil, err
	}
	return objs[0], nil
}

// SelectAs is SelectObjects for a record type whose objects are of type T
func SelectAs[T model.Object](ctx context.Context, d *Database, table string, rt *model.RecordType, c criteria.Criteria, limit int, s criteria.Sort) ([]T, error) {
	objs, err := d.SelectObjects(ctx, table, rt, c, limit, s)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(objs))
	for i, obj := range objs {
		typed, ok := obj.(T)
		if !ok {
			return nil, dberrors.InvalidArgument(fmt.Sprintf("record type %s creates %T, not %T", rt.Name(), obj, typed), nil)
		}
		out[i] = typed
	}
	return out, nil
}

// Count returns the number of records of table that match c
func (d *Database) Count(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) (int, error) {
	start := time.Now()
	n, err := d.count(ctx, table, rt, c)
	d.metrics.RecordOperation("count", tableKind(table), start, err)
	return n, err
}

func (d *Database) count(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria) (int, error) {
	physTable, physCriteria, err := d.resolveSelect(ctx, table, c)
	if err != nil {
		return 0, err
	}
	n, err := d.backend.CountRecords(ctx, physTable, rt, physCriteria)
	if err != nil {
		return 0, dberrors.Wrap(fmt.Sprintf("failed to count records in table %s", physTable), err)
	}
	return n, nil
}

// UpdateObject writes all fields of obj to the record with its id
func (d *Database) UpdateObject(ctx context.Context, table string, obj model.Object) error {
	values, err := mapper.ObjectToRecord(obj, false)
	if err != nil {
		return conversionError(err)
	}
	delete(values, "id")
	return d.Update(ctx, table, obj.RecordType(), criteria.Equal("id", obj.GetID()), values)
}

// Update sets values on the records of table that match c. The id cannot
// be changed. For a table that is split by user the user is taken from c
// or from values.
func (d *Database) Update(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, values model.Record, opts ...WriteOption) error {
	start := time.Now()
	err := d.update(ctx, table, rt, c, values, applyWriteOptions(opts))
	d.metrics.RecordOperation("update", tableKind(table), start, err)
	return err
}

func (d *Database) update(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, values model.Record, o writeOptions) error {
	if _, ok := values["id"]; ok {
		return dberrors.InvalidArgument("field id cannot be changed at update", nil).WithDetail("table", table)
	}
	physTable, physCriteria := table, c
	split, err := d.useSplitUserTable(ctx, table)
	if err != nil {
		return err
	}
	if split {
		user, err := updateUser(table, c, values)
		if err != nil {
			return err
		}
		if physTable, err = d.splitUserTable(ctx, table, user); err != nil {
			return err
		}
		physCriteria = criteria.WithoutEqual(c, "user", user)
	}
	if err := d.backend.UpdateRecords(ctx, physTable, rt, physCriteria, values); err != nil {
		return dberrors.Wrap(fmt.Sprintf("failed to update table %s", physTable), err)
	}
	if model.IsReserved(table) {
		return nil
	}
	if d.syncLog(o.source) {
		records, err := d.backend.SelectLogRecords(ctx, physTable, rt, physCriteria)
		if err != nil {
			return dberrors.Wrap(fmt.Sprintf("failed to select log records from table %s", physTable), err)
		}
		valueList := make([]model.Record, len(records))
		for i := range records {
			valueList[i] = values
		}
		if err := d.writeActions(ctx, table, model.ActionUpdate, records, valueList, o.source); err != nil {
			return err
		}
	}
	d.listeners.NotifyEvent(listener.Event{
		Type:     listener.EventUpdate,
		Database: d.name,
		Table:    table,
		Criteria: c,
		Values:   values,
	})
	return nil
}

// DeleteObject deletes the record with the id of obj
func (d *Database) DeleteObject(ctx context.Context, table string, obj model.Object) error {
	var c criteria.Criteria = criteria.Equal("id", obj.GetID())
	split, err := d.useSplitUserTable(ctx, table)
	if err != nil {
		return err
	}
	if split {
		user, _ := mapper.FieldValue(obj, "user")
		c = criteria.And(criteria.Equal("id", obj.GetID()), criteria.Equal("user", user))
	}
	return d.Delete(ctx, table, obj.RecordType(), c)
}

// Delete deletes the records of table that match c. A nil c deletes all
// records.
func (d *Database) Delete(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, opts ...WriteOption) error {
	start := time.Now()
	err := d.delete(ctx, table, rt, c, applyWriteOptions(opts).source, false)
	d.metrics.RecordOperation("delete", tableKind(table), start, err)
	return err
}

func (d *Database) delete(ctx context.Context, table string, rt *model.RecordType, c criteria.Criteria, source string, disableLog bool) error {
	physTable, physCriteria, err := d.resolveSelect(ctx, table, c)
	if err != nil {
		return err
	}
	logged := !disableLog && !model.IsReserved(table) && d.syncLog(source)
	var records []model.Record
	if logged {
		records, err = d.backend.SelectLogRecords(ctx, physTable, rt, physCriteria)
		if err != nil {
			return dberrors.Wrap(fmt.Sprintf("failed to select log records from table %s", physTable), err)
		}
	}
	if err := d.backend.DeleteRecords(ctx, physTable, rt, physCriteria); err != nil {
		return dberrors.Wrap(fmt.Sprintf("failed to delete from table %s", physTable), err)
	}
	if model.IsReserved(table) {
		return nil
	}
	if logged && len(records) > 0 {
		if err := d.writeActions(ctx, table, model.ActionDelete, records, nil, source); err != nil {
			return err
		}
	}
	d.listeners.NotifyEvent(listener.Event{
		Type:     listener.EventDelete,
		Database: d.name,
		Table:    table,
		Criteria: c,
	})
	return nil
}

// ResolvePhysicalTable returns the physical table that holds the records
// of user in table, creating the user's shard if needed.
func (d *Database) ResolvePhysicalTable(ctx context.Context, table, user string) (string, error) {
	split, err := d.useSplitUserTable(ctx, table)
	if err != nil || !split {
		return table, err
	}
	if user == "" {
		return "", dberrors.Sharding(table, fmt.Sprintf("table %s is split by user and requires a user", table))
	}
	return d.splitUserTable(ctx, table, user)
}

func (d *Database) syncLog(source string) bool {
	return d.SyncEnabled() && (source == model.SourceLocal || d.SaveSyncedRemoteActions())
}

// resolveSelect maps a table and criteria that select a user to the user's
// shard and the criteria without the user.
func (d *Database) resolveSelect(ctx context.Context, table string, c criteria.Criteria) (string, criteria.Criteria, error) {
	split, err := d.useSplitUserTable(ctx, table)
	if err != nil || !split {
		return table, c, err
	}
	user, ok := criteria.FindEqualString(c, "user")
	if !ok {
		return "", nil, dberrors.Sharding(table, fmt.Sprintf(
			"table %s is split by user and requires criteria that select a user; criteria: %s", table, criteriaString(c)))
	}
	physTable, err := d.splitUserTable(ctx, table, user)
	if err != nil {
		return "", nil, err
	}
	return physTable, criteria.WithoutEqual(c, "user", user), nil
}

func (d *Database) useSplitUserTable(ctx context.Context, table string) (bool, error) {
	if !d.Initialised() || model.IsReserved(table) {
		return false, nil
	}
	tables, err := d.SelectTables(ctx)
	if err != nil {
		return false, err
	}
	if !contains(tables, table) {
		return false, dberrors.TableNotFound(table)
	}
	info, err := d.tableInfo(ctx, table)
	if err != nil {
		return false, err
	}
	return info != nil && info.SplitByUser, nil
}

func insertUser(table string, records []model.Record) (string, error) {
	var user string
	for _, rec := range records {
		value, ok := rec["user"]
		if !ok || value == nil {
			return "", dberrors.Sharding(table, fmt.Sprintf(
				"cannot insert record without field user into table %s that is split by user", table))
		}
		current := fmt.Sprint(value)
		if current == "" {
			return "", dberrors.Sharding(table, fmt.Sprintf(
				"cannot insert record with empty field user into table %s that is split by user", table))
		}
		if user == "" {
			user = current
		} else if current != user {
			return "", dberrors.Sharding(table, fmt.Sprintf(
				"cannot insert records with different users into table %s that is split by user: %s, %s",
				table, user, current))
		}
	}
	return user, nil
}

func updateUser(table string, c criteria.Criteria, values model.Record) (string, error) {
	criteriaUser, hasCriteriaUser := criteria.FindEqualString(c, "user")
	var valuesUser string
	value, hasValuesUser := values["user"]
	if hasValuesUser && value != nil {
		valuesUser = fmt.Sprint(value)
		if valuesUser == "" {
			return "", dberrors.Sharding(table, fmt.Sprintf(
				"user in update values is empty at update in table %s that is split by user", table))
		}
	} else {
		hasValuesUser = false
	}
	switch {
	case hasCriteriaUser && hasValuesUser:
		if criteriaUser != valuesUser {
			return "", dberrors.Sharding(table, fmt.Sprintf(
				"user in criteria (%s) does not match user in update values (%s) at update in table %s that is split by user",
				criteriaUser, valuesUser, table))
		}
		return valuesUser, nil
	case hasCriteriaUser:
		return criteriaUser, nil
	case hasValuesUser:
		return valuesUser, nil
	}
	return "", dberrors.Sharding(table, fmt.Sprintf(
		"update in table %s that is split by user requires criteria that select a user or field user in the values; criteria: %s",
		table, criteriaString(c)))
}

func criteriaString(c criteria.Criteria) string {
	if c == nil {
		return "none"
	}
	return c.String()
}

func conversionError(err error) error {
	var fe *mapper.FieldConversionError
	if errors.As(err, &fe) {
		return dberrors.FieldConversion(fe.Field, fe)
	}
	return err
}

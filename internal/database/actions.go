package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devrev/recordstore/internal/actionlog"
	"github.com/devrev/recordstore/internal/criteria"
	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/model"
	"github.com/devrev/recordstore/internal/util/keylock"
	"go.uber.org/zap"
)

const sampleLocalTimeLayout = "2006-01-02T15:04:05.000"

var newestFirst = criteria.Sort{criteria.Desc("time"), criteria.Desc("order")}

var _ actionlog.Store = (*Database)(nil)

// writeActions appends one action per record to the action log shards of
// table. Consecutive records of the same user go to that user's shard in
// one batch. values holds the logged data per record and is nil for
// deletes.
func (d *Database) writeActions(ctx context.Context, table string, action model.Action, records, values []model.Record, source string) error {
	unlock := d.locks.Lock(keylock.Key(d.name, table))
	defer unlock()

	var (
		actions  []*model.DatabaseAction
		current  model.ActionTable
		currUser string
		started  bool
	)
	flush := func() error {
		if len(actions) == 0 {
			return nil
		}
		if err := d.insertActions(ctx, current, actions); err != nil {
			return err
		}
		d.listeners.NotifyActions(d.name, table, actions)
		actions = nil
		return nil
	}

	for i, rec := range records {
		user := recordUser(rec)
		if !started || user != currUser {
			if err := flush(); err != nil {
				return err
			}
			at, err := d.actionTable(ctx, user, table)
			if err != nil {
				return err
			}
			current, currUser, started = at, user, true
		}
		var data model.Record
		if values != nil {
			data = values[i]
		}
		act, err := d.newAction(ctx, current, actions, action, rec, data, source)
		if err != nil {
			return err
		}
		actions = append(actions, act)
	}
	return flush()
}

// newAction creates the next action of a shard. Its time is the current
// time but never before the last action of the table in the shard; ties
// are ordered by an increasing order.
func (d *Database) newAction(ctx context.Context, at model.ActionTable, pending []*model.DatabaseAction, action model.Action, rec, data model.Record, source string) (*model.DatabaseAction, error) {
	now := d.now().UnixMilli()
	table := at.Key.Table

	var prev *model.DatabaseAction
	for i := len(pending) - 1; i >= 0; i-- {
		if pending[i].Table == table {
			prev = pending[i]
			break
		}
	}
	if prev == nil {
		last, err := d.SelectOne(ctx, at.Name, model.DatabaseActionType, criteria.Equal("table", table), newestFirst)
		if err != nil {
			return nil, err
		}
		if last != nil {
			prev = last.(*model.DatabaseAction)
		}
	}
	var order int32
	if prev != nil && prev.Time >= now {
		now = prev.Time
		order = prev.Order + 1
	}

	act := model.NewDatabaseAction()
	act.Table = table
	if value, ok := rec["user"]; ok && value != nil {
		user := fmt.Sprint(value)
		act.User = &user
	}
	act.Action = action
	act.RecordID = rec.ID()
	if data != nil && d.SyncEnabled() {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, dberrors.InvalidArgument(fmt.Sprintf("cannot encode data of record %s as JSON", act.RecordID), err)
		}
		s := string(encoded)
		act.JSONData = &s
	}
	act.Time = now
	act.Order = order
	act.Source = source
	act.SampleTime = sampleTime(rec)
	return act, nil
}

// sampleTime reads the business time of a record from utcTime (epoch
// milliseconds) or else from localTime.
func sampleTime(rec model.Record) *int64 {
	if utc, ok := int64Value(rec["utcTime"]); ok {
		return &utc
	}
	local, ok := rec["localTime"].(string)
	if !ok {
		return nil
	}
	t, err := time.ParseInLocation(sampleLocalTimeLayout, local, time.UTC)
	if err != nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func int64Value(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func recordUser(rec model.Record) string {
	if value, ok := rec["user"]; ok && value != nil {
		return fmt.Sprint(value)
	}
	return ""
}

func (d *Database) insertActions(ctx context.Context, at model.ActionTable, actions []*model.DatabaseAction) error {
	objs := make([]model.Object, len(actions))
	for i, act := range actions {
		objs[i] = act
	}
	if err := d.Insert(ctx, at.Name, objs...); err != nil {
		return err
	}
	d.metrics.RecordActionLogEntries(string(actions[0].Action), actions[0].Source, len(actions))
	if actions[0].Action == model.ActionInsert {
		return nil
	}
	return d.mergeActions(ctx, at, actions)
}

// mergeActions hands the history of every record touched by actions to
// the merger.
func (d *Database) mergeActions(ctx context.Context, at model.ActionTable, actions []*model.DatabaseAction) error {
	for _, act := range actions {
		start := time.Now()
		d.logger.Debug("Start merge record actions",
			zap.String("table", at.Name),
			zap.String("action", string(act.Action)))
		history, err := SelectAs[*model.DatabaseAction](ctx, d, at.Name, model.DatabaseActionType,
			criteria.Equal("recordId", act.RecordID), 0, newestFirst)
		if err != nil {
			return err
		}
		if len(history) < 2 {
			continue
		}
		err = d.merger.MergeRecordActions(ctx, d, at, history)
		d.metrics.RecordMerge(err)
		if err != nil {
			return dberrors.Merge("cannot merge database actions", err).
				WithDetail("table", at.Name).
				WithDetail("record_id", act.RecordID)
		}
		d.logger.Debug("End merge record actions",
			zap.String("table", at.Name),
			zap.Int("count", len(history)),
			zap.Duration("duration", time.Since(start)))
	}
	return nil
}

// UpdateAction rewrites an action in an action log shard
func (d *Database) UpdateAction(ctx context.Context, table string, action *model.DatabaseAction) error {
	return d.UpdateObject(ctx, table, action)
}

// DeleteActions deletes the actions that match c from an action log shard
func (d *Database) DeleteActions(ctx context.Context, table string, c criteria.Criteria) error {
	return d.Delete(ctx, table, model.DatabaseActionType, c)
}

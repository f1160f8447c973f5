package database

import (
	"context"
	"strings"
	"time"

	"github.com/devrev/recordstore/internal/criteria"
	"github.com/devrev/recordstore/internal/model"
	"go.uber.org/zap"
)

// PurgeUserTable deletes the records of user from table together with the
// user's action log entries and sync progress of that table. Tables are
// cleared, not dropped.
func (d *Database) PurgeUserTable(ctx context.Context, table, user string) error {
	start := time.Now()
	err := d.purgeUserTable(ctx, table, user, false)
	d.metrics.RecordOperation("purge_user_table", tableKind(table), start, err)
	return err
}

// PurgeUser removes user from every logical table. User shards and action
// log shards are dropped and the user table keys deleted.
func (d *Database) PurgeUser(ctx context.Context, user string) error {
	start := time.Now()
	err := d.purgeUser(ctx, user)
	d.metrics.RecordOperation("purge_user", "logical", start, err)
	return err
}

func (d *Database) purgeUser(ctx context.Context, user string) error {
	tables, err := d.SelectTables(ctx)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if model.IsReserved(table) {
			continue
		}
		if err := d.purgeUserTable(ctx, table, user, true); err != nil {
			return err
		}
	}
	d.logger.Info("Purged user", zap.String("user", user), zap.Int("tables", len(tables)))
	return nil
}

func (d *Database) purgeUserTable(ctx context.Context, table, user string, purgeUser bool) error {
	physTables, err := d.physicalTables(ctx)
	if err != nil {
		return err
	}
	byUser := criteria.Equal("user", user)
	byTableUser := criteria.And(criteria.Equal("user", user), criteria.Equal("table", table))

	keys, err := d.selectUserTableKeys(ctx, byTableUser)
	if err != nil {
		return err
	}
	var key *model.UserTableKey
	var userTable string
	if len(keys) > 0 {
		key = keys[0]
		userTable = model.ShardName(table, key.Key)
	}
	info, err := d.tableInfo(ctx, table)
	if err != nil {
		return err
	}
	split := info != nil && info.SplitByUser

	switch {
	case split && key != nil && purgeUser:
		for _, physTable := range physTables {
			if strings.HasPrefix(physTable, userTable) {
				if err := d.DropDbTable(ctx, physTable); err != nil {
					return err
				}
			}
		}
	case split && key != nil && contains(physTables, userTable):
		if err := d.delete(ctx, table, nil, byUser, model.SourceLocal, true); err != nil {
			return err
		}
	case !split:
		if err := d.delete(ctx, table, nil, byUser, model.SourceLocal, true); err != nil {
			return err
		}
	}

	if key != nil {
		actionTable := model.ActionShardName(key.Key)
		if contains(physTables, actionTable) {
			if purgeUser {
				err = d.DropDbTable(ctx, actionTable)
			} else {
				err = d.Delete(ctx, actionTable, nil, byUser)
			}
			if err != nil {
				return err
			}
		}
	}
	if err := d.Delete(ctx, model.SyncProgressTable, nil, byTableUser); err != nil {
		return err
	}
	if purgeUser {
		d.cache.RemoveUserTable(d.name, user, table)
		if err := d.Delete(ctx, model.UserTableKeyTable, nil, byTableUser); err != nil {
			return err
		}
	}
	d.logger.Info("Purged user table",
		zap.String("table", table),
		zap.String("user", user),
		zap.Bool("purge_user", purgeUser))
	return nil
}

package database

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/devrev/recordstore/internal/criteria"
	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/model"
	"github.com/devrev/recordstore/internal/util/keylock"
	"go.uber.org/zap"
)

// splitUserTable returns the shard of user in a logical table, creating it
// on first use.
func (d *Database) splitUserTable(ctx context.Context, table, user string) (string, error) {
	unlock := d.locks.Lock(keylock.Key(d.name, table))
	defer unlock()

	info, err := d.tableInfo(ctx, table)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", dberrors.TableNotFound(table)
	}
	if info.RecordType == nil {
		// existing shards stay reachable without the record type
		physTable, found, err := d.existingUserShard(ctx, table, user)
		if err != nil || found {
			return physTable, err
		}
		return "", dberrors.Schema(fmt.Sprintf(
			"record type of table %s is not registered, cannot create the table of user %s", table, user), nil)
	}
	return d.ensureUserShard(ctx, table, user, info.RecordType, info.CompoundIndexes)
}

// existingUserShard returns the shard of user in table if its key and
// physical table exist. It never generates a key.
func (d *Database) existingUserShard(ctx context.Context, table, user string) (string, bool, error) {
	keys, err := d.selectUserTableKeys(ctx, criteria.And(criteria.Equal("user", user), criteria.Equal("table", table)))
	if err != nil || len(keys) == 0 {
		return "", false, err
	}
	physTable := model.ShardName(table, keys[0].Key)
	exists, err := d.hasPhysicalTable(ctx, physTable)
	if err != nil || !exists {
		return "", false, err
	}
	return physTable, true, nil
}

// SplitUserTable returns the shard of user for a table definition,
// creating it if needed. It is meant for upgrade hooks that move records
// into user shards before the database is initialised.
func (d *Database) SplitUserTable(ctx context.Context, def TableDef, user string) (string, error) {
	unlock := d.locks.Lock(keylock.Key(d.name, def.Name()))
	defer unlock()
	return d.ensureUserShard(ctx, def.Name(), user, def.RecordType(), def.CompoundIndexes())
}

func (d *Database) ensureUserShard(ctx context.Context, table, user string, rt *model.RecordType, indexes []model.Index) (string, error) {
	key, err := d.userTableKey(ctx, user, table)
	if err != nil {
		return "", err
	}
	physTable := model.ShardName(table, key.Key)
	exists, err := d.hasPhysicalTable(ctx, physTable)
	if err != nil {
		return "", err
	}
	if exists {
		return physTable, nil
	}
	if err := d.createTable(ctx, physTable, rt, indexes); err != nil {
		return "", err
	}
	d.metrics.RecordShardCreated("data")
	d.logger.Info("Created user table",
		zap.String("table", table),
		zap.String("user", user),
		zap.String("physical_table", physTable))
	return physTable, nil
}

// userTableKey returns the key of (user, table), generating and storing a
// new key if the user has none.
func (d *Database) userTableKey(ctx context.Context, user, table string) (*model.UserTableKey, error) {
	return d.cache.UserTableKey(d.name, user, table, func() (*model.UserTableKey, error) {
		unlock := d.locks.Lock(keylock.Key(d.name, model.UserTableKeyTable))
		defer unlock()

		byUserTable := criteria.And(criteria.Equal("user", user), criteria.Equal("table", table))
		keys, err := d.selectUserTableKeys(ctx, byUserTable)
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			return keys[0], nil
		}
		generated, err := d.generateKey(ctx)
		if err != nil {
			return nil, err
		}
		key := &model.UserTableKey{User: user, Table: table, Key: generated}
		if err := d.Insert(ctx, model.UserTableKeyTable, key); err != nil {
			return nil, err
		}
		d.logger.Debug("Generated user table key",
			zap.String("table", table),
			zap.String("user", user),
			zap.String("key", generated))
		return key, nil
	})
}

// generateKey returns a random 8 hex digit key that no user table uses
func (d *Database) generateKey(ctx context.Context) (string, error) {
	n := rand.Uint32()
	for {
		key := fmt.Sprintf("%08x", n)
		count, err := d.Count(ctx, model.UserTableKeyTable, model.UserTableKeyType, criteria.Equal("key", key))
		if err != nil {
			return "", err
		}
		if count == 0 {
			return key, nil
		}
		n++
	}
}

func (d *Database) selectUserTableKeys(ctx context.Context, c criteria.Criteria) ([]*model.UserTableKey, error) {
	return SelectAs[*model.UserTableKey](ctx, d, model.UserTableKeyTable, model.UserTableKeyType, c, 0, nil)
}

// actionTable returns the action log shard of (user, table), creating it
// on first use. user is empty for records without a user.
func (d *Database) actionTable(ctx context.Context, user, table string) (model.ActionTable, error) {
	return d.cache.ActionTable(d.name, user, table, func() (model.ActionTable, error) {
		key, err := d.userTableKey(ctx, user, table)
		if err != nil {
			return model.ActionTable{}, err
		}
		at := model.ActionTable{Name: model.ActionShardName(key.Key), Key: *key}
		exists, err := d.hasPhysicalTable(ctx, at.Name)
		if err != nil {
			return model.ActionTable{}, err
		}
		if !exists {
			def := newActionLogDef()
			if err := d.createTable(ctx, at.Name, def.RecordType(), def.CompoundIndexes()); err != nil {
				return model.ActionTable{}, err
			}
			d.metrics.RecordShardCreated("action_log")
		}
		return at, nil
	})
}

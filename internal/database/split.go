package database

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/recordstore/internal/criteria"
	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultSplitBatchSize is the number of records a split migration reads
// from the source table at a time.
const DefaultSplitBatchSize = 10000

// TableSplitter moves the records of a single physical table into per-user
// shards. It is run from an upgrade hook of a table definition that became
// split by user, while table names are still physical. Every step can be
// repeated, so an interrupted migration continues where it stopped.
type TableSplitter struct {
	db        *Database
	batchSize int
	limiter   *rate.Limiter
}

// SplitterOption configures a TableSplitter
type SplitterOption func(*TableSplitter)

// WithBatchSize sets the number of records read per batch
func WithBatchSize(n int) SplitterOption {
	return func(s *TableSplitter) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchRate limits the number of batches read per second. Zero or less
// means unthrottled.
func WithBatchRate(batchesPerSecond float64) SplitterOption {
	return func(s *TableSplitter) {
		if batchesPerSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(batchesPerSecond), 1)
		} else {
			s.limiter = nil
		}
	}
}

// NewTableSplitter creates a splitter over db. opts apply after the
// engine's splitter defaults.
func NewTableSplitter(db *Database, opts ...SplitterOption) *TableSplitter {
	s := &TableSplitter{db: db, batchSize: DefaultSplitBatchSize}
	for _, opt := range db.splitOpts {
		opt(s)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split moves all records of the physical table def.Name() to the user
// shards of def and drops the table when it is empty. The records must
// have a user and an integer utcTime field.
func (s *TableSplitter) Split(ctx context.Context, def TableDef) error {
	d := s.db
	table := def.Name()
	tables, err := d.physicalTables(ctx)
	if err != nil {
		return err
	}
	if !contains(tables, table) {
		return nil
	}
	d.logger.Info("Start splitting table by user", zap.String("table", table))
	if err := d.CreateIndex(ctx, table, model.NewIndex("userTime", "user", "utcTime")); err != nil {
		d.logger.Info("Cannot create index userTime, probably already exists",
			zap.String("table", table), zap.Error(err))
	} else {
		d.logger.Info("Created index userTime", zap.String("table", table))
	}

	byTime := criteria.Sort{criteria.Asc("utcTime")}
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		batch, err := d.SelectRecords(ctx, table, nil, nil, s.batchSize, byTime)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			if err := d.DropDbTable(ctx, table); err != nil {
				return err
			}
			d.logger.Info("Finished splitting table by user", zap.String("table", table))
			return nil
		}
		d.logger.Info("Selected batch to split",
			zap.String("table", table),
			zap.Int("records", len(batch)))
		for len(batch) > 0 {
			if batch, err = s.moveUserBatch(ctx, def, batch); err != nil {
				return err
			}
		}
	}
}

// moveUserBatch moves the records of the user of the first record in batch
// to the user's shard and returns the records of other users. The target
// is cleared first by the ids at both time bounds and by the open time
// range between them, so a repeated move inserts no duplicates.
func (s *TableSplitter) moveUserBatch(ctx context.Context, def TableDef, batch []model.Record) ([]model.Record, error) {
	d := s.db
	table := def.Name()
	user := recordUser(batch[0])

	var userRecords, rest []model.Record
	for _, rec := range batch {
		if recordUser(rec) == user {
			userRecords = append(userRecords, rec.Clone())
		} else {
			rest = append(rest, rec)
		}
	}
	times := make([]int64, len(userRecords))
	for i, rec := range userRecords {
		t, ok := int64Value(rec["utcTime"])
		if !ok {
			return nil, dberrors.Schema(fmt.Sprintf("record %s in table %s has no integer utcTime", rec.ID(), table), nil)
		}
		times[i] = t
	}
	startTime, endTime := times[0], times[len(times)-1]

	var boundIDs []string
	for i, rec := range userRecords {
		if times[i] > startTime {
			break
		}
		boundIDs = append(boundIDs, rec.ID())
	}
	if startTime != endTime {
		var endIDs []string
		for i := len(userRecords) - 1; i >= 0; i-- {
			if times[i] < endTime {
				break
			}
			endIDs = append([]string{userRecords[i].ID()}, endIDs...)
		}
		boundIDs = append(boundIDs, endIDs...)
	}

	userTable, err := d.SplitUserTable(ctx, def, user)
	if err != nil {
		return nil, err
	}
	d.logger.Info("Moving records to user table",
		zap.String("table", table),
		zap.String("user_table", userTable),
		zap.String("user", user),
		zap.Int("records", len(userRecords)),
		zap.Time("from", time.UnixMilli(startTime).UTC()),
		zap.Time("to", time.UnixMilli(endTime).UTC()))

	var byIDs, interior, userInterior criteria.Criteria
	if len(boundIDs) > 0 {
		ors := make([]criteria.Criteria, len(boundIDs))
		for i, id := range boundIDs {
			ors[i] = criteria.Equal("id", id)
		}
		byIDs = criteria.Or(ors...)
	}
	if startTime != endTime {
		interior = criteria.And(
			criteria.GreaterThan("utcTime", startTime),
			criteria.LessThan("utcTime", endTime))
		userInterior = criteria.And(
			criteria.Equal("user", user),
			criteria.GreaterThan("utcTime", startTime),
			criteria.LessThan("utcTime", endTime))
	}

	if err := s.deleteIf(ctx, userTable, byIDs); err != nil {
		return nil, err
	}
	if err := s.deleteIf(ctx, userTable, interior); err != nil {
		return nil, err
	}
	if err := d.backend.InsertRecords(ctx, userTable, userRecords); err != nil {
		return nil, dberrors.Wrap(fmt.Sprintf("failed to insert into table %s", userTable), err)
	}
	if err := s.deleteIf(ctx, table, byIDs); err != nil {
		return nil, err
	}
	if err := s.deleteIf(ctx, table, userInterior); err != nil {
		return nil, err
	}
	d.metrics.RecordSplitMigration(len(userRecords))
	return rest, nil
}

// deleteIf deletes the records matching c without logging them, unless c
// is nil.
func (s *TableSplitter) deleteIf(ctx context.Context, table string, c criteria.Criteria) error {
	if c == nil {
		return nil
	}
	return s.db.delete(ctx, table, nil, c, model.SourceLocal, true)
}

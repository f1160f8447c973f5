package actionlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devrev/recordstore/internal/criteria"
	"github.com/devrev/recordstore/internal/model"
)

// Store is the part of the engine a merger may write to. Table names are
// physical action log shards.
type Store interface {
	UpdateAction(ctx context.Context, table string, action *model.DatabaseAction) error
	DeleteActions(ctx context.Context, table string, c criteria.Criteria) error
}

// Merger compacts the history of one record in an action log shard.
// actions holds every entry of the record, newest first (time desc,
// order desc), and always has at least two entries.
type Merger interface {
	MergeRecordActions(ctx context.Context, store Store, table model.ActionTable, actions []*model.DatabaseAction) error
}

// MergeError reports an action history that cannot be merged
type MergeError struct {
	RecordID string
	Reason   string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("cannot merge actions of record %s: %s", e.RecordID, e.Reason)
}

// RecordActionMerger keeps one entry per record with the net effect of
// its history. The newest entry is kept. An UPDATE absorbs the data of
// older UPDATEs, newer values winning, and becomes an INSERT when it
// reaches the record's INSERT. Every older entry is deleted.
type RecordActionMerger struct{}

var _ Merger = RecordActionMerger{}

// MergeRecordActions folds the history of one record, newest first, into
// its newest entry and deletes the others.
func (RecordActionMerger) MergeRecordActions(ctx context.Context, store Store, table model.ActionTable, actions []*model.DatabaseAction) error {
	if len(actions) < 2 {
		return nil
	}
	merged := actions[0]
	if merged.Action == model.ActionUpdate {
		if err := foldUpdates(merged, actions[1:]); err != nil {
			return err
		}
	}

	if err := store.UpdateAction(ctx, table.Name, merged); err != nil {
		return fmt.Errorf("failed to update merged action: %w", err)
	}
	older := criteria.And(
		criteria.NotEqual("id", merged.GetID()),
		criteria.Equal("recordId", merged.RecordID),
	)
	if err := store.DeleteActions(ctx, table.Name, older); err != nil {
		return fmt.Errorf("failed to delete merged actions: %w", err)
	}
	return nil
}

func foldUpdates(merged *model.DatabaseAction, older []*model.DatabaseAction) error {
	data, err := decodeData(merged)
	if err != nil {
		return err
	}
	hasData := merged.JSONData != nil
	for _, prev := range older {
		if prev.Action != model.ActionInsert && prev.Action != model.ActionUpdate {
			return &MergeError{RecordID: merged.RecordID, Reason: fmt.Sprintf("%s before UPDATE", prev.Action)}
		}
		prevData, err := decodeData(prev)
		if err != nil {
			return err
		}
		hasData = hasData || prev.JSONData != nil
		for k, v := range prevData {
			if _, exists := data[k]; !exists {
				data[k] = v
			}
		}
		if prev.Action == model.ActionInsert {
			merged.Action = model.ActionInsert
			break
		}
	}
	if hasData {
		encoded, err := json.Marshal(data)
		if err != nil {
			return &MergeError{RecordID: merged.RecordID, Reason: err.Error()}
		}
		s := string(encoded)
		merged.JSONData = &s
	}
	return nil
}

func decodeData(action *model.DatabaseAction) (map[string]any, error) {
	data := make(map[string]any)
	if action.JSONData == nil || *action.JSONData == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(*action.JSONData), &data); err != nil {
		return nil, &MergeError{RecordID: action.RecordID, Reason: fmt.Sprintf("invalid data of action %s: %v", action.GetID(), err)}
	}
	return data, nil
}

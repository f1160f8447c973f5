package model

// Action is the kind of mutation recorded in the action log
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// EnumName implements Enum
func (a *Action) EnumName() string {
	return string(*a)
}

// SetEnumName implements Enum
func (a *Action) SetEnumName(name string) bool {
	switch Action(name) {
	case ActionInsert, ActionUpdate, ActionDelete:
		*a = Action(name)
		return true
	case "":
		*a = ""
		return true
	}
	return false
}

// DatabaseAction is one entry of an action log shard
type DatabaseAction struct {
	Base
	Table      string
	User       *string
	Action     Action
	RecordID   string
	JSONData   *string
	SampleTime *int64
	Time       int64
	Order      int32
	Source     string
	Author     *string
}

// NewDatabaseAction creates a local action
func NewDatabaseAction() *DatabaseAction {
	return &DatabaseAction{Source: SourceLocal}
}

func (a *DatabaseAction) RecordType() *RecordType { return DatabaseActionType }

// UserValue returns the user or "" if the action has none
func (a *DatabaseAction) UserValue() string {
	if a.User == nil {
		return ""
	}
	return *a.User
}

// DatabaseActionType describes the rows of an action log shard
var DatabaseActionType = Define("DatabaseAction", NewDatabaseAction).
	Field("table", ColumnString, func(a *DatabaseAction) any { return &a.Table }).
	Field("user", ColumnString, func(a *DatabaseAction) any { return &a.User }).
	Field("action", ColumnString, func(a *DatabaseAction) any { return &a.Action }).
	Field("recordId", ColumnString, func(a *DatabaseAction) any { return &a.RecordID }, Indexed).
	Field("jsonData", ColumnText, func(a *DatabaseAction) any { return &a.JSONData }).
	Field("sampleTime", ColumnLong, func(a *DatabaseAction) any { return &a.SampleTime }, Indexed).
	Field("time", ColumnLong, func(a *DatabaseAction) any { return &a.Time }).
	Field("order", ColumnInt, func(a *DatabaseAction) any { return &a.Order }).
	Field("source", ColumnString, func(a *DatabaseAction) any { return &a.Source }).
	Field("author", ColumnString, func(a *DatabaseAction) any { return &a.Author }).
	MustBuild()

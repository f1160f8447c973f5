package model

import "sort"

// Object is a typed record stored in a table. Implementations embed Base
// and return their registered RecordType.
type Object interface {
	GetID() string
	SetID(id string)
	RecordType() *RecordType
}

// Base carries the primary key shared by every object
type Base struct {
	ID string `json:"id,omitempty"`
}

// GetID returns the record id
func (b *Base) GetID() string {
	return b.ID
}

// SetID sets the record id
func (b *Base) SetID(id string) {
	b.ID = id
}

// Record is the generic column -> value form of an object
type Record map[string]any

// Keys returns the record keys in sorted order
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the id value as a string, or "" if absent
func (r Record) ID() string {
	if id, ok := r["id"].(string); ok {
		return id
	}
	return ""
}

// StringValue returns the value for key if it is a string
func (r Record) StringValue(key string) (string, bool) {
	s, ok := r[key].(string)
	return s, ok
}

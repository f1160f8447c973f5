package listener

import (
	"sync"

	"github.com/devrev/recordstore/internal/criteria"
	"github.com/devrev/recordstore/internal/model"
)

// EventType is the kind of data change
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event describes a change to a logical table. Insert events carry the
// inserted records; update events carry the criteria and the new values;
// delete events carry the criteria.
type Event struct {
	Type     EventType
	Database string
	Table    string
	Records  []model.Record
	Criteria criteria.Criteria
	Values   model.Record
}

// Listener receives data change events
type Listener interface {
	OnDatabaseEvent(event Event)
}

// ActionListener receives the entries appended to an action log
type ActionListener interface {
	OnAddDatabaseActions(database, table string, actions []*model.DatabaseAction)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(event Event)

func (f ListenerFunc) OnDatabaseEvent(event Event) {
	f(event)
}

// Registry holds the listeners of every database in the process
type Registry struct {
	mu              sync.Mutex
	nextID          uint64
	listeners       map[string][]entry[Listener]
	actionListeners map[string][]entry[ActionListener]
}

type entry[T any] struct {
	id       uint64
	listener T
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		listeners:       make(map[string][]entry[Listener]),
		actionListeners: make(map[string][]entry[ActionListener]),
	}
}

// AddListener registers l for events of database and returns the function
// that removes it again.
func (r *Registry) AddListener(database string, l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners[database] = append(r.listeners[database], entry[Listener]{id: id, listener: l})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.listeners[database] = without(r.listeners[database], id)
	}
}

// AddActionListener registers l for action log appends of database and
// returns the function that removes it again.
func (r *Registry) AddActionListener(database string, l ActionListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.actionListeners[database] = append(r.actionListeners[database], entry[ActionListener]{id: id, listener: l})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.actionListeners[database] = without(r.actionListeners[database], id)
	}
}

// NotifyEvent calls the listeners of event.Database outside the registry
// lock, so listeners may add or remove listeners.
func (r *Registry) NotifyEvent(event Event) {
	r.mu.Lock()
	listeners := append([]entry[Listener](nil), r.listeners[event.Database]...)
	r.mu.Unlock()
	for _, e := range listeners {
		e.listener.OnDatabaseEvent(event)
	}
}

// NotifyActions calls the action listeners of database
func (r *Registry) NotifyActions(database, table string, actions []*model.DatabaseAction) {
	r.mu.Lock()
	listeners := append([]entry[ActionListener](nil), r.actionListeners[database]...)
	r.mu.Unlock()
	for _, e := range listeners {
		e.listener.OnAddDatabaseActions(database, table, actions)
	}
}

func without[T any](entries []entry[T], id uint64) []entry[T] {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

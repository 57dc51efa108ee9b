package resource

import (
	"sync"
)

// Table manages typed resources on top of a LocalBackend with observer
// support and per-type live counts.
type Table struct {
	backend   *LocalBackend
	observers []Observer
	live      map[TypeID]int
	stale     int
	obsMu     sync.RWMutex
	countMu   sync.Mutex
	closed    bool
	closeMu   sync.RWMutex
}

// NewTable creates a new table with a LocalBackend.
func NewTable() *Table {
	return &Table{
		backend: NewLocalBackend(),
		live:    make(map[TypeID]int),
	}
}

// Insert adds a value and returns its handle, or 0 if the table is closed.
func (t *Table) Insert(typeID TypeID, value any) Handle {
	t.closeMu.RLock()
	if t.closed {
		t.closeMu.RUnlock()
		return 0
	}
	t.closeMu.RUnlock()

	handle, err := t.backend.Create(typeID, value)
	if err != nil {
		return 0
	}

	t.countMu.Lock()
	t.live[typeID]++
	t.countMu.Unlock()

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})

	return handle
}

// Get retrieves a value by handle.
func (t *Table) Get(handle Handle) (any, bool) {
	return t.backend.Get(handle)
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *Table) GetTyped(handle Handle, typeID TypeID) (any, bool) {
	actualTypeID, ok := t.backend.TypeID(handle)
	if !ok || actualTypeID != typeID {
		return nil, false
	}
	return t.backend.Get(handle)
}

// Remove drops a resource of the given type and returns (value, true) if it
// was live. Removing a stale or mistyped handle is recorded and reported to
// observers as EventStaleDrop.
func (t *Table) Remove(handle Handle, typeID TypeID) (any, bool) {
	actualTypeID, ok := t.backend.TypeID(handle)
	if !ok || actualTypeID != typeID {
		t.countMu.Lock()
		t.stale++
		t.countMu.Unlock()
		t.notify(Event{Type: EventStaleDrop, Handle: handle, TypeID: typeID})
		return nil, false
	}

	value, ok := t.backend.Drop(handle)
	if !ok {
		return nil, false
	}

	t.countMu.Lock()
	t.live[typeID]--
	t.countMu.Unlock()

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})

	return value, true
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Len returns the number of active resources.
func (t *Table) Len() int {
	return t.backend.Len()
}

// Live returns the number of active resources of one type.
func (t *Table) Live(typeID TypeID) int {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	return t.live[typeID]
}

// StaleDrops returns how many removals targeted a dead or unknown handle.
func (t *Table) StaleDrops() int {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	return t.stale
}

// Close releases all resources and stops accepting operations.
func (t *Table) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	t.countMu.Lock()
	t.live = make(map[TypeID]int)
	t.countMu.Unlock()

	return t.backend.Close()
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

package crdt

import "github.com/cipherdeck/core/model"

// entry is one field of a Map CRDT: a last-writer-wins register tagged
// with the (device, counter) pair that wrote it, so merges are
// deterministic and idempotent regardless of arrival order.
type entry struct {
	value   []byte
	author  model.DeviceID
	counter uint64
}

func (e entry) wins(o entry) bool {
	if e.counter != o.counter {
		return e.counter > o.counter
	}
	return e.author.Less(o.author)
}

// Map is a last-writer-wins map CRDT used for Account, Profile and
// AccountNotifications document bodies.
type Map struct {
	fields map[string]entry
}

// NewMap creates an empty Map CRDT.
func NewMap() *Map {
	return &Map{fields: map[string]entry{}}
}

// Set writes field, stamped with (author, counter) for LWW arbitration.
func (m *Map) Set(field string, value []byte, author model.DeviceID, counter uint64) {
	next := entry{value: value, author: author, counter: counter}
	if cur, ok := m.fields[field]; ok && !next.wins(cur) {
		return
	}
	m.fields[field] = next
}

// Get returns a field's current value.
func (m *Map) Get(field string) ([]byte, bool) {
	e, ok := m.fields[field]
	return e.value, ok
}

// Keys returns the set of populated field names.
func (m *Map) Keys() []string {
	out := make([]string, 0, len(m.fields))
	for k := range m.fields {
		out = append(out, k)
	}
	return out
}

// MapState is the wire/storage form of a Map CRDT.
type MapState struct {
	Fields map[string]MapEntry
}

// MapEntry is one field's wire form.
type MapEntry struct {
	Value   []byte
	Author  model.DeviceID
	Counter uint64
}

// EncodeState serializes the full field set.
func (m *Map) EncodeState() MapState {
	st := MapState{Fields: make(map[string]MapEntry, len(m.fields))}
	for k, e := range m.fields {
		st.Fields[k] = MapEntry{Value: e.value, Author: e.author, Counter: e.counter}
	}
	return st
}

// Merge folds update into m using the same LWW arbitration Set uses.
func (m *Map) Merge(update MapState) {
	for field, e := range update.Fields {
		m.Set(field, e.Value, e.Author, e.Counter)
	}
}

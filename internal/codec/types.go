package codec

import (
	"math"
	"reflect"
)

// Set is an insertion-ordered collection of unique values. It is the host
// form of a JavaScript Set. Membership follows SameValueZero: comparable
// values are compared with ==, NaN equals NaN, and slices, maps and funcs
// are compared by identity. A slice with no capacity has no identity and
// never matches, nor does a value whose dynamic contents are not
// comparable.
type Set struct {
	values []any
}

// NewSet returns a Set holding values in order, skipping duplicates.
func NewSet(values ...any) *Set {
	s := &Set{}
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add appends v unless an equal value is already present.
func (s *Set) Add(v any) bool {
	if s.Has(v) {
		return false
	}
	s.values = append(s.values, v)
	return true
}

// Has reports whether v is a member of the set.
func (s *Set) Has(v any) bool {
	for _, x := range s.values {
		if sameValueZero(x, v) {
			return true
		}
	}
	return false
}

// Delete removes v and reports whether it was present.
func (s *Set) Delete(v any) bool {
	for i, x := range s.values {
		if sameValueZero(x, v) {
			s.values = append(s.values[:i], s.values[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of members.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Values returns the members in insertion order. The slice is shared with
// the set and must not be modified.
func (s *Set) Values() []any {
	if s == nil {
		return nil
	}
	return s.values
}

// Entry is a single key/value pair of a Map.
type Entry struct {
	Key   any
	Value any
}

// Map is an insertion-ordered dictionary keyed by arbitrary values. It is
// the host form of a JavaScript Map and uses the same key equality as Set.
type Map struct {
	entries []Entry
}

// NewMap returns a Map holding entries in order. A later entry replaces the
// value of an earlier one with an equal key without moving it.
func NewMap(entries ...Entry) *Map {
	m := &Map{}
	for _, e := range entries {
		m.Set(e.Key, e.Value)
	}
	return m
}

// Set stores value under key.
func (m *Map) Set(key, value any) {
	for i := range m.entries {
		if sameValueZero(m.entries[i].Key, key) {
			m.entries[i].Value = value
			return
		}
	}
	m.entries = append(m.entries, Entry{Key: key, Value: value})
}

// Get returns the value stored under key.
func (m *Map) Get(key any) (any, bool) {
	for _, e := range m.entries {
		if sameValueZero(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Delete removes key and reports whether it was present.
func (m *Map) Delete(key any) bool {
	for i, e := range m.entries {
		if sameValueZero(e.Key, key) {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in insertion order. The slice is shared with
// the map and must not be modified.
func (m *Map) Entries() []Entry {
	if m == nil {
		return nil
	}
	return m.entries
}

// PromiseState is the host rendering of an engine promise that crossed the
// boundary as a value instead of being awaited.
type PromiseState string

const (
	PromisePending   PromiseState = "pending"
	PromiseFulfilled PromiseState = "fulfilled"
	PromiseRejected  PromiseState = "rejected"
)

func (p PromiseState) String() string {
	return `Promise { <state>: "` + string(p) + `" }`
}

func sameValueZero(a, b any) bool {
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
		}
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ta.Comparable() {
		// An interface field may still hold a slice.
		return va.Comparable() && vb.Comparable() && a == b
	}
	switch va.Kind() {
	case reflect.Slice:
		return va.Cap() > 0 && va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

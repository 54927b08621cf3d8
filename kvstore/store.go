// Package kvstore provides the in-memory key-value store behind the kv resource namespace.
//
// Values are stored as raw JSON inside immutable entries. Every mutation replaces the entry
// of a single key atomically, so readers never observe a partially written value and writers
// on distinct keys never contend on a shared lock.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrSerialization is returned by Set when the value cannot be represented as JSON.
var ErrSerialization = errors.New("value is not JSON serializable")

// Entry is a stored value together with the time it was last written.
type Entry struct {
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
}

// Store is a concurrency-safe key-value store. The zero value is ready to use.
type Store struct {
	entries sync.Map // map[string]*Entry
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{now: time.Now}
}

// Get returns the entry stored under key.
func (s *Store) Get(key string) (Entry, bool) {
	v, ok := s.entries.Load(key)
	if !ok {
		return Entry{}, false
	}
	return *v.(*Entry), true
}

// Set stores value under key and returns the entry it replaced, if any. The value is
// serialized before the store is touched, so a failing Set changes nothing.
func (s *Store) Set(key string, value any) (Entry, bool, error) {
	raw, err := encode(value)
	if err != nil {
		return Entry{}, false, err
	}

	entry := &Entry{Key: key, Value: raw, UpdatedAt: s.clock()}
	prev, loaded := s.entries.Swap(key, entry)
	if !loaded {
		return Entry{}, false, nil
	}
	return *prev.(*Entry), true, nil
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	_, loaded := s.entries.LoadAndDelete(key)
	return loaded
}

// Keys returns the stored keys in ascending order.
func (s *Store) Keys() []string {
	var keys []string
	s.entries.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	slices.Sort(keys)
	return keys
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Snapshot returns a copy of every entry, sorted by key. Each entry is consistent on its
// own; entries written during the call may or may not be included.
func (s *Store) Snapshot() []Entry {
	var entries []Entry
	s.entries.Range(func(_, v any) bool {
		entries = append(entries, *v.(*Entry))
		return true
	})
	slices.SortFunc(entries, func(a, b Entry) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return entries
}

func (s *Store) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func encode(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: invalid raw JSON", ErrSerialization)
		}
		return slices.Clone(raw), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return raw, nil
}

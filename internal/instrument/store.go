package instrument

import (
	"sort"
	"sync"
)

// KeyValueStore is a page storage area such as local or session storage.
type KeyValueStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
	Clear()
	Keys() []string
}

// MemoryStore is an in-memory KeyValueStore.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

func (m *MemoryStore) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]string)
}

// Keys returns the keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries copies every key and value out of s.
func Entries(s KeyValueStore) map[string]string {
	out := make(map[string]string)
	if s == nil {
		return out
	}
	for _, k := range s.Keys() {
		if v, ok := s.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// InstrumentedStore schedules a debounced storage snapshot after every
// mutation. Reads pass straight through.
type InstrumentedStore struct {
	next    KeyValueStore
	session *Session
}

func NewInstrumentedStore(next KeyValueStore, s *Session) *InstrumentedStore {
	return &InstrumentedStore{next: next, session: s}
}

func (s *InstrumentedStore) Get(key string) (string, bool) { return s.next.Get(key) }
func (s *InstrumentedStore) Keys() []string                { return s.next.Keys() }

func (s *InstrumentedStore) Set(key, value string) {
	s.next.Set(key, value)
	s.session.ScheduleCapture()
}

func (s *InstrumentedStore) Remove(key string) {
	s.next.Remove(key)
	s.session.ScheduleCapture()
}

func (s *InstrumentedStore) Clear() {
	s.next.Clear()
	s.session.ScheduleCapture()
}

package sharedstate

import "sync"

// Memory is an in-process Store shared by engines running in one process.
type Memory struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[uint64]*watcher
	nextID   uint64
}

func NewMemory() *Memory {
	return &Memory{
		values:   make(map[string]string),
		watchers: make(map[uint64]*watcher),
	}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.notifyLocked(key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	if _, ok := m.values[key]; ok {
		delete(m.values, key)
		m.notifyLocked(key)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Watch(fn func(key string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	w := newWatcher(fn)
	m.watchers[id] = w

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(w.ch)
		}
	}
}

// Keys returns a snapshot of the stored keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

func (m *Memory) notifyLocked(key string) {
	for _, w := range m.watchers {
		w.notify(key)
	}
}

var _ Store = (*Memory)(nil)

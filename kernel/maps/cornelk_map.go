package maps

import "github.com/cornelk/hashmap"

// CornelkMap implements ConcurrentMap on top of cornelk/hashmap.
type CornelkMap[K Integer, V any] struct {
	m *hashmap.Map[K, V]
}

// NewCornelkMap creates a new CornelkMap.
func NewCornelkMap[K Integer, V any]() ConcurrentMap[K, V] {
	return &CornelkMap[K, V]{m: hashmap.New[K, V]()}
}

func (m *CornelkMap[K, V]) Load(key K) (V, bool) { return m.m.Get(key) }
func (m *CornelkMap[K, V]) Store(key K, value V) { m.m.Set(key, value) }
func (m *CornelkMap[K, V]) Delete(key K)         { m.m.Del(key) }
func (m *CornelkMap[K, V]) Len() int             { return m.m.Len() }

// LoadAndDelete is not atomic. Control block stores only mutate the map with
// interrupts disabled so the gap between Get and Del is never observed.
func (m *CornelkMap[K, V]) LoadAndDelete(key K) (V, bool) {
	val, ok := m.m.Get(key)
	if ok {
		m.m.Del(key)
	}
	return val, ok
}

func (m *CornelkMap[K, V]) LoadOrStore(key K, valueFactory func() V) (V, bool) {
	if val, ok := m.m.Get(key); ok {
		return val, true
	}
	return m.m.GetOrInsert(key, valueFactory())
}

func (m *CornelkMap[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(f)
}

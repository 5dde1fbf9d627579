// Package maps provides the keyed tables used by the kernel to look up
// control blocks by their integer identifiers.
package maps

const (
	// ImplXSync selects the puzpuzpuz/xsync backed map.
	ImplXSync = "xsync"

	// ImplCornelk selects the cornelk/hashmap backed map.
	ImplCornelk = "cornelk"
)

// Integer is a constraint that permits any integer type.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// ConcurrentMap defines a generic map with integer keys that is safe for
// concurrent use.
type ConcurrentMap[K Integer, V any] interface {
	Load(key K) (V, bool)
	Store(key K, value V)
	Delete(key K)
	LoadAndDelete(key K) (V, bool)

	// LoadOrStore returns the existing value for key if present and true.
	// Otherwise it stores and returns the value built by valueFactory and
	// false.
	LoadOrStore(key K, valueFactory func() V) (V, bool)
	Range(f func(key K, value V) bool)
	Len() int
}

// NewConcurrentMap returns a map using the named implementation. Unknown
// names select the xsync implementation.
func NewConcurrentMap[K Integer, V any](impl string) ConcurrentMap[K, V] {
	switch impl {
	case ImplCornelk:
		return NewCornelkMap[K, V]()
	default:
		return NewXSyncMap[K, V]()
	}
}

// Valid returns true if impl names a known implementation.
func Valid(impl string) bool {
	return impl == ImplXSync || impl == ImplCornelk
}

// Package chain implements the in-process execution host the settlement
// contracts run on: a journal of undoable state changes, contract dispatch by
// address, native value balances, event logs and revert propagation.
package chain

// Journal records undo closures for every state change made while a
// transaction is executing. Reverting to a snapshot replays the closures in
// reverse order.
type Journal struct {
	entries []func()
}

// Append registers the closure that undoes the change just made.
func (j *Journal) Append(undo func()) {
	j.entries = append(j.entries, undo)
}

// Snapshot returns an identifier for the current journal position.
func (j *Journal) Snapshot() int {
	return len(j.entries)
}

// RevertTo undoes every change recorded after the given snapshot.
func (j *Journal) RevertTo(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(j.entries) - 1; i >= id; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	if id < len(j.entries) {
		j.entries = j.entries[:id]
	}
}

// Reset drops all undo entries, making the current state final.
func (j *Journal) Reset() {
	clear(j.entries)
	j.entries = j.entries[:0]
}

// Len reports the number of recorded changes.
func (j *Journal) Len() int {
	return len(j.entries)
}

// StorageMap is a journaled key-value map used as contract storage. Values
// must be treated as immutable once stored; replace them with Set instead of
// mutating them in place so the journal can restore the previous value.
type StorageMap[K comparable, V any] struct {
	journal *Journal
	m       map[K]V
}

// NewStorageMap creates an empty map whose writes are recorded in j.
func NewStorageMap[K comparable, V any](j *Journal) *StorageMap[K, V] {
	return &StorageMap[K, V]{journal: j, m: make(map[K]V)}
}

// Get returns the value stored under k.
func (s *StorageMap[K, V]) Get(k K) (V, bool) {
	v, ok := s.m[k]
	return v, ok
}

// Set stores v under k.
func (s *StorageMap[K, V]) Set(k K, v V) {
	prev, had := s.m[k]
	s.m[k] = v
	s.journal.Append(func() {
		if had {
			s.m[k] = prev
		} else {
			delete(s.m, k)
		}
	})
}

// Delete clears k. Deleting a missing key records nothing.
func (s *StorageMap[K, V]) Delete(k K) {
	prev, had := s.m[k]
	if !had {
		return
	}
	delete(s.m, k)
	s.journal.Append(func() { s.m[k] = prev })
}

// Len returns the number of stored keys.
func (s *StorageMap[K, V]) Len() int {
	return len(s.m)
}

// Range calls fn for every entry until fn returns false. Iteration order is
// unspecified.
func (s *StorageMap[K, V]) Range(fn func(K, V) bool) {
	for k, v := range s.m {
		if !fn(k, v) {
			return
		}
	}
}

package types

import (
	"iter"
	"sync"
)

// CallbackManager keeps an ordered registry of callbacks.
// The zero value is ready to use.
type CallbackManager[T any] struct {
	mu     sync.RWMutex
	cbs    []callback[T]
	nextID int
}

type callback[T any] struct {
	id int
	cb T
}

func (m *CallbackManager[T]) Len() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cbs)
}

// Add registers cb and returns a function that removes it.
// The remove function is idempotent.
func (m *CallbackManager[T]) Add(cb T) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.cbs = append(m.cbs, callback[T]{id, cb})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			for i := range m.cbs {
				if m.cbs[i].id == id {
					m.cbs = append(m.cbs[:i], m.cbs[i+1:]...)
					break
				}
			}
			m.mu.Unlock()
		})
	}
}

// Range calls fn for each registered callback in registration order.
// Callbacks are snapshotted before iteration, so fn may add or remove
// callbacks without deadlocking.
func (m *CallbackManager[T]) Range(fn func(cb T) bool) {
	if m == nil {
		return
	}

	m.mu.RLock()
	cbs := make([]T, len(m.cbs))
	for i := range m.cbs {
		cbs[i] = m.cbs[i].cb
	}
	m.mu.RUnlock()

	for _, cb := range cbs {
		if !fn(cb) {
			return
		}
	}
}

// All returns an iterator over the registered callbacks in registration order.
func (m *CallbackManager[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		m.Range(yield)
	}
}

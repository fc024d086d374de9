package realtime

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registration is returned when a handler is added. Remove revokes it; it is
// safe to call more than once.
type Registration struct {
	once   sync.Once
	remove func()
}

// Remove unregisters the handler.
func (r *Registration) Remove() {
	if r == nil || r.remove == nil {
		return
	}
	r.once.Do(r.remove)
}

type entry[V any] struct {
	id uint64
	fn func(V)
}

// registry maps keys to ordered handler lists. Handlers run outside the lock
// and a panic in one does not stop the rest.
type registry[K comparable, V any] struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[K][]entry[V]
}

func newRegistry[K comparable, V any]() *registry[K, V] {
	return &registry[K, V]{handlers: make(map[K][]entry[V])}
}

func (r *registry[K, V]) add(key K, fn func(V)) *Registration {
	r.mu.Lock()
	r.next++
	id := r.next
	r.handlers[key] = append(r.handlers[key], entry[V]{id: id, fn: fn})
	r.mu.Unlock()

	return &Registration{remove: func() { r.drop(key, id) }}
}

func (r *registry[K, V]) drop(key K, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[key]
	for i, e := range list {
		if e.id == id {
			r.handlers[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.handlers[key]) == 0 {
		delete(r.handlers, key)
	}
}

func (r *registry[K, V]) count(key K) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[key])
}

func (r *registry[K, V]) call(key K, v V, logger *slog.Logger) {
	r.mu.RLock()
	list := append([]entry[V](nil), r.handlers[key]...)
	r.mu.RUnlock()

	for _, e := range list {
		safeCall(e.fn, v, logger, key)
	}
}

func safeCall[K any, V any](fn func(V), v V, logger *slog.Logger, key K) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("realtime handler panicked",
				"handler", fmt.Sprint(key),
				"panic", fmt.Sprint(rec),
			)
		}
	}()
	fn(v)
}

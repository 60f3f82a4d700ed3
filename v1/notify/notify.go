// Package notify implements a small named-event registry. Listeners are
// invoked synchronously, in registration order, on the goroutine that emits.
package notify

import "sync"

// ID identifies a registered listener.
type ID uint64

type listener[E any] struct {
	id   ID
	fn   func(E)
	once bool
}

// Emitter maps event names to ordered listener lists.
type Emitter[E any] struct {
	mu        sync.RWMutex
	next      ID
	listeners map[string][]listener[E]
}

// New returns an empty Emitter.
func New[E any]() *Emitter[E] {
	return &Emitter[E]{listeners: make(map[string][]listener[E])}
}

// On registers fn for name and returns its ID.
func (e *Emitter[E]) On(name string, fn func(E)) ID {
	return e.add(name, fn, false)
}

// Once registers fn for the next emission of name only.
func (e *Emitter[E]) Once(name string, fn func(E)) ID {
	return e.add(name, fn, true)
}

func (e *Emitter[E]) add(name string, fn func(E), once bool) ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.listeners[name] = append(e.listeners[name], listener[E]{id: e.next, fn: fn, once: once})
	return e.next
}

// Off removes the listener with id from name. It reports whether a listener
// was removed.
func (e *Emitter[E]) Off(name string, id ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remove(name, id)
}

func (e *Emitter[E]) remove(name string, id ID) bool {
	ls := e.listeners[name]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		// copy so snapshots held by in-flight emissions stay intact
		next := make([]listener[E], 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, name)
		} else {
			e.listeners[name] = next
		}
		return true
	}
	return false
}

// Clear removes every listener registered for name.
func (e *Emitter[E]) Clear(name string) {
	e.mu.Lock()
	delete(e.listeners, name)
	e.mu.Unlock()
}

// Listeners returns the number of listeners registered for name.
func (e *Emitter[E]) Listeners(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}

// Emit calls every listener of name with ev and returns how many were
// called. Listeners added or removed during emission only affect later
// emissions.
func (e *Emitter[E]) Emit(name string, ev E) int {
	e.mu.Lock()
	ls := e.listeners[name]
	for _, l := range ls {
		if l.once {
			e.remove(name, l.id)
		}
	}
	e.mu.Unlock()

	for _, l := range ls {
		l.fn(ev)
	}
	return len(ls)
}

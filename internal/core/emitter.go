package core

import "sync"

type listenerEntry struct {
	id uint64
	fn Listener
}

// Emitter is an in-process EventSource: a table of event name to ordered
// listeners. Listeners run on the emitting goroutine in registration order.
type Emitter struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[string][]listenerEntry
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]listenerEntry)}
}

func (e *Emitter) Subscribe(event string, fn Listener) func() {
	e.mu.Lock()
	e.next++
	id := e.next
	e.listeners[event] = append(e.listeners[event], listenerEntry{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(event, id) })
	}
}

func (e *Emitter) remove(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[event]
	for i, l := range entries {
		if l.id == id {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(e.listeners, event)
		return
	}
	e.listeners[event] = entries
}

// Emit delivers data to every listener of event and returns how many ran.
func (e *Emitter) Emit(event string, data any) int {
	e.mu.RLock()
	entries := e.listeners[event]
	e.mu.RUnlock()
	for _, l := range entries {
		l.fn(data)
	}
	return len(entries)
}

func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}

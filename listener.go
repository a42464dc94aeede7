package scripting

import (
	"reflect"
	"sync"
)

// EventKind identifies an execution lifecycle notification.
type EventKind int

const (
	EventEngineStart EventKind = iota + 1
	EventEngineEnd
	EventScriptStart
	EventScriptEnd
)

func (k EventKind) String() string {
	switch k {
	case EventEngineStart:
		return "engine_start"
	case EventEngineEnd:
		return "engine_end"
	case EventScriptStart:
		return "script_start"
	case EventScriptEnd:
		return "script_end"
	default:
		return "unknown"
	}
}

// ExecutionListener observes engine and script lifecycle events. script is
// nil for engine-level events.
type ExecutionListener interface {
	Notify(engine *Engine, script *Script, kind EventKind)
}

// ListenerFunc is an adapter that lets you use a function as an ExecutionListener
type ListenerFunc func(engine *Engine, script *Script, kind EventKind)

func (f ListenerFunc) Notify(engine *Engine, script *Script, kind EventKind) {
	f(engine, script, kind)
}

// Subscription removes a registered listener.
type Subscription interface {
	Unsubscribe()
}

type listenerEntry struct {
	id       int64
	listener ExecutionListener
}

// listenerRegistry has set semantics for comparable listeners: adding the
// same value twice keeps a single registration. Function listeners are not
// comparable, so each Add of one registers a new entry.
type listenerRegistry struct {
	mu      sync.RWMutex
	nextID  int64
	entries []listenerEntry
}

func (r *listenerRegistry) add(l ExecutionListener) Subscription {
	if l == nil {
		return listenerSub{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if isComparable(l) {
		for _, e := range r.entries {
			if isComparable(e.listener) && e.listener == l {
				return listenerSub{registry: r, id: e.id}
			}
		}
	}

	r.nextID++
	r.entries = append(r.entries, listenerEntry{id: r.nextID, listener: l})
	return listenerSub{registry: r, id: r.nextID}
}

func (r *listenerRegistry) remove(l ExecutionListener) bool {
	if l == nil || !isComparable(l) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if isComparable(e.listener) && e.listener == l {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *listenerRegistry) removeID(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	newList := make([]listenerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.id != id {
			newList = append(newList, e)
		}
	}
	r.entries = newList
}

// snapshot lets notification run without holding the lock, so listeners
// may add or remove listeners while being notified.
func (r *listenerRegistry) snapshot() []ExecutionListener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ExecutionListener, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.listener
	}
	return out
}

func (r *listenerRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func isComparable(l ExecutionListener) bool {
	return reflect.TypeOf(l).Comparable()
}

type listenerSub struct {
	registry *listenerRegistry
	id       int64
}

func (s listenerSub) Unsubscribe() {
	if s.registry == nil {
		return
	}
	s.registry.removeID(s.id)
}

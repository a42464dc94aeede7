package server

import (
	"sync"
	"time"

	scripting "github.com/goliatone/go-scripting"
)

type trackedScript struct {
	script    *scripting.Script
	submitted time.Time
}

// resultStore keeps submitted scripts for polling. When full, the oldest
// finished entry is evicted; pending entries are never dropped.
type resultStore struct {
	mu      sync.Mutex
	max     int
	order   []string
	entries map[string]trackedScript
}

func newResultStore(max int) *resultStore {
	return &resultStore{
		max:     max,
		entries: make(map[string]trackedScript),
	}
}

func (s *resultStore) put(script *scripting.Script) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.max {
		s.evictLocked()
	}
	s.entries[script.ID()] = trackedScript{script: script, submitted: time.Now()}
	s.order = append(s.order, script.ID())
}

func (s *resultStore) get(id string) (trackedScript, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	return entry, ok
}

func (s *resultStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *resultStore) evictLocked() {
	for i, id := range s.order {
		if s.entries[id].script.Result().IsReady() {
			delete(s.entries, id)
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *resultStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

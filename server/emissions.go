package server

import (
	"sync"

	"github.com/solteris/imagebridge/bridge"
)

// StoreListener is notified of new emissions in call order.
type StoreListener func(sessionID string, e bridge.Emission)

// EmissionStore collects the values scripts emit, per session and in call
// order, so that UI consumers can fetch or stream them after (or during)
// a run.
type EmissionStore struct {
	mu        sync.RWMutex
	bySession map[string][]bridge.Emission
	listeners []StoreListener
}

// NewEmissionStore creates an empty emission store.
func NewEmissionStore(listeners ...StoreListener) *EmissionStore {
	return &EmissionStore{
		bySession: make(map[string][]bridge.Emission),
		listeners: listeners,
	}
}

// Add records an emission for a session and notifies listeners. Calls for
// one session arrive in script call order because runs are serialized by
// the session worker.
func (s *EmissionStore) Add(sessionID string, e bridge.Emission) {
	s.mu.Lock()
	s.bySession[sessionID] = append(s.bySession[sessionID], e)
	listeners := s.listeners
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(sessionID, e)
	}
}

// ForSession returns the session's emissions in call order.
func (s *EmissionStore) ForSession(sessionID string) []bridge.Emission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emissions := s.bySession[sessionID]
	out := make([]bridge.Emission, len(emissions))
	copy(out, emissions)
	return out
}

// Clear drops a session's emissions, typically at session destroy.
func (s *EmissionStore) Clear(sessionID string) {
	s.mu.Lock()
	delete(s.bySession, sessionID)
	s.mu.Unlock()
}

// EmitterFor returns a bridge.Emitter that records into this store under
// the given session ID.
func (s *EmissionStore) EmitterFor(sessionID string) bridge.Emitter {
	return bridge.EmitterFunc(func(e bridge.Emission) {
		s.Add(sessionID, e)
	})
}

package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/solteris/imagebridge/bridge"
)

// Session is one scripting session: a variable store surviving across
// sequential script runs, the dispatcher bound at creation, and the worker
// serializing access.
type Session struct {
	ID         string
	Name       string
	Store      *bridge.Store
	Dispatcher *bridge.Dispatcher

	worker *Worker
}

// Do runs fn on the session's worker goroutine.
func (s *Session) Do(fn func() (any, error)) (any, error) {
	return s.worker.Do(fn)
}

// SessionStore manages the live sessions of one server.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	registry *bridge.Registry
	engine   bridge.Engine
}

// NewSessionStore creates a session store over the host engine. The
// operation registry is built once here; sessions share it.
func NewSessionStore(eng bridge.Engine) (*SessionStore, error) {
	registry, err := bridge.NewRegistry(eng.Operations())
	if err != nil {
		return nil, err
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		registry: registry,
		engine:   eng,
	}, nil
}

// Create starts a session, pre-seeding its store with the given host
// values. The user-function table is captured from the engine at creation,
// so steps defined later do not appear in an existing session.
func (s *SessionStore) Create(name string, seed map[string]any) (*Session, error) {
	store, err := bridge.NewSeededStore(seed)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:         uuid.NewString(),
		Name:       name,
		Store:      store,
		Dispatcher: bridge.NewDispatcher(s.registry, s.engine.UserFunctions()),
		worker:     NewWorker(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session, nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Destroy removes a session and stops its worker.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		session.worker.Stop()
	}
	return ok
}

// Close destroys every session.
func (s *SessionStore) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.worker.Stop()
	}
}

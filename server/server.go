// Package server exposes the scripting bridge over HTTP: session lifecycle,
// script runs, variable access and the emitted-value stream. All script
// execution for a session funnels through its worker, so contexts sharing a
// variable store never run concurrently.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tliron/commonlog"

	"github.com/solteris/imagebridge/bridge"
	"github.com/solteris/imagebridge/engine"
)

var log = commonlog.GetLogger("imagebridge.server")

const contentTypeCBOR = "application/cbor"

// Config holds HTTP server configuration.
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns the default HTTP server configuration.
func DefaultConfig() Config {
	return Config{
		Listen:       ":8085",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server wires the bridge, a host runtime and the HTTP API together.
type Server struct {
	config    Config
	runtime   *engine.Runtime
	keys      bridge.ResultKeys
	sessions  *SessionStore
	emissions *EmissionStore
	handles   *bridge.HandleTable
	http      *http.Server
}

// New creates a server over the given host runtime.
func New(rt *engine.Runtime, keys bridge.ResultKeys, config Config) (*Server, error) {
	sessions, err := NewSessionStore(rt.Engine)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		runtime:   rt,
		keys:      keys,
		sessions:  sessions,
		emissions: NewEmissionStore(),
		handles:   bridge.NewHandleTable(),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.destroySession)
			r.Post("/run", s.runScript)
			r.Get("/variables", s.listVariables)
			r.Get("/variables/{name}", s.getVariable)
			r.Put("/variables/{name}", s.putVariable)
			r.Get("/emissions", s.listEmissions)
		})
	})

	s.http = &http.Server{
		Addr:         config.Listen,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe starts serving and blocks until the listener fails.
func (s *Server) ListenAndServe() error {
	log.Infof("listening on %s", s.config.Listen)
	return s.http.ListenAndServe()
}

// Close shuts the HTTP server down and destroys all sessions.
func (s *Server) Close() error {
	s.sessions.Close()
	return s.http.Close()
}

// --- Handlers ---

type createSessionRequest struct {
	Name      string         `json:"name"`
	Variables map[string]any `json:"variables,omitempty"`
}

type sessionResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	seed, err := decodeVariables(req.Variables, s.handles)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.sessions.Create(req.Name, seed)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	log.Infof("session %s created (%q)", session.ID, session.Name)
	writePayload(w, r, http.StatusCreated, sessionResponse{ID: session.ID, Name: session.Name})
}

func (s *Server) destroySession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sessions.Destroy(id) {
		writeError(w, r, http.StatusNotFound, "session not found")
		return
	}
	s.emissions.Clear(id)
	s.handles.ReleaseOwner(id)
	w.WriteHeader(http.StatusNoContent)
}

type runRequestBody struct {
	Source string `json:"source"`
}

type runResponse struct {
	Result resultPayload `json:"result"`
}

type resultPayload struct {
	Kind     string         `json:"kind"`
	Value    any            `json:"value,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) runScript(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "session not found")
		return
	}

	var req runRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		writeError(w, r, http.StatusBadRequest, "source is required")
		return
	}

	emitter := s.emissions.EmitterFor(session.ID)
	value, err := session.Do(func() (any, error) {
		result, runErr := bridge.Run(s.runtime.Evaluator, req.Source, session.Store, session.Dispatcher, emitter, s.keys)
		if runErr != nil {
			return nil, runErr
		}
		return result, nil
	})
	if err != nil {
		log.Errorf("session %s: script failed: %v", session.ID, err)
		writeScriptError(w, r, err)
		return
	}

	result := value.(bridge.Result)
	reg := s.handles.Owned(session.ID)
	payload := resultPayload{Kind: result.Kind.String()}
	if result.Kind != bridge.ResultAbsent {
		payload.Value = bridge.WireTree(result.Value, reg)
	}
	if result.Metadata != nil {
		payload.Metadata = make(map[string]any, len(result.Metadata))
		for k, v := range result.Metadata {
			payload.Metadata[k] = bridge.WireTree(v, reg)
		}
	}
	writePayload(w, r, http.StatusOK, runResponse{Result: payload})
}

func (s *Server) listVariables(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "session not found")
		return
	}

	snapshot, err := session.Do(func() (any, error) {
		return session.Store.Snapshot(), nil
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	vars := snapshot.(map[string]bridge.Value)
	reg := s.handles.Owned(session.ID)
	out := make(map[string]any, len(vars))
	for name, v := range vars {
		out[name] = bridge.WireTree(v, reg)
	}
	writePayload(w, r, http.StatusOK, out)
}

func (s *Server) getVariable(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "session not found")
		return
	}
	name := chi.URLParam(r, "name")

	value, err := session.Do(func() (any, error) {
		return session.Store.Get(name)
	})
	if err != nil {
		var undefined *bridge.UndefinedVariable
		if errors.As(err, &undefined) {
			writeError(w, r, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	writePayload(w, r, http.StatusOK, map[string]any{
		"value": bridge.WireTree(value.(bridge.Value), s.handles.Owned(session.ID)),
	})
}

type putVariableRequest struct {
	Value any `json:"value"`
}

func (s *Server) putVariable(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "session not found")
		return
	}
	name := chi.URLParam(r, "name")

	var req putVariableRequest
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	v, err := bridge.FromWireTree(normalizeJSON(req.Value), s.handles)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := session.Do(func() (any, error) {
		session.Store.Set(name, v)
		return nil, nil
	}); err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type emissionPayload struct {
	Seq         int    `json:"seq"`
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Value       any    `json:"value"`
}

func (s *Server) listEmissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.sessions.Get(id); !ok {
		writeError(w, r, http.StatusNotFound, "session not found")
		return
	}

	emissions := s.emissions.ForSession(id)
	reg := s.handles.Owned(id)
	out := make([]emissionPayload, len(emissions))
	for i, e := range emissions {
		out[i] = emissionPayload{
			Seq:         e.Seq,
			ID:          e.ID,
			DisplayName: e.DisplayName,
			Value:       bridge.WireTree(e.Value, reg),
		}
	}
	writePayload(w, r, http.StatusOK, out)
}

// --- Helpers ---

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeScriptError maps a failed run onto the error taxonomy so that
// clients see which kind of failure occurred and the originating call.
func writeScriptError(w http.ResponseWriter, r *http.Request, err error) {
	writePayload(w, r, http.StatusUnprocessableEntity, errorResponse{
		Error: errorBody{Kind: errorKind(err), Message: err.Error()},
	})
}

func errorKind(err error) string {
	var (
		undefinedVar  *bridge.UndefinedVariable
		unknownOp     *bridge.UnknownOperation
		undefinedFunc *bridge.UndefinedUserFunction
		argErr        *bridge.ArgumentError
		marshalErr    *bridge.MarshalError
		opErr         *bridge.OperationError
	)
	switch {
	case errors.As(err, &opErr):
		return "OperationError"
	case errors.As(err, &undefinedVar):
		return "UndefinedVariable"
	case errors.As(err, &unknownOp):
		return "UnknownOperation"
	case errors.As(err, &undefinedFunc):
		return "UndefinedUserFunction"
	case errors.As(err, &argErr):
		return "ArgumentError"
	case errors.As(err, &marshalErr):
		return "MarshalError"
	default:
		return "EvaluationError"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writePayload(w, r, status, errorResponse{Error: errorBody{Kind: httpKind(status), Message: message}})
}

func httpKind(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NotFound"
	case http.StatusBadRequest:
		return "BadRequest"
	default:
		return http.StatusText(status)
	}
}

// writePayload serializes the payload as JSON, or as CBOR when the client
// asks for it.
func writePayload(w http.ResponseWriter, r *http.Request, status int, payload any) {
	if r.Header.Get("Accept") == contentTypeCBOR {
		data, err := cbor.Marshal(payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentTypeCBOR)
		w.WriteHeader(status)
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeVariables converts a JSON variables object into host-native seed
// values, resolving handle references.
func decodeVariables(vars map[string]any, table *bridge.HandleTable) (map[string]any, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	seed := make(map[string]any, len(vars))
	for name, tree := range vars {
		v, err := bridge.FromWireTree(normalizeJSON(tree), table)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		seed[name] = v
	}
	return seed, nil
}

// normalizeJSON rewrites json.Number nodes into int64 or float64 so that
// integers seeded over HTTP stay integers.
func normalizeJSON(tree any) any {
	switch n := tree.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = normalizeJSON(v)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = normalizeJSON(v)
		}
		return out
	default:
		return tree
	}
}

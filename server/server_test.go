package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solteris/imagebridge/bridge"
	"github.com/solteris/imagebridge/engine"
)

type testEngine struct{}

func (testEngine) Operations() []*bridge.Descriptor {
	return []*bridge.Descriptor{
		{
			Name:   "load",
			Params: []bridge.Param{bridge.Req("file")},
			Fn: func(args map[string]any) (any, error) {
				return &bridge.Handle{Kind: "image", Data: args["file"]}, nil
			},
		},
	}
}

func (testEngine) UserFunctions() []*bridge.UserFunction { return nil }

// scriptedEvaluator interprets a few fixed script names, standing in for a
// real language runtime.
func scriptedEvaluator() bridge.Evaluator {
	return bridge.EvaluatorFunc(func(ctx *bridge.ExecContext, source string) error {
		switch source {
		case "increment":
			v, err := ctx.GetVariableOr("counter", 0)
			if err != nil {
				return err
			}
			n, _ := v.Int()
			return ctx.SetVariable("counter", n+1)
		case "structured":
			img, err := ctx.Load("sun.fits")
			if err != nil {
				return err
			}
			return ctx.SetResult(map[string]any{"processed": img, "quality": 0.93})
		case "scalar":
			return ctx.SetResult("done")
		case "emit two":
			if err := ctx.Emit("first", "First", "id-1"); err != nil {
				return err
			}
			return ctx.Emit("second", "Second", "")
		case "unknown op":
			_, err := ctx.Call("autocrop", nil, nil)
			return err
		default:
			return fmt.Errorf("unscripted source %q", source)
		}
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	rt := &engine.Runtime{Engine: testEngine{}, Evaluator: scriptedEvaluator()}
	s, err := New(rt, bridge.DefaultResultKeys(), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.sessions.Close() })
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func createSession(t *testing.T, s *Server, variables map[string]any) string {
	t.Helper()
	rec, body := doJSON(t, s, http.MethodPost, "/api/sessions", map[string]any{
		"name":      "test",
		"variables": variables,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, ok := body["id"].(string)
	require.True(t, ok)
	return id
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)

	id := createSession(t, s, nil)

	rec, _ := doJSON(t, s, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body := doJSON(t, s, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "NotFound", errBody["kind"])
}

func TestVariableEndpoints(t *testing.T) {
	s := newTestServer(t)
	id := createSession(t, s, map[string]any{"gamma": 2, "name": "sun"})

	rec, body := doJSON(t, s, http.MethodGet, "/api/sessions/"+id+"/variables", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["gamma"])
	assert.Equal(t, "sun", body["name"])

	rec, body = doJSON(t, s, http.MethodGet, "/api/sessions/"+id+"/variables/gamma", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["value"])

	rec, _ = doJSON(t, s, http.MethodGet, "/api/sessions/"+id+"/variables/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, s, http.MethodPut, "/api/sessions/"+id+"/variables/gamma", map[string]any{"value": 3.5})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec, body = doJSON(t, s, http.MethodGet, "/api/sessions/"+id+"/variables/gamma", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.5, body["value"])
}

func TestRunSharesStoreAcrossRuns(t *testing.T) {
	s := newTestServer(t)
	id := createSession(t, s, nil)

	for i := 0; i < 2; i++ {
		rec, _ := doJSON(t, s, http.MethodPost, "/api/sessions/"+id+"/run", map[string]any{"source": "increment"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec, body := doJSON(t, s, http.MethodGet, "/api/sessions/"+id+"/variables/counter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["value"])
}

func TestRunStructuredResult(t *testing.T) {
	s := newTestServer(t)
	id := createSession(t, s, nil)

	rec, body := doJSON(t, s, http.MethodPost, "/api/sessions/"+id+"/run", map[string]any{"source": "structured"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := body["result"].(map[string]any)
	assert.Equal(t, "structured", result["kind"])

	ref := result["value"].(map[string]any)
	assert.Equal(t, "image", ref["kind"])
	assert.NotEmpty(t, ref["$handle"])

	metadata := result["metadata"].(map[string]any)
	assert.Equal(t, 0.93, metadata["quality"])
}

func TestRunAbsentAndScalarResults(t *testing.T) {
	s := newTestServer(t)
	id := createSession(t, s, nil)

	rec, body := doJSON(t, s, http.MethodPost, "/api/sessions/"+id+"/run", map[string]any{"source": "emit two"})
	require.Equal(t, http.StatusOK, rec.Code)
	result := body["result"].(map[string]any)
	assert.Equal(t, "absent", result["kind"])
	assert.Nil(t, result["value"])

	rec, body = doJSON(t, s, http.MethodPost, "/api/sessions/"+id+"/run", map[string]any{"source": "scalar"})
	require.Equal(t, http.StatusOK, rec.Code)
	result = body["result"].(map[string]any)
	assert.Equal(t, "scalar", result["kind"])
	assert.Equal(t, "done", result["value"])
}

func TestRunErrorTaxonomy(t *testing.T) {
	s := newTestServer(t)
	id := createSession(t, s, nil)

	rec, body := doJSON(t, s, http.MethodPost, "/api/sessions/"+id+"/run", map[string]any{"source": "unknown op"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "UnknownOperation", errBody["kind"])
	assert.Contains(t, errBody["message"], "autocrop")

	rec, _ = doJSON(t, s, http.MethodPost, "/api/sessions/missing/run", map[string]any{"source": "scalar"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmissionsEndpoint(t *testing.T) {
	s := newTestServer(t)
	id := createSession(t, s, nil)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/sessions/"+id+"/run", map[string]any{"source": "emit two"})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/emissions", nil)
	out := httptest.NewRecorder()
	s.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	var emissions []map[string]any
	require.NoError(t, json.Unmarshal(out.Body.Bytes(), &emissions))
	require.Len(t, emissions, 2)
	assert.Equal(t, float64(1), emissions[0]["seq"])
	assert.Equal(t, "id-1", emissions[0]["id"])
	assert.Equal(t, "First", emissions[0]["displayName"])
	assert.Equal(t, "second", emissions[1]["value"])
	assert.NotEmpty(t, emissions[1]["id"], "missing identifier should be generated")

	// Destroy clears the emissions with the session.
	rec, _ = doJSON(t, s, http.MethodDelete, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, s.emissions.ForSession(id))
}

func TestCBORNegotiation(t *testing.T) {
	s := newTestServer(t)
	id := createSession(t, s, map[string]any{"gamma": 2})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/variables", nil)
	req.Header.Set("Accept", "application/cbor")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/cbor", rec.Header().Get("Content-Type"))

	var decoded map[string]any
	require.NoError(t, cbor.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.EqualValues(t, 2, decoded["gamma"])
}

func TestSeededHandleRoundTrip(t *testing.T) {
	s := newTestServer(t)

	// Run once to mint a handle reference, then seed it into a new session.
	id := createSession(t, s, nil)
	rec, body := doJSON(t, s, http.MethodPost, "/api/sessions/"+id+"/run", map[string]any{"source": "structured"})
	require.Equal(t, http.StatusOK, rec.Code)
	ref := body["result"].(map[string]any)["value"].(map[string]any)

	second := createSession(t, s, map[string]any{"img": ref})
	rec, body = doJSON(t, s, http.MethodGet, "/api/sessions/"+second+"/variables/img", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := body["value"].(map[string]any)
	assert.Equal(t, ref["$handle"], got["$handle"])

	// An unknown reference is rejected at creation.
	rec, _ = doJSON(t, s, http.MethodPost, "/api/sessions", map[string]any{
		"name":      "bad",
		"variables": map[string]any{"img": map[string]any{"$handle": "h-999", "kind": "image"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDestroyReleasesHandles(t *testing.T) {
	s := newTestServer(t)

	first := createSession(t, s, nil)
	second := createSession(t, s, nil)
	for _, id := range []string{first, second} {
		rec, _ := doJSON(t, s, http.MethodPost, "/api/sessions/"+id+"/run", map[string]any{"source": "structured"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 2, s.handles.Len())

	rec, _ := doJSON(t, s, http.MethodDelete, "/api/sessions/"+first, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Only the destroyed session's handles go; the table does not grow
	// without bound as sessions come and go.
	assert.Equal(t, 1, s.handles.Len())
}

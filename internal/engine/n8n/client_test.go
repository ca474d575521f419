package n8n

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/divert-core/internal/infrastructure/config"
)

// fakeEngine records requests and answers from a route table.
type fakeEngine struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter, body map[string]any)
}

type recordedRequest struct {
	Method string
	Path   string
	APIKey string
	User   string
	Body   map[string]any
}

func newFakeEngine(t *testing.T) (*fakeEngine, *Client) {
	t.Helper()
	fe := &fakeEngine{routes: map[string]func(http.ResponseWriter, map[string]any){}}
	srv := httptest.NewServer(fe)
	t.Cleanup(srv.Close)

	c := New(config.N8NConfig{
		URL:               srv.URL + "/api/v1",
		APIKey:            "key-123",
		BasicAuthUser:     "admin",
		BasicAuthPassword: "pw",
		Timeout:           5,
		ProbeTimeout:      1,
	}, srv.Client())
	return fe, c
}

func (fe *fakeEngine) handle(method, path string, fn func(w http.ResponseWriter, body map[string]any)) {
	fe.routes[method+" "+path] = fn
}

func (fe *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // empty bodies are fine
	user, _, _ := r.BasicAuth()

	fe.mu.Lock()
	fe.requests = append(fe.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		APIKey: r.Header.Get(apiKeyHeader),
		User:   user,
		Body:   body,
	})
	fn, ok := fe.routes[r.Method+" "+r.URL.Path]
	fe.mu.Unlock()

	if !ok {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
		return
	}
	fn(w, body)
}

func (fe *fakeEngine) last() recordedRequest {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.requests[len(fe.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}

func TestProbe(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("GET", "/api/v1/workflows", func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	})

	require.NoError(t, c.Probe(context.Background()))

	req := fe.last()
	assert.Equal(t, "key-123", req.APIKey)
	assert.Equal(t, "admin", req.User)
}

func TestProbe_Unauthorized(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("GET", "/api/v1/workflows", func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "unauthorized"})
	})

	err := c.Probe(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Contains(t, se.Body, "unauthorized")
}

func TestProbe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(config.N8NConfig{URL: url + "/api/v1", ProbeTimeout: 1}, nil)
	err := c.Probe(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestProbe_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(config.N8NConfig{URL: srv.URL, ProbeTimeout: 1}, srv.Client())
	start := time.Now()
	err := c.Probe(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNotConfigured(t *testing.T) {
	c := New(config.N8NConfig{}, nil)
	assert.ErrorIs(t, c.Probe(context.Background()), ErrNotConfigured)
}

func TestCreateWorkflow_NumericID(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("POST", "/api/v1/workflows", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": 42, "name": body["name"]})
	})

	id, err := c.CreateWorkflow(context.Background(), map[string]any{"name": "Digest", "nodes": []any{}})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, "Digest", fe.last().Body["name"])
}

func TestCreateWorkflow_StringID(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("POST", "/api/v1/workflows", func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "aB3xYz"})
	})

	id, err := c.CreateWorkflow(context.Background(), map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "aB3xYz", id)
}

func TestCreateWorkflow_Rejected(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("POST", "/api/v1/workflows", func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "request/body must have required property 'nodes'"})
	})

	_, err := c.CreateWorkflow(context.Background(), map[string]any{"name": "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "create workflow", se.Op)
	assert.Contains(t, se.Error(), "nodes")
}

func TestCreateWorkflow_MissingID(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("POST", "/api/v1/workflows", func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusCreated, map[string]any{"name": "x"})
	})

	_, err := c.CreateWorkflow(context.Background(), map[string]any{"name": "x"})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestExecute(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("POST", "/api/v1/workflows/17/execute", func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{"executionId": 901, "data": map[string]any{"sent": 3}})
	})

	res, err := c.Execute(context.Background(), "17", map[string]any{"chat_id": "abc"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "901", res.ExecutionID)
	assert.Equal(t, map[string]any{"sent": float64(3)}, res.Data)

	body := fe.last().Body
	assert.Equal(t, "abc", body["chat_id"])
	assert.Equal(t, map[string]any{"id": "17"}, body["workflowData"])
}

func TestExecute_ApplicationFailure(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("POST", "/api/v1/workflows/17/execute", func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "executionId": "e-1"})
	})

	res, err := c.Execute(context.Background(), "17", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "e-1", res.ExecutionID)
	assert.Equal(t, map[string]any{}, res.Data)
}

func TestExecute_ServerError(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("POST", "/api/v1/workflows/17/execute", func(w http.ResponseWriter, _ map[string]any) {
		http.Error(w, "node Telegram failed", http.StatusInternalServerError)
	})

	_, err := c.Execute(context.Background(), "17", nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "node Telegram failed", se.Body)
}

func TestActivateDeactivateDelete(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("POST", "/api/v1/workflows/5/activate", func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 5, "active": true})
	})
	fe.handle("POST", "/api/v1/workflows/5/deactivate", func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusNoContent)
	})
	fe.handle("DELETE", "/api/v1/workflows/5", func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	require.NoError(t, c.Activate(ctx, "5"))
	require.NoError(t, c.Deactivate(ctx, "5"))
	require.NoError(t, c.DeleteWorkflow(ctx, "5"))

	err := c.Activate(ctx, "6")
	assert.True(t, IsNotFound(err))
}

func TestListWorkflows_FollowsCursor(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("GET", "/api/v1/workflows", func(w http.ResponseWriter, _ map[string]any) {
		fe.mu.Lock()
		calls := 0
		for _, r := range fe.requests {
			if r.Path == "/api/v1/workflows" {
				calls++
			}
		}
		fe.mu.Unlock()

		if calls == 1 {
			writeJSON(w, http.StatusOK, map[string]any{
				"data":       []any{map[string]any{"id": "1", "name": "a", "active": true}},
				"nextCursor": "page2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":       []any{map[string]any{"id": 2, "name": "b"}},
			"nextCursor": nil,
		})
	})

	wfs, err := c.ListWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, wfs, 2)
	assert.Equal(t, "1", wfs[0].ID())
	assert.True(t, wfs[0].Active())
	assert.Equal(t, "2", wfs[1].ID())
	assert.Equal(t, "b", wfs[1].Name())
}

func TestGetWorkflow(t *testing.T) {
	fe, c := newFakeEngine(t)
	fe.handle("GET", "/api/v1/workflows/9", func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "9", "name": "Digest", "active": false})
	})

	wf, err := c.GetWorkflow(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, "Digest", wf.Name())

	_, err = c.GetWorkflow(context.Background(), "10")
	assert.True(t, IsNotFound(err))
}

func TestWebhookURL(t *testing.T) {
	c := New(config.N8NConfig{URL: "http://localhost:5678/api/v1/"}, nil)
	assert.Equal(t, "http://localhost:5678/webhook/gmail-to-drive-1", c.WebhookURL("gmail-to-drive-1"))

	c = New(config.N8NConfig{URL: "http://n8n:5678/api/v1", WebhookBaseURL: "https://hooks.example.com/"}, nil)
	assert.Equal(t, "https://hooks.example.com/webhook/abc", c.WebhookURL("/abc"))
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{Op: "activate workflow", Code: 400}
	assert.Equal(t, "n8n: activate workflow: HTTP 400", err.Error())
	assert.False(t, errors.Is(err, ErrUnreachable))
	assert.True(t, strings.HasPrefix((&StatusError{Op: "x", Code: 500, Body: "boom"}).Error(), "n8n: x: HTTP 500"))
}

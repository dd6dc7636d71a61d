package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/api"
	"github.com/Aman-CERP/docsearch/internal/queue"
	"github.com/Aman-CERP/docsearch/internal/registry"
	"github.com/Aman-CERP/docsearch/internal/storage"
	"github.com/Aman-CERP/docsearch/internal/worker"
)

type harness struct {
	server   *Server
	queue    *queue.MemoryQueue
	registry *registry.Registry
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	r, err := registry.New(storage.NewMemory(), registry.Options{})
	require.NoError(t, err)
	q := queue.NewMemoryQueue(queue.Options{})
	t.Cleanup(func() {
		_ = r.Close()
		_ = q.Close()
	})
	return &harness{server: NewServer(api.New(r, q, nil), cfg), queue: q, registry: r}
}

func (h *harness) do(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	return rec.Code, out
}

func (h *harness) flush(t *testing.T, name string) {
	t.Helper()
	worker.NewDrainer(h.queue, h.registry, worker.Config{}).Drain(context.Background())
	e, err := h.registry.Open(context.Background(), name)
	require.NoError(t, err)
	require.NoError(t, e.Commit())
}

func TestServer_EndToEnd(t *testing.T) {
	h := newHarness(t, Config{})

	// Given: an index with two documents
	code, out := h.do(t, http.MethodPut, "/demo", `{"fields":{"id":{"type":"id"},"age":{"type":"long","store":true}}}`)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "Successful", out["message"])

	code, out = h.do(t, http.MethodPost, "/demo/index", `{"docs":[{"id":"a1","age":30},{"id":"a2","age":31}]}`)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "[2] document(s) have been scheduled for indexing", out["message"])
	h.flush(t, "demo")

	// When: searching with short GET aliases
	code, out = h.do(t, http.MethodGet, "/demo?q=age:30&l=5", "")

	// Then: one hit is rendered with its stored fields
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, float64(200), out["status"])
	assert.Equal(t, float64(1), out["num_hits"])
	docs := out["docs"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, map[string]any{"id": "a1", "age": float64(30)}, docs[0])

	// When: deleting by term through DELETE
	code, out = h.do(t, http.MethodDelete, "/demo", `{"terms":{"id":"a1"}}`)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "Documents of index [demo] have been scheduled for deleting", out["message"])
	h.flush(t, "demo")

	// Then: POST search sees the remaining document only
	code, out = h.do(t, http.MethodPost, "/demo/search", `{"query":"","limit":"10"}`)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, float64(1), out["num_hits"])
}

func TestServer_BookmarkPaging(t *testing.T) {
	h := newHarness(t, Config{})
	_, _ = h.do(t, http.MethodPost, "/demo/create", `{"fields":{"id":{"type":"id"}}}`)
	_, _ = h.do(t, http.MethodPost, "/demo/index", `{"docs":[{"id":"a"},{"id":"b"},{"id":"c"}]}`)
	h.flush(t, "demo")

	_, first := h.do(t, http.MethodPost, "/demo/search", `{"l":2}`)
	require.Len(t, first["docs"], 2)
	bookmark := first["bookmark"].(string)
	require.NotEmpty(t, bookmark)

	_, second := h.do(t, http.MethodGet, "/demo?bookmark="+bookmark, "")
	assert.Len(t, second["docs"], 1)
	assert.Equal(t, "", second["bookmark"])
}

func TestServer_ClientErrors(t *testing.T) {
	h := newHarness(t, Config{})
	_, _ = h.do(t, http.MethodPut, "/demo", `{"fields":{"id":{"type":"id"}}}`)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"malformed body", http.MethodPost, "/demo/index", `{"docs":`},
		{"no docs", http.MethodPost, "/demo/index", `{"docs":[]}`},
		{"bad field type", http.MethodPut, "/demo", `{"fields":{"x":{"type":"blob"}}}`},
		{"bad index name", http.MethodPut, "/no-dash", `{}`},
		{"delete without selector", http.MethodPost, "/demo/delete", `{}`},
		{"invalid query", http.MethodGet, "/demo?q=age:%3E", ""},
		{"unknown index", http.MethodGet, "/nope", ""},
		{"bad limit", http.MethodGet, "/demo?l=ten", ""},
		{"bad bookmark", http.MethodGet, "/demo?b=!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := h.do(t, tt.method, tt.target, tt.body)

			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, float64(400), out["status"])
			assert.NotEmpty(t, out["message"])
		})
	}
}

func TestServer_TruncateMessages(t *testing.T) {
	h := newHarness(t, Config{})

	code, out := h.do(t, http.MethodPost, "/demo/truncate", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Index [demo] has not been scheduled for truncating, maybe it doesnot exist?", out["message"])

	_, _ = h.do(t, http.MethodPut, "/demo", `{}`)
	code, out = h.do(t, http.MethodPost, "/demo/truncate", `{"secret":"x"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Index [demo] has been scheduled for truncating", out["message"])
}

func TestServer_BodyLimit(t *testing.T) {
	h := newHarness(t, Config{MaxBodyBytes: 32})

	code, out := h.do(t, http.MethodPost, "/demo/index", `{"docs":[{"title":"`+strings.Repeat("x", 64)+`"}]}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, float64(413), out["status"])
}

func TestServer_RateLimit(t *testing.T) {
	h := newHarness(t, Config{RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		code, _ := h.do(t, http.MethodGet, "/-/health", "")
		require.Equal(t, http.StatusOK, code)
	}
	code, out := h.do(t, http.MethodGet, "/-/health", "")

	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "too many requests", out["message"])
}

func TestServer_Status(t *testing.T) {
	h := newHarness(t, Config{Status: func(context.Context) any {
		return map[string]any{"status": 200, "engines": 3}
	}})

	code, out := h.do(t, http.MethodGet, "/-/status", "")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), out["engines"])
}

func TestServer_MethodNotAllowed(t *testing.T) {
	h := newHarness(t, Config{})
	req := httptest.NewRequest(http.MethodPatch, "/demo", nil)
	rec := httptest.NewRecorder()

	h.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/api"
	"github.com/Aman-CERP/docsearch/internal/queue"
	"github.com/Aman-CERP/docsearch/internal/registry"
	"github.com/Aman-CERP/docsearch/internal/storage"
)

// testSocketPath creates a unique socket path that's short enough for Unix sockets.
func testSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("docsearch-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

// testHandler serves a real API over an in-memory registry and queue.
type testHandler struct {
	*api.API
	queue    *queue.MemoryQueue
	registry *registry.Registry
}

func (h *testHandler) GetStatus() StatusResult {
	return StatusResult{Running: true, PID: os.Getpid(), Backend: "memory", QueueDepth: h.queue.Size()}
}

func newTestHandler(t *testing.T) *testHandler {
	t.Helper()
	r, err := registry.New(storage.NewMemory(), registry.Options{})
	require.NoError(t, err)
	q := queue.NewMemoryQueue(queue.Options{})
	t.Cleanup(func() {
		_ = r.Close()
		_ = q.Close()
	})
	return &testHandler{API: api.New(r, q, nil), queue: q, registry: r}
}

// startServer runs a server until the test ends and waits for its socket.
func startServer(t *testing.T, h RequestHandler) string {
	t.Helper()
	socketPath := testSocketPath(t)
	srv, err := NewServer(socketPath, nil)
	require.NoError(t, err)
	if h != nil {
		srv.SetHandler(h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return socketPath
}

func rawCall(t *testing.T, socketPath string, req any) Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(req))
	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	return resp
}

func TestServer_ListenAndServe(t *testing.T) {
	socketPath := testSocketPath(t)
	srv, err := NewServer(socketPath, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	// Cancelling stops the server and removes the socket
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestServer_StaleSocketReplaced(t *testing.T) {
	socketPath := testSocketPath(t)
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0644))
	srv, err := NewServer(socketPath, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.ListenAndServe(ctx) }()

	assert.Eventually(t, func() bool {
		return NewClient(Config{SocketPath: socketPath, Timeout: time.Second}).IsRunning()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServer_ProtocolErrors(t *testing.T) {
	socketPath := startServer(t, newTestHandler(t))

	tests := []struct {
		name string
		req  any
		code int
	}{
		{"unknown method", Request{JSONRPC: "2.0", Method: "reindex", ID: "1"}, ErrCodeMethodNotFound},
		{"wrong version", Request{JSONRPC: "1.0", Method: MethodPing, ID: "2"}, ErrCodeInvalidRequest},
		{"missing params", Request{JSONRPC: "2.0", Method: MethodSearch, ID: "3"}, ErrCodeInvalidParams},
		{"missing index", Request{JSONRPC: "2.0", Method: MethodSearch, Params: json.RawMessage(`{"query":"x"}`), ID: "4"}, ErrCodeInvalidParams},
		{"malformed params", Request{JSONRPC: "2.0", Method: MethodIndexDocuments, Params: json.RawMessage(`{"index":"demo","docs":"nope"}`), ID: "5"}, ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rawCall(t, socketPath, tt.req)

			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Nil(t, resp.Error.Data)
		})
	}
}

func TestServer_ParseError(t *testing.T) {
	socketPath := startServer(t, nil)
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestServer_IndexErrorsCarryStatus(t *testing.T) {
	socketPath := startServer(t, newTestHandler(t))

	// Given: a search against an index that does not exist
	resp := rawCall(t, socketPath, Request{
		JSONRPC: "2.0",
		Method:  MethodSearch,
		Params:  json.RawMessage(`{"index":"nope","query":""}`),
		ID:      "7",
	})

	// Then: it is an invalid-params error carrying the HTTP-style status
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	require.NotNil(t, resp.Error.Data)
	assert.Equal(t, 400, resp.Error.Data.Status)
	assert.Equal(t, "ERR_405_INDEX_NOT_FOUND", resp.Error.Data.ErrorCode)
	assert.Equal(t, "index [nope] does not exist", resp.Error.Message)
}

func TestServer_NoHandler(t *testing.T) {
	socketPath := startServer(t, nil)

	ping := rawCall(t, socketPath, Request{JSONRPC: "2.0", Method: MethodPing, ID: "1"})
	require.Nil(t, ping.Error)
	assert.JSONEq(t, `{"pong":true}`, string(ping.Result))

	status := rawCall(t, socketPath, Request{JSONRPC: "2.0", Method: MethodStatus, ID: "2"})
	require.Nil(t, status.Error)
	var s StatusResult
	require.NoError(t, json.Unmarshal(status.Result, &s))
	assert.True(t, s.Running)
	assert.Equal(t, os.Getpid(), s.PID)

	search := rawCall(t, socketPath, Request{JSONRPC: "2.0", Method: MethodSearch, Params: json.RawMessage(`{"index":"x"}`), ID: "3"})
	require.NotNil(t, search.Error)
	assert.Equal(t, ErrCodeInternalError, search.Error.Code)
}

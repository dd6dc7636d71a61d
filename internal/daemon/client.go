package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/docsearch/internal/api"
	"github.com/Aman-CERP/docsearch/internal/document"
	"github.com/Aman-CERP/docsearch/internal/engine"
)

// Client talks to a running daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var out PingResult
	return c.call(ctx, MethodPing, nil, &out)
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var status StatusResult
	if err := c.call(ctx, MethodStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CreateIndex creates an index or merges fields into its schema.
func (c *Client) CreateIndex(ctx context.Context, params CreateIndexParams) (*api.Response, error) {
	var out api.Response
	if err := c.call(ctx, MethodCreateIndex, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IndexDocuments schedules documents for indexing.
func (c *Client) IndexDocuments(ctx context.Context, index string, docs []*document.Document) (*api.Response, error) {
	var out api.Response
	params := IndexDocumentsParams{IndexParams: IndexParams{Index: index}, Docs: docs}
	if err := c.call(ctx, MethodIndexDocuments, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocuments schedules deletion by query or terms.
func (c *Client) DeleteDocuments(ctx context.Context, params DeleteDocumentsParams) (*api.Response, error) {
	var out api.Response
	if err := c.call(ctx, MethodDeleteDocuments, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TruncateIndex schedules removal of every document of index.
func (c *Client) TruncateIndex(ctx context.Context, index string) (*api.Response, error) {
	var out api.Response
	if err := c.call(ctx, MethodTruncateIndex, IndexParams{Index: index}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search returns one page of hits.
func (c *Client) Search(ctx context.Context, index string, req engine.SearchRequest) (*SearchResult, error) {
	var out SearchResult
	params := SearchParams{IndexParams: IndexParams{Index: index}, SearchRequest: req}
	if err := c.call(ctx, MethodSearch, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call performs one request/response exchange on a fresh connection.
// A JSON-RPC error is returned as *Error.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Set deadline from context or timeout
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.nextID(),
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode params: %w", err)
		}
		req.Params = data
	}

	if err := c.send(conn, req); err != nil {
		return err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return resp.Error
	}

	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// send encodes and writes a request to the connection.
func (c *Client) send(conn net.Conn, req Request) error {
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads and decodes a response from the connection.
func (c *Client) receive(conn net.Conn) (*Response, error) {
	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return &resp, nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}

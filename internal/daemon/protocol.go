package daemon

import (
	"encoding/json"
	"fmt"

	"github.com/Aman-CERP/docsearch/internal/api"
	"github.com/Aman-CERP/docsearch/internal/document"
	"github.com/Aman-CERP/docsearch/internal/engine"
	"github.com/Aman-CERP/docsearch/internal/schema"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
	"github.com/Aman-CERP/docsearch/internal/worker"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing            = "ping"
	MethodStatus          = "status"
	MethodCreateIndex     = "create_index"
	MethodIndexDocuments  = "index_documents"
	MethodDeleteDocuments = "delete_documents"
	MethodTruncateIndex   = "truncate_index"
	MethodSearch          = "search"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// Error represents a JSON-RPC 2.0 error. Index operation failures carry
// the HTTP-style status in Data.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the payload of an index operation failure.
type ErrorData struct {
	Status    int    `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Data.Status)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, ErrCodeInternalError, "failed to encode result")
	}
	return Response{
		JSONRPC: "2.0",
		Result:  data,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// IndexParams names the target index.
type IndexParams struct {
	Index string `json:"index"`
}

// Validate checks that required fields are present.
func (p IndexParams) Validate() error {
	if p.Index == "" {
		return fmt.Errorf("index is required")
	}
	return nil
}

// CreateIndexParams are the parameters for create_index.
type CreateIndexParams struct {
	IndexParams
	Fields   map[string]schema.FieldInput `json:"fields,omitempty"`
	Override bool                         `json:"override,omitempty"`
	Secret   string                       `json:"secret,omitempty"`
}

// IndexDocumentsParams are the parameters for index_documents.
type IndexDocumentsParams struct {
	IndexParams
	Docs []*document.Document `json:"docs"`
}

// DeleteDocumentsParams are the parameters for delete_documents.
type DeleteDocumentsParams struct {
	IndexParams
	Query string             `json:"query,omitempty"`
	Terms *document.Document `json:"terms,omitempty"`
}

// SearchParams are the parameters for search.
type SearchParams struct {
	IndexParams
	engine.SearchRequest
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running    bool           `json:"running"`
	PID        int            `json:"pid"`
	Uptime     string         `json:"uptime"`
	Backend    string         `json:"backend"`
	HTTPAddr   string         `json:"http_addr,omitempty"`
	QueueDepth int            `json:"queue_depth"`
	HeapBytes  uint64         `json:"heap_bytes"`
	Worker     worker.Stats   `json:"worker"`
	Engines    []engine.Stats `json:"engines"`

	// Search is nil until the daemon has wired its API.
	Search *telemetry.Snapshot `json:"search,omitempty"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}

// SearchResult is the reply of the search method.
type SearchResult = api.SearchResponse

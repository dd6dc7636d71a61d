package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/docsearch/internal/api"
	"github.com/Aman-CERP/docsearch/internal/engine"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// RequestHandler serves the index operations behind the RPC methods.
type RequestHandler interface {
	CreateIndex(ctx context.Context, name string, req api.CreateIndexRequest) (*api.Response, error)
	IndexDocuments(ctx context.Context, name string, req api.IndexDocumentsRequest) (*api.Response, error)
	DeleteDocuments(ctx context.Context, name string, req api.DeleteRequest) (*api.Response, error)
	TruncateIndex(ctx context.Context, name string) (*api.Response, error)
	Search(ctx context.Context, name string, req engine.SearchRequest) (*api.SearchResponse, error)
	GetStatus() StatusResult
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	timeout    time.Duration
	listener   net.Listener
	handler    RequestHandler
	logger     *slog.Logger
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a new server that listens on the given socket path.
func NewServer(socketPath string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		timeout:    30 * time.Second,
		logger:     logger,
	}, nil
}

// SetHandler sets the handler of index operations.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) listen() (net.Listener, error) {
	// Clean up any stale socket
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	return listener, nil
}

// Serve accepts connections on listener until ctx is cancelled or Close.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("rpc_listening", slog.String("socket", s.socketPath))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			s.logger.Error("rpc_accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	// Wait for active connections to finish
	s.wg.Wait()

	return ctx.Err()
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		s.logger.Warn("rpc_deadline_failed", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	start := time.Now()
	resp := s.handleRequest(ctx, req)
	s.logger.Debug("rpc_request",
		slog.String("method", req.Method),
		slog.Bool("ok", resp.Error == nil),
		slog.Duration("duration", time.Since(start)))
	_ = encoder.Encode(resp)
}

// handleRequest dispatches a request to the appropriate handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be 2.0")
	}

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})
	case MethodStatus:
		return NewSuccessResponse(req.ID, s.getStatus())
	}

	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no request handler configured")
	}

	switch req.Method {
	case MethodCreateIndex:
		var p CreateIndexParams
		if errResp, ok := decodeParams(req, &p); !ok {
			return errResp
		}
		resp, err := s.handler.CreateIndex(ctx, p.Index, api.CreateIndexRequest{
			Fields: p.Fields, Override: p.Override, Secret: p.Secret,
		})
		return reply(req.ID, resp, err)

	case MethodIndexDocuments:
		var p IndexDocumentsParams
		if errResp, ok := decodeParams(req, &p); !ok {
			return errResp
		}
		resp, err := s.handler.IndexDocuments(ctx, p.Index, api.IndexDocumentsRequest{Docs: p.Docs})
		return reply(req.ID, resp, err)

	case MethodDeleteDocuments:
		var p DeleteDocumentsParams
		if errResp, ok := decodeParams(req, &p); !ok {
			return errResp
		}
		resp, err := s.handler.DeleteDocuments(ctx, p.Index, api.DeleteRequest{Query: p.Query, Terms: p.Terms})
		return reply(req.ID, resp, err)

	case MethodTruncateIndex:
		var p IndexParams
		if errResp, ok := decodeParams(req, &p); !ok {
			return errResp
		}
		resp, err := s.handler.TruncateIndex(ctx, p.Index)
		return reply(req.ID, resp, err)

	case MethodSearch:
		var p SearchParams
		if errResp, ok := decodeParams(req, &p); !ok {
			return errResp
		}
		resp, err := s.handler.Search(ctx, p.Index, p.SearchRequest)
		if err != nil {
			return indexError(req.ID, err)
		}
		return NewSuccessResponse(req.ID, resp)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

type params interface {
	Validate() error
}

// decodeParams unmarshals the request params into p and validates them.
func decodeParams(req Request, p params) (Response, bool) {
	if len(req.Params) == 0 {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "params are required"), false
	}
	if err := json.Unmarshal(req.Params, p); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params: "+err.Error()), false
	}
	if err := p.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error()), false
	}
	return Response{}, true
}

func reply(id string, resp *api.Response, err error) Response {
	if err != nil {
		return indexError(id, err)
	}
	return NewSuccessResponse(id, resp)
}

// indexError maps a failed index operation: client errors become invalid
// params, everything else an internal error.
func indexError(id string, err error) Response {
	code := ErrCodeInternalError
	if errors.IsClientError(err) {
		code = ErrCodeInvalidParams
	}
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: errors.ClientMessage(err),
			Data:    &ErrorData{Status: errors.HTTPStatus(err), ErrorCode: errors.GetCode(err)},
		},
		ID: id,
	}
}

// getStatus returns the handler's status, or the bare process status
// when no handler is configured.
func (s *Server) getStatus() StatusResult {
	if s.handler != nil {
		return s.handler.GetStatus()
	}

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	return StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(started).Round(time.Second).String(),
		Engines: []engine.Stats{},
	}
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		return listener.Close()
	}
	return nil
}

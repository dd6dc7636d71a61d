// Package httpapi serves the index API over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aman-CERP/docsearch/internal/api"
	"github.com/Aman-CERP/docsearch/internal/engine"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// DefaultMaxBodyBytes caps request bodies when Config leaves it unset.
const DefaultMaxBodyBytes = 10 << 20

// StatusFunc reports process status for GET /-/status.
type StatusFunc func(ctx context.Context) any

// Config configures a Server.
type Config struct {
	MaxBodyBytes int64
	// RateLimit is requests per second across all clients. 0 disables limiting.
	RateLimit float64
	RateBurst int
	Status    StatusFunc
	Logger    *slog.Logger
}

// Server routes HTTP requests to the API.
type Server struct {
	api     *api.API
	config  Config
	limiter *rate.Limiter
	logger  *slog.Logger
	handler http.Handler
	srv     *http.Server
}

// NewServer builds the HTTP front end for a.
func NewServer(a *api.API, cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{api: a, config: cfg, logger: cfg.Logger}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /-/health", s.handleHealth)
	mux.HandleFunc("GET /-/status", s.handleStatus)
	mux.HandleFunc("PUT /{index}", s.handleCreate)
	mux.HandleFunc("POST /{index}/create", s.handleCreate)
	mux.HandleFunc("POST /{index}/index", s.handleIndex)
	mux.HandleFunc("POST /{index}/truncate", s.handleTruncate)
	mux.HandleFunc("DELETE /{index}", s.handleDelete)
	mux.HandleFunc("POST /{index}/delete", s.handleDelete)
	mux.HandleFunc("GET /{index}", s.handleSearchGet)
	mux.HandleFunc("POST /{index}/search", s.handleSearchPost)

	s.handler = s.logRequests(s.rateLimit(mux))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http_listening", slog.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.Response{Status: http.StatusOK, Message: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.config.Status == nil {
		writeJSON(w, http.StatusOK, api.Response{Status: http.StatusOK, Message: api.MessageSuccessful})
		return
	}
	writeJSON(w, http.StatusOK, s.config.Status(r.Context()))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateIndexRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.api.CreateIndex(r.Context(), r.PathValue("index"), req)
	s.reply(w, resp, err)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req api.IndexDocumentsRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.api.IndexDocuments(r.Context(), r.PathValue("index"), req)
	s.reply(w, resp, err)
}

func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	// The body may carry credentials; nothing else is read from it.
	if !s.decode(w, r, &struct{}{}) {
		return
	}
	resp, err := s.api.TruncateIndex(r.Context(), r.PathValue("index"))
	s.reply(w, resp, err)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.api.DeleteDocuments(r.Context(), r.PathValue("index"), req)
	s.reply(w, resp, err)
}

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	first := func(short, long string) string {
		if v := q.Get(short); v != "" {
			return v
		}
		return q.Get(long)
	}
	req, err := searchRequest(first("q", "query"), first("s", "start"), first("l", "limit"), first("b", "bookmark"))
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	s.search(w, r, req)
}

// searchBody accepts both the long and the short parameter names.
type searchBody struct {
	Query    string          `json:"query"`
	Q        string          `json:"q"`
	Start    json.RawMessage `json:"start"`
	S        json.RawMessage `json:"s"`
	Limit    json.RawMessage `json:"limit"`
	L        json.RawMessage `json:"l"`
	Bookmark string          `json:"bookmark"`
	B        string          `json:"b"`
}

func (s *Server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if !s.decode(w, r, &body) {
		return
	}
	pick := func(long, short string) string {
		if long != "" {
			return long
		}
		return short
	}
	req, err := searchRequest(
		pick(body.Query, body.Q),
		pick(rawNumber(body.Start), rawNumber(body.S)),
		pick(rawNumber(body.Limit), rawNumber(body.L)),
		pick(body.Bookmark, body.B))
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	s.search(w, r, req)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, req engine.SearchRequest) {
	resp, err := s.api.Search(r.Context(), r.PathValue("index"), req)
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	writeJSON(w, resp.Status, resp)
}

// rawNumber accepts 10 as well as "10".
func rawNumber(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}

func searchRequest(query, start, limit, bookmark string) (engine.SearchRequest, error) {
	req := engine.SearchRequest{Query: query, Bookmark: bookmark}
	var err error
	if req.Start, err = intParam("start", start); err != nil {
		return req, err
	}
	if req.Limit, err = intParam("limit", limit); err != nil {
		return req, err
	}
	return req, nil
}

func intParam(name, v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.InvalidQuery(fmt.Sprintf("parameter [%s] must be a non-negative integer", name), err)
	}
	return n, nil
}

// decode reads an optional JSON body into v. It writes the error response
// and returns false when the body is too large or malformed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, api.Response{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("request body exceeds %d bytes", s.config.MaxBodyBytes),
			})
			return false
		}
		s.reply(w, nil, errors.InternalError("cannot read request body", err))
		return false
	}
	if len(data) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.reply(w, nil, errors.New(errors.ErrCodeMissingParameter, "request body is not valid JSON", err))
		return false
	}
	return true
}

func (s *Server) reply(w http.ResponseWriter, resp *api.Response, err error) {
	if err != nil {
		resp = api.ErrorResponse(err)
	}
	writeJSON(w, resp.Status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, api.Response{
				Status:  http.StatusTooManyRequests,
				Message: "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}

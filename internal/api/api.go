// Package api implements the index operations shared by every transport.
//
// Mutations are validated synchronously and then scheduled on the action
// queue; searches run directly against the engine. Each operation returns
// either a Response or an error, and ErrorResponse turns the error into the
// status/message pair clients see.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/docsearch/internal/action"
	"github.com/Aman-CERP/docsearch/internal/document"
	"github.com/Aman-CERP/docsearch/internal/engine"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/registry"
	"github.com/Aman-CERP/docsearch/internal/schema"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// MessageSuccessful is the message of plain successful responses.
const MessageSuccessful = "Successful"

// Registry hands out engines by index name.
type Registry interface {
	WithEngine(ctx context.Context, name string, create bool, fn func(engine.Engine) error, opts ...registry.LookupOption) error
}

// Queue accepts actions for the drain worker.
type Queue interface {
	Enqueue(ctx context.Context, a action.Action) bool
}

// Response is the envelope of every reply.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	// Scheduled is the number of actions queued by the request, when any.
	Scheduled int `json:"scheduled,omitempty"`
}

// SearchResponse is a Response carrying one page of hits.
type SearchResponse struct {
	Response
	*engine.SearchResult
}

// CreateIndexRequest declares or extends an index schema.
type CreateIndexRequest struct {
	Fields   map[string]schema.FieldInput `json:"fields"`
	Override bool                         `json:"override,omitempty"`
	Secret   string                       `json:"secret,omitempty"`
}

// IndexDocumentsRequest carries documents to add.
type IndexDocumentsRequest struct {
	Docs []*document.Document `json:"docs"`
}

// DeleteRequest selects documents to delete. Query wins over Terms.
type DeleteRequest struct {
	Query string             `json:"query,omitempty"`
	Terms *document.Document `json:"terms,omitempty"`
}

// API is the transport-independent index service.
type API struct {
	registry Registry
	queue    Queue
	logger   *slog.Logger
	metrics  *telemetry.SearchMetrics
}

// Option configures an API.
type Option func(*API)

// WithSearchMetrics records every successful search into m.
func WithSearchMetrics(m *telemetry.SearchMetrics) Option {
	return func(a *API) { a.metrics = m }
}

// New creates an API over a registry and an action queue.
func New(r Registry, q Queue, logger *slog.Logger, opts ...Option) *API {
	if logger == nil {
		logger = slog.Default()
	}
	a := &API{registry: r, queue: q, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func ok(message string) *Response {
	return &Response{Status: 200, Message: message}
}

// ErrorResponse renders err for clients.
func ErrorResponse(err error) *Response {
	return &Response{Status: errors.HTTPStatus(err), Message: errors.ClientMessage(err)}
}

// CreateIndex creates the index if needed and merges the declared fields
// into its schema.
func (a *API) CreateIndex(ctx context.Context, name string, req CreateIndexRequest) (*Response, error) {
	n, err := schema.CheckIndexName(name)
	if err != nil {
		return nil, a.reject("create_index", name, err)
	}
	spec, err := schema.FromInput(n, req.Secret, req.Fields)
	if err != nil {
		return nil, a.reject("create_index", n, err)
	}
	err = a.registry.WithEngine(ctx, n, true, func(e engine.Engine) error {
		return e.UpdateSchema(spec, req.Override)
	}, registry.WithIdleTTL(registry.DefaultAPIIdleTTL))
	if err != nil {
		return nil, a.reject("create_index", n, err)
	}
	a.logger.Info("index_created",
		slog.String("index", n),
		slog.Int("fields", spec.Len()),
		slog.Bool("override", req.Override))
	return ok(MessageSuccessful), nil
}

// IndexDocuments validates every document against the index schema and
// schedules them all, or none if any is invalid.
func (a *API) IndexDocuments(ctx context.Context, name string, req IndexDocumentsRequest) (*Response, error) {
	n, err := schema.CheckIndexName(name)
	if err != nil {
		return nil, a.reject("index_documents", name, err)
	}
	if len(req.Docs) == 0 {
		return nil, a.reject("index_documents", n, errors.MissingParameter("parameter [docs] is missing or empty"))
	}

	err = a.registry.WithEngine(ctx, n, true, func(e engine.Engine) error {
		for i, doc := range req.Docs {
			if doc == nil {
				return errors.ValidationFailure(fmt.Sprintf("document #%d is null", i))
			}
			if err := e.ValidateDocument(doc); err != nil {
				return err
			}
		}
		return nil
	}, registry.WithIdleTTL(registry.DefaultAPIIdleTTL))
	if err != nil {
		return nil, a.reject("index_documents", n, err)
	}

	scheduled := 0
	for _, doc := range req.Docs {
		if !a.queue.Enqueue(ctx, action.NewIndex(n, doc)) {
			return nil, a.reject("index_documents", n, queueFull(scheduled, len(req.Docs)))
		}
		scheduled++
	}
	resp := ok(fmt.Sprintf("[%d] document(s) have been scheduled for indexing", scheduled))
	resp.Scheduled = scheduled
	return resp, nil
}

// TruncateIndex schedules removal of every document. A missing index is
// reported in the message, not as an error.
func (a *API) TruncateIndex(ctx context.Context, name string) (*Response, error) {
	n, err := schema.CheckIndexName(name)
	if err != nil {
		return nil, a.reject("truncate_index", name, err)
	}
	err = a.registry.WithEngine(ctx, n, false, func(engine.Engine) error { return nil },
		registry.WithIdleTTL(registry.DefaultAPIIdleTTL))
	if errors.GetCode(err) == errors.ErrCodeIndexNotFound {
		return ok(fmt.Sprintf("Index [%s] has not been scheduled for truncating, maybe it doesnot exist?", name)), nil
	}
	if err != nil {
		return nil, a.reject("truncate_index", n, err)
	}
	if !a.queue.Enqueue(ctx, action.NewTruncate(n)) {
		return nil, a.reject("truncate_index", n, queueFull(0, 1))
	}
	resp := ok(fmt.Sprintf("Index [%s] has been scheduled for truncating", name))
	resp.Scheduled = 1
	return resp, nil
}

// DeleteDocuments schedules deletion by query or, without one, by the
// ID-typed terms.
func (a *API) DeleteDocuments(ctx context.Context, name string, req DeleteRequest) (*Response, error) {
	n, err := schema.CheckIndexName(name)
	if err != nil {
		return nil, a.reject("delete_documents", name, err)
	}
	if req.Query == "" && (req.Terms == nil || req.Terms.Len() == 0) {
		return nil, a.reject("delete_documents", n, errors.MissingParameter("parameter [query] or [terms] is required"))
	}

	err = a.registry.WithEngine(ctx, n, false, func(e engine.Engine) error {
		if req.Query != "" {
			return e.ValidateQuery(req.Query)
		}
		return nil
	}, registry.WithIdleTTL(registry.DefaultAPIIdleTTL))
	if errors.GetCode(err) == errors.ErrCodeIndexNotFound {
		return ok(fmt.Sprintf("Cannot delete documents from index [%s], maybe it doesnot exist?", name)), nil
	}
	if err != nil {
		return nil, a.reject("delete_documents", n, err)
	}

	if !a.queue.Enqueue(ctx, action.NewDelete(n, req.Query, req.Terms)) {
		return nil, a.reject("delete_documents", n, queueFull(0, 1))
	}
	resp := ok(fmt.Sprintf("Documents of index [%s] have been scheduled for deleting", name))
	resp.Scheduled = 1
	return resp, nil
}

// Search returns one page of hits from the committed documents.
func (a *API) Search(ctx context.Context, name string, req engine.SearchRequest) (*SearchResponse, error) {
	n, err := schema.CheckIndexName(name)
	if err != nil {
		return nil, a.reject("search", name, err)
	}
	start := time.Now()
	var result *engine.SearchResult
	err = a.registry.WithEngine(ctx, n, false, func(e engine.Engine) error {
		var err error
		result, err = e.Search(ctx, req)
		return err
	}, registry.WithIdleTTL(registry.DefaultAPIIdleTTL))
	if err != nil {
		return nil, a.reject("search", n, err)
	}
	if a.metrics != nil {
		a.metrics.Record(telemetry.SearchEvent{
			Index:   n,
			Query:   req.Query,
			Hits:    result.Total,
			Latency: time.Since(start),
		})
	}
	return &SearchResponse{Response: *ok(MessageSuccessful), SearchResult: result}, nil
}

// reject logs err at a level matching who caused it and returns it.
func (a *API) reject(op, index string, err error) error {
	if errors.IsClientError(err) {
		a.logger.Debug("api_request_rejected",
			slog.String("op", op),
			slog.String("index", index),
			errors.LogAttr(err))
		return err
	}
	attrs := []any{slog.String("op", op), slog.String("index", index)}
	for k, v := range errors.FormatForLog(err) {
		attrs = append(attrs, slog.Any(k, v))
	}
	a.logger.Error("api_request_failed", attrs...)
	return err
}

func queueFull(scheduled, total int) error {
	return errors.New(errors.ErrCodeQueueFull,
		fmt.Sprintf("action queue is full, [%d] of [%d] action(s) scheduled", scheduled, total), nil)
}

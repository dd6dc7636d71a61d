// Package engine binds one named index to a bleve index and coordinates
// writers, periodic commits and searches against it.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"

	"github.com/Aman-CERP/docsearch/internal/action"
	"github.com/Aman-CERP/docsearch/internal/document"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/schema"
	"github.com/Aman-CERP/docsearch/internal/storage"
)

// Defaults for Options.
const (
	DefaultCommitInterval = time.Second
	DefaultDeletePageSize = 1000
	DefaultSearchPageSize = 10
	DefaultMaxSearchPage  = 1000
)

// Engine is one live index.
type Engine interface {
	Name() string
	Schema() *schema.Schema
	UpdateSchema(s *schema.Schema, override bool) error
	ValidateDocument(doc *document.Document) error
	ValidateQuery(q string) error
	// PerformAction applies a mutation to the uncommitted state. It returns
	// false without error when the action had nothing to do.
	PerformAction(a action.Action) (bool, error)
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	Commit() error
	Stats() Stats
	Start()
	Destroy() error
}

// Options tunes a StandaloneEngine.
type Options struct {
	CommitInterval  time.Duration
	DeletePageSize  int
	DefaultPageSize int
	MaxPageSize     int
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.CommitInterval <= 0 {
		o.CommitInterval = DefaultCommitInterval
	}
	if o.DeletePageSize <= 0 {
		o.DeletePageSize = DefaultDeletePageSize
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = DefaultSearchPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = DefaultMaxSearchPage
	}
	if o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Stats is a point-in-time view of an engine.
type Stats struct {
	Name        string `json:"name"`
	Fields      int    `json:"fields"`
	Uncommitted int64  `json:"uncommitted"`
	Documents   uint64 `json:"documents"`
	HasIndex    bool   `json:"has_index"`
}

// StandaloneEngine owns the storage handle and bleve index of one index.
//
// Writers take rw shared and append to the pending log; Commit takes rw
// exclusive and replays the log into the bleve index in batches, so
// writes become visible to searches only after a commit.
type StandaloneEngine struct {
	name   string
	handle storage.Handle
	opts   Options
	logger *slog.Logger

	schemaMu sync.Mutex
	schema   atomic.Pointer[schema.Schema]

	textAnalyzer analysis.Analyzer
	idAnalyzer   analysis.Analyzer

	idxMu     sync.Mutex
	idx       bleve.Index
	idxClosed bool

	rw          sync.RWMutex
	commitMu    sync.Mutex
	pendingMu   sync.Mutex
	pending     []op
	uncommitted atomic.Int64
	closed      atomic.Bool

	startOnce   sync.Once
	destroyOnce sync.Once
	started     atomic.Bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	destroyErr  error
}

var _ Engine = (*StandaloneEngine)(nil)

// New binds an engine to h. The stored schema is loaded (or started empty)
// and initial is merged into it without override, then saved.
// The commit scheduler is not running until Start is called.
func New(h storage.Handle, initial *schema.Schema, opts Options) (*StandaloneEngine, error) {
	opts = opts.withDefaults()

	stored, found, err := schema.Load(h)
	if err != nil {
		return nil, err
	}
	if !found {
		stored = schema.New(h.Name())
	}
	merged := stored.Merge(initial, false)
	if !found || !merged.Equal(stored) {
		if err := schema.Save(h, merged); err != nil {
			return nil, err
		}
	}

	m, err := newMapping(merged)
	if err != nil {
		return nil, errors.EngineError(fmt.Sprintf("cannot build mapping for [%s]", h.Name()), err)
	}

	e := &StandaloneEngine{
		name:         h.Name(),
		handle:       h,
		opts:         opts,
		logger:       opts.Logger.With(slog.String("index", h.Name())),
		textAnalyzer: m.AnalyzerNamed(textAnalyzerName),
		idAnalyzer:   m.AnalyzerNamed(IDAnalyzerName),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	e.schema.Store(merged)
	return e, nil
}

// Name returns the normalized index name.
func (e *StandaloneEngine) Name() string { return e.name }

// Schema returns the current schema. The value is immutable.
func (e *StandaloneEngine) Schema() *schema.Schema { return e.schema.Load() }

// UpdateSchema merges s into the current schema and persists the result.
func (e *StandaloneEngine) UpdateSchema(s *schema.Schema, override bool) error {
	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()

	cur := e.schema.Load()
	merged := cur.Merge(s, override)
	if merged.Equal(cur) {
		return nil
	}
	if err := schema.Save(e.handle, merged); err != nil {
		return err
	}
	e.schema.Store(merged)
	e.logger.Info("schema_updated",
		slog.Int("fields", merged.Len()),
		slog.Bool("override", override))
	return nil
}

// extendSchema declares every unseen field of doc and persists the
// schema before the document is accepted.
func (e *StandaloneEngine) extendSchema(doc *document.Document) (*schema.Schema, error) {
	if cur := e.schema.Load(); !needsExtension(cur, doc) {
		return cur, nil
	}

	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()

	cur := e.schema.Load()
	ext, added := cur.Extend(doc)
	if len(added) == 0 {
		return cur, nil
	}
	if err := schema.Save(e.handle, ext); err != nil {
		return nil, err
	}
	e.schema.Store(ext)
	for _, f := range added {
		e.logger.Info("schema_auto_extended",
			slog.String("field", f.Name),
			slog.String("type", string(f.Type)))
	}
	return ext, nil
}

func needsExtension(s *schema.Schema, doc *document.Document) bool {
	for _, f := range doc.Fields() {
		if _, ok := s.Field(f.Name); !ok && schema.ValidName(f.Name) {
			return true
		}
	}
	return false
}

// ValidateDocument checks doc against the current schema.
func (e *StandaloneEngine) ValidateDocument(doc *document.Document) error {
	return e.Schema().ValidateDocument(doc)
}

// ValidateQuery reports whether q parses.
func (e *StandaloneEngine) ValidateQuery(q string) error {
	_, err := parseQuery(q)
	return err
}

// Stats reports counters for status output.
func (e *StandaloneEngine) Stats() Stats {
	st := Stats{
		Name:        e.name,
		Fields:      e.Schema().Len(),
		Uncommitted: e.uncommitted.Load(),
	}
	e.idxMu.Lock()
	idx := e.idx
	e.idxMu.Unlock()
	if idx != nil {
		st.HasIndex = true
		st.Documents, _ = idx.DocCount()
	} else {
		st.HasIndex = e.handle.HasIndex()
	}
	return st
}

// Uncommitted returns the number of actions applied since the last commit.
func (e *StandaloneEngine) Uncommitted() int64 { return e.uncommitted.Load() }

// Start launches the commit scheduler. Calling it more than once is a no-op.
func (e *StandaloneEngine) Start() {
	e.startOnce.Do(func() {
		e.started.Store(true)
		go e.commitLoop()
	})
}

func (e *StandaloneEngine) commitLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.opts.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.Commit(); err != nil {
				e.logger.Error("engine_commit_failed", errors.LogAttr(err))
			}
		}
	}
}

// Destroy stops the scheduler, commits what is pending, then closes the
// bleve index and the storage handle. Every step runs even if an earlier
// one failed; failures are logged and returned joined.
// Later calls return the first result.
func (e *StandaloneEngine) Destroy() error {
	e.destroyOnce.Do(func() {
		e.rw.Lock()
		e.closed.Store(true)
		e.rw.Unlock()

		var errs []error
		step := func(name string, fn func() error) {
			if err := fn(); err != nil {
				e.logger.Warn("engine_destroy_step_failed",
					slog.String("step", name),
					slog.String("error", err.Error()))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}

		if e.started.Load() {
			close(e.stopCh)
			<-e.doneCh
		}
		step("commit", e.Commit)
		step("close_index", e.closeIndex)
		step("close_storage", e.handle.Close)

		e.destroyErr = stderrors.Join(errs...)
		e.logger.Debug("engine_destroyed")
	})
	return e.destroyErr
}

func (e *StandaloneEngine) closeIndex() error {
	e.idxMu.Lock()
	defer e.idxMu.Unlock()
	e.idxClosed = true
	if e.idx == nil {
		return nil
	}
	err := e.idx.Close()
	e.idx = nil
	return err
}

func (e *StandaloneEngine) closedError() error {
	return errors.New(errors.ErrCodeEngineClosed, fmt.Sprintf("index [%s] is closed", e.name), nil)
}

// writableIndex returns the bleve index, opening committed data or
// creating a fresh index from the current schema on first use. Once the
// index has been closed it is never reopened.
func (e *StandaloneEngine) writableIndex() (bleve.Index, error) {
	e.idxMu.Lock()
	defer e.idxMu.Unlock()
	if e.idxClosed {
		return nil, e.closedError()
	}
	if e.idx != nil {
		return e.idx, nil
	}

	if e.handle.HasIndex() {
		idx, err := e.handle.OpenIndex()
		if err != nil {
			return nil, errors.EngineError(fmt.Sprintf("cannot open index [%s]", e.name), err)
		}
		e.idx = idx
		return idx, nil
	}

	m, err := newMapping(e.Schema())
	if err != nil {
		return nil, errors.EngineError(fmt.Sprintf("cannot build mapping for [%s]", e.name), err)
	}
	idx, err := e.handle.CreateIndex(m)
	if err != nil {
		return nil, errors.EngineError(fmt.Sprintf("cannot create index [%s]", e.name), err)
	}
	e.logger.Info("engine_index_created")
	e.idx = idx
	return idx, nil
}

// readableIndex is like writableIndex but returns nil when nothing has
// been committed yet.
func (e *StandaloneEngine) readableIndex() (bleve.Index, error) {
	e.idxMu.Lock()
	idx, closed := e.idx, e.idxClosed
	e.idxMu.Unlock()
	if closed {
		return nil, e.closedError()
	}
	if idx != nil {
		return idx, nil
	}
	if !e.handle.HasIndex() {
		return nil, nil
	}
	return e.writableIndex()
}

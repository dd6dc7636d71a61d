package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/blevesearch/bleve/v2"
	bdoc "github.com/blevesearch/bleve/v2/document"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/docsearch/internal/action"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

type opKind uint8

const (
	opAdd opKind = iota + 1
	opDelete
)

// op is one uncommitted change, replayed in order at commit time.
type op struct {
	kind  opKind
	doc   *bdoc.Document
	query query.Query
}

// PerformAction applies a to the uncommitted state of the index.
func (e *StandaloneEngine) PerformAction(a action.Action) (bool, error) {
	switch a := a.(type) {
	case *action.IndexAction:
		return e.performIndex(a)
	case *action.DeleteAction:
		return e.performDelete(a)
	case *action.TruncateAction:
		return e.record(op{kind: opDelete, query: bleve.NewMatchAllQuery()})
	case nil:
		return false, nil
	default:
		return false, errors.InternalError(fmt.Sprintf("unsupported action %T", a), nil)
	}
}

// performIndex replaces every document sharing the ID fields of a.Doc,
// or inserts when the document carries no ID field.
func (e *StandaloneEngine) performIndex(a *action.IndexAction) (bool, error) {
	if a.Doc.Len() == 0 {
		return false, nil
	}
	if err := e.ValidateDocument(a.Doc); err != nil {
		return false, err
	}

	s, err := e.extendSchema(a.Doc)
	if err != nil {
		return false, err
	}
	doc, err := e.buildDocument(s, a.Doc)
	if err != nil || doc == nil {
		return false, err
	}

	ops := []op{{kind: opAdd, doc: doc}}
	if q := idQuery(s, a.Doc); q != nil {
		ops = []op{{kind: opDelete, query: q}, ops[0]}
	}
	return e.record(ops...)
}

func (e *StandaloneEngine) performDelete(a *action.DeleteAction) (bool, error) {
	var q query.Query
	switch a.Method {
	case action.DeleteByQuery:
		if a.Query == "" {
			return false, nil
		}
		parsed, err := parseQuery(a.Query)
		if err != nil {
			return false, err
		}
		q = parsed
	case action.DeleteByTerm:
		q = idQuery(e.Schema(), a.Terms)
	}
	if q == nil {
		return false, nil
	}
	return e.record(op{kind: opDelete, query: q})
}

// record appends ops as one action under the shared lock.
func (e *StandaloneEngine) record(ops ...op) (bool, error) {
	e.rw.RLock()
	defer e.rw.RUnlock()
	if e.closed.Load() {
		return false, e.closedError()
	}

	e.pendingMu.Lock()
	e.pending = append(e.pending, ops...)
	e.pendingMu.Unlock()
	e.uncommitted.Add(1)
	return true, nil
}

// Commit replays every pending change into the bleve index. It is a
// no-op when nothing is pending. Commits never overlap, and writers wait
// while one runs.
func (e *StandaloneEngine) Commit() error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if e.uncommitted.Load() == 0 {
		return nil
	}

	e.rw.Lock()
	defer e.rw.Unlock()

	idx, err := e.writableIndex()
	if err != nil {
		// Pending changes stay queued for the next attempt
		return err
	}

	// Writers are excluded while rw is held, so pending and the counter
	// cannot move under us.
	e.pendingMu.Lock()
	ops := e.pending
	e.pending = nil
	e.pendingMu.Unlock()
	n := e.uncommitted.Load()

	start := time.Now()
	if err := e.replay(idx, ops); err != nil {
		// Replaying the whole log again yields the same state, so the
		// changes are kept for the next attempt.
		e.pendingMu.Lock()
		e.pending = append(ops, e.pending...)
		e.pendingMu.Unlock()
		e.logger.Error("engine_commit_failed",
			slog.Int64("actions", n),
			errors.LogAttr(err))
		return errors.EngineError(fmt.Sprintf("commit of index [%s] failed", e.name), err)
	}
	e.uncommitted.Store(0)

	e.logger.Debug("engine_commit",
		slog.Int64("actions", n),
		slog.Int("ops", len(ops)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// replay applies ops in order. Adds are batched; a delete flushes the
// batch first so it sees every earlier add, then removes its matches
// page by page.
func (e *StandaloneEngine) replay(idx bleve.Index, ops []op) error {
	batch := idx.NewBatch()
	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		err := idx.Batch(batch)
		batch.Reset()
		return err
	}

	for _, o := range ops {
		switch o.kind {
		case opAdd:
			if err := batch.IndexAdvanced(o.doc); err != nil {
				return err
			}
		case opDelete:
			if err := flush(); err != nil {
				return err
			}
			ids, err := e.matchingIDs(idx, o.query)
			if err != nil {
				return err
			}
			for _, id := range ids {
				batch.Delete(id)
				if batch.Size() >= e.opts.DeletePageSize {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
	}
	return flush()
}

// matchingIDs collects the internal IDs of every document matching q.
func (e *StandaloneEngine) matchingIDs(idx bleve.Index, q query.Query) ([]string, error) {
	var ids []string
	for from := 0; ; from += e.opts.DeletePageSize {
		req := bleve.NewSearchRequestOptions(q, e.opts.DeletePageSize, from, false)
		req.SortBy([]string{"_id"})
		res, err := idx.Search(req)
		if err != nil {
			return nil, fmt.Errorf("failed to find documents to delete: %w", err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < e.opts.DeletePageSize || uint64(from+len(res.Hits)) >= res.Total {
			return ids, nil
		}
	}
}

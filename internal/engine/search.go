package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/docsearch/internal/document"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/schema"
)

// SearchRequest selects one page of hits.
type SearchRequest struct {
	Query    string `json:"query"`
	Start    int    `json:"start,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Bookmark string `json:"bookmark,omitempty"`
}

// SearchResult is one page of hits. Bookmark is empty on the last page.
type SearchResult struct {
	Total    uint64               `json:"num_hits"`
	Start    int                  `json:"start"`
	Limit    int                  `json:"limit"`
	Bookmark string               `json:"bookmark"`
	Docs     []*document.Document `json:"docs"`
}

// cursor is the content of a bookmark.
type cursor struct {
	Offset int `json:"o"`
	Limit  int `json:"l"`
}

// EncodeBookmark returns the opaque token for the page at offset.
func EncodeBookmark(offset, limit int) string {
	data, _ := json.Marshal(cursor{Offset: offset, Limit: limit})
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeBookmark parses a token produced by EncodeBookmark.
func DecodeBookmark(token string) (offset, limit int, err error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, 0, errors.InvalidQuery(fmt.Sprintf("bookmark [%s] is invalid", token), err)
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return 0, 0, errors.InvalidQuery(fmt.Sprintf("bookmark [%s] is invalid", token), err)
	}
	if c.Offset < 0 || c.Limit < 0 {
		return 0, 0, errors.InvalidQuery(fmt.Sprintf("bookmark [%s] is invalid", token), nil)
	}
	return c.Offset, c.Limit, nil
}

// page resolves the offset and size a request asks for.
func (e *StandaloneEngine) page(req SearchRequest) (start, limit int, err error) {
	start, limit = req.Start, req.Limit
	if req.Bookmark != "" {
		off, l, err := DecodeBookmark(req.Bookmark)
		if err != nil {
			return 0, 0, err
		}
		start = off
		if limit <= 0 {
			limit = l
		}
	}
	if start < 0 {
		start = 0
	}
	if limit <= 0 {
		limit = e.opts.DefaultPageSize
	}
	if limit > e.opts.MaxPageSize {
		limit = e.opts.MaxPageSize
	}
	return start, limit, nil
}

// Search runs req against committed data. Hits are ordered by score, then
// internal ID, so consecutive pages do not overlap.
func (e *StandaloneEngine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	// Held shared so a search never sees a half replayed commit and never
	// reopens the index once Destroy has started.
	e.rw.RLock()
	defer e.rw.RUnlock()
	if e.closed.Load() {
		return nil, e.closedError()
	}
	q, err := parseQuery(req.Query)
	if err != nil {
		return nil, err
	}
	start, limit, err := e.page(req)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{Start: start, Limit: limit, Docs: []*document.Document{}}
	idx, err := e.readableIndex()
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return result, nil
	}

	sr := bleve.NewSearchRequestOptions(q, limit, start, false)
	sr.SortBy([]string{"-_score", "_id"})
	sr.Fields = []string{"*"}
	res, err := idx.SearchInContext(ctx, sr)
	if err != nil {
		return nil, errors.EngineError(fmt.Sprintf("search on index [%s] failed", e.name), err)
	}

	s := e.Schema()
	result.Total = res.Total
	for _, hit := range res.Hits {
		result.Docs = append(result.Docs, storedDocument(s, hit.Fields))
	}
	if next := start + len(res.Hits); len(res.Hits) > 0 && uint64(next) < res.Total {
		result.Bookmark = EncodeBookmark(next, limit)
	}
	return result, nil
}

// storedDocument rebuilds the stored fields of a hit. LONG values come
// back from bleve as float64 and are turned into integers.
func storedDocument(s *schema.Schema, fields map[string]interface{}) *document.Document {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := document.New()
	for _, name := range names {
		raw := fields[name]
		if spec, ok := s.Field(name); ok && spec.Type == schema.TypeLong {
			if f, ok := raw.(float64); ok && f == math.Trunc(f) {
				doc.Set(name, document.Int(int64(f)))
				continue
			}
		}
		if v, ok := document.ValueOf(raw); ok {
			doc.Set(name, v)
		}
	}
	return doc
}

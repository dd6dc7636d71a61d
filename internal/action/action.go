// Package action defines the mutations that travel through the queue:
// index a document, delete documents, truncate an index.
package action

import (
	"encoding/json"
	"fmt"

	"github.com/Aman-CERP/docsearch/internal/document"
)

// Kind tags an Action variant.
type Kind string

const (
	KindIndex    Kind = "index"
	KindDelete   Kind = "delete"
	KindTruncate Kind = "truncate"
)

// DeleteMethod selects how a DeleteAction finds its documents.
type DeleteMethod string

const (
	DeleteByQuery DeleteMethod = "query"
	DeleteByTerm  DeleteMethod = "term"
)

// Action is a mutation addressed to one index.
type Action interface {
	// Target returns the normalized name of the index to mutate.
	Target() string
	Kind() Kind
}

// IndexAction adds a document, replacing documents with the same ID field values.
type IndexAction struct {
	Index string
	Doc   *document.Document
}

func (a *IndexAction) Target() string { return a.Index }
func (a *IndexAction) Kind() Kind     { return KindIndex }

// DeleteAction removes documents matching a query or a set of ID terms.
type DeleteAction struct {
	Index  string
	Method DeleteMethod
	Query  string
	Terms  *document.Document
}

func (a *DeleteAction) Target() string { return a.Index }
func (a *DeleteAction) Kind() Kind     { return KindDelete }

// TruncateAction removes every document of an index.
type TruncateAction struct {
	Index string
}

func (a *TruncateAction) Target() string { return a.Index }
func (a *TruncateAction) Kind() Kind     { return KindTruncate }

// NewIndex returns an IndexAction.
func NewIndex(index string, doc *document.Document) *IndexAction {
	return &IndexAction{Index: index, Doc: doc}
}

// NewDelete returns a DeleteAction. A non-empty query wins over terms.
func NewDelete(index, query string, terms *document.Document) *DeleteAction {
	if query != "" {
		return &DeleteAction{Index: index, Method: DeleteByQuery, Query: query}
	}
	return &DeleteAction{Index: index, Method: DeleteByTerm, Terms: terms}
}

// NewTruncate returns a TruncateAction.
func NewTruncate(index string) *TruncateAction {
	return &TruncateAction{Index: index}
}

type envelope struct {
	Kind   Kind               `json:"kind"`
	Index  string             `json:"index"`
	Doc    *document.Document `json:"doc,omitempty"`
	Method DeleteMethod       `json:"method,omitempty"`
	Query  string             `json:"query,omitempty"`
	Terms  *document.Document `json:"terms,omitempty"`
}

// Encode serializes an action for durable queues.
func Encode(a Action) ([]byte, error) {
	env := envelope{Kind: a.Kind(), Index: a.Target()}
	switch t := a.(type) {
	case *IndexAction:
		env.Doc = t.Doc
	case *DeleteAction:
		env.Method, env.Query, env.Terms = t.Method, t.Query, t.Terms
	case *TruncateAction:
	default:
		return nil, fmt.Errorf("unsupported action type %T", a)
	}
	return json.Marshal(env)
}

// Decode restores an action written by Encode.
func Decode(data []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode action: %w", err)
	}
	switch env.Kind {
	case KindIndex:
		return &IndexAction{Index: env.Index, Doc: env.Doc}, nil
	case KindDelete:
		return &DeleteAction{Index: env.Index, Method: env.Method, Query: env.Query, Terms: env.Terms}, nil
	case KindTruncate:
		return &TruncateAction{Index: env.Index}, nil
	}
	return nil, fmt.Errorf("unknown action kind %q", env.Kind)
}

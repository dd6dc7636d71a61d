// Package storage provides per-index storage: the schema record and the
// bleve index data, on local disk, in memory, or mirrored to an
// S3-compatible bucket.
package storage

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/schema"
)

// SchemaFile is the name of the schema record inside an index location.
const SchemaFile = "index.spec"

// Backend hands out storage for named indexes.
type Backend interface {
	// Name identifies the backend type (fs, bolt, memory, remote).
	Name() string
	// Exists reports whether a schema record or committed index data exists for name.
	Exists(ctx context.Context, name string) (bool, error)
	// Open claims the storage of name for writing. Only one handle per name
	// may be open at a time; a second Open fails with ResourceUnavailable.
	Open(ctx context.Context, name string) (Handle, error)
	Close() error
}

// Handle is the storage of one index, held by one engine.
type Handle interface {
	schema.Store

	Name() string
	// HasIndex reports whether committed index data exists.
	HasIndex() bool
	// OpenIndex opens the existing index data.
	OpenIndex() (bleve.Index, error)
	// CreateIndex creates empty index data with the given mapping.
	CreateIndex(m mapping.IndexMapping) (bleve.Index, error)
	// Close releases the handle. The engine must close its index first.
	Close() error
}

func checkName(name string) error {
	if name != schema.NormalizeName(name) || !schema.ValidName(name) {
		return errors.InvalidName(fmt.Sprintf("index name [%s] is invalid", name))
	}
	return nil
}

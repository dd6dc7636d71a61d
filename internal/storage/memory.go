package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// MemoryBackend keeps indexes in process memory. Data outlives the
// handles, so an evicted engine reopens what it committed; everything is
// dropped when the backend closes.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	schema []byte
	index  bleve.Index
	open   bool
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemory returns an empty in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*memEntry)}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// Exists implements Backend.
func (b *MemoryBackend) Exists(_ context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[name]
	return ok && (e.schema != nil || e.index != nil), nil
}

// Open implements Backend.
func (b *MemoryBackend) Open(_ context.Context, name string) (Handle, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[name]
	if !ok {
		e = &memEntry{}
		b.entries[name] = e
	}
	if e.open {
		return nil, errors.ResourceUnavailable(fmt.Sprintf("index [%s] is locked by another writer", name),
			errors.New(errors.ErrCodeIndexLocked, "write lock held", nil))
	}
	e.open = true
	return &memHandle{backend: b, name: name, entry: e}, nil
}

// Close closes every index held by the backend.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for name, e := range b.entries {
		if e.index != nil {
			if err := e.index.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to close index [%s]: %w", name, err)
			}
		}
	}
	b.entries = make(map[string]*memEntry)
	return firstErr
}

type memHandle struct {
	backend *MemoryBackend
	name    string
	entry   *memEntry
}

// bleveIndex lets sharedIndex embed the interface without a field named
// Index hiding the Index method.
type bleveIndex = bleve.Index

// sharedIndex ignores Close so the index survives its engine.
type sharedIndex struct {
	bleveIndex
}

func (sharedIndex) Close() error { return nil }

func (h *memHandle) Name() string { return h.name }

func (h *memHandle) HasIndex() bool {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	return h.entry.index != nil
}

func (h *memHandle) OpenIndex() (bleve.Index, error) {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if h.entry.index == nil {
		return nil, errors.EngineError(fmt.Sprintf("cannot open index data of [%s]", h.name), bleve.ErrorIndexPathDoesNotExist)
	}
	return sharedIndex{h.entry.index}, nil
}

func (h *memHandle) CreateIndex(m mapping.IndexMapping) (bleve.Index, error) {
	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, errors.EngineError(fmt.Sprintf("cannot create index data of [%s]", h.name), err)
	}

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if h.entry.index != nil {
		_ = h.entry.index.Close()
	}
	h.entry.index = idx
	return sharedIndex{idx}, nil
}

func (h *memHandle) ReadSchema() ([]byte, bool, error) {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if h.entry.schema == nil {
		return nil, false, nil
	}
	return append([]byte(nil), h.entry.schema...), true, nil
}

func (h *memHandle) WriteSchema(data []byte) error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	h.entry.schema = append([]byte(nil), data...)
	return nil
}

func (h *memHandle) Close() error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	h.entry.open = false
	return nil
}

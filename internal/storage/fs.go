package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/upsidedown"
	"github.com/blevesearch/bleve/v2/index/upsidedown/store/boltdb"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/gofrs/flock"
	"github.com/google/renameio"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

const (
	lockFile = "write.lock"
	dataDir  = "data"
	metaFile = "index_meta.json"
)

// indexCreator creates bleve index data at path.
type indexCreator func(path string, m mapping.IndexMapping) (bleve.Index, error)

// FSBackend keeps each index under <root>/<name>/: the schema record,
// a write.lock held for the life of the handle, and bleve data in data/.
type FSBackend struct {
	root   string
	kind   string
	create indexCreator
}

var _ Backend = (*FSBackend)(nil)

// NewFS returns a backend storing scorch indexes under root.
func NewFS(root string) *FSBackend {
	return &FSBackend{root: root, kind: "fs", create: bleve.New}
}

// NewBolt returns a backend storing upsidedown indexes over boltdb under root.
func NewBolt(root string) *FSBackend {
	return &FSBackend{
		root: root,
		kind: "bolt",
		create: func(path string, m mapping.IndexMapping) (bleve.Index, error) {
			return bleve.NewUsing(path, m, upsidedown.Name, boltdb.Name, nil)
		},
	}
}

// Name implements Backend.
func (b *FSBackend) Name() string { return b.kind }

// Root returns the directory holding all indexes.
func (b *FSBackend) Root() string { return b.root }

func (b *FSBackend) dir(name string) string {
	return filepath.Join(b.root, name)
}

// Exists implements Backend.
func (b *FSBackend) Exists(_ context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	dir := b.dir(name)
	return fileExists(filepath.Join(dir, SchemaFile)) || fileExists(filepath.Join(dir, dataDir, metaFile)), nil
}

// Open implements Backend.
func (b *FSBackend) Open(_ context.Context, name string) (Handle, error) {
	return b.openDir(name)
}

func (b *FSBackend) openDir(name string) (*dirHandle, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	dir := b.dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.ErrCodeStorageFailed, fmt.Sprintf("cannot create storage for index [%s]", name), err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.ResourceUnavailable(fmt.Sprintf("cannot lock index [%s]", name), err)
	}
	if !locked {
		return nil, errors.ResourceUnavailable(fmt.Sprintf("index [%s] is locked by another writer", name),
			errors.New(errors.ErrCodeIndexLocked, "write lock held", nil))
	}

	return &dirHandle{name: name, dir: dir, lock: lock, create: b.create}, nil
}

// Close implements Backend. Handles own their resources, so there is nothing to release.
func (b *FSBackend) Close() error { return nil }

type dirHandle struct {
	name   string
	dir    string
	lock   *flock.Flock
	create indexCreator

	mu     sync.Mutex
	closed bool
}

func (h *dirHandle) Name() string { return h.name }

func (h *dirHandle) dataPath() string { return filepath.Join(h.dir, dataDir) }

func (h *dirHandle) HasIndex() bool {
	return fileExists(filepath.Join(h.dataPath(), metaFile))
}

func (h *dirHandle) OpenIndex() (bleve.Index, error) {
	idx, err := bleve.Open(h.dataPath())
	if err != nil {
		return nil, errors.EngineError(fmt.Sprintf("cannot open index data of [%s]", h.name), err)
	}
	return idx, nil
}

func (h *dirHandle) CreateIndex(m mapping.IndexMapping) (bleve.Index, error) {
	// A data dir without metadata is the leftover of an interrupted create
	if !h.HasIndex() {
		_ = os.RemoveAll(h.dataPath())
	}
	idx, err := h.create(h.dataPath(), m)
	if err != nil {
		return nil, errors.EngineError(fmt.Sprintf("cannot create index data of [%s]", h.name), err)
	}
	return idx, nil
}

func (h *dirHandle) ReadSchema() ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(h.dir, SchemaFile))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (h *dirHandle) WriteSchema(data []byte) error {
	return renameio.WriteFile(filepath.Join(h.dir, SchemaFile), data, 0o644)
}

func (h *dirHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock of index [%s]: %w", h.name, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

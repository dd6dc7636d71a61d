package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// snapshotTimeout bounds the upload of one snapshot, retries included.
const snapshotTimeout = 5 * time.Minute

// RemoteBackend mirrors indexes to an object store. Engines work on a
// local fs copy; Open restores the latest snapshot when the local copy
// is missing, schema writes go straight through, and Close uploads a
// fresh snapshot of the index data.
type RemoteBackend struct {
	store       ObjectStore
	local       *FSBackend
	prefix      string
	compression Compression
	breaker     *errors.CircuitBreaker
	retry       errors.RetryConfig
	logger      *slog.Logger
}

var _ Backend = (*RemoteBackend)(nil)

// RemoteOption configures a RemoteBackend.
type RemoteOption func(*RemoteBackend)

// WithRetry overrides the snapshot upload retry policy.
func WithRetry(cfg errors.RetryConfig) RemoteOption {
	return func(b *RemoteBackend) { b.retry = cfg }
}

// WithBreaker overrides the circuit breaker guarding object store calls.
func WithBreaker(cb *errors.CircuitBreaker) RemoteOption {
	return func(b *RemoteBackend) { b.breaker = cb }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RemoteOption {
	return func(b *RemoteBackend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewRemote creates a remote backend with local working copies under cacheDir.
func NewRemote(store ObjectStore, cacheDir, prefix string, c Compression, opts ...RemoteOption) *RemoteBackend {
	b := &RemoteBackend{
		store:       store,
		local:       NewFS(cacheDir),
		prefix:      prefix,
		compression: c,
		retry:       errors.DefaultRetryConfig(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.breaker == nil {
		b.breaker = errors.NewCircuitBreaker("object-store", errors.WithStateChange(b.logBreaker))
	}
	return b
}

func (b *RemoteBackend) logBreaker(name string, from, to errors.State) {
	level := slog.LevelInfo
	if to == errors.StateOpen {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "circuit_breaker_state",
		slog.String("breaker", name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}

// Name implements Backend.
func (b *RemoteBackend) Name() string { return "remote" }

func (b *RemoteBackend) schemaKey(name string) string {
	return path.Join(b.prefix, name, SchemaFile)
}

func (b *RemoteBackend) snapshotKey(name string) string {
	return path.Join(b.prefix, name, "snapshot.tar"+b.compression.Ext())
}

// unavailable converts an object store failure into a ResourceUnavailable error.
func unavailable(msg string, err error) error {
	if stderrors.Is(err, errors.ErrCircuitOpen) {
		return errors.ResourceUnavailable(msg+": object store circuit open", err)
	}
	return errors.ResourceUnavailable(msg, errors.New(errors.ErrCodeRemoteSyncFailed, "object store call failed", err))
}

// Exists implements Backend.
func (b *RemoteBackend) Exists(ctx context.Context, name string) (bool, error) {
	if ok, err := b.local.Exists(ctx, name); err != nil || ok {
		return ok, err
	}
	keys, err := errors.CircuitExecute(b.breaker, func() ([]string, error) {
		return b.store.List(ctx, path.Join(b.prefix, name)+"/")
	})
	if err != nil {
		return false, unavailable(fmt.Sprintf("cannot check index [%s]", name), err)
	}
	return len(keys) > 0, nil
}

// Open implements Backend.
func (b *RemoteBackend) Open(ctx context.Context, name string) (Handle, error) {
	h, err := b.local.openDir(name)
	if err != nil {
		return nil, err
	}

	if err := b.restore(ctx, h); err != nil {
		_ = h.Close()
		return nil, err
	}

	return &remoteHandle{dirHandle: h, backend: b}, nil
}

// restore fills a missing local copy from the bucket.
func (b *RemoteBackend) restore(ctx context.Context, h *dirHandle) error {
	if _, found, err := h.ReadSchema(); err != nil {
		return errors.EngineError(fmt.Sprintf("cannot read schema of [%s]", h.name), err)
	} else if !found {
		data, ok, err := b.fetch(ctx, b.schemaKey(h.name))
		if err != nil {
			return unavailable(fmt.Sprintf("cannot restore schema of [%s]", h.name), err)
		}
		if ok {
			if err := h.WriteSchema(data); err != nil {
				return errors.EngineError(fmt.Sprintf("cannot write schema of [%s]", h.name), err)
			}
		}
	}

	if h.HasIndex() {
		return nil
	}
	rc, err := errors.CircuitExecute(b.breaker, func() (io.ReadCloser, error) {
		rc, err := b.store.Get(ctx, b.snapshotKey(h.name))
		if stderrors.Is(err, ErrObjectNotFound) {
			return nil, nil
		}
		return rc, err
	})
	if err != nil {
		return unavailable(fmt.Sprintf("cannot restore index [%s]", h.name), err)
	}
	if rc == nil {
		return nil
	}
	defer rc.Close()

	_ = os.RemoveAll(h.dataPath())
	if err := ReadSnapshot(rc, h.dataPath(), b.compression); err != nil {
		_ = os.RemoveAll(h.dataPath())
		return errors.New(errors.ErrCodeCorruptIndex, fmt.Sprintf("snapshot of [%s] is unreadable", h.name), err)
	}
	b.logger.Info("index_restored",
		slog.String("index", h.name),
		slog.String("backend", b.Name()))
	return nil
}

func (b *RemoteBackend) fetch(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := errors.CircuitExecute(b.breaker, func() ([]byte, error) {
		rc, err := b.store.Get(ctx, key)
		if stderrors.Is(err, ErrObjectNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	})
	if err != nil {
		return nil, false, err
	}
	return data, data != nil, nil
}

// upload pushes a snapshot of the local index data with retries.
func (b *RemoteBackend) upload(h *dirHandle) error {
	tmp, err := os.CreateTemp("", "docsearch-snapshot-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := WriteSnapshot(tmp, h.dataPath(), b.compression); err != nil {
		return err
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	return errors.Retry(ctx, b.retry, func() error {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		err := b.breaker.Execute(func() error {
			return b.store.Put(ctx, b.snapshotKey(h.name), tmp, size)
		})
		if err != nil {
			return errors.New(errors.ErrCodeRemoteSyncFailed, "snapshot upload failed", err)
		}
		return nil
	})
}

// Close implements Backend. Local copies stay as a cache.
func (b *RemoteBackend) Close() error { return b.local.Close() }

type remoteHandle struct {
	*dirHandle
	backend *RemoteBackend
}

func (h *remoteHandle) WriteSchema(data []byte) error {
	if err := h.dirHandle.WriteSchema(data); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	err := h.backend.breaker.Execute(func() error {
		return h.backend.store.Put(ctx, h.backend.schemaKey(h.name), bytes.NewReader(data), int64(len(data)))
	})
	if err != nil {
		return unavailable(fmt.Sprintf("cannot mirror schema of [%s]", h.name), err)
	}
	return nil
}

func (h *remoteHandle) Close() error {
	var uploadErr error
	if h.HasIndex() {
		if err := h.backend.upload(h.dirHandle); err != nil {
			uploadErr = fmt.Errorf("failed to upload snapshot of [%s]: %w", h.name, err)
			h.backend.logger.Error("snapshot_upload_failed",
				slog.String("index", h.name),
				slog.String("error", err.Error()))
		}
	}
	return stderrors.Join(uploadErr, h.dirHandle.Close())
}

package registry

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/action"
	"github.com/Aman-CERP/docsearch/internal/document"
	"github.com/Aman-CERP/docsearch/internal/engine"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/schema"
	"github.com/Aman-CERP/docsearch/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRegistry(t *testing.T, b storage.Backend, opts Options) (*Registry, *fakeClock) {
	t.Helper()
	r, err := New(b, opts)
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r.now = clock.Now
	t.Cleanup(func() { _ = r.Close() })
	return r, clock
}

func addDoc(t *testing.T, e engine.Engine, id string) {
	t.Helper()
	ok, err := e.PerformAction(action.NewIndex(e.Name(), document.New().Set("id", document.String(id))))
	require.NoError(t, err)
	require.True(t, ok)
}

func total(t *testing.T, e engine.Engine) uint64 {
	t.Helper()
	res, err := e.Search(context.Background(), engine.SearchRequest{})
	require.NoError(t, err)
	return res.Total
}

func TestRegistry_GetOrCreateThenOpen(t *testing.T) {
	r, _ := newRegistry(t, storage.NewMemory(), Options{})
	ctx := context.Background()

	// Given: a created index with a schema
	e, err := r.GetOrCreate(ctx, " Demo ")
	require.NoError(t, err)
	s, err := schema.FromInput("demo", "", map[string]schema.FieldInput{"id": {Type: "id"}})
	require.NoError(t, err)
	require.NoError(t, e.UpdateSchema(s, false))

	// When: opening it
	opened, err := r.Open(ctx, "demo")

	// Then: the same engine with the same schema comes back
	require.NoError(t, err)
	assert.Same(t, e, opened)
	assert.True(t, opened.Schema().Equal(e.Schema()))
	assert.Equal(t, "demo", opened.Name())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_OpenMissingIndex(t *testing.T) {
	r, _ := newRegistry(t, storage.NewMemory(), Options{})

	_, err := r.Open(context.Background(), "nope")

	assert.Equal(t, errors.ErrCodeIndexNotFound, errors.GetCode(err))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_InvalidName(t *testing.T) {
	r, _ := newRegistry(t, storage.NewMemory(), Options{})

	_, err := r.GetOrCreate(context.Background(), "bad name!")

	assert.Equal(t, errors.ErrCodeInvalidName, errors.GetCode(err))
}

func TestRegistry_ConcurrentLookupsBuildOnce(t *testing.T) {
	r, _ := newRegistry(t, storage.NewFS(t.TempDir()), Options{})
	var builds atomic.Int32
	build := r.build
	r.build = func(h storage.Handle) (engine.Engine, error) {
		builds.Add(1)
		time.Sleep(20 * time.Millisecond)
		return build(h)
	}

	// When: many goroutines ask for the same index at once
	const n = 20
	engines := make([]engine.Engine, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := r.GetOrCreate(context.Background(), "demo")
			assert.NoError(t, err)
			engines[i] = e
		}(i)
	}
	wg.Wait()

	// Then: one engine was built and shared
	assert.Equal(t, int32(1), builds.Load())
	for _, e := range engines {
		assert.Same(t, engines[0], e)
	}
}

func TestRegistry_IdleEvictionAndReopen(t *testing.T) {
	// Given: an engine holding a committed document
	b := storage.NewFS(t.TempDir())
	r, clock := newRegistry(t, b, Options{IdleTTL: time.Hour})
	ctx := context.Background()

	first, err := r.GetOrCreate(ctx, "demo")
	require.NoError(t, err)
	addDoc(t, first, "a1")
	require.NoError(t, first.Commit())

	// When: it stays idle past its TTL
	clock.Advance(30 * time.Minute)
	r.sweep()
	assert.Equal(t, 1, r.Len())
	clock.Advance(31 * time.Minute)
	r.sweep()

	// Then: it is evicted and closed
	assert.Equal(t, 0, r.Len())
	_, err = first.PerformAction(action.NewTruncate("demo"))
	assert.Equal(t, errors.ErrCodeEngineClosed, errors.GetCode(err))

	// And: a new, independent engine still sees the committed data
	second, err := r.GetOrCreate(ctx, "demo")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, uint64(1), total(t, second))
}

func TestRegistry_EntryKeepsLongestTTL(t *testing.T) {
	r, clock := newRegistry(t, storage.NewMemory(), Options{})
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "worker_only", WithIdleTTL(DefaultFactoryIdleTTL))
	require.NoError(t, err)
	_, err = r.GetOrCreate(ctx, "shared", WithIdleTTL(DefaultFactoryIdleTTL))
	require.NoError(t, err)
	_, err = r.Open(ctx, "shared")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	r.sweep()

	_, err = r.Open(ctx, "shared")
	require.NoError(t, err)
	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "shared", stats[0].Name)
}

func TestRegistry_CapacityEviction(t *testing.T) {
	r, _ := newRegistry(t, storage.NewFS(t.TempDir()), Options{MaxIndices: 2})
	ctx := context.Background()

	a, err := r.GetOrCreate(ctx, "a")
	require.NoError(t, err)
	addDoc(t, a, "x")
	_, err = r.GetOrCreate(ctx, "b")
	require.NoError(t, err)
	_, err = r.GetOrCreate(ctx, "c")
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())

	// The evicted index reopens once its old engine released the storage,
	// and its pending write was committed on the way out
	a2, err := r.Open(ctx, "a")
	require.NoError(t, err)
	assert.NotSame(t, a, a2)
	assert.Equal(t, uint64(1), total(t, a2))
}

func TestRegistry_CloseCommitsEverything(t *testing.T) {
	b := storage.NewMemory()
	r, err := New(b, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	e, err := r.GetOrCreate(ctx, "demo")
	require.NoError(t, err)
	addDoc(t, e, "a1")
	r.Start()

	// When: the registry closes with uncommitted work
	require.NoError(t, r.Close())

	// Then: lookups fail and the data is on the backend
	_, err = r.GetOrCreate(ctx, "demo")
	assert.Equal(t, errors.ErrCodeResourceUnavailable, errors.GetCode(err))

	r2, _ := newRegistry(t, b, Options{})
	e2, err := r2.Open(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total(t, e2))
}

func TestRegistry_SweeperRuns(t *testing.T) {
	r, err := New(storage.NewMemory(), Options{IdleTTL: time.Millisecond, SweepInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.GetOrCreate(context.Background(), "demo")
	require.NoError(t, err)
	r.Start()

	assert.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRegistry_WithEngineRetriesClosedEngine(t *testing.T) {
	r, _ := newRegistry(t, storage.NewMemory(), Options{})
	ctx := context.Background()

	var calls int
	err := r.WithEngine(ctx, "demo", true, func(e engine.Engine) error {
		calls++
		if calls == 1 {
			return errors.New(errors.ErrCodeEngineClosed, "closed", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = r.WithEngine(ctx, "demo", false, func(e engine.Engine) error {
		calls++
		return errors.EngineError("boom", nil)
	})
	assert.Equal(t, errors.ErrCodeEngine, errors.GetCode(err))
	assert.Equal(t, 1, calls)
}

func TestRegistry_Evict(t *testing.T) {
	r, _ := newRegistry(t, storage.NewMemory(), Options{})
	ctx := context.Background()
	e, err := r.GetOrCreate(ctx, "demo")
	require.NoError(t, err)

	require.NoError(t, r.Evict("demo"))
	require.NoError(t, r.Evict("demo"))

	assert.Equal(t, 0, r.Len())
	_, err = e.PerformAction(action.NewTruncate("demo"))
	assert.Equal(t, errors.ErrCodeEngineClosed, errors.GetCode(err))
}

// brokenBackend fails every Open.
type brokenBackend struct {
	*storage.MemoryBackend
}

func (brokenBackend) Open(context.Context, string) (storage.Handle, error) {
	return nil, stderrors.New("disk on fire")
}

func TestRegistry_BackendFailureIsResourceUnavailable(t *testing.T) {
	r, _ := newRegistry(t, brokenBackend{storage.NewMemory()}, Options{})

	_, err := r.GetOrCreate(context.Background(), "demo")

	assert.Equal(t, errors.ErrCodeResourceUnavailable, errors.GetCode(err))
	assert.Contains(t, errors.ClientMessage(err), "disk on fire")
}

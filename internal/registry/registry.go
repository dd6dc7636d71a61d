// Package registry caches live index engines by name. It guarantees at
// most one engine per index: concurrent lookups share one construction,
// and a name is not reopened until its previous engine is destroyed.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/docsearch/internal/engine"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/schema"
	"github.com/Aman-CERP/docsearch/internal/storage"
)

// Idle TTLs for engines reached through the API and through the drain worker.
const (
	DefaultAPIIdleTTL     = 24 * time.Hour
	DefaultFactoryIdleTTL = time.Hour

	DefaultMaxIndices    = 1000
	DefaultSweepInterval = time.Minute
)

// Options configures a Registry.
type Options struct {
	// MaxIndices bounds live engines; the least recently used is evicted.
	MaxIndices    int
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Engine        engine.Options
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxIndices <= 0 {
		o.MaxIndices = DefaultMaxIndices
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = DefaultAPIIdleTTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Engine.Logger == nil {
		o.Engine.Logger = o.Logger
	}
	return o
}

// LookupOption adjusts a single lookup.
type LookupOption func(*lookup)

type lookup struct {
	ttl time.Duration
}

// WithIdleTTL sets how long the engine may stay idle after this access.
// An entry keeps the longest TTL it has been accessed with.
func WithIdleTTL(d time.Duration) LookupOption {
	return func(l *lookup) { l.ttl = d }
}

type entry struct {
	engine   engine.Engine
	lastUsed time.Time
	ttl      time.Duration
}

// Registry owns every live engine.
type Registry struct {
	backend storage.Backend
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
	build   func(h storage.Handle) (engine.Engine, error)

	mu         sync.Mutex
	cache      *simplelru.LRU[string, *entry]
	evicted    []evictedEngine
	destroying map[string]chan struct{}
	closed     bool

	group singleflight.Group

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type evictedEngine struct {
	name   string
	engine engine.Engine
	done   chan struct{}
}

// New creates a registry over backend. Call Start to run the idle sweeper.
func New(backend storage.Backend, opts Options) (*Registry, error) {
	opts = opts.withDefaults()
	r := &Registry{
		backend:    backend,
		opts:       opts,
		logger:     opts.Logger,
		now:        time.Now,
		destroying: make(map[string]chan struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	r.build = func(h storage.Handle) (engine.Engine, error) {
		return engine.New(h, nil, r.opts.Engine)
	}

	cache, err := simplelru.NewLRU[string, *entry](opts.MaxIndices, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine cache: %w", err)
	}
	r.cache = cache
	return r, nil
}

// onEvict runs under r.mu. The engine is destroyed later, outside the
// lock, and the name stays blocked until that finishes.
func (r *Registry) onEvict(name string, e *entry) {
	done := make(chan struct{})
	r.destroying[name] = done
	r.evicted = append(r.evicted, evictedEngine{name: name, engine: e.engine, done: done})
}

// takeEvicted must be called with r.mu held.
func (r *Registry) takeEvicted() []evictedEngine {
	out := r.evicted
	r.evicted = nil
	return out
}

// destroy tears down evicted engines and unblocks their names.
func (r *Registry) destroy(list []evictedEngine, reason string) error {
	var g errgroup.Group
	for _, ev := range list {
		g.Go(func() error {
			defer func() {
				r.mu.Lock()
				if r.destroying[ev.name] == ev.done {
					delete(r.destroying, ev.name)
				}
				r.mu.Unlock()
				close(ev.done)
			}()

			err := ev.engine.Destroy()
			r.logger.Info("registry_evicted",
				slog.String("index", ev.name),
				slog.String("reason", reason),
				slog.Bool("clean", err == nil))
			if err != nil {
				return fmt.Errorf("failed to destroy index [%s]: %w", ev.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// GetOrCreate returns the engine for name, creating the index if needed.
func (r *Registry) GetOrCreate(ctx context.Context, name string, opts ...LookupOption) (engine.Engine, error) {
	return r.acquire(ctx, name, true, opts)
}

// Open returns the engine for an existing index, or an IndexNotFound
// error when nothing was ever stored under name.
func (r *Registry) Open(ctx context.Context, name string, opts ...LookupOption) (engine.Engine, error) {
	return r.acquire(ctx, name, false, opts)
}

func (r *Registry) acquire(ctx context.Context, rawName string, create bool, opts []LookupOption) (engine.Engine, error) {
	name, err := schema.CheckIndexName(rawName)
	if err != nil {
		return nil, err
	}
	l := lookup{ttl: r.opts.IdleTTL}
	for _, opt := range opts {
		opt(&l)
	}

	for {
		if e, err := r.cached(name, l.ttl); e != nil || err != nil {
			return e, err
		}

		v, err, _ := r.group.Do(name, func() (any, error) {
			return r.load(ctx, name, create, l.ttl)
		})
		if err != nil {
			// A create call that joined an open-only flight tries again
			if create && errors.GetCode(err) == errors.ErrCodeIndexNotFound {
				continue
			}
			return nil, err
		}
		e := v.(engine.Engine)
		r.touch(name, l.ttl)
		return e, nil
	}
}

// cached returns a live engine and refreshes its idle clock.
func (r *Registry) cached(name string, ttl time.Duration) (engine.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.ResourceUnavailable("registry is closed", nil)
	}
	ent, ok := r.cache.Get(name)
	if !ok {
		return nil, nil
	}
	ent.lastUsed = r.now()
	ent.ttl = max(ent.ttl, ttl)
	return ent.engine, nil
}

func (r *Registry) touch(name string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ent, ok := r.cache.Peek(name); ok {
		ent.lastUsed = r.now()
		ent.ttl = max(ent.ttl, ttl)
	}
}

// load builds the engine for name. Only one load per name runs at a time.
func (r *Registry) load(ctx context.Context, name string, create bool, ttl time.Duration) (engine.Engine, error) {
	r.mu.Lock()
	if ent, ok := r.cache.Peek(name); ok {
		r.mu.Unlock()
		return ent.engine, nil
	}
	pending := r.destroying[name]
	r.mu.Unlock()

	if pending != nil {
		select {
		case <-pending:
		case <-ctx.Done():
			return nil, errors.ResourceUnavailable(fmt.Sprintf("index [%s] is still closing", name), ctx.Err())
		}
	}

	if !create {
		exists, err := r.backend.Exists(ctx, name)
		if err != nil {
			return nil, r.unavailable(name, err)
		}
		if !exists {
			return nil, errors.IndexNotFound(name)
		}
	}

	h, err := r.backend.Open(ctx, name)
	if err != nil {
		return nil, r.unavailable(name, err)
	}
	e, err := r.build(h)
	if err != nil {
		_ = h.Close()
		return nil, r.unavailable(name, err)
	}
	e.Start()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = e.Destroy()
		return nil, errors.ResourceUnavailable("registry is closed", nil)
	}
	r.cache.Add(name, &entry{engine: e, lastUsed: r.now(), ttl: ttl})
	evicted := r.takeEvicted()
	r.mu.Unlock()

	r.logger.Info("registry_engine_loaded",
		slog.String("index", name),
		slog.Bool("create", create),
		slog.String("backend", r.backend.Name()))

	if len(evicted) > 0 {
		go func() { _ = r.destroy(evicted, "capacity") }()
	}
	return e, nil
}

func (r *Registry) unavailable(name string, err error) error {
	if errors.GetCode(err) == errors.ErrCodeResourceUnavailable || errors.IsClientError(err) {
		return err
	}
	r.logger.Error("registry_load_failed",
		slog.String("index", name),
		errors.LogAttr(err))
	return errors.ResourceUnavailable(fmt.Sprintf("cannot open index [%s]", name), err)
}

// WithEngine runs fn against the engine for name. When the engine turns
// out to have been evicted meanwhile, fn runs once more on a fresh one.
func (r *Registry) WithEngine(ctx context.Context, name string, create bool, fn func(engine.Engine) error, opts ...LookupOption) error {
	for attempt := 0; ; attempt++ {
		e, err := r.acquire(ctx, name, create, opts)
		if err != nil {
			return err
		}
		err = fn(e)
		if attempt == 0 && errors.GetCode(err) == errors.ErrCodeEngineClosed {
			continue
		}
		return err
	}
}

// Evict destroys the engine for name if one is live.
func (r *Registry) Evict(name string) error {
	r.mu.Lock()
	r.cache.Remove(name)
	evicted := r.takeEvicted()
	r.mu.Unlock()
	return r.destroy(evicted, "explicit")
}

// sweep evicts every engine idle for longer than its TTL.
func (r *Registry) sweep() {
	now := r.now()
	r.mu.Lock()
	for _, name := range r.cache.Keys() {
		ent, ok := r.cache.Peek(name)
		if ok && now.Sub(ent.lastUsed) > ent.ttl {
			r.cache.Remove(name)
		}
	}
	evicted := r.takeEvicted()
	r.mu.Unlock()

	if len(evicted) > 0 {
		_ = r.destroy(evicted, "idle")
	}
}

// Start launches the idle sweeper.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		go r.sweepLoop()
	})
}

func (r *Registry) sweepLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// Len returns the number of live engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}

// Stats returns the stats of every live engine, sorted by name.
func (r *Registry) Stats() []engine.Stats {
	r.mu.Lock()
	engines := make([]engine.Engine, 0, r.cache.Len())
	for _, ent := range r.cache.Values() {
		engines = append(engines, ent.engine)
	}
	r.mu.Unlock()

	out := make([]engine.Stats, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close stops the sweeper and destroys every engine in parallel, each
// with a final commit. Lookups fail afterwards.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.startOnce.Do(func() { close(r.doneCh) })
	<-r.doneCh

	r.mu.Lock()
	r.closed = true
	r.cache.Purge()
	evicted := r.takeEvicted()
	waiting := make([]chan struct{}, 0, len(r.destroying))
	for _, ch := range r.destroying {
		waiting = append(waiting, ch)
	}
	r.mu.Unlock()

	err := r.destroy(evicted, "shutdown")
	// Capacity evictions may still be running in the background
	for _, ch := range waiting {
		<-ch
	}
	return err
}

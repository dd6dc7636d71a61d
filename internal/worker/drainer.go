// Package worker drains queued actions into their engines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/docsearch/internal/action"
	"github.com/Aman-CERP/docsearch/internal/engine"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/queue"
	"github.com/Aman-CERP/docsearch/internal/registry"
)

// Defaults for Config.
const (
	DefaultIdleSleep   = time.Millisecond
	DefaultStopTimeout = 10 * time.Second
)

// Resolver hands out engines by index name.
type Resolver interface {
	WithEngine(ctx context.Context, name string, create bool, fn func(engine.Engine) error, opts ...registry.LookupOption) error
}

// Config configures a Drainer.
type Config struct {
	IdleSleep   time.Duration
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Stats counts what the drainer did with dequeued actions.
type Stats struct {
	Processed uint64 `json:"processed"`
	NoOps     uint64 `json:"noops"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Drainer is the single consumer of the action queue. Each cycle it
// dequeues until the queue is empty, then sleeps briefly. Actions whose
// engine cannot be resolved are dropped; nothing is retried.
type Drainer struct {
	queue    queue.ActionQueue
	resolver Resolver
	config   Config
	logger   *slog.Logger

	processed atomic.Uint64
	noops     atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDrainer creates a drainer. It does nothing until Start.
func NewDrainer(q queue.ActionQueue, r Resolver, cfg Config) *Drainer {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Drainer{
		queue:    q,
		resolver: r,
		config:   cfg,
		logger:   cfg.Logger,
	}
}

// Start launches the drain loop. It is a no-op while already running.
func (d *Drainer) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.run(ctx, d.stopCh, d.doneCh)
}

// IsRunning reports whether the drain loop is active.
func (d *Drainer) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Drainer) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(d.config.IdleSleep)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		d.drain(ctx, stopCh)

		timer.Reset(d.config.IdleSleep)
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// drain dispatches actions until the queue reports empty or a stop is requested.
func (d *Drainer) drain(ctx context.Context, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		a, ok := d.queue.Dequeue()
		if !ok {
			return
		}
		d.dispatch(ctx, a)
	}
}

// Drain processes whatever is queued right now on the calling goroutine.
func (d *Drainer) Drain(ctx context.Context) {
	d.drain(ctx, nil)
}

func (d *Drainer) dispatch(ctx context.Context, a action.Action) {
	var resolved bool
	var applied bool
	err := d.resolver.WithEngine(ctx, a.Target(), true, func(e engine.Engine) error {
		resolved = true
		ok, err := e.PerformAction(a)
		applied = ok
		return err
	}, registry.WithIdleTTL(registry.DefaultFactoryIdleTTL))

	switch {
	case err != nil && !resolved:
		d.dropped.Add(1)
		d.logger.Warn("worker_action_dropped",
			slog.String("index", a.Target()),
			slog.String("action", string(a.Kind())),
			errors.LogAttr(err))
	case err != nil:
		d.failed.Add(1)
		d.logger.Error("worker_action_failed",
			slog.String("index", a.Target()),
			slog.String("action", string(a.Kind())),
			errors.LogAttr(err))
	case !applied:
		d.noops.Add(1)
	default:
		d.processed.Add(1)
	}
}

// Stop asks the loop to finish its current action and waits up to the
// configured timeout.
func (d *Drainer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	stopCh, doneCh := d.stopCh, d.doneCh
	d.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		return nil
	case <-time.After(d.config.StopTimeout):
		return fmt.Errorf("drain worker did not stop within %s", d.config.StopTimeout)
	}
}

// Stats returns the action counters.
func (d *Drainer) Stats() Stats {
	return Stats{
		Processed: d.processed.Load(),
		NoOps:     d.noops.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
	}
}

package daemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docsearch/internal/api"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/engine"
	"github.com/Aman-CERP/docsearch/internal/httpapi"
	"github.com/Aman-CERP/docsearch/internal/profiling"
	"github.com/Aman-CERP/docsearch/internal/queue"
	"github.com/Aman-CERP/docsearch/internal/registry"
	"github.com/Aman-CERP/docsearch/internal/storage"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
	"github.com/Aman-CERP/docsearch/internal/worker"
)

// Daemon wires the storage backend, registry, queue, drain worker and
// front ends together and owns their lifecycle.
type Daemon struct {
	*api.API

	config  Config
	app     *config.Config
	logger  *slog.Logger
	pidFile PIDFile

	backend  storage.Backend
	registry *registry.Registry
	queue    queue.ActionQueue
	drainer  *worker.Drainer
	rpc      *Server
	http     *httpapi.Server
	httpAddr string
	metrics  *telemetry.SearchMetrics

	mu      sync.Mutex
	started time.Time
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger used by the daemon and every component.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithBackend replaces the storage backend selected by the app config.
func WithBackend(b storage.Backend) Option {
	return func(d *Daemon) {
		d.backend = b
	}
}

// NewDaemon validates the configuration. Nothing is opened until Start.
func NewDaemon(cfg Config, app *config.Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if app == nil {
		app = config.NewConfig()
	}
	d := &Daemon{
		config:  cfg,
		app:     app,
		logger:  slog.Default(),
		pidFile: PIDFile(cfg.PIDPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start runs the daemon until ctx is cancelled or SIGINT/SIGTERM arrives,
// then shuts every component down in dependency order.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if err := d.config.EnsureDir(); err != nil {
		return err
	}
	release, err := d.pidFile.Claim()
	if err != nil {
		return err
	}
	defer release()

	if err := d.open(ctx); err != nil {
		d.shutdown()
		return err
	}

	rpcListener, err := d.rpc.listen()
	if err != nil {
		d.shutdown()
		return err
	}
	var httpListener net.Listener
	if d.config.HTTPAddr != "" {
		httpListener, err = net.Listen("tcp", d.config.HTTPAddr)
		if err != nil {
			_ = rpcListener.Close()
			d.shutdown()
			return fmt.Errorf("failed to listen on %s: %w", d.config.HTTPAddr, err)
		}
		d.httpAddr = httpListener.Addr().String()
	}

	d.mu.Lock()
	d.started = time.Now()
	d.mu.Unlock()
	d.logger.Info("daemon_started",
		slog.Int("pid", os.Getpid()),
		slog.String("backend", d.backend.Name()),
		slog.String("socket", d.config.SocketPath),
		slog.String("http", d.httpAddr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := d.rpc.Serve(gctx, rpcListener)
		if stderrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if httpListener != nil {
		g.Go(func() error { return d.http.Serve(httpListener) })
		g.Go(func() error {
			<-gctx.Done()
			graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.ShutdownGracePeriod)
			defer cancel()
			return d.http.Shutdown(graceCtx)
		})
	}

	<-gctx.Done()
	_ = d.rpc.Close()
	serveErr := g.Wait()

	d.shutdown()
	if serveErr != nil {
		return serveErr
	}
	return ctx.Err()
}

// open builds the components bottom-up.
func (d *Daemon) open(ctx context.Context) error {
	app := d.app
	if d.backend == nil {
		b, err := storage.New(ctx, app.Storage, d.logger)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		d.backend = b
	}

	reg, err := registry.New(d.backend, registry.Options{
		MaxIndices:    app.Registry.MaxIndices,
		IdleTTL:       app.Registry.IdleTTL,
		SweepInterval: app.Registry.SweepInterval,
		Engine: engine.Options{
			CommitInterval:  app.Engine.CommitInterval,
			DeletePageSize:  app.Engine.DeletePageSize,
			DefaultPageSize: app.Engine.DefaultPageSize,
			MaxPageSize:     app.Engine.MaxPageSize,
		},
		Logger: d.logger,
	})
	if err != nil {
		return err
	}
	d.registry = reg
	reg.Start()

	q, err := queue.Open(app.Queue.Type, app.Queue.Path, queue.Options{
		Capacity:       app.Queue.Capacity,
		EnqueueTimeout: app.Queue.EnqueueTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	d.queue = q

	d.drainer = worker.NewDrainer(q, reg, worker.Config{
		IdleSleep:   app.Worker.IdleSleep,
		StopTimeout: app.Worker.StopTimeout,
		Logger:      d.logger,
	})
	// The worker is stopped explicitly during shutdown, after the front ends.
	d.drainer.Start(context.WithoutCancel(ctx))

	d.metrics = telemetry.NewSearchMetrics(telemetry.DefaultConfig())
	d.API = api.New(reg, q, d.logger, api.WithSearchMetrics(d.metrics))

	d.rpc, _ = NewServer(d.config.SocketPath, d.logger)
	d.rpc.timeout = d.config.Timeout
	d.rpc.SetHandler(d)

	d.http = httpapi.NewServer(d.API, httpapi.Config{
		MaxBodyBytes: int64(app.Server.MaxBodyMB) << 20,
		RateLimit:    app.Server.RateLimit,
		RateBurst:    app.Server.RateBurst,
		Status:       func(context.Context) any { return d.GetStatus() },
		Logger:       d.logger,
	})
	return nil
}

// shutdown stops the worker, destroys every engine with a final commit
// and closes the queue and backend. Components never opened are skipped.
func (d *Daemon) shutdown() {
	var errs []error
	if d.drainer != nil {
		if err := d.drainer.Stop(); err != nil {
			errs = append(errs, err)
		} else if d.queue != nil && d.queue.Size() > 0 {
			// Apply what the front ends accepted before they stopped.
			graceCtx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownGracePeriod)
			d.drainer.Drain(graceCtx)
			cancel()
		}
	}
	if d.registry != nil {
		if err := d.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close registry: %w", err))
		}
	}
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if d.backend != nil {
		if err := d.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}

	if err := stderrors.Join(errs...); err != nil {
		d.logger.Error("daemon_shutdown_failed", slog.String("error", err.Error()))
		return
	}
	d.logger.Info("daemon_stopped")
}

// GetStatus reports the live state of every component.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()

	status := StatusResult{
		Running:   true,
		PID:       os.Getpid(),
		Uptime:    time.Since(started).Round(time.Second).String(),
		Backend:   d.backend.Name(),
		HTTPAddr:  d.httpAddr,
		HeapBytes: profiling.HeapAlloc(),
		Engines:   d.registry.Stats(),
	}
	if d.queue != nil {
		status.QueueDepth = d.queue.Size()
	}
	if d.drainer != nil {
		status.Worker = d.drainer.Stats()
	}
	if d.metrics != nil {
		status.Search = d.metrics.Snapshot()
	}
	return status
}

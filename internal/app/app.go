// Package app ties the guest module, the backend transport and the view
// renderer into one application context.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-bridge/internal/bundle"
	"github.com/woxQAQ/wasm-bridge/internal/config"
	"github.com/woxQAQ/wasm-bridge/internal/metrics"
	"github.com/woxQAQ/wasm-bridge/internal/transport"
	"github.com/woxQAQ/wasm-bridge/internal/view"
	"github.com/woxQAQ/wasm-bridge/internal/wasm"
)

// Option configures an App.
type Option func(*options)

type options struct {
	dialer  transport.Dialer
	metrics *metrics.Metrics
	random  wasm.RandomSource
}

// WithDialer replaces the WebSocket dialer used by the transport.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithMetrics records guest calls, renders and transport state.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRandomSource replaces the entropy source behind random_fill.
func WithRandomSource(src wasm.RandomSource) Option {
	return func(o *options) { o.random = src }
}

// App owns the module host, the transport and the renderer for the lifetime
// of the process.
type App struct {
	cfg    *config.HostConfig
	logger *zap.Logger
	// unscoped, for components that add their own name
	base *zap.Logger

	runtime   *wasm.Runtime
	host      *wasm.Host
	transport *transport.Transport
	renderer  *view.Renderer
	title     string

	mu      sync.Mutex
	ctx     context.Context
	started bool
}

// New loads the guest module, instantiates it (running its init export) and
// prepares the transport and renderer. Nothing is connected until Start.
func New(ctx context.Context, cfg *config.HostConfig, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	runtime, err := wasm.NewRuntime(ctx, logger, &wasm.RuntimeConfig{
		MemoryPages:        cfg.Module.MemoryPages,
		DebugEnabled:       cfg.Module.Debug,
		CacheDir:           cfg.Module.CacheDir,
		CloseOnContextDone: cfg.Module.CallTimeout > 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "app")),
		base:    logger,
		runtime: runtime,
		title:   cfg.UI.Title,
		ctx:     context.Background(),
	}

	compiled, tcfg, err := a.load(ctx)
	if err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	topts := []transport.Option{transport.WithInboundHandler(a.HandleInbound)}
	if o.dialer != nil {
		topts = append(topts, transport.WithDialer(o.dialer))
	}
	if o.metrics != nil {
		topts = append(topts, transport.WithHooks(o.metrics.TransportHooks()))
	}
	a.transport = transport.New(tcfg, logger, topts...)

	hopts := wasm.HostOptions{
		Logger:      logger,
		CallTimeout: cfg.Module.CallTimeout,
		Outbound:    a.sendOutbound,
		Random:      o.random,
	}
	if o.metrics != nil {
		hopts.Observer = o.metrics.ObserveGuestCall
	}
	host, err := wasm.NewHost(ctx, runtime, compiled, hopts)
	if err != nil {
		runtime.Close(ctx)
		return nil, err
	}
	a.host = host

	a.renderer = view.NewRenderer(host, view.NewDocument(cfg.UI.RootID), logger)
	if o.metrics != nil {
		a.renderer.WithObserver(o.metrics.ObserveRender)
	}

	a.logger.Info("Application initialized",
		zap.String("module", compiled.Source),
		zap.String("instance", host.ID()),
		zap.String("endpoint", tcfg.Endpoint),
	)

	return a, nil
}

// load compiles the guest module from the bundle when one is configured,
// otherwise from the module URL and path. The returned transport config
// carries any endpoint override from the bundle manifest.
func (a *App) load(ctx context.Context) (*wasm.CompiledModule, transport.Config, error) {
	tcfg := a.cfg.Transport
	mc := a.cfg.Module

	if a.cfg.BundleDir != "" {
		b, err := bundle.NewLoader(a.runtime, mc.FetchRetries, a.base).Load(ctx, a.cfg.BundleDir)
		if err != nil {
			return nil, tcfg, err
		}
		if ep := b.Manifest.Transport.Endpoint; ep != "" {
			tcfg.Endpoint = ep
		}
		if t := b.Manifest.UI.Title; t != "" {
			a.title = t
		}
		return b.Compiled, tcfg, nil
	}

	var sources []wasm.ModuleSource
	if mc.URL != "" {
		sources = append(sources, wasm.NewURLModuleSource(mc.URL, mc.FetchRetries, a.base))
	}
	if mc.Path != "" {
		sources = append(sources, &wasm.FileModuleSource{Path: mc.Path})
	}
	if len(sources) == 0 {
		return nil, tcfg, errors.New("no module source configured")
	}

	compiled, err := wasm.NewModuleLoader(a.runtime, a.base).LoadFirst(ctx, sources...)
	if err != nil {
		return nil, tcfg, err
	}
	return compiled, tcfg, nil
}

// Start renders the initial view and begins connecting to the backend.
// ctx bounds reconnects. Guest calls carry its values but never its
// cancellation.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.ctx = ctx
	a.mu.Unlock()

	// A failed first render leaves the page empty until the next trigger.
	_ = a.renderer.Render(context.WithoutCancel(ctx))

	a.transport.Connect(ctx)
}

// HandleInbound hands a backend message to the guest and re-renders.
func (a *App) HandleInbound(payload []byte) {
	ctx := context.WithoutCancel(a.context())

	if err := a.host.DeliverMessage(ctx, payload); err != nil {
		a.logger.Error("Inbound message delivery failed, skipping render",
			zap.Int("size_bytes", len(payload)),
			zap.Error(err),
		)
		return
	}

	_ = a.renderer.Render(ctx)
}

func (a *App) sendOutbound(_ context.Context, payload []byte) {
	if err := a.transport.Send(payload); err != nil {
		a.logger.Warn("Outbound message dropped",
			zap.Int("size_bytes", len(payload)),
			zap.Error(err),
		)
	}
}

func (a *App) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

// Document returns the rendered document.
func (a *App) Document() *view.Document {
	return a.renderer.Document()
}

// Renderer returns the view renderer.
func (a *App) Renderer() *view.Renderer {
	return a.renderer
}

// Host returns the module host.
func (a *App) Host() *wasm.Host {
	return a.host
}

// Transport returns the backend transport.
func (a *App) Transport() *transport.Transport {
	return a.transport
}

// Title returns the page title, preferring the bundle manifest's.
func (a *App) Title() string {
	return a.title
}

// Healthy reports whether the guest module is still usable.
func (a *App) Healthy() error {
	return a.host.Err()
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("Shutting down application")

	a.transport.Disconnect()

	var errs []error
	if err := a.host.Close(ctx); err != nil {
		a.logger.Error("Failed to close module host", zap.Error(err))
		errs = append(errs, err)
	}
	if err := a.runtime.Close(ctx); err != nil {
		a.logger.Error("Failed to shutdown Wasm runtime", zap.Error(err))
		errs = append(errs, err)
	}

	a.logger.Info("Application shutdown complete")
	return errors.Join(errs...)
}

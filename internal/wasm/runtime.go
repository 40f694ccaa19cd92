package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Runtime manages the wazero runtime lifecycle.
// One Runtime is created per process and hosts the single guest module.
type Runtime struct {
	// wazero runtime (singleton)
	runtime wazero.Runtime

	// Compiled module cache (key: module name/path -> value: compiled module)
	modules sync.Map // map[string]*CompiledModule

	// Active module instances (for cleanup on shutdown)
	instances sync.Map // map[string]api.Module

	// On-disk compilation cache, nil when CacheDir is empty.
	cache wazero.CompilationCache

	config *RuntimeConfig
	logger *zap.Logger
	// unscoped logger handed to hosts created on this runtime
	base *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limits for Wasm modules (in pages, 64KB each)
	// Default: 256 pages = 16MB max memory per module
	MemoryPages uint32

	// Enable debug logging for Wasm execution
	DebugEnabled bool

	// Compilation cache directory (for persistent caching)
	// If empty, uses in-memory caching only
	CacheDir string

	// Abort running guest code when the call context is done.
	// Required for call timeouts to interrupt a looping guest.
	CloseOnContextDone bool
}

// CompiledModule wraps a wazero.CompiledModule with metadata.
type CompiledModule struct {
	Module wazero.CompiledModule

	Name      string
	Source    string // File path, URL or identifier
	SizeBytes int64

	CompiledAt int64
}

// NewRuntime creates and initializes a new wazero runtime.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	if config == nil {
		config = DefaultRuntimeConfig()
	}

	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(config.CloseOnContextDone)
	if config.MemoryPages > 0 {
		rc = rc.WithMemoryLimitPages(config.MemoryPages)
	}

	var cache wazero.CompilationCache
	if config.CacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache %s: %w", config.CacheDir, err)
		}
		cache = c
		rc = rc.WithCompilationCache(cache)
	}

	r := wazero.NewRuntimeWithConfig(ctx, rc)

	runtime := &Runtime{
		runtime: r,
		cache:   cache,
		config:  config,
		logger:  logger.With(zap.String("component", "wasm-runtime")),
		base:    logger,
		closed:  make(chan struct{}),
	}

	logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.Bool("debug_enabled", config.DebugEnabled),
		zap.String("cache_dir", config.CacheDir),
		zap.Bool("close_on_context_done", config.CloseOnContextDone),
	)

	return runtime, nil
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:        256, // 16MB
		DebugEnabled:       false,
		CacheDir:           "",
		CloseOnContextDone: true,
	}
}

// Close gracefully shuts down the runtime.
// Safe to call multiple times (idempotent).
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		r.instances.Range(func(key, value any) bool {
			if inst, ok := value.(api.Module); ok {
				if closeErr := inst.Close(ctx); closeErr != nil {
					r.logger.Warn("Failed to close instance",
						zap.String("instance_id", key.(string)),
						zap.Error(closeErr),
					)
				}
			}
			return true
		})

		// Closes compiled modules as well.
		err = r.runtime.Close(ctx)

		if r.cache != nil {
			if cacheErr := r.cache.Close(ctx); cacheErr != nil && err == nil {
				err = cacheErr
			}
		}

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// GetInstance retrieves an active instance.
func (r *Runtime) GetInstance(instanceID string) (api.Module, bool) {
	val, ok := r.instances.Load(instanceID)
	if !ok {
		return nil, false
	}
	mod, ok := val.(api.Module)
	return mod, ok
}

// StoreInstance stores an active instance.
func (r *Runtime) StoreInstance(instanceID string, instance api.Module) {
	r.instances.Store(instanceID, instance)
}

// DeleteInstance removes an instance from tracking.
func (r *Runtime) DeleteInstance(instanceID string) {
	r.instances.Delete(instanceID)
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// Package bundle loads an application bundle: a directory holding a
// manifest.yaml and, usually, the guest module it names.
package bundle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-bridge/internal/wasm"
)

// Loader handles loading bundles from disk.
type Loader struct {
	moduleLoader *wasm.ModuleLoader
	fetchRetries int
	base         *zap.Logger
	logger       *zap.Logger
}

// NewLoader creates a new bundle loader.
func NewLoader(runtime *wasm.Runtime, fetchRetries int, logger *zap.Logger) *Loader {
	return &Loader{
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		fetchRetries: fetchRetries,
		base:         logger,
		logger:       logger.With(zap.String("component", "bundle-loader")),
	}
}

// Load parses the manifest in dir and compiles its module, trying the URL
// before the local file.
func (l *Loader) Load(ctx context.Context, dir string) (*Bundle, error) {
	l.logger.Debug("Loading bundle", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading bundle",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.String("wasm_url", manifest.Wasm.URL),
		zap.String("wasm_file", manifest.Wasm.File),
	)

	compiled, err := l.moduleLoader.LoadFirst(ctx, Sources(manifest, l.fetchRetries, l.base)...)
	if err != nil {
		return nil, &BundleLoadError{
			BundleName: manifest.Name,
			Err:        err,
		}
	}

	b := &Bundle{
		Manifest: manifest,
		Compiled: compiled,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Bundle loaded successfully",
		zap.String("name", manifest.Name),
		zap.String("source", compiled.Source),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return b, nil
}

// Sources lists the module sources of m in the order they should be tried.
func Sources(m *Manifest, fetchRetries int, logger *zap.Logger) []wasm.ModuleSource {
	var sources []wasm.ModuleSource
	if m.Wasm.URL != "" {
		sources = append(sources, wasm.NewURLModuleSource(m.Wasm.URL, fetchRetries, logger))
	}
	if path := m.WasmPath(); path != "" {
		sources = append(sources, &wasm.FileModuleSource{Path: path})
	}
	return sources
}

package wasm

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// ModuleLoader handles loading and compiling Wasm modules.
type ModuleLoader struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewModuleLoader creates a new module loader.
func NewModuleLoader(runtime *Runtime, logger *zap.Logger) *ModuleLoader {
	return &ModuleLoader{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-loader")),
	}
}

// ModuleSource represents a source for Wasm bytecode.
type ModuleSource interface {
	// Bytes returns the Wasm bytecode.
	Bytes(ctx context.Context) ([]byte, error)

	// Name returns a name/identifier for this module.
	Name() string
}

// FileModuleSource loads Wasm from a file.
type FileModuleSource struct {
	Path string
}

// Bytes reads the Wasm file.
func (f *FileModuleSource) Bytes(context.Context) ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Name returns the file path as the module name.
func (f *FileModuleSource) Name() string {
	return f.Path
}

// MemoryModuleSource loads Wasm from memory.
type MemoryModuleSource struct {
	ModuleName string
	Data       []byte
}

// Bytes returns the Wasm bytecode.
func (m *MemoryModuleSource) Bytes(context.Context) ([]byte, error) {
	return m.Data, nil
}

// Name returns the module name.
func (m *MemoryModuleSource) Name() string {
	return m.ModuleName
}

// LoadModule loads a Wasm module from a source.
// Compiles it if not already cached.
func (l *ModuleLoader) LoadModule(ctx context.Context, source ModuleSource) (*CompiledModule, error) {
	if cached, ok := l.runtime.GetCompiledModule(source.Name()); ok {
		l.logger.Debug("Module cache hit",
			zap.String("module", source.Name()),
		)
		return cached, nil
	}

	wasmBytes, err := source.Bytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", source.Name(), err)
	}

	l.logger.Info("Compiling Wasm module",
		zap.String("module", source.Name()),
		zap.Int("size_bytes", len(wasmBytes)),
	)

	startTime := time.Now()

	// CompileModule decodes and validates the binary; only done once per source.
	compiled, err := l.runtime.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &CompilationError{
			ModuleName: source.Name(),
			Err:        err,
		}
	}

	duration := time.Since(startTime)

	compiledModule := &CompiledModule{
		Module:     compiled,
		Name:       source.Name(),
		Source:     source.Name(),
		SizeBytes:  int64(len(wasmBytes)),
		CompiledAt: time.Now().Unix(),
	}

	l.runtime.StoreCompiledModule(compiledModule)

	l.logger.Info("Module compiled successfully",
		zap.String("module", source.Name()),
		zap.Duration("duration", duration),
	)

	return compiledModule, nil
}

// LoadFirst tries each source in order and returns the first one that
// fetches and compiles. A network source listed before a file source gives
// the fetch-then-local-file fallback.
func (l *ModuleLoader) LoadFirst(ctx context.Context, sources ...ModuleSource) (*CompiledModule, error) {
	srcErr := &SourceError{}
	for _, source := range sources {
		srcErr.Sources = append(srcErr.Sources, source.Name())

		compiled, err := l.LoadModule(ctx, source)
		if err == nil {
			return compiled, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		l.logger.Warn("Module source failed, trying next",
			zap.String("module", source.Name()),
			zap.Error(err),
		)
		srcErr.Errs = append(srcErr.Errs, err)
	}
	return nil, srcErr
}

// LoadModuleFromFile is a convenience function for loading from a file path.
func (l *ModuleLoader) LoadModuleFromFile(ctx context.Context, path string) (*CompiledModule, error) {
	source := &FileModuleSource{Path: path}
	return l.LoadModule(ctx, source)
}

// LoadModuleFromMemory loads from a byte slice.
func (l *ModuleLoader) LoadModuleFromMemory(ctx context.Context, name string, data []byte) (*CompiledModule, error) {
	source := &MemoryModuleSource{ModuleName: name, Data: data}
	return l.LoadModule(ctx, source)
}

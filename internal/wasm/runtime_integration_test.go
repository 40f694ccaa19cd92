package wasm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasm-bridge/internal/wasm/wasmtest"
)

// minimalModule is an empty Wasm 1.0 module.
var minimalModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic number: \0asm
	0x01, 0x00, 0x00, 0x00, // Version: 1
}

// newTestHost starts a Host over the wasmtest guest on a fresh runtime.
func newTestHost(t *testing.T, opts HostOptions) *Host {
	t.Helper()
	return newTestHostFrom(t, wasmtest.Guest, opts)
}

func newTestHostFrom(t *testing.T, source string, opts HostOptions) *Host {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runtime.Close(context.Background()) })

	compiled, err := NewModuleLoader(runtime, logger).
		LoadModuleFromMemory(ctx, "guest", wasmtest.Compile(t, source))
	if err != nil {
		t.Fatalf("Failed to load guest: %v", err)
	}

	host, err := NewHost(ctx, runtime, compiled, opts)
	if err != nil {
		t.Fatalf("NewHost failed: %v", err)
	}
	return host
}

// TestLoadModuleFromMemory tests loading a simple Wasm module from memory.
func TestLoadModuleFromMemory(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	module, err := loader.LoadModuleFromMemory(ctx, "test-module", minimalModule)
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}

	if module.Name != "test-module" {
		t.Errorf("Module name = %s, want 'test-module'", module.Name)
	}

	// Load again should hit cache.
	module2, err := loader.LoadModuleFromMemory(ctx, "test-module", minimalModule)
	if err != nil {
		t.Fatalf("Failed to load module from cache: %v", err)
	}

	if module2 != module {
		t.Error("Cache should return the same module instance")
	}
}

// TestModuleLoaderFileSource tests the FileModuleSource.
func TestModuleLoaderFileSource(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	wasmFile := filepath.Join(t.TempDir(), "test.wasm")
	if err := os.WriteFile(wasmFile, minimalModule, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := loader.LoadModuleFromFile(ctx, wasmFile); err != nil {
		t.Fatalf("Failed to load module from file: %v", err)
	}
}

func TestLoadModuleCompilationError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	_, err = NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "garbage", []byte("not wasm"))
	var compErr *CompilationError
	if !errors.As(err, &compErr) {
		t.Fatalf("LoadModuleFromMemory error = %v, want *CompilationError", err)
	}
	if compErr.ModuleName != "garbage" {
		t.Errorf("ModuleName = %s, want garbage", compErr.ModuleName)
	}
}

func TestURLModuleSource(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/wasm" {
			t.Errorf("Accept header = %q, want application/wasm", r.Header.Get("Accept"))
		}
		w.Write(minimalModule)
	}))
	defer srv.Close()

	source := NewURLModuleSource(srv.URL+"/app.wasm", 0, logger)
	data, err := source.Bytes(ctx)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if len(data) != len(minimalModule) {
		t.Errorf("Fetched %d bytes, want %d", len(data), len(minimalModule))
	}
	if source.Name() != srv.URL+"/app.wasm" {
		t.Errorf("Name = %s, want the URL", source.Name())
	}
}

func TestLoadFirstFallsBackToFile(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	wasmFile := filepath.Join(t.TempDir(), "app.wasm")
	if err := os.WriteFile(wasmFile, minimalModule, 0644); err != nil {
		t.Fatal(err)
	}

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	compiled, err := NewModuleLoader(runtime, logger).LoadFirst(ctx,
		NewURLModuleSource(srv.URL+"/app.wasm", 0, logger),
		&FileModuleSource{Path: wasmFile},
	)
	if err != nil {
		t.Fatalf("LoadFirst failed: %v", err)
	}
	if compiled.Name != wasmFile {
		t.Errorf("Loaded %s, want the file fallback %s", compiled.Name, wasmFile)
	}
}

func TestLoadFirstAllSourcesFail(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	missing := filepath.Join(t.TempDir(), "missing.wasm")
	_, err = NewModuleLoader(runtime, logger).LoadFirst(ctx,
		&MemoryModuleSource{ModuleName: "bad", Data: []byte{0x01}},
		&FileModuleSource{Path: missing},
	)

	var srcErr *SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("LoadFirst error = %v, want *SourceError", err)
	}
	if len(srcErr.Sources) != 2 || len(srcErr.Errs) != 2 {
		t.Errorf("SourceError = %+v, want two sources and two errors", srcErr)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("SourceError should wrap the missing file error")
	}
}

func TestInstantiateMissingExport(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	compiled, err := NewModuleLoader(runtime, logger).
		LoadModuleFromMemory(ctx, "no-view", wasmtest.Compile(t, wasmtest.MissingView))
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewHost(ctx, runtime, compiled, HostOptions{})
	var missing *MissingExportError
	if !errors.As(err, &missing) {
		t.Fatalf("NewHost error = %v, want *MissingExportError", err)
	}
	if len(missing.Exports) != 1 || missing.Exports[0] != "view" {
		t.Errorf("Missing exports = %v, want [view]", missing.Exports)
	}
	if !errors.Is(err, ErrMissingExport) {
		t.Error("MissingExportError should match ErrMissingExport")
	}
}

func TestInstantiateUnknownModule(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	manager := NewInstanceManager(runtime, NewHostFunctions(logger), logger)
	_, err = manager.Instantiate(ctx, &InstanceConfig{ModuleName: "nope"})

	var notFound *ModuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Instantiate error = %v, want *ModuleNotFoundError", err)
	}
}

func TestInitExitIsFatal(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	compiled, err := NewModuleLoader(runtime, logger).
		LoadModuleFromMemory(ctx, "exit-on-init", wasmtest.Compile(t, wasmtest.ExitOnInit))
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewHost(ctx, runtime, compiled, HostOptions{})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("NewHost error = %v, want *ExitError", err)
	}
	if exitErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", exitErr.ExitCode)
	}
}

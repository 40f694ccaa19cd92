package wasm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestNewRuntime(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}

	if runtime == nil {
		t.Fatal("Runtime is nil")
	}

	if err := runtime.Close(context.Background()); err != nil {
		t.Errorf("Failed to close runtime: %v", err)
	}
}

func TestRuntimeCloseIdempotent(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := runtime.Close(ctx); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := runtime.Close(ctx); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestDefaultRuntimeConfig(t *testing.T) {
	config := DefaultRuntimeConfig()

	if config.MemoryPages != 256 {
		t.Errorf("Default memory pages = %d, want 256", config.MemoryPages)
	}

	if config.DebugEnabled {
		t.Error("Debug should be disabled by default")
	}

	if !config.CloseOnContextDone {
		t.Error("CloseOnContextDone should be enabled by default")
	}

	if config.CacheDir != "" {
		t.Errorf("Default cache dir = %q, want empty", config.CacheDir)
	}
}

func TestRuntimeConfiguration(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	config := &RuntimeConfig{
		MemoryPages:  128,
		DebugEnabled: true,
		CacheDir:     t.TempDir(),
	}

	runtime, err := NewRuntime(ctx, logger, config)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	defer runtime.Close(ctx)

	if runtime.config.MemoryPages != 128 {
		t.Errorf("Memory pages not set correctly")
	}
	if runtime.cache == nil {
		t.Error("Compilation cache should be open when CacheDir is set")
	}
}

func TestRuntimeContextCancellation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}

	cancel()

	err = runtime.Close(ctx)
	if err != nil && err != context.Canceled {
		t.Errorf("Unexpected error when closing with cancelled context: %v", err)
	}
}

func TestRuntimeModuleCache(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	module := &CompiledModule{
		Name:       "guest",
		Source:     "test",
		SizeBytes:  1024,
		CompiledAt: time.Now().Unix(),
	}

	runtime.StoreCompiledModule(module)

	retrieved, ok := runtime.GetCompiledModule("guest")
	if !ok {
		t.Fatal("Failed to retrieve module from cache")
	}

	if retrieved.Name != "guest" {
		t.Errorf("Retrieved wrong module: %s", retrieved.Name)
	}

	if _, ok := runtime.GetCompiledModule("other"); ok {
		t.Error("Unknown module should not be cached")
	}
}

func TestRuntimeInstanceTracking(t *testing.T) {
	ctx := context.Background()
	host := newTestHost(t, HostOptions{InstanceID: "inst-tracked"})

	if _, ok := host.runtime.GetInstance("inst-tracked"); !ok {
		t.Fatal("Instance should be tracked after NewHost")
	}

	if err := host.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := host.runtime.GetInstance("inst-tracked"); ok {
		t.Error("Instance should have been deleted")
	}
}

func TestRuntimeIsClosed(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}

	if runtime.IsClosed() {
		t.Error("Runtime should not be closed initially")
	}

	runtime.Close(ctx)

	if !runtime.IsClosed() {
		t.Error("Runtime should be closed after Close()")
	}
}

func TestCompilationError(t *testing.T) {
	err := &CompilationError{
		ModuleName: "test",
		Err:        &testError{},
	}

	expected := "failed to compile Wasm module 'test': test error"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
}

func TestInstantiationError(t *testing.T) {
	err := &InstantiationError{
		ModuleName: "test",
		InstanceID: "inst-1",
		Err:        &testError{},
	}

	expected := "failed to instantiate module 'test' (instance: inst-1): test error"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
}

func TestModuleNotFoundError(t *testing.T) {
	err := &ModuleNotFoundError{ModuleName: "test"}

	expected := "module 'test' not found in cache"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
}

func TestFunctionNotFoundError(t *testing.T) {
	err := &FunctionNotFoundError{
		ModuleName:   "test",
		FunctionName: "view",
	}

	expected := "function 'view' not found in module 'test'"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
	if !errors.Is(err, ErrMissingExport) {
		t.Error("FunctionNotFoundError should match ErrMissingExport")
	}
}

func TestExitError(t *testing.T) {
	err := &ExitError{ModuleName: "guest", ExitCode: 3}

	expected := "module 'guest' exited with code 3"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
	if !errors.Is(err, ErrModuleExited) {
		t.Error("ExitError should match ErrModuleExited")
	}
}

func TestSourceErrorUnwrap(t *testing.T) {
	first := &testError{}
	err := &SourceError{
		Sources: []string{"https://example.test/app.wasm", "app.wasm"},
		Errs:    []error{first, &CompilationError{ModuleName: "app.wasm", Err: first}},
	}

	if !errors.Is(err, first) {
		t.Error("SourceError should unwrap to its source errors")
	}
	var compErr *CompilationError
	if !errors.As(err, &compErr) {
		t.Error("SourceError should expose the CompilationError")
	}
}

// testError is a simple error for testing.
type testError struct{}

func (e *testError) Error() string {
	return "test error"
}
